package pipeline

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ppiankov/scaggregator/internal/aggregator"
	"github.com/ppiankov/scaggregator/internal/apiclient"
	"github.com/ppiankov/scaggregator/internal/discovery"
	"github.com/ppiankov/scaggregator/internal/models"
	"github.com/ppiankov/scaggregator/internal/policy"
	"github.com/ppiankov/scaggregator/internal/runner"
	"github.com/ppiankov/scaggregator/internal/storage"
)

const packageTable = "Id,Name,Version,Repository\n" +
	"1,lodash,4.17.21,npm\n" +
	"2,requests,2.31.0,PyPI\n"

// fakePlatform is an in-memory platform. Every scan lists in newest-first
// order and exports to a zip holding one package table.
type fakePlatform struct {
	mu       sync.Mutex
	authErr  error
	projects []models.ProjectRef
	scans    map[string][]models.ScanRecord
	failing  map[string]bool
	// scanErr fails every per-branch scan lookup.
	scanErr error
	// cancelAt cancels the run when the export of that scan is requested.
	cancelAt string
	// cancelAfterDownload cancels the run once that scan's archive is served.
	cancelAfterDownload string
	cancel              context.CancelFunc

	requested []string
}

func newFakePlatform() *fakePlatform {
	return &fakePlatform{
		projects: []models.ProjectRef{{ID: "p1", Name: "alpha"}, {ID: "p2", Name: "beta"}},
		scans: map[string][]models.ScanRecord{
			"p1": {
				{ID: "s1", ProjectID: "p1", Branch: "main", Status: "Completed", Engines: []string{"sast", "sca"}, CreatedAt: "2026-03-02T10:00:00Z"},
				{ID: "s0", ProjectID: "p1", Branch: "main", Status: "Completed", Engines: []string{"sca"}, CreatedAt: "2026-03-01T10:00:00Z"},
				{ID: "s2", ProjectID: "p1", Branch: "dev", Status: "Completed", Engines: []string{"sca"}, CreatedAt: "2026-03-01T09:00:00Z"},
			},
			"p2": {
				{ID: "s3", ProjectID: "p2", Branch: "main", Status: "Completed", Engines: []string{"sca"}, CreatedAt: "2026-03-03T08:00:00Z"},
				{ID: "s4", ProjectID: "p2", Branch: "docs", Status: "Completed", Engines: []string{"sast"}, CreatedAt: "2026-03-03T07:00:00Z"},
			},
		},
		failing: make(map[string]bool),
	}
}

func (f *fakePlatform) Authenticate(ctx context.Context) error {
	return f.authErr
}

func (f *fakePlatform) ListProjectsPage(ctx context.Context, limit, offset int) (apiclient.ProjectPage, error) {
	end := offset + limit
	if end > len(f.projects) {
		end = len(f.projects)
	}
	if offset > end {
		offset = end
	}
	return apiclient.ProjectPage{Projects: f.projects[offset:end], Total: len(f.projects)}, nil
}

func (f *fakePlatform) ListScansPage(ctx context.Context, q apiclient.ScanQuery, limit, offset int) (apiclient.ScanPage, error) {
	if q.Branch != "" && f.scanErr != nil {
		return apiclient.ScanPage{}, f.scanErr
	}
	var matched []models.ScanRecord
	for _, s := range f.scans[q.ProjectID] {
		if q.Branch != "" && s.Branch != q.Branch {
			continue
		}
		matched = append(matched, s)
	}
	end := offset + limit
	if end > len(matched) {
		end = len(matched)
	}
	if offset > end {
		offset = end
	}
	return apiclient.ScanPage{Scans: matched[offset:end], Total: len(matched)}, nil
}

func (f *fakePlatform) PackageCount(ctx context.Context, scanID string) (int, error) {
	return 2, nil
}

func (f *fakePlatform) RequestExport(ctx context.Context, scanID, fileFormat string) (string, error) {
	f.mu.Lock()
	f.requested = append(f.requested, scanID)
	failing := f.failing[scanID]
	cancel := f.cancelAt == scanID
	f.mu.Unlock()

	if cancel {
		f.cancel()
		return "", ctx.Err()
	}
	if failing {
		return "", &apiclient.StatusError{Code: 400, Body: "export rejected"}
	}
	return "exp-" + scanID, nil
}

func (f *fakePlatform) ExportStatus(ctx context.Context, exportID string) (apiclient.ExportStatus, error) {
	return apiclient.ExportStatus{Status: "Completed", FileURL: "/files/" + strings.TrimPrefix(exportID, "exp-")}, nil
}

func (f *fakePlatform) Download(ctx context.Context, path string, dst io.Writer) (int64, error) {
	data, err := zipWith(aggregator.PackageTableSuffix, packageTable)
	if err != nil {
		return 0, err
	}
	n, err := dst.Write(data)
	if f.cancelAfterDownload != "" && path == "/files/"+f.cancelAfterDownload {
		f.cancel()
	}
	return int64(n), err
}

func zipWith(name, content string) ([]byte, error) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create(name)
	if err != nil {
		return nil, err
	}
	if _, err := io.WriteString(w, content); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func testConfig(t *testing.T) Config {
	t.Helper()
	dir := t.TempDir()
	return Config{
		Tenant:           "acme",
		OutputDir:        filepath.Join(dir, "out"),
		FilenameTemplate: "sca_packages_{tenant}_{timestamp}.csv",
		CleanupTemp:      true,
		Discovery:        discovery.Options{PageSize: 2, BranchWorkers: 2, ScanWorkers: 2},
		Export: runner.Options{
			FileFormat:     "ScanReportCsv",
			Workers:        1,
			Attempts:       2,
			PollInterval:   time.Millisecond,
			PollMaxWait:    2 * time.Millisecond,
			MaxPollingTime: time.Second,
			TempDir:        filepath.Join(dir, "temp"),
		},
	}
}

func newTestOrchestrator(api API, cfg Config, ts time.Time) *Orchestrator {
	o := New(api, cfg, nil)
	o.now = func() time.Time { return ts }
	o.newID = func() string { return "run-" + ts.Format("150405") }
	return o
}

var runTime = time.Date(2026, 3, 4, 12, 0, 0, 0, time.UTC)

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	defer func() { _ = f.Close() }()
	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return rows
}

func TestRunFull(t *testing.T) {
	api := newFakePlatform()
	api.failing["s3"] = true
	cfg := testConfig(t)

	res, err := newTestOrchestrator(api, cfg, runTime).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.EarlyExit != "" {
		t.Fatalf("unexpected early exit: %s", res.EarlyExit)
	}
	if !res.Merged {
		t.Fatal("expected merged output")
	}

	stats := res.Report.Stats
	if stats.RunID != "run-120000" || stats.Mode != models.ModeFull {
		t.Errorf("unexpected run identity: %s %s", stats.RunID, stats.Mode)
	}
	if stats.TotalProjects != 2 || stats.TotalBranches != 4 {
		t.Errorf("expected 2 projects and 4 branches, got %d and %d", stats.TotalProjects, stats.TotalBranches)
	}
	if stats.ScansFound != 3 || stats.ScansNotFound != 1 {
		t.Errorf("expected 3 found and 1 not found, got %d and %d", stats.ScansFound, stats.ScansNotFound)
	}
	if stats.ReportsGenerated != 2 || stats.ReportsFailed != 1 {
		t.Errorf("expected 2 generated and 1 failed, got %d and %d", stats.ReportsGenerated, stats.ReportsFailed)
	}
	if stats.Merge.RowsWritten != 4 || stats.Merge.FilesProcessed != 2 {
		t.Errorf("unexpected merge stats: %+v", stats.Merge)
	}
	if stats.Interrupted {
		t.Error("run should not be interrupted")
	}

	rows := readCSV(t, res.Paths.Output)
	if len(rows) != 5 {
		t.Fatalf("expected header and 4 rows, got %d", len(rows))
	}
	wantHeader := append(append([]string(nil), models.MetadataColumns...), "Id", "Name", "Version", "Repository")
	if strings.Join(rows[0], ",") != strings.Join(wantHeader, ",") {
		t.Errorf("unexpected header: %v", rows[0])
	}
	// alpha/dev sorts before alpha/main
	if rows[1][0] != "alpha" || rows[1][2] != "dev" || rows[1][3] != "s2" {
		t.Errorf("unexpected first row: %v", rows[1])
	}
	if rows[3][3] != "s1" || rows[3][4] != "2026-03-02T10:00:00Z" {
		t.Errorf("expected newest main scan s1, got %v", rows[3])
	}

	failed, err := storage.LoadManifest(res.Paths.Manifest)
	if err != nil {
		t.Fatalf("LoadManifest: %v", err)
	}
	if len(failed) != 1 || failed[0].ScanID != "s3" || failed[0].ProjectName != "beta" {
		t.Errorf("expected manifest with s3, got %+v", failed)
	}
	if res.Report.ManifestFile != res.Paths.Manifest {
		t.Errorf("report should name the manifest, got %q", res.Report.ManifestFile)
	}

	text, err := os.ReadFile(res.Paths.Report)
	if err != nil {
		t.Fatalf("read report: %v", err)
	}
	if !strings.Contains(string(text), "Execution Report") {
		t.Errorf("report missing title:\n%s", text)
	}

	data, err := os.ReadFile(res.Paths.Summary)
	if err != nil {
		t.Fatalf("read summary: %v", err)
	}
	var summary map[string]interface{}
	if err := json.Unmarshal(data, &summary); err != nil {
		t.Fatalf("summary is not JSON: %v", err)
	}
	if summary["run_id"] != "run-120000" {
		t.Errorf("unexpected summary run_id: %v", summary["run_id"])
	}

	report, err := storage.LoadRunReport(res.Paths.Ledger)
	if err != nil {
		t.Fatalf("LoadRunReport: %v", err)
	}
	if len(report.Records) != len(res.Report.Records) {
		t.Errorf("ledger file has %d records, want %d", len(report.Records), len(res.Report.Records))
	}

	if _, err := os.Stat(cfg.Export.TempDir); !os.IsNotExist(err) {
		t.Errorf("temp dir should be removed, stat err: %v", err)
	}
	if _, err := os.Stat(res.Paths.DebugLog); !os.IsNotExist(err) {
		t.Error("debug log should not exist when disabled")
	}
}

func TestRunNoFailuresWritesNoManifest(t *testing.T) {
	api := newFakePlatform()
	cfg := testConfig(t)
	cfg.DebugLog = true

	res, err := newTestOrchestrator(api, cfg, runTime).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if _, err := os.Stat(res.Paths.Manifest); !os.IsNotExist(err) {
		t.Error("manifest should not be written without failed scans")
	}
	if res.Report.ManifestFile != "" {
		t.Errorf("expected no manifest in report, got %q", res.Report.ManifestFile)
	}
	if _, err := os.Stat(res.Paths.DebugLog); err != nil {
		t.Errorf("debug log should exist: %v", err)
	}
}

func TestRunAppliesFilter(t *testing.T) {
	api := newFakePlatform()
	cfg := testConfig(t)
	cfg.FilterExpr = "Repository=npm"

	res, err := newTestOrchestrator(api, cfg, runTime).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	m := res.Report.Stats.Merge
	if m.RowsSeen != 6 || m.RowsWritten != 3 || m.RowsFiltered != 3 {
		t.Errorf("unexpected merge stats: %+v", m)
	}
	if res.Report.Stats.FilterExpr != "Repository=npm" {
		t.Errorf("expected filter in stats, got %q", res.Report.Stats.FilterExpr)
	}
	for _, row := range readCSV(t, res.Paths.Output)[1:] {
		if row[len(row)-1] != "npm" {
			t.Errorf("unexpected row after filter: %v", row)
		}
	}
}

func TestRunMalformedFilterMergesEverything(t *testing.T) {
	api := newFakePlatform()
	cfg := testConfig(t)
	cfg.FilterExpr = "Repository"

	res, err := newTestOrchestrator(api, cfg, runTime).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Report.Stats.Merge.RowsWritten != 6 {
		t.Errorf("expected all 6 rows, got %d", res.Report.Stats.Merge.RowsWritten)
	}
	if res.Report.Stats.FilterExpr != "" {
		t.Errorf("malformed filter should be cleared, got %q", res.Report.Stats.FilterExpr)
	}
}

func TestRunEarlyExitNoProjects(t *testing.T) {
	api := newFakePlatform()
	api.projects = nil
	cfg := testConfig(t)

	res, err := newTestOrchestrator(api, cfg, runTime).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.EarlyExit != MsgNoProjects {
		t.Errorf("expected %q, got %q", MsgNoProjects, res.EarlyExit)
	}
	if res.Merged {
		t.Error("early exit must not merge")
	}
	for _, p := range []string{res.Paths.Output, res.Paths.Report, res.Paths.Manifest} {
		if _, err := os.Stat(p); !os.IsNotExist(err) {
			t.Errorf("%s should not be written on early exit", p)
		}
	}
}

func TestRunEarlyExitNoScans(t *testing.T) {
	api := newFakePlatform()
	for id, scans := range api.scans {
		for i := range scans {
			scans[i].Engines = []string{"sast"}
		}
		api.scans[id] = scans
	}

	res, err := newTestOrchestrator(api, testConfig(t), runTime).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.EarlyExit != MsgNoScans {
		t.Errorf("expected %q, got %q", MsgNoScans, res.EarlyExit)
	}
	if res.Report.Stats.ScansNotFound != 4 {
		t.Errorf("expected 4 branches without scan, got %d", res.Report.Stats.ScansNotFound)
	}
	if n := len(res.Report.Records); n != 4 {
		t.Errorf("expected 4 no-SCA records, got %d", n)
	}
}

func TestRunEarlyExitKeepsDiscoveryErrors(t *testing.T) {
	api := newFakePlatform()
	api.scanErr = &apiclient.StatusError{Code: 503, Body: "unavailable"}

	res, err := newTestOrchestrator(api, testConfig(t), runTime).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.EarlyExit != MsgNoScans {
		t.Fatalf("expected %q, got %q", MsgNoScans, res.EarlyExit)
	}

	text, err := os.ReadFile(res.Paths.Report)
	if err != nil {
		t.Fatalf("execution report should be written when the ledger has records: %v", err)
	}
	if !strings.Contains(string(text), "SCAN ERRORS (4)") {
		t.Errorf("expected 4 scan errors in report:\n%s", text)
	}
	report, err := storage.LoadRunReport(res.Paths.Ledger)
	if err != nil {
		t.Fatalf("LoadRunReport: %v", err)
	}
	if len(report.Records) != 4 {
		t.Errorf("expected 4 ledger records, got %d", len(report.Records))
	}
	for _, p := range []string{res.Paths.Output, res.Paths.Manifest} {
		if _, err := os.Stat(p); !os.IsNotExist(err) {
			t.Errorf("%s should not be written on early exit", p)
		}
	}
}

func TestRunAllExportsFail(t *testing.T) {
	api := newFakePlatform()
	for _, id := range []string{"s1", "s2", "s3"} {
		api.failing[id] = true
	}

	res, err := newTestOrchestrator(api, testConfig(t), runTime).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.EarlyExit != MsgNoReports {
		t.Errorf("expected %q, got %q", MsgNoReports, res.EarlyExit)
	}
	if res.Merged {
		t.Error("nothing should be merged")
	}
	if _, err := os.Stat(res.Paths.Output); !os.IsNotExist(err) {
		t.Error("output CSV should not exist")
	}
	failed, err := storage.LoadManifest(res.Paths.Manifest)
	if err != nil {
		t.Fatalf("LoadManifest: %v", err)
	}
	if len(failed) != 3 {
		t.Errorf("expected 3 scans in manifest, got %d", len(failed))
	}
	recs := res.Report.Records
	var attempts int
	for _, r := range recs {
		if r.Category == models.CategoryReportGeneration {
			attempts = r.Attempts
		}
	}
	if attempts != 2 {
		t.Errorf("expected failures after 2 attempts, got %d", attempts)
	}
	if api.requestCount() != 6 {
		t.Errorf("expected 6 export requests, got %d", api.requestCount())
	}
}

func (f *fakePlatform) requestCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requested)
}

func TestRetryRoundTrip(t *testing.T) {
	api := newFakePlatform()
	api.failing["s1"] = true
	cfg := testConfig(t)

	first, err := newTestOrchestrator(api, cfg, runTime).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	scans, err := storage.LoadManifest(first.Paths.Manifest)
	if err != nil {
		t.Fatalf("LoadManifest: %v", err)
	}

	api.failing = map[string]bool{}
	api.requested = nil
	retry, err := newTestOrchestrator(api, cfg, runTime.Add(time.Hour)).RunRetry(context.Background(), scans)
	if err != nil {
		t.Fatalf("RunRetry: %v", err)
	}
	if retry.Paths.Output == first.Paths.Output {
		t.Fatal("retry should write a new output file")
	}

	stats := retry.Report.Stats
	if stats.Mode != models.ModeRetry || stats.RetryScans != 1 {
		t.Errorf("unexpected retry stats: mode %s, scans %d", stats.Mode, stats.RetryScans)
	}
	if stats.TotalProjects != 0 {
		t.Errorf("retry mode must skip discovery, got %d projects", stats.TotalProjects)
	}
	if len(api.requested) != 1 || api.requested[0] != "s1" {
		t.Errorf("expected only s1 re-exported, got %v", api.requested)
	}

	rows := readCSV(t, retry.Paths.Output)
	if len(rows) != 3 {
		t.Fatalf("expected header and 2 rows, got %d", len(rows))
	}
	want := []string{"alpha", "p1", "main", "s1", "2026-03-02T10:00:00Z"}
	if strings.Join(rows[1][:5], ",") != strings.Join(want, ",") {
		t.Errorf("expected metadata %v from manifest, got %v", want, rows[1][:5])
	}
	if _, err := os.Stat(retry.Paths.Manifest); !os.IsNotExist(err) {
		t.Error("successful retry should not write a manifest")
	}
}

func TestRetryEmptyManifest(t *testing.T) {
	api := newFakePlatform()
	api.authErr = errors.New("must not authenticate")

	res, err := newTestOrchestrator(api, testConfig(t), runTime).RunRetry(context.Background(), nil)
	if err != nil {
		t.Fatalf("RunRetry: %v", err)
	}
	if res.EarlyExit != MsgNoRetry {
		t.Errorf("expected %q, got %q", MsgNoRetry, res.EarlyExit)
	}
}

func TestRunAuthFailure(t *testing.T) {
	api := newFakePlatform()
	api.authErr = fmt.Errorf("token: %w", apiclient.ErrAuthFailed)

	res, err := newTestOrchestrator(api, testConfig(t), runTime).Run(context.Background())
	if !errors.Is(err, apiclient.ErrAuthFailed) {
		t.Fatalf("expected auth failure, got %v", err)
	}
	if res != nil {
		t.Errorf("fatal errors return no result, got %+v", res)
	}
}

func TestRunInterrupted(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	api := newFakePlatform()
	api.cancelAt = "s1"
	api.cancel = cancel

	res, err := newTestOrchestrator(api, testConfig(t), runTime).Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if res == nil || res.Report == nil {
		t.Fatal("interrupted run should still report")
	}
	if !res.Report.Stats.Interrupted {
		t.Error("stats should mark the interrupt")
	}
	if res.Merged {
		t.Error("interrupted run must not merge")
	}
	if res.Report.Stats.ReportsGenerated != 1 {
		t.Errorf("expected s2 exported before the interrupt, got %d", res.Report.Stats.ReportsGenerated)
	}

	pending, err := storage.LoadManifest(res.Paths.Manifest)
	if err != nil {
		t.Fatalf("LoadManifest: %v", err)
	}
	ids := make([]string, 0, len(pending))
	for _, s := range pending {
		ids = append(ids, s.ScanID)
	}
	// s2 was exported but never merged, so it must be retried too
	if strings.Join(ids, ",") != "s2,s1,s3" {
		t.Errorf("expected pending s2,s1,s3 in manifest, got %v", ids)
	}
	if _, err := os.Stat(res.Paths.Output); !os.IsNotExist(err) {
		t.Error("interrupted run must not leave an output file")
	}

	var warned bool
	for _, r := range res.Report.Records {
		if r.Category == models.CategoryGeneralWarning && r.Topic == "interrupted" {
			warned = true
		}
	}
	if !warned {
		t.Error("expected an interrupt warning in the ledger")
	}
	if _, err := os.Stat(res.Paths.Report); err != nil {
		t.Errorf("report should be written on interrupt: %v", err)
	}
}

func TestRunInterruptedAfterAllExports(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	api := newFakePlatform()
	api.failing["s1"] = true
	api.cancelAfterDownload = "s3"
	api.cancel = cancel
	cfg := testConfig(t)

	res, err := newTestOrchestrator(api, cfg, runTime).Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if res.Merged || res.Report.Stats.Merge.RowsWritten != 0 {
		t.Errorf("interrupted run must not report merged rows: %+v", res.Report.Stats.Merge)
	}

	pending, err := storage.LoadManifest(res.Paths.Manifest)
	if err != nil {
		t.Fatalf("LoadManifest: %v", err)
	}
	ids := map[string]bool{}
	for _, s := range pending {
		ids[s.ScanID] = true
	}
	for _, id := range []string{"s1", "s2", "s3"} {
		if !ids[id] {
			t.Errorf("scan %s missing from manifest %v", id, ids)
		}
	}
	if len(pending) != 3 {
		t.Errorf("expected each scan once, got %d rows", len(pending))
	}

	// the manifest resumes the run completely
	api.failing = map[string]bool{}
	api.cancelAfterDownload = ""
	retry, err := newTestOrchestrator(api, cfg, runTime.Add(time.Hour)).RunRetry(context.Background(), pending)
	if err != nil {
		t.Fatalf("RunRetry: %v", err)
	}
	if got := retry.Report.Stats.Merge.RowsWritten; got != 6 {
		t.Errorf("expected 6 rows after retry, got %d", got)
	}
}

func intPtr(v int) *int { return &v }

func TestRunPolicyViolation(t *testing.T) {
	api := newFakePlatform()
	api.failing["s3"] = true
	cfg := testConfig(t)
	cfg.Policy = &policy.Policy{Version: "1", Rules: policy.Rules{
		MaxReportFailures: intPtr(0),
		MinPackages:       intPtr(1),
	}}

	res, err := newTestOrchestrator(api, cfg, runTime).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Policy == nil || res.Policy.Pass {
		t.Fatalf("expected a failing policy result, got %+v", res.Policy)
	}
	if len(res.Policy.Violations) != 1 || res.Policy.Violations[0].Rule != "max_report_failures" {
		t.Errorf("unexpected violations: %+v", res.Policy.Violations)
	}
}

func TestRunWithoutPolicy(t *testing.T) {
	res, err := newTestOrchestrator(newFakePlatform(), testConfig(t), runTime).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Policy != nil {
		t.Errorf("expected no policy result, got %+v", res.Policy)
	}
}
