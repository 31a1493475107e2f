package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/scaggregator/internal/config"
	"github.com/ppiankov/scaggregator/internal/logging"
	"github.com/ppiankov/scaggregator/internal/models"
	"github.com/ppiankov/scaggregator/internal/reporter"
	"github.com/ppiankov/scaggregator/internal/storage"
)

func runCommand(t *testing.T, cmd *cobra.Command, fn func(*cobra.Command, []string) error, args ...string) (string, error) {
	t.Helper()
	var buf bytes.Buffer
	cmd.SetOut(&buf)
	t.Cleanup(func() { cmd.SetOut(nil) })
	err := fn(cmd, args)
	return buf.String(), err
}

func writeLedger(t *testing.T, path string, report *models.RunReport) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = f.Close() }()
	if err := reporter.NewJSONReporter(f, false).Generate(report); err != nil {
		t.Fatal(err)
	}
}

// --- validate-manifest ---

func TestValidateManifest(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "m.csv")
	scans := []models.ScanRef{
		{ScanID: "s1", ProjectID: "p1", ProjectName: "alpha", BranchName: "main"},
		{ScanID: "s2", ProjectID: "p1", ProjectName: "alpha", BranchName: "dev"},
		{ScanID: "s3", ProjectID: "p2", ProjectName: "beta", BranchName: "main"},
	}
	if err := storage.WriteManifest(path, scans); err != nil {
		t.Fatal(err)
	}

	out, err := runCommand(t, validateManifestCmd, runValidateManifest, path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, "VALID: 3 scans across 2 projects") {
		t.Errorf("unexpected output: %q", out)
	}
}

func TestValidateManifestInvalid(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.csv")
	if err := os.WriteFile(path, []byte("ProjectName,BranchName\nalpha,main\n"), 0644); err != nil {
		t.Fatal(err)
	}

	_, err := runCommand(t, validateManifestCmd, runValidateManifest, path)
	if err == nil || !strings.HasPrefix(err.Error(), "INVALID") {
		t.Fatalf("expected INVALID error, got %v", err)
	}
	if HandleError(err) != ExitFatal {
		t.Error("invalid manifest should exit 1")
	}
}

// --- config ---

func TestConfigPrintsSample(t *testing.T) {
	configOutput = ""
	out, err := runCommand(t, configCmd, runConfig)
	if err != nil {
		t.Fatal(err)
	}
	if out != config.GenerateSampleConfig() {
		t.Error("expected the sample config on stdout")
	}
}

func TestConfigWritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scaggregator.yaml")
	configOutput = path
	t.Cleanup(func() { configOutput = "" })

	if _, err := runCommand(t, configCmd, runConfig); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "report_workers") {
		t.Error("sample file incomplete")
	}

	if _, err := runCommand(t, configCmd, runConfig); err == nil {
		t.Error("expected error when the file exists")
	}
}

// --- filter ---

func TestFilterCommand(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "merged.csv")
	content := "ProjectName,ProjectId,BranchName,ScanId,ScanDate,Name,Repository\n" +
		"alpha,p1,main,s1,2026-03-01,lodash,npm\n" +
		"alpha,p1,main,s1,2026-03-01,guava,Maven\n" +
		"beta,p2,main,s2,2026-03-01,react,NPM\n"
	if err := os.WriteFile(input, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	filterExpr, filterOutput = "Repository=npm", ""
	t.Cleanup(func() { filterExpr, filterOutput = "", "" })

	out, err := runCommand(t, filterCmd, runFilter, input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, "Kept 2 packages, filtered out 1") {
		t.Errorf("unexpected output: %q", out)
	}

	data, err := os.ReadFile(filepath.Join(dir, "merged_filtered.csv"))
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 3 || strings.Contains(string(data), "guava") {
		t.Errorf("unexpected filtered output:\n%s", data)
	}
}

func TestFilterCommandErrors(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "merged.csv")
	if err := os.WriteFile(input, []byte("Name\nx\n"), 0644); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { filterExpr, filterOutput = "", "" })

	tests := []struct {
		name   string
		expr   string
		output string
	}{
		{"missing expression", "", ""},
		{"malformed expression", "Repository", ""},
		{"output equals input", "Name=x", input},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			filterExpr, filterOutput = tt.expr, tt.output
			if _, err := runCommand(t, filterCmd, runFilter, input); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestFilteredName(t *testing.T) {
	if got := filteredName("out/x.csv"); got != "out/x_filtered.csv" {
		t.Errorf("filteredName = %q", got)
	}
	if got := filteredName("merged"); got != "merged_filtered" {
		t.Errorf("filteredName = %q", got)
	}
}

// --- status ---

func sampleRun(id string, at time.Time, records ...models.FailureRecord) *models.RunReport {
	return &models.RunReport{
		GeneratedAt: at,
		Stats: models.RunStats{
			RunID:            id,
			Mode:             models.ModeFull,
			ReportsGenerated: 3,
			ReportsFailed:    1,
			Merge:            models.MergeStats{RowsWritten: 1500},
		},
		Records:      records,
		ManifestFile: "out/" + id + "_failed_scans.csv",
	}
}

func TestStatusNoRuns(t *testing.T) {
	withTestConfig(t, &config.Config{OutputDir: t.TempDir()})
	statusDir, statusFormat = "", "text"

	out, err := runCommand(t, statusCmd, runStatus)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "No runs found") {
		t.Errorf("unexpected output: %q", out)
	}
}

func TestStatusLatestRun(t *testing.T) {
	dir := t.TempDir()
	withTestConfig(t, &config.Config{OutputDir: dir})
	statusDir, statusFormat = "", "text"
	t.Cleanup(func() { statusFormat = "text" })

	rec := models.FailureRecord{Category: models.CategoryReportGeneration, Subject: models.FailureSubject{ScanID: "s9"}}
	writeLedger(t, filepath.Join(dir, "run1"+storage.LedgerSuffix), sampleRun("run1", time.Now(), rec, rec))

	out, err := runCommand(t, statusCmd, runStatus)
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"run1", "3 generated, 1 failed (25.0%)", "1,500", "--retry out/run1_failed_scans.csv", "report_generation_error"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in:\n%s", want, out)
		}
	}

	statusFormat = "json"
	out, err = runCommand(t, statusCmd, runStatus)
	if err != nil {
		t.Fatal(err)
	}
	var summary reporter.Summary
	if err := json.Unmarshal([]byte(out), &summary); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if summary.RunID != "run1" || len(summary.FailedScans) != 2 {
		t.Errorf("unexpected summary: %+v", summary)
	}

	statusFormat = "xml"
	if _, err := runCommand(t, statusCmd, runStatus); err == nil {
		t.Error("expected unknown format error")
	}
}

// --- browse ---

func TestLoadRunManifest(t *testing.T) {
	dir := t.TempDir()
	scans := []models.ScanRef{{ScanID: "s9", ProjectID: "p1", ProjectName: "alpha", BranchName: "main"}}
	if err := storage.WriteManifest(filepath.Join(dir, "run_failed_scans.csv"), scans); err != nil {
		t.Fatal(err)
	}
	ledgerPath := filepath.Join(dir, "run"+storage.LedgerSuffix)

	// recorded relative to another working directory; found next to the ledger
	report := &models.RunReport{ManifestFile: "elsewhere/run_failed_scans.csv"}
	got := loadRunManifest(report, ledgerPath, logging.Nop())
	if len(got) != 1 || got[0].ScanID != "s9" {
		t.Fatalf("unexpected manifest: %+v", got)
	}
	if report.ManifestFile != filepath.Join(dir, "run_failed_scans.csv") {
		t.Errorf("manifest path not updated: %q", report.ManifestFile)
	}

	var logs bytes.Buffer
	missing := &models.RunReport{ManifestFile: filepath.Join(dir, "gone.csv")}
	if got := loadRunManifest(missing, ledgerPath, logging.New(&logs, false, false)); got != nil {
		t.Errorf("expected nil for unreadable manifest, got %+v", got)
	}
	if !strings.Contains(logs.String(), "could not be read") {
		t.Errorf("expected warning, got %q", logs.String())
	}

	if got := loadRunManifest(&models.RunReport{}, ledgerPath, logging.Nop()); got != nil {
		t.Errorf("expected nil without a manifest, got %+v", got)
	}
}

// --- diff ---

func TestComputeDiff(t *testing.T) {
	noSCA := models.FailureRecord{Category: models.CategoryNoSCAScan,
		Subject: models.FailureSubject{ProjectID: "p1", ProjectName: "alpha", BranchName: "dev"}}
	failedOld := models.FailureRecord{Category: models.CategoryReportGeneration,
		Subject: models.FailureSubject{ProjectID: "p1", ProjectName: "alpha", BranchName: "main", ScanID: "s1"}}
	failedNewScan := failedOld
	failedNewScan.Subject.ScanID = "s2"
	warning := models.FailureRecord{Category: models.CategoryGeneralWarning, Topic: "interrupted"}
	newFailure := models.FailureRecord{Category: models.CategoryReportGeneration,
		Subject: models.FailureSubject{ProjectID: "p2", ProjectName: "beta", BranchName: "main", ScanID: "s3"}}

	baseline := sampleRun("a", time.Now(), noSCA, failedOld, warning)
	current := sampleRun("b", time.Now(), noSCA, failedNewScan, newFailure)
	current.Stats.Merge.RowsWritten = 1600

	r := computeDiff(baseline, current)
	if r.Summary.NewCount != 1 || r.NewFailures[0].Subject.ProjectID != "p2" {
		t.Errorf("unexpected new failures: %+v", r.NewFailures)
	}
	if r.Summary.ResolvedCount != 1 || r.ResolvedFailures[0].Topic != "interrupted" {
		t.Errorf("unexpected resolved failures: %+v", r.ResolvedFailures)
	}
	if r.Summary.Delta != 0 {
		t.Errorf("expected delta 0, got %d", r.Summary.Delta)
	}
	if r.Summary.NewByCategory[models.CategoryReportGeneration] != 1 {
		t.Errorf("unexpected category counts: %v", r.Summary.NewByCategory)
	}
	if r.Summary.Packages != [2]int{1500, 1600} {
		t.Errorf("unexpected package counts: %v", r.Summary.Packages)
	}
}

func TestDiffCommandFailNew(t *testing.T) {
	dir := t.TempDir()
	withTestConfig(t, &config.Config{OutputDir: dir})
	diffFormat, diffOutput, diffFailNew = "text", "", true
	t.Cleanup(func() { diffFormat, diffOutput, diffFailNew = "text", "", false })

	rec := models.FailureRecord{Category: models.CategoryReportGeneration,
		Subject: models.FailureSubject{ProjectID: "p1", ProjectName: "alpha", BranchName: "main"}, Message: "timed out"}
	base := filepath.Join(dir, "a"+storage.LedgerSuffix)
	curr := filepath.Join(dir, "b"+storage.LedgerSuffix)
	writeLedger(t, base, sampleRun("a", time.Now()))
	writeLedger(t, curr, sampleRun("b", time.Now(), rec))

	out, err := runCommand(t, diffCmd, runDiff, base, curr)
	if HandleError(err) != ExitPolicyFail {
		t.Fatalf("expected exit %d, got error %v", ExitPolicyFail, err)
	}
	if !strings.Contains(out, "alpha/main: timed out") {
		t.Errorf("expected new failure in output:\n%s", out)
	}

	diffFailNew = false
	out, err = runCommand(t, diffCmd, runDiff, curr, base)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "No new failures, only recoveries.") {
		t.Errorf("unexpected output:\n%s", out)
	}
}

func TestDiffCommandJSON(t *testing.T) {
	dir := t.TempDir()
	withTestConfig(t, &config.Config{OutputDir: dir})
	diffFormat, diffOutput, diffFailNew = "json", filepath.Join(dir, "diff.json"), false
	t.Cleanup(func() { diffFormat, diffOutput = "text", "" })

	base := filepath.Join(dir, "a"+storage.LedgerSuffix)
	writeLedger(t, base, sampleRun("a", time.Now()))

	// current defaults to the newest ledger in the output dir
	if _, err := runCommand(t, diffCmd, runDiff, base); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(diffOutput)
	if err != nil {
		t.Fatal(err)
	}
	var result DiffResult
	if err := json.Unmarshal(data, &result); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if result.Summary.NewCount != 0 || result.Summary.ResolvedCount != 0 {
		t.Errorf("comparing a run with itself should show no change: %+v", result.Summary)
	}
}

// --- doctor ---

func TestDoctorIncompleteConfig(t *testing.T) {
	dir := isolate(t)
	c := config.DefaultConfig()
	c.OutputDir = filepath.Join(dir, "out")
	c.TempDir = filepath.Join(dir, "temp")
	withTestConfig(t, c)
	doctorFormat, doctorPolicy = "json", ""
	t.Cleanup(func() { doctorFormat = "text" })

	out, err := runCommand(t, doctorCmd, runDoctor)
	if err != nil {
		t.Fatal(err)
	}
	var result doctorResult
	if err := json.Unmarshal([]byte(out), &result); err != nil {
		t.Fatalf("invalid JSON: %v\n%s", err, out)
	}
	status := map[string]string{}
	for _, c := range result.Checks {
		status[c.Name] = c.Status
	}
	if status["config"] != "fail" || status["identity"] != "warn" || status["api"] != "warn" {
		t.Errorf("unexpected checks: %+v", result.Checks)
	}
	if status["output dir"] != "ok" || status["policy"] != "ok" {
		t.Errorf("unexpected checks: %+v", result.Checks)
	}
	if result.Summary != "1 issue(s) found" {
		t.Errorf("unexpected summary: %q", result.Summary)
	}
}

func TestDoctorAgainstPlatform(t *testing.T) {
	dir := isolate(t)
	srv := platformServer(t)
	withTestConfig(t, testRunConfig(dir, srv.URL))
	doctorFormat, doctorPolicy = "text", ""

	out, err := runCommand(t, doctorCmd, runDoctor)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "1 projects visible") {
		t.Errorf("expected api check:\n%s", out)
	}
	if !strings.Contains(out, "all checks passed") {
		t.Errorf("expected clean result:\n%s", out)
	}
}

func TestCheckDir(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "file")
	if err := os.WriteFile(file, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	if c := checkDir("output dir", dir); c.Status != "ok" {
		t.Errorf("writable dir: %+v", c)
	}
	if c := checkDir("output dir", filepath.Join(dir, "new")); c.Status != "ok" || !strings.Contains(c.Detail, "will be created") {
		t.Errorf("missing dir: %+v", c)
	}
	if c := checkDir("output dir", file); c.Status != "fail" {
		t.Errorf("file: %+v", c)
	}
}

func TestCheckPolicyInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	if err := os.WriteFile(path, []byte("rules:\n  max_failure_rate: 150\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if c := checkPolicy(path); c.Status != "fail" {
		t.Errorf("expected fail, got %+v", c)
	}
}
