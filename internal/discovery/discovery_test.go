package discovery

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/ppiankov/scaggregator/internal/apiclient"
	"github.com/ppiankov/scaggregator/internal/ledger"
	"github.com/ppiankov/scaggregator/internal/models"
)

// fakeSource serves canned projects and scans. Scans are stored newest first
// per project, mirroring the platform's sort=-created_at.
type fakeSource struct {
	mu         sync.Mutex
	projects   []models.ProjectRef
	scans      map[string][]models.ScanRecord
	counts     map[string]int
	countErr   map[string]error
	scanErr    map[string]error
	scanCalls  map[string]int
	countCalls int
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		scans:     make(map[string][]models.ScanRecord),
		counts:    make(map[string]int),
		countErr:  make(map[string]error),
		scanErr:   make(map[string]error),
		scanCalls: make(map[string]int),
	}
}

func (f *fakeSource) ListProjectsPage(ctx context.Context, limit, offset int) (apiclient.ProjectPage, error) {
	end := offset + limit
	if end > len(f.projects) {
		end = len(f.projects)
	}
	if offset > end {
		offset = end
	}
	return apiclient.ProjectPage{Projects: f.projects[offset:end], Total: len(f.projects)}, nil
}

func (f *fakeSource) ListScansPage(ctx context.Context, q apiclient.ScanQuery, limit, offset int) (apiclient.ScanPage, error) {
	f.mu.Lock()
	f.scanCalls[q.ProjectID+"/"+q.Branch]++
	f.mu.Unlock()

	if err := f.scanErr[q.ProjectID]; err != nil {
		return apiclient.ScanPage{}, err
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

func (f *fakeSource) PackageCount(ctx context.Context, scanID string) (int, error) {
	f.mu.Lock()
	f.countCalls++
	f.mu.Unlock()
	if err := f.countErr[scanID]; err != nil {
		return 0, err
	}
	return f.counts[scanID], nil
}

func newTestDiscoverer(src ScanSource, pageSize int) (*Discoverer, *ledger.Ledger) {
	l := ledger.New(nil)
	return New(src, l, nil, Options{PageSize: pageSize, BranchWorkers: 4, ScanWorkers: 4}), l
}

func TestScenarioOneSCABranchOneWithout(t *testing.T) {
	src := newFakeSource()
	src.projects = []models.ProjectRef{{ID: "pa", Name: "alpha"}, {ID: "pb", Name: "beta"}}
	src.scans["pa"] = []models.ScanRecord{
		{ID: "sa", ProjectID: "pa", Branch: "main", Status: "Completed", Engines: []string{"sast", "sca"}, CreatedAt: "2026-02-01"},
	}
	src.scans["pb"] = []models.ScanRecord{
		{ID: "sb", ProjectID: "pb", Branch: "main", Status: "Completed", Engines: []string{"sast"}, CreatedAt: "2026-02-01"},
	}
	src.counts["sa"] = 5

	d, l := newTestDiscoverer(src, 10)
	ctx := context.Background()

	projects, err := d.Projects(ctx)
	if err != nil {
		t.Fatalf("Projects: %v", err)
	}
	branches, err := d.Branches(ctx, projects)
	if err != nil {
		t.Fatalf("Branches: %v", err)
	}
	if len(branches) != 2 {
		t.Fatalf("expected 2 branches, got %d", len(branches))
	}

	scans, err := d.SelectScans(ctx, branches)
	if err != nil {
		t.Fatalf("SelectScans: %v", err)
	}
	if len(scans) != 1 {
		t.Fatalf("expected 1 scan, got %d", len(scans))
	}
	want := models.ScanRef{ScanID: "sa", ProjectID: "pa", ProjectName: "alpha", BranchName: "main", CreatedAt: "2026-02-01"}
	if scans[0] != want {
		t.Errorf("expected %+v, got %+v", want, scans[0])
	}

	noSCA := l.ByCategory(models.CategoryNoSCAScan)
	if len(noSCA) != 1 || noSCA[0].Subject.ProjectID != "pb" {
		t.Errorf("expected one no-SCA record for pb, got %+v", noSCA)
	}
	if n := len(l.ByCategory(models.CategoryScanDiscovery)); n != 0 {
		t.Errorf("expected no scan discovery errors, got %d", n)
	}
}

func TestSelectScanPicksNewestQualifying(t *testing.T) {
	src := newFakeSource()
	src.scans["p"] = []models.ScanRecord{
		{ID: "s4", Branch: "dev", Status: "Completed", Engines: []string{"sca"}},
		{ID: "s3", Branch: "dev", Status: "Partial", Engines: []string{"sca"}},
		{ID: "s2", Branch: "dev", Status: "Partial", Engines: []string{"sca"},
			StatusDetails: []models.EngineStatus{{Name: "sca", Status: "Completed"}}},
		{ID: "s1", Branch: "dev", Status: "Completed", Engines: []string{"sca"}},
	}
	src.counts["s4"] = 0
	src.counts["s2"] = 3
	src.counts["s1"] = 9

	d, _ := newTestDiscoverer(src, 10)
	scan, found, err := d.SelectScan(context.Background(), models.BranchRef{ProjectID: "p", ProjectName: "proj", Name: "dev"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !found || scan.ScanID != "s2" {
		t.Errorf("expected s2 (empty s4 and partial s3 skipped), got %+v found=%v", scan, found)
	}
}

func TestSelectScanUnreadableCountRejects(t *testing.T) {
	src := newFakeSource()
	src.scans["p"] = []models.ScanRecord{
		{ID: "s1", Branch: "main", Status: "Completed", Engines: []string{"sca"}},
	}
	src.countErr["s1"] = fmt.Errorf("summary: %w", apiclient.ErrUnrecognizedShape)

	d, _ := newTestDiscoverer(src, 10)
	_, found, err := d.SelectScan(context.Background(), models.BranchRef{ProjectID: "p", Name: "main"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if found {
		t.Error("expected scan with unreadable count to be rejected")
	}
}

func TestSelectScanPaginationTermination(t *testing.T) {
	src := newFakeSource()
	for i := 0; i < 25; i++ {
		src.scans["p"] = append(src.scans["p"], models.ScanRecord{
			ID: fmt.Sprintf("s%d", i), Branch: "main", Status: "Completed", Engines: []string{"sast"},
		})
	}

	d, _ := newTestDiscoverer(src, 10)
	_, found, err := d.SelectScan(context.Background(), models.BranchRef{ProjectID: "p", Name: "main"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if found {
		t.Error("expected no qualifying scan")
	}
	if calls := src.scanCalls["p/main"]; calls != 3 {
		t.Errorf("expected ceil(25/10)=3 page requests, got %d", calls)
	}
	if src.countCalls != 0 {
		t.Errorf("expected no package count lookups for non-SCA scans, got %d", src.countCalls)
	}
}

func TestSelectScanStopsAtFirstMatch(t *testing.T) {
	src := newFakeSource()
	for i := 0; i < 30; i++ {
		src.scans["p"] = append(src.scans["p"], models.ScanRecord{
			ID: fmt.Sprintf("s%d", i), Branch: "main", Status: "Completed", Engines: []string{"sca"},
		})
		src.counts[fmt.Sprintf("s%d", i)] = 1
	}

	d, _ := newTestDiscoverer(src, 10)
	scan, found, err := d.SelectScan(context.Background(), models.BranchRef{ProjectID: "p", Name: "main"})
	if err != nil || !found || scan.ScanID != "s0" {
		t.Fatalf("expected s0, got %+v found=%v err=%v", scan, found, err)
	}
	if calls := src.scanCalls["p/main"]; calls != 1 {
		t.Errorf("expected 1 page request, got %d", calls)
	}
}

func TestBranchErrorsRecordedNotFatal(t *testing.T) {
	src := newFakeSource()
	projects := []models.ProjectRef{{ID: "ok", Name: "ok"}, {ID: "bad", Name: "bad"}}
	src.scans["ok"] = []models.ScanRecord{{ID: "s", Branch: "main"}, {ID: "t", Branch: "dev"}, {ID: "u", Branch: "main"}}
	src.scanErr["bad"] = &apiclient.StatusError{Code: 500}

	d, l := newTestDiscoverer(src, 10)
	branches, err := d.Branches(context.Background(), projects)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(branches) != 2 || branches[0].Name != "dev" || branches[1].Name != "main" {
		t.Errorf("expected sorted [dev main], got %+v", branches)
	}
	if n := len(l.ByCategory(models.CategoryBranchDiscovery)); n != 1 {
		t.Errorf("expected 1 branch discovery error, got %d", n)
	}
}

func TestScanErrorDistinctFromNoScan(t *testing.T) {
	src := newFakeSource()
	src.scans["p"] = []models.ScanRecord{{ID: "s1", Branch: "main", Status: "Completed", Engines: []string{"sca"}}}
	src.countErr["s1"] = &apiclient.StatusError{Code: 502}

	d, l := newTestDiscoverer(src, 10)
	scans, err := d.SelectScans(context.Background(), []models.BranchRef{{ProjectID: "p", ProjectName: "p", Name: "main"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(scans) != 0 {
		t.Errorf("expected no scans, got %d", len(scans))
	}
	if n := len(l.ByCategory(models.CategoryScanDiscovery)); n != 1 {
		t.Errorf("expected 1 scan discovery error, got %d", n)
	}
	if n := len(l.ByCategory(models.CategoryNoSCAScan)); n != 0 {
		t.Errorf("expected no no-SCA records, got %d", n)
	}
}

func TestFatalErrorAbortsStage(t *testing.T) {
	src := newFakeSource()
	src.scanErr["p"] = fmt.Errorf("list: %w", apiclient.ErrAuthFailed)

	d, _ := newTestDiscoverer(src, 10)
	_, err := d.SelectScans(context.Background(), []models.BranchRef{{ProjectID: "p", Name: "main"}})
	if !errors.Is(err, apiclient.ErrAuthFailed) {
		t.Fatalf("expected ErrAuthFailed, got %v", err)
	}
}

func TestProjectsSkipsAndDedupes(t *testing.T) {
	src := newFakeSource()
	src.projects = []models.ProjectRef{{ID: "a"}, {ID: "b"}, {ID: "a"}}

	d, _ := newTestDiscoverer(src, 2)
	projects, err := d.Projects(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(projects) != 2 {
		t.Errorf("expected 2 distinct projects, got %d", len(projects))
	}
}
