package tui

import (
	"sort"
	"strings"

	"github.com/ppiankov/scaggregator/internal/models"
)

// retryState says whether a group's scan is listed in the run's retry manifest.
type retryState int

const (
	retryNotApplicable retryState = iota
	retryListed
	retryMissing
	retryUnknown
)

// group collects the ledger records about one subject within one category,
// e.g. every failed export attempt for a scan.
type group struct {
	Category models.FailureCategory
	Subject  models.FailureSubject
	Topic    string
	Records  []models.FailureRecord
	Retry    retryState
}

// name is the project name, or the topic for records without a project.
func (g group) name() string {
	if g.Subject.ProjectName != "" {
		return g.Subject.ProjectName
	}
	return g.Topic
}

// attempts is the highest attempt count recorded for the group.
func (g group) attempts() int {
	n := 0
	for _, rec := range g.Records {
		if rec.Attempts > n {
			n = rec.Attempts
		}
	}
	return n
}

// latest is the most recently recorded record of the group.
func (g group) latest() models.FailureRecord {
	last := g.Records[0]
	for _, rec := range g.Records[1:] {
		if rec.At.After(last.At) {
			last = rec
		}
	}
	return last
}

var categoryPriority = func() map[models.FailureCategory]int {
	m := make(map[models.FailureCategory]int, len(models.AllCategories))
	for i, c := range models.AllCategories {
		m[c] = i
	}
	return m
}()

func groupKey(rec models.FailureRecord) string {
	s := rec.Subject
	return strings.Join([]string{string(rec.Category), s.ProjectID, s.ProjectName, s.BranchName, s.ScanID, rec.Topic}, "\x00")
}

// retryIndex describes a run's retry manifest.
type retryIndex struct {
	path string
	// scans is nil when the manifest file could not be read.
	scans map[string]bool
}

func newRetryIndex(path string, scans []models.ScanRef) retryIndex {
	idx := retryIndex{path: path}
	if scans != nil {
		idx.scans = make(map[string]bool, len(scans))
		for _, s := range scans {
			idx.scans[s.ScanID] = true
		}
	}
	return idx
}

func (idx retryIndex) state(rec models.FailureRecord) retryState {
	if rec.Category != models.CategoryReportGeneration || rec.Subject.ScanID == "" {
		return retryNotApplicable
	}
	switch {
	case idx.path == "":
		return retryMissing
	case idx.scans == nil:
		return retryUnknown
	case idx.scans[rec.Subject.ScanID]:
		return retryListed
	default:
		return retryMissing
	}
}

// groupRecords folds records into groups ordered by category, then project
// and branch.
func groupRecords(records []models.FailureRecord, idx retryIndex) []group {
	index := make(map[string]int)
	var groups []group
	for _, rec := range records {
		k := groupKey(rec)
		if i, ok := index[k]; ok {
			groups[i].Records = append(groups[i].Records, rec)
			continue
		}
		index[k] = len(groups)
		groups = append(groups, group{
			Category: rec.Category,
			Subject:  rec.Subject,
			Topic:    rec.Topic,
			Records:  []models.FailureRecord{rec},
			Retry:    idx.state(rec),
		})
	}

	sort.SliceStable(groups, func(i, j int) bool {
		a, b := groups[i], groups[j]
		if pa, pb := categoryPriority[a.Category], categoryPriority[b.Category]; pa != pb {
			return pa < pb
		}
		if na, nb := strings.ToLower(a.name()), strings.ToLower(b.name()); na != nb {
			return na < nb
		}
		return a.Subject.BranchName < b.Subject.BranchName
	})
	return groups
}

// tabCategories returns the categories that have groups, in report order.
func tabCategories(groups []group) []models.FailureCategory {
	seen := make(map[models.FailureCategory]bool)
	for _, g := range groups {
		seen[g.Category] = true
	}
	var out []models.FailureCategory
	for _, c := range models.AllCategories {
		if seen[c] {
			out = append(out, c)
		}
	}
	return out
}

// selection narrows the groups shown: a category tab (empty for all) and
// optionally only the scans listed in the retry manifest.
type selection struct {
	Category     models.FailureCategory
	ManifestOnly bool
}

func (s selection) apply(groups []group) []group {
	out := make([]group, 0, len(groups))
	for _, g := range groups {
		if s.Category != "" && g.Category != s.Category {
			continue
		}
		if s.ManifestOnly && g.Retry != retryListed {
			continue
		}
		out = append(out, g)
	}
	return out
}

// retryCommand is the command line that re-runs the manifest's scans.
func retryCommand(manifest string) string {
	if strings.ContainsAny(manifest, " \t'\"$") {
		manifest = "'" + strings.ReplaceAll(manifest, "'", `'\''`) + "'"
	}
	return "scaggregator run --retry " + manifest
}
