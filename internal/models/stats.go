package models

import "time"

// RunMode distinguishes a full discovery run from a manifest retry.
type RunMode string

const (
	ModeFull  RunMode = "full"
	ModeRetry RunMode = "retry"
)

// MergeStats are the running counters of one merge.
type MergeStats struct {
	RowsWritten      int `json:"rows_written"`
	RowsFiltered     int `json:"rows_filtered"`
	RowsSeen         int `json:"rows_seen"`
	FilesProcessed   int `json:"files_processed"`
	FilesFailed      int `json:"files_failed"`
	HeaderMismatches int `json:"header_mismatches"`
}

// RunStats summarizes a pipeline run for the report, summary and policy.
type RunStats struct {
	RunID            string        `json:"run_id"`
	Mode             RunMode       `json:"mode"`
	Tenant           string        `json:"tenant"`
	StartedAt        time.Time     `json:"started_at"`
	Duration         time.Duration `json:"duration"`
	TotalProjects    int           `json:"total_projects"`
	TotalBranches    int           `json:"total_branches"`
	ScansFound       int           `json:"scans_found"`
	ScansNotFound    int           `json:"scans_not_found"`
	RetryScans       int           `json:"retry_scans,omitempty"`
	ReportsGenerated int           `json:"reports_generated"`
	ReportsFailed    int           `json:"reports_failed"`
	Merge            MergeStats    `json:"merge"`
	FilterExpr       string        `json:"filter,omitempty"`
	OutputFile       string        `json:"output_file"`
	OutputSize       int64         `json:"output_size"`
	Interrupted      bool          `json:"interrupted,omitempty"`
}

// FailureRate returns the percentage of selected scans whose export failed.
func (s RunStats) FailureRate() float64 {
	total := s.ReportsGenerated + s.ReportsFailed
	if total == 0 {
		return 0
	}
	return float64(s.ReportsFailed) * 100 / float64(total)
}

// RunReport is everything the end-of-run reports render.
type RunReport struct {
	GeneratedAt  time.Time       `json:"generated_at"`
	Stats        RunStats        `json:"stats"`
	Records      []FailureRecord `json:"records"`
	ManifestFile string          `json:"manifest_file,omitempty"`
}

// CountByCategory returns the number of records per category.
func (r *RunReport) CountByCategory() map[FailureCategory]int {
	counts := make(map[FailureCategory]int)
	for _, rec := range r.Records {
		counts[rec.Category]++
	}
	return counts
}

// ByCategory returns the records of one category in arrival order.
func (r *RunReport) ByCategory(c FailureCategory) []FailureRecord {
	var out []FailureRecord
	for _, rec := range r.Records {
		if rec.Category == c {
			out = append(out, rec)
		}
	}
	return out
}
