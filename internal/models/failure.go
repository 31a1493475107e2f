package models

import "time"

// FailureCategory groups ledger records for reporting.
type FailureCategory string

const (
	CategoryNoSCAScan        FailureCategory = "no_sca_scan"
	CategoryBranchDiscovery  FailureCategory = "branch_discovery_error"
	CategoryScanDiscovery    FailureCategory = "scan_discovery_error"
	CategoryReportGeneration FailureCategory = "report_generation_error"
	CategoryArchiveWarning   FailureCategory = "archive_warning"
	CategoryGeneralWarning   FailureCategory = "general_warning"
)

// AllCategories lists categories in report order.
var AllCategories = []FailureCategory{
	CategoryNoSCAScan,
	CategoryReportGeneration,
	CategoryArchiveWarning,
	CategoryScanDiscovery,
	CategoryBranchDiscovery,
	CategoryGeneralWarning,
}

// FailureSubject identifies what a failure record is about. Fields that do not
// apply to the category are left empty.
type FailureSubject struct {
	ProjectName string `json:"project_name,omitempty"`
	ProjectID   string `json:"project_id,omitempty"`
	BranchName  string `json:"branch_name,omitempty"`
	ScanID      string `json:"scan_id,omitempty"`
	ScanDate    string `json:"scan_date,omitempty"`
}

// SubjectForScan builds a subject carrying the full scan provenance.
func SubjectForScan(s ScanRef) FailureSubject {
	return FailureSubject{
		ProjectName: s.ProjectName,
		ProjectID:   s.ProjectID,
		BranchName:  s.BranchName,
		ScanID:      s.ScanID,
		ScanDate:    s.CreatedAt,
	}
}

// SubjectForBranch builds a subject for a branch-level record.
func SubjectForBranch(b BranchRef) FailureSubject {
	return FailureSubject{ProjectName: b.ProjectName, ProjectID: b.ProjectID, BranchName: b.Name}
}

// Scan reconstructs the ScanRef a subject was built from.
func (s FailureSubject) Scan() ScanRef {
	return ScanRef{
		ScanID:      s.ScanID,
		ProjectID:   s.ProjectID,
		ProjectName: s.ProjectName,
		BranchName:  s.BranchName,
		CreatedAt:   s.ScanDate,
	}
}

// FailureRecord is an immutable, categorized failure or warning.
type FailureRecord struct {
	Category FailureCategory `json:"category"`
	Subject  FailureSubject  `json:"subject"`
	Message  string          `json:"message"`
	Attempts int             `json:"attempts,omitempty"`
	Topic    string          `json:"topic,omitempty"`
	At       time.Time       `json:"at"`
}
