package models

import (
	"fmt"
	"strings"
)

// Engine names as reported by the scanning platform.
const (
	EngineSCA = "sca"
)

// Scan statuses accepted by scan selection.
const (
	ScanStatusCompleted = "Completed"
	ScanStatusPartial   = "Partial"
)

// ProjectRef is a scannable unit on the remote platform.
type ProjectRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// BranchRef is a named branch of a project. Branches are inferred from
// observed scan records because the platform has no branch listing.
type BranchRef struct {
	ProjectID   string `json:"project_id"`
	ProjectName string `json:"project_name"`
	Name        string `json:"branch_name"`
}

// Key returns the (project, branch) identity of the branch.
func (b BranchRef) Key() string {
	return b.ProjectID + "\x00" + b.Name
}

func (b BranchRef) String() string {
	return fmt.Sprintf("%s/%s", b.ProjectName, b.Name)
}

// ScanRef is the scan selected for a branch. It carries no mutable state.
type ScanRef struct {
	ScanID      string `json:"scan_id"`
	ProjectID   string `json:"project_id"`
	ProjectName string `json:"project_name"`
	BranchName  string `json:"branch_name"`
	CreatedAt   string `json:"created_at"`
}

func (s ScanRef) String() string {
	return fmt.Sprintf("%s/%s@%s", s.ProjectName, s.BranchName, s.ScanID)
}

// EngineStatus is one entry of a scan's per-engine status breakdown.
type EngineStatus struct {
	Name   string `json:"name"`
	Status string `json:"status"`
}

// ScanRecord is a scan as listed by the platform, normalized at the API
// boundary.
type ScanRecord struct {
	ID            string         `json:"id"`
	ProjectID     string         `json:"project_id"`
	Branch        string         `json:"branch"`
	Status        string         `json:"status"`
	Engines       []string       `json:"engines"`
	CreatedAt     string         `json:"created_at"`
	StatusDetails []EngineStatus `json:"status_details,omitempty"`
}

// HasEngine reports whether the scan ran the named engine.
func (s ScanRecord) HasEngine(name string) bool {
	for _, e := range s.Engines {
		if strings.EqualFold(e, name) {
			return true
		}
	}
	return false
}

// EngineCompleted reports whether the status breakdown shows the named engine
// as completed. A missing breakdown entry counts as not completed.
func (s ScanRecord) EngineCompleted(name string) bool {
	for _, d := range s.StatusDetails {
		if strings.EqualFold(d.Name, name) {
			return strings.EqualFold(d.Status, ScanStatusCompleted)
		}
	}
	return false
}

// ReportMetadata is the provenance tuple attached to every merged row.
type ReportMetadata struct {
	ProjectName string `json:"project_name"`
	ProjectID   string `json:"project_id"`
	BranchName  string `json:"branch_name"`
	ScanID      string `json:"scan_id"`
	ScanDate    string `json:"scan_date"`
}

// MetadataColumns are the output columns prepended to every package row.
var MetadataColumns = []string{"ProjectName", "ProjectId", "BranchName", "ScanId", "ScanDate"}

// Values returns the metadata in MetadataColumns order.
func (m ReportMetadata) Values() []string {
	return []string{m.ProjectName, m.ProjectID, m.BranchName, m.ScanID, m.ScanDate}
}

// MetadataFor builds the provenance tuple of a scan.
func MetadataFor(s ScanRef) ReportMetadata {
	return ReportMetadata{
		ProjectName: s.ProjectName,
		ProjectID:   s.ProjectID,
		BranchName:  s.BranchName,
		ScanID:      s.ScanID,
		ScanDate:    s.CreatedAt,
	}
}

// ReportArtifact is a downloaded export archive plus its provenance. It exists
// only once the export job completed and the download succeeded.
type ReportArtifact struct {
	Path     string         `json:"path"`
	Metadata ReportMetadata `json:"metadata"`
}
