package reporter

import (
	"encoding/json"
	"io"

	"github.com/ppiankov/scaggregator/internal/models"
)

// JSONReporter generates machine-readable JSON reports
type JSONReporter struct {
	writer io.Writer
	pretty bool
}

// NewJSONReporter creates a new JSON reporter
func NewJSONReporter(writer io.Writer, pretty bool) *JSONReporter {
	return &JSONReporter{
		writer: writer,
		pretty: pretty,
	}
}

// Generate writes the full run report, including every ledger record.
func (r *JSONReporter) Generate(report *models.RunReport) error {
	return r.write(report)
}

// Summary is the compact machine-readable run summary.
type Summary struct {
	RunID       string                         `json:"run_id"`
	GeneratedAt string                         `json:"generated_at"`
	Elapsed     string                         `json:"elapsed"`
	Stats       models.RunStats                `json:"stats"`
	FailureRate float64                        `json:"failure_rate"`
	Counts      map[models.FailureCategory]int `json:"counts"`
	FailedScans []models.FailureSubject        `json:"failed_scans"`
	Manifest    string                         `json:"manifest,omitempty"`
}

// GenerateSummaryOnly writes per-category counts and the failed scans
// without the other ledger records.
func (r *JSONReporter) GenerateSummaryOnly(report *models.RunReport) error {
	summary := Summary{
		RunID:       report.Stats.RunID,
		GeneratedAt: report.GeneratedAt.Format("2006-01-02T15:04:05Z07:00"),
		Elapsed:     FormatElapsed(report.Stats.Duration),
		Stats:       report.Stats,
		FailureRate: report.Stats.FailureRate(),
		Counts:      report.CountByCategory(),
		FailedScans: []models.FailureSubject{},
		Manifest:    report.ManifestFile,
	}
	for _, rec := range report.ByCategory(models.CategoryReportGeneration) {
		summary.FailedScans = append(summary.FailedScans, rec.Subject)
	}
	return r.write(summary)
}

func (r *JSONReporter) write(v interface{}) error {
	var data []byte
	var err error

	if r.pretty {
		data, err = json.MarshalIndent(v, "", "  ")
	} else {
		data, err = json.Marshal(v)
	}

	if err != nil {
		return err
	}

	_, err = r.writer.Write(data)
	if err != nil {
		return err
	}

	// Add trailing newline for terminal output
	_, err = r.writer.Write([]byte("\n"))
	return err
}
