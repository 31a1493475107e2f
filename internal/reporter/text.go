package reporter

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/ppiankov/scaggregator/internal/models"
)

const ruleWidth = 80

// TextReporter renders the execution report.
type TextReporter struct {
	writer io.Writer
}

// NewTextReporter creates a new text reporter
func NewTextReporter(writer io.Writer) *TextReporter {
	return &TextReporter{
		writer: writer,
	}
}

// Generate writes the execution report: summary statistics, then one section
// per non-empty ledger category.
func (r *TextReporter) Generate(report *models.RunReport) error {
	rule := strings.Repeat("=", ruleWidth)

	r.printf("%s\n", rule)
	r.printf("CxOne SCA Package Aggregator - Execution Report\n")
	r.printf("%s\n", rule)
	r.printf("Generated: %s\n", formatTimestamp(report.GeneratedAt))
	if report.Stats.RunID != "" {
		r.printf("Run ID: %s\n", report.Stats.RunID)
	}
	r.printf("\n")

	r.printSummary(report)

	noSCA := report.ByCategory(models.CategoryNoSCAScan)
	reportErrs := report.ByCategory(models.CategoryReportGeneration)
	archive := report.ByCategory(models.CategoryArchiveWarning)
	scanErrs := report.ByCategory(models.CategoryScanDiscovery)
	branchErrs := report.ByCategory(models.CategoryBranchDiscovery)
	general := report.ByCategory(models.CategoryGeneralWarning)

	if len(noSCA) > 0 {
		r.section(fmt.Sprintf("BRANCHES WITHOUT SCA SCANS (%d)", len(noSCA)))
		r.printNoSCA(noSCA)
	}

	if len(reportErrs) > 0 {
		r.section(fmt.Sprintf("REPORT GENERATION ERRORS (%d)", len(reportErrs)))
		for i, rec := range reportErrs {
			r.printf("%d. Project: %s\n", i+1, rec.Subject.ProjectName)
			r.printf("   Branch: %s\n", rec.Subject.BranchName)
			r.printf("   Scan ID: %s\n", rec.Subject.ScanID)
			r.printf("   Attempts: %d\n", rec.Attempts)
			r.printf("   Error: %s\n\n", rec.Message)
		}
		if report.ManifestFile != "" {
			r.printf("Retry these scans with: scaggregator run --retry %s\n\n", report.ManifestFile)
		}
	}

	if len(archive) > 0 {
		r.section(fmt.Sprintf("ZIP EXTRACTION WARNINGS (%d)", len(archive)))
		for i, rec := range archive {
			r.printf("%d. Project: %s\n", i+1, rec.Subject.ProjectName)
			r.printf("   Branch: %s\n", rec.Subject.BranchName)
			r.printf("   Scan ID: %s\n", rec.Subject.ScanID)
			r.printf("   Warning: %s\n\n", rec.Message)
		}
	}

	if len(scanErrs) > 0 {
		r.section(fmt.Sprintf("SCAN ERRORS (%d)", len(scanErrs)))
		for i, rec := range scanErrs {
			r.printf("%d. Project: %s\n", i+1, rec.Subject.ProjectName)
			r.printf("   Branch: %s\n", rec.Subject.BranchName)
			r.printf("   Error: %s\n\n", rec.Message)
		}
	}

	if len(branchErrs) > 0 {
		r.section(fmt.Sprintf("BRANCH DISCOVERY ERRORS (%d)", len(branchErrs)))
		for i, rec := range branchErrs {
			r.printf("%d. Project: %s (%s)\n", i+1, rec.Subject.ProjectName, rec.Subject.ProjectID)
			r.printf("   Error: %s\n\n", rec.Message)
		}
	}

	if len(general) > 0 {
		r.section(fmt.Sprintf("GENERAL WARNINGS (%d)", len(general)))
		r.printGeneral(general)
	}

	if len(report.Records) == 0 {
		r.printf("%s\nNO ERRORS OR WARNINGS\n%s\n", rule, rule)
		r.printf("All operations completed successfully!\n\n")
	}

	r.printf("%s\nEND OF REPORT\n%s\n", rule, rule)
	return nil
}

func (r *TextReporter) printSummary(report *models.RunReport) {
	s := report.Stats
	r.section("SUMMARY STATISTICS")

	if s.Mode == models.ModeRetry {
		r.printf("Mode:                  retry\n")
		r.printf("Retry Scans:           %s\n", humanize.Comma(int64(s.RetryScans)))
	} else {
		r.printf("Total Projects:        %s\n", humanize.Comma(int64(s.TotalProjects)))
		r.printf("Total Branches:        %s\n", humanize.Comma(int64(s.TotalBranches)))
		if s.TotalProjects > 0 {
			r.printf("Avg Branches/Project:  %.1f\n", float64(s.TotalBranches)/float64(s.TotalProjects))
		}
		r.printf("Scans Found:           %s\n", humanize.Comma(int64(s.ScansFound)))
		r.printf("Scans Not Found:       %s\n", humanize.Comma(int64(s.ScansNotFound)))
	}
	r.printf("Reports Generated:     %s\n", humanize.Comma(int64(s.ReportsGenerated)))
	r.printf("Reports Failed:        %s\n", humanize.Comma(int64(s.ReportsFailed)))
	r.printf("Total Packages:        %s\n", humanize.Comma(int64(s.Merge.RowsWritten)))
	if s.FilterExpr != "" {
		r.printf("Package Filter:        %s (filtered out %s of %s)\n", s.FilterExpr,
			humanize.Comma(int64(s.Merge.RowsFiltered)), humanize.Comma(int64(s.Merge.RowsSeen)))
	}
	r.printf("CSV Files Processed:   %s\n", humanize.Comma(int64(s.Merge.FilesProcessed)))
	r.printf("CSV Files Failed:      %s\n", humanize.Comma(int64(s.Merge.FilesFailed)))
	if s.Merge.HeaderMismatches > 0 {
		r.printf("Header Mismatches:     %d\n", s.Merge.HeaderMismatches)
	}
	r.printf("Execution Time:        %s\n", FormatElapsed(s.Duration))
	r.printf("Output File:           %s\n", s.OutputFile)
	if s.OutputSize > 0 {
		r.printf("Output Size:           %s\n", humanize.Bytes(uint64(s.OutputSize)))
	}
	if s.Interrupted {
		r.printf("Status:                INTERRUPTED\n")
	}
	r.printf("\n")
}

func (r *TextReporter) printNoSCA(records []models.FailureRecord) {
	byProject := make(map[string][]string)
	for _, rec := range records {
		byProject[rec.Subject.ProjectName] = append(byProject[rec.Subject.ProjectName], rec.Subject.BranchName)
	}
	projects := make([]string, 0, len(byProject))
	for p := range byProject {
		projects = append(projects, p)
	}
	sort.Strings(projects)

	for _, p := range projects {
		branches := byProject[p]
		sort.Strings(branches)
		r.printf("Project: %s\n", p)
		for _, b := range branches {
			r.printf("  - %s\n", b)
		}
		r.printf("\n")
	}
}

func (r *TextReporter) printGeneral(records []models.FailureRecord) {
	byTopic := make(map[string][]string)
	for _, rec := range records {
		topic := rec.Topic
		if topic == "" {
			topic = "general"
		}
		byTopic[topic] = append(byTopic[topic], rec.Message)
	}
	topics := make([]string, 0, len(byTopic))
	for t := range byTopic {
		topics = append(topics, t)
	}
	sort.Strings(topics)

	for _, t := range topics {
		r.printf("Category: %s\n", t)
		for _, msg := range byTopic[t] {
			r.printf("  - %s\n", msg)
		}
		r.printf("\n")
	}
}

func (r *TextReporter) section(title string) {
	rule := strings.Repeat("=", ruleWidth)
	r.printf("%s\n%s\n%s\n", rule, title, rule)
}

// printf is a helper for formatted printing
func (r *TextReporter) printf(format string, args ...interface{}) {
	_, _ = fmt.Fprintf(r.writer, format, args...)
}

// formatTimestamp formats a timestamp for display
func formatTimestamp(t time.Time) string {
	return t.Format("2006-01-02 15:04:05")
}

// FormatElapsed renders d as "Xh Ym Zs".
func FormatElapsed(d time.Duration) string {
	d = d.Round(time.Second)
	h := int(d / time.Hour)
	m := int(d % time.Hour / time.Minute)
	s := int(d % time.Minute / time.Second)
	return fmt.Sprintf("%dh %dm %ds", h, m, s)
}
