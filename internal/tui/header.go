package tui

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/ppiankov/scaggregator/internal/models"
)

// headerHeight is the number of terminal lines the header occupies.
const headerHeight = 6

// renderHeader produces the header string from the run statistics and the
// retry manifest.
func renderHeader(report *models.RunReport, idx retryIndex, width int) string {
	var b strings.Builder
	s := report.Stats

	// Line 1: run identity and failure rate
	rate := s.FailureRate()
	b.WriteString(fmt.Sprintf("SCA Aggregator  Run: %s  Mode: %s  Failure rate: %s",
		orDash(s.RunID), orDash(string(s.Mode)), rateStyle(rate).Render(fmt.Sprintf("%.1f%%", rate))))
	if s.Interrupted {
		b.WriteString("  " + categoryStyle(models.CategoryReportGeneration).Render("INTERRUPTED"))
	}
	b.WriteString("\n")

	// Line 2: volumes
	b.WriteString(fmt.Sprintf("Reports: %d ok / %d failed  Packages: %s  Files: %d ok / %d failed",
		s.ReportsGenerated, s.ReportsFailed, humanize.Comma(int64(s.Merge.RowsWritten)),
		s.Merge.FilesProcessed, s.Merge.FilesFailed))
	b.WriteString("\n")

	// Line 3: category breakdown
	counts := report.CountByCategory()
	parts := make([]string, 0, len(models.AllCategories))
	for _, c := range models.AllCategories {
		if n := counts[c]; n > 0 {
			parts = append(parts, categoryStyle(c).Render(fmt.Sprintf("%s:%d", categoryLabel(c), n)))
		}
	}
	if len(parts) > 0 {
		b.WriteString(strings.Join(parts, "  "))
	}
	b.WriteString("\n")

	// Line 4: what to run next
	switch {
	case idx.path == "":
		b.WriteString(styleContext.Render("No retry manifest"))
	case idx.scans == nil:
		b.WriteString(fmt.Sprintf("Retry: %s  %s", retryCommand(idx.path), styleContext.Render("(manifest unreadable)")))
	default:
		b.WriteString(fmt.Sprintf("Retry: %s  (%d scans)", styleRetry.Render(retryCommand(idx.path)), len(idx.scans)))
	}

	return styleHeader.Width(width).Render(b.String())
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
