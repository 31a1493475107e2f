package tui

import (
	"fmt"
	"strings"

	"github.com/ppiankov/scaggregator/internal/models"
)

// previewHeight is the number of lines the group preview under the table uses.
const previewHeight = 4

// describeGroup renders the subject of g followed by one line per record.
func describeGroup(g *group, idx retryIndex) string {
	if g == nil {
		return "No record selected"
	}

	var b strings.Builder
	label := categoryStyle(g.Category).Render(categoryLabel(g.Category))
	if g.Subject.ProjectName == "" {
		fmt.Fprintf(&b, "%s  %s\n", label, orDash(g.Topic))
	} else {
		fmt.Fprintf(&b, "%s  %s / %s", label, g.Subject.ProjectName, orDash(g.Subject.BranchName))
		if g.Subject.ProjectID != "" {
			fmt.Fprintf(&b, "  (project %s)", g.Subject.ProjectID)
		}
		b.WriteString("\n")
	}
	if g.Subject.ScanID != "" {
		fmt.Fprintf(&b, "Scan %s", g.Subject.ScanID)
		if g.Subject.ScanDate != "" {
			fmt.Fprintf(&b, " from %s", g.Subject.ScanDate)
		}
		b.WriteString("\n")
	}
	if line := retryLine(g.Retry, idx); line != "" {
		b.WriteString(line + "\n")
	}

	for _, rec := range g.Records {
		b.WriteString(recordLine(rec) + "\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func retryLine(r retryState, idx retryIndex) string {
	switch r {
	case retryListed:
		return styleRetry.Render("Listed in retry manifest: " + retryCommand(idx.path))
	case retryMissing:
		if idx.path == "" {
			return categoryStyle(models.CategoryReportGeneration).Render("No retry manifest was written for this run")
		}
		return categoryStyle(models.CategoryReportGeneration).Render("Not listed in retry manifest " + idx.path)
	case retryUnknown:
		return styleContext.Render("Retry manifest " + idx.path + " could not be read")
	default:
		return ""
	}
}

func recordLine(rec models.FailureRecord) string {
	var parts []string
	if !rec.At.IsZero() {
		parts = append(parts, rec.At.Format("15:04:05"))
	}
	if rec.Attempts > 0 {
		parts = append(parts, fmt.Sprintf("after %d attempts", rec.Attempts))
	}
	prefix := "-"
	if len(parts) > 0 {
		prefix = "- " + strings.Join(parts, ", ") + ":"
	}
	return prefix + " " + rec.Message
}

// preview keeps the first lines of the group description.
func preview(g *group, idx retryIndex, width int) string {
	lines := strings.Split(describeGroup(g, idx), "\n")
	if len(lines) > previewHeight {
		more := len(lines) - previewHeight + 1
		lines = append(lines[:previewHeight-1], styleContext.Render(fmt.Sprintf("... %d more lines, enter to expand", more)))
	}
	return styleDetailPanel.Width(width).Render(strings.Join(lines, "\n"))
}
