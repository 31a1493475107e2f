package tui

import (
	"strconv"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/lipgloss"

	"github.com/ppiankov/scaggregator/internal/models"
)

var groupColumns = []table.Column{
	{Title: "Category", Width: 10},
	{Title: "Project", Width: 20},
	{Title: "Branch", Width: 16},
	{Title: "Scan ID", Width: 14},
	{Title: "#", Width: 3},
	{Title: "Tries", Width: 5},
	{Title: "Retry", Width: 7},
	{Title: "Latest message", Width: 30},
}

// groupRows renders one table row per group.
func groupRows(groups []group) []table.Row {
	rows := make([]table.Row, 0, len(groups))
	for _, g := range groups {
		tries := ""
		if n := g.attempts(); n > 0 {
			tries = strconv.Itoa(n)
		}
		rows = append(rows, table.Row{
			categoryLabel(g.Category),
			truncate(g.name(), groupColumns[1].Width),
			truncate(g.Subject.BranchName, groupColumns[2].Width),
			truncate(g.Subject.ScanID, groupColumns[3].Width),
			strconv.Itoa(len(g.Records)),
			tries,
			retryLabel(g.Retry),
			truncate(g.latest().Message, groupColumns[7].Width),
		})
	}
	return rows
}

func retryLabel(r retryState) string {
	switch r {
	case retryListed:
		return "listed"
	case retryMissing:
		return "MISSING"
	case retryUnknown:
		return "?"
	default:
		return ""
	}
}

func categoryLabel(c models.FailureCategory) string {
	switch c {
	case models.CategoryNoSCAScan:
		return "NO SCA"
	case models.CategoryBranchDiscovery:
		return "BRANCH ERR"
	case models.CategoryScanDiscovery:
		return "SCAN ERR"
	case models.CategoryReportGeneration:
		return "REPORT ERR"
	case models.CategoryArchiveWarning:
		return "ZIP WARN"
	case models.CategoryGeneralWarning:
		return "WARNING"
	default:
		return string(c)
	}
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	const ellipsis = "..."
	if maxLen <= len(ellipsis) {
		return s[:maxLen]
	}
	return s[:maxLen-len(ellipsis)] + ellipsis
}

func newGroupTable(rows []table.Row, height int) table.Model {
	t := table.New(
		table.WithColumns(groupColumns),
		table.WithRows(rows),
		table.WithFocused(true),
		table.WithHeight(height),
	)

	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(colorBorder).
		BorderBottom(true).
		Bold(true)
	s.Selected = s.Selected.
		Foreground(lipgloss.Color("#FFFFFF")).
		Background(colorAccent).
		Bold(false)
	t.SetStyles(s)

	return t
}
