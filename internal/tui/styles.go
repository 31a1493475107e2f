package tui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/ppiankov/scaggregator/internal/models"
)

// Category colors
var (
	colorError   = lipgloss.Color("#FF0000")
	colorWarning = lipgloss.Color("#FF8800")
	colorNotice  = lipgloss.Color("#FFFF00")
	colorOK      = lipgloss.Color("#00FF00")
	colorMuted   = lipgloss.Color("#888888")
	colorAccent  = lipgloss.Color("#7B68EE")
	colorBorder  = lipgloss.Color("#444444")
)

// Panel styles
var (
	styleHeader = lipgloss.NewStyle().
			Bold(true).
			Padding(0, 1).
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(colorBorder)

	styleDetailPanel = lipgloss.NewStyle().
				Padding(0, 1).
				BorderStyle(lipgloss.NormalBorder()).
				BorderTop(true).
				BorderForeground(colorBorder)

	styleFooter = lipgloss.NewStyle().
			Foreground(colorMuted).
			Padding(0, 1)

	styleTab = lipgloss.NewStyle().
			Foreground(colorMuted).
			Padding(0, 1)

	styleTabActive = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFFFFF")).
			Background(colorAccent).
			Padding(0, 1)

	styleRetry = lipgloss.NewStyle().
			Foreground(colorOK)

	styleStage = lipgloss.NewStyle().
			Foreground(colorAccent).Bold(true)

	styleContext = lipgloss.NewStyle().
			Foreground(colorMuted)
)

// categoryStyle returns the lipgloss style for a ledger category.
func categoryStyle(c models.FailureCategory) lipgloss.Style {
	switch c {
	case models.CategoryReportGeneration, models.CategoryBranchDiscovery:
		return lipgloss.NewStyle().Foreground(colorError).Bold(true)
	case models.CategoryScanDiscovery:
		return lipgloss.NewStyle().Foreground(colorWarning).Bold(true)
	case models.CategoryArchiveWarning, models.CategoryGeneralWarning:
		return lipgloss.NewStyle().Foreground(colorNotice)
	case models.CategoryNoSCAScan:
		return lipgloss.NewStyle().Foreground(colorMuted)
	default:
		return lipgloss.NewStyle()
	}
}

// rateStyle returns the style for an export failure rate in percent.
func rateStyle(rate float64) lipgloss.Style {
	switch {
	case rate == 0:
		return lipgloss.NewStyle().Foreground(colorOK).Bold(true)
	case rate < 5:
		return lipgloss.NewStyle().Foreground(colorNotice)
	case rate < 25:
		return lipgloss.NewStyle().Foreground(colorWarning).Bold(true)
	default:
		return lipgloss.NewStyle().Foreground(colorError).Bold(true)
	}
}
