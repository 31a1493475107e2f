package tui

import (
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/ppiankov/scaggregator/internal/models"
)

type pane int

const (
	paneGroups pane = iota
	paneRecords
)

// Model browses a run's ledger grouped by category and subject.
type Model struct {
	report *models.RunReport
	retry  retryIndex
	groups []group
	tabs   []models.FailureCategory
	// tab 0 shows every category, tab i shows tabs[i-1].
	tab       int
	sel       selection
	visible   []group
	pane      pane
	table     table.Model
	records   viewport.Model
	help      help.Model
	keys      browseKeys
	width     int
	height    int
	statusMsg string
	// clip receives the OSC 52 clipboard sequence.
	clip io.Writer
}

// New creates a browser for report. manifest holds the scans of the run's
// retry manifest, or nil when it could not be read.
func New(report *models.RunReport, manifest []models.ScanRef) Model {
	idx := newRetryIndex(report.ManifestFile, manifest)
	groups := groupRecords(report.Records, idx)

	m := Model{
		report:  report,
		retry:   idx,
		groups:  groups,
		tabs:    tabCategories(groups),
		table:   newGroupTable(nil, 10),
		records: viewport.New(80, 10),
		help:    help.New(),
		keys:    newBrowseKeys(),
		clip:    os.Stdout,
	}
	m.resize(80, 24)
	m.refresh()
	return m
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return nil
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.resize(msg.Width, msg.Height)
		return m, nil
	case tea.KeyMsg:
		if key.Matches(msg, m.keys.Quit) {
			return m, tea.Quit
		}
		if key.Matches(msg, m.keys.Help) {
			m.help.ShowAll = !m.help.ShowAll
			return m, nil
		}
		if key.Matches(msg, m.keys.Retry) {
			m.copyRetryCommand()
			return m, nil
		}
		if m.pane == paneRecords {
			return m.updateRecords(msg)
		}
		return m.updateGroups(msg)
	}
	return m, nil
}

func (m Model) updateGroups(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.NextTab):
		m.setTab(m.tab + 1)
	case key.Matches(msg, m.keys.PrevTab):
		m.setTab(m.tab - 1)
	case key.Matches(msg, m.keys.ManifestOnly):
		m.sel.ManifestOnly = !m.sel.ManifestOnly
		m.refresh()
		if m.sel.ManifestOnly {
			m.statusMsg = fmt.Sprintf("%d groups in retry manifest", len(m.visible))
		} else {
			m.statusMsg = ""
		}
	case key.Matches(msg, m.keys.Expand):
		if g := m.selected(); g != nil {
			m.records.SetContent(describeGroup(g, m.retry))
			m.records.GotoTop()
			m.pane = paneRecords
		}
	default:
		var cmd tea.Cmd
		m.table, cmd = m.table.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m Model) updateRecords(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if key.Matches(msg, m.keys.Back) || key.Matches(msg, m.keys.Expand) {
		m.pane = paneGroups
		return m, nil
	}
	var cmd tea.Cmd
	m.records, cmd = m.records.Update(msg)
	return m, cmd
}

// setTab selects tab i, wrapping around the category list.
func (m *Model) setTab(i int) {
	n := len(m.tabs) + 1
	m.tab = ((i % n) + n) % n
	m.sel.Category = ""
	if m.tab > 0 {
		m.sel.Category = m.tabs[m.tab-1]
	}
	m.statusMsg = ""
	m.refresh()
}

func (m *Model) refresh() {
	m.visible = m.sel.apply(m.groups)
	m.table.SetRows(groupRows(m.visible))
	if m.table.Cursor() >= len(m.visible) {
		m.table.SetCursor(0)
	}
}

func (m *Model) resize(width, height int) {
	m.width, m.height = width, height
	m.help.Width = width
	m.table.SetWidth(width)
	tableH := height - headerHeight - previewHeight - 5
	if tableH < 3 {
		tableH = 3
	}
	m.table.SetHeight(tableH)
	m.records.Width = width
	recordsH := height - headerHeight - 3
	if recordsH < 3 {
		recordsH = 3
	}
	m.records.Height = recordsH
}

func (m *Model) selected() *group {
	i := m.table.Cursor()
	if i < 0 || i >= len(m.visible) {
		return nil
	}
	return &m.visible[i]
}

// copyRetryCommand puts the retry command on the clipboard via OSC 52.
func (m *Model) copyRetryCommand() {
	if m.retry.path == "" {
		m.statusMsg = "No retry manifest for this run"
		return
	}
	cmd := retryCommand(m.retry.path)
	_, _ = fmt.Fprintf(m.clip, "\033]52;c;%s\a", base64.StdEncoding.EncodeToString([]byte(cmd)))
	m.statusMsg = "Copied: " + cmd
}

// View implements tea.Model.
func (m Model) View() string {
	parts := []string{renderHeader(m.report, m.retry, m.width), m.renderTabs()}
	if m.pane == paneRecords {
		parts = append(parts, m.records.View())
	} else {
		parts = append(parts, m.table.View(), preview(m.selected(), m.retry, m.width))
	}
	parts = append(parts, m.renderFooter())
	return lipgloss.JoinVertical(lipgloss.Left, parts...)
}

func (m Model) renderTabs() string {
	count := func(c models.FailureCategory) int {
		n := 0
		for _, g := range m.groups {
			if c == "" || g.Category == c {
				n++
			}
		}
		return n
	}

	tabs := make([]string, 0, len(m.tabs)+1)
	labels := append([]models.FailureCategory{""}, m.tabs...)
	for i, c := range labels {
		name := "ALL"
		if c != "" {
			name = categoryLabel(c)
		}
		style := styleTab
		if i == m.tab {
			style = styleTabActive
		}
		tabs = append(tabs, style.Render(fmt.Sprintf("%s %d", name, count(c))))
	}
	if m.sel.ManifestOnly {
		tabs = append(tabs, styleRetry.Render(" [retry manifest only]"))
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, tabs...)
}

func (m Model) renderFooter() string {
	right := fmt.Sprintf("%d/%d groups, %d records", len(m.visible), len(m.groups), len(m.report.Records))
	if m.statusMsg != "" {
		right = m.statusMsg + "  " + right
	}
	left := m.help.View(m.keys)
	if m.help.ShowAll {
		return styleFooter.Render(left + "\n" + right)
	}
	gap := m.width - lipgloss.Width(left) - lipgloss.Width(right) - 2
	if gap < 1 {
		gap = 1
	}
	return styleFooter.Render(left + strings.Repeat(" ", gap) + right)
}

// Browse runs the ledger browser until the user quits.
func Browse(report *models.RunReport, manifest []models.ScanRef) error {
	_, err := tea.NewProgram(New(report, manifest), tea.WithAltScreen()).Run()
	return err
}
