package tui

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	barprogress "github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/ppiankov/scaggregator/internal/progress"
)

const maxBarWidth = 60

type stageMsg struct {
	stage string
	total int
	at    time.Time
}

type updateMsg struct{ n int }

type contextMsg struct{ fields progress.Fields }

type stageDoneMsg struct{ at time.Time }

type stopMsg struct{}

// ProgressModel renders the live per-stage progress of a run.
type ProgressModel struct {
	bar       barprogress.Model
	stage     string
	total     int
	done      int
	fields    progress.Fields
	started   time.Time
	finished  []string
	status    string
	interrupt func()
	quitting  bool
}

func newProgressModel(interrupt func()) ProgressModel {
	return ProgressModel{
		bar:       barprogress.New(barprogress.WithDefaultGradient(), barprogress.WithWidth(maxBarWidth)),
		interrupt: interrupt,
	}
}

// Init implements tea.Model.
func (m ProgressModel) Init() tea.Cmd {
	return nil
}

// Update implements tea.Model.
func (m ProgressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		w := msg.Width - 4
		if w > maxBarWidth {
			w = maxBarWidth
		}
		if w < 10 {
			w = 10
		}
		m.bar.Width = w
		return m, nil

	case tea.KeyMsg:
		if msg.String() == "ctrl+c" && m.interrupt != nil {
			m.status = "interrupting, finishing outputs..."
			m.interrupt()
		}
		return m, nil

	case stageMsg:
		m.stage = msg.stage
		m.total = msg.total
		m.done = 0
		m.fields = nil
		m.started = msg.at
		return m, nil

	case updateMsg:
		m.done += msg.n
		return m, nil

	case contextMsg:
		m.fields = msg.fields
		return m, nil

	case stageDoneMsg:
		if m.stage != "" {
			m.finished = append(m.finished, fmt.Sprintf("✓ %s: %d/%d in %s",
				m.stage, m.done, m.total, msg.at.Sub(m.started).Round(time.Second)))
		}
		m.stage = ""
		return m, nil

	case stopMsg:
		m.quitting = true
		return m, tea.Quit
	}
	return m, nil
}

// Percent returns the completed fraction of the current stage.
func (m ProgressModel) Percent() float64 {
	if m.total <= 0 {
		return 0
	}
	p := float64(m.done) / float64(m.total)
	if p > 1 {
		p = 1
	}
	return p
}

// View implements tea.Model.
func (m ProgressModel) View() string {
	var b strings.Builder
	for _, line := range m.finished {
		b.WriteString(line)
		b.WriteString("\n")
	}
	if m.stage != "" {
		b.WriteString(styleStage.Render(m.stage))
		b.WriteString(fmt.Sprintf("  %d/%d\n", m.done, m.total))
		b.WriteString(m.bar.ViewAs(m.Percent()))
		b.WriteString("\n")
		if len(m.fields) > 0 {
			b.WriteString(styleContext.Render(m.fields.String()))
			b.WriteString("\n")
		}
	}
	if m.status != "" {
		b.WriteString(styleFooter.Render(m.status))
		b.WriteString("\n")
	}
	return b.String()
}

// Progress is a progress.Observer backed by a running Bubble Tea program.
type Progress struct {
	program *tea.Program
	once    sync.Once
	done    chan struct{}
	err     error
	now     func() time.Time
}

// NewProgress creates the live progress display. interrupt is called when the
// user presses ctrl+c, since the program owns the terminal in raw mode.
func NewProgress(out io.Writer, interrupt func()) *Progress {
	return &Progress{
		program: tea.NewProgram(newProgressModel(interrupt), tea.WithOutput(out)),
		done:    make(chan struct{}),
		now:     time.Now,
	}
}

// Launch starts the program in the background.
func (p *Progress) Launch() {
	go func() {
		_, p.err = p.program.Run()
		close(p.done)
	}()
}

// Stop ends the program and waits for the terminal to be restored.
func (p *Progress) Stop() error {
	p.once.Do(func() {
		p.program.Send(stopMsg{})
		<-p.done
	})
	return p.err
}

func (p *Progress) Start(stage string, total int) {
	p.program.Send(stageMsg{stage: stage, total: total, at: p.now()})
}

func (p *Progress) Update(n int) {
	p.program.Send(updateMsg{n: n})
}

func (p *Progress) SetContext(fields progress.Fields) {
	p.program.Send(contextMsg{fields: fields})
}

func (p *Progress) Done() {
	p.program.Send(stageDoneMsg{at: p.now()})
}

var _ progress.Observer = (*Progress)(nil)
