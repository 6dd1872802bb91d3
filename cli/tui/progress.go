package tui

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/AlibekovAA/NATS/transfer"
	"github.com/AlibekovAA/NATS/types"
)

type phaseMsg struct {
	phase transfer.Phase
	total int
}

type ackMsg struct {
	acked int
	total int
}

type doneMsg struct {
	summary Summary
}

// keyMap defines key bindings.
type keyMap struct {
	Quit key.Binding
}

var keys = keyMap{
	Quit: key.NewBinding(
		key.WithKeys("q", "ctrl+c"),
		key.WithHelp("q", "cancel"),
	),
}

// ProgressModel is a Bubble Tea model for one running session.
type ProgressModel struct {
	label    string
	phase    transfer.Phase
	acked    int
	total    int
	spinner  spinner.Model
	bar      progress.Model
	summary  *Summary
	cancel   func()
	canceled bool
}

// NewProgressModel creates a progress model. cancel is called when the
// user presses the quit key before the session ends.
func NewProgressModel(label string, cancel func()) ProgressModel {
	return ProgressModel{
		label:   label,
		phase:   transfer.PhaseInitialized,
		spinner: spinner.New(spinner.WithSpinner(spinner.Dot), spinner.WithStyle(activeStyle)),
		bar:     progress.New(progress.WithDefaultGradient(), progress.WithWidth(40)),
		cancel:  cancel,
	}
}

// Init implements tea.Model.
func (m ProgressModel) Init() tea.Cmd {
	return m.spinner.Tick
}

// Update implements tea.Model.
func (m ProgressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case phaseMsg:
		m.phase = msg.phase
		if msg.total > 0 {
			m.total = msg.total
		}
		return m, nil

	case ackMsg:
		if msg.acked > m.acked {
			m.acked = msg.acked
		}
		if msg.total > 0 {
			m.total = msg.total
		}
		return m, nil

	case doneMsg:
		m.summary = &msg.summary
		m.phase = transfer.Phase(msg.summary.Phase)
		return m, tea.Quit

	case tea.KeyMsg:
		if key.Matches(msg, keys.Quit) && m.summary == nil && !m.canceled {
			m.canceled = true
			if m.cancel != nil {
				m.cancel()
			}
		}
		return m, nil

	case tea.WindowSizeMsg:
		if w := msg.Width - 4; w > 0 && w < 40 {
			m.bar.Width = w
		}
		return m, nil
	}

	var cmd tea.Cmd
	m.spinner, cmd = m.spinner.Update(msg)
	return m, cmd
}

// Percent returns the acknowledged share of chunks.
func (m ProgressModel) Percent() float64 {
	if m.total == 0 {
		return 0
	}
	return float64(m.acked) / float64(m.total)
}

// View implements tea.Model.
func (m ProgressModel) View() string {
	if m.summary != nil {
		return RenderSummary(*m.summary) + "\n"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s %s %s\n\n", m.spinner.View(), titleStyle.UnsetMarginBottom().Render(m.label), phaseStyle(string(m.phase)).Render(string(m.phase)))
	b.WriteString(m.bar.ViewAs(m.Percent()))
	fmt.Fprintf(&b, "  %d/%d chunks\n", m.acked, m.total)
	if m.canceled {
		b.WriteString(helpStyle.Render("canceling..."))
	} else {
		b.WriteString(helpStyle.Render("Press q or Ctrl+C to cancel"))
	}
	return b.String() + "\n"
}

// Progress runs a ProgressModel and feeds it from a transfer.Observer.
type Progress struct {
	program *tea.Program
	done    chan struct{}
	err     error
}

// StartProgress starts the progress view on out. Keyboard input is read
// from in when it is non-nil.
func StartProgress(out io.Writer, in io.Reader, label string, cancel func()) *Progress {
	opts := []tea.ProgramOption{tea.WithOutput(out), tea.WithInput(in)}
	if in == nil {
		opts = append(opts, tea.WithoutSignalHandler())
	}
	p := &Progress{
		program: tea.NewProgram(NewProgressModel(label, cancel), opts...),
		done:    make(chan struct{}),
	}
	go func() {
		defer close(p.done)
		_, p.err = p.program.Run()
	}()
	return p
}

// Observer returns a transfer.Observer that drives the view.
func (p *Progress) Observer() transfer.Observer {
	return observer{p.program}
}

// Finish shows the session summary and waits for the view to exit.
func (p *Progress) Finish(s *transfer.Session, result *types.AnalysisResult) error {
	if s != nil {
		p.program.Send(doneMsg{summary: NewSummary(s, result)})
	} else {
		p.program.Quit()
	}
	<-p.done
	return p.err
}

type observer struct {
	program *tea.Program
}

func (o observer) PhaseChanged(s *transfer.Session, phase transfer.Phase) {
	o.program.Send(phaseMsg{phase: phase, total: s.TotalChunks})
}

func (o observer) ChunkAcked(s *transfer.Session, _ int, acked int) {
	o.program.Send(ackMsg{acked: acked, total: s.TotalChunks})
}
