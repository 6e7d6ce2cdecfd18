package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"sqlbridge/internal/events"
)

// Styles groups the dashboard's lipgloss styles.
type Styles struct {
	Header  lipgloss.Style
	RunID   lipgloss.Style
	Loading lipgloss.Style
	Success lipgloss.Style
	Error   lipgloss.Style
	LogWarn lipgloss.Style
	LogErr  lipgloss.Style
	Muted   lipgloss.Style
	Footer  lipgloss.Style
}

// DefaultStyles returns the dashboard color scheme.
func DefaultStyles() Styles {
	return Styles{
		Header:  lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#8BC34A")),
		RunID:   lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#2196F3")),
		Loading: lipgloss.NewStyle().Foreground(lipgloss.Color("#FFC107")),
		Success: lipgloss.NewStyle().Foreground(lipgloss.Color("#8BC34A")),
		Error:   lipgloss.NewStyle().Foreground(lipgloss.Color("#e53935")),
		LogWarn: lipgloss.NewStyle().Foreground(lipgloss.Color("#FFC107")),
		LogErr:  lipgloss.NewStyle().Foreground(lipgloss.Color("#e53935")),
		Muted:   lipgloss.NewStyle().Foreground(lipgloss.Color("#7a8699")),
		Footer:  lipgloss.NewStyle().Foreground(lipgloss.Color("#7a8699")).Italic(true),
	}
}

// stepState is the latest status seen for one step of one run.
type stepState struct {
	step    string
	status  events.StepStatus
	attempt int
}

// runView accumulates the steps and log lines of one run.
type runView struct {
	runID string
	steps []stepState
	done  bool
}

// eventMsg wraps a stream event for the update loop.
type eventMsg events.Event

// streamClosedMsg reports the stream goroutine's exit.
type streamClosedMsg struct{ err error }

// TailModel is the bubbletea model for the live event dashboard.
type TailModel struct {
	client *StreamClient
	cancel context.CancelFunc
	evCh   <-chan events.Event
	errCh  <-chan error

	spinner  spinner.Model
	viewport viewport.Model
	styles   Styles

	runs     []*runView
	logLines []string
	maxLogs  int

	width     int
	height    int
	connected bool
	err       error
	quitting  bool
}

// NewTailModel builds a dashboard following baseURL's event stream,
// optionally narrowed to one run.
func NewTailModel(baseURL, runID string) *TailModel {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	return &TailModel{
		client:   NewStreamClient(baseURL, runID),
		spinner:  sp,
		viewport: viewport.New(80, 20),
		styles:   DefaultStyles(),
		maxLogs:  200,
	}
}

// Init connects the stream and starts the spinner.
func (m *TailModel) Init() tea.Cmd {
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.evCh, m.errCh = m.client.Stream(ctx)
	return tea.Batch(m.spinner.Tick, m.waitForEvent())
}

// waitForEvent delivers the next stream event as a message.
func (m *TailModel) waitForEvent() tea.Cmd {
	return func() tea.Msg {
		evt, ok := <-m.evCh
		if !ok {
			return streamClosedMsg{err: <-m.errCh}
		}
		return eventMsg(evt)
	}
}

// Update handles one message.
func (m *TailModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			m.quitting = true
			if m.cancel != nil {
				m.cancel()
			}
			return m, tea.Quit
		}
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		return m, cmd

	case tea.WindowSizeMsg:
		m.SetSize(msg.Width, msg.Height)
		return m, nil

	case eventMsg:
		m.connected = true
		m.apply(events.Event(msg))
		m.updateContent()
		return m, m.waitForEvent()

	case streamClosedMsg:
		m.err = msg.err
		if m.quitting {
			return m, nil
		}
		return m, tea.Quit

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	return m, cmd
}

// SetSize resizes the dashboard.
func (m *TailModel) SetSize(w, h int) {
	m.width = w
	m.height = h
	m.viewport.Width = w
	m.viewport.Height = h - 4 // header and footer rows
	m.updateContent()
}

// apply folds one event into the run and log views.
func (m *TailModel) apply(evt events.Event) {
	switch evt.Type {
	case events.TypeStatus:
		rv := m.run(evt.RunID)
		if evt.Status == events.StatusCompleted {
			rv.done = true
		}
		for i := range rv.steps {
			if rv.steps[i].step == evt.Step {
				rv.steps[i].status = evt.Status
				rv.steps[i].attempt = evt.Attempt
				return
			}
		}
		rv.steps = append(rv.steps, stepState{step: evt.Step, status: evt.Status, attempt: evt.Attempt})

	case events.TypeLog:
		ts := evt.Timestamp
		if ts.IsZero() {
			ts = time.Now()
		}
		line := fmt.Sprintf("%s %s [%s] %s",
			m.styles.Muted.Render(ts.Format("15:04:05")),
			m.renderLevel(evt.Level), shortID(evt.RunID), evt.Message)
		m.logLines = append(m.logLines, line)
		if len(m.logLines) > m.maxLogs {
			m.logLines = m.logLines[len(m.logLines)-m.maxLogs:]
		}
	}
}

func (m *TailModel) run(runID string) *runView {
	for _, rv := range m.runs {
		if rv.runID == runID {
			return rv
		}
	}
	rv := &runView{runID: runID}
	m.runs = append(m.runs, rv)
	return rv
}

func (m *TailModel) renderLevel(level string) string {
	switch level {
	case "warning", "warn":
		return m.styles.LogWarn.Render("WARN ")
	case "error":
		return m.styles.LogErr.Render("ERROR")
	default:
		return m.styles.Muted.Render("INFO ")
	}
}

func (m *TailModel) renderStep(s stepState) string {
	label := s.step
	if s.attempt > 0 {
		label = fmt.Sprintf("%s#%d", s.step, s.attempt)
	}
	switch s.status {
	case events.StatusSuccess, events.StatusCompleted:
		return m.styles.Success.Render("✓ " + label)
	case events.StatusError:
		return m.styles.Error.Render("✗ " + label)
	default:
		return m.styles.Loading.Render(m.spinner.View() + label)
	}
}

// updateContent rebuilds the viewport from the accumulated state.
func (m *TailModel) updateContent() {
	var sb strings.Builder
	for _, rv := range m.runs {
		steps := make([]string, 0, len(rv.steps))
		for _, s := range rv.steps {
			steps = append(steps, m.renderStep(s))
		}
		sb.WriteString(m.styles.RunID.Render(rv.runID))
		sb.WriteString("  ")
		sb.WriteString(strings.Join(steps, m.styles.Muted.Render(" → ")))
		sb.WriteString("\n")
	}
	if len(m.runs) > 0 {
		sb.WriteString("\n")
	}
	for _, line := range m.logLines {
		sb.WriteString(line)
		sb.WriteString("\n")
	}
	atBottom := m.viewport.AtBottom()
	m.viewport.SetContent(sb.String())
	if atBottom {
		m.viewport.GotoBottom()
	}
}

// View renders the dashboard.
func (m *TailModel) View() string {
	if m.quitting {
		return ""
	}

	header := m.styles.Header.Render("sqlbridge event stream")
	if !m.connected {
		header += "  " + m.styles.Loading.Render(m.spinner.View()+"connecting...")
	}
	if m.err != nil {
		header += "  " + m.styles.Error.Render(m.err.Error())
	}

	footer := m.styles.Footer.Render("q: quit  ↑/↓: scroll")
	return header + "\n\n" + m.viewport.View() + "\n" + footer
}

func shortID(runID string) string {
	return strings.TrimPrefix(runID, "run_")
}
