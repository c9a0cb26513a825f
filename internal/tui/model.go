// Package tui is the interactive terminal interface: a conversation
// viewport over the orchestrator's state, live step display, and an
// input box for follow-up questions.
//
// The model never mutates conversation or step state directly. It
// submits through the orchestrator, receives change events from the
// bus, and re-reads snapshots from the owning components to render.
package tui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"chatbycard/internal/conversation"
	"chatbycard/internal/event"
	"chatbycard/internal/orchestrator"
	"chatbycard/internal/step"
	"chatbycard/internal/util"
)

// eventMsg carries a bus event into the bubbletea loop.
type eventMsg struct {
	evt event.Event
}

// submitDoneMsg reports a finished (or failed) chat turn.
type submitDoneMsg struct {
	err error
}

// Options configure the TUI session.
type Options struct {
	AgentID     string
	AgentName   string
	DocumentIDs []string
}

// Model is the root bubbletea model.
type Model struct {
	orch *orchestrator.Orchestrator
	bus  *event.Bus
	opts Options

	viewport viewport.Model
	input    textarea.Model
	spinner  spinner.Model

	events     chan event.Event
	processing bool
	status     string
	width      int
	height     int
	ready      bool
}

// New creates the TUI model and subscribes it to the event bus.
func New(orch *orchestrator.Orchestrator, bus *event.Bus, opts Options) *Model {
	input := textarea.New()
	input.Placeholder = "Ask a question..."
	input.SetHeight(3)
	input.CharLimit = 0
	input.ShowLineNumbers = false
	input.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Dot

	m := &Model{
		orch:    orch,
		bus:     bus,
		opts:    opts,
		input:   input,
		spinner: sp,
		events:  make(chan event.Event, 64),
	}

	// Forward bus events into the tea loop. The bus dispatches
	// synchronously, so never block: drop when the buffer is full and
	// rely on snapshot re-reads to catch the UI up.
	bus.SubscribeAll(func(evt event.Event) {
		select {
		case m.events <- evt:
		default:
		}
	})
	return m
}

// Init implements tea.Model.
func (m *Model) Init() tea.Cmd {
	return tea.Batch(m.waitForEvent(), m.spinner.Tick)
}

func (m *Model) waitForEvent() tea.Cmd {
	return func() tea.Msg {
		return eventMsg{evt: <-m.events}
	}
}

// Update implements tea.Model.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.layout()
		m.refreshViewport()
		m.ready = true

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			return m, tea.Quit
		case tea.KeyEnter:
			return m, m.submit()
		case tea.KeyCtrlL:
			if !m.processing {
				m.orch.Reset()
				m.status = "conversation cleared"
			}
			return m, nil
		case tea.KeyCtrlR:
			return m, m.retry()
		}

	case eventMsg:
		m.handleEvent(msg.evt)
		cmds = append(cmds, m.waitForEvent())

	case submitDoneMsg:
		m.processing = false
		if msg.err != nil {
			m.status = errorStyle.Render(msg.err.Error())
		} else {
			m.status = ""
		}
		m.refreshViewport()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		cmds = append(cmds, cmd)
	}

	if !m.processing {
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		cmds = append(cmds, cmd)
	}

	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	cmds = append(cmds, cmd)

	return m, tea.Batch(cmds...)
}

// submit sends the typed question through the orchestrator.
func (m *Model) submit() tea.Cmd {
	if m.processing {
		return nil
	}
	question := strings.TrimSpace(m.input.Value())
	if question == "" {
		return nil
	}
	m.input.Reset()
	m.processing = true
	m.status = "thinking..."

	return func() tea.Msg {
		_, err := m.orch.Submit(context.Background(), orchestrator.SubmitRequest{
			AgentID:   m.opts.AgentID,
			AgentName: m.opts.AgentName,
			Documents: orchestrator.DocumentRefs(m.opts.DocumentIDs),
			UserInput: question,
		})
		return submitDoneMsg{err: err}
	}
}

// retry re-executes a failed AI call step, if one is live.
func (m *Model) retry() tea.Cmd {
	if m.processing {
		return nil
	}
	var target string
	for _, s := range m.orch.StepManager().Steps() {
		if s.Status == step.StatusError && s.RetryData != nil {
			target = s.ID
			break
		}
	}
	if target == "" {
		m.status = "nothing to retry"
		return nil
	}
	m.processing = true
	m.status = "retrying..."

	return func() tea.Msg {
		_, err := m.orch.RetryStep(context.Background(), target)
		return submitDoneMsg{err: err}
	}
}

func (m *Model) handleEvent(evt event.Event) {
	switch evt.(type) {
	case event.TurnAppendedEvent, event.TurnUpdatedEvent,
		event.StepsUpdatedEvent, event.ConversationResetEvent:
		m.refreshViewport()
	}
}

func (m *Model) layout() {
	inputHeight := m.input.Height() + inputStyle.GetVerticalFrameSize()
	vpHeight := m.height - inputHeight - 2 // title and status lines
	if vpHeight < 1 {
		vpHeight = 1
	}
	if m.viewport.Width == 0 {
		m.viewport = viewport.New(m.width, vpHeight)
	} else {
		m.viewport.Width = m.width
		m.viewport.Height = vpHeight
	}
	m.input.SetWidth(m.width - inputStyle.GetHorizontalFrameSize())
}

// refreshViewport re-renders the conversation from snapshots.
func (m *Model) refreshViewport() {
	atBottom := m.viewport.AtBottom()
	m.viewport.SetContent(m.renderConversation())
	if atBottom {
		m.viewport.GotoBottom()
	}
}

func (m *Model) renderConversation() string {
	var b strings.Builder
	for _, turn := range m.orch.Conversation().Turns() {
		b.WriteString(renderTurn(turn))
		b.WriteString("\n")
	}
	if live := m.orch.StepManager().Steps(); len(live) > 0 {
		b.WriteString(renderSteps(live))
	}
	return b.String()
}

// renderTurn formats one exchange: the user line, the frozen steps,
// then the response.
func renderTurn(turn conversation.Turn) string {
	var b strings.Builder

	header := "You"
	if turn.Input.Workflow != nil {
		if turn.Input.Workflow.NodeIndex < 0 {
			header = "Workflow"
		} else {
			header = fmt.Sprintf("Workflow · %s", turn.Input.Workflow.NodeName)
		}
	}
	b.WriteString(userStyle.Render(header + ":"))
	b.WriteString(" ")
	b.WriteString(util.TruncateString(util.FirstLine(turn.Input.Content), 120))
	b.WriteString("\n")

	if turn.Input.Agent != nil && turn.Input.Agent.Name != "" {
		b.WriteString(agentStyle.Render("  via " + turn.Input.Agent.Name))
		b.WriteString("\n")
	}

	if len(turn.Response.Steps) > 0 {
		b.WriteString(renderSteps(turn.Response.Steps))
	}

	switch turn.Response.Status {
	case conversation.StatusError:
		b.WriteString(errorStyle.Render(turn.Response.Content))
	case conversation.StatusPending:
		b.WriteString(statusStyle.Render("waiting for response..."))
	default:
		b.WriteString(responseStyle.Render(turn.Response.Content))
	}
	b.WriteString("\n")
	return b.String()
}

func renderSteps(steps []step.Step) string {
	var b strings.Builder
	for _, s := range steps {
		var style lipgloss.Style
		symbol := "·"
		switch s.Status {
		case step.StatusCompleted:
			style, symbol = stepDoneStyle, "✓"
		case step.StatusError:
			style, symbol = stepErrorStyle, "✗"
		case step.StatusProcessing:
			style, symbol = stepPendingStyle, "…"
		default:
			style = stepPendingStyle
		}
		b.WriteString(style.Render(fmt.Sprintf("  %s %s", symbol, s.Content)))
		b.WriteString("\n")
	}
	return b.String()
}

// View implements tea.Model.
func (m *Model) View() string {
	if !m.ready {
		return "loading..."
	}

	title := titleStyle.Render("chatbycard")
	status := m.statusLine()
	input := inputStyle.Render(m.input.View())

	return lipgloss.JoinVertical(lipgloss.Left,
		title,
		m.viewport.View(),
		status,
		input,
	)
}

func (m *Model) statusLine() string {
	if m.processing {
		return statusStyle.Render(m.spinner.View() + " " + m.status)
	}
	if m.status != "" {
		return m.status
	}
	return statusStyle.Render("enter: send · ctrl+r: retry · ctrl+l: clear · esc: quit")
}
