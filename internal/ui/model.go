// Package ui implements the UI collaborator as a minimal terminal
// renderer: it subscribes to the Turn Executor's types.EventStream and
// renders WILL_SPEAK/RESPONSE_CHUNK/TOOL_* events live, resolving
// TOOL_PERMISSION_REQUEST by prompting the person at the keyboard.
package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"orchestra/internal/types"
)

// SubmitFunc is called with the text the user typed and pressed enter
// on; it's expected to kick off a new turn on the caller's side (the
// model doesn't call the Turn Executor directly).
type SubmitFunc func(text string)

// Model is the bubbletea model driving the chat transcript.
type Model struct {
	viewport viewport.Model
	input    textinput.Model
	spinner  spinner.Model
	styles   Styles

	events types.EventStream
	submit SubmitFunc

	lines    []string
	pending  *types.Event // non-nil while awaiting a permission reply
	width    int
	height   int
	ready    bool
	quitting bool
}

type eventMsg types.Event
type streamClosedMsg struct{}

// New constructs a Model that renders events and forwards submitted
// text to submit.
func New(events types.EventStream, submit SubmitFunc) Model {
	ti := textinput.New()
	ti.Placeholder = "message the group..."
	ti.Focus()
	ti.CharLimit = 4000

	sp := spinner.New()
	sp.Spinner = spinner.Dot

	return Model{
		input:   ti,
		spinner: sp,
		styles:  DefaultStyles(),
		events:  events,
		submit:  submit,
	}
}

func waitForEvent(events types.EventStream) tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-events
		if !ok {
			return streamClosedMsg{}
		}
		return eventMsg(ev)
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, waitForEvent(m.events), textinput.Blink)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		headerHeight := 1
		footerHeight := 2
		vpHeight := msg.Height - headerHeight - footerHeight
		if vpHeight < 1 {
			vpHeight = 1
		}
		if !m.ready {
			m.viewport = viewport.New(msg.Width, vpHeight)
			m.ready = true
		} else {
			m.viewport.Width = msg.Width
			m.viewport.Height = vpHeight
		}
		m.input.Width = msg.Width - 2
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case eventMsg:
		m.appendEvent(types.Event(msg))
		if msg.Type == types.EventToolPermissionRequest {
			ev := types.Event(msg)
			m.pending = &ev
			return m, nil
		}
		return m, waitForEvent(m.events)

	case streamClosedMsg:
		m.quitting = true
		return m, tea.Quit

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.pending != nil {
		switch msg.String() {
		case "y", "Y":
			m.pending.Reply <- types.PermissionReply{Allow: true, RememberForSession: false}
			m.pending = nil
			return m, waitForEvent(m.events)
		case "a", "A":
			m.pending.Reply <- types.PermissionReply{Allow: true, RememberForSession: true}
			m.pending = nil
			return m, waitForEvent(m.events)
		case "n", "N", "esc":
			m.pending.Reply <- types.PermissionReply{Allow: false}
			m.pending = nil
			return m, waitForEvent(m.events)
		}
		return m, nil
	}

	switch msg.Type {
	case tea.KeyCtrlC:
		m.quitting = true
		return m, tea.Quit
	case tea.KeyEnter:
		text := strings.TrimSpace(m.input.Value())
		if text == "" {
			return m, nil
		}
		m.lines = append(m.lines, m.styles.Participant.Render("you")+": "+text)
		m.viewport.SetContent(strings.Join(m.lines, "\n"))
		m.viewport.GotoBottom()
		m.input.SetValue("")
		if m.submit != nil {
			m.submit(text)
		}
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// appendEvent renders one event as zero or more transcript lines.
func (m *Model) appendEvent(ev types.Event) {
	switch ev.Type {
	case types.EventWillSpeak:
		m.lines = append(m.lines, m.styles.Participant.Render(fmt.Sprintf("%s is speaking (confidence %.2f)", ev.ParticipantID, ev.Confidence)))
	case types.EventWillStaySilent:
		m.lines = append(m.lines, m.styles.Silent.Render(fmt.Sprintf("%s stays silent: %s", ev.ParticipantID, ev.Reason)))
	case types.EventResponseChunk:
		if n := len(m.lines); n > 0 && strings.HasPrefix(m.lines[n-1], ev.ParticipantID+": ") {
			m.lines[n-1] += ev.Text
		} else {
			m.lines = append(m.lines, m.styles.Response.Render(ev.ParticipantID+": ")+ev.Text)
		}
	case types.EventToolCall:
		m.lines = append(m.lines, m.styles.ToolCall.Render(fmt.Sprintf("%s -> %s(%v)", ev.ParticipantID, ev.Invocation.Name, ev.Invocation.Arguments)))
	case types.EventToolPermissionRequest:
		m.lines = append(m.lines, m.styles.Permission.Render(fmt.Sprintf("permission requested: %s wants to run %s [%s] — (y)es once / (a)lways this session / (n)o", ev.ParticipantID, ev.Invocation.Name, ev.Level)))
	case types.EventToolResult:
		if ev.Result.IsError {
			m.lines = append(m.lines, m.styles.ToolError.Render(fmt.Sprintf("tool error: %s", ev.Result.Content)))
		} else {
			m.lines = append(m.lines, m.styles.ToolResult.Render(fmt.Sprintf("tool result: %s", truncate(ev.Result.Content, 500))))
		}
	case types.EventError:
		m.lines = append(m.lines, m.styles.ErrorLine.Render(fmt.Sprintf("error (%s): %s", ev.Kind, ev.Message)))
	case types.EventTurnComplete:
		m.lines = append(m.lines, m.styles.Prompt.Render("— turn complete —"))
	}
	if m.ready {
		m.viewport.SetContent(strings.Join(m.lines, "\n"))
		m.viewport.GotoBottom()
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "...[truncated]"
}

func (m Model) View() string {
	if !m.ready {
		return "initializing..."
	}
	header := m.styles.Header.Render("orchestra")

	var prompt string
	if m.pending != nil {
		prompt = m.styles.Permission.Render("approve? (y/a/n) ")
	} else {
		prompt = m.input.View()
	}

	return fmt.Sprintf("%s\n%s\n%s", header, m.viewport.View(), prompt)
}

// Run starts the terminal program, rendering events and calling submit
// for each line the user enters, until the event stream closes or the
// user quits.
func Run(events types.EventStream, submit SubmitFunc) error {
	_, err := tea.NewProgram(New(events, submit), tea.WithAltScreen()).Run()
	return err
}
