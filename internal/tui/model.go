// Package tui implements the interactive chat interface.
package tui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/codygo/codygo/internal/agent"
	"github.com/codygo/codygo/internal/events"
	"github.com/codygo/codygo/internal/tui/theme"
)

// ChatSession is the slice of the session layer the chat UI drives.
type ChatSession interface {
	NewChat(ctx context.Context) (string, error)
	SubmitMessage(ctx context.Context, chatID, text string, opts *agent.SubmitOptions) (*agent.ChatReply, error)
}

// entry is one rendered transcript line pair.
type entry struct {
	speaker      string
	text         string
	contextFiles []agent.ContextFile
}

// Messages produced by background work.
type (
	chatOpenedMsg struct {
		chatID string
		err    error
	}
	replyMsg struct {
		reply *agent.ChatReply
		err   error
	}
	busEventMsg struct {
		event events.Event
	}
)

const maxLogLines = 200

// Model is the Bubble Tea model for the chat UI.
type Model struct {
	session ChatSession
	bus     *events.Bus
	busCh   <-chan events.Event

	keys  KeyBindings
	theme theme.Theme

	viewport viewport.Model
	textarea textarea.Model
	spinner  spinner.Model

	width  int
	height int
	ready  bool

	chatID   string
	entries  []entry
	partial  string
	waiting  bool
	showLogs bool
	logs     []string
	status   string
	errText  string
}

// NewModel creates the chat UI model. The bus may be nil.
func NewModel(session ChatSession, bus *events.Bus) Model {
	ta := textarea.New()
	ta.Placeholder = "Ask Cody..."
	ta.Prompt = "┃ "
	ta.CharLimit = 0
	ta.SetHeight(3)
	ta.ShowLineNumbers = false
	ta.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Dot

	m := Model{
		session:  session,
		bus:      bus,
		keys:     NewKeyBindings(),
		theme:    theme.New(),
		textarea: ta,
		spinner:  sp,
		status:   "connecting",
	}
	if bus != nil {
		m.busCh = bus.Channel()
	}
	return m
}

func (m Model) Init() tea.Cmd {
	cmds := []tea.Cmd{textarea.Blink, m.openChat()}
	if m.busCh != nil {
		cmds = append(cmds, m.listenBus())
	}
	return tea.Batch(cmds...)
}

func (m Model) openChat() tea.Cmd {
	session := m.session
	return func() tea.Msg {
		chatID, err := session.NewChat(context.Background())
		return chatOpenedMsg{chatID: chatID, err: err}
	}
}

func (m Model) submit(text string) tea.Cmd {
	session, chatID := m.session, m.chatID
	return func() tea.Msg {
		reply, err := session.SubmitMessage(context.Background(), chatID, text, nil)
		return replyMsg{reply: reply, err: err}
	}
}

func (m Model) listenBus() tea.Cmd {
	ch := m.busCh
	return func() tea.Msg {
		e, ok := <-ch
		if !ok {
			return nil
		}
		return busEventMsg{event: e}
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.layout()
		m.ready = true

	case chatOpenedMsg:
		if msg.err != nil {
			m.errText = fmt.Sprintf("open chat: %v", msg.err)
			m.status = "error"
		} else {
			m.chatID = msg.chatID
			m.status = "ready"
		}

	case replyMsg:
		m.waiting = false
		m.partial = ""
		if msg.err != nil {
			m.errText = msg.err.Error()
		} else {
			m.entries = append(m.entries, entry{
				speaker:      agent.SpeakerAssistant,
				text:         msg.reply.Text,
				contextFiles: msg.reply.ContextFiles,
			})
		}
		m.refreshViewport()

	case busEventMsg:
		m.applyEvent(msg.event)
		cmds = append(cmds, m.listenBus())

	case spinner.TickMsg:
		if m.waiting {
			var cmd tea.Cmd
			m.spinner, cmd = m.spinner.Update(msg)
			cmds = append(cmds, cmd)
		}

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.CtrlC), key.Matches(msg, m.keys.Quit):
			return m, tea.Quit
		case key.Matches(msg, m.keys.Submit):
			text := strings.TrimSpace(m.textarea.Value())
			if text != "" && !m.waiting && m.chatID != "" {
				m.entries = append(m.entries, entry{speaker: agent.SpeakerHuman, text: text})
				m.textarea.Reset()
				m.waiting = true
				m.errText = ""
				m.refreshViewport()
				cmds = append(cmds, m.submit(text), m.spinner.Tick)
			}
		case key.Matches(msg, m.keys.NewChat):
			if !m.waiting {
				m.entries = nil
				m.partial = ""
				m.errText = ""
				m.refreshViewport()
				cmds = append(cmds, m.openChat())
			}
		case key.Matches(msg, m.keys.ToggleLogs):
			m.showLogs = !m.showLogs
			m.layout()
			m.refreshViewport()
		case key.Matches(msg, m.keys.PageUp), key.Matches(msg, m.keys.PageDown):
			var cmd tea.Cmd
			m.viewport, cmd = m.viewport.Update(msg)
			cmds = append(cmds, cmd)
		default:
			var cmd tea.Cmd
			m.textarea, cmd = m.textarea.Update(msg)
			cmds = append(cmds, cmd)
		}

	default:
		var cmd tea.Cmd
		m.textarea, cmd = m.textarea.Update(msg)
		cmds = append(cmds, cmd)
	}

	return m, tea.Batch(cmds...)
}

func (m *Model) applyEvent(e events.Event) {
	switch evt := e.(type) {
	case events.StateChangedEvent:
		m.status = evt.NewState.String()
	case events.ChatProgressEvent:
		if evt.InProgress {
			m.partial = evt.Text
			m.refreshViewport()
		}
	case events.AgentLogEvent:
		m.logs = append(m.logs, evt.Line)
		if len(m.logs) > maxLogLines {
			m.logs = m.logs[len(m.logs)-maxLogLines:]
		}
		if m.showLogs {
			m.refreshViewport()
		}
	case events.DebugMessageEvent:
		m.logs = append(m.logs, fmt.Sprintf("[%s] %s", evt.Channel, evt.Message))
		if len(m.logs) > maxLogLines {
			m.logs = m.logs[len(m.logs)-maxLogLines:]
		}
		if m.showLogs {
			m.refreshViewport()
		}
	case events.ErrorEvent:
		m.errText = evt.Message
		m.status = "failed"
	}
}

func (m *Model) layout() {
	if m.width == 0 {
		return
	}
	m.textarea.SetWidth(m.width - 4)
	// Header, textarea, status bar and pane borders.
	vpHeight := m.height - m.textarea.Height() - 6
	if vpHeight < 3 {
		vpHeight = 3
	}
	if !m.ready {
		m.viewport = viewport.New(m.width-4, vpHeight)
	} else {
		m.viewport.Width = m.width - 4
		m.viewport.Height = vpHeight
	}
	m.refreshViewport()
}

func (m *Model) refreshViewport() {
	if m.width == 0 {
		return
	}
	if m.showLogs {
		m.viewport.SetContent(strings.Join(m.logs, "\n"))
	} else {
		m.viewport.SetContent(m.renderTranscript())
	}
	m.viewport.GotoBottom()
}

func (m *Model) renderTranscript() string {
	var b strings.Builder
	for i, e := range m.entries {
		if i > 0 {
			b.WriteString("\n\n")
		}
		if e.speaker == agent.SpeakerHuman {
			b.WriteString(m.theme.Human.Render("You"))
		} else {
			b.WriteString(m.theme.Assistant.Render("Cody"))
		}
		b.WriteString("\n")
		b.WriteString(e.text)
		for _, cf := range e.contextFiles {
			b.WriteString("\n")
			b.WriteString(m.theme.Context.Render("  ↳ " + cf.String()))
		}
	}
	if m.partial != "" {
		if len(m.entries) > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(m.theme.Assistant.Render("Cody"))
		b.WriteString("\n")
		b.WriteString(m.theme.Muted.Render(m.partial))
	}
	if b.Len() == 0 {
		return m.theme.Faint.Render("No messages yet. Type below and press enter.")
	}
	return b.String()
}

func (m Model) View() string {
	if !m.ready {
		return "starting..."
	}

	title := m.theme.Title.Render("codygo")
	state := m.theme.Muted.Render(m.status)
	if m.waiting {
		state = m.spinner.View() + " " + m.theme.Muted.Render("thinking")
	}
	header := lipgloss.JoinHorizontal(lipgloss.Center, title, "  ", state)

	paneTitle := "Chat"
	if m.showLogs {
		paneTitle = "Agent Logs"
	}
	pane := m.theme.RenderPane(paneTitle, m.viewport.View(), m.width-2, !m.showLogs)

	statusLine := "enter send · ctrl+n new chat · ctrl+l logs · esc quit"
	if m.errText != "" {
		statusLine = m.theme.Danger.Render(m.errText)
	}
	statusBar := m.theme.StatusBar.Render(statusLine)

	return m.theme.App.Render(
		header + "\n" + pane + "\n" + m.textarea.View() + "\n" + statusBar,
	)
}
