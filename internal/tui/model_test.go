package tui

import (
	"context"
	"fmt"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/codygo/codygo/internal/agent"
	"github.com/codygo/codygo/internal/events"
	"github.com/codygo/codygo/internal/testutil"
)

// fakeSession is an in-memory ChatSession for driving the UI.
type fakeSession struct {
	chats     int
	submitted []string
	reply     *agent.ChatReply
	err       error
}

func (f *fakeSession) NewChat(ctx context.Context) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.chats++
	return fmt.Sprintf("chat-%d", f.chats), nil
}

func (f *fakeSession) SubmitMessage(ctx context.Context, chatID, text string, opts *agent.SubmitOptions) (*agent.ChatReply, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.submitted = append(f.submitted, text)
	if f.reply != nil {
		return f.reply, nil
	}
	return &agent.ChatReply{Text: "reply to " + text}, nil
}

func sized(t *testing.T, m Model) Model {
	t.Helper()
	updated, _ := m.Update(tea.WindowSizeMsg{Width: 80, Height: 24})
	return updated.(Model)
}

func TestModel_InitialView(t *testing.T) {
	m := NewModel(&fakeSession{}, nil)

	if view := m.View(); !strings.Contains(view, "starting") {
		t.Errorf("pre-size view %q", view)
	}

	m = sized(t, m)
	view := testutil.StripANSI(m.View())
	if !strings.Contains(view, "codygo") {
		t.Errorf("view missing title:\n%s", view)
	}
	if !strings.Contains(view, "No messages yet") {
		t.Errorf("view missing empty transcript hint:\n%s", view)
	}
}

func TestModel_ChatOpened(t *testing.T) {
	m := sized(t, NewModel(&fakeSession{}, nil))

	updated, _ := m.Update(chatOpenedMsg{chatID: "chat-1"})
	m = updated.(Model)

	if m.chatID != "chat-1" {
		t.Errorf("chat id %q", m.chatID)
	}
	if m.status != "ready" {
		t.Errorf("status %q", m.status)
	}
}

func TestModel_SubmitFlow(t *testing.T) {
	session := &fakeSession{}
	m := sized(t, NewModel(session, nil))

	updated, _ := m.Update(chatOpenedMsg{chatID: "chat-1"})
	m = updated.(Model)

	m.textarea.SetValue("hello cody")
	updated, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	m = updated.(Model)

	if !m.waiting {
		t.Fatal("not waiting after submit")
	}
	if cmd == nil {
		t.Fatal("no command issued on submit")
	}
	view := testutil.StripANSI(m.View())
	if !strings.Contains(view, "hello cody") {
		t.Errorf("transcript missing submitted text:\n%s", view)
	}

	updated, _ = m.Update(replyMsg{reply: &agent.ChatReply{
		Text: "the answer",
		ContextFiles: []agent.ContextFile{
			{Path: "/src/main.go", StartLine: 1, EndLine: 5},
		},
	}})
	m = updated.(Model)

	if m.waiting {
		t.Fatal("still waiting after reply")
	}
	view = testutil.StripANSI(m.View())
	if !strings.Contains(view, "the answer") {
		t.Errorf("transcript missing reply:\n%s", view)
	}
	if !strings.Contains(view, "/src/main.go:1-5") {
		t.Errorf("transcript missing context file:\n%s", view)
	}
}

func TestModel_SubmitRequiresOpenChat(t *testing.T) {
	m := sized(t, NewModel(&fakeSession{}, nil))

	m.textarea.SetValue("too early")
	updated, _ := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	m = updated.(Model)

	if m.waiting {
		t.Error("submitted before a chat was open")
	}
}

func TestModel_ReplyError(t *testing.T) {
	m := sized(t, NewModel(&fakeSession{}, nil))
	updated, _ := m.Update(chatOpenedMsg{chatID: "chat-1"})
	m = updated.(Model)

	updated, _ = m.Update(replyMsg{err: fmt.Errorf("agent exploded")})
	m = updated.(Model)

	view := testutil.StripANSI(m.View())
	if !strings.Contains(view, "agent exploded") {
		t.Errorf("view missing error:\n%s", view)
	}
}

func TestModel_BusEvents(t *testing.T) {
	bus := events.NewBus()
	t.Cleanup(bus.Close)
	m := sized(t, NewModel(&fakeSession{}, bus))

	updated, _ := m.Update(busEventMsg{event: events.NewChatProgressEvent("chat-1", "typing...", true)})
	m = updated.(Model)
	view := testutil.StripANSI(m.View())
	if !strings.Contains(view, "typing...") {
		t.Errorf("view missing streamed partial:\n%s", view)
	}

	updated, _ = m.Update(busEventMsg{event: events.NewAgentLogEvent("agent stderr line")})
	m = updated.(Model)
	updated, _ = m.Update(tea.KeyMsg{Type: tea.KeyCtrlL})
	m = updated.(Model)
	view = testutil.StripANSI(m.View())
	if !strings.Contains(view, "Agent Logs") || !strings.Contains(view, "agent stderr line") {
		t.Errorf("log pane missing content:\n%s", view)
	}
}

func TestModel_QuitKeys(t *testing.T) {
	m := sized(t, NewModel(&fakeSession{}, nil))

	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyCtrlC})
	if cmd == nil {
		t.Fatal("ctrl+c produced no command")
	}
	if msg := cmd(); msg != (tea.QuitMsg{}) {
		t.Errorf("ctrl+c produced %T, want tea.QuitMsg", msg)
	}
}
