package agent

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/codygo/codygo/internal/agenttest"
	"github.com/codygo/codygo/internal/events"
	"github.com/codygo/codygo/internal/rpc"
)

func newTestClient(t *testing.T, cfg agenttest.Config, bus *events.Bus) *Client {
	t.Helper()
	stream := agenttest.Pipe(t, cfg)
	conn := rpc.NewConn(stream, 5*time.Second)
	t.Cleanup(func() { conn.Close() })
	return NewClient(conn, bus)
}

func initTestClient(t *testing.T, cfg agenttest.Config, bus *events.Bus) *Client {
	t.Helper()
	client := newTestClient(t, cfg, bus)
	if _, err := client.Initialize(context.Background(), testClientInfo()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	return client
}

func testClientInfo() ClientInfo {
	return ClientInfo{
		Name:             "codygo-test",
		Version:          "0.0.0",
		WorkspaceRootURI: "/workspace",
		ExtensionConfiguration: ExtensionConfiguration{
			AccessToken:    "sgp_test",
			ServerEndpoint: "https://sourcegraph.example.com",
		},
		Capabilities: DefaultCapabilities(),
	}
}

func TestInitialize(t *testing.T) {
	client := newTestClient(t, agenttest.DefaultConfig(), nil)

	info, err := client.Initialize(context.Background(), testClientInfo())
	if err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if info.Name != "fake-cody-agent" {
		t.Errorf("server name %q, want %q", info.Name, "fake-cody-agent")
	}
	if !info.Authenticated {
		t.Error("server reported unauthenticated")
	}
	if got := client.ServerInfo(); got == nil || got.Name != info.Name {
		t.Errorf("ServerInfo() = %+v, want stored initialize result", got)
	}
}

func TestInitializeUnauthenticated(t *testing.T) {
	client := newTestClient(t, agenttest.UnauthenticatedConfig(), nil)

	_, err := client.Initialize(context.Background(), testClientInfo())
	var authErr *AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("error %T is not an *AuthError: %v", err, err)
	}
	if authErr.Endpoint != "https://sourcegraph.example.com" {
		t.Errorf("AuthError endpoint %q", authErr.Endpoint)
	}

	// The client must stay unusable.
	if _, err := client.NewChat(context.Background()); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("NewChat after failed init = %v, want ErrNotInitialized", err)
	}
}

func TestOperationsRequireInitialize(t *testing.T) {
	client := newTestClient(t, agenttest.DefaultConfig(), nil)
	ctx := context.Background()

	if _, err := client.NewChat(ctx); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("NewChat = %v, want ErrNotInitialized", err)
	}
	if _, err := client.SubmitMessage(ctx, "chat-1", "hi", nil); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("SubmitMessage = %v, want ErrNotInitialized", err)
	}
	if _, err := client.RestoreChat(ctx, nil); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("RestoreChat = %v, want ErrNotInitialized", err)
	}
	if _, err := client.Models(ctx, "chat"); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("Models = %v, want ErrNotInitialized", err)
	}
	if err := client.SetModel(ctx, "chat-1", "anthropic/claude-3-haiku-20240307"); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("SetModel = %v, want ErrNotInitialized", err)
	}
}

func TestDoubleInitialize(t *testing.T) {
	client := initTestClient(t, agenttest.DefaultConfig(), nil)

	if _, err := client.Initialize(context.Background(), testClientInfo()); err == nil {
		t.Fatal("second Initialize succeeded")
	}
}

func TestNewChatAndSubmitMessage(t *testing.T) {
	client := initTestClient(t, agenttest.DefaultConfig(), nil)
	ctx := context.Background()

	chatID, err := client.NewChat(ctx)
	if err != nil {
		t.Fatalf("NewChat: %v", err)
	}
	if chatID == "" {
		t.Fatal("NewChat returned an empty id")
	}

	reply, err := client.SubmitMessage(ctx, chatID, "what does this repo do?", nil)
	if err != nil {
		t.Fatalf("SubmitMessage: %v", err)
	}
	if reply.Text == "" {
		t.Fatal("empty assistant reply")
	}
	if len(reply.ContextFiles) != 0 {
		t.Errorf("unexpected context files %v", reply.ContextFiles)
	}
}

func TestSubmitMessageContextFiles(t *testing.T) {
	cfg := agenttest.DefaultConfig()
	cfg.WithContextFiles = true
	client := initTestClient(t, cfg, nil)
	ctx := context.Background()

	chatID, err := client.NewChat(ctx)
	if err != nil {
		t.Fatalf("NewChat: %v", err)
	}
	reply, err := client.SubmitMessage(ctx, chatID, "where is main?", nil)
	if err != nil {
		t.Fatalf("SubmitMessage: %v", err)
	}

	if len(reply.ContextFiles) != 2 {
		t.Fatalf("got %d context files, want 2", len(reply.ContextFiles))
	}
	first := reply.ContextFiles[0]
	if first.Path != "/workspace/main.go" || first.StartLine != 10 || first.EndLine != 42 {
		t.Errorf("first context file %+v", first)
	}
	if got := first.String(); got != "/workspace/main.go:10-42" {
		t.Errorf("String() = %q", got)
	}
	second := reply.ContextFiles[1]
	if second.Path != "/workspace/README.md" || second.StartLine != 0 || second.EndLine != 0 {
		t.Errorf("second context file %+v", second)
	}
}

func TestRestoreChat(t *testing.T) {
	client := initTestClient(t, agenttest.DefaultConfig(), nil)

	chatID, err := client.RestoreChat(context.Background(), []Message{
		{Speaker: SpeakerHuman, Text: "earlier question"},
		{Speaker: SpeakerAssistant, Text: "earlier answer"},
	})
	if err != nil {
		t.Fatalf("RestoreChat: %v", err)
	}
	if chatID == "" {
		t.Fatal("RestoreChat returned an empty id")
	}
}

func TestModels(t *testing.T) {
	client := initTestClient(t, agenttest.DefaultConfig(), nil)

	models, err := client.Models(context.Background(), "chat")
	if err != nil {
		t.Fatalf("Models: %v", err)
	}
	if len(models) != 2 {
		t.Fatalf("got %d models, want 2", len(models))
	}
	if !models[0].Default {
		t.Error("first model not marked default")
	}
	if models[1].ID != "anthropic/claude-3-haiku-20240307" {
		t.Errorf("second model id %q", models[1].ID)
	}
}

func TestSetModel(t *testing.T) {
	client := initTestClient(t, agenttest.DefaultConfig(), nil)
	ctx := context.Background()

	chatID, err := client.NewChat(ctx)
	if err != nil {
		t.Fatalf("NewChat: %v", err)
	}
	if err := client.SetModel(ctx, chatID, "anthropic/claude-3-haiku-20240307"); err != nil {
		t.Fatalf("SetModel: %v", err)
	}
}

func TestRemoteErrorSurfaces(t *testing.T) {
	cfg := agenttest.DefaultConfig()
	cfg.Errors = map[string]*agenttest.RPCError{
		"chat/new": {Code: -32000, Message: "rate limited"},
	}
	client := initTestClient(t, cfg, nil)

	_, err := client.NewChat(context.Background())
	var rpcErr *rpc.Error
	if !errors.As(err, &rpcErr) {
		t.Fatalf("error %T is not an *rpc.Error: %v", err, err)
	}
	if rpcErr.Code != -32000 || rpcErr.Message != "rate limited" {
		t.Errorf("rpc error %+v", rpcErr)
	}
}

func TestShutdown(t *testing.T) {
	client := initTestClient(t, agenttest.DefaultConfig(), nil)
	ctx := context.Background()

	if err := client.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	if _, err := client.NewChat(ctx); !errors.Is(err, rpc.ErrClosed) {
		t.Errorf("NewChat after Shutdown = %v, want rpc.ErrClosed", err)
	}

	// Second Shutdown is a no-op.
	if err := client.Shutdown(ctx); err != nil {
		t.Fatalf("second Shutdown: %v", err)
	}
}

func TestDebugNotificationPublished(t *testing.T) {
	bus := events.NewBus()
	t.Cleanup(bus.Close)

	received := make(chan events.Event, 8)
	bus.Subscribe(func(e events.Event) {
		if e.Type() == events.EventDebugMessage {
			received <- e
		}
	})

	cfg := agenttest.DefaultConfig()
	cfg.DebugBeforeResponse = true
	initTestClient(t, cfg, bus)

	select {
	case e := <-received:
		dm := e.(events.DebugMessageEvent)
		if dm.Channel != "fake-agent" {
			t.Errorf("debug channel %q", dm.Channel)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no debug/message event published")
	}
}

func TestChatProgressPublished(t *testing.T) {
	bus := events.NewBus()
	t.Cleanup(bus.Close)

	received := make(chan events.ChatProgressEvent, 8)
	bus.Subscribe(func(e events.Event) {
		if pe, ok := e.(events.ChatProgressEvent); ok {
			received <- pe
		}
	})

	cfg := agenttest.DefaultConfig()
	cfg.ProgressBeforeReply = true
	client := initTestClient(t, cfg, bus)
	ctx := context.Background()

	chatID, err := client.NewChat(ctx)
	if err != nil {
		t.Fatalf("NewChat: %v", err)
	}
	if _, err := client.SubmitMessage(ctx, chatID, "hello", nil); err != nil {
		t.Fatalf("SubmitMessage: %v", err)
	}

	select {
	case pe := <-received:
		if pe.ChatID != chatID {
			t.Errorf("progress chat id %q, want %q", pe.ChatID, chatID)
		}
		if !pe.InProgress {
			t.Error("progress event not marked in progress")
		}
		if pe.Text != "typing" {
			t.Errorf("progress text %q", pe.Text)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no chat progress event published")
	}
}

func TestAgentRequestDuringInitialize(t *testing.T) {
	// The agent may send its own request before answering initialize.
	// With no handler registered the engine replies method-not-found
	// and the handshake still completes.
	cfg := agenttest.DefaultConfig()
	cfg.RequestOnInitialize = "webview/create"
	client := newTestClient(t, cfg, nil)

	if _, err := client.Initialize(context.Background(), testClientInfo()); err != nil {
		t.Fatalf("Initialize with agent-originated request: %v", err)
	}
}

func TestSubmitTimeout(t *testing.T) {
	cfg := agenttest.DefaultConfig()
	cfg.NoResponse = map[string]bool{"chat/submitMessage": true}

	stream := agenttest.Pipe(t, cfg)
	conn := rpc.NewConn(stream, 100*time.Millisecond)
	t.Cleanup(func() { conn.Close() })
	client := NewClient(conn, nil)

	ctx := context.Background()
	if _, err := client.Initialize(ctx, testClientInfo()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	chatID, err := client.NewChat(ctx)
	if err != nil {
		t.Fatalf("NewChat: %v", err)
	}

	_, err = client.SubmitMessage(ctx, chatID, "hello?", nil)
	var te *rpc.TimeoutError
	if !errors.As(err, &te) {
		t.Fatalf("error %T is not a *rpc.TimeoutError: %v", err, err)
	}
}
