package agent

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/codygo/codygo/internal/agenttest"
	"github.com/codygo/codygo/internal/events"
	"github.com/codygo/codygo/internal/testutil"
	"github.com/codygo/codygo/internal/transport"
)

func TestHelperProcess(t *testing.T) {
	agenttest.RunHelperProcess(t)
}

// connectFake points the session layer at a re-exec of this test
// binary and runs Connect against a real spawned process.
func connectFake(t *testing.T, cfg agenttest.Config, opts Options) *Session {
	t.Helper()

	bin, args, env := agenttest.HelperCommand(t, cfg)
	t.Setenv(transport.CommandOverrideEnv, bin+" "+strings.Join(args, " "))
	for k, v := range env {
		t.Setenv(k, v)
	}

	opts.AccessToken = "sgp_test"
	opts.ServerEndpoint = "https://sourcegraph.example.com"
	s, err := Connect(context.Background(), opts)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestEndToEndStdioSession(t *testing.T) {
	bus := events.NewBus()
	t.Cleanup(bus.Close)

	collector := testutil.NewEventCollector()
	bus.Subscribe(collector.Handler)

	s := connectFake(t, agenttest.DefaultConfig(), Options{Bus: bus})

	info := s.ServerInfo()
	if info == nil || !info.Authenticated {
		t.Fatalf("ServerInfo = %+v, want authenticated", info)
	}
	if !s.Handle().IsRunning() {
		t.Fatal("agent process not running after Connect")
	}

	ctx := context.Background()
	chatID, err := s.NewChat(ctx)
	if err != nil {
		t.Fatalf("NewChat: %v", err)
	}
	if chatID == "" {
		t.Fatal("empty chat id")
	}

	reply, err := s.SubmitMessage(ctx, chatID, "hello agent", nil)
	if err != nil {
		t.Fatalf("SubmitMessage: %v", err)
	}
	if reply.Text == "" {
		t.Fatal("empty reply")
	}

	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	select {
	case <-s.Handle().Done():
	case <-time.After(10 * time.Second):
		t.Fatal("agent process still alive after Close")
	}
	if s.Handle().IsRunning() {
		t.Fatal("IsRunning after Close")
	}

	// Second Close is a no-op.
	if err := s.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}

	// Lifecycle events were published in order.
	if !collector.WaitForState(events.StateClosed, 2*time.Second) {
		t.Fatalf("closed state never arrived, saw %v", collector.States())
	}
	want := []events.ConnState{
		events.StateSpawning,
		events.StateInitializing,
		events.StateReady,
		events.StateClosing,
		events.StateClosed,
	}
	if got := collector.States(); !testutil.StatesContainSequence(got, want) {
		t.Fatalf("lifecycle states %v, want sequence %v", got, want)
	}
}

func TestConnectUnauthenticatedTearsDown(t *testing.T) {
	bin, args, env := agenttest.HelperCommand(t, agenttest.UnauthenticatedConfig())
	t.Setenv(transport.CommandOverrideEnv, bin+" "+strings.Join(args, " "))
	for k, v := range env {
		t.Setenv(k, v)
	}

	_, err := Connect(context.Background(), Options{
		AccessToken:    "sgp_bad",
		ServerEndpoint: "https://sourcegraph.example.com",
	})
	if err == nil {
		t.Fatal("Connect succeeded against an unauthenticated agent")
	}
	var authErr *AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("error %T is not an *AuthError: %v", err, err)
	}
}

func TestConnectMissingBinary(t *testing.T) {
	_, err := Connect(context.Background(), Options{
		BinaryPath:     "/nonexistent/cody-agent",
		AccessToken:    "sgp_test",
		ServerEndpoint: "https://sourcegraph.example.com",
	})
	if err == nil {
		t.Fatal("Connect succeeded with a missing binary")
	}
}
