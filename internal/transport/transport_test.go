package transport

import (
	"context"
	"errors"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/codygo/codygo/internal/agenttest"
	"github.com/codygo/codygo/internal/agenttest/fakeagent"
	"github.com/codygo/codygo/internal/rpc"
)

func TestHelperProcess(t *testing.T) {
	agenttest.RunHelperProcess(t)
}

func startFake(t *testing.T, cfg agenttest.Config) *Handle {
	t.Helper()

	bin, args, env := agenttest.HelperCommand(t, cfg)
	h, err := Start(context.Background(), Config{
		BinaryPath: bin,
		Args:       args,
		Env:        env,
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { _ = h.Stop() })
	return h
}

func TestStartSpawnsAgentOverStdio(t *testing.T) {
	h := startFake(t, agenttest.DefaultConfig())

	if h.PID() == 0 {
		t.Fatal("PID is zero after Start")
	}
	if !h.IsRunning() {
		t.Fatal("process not running after Start")
	}

	conn := rpc.NewConn(h.Stream(), 5*time.Second)
	defer conn.Close()

	var chatID string
	if err := conn.Call(context.Background(), "chat/new", nil, &chatID); err != nil {
		t.Fatalf("chat/new over spawned agent: %v", err)
	}
	if chatID != "chat-1" {
		t.Fatalf("chat/new returned %q, want %q", chatID, "chat-1")
	}
}

func TestStartMissingBinary(t *testing.T) {
	_, err := Start(context.Background(), Config{
		BinaryPath: "/nonexistent/cody-agent",
	})
	if err == nil {
		t.Fatal("Start succeeded with a missing binary")
	}
	var te *TransportError
	if !errors.As(err, &te) {
		t.Fatalf("error %T is not a *TransportError: %v", err, err)
	}
}

func TestStartBinaryIsDirectory(t *testing.T) {
	_, err := Start(context.Background(), Config{
		BinaryPath: t.TempDir(),
	})
	if err == nil {
		t.Fatal("Start succeeded with a directory as the binary")
	}
	var te *TransportError
	if !errors.As(err, &te) {
		t.Fatalf("error %T is not a *TransportError: %v", err, err)
	}
}

func TestStopTerminatesProcess(t *testing.T) {
	h := startFake(t, agenttest.DefaultConfig())

	if err := h.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	select {
	case <-h.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("process did not exit after Stop")
	}
	if h.IsRunning() {
		t.Fatal("IsRunning still true after Stop")
	}
	if h.LastExit() == nil {
		t.Fatal("LastExit is nil after the process exited")
	}

	// Idempotent.
	if err := h.Stop(); err != nil {
		t.Fatalf("second Stop: %v", err)
	}
}

func TestDoneClosesWhenAgentExits(t *testing.T) {
	h := startFake(t, agenttest.DefaultConfig())

	conn := rpc.NewConn(h.Stream(), 5*time.Second)
	defer conn.Close()

	// The exit notification makes the fake agent return, ending the
	// process without Stop being involved.
	if err := conn.Notify(context.Background(), "exit", nil); err != nil {
		t.Fatalf("exit notification: %v", err)
	}

	select {
	case <-h.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("Done not closed after the agent exited on its own")
	}
	if exit := h.LastExit(); exit == nil || exit.Code != 0 {
		t.Fatalf("LastExit = %+v, want clean exit", exit)
	}
}

func TestCommandOverrideEnv(t *testing.T) {
	bin, args, env := agenttest.HelperCommand(t, agenttest.DefaultConfig())
	t.Setenv(CommandOverrideEnv, bin+" "+strings.Join(args, " "))

	h, err := Start(context.Background(), Config{Env: env})
	if err != nil {
		t.Fatalf("Start with %s override: %v", CommandOverrideEnv, err)
	}
	t.Cleanup(func() { _ = h.Stop() })

	conn := rpc.NewConn(h.Stream(), 5*time.Second)
	defer conn.Close()

	var chatID string
	if err := conn.Call(context.Background(), "chat/new", nil, &chatID); err != nil {
		t.Fatalf("chat/new via overridden command: %v", err)
	}
}

func TestStartTCP(t *testing.T) {
	ln, err := net.Listen("tcp", "localhost:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	served := make(chan error, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			served <- err
			return
		}
		defer conn.Close()
		served <- fakeagent.Serve(context.Background(), conn, conn, agenttest.DefaultConfig())
	}()

	// The process itself just needs to exist and start; the RPC stream
	// is the TCP socket.
	bin, args, env := agenttest.HelperCommand(t, agenttest.DefaultConfig())
	port := ln.Addr().(*net.TCPAddr).Port
	h, err := Start(context.Background(), Config{
		BinaryPath: bin,
		Args:       args,
		Env:        env,
		UseTCP:     true,
		Host:       "localhost",
		Port:       port,
	})
	if err != nil {
		t.Fatalf("Start over TCP: %v", err)
	}
	t.Cleanup(func() { _ = h.Stop() })

	conn := rpc.NewConn(h.Stream(), 5*time.Second)
	defer conn.Close()

	var chatID string
	if err := conn.Call(context.Background(), "chat/new", nil, &chatID); err != nil {
		t.Fatalf("chat/new over TCP: %v", err)
	}
	if chatID != "chat-1" {
		t.Fatalf("chat/new returned %q, want %q", chatID, "chat-1")
	}

	_ = conn.Close()
	select {
	case err := <-served:
		if err != nil {
			t.Fatalf("fake agent serve: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("fake agent did not finish serving")
	}
}

func TestStderrCaptured(t *testing.T) {
	lines := make(chan string, 16)
	cfg := agenttest.DefaultConfig()
	cfg.StderrLines = []string{"agent booting", "telemetry disabled"}

	bin, args, env := agenttest.HelperCommand(t, cfg)
	h, err := Start(context.Background(), Config{
		BinaryPath: bin,
		Args:       args,
		Env:        env,
		OnStderr:   func(line string) { lines <- line },
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { _ = h.Stop() })

	for _, want := range cfg.StderrLines {
		select {
		case line := <-lines:
			if line != want {
				t.Fatalf("stderr line %q, want %q", line, want)
			}
		case <-time.After(5 * time.Second):
			t.Fatalf("stderr line %q never arrived", want)
		}
	}

	got := h.Logs()
	if len(got) != len(cfg.StderrLines) {
		t.Fatalf("Logs = %v, want %v", got, cfg.StderrLines)
	}
	for i, want := range cfg.StderrLines {
		if got[i] != want {
			t.Fatalf("Logs[%d] = %q, want %q", i, got[i], want)
		}
	}
}
