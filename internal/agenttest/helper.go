// Package agenttest provides test infrastructure for driving the RPC
// and session layers against a fake Cody agent.
package agenttest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"testing"
	"time"

	"github.com/codygo/codygo/internal/agenttest/fakeagent"
)

// Config is an alias for fakeagent.Config for convenience.
type Config = fakeagent.Config

// RPCError is an alias for fakeagent.RPCError for convenience.
type RPCError = fakeagent.RPCError

const (
	helperEnv    = "GO_WANT_HELPER_PROCESS"
	helperCfgEnv = "CODYGO_FAKE_AGENT_CFG"
)

// Pipe wires a fake agent to an in-process client over io.Pipe pairs
// and returns the client's end as a duplex stream. The server goroutine
// exits when the client end closes or the exit notification arrives.
func Pipe(t *testing.T, cfg Config) io.ReadWriteCloser {
	t.Helper()

	serverReader, clientWriter := io.Pipe()
	clientReader, serverWriter := io.Pipe()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = fakeagent.Serve(ctx, serverReader, serverWriter, cfg)
		_ = serverWriter.Close()
	}()

	t.Cleanup(func() {
		cancel()
		_ = clientWriter.Close()
		_ = clientReader.Close()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Error("fake agent did not exit in time")
		}
	})

	return &duplex{reader: clientReader, writer: clientWriter}
}

type duplex struct {
	reader *io.PipeReader
	writer *io.PipeWriter
}

func (d *duplex) Read(p []byte) (int, error)  { return d.reader.Read(p) }
func (d *duplex) Write(p []byte) (int, error) { return d.writer.Write(p) }

func (d *duplex) Close() error {
	_ = d.writer.Close()
	return d.reader.Close()
}

// HelperCommand returns the binary path, arguments and extra
// environment that spawn this test binary as a fake agent subprocess.
// The caller feeds these to the transport layer so spawned-process
// paths get exercised for real.
func HelperCommand(t *testing.T, cfg Config) (bin string, args []string, env map[string]string) {
	t.Helper()

	cfgJSON, err := json.Marshal(cfg)
	if err != nil {
		t.Fatalf("marshal fake agent config: %v", err)
	}
	return os.Args[0], []string{"-test.run=TestHelperProcess", "--"}, map[string]string{
		helperEnv:    "1",
		helperCfgEnv: string(cfgJSON),
	}
}

// StartProcess spawns the fake agent subprocess directly and returns
// its stdio pipes. The stop function is registered as a t.Cleanup.
func StartProcess(t *testing.T, cfg Config) (stdin io.WriteCloser, stdout io.ReadCloser, stop func()) {
	t.Helper()

	bin, args, env := HelperCommand(t, cfg)
	cmd := exec.Command(bin, args...)
	cmd.Env = os.Environ()
	for k, v := range env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		t.Fatalf("stdin pipe: %v", err)
	}
	stdout, err = cmd.StdoutPipe()
	if err != nil {
		t.Fatalf("stdout pipe: %v", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		t.Fatalf("stderr pipe: %v", err)
	}
	if err := cmd.Start(); err != nil {
		t.Fatalf("start fake agent: %v", err)
	}
	go io.Copy(io.Discard, stderr)

	stop = func() {
		_ = stdin.Close()
		done := make(chan error, 1)
		go func() { done <- cmd.Wait() }()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			_ = cmd.Process.Kill()
			<-done
		}
	}
	t.Cleanup(stop)
	return stdin, stdout, stop
}

// RunHelperProcess implements the fake agent when the test binary is
// re-executed. Packages using HelperCommand or StartProcess must
// declare:
//
//	func TestHelperProcess(t *testing.T) {
//	    agenttest.RunHelperProcess(t)
//	}
func RunHelperProcess(t *testing.T) {
	if os.Getenv(helperEnv) != "1" {
		return
	}

	cfgJSON := os.Getenv(helperCfgEnv)
	if cfgJSON == "" {
		os.Exit(2)
	}
	var cfg fakeagent.Config
	if err := json.Unmarshal([]byte(cfgJSON), &cfg); err != nil {
		os.Exit(2)
	}
	for _, line := range cfg.StderrLines {
		fmt.Fprintln(os.Stderr, line)
	}
	if err := fakeagent.Serve(context.Background(), os.Stdin, os.Stdout, cfg); err != nil {
		os.Exit(1)
	}
	os.Exit(0)
}
