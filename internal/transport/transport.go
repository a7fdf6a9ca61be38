// Package transport establishes the byte stream to the Cody agent. It
// spawns the agent binary and attaches to its stdio pipes, or, in TCP
// mode, dials the socket the spawned agent listens on.
package transport

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

const (
	// DefaultHost and DefaultPort are where the agent listens in TCP
	// mode.
	DefaultHost = "localhost"
	DefaultPort = 3113

	// GracefulShutdownTimeout is how long Stop waits after SIGTERM
	// before resorting to SIGKILL.
	GracefulShutdownTimeout = 5 * time.Second

	dialAttempts   = 5
	dialRetryDelay = time.Second
)

// CommandOverrideEnv names the environment variable holding a full
// custom agent command line, for running the agent from source instead
// of a release binary.
const CommandOverrideEnv = "CODYGO_AGENT_CMD"

// Config describes how to reach the agent.
type Config struct {
	// BinaryPath is the agent binary to spawn.
	BinaryPath string

	// Args precede the protocol selector argument.
	Args []string

	// UseTCP makes the spawned agent listen on Host:Port instead of
	// speaking on its stdio pipes.
	UseTCP bool
	Host   string
	Port   int

	// Env entries are added to the child's environment.
	Env map[string]string

	// Debug enables the agent's own debug logging.
	Debug bool

	// OnStderr, when set, receives each line the agent writes to
	// stderr.
	OnStderr func(line string)
}

func (c Config) addr() string {
	host := c.Host
	if host == "" {
		host = DefaultHost
	}
	port := c.Port
	if port == 0 {
		port = DefaultPort
	}
	return net.JoinHostPort(host, strconv.Itoa(port))
}

// TransportError reports a failure to establish or tear down the
// connection to the agent.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport: %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Start spawns the agent process and produces a connected duplex byte
// stream. The caller owns the returned Handle and must eventually call
// Stop.
func Start(ctx context.Context, cfg Config) (*Handle, error) {
	bin, args, err := resolveCommand(cfg)
	if err != nil {
		return nil, err
	}

	cmd := exec.Command(bin, args...)
	cmd.Env = buildEnv(cfg)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, &TransportError{Op: "stdin pipe", Err: err}
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, &TransportError{Op: "stdout pipe", Err: err}
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, &TransportError{Op: "stderr pipe", Err: err}
	}

	if err := cmd.Start(); err != nil {
		return nil, &TransportError{Op: "start " + bin, Err: err}
	}

	h := &Handle{
		cmd:       cmd,
		logs:      make([]string, 0, maxLogLines),
		onStderr:  cfg.OnStderr,
		startedAt: time.Now(),
		done:      make(chan struct{}),
	}
	go h.readStderr(stderr)
	go h.watchProcess()

	if cfg.UseTCP {
		// The env var flips the agent into TCP mode; its stdio pipes
		// stay unused.
		_ = stdin.Close()
		conn, err := dialAgent(ctx, cfg.addr())
		if err != nil {
			_ = h.Stop()
			return nil, err
		}
		h.stream = conn
		return h, nil
	}

	h.stream = &stdioStream{stdin: stdin, stdout: stdout}
	return h, nil
}

// resolveCommand picks the agent command line: the override env var if
// set, otherwise the configured binary with the jsonrpc selector
// appended.
func resolveCommand(cfg Config) (string, []string, error) {
	if custom := os.Getenv(CommandOverrideEnv); custom != "" {
		tokens := strings.Fields(custom)
		if len(tokens) == 0 {
			return "", nil, &TransportError{Op: "parse " + CommandOverrideEnv, Err: fmt.Errorf("empty command")}
		}
		return tokens[0], append(tokens[1:], "jsonrpc"), nil
	}

	info, err := os.Stat(cfg.BinaryPath)
	if err != nil {
		return "", nil, &TransportError{Op: "locate agent binary", Err: err}
	}
	if info.IsDir() {
		return "", nil, &TransportError{Op: "locate agent binary", Err: fmt.Errorf("%s is a directory", cfg.BinaryPath)}
	}
	return cfg.BinaryPath, append(append([]string{}, cfg.Args...), "jsonrpc"), nil
}

func buildEnv(cfg Config) []string {
	env := os.Environ()
	env = append(env,
		"CODY_AGENT_DEBUG_REMOTE="+strconv.FormatBool(cfg.UseTCP),
		"CODY_DEBUG="+strconv.FormatBool(cfg.Debug),
	)
	for k, v := range cfg.Env {
		env = append(env, k+"="+v)
	}
	return env
}

// dialAgent connects to the agent's TCP socket, retrying while the
// freshly spawned process is still coming up.
func dialAgent(ctx context.Context, addr string) (net.Conn, error) {
	var lastErr error
	for attempt := 0; attempt < dialAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(dialRetryDelay):
			case <-ctx.Done():
				return nil, &TransportError{Op: "dial " + addr, Err: ctx.Err()}
			}
		}
		conn, err := net.DialTimeout("tcp", addr, dialRetryDelay)
		if err == nil {
			return conn, nil
		}
		lastErr = err
	}
	return nil, &TransportError{Op: fmt.Sprintf("dial %s after %d attempts", addr, dialAttempts), Err: lastErr}
}

// stdioStream glues a child process's stdin and stdout pipes into one
// duplex stream.
type stdioStream struct {
	stdin  io.WriteCloser
	stdout io.ReadCloser
}

func (s *stdioStream) Read(p []byte) (int, error)  { return s.stdout.Read(p) }
func (s *stdioStream) Write(p []byte) (int, error) { return s.stdin.Write(p) }

func (s *stdioStream) Close() error {
	err := s.stdin.Close()
	if cerr := s.stdout.Close(); err == nil {
		err = cerr
	}
	return err
}
