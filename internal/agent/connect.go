package agent

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/codygo/codygo/internal/events"
	"github.com/codygo/codygo/internal/rpc"
	"github.com/codygo/codygo/internal/transport"
)

// clientName and clientVersion identify this client to the agent.
const (
	clientName    = "codygo"
	clientVersion = "0.1.0"
)

// shutdownTimeout bounds the best-effort shutdown exchange in Close.
const shutdownTimeout = 5 * time.Second

// Options configures Connect.
type Options struct {
	// BinaryPath locates the agent binary. The CODYGO_AGENT_CMD
	// environment variable overrides it with a full command line.
	BinaryPath string

	AccessToken    string
	ServerEndpoint string
	WorkspaceRoot  string

	// UseTCP connects over localhost TCP instead of the agent's stdio.
	UseTCP bool
	Host   string
	Port   int

	// RequestTimeout is the per-call default; zero means the engine's
	// default.
	RequestTimeout time.Duration

	Debug bool

	// ClientInfo fully replaces the assembled initialize payload when
	// set.
	ClientInfo *ClientInfo

	// AnonymousUserID tags telemetry events recorded by the agent.
	AnonymousUserID string

	// Bus receives lifecycle, log and progress events. Optional.
	Bus *events.Bus
}

func (o Options) clientInfo() ClientInfo {
	if o.ClientInfo != nil {
		return *o.ClientInfo
	}
	return ClientInfo{
		Name:             clientName,
		Version:          clientVersion,
		WorkspaceRootURI: o.WorkspaceRoot,
		ExtensionConfiguration: ExtensionConfiguration{
			AccessToken:     o.AccessToken,
			ServerEndpoint:  o.ServerEndpoint,
			AnonymousUserID: o.AnonymousUserID,
			Debug:           o.Debug,
		},
		Capabilities: DefaultCapabilities(),
	}
}

// Session owns a connected, initialized agent: the spawned process,
// the RPC connection and the session client.
type Session struct {
	*Client

	handle *transport.Handle
	bus    *events.Bus

	closing   atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

// Connect spawns the agent, establishes the RPC connection and runs
// the initialize handshake. On any failure the process is torn down
// before returning.
func Connect(ctx context.Context, opts Options) (*Session, error) {
	bus := opts.Bus
	publishState := func(from, to events.ConnState) {
		if bus != nil {
			bus.Publish(events.NewStateChangedEvent(from, to))
		}
	}

	publishState(events.StateDisconnected, events.StateSpawning)

	tcfg := transport.Config{
		BinaryPath: opts.BinaryPath,
		UseTCP:     opts.UseTCP,
		Host:       opts.Host,
		Port:       opts.Port,
		Debug:      opts.Debug,
	}
	if bus != nil {
		tcfg.OnStderr = func(line string) {
			bus.Publish(events.NewAgentLogEvent(line))
		}
	}
	handle, err := transport.Start(ctx, tcfg)
	if err != nil {
		publishState(events.StateSpawning, events.StateFailed)
		return nil, err
	}

	conn := rpc.NewConn(handle.Stream(), opts.RequestTimeout)
	client := NewClient(conn, bus)

	publishState(events.StateSpawning, events.StateInitializing)
	if _, err := client.Initialize(ctx, opts.clientInfo()); err != nil {
		conn.Close()
		_ = handle.Stop()
		publishState(events.StateInitializing, events.StateFailed)
		return nil, err
	}
	publishState(events.StateInitializing, events.StateReady)

	s := &Session{Client: client, handle: handle, bus: bus}
	go s.watch()
	return s, nil
}

// watch surfaces unexpected connection loss on the bus.
func (s *Session) watch() {
	<-s.Client.conn.Done()
	if s.closing.Load() {
		return
	}
	err := s.Client.conn.Err()
	if err == nil || err == rpc.ErrClosed {
		return
	}
	if s.bus != nil {
		s.bus.Publish(events.NewErrorEvent(err, "agent connection lost"))
		s.bus.Publish(events.NewStateChangedEvent(events.StateReady, events.StateFailed))
	}
}

// Handle exposes the spawned agent process.
func (s *Session) Handle() *transport.Handle { return s.handle }

// Close shuts the session down: best-effort shutdown handshake, then
// connection close and process termination. Safe to call more than
// once and safe after the transport has already died.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.closing.Store(true)
		if s.bus != nil {
			s.bus.Publish(events.NewStateChangedEvent(events.StateReady, events.StateClosing))
		}

		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		if err := s.Client.Shutdown(ctx); err != nil {
			log.Printf("agent: shutdown handshake: %v", err)
		}
		cancel()

		s.Client.conn.Close()
		s.closeErr = s.handle.Stop()

		if s.bus != nil {
			s.bus.Publish(events.NewStateChangedEvent(events.StateClosing, events.StateClosed))
		}
	})
	return s.closeErr
}

// String implements fmt.Stringer for logging.
func (s *Session) String() string {
	info := s.ServerInfo()
	if info == nil {
		return "agent session (uninitialized)"
	}
	return fmt.Sprintf("agent session (%s %s, pid %d)", info.Name, info.CodyVersion, s.handle.PID())
}
