// Package fakeagent provides a fake Cody agent for testing. It speaks
// the agent's Content-Length framed JSON-RPC dialect and implements the
// chat method surface with configurable misbehavior.
package fakeagent

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
)

// Config controls the fake agent's behavior.
type Config struct {
	// AgentName and AgentVersion are reported by initialize.
	AgentName    string `json:"agentName"`
	AgentVersion string `json:"agentVersion"`

	// Unauthenticated makes initialize report authenticated=false.
	Unauthenticated bool `json:"unauthenticated"`

	// ReplyText is the assistant text returned by chat/submitMessage.
	ReplyText string `json:"replyText"`

	// WithContextFiles attaches context files to the reply transcript.
	WithContextFiles bool `json:"withContextFiles"`

	// Per-method delays before responding (keep short in tests).
	Delays map[string]time.Duration `json:"delays"`

	// Per-method forced JSON-RPC error responses.
	Errors map[string]*RPCError `json:"errors"`

	// NoResponse swallows requests for these methods entirely, for
	// exercising client-side timeouts.
	NoResponse map[string]bool `json:"noResponse"`

	// HoldResponses buffers this many responses and flushes them in
	// reverse order, so callers see out-of-order delivery.
	HoldResponses int `json:"holdResponses"`

	// DebugBeforeResponse emits a debug/message notification before
	// every response.
	DebugBeforeResponse bool `json:"debugBeforeResponse"`

	// ProgressBeforeReply emits webview/postMessage in-progress
	// notifications before the chat/submitMessage response.
	ProgressBeforeReply bool `json:"progressBeforeReply"`

	// MalformedFrame writes a garbage header instead of the next
	// response frame.
	MalformedFrame bool `json:"malformedFrame"`

	// RequestOnInitialize sends an agent-originated request with this
	// method before answering initialize.
	RequestOnInitialize string `json:"requestOnInitialize"`

	// StderrLines are written to the process stderr at startup when
	// running as a subprocess.
	StderrLines []string `json:"stderrLines"`
}

func (c Config) agentName() string {
	if c.AgentName == "" {
		return "fake-cody-agent"
	}
	return c.AgentName
}

func (c Config) agentVersion() string {
	if c.AgentVersion == "" {
		return "1.0.0"
	}
	return c.AgentVersion
}

func (c Config) replyText() string {
	if c.ReplyText == "" {
		return "Hello from the fake agent"
	}
	return c.ReplyText
}

// RPCError is a JSON-RPC 2.0 error object.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

type rpcMessage struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  any             `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// serverInfo mirrors the result shape of the agent's initialize.
type serverInfo struct {
	Name          string `json:"name"`
	Authenticated bool   `json:"authenticated"`
	CodyEnabled   bool   `json:"codyEnabled"`
	CodyVersion   string `json:"codyVersion"`
}

type transcriptMessage struct {
	Speaker      string        `json:"speaker"`
	Text         string        `json:"text"`
	ContextFiles []contextFile `json:"contextFiles,omitempty"`
}

type contextFile struct {
	URI   fileURI    `json:"uri"`
	Range *fileRange `json:"range,omitempty"`
}

type fileURI struct {
	Path string `json:"path"`
}

type fileRange struct {
	Start filePosition `json:"start"`
	End   filePosition `json:"end"`
}

type filePosition struct {
	Line int `json:"line"`
}

type transcript struct {
	Type     string              `json:"type"`
	Messages []transcriptMessage `json:"messages"`
}

type submitParams struct {
	ID      string `json:"id"`
	Message struct {
		Command string `json:"command"`
		Text    string `json:"text"`
	} `json:"message"`
}

// readFrame reads one Content-Length framed JSON-RPC message.
func readFrame(r *bufio.Reader) ([]byte, error) {
	length := -1
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return nil, err
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			break
		}
		if strings.HasPrefix(strings.ToLower(line), "content-length:") {
			n, err := strconv.Atoi(strings.TrimSpace(line[len("content-length:"):]))
			if err != nil {
				return nil, fmt.Errorf("bad content-length: %w", err)
			}
			length = n
		}
	}
	if length < 0 {
		return nil, fmt.Errorf("missing content-length header")
	}
	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, err
	}
	return body, nil
}

func writeFrame(w io.Writer, msg rpcMessage) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "Content-Length: %d\r\n\r\n", len(body)); err != nil {
		return err
	}
	_, err = w.Write(body)
	return err
}

func notification(method string, params any) rpcMessage {
	data, _ := json.Marshal(params)
	return rpcMessage{JSONRPC: "2.0", Method: method, Params: data}
}
