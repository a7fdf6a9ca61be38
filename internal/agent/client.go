package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/codygo/codygo/internal/events"
	"github.com/codygo/codygo/internal/rpc"
)

// ErrNotInitialized is returned by session operations issued before a
// successful Initialize.
var ErrNotInitialized = errors.New("agent: not initialized")

// AuthError reports that the agent came up but could not authenticate
// against the configured Sourcegraph endpoint.
type AuthError struct {
	Endpoint string
}

func (e *AuthError) Error() string {
	if e.Endpoint == "" {
		return "agent: authentication failed"
	}
	return fmt.Sprintf("agent: authentication failed for %s", e.Endpoint)
}

// restoreChatIDLayout is the panel id format the agent expects for
// chat/restore, an RFC1123-style GMT timestamp.
const restoreChatIDLayout = "Mon, 02 Jan 2006 15:04:05 GMT"

// Client drives session operations against a connected Cody agent.
// All methods are safe for concurrent use.
type Client struct {
	conn *rpc.Conn
	bus  *events.Bus

	mu          sync.Mutex
	initialized bool
	shutdown    bool
	serverInfo  *ServerInfo
}

// NewClient wraps an established RPC connection. The bus may be nil;
// when set, agent-originated debug and progress notifications are
// published onto it. Initialize must be called before any chat
// operation.
func NewClient(conn *rpc.Conn, bus *events.Bus) *Client {
	c := &Client{conn: conn, bus: bus}
	conn.Handle("debug/message", c.onDebugMessage)
	conn.Handle("webview/postMessage", c.onPostMessage)
	return c
}

// Conn exposes the underlying RPC connection.
func (c *Client) Conn() *rpc.Conn { return c.conn }

// ServerInfo returns the initialize result, or nil before Initialize.
func (c *Client) ServerInfo() *ServerInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.serverInfo
}

func (c *Client) ready() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.shutdown {
		return rpc.ErrClosed
	}
	if !c.initialized {
		return ErrNotInitialized
	}
	return nil
}

// Initialize performs the agent handshake. It must be the first
// operation on the connection; an unauthenticated result is an
// *AuthError and leaves the client unusable.
func (c *Client) Initialize(ctx context.Context, info ClientInfo) (*ServerInfo, error) {
	c.mu.Lock()
	if c.shutdown {
		c.mu.Unlock()
		return nil, rpc.ErrClosed
	}
	if c.initialized {
		c.mu.Unlock()
		return nil, errors.New("agent: already initialized")
	}
	c.mu.Unlock()

	var si ServerInfo
	if err := c.conn.Call(ctx, "initialize", info, &si); err != nil {
		return nil, fmt.Errorf("initialize: %w", err)
	}
	if !si.Authenticated {
		return nil, &AuthError{Endpoint: info.ExtensionConfiguration.ServerEndpoint}
	}

	c.mu.Lock()
	c.initialized = true
	c.serverInfo = &si
	c.mu.Unlock()
	return &si, nil
}

// NewChat opens a fresh chat session and returns its opaque id.
func (c *Client) NewChat(ctx context.Context) (string, error) {
	if err := c.ready(); err != nil {
		return "", err
	}
	var chatID string
	if err := c.conn.Call(ctx, "chat/new", nil, &chatID); err != nil {
		return "", fmt.Errorf("chat/new: %w", err)
	}
	return chatID, nil
}

// RestoreChat rebuilds a chat session from an existing message stack
// and returns the new session id.
func (c *Client) RestoreChat(ctx context.Context, messages []Message) (string, error) {
	if err := c.ready(); err != nil {
		return "", err
	}
	params := restoreParams{
		Messages: messages,
		ChatID:   time.Now().UTC().Format(restoreChatIDLayout),
	}
	var chatID string
	if err := c.conn.Call(ctx, "chat/restore", params, &chatID); err != nil {
		return "", fmt.Errorf("chat/restore: %w", err)
	}
	return chatID, nil
}

// SubmitMessage sends one human message into a chat session and waits
// for the assistant's reply. A nil opts asks for enhanced context.
func (c *Client) SubmitMessage(ctx context.Context, chatID, text string, opts *SubmitOptions) (*ChatReply, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}
	if opts == nil {
		opts = &SubmitOptions{}
	}
	contextFiles := opts.ContextFiles
	if contextFiles == nil {
		contextFiles = []any{}
	}
	params := submitEnvelope{
		ID: chatID,
		Message: submitMessage{
			Command:            "submit",
			Text:               text,
			SubmitType:         "user",
			AddEnhancedContext: !opts.NoEnhancedContext,
			ContextFiles:       contextFiles,
		},
	}
	var transcript wireTranscript
	if err := c.conn.Call(ctx, "chat/submitMessage", params, &transcript); err != nil {
		return nil, fmt.Errorf("chat/submitMessage: %w", err)
	}
	reply := parseReply(transcript)
	if reply == nil {
		return nil, fmt.Errorf("chat/submitMessage: transcript has no assistant reply")
	}
	return reply, nil
}

// parseReply extracts the newest assistant message and its context
// files from a transcript.
func parseReply(transcript wireTranscript) *ChatReply {
	for i := len(transcript.Messages) - 1; i >= 0; i-- {
		msg := transcript.Messages[i]
		if msg.Speaker != SpeakerAssistant {
			continue
		}
		reply := &ChatReply{Text: msg.Text}
		for _, cf := range msg.ContextFiles {
			file := ContextFile{Path: cf.URI.Path}
			if cf.Range != nil {
				file.StartLine = cf.Range.Start.Line
				file.EndLine = cf.Range.End.Line
			}
			reply.ContextFiles = append(reply.ContextFiles, file)
		}
		return reply
	}
	return nil
}

// Models lists the LLMs the agent offers for the given usage, "chat"
// or "edit".
func (c *Client) Models(ctx context.Context, usage string) ([]Model, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}
	var res modelsResult
	if err := c.conn.Call(ctx, "chat/models", modelsParams{ModelUsage: usage}, &res); err != nil {
		return nil, fmt.Errorf("chat/models: %w", err)
	}
	return res.Models, nil
}

// SetModel switches the LLM used by a chat session.
func (c *Client) SetModel(ctx context.Context, chatID, modelID string) error {
	if err := c.ready(); err != nil {
		return err
	}
	params := modelEnvelope{
		ID:      chatID,
		Message: modelCommand{Command: "chatModel", Model: modelID},
	}
	if err := c.conn.Call(ctx, "webview/receiveMessage", params, nil); err != nil {
		return fmt.Errorf("webview/receiveMessage: %w", err)
	}
	return nil
}

// Shutdown asks the agent to stop: a shutdown call followed by the
// exit notification. Session operations afterwards fail with
// rpc.ErrClosed.
func (c *Client) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	if c.shutdown {
		c.mu.Unlock()
		return nil
	}
	c.shutdown = true
	c.mu.Unlock()

	if err := c.conn.Call(ctx, "shutdown", nil, nil); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := c.conn.Notify(ctx, "exit", nil); err != nil {
		return fmt.Errorf("exit: %w", err)
	}
	return nil
}

func (c *Client) onDebugMessage(ctx context.Context, params json.RawMessage) (any, error) {
	if c.bus == nil {
		return nil, nil
	}
	var p debugMessageParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, nil
	}
	c.bus.Publish(events.NewDebugMessageEvent(p.Channel, p.Message))
	return nil, nil
}

func (c *Client) onPostMessage(ctx context.Context, params json.RawMessage) (any, error) {
	if c.bus == nil {
		return nil, nil
	}
	var p postMessageParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, nil
	}
	if p.Message.Type != "transcript" {
		return nil, nil
	}
	for i := len(p.Message.Messages) - 1; i >= 0; i-- {
		msg := p.Message.Messages[i]
		if msg.Speaker == SpeakerAssistant {
			c.bus.Publish(events.NewChatProgressEvent(p.ID, msg.Text, p.Message.IsMessageInProgress))
			break
		}
	}
	return nil, nil
}
