package fakeagent

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"
)

// Serve runs the fake agent, reading framed requests from in and
// writing responses to out. It returns nil when the client closes the
// stream or sends the exit notification.
func Serve(ctx context.Context, in io.Reader, out io.Writer, cfg Config) error {
	reader := bufio.NewReader(in)
	chatCount := 0
	var held []rpcMessage

	flush := func() error {
		// Held responses go out newest-first so callers observe
		// out-of-order delivery.
		for i := len(held) - 1; i >= 0; i-- {
			if err := writeFrame(out, held[i]); err != nil {
				return err
			}
		}
		held = held[:0]
		return nil
	}

	respond := func(msg rpcMessage) error {
		if cfg.MalformedFrame {
			_, err := io.WriteString(out, "Content-Garbage: nope\r\n\r\n")
			return err
		}
		if cfg.DebugBeforeResponse {
			if err := writeFrame(out, notification("debug/message", map[string]string{
				"channel": "fake-agent", "message": "handling " + msg.Method,
			})); err != nil {
				return err
			}
		}
		if cfg.HoldResponses > 1 {
			held = append(held, msg)
			if len(held) >= cfg.HoldResponses {
				return flush()
			}
			return nil
		}
		return writeFrame(out, msg)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		body, err := readFrame(reader)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}

		var req rpcMessage
		if err := json.Unmarshal(body, &req); err != nil {
			return err
		}

		// Responses to agent-originated requests; nothing to do.
		if req.Method == "" {
			continue
		}

		if delay, ok := cfg.Delays[req.Method]; ok {
			time.Sleep(delay)
		}
		if cfg.NoResponse[req.Method] {
			continue
		}
		if rpcErr, ok := cfg.Errors[req.Method]; ok {
			if err := respond(rpcMessage{JSONRPC: "2.0", ID: req.ID, Error: rpcErr}); err != nil {
				return err
			}
			continue
		}

		switch req.Method {
		case "initialize":
			if cfg.RequestOnInitialize != "" {
				if err := writeFrame(out, rpcMessage{
					JSONRPC: "2.0",
					ID:      json.RawMessage(`9001`),
					Method:  cfg.RequestOnInitialize,
				}); err != nil {
					return err
				}
			}
			err = respond(rpcMessage{JSONRPC: "2.0", ID: req.ID, Result: serverInfo{
				Name:          cfg.agentName(),
				Authenticated: !cfg.Unauthenticated,
				CodyEnabled:   true,
				CodyVersion:   cfg.agentVersion(),
			}})

		case "chat/new":
			chatCount++
			err = respond(rpcMessage{JSONRPC: "2.0", ID: req.ID, Result: fmt.Sprintf("chat-%d", chatCount)})

		case "chat/restore":
			chatCount++
			err = respond(rpcMessage{JSONRPC: "2.0", ID: req.ID, Result: fmt.Sprintf("chat-%d", chatCount)})

		case "chat/submitMessage":
			var params submitParams
			_ = json.Unmarshal(req.Params, &params)

			if cfg.ProgressBeforeReply {
				if err := writeFrame(out, notification("webview/postMessage", map[string]any{
					"id": params.ID,
					"message": map[string]any{
						"type":                "transcript",
						"isMessageInProgress": true,
						"messages": []transcriptMessage{
							{Speaker: "assistant", Text: "typing"},
						},
					},
				})); err != nil {
					return err
				}
			}

			reply := transcriptMessage{Speaker: "assistant", Text: cfg.replyText()}
			if cfg.WithContextFiles {
				reply.ContextFiles = []contextFile{
					{
						URI: fileURI{Path: "/workspace/main.go"},
						Range: &fileRange{
							Start: filePosition{Line: 10},
							End:   filePosition{Line: 42},
						},
					},
					{URI: fileURI{Path: "/workspace/README.md"}},
				}
			}
			err = respond(rpcMessage{JSONRPC: "2.0", ID: req.ID, Result: transcript{
				Type: "transcript",
				Messages: []transcriptMessage{
					{Speaker: "human", Text: params.Message.Text},
					reply,
				},
			}})

		case "chat/models":
			err = respond(rpcMessage{JSONRPC: "2.0", ID: req.ID, Result: map[string]any{
				"models": []map[string]any{
					{"id": "anthropic/claude-3-sonnet-20240229", "name": "Claude 3 Sonnet", "default": true},
					{"id": "anthropic/claude-3-haiku-20240307", "name": "Claude 3 Haiku"},
				},
			}})

		case "webview/receiveMessage":
			err = respond(rpcMessage{JSONRPC: "2.0", ID: req.ID})

		case "shutdown":
			err = respond(rpcMessage{JSONRPC: "2.0", ID: req.ID})

		case "exit":
			// Notification; the conversation is over.
			_ = flush()
			return nil

		default:
			if len(req.ID) > 0 {
				err = respond(rpcMessage{JSONRPC: "2.0", ID: req.ID, Error: &RPCError{
					Code: -32601, Message: "Method not found",
				}})
			}
		}
		if err != nil {
			return err
		}
	}
}
