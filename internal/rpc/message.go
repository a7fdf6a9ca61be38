// Package rpc implements the JSON-RPC 2.0 engine used to talk to the
// Cody agent: length-prefixed framing, request/response correlation and
// dispatch of agent-originated requests and notifications.
package rpc

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"
)

// Standard JSON-RPC 2.0 error codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
)

// Message is a single JSON-RPC 2.0 message. The same shape covers
// requests (id + method), notifications (method, no id) and responses
// (id + result or error); Kind tells them apart after decoding.
type Message struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// MessageKind classifies a decoded Message.
type MessageKind int

const (
	KindRequest MessageKind = iota
	KindNotification
	KindResponse
)

// Kind reports whether the message is a request, notification or
// response. A message without a method is a response; a message with a
// method but no id is a notification.
func (m *Message) Kind() MessageKind {
	switch {
	case m.Method == "":
		return KindResponse
	case len(m.ID) == 0:
		return KindNotification
	default:
		return KindRequest
	}
}

// responseID parses the message id as the int64 the engine allocates
// for outbound requests. Ids originating elsewhere fail the parse and
// are treated as unmatched.
func (m *Message) responseID() (int64, bool) {
	id, err := strconv.ParseInt(string(m.ID), 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

func newRequest(id int64, method string, params any) (*Message, error) {
	msg := &Message{
		JSONRPC: "2.0",
		ID:      json.RawMessage(strconv.FormatInt(id, 10)),
		Method:  method,
	}
	if params != nil {
		data, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("marshal params for %s: %w", method, err)
		}
		msg.Params = data
	}
	return msg, nil
}

func newNotification(method string, params any) (*Message, error) {
	msg := &Message{JSONRPC: "2.0", Method: method}
	if params != nil {
		data, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("marshal params for %s: %w", method, err)
		}
		msg.Params = data
	}
	return msg, nil
}

func newResponse(id json.RawMessage, result any, rpcErr *Error) (*Message, error) {
	msg := &Message{JSONRPC: "2.0", ID: id, Error: rpcErr}
	if rpcErr == nil {
		data, err := json.Marshal(result)
		if err != nil {
			return nil, fmt.Errorf("marshal result: %w", err)
		}
		msg.Result = data
	}
	return msg, nil
}

// Error is a JSON-RPC 2.0 error object returned by the agent.
type Error struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// ErrClosed is returned by Call and Notify once the connection is no
// longer usable, whether closed locally or lost to a transport failure.
var ErrClosed = errors.New("rpc: connection closed")

// FramingError reports malformed wire data. It is fatal: the byte
// stream can no longer be trusted and the connection is torn down.
type FramingError struct {
	Reason string
	Err    error
}

func (e *FramingError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("rpc: bad frame: %s: %v", e.Reason, e.Err)
	}
	return "rpc: bad frame: " + e.Reason
}

func (e *FramingError) Unwrap() error { return e.Err }

// TimeoutError reports that a call received no response within its
// deadline. Only the one call is affected; the connection stays up.
type TimeoutError struct {
	Method  string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("rpc: %s timed out after %s", e.Method, e.Timeout)
}

// ConnLostError reports that the connection died underneath pending
// calls. It wraps the read or write failure that killed it.
type ConnLostError struct {
	Err error
}

func (e *ConnLostError) Error() string {
	return fmt.Sprintf("rpc: connection lost: %v", e.Err)
}

func (e *ConnLostError) Unwrap() error { return e.Err }
