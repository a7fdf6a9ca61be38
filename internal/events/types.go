// Package events provides the event system for codygo. The session
// layer publishes connection and chat activity here; the CLI and TUI
// subscribe to render it.
package events

import (
	"time"
)

// ConnState represents the lifecycle state of the agent connection.
type ConnState int

const (
	StateDisconnected ConnState = iota
	StateSpawning
	StateInitializing
	StateReady
	StateClosing
	StateClosed
	StateFailed
)

func (s ConnState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateSpawning:
		return "spawning"
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// IsActive returns true while the connection is usable or in transition.
func (s ConnState) IsActive() bool {
	return s == StateSpawning || s == StateInitializing || s == StateReady || s == StateClosing
}

// EventType identifies the kind of event.
type EventType int

const (
	EventStateChanged EventType = iota
	EventAgentLog
	EventDebugMessage
	EventChatProgress
	EventError
)

func (e EventType) String() string {
	switch e {
	case EventStateChanged:
		return "state_changed"
	case EventAgentLog:
		return "agent_log"
	case EventDebugMessage:
		return "debug_message"
	case EventChatProgress:
		return "chat_progress"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// Event is the base interface for all events.
type Event interface {
	Type() EventType
	Timestamp() time.Time
}

type baseEvent struct {
	timestamp time.Time
}

func (e baseEvent) Timestamp() time.Time { return e.timestamp }

// StateChangedEvent is emitted when the connection lifecycle advances.
type StateChangedEvent struct {
	baseEvent
	OldState ConnState
	NewState ConnState
}

func (e StateChangedEvent) Type() EventType { return EventStateChanged }

// NewStateChangedEvent creates a new state changed event.
func NewStateChangedEvent(oldState, newState ConnState) StateChangedEvent {
	return StateChangedEvent{
		baseEvent: baseEvent{timestamp: time.Now()},
		OldState:  oldState,
		NewState:  newState,
	}
}

// AgentLogEvent is emitted for each stderr line the agent process writes.
type AgentLogEvent struct {
	baseEvent
	Line string
}

func (e AgentLogEvent) Type() EventType { return EventAgentLog }

// NewAgentLogEvent creates a new agent log event.
func NewAgentLogEvent(line string) AgentLogEvent {
	return AgentLogEvent{
		baseEvent: baseEvent{timestamp: time.Now()},
		Line:      line,
	}
}

// DebugMessageEvent is emitted when the agent sends a debug/message
// notification.
type DebugMessageEvent struct {
	baseEvent
	Channel string
	Message string
}

func (e DebugMessageEvent) Type() EventType { return EventDebugMessage }

// NewDebugMessageEvent creates a new debug message event.
func NewDebugMessageEvent(channel, message string) DebugMessageEvent {
	return DebugMessageEvent{
		baseEvent: baseEvent{timestamp: time.Now()},
		Channel:   channel,
		Message:   message,
	}
}

// ChatProgressEvent is emitted when the agent pushes an in-progress
// transcript update for a chat session.
type ChatProgressEvent struct {
	baseEvent
	ChatID     string
	Text       string
	InProgress bool
}

func (e ChatProgressEvent) Type() EventType { return EventChatProgress }

// NewChatProgressEvent creates a new chat progress event.
func NewChatProgressEvent(chatID, text string, inProgress bool) ChatProgressEvent {
	return ChatProgressEvent{
		baseEvent:  baseEvent{timestamp: time.Now()},
		ChatID:     chatID,
		Text:       text,
		InProgress: inProgress,
	}
}

// ErrorEvent is emitted when a background failure occurs, such as the
// agent process dying or the stream breaking.
type ErrorEvent struct {
	baseEvent
	Err     error
	Message string
}

func (e ErrorEvent) Type() EventType { return EventError }

// NewErrorEvent creates a new error event.
func NewErrorEvent(err error, message string) ErrorEvent {
	return ErrorEvent{
		baseEvent: baseEvent{timestamp: time.Now()},
		Err:       err,
		Message:   message,
	}
}
