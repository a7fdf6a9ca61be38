package agenttest

import "time"

// Common fake agent configurations.

// DefaultConfig returns a minimal working fake agent.
func DefaultConfig() Config {
	return Config{ReplyText: "Hello from the fake agent"}
}

// UnauthenticatedConfig returns an agent whose initialize result
// reports authenticated=false.
func UnauthenticatedConfig() Config {
	return Config{Unauthenticated: true}
}

// SlowConfig delays responses to the given method.
func SlowConfig(method string, delay time.Duration) Config {
	return Config{Delays: map[string]time.Duration{method: delay}}
}

// SilentConfig swallows requests for the given method so the caller's
// timeout fires.
func SilentConfig(method string) Config {
	return Config{NoResponse: map[string]bool{method: true}}
}

// ErrorConfig forces a JSON-RPC error response for the given method.
func ErrorConfig(method string, code int, message string) Config {
	return Config{Errors: map[string]*RPCError{method: {Code: code, Message: message}}}
}

// OutOfOrderConfig holds n responses back and delivers them in reverse
// order.
func OutOfOrderConfig(n int) Config {
	return Config{HoldResponses: n}
}

// MalformedConfig writes a garbage header in place of responses.
func MalformedConfig() Config {
	return Config{MalformedFrame: true}
}
