// Package config defines the codygo configuration schema and handles
// loading and saving it.
package config

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Defaults applied by NewConfig and ApplyDefaults.
const (
	DefaultServerEndpoint = "https://sourcegraph.com"
	DefaultHost           = "localhost"
	DefaultPort           = 3113
	DefaultTimeout        = 30 * time.Second
)

// Duration stores a time.Duration that reads and writes as a
// human-readable string ("30s", "2m") in the JSON config file. Bare
// numbers in hand-edited files are taken as seconds.
type Duration time.Duration

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", s, err)
		}
		*d = Duration(parsed)
		return nil
	}
	var seconds float64
	if err := json.Unmarshal(data, &seconds); err != nil {
		return fmt.Errorf("invalid duration %s", data)
	}
	*d = Duration(seconds * float64(time.Second))
	return nil
}

// Duration converts to the standard type.
func (d Duration) Duration() time.Duration { return time.Duration(d) }

// Config is the persistent codygo configuration.
type Config struct {
	// BinaryPath locates the cody agent binary.
	BinaryPath string `json:"binaryPath"`

	// AccessToken authenticates against the Sourcegraph instance.
	AccessToken string `json:"accessToken,omitempty"`

	// ServerEndpoint is the Sourcegraph instance URL.
	ServerEndpoint string `json:"serverEndpoint"`

	// Workspace is the root of the code workspace sent to the agent.
	Workspace string `json:"workspace,omitempty"`

	// UseTCP connects to the agent over localhost TCP instead of stdio.
	UseTCP bool   `json:"useTcp,omitempty"`
	Host   string `json:"host,omitempty"`
	Port   int    `json:"port,omitempty"`

	// RequestTimeout bounds each RPC call.
	RequestTimeout Duration `json:"requestTimeout,omitempty"`

	// DefaultModel preselects the LLM for new chats.
	DefaultModel string `json:"defaultModel,omitempty"`

	// AnonymousUserID tags telemetry events. Generated on first save.
	AnonymousUserID string `json:"anonymousUserId,omitempty"`

	Debug bool `json:"debug,omitempty"`

	LastModified time.Time `json:"lastModified,omitempty"`
}

// NewConfig returns a config populated with defaults.
func NewConfig() *Config {
	return &Config{
		ServerEndpoint: DefaultServerEndpoint,
		Host:           DefaultHost,
		Port:           DefaultPort,
		RequestTimeout: Duration(DefaultTimeout),
	}
}

// ApplyDefaults fills zero-valued fields, including a fresh anonymous
// user id.
func (c *Config) ApplyDefaults() {
	if c.ServerEndpoint == "" {
		c.ServerEndpoint = DefaultServerEndpoint
	}
	if c.Host == "" {
		c.Host = DefaultHost
	}
	if c.Port == 0 {
		c.Port = DefaultPort
	}
	if c.RequestTimeout == 0 {
		c.RequestTimeout = Duration(DefaultTimeout)
	}
	if c.AnonymousUserID == "" {
		c.AnonymousUserID = uuid.NewString()
	}
}

// Validate reports whether the config can drive a connection.
func (c *Config) Validate() error {
	if c.BinaryPath == "" {
		return fmt.Errorf("binaryPath is required (or set %s)", EnvBinaryPath)
	}
	if c.AccessToken == "" {
		return fmt.Errorf("accessToken is required (or set %s)", EnvAccessToken)
	}
	if c.ServerEndpoint == "" {
		return fmt.Errorf("serverEndpoint is required")
	}
	if c.UseTCP && (c.Host == "" || c.Port <= 0) {
		return fmt.Errorf("host and port are required with useTcp")
	}
	return nil
}
