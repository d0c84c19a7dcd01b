package common

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ServerConfig holds configuration for the sync server.
type ServerConfig struct {
	// ListenAddr is the UDP address for game traffic (e.g., ":7700").
	ListenAddr string `yaml:"listen_addr"`

	// WSAddr is an optional HTTP address serving the WebSocket fallback
	// endpoint. Empty disables it.
	WSAddr string `yaml:"ws_addr"`

	// MetricsAddr is the address for the Prometheus scrape endpoint.
	// Empty disables it.
	MetricsAddr string `yaml:"metrics_addr"`

	// Auth configuration for peer authentication.
	Auth AuthConfig `yaml:"auth"`

	// Sync configuration for the state synchronization loop.
	Sync SyncConfig `yaml:"sync"`

	// LogLevel sets the logging verbosity (debug, info, warn, error).
	LogLevel string `yaml:"log_level"`
}

// AuthConfig holds peer authentication configuration.
type AuthConfig struct {
	// Enabled gates the token check during connection admission.
	Enabled bool `yaml:"enabled"`

	// DatabasePath is the SQLite database holding peer tokens.
	DatabasePath string `yaml:"database_path"`
}

// SyncConfig holds tunables for the per-connection synchronization
// machinery. Zero values fall back to the connection defaults.
type SyncConfig struct {
	// TickInterval is the control frame period.
	TickInterval time.Duration `yaml:"tick_interval"`

	// Delay is the constant output delay applied to inbound state.
	Delay time.Duration `yaml:"delay"`

	// IdleTimeout drops a peer that has been silent for this long.
	IdleTimeout time.Duration `yaml:"idle_timeout"`

	// RingSize is the number of control frames the backlog buffers.
	RingSize int `yaml:"ring_size"`

	// MTU caps the size of an encoded packet in bytes.
	MTU int `yaml:"mtu"`

	// FlowWindow is the maximum number of unacknowledged packets.
	FlowWindow int `yaml:"flow_window"`

	// QueueDepth bounds the per-connection inbound and event queues.
	QueueDepth int `yaml:"queue_depth"`
}

// DefaultServerConfig returns a ServerConfig with sensible defaults.
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		ListenAddr:  ":7700",
		MetricsAddr: "",
		Auth: AuthConfig{
			Enabled:      false,
			DatabasePath: "./statewire.db",
		},
		Sync: SyncConfig{
			TickInterval: 50 * time.Millisecond,
			Delay:        100 * time.Millisecond,
			IdleTimeout:  15 * time.Second,
			RingSize:     128,
			MTU:          1500,
			FlowWindow:   8192,
			QueueDepth:   4096,
		},
		LogLevel: "info",
	}
}

// LoadServerConfig loads server configuration from a YAML file.
func LoadServerConfig(path string) (*ServerConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultServerConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return config, nil
}

// Validate checks if the server configuration is valid.
func (c *ServerConfig) Validate() error {
	if c.ListenAddr == "" && c.WSAddr == "" {
		return fmt.Errorf("at least one of listen_addr or ws_addr is required")
	}
	if c.Auth.Enabled && c.Auth.DatabasePath == "" {
		return fmt.Errorf("auth.database_path is required when auth is enabled")
	}
	return c.Sync.Validate()
}

// Validate checks the sync tunables.
func (c *SyncConfig) Validate() error {
	if c.TickInterval < 0 || c.Delay < 0 || c.IdleTimeout < 0 {
		return fmt.Errorf("sync intervals must not be negative")
	}
	if c.Delay > 0 && c.TickInterval > 0 && c.Delay < c.TickInterval {
		return fmt.Errorf("sync.delay must be at least one tick_interval")
	}
	if c.RingSize < 0 {
		return fmt.Errorf("sync.ring_size must not be negative")
	}
	if c.FlowWindow < 0 || c.FlowWindow > 65535 {
		return fmt.Errorf("sync.flow_window must fit in 16 bits")
	}
	if c.MTU < 0 || c.MTU > 65535 {
		return fmt.Errorf("sync.mtu must fit in 16 bits")
	}
	return nil
}

// ClientConfig holds configuration for the sync client.
type ClientConfig struct {
	// ServerAddr is the address of the sync server (e.g., "game.example.com:7700").
	ServerAddr string `yaml:"server_addr"`

	// Transport selects the carrier: "udp" or "ws".
	Transport string `yaml:"transport"`

	// PeerName identifies this client to the server.
	PeerName string `yaml:"peer_name"`

	// Token is the authentication token.
	Token string `yaml:"token"`

	// Sync configuration for the state synchronization loop.
	Sync SyncConfig `yaml:"sync"`

	// Reconnect configuration for automatic reconnection.
	Reconnect ReconnectConfig `yaml:"reconnect"`

	// LogLevel sets the logging verbosity (debug, info, warn, error).
	LogLevel string `yaml:"log_level"`
}

// ReconnectConfig holds reconnection settings.
type ReconnectConfig struct {
	// Enabled indicates whether automatic reconnection is enabled.
	Enabled bool `yaml:"enabled"`

	// InitialDelay is the initial delay before the first reconnection attempt.
	InitialDelay time.Duration `yaml:"initial_delay"`

	// MaxDelay is the maximum delay between reconnection attempts.
	MaxDelay time.Duration `yaml:"max_delay"`

	// Multiplier is the factor by which the delay increases after each attempt.
	Multiplier float64 `yaml:"multiplier"`

	// MaxAttempts is the maximum number of reconnection attempts (0 = unlimited).
	MaxAttempts int `yaml:"max_attempts"`
}

// DefaultClientConfig returns a ClientConfig with sensible defaults.
func DefaultClientConfig() *ClientConfig {
	return &ClientConfig{
		ServerAddr: "localhost:7700",
		Transport:  "udp",
		Sync: SyncConfig{
			TickInterval: 50 * time.Millisecond,
			Delay:        100 * time.Millisecond,
			IdleTimeout:  15 * time.Second,
			RingSize:     128,
			MTU:          1500,
			FlowWindow:   8192,
			QueueDepth:   4096,
		},
		Reconnect: ReconnectConfig{
			Enabled:      true,
			InitialDelay: 1 * time.Second,
			MaxDelay:     30 * time.Second,
			Multiplier:   2.0,
			MaxAttempts:  0, // unlimited
		},
		LogLevel: "info",
	}
}

// LoadClientConfig loads client configuration from a YAML file.
func LoadClientConfig(path string) (*ClientConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultClientConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return config, nil
}

// Validate checks if the client configuration is valid.
func (c *ClientConfig) Validate() error {
	if c.ServerAddr == "" {
		return fmt.Errorf("server_addr is required")
	}
	switch c.Transport {
	case "udp", "ws":
	default:
		return fmt.Errorf("transport must be \"udp\" or \"ws\", got %q", c.Transport)
	}
	return c.Sync.Validate()
}
