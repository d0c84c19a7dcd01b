package common

import (
	"os"
	"testing"
	"time"
)

func TestServerConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		config  ServerConfig
		wantErr bool
	}{
		{
			name:    "default config is valid",
			config:  *DefaultServerConfig(),
			wantErr: false,
		},
		{
			name: "missing both listen addrs",
			config: ServerConfig{
				ListenAddr: "",
				WSAddr:     "",
			},
			wantErr: true,
		},
		{
			name: "ws only is valid",
			config: ServerConfig{
				ListenAddr: "",
				WSAddr:     ":7780",
			},
			wantErr: false,
		},
		{
			name: "auth enabled without database path",
			config: ServerConfig{
				ListenAddr: ":7700",
				Auth: AuthConfig{
					Enabled:      true,
					DatabasePath: "",
				},
			},
			wantErr: true,
		},
		{
			name: "delay shorter than tick interval",
			config: ServerConfig{
				ListenAddr: ":7700",
				Sync: SyncConfig{
					TickInterval: 50 * time.Millisecond,
					Delay:        10 * time.Millisecond,
				},
			},
			wantErr: true,
		},
		{
			name: "flow window exceeding 16 bits",
			config: ServerConfig{
				ListenAddr: ":7700",
				Sync: SyncConfig{
					FlowWindow: 70000,
				},
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestClientConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		config  ClientConfig
		wantErr bool
	}{
		{
			name:    "default config is valid",
			config:  *DefaultClientConfig(),
			wantErr: false,
		},
		{
			name: "missing server addr",
			config: ClientConfig{
				Transport: "udp",
			},
			wantErr: true,
		},
		{
			name: "unknown transport",
			config: ClientConfig{
				ServerAddr: "localhost:7700",
				Transport:  "tcp",
			},
			wantErr: true,
		},
		{
			name: "ws transport is valid",
			config: ClientConfig{
				ServerAddr: "localhost:7780",
				Transport:  "ws",
			},
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoadServerConfig(t *testing.T) {
	// Create a temporary config file
	content := `
listen_addr: ":7711"
metrics_addr: ":9100"
log_level: "debug"
sync:
  tick_interval: 20ms
  delay: 80ms
`
	tmpfile, err := os.CreateTemp("", "config-*.yaml")
	if err != nil {
		t.Fatal(err)
	}
	defer os.Remove(tmpfile.Name())

	if _, err := tmpfile.WriteString(content); err != nil {
		t.Fatal(err)
	}
	tmpfile.Close()

	// Load and verify
	config, err := LoadServerConfig(tmpfile.Name())
	if err != nil {
		t.Fatalf("LoadServerConfig failed: %v", err)
	}

	if config.ListenAddr != ":7711" {
		t.Errorf("ListenAddr = %q, want %q", config.ListenAddr, ":7711")
	}
	if config.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want %q", config.LogLevel, "debug")
	}
	if config.Sync.TickInterval != 20*time.Millisecond {
		t.Errorf("Sync.TickInterval = %v, want 20ms", config.Sync.TickInterval)
	}
	// Defaults survive partial overrides.
	if config.Sync.RingSize != 128 {
		t.Errorf("Sync.RingSize = %d, want default 128", config.Sync.RingSize)
	}
}
