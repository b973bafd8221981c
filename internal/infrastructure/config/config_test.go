package config

import (
	"strings"
	"testing"
	"time"
)

func TestNewDefaultConfig(t *testing.T) {
	cfg := NewDefaultConfig()

	if cfg.Remote.BaseURL != DefaultRemoteBaseURL {
		t.Errorf("Remote.BaseURL = %q, want %q", cfg.Remote.BaseURL, DefaultRemoteBaseURL)
	}
	if cfg.Queue.BaseDelay != DefaultQueueBaseDelay {
		t.Errorf("Queue.BaseDelay = %v, want %v", cfg.Queue.BaseDelay, DefaultQueueBaseDelay)
	}
	if cfg.Queue.MaxDelay != DefaultQueueMaxDelay {
		t.Errorf("Queue.MaxDelay = %v, want %v", cfg.Queue.MaxDelay, DefaultQueueMaxDelay)
	}
	if cfg.Queue.RetryCeiling != DefaultQueueRetryCeiling {
		t.Errorf("Queue.RetryCeiling = %d, want %d", cfg.Queue.RetryCeiling, DefaultQueueRetryCeiling)
	}
	if cfg.Connectivity.ProbeInterval != DefaultProbeInterval {
		t.Errorf("Connectivity.ProbeInterval = %v, want %v", cfg.Connectivity.ProbeInterval, DefaultProbeInterval)
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "text" {
		t.Errorf("Logging = %+v, want info/text", cfg.Logging)
	}
	if cfg.Tracing.Enabled {
		t.Error("tracing should be disabled by default")
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("default config must validate, got %v", err)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "valid default",
			mutate: func(c *Config) {},
		},
		{
			name:    "missing remote url",
			mutate:  func(c *Config) { c.Remote.BaseURL = "" },
			wantErr: "base_url is required",
		},
		{
			name:    "remote url with bad scheme",
			mutate:  func(c *Config) { c.Remote.BaseURL = "ftp://example.com" },
			wantErr: "http or https",
		},
		{
			name:    "negative remote timeout",
			mutate:  func(c *Config) { c.Remote.Timeout = -time.Second },
			wantErr: "timeout must be non-negative",
		},
		{
			name:    "zero base delay",
			mutate:  func(c *Config) { c.Queue.BaseDelay = 0 },
			wantErr: "base_delay must be positive",
		},
		{
			name: "max delay below base delay",
			mutate: func(c *Config) {
				c.Queue.BaseDelay = 10 * time.Second
				c.Queue.MaxDelay = time.Second
			},
			wantErr: "max_delay must not be smaller",
		},
		{
			name:    "zero retry ceiling",
			mutate:  func(c *Config) { c.Queue.RetryCeiling = 0 },
			wantErr: "retry_ceiling must be positive",
		},
		{
			name:    "zero probe interval",
			mutate:  func(c *Config) { c.Connectivity.ProbeInterval = 0 },
			wantErr: "probe_interval must be positive",
		},
		{
			name:    "bad log level",
			mutate:  func(c *Config) { c.Logging.Level = "verbose" },
			wantErr: "invalid log level",
		},
		{
			name:    "bad log format",
			mutate:  func(c *Config) { c.Logging.Format = "xml" },
			wantErr: "invalid log format",
		},
		{
			name: "otlp without endpoint",
			mutate: func(c *Config) {
				c.Tracing.Enabled = true
				c.Tracing.ExporterType = "otlp"
			},
			wantErr: "otlp_endpoint is required",
		},
		{
			name: "sample rate out of range",
			mutate: func(c *Config) {
				c.Tracing.Enabled = true
				c.Tracing.SampleRate = 1.5
			},
			wantErr: "sample_rate must be between",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error = %v, want nil", err)
				}
				return
			}
			if err == nil {
				t.Fatal("Validate() = nil, want error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

// Validate reports every problem at once, not just the first.
func TestConfigValidate_JoinsErrors(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Remote.BaseURL = ""
	cfg.Queue.RetryCeiling = 0
	cfg.Logging.Level = "loud"

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() = nil, want error")
	}
	for _, want := range []string{"base_url is required", "retry_ceiling must be positive", "invalid log level"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("Validate() error missing %q: %v", want, err)
		}
	}
}
