package cliconfig

import (
	"errors"
	"testing"
	"time"

	"github.com/bft-labs/meshrelay/internal/domain"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.ListenHost != "0.0.0.0" || cfg.ListenPort != 4404 {
		t.Errorf("listen = %s:%d, want 0.0.0.0:4404", cfg.ListenHost, cfg.ListenPort)
	}
	if cfg.UpstreamHost != "192.168.2.144" || cfg.UpstreamPort != 4403 {
		t.Errorf("upstream = %s:%d, want 192.168.2.144:4403", cfg.UpstreamHost, cfg.UpstreamPort)
	}
	if cfg.TriggerPrefix != "/gem" {
		t.Errorf("TriggerPrefix = %v, want /gem", cfg.TriggerPrefix)
	}
	if cfg.BotChannel != 2 {
		t.Errorf("BotChannel = %v, want 2", cfg.BotChannel)
	}
	if cfg.ResponseDelay != 2*time.Second {
		t.Errorf("ResponseDelay = %v, want 2s", cfg.ResponseDelay)
	}
	if cfg.MaxClients != 32 {
		t.Errorf("MaxClients = %v, want 32", cfg.MaxClients)
	}
	if cfg.GeminiModel != DefaultGeminiModel {
		t.Errorf("GeminiModel = %v, want %v", cfg.GeminiModel, DefaultGeminiModel)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*Config)
		wantField string
	}{
		{
			name:   "defaults",
			mutate: func(c *Config) {},
		},
		{
			name:   "bot channel zero is allowed",
			mutate: func(c *Config) { c.BotChannel = 0 },
		},
		{
			name:   "ephemeral listen port",
			mutate: func(c *Config) { c.ListenPort = 0 },
		},
		{
			name:      "bot channel above range",
			mutate:    func(c *Config) { c.BotChannel = 8 },
			wantField: "command.bot_channel",
		},
		{
			name:      "negative bot channel",
			mutate:    func(c *Config) { c.BotChannel = -1 },
			wantField: "command.bot_channel",
		},
		{
			name:      "missing upstream host",
			mutate:    func(c *Config) { c.UpstreamHost = "" },
			wantField: "upstream.host",
		},
		{
			name:      "upstream port out of range",
			mutate:    func(c *Config) { c.UpstreamPort = 70000 },
			wantField: "upstream.port",
		},
		{
			name:      "listen port out of range",
			mutate:    func(c *Config) { c.ListenPort = -5 },
			wantField: "listen.port",
		},
		{
			name: "partial matrix settings",
			mutate: func(c *Config) {
				c.MatrixHomeserver = "https://matrix.example.org"
				c.MatrixToken = "tok"
			},
			wantField: "matrix",
		},
		{
			name:      "unknown log level",
			mutate:    func(c *Config) { c.LogLevel = "loud" },
			wantField: "log_level",
		},
		{
			name:      "trigger with spaces",
			mutate:    func(c *Config) { c.TriggerPrefix = "/g em" },
			wantField: "trigger_prefix",
		},
		{
			name:      "negative delay",
			mutate:    func(c *Config) { c.ResponseDelay = -time.Second },
			wantField: "response_delay",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()

			if tt.wantField == "" {
				if err != nil {
					t.Errorf("Validate() unexpected error: %v", err)
				}
				return
			}

			var cfgErr *domain.ConfigurationError
			if !errors.As(err, &cfgErr) {
				t.Fatalf("Validate() error = %v, want ConfigurationError", err)
			}
			if cfgErr.Field != tt.wantField {
				t.Errorf("Field = %v, want %v", cfgErr.Field, tt.wantField)
			}
			if !errors.Is(err, domain.ErrInvalidConfig) {
				t.Error("error should wrap ErrInvalidConfig")
			}
		})
	}
}

func TestConfig_ToRelayConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ListenHost = "127.0.0.1"
	cfg.ListenPort = 5000
	cfg.UpstreamHost = "::1"
	cfg.UpstreamPort = 4403
	cfg.BotChannel = 0
	cfg.MirrorMesh = true

	rc := cfg.ToRelayConfig()

	if rc.ListenAddr != "127.0.0.1:5000" {
		t.Errorf("ListenAddr = %v, want 127.0.0.1:5000", rc.ListenAddr)
	}
	if rc.UpstreamAddr != "[::1]:4403" {
		t.Errorf("UpstreamAddr = %v, want [::1]:4403", rc.UpstreamAddr)
	}
	if rc.BotChannel != 0 {
		t.Errorf("BotChannel = %v, want 0", rc.BotChannel)
	}
	if !rc.MirrorMesh {
		t.Error("MirrorMesh should carry over")
	}
	if err := rc.Validate(); err != nil {
		t.Errorf("relay config should validate: %v", err)
	}
}

func TestConfig_Level(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Level() != "info" {
		t.Errorf("Level() = %v, want info", cfg.Level())
	}
	cfg.Debug = true
	if cfg.Level() != "debug" {
		t.Errorf("Level() = %v, want debug when Debug is set", cfg.Level())
	}
}
