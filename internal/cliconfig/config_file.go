package cliconfig

import (
	"os"
	"path/filepath"

	toml "github.com/pelletier/go-toml/v2"
)

// FileConfig mirrors Config but uses strings for durations to make TOML friendly.
// Pointers mark values where zero is meaningful.
type FileConfig struct {
	LogLevel string `toml:"log_level"`
	Debug    *bool  `toml:"debug"`

	Listen   ListenSection   `toml:"listen"`
	Upstream UpstreamSection `toml:"upstream"`
	Command  CommandSection  `toml:"command"`
	Gemini   GeminiSection   `toml:"gemini"`
	Matrix   MatrixSection   `toml:"matrix"`
	Journal  JournalSection  `toml:"journal"`
}

// ListenSection is the [listen] table.
type ListenSection struct {
	Host       string `toml:"host"`
	Port       *int   `toml:"port"`
	MaxClients int    `toml:"max_clients"`
	QueueSize  int    `toml:"queue_size"`
}

// UpstreamSection is the [upstream] table.
type UpstreamSection struct {
	Host          string   `toml:"host"`
	Port          int      `toml:"port"`
	DialTimeout   string   `toml:"dial_timeout"`
	BackoffBase   string   `toml:"backoff_base"`
	BackoffMax    string   `toml:"backoff_max"`
	BackoffJitter *float64 `toml:"backoff_jitter"`
}

// CommandSection is the [command] table. Its first three keys are
// hot-reloadable.
type CommandSection struct {
	TriggerPrefix  string `toml:"trigger_prefix"`
	BotChannel     *int   `toml:"bot_channel"`
	ResponseDelay  string `toml:"response_delay"`
	AITimeout      string `toml:"ai_timeout"`
	MaxPending     int    `toml:"max_pending"`
	MaxAnswerBytes int    `toml:"max_answer_bytes"`
	NotifyFailures *bool  `toml:"notify_failures"`
}

// GeminiSection is the [gemini] table.
type GeminiSection struct {
	APIKey         string `toml:"api_key"`
	Model          string `toml:"model"`
	MaxAnswerChars int    `toml:"max_answer_chars"`
}

// MatrixSection is the [matrix] table.
type MatrixSection struct {
	Homeserver  string `toml:"homeserver"`
	UserID      string `toml:"user_id"`
	AccessToken string `toml:"access_token"`
	RoomID      string `toml:"room_id"`
	MirrorMesh  *bool  `toml:"mirror_mesh"`
}

// JournalSection is the [journal] table.
type JournalSection struct {
	Path string `toml:"path"`
}

// LoadFileConfig reads and parses a TOML config file from the given path.
func LoadFileConfig(path string) (FileConfig, error) {
	var fc FileConfig
	b, err := os.ReadFile(path)
	if err != nil {
		return fc, err
	}
	if err := toml.Unmarshal(b, &fc); err != nil {
		return fc, err
	}
	return fc, nil
}

// DefaultConfigPath returns the default configuration file path.
// Returns ~/.meshrelay/config.toml if user home directory is accessible.
func DefaultConfigPath() string {
	if h, err := os.UserHomeDir(); err == nil {
		return filepath.Join(h, ".meshrelay", "config.toml")
	}
	return ""
}

// DefaultJournalPath returns ~/.meshrelay/journal.db, or "" without a home directory.
func DefaultJournalPath() string {
	if h, err := os.UserHomeDir(); err == nil {
		return filepath.Join(h, ".meshrelay", "journal.db")
	}
	return ""
}

// ApplyFileConfig applies configuration from a file to the Config struct.
// It respects flags that have been explicitly set (changed map).
func ApplyFileConfig(cfg *Config, fc FileConfig, changed map[string]bool) error {
	s := newConfigSetter(changed)

	s.setString("log-level", fc.LogLevel, &cfg.LogLevel)
	s.setBool("debug", fc.Debug, &cfg.Debug)

	s.setString("listen-host", fc.Listen.Host, &cfg.ListenHost)
	s.setIntPtr("listen-port", fc.Listen.Port, &cfg.ListenPort)
	s.setInt("max-clients", fc.Listen.MaxClients, &cfg.MaxClients)
	s.setInt("queue-size", fc.Listen.QueueSize, &cfg.QueueSize)

	s.setString("upstream-host", fc.Upstream.Host, &cfg.UpstreamHost)
	s.setInt("upstream-port", fc.Upstream.Port, &cfg.UpstreamPort)
	if err := s.setDuration("dial-timeout", fc.Upstream.DialTimeout, &cfg.DialTimeout); err != nil {
		return err
	}
	if err := s.setDuration("backoff-base", fc.Upstream.BackoffBase, &cfg.BackoffBase); err != nil {
		return err
	}
	if err := s.setDuration("backoff-max", fc.Upstream.BackoffMax, &cfg.BackoffMax); err != nil {
		return err
	}
	s.setFloatPtr("backoff-jitter", fc.Upstream.BackoffJitter, &cfg.BackoffJitter)

	if err := ApplyCommandSection(cfg, fc.Command, changed); err != nil {
		return err
	}
	if err := s.setDuration("ai-timeout", fc.Command.AITimeout, &cfg.AITimeout); err != nil {
		return err
	}
	s.setInt("max-pending", fc.Command.MaxPending, &cfg.MaxPending)
	s.setInt("max-answer-bytes", fc.Command.MaxAnswerBytes, &cfg.MaxAnswerBytes)
	s.setBool("notify-failures", fc.Command.NotifyFailures, &cfg.NotifyFailures)

	s.setString("gemini-api-key", fc.Gemini.APIKey, &cfg.GeminiAPIKey)
	s.setString("gemini-model", fc.Gemini.Model, &cfg.GeminiModel)
	s.setInt("gemini-max-chars", fc.Gemini.MaxAnswerChars, &cfg.GeminiMaxChars)

	s.setString("matrix-homeserver", fc.Matrix.Homeserver, &cfg.MatrixHomeserver)
	s.setString("matrix-user", fc.Matrix.UserID, &cfg.MatrixUserID)
	s.setString("matrix-token", fc.Matrix.AccessToken, &cfg.MatrixToken)
	s.setString("matrix-room", fc.Matrix.RoomID, &cfg.MatrixRoomID)
	s.setBool("mirror-mesh", fc.Matrix.MirrorMesh, &cfg.MirrorMesh)

	s.setString("journal", fc.Journal.Path, &cfg.JournalPath)

	return nil
}

// ApplyCommandSection applies the hot-reloadable keys of [command]:
// trigger_prefix, bot_channel and response_delay.
func ApplyCommandSection(cfg *Config, cs CommandSection, changed map[string]bool) error {
	s := newConfigSetter(changed)

	s.setString("trigger", cs.TriggerPrefix, &cfg.TriggerPrefix)
	s.setIntPtr("bot-channel", cs.BotChannel, &cfg.BotChannel)
	return s.setDuration("response-delay", cs.ResponseDelay, &cfg.ResponseDelay)
}

// FileExists checks if a file exists at the given path.
func FileExists(p string) bool {
	_, err := os.Stat(p)
	return err == nil
}
