package cliconfig

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/bft-labs/meshrelay/internal/domain"
	"github.com/bft-labs/meshrelay/pkg/log"
	"github.com/bft-labs/meshrelay/pkg/mesh"
	"github.com/bft-labs/meshrelay/pkg/meshrelay"
)

// DefaultGeminiModel is used when no model is configured.
const DefaultGeminiModel = "gemini-2.5-flash"

// DefaultGeminiMaxChars bounds the answer the AI service returns before the
// relay's own byte limit applies.
const DefaultGeminiMaxChars = 600

// Config holds CLI configuration for meshrelay.
type Config struct {
	ListenHost string
	ListenPort int
	MaxClients int
	QueueSize  int

	UpstreamHost  string
	UpstreamPort  int
	DialTimeout   time.Duration
	BackoffBase   time.Duration
	BackoffMax    time.Duration
	BackoffJitter float64

	TriggerPrefix  string
	BotChannel     int
	ResponseDelay  time.Duration
	AITimeout      time.Duration
	MaxPending     int
	MaxAnswerBytes int
	NotifyFailures bool

	GeminiAPIKey   string
	GeminiModel    string
	GeminiMaxChars int

	MatrixHomeserver string
	MatrixUserID     string
	MatrixToken      string
	MatrixRoomID     string
	MirrorMesh       bool

	JournalPath string
	LogLevel    string
	Debug       bool
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() Config {
	d := meshrelay.DefaultConfig()
	listenHost, listenPort := splitDefault(d.ListenAddr)
	upstreamHost, upstreamPort := splitDefault(d.UpstreamAddr)

	return Config{
		ListenHost:     listenHost,
		ListenPort:     listenPort,
		MaxClients:     d.MaxClients,
		QueueSize:      d.QueueSize,
		UpstreamHost:   upstreamHost,
		UpstreamPort:   upstreamPort,
		DialTimeout:    d.DialTimeout,
		BackoffBase:    d.BackoffBase,
		BackoffMax:     d.BackoffMax,
		BackoffJitter:  d.BackoffJitter,
		TriggerPrefix:  d.TriggerPrefix,
		BotChannel:     int(d.BotChannel),
		ResponseDelay:  d.ResponseDelay,
		AITimeout:      d.AITimeout,
		MaxPending:     d.MaxPending,
		MaxAnswerBytes: d.MaxAnswerBytes,
		GeminiModel:    DefaultGeminiModel,
		GeminiMaxChars: DefaultGeminiMaxChars,
		LogLevel:       "info",
	}
}

func splitDefault(addr string) (string, int) {
	host, port, _ := net.SplitHostPort(addr)
	p, _ := strconv.Atoi(port)
	return host, p
}

// Validate checks the configuration for errors. All errors are
// *domain.ConfigurationError.
func (c *Config) Validate() error {
	if c.ListenPort < 0 || c.ListenPort > 65535 {
		return domain.NewConfigError("listen.port", "%d outside [0,65535]", c.ListenPort)
	}
	if c.UpstreamHost == "" {
		return domain.NewConfigError("upstream.host", "is required")
	}
	if c.UpstreamPort <= 0 || c.UpstreamPort > 65535 {
		return domain.NewConfigError("upstream.port", "%d outside [1,65535]", c.UpstreamPort)
	}
	if c.BotChannel < 0 || c.BotChannel > mesh.MaxChannel {
		return domain.NewConfigError("command.bot_channel", "%d outside [0,%d]", c.BotChannel, mesh.MaxChannel)
	}
	if c.GeminiAPIKey != "" && c.GeminiModel == "" {
		return domain.NewConfigError("gemini.model", "is required with an API key")
	}
	if c.GeminiMaxChars <= 0 {
		return domain.NewConfigError("gemini.max_answer_chars", "must be positive")
	}
	if c.MatrixEnabled() {
		if c.MatrixHomeserver == "" || c.MatrixUserID == "" || c.MatrixToken == "" || c.MatrixRoomID == "" {
			return domain.NewConfigError("matrix", "homeserver, user_id, access_token and room_id must all be set")
		}
	}
	switch strings.ToLower(c.LogLevel) {
	case "", log.LevelDebug, log.LevelInfo, log.LevelWarn, "warning", log.LevelError:
	default:
		return domain.NewConfigError("log_level", "unknown level %q", c.LogLevel)
	}

	rc := c.ToRelayConfig()
	return rc.Validate()
}

// MatrixEnabled reports whether any Matrix setting is present.
func (c *Config) MatrixEnabled() bool {
	return c.MatrixHomeserver != "" || c.MatrixToken != "" || c.MatrixRoomID != ""
}

// Level returns the effective log level. Debug overrides LogLevel.
func (c *Config) Level() string {
	if c.Debug {
		return "debug"
	}
	return c.LogLevel
}

// ToRelayConfig converts to the library configuration.
func (c *Config) ToRelayConfig() meshrelay.Config {
	rc := meshrelay.DefaultConfig()
	rc.ListenAddr = net.JoinHostPort(c.ListenHost, strconv.Itoa(c.ListenPort))
	rc.UpstreamAddr = net.JoinHostPort(c.UpstreamHost, strconv.Itoa(c.UpstreamPort))
	rc.MaxClients = c.MaxClients
	rc.QueueSize = c.QueueSize
	rc.DialTimeout = c.DialTimeout
	rc.BackoffBase = c.BackoffBase
	rc.BackoffMax = c.BackoffMax
	rc.BackoffJitter = c.BackoffJitter
	rc.TriggerPrefix = c.TriggerPrefix
	rc.BotChannel = uint8(c.BotChannel)
	rc.ResponseDelay = c.ResponseDelay
	rc.AITimeout = c.AITimeout
	rc.MaxPending = c.MaxPending
	rc.MaxAnswerBytes = c.MaxAnswerBytes
	rc.NotifyFailures = c.NotifyFailures
	rc.MirrorMesh = c.MirrorMesh
	return rc
}

// configSetter helps apply configuration values while respecting flag precedence.
// It only applies values if the corresponding flag hasn't been explicitly set.
type configSetter struct {
	changed map[string]bool
}

func newConfigSetter(changed map[string]bool) *configSetter {
	return &configSetter{changed: changed}
}

// setString sets a string value if not empty and flag not changed.
func (s *configSetter) setString(flag, value string, dst *string) {
	if value == "" || s.changed[flag] {
		return
	}
	*dst = value
}

// setInt sets an int value if positive and flag not changed.
func (s *configSetter) setInt(flag string, value int, dst *int) {
	if value <= 0 || s.changed[flag] {
		return
	}
	*dst = value
}

// setIntPtr sets an int from a pointer. Zero is a valid value here.
func (s *configSetter) setIntPtr(flag string, value *int, dst *int) {
	if value == nil || s.changed[flag] {
		return
	}
	*dst = *value
}

// setFloatPtr sets a float64 from a pointer. Zero is a valid value here.
func (s *configSetter) setFloatPtr(flag string, value *float64, dst *float64) {
	if value == nil || s.changed[flag] {
		return
	}
	*dst = *value
}

// setDuration parses and sets a duration from string if valid and flag not changed.
func (s *configSetter) setDuration(flag, value string, dst *time.Duration) error {
	if value == "" || s.changed[flag] {
		return nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("parse %s: %w", flag, err)
	}
	*dst = d
	return nil
}

// setBool sets a bool value from a pointer if not nil and flag not changed.
func (s *configSetter) setBool(flag string, value *bool, dst *bool) {
	if value == nil || s.changed[flag] {
		return
	}
	*dst = *value
}

// setIntFromString parses a string to int and sets the destination if valid.
// Non-positive values are ignored.
func (s *configSetter) setIntFromString(flag, value string, dst *int) error {
	if value == "" || s.changed[flag] {
		return nil
	}
	i, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("parse %s: %w", flag, err)
	}
	if i <= 0 {
		return nil
	}
	*dst = i
	return nil
}

// setIntFromStringZero is setIntFromString for settings where zero counts.
func (s *configSetter) setIntFromStringZero(flag, value string, dst *int) error {
	if value == "" || s.changed[flag] {
		return nil
	}
	i, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("parse %s: %w", flag, err)
	}
	*dst = i
	return nil
}

// setFloatFromString parses a string to float64 and sets the destination.
func (s *configSetter) setFloatFromString(flag, value string, dst *float64) error {
	if value == "" || s.changed[flag] {
		return nil
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fmt.Errorf("parse %s: %w", flag, err)
	}
	*dst = f
	return nil
}

// setBoolFromString parses a string to bool and sets the destination.
// Accepts "true", "1" as true, anything else as false.
func (s *configSetter) setBoolFromString(flag, value string, dst *bool) {
	if value == "" || s.changed[flag] {
		return
	}
	*dst = value == "true" || value == "1"
}
