package meshrelay

import (
	"net"
	"strings"
	"time"

	"github.com/bft-labs/meshrelay/internal/app"
	"github.com/bft-labs/meshrelay/internal/domain"
	"github.com/bft-labs/meshrelay/pkg/lifecycle"
	"github.com/bft-labs/meshrelay/pkg/mesh"
)

// Default endpoints.
const (
	DefaultListenAddr   = "0.0.0.0:4404"
	DefaultUpstreamAddr = "192.168.2.144:4403"
)

// Config holds the relay settings.
type Config struct {
	// ListenAddr is where clients connect (host:port).
	ListenAddr string
	// UpstreamAddr is the gateway's TCP API endpoint (host:port).
	UpstreamAddr string

	MaxClients int
	QueueSize  int

	DialTimeout   time.Duration
	BackoffBase   time.Duration
	BackoffMax    time.Duration
	BackoffJitter float64

	TriggerPrefix  string
	BotChannel     uint8
	ResponseDelay  time.Duration
	AITimeout      time.Duration
	MaxPending     int
	MaxAnswerBytes int
	NotifyFailures bool
	FailureNotice  string

	// MirrorMesh forwards mesh text packets to the bridge, if one is set.
	MirrorMesh bool
}

// DefaultConfig returns a Config with every field at its default.
func DefaultConfig() Config {
	return Config{
		ListenAddr:     DefaultListenAddr,
		UpstreamAddr:   DefaultUpstreamAddr,
		MaxClients:     app.DefaultMaxClients,
		QueueSize:      app.DefaultQueueSize,
		DialTimeout:    app.DefaultDialTimeout,
		BackoffBase:    lifecycle.DefaultBackoffBase,
		BackoffMax:     lifecycle.DefaultBackoffMax,
		BackoffJitter:  lifecycle.DefaultBackoffJitter,
		TriggerPrefix:  app.DefaultTriggerPrefix,
		BotChannel:     app.DefaultBotChannel,
		ResponseDelay:  app.DefaultResponseDelay,
		AITimeout:      app.DefaultAITimeout,
		MaxPending:     app.DefaultMaxPending,
		MaxAnswerBytes: app.DefaultMaxAnswerBytes,
		FailureNotice:  app.DefaultFailureNotice,
	}
}

// SetDefaults fills zero values. BotChannel, BackoffJitter and ResponseDelay
// are left alone because zero is meaningful for them.
func (c *Config) SetDefaults() {
	d := DefaultConfig()
	if c.ListenAddr == "" {
		c.ListenAddr = d.ListenAddr
	}
	if c.UpstreamAddr == "" {
		c.UpstreamAddr = d.UpstreamAddr
	}
	if c.MaxClients == 0 {
		c.MaxClients = d.MaxClients
	}
	if c.QueueSize == 0 {
		c.QueueSize = d.QueueSize
	}
	if c.DialTimeout == 0 {
		c.DialTimeout = d.DialTimeout
	}
	if c.BackoffBase == 0 {
		c.BackoffBase = d.BackoffBase
	}
	if c.BackoffMax == 0 {
		c.BackoffMax = d.BackoffMax
	}
	if c.TriggerPrefix == "" {
		c.TriggerPrefix = d.TriggerPrefix
	}
	if c.AITimeout == 0 {
		c.AITimeout = d.AITimeout
	}
	if c.MaxPending == 0 {
		c.MaxPending = d.MaxPending
	}
	if c.MaxAnswerBytes == 0 {
		c.MaxAnswerBytes = d.MaxAnswerBytes
	}
	if c.FailureNotice == "" {
		c.FailureNotice = d.FailureNotice
	}
}

// Validate reports the first invalid field as a *ConfigurationError.
func (c *Config) Validate() error {
	if err := validateAddr("listen_addr", c.ListenAddr); err != nil {
		return err
	}
	if err := validateAddr("upstream_addr", c.UpstreamAddr); err != nil {
		return err
	}
	if c.MaxClients <= 0 {
		return domain.NewConfigError("max_clients", "must be positive")
	}
	if c.QueueSize <= 0 {
		return domain.NewConfigError("queue_size", "must be positive")
	}
	if c.DialTimeout <= 0 {
		return domain.NewConfigError("dial_timeout", "must be positive")
	}
	if c.BackoffBase <= 0 {
		return domain.NewConfigError("backoff_base", "must be positive")
	}
	if c.BackoffMax < c.BackoffBase {
		return domain.NewConfigError("backoff_max", "%s is below backoff_base %s", c.BackoffMax, c.BackoffBase)
	}
	if c.BackoffJitter < 0 || c.BackoffJitter > 1 {
		return domain.NewConfigError("backoff_jitter", "%g outside [0,1]", c.BackoffJitter)
	}
	if c.TriggerPrefix == "" || strings.ContainsAny(c.TriggerPrefix, " \t\r\n") {
		return domain.NewConfigError("trigger_prefix", "must be a single non-empty word")
	}
	if c.BotChannel > mesh.MaxChannel {
		return domain.NewConfigError("bot_channel", "%d outside [0,%d]", c.BotChannel, mesh.MaxChannel)
	}
	if c.ResponseDelay < 0 {
		return domain.NewConfigError("response_delay", "must not be negative")
	}
	if c.AITimeout <= 0 {
		return domain.NewConfigError("ai_timeout", "must be positive")
	}
	if c.MaxPending <= 0 {
		return domain.NewConfigError("max_pending", "must be positive")
	}
	if c.MaxAnswerBytes <= 0 || c.MaxAnswerBytes > mesh.MaxTextBytes {
		return domain.NewConfigError("max_answer_bytes", "%d outside [1,%d]", c.MaxAnswerBytes, mesh.MaxTextBytes)
	}
	return nil
}

// validateAddr checks host:port. Port 0 is accepted for the listener so
// tests can bind an ephemeral port.
func validateAddr(field, addr string) error {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return domain.NewConfigError(field, "%v", err)
	}
	if port == "" {
		return domain.NewConfigError(field, "port is required")
	}
	if field == "upstream_addr" && (host == "" || port == "0") {
		return domain.NewConfigError(field, "host and port are required")
	}
	return nil
}

func (c Config) engineConfig() app.EngineConfig {
	return app.EngineConfig{
		Server: app.ServerConfig{
			Address:    c.ListenAddr,
			MaxClients: c.MaxClients,
		},
		Link: app.LinkConfig{
			Address:       c.UpstreamAddr,
			DialTimeout:   c.DialTimeout,
			BackoffBase:   c.BackoffBase,
			BackoffMax:    c.BackoffMax,
			BackoffJitter: c.BackoffJitter,
		},
		Interceptor: app.InterceptorConfig{
			Settings: app.Settings{
				TriggerPrefix: c.TriggerPrefix,
				BotChannel:    c.BotChannel,
				ResponseDelay: c.ResponseDelay,
			},
			AITimeout:      c.AITimeout,
			MaxPending:     c.MaxPending,
			MaxAnswerBytes: c.MaxAnswerBytes,
			NotifyFailures: c.NotifyFailures,
			FailureNotice:  c.FailureNotice,
		},
		QueueSize:  c.QueueSize,
		MirrorMesh: c.MirrorMesh,
	}
}
