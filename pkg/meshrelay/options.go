package meshrelay

import (
	"github.com/bft-labs/meshrelay/internal/ports"
	"github.com/bft-labs/meshrelay/pkg/log"
)

// Collaborator interfaces, re-exported for implementers outside the module.
type (
	// Answerer produces answers for intercepted commands.
	Answerer = ports.Answerer

	// AnswererFunc adapts a function to Answerer.
	AnswererFunc = ports.AnswererFunc

	// Bridge connects the relay to a chat platform.
	Bridge = ports.Bridge

	// InjectFunc hands bridge text to the relay.
	InjectFunc = ports.InjectFunc

	// Journal persists finished commands.
	Journal = ports.Journal
)

// Option configures optional behavior of a Relay.
type Option func(*options)

type options struct {
	logger       log.Logger
	eventHandler EventHandler
	plugins      []Plugin
	answerer     Answerer
	bridge       Bridge
	journal      Journal
	configPath   string
}

func defaultOptions() options {
	return options{
		logger: log.NewNoopLogger(),
	}
}

// WithLogger sets the logger. Without it nothing is logged.
func WithLogger(logger log.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithEventHandler sets a handler for relay events. Events are delivered
// synchronously and handlers should return quickly.
func WithEventHandler(handler EventHandler) Option {
	return func(o *options) {
		o.eventHandler = handler
	}
}

// WithPlugin registers a plugin. Plugins are initialized in registration
// order on Start and shut down in reverse order on Stop.
func WithPlugin(plugin Plugin) Option {
	return func(o *options) {
		o.plugins = append(o.plugins, plugin)
	}
}

// WithAnswerer enables command answering.
func WithAnswerer(a Answerer) Option {
	return func(o *options) {
		o.answerer = a
	}
}

// WithBridge connects a chat bridge.
func WithBridge(b Bridge) Option {
	return func(o *options) {
		o.bridge = b
	}
}

// WithJournal records every finished command.
func WithJournal(j Journal) Option {
	return func(o *options) {
		o.journal = j
	}
}

// WithConfigPath tells plugins which config file the relay was loaded from.
func WithConfigPath(path string) Option {
	return func(o *options) {
		o.configPath = path
	}
}
