package meshrelay

import (
	"context"

	"github.com/bft-labs/meshrelay/pkg/log"
)

// Plugin extends a Relay with optional behavior.
type Plugin interface {
	// Name identifies the plugin in logs.
	Name() string

	// Initialize is called from Start. Long-running work must run in its
	// own goroutine and stop when ctx is canceled.
	Initialize(ctx context.Context, cfg PluginConfig) error

	// Shutdown is called from Stop.
	Shutdown(ctx context.Context) error
}

// SettingsController reads and replaces the hot-reloadable settings.
type SettingsController interface {
	Settings() Settings
	UpdateSettings(s Settings) error
}

// StatsSource reads relay counters.
type StatsSource interface {
	Stats() Stats
}

// PluginConfig is passed to Plugin.Initialize.
type PluginConfig struct {
	// ConfigPath is the config file the relay was loaded from, if any.
	ConfigPath string
	Logger     log.Logger
	Relay      SettingsController
	Stats      StatsSource

	// Journal is the command journal set with WithJournal, or nil.
	Journal Journal
}
