// Package configwatcher reloads the relay's hot-reloadable settings when
// its config file changes. Only trigger_prefix, bot_channel and
// response_delay from the [command] table are applied; everything else
// needs a restart.
package configwatcher

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/bft-labs/meshrelay/internal/cliconfig"
	"github.com/bft-labs/meshrelay/internal/domain"
	"github.com/bft-labs/meshrelay/pkg/log"
	"github.com/bft-labs/meshrelay/pkg/mesh"
	"github.com/bft-labs/meshrelay/pkg/meshrelay"
)

// Plugin watches the config file and pushes [command] changes to the relay.
type Plugin struct {
	mu sync.Mutex

	debounceDelay time.Duration
	changed       map[string]bool

	path     string
	relay    meshrelay.SettingsController
	logger   log.Logger
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	debounce *time.Timer
	reloads  int
}

// Config holds configuration options for the config watcher plugin.
type Config struct {
	// DebounceDelay is the delay to wait after a file change before reloading.
	// Default: 100 milliseconds
	DebounceDelay time.Duration

	// Changed lists flag names set on the command line. Those settings are
	// never overwritten by the file.
	Changed map[string]bool
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		DebounceDelay: 100 * time.Millisecond,
	}
}

// New creates a new config watcher plugin with the given configuration.
func New(cfg Config) *Plugin {
	if cfg.DebounceDelay <= 0 {
		cfg.DebounceDelay = 100 * time.Millisecond
	}
	return &Plugin{
		debounceDelay: cfg.DebounceDelay,
		changed:       cfg.Changed,
	}
}

// Name returns the plugin identifier.
func (p *Plugin) Name() string {
	return "configwatcher"
}

// Initialize starts watching the relay's config file. Without a config path
// the plugin does nothing.
func (p *Plugin) Initialize(ctx context.Context, cfg meshrelay.PluginConfig) error {
	p.mu.Lock()
	p.path = cfg.ConfigPath
	p.relay = cfg.Relay
	p.logger = cfg.Logger
	p.mu.Unlock()

	if p.logger == nil {
		p.logger = log.NewNoopLogger()
	}
	if p.path == "" || p.relay == nil {
		p.logger.Warn("config watcher disabled: no config file")
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(filepath.Dir(p.path)); err != nil {
		_ = watcher.Close()
		return err
	}

	watchCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel

	p.logger.Info("config watcher started", log.String("path", p.path))

	p.wg.Add(1)
	go p.watchLoop(watchCtx, watcher)

	return nil
}

// Shutdown stops the watcher and any pending reload.
func (p *Plugin) Shutdown(ctx context.Context) error {
	if p.cancel != nil {
		p.cancel()
	}
	p.mu.Lock()
	if p.debounce != nil {
		p.debounce.Stop()
	}
	p.mu.Unlock()
	p.wg.Wait()
	return nil
}

func (p *Plugin) watchLoop(ctx context.Context, watcher *fsnotify.Watcher) {
	defer p.wg.Done()
	defer watcher.Close()

	name := filepath.Base(p.path)
	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != name {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			p.debounceReload(ctx)

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			p.logger.Error("config watcher error", log.Err(err))
		}
	}
}

func (p *Plugin) debounceReload(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.debounce != nil {
		p.debounce.Stop()
	}
	p.debounce = time.AfterFunc(p.debounceDelay, func() {
		if ctx.Err() != nil {
			return
		}
		if err := p.reload(); err != nil {
			p.logger.Warn("config reload failed, keeping current settings",
				log.String("path", p.path),
				log.Err(err))
		}
	})
}

// reload reads the file and applies [command] if it differs from the
// current settings.
func (p *Plugin) reload() error {
	fc, err := cliconfig.LoadFileConfig(p.path)
	if err != nil {
		return err
	}

	current := p.relay.Settings()
	cfg := cliconfig.Config{
		TriggerPrefix: current.TriggerPrefix,
		BotChannel:    int(current.BotChannel),
		ResponseDelay: current.ResponseDelay,
	}
	if err := cliconfig.ApplyCommandSection(&cfg, fc.Command, p.changed); err != nil {
		return err
	}
	if cfg.BotChannel < 0 || cfg.BotChannel > mesh.MaxChannel {
		return domain.NewConfigError("command.bot_channel", "%d outside [0,%d]", cfg.BotChannel, mesh.MaxChannel)
	}

	next := meshrelay.Settings{
		TriggerPrefix: cfg.TriggerPrefix,
		BotChannel:    uint8(cfg.BotChannel),
		ResponseDelay: cfg.ResponseDelay,
	}
	if next == current {
		return nil
	}
	if err := p.relay.UpdateSettings(next); err != nil {
		return err
	}

	p.mu.Lock()
	p.reloads++
	p.mu.Unlock()

	p.logger.Info("settings reloaded",
		log.String("trigger_prefix", next.TriggerPrefix),
		log.Int("bot_channel", int(next.BotChannel)),
		log.Duration("response_delay", next.ResponseDelay))
	return nil
}

// Reloads returns how many times settings were changed from the file.
func (p *Plugin) Reloads() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.reloads
}

var _ meshrelay.Plugin = (*Plugin)(nil)
