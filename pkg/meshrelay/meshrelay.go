package meshrelay

import (
	"context"
	"net"
	"sync"

	"github.com/bft-labs/meshrelay/internal/app"
	"github.com/bft-labs/meshrelay/pkg/lifecycle"
	"github.com/bft-labs/meshrelay/pkg/log"
)

type (
	// Settings are the values that can change while the relay runs.
	Settings = app.Settings

	// Stats is a snapshot of relay counters.
	Stats = app.Stats

	// LinkStatus is a snapshot of the upstream connection.
	LinkStatus = app.LinkStatus
)

// Relay shares one gateway connection between many clients. Use New to
// create one, then Start.
type Relay struct {
	config    Config
	opts      options
	lifecycle *lifecycle.DefaultManager
	logger    log.Logger

	mu       sync.RWMutex
	engine   *app.Engine
	settings Settings
}

// New validates cfg and creates a stopped Relay.
func New(cfg Config, opts ...Option) (*Relay, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = log.NewNoopLogger()
	}

	ec := cfg.engineConfig()
	return &Relay{
		config:    cfg,
		opts:      o,
		lifecycle: lifecycle.NewManager(o.logger, &eventEmitter{handler: o.eventHandler}),
		logger:    o.logger,
		settings:  ec.Interceptor.Settings,
	}, nil
}

// Start binds the client listener, initializes plugins and runs the relay in
// the background. Listen errors are returned directly.
func (r *Relay) Start(ctx context.Context) error {
	r.mu.Lock()
	if !r.lifecycle.CanStart() {
		r.mu.Unlock()
		return ErrAlreadyRunning
	}
	if err := r.lifecycle.TransitionTo(StateStarting, "Start() called"); err != nil {
		r.mu.Unlock()
		return err
	}

	ec := r.config.engineConfig()
	ec.Interceptor.Settings = r.settings
	engine := app.NewEngine(ec, app.Collaborators{
		Answerer: r.opts.answerer,
		Bridge:   r.opts.bridge,
		Journal:  r.opts.journal,
	}, r.logger)

	if err := engine.Listen(); err != nil {
		_ = r.lifecycle.TransitionTo(StateCrashed, "listen failed")
		r.mu.Unlock()
		return err
	}
	r.engine = engine

	runCtx, cancel := context.WithCancel(ctx)
	r.lifecycle.SetCancel(cancel)
	r.mu.Unlock()

	// Plugins may call back into the relay, so no lock is held here.

	pluginCfg := PluginConfig{
		ConfigPath: r.opts.configPath,
		Logger:     r.logger,
		Relay:      r,
		Stats:      r,
		Journal:    r.opts.journal,
	}
	for _, p := range r.opts.plugins {
		if err := p.Initialize(runCtx, pluginCfg); err != nil {
			r.logger.Error("plugin initialization failed",
				log.String("plugin", p.Name()),
				log.Err(err))
			cancel()
			_ = engine.Close()
			_ = r.lifecycle.TransitionTo(StateCrashed, "plugin init failed: "+p.Name())
			return err
		}
		r.logger.Info("plugin initialized", log.String("plugin", p.Name()))
	}

	r.lifecycle.AddWorker()
	go func() {
		defer r.lifecycle.WorkerDone()

		if err := r.lifecycle.TransitionTo(StateRunning, "engine starting"); err != nil {
			r.logger.Error("failed to transition to running", log.Err(err))
		}
		if err := engine.Run(runCtx); err != nil && runCtx.Err() == nil {
			r.logger.Error("engine error", log.Err(err))
			_ = r.lifecycle.TransitionTo(StateCrashed, err.Error())
		}
	}()

	return nil
}

// Stop shuts the relay down, closing every connection. It waits up to
// lifecycle.ShutdownTimeout and returns ErrShutdownTimeout if forced.
func (r *Relay) Stop() error {
	r.mu.Lock()
	if !r.lifecycle.CanStop() {
		r.mu.Unlock()
		return ErrNotRunning
	}
	if err := r.lifecycle.TransitionTo(StateStopping, "Stop() called"); err != nil {
		r.mu.Unlock()
		return err
	}
	r.lifecycle.Cancel()
	r.mu.Unlock()

	err := r.lifecycle.WaitWithTimeout(lifecycle.ShutdownTimeout)
	if err != nil {
		err = ErrShutdownTimeout
	}

	shutdownCtx := context.Background()
	for i := len(r.opts.plugins) - 1; i >= 0; i-- {
		p := r.opts.plugins[i]
		if shutdownErr := p.Shutdown(shutdownCtx); shutdownErr != nil {
			r.logger.Error("plugin shutdown failed",
				log.String("plugin", p.Name()),
				log.Err(shutdownErr))
		} else {
			r.logger.Info("plugin shutdown complete", log.String("plugin", p.Name()))
		}
	}

	if err != nil {
		_ = r.lifecycle.TransitionTo(StateCrashed, "shutdown timeout")
	} else {
		_ = r.lifecycle.TransitionTo(StateStopped, "graceful shutdown")
	}
	return err
}

// Status returns the lifecycle state.
func (r *Relay) Status() State {
	return r.lifecycle.State()
}

// LastTransition returns the most recent lifecycle change, including the
// reason a crash was recorded with.
func (r *Relay) LastTransition() StateChangeEvent {
	t := r.lifecycle.Last()
	return StateChangeEvent{Previous: t.From, Current: t.To, Reason: t.Reason}
}

// Addr returns the client listener address while running, or nil.
func (r *Relay) Addr() net.Addr {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.engine == nil {
		return nil
	}
	return r.engine.Addr()
}

// Stats returns relay counters. The zero value is returned before Start.
func (r *Relay) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.engine == nil {
		return Stats{}
	}
	return r.engine.Stats()
}

// Settings returns the hot-reloadable settings.
func (r *Relay) Settings() Settings {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.settings
}

// UpdateSettings replaces the hot-reloadable settings. The values survive a
// restart of the relay.
func (r *Relay) UpdateSettings(s Settings) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.engine != nil {
		if err := r.engine.UpdateSettings(s); err != nil {
			return err
		}
	} else {
		cfg := r.config
		cfg.TriggerPrefix, cfg.BotChannel, cfg.ResponseDelay = s.TriggerPrefix, s.BotChannel, s.ResponseDelay
		if err := cfg.Validate(); err != nil {
			return err
		}
	}
	r.settings = s
	return nil
}

var (
	_ SettingsController = (*Relay)(nil)
	_ StatsSource        = (*Relay)(nil)
)
