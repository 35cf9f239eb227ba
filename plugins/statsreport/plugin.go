// Package statsreport periodically logs relay counters: connected clients,
// upstream link state, frames relayed in each direction and command
// outcomes.
package statsreport

import (
	"context"
	"sync"
	"time"

	"github.com/bft-labs/meshrelay/pkg/log"
	"github.com/bft-labs/meshrelay/pkg/meshrelay"
)

// Plugin implements periodic stats reporting.
type Plugin struct {
	mu sync.RWMutex

	// Configuration
	interval    time.Duration
	onlyChanges bool

	// Runtime state
	source  meshrelay.StatsSource
	logger  log.Logger
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	last    meshrelay.Stats
	reports int
}

// Config holds configuration options for the stats report plugin.
type Config struct {
	// Interval is the time between reports.
	// Default: 5 minutes
	Interval time.Duration

	// OnlyChanges skips a report when no counter moved since the last one.
	OnlyChanges bool
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Interval:    5 * time.Minute,
		OnlyChanges: true,
	}
}

// New creates a new stats report plugin with the given configuration.
func New(cfg Config) *Plugin {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Minute
	}
	return &Plugin{
		interval:    cfg.Interval,
		onlyChanges: cfg.OnlyChanges,
	}
}

// Name returns the plugin identifier.
func (p *Plugin) Name() string {
	return "statsreport"
}

// Initialize starts the report loop.
func (p *Plugin) Initialize(ctx context.Context, cfg meshrelay.PluginConfig) error {
	p.mu.Lock()
	p.source = cfg.Stats
	p.logger = cfg.Logger
	if p.logger == nil {
		p.logger = log.NewNoopLogger()
	}
	p.mu.Unlock()

	if p.source == nil {
		p.logger.Warn("stats report disabled: no stats source")
		return nil
	}

	reportCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel

	p.wg.Add(1)
	go p.reportLoop(reportCtx)

	return nil
}

// Shutdown stops the report loop.
func (p *Plugin) Shutdown(ctx context.Context) error {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
	return nil
}

func (p *Plugin) reportLoop(ctx context.Context) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.report()
		}
	}
}

// report logs one snapshot and reports whether it was written.
func (p *Plugin) report() bool {
	s := p.source.Stats()

	p.mu.Lock()
	unchanged := p.reports > 0 && sameCounters(s, p.last)
	if p.onlyChanges && unchanged {
		p.mu.Unlock()
		return false
	}
	p.last = s
	p.reports++
	p.mu.Unlock()

	fields := []log.Field{
		log.Int("clients", s.Clients),
		log.String("link", s.Link.State.String()),
		log.Uint64("frames_from_upstream", s.FramesFromUpstream),
		log.Uint64("frames_to_upstream", s.FramesToUpstream),
		log.Uint64("frames_not_relayed", s.FramesNotRelayed),
		log.Uint64("broadcasts", s.Broadcasts),
		log.Uint64("malformed", s.MalformedFrames),
		log.Uint64("commands_accepted", s.CommandsAccepted),
		log.Uint64("commands_answered", s.CommandsAnswered),
		log.Uint64("commands_failed", s.CommandsFailed),
		log.Int("commands_pending", s.PendingCommands),
	}
	if s.Link.Failures > 0 {
		fields = append(fields, log.Int("link_failures", s.Link.Failures))
	}
	if !s.Link.ConnectedSince.IsZero() {
		fields = append(fields, log.Duration("link_uptime", time.Since(s.Link.ConnectedSince).Round(time.Second)))
	}
	p.logger.Info("relay stats", fields...)
	return true
}

// sameCounters compares the fields that move with traffic.
func sameCounters(a, b meshrelay.Stats) bool {
	return a.Clients == b.Clients &&
		a.Link.State == b.Link.State &&
		a.FramesFromUpstream == b.FramesFromUpstream &&
		a.FramesToUpstream == b.FramesToUpstream &&
		a.FramesNotRelayed == b.FramesNotRelayed &&
		a.MalformedFrames == b.MalformedFrames &&
		a.CommandsAccepted == b.CommandsAccepted &&
		a.PendingCommands == b.PendingCommands
}

// Reports returns how many snapshots were logged.
func (p *Plugin) Reports() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.reports
}

var _ meshrelay.Plugin = (*Plugin)(nil)
