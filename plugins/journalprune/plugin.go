// Package journalprune keeps the command journal from growing without
// bound. It periodically counts journal rows and, above a high watermark,
// deletes the oldest until a low watermark remains.
package journalprune

import (
	"context"
	"sync"
	"time"

	"github.com/bft-labs/meshrelay/pkg/log"
	"github.com/bft-labs/meshrelay/pkg/meshrelay"
)

// Pruner is implemented by journals that can be trimmed.
type Pruner interface {
	Count(ctx context.Context) (int, error)
	Prune(ctx context.Context, keep int) (int64, error)
}

// Plugin implements journal pruning.
type Plugin struct {
	mu sync.RWMutex

	// Configuration
	checkInterval  time.Duration
	highWatermark  int
	lowWatermark   int
	runImmediately bool

	// Runtime state
	pruner  Pruner
	logger  log.Logger
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	removed int64
}

// Config holds configuration options for the journal prune plugin.
type Config struct {
	// CheckInterval is how often to count journal rows.
	// Default: 6 hours
	CheckInterval time.Duration

	// HighWatermark is the row count above which pruning begins.
	// Default: 10000
	HighWatermark int

	// LowWatermark is the row count kept after pruning.
	// Default: 8000
	LowWatermark int

	// RunImmediately runs a check on startup.
	RunImmediately bool
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		CheckInterval:  6 * time.Hour,
		HighWatermark:  10000,
		LowWatermark:   8000,
		RunImmediately: true,
	}
}

// New creates a new journal prune plugin with the given configuration.
func New(cfg Config) *Plugin {
	d := DefaultConfig()
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = d.CheckInterval
	}
	if cfg.HighWatermark <= 0 {
		cfg.HighWatermark = d.HighWatermark
	}
	if cfg.LowWatermark <= 0 || cfg.LowWatermark > cfg.HighWatermark {
		cfg.LowWatermark = cfg.HighWatermark * 4 / 5
	}

	return &Plugin{
		checkInterval:  cfg.CheckInterval,
		highWatermark:  cfg.HighWatermark,
		lowWatermark:   cfg.LowWatermark,
		runImmediately: cfg.RunImmediately,
	}
}

// Name returns the plugin identifier.
func (p *Plugin) Name() string {
	return "journalprune"
}

// Initialize starts the prune loop if the relay has a prunable journal.
func (p *Plugin) Initialize(ctx context.Context, cfg meshrelay.PluginConfig) error {
	p.mu.Lock()
	p.logger = cfg.Logger
	if p.logger == nil {
		p.logger = log.NewNoopLogger()
	}
	pruner, ok := cfg.Journal.(Pruner)
	p.pruner = pruner
	p.mu.Unlock()

	if cfg.Journal == nil || !ok {
		p.logger.Warn("journal pruning disabled: no prunable journal configured")
		return nil
	}

	pruneCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel

	p.logger.Info("journal prune plugin initialized",
		log.Int("high_watermark", p.highWatermark),
		log.Int("low_watermark", p.lowWatermark))

	p.wg.Add(1)
	go p.pruneLoop(pruneCtx)

	return nil
}

// Shutdown stops the prune loop.
func (p *Plugin) Shutdown(ctx context.Context) error {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
	return nil
}

func (p *Plugin) pruneLoop(ctx context.Context) {
	defer p.wg.Done()

	if p.runImmediately {
		p.pruneOnce(ctx)
	}

	ticker := time.NewTicker(p.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.pruneOnce(ctx)
		}
	}
}

// pruneOnce performs a single check.
func (p *Plugin) pruneOnce(ctx context.Context) {
	p.mu.RLock()
	pruner := p.pruner
	p.mu.RUnlock()

	n, err := pruner.Count(ctx)
	if err != nil {
		p.logger.Error("journal prune: count failed", log.Err(err))
		return
	}
	if n <= p.highWatermark {
		return
	}

	removed, err := pruner.Prune(ctx, p.lowWatermark)
	if err != nil {
		p.logger.Error("journal prune: delete failed", log.Err(err))
		return
	}

	p.mu.Lock()
	p.removed += removed
	p.mu.Unlock()

	p.logger.Info("journal prune completed",
		log.Int("before", n),
		log.Int64("removed", removed))
}

// Removed returns the total rows deleted since Initialize.
func (p *Plugin) Removed() int64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.removed
}

var _ meshrelay.Plugin = (*Plugin)(nil)
