package journalprune

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/bft-labs/meshrelay/internal/domain"
	"github.com/bft-labs/meshrelay/pkg/log"
	"github.com/bft-labs/meshrelay/pkg/meshrelay"
)

// memJournal is an in-memory journal that supports pruning.
type memJournal struct {
	mu    sync.Mutex
	count int
	keeps []int
}

func (m *memJournal) Record(ctx context.Context, rec domain.CommandRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.count++
	return nil
}

func (m *memJournal) Recent(ctx context.Context, limit int) ([]domain.CommandRecord, error) {
	return nil, nil
}

func (m *memJournal) Close() error { return nil }

func (m *memJournal) Count(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.count, nil
}

func (m *memJournal) Prune(ctx context.Context, keep int) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.keeps = append(m.keeps, keep)
	if m.count <= keep {
		return 0, nil
	}
	removed := int64(m.count - keep)
	m.count = keep
	return removed, nil
}

// plainJournal cannot be pruned.
type plainJournal struct{}

func (plainJournal) Record(ctx context.Context, rec domain.CommandRecord) error { return nil }

func (plainJournal) Recent(ctx context.Context, limit int) ([]domain.CommandRecord, error) {
	return nil, nil
}

func (plainJournal) Close() error { return nil }

func TestNew_Defaults(t *testing.T) {
	p := New(Config{HighWatermark: 100, LowWatermark: 500})
	if p.checkInterval != 6*time.Hour {
		t.Errorf("checkInterval = %v, want 6h", p.checkInterval)
	}
	if p.lowWatermark != 80 {
		t.Errorf("lowWatermark = %d, want 80 when above high watermark", p.lowWatermark)
	}
}

func TestPlugin_PrunesAboveHighWatermark(t *testing.T) {
	j := &memJournal{count: 150}
	p := New(Config{CheckInterval: time.Hour, HighWatermark: 100, LowWatermark: 60, RunImmediately: true})

	err := p.Initialize(context.Background(), meshrelay.PluginConfig{
		Logger:  log.NewNoopLogger(),
		Journal: j,
	})
	if err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for p.Removed() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if err := p.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}

	if p.Removed() != 90 {
		t.Errorf("Removed() = %d, want 90", p.Removed())
	}
	if n, _ := j.Count(context.Background()); n != 60 {
		t.Errorf("Count = %d, want 60", n)
	}
}

func TestPlugin_PruneOnce(t *testing.T) {
	tests := []struct {
		name      string
		count     int
		wantKeeps int
		wantCount int
	}{
		{"below high watermark", 80, 0, 80},
		{"at high watermark", 100, 0, 100},
		{"above high watermark", 101, 1, 60},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			j := &memJournal{count: tt.count}
			p := New(Config{HighWatermark: 100, LowWatermark: 60})
			p.pruner = j
			p.logger = log.NewNoopLogger()

			p.pruneOnce(context.Background())

			if len(j.keeps) != tt.wantKeeps {
				t.Errorf("Prune calls = %d, want %d", len(j.keeps), tt.wantKeeps)
			}
			if j.count != tt.wantCount {
				t.Errorf("count = %d, want %d", j.count, tt.wantCount)
			}
		})
	}
}

func TestPlugin_DisabledWithoutJournal(t *testing.T) {
	for _, cfg := range []meshrelay.PluginConfig{
		{},
		{Journal: &plainJournal{}},
	} {
		p := New(DefaultConfig())
		if err := p.Initialize(context.Background(), cfg); err != nil {
			t.Fatalf("Initialize() error = %v", err)
		}
		if p.cancel != nil {
			t.Error("prune loop should not start")
		}
		if err := p.Shutdown(context.Background()); err != nil {
			t.Fatalf("Shutdown() error = %v", err)
		}
	}
}
