package app

import (
	"context"
	"sync"
	"time"

	"github.com/bft-labs/meshrelay/internal/domain"
	"github.com/bft-labs/meshrelay/pkg/log"
)

// answerJob is an answer waiting to go out on the mesh.
type answerJob struct {
	cmd    domain.PendingCommand
	answer string
}

// Dispatcher delivers answers one at a time in arrival order. Before each
// delivery it waits the response delay, because the radio cannot accept a
// new outbound frame while the previous one is still on air.
type Dispatcher struct {
	mu      sync.Mutex
	stopped bool
	ch      chan answerJob

	delay   func() time.Duration
	deliver func(ctx context.Context, job answerJob)
	abandon func(job answerJob, err error)
	logger  log.Logger
}

func newDispatcher(size int, delay func() time.Duration, deliver func(context.Context, answerJob), abandon func(answerJob, error), logger log.Logger) *Dispatcher {
	if size < 1 {
		size = 1
	}
	return &Dispatcher{
		ch:      make(chan answerJob, size),
		delay:   delay,
		deliver: deliver,
		abandon: abandon,
		logger:  logger.With(log.String("component", "dispatcher")),
	}
}

// Submit queues an answer. It never blocks.
func (d *Dispatcher) Submit(job answerJob) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return domain.ErrStopped
	}
	select {
	case d.ch <- job:
		return nil
	default:
		return domain.ErrQueueFull
	}
}

// Pending returns the number of queued answers.
func (d *Dispatcher) Pending() int {
	return len(d.ch)
}

// Run delivers queued answers until ctx is canceled. Answers still queued at
// that point, or submitted later, are discarded.
func (d *Dispatcher) Run(ctx context.Context) error {
	defer d.stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case job := <-d.ch:
			if wait := d.delay(); wait > 0 {
				t := time.NewTimer(wait)
				select {
				case <-ctx.Done():
					t.Stop()
					d.abandon(job, domain.ErrStopped)
					return nil
				case <-t.C:
				}
			}
			d.deliver(ctx, job)
		}
	}
}

func (d *Dispatcher) stop() {
	d.mu.Lock()
	d.stopped = true
	d.mu.Unlock()

	for {
		select {
		case job := <-d.ch:
			d.abandon(job, domain.ErrStopped)
		default:
			return
		}
	}
}
