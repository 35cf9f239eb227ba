package lifecycle

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/bft-labs/meshrelay/pkg/log"
)

// Errors returned by TransitionTo and WaitWithTimeout.
var (
	ErrNotRunning      = errors.New("not running")
	ErrAlreadyRunning  = errors.New("already running")
	ErrShutdownTimeout = errors.New("shutdown timeout")
)

// ShutdownTimeout bounds how long Stop waits for workers.
const ShutdownTimeout = 10 * time.Second

// Transition records one accepted state change.
type Transition struct {
	From   State
	To     State
	Reason string
	At     time.Time
}

// DefaultManager implements Manager. Workers registered with AddWorker are
// joined by WaitWithTimeout during shutdown.
type DefaultManager struct {
	mu      sync.RWMutex
	state   State
	last    Transition
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	logger  log.Logger
	emitter EventEmitter
	now     func() time.Time
}

// NewManager returns a manager in StateStopped. emitter may be nil.
func NewManager(logger log.Logger, emitter EventEmitter) *DefaultManager {
	if logger == nil {
		logger = log.NewNoopLogger()
	}
	m := &DefaultManager{
		state:   StateStopped,
		logger:  logger,
		emitter: emitter,
		now:     time.Now,
	}
	m.last = Transition{From: StateStopped, To: StateStopped, At: m.now()}
	return m
}

// State returns the current state.
func (m *DefaultManager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Last returns the most recent accepted transition. Before any transition
// it reports Stopped -> Stopped at construction time.
func (m *DefaultManager) Last() Transition {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.last
}

// Since returns how long the manager has been in its current state.
func (m *DefaultManager) Since() time.Duration {
	m.mu.RLock()
	at := m.last.At
	m.mu.RUnlock()
	return m.now().Sub(at)
}

// TransitionTo moves to newState. A move the state table does not allow
// returns ErrNotRunning from an idle state and ErrAlreadyRunning otherwise.
func (m *DefaultManager) TransitionTo(newState State, reason string) error {
	m.mu.Lock()
	from := m.state
	if !CanTransition(from, newState) {
		m.mu.Unlock()
		if from == StateStopped || from == StateCrashed {
			return ErrNotRunning
		}
		return ErrAlreadyRunning
	}
	m.state = newState
	m.last = Transition{From: from, To: newState, Reason: reason, At: m.now()}
	m.mu.Unlock()

	if m.emitter != nil {
		m.emitter.OnStateChange(from, newState, reason)
	}

	fields := []log.Field{
		log.String("from", from.String()),
		log.String("to", newState.String()),
		log.String("reason", reason),
	}
	if newState == StateCrashed {
		m.logger.Error("state transition", fields...)
	} else {
		m.logger.Info("state transition", fields...)
	}
	return nil
}

// CanStart reports whether the manager is idle.
func (m *DefaultManager) CanStart() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state == StateStopped || m.state == StateCrashed
}

// CanStop reports whether there is something to stop.
func (m *DefaultManager) CanStop() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state == StateRunning || m.state == StateStarting
}

// SetCancel stores the function that cancels the run context.
func (m *DefaultManager) SetCancel(cancel context.CancelFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancel = cancel
}

// Cancel invokes and clears the stored cancel function.
func (m *DefaultManager) Cancel() {
	m.mu.Lock()
	cancel := m.cancel
	m.cancel = nil
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

// AddWorker registers a goroutine to be joined on shutdown.
func (m *DefaultManager) AddWorker() {
	m.wg.Add(1)
}

// WorkerDone marks a registered goroutine as finished.
func (m *DefaultManager) WorkerDone() {
	m.wg.Done()
}

// WaitWithTimeout joins all workers or gives up after timeout with
// ErrShutdownTimeout.
func (m *DefaultManager) WaitWithTimeout(timeout time.Duration) error {
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-done:
		return nil
	case <-timer.C:
		m.logger.Warn("shutdown timeout, workers still running",
			log.Duration("timeout", timeout),
		)
		return ErrShutdownTimeout
	}
}
