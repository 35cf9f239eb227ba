package app

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bft-labs/meshrelay/internal/domain"
)

// DefaultQueueSize is the per-client outbound queue depth in frames.
const DefaultQueueSize = 256

// Session is one connected client. Outbound frames go through a bounded
// queue drained by a single writer goroutine, so a slow client never blocks
// the router.
type Session struct {
	id          uint64
	conn        net.Conn
	remote      string
	connectedAt time.Time
	lastActive  atomic.Int64
	notRelayed  atomic.Uint64

	out       chan []byte
	closed    chan struct{}
	closeOnce sync.Once
}

func newSession(id uint64, conn net.Conn, queueSize int) *Session {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	s := &Session{
		id:          id,
		conn:        conn,
		remote:      conn.RemoteAddr().String(),
		connectedAt: time.Now(),
		out:         make(chan []byte, queueSize),
		closed:      make(chan struct{}),
	}
	s.Touch()
	return s
}

// ID returns the session id, unique for the process lifetime.
func (s *Session) ID() uint64 { return s.id }

// RemoteAddr returns the client's address.
func (s *Session) RemoteAddr() string { return s.remote }

// ConnectedAt returns when the client connected.
func (s *Session) ConnectedAt() time.Time { return s.connectedAt }

// LastActivity returns the time of the last read from the client.
func (s *Session) LastActivity() time.Time {
	return time.Unix(0, s.lastActive.Load())
}

// NotRelayed returns how many of this client's frames could not be sent to
// the gateway.
func (s *Session) NotRelayed() uint64 {
	return s.notRelayed.Load()
}

// Touch records client activity.
func (s *Session) Touch() {
	s.lastActive.Store(time.Now().UnixNano())
}

// Enqueue queues b for the writer without blocking. b must not be modified
// afterwards; the same slice is shared by every session of a broadcast.
func (s *Session) Enqueue(b []byte) error {
	select {
	case <-s.closed:
		return domain.ErrSessionClosed
	default:
	}
	select {
	case s.out <- b:
		return nil
	case <-s.closed:
		return domain.ErrSessionClosed
	default:
		return domain.ErrQueueFull
	}
}

// Closed reports whether the session has been closed.
func (s *Session) Closed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

// Done is closed when the session closes.
func (s *Session) Done() <-chan struct{} { return s.closed }

// Close closes the connection. Safe to call more than once.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.closed)
		err = s.conn.Close()
	})
	return err
}

// writeLoop drains the queue onto the connection until the session closes,
// ctx is canceled or a write fails.
func (s *Session) writeLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.closed:
			return nil
		case b := <-s.out:
			if _, err := s.conn.Write(b); err != nil {
				return &domain.ClientIOError{ClientID: s.id, Op: "write", Err: err}
			}
		}
	}
}
