package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bft-labs/meshrelay/internal/domain"
	"github.com/bft-labs/meshrelay/pkg/frame"
	"github.com/bft-labs/meshrelay/pkg/lifecycle"
	"github.com/bft-labs/meshrelay/pkg/log"
	"github.com/bft-labs/meshrelay/pkg/mesh"
)

// LinkState is the connection state of the upstream link.
type LinkState int

const (
	LinkDisconnected LinkState = iota
	LinkConnecting
	LinkConnected
)

func (s LinkState) String() string {
	switch s {
	case LinkDisconnected:
		return "disconnected"
	case LinkConnecting:
		return "connecting"
	case LinkConnected:
		return "connected"
	default:
		return "unknown"
	}
}

// Default link settings.
const (
	DefaultDialTimeout = 10 * time.Second
	readBufferSize     = 4096
)

// LinkConfig configures the upstream link.
type LinkConfig struct {
	Address       string
	DialTimeout   time.Duration
	BackoffBase   time.Duration
	BackoffMax    time.Duration
	BackoffJitter float64
}

// LinkStatus is a point-in-time snapshot of the link.
type LinkStatus struct {
	Address        string
	State          LinkState
	Failures       int
	LastError      error
	ConnectedSince time.Time
}

// FrameHandler receives frames read from the gateway, in arrival order.
type FrameHandler func(ctx context.Context, f frame.Frame)

// DialFunc opens the upstream connection.
type DialFunc func(ctx context.Context, network, address string) (net.Conn, error)

// Link owns the single TCP connection to the gateway and keeps it alive.
type Link struct {
	cfg     LinkConfig
	handler FrameHandler
	dial    DialFunc
	backoff *lifecycle.Backoff
	logger  log.Logger

	mu             sync.Mutex
	state          LinkState
	conn           net.Conn
	failures       int
	lastErr        error
	connectedSince time.Time

	framesIn  atomic.Uint64
	framesOut atomic.Uint64
	malformed atomic.Uint64
}

// NewLink creates a link in the Disconnected state. handler may be nil.
func NewLink(cfg LinkConfig, handler FrameHandler, logger log.Logger) *Link {
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = DefaultDialTimeout
	}
	if handler == nil {
		handler = func(context.Context, frame.Frame) {}
	}
	d := &net.Dialer{Timeout: cfg.DialTimeout}
	return &Link{
		cfg:     cfg,
		handler: handler,
		dial:    d.DialContext,
		backoff: lifecycle.NewBackoff(cfg.BackoffBase, cfg.BackoffMax, cfg.BackoffJitter),
		logger:  logger.With(log.String("component", "link"), log.String("upstream", cfg.Address)),
		state:   LinkDisconnected,
	}
}

// SetDialer replaces the dial function. Must be called before Run.
func (l *Link) SetDialer(dial DialFunc) {
	l.dial = dial
}

// Run connects, serves the connection and reconnects with backoff until ctx
// is canceled. Retries never give up while ctx is live.
func (l *Link) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}

		conn, err := l.connect(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			l.logger.Warn("connect failed",
				log.Err(err),
				log.Int("failures", l.Status().Failures),
			)
		} else {
			l.backoff.Reset()
			err = l.serve(ctx, conn)
			l.teardown(conn, err)
			if ctx.Err() != nil {
				return nil
			}
			l.logger.Warn("connection lost", log.Err(err))
		}

		if err := l.backoff.Wait(ctx); err != nil {
			return nil
		}
	}
}

// connect dials the gateway and requests its config stream.
func (l *Link) connect(ctx context.Context) (net.Conn, error) {
	l.setState(LinkConnecting)

	dctx, cancel := context.WithTimeout(ctx, l.cfg.DialTimeout)
	defer cancel()

	conn, err := l.dial(dctx, "tcp", l.cfg.Address)
	if err != nil {
		return nil, l.recordFailure(&domain.TransientLinkError{Op: "dial", Err: err})
	}

	wantConfig := randomID()
	f, err := frame.Encode(mesh.EncodeWantConfig(wantConfig))
	if err == nil {
		_, err = conn.Write(f.Bytes())
	}
	if err != nil {
		conn.Close()
		return nil, l.recordFailure(&domain.TransientLinkError{Op: "want_config", Err: err})
	}

	l.mu.Lock()
	l.conn = conn
	l.state = LinkConnected
	l.failures = 0
	l.lastErr = nil
	l.connectedSince = time.Now()
	l.mu.Unlock()

	l.logger.Info("connected to gateway", log.Uint32("want_config_id", wantConfig))
	return conn, nil
}

// serve runs the receive loop until the connection fails.
func (l *Link) serve(ctx context.Context, conn net.Conn) error {
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	dec := frame.NewDecoder()
	buf := make([]byte, readBufferSize)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			for _, r := range dec.Decode(buf[:n]) {
				if !r.OK() {
					l.malformed.Add(1)
					l.logger.Warn("malformed frame from gateway", log.Err(r.Malformed))
					continue
				}
				l.framesIn.Add(1)
				l.handler(ctx, r.Frame)
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				err = io.ErrUnexpectedEOF
			}
			return &domain.TransientLinkError{Op: "read", Err: err}
		}
	}
}

// teardown closes conn if it is still the current connection.
func (l *Link) teardown(conn net.Conn, cause error) {
	l.mu.Lock()
	if l.conn == conn {
		l.conn = nil
		l.state = LinkDisconnected
		l.lastErr = cause
		l.connectedSince = time.Time{}
	}
	l.mu.Unlock()
	conn.Close()
}

// Send writes one frame to the gateway. Frames are never queued: if the link
// is not connected ErrNotConnected is returned. A write error tears the
// connection down and the receive loop triggers the reconnect.
func (l *Link) Send(ctx context.Context, f frame.Frame) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	l.mu.Lock()
	conn := l.conn
	connected := l.state == LinkConnected
	l.mu.Unlock()

	if !connected || conn == nil {
		return domain.ErrNotConnected
	}

	if _, err := conn.Write(f.Bytes()); err != nil {
		werr := &domain.TransientLinkError{Op: "write", Err: err}
		l.teardown(conn, werr)
		return werr
	}
	l.framesOut.Add(1)
	return nil
}

// SendPacket encodes p as ToRadio and sends it.
func (l *Link) SendPacket(ctx context.Context, p mesh.Packet) error {
	f, err := encodeToRadio(p)
	if err != nil {
		return err
	}
	return l.Send(ctx, f)
}

// Status returns a snapshot of the link.
func (l *Link) Status() LinkStatus {
	l.mu.Lock()
	defer l.mu.Unlock()
	return LinkStatus{
		Address:        l.cfg.Address,
		State:          l.state,
		Failures:       l.failures,
		LastError:      l.lastErr,
		ConnectedSince: l.connectedSince,
	}
}

// Close drops the current connection, if any. Run keeps going unless its
// context is canceled.
func (l *Link) Close() {
	l.mu.Lock()
	conn := l.conn
	l.mu.Unlock()
	if conn != nil {
		l.teardown(conn, domain.ErrStopped)
	}
}

func (l *Link) setState(s LinkState) {
	l.mu.Lock()
	l.state = s
	l.mu.Unlock()
}

func (l *Link) recordFailure(err error) error {
	l.mu.Lock()
	l.failures++
	l.lastErr = err
	l.state = LinkDisconnected
	l.mu.Unlock()
	return err
}

// randomID returns a random non-zero packet or request id.
func randomID() uint32 {
	for {
		if id := rand.Uint32(); id != 0 {
			return id
		}
	}
}

func (s LinkStatus) String() string {
	return fmt.Sprintf("%s (%s, failures=%d)", s.Address, s.State, s.Failures)
}
