package app

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"

	"golang.org/x/net/netutil"

	"github.com/bft-labs/meshrelay/internal/domain"
	"github.com/bft-labs/meshrelay/pkg/frame"
	"github.com/bft-labs/meshrelay/pkg/log"
	"github.com/bft-labs/meshrelay/pkg/mesh"
)

// DefaultMaxClients caps concurrent client connections.
const DefaultMaxClients = 32

// ServerConfig configures the client listener.
type ServerConfig struct {
	Address    string
	MaxClients int
}

// Server accepts client connections and runs one read loop and one writer
// per client.
type Server struct {
	cfg         ServerConfig
	registry    *Registry
	router      *Router
	interceptor *Interceptor
	logger      log.Logger

	mu sync.Mutex
	ln net.Listener

	malformed  atomic.Uint64
	notRelayed atomic.Uint64
}

// NewServer creates a server. Call Listen before Serve.
func NewServer(cfg ServerConfig, registry *Registry, router *Router, interceptor *Interceptor, logger log.Logger) *Server {
	if cfg.MaxClients <= 0 {
		cfg.MaxClients = DefaultMaxClients
	}
	return &Server{
		cfg:         cfg,
		registry:    registry,
		router:      router,
		interceptor: interceptor,
		logger:      logger.With(log.String("component", "server")),
	}
}

// Listen binds the listening socket. Connections beyond MaxClients wait in
// the accept backlog until a slot frees up.
func (s *Server) Listen() error {
	ln, err := net.Listen("tcp", s.cfg.Address)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.ln = netutil.LimitListener(ln, s.cfg.MaxClients)
	s.mu.Unlock()

	s.logger.Info("listening",
		log.String("address", ln.Addr().String()),
		log.Int("max_clients", s.cfg.MaxClients),
	)
	return nil
}

// Addr returns the bound address, or nil before Listen.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Close closes the listener. Serve closes it on its own when its context
// ends; Close is for a server that never started serving.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Close()
}

// Serve accepts clients until ctx is canceled, then closes every session and
// waits for the per-client goroutines.
func (s *Server) Serve(ctx context.Context) error {
	s.mu.Lock()
	ln := s.ln
	s.mu.Unlock()
	if ln == nil {
		return errors.New("server: Serve called before Listen")
	}

	stop := context.AfterFunc(ctx, func() { ln.Close() })
	defer stop()

	var wg sync.WaitGroup
	defer func() {
		s.registry.CloseAll()
		wg.Wait()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.logger.Warn("accept failed", log.Err(err))
			continue
		}

		sess := s.registry.Register(conn)
		wg.Add(2)
		go func() {
			defer wg.Done()
			if err := sess.writeLoop(ctx); err != nil {
				s.logger.Warn("client write failed", log.Err(err))
			}
			s.registry.Unregister(sess.ID())
		}()
		go func() {
			defer wg.Done()
			s.readLoop(ctx, sess)
			s.registry.Unregister(sess.ID())
		}()
	}
}

// readLoop forwards a client's frames upstream and inspects its text packets.
func (s *Server) readLoop(ctx context.Context, sess *Session) {
	dec := frame.NewDecoder()
	buf := make([]byte, readBufferSize)
	origin := domain.ClientOrigin(sess.ID())

	for {
		n, err := sess.conn.Read(buf)
		if n > 0 {
			sess.Touch()
			for _, r := range dec.Decode(buf[:n]) {
				if !r.OK() {
					s.malformed.Add(1)
					s.logger.Warn("malformed frame from client",
						log.Uint64("client_id", sess.ID()),
						log.Err(r.Malformed),
					)
					continue
				}
				if err := s.router.ClientToUpstream(ctx, r.Frame, sess.ID()); err != nil {
					sess.notRelayed.Add(1)
					s.notRelayed.Add(1)
				}

				env := mesh.DecodeToRadio(r.Frame.Payload)
				if env.Kind == mesh.KindPacket && s.interceptor != nil {
					s.interceptor.Inspect(env.Packet, origin)
				}
			}
		}
		if err != nil {
			if !sess.Closed() && ctx.Err() == nil {
				s.logger.Debug("client read ended",
					log.Err(&domain.ClientIOError{ClientID: sess.ID(), Op: "read", Err: err}),
					log.Uint64("frames_not_relayed", sess.NotRelayed()),
				)
			}
			return
		}
	}
}
