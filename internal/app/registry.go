package app

import (
	"net"
	"sort"
	"sync"

	"github.com/bft-labs/meshrelay/pkg/log"
)

// Registry tracks live client sessions. Every mutation happens under one
// mutex and no network I/O is done while holding it.
type Registry struct {
	mu        sync.RWMutex
	sessions  map[uint64]*Session
	nextID    uint64
	queueSize int
	logger    log.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(queueSize int, logger log.Logger) *Registry {
	return &Registry{
		sessions:  make(map[uint64]*Session),
		queueSize: queueSize,
		logger:    logger.With(log.String("component", "registry")),
	}
}

// Register adds a session for conn and returns it. It always succeeds; the
// client cap is enforced by the listener.
func (r *Registry) Register(conn net.Conn) *Session {
	r.mu.Lock()
	r.nextID++
	s := newSession(r.nextID, conn, r.queueSize)
	r.sessions[s.id] = s
	n := len(r.sessions)
	r.mu.Unlock()

	r.logger.Info("client connected",
		log.Uint64("client_id", s.id),
		log.String("remote", s.remote),
		log.Int("clients", n),
	)
	return s
}

// Unregister removes and closes the session. It returns false if id is not
// registered, so calling it twice is harmless.
func (r *Registry) Unregister(id uint64) bool {
	r.mu.Lock()
	s, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
	}
	n := len(r.sessions)
	r.mu.Unlock()

	if !ok {
		return false
	}
	s.Close()
	r.logger.Info("client disconnected",
		log.Uint64("client_id", id),
		log.String("remote", s.remote),
		log.Int("clients", n),
	)
	return true
}

// Get returns the session with the given id.
func (r *Registry) Get(id uint64) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

// List returns a snapshot of the live sessions ordered by id.
func (r *Registry) List() []*Session {
	r.mu.RLock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// CloseAll unregisters and closes every session.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	sessions := r.sessions
	r.sessions = make(map[uint64]*Session)
	r.mu.Unlock()

	for _, s := range sessions {
		s.Close()
	}
	if len(sessions) > 0 {
		r.logger.Info("closed all clients", log.Int("clients", len(sessions)))
	}
}
