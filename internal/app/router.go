package app

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/bft-labs/meshrelay/internal/domain"
	"github.com/bft-labs/meshrelay/pkg/frame"
	"github.com/bft-labs/meshrelay/pkg/log"
	"github.com/bft-labs/meshrelay/pkg/mesh"
)

// Upstream accepts frames for the gateway. *Link implements it.
type Upstream interface {
	Send(ctx context.Context, f frame.Frame) error
}

// Delivery reports the outcome of one fan-out.
type Delivery struct {
	Delivered int
	Skipped   int // queue full
	Dropped   int // session closed and unregistered
}

// Router moves frames between the gateway and the clients. It forwards
// frame bytes unchanged and never rewrites a packet.
type Router struct {
	registry *Registry
	upstream Upstream
	logger   log.Logger

	toClients  atomic.Uint64
	toUpstream atomic.Uint64
}

// NewRouter creates a router.
func NewRouter(registry *Registry, upstream Upstream, logger log.Logger) *Router {
	return &Router{
		registry: registry,
		upstream: upstream,
		logger:   logger.With(log.String("component", "router")),
	}
}

// UpstreamToClients queues f on every live session. A client whose queue is
// full misses this frame only; a closed session is unregistered.
func (r *Router) UpstreamToClients(f frame.Frame) Delivery {
	return r.fanOut(f.Bytes())
}

func (r *Router) fanOut(b []byte) Delivery {
	var d Delivery
	for _, s := range r.registry.List() {
		err := s.Enqueue(b)
		switch {
		case err == nil:
			d.Delivered++
		case errors.Is(err, domain.ErrQueueFull):
			d.Skipped++
			r.logger.Warn("client queue full, frame skipped", log.Uint64("client_id", s.ID()))
		default:
			d.Dropped++
			r.registry.Unregister(s.ID())
		}
	}
	r.toClients.Add(1)
	return d
}

// ClientToUpstream forwards a client's frame to the gateway. A failure is
// reported to the originating client only.
func (r *Router) ClientToUpstream(ctx context.Context, f frame.Frame, originID uint64) error {
	if err := r.upstream.Send(ctx, f); err != nil {
		r.logger.Warn("frame from client not relayed",
			log.Uint64("client_id", originID),
			log.Err(err),
		)
		return err
	}
	r.toUpstream.Add(1)
	return nil
}

// BroadcastPacket encodes p as FromRadio and fans it out to every client.
func (r *Router) BroadcastPacket(p mesh.Packet) (Delivery, error) {
	f, err := encodeFromRadio(p)
	if err != nil {
		return Delivery{}, err
	}
	return r.fanOut(f.Bytes()), nil
}

// SendToClient encodes p as FromRadio and queues it on one session.
func (r *Router) SendToClient(id uint64, p mesh.Packet) error {
	s, ok := r.registry.Get(id)
	if !ok {
		return domain.ErrSessionClosed
	}
	f, err := encodeFromRadio(p)
	if err != nil {
		return err
	}
	return s.Enqueue(f.Bytes())
}

func encodeFromRadio(p mesh.Packet) (frame.Frame, error) {
	payload, err := mesh.EncodeFromRadio(p)
	if err != nil {
		return frame.Frame{}, err
	}
	return frame.Encode(payload)
}

func encodeToRadio(p mesh.Packet) (frame.Frame, error) {
	payload, err := mesh.EncodeToRadio(p)
	if err != nil {
		return frame.Frame{}, err
	}
	return frame.Encode(payload)
}
