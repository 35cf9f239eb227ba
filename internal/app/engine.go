package app

import (
	"context"
	"fmt"
	"net"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/bft-labs/meshrelay/internal/domain"
	"github.com/bft-labs/meshrelay/internal/ports"
	"github.com/bft-labs/meshrelay/pkg/frame"
	"github.com/bft-labs/meshrelay/pkg/log"
	"github.com/bft-labs/meshrelay/pkg/mesh"
)

// bridgeTag prefixes bridge text injected into the mesh.
const bridgeTag = "MX"

// EngineConfig wires the relay components together.
type EngineConfig struct {
	Server      ServerConfig
	Link        LinkConfig
	Interceptor InterceptorConfig
	QueueSize   int

	// MirrorMesh forwards mesh text packets from the gateway to the bridge.
	MirrorMesh bool
}

// Collaborators are the optional external services.
type Collaborators struct {
	Answerer ports.Answerer
	Bridge   ports.Bridge
	Journal  ports.Journal
}

// Stats is a snapshot of engine counters.
type Stats struct {
	Clients            int
	Link               LinkStatus
	FramesFromUpstream uint64
	FramesToUpstream   uint64
	FramesNotRelayed   uint64
	Broadcasts         uint64
	MalformedFrames    uint64
	CommandsAccepted   uint64
	CommandsAnswered   uint64
	CommandsFailed     uint64
	PendingCommands    int
}

// Engine owns every relay component. It is built once and injected into its
// parts; there is no package-level state.
type Engine struct {
	cfg         EngineConfig
	collab      Collaborators
	link        *Link
	registry    *Registry
	router      *Router
	interceptor *Interceptor
	server      *Server
	logger      log.Logger
}

// NewEngine builds the engine. Nothing touches the network until Listen.
func NewEngine(cfg EngineConfig, collab Collaborators, logger log.Logger) *Engine {
	e := &Engine{cfg: cfg, collab: collab, logger: logger}

	e.registry = NewRegistry(cfg.QueueSize, logger)
	e.link = NewLink(cfg.Link, e.handleUpstream, logger)
	e.router = NewRouter(e.registry, e.link, logger)
	e.interceptor = NewInterceptor(cfg.Interceptor, collab.Answerer, collab.Journal, collab.Bridge, e.link, e.router, logger)
	e.server = NewServer(cfg.Server, e.registry, e.router, e.interceptor, logger)
	return e
}

// Listen binds the client listener so address errors surface before Run.
func (e *Engine) Listen() error {
	if err := e.server.Listen(); err != nil {
		return fmt.Errorf("listen on %s: %w", e.cfg.Server.Address, err)
	}
	return nil
}

// Close releases the listener of an engine that will not Run.
func (e *Engine) Close() error {
	return e.server.Close()
}

// Run runs the relay until ctx is canceled. Listen must have succeeded.
func (e *Engine) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return e.interceptor.Run(gctx) })
	g.Go(func() error { return e.link.Run(gctx) })
	g.Go(func() error { return e.server.Serve(gctx) })

	if b := e.collab.Bridge; b != nil {
		g.Go(func() error {
			if err := b.Run(gctx, e.InjectBridge); err != nil && gctx.Err() == nil {
				e.logger.Error("bridge stopped",
					log.String("bridge", b.Name()),
					log.Err(&domain.CollaboratorError{Collaborator: b.Name(), Err: err}),
				)
			}
			return nil
		})
	}

	e.logger.Info("relay running",
		log.String("listen", e.cfg.Server.Address),
		log.String("upstream", e.cfg.Link.Address),
		log.Bool("answerer", e.collab.Answerer != nil),
		log.Bool("bridge", e.collab.Bridge != nil),
		log.Bool("journal", e.collab.Journal != nil),
	)

	err := g.Wait()
	e.link.Close()
	e.logger.Info("relay stopped")
	return err
}

// handleUpstream fans a gateway frame out to the clients first, then looks
// inside it for commands.
func (e *Engine) handleUpstream(ctx context.Context, f frame.Frame) {
	e.router.UpstreamToClients(f)

	env := mesh.DecodeFromRadio(f.Payload)
	switch env.Kind {
	case mesh.KindMalformed:
		e.logger.Debug("undecodable payload from gateway", log.Err(env.Err))
	case mesh.KindOther:
		e.logger.Debug("gateway message", log.String("variant", env.Variant))
	case mesh.KindPacket:
		p := env.Packet
		e.logger.Debug("gateway packet",
			log.NodeID("from", p.From),
			log.NodeID("to", p.To),
			log.Int("channel", int(p.Channel)),
			log.Uint32("id", p.ID),
			log.Uint32("portnum", uint32(p.PortNum)),
		)
		e.interceptor.Inspect(p, domain.UpstreamOrigin())
		e.mirror(ctx, p)
	}
}

// mirror copies mesh text to the bridge, skipping packets the relay sent.
func (e *Engine) mirror(ctx context.Context, p mesh.Packet) {
	if !e.cfg.MirrorMesh || e.collab.Bridge == nil || !p.IsText() {
		return
	}
	if e.interceptor.Originated(p.ID) {
		return
	}
	e.interceptor.outbound(ctx, fmt.Sprintf("[!%08x] %s", p.From, p.Text()), p.Channel)
}

// InjectBridge turns bridge text into a mesh packet on the bot channel and
// sends it upstream as if a client had written it. Trigger commands in the
// text are answered like any other.
func (e *Engine) InjectBridge(ctx context.Context, sender, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	e.interceptor.InspectText(text, domain.BridgeOrigin(sender))

	s := e.interceptor.Settings()
	body := truncateUTF8(fmt.Sprintf("[%s:%s] %s", bridgeTag, sender, text), e.interceptor.cfg.MaxAnswerBytes)
	p := mesh.NewText(randomID(), s.BotChannel, body)
	e.interceptor.markOriginated(p.ID)

	if err := e.link.SendPacket(ctx, p); err != nil {
		e.logger.Warn("bridge message not sent upstream",
			log.String("sender", sender),
			log.Err(err),
		)
		return err
	}
	return nil
}

// UpdateSettings applies hot-reloaded interceptor settings.
func (e *Engine) UpdateSettings(s Settings) error {
	return e.interceptor.UpdateSettings(s)
}

// Settings returns the current interceptor settings.
func (e *Engine) Settings() Settings {
	return e.interceptor.Settings()
}

// Addr returns the client listener address.
func (e *Engine) Addr() net.Addr {
	return e.server.Addr()
}

// LinkStatus returns the upstream link snapshot.
func (e *Engine) LinkStatus() LinkStatus {
	return e.link.Status()
}

// Stats returns a snapshot of the engine counters.
func (e *Engine) Stats() Stats {
	accepted, answered, failed := e.interceptor.CommandStats()
	return Stats{
		Clients:            e.registry.Len(),
		Link:               e.link.Status(),
		FramesFromUpstream: e.link.framesIn.Load(),
		FramesToUpstream:   e.link.framesOut.Load(),
		FramesNotRelayed:   e.server.notRelayed.Load(),
		Broadcasts:         e.router.toClients.Load(),
		MalformedFrames:    e.link.malformed.Load() + e.server.malformed.Load(),
		CommandsAccepted:   accepted,
		CommandsAnswered:   answered,
		CommandsFailed:     failed,
		PendingCommands:    e.interceptor.PendingCount(),
	}
}
