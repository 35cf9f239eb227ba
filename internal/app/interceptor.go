package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/bft-labs/meshrelay/internal/dedupe"
	"github.com/bft-labs/meshrelay/internal/domain"
	"github.com/bft-labs/meshrelay/internal/ports"
	"github.com/bft-labs/meshrelay/pkg/log"
	"github.com/bft-labs/meshrelay/pkg/mesh"
)

// Interceptor defaults.
const (
	DefaultTriggerPrefix  = "/gem"
	DefaultBotChannel     = 2
	DefaultResponseDelay  = 2 * time.Second
	DefaultAITimeout      = 60 * time.Second
	DefaultMaxPending     = 16
	DefaultMaxAnswerBytes = 200
	DefaultFailureNotice  = "Sorry, no answer is available right now."
	journalTimeout        = 5 * time.Second
	bridgeTimeout         = 15 * time.Second
)

var errEmptyAnswer = errors.New("empty answer")

// Settings are the interceptor values that can change while running.
type Settings struct {
	TriggerPrefix string
	BotChannel    uint8
	ResponseDelay time.Duration
}

// InterceptorConfig configures the interceptor.
type InterceptorConfig struct {
	Settings
	AITimeout      time.Duration
	MaxPending     int
	MaxAnswerBytes int
	NotifyFailures bool
	FailureNotice  string
}

// Interceptor spots trigger commands in text packets, asks the answerer and
// hands answers to the dispatcher. Packet processing never waits on the
// answerer.
type Interceptor struct {
	cfg      InterceptorConfig
	answerer ports.Answerer
	journal  ports.Journal
	bridge   ports.Bridge
	upstream Upstream
	router   *Router
	seen     *dedupe.Cache
	own      *dedupe.Cache
	logger   log.Logger

	dispatcher *Dispatcher

	mu       sync.RWMutex
	settings Settings
	runCtx   context.Context
	stopped  bool
	pending  map[string]domain.PendingCommand
	wg       sync.WaitGroup

	accepted atomic.Uint64
	answered atomic.Uint64
	failed   atomic.Uint64
}

// NewInterceptor creates an interceptor. answerer, journal and bridge may be
// nil; without an answerer commands are ignored.
func NewInterceptor(
	cfg InterceptorConfig,
	answerer ports.Answerer,
	journal ports.Journal,
	bridge ports.Bridge,
	upstream Upstream,
	router *Router,
	logger log.Logger,
) *Interceptor {
	if cfg.TriggerPrefix == "" {
		cfg.TriggerPrefix = DefaultTriggerPrefix
	}
	if cfg.AITimeout <= 0 {
		cfg.AITimeout = DefaultAITimeout
	}
	if cfg.MaxPending <= 0 {
		cfg.MaxPending = DefaultMaxPending
	}
	if cfg.MaxAnswerBytes <= 0 {
		cfg.MaxAnswerBytes = DefaultMaxAnswerBytes
	}
	if cfg.FailureNotice == "" {
		cfg.FailureNotice = DefaultFailureNotice
	}

	i := &Interceptor{
		cfg:      cfg,
		answerer: answerer,
		journal:  journal,
		bridge:   bridge,
		upstream: upstream,
		router:   router,
		seen:     dedupe.New(dedupe.DefaultTTL, dedupe.DefaultMaxSize),
		own:      dedupe.New(dedupe.DefaultTTL, dedupe.DefaultMaxSize),
		logger:   logger.With(log.String("component", "interceptor")),
		settings: cfg.Settings,
		pending:  make(map[string]domain.PendingCommand),
	}
	i.dispatcher = newDispatcher(cfg.MaxPending, i.responseDelay, i.deliver, i.abandon, logger)
	return i
}

// ParseTrigger returns the question if text starts with prefix followed by a
// space. The match is case-sensitive; an empty question is not a command.
func ParseTrigger(prefix, text string) (string, bool) {
	if prefix == "" || !strings.HasPrefix(text, prefix+" ") {
		return "", false
	}
	q := strings.TrimSpace(text[len(prefix)+1:])
	if q == "" {
		return "", false
	}
	return q, true
}

// Sanitize makes an answer safe to put on the mesh: whitespace is collapsed,
// any leading trigger prefix is removed so the answer cannot trigger the
// relay again, and the result is cut to maxBytes on a rune boundary.
func Sanitize(answer, prefix string, maxBytes int) string {
	s := strings.Join(strings.Fields(answer), " ")
	for prefix != "" && strings.HasPrefix(s, prefix) {
		s = strings.TrimSpace(s[len(prefix):])
	}
	return truncateUTF8(s, maxBytes)
}

func truncateUTF8(s string, maxBytes int) string {
	if maxBytes <= 0 || len(s) <= maxBytes {
		return s
	}
	n := maxBytes
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return strings.TrimSpace(s[:n])
}

// Settings returns the current hot-reloadable settings.
func (i *Interceptor) Settings() Settings {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.settings
}

// UpdateSettings replaces the hot-reloadable settings. Commands already in
// flight use the new values when their answers are delivered.
func (i *Interceptor) UpdateSettings(s Settings) error {
	if s.TriggerPrefix == "" {
		return domain.NewConfigError("trigger_prefix", "must not be empty")
	}
	if s.BotChannel > mesh.MaxChannel {
		return domain.NewConfigError("bot_channel", "%d outside [0,%d]", s.BotChannel, mesh.MaxChannel)
	}
	if s.ResponseDelay < 0 {
		return domain.NewConfigError("response_delay", "must not be negative")
	}
	i.mu.Lock()
	i.settings = s
	i.mu.Unlock()

	i.logger.Info("settings updated",
		log.String("trigger_prefix", s.TriggerPrefix),
		log.Int("bot_channel", int(s.BotChannel)),
		log.Duration("response_delay", s.ResponseDelay),
	)
	return nil
}

func (i *Interceptor) responseDelay() time.Duration {
	return i.Settings().ResponseDelay
}

// Run starts the answer dispatcher and blocks until ctx is canceled. Commands
// still in flight are then abandoned and late answers are discarded.
func (i *Interceptor) Run(ctx context.Context) error {
	i.mu.Lock()
	i.runCtx = ctx
	i.stopped = false
	i.mu.Unlock()

	err := i.dispatcher.Run(ctx)

	i.mu.Lock()
	i.stopped = true
	i.mu.Unlock()
	i.wg.Wait()
	return err
}

// Inspect checks a packet for a trigger command. It returns true when a new
// command was accepted.
func (i *Interceptor) Inspect(p mesh.Packet, origin domain.Origin) bool {
	if !p.IsText() || p.Validate() != nil {
		return false
	}
	question, ok := ParseTrigger(i.Settings().TriggerPrefix, p.Text())
	if !ok {
		return false
	}
	if p.ID != 0 && i.seen.Seen(dedupe.PacketKey(p.ID)) {
		i.logger.Debug("duplicate command ignored",
			log.Uint32("packet_id", p.ID),
			log.String("origin", origin.String()),
		)
		return false
	}
	return i.submit(question, p.Channel, origin)
}

// InspectText checks text that did not arrive as a mesh packet, such as a
// bridge message.
func (i *Interceptor) InspectText(text string, origin domain.Origin) bool {
	question, ok := ParseTrigger(i.Settings().TriggerPrefix, strings.TrimSpace(text))
	if !ok {
		return false
	}
	return i.submit(question, i.Settings().BotChannel, origin)
}

func (i *Interceptor) submit(question string, channel uint8, origin domain.Origin) bool {
	if i.answerer == nil {
		i.logger.Debug("command ignored, no answerer configured", log.String("origin", origin.String()))
		return false
	}

	cmd := domain.PendingCommand{
		ID:          uuid.NewString(),
		Origin:      origin,
		Channel:     channel,
		Question:    question,
		SubmittedAt: time.Now(),
	}

	i.mu.Lock()
	if i.runCtx == nil || i.stopped {
		i.mu.Unlock()
		i.logger.Debug("command ignored, interceptor not running", log.String("origin", origin.String()))
		return false
	}
	if len(i.pending) >= i.cfg.MaxPending {
		i.mu.Unlock()
		i.logger.Warn("command rejected",
			log.Err(domain.ErrTooManyPending),
			log.String("origin", origin.String()),
			log.Int("max_pending", i.cfg.MaxPending),
		)
		i.failed.Add(1)
		return false
	}
	i.pending[cmd.ID] = cmd
	ctx := i.runCtx
	i.wg.Add(1)
	i.mu.Unlock()

	i.accepted.Add(1)
	i.logger.Info("command accepted",
		log.String("command_id", cmd.ID),
		log.String("origin", origin.String()),
		log.Int("channel", int(channel)),
		log.String("question", question),
	)

	go i.ask(ctx, cmd)
	return true
}

func (i *Interceptor) ask(ctx context.Context, cmd domain.PendingCommand) {
	defer i.wg.Done()

	actx, cancel := context.WithTimeout(ctx, i.cfg.AITimeout)
	answer, err := i.answerer.Answer(actx, cmd.Question)
	cancel()

	if ctx.Err() != nil {
		i.finish(cmd, domain.CommandAbandoned, "", domain.ErrStopped)
		return
	}
	if err != nil {
		i.fail(cmd, &domain.CollaboratorError{Collaborator: "answerer", Err: err})
		return
	}
	if err := i.dispatcher.Submit(answerJob{cmd: cmd, answer: answer}); err != nil {
		i.abandon(answerJob{cmd: cmd}, err)
	}
}

// deliver runs on the dispatcher goroutine.
func (i *Interceptor) deliver(ctx context.Context, job answerJob) {
	s := i.Settings()
	text := Sanitize(job.answer, s.TriggerPrefix, i.cfg.MaxAnswerBytes)
	if text == "" {
		i.fail(job.cmd, &domain.CollaboratorError{Collaborator: "answerer", Err: errEmptyAnswer})
		return
	}

	p := mesh.NewText(randomID(), s.BotChannel, text)
	i.markOriginated(p.ID)
	logger := i.logger.With(
		log.String("command_id", job.cmd.ID),
		log.Uint32("packet_id", p.ID),
		log.Int("channel", int(p.Channel)),
	)

	if f, err := encodeToRadio(p); err != nil {
		logger.Error("answer not encoded", log.Err(err))
	} else if err := i.upstream.Send(ctx, f); err != nil {
		logger.Warn("answer not sent upstream", log.Err(err))
	}

	if d, err := i.router.BroadcastPacket(p); err != nil {
		logger.Error("answer not broadcast", log.Err(err))
	} else {
		logger.Debug("answer broadcast", log.Int("clients", d.Delivered))
	}

	i.outbound(ctx, text, p.Channel)

	i.answered.Add(1)
	logger.Info("command answered", log.String("answer", text))
	i.finish(job.cmd, domain.CommandAnswered, text, nil)
}

func (i *Interceptor) abandon(job answerJob, err error) {
	i.finish(job.cmd, domain.CommandAbandoned, "", err)
}

// fail drops a command. Nothing goes to the mesh; the originating client or
// the bridge is told if failure notices are enabled.
func (i *Interceptor) fail(cmd domain.PendingCommand, err error) {
	i.failed.Add(1)
	i.logger.Warn("command failed",
		log.String("command_id", cmd.ID),
		log.String("origin", cmd.Origin.String()),
		log.Err(err),
	)

	if i.cfg.NotifyFailures {
		notice := Sanitize(i.cfg.FailureNotice, i.Settings().TriggerPrefix, i.cfg.MaxAnswerBytes)
		switch cmd.Origin.Kind {
		case domain.OriginClient:
			p := mesh.NewText(randomID(), cmd.Channel, notice)
			if err := i.router.SendToClient(cmd.Origin.ClientID, p); err != nil {
				i.logger.Debug("failure notice not delivered",
					log.Uint64("client_id", cmd.Origin.ClientID),
					log.Err(err),
				)
			}
		case domain.OriginBridge:
			i.mu.RLock()
			ctx := i.runCtx
			i.mu.RUnlock()
			if ctx != nil {
				i.outbound(ctx, notice, cmd.Channel)
			}
		}
	}

	i.finish(cmd, domain.CommandFailed, "", err)
}

// outbound posts text to the bridge without holding up the caller.
func (i *Interceptor) outbound(ctx context.Context, text string, channel uint8) {
	if i.bridge == nil {
		return
	}
	i.mu.Lock()
	if i.stopped {
		i.mu.Unlock()
		return
	}
	i.wg.Add(1)
	i.mu.Unlock()

	go func() {
		defer i.wg.Done()
		bctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), bridgeTimeout)
		defer cancel()
		if err := i.bridge.Outbound(bctx, text, channel); err != nil {
			i.logger.Warn("bridge outbound failed",
				log.String("bridge", i.bridge.Name()),
				log.Err(&domain.CollaboratorError{Collaborator: i.bridge.Name(), Err: err}),
			)
		}
	}()
}

// finish removes cmd from the pending set and journals it.
func (i *Interceptor) finish(cmd domain.PendingCommand, status domain.CommandStatus, answer string, err error) {
	i.mu.Lock()
	_, ok := i.pending[cmd.ID]
	delete(i.pending, cmd.ID)
	i.mu.Unlock()
	if !ok {
		return
	}

	if i.journal == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), journalTimeout)
	defer cancel()
	if jerr := i.journal.Record(ctx, cmd.Record(status, answer, err, time.Now())); jerr != nil {
		i.logger.Warn("journal write failed", log.String("command_id", cmd.ID), log.Err(jerr))
	}
}

func (i *Interceptor) markOriginated(id uint32) {
	i.own.Seen(dedupe.PacketKey(id))
}

// Originated reports whether the relay itself created the packet with id,
// so echoes from the gateway can be told apart from mesh traffic.
func (i *Interceptor) Originated(id uint32) bool {
	return i.own.Contains(dedupe.PacketKey(id))
}

// PendingCount returns the number of commands in flight.
func (i *Interceptor) PendingCount() int {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return len(i.pending)
}

// CommandStats returns accepted, answered and failed command counts.
func (i *Interceptor) CommandStats() (accepted, answered, failed uint64) {
	return i.accepted.Load(), i.answered.Load(), i.failed.Load()
}

func (s Settings) String() string {
	return fmt.Sprintf("prefix=%q channel=%d delay=%s", s.TriggerPrefix, s.BotChannel, s.ResponseDelay)
}
