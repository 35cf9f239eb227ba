// Package matrix bridges the relay to a Matrix room.
package matrix

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/bft-labs/meshrelay/internal/ports"
	"github.com/bft-labs/meshrelay/pkg/log"
)

const sendTimeout = 30 * time.Second

// Config holds the Matrix account and room.
type Config struct {
	Homeserver  string
	UserID      string
	AccessToken string
	RoomID      string
}

// Bridge implements ports.Bridge for one Matrix room.
type Bridge struct {
	client  *mautrix.Client
	userID  id.UserID
	roomID  id.RoomID
	logger  log.Logger
	started time.Time
}

// New creates a bridge. It does not contact the homeserver.
func New(cfg Config, logger log.Logger) (*Bridge, error) {
	if cfg.Homeserver == "" || cfg.UserID == "" || cfg.AccessToken == "" || cfg.RoomID == "" {
		return nil, errors.New("matrix: homeserver, user id, access token and room id are required")
	}
	if logger == nil {
		logger = log.NewNoopLogger()
	}

	client, err := mautrix.NewClient(cfg.Homeserver, id.UserID(cfg.UserID), cfg.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("creating matrix client: %w", err)
	}

	return &Bridge{
		client: client,
		userID: id.UserID(cfg.UserID),
		roomID: id.RoomID(cfg.RoomID),
		logger: logger.With(log.String("component", "matrix"), log.String("room", cfg.RoomID)),
	}, nil
}

// Name returns "matrix".
func (b *Bridge) Name() string { return "matrix" }

// Run syncs with the homeserver and injects room messages until ctx is
// canceled. Messages sent before Run started are skipped.
func (b *Bridge) Run(ctx context.Context, inject ports.InjectFunc) error {
	b.started = time.Now()

	syncer, ok := b.client.Syncer.(*mautrix.DefaultSyncer)
	if !ok {
		return fmt.Errorf("unexpected syncer type: %T", b.client.Syncer)
	}
	syncer.OnEventType(event.EventMessage, func(ctx context.Context, evt *event.Event) {
		b.handleMessage(ctx, evt, inject)
	})

	b.logger.Info("connecting to matrix homeserver")

	syncCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	syncErr := make(chan error, 1)
	go func() {
		syncErr <- b.client.SyncWithContext(syncCtx)
	}()

	select {
	case <-ctx.Done():
		b.logger.Info("shutting down matrix bridge")
		cancel()
		<-syncErr
		return nil
	case err := <-syncErr:
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("matrix sync failed: %w", err)
	}
}

func (b *Bridge) handleMessage(ctx context.Context, evt *event.Event, inject ports.InjectFunc) {
	if evt.Sender == b.userID || evt.RoomID != b.roomID {
		return
	}
	if !b.started.IsZero() && time.UnixMilli(evt.Timestamp).Before(b.started) {
		return
	}

	content, ok := evt.Content.Parsed.(*event.MessageEventContent)
	if !ok || content.MsgType != event.MsgText {
		return
	}
	text := strings.TrimSpace(content.Body)
	if text == "" {
		return
	}

	sender := senderName(evt.Sender)
	b.logger.Debug("matrix message", log.String("sender", sender), log.Int("len", len(text)))

	if err := inject(ctx, sender, text); err != nil {
		b.logger.Warn("inject failed", log.String("sender", sender), log.Err(err))
	}
}

// senderName returns the localpart of a user ID, or the full ID if it does
// not parse.
func senderName(user id.UserID) string {
	localpart, _, err := user.Parse()
	if err != nil || localpart == "" {
		return user.String()
	}
	return localpart
}

// Outbound posts text to the room.
func (b *Bridge) Outbound(ctx context.Context, text string, channel uint8) error {
	ctx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()

	if _, err := b.client.SendText(ctx, b.roomID, text); err != nil {
		return fmt.Errorf("sending to %s: %w", b.roomID, err)
	}
	b.logger.Debug("posted to matrix", log.Int("channel", int(channel)))
	return nil
}

var _ ports.Bridge = (*Bridge)(nil)
