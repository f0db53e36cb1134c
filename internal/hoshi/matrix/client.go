// Package matrix is a Matrix transport built on mautrix. Replies are sent as
// HTML rendered from Markdown with a plain-text fallback.
package matrix

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/bdobrica/Hoshi/common/redact"
	"github.com/bdobrica/Hoshi/internal/hoshi/bot"
)

const (
	backoffMin         = 2 * time.Second
	backoffMax         = 5 * time.Minute
	defaultConcurrency = 8
)

// Config holds Matrix client configuration.
type Config struct {
	Homeserver  string
	UserID      string
	AccessToken string
	// AllowedRooms limits where the bot listens and which invites it accepts.
	// Empty means any room.
	AllowedRooms []string
	// DB persists the sync token. When nil an in-memory store is used and
	// history replays on restart.
	DB          *sql.DB
	Concurrency int
}

// Transport implements bot.Transport for Matrix.
type Transport struct {
	client      *mautrix.Client
	cfg         Config
	startedAt   time.Time
	concurrency int
}

// New creates a Matrix transport.
func New(cfg Config) (*Transport, error) {
	if cfg.Homeserver == "" || cfg.UserID == "" || cfg.AccessToken == "" {
		return nil, errors.New("matrix: homeserver, user_id and access_token are required")
	}
	client, err := mautrix.NewClient(cfg.Homeserver, id.UserID(cfg.UserID), cfg.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("matrix: create client: %w", err)
	}
	if cfg.DB != nil {
		client.Store = NewDBSyncStore(cfg.DB)
	} else {
		slog.Warn("matrix sync store: no database, history will replay on restart")
	}
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}
	return &Transport{client: client, cfg: cfg, concurrency: concurrency}, nil
}

func (t *Transport) Name() string { return "matrix" }

// Start syncs until ctx is cancelled, reconnecting with exponential backoff.
func (t *Transport) Start(ctx context.Context, reply bot.ReplyFunc) error {
	t.startedAt = time.Now()

	var g errgroup.Group
	g.SetLimit(t.concurrency)
	defer func() { _ = g.Wait() }()

	syncer, ok := t.client.Syncer.(*mautrix.DefaultSyncer)
	if !ok {
		return errors.New("matrix: unexpected syncer type")
	}
	syncer.OnEventType(event.EventMessage, func(ctx context.Context, evt *event.Event) {
		msg, ok := t.toMessage(evt)
		if !ok {
			return
		}
		g.Go(func() error {
			t.handle(ctx, reply, msg)
			return nil
		})
	})
	syncer.OnEventType(event.StateMember, t.handleInvite)

	for _, room := range t.cfg.AllowedRooms {
		if err := t.joinRoom(ctx, id.RoomID(room)); err != nil {
			slog.Warn("matrix: join allowed room failed", "room", room, "err", t.scrub(err))
		}
	}

	slog.Warn("matrix E2EE is not enabled; messages are transmitted in plaintext")
	backoff := backoffMin
	for {
		err := t.client.SyncWithContext(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if err == nil {
			return nil
		}
		slog.Error("matrix sync stopped; reconnecting", "err", t.scrub(err), "backoff", backoff)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, backoffMax)
	}
}

func (t *Transport) handle(ctx context.Context, reply bot.ReplyFunc, msg bot.Message) {
	_, _ = t.client.UserTyping(ctx, id.RoomID(msg.ChatID), true, 30*time.Second)
	text := reply(ctx, msg)
	_, _ = t.client.UserTyping(ctx, id.RoomID(msg.ChatID), false, 0)
	if text == "" {
		return
	}
	if err := t.SendText(ctx, msg.ChatID, text); err != nil {
		slog.Error("matrix reply failed", "room", msg.ChatID, "err", t.scrub(err))
	}
}

// SendText sends text with an HTML rendering.
func (t *Transport) SendText(ctx context.Context, roomID, text string) error {
	content := event.MessageEventContent{
		MsgType: event.MsgText,
		Body:    text,
	}
	if html := renderHTML(text); html != "" {
		content.Format = event.FormatHTML
		content.FormattedBody = html
	}
	if _, err := t.client.SendMessageEvent(ctx, id.RoomID(roomID), event.EventMessage, &content); err != nil {
		return fmt.Errorf("matrix: send message: %w", err)
	}
	return nil
}

// toMessage filters events down to fresh text messages from other users in
// allowed rooms.
func (t *Transport) toMessage(evt *event.Event) (bot.Message, bool) {
	if evt.Sender == id.UserID(t.cfg.UserID) {
		return bot.Message{}, false
	}
	if !t.roomAllowed(evt.RoomID.String()) {
		return bot.Message{}, false
	}
	sent := time.UnixMilli(evt.Timestamp)
	if !t.startedAt.IsZero() && sent.Before(t.startedAt.Add(-time.Minute)) {
		return bot.Message{}, false
	}
	content := evt.Content.AsMessage()
	if content == nil || content.MsgType != event.MsgText || strings.TrimSpace(content.Body) == "" {
		return bot.Message{}, false
	}
	return bot.Message{
		Transport:  "matrix",
		ChatID:     evt.RoomID.String(),
		UserID:     evt.Sender.String(),
		Username:   evt.Sender.Localpart(),
		Text:       content.Body,
		ReceivedAt: sent,
	}, true
}

func (t *Transport) handleInvite(ctx context.Context, evt *event.Event) {
	member := evt.Content.AsMember()
	if member == nil || member.Membership != event.MembershipInvite {
		return
	}
	if evt.GetStateKey() != t.cfg.UserID || !t.roomAllowed(evt.RoomID.String()) {
		return
	}
	if err := t.joinRoom(ctx, evt.RoomID); err != nil {
		slog.Warn("matrix: accept invite failed", "room", evt.RoomID, "err", t.scrub(err))
		return
	}
	slog.Info("matrix: joined room", "room", evt.RoomID, "inviter", evt.Sender)
}

func (t *Transport) roomAllowed(roomID string) bool {
	return len(t.cfg.AllowedRooms) == 0 || slices.Contains(t.cfg.AllowedRooms, roomID)
}

func (t *Transport) joinRoom(ctx context.Context, roomID id.RoomID) error {
	_, err := t.client.JoinRoomByID(ctx, roomID)
	if err != nil && errors.Is(err, mautrix.MForbidden) {
		slog.Warn("matrix: join forbidden, continuing", "room", roomID)
		return nil
	}
	return err
}

func (t *Transport) scrub(err error) string {
	return redact.String(err.Error(), t.cfg.AccessToken)
}

var _ bot.Transport = (*Transport)(nil)
