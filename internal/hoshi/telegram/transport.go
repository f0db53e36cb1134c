// Package telegram is a Bot API transport using long polling.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"

	"github.com/bdobrica/Hoshi/common/redact"
	"github.com/bdobrica/Hoshi/common/retry"
	"github.com/bdobrica/Hoshi/internal/hoshi/bot"
)

const (
	// MaxMessageLength is the Bot API limit for one message.
	MaxMessageLength = 4096

	defaultPollTimeout = 30 * time.Second
	defaultConcurrency = 8
	pollErrorBackoff   = 3 * time.Second
)

// Config configures the transport.
type Config struct {
	Token       string
	BaseURL     string
	PollTimeout time.Duration
	// Concurrency bounds messages handled at once.
	Concurrency int
	HTTPClient  *http.Client
	Retry       retry.Config
}

// Transport implements bot.Transport for Telegram.
type Transport struct {
	api         *api
	token       string
	pollTimeout time.Duration
	concurrency int
	retry       retry.Config
}

// New returns a Telegram transport.
func New(cfg Config) (*Transport, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram: token is required")
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = defaultPollTimeout
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = retry.DefaultConfig
	}
	cfg.Retry.ShouldRetry = shouldRetry
	return &Transport{
		api:         newAPI(cfg.HTTPClient, cfg.BaseURL, cfg.Token),
		token:       cfg.Token,
		pollTimeout: cfg.PollTimeout,
		concurrency: cfg.Concurrency,
		retry:       cfg.Retry,
	}, nil
}

func (t *Transport) Name() string { return "telegram" }

// Start polls for updates until ctx is cancelled. Messages are handled
// concurrently; replies for one chat may complete out of order.
func (t *Transport) Start(ctx context.Context, reply bot.ReplyFunc) error {
	me, err := t.api.getMe(ctx)
	if err != nil {
		return fmt.Errorf("telegram: getMe: %s", t.scrub(err))
	}
	slog.Info("telegram connected", "bot", me.Username, "id", me.ID)

	var g errgroup.Group
	g.SetLimit(t.concurrency)
	defer func() { _ = g.Wait() }()

	var offset int64
	for {
		if ctx.Err() != nil {
			return nil
		}
		updates, next, err := t.api.getUpdates(ctx, offset, t.pollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if !isPollTimeout(err) {
				slog.Warn("telegram getUpdates failed", "err", t.scrub(err))
				var rerr *RequestError
				wait := pollErrorBackoff
				if errors.As(err, &rerr) && rerr.Retry > 0 {
					wait = rerr.Retry
				}
				select {
				case <-ctx.Done():
					return nil
				case <-time.After(wait):
				}
			}
			continue
		}
		offset = next

		for _, u := range updates {
			msg, ok := toMessage(u)
			if !ok {
				continue
			}
			g.Go(func() error {
				t.handle(ctx, reply, msg)
				return nil
			})
		}
	}
}

func (t *Transport) handle(ctx context.Context, reply bot.ReplyFunc, msg bot.Message) {
	if chatID, err := strconv.ParseInt(msg.ChatID, 10, 64); err == nil {
		_ = t.api.sendChatAction(ctx, chatID, "typing")
	}
	text := reply(ctx, msg)
	if text == "" {
		return
	}
	if err := t.SendText(ctx, msg.ChatID, text); err != nil {
		slog.Error("telegram reply failed", "chat", msg.ChatID, "err", t.scrub(err))
	}
}

// SendText sends text to chatID, split into chunks the API accepts. Each
// chunk is retried with backoff.
func (t *Transport) SendText(ctx context.Context, chatID, text string) error {
	id, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return fmt.Errorf("telegram: invalid chat id %q: %w", chatID, err)
	}
	for _, chunk := range SplitMessage(text, MaxMessageLength) {
		err := retry.Do(ctx, t.retry, func() error {
			return t.api.sendMessage(ctx, id, chunk)
		})
		if err != nil {
			return fmt.Errorf("telegram: sendMessage: %s", t.scrub(err))
		}
	}
	return nil
}

func (t *Transport) scrub(err error) string {
	return redact.String(err.Error(), t.token)
}

func shouldRetry(err error) bool {
	var rerr *RequestError
	if errors.As(err, &rerr) {
		return rerr.Temporary()
	}
	return true
}

func toMessage(u update) (bot.Message, bool) {
	m := u.Message
	if m == nil || m.Chat == nil || m.From == nil || m.From.IsBot || strings.TrimSpace(m.Text) == "" {
		return bot.Message{}, false
	}
	return bot.Message{
		Transport:  "telegram",
		ChatID:     strconv.FormatInt(m.Chat.ID, 10),
		UserID:     strconv.FormatInt(m.From.ID, 10),
		Username:   m.From.Username,
		Text:       m.Text,
		ReceivedAt: time.Unix(m.Date, 0),
	}, true
}

// SplitMessage splits text into chunks of at most limit runes, preferring
// paragraph, line and word boundaries.
func SplitMessage(text string, limit int) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	var chunks []string
	for utf8.RuneCountInString(text) > limit {
		head := string([]rune(text)[:limit])
		cut := len(head)
		for _, sep := range []string{"\n\n", "\n", " "} {
			if i := strings.LastIndex(head, sep); i > len(head)/2 {
				cut = i
				break
			}
		}
		chunks = append(chunks, strings.TrimSpace(text[:cut]))
		text = strings.TrimSpace(text[cut:])
	}
	if text != "" {
		chunks = append(chunks, text)
	}
	return chunks
}

var _ bot.Transport = (*Transport)(nil)
