// Package bot is Hoshi's transport-independent front end. It authenticates
// and rate limits senders, runs slash commands and hands everything else to
// the router.
package bot

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bdobrica/Hoshi/common/observability"
	"github.com/bdobrica/Hoshi/internal/hoshi/conversation"
	"github.com/bdobrica/Hoshi/internal/hoshi/memory"
	"github.com/bdobrica/Hoshi/internal/hoshi/ratelimit"
	"github.com/bdobrica/Hoshi/internal/hoshi/router"
	"github.com/bdobrica/Hoshi/internal/hoshi/search"
	"github.com/bdobrica/Hoshi/internal/hoshi/settings"
	"github.com/bdobrica/Hoshi/internal/hoshi/usage"
)

// CommandPrefix starts every command.
const CommandPrefix = "/"

// MessageRouter executes non-command text.
type MessageRouter interface {
	RouteMessage(ctx context.Context, text string, mode router.Mode, userID string) (string, error)
}

// Searcher answers /search. A nil Searcher disables the command.
type Searcher interface {
	Search(ctx context.Context, userID, query string, limit int) ([]search.Hit, error)
}

// Config wires a Bot.
type Config struct {
	Router   MessageRouter
	Modes    *router.ModeStore
	Memory   *memory.Store
	History  *conversation.Store
	Limiter  *ratelimit.RateLimiter
	Allow    *Allowlist
	Budget   *usage.Budget
	Search   Searcher
	Settings settings.Getter

	// DefaultHint appends router.FlowHint to simple replies that look like
	// multi-step tasks. Overridden by settings.KeyDefaultHint.
	DefaultHint bool
	// AutoRemember stores identity facts spotted in simple-mode messages.
	AutoRemember bool
}

// Bot handles inbound messages.
type Bot struct {
	cfg      Config
	commands *CommandRouter
	handler  HandlerFunc
	started  time.Time
}

// New validates cfg and builds the handler chain.
func New(cfg Config) (*Bot, error) {
	if cfg.Router == nil || cfg.Memory == nil || cfg.History == nil || cfg.Limiter == nil {
		return nil, errors.New("bot: router, memory, history and limiter are required")
	}
	if cfg.Modes == nil {
		cfg.Modes = router.NewModeStore()
	}
	if cfg.Allow == nil {
		cfg.Allow = NewAllowlist(nil, false)
	}

	b := &Bot{
		cfg:      cfg,
		commands: NewCommandRouter(CommandPrefix),
		started:  time.Now(),
	}
	b.registerCommands()
	b.handler = Chain(b.handle,
		Logging(),
		Auth(cfg.Allow),
		RateLimit(cfg.Limiter),
	)
	return b, nil
}

// Reply runs msg through the middleware chain and returns the text to send.
// It satisfies ReplyFunc.
func (b *Bot) Reply(ctx context.Context, msg Message) string {
	reply, err := b.handler(ctx, msg)
	if err != nil {
		return ErrorText(err)
	}
	return reply
}

func (b *Bot) handle(ctx context.Context, msg Message) (string, error) {
	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return "", nil
	}

	reply, err := b.commands.Route(ctx, text, msg)
	switch {
	case err == nil:
		return reply, nil
	case errors.Is(err, ErrUnknownCommand):
		return "🤔 I don't know that command. Send /help to see what I can do.", nil
	case !errors.Is(err, ErrNotACommand):
		return "", err
	}

	return b.handleText(ctx, text, msg), nil
}

func (b *Bot) handleText(ctx context.Context, text string, msg Message) string {
	mode := b.cfg.Modes.Get(msg.UserID)
	if mode == router.ModeSimple && b.cfg.AutoRemember {
		b.autoRemember(ctx, msg.UserID, text)
	}

	reply, err := b.cfg.Router.RouteMessage(ctx, text, mode, msg.UserID)
	if err != nil {
		return router.UserMessage(err)
	}

	if mode == router.ModeSimple &&
		settings.Bool(ctx, b.cfg.Settings, settings.KeyDefaultHint, b.cfg.DefaultHint) &&
		router.SuggestMode(text) == router.ModeFlow {
		reply += "\n\n" + router.FlowHint
	}
	return reply
}

// autoRemember stores facts that differ from what is already recorded.
func (b *Bot) autoRemember(ctx context.Context, userID, text string) {
	log := observability.WithTrace(ctx)
	for _, fact := range memory.ExtractFacts(text) {
		current := b.cfg.Memory.Recall(ctx, userID, fact.Key, fact.File)
		if current.Found && strings.EqualFold(current.Value, fact.Value) {
			continue
		}
		if err := b.cfg.Memory.Remember(ctx, userID, fact.Key, fact.Value, fact.File); err != nil {
			log.Warn("auto-remember failed", "user", userID, "key", fact.Key, "err", err)
			continue
		}
		log.Info("auto-remembered fact", "user", userID, "key", fact.Key, "file", fact.File)
	}
}
