// Package app wires Hoshi's components from a resolved config.Config and runs
// them until the context is cancelled.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/bdobrica/Hoshi/internal/hoshi/admin"
	"github.com/bdobrica/Hoshi/internal/hoshi/bot"
	"github.com/bdobrica/Hoshi/internal/hoshi/config"
	"github.com/bdobrica/Hoshi/internal/hoshi/conversation"
	"github.com/bdobrica/Hoshi/internal/hoshi/llm"
	"github.com/bdobrica/Hoshi/internal/hoshi/matrix"
	"github.com/bdobrica/Hoshi/internal/hoshi/memory"
	"github.com/bdobrica/Hoshi/internal/hoshi/ratelimit"
	"github.com/bdobrica/Hoshi/internal/hoshi/router"
	"github.com/bdobrica/Hoshi/internal/hoshi/search"
	"github.com/bdobrica/Hoshi/internal/hoshi/settings"
	"github.com/bdobrica/Hoshi/internal/hoshi/store"
	"github.com/bdobrica/Hoshi/internal/hoshi/telegram"
	"github.com/bdobrica/Hoshi/internal/hoshi/usage"
)

// App owns every long-lived component of a running bot.
type App struct {
	cfg *config.Config

	store      *store.Store
	settings   settings.Store
	memory     *memory.Store
	index      *search.Index
	history    *conversation.Store
	redis      *redis.Client
	limiter    *ratelimit.RateLimiter
	modes      *router.ModeStore
	router     *router.Router
	bot        *bot.Bot
	transports []bot.Transport
	admin      *admin.Server

	closers []io.Closer
}

// New builds the application. On error every resource opened so far is
// released.
func New(ctx context.Context, cfg *config.Config) (a *App, err error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	a = &App{cfg: cfg, modes: router.NewModeStore()}
	defer func() {
		if err != nil {
			a.Close()
			a = nil
		}
	}()

	slog.Info("opening database", "path", cfg.Database.Path)
	a.store, err = store.New(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("app: open database: %w", err)
	}
	a.closers = append(a.closers, a.store)
	a.settings = settings.New(a.store)

	if cfg.Search.Enabled {
		if a.index, err = newIndex(ctx, cfg.Search); err != nil {
			return nil, err
		}
		a.closers = append(a.closers, a.index)
		slog.Info("semantic note search enabled", "collection", cfg.Search.Collection)
	}

	opts := memory.Options{}
	if a.index != nil {
		opts.Indexer = a.index
	}
	a.memory, err = memory.New(cfg.Memory.Dir, opts)
	if err != nil {
		return nil, fmt.Errorf("app: open memory: %w", err)
	}

	if err := a.openHistory(ctx); err != nil {
		return nil, err
	}

	a.limiter = ratelimit.New(ratelimit.Config{
		Capacity:        cfg.RateLimit.Capacity,
		RefillRate:      cfg.RateLimit.RefillRate,
		IdleTTL:         cfg.RateLimit.IdleTTL,
		CleanupInterval: cfg.RateLimit.CleanupInterval,
	})

	var budget *usage.Budget
	if cfg.Usage.DailyTokens > 0 {
		budget = usage.NewBudget(cfg.Usage.DailyTokens)
	}

	flow, err := newHostedProvider(cfg.LLM)
	if err != nil {
		return nil, err
	}
	simple := flow
	if cfg.Router.SimpleExecutor == "cli" {
		cli, err := llm.NewCLI(llm.CLIConfig{
			Command:        cfg.CLI.Command,
			Args:           cfg.CLI.Args,
			Timeout:        cfg.Router.SimpleTimeout,
			MaxOutputBytes: cfg.CLI.MaxOutputBytes,
		})
		if err != nil {
			return nil, fmt.Errorf("app: cli executor: %w", err)
		}
		simple = cli
	}
	slog.Info("providers ready", "simple", simple.Name(), "flow", flow.Name(), "model", cfg.LLM.Model)

	a.router, err = router.New(router.Config{
		Simple:         simple,
		Flow:           flow,
		Memory:         a.memory,
		History:        a.history,
		Budget:         budget,
		Settings:       a.settings,
		Model:          cfg.LLM.Model,
		MaxTokens:      cfg.LLM.MaxTokens,
		ThinkingBudget: cfg.LLM.ThinkingBudget,
		HistoryLimit:   cfg.Conversation.HistoryLimit,
		SimpleTimeout:  cfg.Router.SimpleTimeout,
		FlowTimeout:    cfg.Router.FlowTimeout,
		FlowFallback:   cfg.Router.FlowFallback,
		Secrets:        cfg.Secrets(),
	})
	if err != nil {
		return nil, err
	}

	botCfg := bot.Config{
		Router:       a.router,
		Modes:        a.modes,
		Memory:       a.memory,
		History:      a.history,
		Limiter:      a.limiter,
		Allow:        bot.NewAllowlist(cfg.Auth.AllowedUsers, cfg.Auth.AllowAll),
		Budget:       budget,
		Settings:     a.settings,
		DefaultHint:  cfg.Router.DefaultHint,
		AutoRemember: true,
	}
	if a.index != nil {
		botCfg.Search = a.index
	}
	a.bot, err = bot.New(botCfg)
	if err != nil {
		return nil, err
	}

	if err := a.openTransports(); err != nil {
		return nil, err
	}

	if cfg.Admin.Addr != "" {
		a.admin = admin.New(cfg.Admin.Addr, cfg.Admin.Token, a.settings, a.stats)
	}
	return a, nil
}

func newIndex(ctx context.Context, cfg config.SearchConfig) (*search.Index, error) {
	embedder, err := search.NewOpenAIEmbedder(search.EmbedderConfig{
		APIKey:     cfg.EmbeddingAPIKey,
		BaseURL:    cfg.EmbeddingBaseURL,
		Model:      cfg.EmbeddingModel,
		Dimensions: cfg.Dimensions,
	})
	if err != nil {
		return nil, fmt.Errorf("app: embedder: %w", err)
	}
	vectors, err := search.NewQdrantStore(search.QdrantConfig{
		Host:       cfg.QdrantHost,
		Port:       cfg.QdrantPort,
		APIKey:     cfg.QdrantAPIKey,
		UseTLS:     cfg.QdrantUseTLS,
		Collection: cfg.Collection,
	})
	if err != nil {
		return nil, fmt.Errorf("app: qdrant: %w", err)
	}
	index := search.NewIndex(embedder, vectors)
	if err := index.Init(ctx); err != nil {
		index.Close()
		return nil, fmt.Errorf("app: init search index: %w", err)
	}
	return index, nil
}

func (a *App) openHistory(ctx context.Context) error {
	cfg := a.cfg.Conversation
	var backend conversation.Log
	switch cfg.Backend {
	case "sqlite":
		backend = conversation.NewSQLiteLog(a.store)
	case "redis":
		client, err := conversation.NewRedisClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return fmt.Errorf("app: redis: %w", err)
		}
		a.redis = client
		a.closers = append(a.closers, client)
		backend = conversation.NewRedisLog(client, cfg.Redis.KeyPrefix, cfg.MaxMessages)
	}
	a.history = conversation.New(conversation.Config{MaxMessages: cfg.MaxMessages}, backend)
	slog.Info("conversation history ready", "backend", cfg.Backend, "max_messages", cfg.MaxMessages)
	return nil
}

// newHostedProvider builds the SDK provider named by cfg.Provider.
func newHostedProvider(cfg config.LLMConfig) (llm.Provider, error) {
	switch cfg.Provider {
	case "anthropic":
		return llm.NewAnthropic(llm.AnthropicConfig{
			APIKey:  cfg.APIKey,
			BaseURL: cfg.BaseURL,
			Model:   cfg.Model,
		}), nil
	case "openai":
		return llm.NewOpenAI(llm.OpenAIConfig{
			APIKey:  cfg.APIKey,
			BaseURL: cfg.BaseURL,
			Model:   cfg.Model,
		}), nil
	case "groq":
		return llm.NewGroq(cfg.APIKey, cfg.Model, cfg.BaseURL), nil
	default:
		return nil, fmt.Errorf("app: unknown llm provider %q", cfg.Provider)
	}
}

func (a *App) openTransports() error {
	if a.cfg.Telegram.Token != "" {
		tg, err := telegram.New(telegram.Config{
			Token:       a.cfg.Telegram.Token,
			BaseURL:     a.cfg.Telegram.BaseURL,
			PollTimeout: a.cfg.Telegram.PollTimeout,
		})
		if err != nil {
			return fmt.Errorf("app: telegram: %w", err)
		}
		a.transports = append(a.transports, tg)
	}
	if a.cfg.Matrix.Homeserver != "" {
		mx, err := matrix.New(matrix.Config{
			Homeserver:   a.cfg.Matrix.Homeserver,
			UserID:       a.cfg.Matrix.UserID,
			AccessToken:  a.cfg.Matrix.AccessToken,
			AllowedRooms: a.cfg.Matrix.AllowedRooms,
			DB:           a.store.DB(),
		})
		if err != nil {
			return fmt.Errorf("app: matrix: %w", err)
		}
		a.transports = append(a.transports, mx)
	}
	if len(a.transports) == 0 {
		return errors.New("app: no transport configured")
	}
	return nil
}

func (a *App) stats() admin.Stats {
	names := make([]string, 0, len(a.transports))
	for _, t := range a.transports {
		names = append(names, t.Name())
	}
	return admin.Stats{
		ActiveBuckets: a.limiter.Size(),
		FlowUsers:     a.modes.Len(),
		Transports:    names,
		SearchEnabled: a.index != nil,
	}
}

// Run starts every transport and the admin server and blocks until ctx is
// cancelled or one of them fails.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, t := range a.transports {
		g.Go(func() error {
			slog.Info("starting transport", "transport", t.Name())
			if err := t.Start(ctx, a.bot.Reply); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("%s: %w", t.Name(), err)
			}
			return nil
		})
	}
	if a.admin != nil {
		g.Go(func() error { return a.admin.Run(ctx) })
	}
	slog.Info("hoshi is running", "transports", len(a.transports), "admin", a.cfg.Admin.Addr)
	err := g.Wait()
	slog.Info("shutting down")
	return err
}

// Close releases every resource in reverse order of acquisition.
func (a *App) Close() {
	if a.limiter != nil {
		a.limiter.Destroy()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			slog.Warn("close failed", "err", err)
		}
	}
	a.closers = nil
}

// Memory returns the long-term memory store.
func (a *App) Memory() *memory.Store { return a.memory }

// OpenMemory opens only the long-term memory store, for offline maintenance
// commands that must not start transports or providers.
func OpenMemory(cfg *config.Config) (*memory.Store, error) {
	return memory.New(cfg.Memory.Dir, memory.Options{})
}
