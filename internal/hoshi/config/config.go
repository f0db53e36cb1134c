// Package config loads Hoshi's process configuration from an optional YAML
// file, HOSHI_-prefixed environment variables and built-in defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable, e.g.
// memory.dir ↔ HOSHI_MEMORY_DIR.
const EnvPrefix = "HOSHI"

// DefaultConfigFile is read when --config is not given and the file exists.
const DefaultConfigFile = "hoshi.yaml"

// Config is the fully resolved process configuration.
type Config struct {
	Log          LogConfig
	Database     DatabaseConfig
	Memory       MemoryConfig
	Conversation ConversationConfig
	RateLimit    RateLimitConfig
	Usage        UsageConfig
	Auth         AuthConfig
	Telegram     TelegramConfig
	Matrix       MatrixConfig
	LLM          LLMConfig
	CLI          CLIConfig
	Router       RouterConfig
	Search       SearchConfig
	Admin        AdminConfig
}

type LogConfig struct {
	Level  string
	Format string
}

type DatabaseConfig struct {
	Path string
}

type MemoryConfig struct {
	Dir string
}

// ConversationConfig selects the short-term history backend.
type ConversationConfig struct {
	MaxMessages  int
	HistoryLimit int
	// Backend is one of "memory", "sqlite" or "redis".
	Backend string
	Redis   RedisConfig
}

type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

type RateLimitConfig struct {
	Capacity        int
	RefillRate      float64
	IdleTTL         time.Duration
	CleanupInterval time.Duration
}

// UsageConfig bounds per-user LLM token spend per calendar day. Zero
// disables the check.
type UsageConfig struct {
	DailyTokens int
}

type AuthConfig struct {
	AllowedUsers []string
	AllowAll     bool
}

type TelegramConfig struct {
	Token       string
	BaseURL     string
	PollTimeout time.Duration
}

type MatrixConfig struct {
	Homeserver   string
	UserID       string
	AccessToken  string
	AllowedRooms []string
}

// LLMConfig configures the hosted provider used by flow mode (and by simple
// mode when the simple executor is "sdk").
type LLMConfig struct {
	// Provider is one of "anthropic", "openai" or "groq".
	Provider       string
	Model          string
	APIKey         string
	BaseURL        string
	MaxTokens      int
	ThinkingBudget int
}

// CLIConfig configures the local command-line executor. The prompt is passed
// as the final argument; no shell is involved.
type CLIConfig struct {
	Command        string
	Args           []string
	MaxOutputBytes int
}

type RouterConfig struct {
	// SimpleExecutor is "cli" or "sdk".
	SimpleExecutor string
	SimpleTimeout  time.Duration
	FlowTimeout    time.Duration
	FlowFallback   bool
	DefaultHint    bool
}

// SearchConfig enables semantic note search through Qdrant.
type SearchConfig struct {
	Enabled          bool
	QdrantHost       string
	QdrantPort       int
	QdrantAPIKey     string
	QdrantUseTLS     bool
	Collection       string
	EmbeddingModel   string
	EmbeddingAPIKey  string
	EmbeddingBaseURL string
	Dimensions       int
}

type AdminConfig struct {
	Addr  string
	Token string
}

// SetDefaults registers every known key on v so AutomaticEnv can resolve it.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetDefault("database.path", "./hoshi.db")

	v.SetDefault("memory.dir", "./data/memory")

	v.SetDefault("conversation.max_messages", 50)
	v.SetDefault("conversation.history_limit", 10)
	v.SetDefault("conversation.backend", "memory")
	v.SetDefault("conversation.redis.addr", "localhost:6379")
	v.SetDefault("conversation.redis.password", "")
	v.SetDefault("conversation.redis.db", 0)
	v.SetDefault("conversation.redis.key_prefix", "hoshi:conversation:")

	v.SetDefault("ratelimit.capacity", 10)
	v.SetDefault("ratelimit.refill_rate", 0.5)
	v.SetDefault("ratelimit.idle_ttl", time.Hour)
	v.SetDefault("ratelimit.cleanup_interval", 5*time.Minute)

	v.SetDefault("usage.daily_tokens", 200_000)

	v.SetDefault("auth.allowed_users", []string{})
	v.SetDefault("auth.allow_all", false)

	v.SetDefault("telegram.token", "")
	v.SetDefault("telegram.base_url", "https://api.telegram.org")
	v.SetDefault("telegram.poll_timeout", 30*time.Second)

	v.SetDefault("matrix.homeserver", "")
	v.SetDefault("matrix.user_id", "")
	v.SetDefault("matrix.access_token", "")
	v.SetDefault("matrix.allowed_rooms", []string{})

	v.SetDefault("llm.provider", "anthropic")
	v.SetDefault("llm.model", "")
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.base_url", "")
	v.SetDefault("llm.max_tokens", 4096)
	v.SetDefault("llm.thinking_budget", 8000)

	v.SetDefault("cli.command", "claude")
	v.SetDefault("cli.args", []string{"-p"})
	v.SetDefault("cli.max_output_bytes", 1<<20)

	v.SetDefault("router.simple_executor", "cli")
	v.SetDefault("router.simple_timeout", 120*time.Second)
	v.SetDefault("router.flow_timeout", 300*time.Second)
	v.SetDefault("router.flow_fallback", true)
	v.SetDefault("router.default_hint", true)

	v.SetDefault("search.enabled", false)
	v.SetDefault("search.qdrant_host", "localhost")
	v.SetDefault("search.qdrant_port", 6334)
	v.SetDefault("search.qdrant_api_key", "")
	v.SetDefault("search.qdrant_use_tls", false)
	v.SetDefault("search.collection", "hoshi_notes")
	v.SetDefault("search.embedding_model", "text-embedding-3-small")
	v.SetDefault("search.embedding_api_key", "")
	v.SetDefault("search.embedding_base_url", "")
	v.SetDefault("search.dimensions", 1536)

	v.SetDefault("admin.addr", "")
	v.SetDefault("admin.token", "")
}

// NewViper returns a viper instance wired for HOSHI_ environment variables
// and defaults. When configFile is empty the default file is read if present.
func NewViper(configFile string) (*viper.Viper, error) {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	explicit := strings.TrimSpace(configFile) != ""
	if !explicit {
		configFile = DefaultConfigFile
		if _, err := os.Stat(configFile); err != nil {
			return v, nil
		}
	}
	v.SetConfigFile(configFile)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("config: read %s: %w", configFile, err)
	}
	return v, nil
}

// Load maps v into a typed Config. It does not validate.
func Load(v *viper.Viper) (*Config, error) {
	if v == nil {
		return nil, errors.New("config: nil viper instance")
	}
	cfg := &Config{
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
		},
		Database: DatabaseConfig{Path: v.GetString("database.path")},
		Memory:   MemoryConfig{Dir: v.GetString("memory.dir")},
		Conversation: ConversationConfig{
			MaxMessages:  v.GetInt("conversation.max_messages"),
			HistoryLimit: v.GetInt("conversation.history_limit"),
			Backend:      strings.ToLower(strings.TrimSpace(v.GetString("conversation.backend"))),
			Redis: RedisConfig{
				Addr:      v.GetString("conversation.redis.addr"),
				Password:  v.GetString("conversation.redis.password"),
				DB:        v.GetInt("conversation.redis.db"),
				KeyPrefix: v.GetString("conversation.redis.key_prefix"),
			},
		},
		RateLimit: RateLimitConfig{
			Capacity:        v.GetInt("ratelimit.capacity"),
			RefillRate:      v.GetFloat64("ratelimit.refill_rate"),
			IdleTTL:         v.GetDuration("ratelimit.idle_ttl"),
			CleanupInterval: v.GetDuration("ratelimit.cleanup_interval"),
		},
		Usage: UsageConfig{DailyTokens: v.GetInt("usage.daily_tokens")},
		Auth: AuthConfig{
			AllowedUsers: splitList(v.GetStringSlice("auth.allowed_users")),
			AllowAll:     v.GetBool("auth.allow_all"),
		},
		Telegram: TelegramConfig{
			Token:       v.GetString("telegram.token"),
			BaseURL:     v.GetString("telegram.base_url"),
			PollTimeout: v.GetDuration("telegram.poll_timeout"),
		},
		Matrix: MatrixConfig{
			Homeserver:   v.GetString("matrix.homeserver"),
			UserID:       v.GetString("matrix.user_id"),
			AccessToken:  v.GetString("matrix.access_token"),
			AllowedRooms: splitList(v.GetStringSlice("matrix.allowed_rooms")),
		},
		LLM: LLMConfig{
			Provider:       strings.ToLower(strings.TrimSpace(v.GetString("llm.provider"))),
			Model:          v.GetString("llm.model"),
			APIKey:         v.GetString("llm.api_key"),
			BaseURL:        v.GetString("llm.base_url"),
			MaxTokens:      v.GetInt("llm.max_tokens"),
			ThinkingBudget: v.GetInt("llm.thinking_budget"),
		},
		CLI: CLIConfig{
			Command:        v.GetString("cli.command"),
			Args:           v.GetStringSlice("cli.args"),
			MaxOutputBytes: v.GetInt("cli.max_output_bytes"),
		},
		Router: RouterConfig{
			SimpleExecutor: strings.ToLower(strings.TrimSpace(v.GetString("router.simple_executor"))),
			SimpleTimeout:  v.GetDuration("router.simple_timeout"),
			FlowTimeout:    v.GetDuration("router.flow_timeout"),
			FlowFallback:   v.GetBool("router.flow_fallback"),
			DefaultHint:    v.GetBool("router.default_hint"),
		},
		Search: SearchConfig{
			Enabled:          v.GetBool("search.enabled"),
			QdrantHost:       v.GetString("search.qdrant_host"),
			QdrantPort:       v.GetInt("search.qdrant_port"),
			QdrantAPIKey:     v.GetString("search.qdrant_api_key"),
			QdrantUseTLS:     v.GetBool("search.qdrant_use_tls"),
			Collection:       v.GetString("search.collection"),
			EmbeddingModel:   v.GetString("search.embedding_model"),
			EmbeddingAPIKey:  v.GetString("search.embedding_api_key"),
			EmbeddingBaseURL: v.GetString("search.embedding_base_url"),
			Dimensions:       v.GetInt("search.dimensions"),
		},
		Admin: AdminConfig{
			Addr:  v.GetString("admin.addr"),
			Token: v.GetString("admin.token"),
		},
	}
	if cfg.LLM.Model == "" {
		cfg.LLM.Model = DefaultModel(cfg.LLM.Provider)
	}
	return cfg, nil
}

// DefaultModel returns the model used when llm.model is unset.
func DefaultModel(provider string) string {
	switch provider {
	case "openai":
		return "gpt-4o-mini"
	case "groq":
		return "llama-3.3-70b-versatile"
	default:
		return "claude-sonnet-4-5"
	}
}

// Validate reports the first configuration problem that would prevent the
// bot from serving.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Memory.Dir) == "" {
		return errors.New("config: memory.dir (HOSHI_MEMORY_DIR) is required")
	}
	if c.Telegram.Token == "" && c.Matrix.Homeserver == "" {
		return errors.New("config: at least one transport is required: set telegram.token or matrix.homeserver")
	}
	if c.Matrix.Homeserver != "" && (c.Matrix.UserID == "" || c.Matrix.AccessToken == "") {
		return errors.New("config: matrix.user_id and matrix.access_token are required when matrix.homeserver is set")
	}
	if len(c.Auth.AllowedUsers) == 0 && !c.Auth.AllowAll {
		return errors.New("config: auth.allowed_users is empty; set auth.allow_all to accept every user")
	}
	switch c.Conversation.Backend {
	case "memory", "sqlite", "redis":
	default:
		return fmt.Errorf("config: unknown conversation.backend %q", c.Conversation.Backend)
	}
	if c.Conversation.MaxMessages <= 0 {
		return errors.New("config: conversation.max_messages must be positive")
	}
	switch c.LLM.Provider {
	case "anthropic", "openai", "groq":
	default:
		return fmt.Errorf("config: unknown llm.provider %q", c.LLM.Provider)
	}
	switch c.Router.SimpleExecutor {
	case "cli":
		if strings.TrimSpace(c.CLI.Command) == "" {
			return errors.New("config: cli.command is required when router.simple_executor is cli")
		}
	case "sdk":
	default:
		return fmt.Errorf("config: unknown router.simple_executor %q", c.Router.SimpleExecutor)
	}
	if c.Router.SimpleTimeout <= 0 || c.Router.FlowTimeout <= 0 {
		return errors.New("config: router timeouts must be positive")
	}
	if c.RateLimit.Capacity <= 0 || c.RateLimit.RefillRate <= 0 {
		return errors.New("config: ratelimit.capacity and ratelimit.refill_rate must be positive")
	}
	if c.Search.Enabled && c.Search.Dimensions <= 0 {
		return errors.New("config: search.dimensions must be positive when search is enabled")
	}
	return nil
}

// Secrets returns the configured credentials so they can be scrubbed from
// log output.
func (c *Config) Secrets() []string {
	return []string{
		c.Telegram.Token,
		c.Matrix.AccessToken,
		c.LLM.APIKey,
		c.Search.QdrantAPIKey,
		c.Search.EmbeddingAPIKey,
		c.Conversation.Redis.Password,
		c.Admin.Token,
	}
}

// splitList normalises list values that arrive from the environment as a
// single comma-separated string.
func splitList(in []string) []string {
	var out []string
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if p := strings.TrimSpace(part); p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}
