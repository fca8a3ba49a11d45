// Package config loads and validates all runtime configuration for the gateway.
//
// Configuration is read from environment variables (preferred for containers)
// or from a config.yaml file in the working directory. Environment variables
// take precedence over the YAML file. A .env file, when present, is loaded
// into the process environment first.
//
// Naming convention: env vars use UPPER_SNAKE_CASE; the YAML file uses the
// same names in lower_snake_case. For example OPENAI_API_KEY becomes
// openai_api_key in YAML.
//
// No provider key is strictly required: Ollama runs without one. Redis is
// optional: set CACHE_MODE=memory to use the built-in in-process cache.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/subosito/gotenv"
)

// PlaceholderKey is the masked value some deployments write instead of
// leaving a key empty. It counts as "not configured".
const PlaceholderKey = "****"

// Config is the top-level configuration container.
type Config struct {
	// Port is the TCP port the HTTP server listens on. Default: 8080.
	Port int

	// LogLevel controls the minimum log level. One of: debug, info, warn, error.
	LogLevel string

	OpenAI    ProviderConfig
	Anthropic ProviderConfig
	Google    ProviderConfig
	XAI       ProviderConfig
	Groq      ProviderConfig

	// Ollama needs no key; BaseURL is the native API URL (".../api").
	Ollama ProviderConfig

	OpenRouter OpenRouterConfig

	// OpenAICompatible is the raw OPENAI_COMPATIBLE_DATA JSON. It is parsed
	// by the model registry so that a malformed value only disables the
	// user-defined providers instead of failing startup.
	OpenAICompatible string

	// ShowAllProviders lists providers without keys in GET /api/chat/models.
	ShowAllProviders bool

	// DatabasePath is the SQLite file holding users, sessions, preferences
	// and workflows.
	DatabasePath string

	// AgentExtraTools are additional tool names offered to the agent
	// generator next to the built-in ones.
	AgentExtraTools []string

	// Redis holds the connection URL for the shared cache and rate limiter.
	// Required only when Cache.Mode is "redis".
	Redis RedisConfig

	Cache CacheConfig

	// ClickHouseDSN enables the analytics sink for request logs.
	ClickHouseDSN string

	CircuitBreaker CircuitBreakerConfig

	RateLimit RateLimitConfig

	Failover FailoverConfig

	// CORSOrigins is the list of allowed CORS origins. ["*"] allows any.
	CORSOrigins []string

	// StreamSmoothingDelay is the pause between word chunks in UI streams.
	StreamSmoothingDelay time.Duration
}

// ProviderConfig holds configuration for a single upstream provider.
type ProviderConfig struct {
	// APIKey is the provider API key. Empty or "****" disables the provider.
	APIKey string

	// BaseURL overrides the provider's default API endpoint.
	BaseURL string
}

// HasKey reports whether a usable API key is configured.
func (p ProviderConfig) HasKey() bool {
	return p.APIKey != "" && p.APIKey != PlaceholderKey
}

// OpenRouterConfig controls the OpenRouter provider and its model catalog.
type OpenRouterConfig struct {
	ProviderConfig

	// TextOnly keeps only models whose modality includes text. Default: true.
	TextOnly bool
	// FreeOnly keeps only free models. Default: false.
	FreeOnly bool
	// MaxModels truncates the filtered catalog; 0 means unlimited.
	MaxModels int
	// CacheTTL is how long a loaded catalog stays fresh. Default: 1h.
	CacheTTL time.Duration
	// RefreshSchedule is a cron spec for background catalog warm-up.
	// Empty disables it. Default: "@every 1h".
	RefreshSchedule string
}

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	// URL is a redis:// or rediss:// URL. Example: redis://localhost:6379
	URL string
}

// CacheConfig controls the shared cache used for the model catalog.
type CacheConfig struct {
	// Mode selects the cache backend:
	//   "redis": Redis-backed, shared across replicas (requires REDIS_URL).
	//   "memory": In-process TTL cache.
	//   "none": Disabled.
	Mode string
}

// CircuitBreakerConfig controls per-provider circuit breaker settings.
type CircuitBreakerConfig struct {
	// ErrorThreshold is the number of errors within TimeWindow that trips
	// the breaker. Default: 5.
	ErrorThreshold int

	// TimeWindow is the rolling window over which errors are counted.
	TimeWindow time.Duration

	// HalfOpenTimeout is how long the breaker stays open before allowing a
	// single probe request. Default: 30s.
	HalfOpenTimeout time.Duration
}

// RateLimitConfig controls per-user request-rate limiting.
type RateLimitConfig struct {
	// RPMLimit is the maximum requests per minute per user.
	// 0 disables rate limiting. Requires Redis.
	RPMLimit int
}

// FailoverConfig controls fallback-model failover.
type FailoverConfig struct {
	// MaxRetries is the maximum number of fallback models tried when the
	// client does not select one (including the first). Default: 3.
	MaxRetries int

	// ProviderTimeout bounds a single upstream exchange. Default: 120s.
	ProviderTimeout time.Duration
}

// Load reads configuration from environment variables and (optionally) from
// config.yaml in the current working directory.
func Load() (*Config, error) {
	if err := loadDotEnv(".env"); err != nil {
		return nil, err
	}

	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	_ = v.ReadInConfig()

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// ── Defaults ──────────────────────────────────────────────────────────────
	v.SetDefault("PORT", 8080)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("CACHE_MODE", "memory")
	v.SetDefault("CORS_ORIGINS", []string{"*"})
	v.SetDefault("DATABASE_PATH", "chat-gateway.db")

	v.SetDefault("XAI_BASE_URL", "https://api.x.ai/v1")
	v.SetDefault("GROQ_BASE_URL", "https://api.groq.com/openai/v1")
	v.SetDefault("OLLAMA_BASE_URL", "http://localhost:11434/api")

	// OpenRouter catalog defaults.
	v.SetDefault("OPENROUTER_BASE_URL", "https://openrouter.ai/api/v1")
	v.SetDefault("OPENROUTER_TEXT_ONLY", "true")
	v.SetDefault("OPENROUTER_FREE_ONLY", "false")
	v.SetDefault("OPENROUTER_MAX_MODELS", 0)
	v.SetDefault("OPENROUTER_CACHE_TTL", "1h")
	v.SetDefault("OPENROUTER_REFRESH_SCHEDULE", "@every 1h")

	// Circuit breaker defaults.
	v.SetDefault("CB_ERROR_THRESHOLD", 5)
	v.SetDefault("CB_TIME_WINDOW", "60s")
	v.SetDefault("CB_HALF_OPEN_TIMEOUT", "30s")

	// Failover defaults.
	v.SetDefault("MAX_RETRIES", 3)
	v.SetDefault("PROVIDER_TIMEOUT", "120s")

	// Rate limit: 0 = disabled.
	v.SetDefault("RPM_LIMIT", 0)

	v.SetDefault("STREAM_SMOOTHING_DELAY", "10ms")
	v.SetDefault("SHOW_ALL_PROVIDERS", "false")

	// ── Build config ──────────────────────────────────────────────────────────
	cfg := &Config{
		Port:     v.GetInt("PORT"),
		LogLevel: strings.ToLower(v.GetString("LOG_LEVEL")),

		OpenAI:    ProviderConfig{APIKey: v.GetString("OPENAI_API_KEY"), BaseURL: v.GetString("OPENAI_BASE_URL")},
		Anthropic: ProviderConfig{APIKey: v.GetString("ANTHROPIC_API_KEY"), BaseURL: v.GetString("ANTHROPIC_BASE_URL")},
		Google:    ProviderConfig{APIKey: v.GetString("GOOGLE_GENERATIVE_AI_API_KEY"), BaseURL: v.GetString("GOOGLE_BASE_URL")},
		XAI:       ProviderConfig{APIKey: v.GetString("XAI_API_KEY"), BaseURL: v.GetString("XAI_BASE_URL")},
		Groq:      ProviderConfig{APIKey: v.GetString("GROQ_API_KEY"), BaseURL: v.GetString("GROQ_BASE_URL")},
		Ollama:    ProviderConfig{BaseURL: v.GetString("OLLAMA_BASE_URL")},

		OpenRouter: OpenRouterConfig{
			ProviderConfig: ProviderConfig{
				APIKey:  v.GetString("OPENROUTER_API_KEY"),
				BaseURL: v.GetString("OPENROUTER_BASE_URL"),
			},
			// Text-only unless explicitly "false"; free-only only when "true".
			TextOnly:        v.GetString("OPENROUTER_TEXT_ONLY") != "false",
			FreeOnly:        v.GetString("OPENROUTER_FREE_ONLY") == "true",
			MaxModels:       v.GetInt("OPENROUTER_MAX_MODELS"),
			CacheTTL:        v.GetDuration("OPENROUTER_CACHE_TTL"),
			RefreshSchedule: strings.TrimSpace(v.GetString("OPENROUTER_REFRESH_SCHEDULE")),
		},

		OpenAICompatible: v.GetString("OPENAI_COMPATIBLE_DATA"),
		ShowAllProviders: v.GetString("SHOW_ALL_PROVIDERS") == "true",
		DatabasePath:     v.GetString("DATABASE_PATH"),
		AgentExtraTools:  stringList(v, "AGENT_EXTRA_TOOLS"),

		Redis: RedisConfig{URL: v.GetString("REDIS_URL")},

		Cache: CacheConfig{
			Mode: strings.ToLower(v.GetString("CACHE_MODE")),
		},

		ClickHouseDSN: v.GetString("CLICKHOUSE_DSN"),

		CircuitBreaker: CircuitBreakerConfig{
			ErrorThreshold:  v.GetInt("CB_ERROR_THRESHOLD"),
			TimeWindow:      v.GetDuration("CB_TIME_WINDOW"),
			HalfOpenTimeout: v.GetDuration("CB_HALF_OPEN_TIMEOUT"),
		},

		RateLimit: RateLimitConfig{
			RPMLimit: v.GetInt("RPM_LIMIT"),
		},

		Failover: FailoverConfig{
			MaxRetries:      v.GetInt("MAX_RETRIES"),
			ProviderTimeout: v.GetDuration("PROVIDER_TIMEOUT"),
		},

		CORSOrigins:          stringList(v, "CORS_ORIGINS"),
		StreamSmoothingDelay: v.GetDuration("STREAM_SMOOTHING_DELAY"),
	}

	// ── Validation ────────────────────────────────────────────────────────────
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validate checks all semantic constraints that cannot be expressed as defaults.
func (c *Config) validate() error {
	if c.Cache.Mode == "redis" && c.Redis.URL == "" {
		return fmt.Errorf(
			"config: REDIS_URL is required when CACHE_MODE=redis; " +
				"set CACHE_MODE=memory to use the built-in in-process cache",
		)
	}

	switch c.Cache.Mode {
	case "redis", "memory", "none":
	default:
		return fmt.Errorf(
			"config: invalid CACHE_MODE %q; must be one of: redis, memory, none",
			c.Cache.Mode,
		)
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf(
			"config: invalid LOG_LEVEL %q; must be one of: debug, info, warn, error",
			c.LogLevel,
		)
	}

	if c.CircuitBreaker.ErrorThreshold < 1 {
		return fmt.Errorf("config: CB_ERROR_THRESHOLD must be ≥ 1, got %d", c.CircuitBreaker.ErrorThreshold)
	}
	if c.CircuitBreaker.TimeWindow <= 0 {
		return fmt.Errorf("config: CB_TIME_WINDOW must be a positive duration")
	}
	if c.Failover.MaxRetries < 1 {
		return fmt.Errorf("config: MAX_RETRIES must be ≥ 1, got %d", c.Failover.MaxRetries)
	}
	if c.OpenRouter.MaxModels < 0 {
		return fmt.Errorf("config: OPENROUTER_MAX_MODELS must be ≥ 0, got %d", c.OpenRouter.MaxModels)
	}
	if c.OpenRouter.CacheTTL <= 0 {
		return fmt.Errorf("config: OPENROUTER_CACHE_TTL must be a positive duration")
	}
	if c.DatabasePath == "" {
		return fmt.Errorf("config: DATABASE_PATH must not be empty")
	}

	return nil
}

// ProviderKeys maps public provider names to their configured API keys.
// The model registry uses it to answer "has this provider a key".
func (c *Config) ProviderKeys() map[string]string {
	return map[string]string{
		"openai":     c.OpenAI.APIKey,
		"google":     c.Google.APIKey,
		"anthropic":  c.Anthropic.APIKey,
		"xai":        c.XAI.APIKey,
		"groq":       c.Groq.APIKey,
		"openRouter": c.OpenRouter.APIKey,
	}
}

// stringList reads a list that may come from YAML (a sequence) or from the
// environment (comma or space separated).
func stringList(v *viper.Viper, key string) []string {
	var out []string
	for _, item := range v.GetStringSlice(key) {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// loadDotEnv populates process env vars from a .env file when present.
func loadDotEnv(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("config: failed to stat %s: %w", path, err)
	}
	if info.IsDir() {
		return fmt.Errorf("config: %s is a directory, expected a file", path)
	}
	if err := gotenv.Load(path); err != nil {
		return fmt.Errorf("config: failed to load %s: %w", path, err)
	}
	return nil
}
