package app

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"

	"github.com/nulpointcorp/chat-gateway/internal/config"
	"github.com/nulpointcorp/chat-gateway/internal/models"
	"github.com/nulpointcorp/chat-gateway/internal/providers"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Port:         0,
		DatabasePath: filepath.Join(t.TempDir(), "chat.db"),
		Cache:        config.CacheConfig{Mode: "memory"},
		Ollama:       config.ProviderConfig{BaseURL: "http://localhost:11434/api"},
		OpenRouter: config.OpenRouterConfig{
			ProviderConfig: config.ProviderConfig{BaseURL: "https://openrouter.ai/api/v1"},
			TextOnly:       true,
		},
		CORSOrigins: []string{"*"},
	}
}

// --- redactURL --------------------------------------------------------------

func TestRedactURL(t *testing.T) {
	cases := []struct{ in, want string }{
		{"redis://:secret@localhost:6379", "redis://***@localhost:6379"},
		{"clickhouse://user:pass@ch:9000/db", "clickhouse://***@ch:9000/db"},
		{"redis://localhost:6379", "redis://localhost:6379"},
		{"user:pass@host", "***@host"},
		{"", ""},
	}
	for _, c := range cases {
		if got := redactURL(c.in); got != c.want {
			t.Errorf("redactURL(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

// --- buildProviders ---------------------------------------------------------

func TestBuildProviders_OllamaAlwaysPresent(t *testing.T) {
	provs := buildProviders(context.Background(), testConfig(t), nil, discardLogger())

	if len(provs) != 1 {
		t.Fatalf("expected only ollama, got %d providers", len(provs))
	}
	if _, ok := provs[providers.Ollama]; !ok {
		t.Error("ollama provider missing")
	}
}

func TestBuildProviders_KeyedProviders(t *testing.T) {
	cfg := testConfig(t)
	cfg.OpenAI.APIKey = "sk-openai"
	cfg.Anthropic.APIKey = "sk-ant"
	cfg.XAI = config.ProviderConfig{APIKey: "xai-key", BaseURL: "https://api.x.ai/v1"}
	cfg.Groq = config.ProviderConfig{APIKey: config.PlaceholderKey}
	cfg.OpenRouter.APIKey = "or-key"

	provs := buildProviders(context.Background(), cfg, nil, discardLogger())

	for _, name := range []string{providers.OpenAI, providers.Anthropic, providers.XAI, providers.OpenRouter, providers.Ollama} {
		p, ok := provs[name]
		if !ok {
			t.Errorf("provider %s missing", name)
			continue
		}
		if p.Name() != name {
			t.Errorf("provider %s reports name %s", name, p.Name())
		}
	}
	if _, ok := provs[providers.Groq]; ok {
		t.Error("placeholder key must not enable groq")
	}
}

func TestBuildProviders_Compatible(t *testing.T) {
	compatible := []models.CompatibleProvider{
		{Provider: "lmstudio", BaseURL: "http://localhost:1234/v1"},
		{Provider: providers.Ollama, BaseURL: "http://elsewhere:11434/v1"},
	}

	provs := buildProviders(context.Background(), testConfig(t), compatible, discardLogger())

	if _, ok := provs["lmstudio"]; !ok {
		t.Error("user-defined provider missing")
	}
	if len(provs) != 2 {
		t.Errorf("expected ollama + lmstudio, got %d providers", len(provs))
	}
}

func TestBuildProviders_CompatibleCannotClaimBuiltinName(t *testing.T) {
	compatible := []models.CompatibleProvider{
		{Provider: providers.OpenAI, BaseURL: "http://custom.example/v1"},
		{Provider: providers.Groq, APIKey: "mine", BaseURL: "http://custom.example/v1"},
	}

	// Neither OpenAI nor Groq has a key, so nothing occupies their slots.
	provs := buildProviders(context.Background(), testConfig(t), compatible, discardLogger())

	if _, ok := provs[providers.OpenAI]; ok {
		t.Error("user-defined provider must not take the openai slot")
	}
	if _, ok := provs[providers.Groq]; ok {
		t.Error("user-defined provider must not take the groq slot")
	}
	if len(provs) != 1 {
		t.Errorf("expected only ollama, got %d providers", len(provs))
	}
}

// --- lifecycle --------------------------------------------------------------

func TestNew_NilContext(t *testing.T) {
	if _, err := New(nil, testConfig(t), discardLogger(), "test"); err == nil {
		t.Error("expected error for nil context")
	}
}

func TestNew_MemoryMode(t *testing.T) {
	a, err := New(context.Background(), testConfig(t), discardLogger(), "test")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Close()

	if a.store == nil || a.gw == nil || a.registry == nil || a.cron == nil {
		t.Fatal("subsystems not initialised")
	}
	if a.rdb != nil {
		t.Error("memory mode must not connect to redis")
	}
	if a.memCache == nil || a.shared == nil {
		t.Error("memory cache not wired")
	}
	if len(a.cron.Entries()) != 1 {
		t.Errorf("expected only the session cleanup job, got %d", len(a.cron.Entries()))
	}
}

func TestNew_RedisModeWithRefreshJob(t *testing.T) {
	mr := miniredis.RunT(t)

	cfg := testConfig(t)
	cfg.Cache.Mode = "redis"
	cfg.Redis.URL = "redis://" + mr.Addr()
	cfg.RateLimit.RPMLimit = 60
	cfg.OpenRouter.APIKey = "or-key"
	cfg.OpenRouter.RefreshSchedule = "@every 1h"

	a, err := New(context.Background(), cfg, discardLogger(), "test")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Close()

	if a.rdb == nil {
		t.Fatal("redis not connected")
	}
	if a.memCache != nil {
		t.Error("redis mode must not start the memory cache")
	}
	if len(a.cron.Entries()) != 2 {
		t.Errorf("expected refresh + cleanup jobs, got %d", len(a.cron.Entries()))
	}
}

func TestNew_BadRefreshSchedule(t *testing.T) {
	cfg := testConfig(t)
	cfg.OpenRouter.APIKey = "or-key"
	cfg.OpenRouter.RefreshSchedule = "not a schedule"

	if _, err := New(context.Background(), cfg, discardLogger(), "test"); err == nil {
		t.Error("expected error for invalid cron spec")
	}
}

func TestNew_RedisUnreachable(t *testing.T) {
	cfg := testConfig(t)
	cfg.Cache.Mode = "redis"
	cfg.Redis.URL = "redis://127.0.0.1:1"

	if _, err := New(context.Background(), cfg, discardLogger(), "test"); err == nil {
		t.Error("expected error when redis is unreachable")
	}
}

func TestClose_Idempotent(t *testing.T) {
	a, err := New(context.Background(), testConfig(t), discardLogger(), "test")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	a.Close()
	a.Close()
}
