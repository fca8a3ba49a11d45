package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func loadIn(t *testing.T, env map[string]string) (*Config, error) {
	t.Helper()
	t.Chdir(t.TempDir())
	for k, v := range env {
		t.Setenv(k, v)
	}
	return Load()
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := loadIn(t, nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Port != 8080 {
		t.Errorf("Port = %d, want 8080", cfg.Port)
	}
	if cfg.Cache.Mode != "memory" {
		t.Errorf("Cache.Mode = %q, want memory", cfg.Cache.Mode)
	}
	if !cfg.OpenRouter.TextOnly || cfg.OpenRouter.FreeOnly {
		t.Errorf("unexpected OpenRouter filters: %+v", cfg.OpenRouter)
	}
	if cfg.OpenRouter.CacheTTL != time.Hour {
		t.Errorf("OpenRouter.CacheTTL = %v, want 1h", cfg.OpenRouter.CacheTTL)
	}
	if cfg.OpenRouter.BaseURL != "https://openrouter.ai/api/v1" {
		t.Errorf("OpenRouter.BaseURL = %q", cfg.OpenRouter.BaseURL)
	}
	if cfg.Ollama.BaseURL != "http://localhost:11434/api" {
		t.Errorf("Ollama.BaseURL = %q", cfg.Ollama.BaseURL)
	}
	if cfg.Failover.MaxRetries != 3 {
		t.Errorf("MaxRetries = %d, want 3", cfg.Failover.MaxRetries)
	}
	if len(cfg.CORSOrigins) != 1 || cfg.CORSOrigins[0] != "*" {
		t.Errorf("CORSOrigins = %v", cfg.CORSOrigins)
	}
}

func TestLoad_OpenRouterFlags(t *testing.T) {
	tests := []struct {
		textOnly, freeOnly string
		wantText, wantFree bool
	}{
		{"false", "true", false, true},
		{"FALSE", "yes", true, false},
		{"0", "TRUE", true, false},
	}

	for _, tt := range tests {
		t.Run(tt.textOnly+"/"+tt.freeOnly, func(t *testing.T) {
			cfg, err := loadIn(t, map[string]string{
				"OPENROUTER_TEXT_ONLY": tt.textOnly,
				"OPENROUTER_FREE_ONLY": tt.freeOnly,
			})
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			if cfg.OpenRouter.TextOnly != tt.wantText || cfg.OpenRouter.FreeOnly != tt.wantFree {
				t.Errorf("got text=%v free=%v, want text=%v free=%v",
					cfg.OpenRouter.TextOnly, cfg.OpenRouter.FreeOnly, tt.wantText, tt.wantFree)
			}
		})
	}
}

func TestLoad_ShowAllProvidersExactTrue(t *testing.T) {
	tests := []struct {
		value string
		want  bool
	}{
		{"true", true},
		{"TRUE", false},
		{"1", false},
		{"t", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			cfg, err := loadIn(t, map[string]string{"SHOW_ALL_PROVIDERS": tt.value})
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			if cfg.ShowAllProviders != tt.want {
				t.Errorf("SHOW_ALL_PROVIDERS=%q: got %v, want %v", tt.value, cfg.ShowAllProviders, tt.want)
			}
		})
	}
}

func TestLoad_Lists(t *testing.T) {
	cfg, err := loadIn(t, map[string]string{
		"AGENT_EXTRA_TOOLS": "search, fetch ,calendar",
		"CORS_ORIGINS":      "https://a.example,https://b.example",
	})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := strings.Join(cfg.AgentExtraTools, "|"); got != "search|fetch|calendar" {
		t.Errorf("AgentExtraTools = %q", got)
	}
	if len(cfg.CORSOrigins) != 2 {
		t.Errorf("CORSOrigins = %v", cfg.CORSOrigins)
	}
}

func TestLoad_DotEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("GROQ_API_KEY=gsk-from-dotenv\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("GROQ_API_KEY", "")
	os.Unsetenv("GROQ_API_KEY")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Groq.APIKey != "gsk-from-dotenv" {
		t.Errorf("Groq.APIKey = %q, want value from .env", cfg.Groq.APIKey)
	}
}

func TestLoad_Validation(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{"redis without url", map[string]string{"CACHE_MODE": "redis"}, "REDIS_URL"},
		{"bad cache mode", map[string]string{"CACHE_MODE": "disk"}, "CACHE_MODE"},
		{"bad log level", map[string]string{"LOG_LEVEL": "trace"}, "LOG_LEVEL"},
		{"zero threshold", map[string]string{"CB_ERROR_THRESHOLD": "0"}, "CB_ERROR_THRESHOLD"},
		{"zero retries", map[string]string{"MAX_RETRIES": "0"}, "MAX_RETRIES"},
		{"negative max models", map[string]string{"OPENROUTER_MAX_MODELS": "-1"}, "OPENROUTER_MAX_MODELS"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := loadIn(t, tt.env)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error mentioning %s, got %v", tt.want, err)
			}
		})
	}
}

func TestProviderConfig_HasKey(t *testing.T) {
	cases := map[string]bool{"": false, "****": false, "sk-live": true}
	for key, want := range cases {
		if got := (ProviderConfig{APIKey: key}).HasKey(); got != want {
			t.Errorf("HasKey(%q) = %v, want %v", key, got, want)
		}
	}
}
