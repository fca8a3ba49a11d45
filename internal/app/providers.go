package app

import (
	"context"
	"log/slog"

	"github.com/nulpointcorp/chat-gateway/internal/config"
	"github.com/nulpointcorp/chat-gateway/internal/models"
	"github.com/nulpointcorp/chat-gateway/internal/providers"
	anthropicprov "github.com/nulpointcorp/chat-gateway/internal/providers/anthropic"
	geminiprov "github.com/nulpointcorp/chat-gateway/internal/providers/gemini"
	openaiprov "github.com/nulpointcorp/chat-gateway/internal/providers/openai"
	openaicompatprov "github.com/nulpointcorp/chat-gateway/internal/providers/openaicompat"
)

// Attribution headers OpenRouter shows on its leaderboard.
const (
	openRouterReferer = "https://github.com/nulpointcorp/chat-gateway"
	openRouterTitle   = "chat-gateway"
)

// builtinProviders are the names a user-defined provider may not take,
// whether or not the built-in one is configured.
var builtinProviders = map[string]bool{
	providers.OpenAI:     true,
	providers.Google:     true,
	providers.Anthropic:  true,
	providers.XAI:        true,
	providers.Groq:       true,
	providers.Ollama:     true,
	providers.OpenRouter: true,
}

// buildProviders creates a provider client for every configured backend.
// Providers without a key are left out; Ollama is always present. A
// user-defined OpenAI-compatible provider never replaces a built-in one.
func buildProviders(
	ctx context.Context,
	cfg *config.Config,
	compatible []models.CompatibleProvider,
	log *slog.Logger,
) map[string]providers.Provider {
	provs := make(map[string]providers.Provider)

	// ── Native SDK providers ──────────────────────────────────────────────────
	if cfg.OpenAI.HasKey() {
		var openaiOpts []openaiprov.Option
		if cfg.OpenAI.BaseURL != "" {
			openaiOpts = append(openaiOpts, openaiprov.WithBaseURL(cfg.OpenAI.BaseURL))
		}
		provs[providers.OpenAI] = openaiprov.New(cfg.OpenAI.APIKey, openaiOpts...)
	}
	if cfg.Anthropic.HasKey() {
		var anthropicOpts []anthropicprov.Option
		if cfg.Anthropic.BaseURL != "" {
			anthropicOpts = append(anthropicOpts, anthropicprov.WithBaseURL(cfg.Anthropic.BaseURL))
		}
		provs[providers.Anthropic] = anthropicprov.New(cfg.Anthropic.APIKey, anthropicOpts...)
	}
	if cfg.Google.HasKey() {
		var geminiOpts []geminiprov.Option
		if cfg.Google.BaseURL != "" {
			geminiOpts = append(geminiOpts, geminiprov.WithBaseURL(cfg.Google.BaseURL))
		}
		p, err := geminiprov.New(ctx, cfg.Google.APIKey, geminiOpts...)
		if err != nil {
			log.Warn("google provider disabled", slog.String("error", err.Error()))
		} else {
			provs[providers.Google] = p
		}
	}

	// ── OpenAI-compatible providers ───────────────────────────────────────────
	type ocEntry struct {
		name string
		pc   config.ProviderConfig
		opts []openaicompatprov.Option
	}
	ocProviders := []ocEntry{
		{name: providers.XAI, pc: cfg.XAI},
		{name: providers.Groq, pc: cfg.Groq},
		{name: providers.OpenRouter, pc: cfg.OpenRouter.ProviderConfig, opts: []openaicompatprov.Option{
			openaicompatprov.WithHeader("HTTP-Referer", openRouterReferer),
			openaicompatprov.WithHeader("X-Title", openRouterTitle),
		}},
	}
	for _, e := range ocProviders {
		if e.pc.HasKey() {
			provs[e.name] = openaicompatprov.New(e.name, e.pc.APIKey, e.pc.BaseURL, e.opts...)
		}
	}

	// Ollama speaks the OpenAI dialect under /v1 and ignores the key.
	provs[providers.Ollama] = openaicompatprov.New(
		providers.Ollama, "", openaicompatprov.OllamaBaseURL(cfg.Ollama.BaseURL),
		openaicompatprov.WithoutKey(),
	)

	// ── User-defined providers (OPENAI_COMPATIBLE_DATA) ───────────────────────
	for _, c := range compatible {
		if builtinProviders[c.Provider] {
			log.Warn("openai-compatible provider shadows a built-in one, skipped",
				slog.String("provider", c.Provider))
			continue
		}
		var opts []openaicompatprov.Option
		if c.APIKey == "" {
			opts = append(opts, openaicompatprov.WithoutKey())
		}
		provs[c.Provider] = openaicompatprov.New(c.Provider, c.APIKey, c.BaseURL, opts...)
	}

	return provs
}
