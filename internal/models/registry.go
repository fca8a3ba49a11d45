// Package models is the chat model registry: the static catalog, the
// user-defined OpenAI-compatible providers and the live OpenRouter catalog,
// with the capability flags the UI needs and the fallback policy used when a
// client selects no model.
package models

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/nulpointcorp/chat-gateway/internal/metrics"
	"github.com/nulpointcorp/chat-gateway/internal/models/openrouter"
)

// OpenRouter is the provider key of the dynamically loaded catalog.
const OpenRouter = "openRouter"

const placeholderKey = "****"

// ChatModel is a client's model selection.
type ChatModel struct {
	Provider string `json:"provider"`
	Model    string `json:"model"`
}

// Model is a resolved chat model.
type Model struct {
	Provider string
	// Name is the key clients select.
	Name string
	// UpstreamID is the model ID sent to the provider.
	UpstreamID          string
	ToolCallUnsupported bool
	ImageInputSupported bool
	FileMimeTypes       []string
}

// ModelInfo describes one model to clients.
type ModelInfo struct {
	Name                    string   `json:"name"`
	IsToolCallUnsupported   bool     `json:"isToolCallUnsupported"`
	IsImageInputUnsupported bool     `json:"isImageInputUnsupported"`
	SupportedFileMimeTypes  []string `json:"supportedFileMimeTypes"`
}

// ProviderInfo groups the models of one provider.
type ProviderInfo struct {
	Provider  string      `json:"provider"`
	Models    []ModelInfo `json:"models"`
	HasAPIKey bool        `json:"hasAPIKey"`
}

// CatalogLoader loads the OpenRouter catalog.
type CatalogLoader interface {
	Load(ctx context.Context, opts openrouter.Options) (*openrouter.Result, error)
}

// Config wires a Registry.
type Config struct {
	// Keys maps provider names to API keys. Providers missing from
	// keyedProviders are assumed to need no key.
	Keys map[string]string
	// CompatibleData is the raw OPENAI_COMPATIBLE_DATA value.
	CompatibleData string
	OpenRouter     openrouter.Options
	Catalog        CatalogLoader
	Logger         *slog.Logger
	Metrics        *metrics.Registry
}

// keyedProviders need a configured key.
var keyedProviders = map[string]bool{
	"openai":    true,
	"google":    true,
	"anthropic": true,
	"xai":       true,
	"groq":      true,
	OpenRouter:  true,
}

type providerModels struct {
	name   string
	models []Model
}

// Registry resolves model selections. It is safe for concurrent use.
type Registry struct {
	keys       map[string]string
	compatible []CompatibleProvider
	catalog    CatalogLoader
	opts       openrouter.Options
	log        *slog.Logger
	metrics    *metrics.Registry

	// base is fixed at construction: user-defined providers, then the static
	// catalog. The openRouter slot stays in place and is filled from
	// openRouter.
	base []providerModels

	mu         sync.RWMutex
	openRouter []Model
}

func NewRegistry(cfg Config) *Registry {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	r := &Registry{
		keys:    cfg.Keys,
		catalog: cfg.Catalog,
		opts:    cfg.OpenRouter,
		log:     log.With("component", "models"),
		metrics: cfg.Metrics,
	}

	compatible, err := ParseCompatible(cfg.CompatibleData)
	if err != nil {
		r.log.Error("openai_compatible_data_invalid", slog.Any("error", err))
		compatible = nil
	}
	r.compatible = compatible
	r.base = buildBase(compatible)

	for _, p := range r.base {
		r.metrics.SetCatalogModels(p.name, len(p.models))
	}
	return r
}

// buildBase lays out providers in display order. A static provider sharing
// a name with a user-defined one keeps the user-defined position but
// replaces its models.
func buildBase(compatible []CompatibleProvider) []providerModels {
	var base []providerModels
	index := make(map[string]int)

	put := func(name string, models []Model) {
		if i, ok := index[name]; ok {
			base[i].models = models
			return
		}
		index[name] = len(base)
		base = append(base, providerModels{name: name, models: models})
	}

	for _, p := range compatible {
		models := make([]Model, 0, len(p.Models))
		for _, m := range p.Models {
			models = append(models, Model{
				Provider:            p.Provider,
				Name:                m.UIName,
				UpstreamID:          m.APIName,
				ToolCallUnsupported: !m.toolsSupported(),
			})
		}
		put(p.Provider, models)
	}

	for _, sp := range staticCatalog {
		models := make([]Model, 0, len(sp.models))
		for _, e := range sp.models {
			models = append(models, Model{
				Provider:            sp.name,
				Name:                e.name,
				UpstreamID:          e.upstreamID,
				ToolCallUnsupported: staticToolUnsupported[sp.name][e.name],
				ImageInputSupported: imageInputProviders[sp.name],
				FileMimeTypes:       fileSupport[sp.name][e.name],
			})
		}
		put(sp.name, models)
	}

	return base
}

// Compatible returns the valid user-defined providers.
func (r *Registry) Compatible() []CompatibleProvider {
	return slices.Clone(r.compatible)
}

// HasAPIKey reports whether provider has a usable key. Providers that do
// not take a key always report true.
func (r *Registry) HasAPIKey(provider string) bool {
	if !keyedProviders[provider] {
		return true
	}
	key := r.keys[provider]
	return key != "" && key != placeholderKey
}

// ModelsInfo reports every provider and, when OpenRouter has a key, loads
// its catalog and refreshes the cached OpenRouter models. A failed load is
// logged and reported as an empty openRouter entry.
func (r *Registry) ModelsInfo(ctx context.Context) []ProviderInfo {
	infos := make([]ProviderInfo, 0, len(r.base))
	for _, p := range r.base {
		if p.name == OpenRouter {
			continue
		}
		infos = append(infos, r.providerInfo(p.name, p.models))
	}

	hasKey := r.HasAPIKey(OpenRouter)
	if hasKey && r.catalog != nil {
		res, err := r.catalog.Load(ctx, r.opts)
		if err == nil {
			models := openRouterModels(res)
			r.mu.Lock()
			r.openRouter = models
			r.mu.Unlock()
			r.metrics.SetCatalogModels(OpenRouter, len(models))

			return append(infos, r.providerInfo(OpenRouter, models))
		}
		r.log.ErrorContext(ctx, "openrouter_models_unavailable", slog.Any("error", err))
	}

	return append(infos, ProviderInfo{
		Provider:  OpenRouter,
		Models:    []ModelInfo{},
		HasAPIKey: hasKey,
	})
}

// CachedModelsInfo reports providers from the current cache without I/O.
// openRouter is listed only once its catalog holds a model.
func (r *Registry) CachedModelsInfo() []ProviderInfo {
	r.mu.RLock()
	openRouter := r.openRouter
	r.mu.RUnlock()

	infos := make([]ProviderInfo, 0, len(r.base))
	for _, p := range r.base {
		models := p.models
		if p.name == OpenRouter {
			if len(openRouter) == 0 {
				continue
			}
			models = openRouter
		}
		infos = append(infos, r.providerInfo(p.name, models))
	}
	return infos
}

func (r *Registry) providerInfo(provider string, models []Model) ProviderInfo {
	out := ProviderInfo{
		Provider:  provider,
		Models:    make([]ModelInfo, 0, len(models)),
		HasAPIKey: r.HasAPIKey(provider),
	}
	for _, m := range models {
		mimes := slices.Clone(m.FileMimeTypes)
		if mimes == nil {
			mimes = []string{}
		}
		out.Models = append(out.Models, ModelInfo{
			Name:                    m.Name,
			IsToolCallUnsupported:   m.ToolCallUnsupported,
			IsImageInputUnsupported: !m.ImageInputSupported,
			SupportedFileMimeTypes:  mimes,
		})
	}
	return out
}

func openRouterModels(res *openrouter.Result) []Model {
	models := make([]Model, 0, len(res.Models))
	for _, e := range res.Models {
		_, unsupported := res.Unsupported[e.Name]
		models = append(models, Model{
			Provider:            OpenRouter,
			Name:                e.Name,
			UpstreamID:          e.ID,
			ToolCallUnsupported: unsupported || e.ToolCallUnsupported,
		})
	}
	return models
}

// GetModel resolves sel from the current cache. A nil selection resolves to
// the fallback model.
func (r *Registry) GetModel(sel *ChatModel) (Model, error) {
	if sel == nil {
		return r.Fallback(), nil
	}
	if m, ok := r.lookup(sel.Provider, sel.Model); ok {
		return m, nil
	}
	return Model{}, fmt.Errorf(
		"Model %q from provider %q not found. "+
			"This may be because the model cache hasn't been initialized yet. "+
			"Please refresh the page or ensure the API key is configured.",
		sel.Model, sel.Provider,
	)
}

// GetModelAsync is GetModel that first loads the OpenRouter catalog when an
// OpenRouter model is requested and none is cached yet.
func (r *Registry) GetModelAsync(ctx context.Context, sel *ChatModel) (Model, error) {
	if sel == nil {
		return r.Fallback(), nil
	}

	if sel.Provider == OpenRouter && r.openRouterEmpty() && r.HasAPIKey(OpenRouter) {
		r.ModelsInfo(ctx)
	}

	if m, ok := r.lookup(sel.Provider, sel.Model); ok {
		return m, nil
	}
	return Model{}, fmt.Errorf(
		"Model %q from provider %q not found. "+
			"Please select a valid model or configure the appropriate API key.",
		sel.Model, sel.Provider,
	)
}

func (r *Registry) openRouterEmpty() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.openRouter) == 0
}

func (r *Registry) lookup(provider, name string) (Model, bool) {
	var models []Model
	if provider == OpenRouter {
		r.mu.RLock()
		models = r.openRouter
		r.mu.RUnlock()
	} else {
		for _, p := range r.base {
			if p.name == provider {
				models = p.models
				break
			}
		}
	}
	for _, m := range models {
		if m.Name == name {
			return m, true
		}
	}
	return Model{}, false
}

// FallbackCandidates lists the fallback models whose providers have keys,
// in priority order.
func (r *Registry) FallbackCandidates() []Model {
	var out []Model
	for _, sel := range fallbackOrder {
		if !r.HasAPIKey(sel.Provider) {
			continue
		}
		if m, ok := r.lookup(sel.Provider, sel.Model); ok {
			out = append(out, m)
		}
	}
	return out
}

// Fallback is the first fallback candidate, or openai/gpt-4.1 when no
// provider has a key.
func (r *Registry) Fallback() Model {
	if c := r.FallbackCandidates(); len(c) > 0 {
		return c[0]
	}
	m, _ := r.lookup(fallbackOrder[0].Provider, fallbackOrder[0].Model)
	return m
}

// IsToolCallUnsupported reports whether m cannot call tools, using the
// latest catalog for OpenRouter models.
func (r *Registry) IsToolCallUnsupported(m Model) bool {
	if cur, ok := r.lookup(m.Provider, m.Name); ok {
		return cur.ToolCallUnsupported
	}
	return m.ToolCallUnsupported
}

// FileMimeTypes returns the file MIME types m accepts. Most models accept
// none.
func (r *Registry) FileMimeTypes(m Model) []string {
	if cur, ok := r.lookup(m.Provider, m.Name); ok {
		return slices.Clone(cur.FileMimeTypes)
	}
	return nil
}
