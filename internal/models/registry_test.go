package models

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/nulpointcorp/chat-gateway/internal/models/openrouter"
)

type fakeCatalog struct {
	res   *openrouter.Result
	err   error
	calls atomic.Int32
	opts  openrouter.Options
}

func (f *fakeCatalog) Load(_ context.Context, opts openrouter.Options) (*openrouter.Result, error) {
	f.calls.Add(1)
	f.opts = opts
	if f.err != nil {
		return &openrouter.Result{Unsupported: map[string]struct{}{}}, f.err
	}
	return f.res, nil
}

func sampleCatalog() *fakeCatalog {
	return &fakeCatalog{res: &openrouter.Result{
		Models: []openrouter.Entry{
			{Name: "gpt-4o", ID: "openai/gpt-4o"},
			{Name: "llama-3.3-70b-instruct:free", ID: "meta-llama/llama-3.3-70b-instruct:free", ToolCallUnsupported: true},
		},
		Unsupported: map[string]struct{}{"llama-3.3-70b-instruct:free": {}},
	}}
}

func providerNames(infos []ProviderInfo) []string {
	out := make([]string, len(infos))
	for i, p := range infos {
		out[i] = p.Provider
	}
	return out
}

func find(infos []ProviderInfo, provider string) (ProviderInfo, bool) {
	for _, p := range infos {
		if p.Provider == provider {
			return p, true
		}
	}
	return ProviderInfo{}, false
}

func modelInfo(p ProviderInfo, name string) (ModelInfo, bool) {
	for _, m := range p.Models {
		if m.Name == name {
			return m, true
		}
	}
	return ModelInfo{}, false
}

func TestHasAPIKey(t *testing.T) {
	r := NewRegistry(Config{Keys: map[string]string{
		"openai":     "sk-live",
		"google":     "****",
		"anthropic":  "",
		"openRouter": "or-key",
	}})

	cases := map[string]bool{
		"openai":     true,
		"google":     false,
		"anthropic":  false,
		"xai":        false,
		"groq":       false,
		"openRouter": true,
		"ollama":     true,
		"my-llm":     true,
	}
	for provider, want := range cases {
		if got := r.HasAPIKey(provider); got != want {
			t.Errorf("HasAPIKey(%q) = %v, want %v", provider, got, want)
		}
	}
}

func TestModelsInfo_StaticCapabilities(t *testing.T) {
	r := NewRegistry(Config{Keys: map[string]string{"openai": "sk"}})
	infos := r.ModelsInfo(context.Background())

	want := "openai,google,anthropic,xai,ollama,groq,openRouter"
	if got := strings.Join(providerNames(infos), ","); got != want {
		t.Fatalf("providers = %s, want %s", got, want)
	}

	openai, _ := find(infos, "openai")
	if !openai.HasAPIKey || len(openai.Models) != 8 {
		t.Fatalf("unexpected openai entry %+v", openai)
	}
	o4, _ := modelInfo(openai, "o4-mini")
	if !o4.IsToolCallUnsupported || o4.IsImageInputUnsupported {
		t.Errorf("o4-mini = %+v", o4)
	}
	gpt41, _ := modelInfo(openai, "gpt-4.1")
	if len(gpt41.SupportedFileMimeTypes) == 0 || gpt41.SupportedFileMimeTypes[0] != "application/pdf" {
		t.Errorf("gpt-4.1 mime types = %v", gpt41.SupportedFileMimeTypes)
	}
	gpt51, _ := modelInfo(openai, "gpt-5.1")
	if gpt51.SupportedFileMimeTypes == nil || len(gpt51.SupportedFileMimeTypes) != 0 {
		t.Errorf("gpt-5.1 should report an empty, non-nil list, got %#v", gpt51.SupportedFileMimeTypes)
	}

	ollama, _ := find(infos, "ollama")
	if !ollama.HasAPIKey {
		t.Error("ollama needs no key")
	}
	for _, m := range ollama.Models {
		if !m.IsToolCallUnsupported || !m.IsImageInputUnsupported {
			t.Errorf("ollama %s = %+v", m.Name, m)
		}
	}

	groq, _ := find(infos, "groq")
	if qwen, _ := modelInfo(groq, "qwen3-32b"); !qwen.IsImageInputUnsupported {
		t.Error("groq models do not take images")
	}

	xai, _ := find(infos, "xai")
	if mini, _ := modelInfo(xai, "grok-3-mini"); len(mini.SupportedFileMimeTypes) != len(XAIFileMimeTypes) {
		t.Errorf("grok-3-mini mime types = %v", mini.SupportedFileMimeTypes)
	}

	or, _ := find(infos, OpenRouter)
	if or.HasAPIKey || len(or.Models) != 0 {
		t.Errorf("openRouter without key = %+v", or)
	}
}

func TestModelsInfo_OpenRouterLoaded(t *testing.T) {
	cat := sampleCatalog()
	opts := openrouter.Options{TextOnly: true, MaxModels: 10}
	r := NewRegistry(Config{
		Keys:       map[string]string{"openRouter": "or-key"},
		Catalog:    cat,
		OpenRouter: opts,
	})

	infos := r.ModelsInfo(context.Background())
	if cat.opts != opts {
		t.Errorf("catalog options = %+v, want %+v", cat.opts, opts)
	}

	or, ok := find(infos, OpenRouter)
	if !ok || !or.HasAPIKey || len(or.Models) != 2 {
		t.Fatalf("openRouter entry = %+v", or)
	}
	for _, m := range or.Models {
		if !m.IsImageInputUnsupported {
			t.Errorf("%s: OpenRouter models report image input unsupported", m.Name)
		}
	}
	if m, _ := modelInfo(or, "llama-3.3-70b-instruct:free"); !m.IsToolCallUnsupported {
		t.Error("llama free should be tool-call unsupported")
	}

	got, err := r.GetModel(&ChatModel{Provider: OpenRouter, Model: "gpt-4o"})
	if err != nil {
		t.Fatalf("GetModel: %v", err)
	}
	if got.UpstreamID != "openai/gpt-4o" {
		t.Errorf("UpstreamID = %q", got.UpstreamID)
	}
}

func TestModelsInfo_OpenRouterFailure(t *testing.T) {
	cat := &fakeCatalog{err: errors.New("HTTP 503")}
	r := NewRegistry(Config{Keys: map[string]string{"openRouter": "or-key"}, Catalog: cat})

	infos := r.ModelsInfo(context.Background())
	or, ok := find(infos, OpenRouter)
	if !ok || !or.HasAPIKey || len(or.Models) != 0 {
		t.Fatalf("openRouter entry = %+v", or)
	}
	if _, listed := find(r.CachedModelsInfo(), OpenRouter); listed {
		t.Error("empty OpenRouter cache must not be listed")
	}
}

func TestModelsInfo_NoKeySkipsCatalog(t *testing.T) {
	cat := sampleCatalog()
	r := NewRegistry(Config{Catalog: cat})
	r.ModelsInfo(context.Background())
	if cat.calls.Load() != 0 {
		t.Errorf("catalog loaded %d times without a key", cat.calls.Load())
	}
}

func TestCachedModelsInfo(t *testing.T) {
	cat := sampleCatalog()
	r := NewRegistry(Config{Keys: map[string]string{"openRouter": "k"}, Catalog: cat})

	if _, listed := find(r.CachedModelsInfo(), OpenRouter); listed {
		t.Fatal("openRouter listed before the catalog loaded")
	}

	r.ModelsInfo(context.Background())

	or, listed := find(r.CachedModelsInfo(), OpenRouter)
	if !listed || len(or.Models) != 2 {
		t.Fatalf("cached openRouter = %+v", or)
	}
	if cat.calls.Load() != 1 {
		t.Errorf("CachedModelsInfo must not load, calls = %d", cat.calls.Load())
	}
}

func TestCompatibleProviders(t *testing.T) {
	data := `[
	  {"provider":"lmstudio","apiKey":"","baseUrl":"http://localhost:1234/v1",
	   "models":[{"apiName":"qwen2.5-7b-instruct","uiName":"Qwen 7B","supportsTools":false},
	             {"apiName":"mistral-7b","uiName":"Mistral 7B"}]},
	  {"provider":"openai","apiKey":"x","baseUrl":"http://proxy/v1",
	   "models":[{"apiName":"custom","uiName":"custom"}]}
	]`
	r := NewRegistry(Config{CompatibleData: data})

	infos := r.CachedModelsInfo()
	want := "lmstudio,openai,google,anthropic,xai,ollama,groq"
	if got := strings.Join(providerNames(infos), ","); got != want {
		t.Fatalf("providers = %s, want %s", got, want)
	}

	lm := infos[0]
	if !lm.HasAPIKey {
		t.Error("user-defined providers always report a key")
	}
	if qwen, _ := modelInfo(lm, "Qwen 7B"); !qwen.IsToolCallUnsupported || !qwen.IsImageInputUnsupported {
		t.Errorf("Qwen 7B = %+v", qwen)
	}
	if mistral, _ := modelInfo(lm, "Mistral 7B"); mistral.IsToolCallUnsupported {
		t.Error("supportsTools defaults to true")
	}

	if _, err := r.GetModel(&ChatModel{Provider: "openai", Model: "custom"}); err == nil {
		t.Error("static openai must shadow the user-defined one")
	}

	m, err := r.GetModel(&ChatModel{Provider: "lmstudio", Model: "Qwen 7B"})
	if err != nil || m.UpstreamID != "qwen2.5-7b-instruct" {
		t.Errorf("GetModel = %+v, %v", m, err)
	}

	if got := len(r.Compatible()); got != 2 {
		t.Errorf("Compatible() = %d providers, want 2", got)
	}
}

func TestCompatibleProviders_Invalid(t *testing.T) {
	for _, data := range []string{`not json`, `[{"provider":"","baseUrl":"x","models":[]}]`} {
		r := NewRegistry(Config{CompatibleData: data})
		if len(r.Compatible()) != 0 {
			t.Errorf("%q: invalid data should be ignored", data)
		}
		if got := r.CachedModelsInfo()[0].Provider; got != "openai" {
			t.Errorf("%q: first provider = %s", data, got)
		}
	}
}

func TestGetModel(t *testing.T) {
	r := NewRegistry(Config{Keys: map[string]string{"anthropic": "a"}})

	m, err := r.GetModel(&ChatModel{Provider: "anthropic", Model: "sonnet-4.5"})
	if err != nil {
		t.Fatalf("GetModel: %v", err)
	}
	if m.UpstreamID != "claude-sonnet-4-5" || !m.ImageInputSupported {
		t.Errorf("unexpected model %+v", m)
	}

	fallback, err := r.GetModel(nil)
	if err != nil || fallback.Provider != "anthropic" {
		t.Errorf("fallback = %+v, %v", fallback, err)
	}

	_, err = r.GetModel(&ChatModel{Provider: "openai", Model: "gpt-2"})
	want := `Model "gpt-2" from provider "openai" not found. This may be because the model cache hasn't been initialized yet. Please refresh the page or ensure the API key is configured.`
	if err == nil || err.Error() != want {
		t.Errorf("error = %v", err)
	}
}

func TestGetModelAsync(t *testing.T) {
	cat := sampleCatalog()
	r := NewRegistry(Config{Keys: map[string]string{"openRouter": "k"}, Catalog: cat})

	m, err := r.GetModelAsync(context.Background(), &ChatModel{Provider: OpenRouter, Model: "gpt-4o"})
	if err != nil {
		t.Fatalf("GetModelAsync: %v", err)
	}
	if m.UpstreamID != "openai/gpt-4o" {
		t.Errorf("UpstreamID = %q", m.UpstreamID)
	}

	if _, err := r.GetModelAsync(context.Background(), &ChatModel{Provider: OpenRouter, Model: "gpt-4o"}); err != nil {
		t.Fatal(err)
	}
	if cat.calls.Load() != 1 {
		t.Errorf("a populated cache must not reload, calls = %d", cat.calls.Load())
	}

	_, err = r.GetModelAsync(context.Background(), &ChatModel{Provider: "groq", Model: "nope"})
	want := `Model "nope" from provider "groq" not found. Please select a valid model or configure the appropriate API key.`
	if err == nil || err.Error() != want {
		t.Errorf("error = %v", err)
	}
}

func TestGetModelAsync_NoKeyDoesNotLoad(t *testing.T) {
	cat := sampleCatalog()
	r := NewRegistry(Config{Catalog: cat})
	if _, err := r.GetModelAsync(context.Background(), &ChatModel{Provider: OpenRouter, Model: "gpt-4o"}); err == nil {
		t.Fatal("expected not found")
	}
	if cat.calls.Load() != 0 {
		t.Errorf("catalog loaded without a key")
	}
}

func TestFallback(t *testing.T) {
	tests := []struct {
		name       string
		keys       map[string]string
		candidates string
	}{
		{"none", nil, ""},
		{"all", map[string]string{"openai": "a", "google": "b", "anthropic": "c", "xai": "d", "groq": "e"},
			"openai/gpt-4.1,google/gemini-2.5-flash,anthropic/sonnet-4.5,xai/grok-3-mini,groq/qwen3-32b"},
		{"placeholder skipped", map[string]string{"openai": "****", "xai": "d"}, "xai/grok-3-mini"},
		{"groq only", map[string]string{"groq": "e"}, "groq/qwen3-32b"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRegistry(Config{Keys: tt.keys})
			var got []string
			for _, m := range r.FallbackCandidates() {
				got = append(got, m.Provider+"/"+m.Name)
			}
			if strings.Join(got, ",") != tt.candidates {
				t.Errorf("candidates = %v, want %s", got, tt.candidates)
			}

			fb := r.Fallback()
			if tt.candidates == "" {
				if fb.Provider != "openai" || fb.Name != "gpt-4.1" {
					t.Errorf("default fallback = %s/%s", fb.Provider, fb.Name)
				}
			} else if !strings.HasPrefix(tt.candidates, fb.Provider+"/"+fb.Name) {
				t.Errorf("fallback = %s/%s", fb.Provider, fb.Name)
			}
		})
	}
}

func TestCapabilityLookups(t *testing.T) {
	r := NewRegistry(Config{})

	gemini, _ := r.GetModel(&ChatModel{Provider: "google", Model: "gemini-3-pro"})
	if gemini.UpstreamID != "gemini-3-pro-preview" {
		t.Errorf("UpstreamID = %q", gemini.UpstreamID)
	}
	if got := r.FileMimeTypes(gemini); len(got) != 0 {
		t.Errorf("gemini-3-pro mime types = %v", got)
	}

	flash, _ := r.GetModel(&ChatModel{Provider: "google", Model: "gemini-2.5-flash"})
	if got := r.FileMimeTypes(flash); len(got) != len(GeminiFileMimeTypes) {
		t.Errorf("gemini-2.5-flash mime types = %v", got)
	}

	gemma, _ := r.GetModel(&ChatModel{Provider: "ollama", Model: "gemma3:4b"})
	if !r.IsToolCallUnsupported(gemma) {
		t.Error("gemma3 cannot call tools")
	}
}
