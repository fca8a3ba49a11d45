package models

// staticEntry is one model of the built-in catalog.
type staticEntry struct {
	name       string
	upstreamID string
}

type staticProvider struct {
	name   string
	models []staticEntry
}

func same(name string) staticEntry { return staticEntry{name: name, upstreamID: name} }

// staticCatalog is listed in display order. openRouter is filled from the
// live catalog.
var staticCatalog = []staticProvider{
	{name: "openai", models: []staticEntry{
		same("gpt-4.1"),
		same("gpt-4.1-mini"),
		same("o4-mini"),
		same("o3"),
		{name: "gpt-5.1-chat", upstreamID: "gpt-5.1-chat-latest"},
		same("gpt-5.1"),
		same("gpt-5.1-codex"),
		same("gpt-5.1-codex-mini"),
	}},
	{name: "google", models: []staticEntry{
		same("gemini-2.5-flash-lite"),
		same("gemini-2.5-flash"),
		{name: "gemini-3-pro", upstreamID: "gemini-3-pro-preview"},
		same("gemini-2.5-pro"),
	}},
	{name: "anthropic", models: []staticEntry{
		{name: "sonnet-4.5", upstreamID: "claude-sonnet-4-5"},
		{name: "haiku-4.5", upstreamID: "claude-haiku-4-5"},
		{name: "opus-4.5", upstreamID: "claude-opus-4-5"},
	}},
	{name: "xai", models: []staticEntry{
		{name: "grok-4-1-fast", upstreamID: "grok-4-1-fast-non-reasoning"},
		same("grok-4-1"),
		same("grok-3-mini"),
	}},
	{name: "ollama", models: []staticEntry{
		same("gemma3:1b"),
		same("gemma3:4b"),
		same("gemma3:12b"),
	}},
	{name: "groq", models: []staticEntry{
		{name: "kimi-k2-instruct", upstreamID: "moonshotai/kimi-k2-instruct"},
		{name: "llama-4-scout-17b", upstreamID: "meta-llama/llama-4-scout-17b-16e-instruct"},
		{name: "gpt-oss-20b", upstreamID: "openai/gpt-oss-20b"},
		{name: "gpt-oss-120b", upstreamID: "openai/gpt-oss-120b"},
		{name: "qwen3-32b", upstreamID: "qwen/qwen3-32b"},
	}},
	{name: OpenRouter},
}

// staticToolUnsupported lists static models that cannot call tools.
var staticToolUnsupported = map[string]map[string]bool{
	"openai": {"o4-mini": true},
	"ollama": {"gemma3:1b": true, "gemma3:4b": true, "gemma3:12b": true},
}

// imageInputProviders are the static providers whose models accept images.
var imageInputProviders = map[string]bool{
	"google":    true,
	"xai":       true,
	"openai":    true,
	"anthropic": true,
}

// fallbackOrder is tried in order; the first provider with a key wins.
var fallbackOrder = []ChatModel{
	{Provider: "openai", Model: "gpt-4.1"},
	{Provider: "google", Model: "gemini-2.5-flash"},
	{Provider: "anthropic", Model: "sonnet-4.5"},
	{Provider: "xai", Model: "grok-3-mini"},
	{Provider: "groq", Model: "qwen3-32b"},
}
