package openaicompat

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/nulpointcorp/chat-gateway/internal/providers"
)

func TestProvider_RequestSendsHeadersAndModel(t *testing.T) {
	var gotModel, gotTitle, gotAuth string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/chat/completions" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		gotModel, _ = body["model"].(string)
		gotTitle = r.Header.Get("X-Title")
		gotAuth = r.Header.Get("Authorization")

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"x","object":"chat.completion","created":0,"model":"m","choices":[{"index":0,"message":{"role":"assistant","content":"hi"},"finish_reason":"stop"}]}`))
	}))
	defer srv.Close()

	p := New("openRouter", "or-key", srv.URL+"/api/v1", WithHeader("X-Title", "chat-gateway"))
	resp, err := p.Request(context.Background(), &providers.ProxyRequest{
		Model:    "meta-llama/llama-3.3-8b-instruct:free",
		Messages: []providers.Message{{Role: "user", Content: "hello"}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != "hi" {
		t.Errorf("unexpected content %q", resp.Content)
	}
	if gotModel != "meta-llama/llama-3.3-8b-instruct:free" {
		t.Errorf("unexpected upstream model %q", gotModel)
	}
	if gotTitle != "chat-gateway" {
		t.Errorf("X-Title header not sent, got %q", gotTitle)
	}
	if gotAuth != "Bearer or-key" {
		t.Errorf("unexpected Authorization %q", gotAuth)
	}
}

func TestProvider_RequiresKeyUnlessKeyless(t *testing.T) {
	req := &providers.ProxyRequest{Model: "m", Messages: []providers.Message{{Role: "user", Content: "x"}}}

	if _, err := New("xai", "", "http://127.0.0.1:1").Request(context.Background(), req); err == nil {
		t.Fatal("expected missing key error")
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"x","object":"chat.completion","created":0,"model":"gemma3:1b","choices":[{"index":0,"message":{"role":"assistant","content":"ok"},"finish_reason":"stop"}]}`))
	}))
	defer srv.Close()

	p := New("ollama", "", srv.URL+"/v1", WithoutKey())
	if _, err := p.Request(context.Background(), req); err != nil {
		t.Fatalf("keyless provider should work, got %v", err)
	}
}

func TestProvider_ErrorCarriesStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"invalid key"}}`))
	}))
	defer srv.Close()

	p := New("groq", "bad", srv.URL+"/openai/v1", WithMaxRetries(0))
	_, err := p.Request(context.Background(), &providers.ProxyRequest{
		Model:    "qwen/qwen3-32b",
		Messages: []providers.Message{{Role: "user", Content: "x"}},
	})

	var sc providers.StatusCoder
	if !errors.As(err, &sc) || sc.HTTPStatus() != http.StatusUnauthorized {
		t.Fatalf("expected 401 status coder, got %v", err)
	}
	var pe *ProviderError
	if errors.As(err, &pe) && pe.Name != "groq" {
		t.Errorf("expected provider name groq, got %q", pe.Name)
	}
}

func TestOllamaBaseURL(t *testing.T) {
	cases := map[string]string{
		"http://localhost:11434/api":  "http://localhost:11434/v1",
		"http://localhost:11434/api/": "http://localhost:11434/v1",
		"http://localhost:11434/v1":   "http://localhost:11434/v1",
		"http://ollama:11434":         "http://ollama:11434/v1",
	}
	for in, want := range cases {
		if got := OllamaBaseURL(in); got != want {
			t.Errorf("OllamaBaseURL(%q) = %q, want %q", in, got, want)
		}
	}
}
