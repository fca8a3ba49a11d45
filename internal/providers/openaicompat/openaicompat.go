// Package openaicompat provides a generic OpenAI-compatible chat provider.
// It backs every service that implements the OpenAI chat completions API:
// xAI, Groq, Ollama, OpenRouter and user-defined endpoints.
package openaicompat

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/nulpointcorp/chat-gateway/internal/providers"
	"github.com/nulpointcorp/chat-gateway/internal/providers/openai"
	openaiSDK "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

// Provider is a configurable OpenAI-compatible chat provider.
type Provider struct {
	name       string
	apiKey     string
	baseURL    string
	headers    map[string]string
	keyless    bool
	maxRetries int
	client     openaiSDK.Client
}

type Option func(*Provider)

// WithHeader adds a header sent with every request (e.g. OpenRouter's
// HTTP-Referer and X-Title attribution headers).
func WithHeader(key, value string) Option {
	return func(p *Provider) {
		if p.headers == nil {
			p.headers = make(map[string]string)
		}
		p.headers[key] = value
	}
}

// WithoutKey lets the provider run with no API key (local Ollama).
func WithoutKey() Option {
	return func(p *Provider) { p.keyless = true }
}

// WithMaxRetries overrides the SDK's built-in retry count.
func WithMaxRetries(n int) Option {
	return func(p *Provider) { p.maxRetries = n }
}

// New creates a new OpenAI-compatible Provider.
//
//   - name: provider identifier used for routing and logs.
//   - apiKey: API key sent as "Authorization: Bearer <key>".
//   - baseURL: API base URL, e.g. "https://api.x.ai/v1".
func New(name, apiKey, baseURL string, opts ...Option) *Provider {
	p := &Provider{
		name:       name,
		apiKey:     apiKey,
		baseURL:    baseURL,
		maxRetries: -1,
	}
	for _, o := range opts {
		o(p)
	}

	key := p.apiKey
	if key == "" && p.keyless {
		key = name
	}

	clientOpts := []option.RequestOption{
		option.WithAPIKey(key),
		option.WithHTTPClient(&http.Client{Timeout: providers.ProviderTimeout}),
	}
	if p.baseURL != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(p.baseURL))
	}
	for k, v := range p.headers {
		clientOpts = append(clientOpts, option.WithHeader(k, v))
	}
	if p.maxRetries >= 0 {
		clientOpts = append(clientOpts, option.WithMaxRetries(p.maxRetries))
	}

	p.client = openaiSDK.NewClient(clientOpts...)
	return p
}

func (p *Provider) Name() string { return p.name }

// BaseURL returns the configured API base URL.
func (p *Provider) BaseURL() string { return p.baseURL }

func (p *Provider) HealthCheck(ctx context.Context) error {
	_, err := p.client.Models.List(ctx)
	if err != nil {
		return fmt.Errorf("%s: health check: %w", p.name, p.toProviderError(err))
	}
	return nil
}

func (p *Provider) Request(ctx context.Context, req *providers.ProxyRequest) (*providers.ProxyResponse, error) {
	if p.apiKey == "" && !p.keyless {
		return nil, fmt.Errorf("%s: no API key configured", p.name)
	}

	params := openai.BuildParams(req)
	if req.Stream {
		return openai.Stream(ctx, &p.client, params, p.toProviderError), nil
	}
	return openai.Complete(ctx, &p.client, params, p.toProviderError)
}

// ProviderError is a structured error returned by an OpenAI-compatible API.
type ProviderError struct {
	Name       string
	StatusCode int
	Message    string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s: %s (status=%d)", e.Name, e.Message, e.StatusCode)
}

func (e *ProviderError) HTTPStatus() int { return e.StatusCode }

func (p *Provider) toProviderError(err error) error {
	var apierr *openaiSDK.Error
	if errors.As(err, &apierr) {
		return &ProviderError{
			Name:       p.name,
			StatusCode: apierr.StatusCode,
			Message:    apierr.Error(),
		}
	}
	return err
}

// OllamaBaseURL turns an Ollama native API URL (".../api") into its
// OpenAI-compatible counterpart (".../v1").
func OllamaBaseURL(u string) string {
	u = strings.TrimRight(u, "/")
	if trimmed, ok := strings.CutSuffix(u, "/api"); ok {
		return trimmed + "/v1"
	}
	if strings.HasSuffix(u, "/v1") {
		return u
	}
	return u + "/v1"
}
