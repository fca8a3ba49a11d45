package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/nulpointcorp/chat-gateway/internal/providers"
	openaiSDK "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/shared"
)

const (
	defaultBaseURL = "https://api.openai.com/v1"
	providerName   = providers.OpenAI
)

type Provider struct {
	apiKey  string
	baseURL string
	client  openaiSDK.Client
}

type Option func(*Provider)

func WithBaseURL(u string) Option {
	return func(p *Provider) { p.baseURL = u }
}

func New(apiKey string, opts ...Option) *Provider {
	p := &Provider{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
	}

	for _, o := range opts {
		o(p)
	}

	httpClient := &http.Client{Timeout: providers.ProviderTimeout}
	if p.baseURL != "" && p.baseURL != defaultBaseURL {
		httpClient.Transport = newBaseURLTransport(http.DefaultTransport, p.baseURL)
	}

	p.client = openaiSDK.NewClient(
		option.WithAPIKey(p.apiKey),
		option.WithHTTPClient(httpClient),
	)

	return p
}

func (p *Provider) Name() string { return providerName }

func (p *Provider) HealthCheck(ctx context.Context) error {
	_, err := p.client.Models.List(ctx)
	if err != nil {
		return fmt.Errorf("openai: health check: %w", toProviderError(err))
	}
	return nil
}

func (p *Provider) Request(ctx context.Context, req *providers.ProxyRequest) (*providers.ProxyResponse, error) {
	if p.apiKey == "" {
		return nil, fmt.Errorf("openai: no API key configured")
	}

	params := BuildParams(req)
	if req.Stream {
		return Stream(ctx, &p.client, params, toProviderError), nil
	}
	return Complete(ctx, &p.client, params, toProviderError)
}

// BuildParams converts a normalized request into chat completion params.
// The OpenAI-compatible backends share it.
func BuildParams(req *providers.ProxyRequest) openaiSDK.ChatCompletionNewParams {
	params := openaiSDK.ChatCompletionNewParams{
		Messages: BuildMessages(req.Messages),
		Model:    req.Model,
	}

	if req.Temperature != 0 {
		params.Temperature = openaiSDK.Float(req.Temperature)
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = openaiSDK.Int(int64(req.MaxTokens))
	}
	if req.JSONOutput {
		params.ResponseFormat = openaiSDK.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		}
	}

	return params
}

// BuildMessages maps conversation turns to SDK messages. User turns with
// attachments become multi-part content: images as image_url parts, data:
// URL documents as file parts. Remote non-image files cannot be inlined
// and are referenced by URL in a text part.
func BuildMessages(msgs []providers.Message) []openaiSDK.ChatCompletionMessageParamUnion {
	out := make([]openaiSDK.ChatCompletionMessageParamUnion, 0, len(msgs))
	for _, m := range msgs {
		role := strings.ToLower(m.Role)
		if role == "user" && len(m.Files) > 0 {
			out = append(out, openaiSDK.UserMessage(userParts(m)))
			continue
		}
		out = append(out, toSDKMessage(role, m.Content))
	}
	return out
}

func userParts(m providers.Message) []openaiSDK.ChatCompletionContentPartUnionParam {
	parts := make([]openaiSDK.ChatCompletionContentPartUnionParam, 0, len(m.Files)+1)
	for _, f := range m.Files {
		switch {
		case f.IsImage():
			parts = append(parts, openaiSDK.ImageContentPart(
				openaiSDK.ChatCompletionContentPartImageImageURLParam{URL: f.URL},
			))
		case strings.HasPrefix(f.URL, "data:"):
			file := openaiSDK.ChatCompletionContentPartFileFileParam{
				FileData: openaiSDK.String(f.URL),
			}
			if f.Filename != "" {
				file.Filename = openaiSDK.String(f.Filename)
			}
			parts = append(parts, openaiSDK.FileContentPart(file))
		default:
			parts = append(parts, openaiSDK.TextContentPart(
				fmt.Sprintf("[attachment %s: %s]", f.MediaType, f.URL),
			))
		}
	}
	if m.Content != "" {
		parts = append(parts, openaiSDK.TextContentPart(m.Content))
	}
	return parts
}

// Complete runs a non-streaming chat completion.
func Complete(
	ctx context.Context,
	client *openaiSDK.Client,
	params openaiSDK.ChatCompletionNewParams,
	mapErr func(error) error,
) (*providers.ProxyResponse, error) {
	resp, err := client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, mapErr(err)
	}

	content := ""
	if len(resp.Choices) > 0 {
		content = resp.Choices[0].Message.Content
	}

	return &providers.ProxyResponse{
		ID:      resp.ID,
		Model:   resp.Model,
		Content: content,
		Usage: providers.Usage{
			InputTokens:  int(resp.Usage.PromptTokens),
			OutputTokens: int(resp.Usage.CompletionTokens),
		},
	}, nil
}

// Stream runs a streaming chat completion. The SDK connects lazily, so
// connection and status errors surface as the final chunk's Err.
func Stream(
	ctx context.Context,
	client *openaiSDK.Client,
	params openaiSDK.ChatCompletionNewParams,
	mapErr func(error) error,
) *providers.ProxyResponse {
	ch := make(chan providers.StreamChunk, 64)

	stream := client.Chat.Completions.NewStreaming(ctx, params)

	go func() {
		defer close(ch)
		defer stream.Close()

		for stream.Next() {
			chunk := stream.Current()
			if len(chunk.Choices) == 0 {
				continue
			}

			c := chunk.Choices[0]
			if c.Delta.Content == "" && c.FinishReason == "" {
				continue
			}
			ch <- providers.StreamChunk{
				Content:      c.Delta.Content,
				FinishReason: finishReason(c.FinishReason),
			}
		}

		if err := stream.Err(); err != nil {
			ch <- providers.StreamChunk{FinishReason: "error", Err: mapErr(err)}
		}
	}()

	return &providers.ProxyResponse{Stream: ch}
}

// finishReason maps an OpenAI finish reason onto the UI message stream's
// vocabulary.
func finishReason(r string) string {
	switch r {
	case "":
		return ""
	case "stop":
		return "stop"
	case "length":
		return "length"
	case "content_filter":
		return "content-filter"
	case "tool_calls", "function_call":
		return "tool-calls"
	default:
		return "other"
	}
}

type ProviderError struct {
	StatusCode int
	Message    string
	Type       string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("openai: %s (status=%d, type=%s)", e.Message, e.StatusCode, e.Type)
}

func (e *ProviderError) HTTPStatus() int { return e.StatusCode }

func toProviderError(err error) error {
	var apierr *openaiSDK.Error
	if errors.As(err, &apierr) {
		return &ProviderError{
			StatusCode: apierr.StatusCode,
			Message:    apierr.Error(),
			Type:       "openai_error",
		}
	}
	return err
}

type baseURLTransport struct {
	base *url.URL
	rt   http.RoundTripper
}

func newBaseURLTransport(next http.RoundTripper, base string) http.RoundTripper {
	u, err := url.Parse(base)
	if err != nil {
		return next
	}
	return &baseURLTransport{base: u, rt: next}
}

func (t *baseURLTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	r2 := req.Clone(req.Context())
	u2 := *req.URL

	u2.Scheme = t.base.Scheme
	u2.Host = t.base.Host

	basePath := strings.TrimRight(t.base.Path, "/")
	if basePath != "" && !strings.HasPrefix(u2.Path, basePath+"/") && u2.Path != basePath {
		u2.Path = basePath + "/" + strings.TrimLeft(u2.Path, "/")
	}

	r2.URL = &u2
	return t.rt.RoundTrip(r2)
}

func toSDKMessage(role, content string) openaiSDK.ChatCompletionMessageParamUnion {
	switch role {
	case "developer":
		return openaiSDK.DeveloperMessage(content)
	case "system":
		return openaiSDK.SystemMessage(content)
	case "assistant":
		return openaiSDK.AssistantMessage(content)
	default:
		return openaiSDK.UserMessage(content)
	}
}
