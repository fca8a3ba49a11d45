package anthropic

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/nulpointcorp/chat-gateway/internal/providers"
)

const (
	defaultBaseURL   = "https://api.anthropic.com/v1"
	providerName     = providers.Anthropic
	defaultMaxTokens = 8192
	jsonOnlyNote     = "Respond with a single JSON object and nothing else."
)

// Provider implements providers.Provider for Anthropic (official SDK).
type Provider struct {
	apiKey  string
	baseURL string
	client  anthropic.Client
}

// Option configures a Provider.
type Option func(*Provider)

// WithBaseURL overrides the API base URL (useful for testing).
func WithBaseURL(url string) Option {
	return func(p *Provider) { p.baseURL = url }
}

// New creates a new Anthropic Provider.
func New(apiKey string, opts ...Option) *Provider {
	p := &Provider{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
	}
	for _, o := range opts {
		o(p)
	}

	p.client = anthropic.NewClient(
		option.WithAPIKey(p.apiKey),
		option.WithBaseURL(p.baseURL),
		option.WithHTTPClient(&http.Client{Timeout: providers.ProviderTimeout}),
	)

	return p
}

func (p *Provider) Name() string { return providerName }

func (p *Provider) HealthCheck(ctx context.Context) error {
	_, err := p.client.Models.List(ctx, anthropic.ModelListParams{
		Limit: anthropic.Int(1),
	})
	if err != nil {
		return fmt.Errorf("anthropic: health check: %w", toProviderError(err))
	}
	return nil
}

func (p *Provider) Request(ctx context.Context, req *providers.ProxyRequest) (*providers.ProxyResponse, error) {
	if p.apiKey == "" {
		return nil, fmt.Errorf("anthropic: no API key configured")
	}

	params := buildParams(req)
	if req.Stream {
		return p.handleStreaming(ctx, params), nil
	}
	return p.handleResponse(ctx, params)
}

func buildParams(req *providers.ProxyRequest) anthropic.MessageNewParams {
	system, rest := providers.SplitSystem(req.Messages)
	if req.JSONOutput {
		system = strings.TrimSpace(system + "\n\n" + jsonOnlyNote)
	}

	msgs := make([]anthropic.MessageParam, 0, len(rest))
	for _, m := range rest {
		msgs = append(msgs, toSDKMessage(m))
	}

	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = defaultMaxTokens
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		MaxTokens: int64(maxTokens),
		Messages:  msgs,
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	if req.Temperature > 0 {
		params.Temperature = anthropic.Float(req.Temperature)
	}

	return params
}

func toSDKMessage(m providers.Message) anthropic.MessageParam {
	blocks := make([]anthropic.ContentBlockParamUnion, 0, len(m.Files)+1)
	for _, f := range m.Files {
		if b, ok := fileBlock(f); ok {
			blocks = append(blocks, b)
		}
	}
	if m.Content != "" || len(blocks) == 0 {
		blocks = append(blocks, anthropic.NewTextBlock(m.Content))
	}

	if strings.ToLower(m.Role) == "assistant" {
		return anthropic.NewAssistantMessage(blocks...)
	}
	return anthropic.NewUserMessage(blocks...)
}

// fileBlock maps an attachment to an image or document block. Types the
// Messages API cannot take are reported as not ok.
func fileBlock(f providers.FilePart) (anthropic.ContentBlockParamUnion, bool) {
	mediaType, data, inline := providers.DecodeDataURL(f.URL)
	if !inline {
		mediaType = f.MediaType
	}

	switch {
	case strings.HasPrefix(mediaType, "image/"):
		if inline {
			return anthropic.NewImageBlockBase64(mediaType, data), true
		}
		return anthropic.NewImageBlock(anthropic.URLImageSourceParam{URL: f.URL}), true
	case mediaType == "application/pdf":
		if inline {
			return anthropic.NewDocumentBlock(anthropic.Base64PDFSourceParam{Data: data}), true
		}
		return anthropic.NewDocumentBlock(anthropic.URLPDFSourceParam{URL: f.URL}), true
	case mediaType == "text/plain" && inline:
		raw, err := base64.StdEncoding.DecodeString(data)
		if err != nil {
			return anthropic.ContentBlockParamUnion{}, false
		}
		return anthropic.NewDocumentBlock(anthropic.PlainTextSourceParam{Data: string(raw)}), true
	}
	return anthropic.ContentBlockParamUnion{}, false
}

func (p *Provider) handleResponse(ctx context.Context, params anthropic.MessageNewParams) (*providers.ProxyResponse, error) {
	msg, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return nil, toProviderError(err)
	}

	var sb strings.Builder
	for _, b := range msg.Content {
		if v, ok := b.AsAny().(anthropic.TextBlock); ok {
			sb.WriteString(v.Text)
		}
	}

	return &providers.ProxyResponse{
		ID:      msg.ID,
		Model:   string(msg.Model),
		Content: sb.String(),
		Usage: providers.Usage{
			InputTokens:  int(msg.Usage.InputTokens),
			OutputTokens: int(msg.Usage.OutputTokens),
		},
	}, nil
}

func (p *Provider) handleStreaming(ctx context.Context, params anthropic.MessageNewParams) *providers.ProxyResponse {
	ch := make(chan providers.StreamChunk, 64)

	stream := p.client.Messages.NewStreaming(ctx, params)

	go func() {
		defer close(ch)
		defer stream.Close()

		for stream.Next() {
			switch ev := stream.Current().AsAny().(type) {
			case anthropic.ContentBlockDeltaEvent:
				if delta, ok := ev.Delta.AsAny().(anthropic.TextDelta); ok && delta.Text != "" {
					ch <- providers.StreamChunk{Content: delta.Text}
				}
			case anthropic.MessageDeltaEvent:
				if ev.Delta.StopReason != "" {
					ch <- providers.StreamChunk{FinishReason: finishReason(ev.Delta.StopReason)}
				}
			}
		}

		if err := stream.Err(); err != nil {
			ch <- providers.StreamChunk{FinishReason: "error", Err: toProviderError(err)}
		}
	}()

	return &providers.ProxyResponse{Stream: ch}
}

func finishReason(r anthropic.StopReason) string {
	switch r {
	case anthropic.StopReasonEndTurn, anthropic.StopReasonStopSequence:
		return "stop"
	case anthropic.StopReasonMaxTokens:
		return "length"
	case anthropic.StopReasonToolUse:
		return "tool-calls"
	case anthropic.StopReasonRefusal:
		return "content-filter"
	case "":
		return ""
	default:
		return "other"
	}
}

// ProviderError is a structured error returned by the Anthropic API.
type ProviderError struct {
	StatusCode int
	Message    string
	Type       string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("anthropic: %s (status=%d, type=%s)", e.Message, e.StatusCode, e.Type)
}

// HTTPStatus implements providers.StatusCoder.
func (e *ProviderError) HTTPStatus() int { return e.StatusCode }

func toProviderError(err error) error {
	var apierr *anthropic.Error
	if errors.As(err, &apierr) {
		return &ProviderError{
			StatusCode: apierr.StatusCode,
			Message:    apierr.Error(),
			Type:       "anthropic_error",
		}
	}
	return err
}
