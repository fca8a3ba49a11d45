// Package providers defines the transport contract shared by every upstream
// chat backend (OpenAI, Anthropic, Google and the OpenAI-compatible family:
// xAI, Groq, Ollama, OpenRouter and user-defined endpoints).
//
// Each backend lives in its own sub-package and implements Provider.
package providers

import (
	"context"
	"strings"
	"time"
)

type (
	// StreamChunk is a single delta delivered during a streaming response.
	// A chunk with a non-nil Err is always the last one on the channel.
	StreamChunk struct {
		Content      string
		FinishReason string
		Err          error
	}

	// FilePart is an attachment carried by a message. URL is either an
	// http(s) URL or a data: URL with base64 content.
	FilePart struct {
		MediaType string
		URL       string
		Filename  string
	}

	// Message is a single turn in a conversation.
	Message struct {
		Role    string
		Content string
		Files   []FilePart
	}

	// Usage: token usage stats.
	Usage struct {
		InputTokens  int
		OutputTokens int
	}

	// ProxyRequest: normalized upstream request.
	ProxyRequest struct {
		// Model is the upstream model ID (e.g. "claude-sonnet-4-5").
		Model       string
		Messages    []Message
		Stream      bool
		Temperature float64
		MaxTokens   int
		// JSONOutput asks the backend for a single JSON object reply.
		JSONOutput bool
		UserID     string
		RequestID  string
	}

	// ProxyResponse: normalized provider response.
	ProxyResponse struct {
		ID      string
		Model   string
		Content string
		Usage   Usage
		Stream  <-chan StreamChunk // nil if it's not a stream.
	}
)

// Provider: upstream chat backend.
type Provider interface {
	Name() string
	Request(ctx context.Context, req *ProxyRequest) (*ProxyResponse, error)
	HealthCheck(ctx context.Context) error
}

// StatusCoder is implemented by provider errors that carry the upstream
// HTTP status.
type StatusCoder interface {
	HTTPStatus() int
}

// Provider names as they appear in the public model listing.
const (
	OpenAI     = "openai"
	Google     = "google"
	Anthropic  = "anthropic"
	XAI        = "xai"
	Ollama     = "ollama"
	Groq       = "groq"
	OpenRouter = "openRouter"
)

// Default circuit breaker and failover constants.
const (
	CBErrorThreshold  = 5
	CBTimeWindow      = 60 * time.Second
	CBHalfOpenTimeout = 30 * time.Second
	MaxRetries        = 3
	ProviderTimeout   = 120 * time.Second
)

// SplitSystem separates leading system messages from the conversation and
// joins their text. Backends with a dedicated system field use it.
func SplitSystem(msgs []Message) (string, []Message) {
	var system []string
	rest := make([]Message, 0, len(msgs))
	for _, m := range msgs {
		if m.Role == "system" {
			if m.Content != "" {
				system = append(system, m.Content)
			}
			continue
		}
		rest = append(rest, m)
	}
	return strings.Join(system, "\n\n"), rest
}

// IsImage reports whether the media type is an image/* type.
func (f FilePart) IsImage() bool {
	return strings.HasPrefix(f.MediaType, "image/")
}

// DecodeDataURL splits a data: URL into media type and base64 payload.
// ok is false for anything that is not a base64 data URL.
func DecodeDataURL(u string) (mediaType, payload string, ok bool) {
	rest, found := strings.CutPrefix(u, "data:")
	if !found {
		return "", "", false
	}
	meta, data, found := strings.Cut(rest, ",")
	if !found {
		return "", "", false
	}
	mediaType, isBase64 := strings.CutSuffix(meta, ";base64")
	if !isBase64 {
		return "", "", false
	}
	return mediaType, data, true
}
