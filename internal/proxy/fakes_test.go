package proxy

import (
	"context"
	"errors"
	"strings"

	"github.com/nulpointcorp/chat-gateway/internal/providers"
)

// funcProvider is a Provider whose Request is supplied by the test.
type funcProvider struct {
	name      string
	requestFn func(ctx context.Context, req *providers.ProxyRequest) (*providers.ProxyResponse, error)
	healthErr error
}

func (p *funcProvider) Name() string { return p.name }

func (p *funcProvider) Request(ctx context.Context, req *providers.ProxyRequest) (*providers.ProxyResponse, error) {
	return p.requestFn(ctx, req)
}

func (p *funcProvider) HealthCheck(_ context.Context) error { return p.healthErr }

// providerError carries an upstream HTTP status.
type providerError struct {
	status int
	msg    string
}

func (e *providerError) Error() string   { return e.msg }
func (e *providerError) HTTPStatus() int { return e.status }

// streamOf returns a closed stream holding chunks.
func streamOf(chunks ...providers.StreamChunk) <-chan providers.StreamChunk {
	ch := make(chan providers.StreamChunk, len(chunks))
	for _, c := range chunks {
		ch <- c
	}
	close(ch)
	return ch
}

// textStream splits text on spaces into content chunks ending with "stop".
func textStream(text string) <-chan providers.StreamChunk {
	words := strings.SplitAfter(text, " ")
	chunks := make([]providers.StreamChunk, 0, len(words)+1)
	for _, w := range words {
		chunks = append(chunks, providers.StreamChunk{Content: w})
	}
	chunks = append(chunks, providers.StreamChunk{FinishReason: "stop"})
	return streamOf(chunks...)
}

// streamingProvider answers every request with text as a stream.
func streamingProvider(name, text string) *funcProvider {
	return &funcProvider{
		name: name,
		requestFn: func(_ context.Context, req *providers.ProxyRequest) (*providers.ProxyResponse, error) {
			return &providers.ProxyResponse{ID: "resp-" + req.RequestID, Model: req.Model, Stream: textStream(text)}, nil
		},
	}
}

// failingProvider answers every request with err.
func failingProvider(name string, err error) *funcProvider {
	return &funcProvider{
		name: name,
		requestFn: func(_ context.Context, _ *providers.ProxyRequest) (*providers.ProxyResponse, error) {
			return nil, err
		},
	}
}

var errUpstreamDown = &providerError{status: 503, msg: "upstream unavailable"}

// collect reads a stream to the end and joins its content.
func collect(ch <-chan providers.StreamChunk) (string, error) {
	var sb strings.Builder
	var err error
	for c := range ch {
		if c.Err != nil {
			err = errors.Join(err, c.Err)
			continue
		}
		sb.WriteString(c.Content)
	}
	return sb.String(), err
}
