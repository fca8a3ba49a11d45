package proxy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nulpointcorp/chat-gateway/internal/models"
	"github.com/nulpointcorp/chat-gateway/internal/providers"
)

// errNoCandidates is returned when every candidate was skipped before an
// upstream call was made.
var errNoCandidates = errors.New("no upstream model available")

// upstream is an open model stream that has produced its first chunk (or
// ended cleanly without one).
type upstream struct {
	model    models.Model
	attempts int
	// fallback is true when a candidate other than the first served the
	// request.
	fallback bool
	chunks   <-chan providers.StreamChunk
}

// openStream walks candidates in order until one produces a healthy stream.
// A stream counts as healthy once its first chunk arrives without an error,
// so failures that providers only report inside the stream still fall
// through to the next candidate. Candidates whose breaker is open are
// skipped; at most g.maxRetries upstream calls are made. A non-retryable
// error (4xx) stops the walk.
//
// ctx must outlive the returned stream.
func (g *Gateway) openStream(
	ctx context.Context,
	route string,
	candidates []models.Model,
	base providers.ProxyRequest,
) (*upstream, error) {
	var (
		lastErr    error
		prev       string
		prevReason string
		attempts   int
	)

	for i, m := range candidates {
		if attempts >= g.maxRetries {
			break
		}

		prov, ok := g.providers[m.Provider]
		if !ok {
			lastErr = fmt.Errorf("provider %q is not configured", m.Provider)
			continue
		}

		if !g.cb.Allow(m.Provider) {
			g.log.WarnContext(ctx, "circuit_breaker_open",
				slog.String("request_id", base.RequestID),
				slog.String("provider", m.Provider),
				slog.String("model", m.Name),
			)
			g.metrics.RecordCircuitBreakerRejection(m.Provider, g.cb.StateLabel(m.Provider))
			g.metrics.SetCircuitBreaker(m.Provider, int64(g.cb.State(m.Provider)))
			g.metrics.ObserveUpstreamAttempt(m.Provider, route, "circuit_reject")
			lastErr = fmt.Errorf("provider %q is temporarily unavailable", m.Provider)
			continue
		}

		if prev != "" {
			g.metrics.RecordFallbackSwitch(prev, m.Provider, prevReason)
		}

		req := base
		req.Model = m.UpstreamID
		req.Stream = true

		start := time.Now()
		chunks, err := g.attempt(ctx, prov, &req)
		attempts++

		if err == nil {
			g.cb.RecordSuccess(m.Provider)
			g.metrics.SetCircuitBreaker(m.Provider, int64(g.cb.State(m.Provider)))
			g.metrics.ObserveUpstreamAttempt(m.Provider, route, "success")
			g.metrics.ObserveFirstChunk(m.Provider, route, time.Since(start))
			if i > 0 {
				g.log.InfoContext(ctx, "fallback_success",
					slog.String("request_id", base.RequestID),
					slog.String("from", candidates[0].Provider+"/"+candidates[0].Name),
					slog.String("to", m.Provider+"/"+m.Name),
					slog.Int("attempts", attempts),
				)
			}
			return &upstream{model: m, attempts: attempts, fallback: i > 0, chunks: chunks}, nil
		}

		if ctx.Err() != nil {
			g.cb.Release(m.Provider)
			return nil, ctx.Err()
		}

		g.cb.RecordFailure(m.Provider)
		g.metrics.SetCircuitBreaker(m.Provider, int64(g.cb.State(m.Provider)))

		reason := classifyError(err)
		g.metrics.ObserveUpstreamAttempt(m.Provider, route, reason)
		g.metrics.RecordError(m.Provider, reason)
		g.log.WarnContext(ctx, "upstream_attempt_failed",
			slog.String("request_id", base.RequestID),
			slog.String("provider", m.Provider),
			slog.String("model", m.Name),
			slog.String("reason", reason),
			slog.Duration("elapsed", time.Since(start)),
			slog.String("error", err.Error()),
		)

		lastErr = err
		prev = m.Provider
		prevReason = reason

		if !isRetryable(err) {
			break
		}
	}

	if lastErr == nil {
		lastErr = errNoCandidates
	}
	if len(candidates) == 1 {
		return nil, lastErr
	}
	g.metrics.RecordFallbackExhausted(route)
	return nil, fmt.Errorf("all fallback models failed after %d attempt(s): %w", attempts, lastErr)
}

// attempt sends req and waits for the first chunk. The returned channel
// replays that chunk followed by the rest of the stream.
func (g *Gateway) attempt(ctx context.Context, prov providers.Provider, req *providers.ProxyRequest) (<-chan providers.StreamChunk, error) {
	resp, err := prov.Request(ctx, req)
	if err != nil {
		return nil, err
	}

	in := resp.Stream
	if in == nil {
		// Some backends answer a stream request with a complete reply.
		ch := make(chan providers.StreamChunk, 1)
		ch <- providers.StreamChunk{Content: resp.Content, FinishReason: "stop"}
		close(ch)
		return ch, nil
	}

	var first providers.StreamChunk
	select {
	case c, ok := <-in:
		if !ok {
			closed := make(chan providers.StreamChunk)
			close(closed)
			return closed, nil
		}
		first = c
	case <-ctx.Done():
		go drain(in)
		return nil, ctx.Err()
	}

	if first.Err != nil {
		go drain(in)
		return nil, first.Err
	}

	out := make(chan providers.StreamChunk, 16)
	go func() {
		defer close(out)
		out <- first
		for c := range in {
			select {
			case out <- c:
			case <-ctx.Done():
				drain(in)
				return
			}
		}
	}()
	return out, nil
}

// drain consumes ch until the producer closes it so that provider
// goroutines never block on an abandoned stream.
func drain(ch <-chan providers.StreamChunk) {
	for range ch {
	}
}

// isRetryable reports whether err should move on to the next candidate.
//
//   - 5xx and 429 provider errors: yes
//   - timeouts: yes
//   - other 4xx provider errors: no, the request itself is at fault
//   - unknown errors: yes
func isRetryable(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var sc providers.StatusCoder
	if errors.As(err, &sc) {
		status := sc.HTTPStatus()
		return status == 429 || (status >= 500 && status < 600)
	}
	return true
}

// classifyError maps err to a short label for logs and metrics.
func classifyError(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	var sc providers.StatusCoder
	if errors.As(err, &sc) {
		return fmt.Sprintf("http_%d", sc.HTTPStatus())
	}
	return "unknown"
}
