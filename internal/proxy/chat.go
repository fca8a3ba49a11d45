package proxy

import (
	"bufio"
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/valyala/fasthttp"

	"github.com/nulpointcorp/chat-gateway/internal/models"
	"github.com/nulpointcorp/chat-gateway/internal/prompts"
	"github.com/nulpointcorp/chat-gateway/internal/providers"
	"github.com/nulpointcorp/chat-gateway/internal/store"
	"github.com/nulpointcorp/chat-gateway/internal/uimessage"
	"github.com/nulpointcorp/chat-gateway/pkg/apierr"
)

// errStreamTimeout is reported when an upstream stream outlives the
// provider timeout.
var errStreamTimeout = fmt.Errorf("upstream stream timed out: %w", context.DeadlineExceeded)

type temporaryRequest struct {
	Messages     []uimessage.UIMessage `json:"messages"`
	ChatModel    *models.ChatModel     `json:"chatModel,omitempty"`
	Instructions string                `json:"instructions,omitempty"`
}

// handleModels serves GET /api/chat/models: every provider with its models,
// keyed providers first. Providers without a key are hidden unless
// ShowAllProviders is set.
func (g *Gateway) handleModels(ctx *fasthttp.RequestCtx) {
	x := g.begin(ctx, routeModels)
	defer func() { x.finish(ctx.Response.StatusCode(), nil) }()

	infos := g.registry.ModelsInfo(ctx)

	out := make([]models.ProviderInfo, 0, len(infos))
	for _, p := range infos {
		if g.showAllProviders || p.HasAPIKey {
			out = append(out, p)
		}
	}
	slices.SortStableFunc(out, func(a, b models.ProviderInfo) int {
		return cmp.Compare(keyRank(a), keyRank(b))
	})

	writeJSON(ctx, out)
}

func keyRank(p models.ProviderInfo) int {
	if p.HasAPIKey {
		return 0
	}
	return 1
}

// handleTemporary serves POST /api/chat/temporary: a one-off chat that is
// not persisted, answered as a UI message stream.
func (g *Gateway) handleTemporary(ctx *fasthttp.RequestCtx) {
	x := g.begin(ctx, routeTemporary)
	var failure error
	defer func() {
		if !x.streaming {
			x.finish(ctx.Response.StatusCode(), failure)
		}
	}()

	fail := func(event string, err error) {
		failure = err
		g.log.ErrorContext(ctx, event,
			slog.String("request_id", x.reqID),
			slog.String("user_id", x.userID),
			slog.Any("error", err),
		)
		apierr.WriteError(ctx, err)
	}

	var req temporaryRequest
	if err := json.Unmarshal(ctx.PostBody(), &req); err != nil {
		fail("temporary_chat_invalid_body", err)
		return
	}

	sess, ok := g.authenticate(ctx, x)
	if !ok {
		return
	}
	if !g.allowRate(ctx, x) {
		return
	}

	g.log.InfoContext(ctx, "temporary_chat_request",
		slog.String("request_id", x.reqID),
		slog.String("user_id", x.userID),
		slog.String("model", selection(req.ChatModel)),
		slog.Int("messages", len(req.Messages)),
	)

	candidates, err := g.candidates(ctx, req.ChatModel)
	if err != nil {
		fail("temporary_chat_model_failed", err)
		return
	}

	prefs := g.userPreferences(ctx, x)
	system := temporarySystemPrompt(prompts.BuildUserSystemPrompt(sess.User, prefs), req.Instructions)

	msgs, err := uimessage.ConvertToModelMessages(req.Messages)
	if err != nil {
		fail("temporary_chat_invalid_messages", err)
		return
	}

	streamCtx, cancel := g.streamContext()
	up, err := g.openStream(streamCtx, x.route, candidates, providers.ProxyRequest{
		Messages:  append([]providers.Message{{Role: "system", Content: system}}, msgs...),
		UserID:    x.userID,
		RequestID: x.reqID,
	})
	if err != nil {
		cancel()
		fail("temporary_chat_upstream_failed", err)
		return
	}

	x.model, x.attempts, x.fallback = up.model, up.attempts, up.fallback
	x.streaming = true
	g.writeUIMessageStream(ctx, x, up, streamCtx, cancel)
}

// userPreferences loads the caller's preferences. A failed lookup is
// logged and treated as "no preferences".
func (g *Gateway) userPreferences(ctx context.Context, x *exchange) *store.UserPreferences {
	if g.prefs == nil {
		return nil
	}
	prefs, err := g.prefs.UserPreferences(ctx, x.userID)
	if err != nil {
		g.log.WarnContext(ctx, "user_preferences_failed",
			slog.String("request_id", x.reqID),
			slog.String("user_id", x.userID),
			slog.Any("error", err),
		)
		return nil
	}
	return prefs
}

// temporarySystemPrompt appends the client's instructions, separated by a
// blank line, to the user system prompt.
func temporarySystemPrompt(base, instructions string) string {
	if instructions == "" {
		return strings.TrimSpace(base)
	}
	return strings.TrimSpace(base + " \n\n" + instructions)
}

// writeUIMessageStream streams up to the client as a UI message stream,
// re-chunked into whole words. cancel is called once the stream is done.
func (g *Gateway) writeUIMessageStream(
	ctx *fasthttp.RequestCtx,
	x *exchange,
	up *upstream,
	streamCtx context.Context,
	cancel context.CancelFunc,
) {
	ctx.SetStatusCode(fasthttp.StatusOK)
	ctx.SetContentType(uimessage.StreamContentType)
	ctx.Response.Header.Set("Cache-Control", "no-cache")
	ctx.Response.Header.Set("Connection", "keep-alive")
	ctx.Response.Header.Set("X-Accel-Buffering", "no")
	ctx.Response.Header.Set(uimessage.StreamHeader, uimessage.StreamHeaderVersion)

	x.finishUnlessWritten(streamCtx, up.chunks)
	ctx.SetBodyStreamWriter(func(w *bufio.Writer) {
		x.writing.Store(true)
		defer cancel()
		start := time.Now()

		sw := uimessage.NewStreamWriter(w)
		textID := uuid.NewString()

		var (
			streamErr error
			finish    = "stop"
		)
		deltas := make(chan string, 16)
		go func() {
			defer close(deltas)
			for c := range up.chunks {
				if c.Err != nil {
					streamErr = c.Err
					continue
				}
				if c.FinishReason != "" {
					finish = c.FinishReason
				}
				if c.Content == "" || streamCtx.Err() != nil {
					continue
				}
				select {
				case deltas <- c.Content:
				case <-streamCtx.Done():
				}
			}
		}()

		_ = sw.Start(uuid.NewString())
		_ = sw.StartStep()

		textOpen := false
		for word := range uimessage.SmoothWords(streamCtx, deltas, g.smoothingDelay) {
			if !textOpen {
				_ = sw.TextStart(textID)
				textOpen = true
			}
			if err := sw.TextDelta(textID, word); err != nil {
				// Client went away.
				cancel()
			}
		}
		// SmoothWords may stop on cancellation before deltas is drained.
		for range deltas {
		}
		if streamErr == nil && errors.Is(streamCtx.Err(), context.DeadlineExceeded) {
			streamErr = errStreamTimeout
		}

		if textOpen {
			_ = sw.TextEnd(textID)
		}

		outcome := "success"
		switch {
		case streamErr != nil:
			outcome = classifyError(streamErr)
			g.cb.RecordFailure(up.model.Provider)
			g.metrics.SetCircuitBreaker(up.model.Provider, int64(g.cb.State(up.model.Provider)))
			g.metrics.RecordError(up.model.Provider, outcome)
			g.log.ErrorContext(streamCtx, "temporary_chat_stream_failed",
				slog.String("request_id", x.reqID),
				slog.String("provider", up.model.Provider),
				slog.String("model", up.model.Name),
				slog.Any("error", streamErr),
			)
			_ = sw.Error(streamErr.Error())
		case sw.Err() != nil:
			outcome = "client_gone"
		default:
			_ = sw.FinishStep()
			_ = sw.Finish(finish)
		}
		_ = sw.Done()

		g.metrics.ObserveStream(up.model.Provider, x.route, outcome, time.Since(start))
		if streamErr == nil {
			streamErr = sw.Err()
		}
		x.finish(fasthttp.StatusOK, streamErr)
	})
}
