package proxy

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/valyala/fasthttp"

	"github.com/nulpointcorp/chat-gateway/internal/agentgen"
	"github.com/nulpointcorp/chat-gateway/internal/models"
	"github.com/nulpointcorp/chat-gateway/internal/prompts"
	"github.com/nulpointcorp/chat-gateway/internal/providers"
	"github.com/nulpointcorp/chat-gateway/pkg/apierr"
)

const defaultAgentMessage = "hello"

type agentRequest struct {
	ChatModel *models.ChatModel `json:"chatModel,omitempty"`
	// Message is nil when the client sent none; an explicit "" is kept.
	Message *string `json:"message,omitempty"`
}

// handleAgent serves POST /api/agent/ai: the model drafts an agent
// definition as a JSON object, streamed to the client as raw text. The
// finished object is checked against the agent schema once the stream has
// drained.
func (g *Gateway) handleAgent(ctx *fasthttp.RequestCtx) {
	x := g.begin(ctx, routeAgent)
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

	var req agentRequest
	if err := json.Unmarshal(ctx.PostBody(), &req); err != nil {
		fail("agent_generate_invalid_body", err)
		return
	}
	message := defaultAgentMessage
	if req.Message != nil {
		message = *req.Message
	}

	g.log.InfoContext(ctx, "agent_generate_request",
		slog.String("request_id", x.reqID),
		slog.String("model", selection(req.ChatModel)),
	)

	if _, ok := g.authenticate(ctx, x); !ok {
		return
	}
	if !g.allowRate(ctx, x) {
		return
	}

	var toolNames []string
	if g.tools != nil {
		toolNames = g.tools.Names(ctx, x.userID)
	} else {
		toolNames = agentgen.DefaultTools
	}
	system := prompts.BuildAgentGenerationPrompt(toolNames)

	candidates, err := g.candidates(ctx, req.ChatModel)
	if err != nil {
		fail("agent_generate_model_failed", err)
		return
	}

	streamCtx, cancel := g.streamContext()
	up, err := g.openStream(streamCtx, x.route, candidates, providers.ProxyRequest{
		Messages: []providers.Message{
			{Role: "system", Content: system},
			{Role: "user", Content: message},
		},
		JSONOutput: true,
		UserID:     x.userID,
		RequestID:  x.reqID,
	})
	if err != nil {
		cancel()
		fail("agent_generate_upstream_failed", err)
		return
	}

	x.model, x.attempts, x.fallback = up.model, up.attempts, up.fallback
	x.streaming = true
	g.writeAgentStream(ctx, x, up, toolNames, streamCtx, cancel)
}

// writeAgentStream passes the generated text through unchanged and
// validates the complete object afterwards.
func (g *Gateway) writeAgentStream(
	ctx *fasthttp.RequestCtx,
	x *exchange,
	up *upstream,
	toolNames []string,
	streamCtx context.Context,
	cancel context.CancelFunc,
) {
	ctx.SetStatusCode(fasthttp.StatusOK)
	ctx.SetContentType("text/plain; charset=utf-8")
	ctx.Response.Header.Set("Cache-Control", "no-cache")
	ctx.Response.Header.Set("X-Accel-Buffering", "no")

	x.finishUnlessWritten(streamCtx, up.chunks)
	ctx.SetBodyStreamWriter(func(w *bufio.Writer) {
		x.writing.Store(true)
		defer cancel()
		start := time.Now()

		var (
			buf       bytes.Buffer
			streamErr error
			writeErr  error
		)
		for c := range up.chunks {
			if c.Err != nil {
				streamErr = c.Err
				continue
			}
			if c.Content == "" {
				continue
			}
			buf.WriteString(c.Content)
			if writeErr != nil {
				continue
			}
			if _, writeErr = w.WriteString(c.Content); writeErr == nil {
				writeErr = w.Flush()
			}
			if writeErr != nil {
				// Client went away; stop the upstream and drain.
				cancel()
			}
		}
		if streamErr == nil && errors.Is(streamCtx.Err(), context.DeadlineExceeded) {
			streamErr = errStreamTimeout
		}

		outcome := "success"
		switch {
		case streamErr != nil:
			outcome = classifyError(streamErr)
			g.cb.RecordFailure(up.model.Provider)
			g.metrics.SetCircuitBreaker(up.model.Provider, int64(g.cb.State(up.model.Provider)))
			g.metrics.RecordError(up.model.Provider, outcome)
			g.log.ErrorContext(streamCtx, "agent_generate_stream_failed",
				slog.String("request_id", x.reqID),
				slog.String("provider", up.model.Provider),
				slog.String("model", up.model.Name),
				slog.Any("error", streamErr),
			)
		case writeErr != nil:
			outcome = "client_gone"
		default:
			g.checkAgent(streamCtx, x, buf.Bytes(), toolNames)
		}

		g.metrics.ObserveStream(up.model.Provider, x.route, outcome, time.Since(start))
		if streamErr == nil {
			streamErr = writeErr
		}
		x.finish(fasthttp.StatusOK, streamErr)
	})
}

func (g *Gateway) checkAgent(ctx context.Context, x *exchange, raw []byte, toolNames []string) {
	agent, err := agentgen.Validate(raw, toolNames)
	if err != nil {
		g.log.WarnContext(ctx, "agent_generate_invalid_object",
			slog.String("request_id", x.reqID),
			slog.String("provider", x.model.Provider),
			slog.String("model", x.model.Name),
			slog.Int("bytes", len(raw)),
			slog.Any("error", err),
		)
		return
	}
	g.log.InfoContext(ctx, "agent_generated",
		slog.String("request_id", x.reqID),
		slog.String("user_id", x.userID),
		slog.String("agent", agent.Name),
		slog.Int("tools", len(agent.Tools)),
	)
}
