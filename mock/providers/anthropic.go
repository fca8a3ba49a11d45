package main

import (
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"strings"

	"github.com/valyala/fasthttp"
)

// anthropicAPI simulates POST /v1/messages.
type anthropicAPI struct {
	cfg Config
}

func (a anthropicAPI) messages(ctx *fasthttp.RequestCtx) {
	if simulate(a.cfg) {
		writeAnthropicError(ctx, fasthttp.StatusInternalServerError, "mock internal error", "overloaded_error")
		return
	}

	var req struct {
		Model  string `json:"model"`
		Stream bool   `json:"stream"`
	}
	if err := json.Unmarshal(ctx.PostBody(), &req); err != nil {
		writeAnthropicError(ctx, fasthttp.StatusBadRequest, "invalid request body", "invalid_request_error")
		return
	}
	model := req.Model
	if model == "" {
		model = "claude-sonnet-4-5"
	}

	id := fmt.Sprintf("msg_%x", rand.Int64())
	content := fakeSentence(a.cfg.StreamWords)
	usage := map[string]int{"input_tokens": 15, "output_tokens": a.cfg.StreamWords}

	if !req.Stream {
		writeJSON(ctx, fasthttp.StatusOK, map[string]any{
			"id":            id,
			"type":          "message",
			"role":          "assistant",
			"model":         model,
			"stop_reason":   "end_turn",
			"stop_sequence": nil,
			"content":       []map[string]string{{"type": "text", "text": content}},
			"usage":         usage,
		})
		return
	}

	streamSSE(ctx, func(send func(string, any)) {
		send("message_start", map[string]any{
			"type": "message_start",
			"message": map[string]any{
				"id": id, "type": "message", "role": "assistant", "model": model,
				"content": []any{}, "stop_reason": nil,
				"usage": map[string]int{"input_tokens": 15, "output_tokens": 1},
			},
		})
		send("content_block_start", map[string]any{
			"type":          "content_block_start",
			"index":         0,
			"content_block": map[string]string{"type": "text", "text": ""},
		})
		for _, word := range strings.Fields(content) {
			send("content_block_delta", map[string]any{
				"type":  "content_block_delta",
				"index": 0,
				"delta": map[string]string{"type": "text_delta", "text": word + " "},
			})
		}
		send("content_block_stop", map[string]any{"type": "content_block_stop", "index": 0})
		send("message_delta", map[string]any{
			"type":  "message_delta",
			"delta": map[string]any{"stop_reason": "end_turn", "stop_sequence": nil},
			"usage": map[string]int{"output_tokens": a.cfg.StreamWords},
		})
		send("message_stop", map[string]string{"type": "message_stop"})
	})
}

func writeAnthropicError(ctx *fasthttp.RequestCtx, status int, msg, typ string) {
	writeJSON(ctx, status, map[string]any{
		"type":  "error",
		"error": map[string]string{"type": typ, "message": msg},
	})
}
