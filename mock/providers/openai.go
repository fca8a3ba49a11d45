package main

import (
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/valyala/fasthttp"
)

// openAIAPI simulates the OpenAI chat completions dialect shared by OpenAI,
// xAI, Groq, Ollama and OpenRouter, plus the OpenRouter model catalog.
type openAIAPI struct {
	cfg Config
}

func (a openAIAPI) chatCompletions(ctx *fasthttp.RequestCtx) {
	if simulate(a.cfg) {
		writeError(ctx, fasthttp.StatusInternalServerError, "mock internal server error", "server_error")
		return
	}

	var req struct {
		Model  string `json:"model"`
		Stream bool   `json:"stream"`
	}
	if err := json.Unmarshal(ctx.PostBody(), &req); err != nil {
		writeError(ctx, fasthttp.StatusBadRequest, "invalid request body", "invalid_request")
		return
	}
	model := req.Model
	if model == "" {
		model = "gpt-4.1-mini"
	}

	id := fmt.Sprintf("chatcmpl-mock%x", rand.Int64())
	content := fakeSentence(a.cfg.StreamWords)

	if !req.Stream {
		writeJSON(ctx, fasthttp.StatusOK, map[string]any{
			"id":      id,
			"object":  "chat.completion",
			"created": time.Now().Unix(),
			"model":   model,
			"choices": []map[string]any{{
				"index":         0,
				"message":       map[string]string{"role": "assistant", "content": content},
				"finish_reason": "stop",
			}},
			"usage": map[string]int{
				"prompt_tokens":     10,
				"completion_tokens": a.cfg.StreamWords,
				"total_tokens":      10 + a.cfg.StreamWords,
			},
		})
		return
	}

	chunk := func(delta map[string]string, finish any) map[string]any {
		return map[string]any{
			"id":      id,
			"object":  "chat.completion.chunk",
			"created": time.Now().Unix(),
			"model":   model,
			"choices": []map[string]any{{"index": 0, "delta": delta, "finish_reason": finish}},
		}
	}
	streamSSE(ctx, func(send func(string, any)) {
		for _, word := range strings.Fields(content) {
			send("", chunk(map[string]string{"content": word + " "}, nil))
		}
		send("", chunk(map[string]string{}, "stop"))
		send("", "[DONE]")
	})
}

// models answers both the OpenAI and the Anthropic list shape, which is
// what the providers' health checks call.
func (a openAIAPI) models(ctx *fasthttp.RequestCtx) {
	ids := []string{"gpt-4.1", "gpt-4.1-mini", "claude-sonnet-4-5", "grok-4", "llama-3.3-70b-versatile"}
	data := make([]map[string]any, 0, len(ids))
	for _, id := range ids {
		data = append(data, map[string]any{
			"id":           id,
			"object":       "model",
			"type":         "model",
			"display_name": id,
			"created":      1750000000,
			"created_at":   "2025-06-15T00:00:00Z",
			"owned_by":     "mock",
		})
	}
	writeJSON(ctx, fasthttp.StatusOK, map[string]any{
		"object":   "list",
		"data":     data,
		"has_more": false,
		"first_id": ids[0],
		"last_id":  ids[len(ids)-1],
	})
}

// openRouterCatalog mimics GET https://openrouter.ai/api/v1/models with a
// mix of free, paid, text and image models.
func (a openAIAPI) openRouterCatalog(ctx *fasthttp.RequestCtx) {
	if simulate(a.cfg) {
		writeError(ctx, fasthttp.StatusInternalServerError, "mock internal server error", "server_error")
		return
	}

	model := func(id, name, prompt, modality string, tools bool) map[string]any {
		params := []string{"temperature", "max_tokens"}
		if tools {
			params = append(params, "tools", "tool_choice")
		}
		return map[string]any{
			"id":                   id,
			"name":                 name,
			"pricing":              map[string]string{"prompt": prompt, "completion": prompt},
			"architecture":         map[string]string{"modality": modality},
			"supported_parameters": params,
		}
	}
	writeJSON(ctx, fasthttp.StatusOK, map[string]any{
		"data": []map[string]any{
			model("meta-llama/llama-3.3-70b-instruct:free", "Meta: Llama 3.3 70B Instruct (free)", "0", "text->text", true),
			model("qwen/qwen3-coder:free", "Qwen: Qwen3 Coder (free)", "0", "text->text", true),
			model("openai/gpt-4.1", "OpenAI: GPT-4.1", "0.000002", "text+image->text", true),
			model("black-forest-labs/flux-1", "FLUX.1", "0.00001", "text->image", false),
		},
	})
}
