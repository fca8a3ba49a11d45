package main

import (
	"fmt"
	"strings"

	"github.com/valyala/fasthttp"
)

// geminiAPI simulates the Gemini API under /v1beta. Actions arrive as
// "{model}:generateContent" or "{model}:streamGenerateContent".
type geminiAPI struct {
	cfg Config
}

func (a geminiAPI) generate(ctx *fasthttp.RequestCtx) {
	action, _ := ctx.UserValue("action").(string)
	model, verb, ok := strings.Cut(action, ":")
	if !ok || (verb != "generateContent" && verb != "streamGenerateContent") {
		writeGeminiError(ctx, fasthttp.StatusNotFound, fmt.Sprintf("mock: unknown action %s", action))
		return
	}
	if simulate(a.cfg) {
		writeGeminiError(ctx, fasthttp.StatusInternalServerError, "mock internal error")
		return
	}

	content := fakeSentence(a.cfg.StreamWords)
	candidate := func(text, finish string) map[string]any {
		c := map[string]any{
			"content": map[string]any{
				"role":  "model",
				"parts": []map[string]string{{"text": text}},
			},
			"index": 0,
		}
		if finish != "" {
			c["finishReason"] = finish
		}
		return map[string]any{
			"candidates":   []map[string]any{c},
			"modelVersion": model,
		}
	}

	if verb == "generateContent" {
		resp := candidate(content, "STOP")
		resp["usageMetadata"] = map[string]int{
			"promptTokenCount":     12,
			"candidatesTokenCount": a.cfg.StreamWords,
			"totalTokenCount":      12 + a.cfg.StreamWords,
		}
		writeJSON(ctx, fasthttp.StatusOK, resp)
		return
	}

	words := strings.Fields(content)
	streamSSE(ctx, func(send func(string, any)) {
		for i, word := range words {
			finish := ""
			if i == len(words)-1 {
				finish = "STOP"
			}
			send("", candidate(word+" ", finish))
		}
	})
}

func (a geminiAPI) models(ctx *fasthttp.RequestCtx) {
	writeJSON(ctx, fasthttp.StatusOK, map[string]any{
		"models": []map[string]any{
			{"name": "models/gemini-2.5-flash", "displayName": "Gemini 2.5 Flash"},
			{"name": "models/gemini-2.5-pro", "displayName": "Gemini 2.5 Pro"},
		},
	})
}

func writeGeminiError(ctx *fasthttp.RequestCtx, status int, msg string) {
	writeJSON(ctx, status, map[string]any{
		"error": map[string]any{"code": status, "message": msg, "status": "INTERNAL"},
	})
}
