package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/valyala/fasthttp"
)

// fakeWords is a pool of words used to build mock responses.
var fakeWords = []string{
	"The", "quick", "brown", "fox", "jumps", "over", "the", "lazy", "dog",
	"Hello", "world", "This", "is", "a", "mock", "reply", "from", "the",
	"simulated", "assistant", "streaming", "word", "by", "word", "for",
	"local", "development", "and", "testing",
}

// fakeSentence returns a fake response text of roughly n words.
func fakeSentence(n int) string {
	words := make([]string, n)
	for i := range words {
		words[i] = fakeWords[rand.IntN(len(fakeWords))]
	}
	return strings.Join(words, " ") + "."
}

// simulate applies the configured latency and reports whether this request
// should fail.
func simulate(cfg Config) (fail bool) {
	if cfg.LatencyMS > 0 {
		time.Sleep(time.Duration(cfg.LatencyMS) * time.Millisecond)
	}
	return cfg.ErrorRate > 0 && rand.Float64() < cfg.ErrorRate
}

func writeJSON(ctx *fasthttp.RequestCtx, status int, v any) {
	b, _ := json.Marshal(v)
	ctx.SetStatusCode(status)
	ctx.SetContentType("application/json")
	ctx.SetBody(b)
}

// writeError writes the OpenAI-style error envelope.
func writeError(ctx *fasthttp.RequestCtx, status int, msg, typ string) {
	writeJSON(ctx, status, map[string]any{
		"error": map[string]string{"message": msg, "type": typ, "code": typ},
	})
}

// streamSSE switches ctx to a flushed text/event-stream body produced by fn.
func streamSSE(ctx *fasthttp.RequestCtx, fn func(send func(event string, data any))) {
	ctx.SetStatusCode(fasthttp.StatusOK)
	ctx.SetContentType("text/event-stream")
	ctx.Response.Header.Set("Cache-Control", "no-cache")

	ctx.SetBodyStreamWriter(func(w *bufio.Writer) {
		send := func(event string, data any) {
			if event != "" {
				fmt.Fprintf(w, "event: %s\n", event)
			}
			if s, ok := data.(string); ok {
				fmt.Fprintf(w, "data: %s\n\n", s)
			} else {
				b, _ := json.Marshal(data)
				fmt.Fprintf(w, "data: %s\n\n", b)
			}
			_ = w.Flush()
		}
		fn(send)
	})
}
