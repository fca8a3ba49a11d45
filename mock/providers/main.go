// Command providers runs a single HTTP server that simulates every upstream
// API the chat gateway talks to. It is used for local E2E runs without real
// credentials.
//
// Point the gateway at it with:
//
//	OPENAI_BASE_URL=http://localhost:19001/v1
//	XAI_BASE_URL=http://localhost:19001/v1
//	GROQ_BASE_URL=http://localhost:19001/v1
//	OLLAMA_BASE_URL=http://localhost:19001/api
//	OPENROUTER_BASE_URL=http://localhost:19001/api/v1
//	ANTHROPIC_BASE_URL=http://localhost:19001
//	GOOGLE_BASE_URL=http://localhost:19001
//
// Behaviour flags (via env):
//
//	PORT              listen port (default 19001)
//	MOCK_LATENCY_MS   artificial latency added to every response (default 0)
//	MOCK_ERROR_RATE   fraction [0,1] of requests that return HTTP 500 (default 0)
//	MOCK_STREAM_WORDS words in streaming response (default 10)
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/fasthttp/router"
	"github.com/valyala/fasthttp"
)

// Config holds runtime configuration shared by every simulated API.
type Config struct {
	LatencyMS   int
	ErrorRate   float64
	StreamWords int
}

func loadConfig() Config {
	c := Config{StreamWords: 10}

	if v := os.Getenv("MOCK_LATENCY_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.LatencyMS = n
		}
	}
	if v := os.Getenv("MOCK_ERROR_RATE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f >= 0 && f <= 1 {
			c.ErrorRate = f
		}
	}
	if v := os.Getenv("MOCK_STREAM_WORDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.StreamWords = n
		}
	}
	return c
}

func newRouter(cfg Config) *router.Router {
	r := router.New()

	// OpenAI dialect: OpenAI, xAI, Groq, Ollama (/v1) and OpenRouter (/api/v1).
	oa := openAIAPI{cfg: cfg}
	r.POST("/v1/chat/completions", oa.chatCompletions)
	r.POST("/api/v1/chat/completions", oa.chatCompletions)
	r.GET("/v1/models", oa.models)
	r.GET("/api/v1/models", oa.openRouterCatalog)

	an := anthropicAPI{cfg: cfg}
	r.POST("/v1/messages", an.messages)

	gm := geminiAPI{cfg: cfg}
	r.POST("/v1beta/models/{action}", gm.generate)
	r.GET("/v1beta/models", gm.models)

	r.NotFound = func(ctx *fasthttp.RequestCtx) {
		writeError(ctx, fasthttp.StatusNotFound, fmt.Sprintf("mock: unknown path %s", ctx.Path()), "not_found")
	}
	return r
}

func main() {
	log := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	cfg := loadConfig()

	port := os.Getenv("PORT")
	if port == "" {
		port = "19001"
	}

	srv := &fasthttp.Server{
		Handler: newRouter(cfg).Handler,
		Name:    "mock-providers",
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Info("mock providers listening",
			slog.String("addr", ":"+port),
			slog.Int("latency_ms", cfg.LatencyMS),
			slog.Float64("error_rate", cfg.ErrorRate),
			slog.Int("stream_words", cfg.StreamWords),
		)
		if err := srv.ListenAndServe(":" + port); err != nil {
			log.Error("server error", slog.String("error", err.Error()))
			stop()
		}
	}()

	// Print readiness
	fmt.Println("READY")

	<-ctx.Done()
	log.Info("shutting down mock providers")
	_ = srv.Shutdown()
	log.Info("mock providers stopped")
}
