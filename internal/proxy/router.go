package proxy

import (
	"context"
	"encoding/json"
	"time"

	"github.com/fasthttp/router"
	"github.com/valyala/fasthttp"
)

// RouteHandler is a fasthttp handler function.
type RouteHandler = fasthttp.RequestHandler

// ManagementRoutes holds optional handlers registered next to the API.
type ManagementRoutes struct {
	Metrics RouteHandler
}

// Handler builds the full handler: API routes, health probes and the
// optional management routes, wrapped in the middleware chain.
func (g *Gateway) Handler(mgmt *ManagementRoutes) fasthttp.RequestHandler {
	r := router.New()

	r.GET("/api/chat/models", g.handleModels)
	r.POST("/api/chat/temporary", g.handleTemporary)
	r.POST("/api/agent/ai", g.handleAgent)
	r.GET("/health", g.handleHealth)
	r.GET("/readiness", g.handleReadiness)

	if mgmt != nil && mgmt.Metrics != nil {
		r.GET("/metrics", mgmt.Metrics)
	}

	return applyMiddleware(r.Handler,
		recovery,
		requestID,
		timing,
		corsHandler(g.corsOrigins),
		securityHeaders,
	)
}

// StartWithRoutes serves on addr (e.g. ":8080") until Shutdown is called.
func (g *Gateway) StartWithRoutes(addr string, mgmt *ManagementRoutes) error {
	srv := &fasthttp.Server{
		Handler:     g.Handler(mgmt),
		ReadTimeout: 60 * time.Second,
		// Streams are bounded by the provider timeout, not by a write
		// deadline.
		WriteTimeout:       g.providerTimeout + 10*time.Second,
		IdleTimeout:        2 * time.Minute,
		MaxRequestBodySize: 32 << 20,
		Name:               "chat-gateway",
	}

	g.srvMu.Lock()
	g.srv = srv
	g.srvMu.Unlock()

	return srv.ListenAndServe(addr)
}

// Shutdown stops accepting connections and waits for in-flight requests,
// including open streams, until ctx is done.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.srvMu.Lock()
	srv := g.srv
	g.srvMu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.ShutdownWithContext(ctx)
}

func (g *Gateway) handleHealth(ctx *fasthttp.RequestCtx) {
	if g.health == nil {
		writeJSON(ctx, map[string]any{"status": "ok"})
		return
	}
	writeJSON(ctx, g.health.Snapshot())
}

func (g *Gateway) handleReadiness(ctx *fasthttp.RequestCtx) {
	if g.health == nil || g.health.ReadinessOK() {
		writeJSON(ctx, map[string]string{"status": "ok"})
		return
	}
	ctx.SetStatusCode(fasthttp.StatusServiceUnavailable)
	writeJSON(ctx, map[string]string{"status": "unavailable"})
}

func writeJSON(ctx *fasthttp.RequestCtx, v any) {
	ctx.SetContentType("application/json")
	data, _ := json.Marshal(v)
	ctx.SetBody(data)
}
