// Package app wires up all subsystems and owns the application lifecycle.
//
// Startup order:
//  1. initInfra: external connections (Redis, ClickHouse) when configured
//  2. initStore: SQLite store with users, sessions and workflows
//  3. initServices: shared cache, metrics, model registry and catalog jobs
//  4. initProviders: upstream chat provider clients
//  5. initGateway: proxy + management routes
package app

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	npCache "github.com/nulpointcorp/chat-gateway/internal/cache"
	"github.com/nulpointcorp/chat-gateway/internal/config"
	"github.com/nulpointcorp/chat-gateway/internal/logger"
	"github.com/nulpointcorp/chat-gateway/internal/metrics"
	"github.com/nulpointcorp/chat-gateway/internal/models"
	"github.com/nulpointcorp/chat-gateway/internal/models/openrouter"
	"github.com/nulpointcorp/chat-gateway/internal/providers"
	"github.com/nulpointcorp/chat-gateway/internal/proxy"
	"github.com/nulpointcorp/chat-gateway/internal/store"
)

const shutdownTimeout = 30 * time.Second

// App owns all long-lived resources and exposes Run / Close.
type App struct {
	version string
	cfg     *config.Config
	baseCtx context.Context
	log     *slog.Logger

	// Optional external connections, nil when not configured.
	rdb    *redis.Client
	chSink *logger.ClickHouseSink

	store     *store.Store
	reqLogger *logger.Logger
	memCache  *npCache.MemoryCache
	shared    npCache.Cache

	prom     *metrics.Registry
	catalog  *openrouter.Catalog
	registry *models.Registry
	cron     *cron.Cron

	provs map[string]providers.Provider
	mgmt  *proxy.ManagementRoutes
	gw    *proxy.Gateway

	closeOnce sync.Once
}

// New initialises all subsystems and returns a ready-to-run App.
// All resources allocated here are released by Close.
func New(ctx context.Context, cfg *config.Config, log *slog.Logger, version string) (*App, error) {
	if ctx == nil {
		return nil, fmt.Errorf("app: context must not be nil")
	}

	a := &App{cfg: cfg, version: version, baseCtx: ctx, log: log}

	steps := []struct {
		name string
		fn   func(context.Context) error
	}{
		{"infra", a.initInfra},
		{"store", a.initStore},
		{"services", a.initServices},
		{"providers", a.initProviders},
		{"gateway", a.initGateway},
	}

	for _, s := range steps {
		if err := s.fn(ctx); err != nil {
			a.Close()
			return nil, fmt.Errorf("app: init %s: %w", s.name, err)
		}
	}

	return a, nil
}

// Run starts the HTTP server and the background jobs and blocks until ctx
// is cancelled or the server fails. In-flight streams get shutdownTimeout
// to finish before the app is closed.
func (a *App) Run(ctx context.Context) error {
	addr := fmt.Sprintf(":%d", a.cfg.Port)

	a.log.Info("starting chat gateway",
		slog.String("version", a.version),
		slog.String("addr", addr),
		slog.String("cache_mode", a.cfg.Cache.Mode),
		slog.String("database", a.cfg.DatabasePath),
		slog.Int("providers", len(a.provs)),
	)

	a.cron.Start()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.gw.StartWithRoutes(addr, a.mgmt)
	})

	g.Go(func() error {
		<-gctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := a.gw.Shutdown(shutdownCtx); err != nil {
			a.log.Error("server shutdown error", slog.String("error", err.Error()))
		}

		a.Close()
		return nil
	})

	return g.Wait()
}

// Close releases all resources in reverse-init order. Safe to call multiple
// times and from multiple goroutines.
func (a *App) Close() {
	a.closeOnce.Do(a.close)
}

func (a *App) close() {
	if a.cron != nil {
		<-a.cron.Stop().Done()
	}
	if a.gw != nil {
		a.gw.Close()
	}
	if a.reqLogger != nil {
		// Closing the logger also closes its sinks (ClickHouse).
		if err := a.reqLogger.Close(); err != nil {
			a.log.Error("logger close error", slog.String("error", err.Error()))
		}
	} else if a.chSink != nil {
		if err := a.chSink.Close(); err != nil {
			a.log.Error("clickhouse close error", slog.String("error", err.Error()))
		}
	}
	if a.memCache != nil {
		a.memCache.Close()
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Error("store close error", slog.String("error", err.Error()))
		}
	}
	if a.rdb != nil {
		if err := a.rdb.Close(); err != nil {
			a.log.Error("redis close error", slog.String("error", err.Error()))
		}
	}
}

// ── Private helpers ──────────────────────────────────────────────────────────

// connectRedis parses the URL and verifies connectivity with a PING.
// Callers decide whether to fail or degrade.
func connectRedis(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}

	rdb := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	return rdb, nil
}

// redisPinger returns a zero-argument probe function suitable for the
// HealthChecker. Reuses the existing client.
func redisPinger(ctx context.Context, rdb *redis.Client) func() bool {
	return func() bool {
		pingCtx, cancel := context.WithTimeout(ctx, time.Second)
		defer cancel()
		return rdb.Ping(pingCtx).Err() == nil
	}
}
