package app

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/nulpointcorp/chat-gateway/internal/agentgen"
	"github.com/nulpointcorp/chat-gateway/internal/auth"
	npCache "github.com/nulpointcorp/chat-gateway/internal/cache"
	"github.com/nulpointcorp/chat-gateway/internal/logger"
	"github.com/nulpointcorp/chat-gateway/internal/metrics"
	"github.com/nulpointcorp/chat-gateway/internal/models"
	"github.com/nulpointcorp/chat-gateway/internal/models/openrouter"
	"github.com/nulpointcorp/chat-gateway/internal/proxy"
	"github.com/nulpointcorp/chat-gateway/internal/ratelimit"
	"github.com/nulpointcorp/chat-gateway/internal/store"
)

const (
	sessionCleanupSchedule = "@every 1h"
	jobTimeout             = time.Minute
)

// initInfra establishes optional external connections.
// Redis is required when CACHE_MODE=redis and used by the rate limiter
// whenever REDIS_URL is set. ClickHouse is used only when CLICKHOUSE_DSN
// is set.
func (a *App) initInfra(ctx context.Context) error {
	needRedis := a.cfg.Cache.Mode == "redis" || (a.cfg.RateLimit.RPMLimit > 0 && a.cfg.Redis.URL != "")
	if needRedis {
		a.log.Info("connecting to redis", slog.String("url", redactURL(a.cfg.Redis.URL)))

		rdb, err := connectRedis(ctx, a.cfg.Redis.URL)
		if err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		a.rdb = rdb
		a.log.Info("redis connected")
	}

	if a.cfg.ClickHouseDSN != "" {
		a.log.Info("connecting to clickhouse", slog.String("dsn", redactURL(a.cfg.ClickHouseDSN)))

		sink, err := logger.NewClickHouseSink(ctx, a.cfg.ClickHouseDSN)
		if err != nil {
			return fmt.Errorf("clickhouse: %w", err)
		}
		a.chSink = sink
		a.log.Info("clickhouse connected")
	}

	return nil
}

// initStore opens the SQLite store and drops sessions that expired while
// the gateway was down.
func (a *App) initStore(ctx context.Context) error {
	st, err := store.Open(ctx, a.cfg.DatabasePath)
	if err != nil {
		return err
	}
	a.store = st

	if n, err := st.DeleteExpiredSessions(ctx); err != nil {
		a.log.Warn("expired_sessions_cleanup_failed", slog.String("error", err.Error()))
	} else if n > 0 {
		a.log.Info("expired_sessions_deleted", slog.Int64("count", n))
	}

	a.log.Info("store opened", slog.String("path", a.cfg.DatabasePath))
	return nil
}

// initServices creates the shared cache, the Prometheus registry, the model
// registry with its OpenRouter catalog, and the background jobs.
func (a *App) initServices(ctx context.Context) error {
	switch a.cfg.Cache.Mode {
	case "redis":
		// RedisCache wraps the already-connected Redis client.
		a.shared = npCache.NewRedisCache(a.rdb)
		a.log.Info("cache backend: redis")

	case "memory":
		// In-process only, not shared across replicas.
		a.memCache = npCache.NewMemoryCache(ctx)
		a.shared = a.memCache
		a.log.Info("cache backend: memory (in-process)")

	case "none":
		a.log.Info("cache backend: disabled")

	default:
		return fmt.Errorf("unknown cache mode: %s", a.cfg.Cache.Mode)
	}

	a.prom = metrics.New()
	a.prom.SetBuildInfo(a.version)

	catalogOpts := []openrouter.Option{
		openrouter.WithBaseURL(a.cfg.OpenRouter.BaseURL),
		openrouter.WithTTL(a.cfg.OpenRouter.CacheTTL),
		openrouter.WithLogger(a.log),
		openrouter.WithMetrics(a.prom),
	}
	if a.shared != nil {
		catalogOpts = append(catalogOpts, openrouter.WithCache(a.shared))
	}
	a.catalog = openrouter.New(catalogOpts...)

	a.registry = models.NewRegistry(models.Config{
		Keys:           a.cfg.ProviderKeys(),
		CompatibleData: a.cfg.OpenAICompatible,
		OpenRouter:     a.openRouterOptions(),
		Catalog:        a.catalog,
		Logger:         a.log,
		Metrics:        a.prom,
	})

	return a.initJobs()
}

func (a *App) openRouterOptions() openrouter.Options {
	return openrouter.Options{
		FreeOnly:  a.cfg.OpenRouter.FreeOnly,
		TextOnly:  a.cfg.OpenRouter.TextOnly,
		MaxModels: a.cfg.OpenRouter.MaxModels,
	}
}

// initJobs schedules the OpenRouter catalog warm-up and the expired session
// cleanup. The scheduler starts in Run.
func (a *App) initJobs() error {
	a.cron = cron.New(cron.WithChain(
		cron.Recover(cron.DefaultLogger),
		cron.SkipIfStillRunning(cron.DefaultLogger),
	))

	if a.cfg.OpenRouter.RefreshSchedule != "" && a.cfg.OpenRouter.HasKey() {
		if _, err := a.cron.AddFunc(a.cfg.OpenRouter.RefreshSchedule, a.refreshCatalog); err != nil {
			return fmt.Errorf("openrouter refresh schedule %q: %w", a.cfg.OpenRouter.RefreshSchedule, err)
		}
		a.log.Info("openrouter catalog refresh scheduled",
			slog.String("schedule", a.cfg.OpenRouter.RefreshSchedule))
	}

	if _, err := a.cron.AddFunc(sessionCleanupSchedule, a.cleanupSessions); err != nil {
		return fmt.Errorf("session cleanup schedule: %w", err)
	}

	return nil
}

func (a *App) refreshCatalog() {
	ctx, cancel := context.WithTimeout(a.baseCtx, jobTimeout)
	defer cancel()

	res, err := a.catalog.Refresh(ctx, a.openRouterOptions())
	if err != nil {
		// The catalog logs the failure and keeps its previous snapshot.
		return
	}
	// Push the fresh snapshot into the registry's model cache.
	a.registry.ModelsInfo(ctx)
	a.log.Info("openrouter_catalog_refreshed", slog.Int("models", len(res.Models)))
}

func (a *App) cleanupSessions() {
	ctx, cancel := context.WithTimeout(a.baseCtx, jobTimeout)
	defer cancel()

	n, err := a.store.DeleteExpiredSessions(ctx)
	if err != nil {
		a.log.Warn("expired_sessions_cleanup_failed", slog.String("error", err.Error()))
		return
	}
	if n > 0 {
		a.log.Info("expired_sessions_deleted", slog.Int64("count", n))
	}
}

// initProviders builds the provider map. Ollama needs no key, so the map
// is never empty; a gateway without keyed providers still serves Ollama.
func (a *App) initProviders(ctx context.Context) error {
	a.provs = buildProviders(ctx, a.cfg, a.registry.Compatible(), a.log)

	names := make([]string, 0, len(a.provs))
	for n := range a.provs {
		names = append(names, n)
	}
	slices.Sort(names)
	a.log.Info("providers loaded", slog.Any("providers", names))

	return nil
}

// initGateway wires together the Gateway with all configured subsystems.
func (a *App) initGateway(_ context.Context) error {
	var cacheReady func() bool
	switch a.cfg.Cache.Mode {
	case "redis":
		cacheReady = redisPinger(a.baseCtx, a.rdb)
	case "memory":
		cacheReady = func() bool { return true }
	}

	opts := proxy.GatewayOptions{
		Logger:           a.log,
		Metrics:          a.prom,
		MaxRetries:       a.cfg.Failover.MaxRetries,
		ProviderTimeout:  a.cfg.Failover.ProviderTimeout,
		ShowAllProviders: a.cfg.ShowAllProviders,
		SmoothingDelay:   a.cfg.StreamSmoothingDelay,
		CBConfig: proxy.CBConfig{
			ErrorThreshold:  a.cfg.CircuitBreaker.ErrorThreshold,
			TimeWindow:      a.cfg.CircuitBreaker.TimeWindow,
			HalfOpenTimeout: a.cfg.CircuitBreaker.HalfOpenTimeout,
		},
		CacheReady: cacheReady,
		DBReady:    a.store.Ping,
	}

	gw := proxy.NewGateway(a.baseCtx, proxy.Dependencies{
		Providers:   a.provs,
		Registry:    a.registry,
		Auth:        auth.New(a.store),
		Preferences: a.store,
		Tools:       agentgen.NewToolSet(a.cfg.AgentExtraTools, a.store, a.log),
	}, opts)

	// ── Optional subsystems ──────────────────────────────────────────────────

	// Rate limiting needs Redis.
	if a.rdb != nil && a.cfg.RateLimit.RPMLimit > 0 {
		gw.SetRateLimiter(ratelimit.NewRPMLimiter(a.rdb, a.cfg.RateLimit.RPMLimit))
		a.log.Info("rate limiting enabled", slog.Int("rpm_limit", a.cfg.RateLimit.RPMLimit))
	} else if a.cfg.RateLimit.RPMLimit > 0 {
		a.log.Warn("rate limiting disabled: RPM_LIMIT needs REDIS_URL")
	}

	// Async request logger. Entries always reach slog; ClickHouse is an
	// extra sink when configured.
	var sinks []logger.Sink
	if a.chSink != nil {
		sinks = append(sinks, a.chSink)
	}
	reqLogger, err := logger.New(a.baseCtx, a.log, sinks...)
	if err != nil {
		gw.Close()
		return fmt.Errorf("request logger: %w", err)
	}
	a.reqLogger = reqLogger
	gw.SetLogger(reqLogger)

	// CORS.
	gw.SetCORSOrigins(a.cfg.CORSOrigins)

	// ── Management routes ────────────────────────────────────────────────────
	a.mgmt = &proxy.ManagementRoutes{
		Metrics: a.prom.Handler(),
	}

	a.gw = gw

	return nil
}

// redactURL replaces the userinfo portion of a URL with "***" for safe logging.
// e.g. "redis://:secret@localhost:6379" → "redis://***@localhost:6379"
func redactURL(raw string) string {
	for i, c := range raw {
		if c == '@' {
			// Find the scheme end ("://") and keep only scheme + "***" + @host.
			for j := i - 1; j >= 0; j-- {
				if j+2 < len(raw) && raw[j:j+3] == "://" {
					return raw[:j+3] + "***" + raw[i:]
				}
			}
			return "***" + raw[i:]
		}
	}
	return raw
}
