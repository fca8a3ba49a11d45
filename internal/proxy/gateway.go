// Package proxy is the HTTP surface of the chat gateway.
//
// The Gateway authenticates the caller, resolves the requested chat model
// through the model registry (or walks the fallback list when none is
// selected) and streams the upstream reply back to the client, either as a
// UI message stream or as raw text.
//
// Key design constraints:
//   - Logger, request log, metrics and rate limiter are optional and nil-safe.
//   - Upstream streams run on a context derived from the server context, not
//     the request, because fasthttp finishes body streaming after the handler
//     returns.
//   - Errors raised before the first byte is streamed become plain-text 500s;
//     errors raised mid-stream are reported inside the stream.
package proxy

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/valyala/fasthttp"

	"github.com/nulpointcorp/chat-gateway/internal/agentgen"
	"github.com/nulpointcorp/chat-gateway/internal/auth"
	"github.com/nulpointcorp/chat-gateway/internal/logger"
	"github.com/nulpointcorp/chat-gateway/internal/metrics"
	"github.com/nulpointcorp/chat-gateway/internal/models"
	"github.com/nulpointcorp/chat-gateway/internal/providers"
	"github.com/nulpointcorp/chat-gateway/internal/ratelimit"
	"github.com/nulpointcorp/chat-gateway/internal/store"
	"github.com/nulpointcorp/chat-gateway/pkg/apierr"
)

// Route labels used in metrics and request logs.
const (
	routeModels    = "chat_models"
	routeTemporary = "chat_temporary"
	routeAgent     = "agent_generate"
)

// PreferenceStore loads a user's saved preferences. A user without
// preferences yields nil, nil.
type PreferenceStore interface {
	UserPreferences(ctx context.Context, userID string) (*store.UserPreferences, error)
}

// Dependencies are the collaborators a Gateway cannot run without.
type Dependencies struct {
	// Providers maps provider names ("openai", "openRouter", user-defined
	// names, ...) to their transports.
	Providers   map[string]providers.Provider
	Registry    *models.Registry
	Auth        *auth.Authenticator
	Preferences PreferenceStore
	Tools       *agentgen.ToolSet
}

// GatewayOptions holds optional tuning parameters. Every field has a
// usable zero value.
type GatewayOptions struct {
	// Logger is used for request events and failover diagnostics.
	// Defaults to slog.Default().
	Logger *slog.Logger

	// Metrics enables Prometheus collection when non-nil.
	Metrics *metrics.Registry

	// MaxRetries caps upstream attempts when walking the fallback list.
	// Default: providers.MaxRetries (3).
	MaxRetries int

	// ProviderTimeout bounds one upstream stream from request to last
	// chunk. Default: providers.ProviderTimeout.
	ProviderTimeout time.Duration

	CBConfig CBConfig

	// ShowAllProviders lists providers without API keys in the models route.
	ShowAllProviders bool

	// SmoothingDelay is the pause between word chunks in UI message
	// streams. Zero streams words as fast as they arrive.
	SmoothingDelay time.Duration

	// CacheReady and DBReady feed the health checker. Nil means "not
	// configured" and reports ok.
	CacheReady func() bool
	DBReady    func(ctx context.Context) error
}

// Gateway serves the chat API. All dependencies are injected so tests can
// replace them with doubles.
type Gateway struct {
	providers map[string]providers.Provider
	registry  *models.Registry
	auth      *auth.Authenticator
	prefs     PreferenceStore
	tools     *agentgen.ToolSet

	cb      *CircuitBreaker
	health  *HealthChecker
	baseCtx context.Context
	log     *slog.Logger
	metrics *metrics.Registry

	maxRetries       int
	providerTimeout  time.Duration
	smoothingDelay   time.Duration
	showAllProviders bool

	// Optional, nil-safe.
	rpmLimiter *ratelimit.RPMLimiter
	reqLogger  *logger.Logger

	corsOrigins []string

	srvMu sync.Mutex
	srv   *fasthttp.Server
}

// NewGateway creates a Gateway and starts its background health checker.
// Call Close to stop it.
func NewGateway(baseCtx context.Context, deps Dependencies, opts GatewayOptions) *Gateway {
	if baseCtx == nil {
		panic("gateway: context must not be nil")
	}

	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}

	maxRetries := opts.MaxRetries
	if maxRetries < 1 {
		maxRetries = providers.MaxRetries
	}

	providerTimeout := opts.ProviderTimeout
	if providerTimeout <= 0 {
		providerTimeout = providers.ProviderTimeout
	}

	provs := deps.Providers
	if provs == nil {
		provs = map[string]providers.Provider{}
	}

	gw := &Gateway{
		providers:        provs,
		registry:         deps.Registry,
		auth:             deps.Auth,
		prefs:            deps.Preferences,
		tools:            deps.Tools,
		cb:               NewCircuitBreakerWithConfig(opts.CBConfig),
		baseCtx:          baseCtx,
		log:              log,
		metrics:          opts.Metrics,
		maxRetries:       maxRetries,
		providerTimeout:  providerTimeout,
		smoothingDelay:   opts.SmoothingDelay,
		showAllProviders: opts.ShowAllProviders,
		corsOrigins:      []string{"*"},
	}

	for name := range provs {
		gw.metrics.SetCircuitBreaker(name, int64(cbClosed))
	}

	gw.health = NewHealthChecker(baseCtx, HealthProbes{
		Providers:  provs,
		CacheReady: opts.CacheReady,
		DBReady:    opts.DBReady,
	}, gw.metrics)

	return gw
}

// SetCORSOrigins configures the allowed CORS origins.
func (g *Gateway) SetCORSOrigins(origins []string) {
	g.corsOrigins = origins
}

// SetRateLimiter injects the per-user RPM limiter.
func (g *Gateway) SetRateLimiter(rpm *ratelimit.RPMLimiter) {
	g.rpmLimiter = rpm
}

// SetLogger injects the async request logger.
func (g *Gateway) SetLogger(l *logger.Logger) {
	g.reqLogger = l
}

// Close stops background work.
func (g *Gateway) Close() {
	if g.health != nil {
		g.health.Close()
	}
}

// exchange tracks one API request from arrival until its response, or its
// stream, is complete.
type exchange struct {
	g        *Gateway
	route    string
	start    time.Time
	reqID    string
	reqBytes int

	userID    string
	model     models.Model
	attempts  int
	fallback  bool
	streaming bool

	// writing is set once the body stream writer has started.
	writing atomic.Bool
	once    sync.Once
}

func (g *Gateway) begin(ctx *fasthttp.RequestCtx, route string) *exchange {
	g.metrics.IncInFlight()
	reqID, _ := ctx.UserValue("request_id").(string)
	return &exchange{
		g:        g,
		route:    route,
		start:    time.Now(),
		reqID:    reqID,
		reqBytes: len(ctx.PostBody()),
	}
}

// errStreamAbandoned is logged when the body stream writer never ran,
// typically because the client disconnected before the response started.
var errStreamAbandoned = errors.New("response stream never started")

// finishUnlessWritten finishes x once ctx ends if the body stream writer has
// not started by then, draining chunks so the upstream can exit.
func (x *exchange) finishUnlessWritten(ctx context.Context, chunks <-chan providers.StreamChunk) {
	context.AfterFunc(ctx, func() {
		if x.writing.Load() {
			return
		}
		for range chunks {
		}
		x.finish(fasthttp.StatusOK, errStreamAbandoned)
	})
}

// finish records metrics and the request log for status. err is the failure
// to log, if any. Only the first call has an effect.
func (x *exchange) finish(status int, err error) {
	x.once.Do(func() { x.record(status, err) })
}

func (x *exchange) record(status int, err error) {
	dur := time.Since(x.start)
	x.g.metrics.DecInFlight()
	x.g.metrics.ObserveHTTP(x.route, status, dur, x.reqBytes)

	if x.g.reqLogger == nil {
		return
	}

	latencyMs := uint32(dur.Milliseconds())
	if dur.Milliseconds() > int64(^uint32(0)) {
		latencyMs = ^uint32(0)
	}
	attempts := uint8(x.attempts)
	if x.attempts > 255 {
		attempts = 255
	}

	entry := logger.RequestLog{
		ID:        uuid.New(),
		RequestID: x.reqID,
		UserID:    x.userID,
		Route:     x.route,
		Provider:  x.model.Provider,
		Model:     x.model.Name,
		Attempts:  attempts,
		Fallback:  x.fallback,
		LatencyMs: latencyMs,
		Status:    uint16(status),
		CreatedAt: time.Now(),
	}
	if err != nil {
		entry.Error = err.Error()
	}
	x.g.reqLogger.Log(entry)
}

// authenticate resolves the caller's session, answering 401 or 500 itself
// when there is none.
func (g *Gateway) authenticate(ctx *fasthttp.RequestCtx, x *exchange) (*auth.Session, bool) {
	sess, err := g.auth.Session(ctx)
	if err == nil {
		x.userID = sess.User.ID
		return sess, true
	}
	if errors.Is(err, auth.ErrUnauthenticated) {
		apierr.WriteUnauthorized(ctx)
		return nil, false
	}
	g.log.ErrorContext(ctx, "session_lookup_failed",
		slog.String("request_id", x.reqID),
		slog.Any("error", err),
	)
	apierr.WriteError(ctx, err)
	return nil, false
}

// allowRate applies the per-user RPM limit, answering 429 itself when the
// user is over budget.
func (g *Gateway) allowRate(ctx *fasthttp.RequestCtx, x *exchange) bool {
	if g.rpmLimiter == nil {
		return true
	}
	d := g.rpmLimiter.Allow(ctx, x.userID)
	if d.Allowed {
		g.metrics.RecordRateLimit("allowed")
		return true
	}
	g.metrics.RecordRateLimit("blocked")
	g.log.WarnContext(ctx, "rate_limit_exceeded",
		slog.String("request_id", x.reqID),
		slog.String("user_id", x.userID),
		slog.String("route", x.route),
	)
	apierr.WriteRateLimit(ctx)
	return false
}

// candidates returns the models to try: the selected model alone, or the
// fallback list when sel is nil.
func (g *Gateway) candidates(ctx context.Context, sel *models.ChatModel) ([]models.Model, error) {
	if sel != nil {
		m, err := g.registry.GetModelAsync(ctx, sel)
		if err != nil {
			return nil, err
		}
		return []models.Model{m}, nil
	}

	c := g.registry.FallbackCandidates()
	if len(c) == 0 {
		c = []models.Model{g.registry.Fallback()}
	}
	if len(c) > g.maxRetries {
		c = c[:g.maxRetries]
	}
	return c, nil
}

// streamContext derives the context an upstream stream runs on.
func (g *Gateway) streamContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(g.baseCtx, g.providerTimeout)
}

func selection(sel *models.ChatModel) string {
	if sel == nil {
		return "default"
	}
	return sel.Provider + "/" + sel.Model
}
