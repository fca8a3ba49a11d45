// Package metrics provides the Prometheus registry for the chat gateway.
//
// All metrics live in a private registry (not the global default) so they
// don't clash with host-level metrics when embedded elsewhere. Every method
// is safe to call on a nil *Registry, which turns it into a no-op.
package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"
)

var durationBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 20, 30, 60, 120}

// Registry holds all exported metrics.
type Registry struct {
	reg *prometheus.Registry

	// chatgw_inflight_requests
	inFlight prometheus.Gauge

	// chatgw_http_requests_total{route,status}
	httpRequestsTotal *prometheus.CounterVec

	// chatgw_http_request_duration_seconds{route}
	httpDuration *prometheus.HistogramVec

	// chatgw_http_request_size_bytes{route}
	httpReqSize *prometheus.HistogramVec

	// chatgw_upstream_attempts_total{provider,route,outcome}
	upstreamAttempts *prometheus.CounterVec

	// chatgw_upstream_first_chunk_seconds{provider,route}
	firstChunk *prometheus.HistogramVec

	// chatgw_upstream_stream_duration_seconds{provider,route,outcome}
	streamDuration *prometheus.HistogramVec

	// chatgw_provider_errors_total{provider,error_type}
	providerErrors *prometheus.CounterVec

	// chatgw_circuit_breaker_state{provider}: 0=closed, 1=open, 2=half-open
	circuitBreakerState *prometheus.GaugeVec

	// chatgw_circuit_breaker_transitions_total{provider,to_state}
	cbTransitions *prometheus.CounterVec

	// chatgw_circuit_breaker_rejections_total{provider,state}
	cbRejections *prometheus.CounterVec

	// chatgw_fallback_switches_total{from,to,reason}
	fallbackSwitches *prometheus.CounterVec

	// chatgw_fallback_exhausted_total{route}
	fallbackExhausted *prometheus.CounterVec

	// chatgw_ratelimit_total{result}
	rateLimitTotal *prometheus.CounterVec

	// chatgw_catalog_loads_total{source,result}
	catalogLoads *prometheus.CounterVec

	// chatgw_catalog_models{provider}
	catalogModels *prometheus.GaugeVec

	// chatgw_provider_health{provider}
	providerHealth *prometheus.GaugeVec

	// chatgw_build_info{version}
	buildInfo *prometheus.GaugeVec

	cbMu        sync.Mutex
	lastCBState map[string]int64

	metricsHandler fasthttp.RequestHandler
}

func New() *Registry {
	reg := prometheus.NewRegistry()

	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	r := &Registry{
		reg:         reg,
		lastCBState: make(map[string]int64),

		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "chatgw_inflight_requests",
			Help: "Current number of in-flight HTTP requests",
		}),

		httpRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chatgw_http_requests_total",
			Help: "HTTP requests handled, by route and status",
		}, []string{"route", "status"}),

		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "chatgw_http_request_duration_seconds",
			Help:    "Time until the handler returned (streams continue afterwards)",
			Buckets: durationBuckets,
		}, []string{"route"}),

		httpReqSize: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "chatgw_http_request_size_bytes",
			Help:    "HTTP request body size in bytes",
			Buckets: prometheus.ExponentialBuckets(256, 4, 10), // 256B .. ~64MB
		}, []string{"route"}),

		upstreamAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chatgw_upstream_attempts_total",
			Help: "Upstream model attempts, including fallbacks",
		}, []string{"provider", "route", "outcome"}),

		firstChunk: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "chatgw_upstream_first_chunk_seconds",
			Help:    "Time from upstream request to the first streamed chunk",
			Buckets: durationBuckets,
		}, []string{"provider", "route"}),

		streamDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "chatgw_upstream_stream_duration_seconds",
			Help:    "Full upstream stream duration",
			Buckets: durationBuckets,
		}, []string{"provider", "route", "outcome"}),

		providerErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chatgw_provider_errors_total",
			Help: "Upstream errors by classification",
		}, []string{"provider", "error_type"}),

		circuitBreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "chatgw_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed,1=open,2=half-open)",
		}, []string{"provider"}),

		cbTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chatgw_circuit_breaker_transitions_total",
			Help: "Circuit breaker transitions to a new state",
		}, []string{"provider", "to_state"}),

		cbRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chatgw_circuit_breaker_rejections_total",
			Help: "Attempts skipped because the breaker was open",
		}, []string{"provider", "state"}),

		fallbackSwitches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chatgw_fallback_switches_total",
			Help: "Switches from one fallback model to the next",
		}, []string{"from", "to", "reason"}),

		fallbackExhausted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chatgw_fallback_exhausted_total",
			Help: "Requests where every fallback model failed",
		}, []string{"route"}),

		rateLimitTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chatgw_ratelimit_total",
			Help: "Rate limit decisions",
		}, []string{"result"}),

		catalogLoads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chatgw_catalog_loads_total",
			Help: "OpenRouter catalog loads by source and result",
		}, []string{"source", "result"}),

		catalogModels: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "chatgw_catalog_models",
			Help: "Models currently offered per provider",
		}, []string{"provider"}),

		providerHealth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "chatgw_provider_health",
			Help: "Provider health status (1=ok, 0=degraded)",
		}, []string{"provider"}),

		buildInfo: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "chatgw_build_info",
			Help: "Build information",
		}, []string{"version"}),
	}

	reg.MustRegister(
		r.inFlight,
		r.httpRequestsTotal,
		r.httpDuration,
		r.httpReqSize,
		r.upstreamAttempts,
		r.firstChunk,
		r.streamDuration,
		r.providerErrors,
		r.circuitBreakerState,
		r.cbTransitions,
		r.cbRejections,
		r.fallbackSwitches,
		r.fallbackExhausted,
		r.rateLimitTotal,
		r.catalogLoads,
		r.catalogModels,
		r.providerHealth,
		r.buildInfo,
	)

	r.metricsHandler = fasthttpadaptor.NewFastHTTPHandler(promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	return r
}

func (r *Registry) IncInFlight() {
	if r != nil {
		r.inFlight.Inc()
	}
}

func (r *Registry) DecInFlight() {
	if r != nil {
		r.inFlight.Dec()
	}
}

// ObserveHTTP records per-route HTTP metrics.
func (r *Registry) ObserveHTTP(route string, statusCode int, dur time.Duration, reqBytes int) {
	if r == nil {
		return
	}
	r.httpRequestsTotal.WithLabelValues(route, strconv.Itoa(statusCode)).Inc()
	r.httpDuration.WithLabelValues(route).Observe(dur.Seconds())
	if reqBytes >= 0 {
		r.httpReqSize.WithLabelValues(route).Observe(float64(reqBytes))
	}
}

// ObserveUpstreamAttempt counts one attempt against an upstream model.
func (r *Registry) ObserveUpstreamAttempt(provider, route, outcome string) {
	if r != nil {
		r.upstreamAttempts.WithLabelValues(provider, route, outcome).Inc()
	}
}

func (r *Registry) ObserveFirstChunk(provider, route string, dur time.Duration) {
	if r != nil {
		r.firstChunk.WithLabelValues(provider, route).Observe(dur.Seconds())
	}
}

func (r *Registry) ObserveStream(provider, route, outcome string, dur time.Duration) {
	if r != nil {
		r.streamDuration.WithLabelValues(provider, route, outcome).Observe(dur.Seconds())
	}
}

func (r *Registry) RecordError(provider, errType string) {
	if r != nil {
		r.providerErrors.WithLabelValues(provider, errType).Inc()
	}
}

func (r *Registry) RecordFallbackSwitch(from, to, reason string) {
	if r != nil {
		r.fallbackSwitches.WithLabelValues(from, to, reason).Inc()
	}
}

func (r *Registry) RecordFallbackExhausted(route string) {
	if r != nil {
		r.fallbackExhausted.WithLabelValues(route).Inc()
	}
}

func (r *Registry) RecordRateLimit(result string) {
	if r != nil {
		r.rateLimitTotal.WithLabelValues(result).Inc()
	}
}

// RecordCatalogLoad counts a catalog load. source is "snapshot", "cache"
// or "upstream"; result is "ok" or "error".
func (r *Registry) RecordCatalogLoad(source, result string) {
	if r != nil {
		r.catalogLoads.WithLabelValues(source, result).Inc()
	}
}

func (r *Registry) SetCatalogModels(provider string, n int) {
	if r != nil {
		r.catalogModels.WithLabelValues(provider).Set(float64(n))
	}
}

func (r *Registry) SetProviderHealth(provider string, ok bool) {
	if r == nil {
		return
	}
	v := 0.0
	if ok {
		v = 1
	}
	r.providerHealth.WithLabelValues(provider).Set(v)
}

func (r *Registry) SetBuildInfo(version string) {
	if r != nil {
		r.buildInfo.WithLabelValues(version).Set(1)
	}
}

// SetCircuitBreaker sets the breaker state gauge and counts a transition
// when the state changed.
func (r *Registry) SetCircuitBreaker(provider string, state int64) {
	if r == nil {
		return
	}
	r.circuitBreakerState.WithLabelValues(provider).Set(float64(state))

	r.cbMu.Lock()
	prev, ok := r.lastCBState[provider]
	if !ok || prev != state {
		r.lastCBState[provider] = state
		r.cbTransitions.WithLabelValues(provider, strconv.FormatInt(state, 10)).Inc()
	}
	r.cbMu.Unlock()
}

func (r *Registry) RecordCircuitBreakerRejection(provider, state string) {
	if r != nil {
		r.cbRejections.WithLabelValues(provider, state).Inc()
	}
}

func (r *Registry) Handler() fasthttp.RequestHandler {
	return r.metricsHandler
}

func (r *Registry) PromRegistry() *prometheus.Registry { return r.reg }
