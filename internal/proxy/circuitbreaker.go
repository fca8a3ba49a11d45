package proxy

import (
	"sync"
	"time"

	"github.com/nulpointcorp/chat-gateway/internal/providers"
)

// cbState is the state of one provider's breaker.
//
//	cbClosed   requests pass through.
//	cbOpen     the provider is failing; requests are rejected.
//	cbHalfOpen one probe request is allowed through.
type cbState int

const (
	cbClosed   cbState = 0
	cbOpen     cbState = 1
	cbHalfOpen cbState = 2
)

func (s cbState) String() string {
	switch s {
	case cbOpen:
		return "open"
	case cbHalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}

// CBConfig holds circuit breaker tuning. Zero values fall back to the
// defaults in the providers package.
type CBConfig struct {
	// ErrorThreshold is the number of failures within TimeWindow that trips
	// the breaker.
	ErrorThreshold int

	// TimeWindow is the rolling window for counting errors.
	TimeWindow time.Duration

	// HalfOpenTimeout is how long the breaker stays open before a probe is
	// let through.
	HalfOpenTimeout time.Duration
}

func (c *CBConfig) errorThreshold() int {
	if c.ErrorThreshold > 0 {
		return c.ErrorThreshold
	}
	return providers.CBErrorThreshold
}

func (c *CBConfig) timeWindow() time.Duration {
	if c.TimeWindow > 0 {
		return c.TimeWindow
	}
	return providers.CBTimeWindow
}

func (c *CBConfig) halfOpenTimeout() time.Duration {
	if c.HalfOpenTimeout > 0 {
		return c.HalfOpenTimeout
	}
	return providers.CBHalfOpenTimeout
}

type providerCB struct {
	mu sync.Mutex

	state         cbState
	errorCount    int
	windowStart   time.Time
	openedAt      time.Time
	probeInflight bool
}

// CircuitBreaker keeps an independent breaker per upstream provider. User
// defined providers are not known up front, so breakers are created on
// first use. Safe for concurrent use.
type CircuitBreaker struct {
	mu       sync.RWMutex
	breakers map[string]*providerCB
	cfg      CBConfig
	now      func() time.Time
}

func NewCircuitBreaker() *CircuitBreaker {
	return NewCircuitBreakerWithConfig(CBConfig{})
}

func NewCircuitBreakerWithConfig(cfg CBConfig) *CircuitBreaker {
	return &CircuitBreaker{
		breakers: make(map[string]*providerCB),
		cfg:      cfg,
		now:      time.Now,
	}
}

// Allow reports whether provider may receive the next request.
//
//   - Closed: always.
//   - Open: only once the half-open timeout has elapsed; the breaker moves
//     to HalfOpen and this caller becomes the probe.
//   - HalfOpen: only when no probe is in flight.
func (cb *CircuitBreaker) Allow(provider string) bool {
	pcb := cb.get(provider)

	pcb.mu.Lock()
	defer pcb.mu.Unlock()

	switch pcb.state {
	case cbOpen:
		if cb.now().Sub(pcb.openedAt) >= cb.cfg.halfOpenTimeout() {
			pcb.state = cbHalfOpen
			pcb.probeInflight = true
			return true
		}
		return false

	case cbHalfOpen:
		if pcb.probeInflight {
			return false
		}
		pcb.probeInflight = true
		return true
	}

	return true
}

// RecordSuccess closes the breaker for provider.
func (cb *CircuitBreaker) RecordSuccess(provider string) {
	pcb := cb.get(provider)

	pcb.mu.Lock()
	defer pcb.mu.Unlock()

	pcb.state = cbClosed
	pcb.errorCount = 0
	pcb.probeInflight = false
	pcb.windowStart = cb.now()
}

// RecordFailure counts a failure. Reaching ErrorThreshold within TimeWindow,
// or failing a half-open probe, opens the breaker.
func (cb *CircuitBreaker) RecordFailure(provider string) {
	pcb := cb.get(provider)

	pcb.mu.Lock()
	defer pcb.mu.Unlock()

	now := cb.now()

	if pcb.state == cbHalfOpen {
		pcb.state = cbOpen
		pcb.openedAt = now
		pcb.probeInflight = false
		return
	}

	if now.Sub(pcb.windowStart) > cb.cfg.timeWindow() {
		pcb.errorCount = 0
		pcb.windowStart = now
	}

	pcb.errorCount++
	pcb.probeInflight = false

	if pcb.errorCount >= cb.cfg.errorThreshold() {
		pcb.state = cbOpen
		pcb.openedAt = now
	}
}

// Release gives up a half-open probe slot without recording an outcome,
// e.g. when the client went away before the provider answered.
func (cb *CircuitBreaker) Release(provider string) {
	pcb := cb.get(provider)

	pcb.mu.Lock()
	pcb.probeInflight = false
	pcb.mu.Unlock()
}

func (cb *CircuitBreaker) State(provider string) cbState {
	cb.mu.RLock()
	pcb := cb.breakers[provider]
	cb.mu.RUnlock()
	if pcb == nil {
		return cbClosed
	}

	pcb.mu.Lock()
	defer pcb.mu.Unlock()
	return pcb.state
}

// StateLabel returns "closed", "open" or "half_open".
func (cb *CircuitBreaker) StateLabel(provider string) string {
	return cb.State(provider).String()
}

func (cb *CircuitBreaker) get(provider string) *providerCB {
	cb.mu.RLock()
	pcb := cb.breakers[provider]
	cb.mu.RUnlock()
	if pcb != nil {
		return pcb
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()
	if pcb = cb.breakers[provider]; pcb == nil {
		pcb = &providerCB{state: cbClosed, windowStart: cb.now()}
		cb.breakers[provider] = pcb
	}
	return pcb
}
