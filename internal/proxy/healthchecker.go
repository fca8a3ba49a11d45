package proxy

import (
	"context"
	"sync"
	"time"

	"github.com/nulpointcorp/chat-gateway/internal/metrics"
	"github.com/nulpointcorp/chat-gateway/internal/providers"
)

const (
	healthProbeInterval = 30 * time.Second
	healthProbeTimeout  = 5 * time.Second
)

// componentStatus holds the last known health of one component.
type componentStatus struct {
	mu     sync.RWMutex
	status string // "ok" | "degraded" | "down"
}

func (s *componentStatus) set(v string) {
	s.mu.Lock()
	s.status = v
	s.mu.Unlock()
}

func (s *componentStatus) get() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.status == "" {
		return "unknown"
	}
	return s.status
}

// HealthProbes lists what the health checker watches. Nil probes count as
// healthy.
type HealthProbes struct {
	Providers  map[string]providers.Provider
	CacheReady func() bool
	DBReady    func(ctx context.Context) error
}

// HealthChecker probes upstream providers, the shared cache and the
// database in the background and serves the latest results.
type HealthChecker struct {
	probes  HealthProbes
	baseCtx context.Context
	metrics *metrics.Registry

	providerStatuses map[string]*componentStatus
	cacheStatus      componentStatus
	dbStatus         componentStatus

	startTime time.Time
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewHealthChecker runs a first probe synchronously and then keeps probing
// every 30 seconds until Close.
func NewHealthChecker(ctx context.Context, probes HealthProbes, met *metrics.Registry) *HealthChecker {
	if ctx == nil {
		panic("healthchecker: context must not be nil")
	}
	hc := &HealthChecker{
		probes:           probes,
		baseCtx:          ctx,
		metrics:          met,
		providerStatuses: make(map[string]*componentStatus, len(probes.Providers)),
		startTime:        time.Now(),
		done:             make(chan struct{}),
	}
	for name := range probes.Providers {
		hc.providerStatuses[name] = &componentStatus{status: "unknown"}
	}

	hc.probe()

	hc.wg.Add(1)
	go hc.run()

	return hc
}

// HealthSnapshot is the body of GET /health.
type HealthSnapshot struct {
	Status        string            `json:"status"`
	UptimeSeconds int64             `json:"uptime_seconds"`
	Providers     map[string]string `json:"providers"`
	Cache         string            `json:"cache"`
	Database      string            `json:"database"`
}

// Snapshot reports the latest probe results. Any unhealthy component makes
// the overall status "degraded".
func (hc *HealthChecker) Snapshot() HealthSnapshot {
	overall := "ok"

	provs := make(map[string]string, len(hc.providerStatuses))
	for name, s := range hc.providerStatuses {
		st := s.get()
		provs[name] = st
		if st != "ok" {
			overall = "degraded"
		}
	}

	cache := hc.cacheStatus.get()
	db := hc.dbStatus.get()
	if cache != "ok" || db != "ok" {
		overall = "degraded"
	}

	return HealthSnapshot{
		Status:        overall,
		UptimeSeconds: int64(time.Since(hc.startTime).Seconds()),
		Providers:     provs,
		Cache:         cache,
		Database:      db,
	}
}

// ReadinessOK reports whether the database is reachable. Upstream providers
// do not gate readiness; the fallback list covers single outages.
func (hc *HealthChecker) ReadinessOK() bool {
	return hc.dbStatus.get() == "ok"
}

// Close stops the background probes. It is safe to call more than once.
func (hc *HealthChecker) Close() {
	hc.closeOnce.Do(func() { close(hc.done) })
	hc.wg.Wait()
}

func (hc *HealthChecker) run() {
	defer hc.wg.Done()
	ticker := time.NewTicker(healthProbeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			hc.probe()
		case <-hc.done:
			return
		case <-hc.baseCtx.Done():
			return
		}
	}
}

func (hc *HealthChecker) probe() {
	ctx, cancel := context.WithTimeout(hc.baseCtx, healthProbeTimeout)
	defer cancel()

	var wg sync.WaitGroup
	for name, prov := range hc.probes.Providers {
		s := hc.providerStatuses[name]
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok := prov.HealthCheck(ctx) == nil
			if ok {
				s.set("ok")
			} else {
				s.set("degraded")
			}
			hc.metrics.SetProviderHealth(name, ok)
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		if hc.probes.CacheReady == nil || hc.probes.CacheReady() {
			hc.cacheStatus.set("ok")
		} else {
			hc.cacheStatus.set("degraded")
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if hc.probes.DBReady == nil || hc.probes.DBReady(ctx) == nil {
			hc.dbStatus.set("ok")
		} else {
			hc.dbStatus.set("down")
		}
	}()

	wg.Wait()
}
