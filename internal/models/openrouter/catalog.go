// Package openrouter loads the public OpenRouter model catalog and turns it
// into chat model entries.
//
// A loaded catalog is kept as an in-process snapshot for the configured TTL
// and, when a shared cache is configured, under a single key so that every
// replica serves the same upstream fetch.
package openrouter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/singleflight"

	"github.com/nulpointcorp/chat-gateway/internal/cache"
	"github.com/nulpointcorp/chat-gateway/internal/metrics"
)

const (
	DefaultBaseURL = "https://openrouter.ai/api/v1"
	DefaultTTL     = time.Hour

	// CacheKey is the shared-cache key holding the raw catalog.
	CacheKey = "openrouter:models"

	defaultAttempts       = 3
	defaultInitialBackoff = 500 * time.Millisecond
	maxBodyBytes          = 32 << 20
)

// Options filters the catalog.
type Options struct {
	// FreeOnly keeps models whose ID carries ":free" or whose prompt and
	// completion prices are both "0".
	FreeOnly bool
	// TextOnly keeps models whose modality mentions text.
	TextOnly bool
	// MaxModels truncates the filtered list. 0 means unlimited.
	MaxModels int
}

// Entry is one chat model offered through OpenRouter.
type Entry struct {
	// Name is the ID without its vendor segment, e.g. "gpt-4o" for
	// "openai/gpt-4o".
	Name string
	// ID is the full OpenRouter model ID sent upstream.
	ID                  string
	ToolCallUnsupported bool
}

// Result is a filtered catalog.
type Result struct {
	Models []Entry
	// Unsupported holds the names of models without tool-call support.
	Unsupported map[string]struct{}
}

// apiModel mirrors one element of GET /models.
type apiModel struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Pricing struct {
		Prompt     string `json:"prompt"`
		Completion string `json:"completion"`
	} `json:"pricing"`
	Architecture struct {
		Modality string `json:"modality"`
	} `json:"architecture"`
	SupportedParameters []string `json:"supported_parameters"`
}

type modelsResponse struct {
	Data []apiModel `json:"data"`
}

// HTTPError is returned for non-2xx catalog responses.
type HTTPError struct {
	StatusCode int
}

func (e *HTTPError) Error() string { return fmt.Sprintf("HTTP %d", e.StatusCode) }

// HTTPStatus implements providers.StatusCoder.
func (e *HTTPError) HTTPStatus() int { return e.StatusCode }

// Catalog fetches and caches the OpenRouter model list.
type Catalog struct {
	baseURL        string
	httpClient     *http.Client
	shared         cache.Cache
	ttl            time.Duration
	attempts       int
	initialBackoff time.Duration
	now            func() time.Time
	log            *slog.Logger
	metrics        *metrics.Registry

	group singleflight.Group

	mu        sync.RWMutex
	snapshot  []apiModel
	fetchedAt time.Time
}

// Option configures a Catalog.
type Option func(*Catalog)

// WithBaseURL overrides the API base URL (useful for testing).
func WithBaseURL(u string) Option {
	return func(c *Catalog) {
		if u != "" {
			c.baseURL = strings.TrimRight(u, "/")
		}
	}
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Catalog) { c.httpClient = hc }
}

// WithCache shares loaded catalogs through c.
func WithCache(shared cache.Cache) Option {
	return func(c *Catalog) { c.shared = shared }
}

func WithTTL(ttl time.Duration) Option {
	return func(c *Catalog) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithRetry sets the number of fetch attempts and the first backoff delay.
func WithRetry(attempts int, initial time.Duration) Option {
	return func(c *Catalog) {
		if attempts > 0 {
			c.attempts = attempts
		}
		c.initialBackoff = initial
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Catalog) { c.log = l }
}

func WithMetrics(m *metrics.Registry) Option {
	return func(c *Catalog) { c.metrics = m }
}

func withClock(now func() time.Time) Option {
	return func(c *Catalog) { c.now = now }
}

func New(opts ...Option) *Catalog {
	c := &Catalog{
		baseURL:        DefaultBaseURL,
		httpClient:     &http.Client{Timeout: 30 * time.Second},
		ttl:            DefaultTTL,
		attempts:       defaultAttempts,
		initialBackoff: defaultInitialBackoff,
		now:            time.Now,
		log:            slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	c.log = c.log.With("component", "openrouter_catalog")
	return c
}

// Load returns the filtered catalog. A fresh snapshot is served without
// I/O. On failure the result is empty, the error is returned and the
// snapshot is left untouched.
func (c *Catalog) Load(ctx context.Context, opts Options) (*Result, error) {
	if items, ok := c.fresh(); ok {
		c.metrics.RecordCatalogLoad("snapshot", "ok")
		return build(items, opts), nil
	}

	v, err, _ := c.group.Do(CacheKey, func() (any, error) {
		return c.fetchShared(ctx)
	})
	if err != nil {
		c.log.ErrorContext(ctx, "openrouter_models_load_failed", slog.Any("error", err))
		return &Result{Unsupported: map[string]struct{}{}}, fmt.Errorf("openrouter: load models: %w", err)
	}

	return build(v.([]apiModel), opts), nil
}

// Refresh drops the in-process snapshot and loads the catalog again.
func (c *Catalog) Refresh(ctx context.Context, opts Options) (*Result, error) {
	c.mu.Lock()
	c.fetchedAt = time.Time{}
	c.mu.Unlock()
	return c.Load(ctx, opts)
}

func (c *Catalog) fresh() ([]apiModel, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.fetchedAt.IsZero() || c.now().Sub(c.fetchedAt) >= c.ttl {
		return nil, false
	}
	return c.snapshot, true
}

func (c *Catalog) store(items []apiModel) {
	c.mu.Lock()
	c.snapshot = items
	c.fetchedAt = c.now()
	c.mu.Unlock()
}

// fetchShared serves the catalog from the shared cache when another replica
// already fetched it, and from upstream otherwise.
func (c *Catalog) fetchShared(ctx context.Context) ([]apiModel, error) {
	var cached []apiModel
	if cache.GetJSON(ctx, c.shared, CacheKey, &cached) {
		c.metrics.RecordCatalogLoad("cache", "ok")
		c.store(cached)
		return cached, nil
	}

	items, err := c.fetchWithRetry(ctx)
	if err != nil {
		c.metrics.RecordCatalogLoad("upstream", "error")
		return nil, err
	}
	c.metrics.RecordCatalogLoad("upstream", "ok")

	if err := cache.SetJSON(ctx, c.shared, CacheKey, items, c.ttl); err != nil {
		c.log.WarnContext(ctx, "openrouter_models_cache_write_failed", slog.Any("error", err))
	}
	c.store(items)
	return items, nil
}

func (c *Catalog) fetchWithRetry(ctx context.Context) ([]apiModel, error) {
	var items []apiModel
	attempt := 0

	op := func() error {
		attempt++
		var err error
		items, err = c.fetch(ctx)
		if err == nil {
			return nil
		}
		var he *HTTPError
		if errors.As(err, &he) && he.StatusCode < 500 {
			return backoff.Permanent(err)
		}
		if ctx.Err() != nil {
			return backoff.Permanent(err)
		}
		c.log.WarnContext(ctx, "openrouter_models_fetch_retry",
			slog.Int("attempt", attempt),
			slog.Any("error", err),
		)
		return err
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.initialBackoff
	bo.Multiplier = 2
	bo.MaxElapsedTime = 0

	err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(bo, uint64(c.attempts-1)), ctx))
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (c *Catalog) fetch(ctx context.Context) ([]apiModel, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/models", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, &HTTPError{StatusCode: resp.StatusCode}
	}

	var body modelsResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes)).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode models: %w", err)
	}
	return body.Data, nil
}

// build applies the filters in order (free, text, max) and names the
// models.
func build(items []apiModel, opts Options) *Result {
	filtered := make([]apiModel, 0, len(items))
	for _, m := range items {
		if opts.FreeOnly && !isFree(m) {
			continue
		}
		if opts.TextOnly && !strings.Contains(m.Architecture.Modality, "text") {
			continue
		}
		filtered = append(filtered, m)
	}
	if opts.MaxModels > 0 && len(filtered) > opts.MaxModels {
		filtered = filtered[:opts.MaxModels]
	}

	res := &Result{
		Models:      make([]Entry, 0, len(filtered)),
		Unsupported: make(map[string]struct{}),
	}
	index := make(map[string]int, len(filtered))

	for _, m := range filtered {
		e := Entry{
			Name:                ModelName(m.ID),
			ID:                  m.ID,
			ToolCallUnsupported: !supportsTools(m.SupportedParameters),
		}
		// A later ID with the same short name replaces the earlier one.
		if i, dup := index[e.Name]; dup {
			res.Models[i] = e
		} else {
			index[e.Name] = len(res.Models)
			res.Models = append(res.Models, e)
		}
		if e.ToolCallUnsupported {
			res.Unsupported[e.Name] = struct{}{}
		} else {
			delete(res.Unsupported, e.Name)
		}
	}
	return res
}

// ModelName strips the vendor segment from an OpenRouter ID. IDs without a
// "/" are returned unchanged.
func ModelName(id string) string {
	_, rest, ok := strings.Cut(id, "/")
	if !ok || rest == "" {
		return id
	}
	return rest
}

func isFree(m apiModel) bool {
	return strings.Contains(m.ID, ":free") ||
		(m.Pricing.Prompt == "0" && m.Pricing.Completion == "0")
}

func supportsTools(params []string) bool {
	for _, p := range params {
		if p == "tools" || p == "tool_choice" {
			return true
		}
	}
	return false
}
