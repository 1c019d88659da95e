package analytics

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"dexgrid/internal/domain"
	"dexgrid/internal/observability"
)

const (
	// DefaultMaxWait bounds how long Run polls a single execution before
	// surfacing a query-timeout error.
	DefaultMaxWait = 4 * time.Minute

	// DefaultCacheTTL is how long a completed QueryResult is reused for an
	// identical (queryID, params) pair inside one refresh cycle.
	DefaultCacheTTL = 5 * time.Minute

	// DefaultMaxRetries bounds retries of a single transient failure
	// (connection reset, 5xx, rate limit) before it surfaces.
	DefaultMaxRetries = 3

	pollMinDelay = 2 * time.Second
	pollJitter   = 2 * time.Second
)

// Option configures an AnalyticsClient.
type Option func(*AnalyticsClient)

// WithCacheTTL overrides DefaultCacheTTL.
func WithCacheTTL(d time.Duration) Option {
	return func(c *AnalyticsClient) { c.cacheTTL = d }
}

// WithMaxWait overrides DefaultMaxWait.
func WithMaxWait(d time.Duration) Option {
	return func(c *AnalyticsClient) { c.maxWait = d }
}

// WithMaxRetries overrides DefaultMaxRetries for transient failures.
func WithMaxRetries(n int) Option {
	return func(c *AnalyticsClient) { c.maxRetries = n }
}

// WithRateLimit bounds how often Run may submit a new execution. This sits in
// front of the backend's own quota enforcement so a fleet of refreshers never
// hammers it even before a 402 would.
func WithRateLimit(r rate.Limit, burst int) Option {
	return func(c *AnalyticsClient) { c.limiter = rate.NewLimiter(r, burst) }
}

// WithLogger overrides the default logger.
func WithLogger(l *log.Logger) Option {
	return func(c *AnalyticsClient) { c.logger = l }
}

type cacheEntry struct {
	result    QueryResult
	expiresAt time.Time
}

// AnalyticsClient is a typed wrapper over Backend implementing the execution
// state machine, retry/backoff, normalisation, and response caching behind
// a single polling loop.
type AnalyticsClient struct {
	backend    Backend
	limiter    *rate.Limiter
	cacheTTL   time.Duration
	maxWait    time.Duration
	maxRetries int
	logger     *log.Logger

	mu    sync.Mutex
	cache map[string]cacheEntry
}

// NewAnalyticsClient wraps backend with the client contract.
func NewAnalyticsClient(backend Backend, opts ...Option) *AnalyticsClient {
	c := &AnalyticsClient{
		backend:    backend,
		limiter:    rate.NewLimiter(rate.Every(time.Second), 1),
		cacheTTL:   DefaultCacheTTL,
		maxWait:    DefaultMaxWait,
		maxRetries: DefaultMaxRetries,
		logger:     log.New(log.Writer(), "[analytics] ", log.LstdFlags),
		cache:      make(map[string]cacheEntry),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run executes queryID with params, polling until a terminal state, and
// returns the normalised rows. Identical (queryID, params) pairs observed
// within cacheTTL are served from the in-process cache without a new
// execution.
func (c *AnalyticsClient) Run(ctx context.Context, queryID string, params map[string]any) (QueryResult, error) {
	return c.run(ctx, queryID, params)
}

// RunNamedBackfill is Run under a distinguishing name for historical-window
// queries; the protocol is identical, only the log line differs.
func (c *AnalyticsClient) RunNamedBackfill(ctx context.Context, queryID string, params map[string]any) (QueryResult, error) {
	c.logger.Printf("backfill run query=%s", queryID)
	return c.run(ctx, queryID, params)
}

func (c *AnalyticsClient) run(ctx context.Context, queryID string, params map[string]any) (QueryResult, error) {
	key := cacheKeyFor(queryID, params)

	if cached, ok := c.cacheGet(key); ok {
		return cached, nil
	}

	start := time.Now()

	if err := c.limiter.Wait(ctx); err != nil {
		return QueryResult{}, fmt.Errorf("rate limiter wait: %w", err)
	}

	executionID, err := retryTransient(ctx, c.maxRetries, queryID, func() (string, error) {
		return c.backend.Execute(ctx, queryID, params)
	})
	if err != nil {
		ae := c.classify(err, "")
		observability.RecordAnalyticsCall(queryID, time.Since(start).Seconds(), errClassOf(ae))
		return QueryResult{}, ae
	}

	result, err := c.poll(ctx, queryID, executionID)
	if err != nil {
		observability.RecordAnalyticsCall(queryID, time.Since(start).Seconds(), errClassOf(err))
		return QueryResult{}, err
	}

	observability.RecordAnalyticsCall(queryID, time.Since(start).Seconds(), "")
	c.cachePut(key, result)
	return result, nil
}

// errClassOf extracts the domain.AnalyticsErrorKind label for metrics, or ""
// for a nil/unrecognised error.
func errClassOf(err error) string {
	var ae *domain.AnalyticsError
	if errors.As(err, &ae) {
		return string(ae.Kind)
	}
	return ""
}

// poll implements the idle→submitted→polling→{completed,failed,timed-out}
// state machine.
func (c *AnalyticsClient) poll(ctx context.Context, queryID, executionID string) (QueryResult, error) {
	deadline := time.Now().Add(c.maxWait)

	for {
		if time.Now().After(deadline) {
			return QueryResult{}, &domain.AnalyticsError{
				Kind:        domain.AnalyticsTimeout,
				Message:     "query timed out waiting for completion",
				ExecutionID: executionID,
			}
		}

		state, err := retryTransient(ctx, c.maxRetries, queryID, func() (ExecutionState, error) {
			return c.backend.Status(ctx, executionID)
		})
		if err != nil {
			return QueryResult{}, c.classify(err, executionID)
		}

		switch state {
		case StateCompleted:
			rows, meta, err := c.backend.Results(ctx, executionID)
			if err != nil {
				return QueryResult{}, c.classify(err, executionID)
			}
			return QueryResult{Rows: normalizeRows(rows), Meta: meta}, nil

		case StateFailed:
			return QueryResult{}, &domain.AnalyticsError{
				Kind:        domain.AnalyticsQueryFail,
				Message:     "backend reported execution failure",
				ExecutionID: executionID,
			}

		case StatePending, StateExecuting:
			remaining := time.Until(deadline)
			if err := sleepJittered(ctx, remaining); err != nil {
				return QueryResult{}, err
			}

		default:
			return QueryResult{}, &domain.AnalyticsError{
				Kind:        domain.AnalyticsQueryFail,
				Message:     fmt.Sprintf("unrecognised execution state %q", state),
				ExecutionID: executionID,
			}
		}
	}
}

func sleepJittered(ctx context.Context, limit time.Duration) error {
	delay := pollMinDelay + time.Duration(rand.Int63n(int64(pollJitter)))
	if limit > 0 && delay > limit {
		delay = limit
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(delay):
		return nil
	}
}

// retryTransient retries fn up to maxRetries times with exponential backoff,
// but only when the failure classifies as transient; any other
// classification (or success) returns immediately.
func retryTransient[T any](ctx context.Context, maxRetries int, queryID string, fn func() (T, error)) (T, error) {
	var zero T
	delay := time.Second

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			observability.RecordAnalyticsRetry(queryID)
			select {
			case <-ctx.Done():
				return zero, ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
		}

		v, err := fn()
		if err == nil {
			return v, nil
		}
		lastErr = err

		if !isTransient(err) {
			return zero, err
		}
	}
	return zero, lastErr
}

func isTransient(err error) bool {
	var be *BackendError
	if errors.As(err, &be) {
		return be.StatusCode == 429 || be.StatusCode >= 500
	}
	// Network-level errors (timeouts, resets) that aren't a BackendError are
	// treated as transient — the backend never got to classify them.
	return true
}

// classify turns a raw Backend error into the domain.AnalyticsError taxonomy.
func (c *AnalyticsClient) classify(err error, executionID string) error {
	var be *BackendError
	if errors.As(err, &be) {
		ae := &domain.AnalyticsError{
			Message:     be.Message,
			Line:        be.Line,
			Column:      be.Column,
			ExecutionID: executionID,
		}
		switch {
		case be.StatusCode == 401:
			ae.Kind = domain.AnalyticsAuth
		case be.StatusCode == 402:
			ae.Kind = domain.AnalyticsQuota
		case be.StatusCode == 429 || be.StatusCode >= 500:
			ae.Kind = domain.AnalyticsTransient
		default:
			ae.Kind = domain.AnalyticsQueryFail
		}
		return ae
	}

	return &domain.AnalyticsError{
		Kind:        domain.AnalyticsTransient,
		Message:     err.Error(),
		ExecutionID: executionID,
	}
}

func normalizeRows(rows []map[string]any) []map[string]string {
	out := make([]map[string]string, len(rows))
	for i, r := range rows {
		out[i] = normalizeRow(r)
	}
	return out
}

func (c *AnalyticsClient) cacheGet(key string) (QueryResult, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.cache[key]
	if !ok || time.Now().After(entry.expiresAt) {
		return QueryResult{}, false
	}
	return entry.result, true
}

func (c *AnalyticsClient) cachePut(key string, result QueryResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache[key] = cacheEntry{result: result, expiresAt: time.Now().Add(c.cacheTTL)}
}

// cacheKeyFor builds a stable cache key from queryID and a sorted rendering
// of params, so map iteration order never causes a spurious cache miss.
func cacheKeyFor(queryID string, params map[string]any) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(queryID)
	for _, k := range keys {
		fmt.Fprintf(&b, "|%s=%v", k, params[k])
	}
	return b.String()
}
