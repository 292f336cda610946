package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"currency-conversion-service/internal/domain/model"
	"currency-conversion-service/internal/domain/ports"
	"currency-conversion-service/internal/metrics"
	"currency-conversion-service/pkg/logger"
)

type StalePolicy = model.StalePolicy

const (
	// ServeStale returns the stale entry at once and lets the running refresh
	// update the cache for later callers.
	ServeStale = model.StalePolicyServeStale
	// WaitForRefresh blocks until the running refresh finishes.
	WaitForRefresh = model.StalePolicyWait
)

const (
	DefaultFreshnessWindow = time.Hour
	DefaultFetchTimeout    = 10 * time.Second
	warmConcurrency        = 4
)

type Option func(*MemoryCache)

func WithClock(now func() time.Time) Option {
	return func(c *MemoryCache) { c.now = now }
}

func WithFetchTimeout(d time.Duration) Option {
	return func(c *MemoryCache) {
		if d > 0 {
			c.fetchTimeout = d
		}
	}
}

func WithStalePolicy(p StalePolicy) Option {
	return func(c *MemoryCache) { c.policy = p }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *MemoryCache) { c.metrics = m }
}

// flight is the in-flight marker for one pair. entry and err are written
// before done is closed.
type flight struct {
	done  chan struct{}
	entry *model.RateEntry
	err   error
}

// MemoryCache keeps one RateEntry per pair and runs at most one upstream
// fetch per pair at a time. mutex guards the two maps only; fetches run on
// their own goroutine without holding it.
type MemoryCache struct {
	source       ports.RateSource
	window       time.Duration
	fetchTimeout time.Duration
	policy       StalePolicy
	now          func() time.Time
	log          *logger.Logger
	metrics      *metrics.Metrics

	mutex    sync.Mutex
	entries  map[model.CurrencyPair]*model.RateEntry
	inflight map[model.CurrencyPair]*flight
}

func NewMemoryCache(source ports.RateSource, window time.Duration, log *logger.Logger, opts ...Option) *MemoryCache {
	if window <= 0 {
		window = DefaultFreshnessWindow
	}
	if log == nil {
		log = logger.Discard()
	}

	c := &MemoryCache{
		source:       source,
		window:       window,
		fetchTimeout: DefaultFetchTimeout,
		policy:       ServeStale,
		now:          time.Now,
		log:          log.With("component", "rate_cache"),
		entries:      make(map[model.CurrencyPair]*model.RateEntry),
		inflight:     make(map[model.CurrencyPair]*flight),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GetRate returns a fresh entry for pair, refreshing it from the source when
// it is missing or older than the freshness window. A failed refresh falls
// back to the previous entry if there is one; ErrUnsupportedPair is never
// masked that way.
func (c *MemoryCache) GetRate(ctx context.Context, pair model.CurrencyPair) (*model.RateEntry, error) {
	c.mutex.Lock()
	entry := c.entries[pair]
	if entry != nil && c.isFresh(entry) {
		c.mutex.Unlock()
		c.observeLookup(metrics.LookupHit)
		c.log.Debug("Cache hit", "pair", pair.String())
		return entry, nil
	}

	f, joined := c.inflight[pair]
	if !joined {
		f = c.startFetchLocked(pair)
	}
	c.mutex.Unlock()

	if joined && entry != nil && c.policy == ServeStale {
		c.observeLookup(metrics.LookupStaleServed)
		c.log.Debug("Refresh in flight, serving stale entry",
			"pair", pair.String(),
			"age", entry.Age(c.now()),
		)
		return entry, nil
	}

	outcome := metrics.LookupMiss
	if joined {
		outcome = metrics.LookupJoined
	}

	select {
	case <-f.done:
	case <-ctx.Done():
		// the fetch keeps running and will still populate the cache
		if entry != nil {
			c.observeLookup(metrics.LookupStaleServed)
			return entry, nil
		}
		c.observeLookup(outcome)
		return nil, model.NewUpstreamError(model.ReasonCanceled, ctx.Err())
	}

	result, servedStale, err := c.resolve(pair, entry, f)
	if servedStale {
		outcome = metrics.LookupStaleServed
	}
	c.observeLookup(outcome)
	return result, err
}

// resolve reports whether the stale entry stood in for a failed refresh.
func (c *MemoryCache) resolve(pair model.CurrencyPair, stale *model.RateEntry, f *flight) (*model.RateEntry, bool, error) {
	if f.err == nil {
		return f.entry, false, nil
	}

	if errors.Is(f.err, model.ErrUnsupportedPair) || stale == nil {
		return nil, false, f.err
	}

	c.log.Warn("Refresh failed, serving stale entry",
		"pair", pair.String(),
		"error", f.err,
		"reason", model.FailureReasonOf(f.err),
		"age", stale.Age(c.now()),
	)
	return stale, true, nil
}

// IsStale reports whether entry is older than the freshness window.
func (c *MemoryCache) IsStale(entry *model.RateEntry) bool {
	return entry == nil || !c.isFresh(entry)
}

// Warm loads pairs concurrently. Failures are logged and returned joined; a
// failed pair does not stop the others.
func (c *MemoryCache) Warm(ctx context.Context, pairs []model.CurrencyPair) error {
	var (
		g      errgroup.Group
		mu     sync.Mutex
		failed []error
	)
	g.SetLimit(warmConcurrency)

	for _, pair := range pairs {
		g.Go(func() error {
			if _, err := c.GetRate(ctx, pair); err != nil {
				c.log.Error("Failed to warm rate", "pair", pair.String(), "error", err)
				mu.Lock()
				failed = append(failed, fmt.Errorf("%s: %w", pair, err))
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	if len(failed) > 0 {
		return errors.Join(failed...)
	}
	c.log.Info("Warmed rate cache", "count", len(pairs))
	return nil
}

// Size returns the number of pairs that have ever been fetched successfully.
func (c *MemoryCache) Size() int {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	return len(c.entries)
}

func (c *MemoryCache) isFresh(entry *model.RateEntry) bool {
	return c.now().Sub(entry.FetchedAt) < c.window
}

// startFetchLocked registers the in-flight marker and starts the fetch. The
// caller must hold c.mutex, which makes check-then-mark atomic per pair.
func (c *MemoryCache) startFetchLocked(pair model.CurrencyPair) *flight {
	f := &flight{done: make(chan struct{})}
	c.inflight[pair] = f
	go c.fetch(pair, f)
	return f
}

// fetch runs detached from any request context, bounded by fetchTimeout.
// Metrics and logs are recorded before done is closed so waiters observe them.
func (c *MemoryCache) fetch(pair model.CurrencyPair, f *flight) {
	ctx, cancel := context.WithTimeout(context.Background(), c.fetchTimeout)
	defer cancel()

	sourceName := c.source.Name()
	start := time.Now()
	if c.metrics != nil {
		c.metrics.FetchesInFlight.Inc()
	}

	c.log.Info("Fetching rate from source", "pair", pair.String(), "source", sourceName)

	entry, err := c.fetchEntry(ctx, pair, sourceName)
	err = model.AsUpstreamError(err)

	result := "success"
	if err != nil {
		result = string(model.FailureReasonOf(err))
		if errors.Is(err, model.ErrUnsupportedPair) {
			result = "unsupported"
		}
		c.log.Error("Failed to fetch rate", "pair", pair.String(), "source", sourceName, "error", err)
	} else {
		c.log.Debug("Cache set", "pair", pair.String(), "rate", entry.Rate)
	}
	if c.metrics != nil {
		c.metrics.FetchesInFlight.Dec()
		c.metrics.UpstreamFetchesTotal.WithLabelValues(sourceName, result).Inc()
		c.metrics.UpstreamFetchDuration.WithLabelValues(sourceName).Observe(time.Since(start).Seconds())
	}

	c.mutex.Lock()
	if err == nil {
		c.entries[pair] = entry
	}
	delete(c.inflight, pair)
	f.entry, f.err = entry, err
	c.mutex.Unlock()
	close(f.done)
}

func (c *MemoryCache) fetchEntry(ctx context.Context, pair model.CurrencyPair, sourceName string) (entry *model.RateEntry, err error) {
	defer func() {
		if r := recover(); r != nil {
			entry, err = nil, model.NewUpstreamError(model.ReasonUnknown, fmt.Errorf("rate source panicked: %v", r))
		}
	}()

	fetched, err := c.source.FetchRate(ctx, pair)
	if err != nil {
		return nil, err
	}
	if fetched == nil {
		return nil, model.NewUpstreamError(model.ReasonMalformed, fmt.Errorf("source returned no rate for %s", pair))
	}

	entry = &model.RateEntry{
		Pair:      pair,
		Rate:      fetched.Rate,
		FetchedAt: c.now(),
		Source:    sourceName,
	}
	if err := entry.Validate(); err != nil {
		return nil, model.NewUpstreamError(model.ReasonMalformed, err)
	}
	return entry, nil
}

func (c *MemoryCache) observeLookup(outcome string) {
	if c.metrics != nil {
		c.metrics.CacheLookupsTotal.WithLabelValues(outcome).Inc()
	}
}
