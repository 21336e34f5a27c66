// Package connectivity caches whether the bot host can reach the internet.
package connectivity

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
)

// DefaultTTL is how long a probe result is trusted.
const DefaultTTL = 30 * time.Second

// Prober reports whether the network is reachable.
type Prober interface {
	Reachable(ctx context.Context) bool
}

// ProberFunc adapts a function to Prober.
type ProberFunc func(ctx context.Context) bool

// Reachable implements Prober.
func (f ProberFunc) Reachable(ctx context.Context) bool {
	return f(ctx)
}

// Status is one cached probe result.
type Status struct {
	HasInternet bool
	CheckedAt   time.Time
}

// Cache holds the last probe result behind two access paths.
//
// Check is lock-free: concurrent misses may each probe, and the last write
// wins. CheckContext serializes the whole check-or-refresh sequence, so
// concurrent callers share a single probe and never see a stale value.
type Cache struct {
	prober Prober
	ttl    time.Duration
	now    func() time.Time
	log    *slog.Logger

	entry   atomic.Pointer[Status]
	refresh *semaphore.Weighted
}

// Option customizes a Cache.
type Option func(*Cache)

// WithTTL overrides DefaultTTL.
func WithTTL(ttl time.Duration) Option {
	return func(c *Cache) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		if now != nil {
			c.now = now
		}
	}
}

// WithLogger sets the cache logger.
func WithLogger(log *slog.Logger) Option {
	return func(c *Cache) {
		if log != nil {
			c.log = log
		}
	}
}

// NewCache builds a cache whose initial entry is stale.
func NewCache(prober Prober, opts ...Option) *Cache {
	c := &Cache{
		prober:  prober,
		ttl:     DefaultTTL,
		now:     time.Now,
		log:     slog.Default(),
		refresh: semaphore.NewWeighted(1),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.With("component", "connectivity.cache")
	c.entry.Store(&Status{HasInternet: true})

	return c
}

// Check returns the cached value when fresh and probes otherwise.
func (c *Cache) Check() bool {
	if status, ok := c.fresh(); ok {
		return status.HasInternet
	}

	return c.probe(context.Background())
}

// CheckContext is Check with the refresh serialized across callers.
//
// When ctx ends before the refresh slot is acquired, the cached value is
// returned only if it is still fresh; otherwise false.
func (c *Cache) CheckContext(ctx context.Context) bool {
	if err := c.refresh.Acquire(ctx, 1); err != nil {
		status, ok := c.fresh()
		return ok && status.HasInternet
	}
	defer c.refresh.Release(1)

	if status, ok := c.fresh(); ok {
		return status.HasInternet
	}

	return c.probe(ctx)
}

// Snapshot returns the last stored result without probing.
func (c *Cache) Snapshot() Status {
	return *c.entry.Load()
}

func (c *Cache) fresh() (Status, bool) {
	status := *c.entry.Load()
	if status.CheckedAt.IsZero() {
		return status, false
	}

	return status, c.now().Sub(status.CheckedAt) < c.ttl
}

func (c *Cache) probe(ctx context.Context) bool {
	checkedAt := c.now()
	hasInternet := c.prober.Reachable(ctx)
	c.entry.Store(&Status{HasInternet: hasInternet, CheckedAt: checkedAt})

	if !hasInternet {
		c.log.Warn("Internet connectivity unavailable")
	} else {
		c.log.Debug("Internet connectivity confirmed")
	}

	return hasInternet
}
