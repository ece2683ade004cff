// Package reportcache keeps generated reports in memory for a short time so
// follow-up interactions ("show more") can be served without another API call.
package reportcache

import (
	"sync"
	"time"

	"github.com/cockroachdb/errors"
)

// ErrNotFound is returned for unknown and expired keys. Entries do not survive
// a restart, so callers should treat it as "report expired, run it again".
var ErrNotFound = errors.New("report not found or expired")

const (
	DefaultTTL             = time.Hour
	defaultMax             = 1000
	defaultCleanupInterval = time.Minute
)

// Cache is a TTL map. The TTL counts from insertion; Put on an existing key
// replaces the payload and restarts its TTL.
type Cache[V any] struct {
	mu sync.RWMutex

	ttl time.Duration
	max int
	now func() time.Time

	// cleanupInterval bounds how often Put/Get run an O(n) sweep.
	cleanupInterval time.Duration
	nextCleanup     time.Time

	m map[string]entry[V]
}

type entry[V any] struct {
	v       V
	created time.Time
}

type Option func(*options)

type options struct {
	ttl             time.Duration
	max             int
	cleanupInterval time.Duration
	now             func() time.Time
}

func WithTTL(d time.Duration) Option { return func(o *options) { o.ttl = d } }

// WithMax caps the number of live entries; the oldest go first.
func WithMax(n int) Option { return func(o *options) { o.max = n } }

func WithCleanupInterval(d time.Duration) Option {
	return func(o *options) { o.cleanupInterval = d }
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option { return func(o *options) { o.now = now } }

func New[V any](opts ...Option) *Cache[V] {
	o := options{ttl: DefaultTTL, max: defaultMax, cleanupInterval: defaultCleanupInterval, now: time.Now}
	for _, f := range opts {
		if f != nil {
			f(&o)
		}
	}
	if o.ttl <= 0 {
		o.ttl = DefaultTTL
	}
	if o.max <= 0 {
		o.max = defaultMax
	}
	if o.cleanupInterval <= 0 {
		o.cleanupInterval = defaultCleanupInterval
	}
	if o.now == nil {
		o.now = time.Now
	}
	return &Cache[V]{
		ttl:             o.ttl,
		max:             o.max,
		now:             o.now,
		cleanupInterval: o.cleanupInterval,
		m:               map[string]entry[V]{},
	}
}

// SetTTL changes the TTL for lookups from now on, existing entries included.
func (c *Cache[V]) SetTTL(d time.Duration) {
	if d <= 0 {
		d = DefaultTTL
	}
	c.mu.Lock()
	c.ttl = d
	c.mu.Unlock()
}

func (c *Cache[V]) Put(key string, v V) {
	now := c.now()
	c.maybeCleanup(now)

	c.mu.Lock()
	c.m[key] = entry[V]{v: v, created: now}
	c.enforceMaxLocked()
	c.mu.Unlock()
}

// Get returns the payload stored under key, or ErrNotFound once
// now - created >= TTL.
func (c *Cache[V]) Get(key string) (V, error) {
	var zero V
	now := c.now()
	c.maybeCleanup(now)

	c.mu.RLock()
	e, ok := c.m[key]
	ttl := c.ttl
	c.mu.RUnlock()
	if !ok {
		return zero, errors.Wrapf(ErrNotFound, "key %q", key)
	}
	if expired(e.created, ttl, now) {
		c.mu.Lock()
		if e2, ok2 := c.m[key]; ok2 && expired(e2.created, c.ttl, now) {
			delete(c.m, key)
		}
		c.mu.Unlock()
		return zero, errors.Wrapf(ErrNotFound, "key %q", key)
	}
	return e.v, nil
}

func (c *Cache[V]) Delete(key string) {
	c.mu.Lock()
	delete(c.m, key)
	c.mu.Unlock()
}

// Len counts stored entries, expired ones not yet swept included.
func (c *Cache[V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.m)
}

func expired(created time.Time, ttl time.Duration, now time.Time) bool {
	return !now.Before(created.Add(ttl))
}

func (c *Cache[V]) maybeCleanup(now time.Time) {
	c.mu.RLock()
	next := c.nextCleanup
	c.mu.RUnlock()
	if !next.IsZero() && now.Before(next) {
		return
	}

	c.mu.Lock()
	if c.nextCleanup.IsZero() || !now.Before(c.nextCleanup) {
		for k, e := range c.m {
			if expired(e.created, c.ttl, now) {
				delete(c.m, k)
			}
		}
		c.nextCleanup = now.Add(c.cleanupInterval)
	}
	c.mu.Unlock()
}

func (c *Cache[V]) enforceMaxLocked() {
	for len(c.m) > c.max {
		var oldestKey string
		var oldest time.Time
		first := true
		for k, e := range c.m {
			if first || e.created.Before(oldest) {
				oldestKey, oldest, first = k, e.created, false
			}
		}
		delete(c.m, oldestKey)
	}
}
