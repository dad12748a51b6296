// Package cache provides a keyed TTL cache whose misses are loaded at most
// once at a time per key.
package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// ErrLoadTimeout is returned when a loader does not finish within its load
// timeout.
var ErrLoadTimeout = errors.New("cache: load timed out")

// Loader computes the value for a key. ctx carries the load timeout; it is not
// the context of any particular caller.
type Loader[T any] func(ctx context.Context) (T, error)

// Entry is a cached value and its expiry.
type Entry[T any] struct {
	Value     T
	ExpiresAt time.Time
}

// Cache is safe for concurrent use. The zero value is not usable; use New.
type Cache[T any] struct {
	now func() time.Time

	mu      sync.Mutex
	entries map[string]Entry[T]
	group   *singleflight.Group
	// gen increments on Clear so loads started before it do not store.
	gen uint64
}

// Option configures a Cache.
type Option func(*options)

type options struct {
	now func() time.Time
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

func New[T any](opts ...Option) *Cache[T] {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return &Cache[T]{
		now:     o.now,
		entries: make(map[string]Entry[T]),
		group:   &singleflight.Group{},
	}
}

// Get returns the cached value for key if it has not expired. Otherwise it
// joins the load already running for key, or starts one. A successful load is
// stored for ttl; a failed or timed-out load stores nothing and every caller
// waiting on it receives the error.
//
// loadTimeout bounds the loader independently of ctx. If ctx ends first the
// caller stops waiting and gets ctx.Err(); the load itself carries on for the
// other waiters.
func (c *Cache[T]) Get(ctx context.Context, key string, ttl, loadTimeout time.Duration, load Loader[T]) (T, error) {
	var zero T

	c.mu.Lock()
	if e, ok := c.freshLocked(key); ok {
		c.mu.Unlock()
		return e.Value, nil
	}
	group, gen := c.group, c.gen
	c.mu.Unlock()

	ch := group.DoChan(key, func() (any, error) {
		// Another flight may have stored the key between our miss and
		// acquiring the flight.
		c.mu.Lock()
		if e, ok := c.freshLocked(key); ok {
			c.mu.Unlock()
			return e.Value, nil
		}
		c.mu.Unlock()

		v, err := runLoader(load, loadTimeout)
		if err != nil {
			return nil, fmt.Errorf("cache: load %q: %w", key, err)
		}

		c.mu.Lock()
		if c.gen == gen {
			c.entries[key] = Entry[T]{Value: v, ExpiresAt: c.now().Add(ttl)}
		}
		c.mu.Unlock()
		return v, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return zero, res.Err
		}
		return res.Val.(T), nil
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// Peek returns the entry for key, fresh or not, without loading.
func (c *Cache[T]) Peek(key string) (Entry[T], bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	return e, ok
}

// Invalidate drops the entry for key. A load in flight is not affected.
func (c *Cache[T]) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// Clear drops all entries and detaches loads in flight: their callers still
// get a result, but it is not stored, and the next Get starts a new load.
//
// Clear is the one exception to one-loader-per-key: until a detached load
// returns, it may run alongside the load started after Clear. Only the newer
// load's result is stored.
func (c *Cache[T]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]Entry[T])
	c.group = &singleflight.Group{}
	c.gen++
}

// Len returns the number of stored entries, fresh or expired.
func (c *Cache[T]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *Cache[T]) freshLocked(key string) (Entry[T], bool) {
	e, ok := c.entries[key]
	if !ok || !e.ExpiresAt.After(c.now()) {
		return Entry[T]{}, false
	}
	return e, true
}

// runLoader races load against loadTimeout. A panicking loader is reported
// as an error.
func runLoader[T any](load Loader[T], loadTimeout time.Duration) (T, error) {
	var zero T

	ctx := context.Background()
	cancel := func() {}
	if loadTimeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, loadTimeout)
	}
	defer cancel()

	type result struct {
		v   T
		err error
	}
	done := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- result{err: fmt.Errorf("loader panic: %v", r)}
			}
		}()
		v, err := load(ctx)
		done <- result{v: v, err: err}
	}()

	select {
	case r := <-done:
		return r.v, r.err
	case <-ctx.Done():
		return zero, ErrLoadTimeout
	}
}
