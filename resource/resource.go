// Package resource implements per-message context resolution and the
// lazily-populated, cached resource provisioning that backs it: a
// ContextResolver extracts a routing value C from message attributes,
// a Provider turns C into a cached resource R keyed by KeyFunc, and
// Cleanup runs once per cache entry at container stop.
package resource

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// ContextResolutionError wraps a ContextResolver failure.
type ContextResolutionError struct {
	Cause error
}

func (e *ContextResolutionError) Error() string { return fmt.Sprintf("resolve context: %v", e.Cause) }
func (e *ContextResolutionError) Unwrap() error { return e.Cause }

// ProvisionError wraps a Provider failure.
type ProvisionError struct {
	Key   string
	Cause error
}

func (e *ProvisionError) Error() string {
	return fmt.Sprintf("provision resource for key %q: %v", e.Key, e.Cause)
}
func (e *ProvisionError) Unwrap() error { return e.Cause }

// ContextResolver extracts a routing value C from a message's
// attributes. It must be pure and cheap, performing no I/O.
type ContextResolver[C any] interface {
	Resolve(attributes map[string]string) (C, error)
}

// ContextResolverFunc adapts a function to ContextResolver.
type ContextResolverFunc[C any] func(attributes map[string]string) (C, error)

// Resolve implements ContextResolver.
func (f ContextResolverFunc[C]) Resolve(attributes map[string]string) (C, error) {
	return f(attributes)
}

// Provider turns a resolved context into a resource, performing I/O as
// needed. The cache guarantees it is called at most once per distinct
// key for the life of the container.
type Provider[C any, R any] interface {
	Provide(ctx context.Context, value C) (R, error)
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc[C any, R any] func(ctx context.Context, value C) (R, error)

// Provide implements Provider.
func (f ProviderFunc[C, R]) Provide(ctx context.Context, value C) (R, error) {
	return f(ctx, value)
}

// KeyFunc derives the cache key for a context value. DefaultKeyFunc
// (canonical JSON) is used when none is supplied.
type KeyFunc[C any] func(value C) string

// DefaultKeyFunc marshals value to JSON. It panics on an unmarshalable
// C, which is a configuration error the caller should catch in tests
// rather than something reachable in steady-state operation.
func DefaultKeyFunc[C any](value C) string {
	b, err := json.Marshal(value)
	if err != nil {
		panic(fmt.Sprintf("resource: default key func cannot marshal context value: %v", err))
	}
	return string(b)
}

// Cleanup releases a resource's held handles. Called exactly once per
// cache entry during container stop.
type Cleanup[R any] func(value R)

type cacheEntry[R any] struct {
	ready sync.WaitGroup
	value R
	err   error
}

// Cache lazily provisions and caches resources keyed by KeyFunc(C),
// guaranteeing single-writer creation per key: concurrent first-touches
// of the same key share one Provider invocation. Lookups after
// population never wait on a Provider call, but every lookup takes the
// cache's map mutex briefly, so reads are not lock-free. There is no
// TTL or eviction; unbounded
// growth is the caller's responsibility, matching the container's
// explicit extension-point policy.
type Cache[C any, R any] struct {
	provider Provider[C, R]
	keyFn    KeyFunc[C]
	cleanup  Cleanup[R]

	mu      sync.Mutex
	entries map[string]*cacheEntry[R]
}

// NewCache constructs a Cache. keyFn defaults to DefaultKeyFunc if nil.
// cleanup may be nil (no-op at stop).
func NewCache[C any, R any](provider Provider[C, R], keyFn KeyFunc[C], cleanup Cleanup[R]) *Cache[C, R] {
	if keyFn == nil {
		keyFn = DefaultKeyFunc[C]
	}
	return &Cache[C, R]{
		provider: provider,
		keyFn:    keyFn,
		cleanup:  cleanup,
		entries:  make(map[string]*cacheEntry[R]),
	}
}

// Get returns the cached resource for value, provisioning it if this
// is the first call for its key. Concurrent callers racing on the same
// new key block on the same single Provider.Provide call. A failed
// Provide call is cached too: the key is never retried for the life of
// the container, so a transient provisioning failure permanently
// poisons that key.
func (c *Cache[C, R]) Get(ctx context.Context, value C) (R, error) {
	key := c.keyFn(value)

	c.mu.Lock()
	entry, exists := c.entries[key]
	if !exists {
		entry = &cacheEntry[R]{}
		entry.ready.Add(1)
		c.entries[key] = entry
		c.mu.Unlock()

		entry.value, entry.err = c.provider.Provide(ctx, value)
		if entry.err != nil {
			entry.err = &ProvisionError{Key: key, Cause: entry.err}
		}
		entry.ready.Done()
		return entry.value, entry.err
	}
	c.mu.Unlock()

	entry.ready.Wait()
	return entry.value, entry.err
}

// Len reports the number of distinct populated-or-populating entries.
func (c *Cache[C, R]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// CleanupAll calls cleanup exactly once for every entry that finished
// provisioning successfully, then drops all entries. Called during
// container stop, after in-flight processors have drained, so every
// entry's provisioning call has already returned.
func (c *Cache[C, R]) CleanupAll() {
	c.mu.Lock()
	entries := c.entries
	c.entries = make(map[string]*cacheEntry[R])
	c.mu.Unlock()

	for _, entry := range entries {
		entry.ready.Wait()
		if c.cleanup == nil || entry.err != nil {
			continue
		}
		c.cleanup(entry.value)
	}
}
