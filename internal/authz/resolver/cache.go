// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Loanguard Contributors

package resolver

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/loanguard/loanguard/internal/authz/rule"
	"github.com/loanguard/loanguard/internal/authz/types"
)

// defaultTTL bounds accepted staleness for cached lookups. A stale
// read inside the window is accepted staleness, not a correctness
// defect; mutations invalidate explicitly.
const defaultTTL = 5 * time.Minute

var (
	cacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "authz_resolver_cache_hits_total",
		Help: "Total number of resolver cache hits",
	}, []string{"kind"})

	cacheMisses = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "authz_resolver_cache_misses_total",
		Help: "Total number of resolver cache misses",
	}, []string{"kind"})

	cacheInvalidations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "authz_resolver_cache_invalidations_total",
		Help: "Total number of resolver cache invalidations",
	})
)

// Listener abstracts the PostgreSQL LISTEN/NOTIFY mechanism for
// testability. Implementations return a channel emitting notification
// payloads; the channel closes when the context is cancelled.
type Listener interface {
	Listen(ctx context.Context) (<-chan string, error)
}

// CacheOption configures Cache behavior.
type CacheOption func(*cacheConfig)

type cacheConfig struct {
	ttl   time.Duration
	clock func() time.Time
}

// WithTTL sets the bounded staleness window for cached entries.
func WithTTL(d time.Duration) CacheOption {
	return func(c *cacheConfig) {
		c.ttl = d
	}
}

// WithClock overrides the cache clock. Tests use this to step time
// deterministically.
func WithClock(clock func() time.Time) CacheOption {
	return func(c *cacheConfig) {
		c.clock = clock
	}
}

type cacheKey struct {
	tenantID    string
	principalID string
	kind        string // "permissions" or "rules"
}

type cacheEntry struct {
	permissions []types.Permission
	perRole     []rule.RoleRules
	storedAt    time.Time
}

// Cache is a read-through TTL cache decorating a Source. Caching is a
// decorator around the pure resolver, not interleaved with its logic.
// The only shared mutable state is the entry map, guarded by mu.
type Cache struct {
	source Source
	cfg    cacheConfig

	mu      sync.RWMutex
	entries map[cacheKey]cacheEntry

	// wg tracks the listener goroutine for graceful shutdown.
	wg sync.WaitGroup
}

// Compile-time check that Cache implements Source.
var _ Source = (*Cache)(nil)

// NewCache wraps a Source with a TTL cache.
func NewCache(source Source, opts ...CacheOption) *Cache {
	cfg := cacheConfig{
		ttl:   defaultTTL,
		clock: time.Now,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Cache{
		source:  source,
		cfg:     cfg,
		entries: make(map[cacheKey]cacheEntry),
	}
}

// EffectivePermissions returns the cached permission set when fresh,
// falling through to the source otherwise.
func (c *Cache) EffectivePermissions(ctx context.Context, tenantID, principalID string) ([]types.Permission, error) {
	key := cacheKey{tenantID: tenantID, principalID: principalID, kind: "permissions"}
	if entry, ok := c.fresh(key); ok {
		cacheHits.WithLabelValues(key.kind).Inc()
		return entry.permissions, nil
	}
	cacheMisses.WithLabelValues(key.kind).Inc()

	perms, err := c.source.EffectivePermissions(ctx, tenantID, principalID)
	if err != nil {
		return nil, err
	}
	c.put(key, cacheEntry{permissions: perms})
	return perms, nil
}

// PerRoleRules returns the cached per-role rule maps when fresh.
func (c *Cache) PerRoleRules(ctx context.Context, tenantID, principalID string) ([]rule.RoleRules, error) {
	key := cacheKey{tenantID: tenantID, principalID: principalID, kind: "rules"}
	if entry, ok := c.fresh(key); ok {
		cacheHits.WithLabelValues(key.kind).Inc()
		return entry.perRole, nil
	}
	cacheMisses.WithLabelValues(key.kind).Inc()

	perRole, err := c.source.PerRoleRules(ctx, tenantID, principalID)
	if err != nil {
		return nil, err
	}
	c.put(key, cacheEntry{perRole: perRole})
	return perRole, nil
}

func (c *Cache) fresh(key cacheKey) (cacheEntry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.entries[key]
	if !ok {
		return cacheEntry{}, false
	}
	if c.cfg.clock().Sub(entry.storedAt) > c.cfg.ttl {
		return cacheEntry{}, false
	}
	return entry, true
}

func (c *Cache) put(key cacheKey, entry cacheEntry) {
	entry.storedAt = c.cfg.clock()
	c.mu.Lock()
	c.entries[key] = entry
	c.mu.Unlock()
}

// InvalidatePrincipal drops all cached entries for one principal.
// Called on role assignment or revocation.
func (c *Cache) InvalidatePrincipal(tenantID, principalID string) {
	c.mu.Lock()
	for _, kind := range []string{"permissions", "rules"} {
		delete(c.entries, cacheKey{tenantID: tenantID, principalID: principalID, kind: kind})
	}
	c.mu.Unlock()
	cacheInvalidations.Inc()
}

// InvalidateTenant drops all cached entries for a tenant. Called on
// role, permission, or rule mutations whose blast radius is unknown.
func (c *Cache) InvalidateTenant(tenantID string) {
	c.mu.Lock()
	for key := range c.entries {
		if key.tenantID == tenantID {
			delete(c.entries, key)
		}
	}
	c.mu.Unlock()
	cacheInvalidations.Inc()
}

// InvalidateAll drops every cached entry.
func (c *Cache) InvalidateAll() {
	c.mu.Lock()
	c.entries = make(map[cacheKey]cacheEntry)
	c.mu.Unlock()
	cacheInvalidations.Inc()
}

// StartWithListener spawns a goroutine consuming mutation
// notifications and invalidating affected entries. Payload formats:
//
//	"principal:<tenant>:<principal>"  one principal's entries
//	"role:<tenant>"                   all tenant entries
//	"sod:<tenant>"                    all tenant entries
//	"*"                               everything
//
// The goroutine exits when the context is cancelled.
func (c *Cache) StartWithListener(ctx context.Context, listener Listener) error {
	ch, err := listener.Listen(ctx)
	if err != nil {
		return err
	}

	c.wg.Add(1)
	go c.listenLoop(ctx, ch)
	return nil
}

// Wait blocks until the listener goroutine has exited.
func (c *Cache) Wait() {
	c.wg.Wait()
}

func (c *Cache) listenLoop(ctx context.Context, ch <-chan string) {
	defer c.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case payload, ok := <-ch:
			if !ok {
				return
			}
			c.applyNotification(payload)
		}
	}
}

func (c *Cache) applyNotification(payload string) {
	parts := strings.Split(payload, ":")
	switch {
	case payload == "*":
		c.InvalidateAll()
	case parts[0] == "principal" && len(parts) == 3:
		c.InvalidatePrincipal(parts[1], parts[2])
	case (parts[0] == "role" || parts[0] == "sod") && len(parts) == 2:
		c.InvalidateTenant(parts[1])
	default:
		slog.Warn("unrecognized authz change notification, invalidating all",
			slog.String("payload", payload))
		c.InvalidateAll()
	}
}
