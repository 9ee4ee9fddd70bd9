// Package modulecache implements the in-memory, byte-weighted LRU-with-TTI
// cache mapping a sanitized module name to a compiled WASM component.
package modulecache

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/tetratelabs/wazero"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// entry is one cached module plus its eviction bookkeeping.
type entry struct {
	key       string
	module    wazero.CompiledModule
	weight    int64 // source byte count
	lastTouch time.Time
	listElem  *list.Element
}

// Cache is the module cache. Reads never block writes of other entries: a
// read-write mutex protects only the map/list bookkeeping, never the
// compile itself.
type Cache struct {
	maxBytes   int64
	idleTTL    time.Duration
	logger     *zap.Logger
	mu         sync.RWMutex
	entries    map[string]*entry
	order      *list.List // front = most recently touched
	totalBytes int64
	group      singleflight.Group
}

// New constructs a Cache. maxBytes<=0 makes the cache a no-op (every call
// recompiles) per the boundary behavior in the spec.
func New(maxBytes int64, idleTTL time.Duration, logger *zap.Logger) *Cache {
	return &Cache{
		maxBytes: maxBytes,
		idleTTL:  idleTTL,
		logger:   logger,
		entries:  make(map[string]*entry),
		order:    list.New(),
	}
}

// Get returns the cached compiled module for key, if present and not idle-evicted.
func (c *Cache) Get(key string) (wazero.CompiledModule, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if c.idleTTL > 0 && time.Since(e.lastTouch) > c.idleTTL {
		c.removeLocked(e)
		return nil, false
	}
	e.lastTouch = time.Now()
	c.order.MoveToFront(e.listElem)
	return e.module, true
}

// GetOrCompute returns the cached module for key, or calls compute (with no
// cache lock held, so concurrent reads of other keys are never blocked) and
// inserts the result. Concurrent callers for the same key share one
// compile via singleflight; the loser's result is discarded.
func (c *Cache) GetOrCompute(ctx context.Context, key string, compute func() (wazero.CompiledModule, int64, error)) (wazero.CompiledModule, error) {
	if module, ok := c.Get(key); ok {
		return module, nil
	}

	result, err, _ := c.group.Do(key, func() (any, error) {
		if module, ok := c.Get(key); ok {
			return module, nil
		}
		module, weight, err := compute()
		if err != nil {
			return nil, err
		}
		c.insert(key, module, weight)
		return module, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(wazero.CompiledModule), nil
}

func (c *Cache) insert(key string, module wazero.CompiledModule, weight int64) {
	if c.maxBytes <= 0 {
		// No-op cache: close immediately, every lookup recompiles.
		_ = module.Close(context.Background())
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if existing, ok := c.entries[key]; ok {
		_ = module.Close(context.Background())
		existing.lastTouch = time.Now()
		c.order.MoveToFront(existing.listElem)
		return
	}

	e := &entry{key: key, module: module, weight: weight, lastTouch: time.Now()}
	e.listElem = c.order.PushFront(e)
	c.entries[key] = e
	c.totalBytes += weight

	c.evictLocked()

	c.logger.Debug("module compiled and cached",
		zap.String("key", key),
		zap.Int64("weight_bytes", weight),
		zap.Int64("total_bytes", c.totalBytes),
	)
}

// evictLocked must be called with c.mu held; it evicts least-recently-used
// entries until total weight is within maxBytes.
func (c *Cache) evictLocked() {
	for c.totalBytes > c.maxBytes {
		back := c.order.Back()
		if back == nil {
			return
		}
		e := back.Value.(*entry)
		c.removeLocked(e)
		c.logger.Debug("evicted module from cache", zap.String("key", e.key))
	}
}

// removeLocked must be called with c.mu held.
func (c *Cache) removeLocked(e *entry) {
	_ = e.module.Close(context.Background())
	delete(c.entries, e.key)
	c.order.Remove(e.listElem)
	c.totalBytes -= e.weight
}

// Delete evicts and closes the entry for key, if present.
func (c *Cache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[key]; ok {
		c.removeLocked(e)
	}
}

// Has reports whether key is currently cached.
func (c *Cache) Has(key string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.entries[key]
	return ok
}

// Size returns the current number of cached entries.
func (c *Cache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Bytes returns the current total weight in bytes.
func (c *Cache) Bytes() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.totalBytes
}

// Capacity returns the configured byte ceiling.
func (c *Cache) Capacity() int64 { return c.maxBytes }

// Clear evicts and closes every cached module.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range c.entries {
		_ = e.module.Close(context.Background())
	}
	c.entries = make(map[string]*entry)
	c.order = list.New()
	c.totalBytes = 0
}
