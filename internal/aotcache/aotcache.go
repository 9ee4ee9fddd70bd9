// Package aotcache implements the content-addressable on-disk store of
// precompiled WASM component artifacts: key(bytes) -> 32 hex chars, one
// <key>.aot file per entry under the configured cache directory.
package aotcache

import (
	"encoding/hex"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
	"lukechampine.com/blake3"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Cache is the AOT artifact store. Size is capped by total bytes on disk;
// eviction walks an in-memory last-access index (a cheap substitute for
// stat-ing every file) oldest-first until under the cap.
type Cache struct {
	dir         string
	maxBytes    int64
	bypass      bool
	log         *zap.Logger
	mu          sync.Mutex
	sizeByKey   map[string]int64
	totalBytes  int64
	accessOrder *expirable.LRU[string, struct{}]
}

// New constructs a Cache rooted at dir. When bypass is true (hot-reload
// mode) Get, Put and Remove become no-ops; Key is unaffected.
func New(dir string, maxBytes int64, bypass bool, log *zap.Logger) (*Cache, error) {
	if !bypass {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	c := &Cache{
		dir:       dir,
		maxBytes:  maxBytes,
		bypass:    bypass,
		log:       log,
		sizeByKey: make(map[string]int64),
	}
	c.accessOrder = expirable.NewLRU[string, struct{}](0, nil, 0)
	if !bypass {
		c.loadExisting()
	}
	return c, nil
}

func (c *Cache) loadExisting() {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		key := keyFromFilename(e.Name())
		if key == "" {
			continue
		}
		c.sizeByKey[key] = info.Size()
		c.totalBytes += info.Size()
		c.accessOrder.Add(key, struct{}{})
	}
}

func keyFromFilename(name string) string {
	const ext = ".aot"
	if len(name) != len(ext)+32 || name[len(name)-len(ext):] != ext {
		return ""
	}
	return name[:len(name)-len(ext)]
}

// Key computes the deterministic, filesystem-safe cache key for source
// bytes: the first 128 bits of BLAKE3(bytes), hex-encoded to 32 chars.
func Key(sourceBytes []byte) string {
	sum := blake3.Sum256(sourceBytes)
	return hex.EncodeToString(sum[:16])
}

func (c *Cache) path(key string) string {
	return filepath.Join(c.dir, key+".aot")
}

// Get returns the cached artifact path for sourceBytes, or ok=false in
// bypass mode or when absent.
func (c *Cache) Get(sourceBytes []byte) (path string, ok bool) {
	if c.bypass {
		return "", false
	}
	key := Key(sourceBytes)
	p := c.path(key)
	if _, err := os.Stat(p); err != nil {
		return "", false
	}
	c.mu.Lock()
	c.accessOrder.Add(key, struct{}{})
	c.mu.Unlock()
	return p, true
}

// Put persists compiledBytes under the key for sourceBytes, evicting the
// oldest-accessed entries first if this insertion would exceed maxBytes.
// No-op in bypass mode.
func (c *Cache) Put(sourceBytes, compiledBytes []byte) (string, error) {
	if c.bypass {
		return "", nil
	}
	key := Key(sourceBytes)
	p := c.path(key)

	if err := os.WriteFile(p, compiledBytes, 0o644); err != nil {
		return "", err
	}

	c.mu.Lock()
	if old, existed := c.sizeByKey[key]; existed {
		c.totalBytes -= old
	}
	c.sizeByKey[key] = int64(len(compiledBytes))
	c.totalBytes += int64(len(compiledBytes))
	c.accessOrder.Add(key, struct{}{})
	c.evictLocked()
	c.mu.Unlock()

	return p, nil
}

// evictLocked must be called with c.mu held. It removes the
// least-recently-accessed entries until total bytes are within the cap.
func (c *Cache) evictLocked() {
	if c.maxBytes <= 0 {
		return
	}
	for c.totalBytes > c.maxBytes {
		keys := c.accessOrder.Keys()
		if len(keys) == 0 {
			return
		}
		oldest := keys[0]
		c.removeLocked(oldest)
	}
}

func (c *Cache) removeLocked(key string) {
	if sz, ok := c.sizeByKey[key]; ok {
		_ = os.Remove(c.path(key))
		c.totalBytes -= sz
		delete(c.sizeByKey, key)
		c.accessOrder.Remove(key)
	}
}

// Remove deletes a stale entry, e.g. one that failed to deserialize at
// load time because of an engine version mismatch. Returns false in
// bypass mode or when the entry didn't exist.
func (c *Cache) Remove(sourceBytes []byte) bool {
	if c.bypass {
		return false
	}
	key := Key(sourceBytes)
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.sizeByKey[key]; !ok {
		return false
	}
	c.removeLocked(key)
	return true
}

// Bypass reports whether the cache is in hot-reload bypass mode.
func (c *Cache) Bypass() bool { return c.bypass }
