package lb

import (
	"encoding/binary"
	"fmt"
	"sync"
	"sync/atomic"

	"lukechampine.com/blake3"
)

// Selector picks a backend index from the currently healthy subset.
type Selector interface {
	Select(healthyIndices []int) (int, bool)
}

// RoundRobin cycles evenly through whatever subset is currently healthy.
type RoundRobin struct {
	current atomic.Uint64
}

// NewRoundRobin constructs a RoundRobin selector.
func NewRoundRobin() *RoundRobin { return &RoundRobin{} }

func (r *RoundRobin) Select(healthyIndices []int) (int, bool) {
	if len(healthyIndices) == 0 {
		return 0, false
	}
	pos := r.current.Add(1) - 1
	return healthyIndices[int(pos)%len(healthyIndices)], true
}

// WeightedRoundRobin distributes requests proportionally to each backend's
// configured weight using an expanded virtual rotation, e.g. weights
// [2, 1, 3] rotate as [0, 0, 1, 2, 2, 2].
type WeightedRoundRobin struct {
	weights []int // indexed by backend index; zero/negative treated as 1
	current atomic.Uint64
}

// NewWeightedRoundRobin constructs a selector over per-backend-index weights.
func NewWeightedRoundRobin(weights []int) *WeightedRoundRobin {
	normalized := make([]int, len(weights))
	for i, w := range weights {
		if w < 1 {
			w = 1
		}
		normalized[i] = w
	}
	return &WeightedRoundRobin{weights: normalized}
}

func (w *WeightedRoundRobin) weightOf(index int) int {
	if index < 0 || index >= len(w.weights) {
		return 1
	}
	return w.weights[index]
}

func (w *WeightedRoundRobin) Select(healthyIndices []int) (int, bool) {
	if len(healthyIndices) == 0 {
		return 0, false
	}
	var expanded []int
	for pos, idx := range healthyIndices {
		for i := 0; i < w.weightOf(idx); i++ {
			expanded = append(expanded, pos)
		}
	}
	if len(expanded) == 0 {
		return 0, false
	}
	slot := w.current.Add(1) - 1
	healthyPos := expanded[int(slot)%len(expanded)]
	return healthyIndices[healthyPos], true
}

// KeyExtractor names how ConsistentHash derives its hash key from a request.
type KeyExtractor int

const (
	KeyByPath KeyExtractor = iota
	KeyByHeader
	KeyByClientIP
)

// DefaultVirtualNodes matches the original's per-backend ring density.
const DefaultVirtualNodes = 150

// ConsistentHash selects backends from a BLAKE3 hash ring with virtual
// nodes, giving sticky routing per key with minimal remapping when the
// backend set changes.
type ConsistentHash struct {
	virtualNodes int
	keyExtractor KeyExtractor
	headerName   string // only meaningful when keyExtractor == KeyByHeader

	mu       sync.RWMutex
	ring     map[uint64]int // hash -> backend index
	sortedHashes []uint64
	addresses []string // index -> address, for virtual-node regeneration

	fallback atomic.Uint64
}

// NewConsistentHash constructs a path-keyed ring with virtualNodes per backend.
func NewConsistentHash(virtualNodes int) *ConsistentHash {
	return NewConsistentHashWithExtractor(virtualNodes, KeyByPath, "")
}

// NewConsistentHashWithExtractor constructs a ring using a specific key
// extraction strategy; headerName is used only when extractor is KeyByHeader.
func NewConsistentHashWithExtractor(virtualNodes int, extractor KeyExtractor, headerName string) *ConsistentHash {
	if virtualNodes < 1 {
		virtualNodes = 1
	}
	return &ConsistentHash{
		virtualNodes: virtualNodes,
		keyExtractor: extractor,
		headerName:   headerName,
		ring:         make(map[uint64]int),
	}
}

func hashKey(key string) uint64 {
	sum := blake3.Sum256([]byte(key))
	return binary.LittleEndian.Uint64(sum[:8])
}

func hashVirtualNode(address string, virtualIndex int) uint64 {
	return hashKey(fmt.Sprintf("%s#%d", address, virtualIndex))
}

// AddBackend places address's virtual nodes on the ring at the given
// backend index.
func (c *ConsistentHash) AddBackend(address string, index int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for len(c.addresses) <= index {
		c.addresses = append(c.addresses, "")
	}
	c.addresses[index] = address

	for i := 0; i < c.virtualNodes; i++ {
		c.ring[hashVirtualNode(address, i)] = index
	}
	c.rebuildSortedLocked()
}

// RemoveBackend removes all of address's virtual nodes from the ring.
func (c *ConsistentHash) RemoveBackend(address string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i := 0; i < c.virtualNodes; i++ {
		delete(c.ring, hashVirtualNode(address, i))
	}
	c.rebuildSortedLocked()
}

func (c *ConsistentHash) rebuildSortedLocked() {
	hashes := make([]uint64, 0, len(c.ring))
	for h := range c.ring {
		hashes = append(hashes, h)
	}
	sortUint64s(hashes)
	c.sortedHashes = hashes
}

func sortUint64s(s []uint64) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1] > s[j]; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}

// SelectByKey hashes key onto the ring and walks clockwise for the first
// healthy backend, wrapping around once. Falls back to round-robin when
// the ring is empty or no healthy backend is found.
func (c *ConsistentHash) SelectByKey(key string, healthyIndices []int) (int, bool) {
	if len(healthyIndices) == 0 {
		return 0, false
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	if len(c.sortedHashes) == 0 {
		return c.selectFallbackLocked(healthyIndices)
	}

	isHealthy := make(map[int]bool, len(healthyIndices))
	for _, idx := range healthyIndices {
		isHealthy[idx] = true
	}

	keyHash := hashKey(key)
	start := searchUint64(c.sortedHashes, keyHash)

	for i := 0; i < len(c.sortedHashes); i++ {
		pos := (start + i) % len(c.sortedHashes)
		if idx := c.ring[c.sortedHashes[pos]]; isHealthy[idx] {
			return idx, true
		}
	}

	return c.selectFallbackLocked(healthyIndices)
}

func searchUint64(sorted []uint64, target uint64) int {
	lo, hi := 0, len(sorted)
	for lo < hi {
		mid := (lo + hi) / 2
		if sorted[mid] < target {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	if lo == len(sorted) {
		return 0
	}
	return lo
}

func (c *ConsistentHash) selectFallbackLocked(healthyIndices []int) (int, bool) {
	if len(healthyIndices) == 0 {
		return 0, false
	}
	pos := c.fallback.Add(1) - 1
	return healthyIndices[int(pos)%len(healthyIndices)], true
}

// KeyExtractorKind returns the configured key-extraction strategy.
func (c *ConsistentHash) KeyExtractorKind() KeyExtractor { return c.keyExtractor }

// HeaderName returns the header used when KeyExtractorKind is KeyByHeader.
func (c *ConsistentHash) HeaderName() string { return c.headerName }

// RingSize returns the total number of virtual nodes currently on the ring.
func (c *ConsistentHash) RingSize() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.ring)
}

// Select implements Selector using round-robin fallback, for callers (e.g.
// health checks) with no per-request key available.
func (c *ConsistentHash) Select(healthyIndices []int) (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.selectFallbackLocked(healthyIndices)
}
