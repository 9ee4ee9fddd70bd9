package lb

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ReloadConfig configures graceful backend-pool reloads.
type ReloadConfig struct {
	DrainTimeout time.Duration
}

// DefaultReloadConfig matches the original's 30s drain timeout.
func DefaultReloadConfig() ReloadConfig {
	return ReloadConfig{DrainTimeout: 30 * time.Second}
}

// ReloadSignal carries a new backend address list requested at a point in time.
type ReloadSignal struct {
	Backends    []string
	RequestedAt time.Time
}

// ReloadHandle triggers reloads; safe to share across goroutines.
type ReloadHandle struct {
	mu   sync.Mutex
	subs []chan ReloadSignal
}

// NewReloadHandle constructs an empty handle with no subscribers yet.
func NewReloadHandle() *ReloadHandle {
	return &ReloadHandle{}
}

// Subscribe returns a channel that receives every future TriggerReload signal.
func (h *ReloadHandle) Subscribe() <-chan ReloadSignal {
	h.mu.Lock()
	defer h.mu.Unlock()
	ch := make(chan ReloadSignal, 1)
	h.subs = append(h.subs, ch)
	return ch
}

// TriggerReload broadcasts a new backend address list to every subscriber.
// Returns false if there are no subscribers.
func (h *ReloadHandle) TriggerReload(backends []string, now time.Time) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.subs) == 0 {
		return false
	}
	signal := ReloadSignal{Backends: backends, RequestedAt: now}
	for _, ch := range h.subs {
		select {
		case ch <- signal:
		default:
			// drop the stale pending signal and retry, watch::Sender-style last-value-wins
			select {
			case <-ch:
			default:
			}
			ch <- signal
		}
	}
	return true
}

// HasSubscribers reports whether any receiver is listening.
func (h *ReloadHandle) HasSubscribers() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs) > 0
}

// ReloadResult summarizes what apply_reload changed.
type ReloadResult struct {
	Added     []string
	Draining  []string
	Unchanged []string
}

type drainingBackend struct {
	backend   *Backend
	startedAt time.Time
}

// ReloadManager owns a backend pool and its selection strategy, applying
// reload signals by adding new backends immediately and draining removed
// ones (marking them unhealthy, then evicting once their active-request
// count hits zero or the drain timeout elapses).
type ReloadManager struct {
	cfg ReloadConfig
	log *zap.Logger

	mu        sync.Mutex
	backends  []*Backend
	selection Selector
	rebuild   func(n int) Selector
	draining  []drainingBackend
}

// NewReloadManager constructs a manager over an initial backend set.
// rebuild constructs a fresh Selector sized for n backends — callers using
// plain RoundRobin can pass func(int) Selector { return NewRoundRobin() }.
func NewReloadManager(cfg ReloadConfig, backends []*Backend, rebuild func(n int) Selector, log *zap.Logger) *ReloadManager {
	if log == nil {
		log = zap.NewNop()
	}
	return &ReloadManager{
		cfg:       cfg,
		log:       log,
		backends:  backends,
		selection: rebuild(len(backends)),
		rebuild:   rebuild,
	}
}

// Backends returns the current backend snapshot.
func (m *ReloadManager) Backends() []*Backend {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Backend, len(m.backends))
	copy(out, m.backends)
	return out
}

// Selection returns the current selector, rebuilt whenever the pool changes size.
func (m *ReloadManager) Selection() Selector {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.selection
}

// ApplyReload diffs signal.Backends against the current pool: new addresses
// are added immediately, addresses no longer present are marked unhealthy
// and queued for draining, and unchanged ones are left untouched.
func (m *ReloadManager) ApplyReload(signal ReloadSignal) ReloadResult {
	m.mu.Lock()
	defer m.mu.Unlock()

	newAddresses := make(map[string]bool, len(signal.Backends))
	for _, addr := range signal.Backends {
		newAddresses[addr] = true
	}

	var added []string
	var draining []*Backend
	var unchanged []*Backend

	currentAddresses := make(map[string]bool, len(m.backends))
	for _, b := range m.backends {
		currentAddresses[b.Address()] = true
	}
	for addr := range newAddresses {
		if !currentAddresses[addr] {
			added = append(added, addr)
		}
	}
	for _, b := range m.backends {
		if !newAddresses[b.Address()] {
			draining = append(draining, b)
		} else {
			unchanged = append(unchanged, b)
		}
	}

	if len(added) > 0 {
		m.log.Info("adding new backends", zap.Int("count", len(added)))
	}
	if len(draining) > 0 {
		m.log.Info("draining backends before removal", zap.Int("count", len(draining)))
	}

	now := time.Now()
	for _, b := range draining {
		m.draining = append(m.draining, drainingBackend{backend: b, startedAt: now})
	}

	newList := make([]*Backend, 0, len(unchanged)+len(draining)+len(added))
	newList = append(newList, unchanged...)
	for _, b := range draining {
		b.MarkUnhealthy()
		newList = append(newList, b)
	}
	unchangedAddrs := make([]string, len(unchanged))
	for i, b := range unchanged {
		unchangedAddrs[i] = b.Address()
	}
	for _, addr := range added {
		newList = append(newList, NewBackend(addr, 1))
	}

	m.backends = newList
	m.selection = m.rebuild(len(newList))

	drainingAddrs := make([]string, len(draining))
	for i, b := range draining {
		drainingAddrs[i] = b.Address()
	}

	return ReloadResult{Added: added, Draining: drainingAddrs, Unchanged: unchangedAddrs}
}

// ProcessDrainingBackends evicts any draining backend that has either
// reached zero active requests or exceeded the configured drain timeout.
// Returns the number of backends removed.
func (m *ReloadManager) ProcessDrainingBackends() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	toRemove := make(map[string]bool)
	remaining := m.draining[:0:0]

	for _, db := range m.draining {
		elapsed := now.Sub(db.startedAt)
		drained := db.backend.ActiveRequests() == 0
		timedOut := elapsed >= m.cfg.DrainTimeout

		switch {
		case drained:
			toRemove[db.backend.Address()] = true
		case timedOut:
			m.log.Warn("backend drain timed out, forcefully removing",
				zap.String("address", db.backend.Address()),
				zap.Int64("active_requests", db.backend.ActiveRequests()))
			toRemove[db.backend.Address()] = true
		default:
			remaining = append(remaining, db)
		}
	}

	if len(toRemove) == 0 {
		return 0
	}
	m.draining = remaining

	before := len(m.backends)
	kept := m.backends[:0:0]
	for _, b := range m.backends {
		if !toRemove[b.Address()] {
			kept = append(kept, b)
		}
	}
	m.backends = kept
	m.selection = m.rebuild(len(kept))

	removed := before - len(kept)
	if removed > 0 {
		m.log.Info("removed drained backends", zap.Int("count", removed))
	}
	return removed
}

// DrainingCount returns how many backends are currently draining.
func (m *ReloadManager) DrainingCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.draining)
}

// IsDraining reports whether address is in the drain list.
func (m *ReloadManager) IsDraining(address string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, db := range m.draining {
		if db.backend.Address() == address {
			return true
		}
	}
	return false
}

// ForceRemove removes a backend immediately without waiting for drain.
func (m *ReloadManager) ForceRemove(address string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	kept := m.draining[:0:0]
	for _, db := range m.draining {
		if db.backend.Address() != address {
			kept = append(kept, db)
		}
	}
	m.draining = kept

	before := len(m.backends)
	remainingBackends := m.backends[:0:0]
	for _, b := range m.backends {
		if b.Address() != address {
			remainingBackends = append(remainingBackends, b)
		}
	}
	removed := len(remainingBackends) < before
	if removed {
		m.backends = remainingBackends
		m.selection = m.rebuild(len(remainingBackends))
		m.log.Warn("backend forcefully removed", zap.String("address", address))
	}
	return removed
}

// WaitForDrain blocks, polling until address finishes draining or ctx is
// cancelled, processing the drain list on each poll. Returns true if the
// backend drained before the configured drain timeout elapsed.
func (m *ReloadManager) WaitForDrain(ctx context.Context, address string) bool {
	start := time.Now()
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		if !m.IsDraining(address) {
			return true
		}
		if time.Since(start) >= m.cfg.DrainTimeout {
			return false
		}
		m.ProcessDrainingBackends()

		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
		}
	}
}

// AddBackend adds a single backend immediately, returning false if it already exists.
func (m *ReloadManager) AddBackend(address string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, b := range m.backends {
		if b.Address() == address {
			return false
		}
	}
	m.backends = append(m.backends, NewBackend(address, 1))
	m.selection = m.rebuild(len(m.backends))
	m.log.Info("backend added", zap.String("address", address))
	return true
}

// RemoveBackend marks a backend unhealthy and queues it for draining.
func (m *ReloadManager) RemoveBackend(address string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	var target *Backend
	for _, b := range m.backends {
		if b.Address() == address {
			target = b
			break
		}
	}
	if target == nil {
		return false
	}

	target.MarkUnhealthy()
	for _, db := range m.draining {
		if db.backend.Address() == address {
			return true
		}
	}
	m.draining = append(m.draining, drainingBackend{backend: target, startedAt: time.Now()})
	m.log.Info("backend marked for draining", zap.String("address", address))
	return true
}
