// Package breaker implements a per-key circuit breaker: Closed, Open, and
// HalfOpen states with a single in-flight probe during recovery.
//
// The original takes every state transition through moka's lock-free
// entry.and_compute_with, which linearizes a read-modify-write on one cache
// entry without a held lock. Go has no equivalent primitive, so each tracked
// key gets its own mutex-guarded state struct instead: the lock is held only
// for the few field reads/writes of one transition, never across I/O, so it
// gives the same single-linearization-point guarantee under contention. The
// outer map from key to per-key entry is an expirable.LRU bounding the
// tracked-key count and evicting keys idle past IdleTimeout, mirroring
// moka's max_capacity + time_to_idle cache builder.
package breaker

import (
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"

	"github.com/dufeut/mik/internal/mikerrors"
)

// State is one of the three circuit states.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// Config tunes a Breaker's thresholds and tracked-key bounds.
type Config struct {
	FailureThreshold uint32
	Timeout          time.Duration
	ProbeTimeout     time.Duration
	MaxTrackedKeys   int
	IdleTimeout      time.Duration
}

// DefaultConfig matches the original's defaults: 5 failures to open, 30s
// recovery, 1000 tracked keys idle-evicted after 10 minutes.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		Timeout:          30 * time.Second,
		ProbeTimeout:     30 * time.Second,
		MaxTrackedKeys:   1000,
		IdleTimeout:      10 * time.Minute,
	}
}

// Reason distinguishes why check_request rejected a call.
type Reason int

const (
	ReasonOpen Reason = iota
	ReasonProbeInFlight
)

// OpenError is the cause wrapped by the AdmissionDenied error CheckRequest
// returns when a call is rejected.
type OpenError struct {
	Key          string
	FailureCount uint32
	Reason       Reason
}

func (e *OpenError) Error() string {
	if e.Reason == ReasonProbeInFlight {
		return "circuit breaker for '" + e.Key + "' is testing recovery (probe in flight)"
	}
	return "circuit breaker open for '" + e.Key + "'"
}

// entry holds one key's state behind its own mutex so a transition never
// blocks on any other key's.
type entry struct {
	mu                sync.Mutex
	state             State
	failureCount      uint32
	openedAt          time.Time
	halfOpenStartedAt time.Time
}

// Breaker is a thread-safe, per-key circuit breaker.
type Breaker struct {
	cfg     Config
	log     *zap.Logger
	mu      sync.Mutex // guards getOrCreate against the LRU
	entries *expirable.LRU[string, *entry]
}

// New constructs a Breaker with DefaultConfig.
func New(log *zap.Logger) *Breaker {
	return WithConfig(DefaultConfig(), log)
}

// WithConfig constructs a Breaker with custom thresholds.
func WithConfig(cfg Config, log *zap.Logger) *Breaker {
	return &Breaker{
		cfg:     cfg,
		log:     log,
		entries: expirable.NewLRU[string, *entry](cfg.MaxTrackedKeys, nil, cfg.IdleTimeout),
	}
}

func (b *Breaker) getOrCreate(key string) *entry {
	b.mu.Lock()
	defer b.mu.Unlock()
	if e, ok := b.entries.Get(key); ok {
		return e
	}
	e := &entry{state: Closed}
	b.entries.Add(key, e)
	return e
}

func (b *Breaker) peek(key string) (*entry, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.entries.Peek(key)
}

// CheckRequest reports whether a call for key should proceed. A Closed
// circuit always allows. An Open circuit allows once its timeout has
// elapsed, transitioning to HalfOpen and treating this call as the probe.
// A HalfOpen circuit allows only one in-flight probe; further calls are
// rejected until it resolves via RecordSuccess/RecordFailure or its own
// probe timeout elapses.
func (b *Breaker) CheckRequest(key string) error {
	e := b.getOrCreate(key)
	e.mu.Lock()
	defer e.mu.Unlock()

	switch e.state {
	case Closed:
		return nil
	case Open:
		if time.Since(e.openedAt) >= b.cfg.Timeout {
			b.log.Info("circuit breaker transitioning to half-open", zap.String("key", key))
			e.state = HalfOpen
			e.halfOpenStartedAt = time.Now()
			return nil
		}
		return mikerrors.AdmissionDenied("circuit open for "+key, &OpenError{Key: key, FailureCount: e.failureCount, Reason: ReasonOpen})
	case HalfOpen:
		if time.Since(e.halfOpenStartedAt) >= b.cfg.ProbeTimeout {
			b.log.Warn("circuit breaker probe timed out, allowing new probe", zap.String("key", key))
			e.halfOpenStartedAt = time.Now()
			return nil
		}
		return mikerrors.AdmissionDenied("circuit probe in flight for "+key, &OpenError{Key: key, Reason: ReasonProbeInFlight})
	default:
		return nil
	}
}

// IsBlocking reports whether CheckRequest would currently reject key.
func (b *Breaker) IsBlocking(key string) bool {
	return b.CheckRequest(key) != nil
}

// IsOpen reports whether key is in the Open state, ignoring timeout.
func (b *Breaker) IsOpen(key string) bool {
	e, ok := b.peek(key)
	if !ok {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state == Open
}

// RecordSuccess reports a successful call for key. Closed resets the
// failure count; HalfOpen closes the circuit (recovery confirmed).
func (b *Breaker) RecordSuccess(key string) {
	e, ok := b.peek(key)
	if !ok {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	switch e.state {
	case Closed:
		e.failureCount = 0
	case HalfOpen:
		b.log.Info("circuit breaker closing after successful recovery", zap.String("key", key))
		e.state = Closed
		e.failureCount = 0
	case Open:
		b.log.Warn("unexpected success in open circuit state", zap.String("key", key))
	}
}

// RecordFailure reports a failed call for key. Closed increments the
// failure count and opens the circuit once the threshold is reached;
// HalfOpen reopens immediately (recovery failed); Open extends its timeout.
func (b *Breaker) RecordFailure(key string) {
	e := b.getOrCreate(key)
	e.mu.Lock()
	defer e.mu.Unlock()

	switch e.state {
	case Closed:
		e.failureCount = saturatingAdd(e.failureCount, 1)
		if e.failureCount >= b.cfg.FailureThreshold {
			b.log.Warn("circuit breaker opening after failures",
				zap.String("key", key), zap.Uint32("failures", e.failureCount))
			e.state = Open
			e.openedAt = time.Now()
		}
	case HalfOpen:
		b.log.Warn("circuit breaker reopening after failed recovery", zap.String("key", key))
		e.state = Open
		e.openedAt = time.Now()
		e.failureCount = 1
	case Open:
		e.openedAt = time.Now()
		e.failureCount = saturatingAdd(e.failureCount, 1)
	}
}

func saturatingAdd(a, b uint32) uint32 {
	sum := a + b
	if sum < a {
		return ^uint32(0)
	}
	return sum
}

// FailureCount returns the tracked failure count for key (0 while HalfOpen
// or untracked).
func (b *Breaker) FailureCount(key string) uint32 {
	e, ok := b.peek(key)
	if !ok {
		return 0
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == HalfOpen {
		return 0
	}
	return e.failureCount
}

// State returns the current state for key (Closed if untracked).
func (b *Breaker) State(key string) State {
	e, ok := b.peek(key)
	if !ok {
		return Closed
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Reset forces key back to Closed with a zeroed failure count. A no-op for
// untracked keys.
func (b *Breaker) Reset(key string) {
	e, ok := b.peek(key)
	if !ok {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	b.log.Info("manually resetting circuit breaker", zap.String("key", key))
	e.state = Closed
	e.failureCount = 0
}

// TrackedCount returns the number of keys currently tracked.
func (b *Breaker) TrackedCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.entries.Len()
}

// StateSnapshot is one (key, state) pair as returned by Snapshot.
type StateSnapshot struct {
	Key   string
	State State
}

// Snapshot returns every tracked key's state, for the administrative
// introspection endpoint.
func (b *Breaker) Snapshot() []StateSnapshot {
	b.mu.Lock()
	keys := b.entries.Keys()
	b.mu.Unlock()

	out := make([]StateSnapshot, 0, len(keys))
	for _, k := range keys {
		e, ok := b.peek(k)
		if !ok {
			continue
		}
		e.mu.Lock()
		out = append(out, StateSnapshot{Key: k, State: e.state})
		e.mu.Unlock()
	}
	return out
}
