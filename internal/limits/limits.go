// Package limits implements request admission control: a global concurrency
// ceiling plus a per-module ceiling, both backed by weighted semaphores.
//
// The original gates concurrency with a tokio Semaphore for the whole
// runtime and one more per module, created lazily and cached in a
// lock-guarded map with a double-checked-locking fast path. Go's goroutines
// make this less load-bearing than in Rust, but the two-tier shape (protect
// the whole host, then protect one noisy module from starving the rest) is
// kept exactly: golang.org/x/sync/semaphore.Weighted is the stdlib-adjacent
// equivalent of tokio::sync::Semaphore, and the lazy per-module map keeps
// the same get-or-create pattern.
package limits

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/dufeut/mik/internal/mikerrors"
)

// Limiter bounds in-flight executions globally and per module.
type Limiter struct {
	global           *semaphore.Weighted
	maxPerModule     int64
	mu               sync.Mutex
	moduleSemaphores map[string]*semaphore.Weighted
}

// New constructs a Limiter. maxConcurrent bounds total in-flight executions;
// maxPerModule bounds in-flight executions for any single module.
func New(maxConcurrent, maxPerModule int64) *Limiter {
	return &Limiter{
		global:           semaphore.NewWeighted(maxConcurrent),
		maxPerModule:     maxPerModule,
		moduleSemaphores: make(map[string]*semaphore.Weighted),
	}
}

func (l *Limiter) moduleSemaphore(name string) *semaphore.Weighted {
	l.mu.Lock()
	defer l.mu.Unlock()
	if sem, ok := l.moduleSemaphores[name]; ok {
		return sem
	}
	sem := semaphore.NewWeighted(l.maxPerModule)
	l.moduleSemaphores[name] = sem
	return sem
}

// Release undoes one successful Acquire call.
type Release func()

// Acquire reserves one global slot and one per-module slot, in that lock
// order (global, then module) to match the original's documented ordering
// and avoid a deadlock between the two tiers. Both reservations use
// TryAcquire rather than the blocking Acquire: spec.md §4.4 requires
// admission control to fail fast with a 503 under sustained overload, not
// park the request's goroutine until a slot frees or ctx is cancelled. It
// returns a release function that must be called exactly once, or an
// AdmissionDenied MikError immediately if either tier is already full.
func (l *Limiter) Acquire(ctx context.Context, moduleName string) (Release, error) {
	if !l.global.TryAcquire(1) {
		return nil, mikerrors.AdmissionDenied("global request limit reached", nil)
	}

	moduleSem := l.moduleSemaphore(moduleName)
	if !moduleSem.TryAcquire(1) {
		l.global.Release(1)
		return nil, mikerrors.AdmissionDenied("per-module request limit reached for "+moduleName, nil)
	}

	released := false
	return func() {
		if released {
			return
		}
		released = true
		moduleSem.Release(1)
		l.global.Release(1)
	}, nil
}
