package limits

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dufeut/mik/internal/mikerrors"
)

func TestAcquireReleaseRoundTrip(t *testing.T) {
	l := New(2, 2)
	release, err := l.Acquire(context.Background(), "mod")
	require.NoError(t, err)
	release()
}

func TestGlobalLimitFailsFast(t *testing.T) {
	l := New(1, 5)
	release, err := l.Acquire(context.Background(), "mod-a")
	require.NoError(t, err)
	defer release()

	// A saturated global semaphore must reject immediately, not block the
	// caller's goroutine waiting for a slot to free (spec.md §4.4's 503
	// fail-fast admission control) — so this uses an already-live ctx with
	// plenty of budget left, not a short timeout, to prove TryAcquire never
	// parks on it.
	start := time.Now()
	_, err = l.Acquire(context.Background(), "mod-b")
	assert.Less(t, time.Since(start), 10*time.Millisecond)
	require.Error(t, err)
	assert.Equal(t, mikerrors.KindAdmissionDenied, mikerrors.KindOf(err))
}

func TestPerModuleLimitIsolated(t *testing.T) {
	l := New(10, 1)
	releaseA, err := l.Acquire(context.Background(), "mod-a")
	require.NoError(t, err)
	defer releaseA()

	// mod-b has its own slot, unaffected by mod-a's saturation.
	releaseB, err := l.Acquire(context.Background(), "mod-b")
	require.NoError(t, err)
	releaseB()

	start := time.Now()
	_, err = l.Acquire(context.Background(), "mod-a")
	assert.Less(t, time.Since(start), 10*time.Millisecond)
	require.Error(t, err)
	assert.Equal(t, mikerrors.KindAdmissionDenied, mikerrors.KindOf(err))
}

func TestReleaseIsIdempotent(t *testing.T) {
	l := New(1, 1)
	release, err := l.Acquire(context.Background(), "mod")
	require.NoError(t, err)
	release()
	assert.NotPanics(t, func() { release() })

	_, err = l.Acquire(context.Background(), "mod")
	assert.NoError(t, err)
}
