package breaker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestInitialStateIsClosed(t *testing.T) {
	b := New(zap.NewNop())
	assert.Equal(t, Closed, b.State("svc"))
	assert.Equal(t, uint32(0), b.FailureCount("svc"))
	assert.NoError(t, b.CheckRequest("svc"))
	assert.False(t, b.IsBlocking("svc"))
	assert.False(t, b.IsOpen("svc"))
}

func TestOpensAfterThreshold(t *testing.T) {
	b := WithConfig(Config{FailureThreshold: 3, Timeout: time.Minute, ProbeTimeout: time.Minute, MaxTrackedKeys: 10, IdleTimeout: time.Hour}, zap.NewNop())

	b.RecordFailure("test")
	assert.False(t, b.IsOpen("test"))
	b.RecordFailure("test")
	assert.False(t, b.IsOpen("test"))
	b.RecordFailure("test")
	assert.True(t, b.IsOpen("test"))
}

func TestStaysClosedBelowThreshold(t *testing.T) {
	b := WithConfig(Config{FailureThreshold: 5, Timeout: time.Minute, ProbeTimeout: time.Minute, MaxTrackedKeys: 10, IdleTimeout: time.Hour}, zap.NewNop())
	for i := uint32(1); i < 5; i++ {
		b.RecordFailure("test")
		assert.False(t, b.IsOpen("test"))
		assert.Equal(t, i, b.FailureCount("test"))
	}
}

func TestSuccessResetsFailureCount(t *testing.T) {
	b := New(zap.NewNop())
	b.RecordFailure("test")
	b.RecordFailure("test")
	assert.Equal(t, uint32(2), b.FailureCount("test"))

	b.RecordSuccess("test")
	assert.Equal(t, uint32(0), b.FailureCount("test"))
	assert.Equal(t, Closed, b.State("test"))
}

func TestOpenCircuitRejectsCalls(t *testing.T) {
	b := WithConfig(Config{FailureThreshold: 2, Timeout: 300 * time.Second, ProbeTimeout: 300 * time.Second, MaxTrackedKeys: 10, IdleTimeout: time.Hour}, zap.NewNop())
	b.RecordFailure("test")
	b.RecordFailure("test")

	err := b.CheckRequest("test")
	require.Error(t, err)

	var oe *OpenError
	require.ErrorAs(t, err, &oe)
	assert.Equal(t, "test", oe.Key)
	assert.Equal(t, uint32(2), oe.FailureCount)
	assert.Equal(t, ReasonOpen, oe.Reason)
}

func TestTransitionsToHalfOpenAfterTimeout(t *testing.T) {
	b := WithConfig(Config{FailureThreshold: 2, Timeout: 50 * time.Millisecond, ProbeTimeout: time.Minute, MaxTrackedKeys: 10, IdleTimeout: time.Hour}, zap.NewNop())
	b.RecordFailure("test")
	b.RecordFailure("test")
	assert.True(t, b.IsOpen("test"))

	time.Sleep(100 * time.Millisecond)

	assert.NoError(t, b.CheckRequest("test"))
	assert.Equal(t, HalfOpen, b.State("test"))
}

func TestHalfOpenAllowsSingleProbe(t *testing.T) {
	b := WithConfig(Config{FailureThreshold: 2, Timeout: 50 * time.Millisecond, ProbeTimeout: 60 * time.Second, MaxTrackedKeys: 10, IdleTimeout: time.Hour}, zap.NewNop())
	b.RecordFailure("test")
	b.RecordFailure("test")
	time.Sleep(100 * time.Millisecond)

	require.NoError(t, b.CheckRequest("test"))

	err := b.CheckRequest("test")
	require.Error(t, err)
	var oe *OpenError
	require.ErrorAs(t, err, &oe)
	assert.Equal(t, ReasonProbeInFlight, oe.Reason)
}

func TestHalfOpenSuccessClosesCircuit(t *testing.T) {
	b := WithConfig(Config{FailureThreshold: 2, Timeout: 50 * time.Millisecond, ProbeTimeout: time.Minute, MaxTrackedKeys: 10, IdleTimeout: time.Hour}, zap.NewNop())
	b.RecordFailure("test")
	b.RecordFailure("test")
	time.Sleep(100 * time.Millisecond)

	require.NoError(t, b.CheckRequest("test"))
	assert.Equal(t, HalfOpen, b.State("test"))

	b.RecordSuccess("test")
	assert.Equal(t, Closed, b.State("test"))
	assert.NoError(t, b.CheckRequest("test"))
}

func TestHalfOpenFailureReopensCircuit(t *testing.T) {
	b := WithConfig(Config{FailureThreshold: 2, Timeout: 50 * time.Millisecond, ProbeTimeout: time.Minute, MaxTrackedKeys: 10, IdleTimeout: time.Hour}, zap.NewNop())
	b.RecordFailure("test")
	b.RecordFailure("test")
	time.Sleep(100 * time.Millisecond)

	require.NoError(t, b.CheckRequest("test"))
	b.RecordFailure("test")

	assert.Equal(t, Open, b.State("test"))
	assert.True(t, b.IsOpen("test"))
}

func TestThresholdOfOne(t *testing.T) {
	b := WithConfig(Config{FailureThreshold: 1, Timeout: time.Minute, ProbeTimeout: time.Minute, MaxTrackedKeys: 10, IdleTimeout: time.Hour}, zap.NewNop())
	b.RecordFailure("test")
	assert.True(t, b.IsOpen("test"))
}

func TestKeysAreIsolated(t *testing.T) {
	b := WithConfig(Config{FailureThreshold: 2, Timeout: time.Minute, ProbeTimeout: time.Minute, MaxTrackedKeys: 10, IdleTimeout: time.Hour}, zap.NewNop())
	b.RecordFailure("service-a")
	b.RecordFailure("service-a")

	assert.True(t, b.IsOpen("service-a"))
	assert.Error(t, b.CheckRequest("service-a"))

	assert.False(t, b.IsOpen("service-b"))
	assert.NoError(t, b.CheckRequest("service-b"))
}

func TestResetClosesOpenCircuit(t *testing.T) {
	b := WithConfig(Config{FailureThreshold: 2, Timeout: time.Minute, ProbeTimeout: time.Minute, MaxTrackedKeys: 10, IdleTimeout: time.Hour}, zap.NewNop())
	b.RecordFailure("test")
	b.RecordFailure("test")
	require.True(t, b.IsOpen("test"))

	b.Reset("test")

	assert.False(t, b.IsOpen("test"))
	assert.Equal(t, uint32(0), b.FailureCount("test"))
	assert.NoError(t, b.CheckRequest("test"))
}

func TestResetNonexistentKeyIsNoop(t *testing.T) {
	b := New(zap.NewNop())
	assert.NotPanics(t, func() { b.Reset("nonexistent") })
	assert.Equal(t, uint32(0), b.FailureCount("nonexistent"))
}

func TestSnapshot(t *testing.T) {
	b := WithConfig(Config{FailureThreshold: 2, Timeout: time.Minute, ProbeTimeout: time.Minute, MaxTrackedKeys: 10, IdleTimeout: time.Hour}, zap.NewNop())
	b.RecordFailure("closed-service")
	b.RecordFailure("open-service")
	b.RecordFailure("open-service")

	states := b.Snapshot()

	found := map[string]State{}
	for _, s := range states {
		found[s.Key] = s.State
	}
	assert.Equal(t, Closed, found["closed-service"])
	assert.Equal(t, Open, found["open-service"])
}

func TestFailureInOpenStateExtendsTimeout(t *testing.T) {
	b := WithConfig(Config{FailureThreshold: 2, Timeout: 100 * time.Millisecond, ProbeTimeout: time.Minute, MaxTrackedKeys: 10, IdleTimeout: time.Hour}, zap.NewNop())
	b.RecordFailure("test")
	b.RecordFailure("test")
	require.True(t, b.IsOpen("test"))

	time.Sleep(60 * time.Millisecond)
	b.RecordFailure("test")
	time.Sleep(60 * time.Millisecond)

	assert.Error(t, b.CheckRequest("test"))
}

func TestSuccessOnNewKeyIsNoop(t *testing.T) {
	b := New(zap.NewNop())
	assert.NotPanics(t, func() { b.RecordSuccess("new-key") })
	assert.Equal(t, uint32(0), b.FailureCount("new-key"))
}

func TestTrackedCount(t *testing.T) {
	b := New(zap.NewNop())
	assert.Equal(t, 0, b.TrackedCount())

	b.RecordFailure("key-a")
	b.RecordFailure("key-b")
	b.RecordFailure("key-c")

	assert.Equal(t, 3, b.TrackedCount())
}

func TestMaxTrackedKeysEvictsLRU(t *testing.T) {
	b := WithConfig(Config{FailureThreshold: 5, Timeout: time.Minute, ProbeTimeout: time.Minute, MaxTrackedKeys: 2, IdleTimeout: time.Hour}, zap.NewNop())
	b.RecordFailure("a")
	b.RecordFailure("b")
	b.RecordFailure("c")

	assert.Equal(t, 2, b.TrackedCount())
}
