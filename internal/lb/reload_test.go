package lb

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rebuildRoundRobin(n int) Selector { return NewRoundRobin() }

func TestReloadHandleTriggerRequiresSubscriber(t *testing.T) {
	h := NewReloadHandle()
	assert.False(t, h.HasSubscribers())
	assert.False(t, h.TriggerReload([]string{"a"}, time.Now()))
}

func TestReloadHandleDeliversSignal(t *testing.T) {
	h := NewReloadHandle()
	ch := h.Subscribe()
	assert.True(t, h.HasSubscribers())

	ok := h.TriggerReload([]string{"127.0.0.1:1"}, time.Now())
	require.True(t, ok)

	signal := <-ch
	assert.Equal(t, []string{"127.0.0.1:1"}, signal.Backends)
}

func TestApplyReloadAddsAndDrains(t *testing.T) {
	b1 := NewBackend("127.0.0.1:1", 1)
	b2 := NewBackend("127.0.0.1:2", 1)
	mgr := NewReloadManager(DefaultReloadConfig(), []*Backend{b1, b2}, rebuildRoundRobin, nil)

	result := mgr.ApplyReload(ReloadSignal{Backends: []string{"127.0.0.1:2", "127.0.0.1:3"}})

	assert.Equal(t, []string{"127.0.0.1:3"}, result.Added)
	assert.Equal(t, []string{"127.0.0.1:1"}, result.Draining)
	assert.Equal(t, []string{"127.0.0.1:2"}, result.Unchanged)
	assert.Equal(t, 1, mgr.DrainingCount())
	assert.True(t, mgr.IsDraining("127.0.0.1:1"))

	backends := mgr.Backends()
	assert.Len(t, backends, 3)
	for _, b := range backends {
		if b.Address() == "127.0.0.1:1" {
			assert.False(t, b.IsHealthy())
		}
	}
}

func TestProcessDrainingBackendsRemovesWhenIdle(t *testing.T) {
	b1 := NewBackend("127.0.0.1:1", 1)
	mgr := NewReloadManager(DefaultReloadConfig(), []*Backend{b1}, rebuildRoundRobin, nil)

	mgr.ApplyReload(ReloadSignal{Backends: nil})
	assert.Equal(t, 1, mgr.DrainingCount())

	removed := mgr.ProcessDrainingBackends()
	assert.Equal(t, 1, removed)
	assert.Empty(t, mgr.Backends())
}

func TestProcessDrainingBackendsWaitsForActiveRequests(t *testing.T) {
	b1 := NewBackend("127.0.0.1:1", 1)
	b1.StartRequest()
	mgr := NewReloadManager(DefaultReloadConfig(), []*Backend{b1}, rebuildRoundRobin, nil)

	mgr.ApplyReload(ReloadSignal{Backends: nil})
	removed := mgr.ProcessDrainingBackends()
	assert.Equal(t, 0, removed)
	assert.Equal(t, 1, mgr.DrainingCount())

	b1.EndRequest()
	removed = mgr.ProcessDrainingBackends()
	assert.Equal(t, 1, removed)
}

func TestProcessDrainingBackendsForcesAfterTimeout(t *testing.T) {
	b1 := NewBackend("127.0.0.1:1", 1)
	b1.StartRequest()
	cfg := ReloadConfig{DrainTimeout: 10 * time.Millisecond}
	mgr := NewReloadManager(cfg, []*Backend{b1}, rebuildRoundRobin, nil)

	mgr.ApplyReload(ReloadSignal{Backends: nil})
	time.Sleep(20 * time.Millisecond)

	removed := mgr.ProcessDrainingBackends()
	assert.Equal(t, 1, removed)
}

func TestForceRemove(t *testing.T) {
	b1 := NewBackend("127.0.0.1:1", 1)
	mgr := NewReloadManager(DefaultReloadConfig(), []*Backend{b1}, rebuildRoundRobin, nil)

	assert.True(t, mgr.ForceRemove("127.0.0.1:1"))
	assert.Empty(t, mgr.Backends())
	assert.False(t, mgr.ForceRemove("127.0.0.1:1"))
}

func TestAddBackendRejectsDuplicate(t *testing.T) {
	mgr := NewReloadManager(DefaultReloadConfig(), nil, rebuildRoundRobin, nil)
	assert.True(t, mgr.AddBackend("127.0.0.1:1"))
	assert.False(t, mgr.AddBackend("127.0.0.1:1"))
	assert.Len(t, mgr.Backends(), 1)
}

func TestRemoveBackendQueuesDrain(t *testing.T) {
	b1 := NewBackend("127.0.0.1:1", 1)
	mgr := NewReloadManager(DefaultReloadConfig(), []*Backend{b1}, rebuildRoundRobin, nil)

	assert.True(t, mgr.RemoveBackend("127.0.0.1:1"))
	assert.False(t, b1.IsHealthy())
	assert.Equal(t, 1, mgr.DrainingCount())
	assert.False(t, mgr.RemoveBackend("127.0.0.1:404"))
}

func TestWaitForDrainReturnsTrueWhenDrained(t *testing.T) {
	b1 := NewBackend("127.0.0.1:1", 1)
	mgr := NewReloadManager(DefaultReloadConfig(), []*Backend{b1}, rebuildRoundRobin, nil)
	mgr.RemoveBackend("127.0.0.1:1")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.True(t, mgr.WaitForDrain(ctx, "127.0.0.1:1"))
}

func TestWaitForDrainReturnsFalseOnContextCancel(t *testing.T) {
	b1 := NewBackend("127.0.0.1:1", 1)
	b1.StartRequest()
	mgr := NewReloadManager(DefaultReloadConfig(), []*Backend{b1}, rebuildRoundRobin, nil)
	mgr.RemoveBackend("127.0.0.1:1")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	assert.False(t, mgr.WaitForDrain(ctx, "127.0.0.1:1"))
}
