package lb

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBackendNew(t *testing.T) {
	b := NewBackend("127.0.0.1:3001", 1)
	assert.Equal(t, "127.0.0.1:3001", b.Address())
	assert.True(t, b.IsHealthy())
	assert.Equal(t, Unknown, b.State())
}

func TestBackendURL(t *testing.T) {
	b := NewBackend("127.0.0.1:3001", 1)
	assert.Equal(t, "http://127.0.0.1:3001/health", b.URL("/health"))
	assert.Equal(t, "http://127.0.0.1:3001/run/echo/", b.URL("/run/echo/"))
}

func TestBackendHealthTransitions(t *testing.T) {
	b := NewBackend("127.0.0.1:3001", 1)

	assert.True(t, b.IsHealthy())
	assert.Equal(t, uint64(0), b.FailureCount())
	assert.Equal(t, uint64(0), b.SuccessCount())

	b.MarkHealthy()
	assert.True(t, b.IsHealthy())
	assert.Equal(t, Healthy, b.State())
	assert.Equal(t, uint64(1), b.SuccessCount())
	assert.Equal(t, uint64(0), b.FailureCount())

	b.MarkUnhealthy()
	assert.False(t, b.IsHealthy())
	assert.Equal(t, Unhealthy, b.State())
	assert.Equal(t, uint64(1), b.FailureCount())
	assert.Equal(t, uint64(0), b.SuccessCount())

	b.MarkHealthy()
	assert.True(t, b.IsHealthy())
	assert.Equal(t, uint64(0), b.FailureCount())
}

func TestBackendRequestTracking(t *testing.T) {
	b := NewBackend("127.0.0.1:3001", 1)

	assert.Equal(t, int64(0), b.ActiveRequests())
	assert.Equal(t, uint64(0), b.TotalRequests())

	b.StartRequest()
	assert.Equal(t, int64(1), b.ActiveRequests())
	b.StartRequest()
	assert.Equal(t, int64(2), b.ActiveRequests())

	b.RecordSuccess()
	assert.Equal(t, uint64(1), b.TotalRequests())

	b.EndRequest()
	assert.Equal(t, int64(1), b.ActiveRequests())
	b.EndRequest()
	assert.Equal(t, int64(0), b.ActiveRequests())
}
