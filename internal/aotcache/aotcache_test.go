package aotcache

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestKeyDeterministic(t *testing.T) {
	a := Key([]byte("hello world"))
	b := Key([]byte("hello world"))
	assert.Equal(t, a, b)
	assert.Len(t, a, 32)

	c := Key([]byte("different"))
	assert.NotEqual(t, a, c)
}

func TestPutGetRoundTrip(t *testing.T) {
	dir := t.TempDir()
	c, err := New(dir, 1<<20, false, zap.NewNop())
	require.NoError(t, err)

	src := []byte("source bytes")
	compiled := []byte("compiled artifact")

	path, err := c.Put(src, compiled)
	require.NoError(t, err)

	got, ok := c.Get(src)
	require.True(t, ok)
	assert.Equal(t, path, got)

	data, err := os.ReadFile(got)
	require.NoError(t, err)
	assert.Equal(t, compiled, data)
}

func TestBypassMode(t *testing.T) {
	dir := t.TempDir()
	c, err := New(dir, 1<<20, true, zap.NewNop())
	require.NoError(t, err)

	_, err = c.Put([]byte("a"), []byte("b"))
	assert.NoError(t, err)

	_, ok := c.Get([]byte("a"))
	assert.False(t, ok)

	assert.False(t, c.Remove([]byte("a")))
}

func TestSizeCapEvictsOldest(t *testing.T) {
	dir := t.TempDir()
	c, err := New(dir, 10, false, zap.NewNop())
	require.NoError(t, err)

	_, err = c.Put([]byte("a"), []byte("0123456789"))
	require.NoError(t, err)
	_, ok := c.Get([]byte("a"))
	require.True(t, ok)

	_, err = c.Put([]byte("b"), []byte("abcdefghij"))
	require.NoError(t, err)

	// "a" should have been evicted to keep total bytes <= 10.
	_, ok = c.Get([]byte("a"))
	assert.False(t, ok)
	_, ok = c.Get([]byte("b"))
	assert.True(t, ok)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestRemove(t *testing.T) {
	dir := t.TempDir()
	c, err := New(dir, 1<<20, false, zap.NewNop())
	require.NoError(t, err)

	_, err = c.Put([]byte("x"), []byte("y"))
	require.NoError(t, err)

	assert.True(t, c.Remove([]byte("x")))
	_, ok := c.Get([]byte("x"))
	assert.False(t, ok)
	assert.False(t, c.Remove([]byte("x")))
}

func TestLoadExisting(t *testing.T) {
	dir := t.TempDir()
	c1, err := New(dir, 1<<20, false, zap.NewNop())
	require.NoError(t, err)
	_, err = c1.Put([]byte("persisted"), []byte("artifact"))
	require.NoError(t, err)

	c2, err := New(dir, 1<<20, false, zap.NewNop())
	require.NoError(t, err)

	p, ok := c2.Get([]byte("persisted"))
	require.True(t, ok)
	assert.Equal(t, filepath.Join(dir, Key([]byte("persisted"))+".aot"), p)
}
