package cache

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoundTrip(t *testing.T) {
	c, err := Open(filepath.Join(t.TempDir(), "c"))
	require.NoError(t, err)

	key := Key("abc", "stylus", "v1")
	assert.NotEqual(t, key, Key("abc", "anchor", "v1"))
	assert.NotEqual(t, Key("ab", "c"), Key("a", "bc"))

	_, ok := c.Load(key)
	assert.False(t, ok)

	type entry struct{ N int }
	require.NoError(t, c.StoreJSON(key, entry{N: 7}))
	var got entry
	require.True(t, c.LoadJSON(key, &got))
	assert.Equal(t, 7, got.N)

	require.NoError(t, c.Clear())
	assert.False(t, c.LoadJSON(key, &got))
}

func TestCorruptEntryIsMiss(t *testing.T) {
	c, err := Open(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(c.Dir(), "k.json"), []byte("{"), 0o644))
	var v map[string]any
	assert.False(t, c.LoadJSON("k", &v))
}

func TestNilCache(t *testing.T) {
	var c *Cache
	_, ok := c.Load("k")
	assert.False(t, ok)
	assert.NoError(t, c.Store("k", []byte("x")))
	assert.NoError(t, c.Clear())
}
