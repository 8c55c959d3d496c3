package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCache(t *testing.T) {
	t.Parallel()
	c := New(2)
	c.Add("a", 1)
	c.Add("b", 2)

	v, found := c.Get("a")
	require.True(t, found)
	assert.Equal(t, 1, v)

	c.Add("c", 3) // evicts "b", the least recently used after Get("a")
	_, found = c.Get("b")
	assert.False(t, found)

	v, found = c.Get("c")
	require.True(t, found)
	assert.Equal(t, 3, v)
	assert.Equal(t, 2, c.Len())
}

func TestCacheRemove(t *testing.T) {
	t.Parallel()
	c := New(5)
	c.Add("a", 1)
	c.Remove("a")
	_, found := c.Get("a")
	assert.False(t, found)
}
