package utils

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCache_GetSet(t *testing.T) {
	c := NewCache[int](time.Minute)

	_, ok := c.Get("missing")
	assert.False(t, ok)

	c.Set("a", 1)
	v, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, 1, v)

	c.Set("a", 2)
	v, ok = c.Get("a")
	require.True(t, ok)
	assert.Equal(t, 2, v)
}

func TestCache_TTLExpiration(t *testing.T) {
	now := time.Now()
	clock := func() time.Time { return now }
	c := NewCacheWithClock[string](60*time.Second, clock)

	c.Set("price", "150.25")

	v, ok := c.Get("price")
	require.True(t, ok)
	assert.Equal(t, "150.25", v)

	// Just inside the window
	now = now.Add(59 * time.Second)
	_, ok = c.Get("price")
	assert.True(t, ok)

	// At the boundary the entry is stale
	now = now.Add(1 * time.Second)
	_, ok = c.Get("price")
	assert.False(t, ok, "entry should have expired")
}

func TestCache_SetRefreshesTTL(t *testing.T) {
	now := time.Now()
	c := NewCacheWithClock[int](time.Minute, func() time.Time { return now })

	c.Set("a", 1)
	now = now.Add(45 * time.Second)
	c.Set("a", 2)
	now = now.Add(45 * time.Second)

	v, ok := c.Get("a")
	require.True(t, ok, "rewrite should have reset the entry age")
	assert.Equal(t, 2, v)
}

func TestCache_Clear(t *testing.T) {
	c := NewCache[int](time.Minute)
	c.Set("a", 1)
	c.Set("b", 2)

	c.Clear()

	_, ok := c.Get("a")
	assert.False(t, ok)
	_, ok = c.Get("b")
	assert.False(t, ok)
}

func TestCache_ConcurrentAccess(t *testing.T) {
	c := NewCache[int](time.Minute)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				c.Set("shared", n)
				c.Get("shared")
			}
		}(i)
	}
	wg.Wait()

	_, ok := c.Get("shared")
	assert.True(t, ok)
}
