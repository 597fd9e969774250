package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPutGet(t *testing.T) {
	c := NewMemory()

	c.Put("k", "v", time.Minute)

	got, ok := c.Get("k")
	assert.True(t, ok)
	assert.Equal(t, "v", got)

	_, ok = c.Get("missing")
	assert.False(t, ok)
}

func TestExpiry(t *testing.T) {
	c := NewMemory()

	c.Put("k", "v", 10*time.Millisecond)
	time.Sleep(20 * time.Millisecond)

	_, ok := c.Get("k")
	assert.False(t, ok)
}

func TestEvict(t *testing.T) {
	c := NewMemory()

	c.Put("k", "v", time.Minute)
	c.Evict("k")

	_, ok := c.Get("k")
	assert.False(t, ok)

	// Evicting an absent key is a no-op
	c.Evict("missing")
}

func TestOverwrite(t *testing.T) {
	c := NewMemory()

	c.Put("k", "v1", time.Minute)
	c.Put("k", "v2", time.Minute)

	got, ok := c.Get("k")
	assert.True(t, ok)
	assert.Equal(t, "v2", got)
}

func TestSweep(t *testing.T) {
	c := NewMemory()

	c.Put("fresh", 1, time.Minute)
	c.Put("stale", 2, time.Millisecond)
	time.Sleep(5 * time.Millisecond)

	c.sweep()
	assert.Equal(t, 1, c.Len())
}
