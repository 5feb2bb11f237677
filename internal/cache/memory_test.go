package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryCache(t *testing.T) {
	ctx := context.Background()

	t.Run("basic operations", func(t *testing.T) {
		c := NewMemory(5 * time.Minute)
		defer func() { _ = c.Close() }()

		_, found, err := c.Get(ctx, "missing")
		require.NoError(t, err)
		assert.False(t, found)

		require.NoError(t, c.Set(ctx, "key1", []byte("value"), 0))

		got, found, err := c.Get(ctx, "key1")
		require.NoError(t, err)
		assert.True(t, found)
		assert.Equal(t, []byte("value"), got)
		assert.Equal(t, 1, c.Len())
	})

	t.Run("expiration", func(t *testing.T) {
		c := NewMemory(time.Minute)
		defer func() { _ = c.Close() }()

		require.NoError(t, c.Set(ctx, "key2", []byte("v"), 50*time.Millisecond))

		_, found, _ := c.Get(ctx, "key2")
		assert.True(t, found)

		time.Sleep(100 * time.Millisecond)

		_, found, _ = c.Get(ctx, "key2")
		assert.False(t, found)

		c.evictExpired(time.Now())
		assert.Equal(t, 0, c.Len())
	})

	t.Run("stored values are copies", func(t *testing.T) {
		c := NewMemory(time.Minute)
		defer func() { _ = c.Close() }()

		value := []byte("abc")
		require.NoError(t, c.Set(ctx, "k", value, 0))
		value[0] = 'z'

		got, _, _ := c.Get(ctx, "k")
		assert.Equal(t, []byte("abc"), got)
	})

	t.Run("close is idempotent", func(t *testing.T) {
		c := NewMemory(time.Minute)
		require.NoError(t, c.Close())
		require.NoError(t, c.Close())
	})
}

func TestKey(t *testing.T) {
	a := Key("text", "jane@example.com")
	b := Key("text", "jane@example.com")
	c := Key("vision", "jane@example.com")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.NotContains(t, a, "jane")
	assert.NotEqual(t, Key("n", "ab", "c"), Key("n", "a", "bc"))
}
