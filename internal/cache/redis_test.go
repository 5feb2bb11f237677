package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisCache(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)

	client, err := NewRedisClient(RedisConfig{Address: mr.Addr()})
	require.NoError(t, err)

	c := NewRedis(client, RedisConfig{Prefix: "test", TTL: time.Minute})
	defer func() { _ = c.Close() }()

	_, found, err := c.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, c.Set(ctx, "k", []byte(`[{"category":"email"}]`), 0))
	assert.True(t, mr.Exists("test:k"))

	got, found, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, found)
	assert.JSONEq(t, `[{"category":"email"}]`, string(got))

	mr.FastForward(2 * time.Minute)

	_, found, err = c.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestNewRedisClient(t *testing.T) {
	_, err := NewRedisClient(RedisConfig{})
	require.ErrorIs(t, err, ErrEmptyAddress)

	_, err = NewRedisClient(RedisConfig{Address: "127.0.0.1:1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis ping failed")
}
