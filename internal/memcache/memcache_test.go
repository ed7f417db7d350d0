package memcache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	s := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisFromClient(client, ""), s
}

func exerciseClient(t *testing.T, c Client) {
	ctx := context.Background()

	_, err := c.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrCacheMiss)

	require.NoError(t, c.Set(ctx, "a", []byte("one"), 0))
	require.NoError(t, c.Set(ctx, "b", []byte("two"), 0))

	got, err := c.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, []byte("one"), got)

	require.NoError(t, c.Delete(ctx, "a"))
	_, err = c.Get(ctx, "a")
	assert.ErrorIs(t, err, ErrCacheMiss)
	require.NoError(t, c.Delete(ctx, "a"), "deleting a missing key")

	require.NoError(t, c.FlushAll(ctx))
	_, err = c.Get(ctx, "b")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestMemoryClient(t *testing.T) {
	exerciseClient(t, NewMemory())
}

func TestRedisClient(t *testing.T) {
	r, _ := newTestRedis(t)
	exerciseClient(t, r)
}

func TestMemoryExpiry(t *testing.T) {
	m := NewMemory()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, "k", []byte("v"), time.Minute))
	_, err := m.Get(ctx, "k")
	require.NoError(t, err)

	now = now.Add(time.Minute)
	_, err = m.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestMemoryCopiesValues(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	v := []byte("abc")
	require.NoError(t, m.Set(ctx, "k", v, 0))
	v[0] = 'x'
	got, err := m.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "abc", string(got))
}

func TestRedisFlushKeepsForeignKeys(t *testing.T) {
	r, s := newTestRedis(t)
	ctx := context.Background()

	require.NoError(t, s.Set("asynq:queue", "keep"))
	for _, k := range []string{"x", "y", "z"} {
		require.NoError(t, r.Set(ctx, k, []byte(k), 0))
	}
	require.NoError(t, r.FlushAll(ctx))

	assert.True(t, s.Exists("asynq:queue"))
	assert.False(t, s.Exists(DefaultPrefix+"x"))
}

func TestRedisTTL(t *testing.T) {
	r, s := newTestRedis(t)
	ctx := context.Background()

	require.NoError(t, r.Set(ctx, "k", []byte("v"), time.Second))
	s.FastForward(2 * time.Second)
	_, err := r.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrCacheMiss)
}
