package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

func TestResendLimiter_Reserve(t *testing.T) {
	mr, client := setupTestRedis(t)
	l, err := NewResendLimiter(client, time.Minute)
	require.NoError(t, err)
	ctx := context.Background()

	ok, wait, err := l.Reserve(ctx, "alice@example.com")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Zero(t, wait)
	assert.True(t, mr.Exists(DefaultKeyPrefix+"alice@example.com"))

	mr.FastForward(20 * time.Second)
	ok, wait, err = l.Reserve(ctx, "alice@example.com")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 40*time.Second, wait)

	ok, _, err = l.Reserve(ctx, "bob@example.com")
	require.NoError(t, err)
	assert.True(t, ok, "keys are independent")

	mr.FastForward(40 * time.Second)
	ok, _, err = l.Reserve(ctx, "alice@example.com")
	require.NoError(t, err)
	assert.True(t, ok, "slot frees after the window")
}

func TestResendLimiter_RedisDown(t *testing.T) {
	mr, client := setupTestRedis(t)
	l, err := NewResendLimiter(client, time.Minute)
	require.NoError(t, err)

	mr.Close()
	_, _, err = l.Reserve(context.Background(), "alice@example.com")
	assert.Error(t, err)
}

func TestNewResendLimiter_RejectsNonPositiveWindow(t *testing.T) {
	_, client := setupTestRedis(t)
	_, err := NewResendLimiter(client, 0)
	assert.Error(t, err)
}

func TestNewClient(t *testing.T) {
	mr, _ := setupTestRedis(t)
	c, err := NewClient(context.Background(), mr.Addr(), "", 0)
	require.NoError(t, err)
	c.Close()

	mr.Close()
	_, err = NewClient(context.Background(), mr.Addr(), "", 0)
	assert.Error(t, err)
}
