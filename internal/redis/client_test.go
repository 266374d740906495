package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) (*Client, *miniredis.Miniredis) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client, err := NewClient(&Config{Address: mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	return client, mr
}

func TestNewClient(t *testing.T) {
	t.Run("successful connection", func(t *testing.T) {
		mr, err := miniredis.Run()
		require.NoError(t, err)
		defer mr.Close()

		client, err := NewClient(&Config{Address: mr.Addr(), PoolSize: 5})
		assert.NoError(t, err)
		assert.NotNil(t, client)
		assert.NoError(t, client.Close())
	})

	t.Run("nil config", func(t *testing.T) {
		client, err := NewClient(nil)
		assert.Error(t, err)
		assert.Nil(t, client)
		assert.Contains(t, err.Error(), "redis config is required")
	})

	t.Run("defaults applied", func(t *testing.T) {
		mr, err := miniredis.Run()
		require.NoError(t, err)
		defer mr.Close()

		config := &Config{Address: mr.Addr(), PoolSize: 0}
		client, err := NewClient(config)
		require.NoError(t, err)
		defer client.Close()

		assert.Equal(t, 10, config.PoolSize)
	})
}

func TestIncrementWindow(t *testing.T) {
	client, mr := setupTestRedis(t)
	ctx := context.Background()

	t.Run("counts monotonically within a window", func(t *testing.T) {
		for i := int64(1); i <= 5; i++ {
			count, ttl, err := client.IncrementWindow(ctx, "rate_limit:k1", time.Minute)
			require.NoError(t, err)
			assert.Equal(t, i, count)
			assert.Greater(t, ttl, time.Duration(0))
			assert.LessOrEqual(t, ttl, time.Minute)
		}
	})

	t.Run("expiry set by first increment only", func(t *testing.T) {
		_, _, err := client.IncrementWindow(ctx, "rate_limit:k2", time.Minute)
		require.NoError(t, err)

		mr.FastForward(30 * time.Second)

		_, ttl, err := client.IncrementWindow(ctx, "rate_limit:k2", time.Minute)
		require.NoError(t, err)
		assert.LessOrEqual(t, ttl, 30*time.Second)
	})

	t.Run("counter resets after window expiry", func(t *testing.T) {
		_, _, err := client.IncrementWindow(ctx, "rate_limit:k3", time.Second)
		require.NoError(t, err)

		mr.FastForward(2 * time.Second)

		count, _, err := client.IncrementWindow(ctx, "rate_limit:k3", time.Second)
		require.NoError(t, err)
		assert.Equal(t, int64(1), count)
	})
}

func TestIncrByFloat(t *testing.T) {
	client, _ := setupTestRedis(t)
	ctx := context.Background()

	total, err := client.IncrByFloat(ctx, "metrics:error:http_5xx:2025090112", 2.5, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 2.5, total)

	total, err = client.IncrByFloat(ctx, "metrics:error:http_5xx:2025090112", 1.5, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 4.0, total)
}

func TestIncrementCounter(t *testing.T) {
	client, _ := setupTestRedis(t)
	ctx := context.Background()

	v1, err := client.IncrementCounter(ctx, "apif:version")
	require.NoError(t, err)
	v2, err := client.IncrementCounter(ctx, "apif:version")
	require.NoError(t, err)

	assert.Equal(t, v1+1, v2)
}

func TestGetInt64(t *testing.T) {
	client, _ := setupTestRedis(t)
	ctx := context.Background()

	t.Run("absent key", func(t *testing.T) {
		_, ok, err := client.GetInt64(ctx, "missing")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("present key", func(t *testing.T) {
		require.NoError(t, client.Set(ctx, "n", "41", 0))
		val, ok, err := client.GetInt64(ctx, "n")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, int64(41), val)
	})
}

func TestLockPrimitives(t *testing.T) {
	client, _ := setupTestRedis(t)
	ctx := context.Background()

	acquired, err := client.AcquireLock(ctx, "fill:tier_cfg:gold", 10*time.Second)
	require.NoError(t, err)
	assert.True(t, acquired)

	again, err := client.AcquireLock(ctx, "fill:tier_cfg:gold", 10*time.Second)
	require.NoError(t, err)
	assert.False(t, again)

	require.NoError(t, client.ReleaseLock(ctx, "fill:tier_cfg:gold"))

	acquired, err = client.AcquireLock(ctx, "fill:tier_cfg:gold", 10*time.Second)
	require.NoError(t, err)
	assert.True(t, acquired)
}

func TestJSONRoundTrip(t *testing.T) {
	client, _ := setupTestRedis(t)
	ctx := context.Background()

	type tierConfig struct {
		RequestsPerMinute int `json:"requests_per_minute"`
		Burst             int `json:"burst"`
	}

	in := tierConfig{RequestsPerMinute: 60, Burst: 5}
	require.NoError(t, client.Set(ctx, "tier_cfg:bronze", in, time.Minute))

	var out tierConfig
	require.NoError(t, client.GetJSON(ctx, "tier_cfg:bronze", &out))
	assert.Equal(t, in, out)
}

func TestGetJSON_Missing(t *testing.T) {
	client, _ := setupTestRedis(t)

	var out map[string]interface{}
	err := client.GetJSON(context.Background(), "absent", &out)
	assert.True(t, IsNotFound(err))
}

func TestScanKeys(t *testing.T) {
	client, _ := setupTestRedis(t)
	ctx := context.Background()

	require.NoError(t, client.Set(ctx, "metrics:error:a:2025090101", "1", 0))
	require.NoError(t, client.Set(ctx, "metrics:error:b:2025090102", "2", 0))
	require.NoError(t, client.Set(ctx, "other:key", "3", 0))

	keys, err := client.ScanKeys(ctx, "metrics:*")
	require.NoError(t, err)
	assert.Len(t, keys, 2)
}

func TestDeleteAndExists(t *testing.T) {
	client, _ := setupTestRedis(t)
	ctx := context.Background()

	require.NoError(t, client.Set(ctx, "k", "v", 0))

	exists, err := client.Exists(ctx, "k")
	require.NoError(t, err)
	assert.True(t, exists)

	require.NoError(t, client.Delete(ctx, "k"))

	exists, err = client.Exists(ctx, "k")
	require.NoError(t, err)
	assert.False(t, exists)
}
