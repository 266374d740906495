package locks

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Murtadah-1984/ajz-api-foundation-sub000/internal/redis"
)

func setupManager(t *testing.T) (*RedsyncManager, *miniredis.Miniredis) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client, err := redis.NewClient(&redis.Config{Address: mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	manager, err := NewRedsyncManager(client)
	require.NoError(t, err)

	return manager, mr
}

func TestNewRedsyncManager_RequiresClient(t *testing.T) {
	manager, err := NewRedsyncManager(nil)
	assert.Error(t, err)
	assert.Nil(t, manager)
}

func TestTryAcquire(t *testing.T) {
	manager, _ := setupManager(t)
	ctx := context.Background()

	t.Run("acquires free lease", func(t *testing.T) {
		lock, err := manager.TryAcquire(ctx, "fill:tier_cfg:gold", 10*time.Second)
		require.NoError(t, err)
		assert.Equal(t, "fill:tier_cfg:gold", lock.Key())
		require.NoError(t, lock.Release(ctx))
	})

	t.Run("contention returns ErrNotAcquired without blocking", func(t *testing.T) {
		lock, err := manager.TryAcquire(ctx, "fill:contended", 10*time.Second)
		require.NoError(t, err)
		defer lock.Release(ctx)

		start := time.Now()
		second, err := manager.TryAcquire(ctx, "fill:contended", 10*time.Second)
		assert.ErrorIs(t, err, ErrNotAcquired)
		assert.Nil(t, second)
		assert.Less(t, time.Since(start), time.Second)
	})

	t.Run("released lease is reacquirable", func(t *testing.T) {
		lock, err := manager.TryAcquire(ctx, "fill:cycle", 10*time.Second)
		require.NoError(t, err)
		require.NoError(t, lock.Release(ctx))

		lock2, err := manager.TryAcquire(ctx, "fill:cycle", 10*time.Second)
		require.NoError(t, err)
		lock2.Release(ctx)
	})

	t.Run("expired lease is reacquirable", func(t *testing.T) {
		manager, mr := setupManager(t)

		_, err := manager.TryAcquire(ctx, "fill:expiring", time.Second)
		require.NoError(t, err)

		mr.FastForward(2 * time.Second)

		lock, err := manager.TryAcquire(ctx, "fill:expiring", time.Second)
		require.NoError(t, err)
		lock.Release(ctx)
	})
}

func TestRelease_AfterExpiryIsQuiet(t *testing.T) {
	manager, mr := setupManager(t)
	ctx := context.Background()

	lock, err := manager.TryAcquire(ctx, "fill:stale", time.Second)
	require.NoError(t, err)

	mr.FastForward(2 * time.Second)

	assert.NoError(t, lock.Release(ctx))
}
