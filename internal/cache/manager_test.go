package cache

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Murtadah-1984/ajz-api-foundation-sub000/internal/locks"
	"github.com/Murtadah-1984/ajz-api-foundation-sub000/internal/redis"
)

func setupTestCache(t *testing.T, config *Config) (*Manager, *miniredis.Miniredis) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client, err := redis.NewClient(&redis.Config{Address: mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	lockManager, err := locks.NewRedsyncManager(client)
	require.NoError(t, err)

	manager, err := NewManager(client, lockManager, config, nil)
	require.NoError(t, err)

	return manager, mr
}

func (m *Manager) testKey(key string) string {
	return fmt.Sprintf("%d:%s:%s", m.Version(), m.config.Prefix, key)
}

func TestNewManager(t *testing.T) {
	t.Run("seeds shared version once", func(t *testing.T) {
		manager, mr := setupTestCache(t, nil)
		assert.Equal(t, int64(1), manager.Version())

		// A second instance against the same Redis sees the same version.
		client, err := redis.NewClient(&redis.Config{Address: mr.Addr()})
		require.NoError(t, err)
		defer client.Close()
		lockManager, err := locks.NewRedsyncManager(client)
		require.NoError(t, err)

		second, err := NewManager(client, lockManager, nil, nil)
		require.NoError(t, err)
		assert.Equal(t, manager.Version(), second.Version())
	})

	t.Run("fails when redis is unreachable", func(t *testing.T) {
		mr, err := miniredis.Run()
		require.NoError(t, err)
		client, err := redis.NewClient(&redis.Config{Address: mr.Addr()})
		require.NoError(t, err)
		lockManager, err := locks.NewRedsyncManager(client)
		require.NoError(t, err)
		mr.Close()

		manager, err := NewManager(client, lockManager, nil, nil)
		assert.Error(t, err)
		assert.Nil(t, manager)
	})
}

func TestRemember(t *testing.T) {
	ctx := context.Background()

	t.Run("computes on miss and serves from cache after", func(t *testing.T) {
		manager, _ := setupTestCache(t, nil)

		var calls int32
		compute := func(ctx context.Context) (interface{}, error) {
			atomic.AddInt32(&calls, 1)
			return map[string]string{"name": "alpha"}, nil
		}

		var first map[string]string
		require.NoError(t, manager.Remember(ctx, "tenant_alpha", 0, &first, compute))
		assert.Equal(t, "alpha", first["name"])

		var second map[string]string
		require.NoError(t, manager.Remember(ctx, "tenant_alpha", 0, &second, compute))
		assert.Equal(t, "alpha", second["name"])
		assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	})

	t.Run("propagates compute errors without caching", func(t *testing.T) {
		manager, _ := setupTestCache(t, nil)

		var calls int32
		compute := func(ctx context.Context) (interface{}, error) {
			atomic.AddInt32(&calls, 1)
			return nil, fmt.Errorf("upstream down")
		}

		var dest string
		assert.Error(t, manager.Remember(ctx, "broken", 0, &dest, compute))
		assert.Error(t, manager.Remember(ctx, "broken", 0, &dest, compute))
		assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
	})

	t.Run("applies resolved TTL to the stored entry", func(t *testing.T) {
		manager, mr := setupTestCache(t, &Config{
			DefaultTTL: time.Hour,
			Volatility: map[string]time.Duration{"session_": 2 * time.Minute},
		})

		var dest string
		require.NoError(t, manager.Remember(ctx, "session_abc", 0, &dest, func(ctx context.Context) (interface{}, error) {
			return "live", nil
		}))

		ttl := mr.TTL(manager.testKey("session_abc"))
		assert.Equal(t, 2*time.Minute, ttl)
	})

	t.Run("explicit TTL overrides volatility", func(t *testing.T) {
		manager, mr := setupTestCache(t, &Config{
			Volatility: map[string]time.Duration{"session_": 2 * time.Minute},
		})

		var dest string
		require.NoError(t, manager.Remember(ctx, "session_abc", time.Minute, &dest, func(ctx context.Context) (interface{}, error) {
			return "live", nil
		}))

		assert.Equal(t, time.Minute, mr.TTL(manager.testKey("session_abc")))
	})

	t.Run("bounds duplicate computation under contention", func(t *testing.T) {
		manager, _ := setupTestCache(t, nil)

		var calls int32
		compute := func(ctx context.Context) (interface{}, error) {
			atomic.AddInt32(&calls, 1)
			time.Sleep(50 * time.Millisecond)
			return "filled", nil
		}

		var wg sync.WaitGroup
		results := make([]string, 10)
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				assert.NoError(t, manager.Remember(ctx, "hot", 0, &results[i], compute))
			}(i)
		}
		wg.Wait()

		for _, r := range results {
			assert.Equal(t, "filled", r)
		}
		// One holder computes; waiters poll and find the fill. Far fewer
		// than one compute per caller.
		assert.LessOrEqual(t, atomic.LoadInt32(&calls), int32(3))
	})

	t.Run("degrades to direct compute when redis is down", func(t *testing.T) {
		manager, mr := setupTestCache(t, nil)
		mr.Close()

		var calls int32
		compute := func(ctx context.Context) (interface{}, error) {
			atomic.AddInt32(&calls, 1)
			return "degraded", nil
		}

		var dest string
		require.NoError(t, manager.Remember(ctx, "offline", 0, &dest, compute))
		assert.Equal(t, "degraded", dest)

		require.NoError(t, manager.Remember(ctx, "offline", 0, &dest, compute))
		assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
	})

	t.Run("waiter picks up a fill completed by another holder", func(t *testing.T) {
		manager, _ := setupTestCache(t, &Config{
			LockWait: 500 * time.Millisecond,
			LockPoll: 20 * time.Millisecond,
		})

		// Hold the fill lease externally so Remember has to wait.
		lock, err := manager.locks.TryAcquire(ctx, "fill:shared", time.Second)
		require.NoError(t, err)

		done := make(chan string, 1)
		go func() {
			var dest string
			if err := manager.Remember(ctx, "shared", 0, &dest, func(ctx context.Context) (interface{}, error) {
				return "computed-by-waiter", nil
			}); err != nil {
				done <- err.Error()
				return
			}
			done <- dest
		}()

		// Simulate the holder finishing its fill.
		time.Sleep(50 * time.Millisecond)
		raw := []byte(`"computed-by-holder"`)
		require.NoError(t, manager.redis.Set(ctx, manager.testKey("shared"), raw, time.Minute))

		select {
		case got := <-done:
			assert.Equal(t, "computed-by-holder", got)
		case <-time.After(2 * time.Second):
			t.Fatal("waiter never returned")
		}
		require.NoError(t, lock.Release(ctx))
	})
}

func TestBumpVersion(t *testing.T) {
	ctx := context.Background()

	t.Run("orphans existing entries", func(t *testing.T) {
		manager, _ := setupTestCache(t, nil)

		var calls int32
		compute := func(ctx context.Context) (interface{}, error) {
			atomic.AddInt32(&calls, 1)
			return fmt.Sprintf("value-%d", atomic.LoadInt32(&calls)), nil
		}

		var dest string
		require.NoError(t, manager.Remember(ctx, "config", 0, &dest, compute))
		assert.Equal(t, "value-1", dest)

		version := manager.BumpVersion(ctx)
		assert.Equal(t, int64(2), version)

		require.NoError(t, manager.Remember(ctx, "config", 0, &dest, compute))
		assert.Equal(t, "value-2", dest)
	})

	t.Run("keeps current version when redis is down", func(t *testing.T) {
		manager, mr := setupTestCache(t, nil)
		before := manager.Version()
		mr.Close()

		assert.Equal(t, before, manager.BumpVersion(ctx))
		assert.Equal(t, before, manager.Version())
	})
}

func TestRefreshVersion(t *testing.T) {
	ctx := context.Background()

	manager, mr := setupTestCache(t, nil)

	client, err := redis.NewClient(&redis.Config{Address: mr.Addr()})
	require.NoError(t, err)
	defer client.Close()
	lockManager, err := locks.NewRedsyncManager(client)
	require.NoError(t, err)
	other, err := NewManager(client, lockManager, nil, nil)
	require.NoError(t, err)

	other.BumpVersion(ctx)
	assert.Equal(t, int64(1), manager.Version())

	manager.RefreshVersion(ctx)
	assert.Equal(t, int64(2), manager.Version())
}

func TestVersionSyncLoop(t *testing.T) {
	ctx := context.Background()

	manager, mr := setupTestCache(t, &Config{VersionSyncInterval: 10 * time.Millisecond})
	manager.StartVersionSync()
	t.Cleanup(manager.StopVersionSync)
	// A second Start must not spawn another loop.
	manager.StartVersionSync()

	client, err := redis.NewClient(&redis.Config{Address: mr.Addr()})
	require.NoError(t, err)
	defer client.Close()
	lockManager, err := locks.NewRedsyncManager(client)
	require.NoError(t, err)
	other, err := NewManager(client, lockManager, nil, nil)
	require.NoError(t, err)

	other.BumpVersion(ctx)

	assert.Eventually(t, func() bool {
		return manager.Version() == int64(2)
	}, time.Second, 5*time.Millisecond)

	manager.StopVersionSync()
	manager.StopVersionSync()
}

func TestForget(t *testing.T) {
	ctx := context.Background()
	manager, _ := setupTestCache(t, nil)

	var calls int32
	compute := func(ctx context.Context) (interface{}, error) {
		atomic.AddInt32(&calls, 1)
		return "v", nil
	}

	var dest string
	require.NoError(t, manager.Remember(ctx, "evictme", 0, &dest, compute))
	manager.Forget(ctx, "evictme")
	require.NoError(t, manager.Remember(ctx, "evictme", 0, &dest, compute))
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestResolveTTL(t *testing.T) {
	manager, _ := setupTestCache(t, &Config{
		DefaultTTL: time.Hour,
		Volatility: map[string]time.Duration{
			"user_":         5 * time.Minute,
			"user_session_": time.Minute,
		},
	})

	assert.Equal(t, time.Hour, manager.ResolveTTL("static_page"))
	assert.Equal(t, 5*time.Minute, manager.ResolveTTL("user_42"))
	// Longest matching prefix wins.
	assert.Equal(t, time.Minute, manager.ResolveTTL("user_session_42"))
}

func TestWarmFunc(t *testing.T) {
	ctx := context.Background()
	manager, _ := setupTestCache(t, nil)

	warmed := make(chan string, 1)
	manager.SetWarmFunc(func(ctx context.Context, key string, value interface{}) {
		warmed <- key
	})

	t.Run("fires for non-empty collections", func(t *testing.T) {
		var dest []string
		require.NoError(t, manager.Remember(ctx, "tenants", 0, &dest, func(ctx context.Context) (interface{}, error) {
			return []string{"a", "b"}, nil
		}))

		select {
		case key := <-warmed:
			assert.Equal(t, "tenants", key)
		case <-time.After(time.Second):
			t.Fatal("warm hook never fired")
		}
	})

	t.Run("skips scalars and empty collections", func(t *testing.T) {
		var s string
		require.NoError(t, manager.Remember(ctx, "scalar", 0, &s, func(ctx context.Context) (interface{}, error) {
			return "x", nil
		}))
		var empty []string
		require.NoError(t, manager.Remember(ctx, "empty", 0, &empty, func(ctx context.Context) (interface{}, error) {
			return []string{}, nil
		}))

		select {
		case key := <-warmed:
			t.Fatalf("unexpected warm for %q", key)
		case <-time.After(100 * time.Millisecond):
		}
	})
}
