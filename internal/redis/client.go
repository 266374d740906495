package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

type Client struct {
	rdb    *redis.Client
	config *Config
}

type Config struct {
	Address  string `json:"address"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	PoolSize int    `json:"pool_size"`
}

func NewClient(config *Config) (*Client, error) {
	if config == nil {
		return nil, fmt.Errorf("redis config is required")
	}

	if config.Address == "" {
		config.Address = "localhost:6379"
	}
	if config.PoolSize == 0 {
		config.PoolSize = 10
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     config.Address,
		Password: config.Password,
		DB:       config.DB,
		PoolSize: config.PoolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Client{
		rdb:    rdb,
		config: config,
	}, nil
}

func (c *Client) Close() error {
	return c.rdb.Close()
}

func (c *Client) Health() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return c.rdb.Ping(ctx).Err()
}

// GetGoRedisClient exposes the underlying go-redis client for libraries that
// need it directly (redsync pools).
func (c *Client) GetGoRedisClient() *redis.Client {
	return c.rdb
}

// IncrementWindow atomically increments a fixed-window counter and returns the
// post-increment count together with the remaining window duration. The first
// increment of a window establishes its expiry; later increments never extend
// it. All three commands run inside MULTI/EXEC so concurrent callers cannot
// under-count.
func (c *Client) IncrementWindow(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	pipe := c.rdb.TxPipeline()

	// SetNX seeds the counter with its TTL exactly once per window.
	pipe.SetNX(ctx, key, 0, window)
	incrCmd := pipe.Incr(ctx, key)
	ttlCmd := pipe.PTTL(ctx, key)

	if _, err := pipe.Exec(ctx); err != nil {
		return 0, 0, fmt.Errorf("failed to increment window counter: %w", err)
	}

	ttl := ttlCmd.Val()
	if ttl < 0 {
		ttl = window
	}

	return incrCmd.Val(), ttl, nil
}

// IncrByFloat increments a float accumulator, setting expiry on first write.
func (c *Client) IncrByFloat(ctx context.Context, key string, value float64, expiry time.Duration) (float64, error) {
	pipe := c.rdb.TxPipeline()

	incrCmd := pipe.IncrByFloat(ctx, key, value)
	pipe.Expire(ctx, key, expiry)

	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("failed to increment accumulator: %w", err)
	}

	return incrCmd.Val(), nil
}

// IncrementCounter increments a persistent counter (no TTL) and returns the
// new value. Used for the shared cache version.
func (c *Client) IncrementCounter(ctx context.Context, key string) (int64, error) {
	val, err := c.rdb.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to increment counter: %w", err)
	}
	return val, nil
}

// GetInt64 reads an integer value; returns (0, false, nil) when absent.
func (c *Client) GetInt64(ctx context.Context, key string) (int64, bool, error) {
	val, err := c.rdb.Get(ctx, key).Int64()
	if err == redis.Nil {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return val, true, nil
}

// Distributed locking primitives. The locks package builds its lease
// abstraction on top of these.
func (c *Client) AcquireLock(ctx context.Context, key string, expiration time.Duration) (bool, error) {
	result, err := c.rdb.SetNX(ctx, fmt.Sprintf("lock:%s", key), "locked", expiration).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire lock: %w", err)
	}
	return result, nil
}

// SetIfAbsent writes value only when key does not exist yet. expiration of
// zero means no expiry. Returns whether this call performed the write.
func (c *Client) SetIfAbsent(ctx context.Context, key string, value interface{}, expiration time.Duration) (bool, error) {
	result, err := c.rdb.SetNX(ctx, key, value, expiration).Result()
	if err != nil {
		return false, fmt.Errorf("failed to set key: %w", err)
	}
	return result, nil
}

func (c *Client) ReleaseLock(ctx context.Context, key string) error {
	_, err := c.rdb.Del(ctx, fmt.Sprintf("lock:%s", key)).Result()
	if err != nil {
		return fmt.Errorf("failed to release lock: %w", err)
	}
	return nil
}

// Key-value operations for cached configuration and state
func (c *Client) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	var data []byte
	var err error

	switch v := value.(type) {
	case string:
		data = []byte(v)
	case []byte:
		data = v
	default:
		data, err = json.Marshal(v)
		if err != nil {
			return fmt.Errorf("failed to marshal value: %w", err)
		}
	}

	return c.rdb.Set(ctx, key, data, expiration).Err()
}

func (c *Client) Get(ctx context.Context, key string) (string, error) {
	return c.rdb.Get(ctx, key).Result()
}

// GetJSON reads a key and unmarshals it into dest. Returns redis.Nil (via
// IsNotFound) when the key is absent.
func (c *Client) GetJSON(ctx context.Context, key string, dest interface{}) error {
	data, err := c.rdb.Get(ctx, key).Result()
	if err != nil {
		return err
	}
	return json.Unmarshal([]byte(data), dest)
}

func (c *Client) Delete(ctx context.Context, key string) error {
	return c.rdb.Del(ctx, key).Err()
}

func (c *Client) Exists(ctx context.Context, key string) (bool, error) {
	count, err := c.rdb.Exists(ctx, key).Result()
	return count > 0, err
}

func (c *Client) TTL(ctx context.Context, key string) (time.Duration, error) {
	return c.rdb.PTTL(ctx, key).Result()
}

// ScanKeys returns all keys matching pattern. Only the monitoring cleanup
// routines may enumerate keys, and only within their own metric namespace.
func (c *Client) ScanKeys(ctx context.Context, pattern string) ([]string, error) {
	var keys []string
	iter := c.rdb.Scan(ctx, 0, pattern, 0).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan keys: %w", err)
	}
	return keys, nil
}

// IsNotFound reports whether err is the Redis missing-key sentinel.
func IsNotFound(err error) bool {
	return err == redis.Nil
}
