// Package cache implements the versioned, stampede-safe read-through cache
// shared by every request path.
//
// Keys are addressed as "{version}:{prefix}:{key}". The version is a shared
// Redis-backed counter loaded at startup; bumping it orphans every existing
// entry at once without deleting anything (entries expire through their
// TTLs). TTLs resolve from the longest matching volatility prefix so churny
// keys expire faster than static ones.
//
// Cache misses are guarded by a short distributed lease keyed on the
// unversioned key: one caller computes while the rest poll briefly and then
// compute themselves if the value still has not appeared. Compute functions
// must therefore be idempotent - duplicate computation is bounded but
// possible under contention.
//
// The cache is an optimization, never a dependency: if Redis is down,
// Remember falls through to the compute function and the request proceeds.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/Murtadah-1984/ajz-api-foundation-sub000/internal/common/logging"
	"github.com/Murtadah-1984/ajz-api-foundation-sub000/internal/locks"
	"github.com/Murtadah-1984/ajz-api-foundation-sub000/internal/redis"
)

// WarmFunc receives collections after they are cached so related data can be
// warmed in the background. It runs on its own goroutine and context; it can
// never block or fail a Remember call.
type WarmFunc func(ctx context.Context, key string, value interface{})

type Config struct {
	// Prefix namespaces every key and the shared version counter.
	Prefix string `json:"prefix"`
	// DefaultTTL applies when no volatility prefix matches.
	DefaultTTL time.Duration `json:"default_ttl"`
	// Volatility maps key prefixes to TTL overrides. The longest matching
	// prefix wins.
	Volatility map[string]time.Duration `json:"volatility,omitempty"`
	// LockTTL bounds how long a fill lease can be held.
	LockTTL time.Duration `json:"lock_ttl"`
	// LockWait bounds how long a non-holder polls before computing itself.
	LockWait time.Duration `json:"lock_wait"`
	// LockPoll is the re-check interval while waiting on a fill lease.
	LockPoll time.Duration `json:"lock_poll"`
	// LocalTTLCap caps the in-process L1 copy of any entry.
	LocalTTLCap time.Duration `json:"local_ttl_cap"`
	// VersionSyncInterval is how often the shared version counter is
	// re-read so bumps on other instances take effect here.
	VersionSyncInterval time.Duration `json:"version_sync_interval"`
}

func (c *Config) applyDefaults() {
	if c.Prefix == "" {
		c.Prefix = "apif"
	}
	if c.DefaultTTL <= 0 {
		c.DefaultTTL = time.Hour
	}
	if c.LockTTL <= 0 {
		c.LockTTL = 10 * time.Second
	}
	if c.LockWait <= 0 {
		c.LockWait = time.Second
	}
	if c.LockPoll <= 0 {
		c.LockPoll = 100 * time.Millisecond
	}
	if c.LocalTTLCap <= 0 {
		c.LocalTTLCap = 30 * time.Second
	}
	if c.VersionSyncInterval <= 0 {
		c.VersionSyncInterval = 30 * time.Second
	}
}

// Manager is the read-through cache. Safe for concurrent use.
type Manager struct {
	redis   *redis.Client
	locks   locks.Manager
	local   *gocache.Cache
	config  *Config
	logger  logging.Logger
	version atomic.Int64
	warmFn  atomic.Value // WarmFunc

	syncMu   sync.Mutex
	syncStop chan struct{}
}

// NewManager creates a cache manager and loads the shared version counter,
// initializing it to 1 if this is the first instance to start.
func NewManager(redisClient *redis.Client, lockManager locks.Manager, config *Config, logger logging.Logger) (*Manager, error) {
	if config == nil {
		config = &Config{}
	}
	config.applyDefaults()
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}

	m := &Manager{
		redis:  redisClient,
		locks:  lockManager,
		local:  gocache.New(config.LocalTTLCap, 2*config.LocalTTLCap),
		config: config,
		logger: logger,
	}

	version, err := m.loadVersion(context.Background())
	if err != nil {
		return nil, err
	}
	m.version.Store(version)

	return m, nil
}

func (m *Manager) versionKey() string {
	return m.config.Prefix + ":version"
}

func (m *Manager) loadVersion(ctx context.Context) (int64, error) {
	// SetNX seeds the counter exactly once across all instances; every
	// instance then reads the same value.
	if _, err := m.redis.SetIfAbsent(ctx, m.versionKey(), 1, 0); err != nil {
		return 0, fmt.Errorf("failed to seed cache version: %w", err)
	}

	version, ok, err := m.redis.GetInt64(ctx, m.versionKey())
	if err != nil || !ok {
		return 0, fmt.Errorf("failed to load cache version: %w", err)
	}
	return version, nil
}

// Version returns the cache version currently in effect for this instance.
func (m *Manager) Version() int64 {
	return m.version.Load()
}

// SetWarmFunc installs the asynchronous warming hook.
func (m *Manager) SetWarmFunc(fn WarmFunc) {
	m.warmFn.Store(fn)
}

// effectiveKey builds the fully-qualified versioned key.
func (m *Manager) effectiveKey(key string) string {
	return fmt.Sprintf("%d:%s:%s", m.version.Load(), m.config.Prefix, key)
}

// ResolveTTL returns the TTL for a key: the longest matching volatility
// prefix, or the default.
func (m *Manager) ResolveTTL(key string) time.Duration {
	best := ""
	ttl := m.config.DefaultTTL
	for prefix, override := range m.config.Volatility {
		if len(prefix) > len(best) && len(key) >= len(prefix) && key[:len(prefix)] == prefix {
			best = prefix
			ttl = override
		}
	}
	return ttl
}

// Remember returns the cached value for key into dest, computing and storing
// it on a miss. ttl <= 0 resolves the TTL from configuration.
func (m *Manager) Remember(ctx context.Context, key string, ttl time.Duration, dest interface{}, compute func(context.Context) (interface{}, error)) error {
	if ttl <= 0 {
		ttl = m.ResolveTTL(key)
	}
	vkey := m.effectiveKey(key)

	// L1 first: entries are keyed by versioned key, so a version bump
	// orphans them here too.
	if raw, found := m.local.Get(vkey); found {
		return json.Unmarshal(raw.([]byte), dest)
	}

	raw, hit, degraded := m.fetch(ctx, vkey)
	if hit {
		m.localSet(vkey, raw, ttl)
		return json.Unmarshal(raw, dest)
	}
	if degraded {
		// Backing store is down: compute directly, skip caching entirely.
		return m.computeInto(ctx, key, dest, compute)
	}

	// Miss. One caller fills; the lease is keyed by the unversioned key so
	// contention stays shared across version bumps.
	lock, err := m.locks.TryAcquire(ctx, "fill:"+key, m.config.LockTTL)
	if err == nil {
		defer lock.Release(ctx)

		// Double-check: the previous holder may have filled it already.
		if raw, hit, _ := m.fetch(ctx, vkey); hit {
			m.localSet(vkey, raw, ttl)
			return json.Unmarshal(raw, dest)
		}

		return m.computeAndStore(ctx, key, vkey, ttl, dest, compute)
	}

	if !errors.Is(err, locks.ErrNotAcquired) {
		m.logger.Warn("cache fill lock unavailable", logging.String("key", key), logging.Err(err))
		return m.computeInto(ctx, key, dest, compute)
	}

	// Someone else is computing. Poll briefly, then compute ourselves -
	// duplicate computation is bounded and safe, waiting forever is not.
	deadline := time.Now().Add(m.config.LockWait)
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(m.config.LockPoll):
		}

		if raw, hit, _ := m.fetch(ctx, vkey); hit {
			m.localSet(vkey, raw, ttl)
			return json.Unmarshal(raw, dest)
		}
	}

	return m.computeAndStore(ctx, key, vkey, ttl, dest, compute)
}

// fetch reads a versioned key from Redis. degraded reports a backend failure
// as opposed to a plain miss.
func (m *Manager) fetch(ctx context.Context, vkey string) (raw []byte, hit bool, degraded bool) {
	val, err := m.redis.Get(ctx, vkey)
	if err == nil {
		return []byte(val), true, false
	}
	if redis.IsNotFound(err) {
		return nil, false, false
	}
	m.logger.Warn("cache read failed, degrading to direct compute", logging.Err(err))
	return nil, false, true
}

func (m *Manager) computeAndStore(ctx context.Context, key, vkey string, ttl time.Duration, dest interface{}, compute func(context.Context) (interface{}, error)) error {
	value, err := compute(ctx)
	if err != nil {
		return err
	}

	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode cache value: %w", err)
	}

	if err := m.redis.Set(ctx, vkey, raw, ttl); err != nil {
		// Store failure downgrades to a cache skip, not a request failure.
		m.logger.Warn("cache write failed", logging.String("key", key), logging.Err(err))
	} else {
		m.localSet(vkey, raw, ttl)
	}

	m.maybeWarm(key, value)

	return json.Unmarshal(raw, dest)
}

// computeInto runs compute and decodes through the same JSON round-trip as
// the cached path so callers observe identical types either way.
func (m *Manager) computeInto(ctx context.Context, key string, dest interface{}, compute func(context.Context) (interface{}, error)) error {
	value, err := compute(ctx)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode cache value: %w", err)
	}
	return json.Unmarshal(raw, dest)
}

// maybeWarm schedules the warming hook for homogeneous collections.
// Fire-and-forget: it never blocks or affects the caller's result.
func (m *Manager) maybeWarm(key string, value interface{}) {
	fn, _ := m.warmFn.Load().(WarmFunc)
	if fn == nil {
		return
	}

	v := reflect.ValueOf(value)
	if v.Kind() != reflect.Slice || v.Len() == 0 {
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		fn(ctx, key, value)
	}()
}

func (m *Manager) localSet(vkey string, raw []byte, ttl time.Duration) {
	if ttl > m.config.LocalTTLCap {
		ttl = m.config.LocalTTLCap
	}
	m.local.Set(vkey, raw, ttl)
}

// Forget removes the versioned entry for key. Absence is not an error and
// backend failures are logged and swallowed - eviction is best-effort.
func (m *Manager) Forget(ctx context.Context, key string) {
	vkey := m.effectiveKey(key)
	m.local.Delete(vkey)
	if err := m.redis.Delete(ctx, vkey); err != nil {
		m.logger.Warn("cache delete failed", logging.String("key", key), logging.Err(err))
	}
}

// BumpVersion advances the shared version counter, orphaning every entry
// written under previous versions. In-flight Remember calls that started
// before the bump may still complete under the old version; that relaxation
// is the price of invalidating in O(1). Returns the version now in effect.
func (m *Manager) BumpVersion(ctx context.Context) int64 {
	version, err := m.redis.IncrementCounter(ctx, m.versionKey())
	if err != nil {
		m.logger.Error("cache version bump failed", err)
		return m.version.Load()
	}

	m.version.Store(version)
	m.local.Flush()
	m.logger.Info("cache version bumped", logging.Int64("version", version))
	return version
}

// StartVersionSync begins re-reading the shared version counter every
// VersionSyncInterval so a bump on another instance converges here without
// a restart. Idempotent.
func (m *Manager) StartVersionSync() {
	m.syncMu.Lock()
	defer m.syncMu.Unlock()
	if m.syncStop != nil {
		return
	}
	m.syncStop = make(chan struct{})
	go m.versionSyncLoop(m.syncStop)
}

// StopVersionSync halts the refresh loop started by StartVersionSync.
func (m *Manager) StopVersionSync() {
	m.syncMu.Lock()
	defer m.syncMu.Unlock()
	if m.syncStop != nil {
		close(m.syncStop)
		m.syncStop = nil
	}
}

func (m *Manager) versionSyncLoop(stop <-chan struct{}) {
	ticker := time.NewTicker(m.config.VersionSyncInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			m.RefreshVersion(ctx)
			cancel()
		case <-stop:
			return
		}
	}
}

// RefreshVersion re-reads the shared version counter. The version sync loop
// calls this periodically so a bump on one instance converges on the others
// within the refresh interval.
func (m *Manager) RefreshVersion(ctx context.Context) {
	version, ok, err := m.redis.GetInt64(ctx, m.versionKey())
	if err != nil || !ok {
		return
	}
	if version > m.version.Load() {
		m.version.Store(version)
		m.local.Flush()
	}
}
