// Package ratelimit decides per request whether to admit or reject based on
// a fixed window tied to the caller's tier.
//
// Counters live in Redis and are advanced with a single atomic increment, so
// concurrent requests sharing an identity never under-count. Tier lookups go
// through the cache manager: the identity-to-tier mapping and the tier's
// numeric config are cached under separate keys so revoking a key's tier
// takes effect within one short TTL without touching tier configs.
package ratelimit

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/Murtadah-1984/ajz-api-foundation-sub000/internal/cache"
	apperrors "github.com/Murtadah-1984/ajz-api-foundation-sub000/internal/common/errors"
	"github.com/Murtadah-1984/ajz-api-foundation-sub000/internal/common/logging"
	"github.com/Murtadah-1984/ajz-api-foundation-sub000/internal/redis"
	"github.com/Murtadah-1984/ajz-api-foundation-sub000/internal/storage"
)

// Failure policies when the counter store is unreachable.
const (
	FailOpen   = "open"
	FailClosed = "closed"
)

type Config struct {
	Enabled bool `json:"enabled"`
	// Window is the fixed window length, 60s unless overridden.
	Window time.Duration `json:"window"`
	// AnonymousLimit applies to identities with no resolvable tier. No
	// lookup happens for them.
	AnonymousLimit int `json:"anonymous_limit"`
	// FailurePolicy is FailOpen or FailClosed.
	FailurePolicy string `json:"failure_policy"`
	// FallbackRPS is the conservative local rate used while failing open.
	FallbackRPS int `json:"fallback_rps"`
	// TierCacheTTL bounds how stale an identity's tier assignment can be.
	TierCacheTTL time.Duration `json:"tier_cache_ttl"`
}

func (c *Config) applyDefaults() {
	if c.Window <= 0 {
		c.Window = time.Minute
	}
	if c.AnonymousLimit <= 0 {
		c.AnonymousLimit = 30
	}
	if c.FailurePolicy == "" {
		c.FailurePolicy = FailOpen
	}
	if c.FallbackRPS <= 0 {
		c.FallbackRPS = 5
	}
	if c.TierCacheTTL <= 0 {
		c.TierCacheTTL = time.Minute
	}
}

// defaultTier backs unknown tier names. Permissive default, not a failure.
var defaultTier = storage.TierRecord{
	Name:              "default",
	RequestsPerMinute: 60,
	Burst:             10,
}

// Result is one admission decision.
type Result struct {
	Max        int           `json:"max"`
	Used       int64         `json:"used"`
	Remaining  int           `json:"remaining"`
	RetryAfter time.Duration `json:"retry_after"`
	ResetsAt   time.Time     `json:"resets_at"`
	Allowed    bool          `json:"allowed"`
}

type Limiter struct {
	redis  *redis.Client
	cache  *cache.Manager
	store  storage.Store
	config *Config
	logger logging.Logger

	// fallback admits requests locally while the counter store is down.
	// One limiter shared across identities keeps the degraded total
	// conservative.
	fallback *rate.Limiter

	// recorder, when set, receives traffic and rejection counts from the
	// middleware.
	recorder MetricRecorder
}

// MetricRecorder receives per-operation traffic counts. The monitor
// satisfies it.
type MetricRecorder interface {
	RecordMetric(ctx context.Context, metricType, name string, value float64) error
}

func NewLimiter(redisClient *redis.Client, cacheManager *cache.Manager, store storage.Store, config *Config, logger logging.Logger) *Limiter {
	if config == nil {
		config = &Config{Enabled: true}
	}
	config.applyDefaults()
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}

	return &Limiter{
		redis:    redisClient,
		cache:    cacheManager,
		store:    store,
		config:   config,
		logger:   logger,
		fallback: rate.NewLimiter(rate.Limit(config.FallbackRPS), config.FallbackRPS),
	}
}

// SetMetricRecorder wires traffic accounting into the middleware. Set it
// before serving; it is not safe to swap under load.
func (l *Limiter) SetMetricRecorder(rec MetricRecorder) {
	l.recorder = rec
}

// recordTraffic counts the request off the hot path. Failures are logged,
// never surfaced.
func (l *Limiter) recordTraffic(operationType string, rejected bool) {
	if l.recorder == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := l.recorder.RecordMetric(ctx, "traffic", operationType, 1); err != nil {
			l.logger.Warn("failed to record traffic metric", logging.Err(err))
		}
		if rejected {
			if err := l.recorder.RecordMetric(ctx, "rate_limit", "rejected", 1); err != nil {
				l.logger.Warn("failed to record rejection metric", logging.Err(err))
			}
		}
	}()
}

// ResolveLimit admits or rejects one request for (identity, operationType).
//
// The increment that reaches the tier maximum is still admitted; the next
// one is rejected. RetryAfter is non-zero only on rejection.
func (l *Limiter) ResolveLimit(ctx context.Context, identity, operationType string) (*Result, error) {
	max, err := l.limitFor(ctx, identity, operationType)
	if err != nil {
		return nil, err
	}

	if !l.config.Enabled {
		return &Result{
			Max:       max,
			Remaining: max,
			ResetsAt:  time.Now().Add(l.config.Window),
			Allowed:   true,
		}, nil
	}

	windowKey := fmt.Sprintf("rate_limit:%s:%s", identity, operationType)
	used, ttl, err := l.redis.IncrementWindow(ctx, windowKey, l.config.Window)
	if err != nil {
		return l.degraded(identity, err)
	}

	result := &Result{
		Max:      max,
		Used:     used,
		ResetsAt: time.Now().Add(ttl),
		Allowed:  used <= int64(max),
	}
	if remaining := int64(max) - used; remaining > 0 {
		result.Remaining = int(remaining)
	}
	if !result.Allowed {
		result.RetryAfter = ttl
	}
	return result, nil
}

// limitFor resolves the effective per-window maximum for an identity.
// Authenticated identities carry a "key:" prefix followed by the API key
// digest; anything else gets the fixed anonymous limit with no lookup.
func (l *Limiter) limitFor(ctx context.Context, identity, operationType string) (int, error) {
	digest, authenticated := strings.CutPrefix(identity, "key:")
	if !authenticated {
		return l.config.AnonymousLimit, nil
	}

	tierName, err := l.tierForKey(ctx, digest)
	if err != nil {
		return 0, err
	}
	if tierName == "" {
		return l.config.AnonymousLimit, nil
	}

	tier, err := l.GetTierConfig(ctx, tierName)
	if err != nil {
		return 0, err
	}

	if override, ok := tier.EndpointLimits[operationType]; ok && override > 0 {
		return override, nil
	}
	return tier.RequestsPerMinute, nil
}

// tierForKey resolves an API key digest to its tier name, cached briefly.
// A digest with no active key caches "" so repeated probes stay cheap.
func (l *Limiter) tierForKey(ctx context.Context, digest string) (string, error) {
	var tierName string
	err := l.cache.Remember(ctx, "api_key_tier:"+digest, l.config.TierCacheTTL, &tierName, func(ctx context.Context) (interface{}, error) {
		name, err := l.store.FindAPIKeyTier(ctx, digest)
		if err != nil {
			if apperrors.IsType(err, apperrors.ErrTypeNotFound) {
				return "", nil
			}
			return nil, err
		}
		return name, nil
	})
	if err != nil {
		return "", err
	}
	return tierName, nil
}

// GetTierConfig returns the numeric limits for a tier name, read through the
// cache. An unknown tier yields the hard-coded default, never an error.
func (l *Limiter) GetTierConfig(ctx context.Context, name string) (*storage.TierRecord, error) {
	var tier storage.TierRecord
	err := l.cache.Remember(ctx, "tier_cfg:"+name, 0, &tier, func(ctx context.Context) (interface{}, error) {
		record, err := l.store.GetTier(ctx, name)
		if err != nil {
			if apperrors.IsType(err, apperrors.ErrTypeNotFound) {
				fallback := defaultTier
				fallback.Name = name
				return &fallback, nil
			}
			return nil, err
		}
		return record, nil
	})
	if err != nil {
		return nil, err
	}
	return &tier, nil
}

// degraded applies the configured failure policy after a counter-store
// failure.
func (l *Limiter) degraded(identity string, cause error) (*Result, error) {
	if l.config.FailurePolicy == FailClosed {
		return nil, apperrors.TransientError("rate limit store unavailable", cause)
	}

	l.logger.Warn("rate limit store unavailable, failing open",
		logging.String("identity", identity),
		logging.Err(cause))

	allowed := l.fallback.Allow()
	result := &Result{
		Max:      l.config.FallbackRPS,
		ResetsAt: time.Now().Add(time.Second),
		Allowed:  allowed,
	}
	if allowed {
		result.Remaining = 1
	} else {
		result.RetryAfter = time.Second
	}
	return result, nil
}

// Middleware enforces the limit for every request, identified by keyFn. The
// operation type is the request's method and path, which is also the shape
// tier endpoint overrides are keyed by.
func (l *Limiter) Middleware(keyFn func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity := keyFn(r)
			if identity == "" {
				next.ServeHTTP(w, r)
				return
			}

			operationType := r.Method + " " + r.URL.Path
			result, err := l.ResolveLimit(r.Context(), identity, operationType)
			if err != nil {
				l.logger.Error("rate limit check failed", err, logging.String("identity", identity))
				writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
					"message": "service temporarily unavailable",
				})
				return
			}

			l.recordTraffic(operationType, !result.Allowed)

			w.Header().Set("X-RateLimit-Limit", fmt.Sprintf("%d", result.Max))
			w.Header().Set("X-RateLimit-Remaining", fmt.Sprintf("%d", result.Remaining))
			w.Header().Set("X-RateLimit-Reset", fmt.Sprintf("%d", result.ResetsAt.Unix()))

			if !result.Allowed {
				retryAfter := int(result.RetryAfter.Seconds())
				if retryAfter < 1 {
					retryAfter = 1
				}
				w.Header().Set("Retry-After", fmt.Sprintf("%d", retryAfter))
				writeJSON(w, http.StatusTooManyRequests, map[string]interface{}{
					"message":     "rate limit exceeded",
					"retry_after": retryAfter,
				})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// Identity key functions for the middleware.

// APIKeyIdentity identifies callers by the digest of their X-API-Key header,
// falling back to client IP when the header is absent.
func APIKeyIdentity(digestFn func(string) string) func(*http.Request) string {
	return func(r *http.Request) string {
		if key := r.Header.Get("X-API-Key"); key != "" {
			return "key:" + digestFn(key)
		}
		return IPIdentity(r)
	}
}

// IPIdentity identifies callers by client IP.
func IPIdentity(r *http.Request) string {
	ip := r.Header.Get("X-Forwarded-For")
	if ip == "" {
		ip = r.Header.Get("X-Real-IP")
	}
	if ip == "" {
		ip = r.RemoteAddr
	}
	if i := strings.Index(ip, ","); i >= 0 {
		ip = strings.TrimSpace(ip[:i])
	}
	return "ip:" + ip
}
