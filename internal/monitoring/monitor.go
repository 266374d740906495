// Package monitoring accumulates numeric metrics in hourly buckets and
// raises alerts when configured thresholds are crossed.
package monitoring

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	apperrors "github.com/Murtadah-1984/ajz-api-foundation-sub000/internal/common/errors"
	"github.com/Murtadah-1984/ajz-api-foundation-sub000/internal/common/logging"
	"github.com/Murtadah-1984/ajz-api-foundation-sub000/internal/redis"
)

// bucketHourFormat is the hour suffix of every metric key:
// metrics:{type}:{name}:{YYYYMMDDHH}.
const bucketHourFormat = "2006010215"

// Alert levels.
const (
	LevelWarning  = "warning"
	LevelCritical = "critical"
)

// Alert is what gets pushed to the sink on a threshold breach.
type Alert struct {
	Type      string  `json:"type"`
	Name      string  `json:"name"`
	Threshold float64 `json:"threshold"`
	Actual    float64 `json:"actual"`
	Level     string  `json:"level"`
}

// AlertSink receives alerts asynchronously. Implementations must not block
// for long; the monitor fires and forgets.
type AlertSink interface {
	PublishAlert(ctx context.Context, alert Alert) error
}

// ChannelSink delivers alerts to a channel. Test double and in-process
// fallback when no broker is configured.
type ChannelSink struct {
	C chan Alert
}

func NewChannelSink(buffer int) *ChannelSink {
	return &ChannelSink{C: make(chan Alert, buffer)}
}

func (s *ChannelSink) PublishAlert(ctx context.Context, alert Alert) error {
	select {
	case s.C <- alert:
		return nil
	default:
		return apperrors.TransientError("alert channel full", nil)
	}
}

// QueueInspector reports the current depth of a named queue.
type QueueInspector interface {
	QueueDepth(ctx context.Context, name string) (int, error)
}

// QueueMetrics is a point-in-time snapshot, never cached.
type QueueMetrics struct {
	Pending    int `json:"pending"`
	Failed     int `json:"failed"`
	Processing int `json:"processing"`
}

type Config struct {
	// Thresholds maps "type:name" to the bucket total that triggers an
	// alert.
	Thresholds map[string]float64 `json:"thresholds"`
	// Retention is how long metric buckets live. 24h unless overridden.
	Retention time.Duration `json:"retention"`
	// JobQueue and FailedQueue name the queues GetQueueMetrics inspects.
	JobQueue    string `json:"job_queue"`
	FailedQueue string `json:"failed_queue"`
}

func (c *Config) applyDefaults() {
	if c.Retention <= 0 {
		c.Retention = 24 * time.Hour
	}
	if c.JobQueue == "" {
		c.JobQueue = "jobs"
	}
	if c.FailedQueue == "" {
		c.FailedQueue = "jobs.failed"
	}
}

// ParseThresholds reads "type:name=value" pairs from a comma-separated
// string, the form the environment carries them in.
func ParseThresholds(raw string) (map[string]float64, error) {
	thresholds := make(map[string]float64)
	if raw == "" {
		return thresholds, nil
	}
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		key, valueStr, found := strings.Cut(pair, "=")
		if !found {
			return nil, apperrors.ConfigError(fmt.Sprintf("malformed threshold %q, want type:name=value", pair))
		}
		var value float64
		if _, err := fmt.Sscanf(valueStr, "%g", &value); err != nil {
			return nil, apperrors.ConfigError(fmt.Sprintf("malformed threshold value %q", valueStr))
		}
		thresholds[strings.TrimSpace(key)] = value
	}
	return thresholds, nil
}

type Monitor struct {
	redis     *redis.Client
	sink      AlertSink
	inspector QueueInspector
	config    *Config
	logger    logging.Logger
	cron      *cron.Cron
}

func NewMonitor(redisClient *redis.Client, sink AlertSink, inspector QueueInspector, config *Config, logger logging.Logger) *Monitor {
	if config == nil {
		config = &Config{}
	}
	config.applyDefaults()
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}

	return &Monitor{
		redis:     redisClient,
		sink:      sink,
		inspector: inspector,
		config:    config,
		logger:    logger,
	}
}

func bucketKey(metricType, name string, at time.Time) string {
	return fmt.Sprintf("metrics:%s:%s:%s", metricType, name, at.UTC().Format(bucketHourFormat))
}

// RecordMetric adds value to the current hourly bucket for (type, name) and
// checks the bucket total against the configured threshold. Every breach
// alerts; there is no dedup window.
func (m *Monitor) RecordMetric(ctx context.Context, metricType, name string, value float64) error {
	if metricType == "" || name == "" {
		return apperrors.ValidationError("metric type and name are required")
	}

	key := bucketKey(metricType, name, time.Now())
	total, err := m.redis.IncrByFloat(ctx, key, value, m.config.Retention)
	if err != nil {
		return apperrors.TransientError("failed to record metric", err)
	}

	threshold, configured := m.config.Thresholds[metricType+":"+name]
	if configured && total >= threshold {
		m.dispatchAlert(Alert{
			Type:      metricType,
			Name:      name,
			Threshold: threshold,
			Actual:    total,
			Level:     alertLevel(total, threshold),
		})
	}
	return nil
}

// alertLevel escalates once the total doubles the threshold.
func alertLevel(actual, threshold float64) string {
	if actual >= 2*threshold {
		return LevelCritical
	}
	return LevelWarning
}

// dispatchAlert pushes to the sink on a separate goroutine. Recording a
// metric never waits on, or fails because of, the alert path.
func (m *Monitor) dispatchAlert(alert Alert) {
	if m.sink == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := m.sink.PublishAlert(ctx, alert); err != nil {
			m.logger.Warn("alert publish failed",
				logging.String("metric", alert.Type+":"+alert.Name),
				logging.Err(err))
		}
	}()
}

// GetMetricTotal returns the current hourly bucket total for (type, name).
// Zero when the bucket does not exist yet.
func (m *Monitor) GetMetricTotal(ctx context.Context, metricType, name string) (float64, error) {
	raw, err := m.redis.Get(ctx, bucketKey(metricType, name, time.Now()))
	if err != nil {
		if redis.IsNotFound(err) {
			return 0, nil
		}
		return 0, apperrors.TransientError("failed to read metric", err)
	}
	var total float64
	if _, err := fmt.Sscanf(raw, "%g", &total); err != nil {
		return 0, apperrors.InternalError("malformed metric bucket", err)
	}
	return total, nil
}

// GetQueueMetrics reads queue depths fresh from the inspector. The
// processing gauge is maintained by the job workers themselves.
func (m *Monitor) GetQueueMetrics(ctx context.Context) (*QueueMetrics, error) {
	if m.inspector == nil {
		return nil, apperrors.ConfigError("no queue inspector configured")
	}

	pending, err := m.inspector.QueueDepth(ctx, m.config.JobQueue)
	if err != nil {
		return nil, apperrors.TransientError("failed to inspect job queue", err)
	}
	failed, err := m.inspector.QueueDepth(ctx, m.config.FailedQueue)
	if err != nil {
		return nil, apperrors.TransientError("failed to inspect failed queue", err)
	}

	processing, _, err := m.redis.GetInt64(ctx, "queue:processing")
	if err != nil {
		return nil, apperrors.TransientError("failed to read processing gauge", err)
	}

	return &QueueMetrics{
		Pending:    pending,
		Failed:     failed,
		Processing: int(processing),
	}, nil
}

// StartCleanup schedules the hourly sweep of stale metric buckets. Buckets
// carry TTLs already; the sweep covers keys whose expiry was lost, and it
// only ever touches the metrics: namespace.
func (m *Monitor) StartCleanup() {
	if m.cron != nil {
		return
	}
	m.cron = cron.New()
	m.cron.AddFunc("@hourly", func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		if err := m.CleanupExpired(ctx); err != nil {
			m.logger.Warn("metric cleanup failed", logging.Err(err))
		}
	})
	m.cron.Start()
}

// StopCleanup halts the sweep schedule.
func (m *Monitor) StopCleanup() {
	if m.cron != nil {
		m.cron.Stop()
		m.cron = nil
	}
}

// CleanupExpired deletes metric buckets older than the retention window.
func (m *Monitor) CleanupExpired(ctx context.Context) error {
	keys, err := m.redis.ScanKeys(ctx, "metrics:*")
	if err != nil {
		return apperrors.TransientError("failed to scan metric buckets", err)
	}

	cutoff := time.Now().UTC().Add(-m.config.Retention)
	removed := 0
	for _, key := range keys {
		idx := strings.LastIndex(key, ":")
		if idx < 0 {
			continue
		}
		bucketHour, err := time.Parse(bucketHourFormat, key[idx+1:])
		if err != nil {
			continue
		}
		if bucketHour.Before(cutoff) {
			if err := m.redis.Delete(ctx, key); err == nil {
				removed++
			}
		}
	}

	if removed > 0 {
		m.logger.Info("metric buckets cleaned", logging.Int("removed", removed))
	}
	return nil
}
