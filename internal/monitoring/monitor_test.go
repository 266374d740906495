package monitoring

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/Murtadah-1984/ajz-api-foundation-sub000/internal/common/errors"
	"github.com/Murtadah-1984/ajz-api-foundation-sub000/internal/redis"
)

type stubInspector struct {
	depths map[string]int
	err    error
}

func (s *stubInspector) QueueDepth(ctx context.Context, name string) (int, error) {
	if s.err != nil {
		return 0, s.err
	}
	return s.depths[name], nil
}

func setupTestMonitor(t *testing.T, config *Config) (*Monitor, *ChannelSink, *stubInspector, *miniredis.Miniredis) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client, err := redis.NewClient(&redis.Config{Address: mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	sink := NewChannelSink(16)
	inspector := &stubInspector{depths: map[string]int{}}
	return NewMonitor(client, sink, inspector, config, nil), sink, inspector, mr
}

func waitAlert(t *testing.T, sink *ChannelSink) Alert {
	t.Helper()
	select {
	case alert := <-sink.C:
		return alert
	case <-time.After(time.Second):
		t.Fatal("no alert arrived")
		return Alert{}
	}
}

func TestRecordMetric(t *testing.T) {
	ctx := context.Background()

	t.Run("accumulates into the hourly bucket", func(t *testing.T) {
		monitor, _, _, _ := setupTestMonitor(t, nil)

		require.NoError(t, monitor.RecordMetric(ctx, "requests", "api", 1))
		require.NoError(t, monitor.RecordMetric(ctx, "requests", "api", 2.5))

		total, err := monitor.GetMetricTotal(ctx, "requests", "api")
		require.NoError(t, err)
		assert.InDelta(t, 3.5, total, 0.001)
	})

	t.Run("buckets carry the retention TTL", func(t *testing.T) {
		monitor, _, _, mr := setupTestMonitor(t, &Config{Retention: 2 * time.Hour})

		require.NoError(t, monitor.RecordMetric(ctx, "errors", "db", 1))

		key := bucketKey("errors", "db", time.Now())
		assert.InDelta(t, (2 * time.Hour).Seconds(), mr.TTL(key).Seconds(), 1)
	})

	t.Run("requires type and name", func(t *testing.T) {
		monitor, _, _, _ := setupTestMonitor(t, nil)

		err := monitor.RecordMetric(ctx, "", "api", 1)
		assert.True(t, apperrors.IsType(err, apperrors.ErrTypeValidation))
	})

	t.Run("store failure is transient", func(t *testing.T) {
		monitor, _, _, mr := setupTestMonitor(t, nil)
		mr.Close()

		err := monitor.RecordMetric(ctx, "requests", "api", 1)
		assert.True(t, apperrors.IsType(err, apperrors.ErrTypeTransient))
	})
}

func TestThresholdAlerts(t *testing.T) {
	ctx := context.Background()

	t.Run("breach raises a warning alert", func(t *testing.T) {
		monitor, sink, _, _ := setupTestMonitor(t, &Config{
			Thresholds: map[string]float64{"errors:payment": 3},
		})

		require.NoError(t, monitor.RecordMetric(ctx, "errors", "payment", 2))
		select {
		case <-sink.C:
			t.Fatal("alert before threshold")
		case <-time.After(50 * time.Millisecond):
		}

		require.NoError(t, monitor.RecordMetric(ctx, "errors", "payment", 1))
		alert := waitAlert(t, sink)
		assert.Equal(t, "errors", alert.Type)
		assert.Equal(t, "payment", alert.Name)
		assert.Equal(t, float64(3), alert.Threshold)
		assert.InDelta(t, 3, alert.Actual, 0.001)
		assert.Equal(t, LevelWarning, alert.Level)
	})

	t.Run("doubling the threshold escalates to critical", func(t *testing.T) {
		monitor, sink, _, _ := setupTestMonitor(t, &Config{
			Thresholds: map[string]float64{"errors:payment": 2},
		})

		require.NoError(t, monitor.RecordMetric(ctx, "errors", "payment", 4))
		alert := waitAlert(t, sink)
		assert.Equal(t, LevelCritical, alert.Level)
	})

	t.Run("every breach alerts, no dedup", func(t *testing.T) {
		monitor, sink, _, _ := setupTestMonitor(t, &Config{
			Thresholds: map[string]float64{"errors:payment": 1},
		})

		require.NoError(t, monitor.RecordMetric(ctx, "errors", "payment", 1))
		require.NoError(t, monitor.RecordMetric(ctx, "errors", "payment", 1))
		waitAlert(t, sink)
		waitAlert(t, sink)
	})

	t.Run("unconfigured metrics never alert", func(t *testing.T) {
		monitor, sink, _, _ := setupTestMonitor(t, nil)

		require.NoError(t, monitor.RecordMetric(ctx, "requests", "api", 1000))
		select {
		case <-sink.C:
			t.Fatal("unexpected alert")
		case <-time.After(50 * time.Millisecond):
		}
	})
}

func TestGetQueueMetrics(t *testing.T) {
	ctx := context.Background()

	t.Run("reads fresh depths from the inspector", func(t *testing.T) {
		monitor, _, inspector, _ := setupTestMonitor(t, &Config{
			JobQueue:    "jobs",
			FailedQueue: "jobs.failed",
		})
		inspector.depths["jobs"] = 7
		inspector.depths["jobs.failed"] = 2

		metrics, err := monitor.GetQueueMetrics(ctx)
		require.NoError(t, err)
		assert.Equal(t, 7, metrics.Pending)
		assert.Equal(t, 2, metrics.Failed)
		assert.Equal(t, 0, metrics.Processing)

		// No caching: a depth change is visible on the next read.
		inspector.depths["jobs"] = 9
		metrics, err = monitor.GetQueueMetrics(ctx)
		require.NoError(t, err)
		assert.Equal(t, 9, metrics.Pending)
	})

	t.Run("includes the processing gauge", func(t *testing.T) {
		monitor, _, _, mr := setupTestMonitor(t, nil)
		mr.Set("queue:processing", "4")

		metrics, err := monitor.GetQueueMetrics(ctx)
		require.NoError(t, err)
		assert.Equal(t, 4, metrics.Processing)
	})

	t.Run("inspector failure is transient", func(t *testing.T) {
		monitor, _, inspector, _ := setupTestMonitor(t, nil)
		inspector.err = fmt.Errorf("broker down")

		_, err := monitor.GetQueueMetrics(ctx)
		assert.True(t, apperrors.IsType(err, apperrors.ErrTypeTransient))
	})
}

func TestCleanupExpired(t *testing.T) {
	ctx := context.Background()
	monitor, _, _, mr := setupTestMonitor(t, &Config{Retention: 24 * time.Hour})

	stale := bucketKey("requests", "api", time.Now().Add(-48*time.Hour))
	fresh := bucketKey("requests", "api", time.Now())
	mr.Set(stale, "10")
	mr.Set(fresh, "5")
	mr.Set("unrelated:key", "x")

	require.NoError(t, monitor.CleanupExpired(ctx))

	assert.False(t, mr.Exists(stale))
	assert.True(t, mr.Exists(fresh))
	assert.True(t, mr.Exists("unrelated:key"))
}

func TestParseThresholds(t *testing.T) {
	t.Run("parses pairs", func(t *testing.T) {
		thresholds, err := ParseThresholds("errors:payment=10, requests:api=5000")
		require.NoError(t, err)
		assert.Equal(t, map[string]float64{
			"errors:payment": 10,
			"requests:api":   5000,
		}, thresholds)
	})

	t.Run("empty input is empty, not an error", func(t *testing.T) {
		thresholds, err := ParseThresholds("")
		require.NoError(t, err)
		assert.Empty(t, thresholds)
	})

	t.Run("malformed pairs are config errors", func(t *testing.T) {
		_, err := ParseThresholds("errors:payment")
		assert.True(t, apperrors.IsType(err, apperrors.ErrTypeConfig))
		_, err = ParseThresholds("errors:payment=abc")
		assert.True(t, apperrors.IsType(err, apperrors.ErrTypeConfig))
	})
}
