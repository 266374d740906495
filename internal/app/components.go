package app

import (
	"context"
	"fmt"

	"github.com/Murtadah-1984/ajz-api-foundation-sub000/internal/cache"
	"github.com/Murtadah-1984/ajz-api-foundation-sub000/internal/common/logging"
	"github.com/Murtadah-1984/ajz-api-foundation-sub000/internal/config"
	"github.com/Murtadah-1984/ajz-api-foundation-sub000/internal/locks"
	"github.com/Murtadah-1984/ajz-api-foundation-sub000/internal/monitoring"
	"github.com/Murtadah-1984/ajz-api-foundation-sub000/internal/queue"
	"github.com/Murtadah-1984/ajz-api-foundation-sub000/internal/ratelimit"
	"github.com/Murtadah-1984/ajz-api-foundation-sub000/internal/redis"
	"github.com/Murtadah-1984/ajz-api-foundation-sub000/internal/security"
	"github.com/Murtadah-1984/ajz-api-foundation-sub000/internal/storage"
)

func (app *App) initRedis() error {
	client, err := redis.NewClient(&redis.Config{
		Address:  app.Config.RedisAddress,
		Password: app.Config.RedisPassword,
		DB:       config.Int(app.Config.RedisDB, 0),
		PoolSize: config.Int(app.Config.RedisPoolSize, 10),
	})
	if err != nil {
		return fmt.Errorf("failed to connect to redis: %w", err)
	}
	app.RedisClient = client
	app.Logger.Info("Redis: connected", logging.String("address", app.Config.RedisAddress))

	lockManager, err := locks.NewRedsyncManager(client)
	if err != nil {
		return err
	}
	app.Locks = lockManager
	return nil
}

func (app *App) initStorage(ctx context.Context) error {
	store, err := storage.NewStore(ctx, app.Config)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	app.Store = store
	app.Logger.Info("Database: ready", logging.String("type", app.Config.DatabaseType))
	return nil
}

func (app *App) initCache() error {
	manager, err := cache.NewManager(app.RedisClient, app.Locks, &cache.Config{
		Prefix:     app.Config.CachePrefix,
		DefaultTTL: config.Duration(app.Config.CacheDefaultTTL, 0),
		Volatility: config.ParseVolatility(app.Config.CacheVolatility),
		LockWait:   config.Duration(app.Config.CacheLockWait, 0),
	}, app.Logger)
	if err != nil {
		return err
	}
	manager.StartVersionSync()
	app.Cache = manager
	return nil
}

func (app *App) initSecurity() error {
	manager, err := security.NewManager(app.Store, app.Cache, app.Config.SecretEncryptionKey, &security.Config{
		KeyTTL:             config.Duration(app.Config.APIKeyTTL, 0),
		ValidationCacheTTL: config.Duration(app.Config.APIKeyCacheTTL, 0),
	}, app.Logger)
	if err != nil {
		return err
	}
	app.Security = manager
	return nil
}

func (app *App) initRateLimiter() {
	app.Limiter = ratelimit.NewLimiter(app.RedisClient, app.Cache, app.Store, &ratelimit.Config{
		Enabled:        app.Config.RateLimitEnabled,
		Window:         config.Duration(app.Config.RateLimitWindow, 0),
		AnonymousLimit: config.Int(app.Config.RateLimitAnonymous, 0),
		FailurePolicy:  app.Config.RateLimitFailurePolicy,
		FallbackRPS:    config.Int(app.Config.RateLimitFallbackRPS, 0),
	}, app.Logger)
}

func (app *App) initQueue() {
	if app.Config.AMQPURL == "" {
		app.Logger.Info("AMQP: not configured, queue metrics and broker alerts disabled")
		return
	}

	client, err := queue.NewClient(&queue.Config{
		URL:           app.Config.AMQPURL,
		AlertExchange: app.Config.AlertExchange,
	}, app.Logger)
	if err != nil {
		// Metrics and alerts degrade; the core request path does not need
		// the broker.
		app.Logger.Warn("AMQP: connection failed, continuing without broker", logging.Err(err))
		return
	}
	app.Queue = client
	app.Logger.Info("AMQP: connected")
}

func (app *App) initMonitor() {
	thresholds, err := monitoring.ParseThresholds(app.Config.AlertThresholds)
	if err != nil {
		app.Logger.Warn("invalid ALERT_THRESHOLDS, alerts disabled", logging.Err(err))
		thresholds = nil
	}

	var sink monitoring.AlertSink
	var inspector monitoring.QueueInspector
	if app.Queue != nil {
		sink = app.Queue
		inspector = app.Queue
	} else {
		sink = monitoring.NewChannelSink(64)
	}

	app.Monitor = monitoring.NewMonitor(app.RedisClient, sink, inspector, &monitoring.Config{
		Thresholds:  thresholds,
		Retention:   config.Duration(app.Config.MetricRetention, 0),
		JobQueue:    app.Config.JobQueue,
		FailedQueue: app.Config.FailedQueue,
	}, app.Logger)
	app.Monitor.StartCleanup()
	app.Limiter.SetMetricRecorder(app.Monitor)
}
