// Package app wires the components together and owns their lifecycles.
package app

import (
	"context"

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

// App holds every long-lived component.
type App struct {
	Config      *config.Config
	Logger      logging.Logger
	RedisClient *redis.Client
	Locks       locks.Manager
	Store       storage.Store
	Cache       *cache.Manager
	Security    *security.Manager
	Limiter     *ratelimit.Limiter
	Monitor     *monitoring.Monitor
	Queue       *queue.Client
}

// New builds the application in dependency order. Redis and the database
// are required; the AMQP broker is optional and its absence only disables
// queue metrics and broker-published alerts.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	app := &App{
		Config: cfg,
		Logger: logging.GetGlobalLogger().WithFields(logging.Field{Key: "component", Value: "app"}),
	}

	if err := app.initRedis(); err != nil {
		return nil, err
	}
	if err := app.initStorage(ctx); err != nil {
		app.Close()
		return nil, err
	}
	if err := app.initCache(); err != nil {
		app.Close()
		return nil, err
	}
	if err := app.initSecurity(); err != nil {
		app.Close()
		return nil, err
	}
	app.initRateLimiter()
	app.initQueue()
	app.initMonitor()

	return app, nil
}

// Close releases every component that was initialized, in reverse order.
func (app *App) Close() {
	if app.Monitor != nil {
		app.Monitor.StopCleanup()
	}
	if app.Cache != nil {
		app.Cache.StopVersionSync()
	}
	if app.Queue != nil {
		app.Queue.Close()
	}
	if app.Store != nil {
		app.Store.Close()
	}
	if app.RedisClient != nil {
		app.RedisClient.Close()
	}
}
