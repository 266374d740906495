package app

import (
	"context"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/joho/godotenv"

	"github.com/Murtadah-1984/ajz-api-foundation-sub000/internal/common/logging"
	"github.com/Murtadah-1984/ajz-api-foundation-sub000/internal/config"
	"github.com/Murtadah-1984/ajz-api-foundation-sub000/internal/handlers"
	"github.com/Murtadah-1984/ajz-api-foundation-sub000/internal/server"
)

// Run is the main entry point for the application
func Run() error {
	// Load environment variables
	_ = godotenv.Load()

	runtime.GOMAXPROCS(runtime.NumCPU())

	// Initialize logging
	logging.InitGlobalLogger()
	defer logging.MustSync()

	logging.Info("Starting api foundation",
		logging.Int("cpus", runtime.NumCPU()),
	)

	// Load and validate configuration
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logging.Error("Configuration validation failed", err)
		return err
	}

	// Initialize application
	app, err := New(context.Background(), cfg)
	if err != nil {
		logging.Error("Failed to initialize application", err)
		return err
	}
	defer app.Close()

	// Wire HTTP surface
	h := handlers.New(app.Security, app.Cache, app.Monitor, app.RedisClient, app.Store, app.Logger)
	router := mux.NewRouter()
	SetupRoutes(router, h, app.Limiter)

	srv := server.New(router, cfg.Port)
	errCh := srv.Start()
	logging.Info("Server listening", logging.String("port", cfg.Port))

	// Wait for interrupt signal or listener failure
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		logging.Error("Server failed", err)
		return err
	case sig := <-quit:
		logging.Info("Shutting down", logging.String("signal", sig.String()))
	}

	// Graceful shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logging.Error("Server forced to shutdown", err)
		return err
	}

	logging.Info("Server exited")
	return nil
}
