package app

import (
	"github.com/gorilla/mux"

	"github.com/Murtadah-1984/ajz-api-foundation-sub000/internal/crypto"
	"github.com/Murtadah-1984/ajz-api-foundation-sub000/internal/handlers"
	"github.com/Murtadah-1984/ajz-api-foundation-sub000/internal/middleware"
	"github.com/Murtadah-1984/ajz-api-foundation-sub000/internal/ratelimit"
)

// SetupRoutes configures all HTTP routes for the application
func SetupRoutes(router *mux.Router, h *handlers.Handlers, limiter *ratelimit.Limiter) {
	// Add logging middleware to all routes
	router.Use(middleware.LoggingMiddleware)

	// Health check (no rate limiting)
	router.HandleFunc("/health", h.HealthCheck).Methods("GET")

	// API endpoints, rate limited per API key or client IP
	api := router.PathPrefix("/api").Subrouter()
	api.Use(limiter.Middleware(ratelimit.APIKeyIdentity(crypto.DigestKey)))

	// API key lifecycle
	api.HandleFunc("/keys", h.GenerateKey).Methods("POST")
	api.HandleFunc("/keys/{key}", h.RevokeKey).Methods("DELETE")
	api.HandleFunc("/keys/{key}/rotate", h.RotateKey).Methods("POST")

	// Webhook secret management
	api.HandleFunc("/webhook-secrets", h.StoreWebhookSecret).Methods("POST")
	api.HandleFunc("/webhook-secrets", h.ListWebhookSecrets).Methods("GET")
	api.HandleFunc("/webhook-secrets/{id}", h.GetWebhookSecret).Methods("GET")
	api.HandleFunc("/webhook-secrets/{id}", h.RevokeWebhookSecret).Methods("DELETE")

	// Cache administration
	api.HandleFunc("/cache/flush", h.FlushCache).Methods("POST")

	// Queue metrics
	api.HandleFunc("/metrics/queue", h.GetQueueMetrics).Methods("GET")
}
