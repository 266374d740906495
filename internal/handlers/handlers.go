// Package handlers implements the admin HTTP API: key lifecycle, webhook
// secrets, cache control, and operational metrics.
package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/Murtadah-1984/ajz-api-foundation-sub000/internal/cache"
	apperrors "github.com/Murtadah-1984/ajz-api-foundation-sub000/internal/common/errors"
	"github.com/Murtadah-1984/ajz-api-foundation-sub000/internal/common/logging"
	"github.com/Murtadah-1984/ajz-api-foundation-sub000/internal/monitoring"
	"github.com/Murtadah-1984/ajz-api-foundation-sub000/internal/redis"
	"github.com/Murtadah-1984/ajz-api-foundation-sub000/internal/security"
	"github.com/Murtadah-1984/ajz-api-foundation-sub000/internal/storage"
)

type Handlers struct {
	security *security.Manager
	cache    *cache.Manager
	monitor  *monitoring.Monitor
	redis    *redis.Client
	store    storage.Store
	logger   logging.Logger
}

func New(securityManager *security.Manager, cacheManager *cache.Manager, monitor *monitoring.Monitor, redisClient *redis.Client, store storage.Store, logger logging.Logger) *Handlers {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &Handlers{
		security: securityManager,
		cache:    cacheManager,
		monitor:  monitor,
		redis:    redisClient,
		store:    store,
		logger:   logger,
	}
}

func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload != nil {
		json.NewEncoder(w).Encode(payload)
	}
}

// respondError maps a typed error to its HTTP status. Only the error's own
// message reaches the body; internal causes stay in the logs.
func (h *Handlers) respondError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	message := "internal server error"

	switch apperrors.GetType(err) {
	case apperrors.ErrTypeNotFound:
		status = http.StatusNotFound
		message = err.Error()
	case apperrors.ErrTypeInvalidCredential:
		status = http.StatusUnauthorized
		message = err.Error()
	case apperrors.ErrTypeValidation, apperrors.ErrTypeInvariant:
		status = http.StatusBadRequest
		message = err.Error()
	case apperrors.ErrTypeRateLimit:
		status = http.StatusTooManyRequests
		message = err.Error()
	case apperrors.ErrTypeTransient, apperrors.ErrTypeConnection:
		status = http.StatusServiceUnavailable
		message = "service temporarily unavailable"
	case apperrors.ErrTypeConfig:
		// A feature that is not wired up, like queue metrics without a
		// broker. Not a server fault.
		status = http.StatusServiceUnavailable
		message = err.Error()
	}

	if status >= 500 {
		h.logger.Error("request failed", err)
	}
	respondJSON(w, status, map[string]string{"error": message})
}

func decodeBody(r *http.Request, dest interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(dest); err != nil {
		return apperrors.ValidationError("invalid request body")
	}
	return nil
}

// HealthCheck reports the health of the backing stores.
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	checks := map[string]string{
		"redis":    "ok",
		"database": "ok",
	}
	healthy := true

	if err := h.redis.Health(); err != nil {
		checks["redis"] = "unavailable"
		healthy = false
	}
	if err := h.store.Health(); err != nil {
		checks["database"] = "unavailable"
		healthy = false
	}

	status := http.StatusOK
	overall := "healthy"
	if !healthy {
		status = http.StatusServiceUnavailable
		overall = "degraded"
	}
	respondJSON(w, status, map[string]interface{}{
		"status": overall,
		"checks": checks,
	})
}
