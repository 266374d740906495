package handlers

import (
	"net/http"
)

// FlushCache bumps the cache version, orphaning every cached entry at once.
func (h *Handlers) FlushCache(w http.ResponseWriter, r *http.Request) {
	version := h.cache.BumpVersion(r.Context())
	respondJSON(w, http.StatusOK, map[string]int64{"version": version})
}

// GetQueueMetrics returns a fresh snapshot of queue depths.
func (h *Handlers) GetQueueMetrics(w http.ResponseWriter, r *http.Request) {
	metrics, err := h.monitor.GetQueueMetrics(r.Context())
	if err != nil {
		h.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, metrics)
}
