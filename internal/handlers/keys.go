package handlers

import (
	"net/http"

	"github.com/gorilla/mux"
)

type generateKeyRequest struct {
	Tier string `json:"tier"`
}

// GenerateKey mints credentials for a tier. The secret in the response is
// the only copy that will ever exist.
func (h *Handlers) GenerateKey(w http.ResponseWriter, r *http.Request) {
	var req generateKeyRequest
	if err := decodeBody(r, &req); err != nil {
		h.respondError(w, err)
		return
	}

	creds, err := h.security.GenerateAPIKey(r.Context(), req.Tier)
	if err != nil {
		h.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, creds)
}

// RevokeKey soft-revokes a key. The response distinguishes "revoked now"
// from "was already revoked or never existed".
func (h *Handlers) RevokeKey(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]

	revoked, err := h.security.RevokeAPIKey(r.Context(), key)
	if err != nil {
		h.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{"revoked": revoked})
}

// RotateKey replaces an active key with fresh credentials of the same tier.
func (h *Handlers) RotateKey(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]

	creds, err := h.security.RotateAPIKey(r.Context(), key)
	if err != nil {
		h.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, creds)
}
