package handlers

import (
	"net/http"

	"github.com/gorilla/mux"
)

type storeSecretRequest struct {
	Identifier  string `json:"identifier"`
	Secret      string `json:"secret"`
	Description string `json:"description,omitempty"`
}

func (h *Handlers) StoreWebhookSecret(w http.ResponseWriter, r *http.Request) {
	var req storeSecretRequest
	if err := decodeBody(r, &req); err != nil {
		h.respondError(w, err)
		return
	}

	info, err := h.security.StoreWebhookSecret(r.Context(), req.Identifier, req.Secret, req.Description)
	if err != nil {
		h.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, info)
}

func (h *Handlers) ListWebhookSecrets(w http.ResponseWriter, r *http.Request) {
	infos, err := h.security.ListWebhookSecrets(r.Context())
	if err != nil {
		h.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"secrets": infos})
}

// GetWebhookSecret returns the plaintext secret for outbound signing. This
// is the one read path that exposes secret material; it sits behind the
// admin surface on purpose.
func (h *Handlers) GetWebhookSecret(w http.ResponseWriter, r *http.Request) {
	identifier := mux.Vars(r)["id"]

	secret, err := h.security.GetWebhookSecret(r.Context(), identifier)
	if err != nil {
		h.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{
		"identifier": identifier,
		"secret":     secret,
	})
}

func (h *Handlers) RevokeWebhookSecret(w http.ResponseWriter, r *http.Request) {
	identifier := mux.Vars(r)["id"]

	revoked, err := h.security.RevokeWebhookSecret(r.Context(), identifier)
	if err != nil {
		h.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{"revoked": revoked})
}
