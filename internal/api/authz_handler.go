package api

import (
	"net/http"

	"github.com/alecgard/boxauth/internal/authz"
)

// authzHandler serves authorization decisions to internal services that
// hold forwarded identity headers but no membership data of their own.
type authzHandler struct {
	engine *authz.Engine
}

func newAuthzHandler(engine *authz.Engine) *authzHandler {
	return &authzHandler{engine: engine}
}

// Decide handles POST /internal/v1/authz/decision.
func (h *authzHandler) Decide(w http.ResponseWriter, r *http.Request) {
	id, ok := IdentityFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "invalid_token", "not authenticated")
		return
	}

	var req struct {
		Action          authz.Action `json:"action"`
		GymID           string       `json:"gym_id"`
		OwnerID         string       `json:"owner_id"`
		ResourceMissing bool         `json:"resource_missing"`
	}
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "failed to parse request body")
		return
	}
	if _, err := req.Action.Permission(); err != nil {
		writeValidationError(w, map[string]string{"action": "unknown action"})
		return
	}

	allowed, err := h.engine.Authorize(r.Context(), id, req.Action, authz.Resource{
		OwnerID: req.OwnerID,
		GymID:   req.GymID,
		Missing: req.ResourceMissing,
	})
	if err != nil {
		writeStoreError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"allowed": allowed,
	})
}
