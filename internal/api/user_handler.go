package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/alecgard/boxauth/internal/metrics"
	"github.com/alecgard/boxauth/internal/token"
	"github.com/alecgard/boxauth/internal/user"
)

// userHandler groups self-service profile handlers.
type userHandler struct {
	users   UserStore
	tokens  *token.Service
	metrics *metrics.Metrics
}

func newUserHandler(users UserStore, tokens *token.Service, m *metrics.Metrics) *userHandler {
	return &userHandler{users: users, tokens: tokens, metrics: m}
}

// UpdateProfile handles PATCH /api/v1/users/me. Absent fields are left
// untouched.
func (h *userHandler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	id, ok := IdentityFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "invalid_token", "not authenticated")
		return
	}

	var req struct {
		FirstName *string `json:"first_name"`
		LastName  *string `json:"last_name"`
		Locale    *string `json:"locale"`
		Theme     *string `json:"theme"`
	}
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "failed to parse request body")
		return
	}

	fields := map[string]string{}
	if req.FirstName != nil && *req.FirstName == "" {
		fields["first_name"] = "cannot be empty"
	}
	if req.LastName != nil && *req.LastName == "" {
		fields["last_name"] = "cannot be empty"
	}
	if len(fields) > 0 {
		writeValidationError(w, fields)
		return
	}

	u, err := h.users.Update(r.Context(), id.UserID, user.UpdateUserInput{
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Locale:    req.Locale,
		Theme:     req.Theme,
	})
	if err != nil {
		writeStoreError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, u)
}

// UpdatePassword handles PUT /api/v1/users/me/password. A successful change
// revokes the user's refresh session, so other devices must log in again.
func (h *userHandler) UpdatePassword(w http.ResponseWriter, r *http.Request) {
	id, ok := IdentityFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "invalid_token", "not authenticated")
		return
	}

	var req struct {
		CurrentPassword string `json:"current_password"`
		NewPassword     string `json:"new_password"`
	}
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "failed to parse request body")
		return
	}
	if len(req.NewPassword) < minPasswordLength {
		writeValidationError(w, map[string]string{"new_password": "must be at least 8 characters"})
		return
	}

	u, err := h.users.GetByID(r.Context(), id.UserID)
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	if !user.CheckPassword(u, req.CurrentPassword) {
		writeError(w, http.StatusUnauthorized, "invalid_credentials", "current password is incorrect")
		return
	}

	if err := h.users.UpdatePassword(r.Context(), id.UserID, req.NewPassword); err != nil {
		writeStoreError(w, r, err)
		return
	}

	if err := h.tokens.RevokeUserSessions(r.Context(), id.UserID); err == nil {
		h.metrics.SessionsRevokedTotal.Inc()
	}
	auditLog(r, "user.password_change", "user", id.UserID)

	clearAuthCookies(w)
	w.WriteHeader(http.StatusNoContent)
}

// SetStatus handles PUT /api/v1/users/{userID}/status. Platform admins
// enable or disable an account; disabling also revokes the account's
// refresh session so it cannot mint new access tokens.
func (h *userHandler) SetStatus(w http.ResponseWriter, r *http.Request) {
	targetID := chi.URLParam(r, "userID")

	var req struct {
		Enabled *bool `json:"enabled"`
	}
	if err := readJSON(r, &req); err != nil || req.Enabled == nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "failed to parse request body")
		return
	}

	if err := h.users.SetEnabled(r.Context(), targetID, *req.Enabled); err != nil {
		writeStoreError(w, r, err)
		return
	}

	if !*req.Enabled {
		if err := h.tokens.RevokeUserSessions(r.Context(), targetID); err == nil {
			h.metrics.SessionsRevokedTotal.Inc()
		}
	}
	auditLog(r, "user.status_change", "user", targetID, "enabled", *req.Enabled)

	u, err := h.users.GetByID(r.Context(), targetID)
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}
