package api

import (
	"net/http"

	"github.com/alecgard/boxauth/internal/authz"
	"github.com/alecgard/boxauth/internal/gym"
	"github.com/go-chi/chi/v5"
)

// memberHandler groups membership management handlers.
type memberHandler struct {
	gyms   GymStore
	engine *authz.Engine
}

func newMemberHandler(gyms GymStore, engine *authz.Engine) *memberHandler {
	return &memberHandler{gyms: gyms, engine: engine}
}

// List handles GET /api/v1/gyms/{gymID}/members. Requires the
// memberships:manage permission.
func (h *memberHandler) List(w http.ResponseWriter, r *http.Request) {
	id, ok := IdentityFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "invalid_token", "not authenticated")
		return
	}
	gymID := chi.URLParam(r, "gymID")

	allowed, err := h.engine.Authorize(r.Context(), id, authz.ActionManageMemberships, authz.Resource{GymID: gymID})
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	if !allowed {
		writeError(w, http.StatusForbidden, "forbidden", "insufficient permissions")
		return
	}

	members, err := h.gyms.ListMemberships(r.Context(), gymID)
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	if members == nil {
		members = []*gym.Membership{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"members": members,
		"count":   len(members),
	})
}

// Update handles PATCH /api/v1/gyms/{gymID}/members/{userID}. Covers
// approving pending members, role changes, explicit permission grants, and
// deactivation or bans. Rows are never deleted.
func (h *memberHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := IdentityFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "invalid_token", "not authenticated")
		return
	}
	gymID := chi.URLParam(r, "gymID")
	targetID := chi.URLParam(r, "userID")

	allowed, err := h.engine.Authorize(r.Context(), id, authz.ActionManageMemberships, authz.Resource{GymID: gymID})
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	if !allowed {
		writeError(w, http.StatusForbidden, "forbidden", "insufficient permissions")
		return
	}

	var req struct {
		Status      *gym.MembershipStatus `json:"status"`
		Role        *gym.TenantRole       `json:"role"`
		Permissions *[]gym.Permission     `json:"permissions"`
	}
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "failed to parse request body")
		return
	}

	fields := map[string]string{}
	if req.Status != nil && !req.Status.Valid() {
		fields["status"] = "must be one of PENDING, ACTIVE, INACTIVE, BANNED"
	}
	if req.Role != nil && !req.Role.Valid() {
		fields["role"] = "must be one of OWNER, PROGRAMMER, COACH, ATHLETE"
	}
	if req.Permissions != nil {
		for _, p := range *req.Permissions {
			if !p.Valid() {
				fields["permissions"] = "contains an unknown permission"
				break
			}
		}
	}
	if len(fields) > 0 {
		writeValidationError(w, fields)
		return
	}

	in := gym.UpdateMembershipInput{Status: req.Status, Role: req.Role}
	if req.Permissions != nil {
		ps := gym.PermissionSet(*req.Permissions)
		in.Permissions = &ps
	}

	m, err := h.gyms.UpdateMembership(r.Context(), targetID, gymID, in)
	if err != nil {
		writeStoreError(w, r, err)
		return
	}

	auditLog(r, "membership.update", "membership", targetID+"/"+gymID,
		"status", m.Status, "role", m.Role)
	writeJSON(w, http.StatusOK, m)
}
