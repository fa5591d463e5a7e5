package api

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/alecgard/boxauth/internal/authz"
	"github.com/alecgard/boxauth/internal/gym"
	"github.com/go-chi/chi/v5"
)

// GymStore is the slice of the gym store the API layer needs.
type GymStore interface {
	Create(ctx context.Context, in gym.CreateGymInput) (*gym.Gym, error)
	GetByID(ctx context.Context, id string) (*gym.Gym, error)
	GetByEnrollmentCode(ctx context.Context, code string) (*gym.Gym, error)
	Update(ctx context.Context, id string, in gym.UpdateGymInput) (*gym.Gym, error)
	SetStatus(ctx context.Context, id string, status gym.GymStatus) (*gym.Gym, error)
	CreateMembership(ctx context.Context, userID, gymID string, status gym.MembershipStatus, role gym.TenantRole) (*gym.Membership, error)
	GetMembership(ctx context.Context, userID, gymID string) (*gym.Membership, error)
	ListMemberships(ctx context.Context, gymID string) ([]*gym.Membership, error)
	UpdateMembership(ctx context.Context, userID, gymID string, in gym.UpdateMembershipInput) (*gym.Membership, error)
}

// gymCreationHeader carries the capability token required to create a gym.
const gymCreationHeader = "X-Gym-Creation-Token"

// gymHandler groups gym lifecycle handlers.
type gymHandler struct {
	gyms          GymStore
	engine        *authz.Engine
	creationToken string
}

func newGymHandler(gyms GymStore, engine *authz.Engine, creationToken string) *gymHandler {
	return &gymHandler{gyms: gyms, engine: engine, creationToken: creationToken}
}

// Create handles POST /api/v1/gyms. Creation is gated on a capability token
// distributed out of band; the new gym starts in PENDING_APPROVAL and the
// creator becomes its active owner.
func (h *gymHandler) Create(w http.ResponseWriter, r *http.Request) {
	id, ok := IdentityFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "invalid_token", "not authenticated")
		return
	}

	presented := r.Header.Get(gymCreationHeader)
	if h.creationToken == "" || subtle.ConstantTimeCompare([]byte(presented), []byte(h.creationToken)) != 1 {
		writeError(w, http.StatusForbidden, "forbidden", "gym creation token required")
		return
	}

	var req struct {
		Name          string `json:"name"`
		AutoSubscribe bool   `json:"auto_subscribe"`
	}
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "failed to parse request body")
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		writeValidationError(w, map[string]string{"name": "is required"})
		return
	}

	code, err := gym.GenerateEnrollmentCode()
	if err != nil {
		writeStoreError(w, r, err)
		return
	}

	g, err := h.gyms.Create(r.Context(), gym.CreateGymInput{
		Name:           req.Name,
		EnrollmentCode: code,
		AutoSubscribe:  req.AutoSubscribe,
	})
	if err != nil {
		writeStoreError(w, r, err)
		return
	}

	m, err := h.gyms.CreateMembership(r.Context(), id.UserID, g.ID, gym.MembershipActive, gym.RoleOwner)
	if err != nil {
		writeStoreError(w, r, err)
		return
	}

	auditLog(r, "gym.create", "gym", g.ID, "name", g.Name)
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"gym":             g,
		"enrollment_code": g.EnrollmentCode,
		"membership":      m,
	})
}

// Get handles GET /api/v1/gyms/{gymID}. Visible to platform admins and to
// users holding any membership in the gym.
func (h *gymHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := IdentityFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "invalid_token", "not authenticated")
		return
	}
	gymID := chi.URLParam(r, "gymID")

	g, err := h.gyms.GetByID(r.Context(), gymID)
	if err != nil {
		writeStoreError(w, r, err)
		return
	}

	if !id.IsAdmin() {
		if _, err := h.gyms.GetMembership(r.Context(), id.UserID, gymID); err != nil {
			// Non-members get the same 404 as a gym that does not exist.
			writeError(w, http.StatusNotFound, "not_found", "resource not found")
			return
		}
	}

	writeJSON(w, http.StatusOK, g)
}

// Join handles POST /api/v1/gyms/join. The enrollment code both locates the
// gym and authorizes the join; whether the membership starts ACTIVE or
// PENDING is the gym's auto-subscribe setting.
func (h *gymHandler) Join(w http.ResponseWriter, r *http.Request) {
	id, ok := IdentityFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "invalid_token", "not authenticated")
		return
	}

	var req struct {
		EnrollmentCode string `json:"enrollment_code"`
	}
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "failed to parse request body")
		return
	}
	if req.EnrollmentCode == "" {
		writeValidationError(w, map[string]string{"enrollment_code": "is required"})
		return
	}

	g, err := h.gyms.GetByEnrollmentCode(r.Context(), strings.ToUpper(strings.TrimSpace(req.EnrollmentCode)))
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	if g.Status != gym.StatusActive {
		writeError(w, http.StatusNotFound, "not_found", "resource not found")
		return
	}

	status := gym.MembershipPending
	if g.AutoSubscribe {
		status = gym.MembershipActive
	}

	m, err := h.gyms.CreateMembership(r.Context(), id.UserID, g.ID, status, gym.RoleAthlete)
	if err != nil {
		writeStoreError(w, r, err)
		return
	}

	auditLog(r, "gym.join", "gym", g.ID, "membership_status", m.Status)
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"gym":        g,
		"membership": m,
	})
}

// UpdateSettings handles PATCH /api/v1/gyms/{gymID}/settings. Requires the
// settings:manage permission; the response includes the enrollment code,
// which this audience is entitled to see.
func (h *gymHandler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	id, ok := IdentityFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "invalid_token", "not authenticated")
		return
	}
	gymID := chi.URLParam(r, "gymID")

	allowed, err := h.engine.Authorize(r.Context(), id, authz.ActionManageSettings, authz.Resource{GymID: gymID})
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	if !allowed {
		writeError(w, http.StatusForbidden, "forbidden", "insufficient permissions")
		return
	}

	var req struct {
		Name                 *string `json:"name"`
		AutoSubscribe        *bool   `json:"auto_subscribe"`
		RotateEnrollmentCode bool    `json:"rotate_enrollment_code"`
	}
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "failed to parse request body")
		return
	}
	if req.Name != nil && strings.TrimSpace(*req.Name) == "" {
		writeValidationError(w, map[string]string{"name": "cannot be empty"})
		return
	}

	in := gym.UpdateGymInput{Name: req.Name, AutoSubscribe: req.AutoSubscribe}
	if req.RotateEnrollmentCode {
		code, err := gym.GenerateEnrollmentCode()
		if err != nil {
			writeStoreError(w, r, err)
			return
		}
		in.EnrollmentCode = &code
	}

	g, err := h.gyms.Update(r.Context(), gymID, in)
	if err != nil {
		writeStoreError(w, r, err)
		return
	}

	auditLog(r, "gym.settings_update", "gym", g.ID, "rotated_code", req.RotateEnrollmentCode)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"gym":             g,
		"enrollment_code": g.EnrollmentCode,
	})
}

// SetStatus handles PUT /api/v1/gyms/{gymID}/status. Platform admins only:
// this is the approval/deactivation switch for the whole tenant.
func (h *gymHandler) SetStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := IdentityFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "invalid_token", "not authenticated")
		return
	}
	if !id.IsAdmin() {
		writeError(w, http.StatusForbidden, "forbidden", "platform admin required")
		return
	}

	var req struct {
		Status gym.GymStatus `json:"status"`
	}
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "failed to parse request body")
		return
	}
	if !req.Status.Valid() {
		writeValidationError(w, map[string]string{"status": "must be one of PENDING_APPROVAL, ACTIVE, INACTIVE"})
		return
	}

	gymID := chi.URLParam(r, "gymID")
	g, err := h.gyms.SetStatus(r.Context(), gymID, req.Status)
	if err != nil {
		writeStoreError(w, r, err)
		return
	}

	auditLog(r, "gym.status_change", "gym", g.ID, "status", g.Status)
	writeJSON(w, http.StatusOK, g)
}
