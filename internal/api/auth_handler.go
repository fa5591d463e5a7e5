package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/alecgard/boxauth/internal/metrics"
	"github.com/alecgard/boxauth/internal/ratelimit"
	"github.com/alecgard/boxauth/internal/token"
	"github.com/alecgard/boxauth/internal/user"
)

// UserStore is the slice of the user store the API layer needs.
type UserStore interface {
	Create(ctx context.Context, in user.CreateUserInput) (*user.User, error)
	GetByID(ctx context.Context, id string) (*user.User, error)
	GetByEmail(ctx context.Context, email string) (*user.User, error)
	Update(ctx context.Context, id string, in user.UpdateUserInput) (*user.User, error)
	UpdatePassword(ctx context.Context, id, password string) error
	SetEnabled(ctx context.Context, id string, enabled bool) error
}

const minPasswordLength = 8

// authHandler groups registration and token lifecycle handlers.
type authHandler struct {
	users   UserStore
	tokens  *token.Service
	lockout *ratelimit.Lockout
	metrics *metrics.Metrics
}

func newAuthHandler(users UserStore, tokens *token.Service, lockout *ratelimit.Lockout, m *metrics.Metrics) *authHandler {
	return &authHandler{users: users, tokens: tokens, lockout: lockout, metrics: m}
}

// Register handles POST /api/v1/auth/register.
func (h *authHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email     string `json:"email"`
		Password  string `json:"password"`
		FirstName string `json:"first_name"`
		LastName  string `json:"last_name"`
	}
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "failed to parse request body")
		return
	}

	fields := map[string]string{}
	if !validEmail(req.Email) {
		fields["email"] = "must be a valid email address"
	}
	if len(req.Password) < minPasswordLength {
		fields["password"] = "must be at least 8 characters"
	}
	if strings.TrimSpace(req.FirstName) == "" {
		fields["first_name"] = "is required"
	}
	if strings.TrimSpace(req.LastName) == "" {
		fields["last_name"] = "is required"
	}
	if len(fields) > 0 {
		writeValidationError(w, fields)
		return
	}

	u, err := h.users.Create(r.Context(), user.CreateUserInput{
		Email:     req.Email,
		Password:  req.Password,
		FirstName: req.FirstName,
		LastName:  req.LastName,
	})
	if err != nil {
		writeStoreError(w, r, err)
		return
	}

	auditLog(r, "user.register", "user", u.ID, "email", u.Email)
	writeJSON(w, http.StatusCreated, u)
}

// Login handles POST /api/v1/auth/login.
func (h *authHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "failed to parse request body")
		return
	}
	if req.Email == "" || req.Password == "" {
		writeValidationError(w, map[string]string{"email": "is required", "password": "is required"})
		return
	}

	email := strings.ToLower(strings.TrimSpace(req.Email))

	// Check the lockout before touching credentials so a locked account
	// fails fast without leaking whether the password was right.
	locked, retryAfter, err := h.lockout.Check(r.Context(), email)
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	if locked {
		h.metrics.IncLockout()
		writeLocked(w, retryAfter)
		return
	}

	u, err := h.users.GetByEmail(r.Context(), email)
	if err != nil && !errors.Is(err, user.ErrNotFound) {
		writeStoreError(w, r, err)
		return
	}

	// A wrong email, wrong password, and disabled account all produce the
	// same response so none of them is distinguishable to a caller.
	if err != nil || !user.CheckPassword(u, req.Password) || !u.Enabled {
		h.metrics.IncAuthFailure("password")
		locked, retryAfter, lerr := h.lockout.RecordFailure(r.Context(), email)
		if lerr == nil && locked {
			h.metrics.IncLockout()
			auditLog(r, "auth.lockout", "user", email)
			writeLocked(w, retryAfter)
			return
		}
		writeError(w, http.StatusUnauthorized, "invalid_credentials", "invalid email or password")
		return
	}

	access, err := h.tokens.IssueAccessToken(u.ID, u.Role)
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	refresh, err := h.tokens.IssueRefreshSession(r.Context(), u.ID)
	if err != nil {
		writeStoreError(w, r, err)
		return
	}

	h.metrics.IncAuthSuccess("password")
	h.metrics.SessionsIssuedTotal.Inc()
	auditLog(r, "auth.login", "user", u.ID, "email", u.Email)

	setAuthCookies(w, access, refresh, h.tokens)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"user":       u,
		"expires_in": int(h.tokens.AccessTTL().Seconds()),
	})
}

// Refresh handles POST /api/v1/auth/refresh. The presented refresh session
// is consumed whether or not rotation succeeds.
func (h *authHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	old := extractRefreshID(r)
	if old == "" {
		writeError(w, http.StatusUnauthorized, "invalid_token", "missing refresh token")
		return
	}

	userID, newID, err := h.tokens.Rotate(r.Context(), old)
	if err != nil {
		clearAuthCookies(w)
		writeStoreError(w, r, err)
		return
	}

	u, err := h.users.GetByID(r.Context(), userID)
	if err != nil || !u.Enabled {
		// Account gone or disabled since issuance. The rotation already
		// consumed the session; drop the replacement too.
		_ = h.tokens.RevokeSession(r.Context(), newID)
		clearAuthCookies(w)
		writeError(w, http.StatusUnauthorized, "invalid_token", "invalid or expired token")
		return
	}

	access, err := h.tokens.IssueAccessToken(u.ID, u.Role)
	if err != nil {
		writeStoreError(w, r, err)
		return
	}

	h.metrics.SessionsRotatedTotal.Inc()
	setAuthCookies(w, access, newID, h.tokens)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"expires_in": int(h.tokens.AccessTTL().Seconds()),
	})
}

// Logout handles POST /api/v1/auth/logout. Best effort: an absent or
// already-consumed session still clears the cookies.
func (h *authHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if id := extractRefreshID(r); id != "" {
		if err := h.tokens.RevokeSession(r.Context(), id); err == nil {
			h.metrics.SessionsRevokedTotal.Inc()
		}
	}
	auditLog(r, "auth.logout", "user", "")
	clearAuthCookies(w)
	w.WriteHeader(http.StatusNoContent)
}

// Me handles GET /api/v1/auth/me.
func (h *authHandler) Me(w http.ResponseWriter, r *http.Request) {
	id, ok := IdentityFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "invalid_token", "not authenticated")
		return
	}

	u, err := h.users.GetByID(r.Context(), id.UserID)
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

// Impersonate handles POST /api/v1/auth/impersonate. Platform admins only.
// The issued token carries the target's identity; the grant is logged with
// the admin's identity for the audit trail.
func (h *authHandler) Impersonate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID string `json:"user_id"`
	}
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "failed to parse request body")
		return
	}
	if req.UserID == "" {
		writeValidationError(w, map[string]string{"user_id": "is required"})
		return
	}

	target, err := h.users.GetByID(r.Context(), req.UserID)
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	if !target.Enabled {
		writeError(w, http.StatusConflict, "conflict", "account is disabled")
		return
	}

	access, err := h.tokens.IssueAccessToken(target.ID, target.Role)
	if err != nil {
		writeStoreError(w, r, err)
		return
	}

	h.metrics.ImpersonationsTotal.Inc()
	auditLog(r, "auth.impersonate", "user", target.ID, "target_email", target.Email)

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"access_token": access,
		"expires_in":   int(h.tokens.AccessTTL().Seconds()),
		"user":         target,
	})
}

// writeLocked reports a lockout rejection with a Retry-After hint.
func writeLocked(w http.ResponseWriter, retryAfter time.Duration) {
	secs := int(retryAfter.Seconds())
	if secs < 1 {
		secs = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(secs))
	writeError(w, http.StatusTooManyRequests, "account_locked", "too many failed attempts, try again later")
}

// extractRefreshID reads the refresh session id from the cookie, falling
// back to the request body for non-browser clients.
func extractRefreshID(r *http.Request) string {
	if c, err := r.Cookie(refreshCookieName); err == nil && c.Value != "" {
		return c.Value
	}
	var body struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := readJSON(r, &body); err == nil {
		return body.RefreshToken
	}
	return ""
}

// validEmail applies a minimal structural check; real validation is the
// mail system's job.
func validEmail(s string) bool {
	at := strings.Index(s, "@")
	return at > 0 && at < len(s)-1 && !strings.ContainsAny(s, " \t\n")
}
