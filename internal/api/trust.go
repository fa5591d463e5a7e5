package api

import (
	"context"
	"crypto/subtle"
	"net/http"

	"github.com/alecgard/boxauth/internal/authz"
	"github.com/alecgard/boxauth/internal/token"
	"github.com/alecgard/boxauth/internal/user"
)

// Cookie names for the browser-facing token pair.
const (
	accessCookieName  = "ba_access"
	refreshCookieName = "ba_refresh"

	// refreshCookiePath scopes the refresh cookie so browsers only attach
	// it to the token lifecycle endpoints.
	refreshCookiePath = "/api/v1/auth"
)

// Trust headers injected at the edge after access-token verification.
// They are only meaningful behind the shared-secret check; anything a
// client sends on the public surface is stripped before routing.
const (
	headerUserID        = "X-User-Id"
	headerUserRole      = "X-User-Role"
	headerInternalToken = "X-Internal-Token"
)

const identityKey contextKey = "identity"

// IdentityFromContext extracts the verified caller identity from the context.
func IdentityFromContext(ctx context.Context) (authz.Identity, bool) {
	id, ok := ctx.Value(identityKey).(authz.Identity)
	return id, ok
}

// ContextWithIdentity returns a child context carrying the given identity.
func ContextWithIdentity(ctx context.Context, id authz.Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// setAuthCookies attaches the access/refresh cookie pair to the response.
func setAuthCookies(w http.ResponseWriter, accessToken, refreshID string, tokens *token.Service) {
	http.SetCookie(w, &http.Cookie{
		Name:     accessCookieName,
		Value:    accessToken,
		Path:     "/",
		MaxAge:   int(tokens.AccessTTL().Seconds()),
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteStrictMode,
	})
	http.SetCookie(w, &http.Cookie{
		Name:     refreshCookieName,
		Value:    refreshID,
		Path:     refreshCookiePath,
		MaxAge:   int(tokens.RefreshTTL().Seconds()),
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteStrictMode,
	})
}

// clearAuthCookies expires both auth cookies.
func clearAuthCookies(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     accessCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteStrictMode,
	})
	http.SetCookie(w, &http.Cookie{
		Name:     refreshCookieName,
		Value:    "",
		Path:     refreshCookiePath,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteStrictMode,
	})
}

// stripTrustHeaders removes any client-supplied trust headers on the public
// surface so they cannot be spoofed past the edge.
func stripTrustHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Header.Del(headerUserID)
		r.Header.Del(headerUserRole)
		r.Header.Del(headerInternalToken)
		next.ServeHTTP(w, r)
	})
}

// edgeAuthMiddleware verifies the access token exactly once per request,
// from the access cookie or an Authorization bearer header, and places the
// resulting identity in the context. Requests without a valid token are
// rejected with 401.
func edgeAuthMiddleware(tokens *token.Service, internalToken string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := extractAccessToken(r)
			if raw == "" {
				writeError(w, http.StatusUnauthorized, "invalid_token", "not authenticated")
				return
			}

			claims, err := tokens.Verify(raw)
			if err != nil {
				writeError(w, http.StatusUnauthorized, "invalid_token", "invalid or expired token")
				return
			}

			id := authz.Identity{
				UserID: claims.Subject,
				Role:   claims.Role,
			}

			// Inject the trust headers so the request can be forwarded to
			// internal services without re-verifying the token. The shared
			// token rides along so internal hops accept the forwarded call.
			r.Header.Set(headerUserID, id.UserID)
			r.Header.Set(headerUserRole, string(id.Role))
			r.Header.Set(headerInternalToken, internalToken)

			next.ServeHTTP(w, r.WithContext(ContextWithIdentity(r.Context(), id)))
		})
	}
}

// internalTrustMiddleware authenticates service-to-service calls: the
// shared internal token must match, after which the identity headers set
// by the edge are trusted as-is.
func internalTrustMiddleware(internalToken string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			presented := r.Header.Get(headerInternalToken)
			if internalToken == "" || subtle.ConstantTimeCompare([]byte(presented), []byte(internalToken)) != 1 {
				writeError(w, http.StatusForbidden, "forbidden", "internal token required")
				return
			}

			userID := r.Header.Get(headerUserID)
			role := user.PlatformRole(r.Header.Get(headerUserRole))
			if userID == "" || !role.Valid() {
				writeError(w, http.StatusForbidden, "forbidden", "missing identity headers")
				return
			}

			id := authz.Identity{UserID: userID, Role: role}
			next.ServeHTTP(w, r.WithContext(ContextWithIdentity(r.Context(), id)))
		})
	}
}

// extractAccessToken prefers the access cookie and falls back to an
// Authorization bearer header for non-browser clients.
func extractAccessToken(r *http.Request) string {
	if c, err := r.Cookie(accessCookieName); err == nil && c.Value != "" {
		return c.Value
	}
	h := r.Header.Get("Authorization")
	if len(h) > 7 && h[:7] == "Bearer " {
		return h[7:]
	}
	return ""
}
