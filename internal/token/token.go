// Package token mints and validates the platform's bearer credentials:
// short-lived signed access tokens and long-lived opaque refresh sessions.
// It owns the signing secret; nothing else in the process reads it.
package token

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/alecgard/boxauth/internal/session"
	"github.com/alecgard/boxauth/internal/user"
)

// ErrInvalidToken covers every token or session verification failure:
// bad signature, wrong issuer or audience, expiry, unknown or reused
// session ids. Collapsing them prevents verification oracles.
var ErrInvalidToken = errors.New("invalid token")

// Claims is the access-token payload.
type Claims struct {
	jwt.RegisteredClaims
	Role user.PlatformRole `json:"role"`
}

// Config holds the signing material and credential lifetimes. The secret
// is passed in explicitly so tests can swap it per instance.
type Config struct {
	Secret     string
	Issuer     string
	Audience   string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

// Service issues, verifies, and rotates credentials. It is stateless and
// safe for concurrent use; all mutable state lives in the session store.
type Service struct {
	secret     []byte
	issuer     string
	audience   string
	accessTTL  time.Duration
	refreshTTL time.Duration
	sessions   session.Store
	now        func() time.Time // injectable clock for testing
}

// NewService creates a token service over the given session store.
func NewService(cfg Config, sessions session.Store) *Service {
	return &Service{
		secret:     []byte(cfg.Secret),
		issuer:     cfg.Issuer,
		audience:   cfg.Audience,
		accessTTL:  cfg.AccessTTL,
		refreshTTL: cfg.RefreshTTL,
		sessions:   sessions,
		now:        time.Now,
	}
}

// AccessTTL returns the configured access-token lifetime.
func (s *Service) AccessTTL() time.Duration { return s.accessTTL }

// RefreshTTL returns the configured refresh-session lifetime.
func (s *Service) RefreshTTL() time.Duration { return s.refreshTTL }

// IssueAccessToken mints a signed HS256 access token for the user.
func (s *Service) IssueAccessToken(userID string, role user.PlatformRole) (string, error) {
	now := s.now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    s.issuer,
			Audience:  jwt.ClaimStrings{s.audience},
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.accessTTL)),
		},
		Role: role,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("signing access token: %w", err)
	}
	return signed, nil
}

// Verify decodes and validates an access token: signature, signing method,
// issuer, audience, and expiry all must hold. Every failure maps to
// ErrInvalidToken without revealing which check tripped.
func (s *Service) Verify(raw string) (*Claims, error) {
	claims := &Claims{}
	tok, err := jwt.ParseWithClaims(raw, claims,
		func(t *jwt.Token) (interface{}, error) { return s.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.issuer),
		jwt.WithAudience(s.audience),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil || !tok.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// IssueRefreshSession evicts the user's prior session and creates a new
// one, returning the opaque session id. One active session per user: a
// login on a second device logs out the first.
func (s *Service) IssueRefreshSession(ctx context.Context, userID string) (string, error) {
	if err := s.sessions.DeleteByUser(ctx, userID); err != nil {
		return "", fmt.Errorf("evicting prior session: %w", err)
	}

	id, err := generateSessionID()
	if err != nil {
		return "", err
	}

	now := s.now()
	rec := session.Record{
		UserID:    userID,
		IssuedAt:  now,
		ExpiresAt: now.Add(s.refreshTTL),
	}
	if err := s.sessions.Create(ctx, id, rec, s.refreshTTL); err != nil {
		return "", fmt.Errorf("storing session: %w", err)
	}
	return id, nil
}

// Rotate consumes the old session and creates a replacement, returning the
// owning user id and the new session id. The old id is destroyed before
// the new one exists: a crash in between strands the user with no session
// (re-login) rather than two. Unknown, expired, or already-rotated ids
// fail with ErrInvalidToken.
func (s *Service) Rotate(ctx context.Context, oldID string) (userID, newID string, err error) {
	rec, err := s.sessions.Consume(ctx, oldID)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return "", "", ErrInvalidToken
		}
		return "", "", fmt.Errorf("consuming session: %w", err)
	}
	if !s.now().Before(rec.ExpiresAt) {
		return "", "", ErrInvalidToken
	}

	newID, err = generateSessionID()
	if err != nil {
		return "", "", err
	}

	now := s.now()
	newRec := session.Record{
		UserID:    rec.UserID,
		IssuedAt:  now,
		ExpiresAt: now.Add(s.refreshTTL),
	}
	if err := s.sessions.Create(ctx, newID, newRec, s.refreshTTL); err != nil {
		return "", "", fmt.Errorf("storing rotated session: %w", err)
	}
	return rec.UserID, newID, nil
}

// RevokeSession deletes the session for an explicit logout. Unknown ids
// are a no-op.
func (s *Service) RevokeSession(ctx context.Context, id string) error {
	if err := s.sessions.Delete(ctx, id); err != nil {
		return fmt.Errorf("revoking session: %w", err)
	}
	return nil
}

// RevokeUserSessions logs the user out everywhere via the user index.
func (s *Service) RevokeUserSessions(ctx context.Context, userID string) error {
	if err := s.sessions.DeleteByUser(ctx, userID); err != nil {
		return fmt.Errorf("revoking user sessions: %w", err)
	}
	return nil
}

func generateSessionID() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating session id: %w", err)
	}
	return hex.EncodeToString(b), nil
}
