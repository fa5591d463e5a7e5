// Package session implements the revocable refresh-session store. Records
// are keyed by the SHA-256 hash of an opaque session id (raw ids are never
// stored) and carry a TTL. A secondary per-user index supports evicting a
// user's prior session on login and "logout everywhere".
package session

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"
)

// ErrNotFound is returned for unknown, expired, or already-consumed
// session ids. Callers must not distinguish these cases.
var ErrNotFound = errors.New("session not found")

// Record is the server-side state backing one refresh credential.
type Record struct {
	UserID    string    `json:"user_id"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Store is the session persistence contract. All operations are atomic
// per key; Consume in particular must delete-and-return in one step so a
// refresh credential can only ever be used once.
type Store interface {
	// Create stores a record under the hashed id with the given TTL and
	// points the user index at it.
	Create(ctx context.Context, id string, rec Record, ttl time.Duration) error
	// Consume atomically removes and returns the record for id. Expired or
	// unknown ids yield ErrNotFound.
	Consume(ctx context.Context, id string) (*Record, error)
	// Delete removes the record for id, if any.
	Delete(ctx context.Context, id string) error
	// DeleteByUser removes the user's current session via the index.
	DeleteByUser(ctx context.Context, userID string) error
}

func hashID(id string) string {
	h := sha256.Sum256([]byte(id))
	return hex.EncodeToString(h[:])
}
