package user

import "time"

// PlatformRole is a user's global role, independent of any gym.
type PlatformRole string

const (
	RoleAdmin PlatformRole = "ADMIN"
	RoleUser  PlatformRole = "USER"
)

// Valid reports whether r is a known platform role.
func (r PlatformRole) Valid() bool {
	switch r {
	case RoleAdmin, RoleUser:
		return true
	}
	return false
}

// User represents a registered account. Email is the business key.
type User struct {
	ID           string       `json:"id"`
	Email        string       `json:"email"`
	PasswordHash string       `json:"-"`
	FirstName    string       `json:"first_name"`
	LastName     string       `json:"last_name"`
	Role         PlatformRole `json:"role"`
	Enabled      bool         `json:"enabled"`
	Locale       string       `json:"locale"`
	Theme        string       `json:"theme"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

// CreateUserInput holds the fields required to register a new user.
type CreateUserInput struct {
	Email     string
	Password  string
	FirstName string
	LastName  string
	Role      PlatformRole
}

// UpdateUserInput holds optional fields for a partial profile update.
type UpdateUserInput struct {
	FirstName *string
	LastName  *string
	Locale    *string
	Theme     *string
}
