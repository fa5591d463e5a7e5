// Package authz answers "can this identity perform this action on this
// resource?". It is stateless; membership state is read through a narrow
// store interface and the decision algorithm is a fixed-order rule chain.
package authz

import (
	"context"
	"errors"
	"fmt"

	"github.com/alecgard/boxauth/internal/gym"
	"github.com/alecgard/boxauth/internal/user"
)

// Identity is the verified principal of a request. It is constructed
// exactly once, at the network edge, and passed explicitly through the
// call chain; downstream code never reconstructs it from raw headers.
type Identity struct {
	UserID string
	Role   user.PlatformRole
}

// IsAdmin reports whether the identity holds the platform superuser role.
func (id Identity) IsAdmin() bool {
	return id.Role == user.RoleAdmin
}

// Action is a tenant-scoped operation subject to authorization.
type Action string

const (
	ActionWodWrite          Action = "wod:write"
	ActionScoreVerify       Action = "score:verify"
	ActionManageMemberships Action = "memberships:manage"
	ActionManageSettings    Action = "settings:manage"
)

// Permission maps the action to the membership permission it requires.
// The switch is exhaustive so a new action forces a review here.
func (a Action) Permission() (gym.Permission, error) {
	switch a {
	case ActionWodWrite:
		return gym.PermWodWrite, nil
	case ActionScoreVerify:
		return gym.PermScoreVerify, nil
	case ActionManageMemberships:
		return gym.PermManageMemberships, nil
	case ActionManageSettings:
		return gym.PermManageSettings, nil
	}
	return "", fmt.Errorf("unknown action %q", a)
}

// Resource describes the target of an authorization check.
type Resource struct {
	// OwnerID is the user who owns the resource, for self-service checks.
	// Empty when ownership does not apply.
	OwnerID string
	// GymID is the tenant the resource belongs to. Empty when the action
	// has no tenant context.
	GymID string
	// Missing marks a resource the caller failed to load. Checks on a
	// missing resource allow, deferring the 404-vs-403 decision to the
	// layer that performs the load, so a 403 never leaks existence.
	Missing bool
}

// MembershipSource reads membership state for decisions.
type MembershipSource interface {
	GetMembership(ctx context.Context, userID, gymID string) (*gym.Membership, error)
}

// Engine evaluates authorization decisions. Safe for concurrent use.
type Engine struct {
	memberships MembershipSource
}

// NewEngine creates an engine over the given membership source.
func NewEngine(memberships MembershipSource) *Engine {
	return &Engine{memberships: memberships}
}

// Authorize evaluates the rule chain in fixed order, first match wins:
//
//  1. platform admin: allow
//  2. missing resource: allow (404-vs-403 deferred to the loader)
//  3. resource owner, no tenant context: allow (self-service)
//  4. tenant resource: allow iff an ACTIVE membership grants the action's
//     permission, through the role envelope or an explicit grant
//  5. deny
func (e *Engine) Authorize(ctx context.Context, id Identity, action Action, res Resource) (bool, error) {
	if id.IsAdmin() {
		return true, nil
	}
	if res.Missing {
		return true, nil
	}
	if res.GymID == "" {
		return res.OwnerID != "" && res.OwnerID == id.UserID, nil
	}

	m, err := e.memberships.GetMembership(ctx, id.UserID, res.GymID)
	if err != nil {
		if errors.Is(err, gym.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("loading membership: %w", err)
	}

	perm, err := action.Permission()
	if err != nil {
		return false, err
	}
	return m.Grants(perm), nil
}
