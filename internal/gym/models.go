package gym

import "time"

// GymStatus is the lifecycle state of a gym.
type GymStatus string

const (
	StatusPendingApproval GymStatus = "PENDING_APPROVAL"
	StatusActive          GymStatus = "ACTIVE"
	StatusInactive        GymStatus = "INACTIVE"
)

// Valid reports whether s is a known gym status.
func (s GymStatus) Valid() bool {
	switch s {
	case StatusPendingApproval, StatusActive, StatusInactive:
		return true
	}
	return false
}

// Gym is a tenant: an isolated context within which roles and permissions
// are scoped.
type Gym struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	Status         GymStatus `json:"status"`
	EnrollmentCode string    `json:"-"`
	AutoSubscribe  bool      `json:"auto_subscribe"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// TenantRole is a role held within one gym's membership.
type TenantRole string

const (
	RoleOwner      TenantRole = "OWNER"
	RoleProgrammer TenantRole = "PROGRAMMER"
	RoleCoach      TenantRole = "COACH"
	RoleAthlete    TenantRole = "ATHLETE"
)

// Valid reports whether r is a known tenant role.
func (r TenantRole) Valid() bool {
	switch r {
	case RoleOwner, RoleProgrammer, RoleCoach, RoleAthlete:
		return true
	}
	return false
}

// Permission is a granular capability grantable independently of role.
type Permission string

const (
	PermWodWrite          Permission = "WOD_WRITE"
	PermScoreVerify       Permission = "SCORE_VERIFY"
	PermManageMemberships Permission = "MANAGE_MEMBERSHIPS"
	PermManageSettings    Permission = "MANAGE_SETTINGS"
)

// Valid reports whether p is a known permission.
func (p Permission) Valid() bool {
	switch p {
	case PermWodWrite, PermScoreVerify, PermManageMemberships, PermManageSettings:
		return true
	}
	return false
}

// PermissionSet is an unordered collection of explicit permission grants.
type PermissionSet []Permission

// Has reports whether the set contains p.
func (ps PermissionSet) Has(p Permission) bool {
	for _, have := range ps {
		if have == p {
			return true
		}
	}
	return false
}

// DefaultPermissions returns the permission envelope implied by a tenant
// role. Explicit grants are additive to this envelope, never subtractive.
func DefaultPermissions(r TenantRole) PermissionSet {
	switch r {
	case RoleOwner:
		return PermissionSet{PermWodWrite, PermScoreVerify, PermManageMemberships, PermManageSettings}
	case RoleProgrammer:
		return PermissionSet{PermWodWrite, PermScoreVerify}
	case RoleCoach:
		return PermissionSet{PermScoreVerify}
	case RoleAthlete:
		return PermissionSet{}
	}
	return PermissionSet{}
}

// MembershipStatus is the lifecycle state of a membership.
type MembershipStatus string

const (
	MembershipPending  MembershipStatus = "PENDING"
	MembershipActive   MembershipStatus = "ACTIVE"
	MembershipInactive MembershipStatus = "INACTIVE"
	MembershipBanned   MembershipStatus = "BANNED"
)

// Valid reports whether s is a known membership status.
func (s MembershipStatus) Valid() bool {
	switch s {
	case MembershipPending, MembershipActive, MembershipInactive, MembershipBanned:
		return true
	}
	return false
}

// Membership binds one user to one gym. At most one membership exists per
// (user, gym) pair. Memberships are deactivated rather than deleted so
// authored content keeps its attribution.
type Membership struct {
	UserID      string           `json:"user_id"`
	GymID       string           `json:"gym_id"`
	Status      MembershipStatus `json:"status"`
	Role        TenantRole       `json:"role"`
	Permissions PermissionSet    `json:"permissions"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
}

// Grants reports whether the membership grants p, through either the role
// envelope or an explicit grant. Only ACTIVE memberships grant anything.
func (m *Membership) Grants(p Permission) bool {
	if m.Status != MembershipActive {
		return false
	}
	return DefaultPermissions(m.Role).Has(p) || m.Permissions.Has(p)
}

// CreateGymInput holds the fields required to create a gym.
type CreateGymInput struct {
	Name           string
	EnrollmentCode string
	AutoSubscribe  bool
}

// UpdateGymInput holds optional fields for a partial gym settings update.
type UpdateGymInput struct {
	Name           *string
	EnrollmentCode *string
	AutoSubscribe  *bool
}

// UpdateMembershipInput holds optional fields for a membership change.
type UpdateMembershipInput struct {
	Status      *MembershipStatus
	Role        *TenantRole
	Permissions *PermissionSet
}
