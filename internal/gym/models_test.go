package gym

import "testing"

func TestDefaultPermissions(t *testing.T) {
	tests := []struct {
		role TenantRole
		want []Permission
	}{
		{RoleOwner, []Permission{PermWodWrite, PermScoreVerify, PermManageMemberships, PermManageSettings}},
		{RoleProgrammer, []Permission{PermWodWrite, PermScoreVerify}},
		{RoleCoach, []Permission{PermScoreVerify}},
		{RoleAthlete, nil},
	}

	for _, tt := range tests {
		got := DefaultPermissions(tt.role)
		if len(got) != len(tt.want) {
			t.Errorf("%s: expected %d permissions, got %d", tt.role, len(tt.want), len(got))
			continue
		}
		for _, p := range tt.want {
			if !got.Has(p) {
				t.Errorf("%s: missing expected permission %s", tt.role, p)
			}
		}
	}
}

func TestGrantsRequiresActiveStatus(t *testing.T) {
	for _, status := range []MembershipStatus{MembershipPending, MembershipInactive, MembershipBanned} {
		m := &Membership{
			Status:      status,
			Role:        RoleOwner,
			Permissions: PermissionSet{PermWodWrite},
		}
		if m.Grants(PermWodWrite) {
			t.Errorf("%s membership must not grant anything", status)
		}
	}

	m := &Membership{Status: MembershipActive, Role: RoleOwner}
	if !m.Grants(PermManageSettings) {
		t.Error("active owner should grant manage settings")
	}
}

func TestGrantsExplicitPermissionIsAdditive(t *testing.T) {
	// Coach role envelope lacks WOD_WRITE; an explicit grant adds it.
	m := &Membership{
		Status:      MembershipActive,
		Role:        RoleCoach,
		Permissions: PermissionSet{PermWodWrite},
	}
	if !m.Grants(PermWodWrite) {
		t.Error("explicit permission should grant despite role envelope")
	}
	// The role envelope still applies alongside the explicit grant.
	if !m.Grants(PermScoreVerify) {
		t.Error("role envelope permission should still grant")
	}
	if m.Grants(PermManageMemberships) {
		t.Error("ungranted permission should not be allowed")
	}
}

func TestPermissionValidation(t *testing.T) {
	if !PermWodWrite.Valid() {
		t.Error("WOD_WRITE should be valid")
	}
	if Permission("DROP_TABLES").Valid() {
		t.Error("unknown permission should be invalid")
	}
	if !RoleProgrammer.Valid() {
		t.Error("PROGRAMMER should be valid")
	}
	if TenantRole("JANITOR").Valid() {
		t.Error("unknown role should be invalid")
	}
}
