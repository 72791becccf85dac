package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanAccess(t *testing.T) {
	cases := []struct {
		name string
		role Role
		kind ResourceKind
		id   string
		want bool
	}{
		{"super admin global", RoleSuperAdmin, ResourceGlobal, "", true},
		{"system admin device", RoleAdminSystem, ResourceDevice, "7", true},
		{"system admin global", RoleAdminSystem, ResourceGlobal, "", true},
		{"doctor patient", RoleDoctor, ResourcePatient, "12", true},
		{"doctor patient without id", RoleDoctor, ResourcePatient, "", false},
		{"doctor global", RoleDoctor, ResourceGlobal, "", false},
		{"nurse device", RoleNurse, ResourceDevice, "7", true},
		{"coordinator device", RoleCoordinator, ResourceDevice, "7", true},
		{"hr device", RoleAdminHR, ResourceDevice, "7", false},
		{"reception device", RoleReception, ResourceDevice, "7", false},
		{"finance patient", RoleAdminFinance, ResourcePatient, "1", false},
		{"super admin simulation", RoleSuperAdmin, ResourceSimulation, "7", true},
		{"system admin simulation", RoleAdminSystem, ResourceSimulation, "7", true},
		{"doctor simulation", RoleDoctor, ResourceSimulation, "7", false},
		{"unknown role", Role("janitor"), ResourceDevice, "7", false},
		{"unknown kind", RoleSuperAdmin, ResourceKind("billing"), "", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, CanAccess(tc.role, tc.kind, tc.id))
			assert.Equal(t, tc.want, RoleAccess{}.CanAccess(tc.role, tc.kind, tc.id))
		})
	}
}

func TestHasPermission_ManageImpliesView(t *testing.T) {
	assert.True(t, HasPermission(RoleAdminSystem, PermViewReadings))
	assert.True(t, HasPermission(RoleAdminSystem, PermViewDevices))
	assert.False(t, HasPermission(RoleDoctor, PermManageDevices))
	assert.False(t, HasPermission(Role(""), PermViewDevices))
}

func TestNormalizeRole(t *testing.T) {
	role, ok := NormalizeRole("nurse")
	assert.True(t, ok)
	assert.Equal(t, RoleNurse, role)

	_, ok = NormalizeRole("viewer")
	assert.False(t, ok)
}
