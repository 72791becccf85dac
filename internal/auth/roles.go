package auth

// Role represents a staff role.
type Role string

const (
	RoleSuperAdmin   Role = "super_admin"
	RoleAdminHR      Role = "admin_hr"
	RoleAdminMedical Role = "admin_medical"
	RoleAdminFinance Role = "admin_finance"
	RoleAdminSystem  Role = "admin_system"
	RoleDoctor       Role = "doctor"
	RoleNurse        Role = "nurse"
	RoleReception    Role = "reception"
	RoleCoordinator  Role = "coordinator"
)

// Permission is a capability granted to roles.
type Permission string

const (
	PermViewDevices    Permission = "view_devices"
	PermViewMetrics    Permission = "view_metrics"
	PermViewReadings   Permission = "view_readings"
	PermViewIncidents  Permission = "view_incidents"
	PermManageDevices  Permission = "manage_devices"
	PermManageMetrics  Permission = "manage_metrics"
	PermManageReadings Permission = "manage_readings"
)

var rolePermissions = map[Role][]Permission{
	RoleSuperAdmin: {
		PermViewDevices, PermViewMetrics, PermViewReadings, PermViewIncidents,
		PermManageDevices, PermManageMetrics, PermManageReadings,
	},
	RoleAdminHR:      {PermViewDevices, PermViewMetrics, PermViewReadings},
	RoleAdminMedical: {PermViewDevices, PermViewMetrics, PermViewReadings, PermViewIncidents},
	RoleAdminFinance: nil,
	RoleAdminSystem:  {PermManageDevices, PermManageMetrics, PermManageReadings},
	RoleDoctor:       {PermViewDevices, PermViewMetrics, PermViewReadings, PermViewIncidents},
	RoleNurse:        {PermViewDevices, PermViewMetrics, PermViewReadings, PermViewIncidents},
	RoleReception:    nil,
	RoleCoordinator:  {PermViewDevices, PermViewIncidents},
}

// NormalizeRole validates and normalizes a role string.
func NormalizeRole(value string) (Role, bool) {
	role := Role(value)
	if _, ok := rolePermissions[role]; ok {
		return role, true
	}
	return "", false
}

// HasPermission reports whether role holds permission.
// Managing a resource implies viewing it.
func HasPermission(role Role, perm Permission) bool {
	granted, ok := rolePermissions[role]
	if !ok {
		return false
	}
	for _, p := range granted {
		if p == perm || p == managesFor(perm) {
			return true
		}
	}
	return false
}

func managesFor(perm Permission) Permission {
	switch perm {
	case PermViewDevices:
		return PermManageDevices
	case PermViewMetrics:
		return PermManageMetrics
	case PermViewReadings:
		return PermManageReadings
	default:
		return ""
	}
}
