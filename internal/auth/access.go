package auth

// ResourceKind names what an access check is about.
type ResourceKind string

const (
	ResourceDevice     ResourceKind = "device"
	ResourcePatient    ResourceKind = "patient"
	ResourceGlobal     ResourceKind = "global"
	ResourceSimulation ResourceKind = "simulation"
)

// AccessChecker decides whether a role may act on a resource.
type AccessChecker interface {
	CanAccess(role Role, kind ResourceKind, resourceID string) bool
}

// AccessFunc adapts a function to AccessChecker.
type AccessFunc func(role Role, kind ResourceKind, resourceID string) bool

// CanAccess implements AccessChecker.
func (f AccessFunc) CanAccess(role Role, kind ResourceKind, resourceID string) bool {
	return f(role, kind, resourceID)
}

// RoleAccess is the role-table access checker.
type RoleAccess struct{}

// CanAccess implements AccessChecker.
func (RoleAccess) CanAccess(role Role, kind ResourceKind, resourceID string) bool {
	return CanAccess(role, kind, resourceID)
}

// CanAccess applies the role table to a telemetry or simulation resource.
// System roles see every room; clinical roles only concrete device or patient rooms.
func CanAccess(role Role, kind ResourceKind, resourceID string) bool {
	switch kind {
	case ResourceSimulation:
		return role == RoleSuperAdmin || HasPermission(role, PermManageDevices)
	case ResourceDevice, ResourcePatient, ResourceGlobal:
		if !HasPermission(role, PermViewDevices) && !HasPermission(role, PermViewReadings) {
			return false
		}
		switch role {
		case RoleSuperAdmin, RoleAdminSystem:
			return true
		case RoleDoctor, RoleNurse, RoleAdminMedical, RoleCoordinator:
			return kind != ResourceGlobal && resourceID != ""
		}
		return false
	default:
		return false
	}
}
