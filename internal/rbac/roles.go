package rbac

// Role names. Keep these stable; they are part of the auth contract.
//
//	viewer   - read-only dashboard access
//	operator - may place, terminate and control calls and campaigns
//	admin    - operator plus workspace administration
const (
	RoleViewer   = "viewer"
	RoleOperator = "operator"
	RoleAdmin    = "admin"
)

func IsAdmin(role string) bool { return role == RoleAdmin }

func IsKnown(role string) bool {
	switch role {
	case RoleViewer, RoleOperator, RoleAdmin:
		return true
	default:
		return false
	}
}

// CanControlCalls reports whether the role may trigger outbound side
// effects (dial, hang up, pause campaigns).
func CanControlCalls(role string) bool {
	return role == RoleOperator || role == RoleAdmin
}
