package rbac

// Role names. Keep these stable; they are embedded in issued tokens.
const (
	// RoleOperator manages contacts and reads reports.
	RoleOperator = "operator"
	// RoleRuntime is the conversation runtime: it posts room events and tool calls.
	RoleRuntime = "runtime"
	RoleAdmin   = "admin"
)

func IsAdmin(role string) bool { return role == RoleAdmin }

func IsKnownRole(role string) bool {
	switch role {
	case RoleOperator, RoleRuntime, RoleAdmin:
		return true
	default:
		return false
	}
}
