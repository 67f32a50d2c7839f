package rbac

// Role names. Keep these stable; they are baked into issued tokens.
const (
	// RoleOperator may pause and resume intake and trigger leads.
	RoleOperator = "operator"
	// RoleViewer has read-only access to status, reports and activity.
	RoleViewer = "viewer"
)

func IsKnownRole(role string) bool { return role == RoleOperator || role == RoleViewer }
