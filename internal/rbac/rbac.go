package rbac

type Role string
type Action string

const (
	RoleViewer   Role = "viewer"
	RoleEditor   Role = "editor"
	RoleDelegate Role = "delegate"
)

const (
	ActionRead   Action = "read"
	ActionWrite  Action = "write"
	ActionShare  Action = "share"
	ActionDelete Action = "delete"
)

func Can(role Role, action Action) bool {
	switch role {
	case RoleDelegate:
		return true
	case RoleEditor:
		return action == ActionRead || action == ActionWrite
	case RoleViewer:
		return action == ActionRead
	default:
		return false
	}
}

func Normalize(role string) Role {
	switch Role(role) {
	case RoleViewer, RoleEditor, RoleDelegate:
		return Role(role)
	default:
		return RoleViewer
	}
}

func ValidRole(role string) bool {
	switch Role(role) {
	case RoleViewer, RoleEditor, RoleDelegate:
		return true
	default:
		return false
	}
}

func ValidAction(action string) bool {
	switch Action(action) {
	case ActionRead, ActionWrite, ActionShare, ActionDelete:
		return true
	default:
		return false
	}
}

// rank orders roles by privilege. Unknown roles rank below viewer.
func rank(role Role) int {
	switch role {
	case RoleDelegate:
		return 3
	case RoleEditor:
		return 2
	case RoleViewer:
		return 1
	default:
		return 0
	}
}

// AtLeast reports whether role grants everything floor grants.
func AtLeast(role, floor Role) bool {
	return rank(role) >= rank(floor)
}

// Strongest returns the more privileged of two roles.
func Strongest(a, b Role) Role {
	if rank(b) > rank(a) {
		return b
	}
	return a
}
