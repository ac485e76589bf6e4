package rbac

// Role names. Keep these stable; they are part of auth/RBAC contracts.
const (
	// RoleOwner may join the signaling channel as the operator.
	RoleOwner = "owner"
	// RoleObserver may read call status history but not take calls.
	RoleObserver = "observer"
)

func IsKnownRole(role string) bool {
	return role == RoleOwner || role == RoleObserver
}

// HasAnyRole reports whether role is one of allowed.
func HasAnyRole(role string, allowed ...string) bool {
	for _, a := range allowed {
		if role == a {
			return true
		}
	}
	return false
}
