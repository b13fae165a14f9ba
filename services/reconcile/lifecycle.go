package reconcile

import (
	"fmt"
	"slices"

	"keysync/services/store"
)

type roleState int

const (
	roleAbsent roleState = iota
	roleActive
	roleInactive
)

func (s roleState) String() string {
	switch s {
	case roleAbsent:
		return "absent"
	case roleActive:
		return "active"
	case roleInactive:
		return "inactive"
	default:
		return fmt.Sprintf("roleState(%d)", int(s))
	}
}

// roleTransitions lists the allowed moves for a (role, client) pair.
// active -> active is a re-assertion of an existing role: the row is kept
// and the outcome is reported as reactivated.
var roleTransitions = map[roleState][]roleState{
	roleAbsent:   {roleActive},
	roleActive:   {roleInactive, roleActive},
	roleInactive: {roleActive},
}

func stateOf(r *store.RoleDetail) roleState {
	switch {
	case r == nil:
		return roleAbsent
	case r.IsActive:
		return roleActive
	default:
		return roleInactive
	}
}

type transitionError struct {
	from, to roleState
}

func (e *transitionError) Error() string {
	return fmt.Sprintf("role cannot move from %s to %s", e.from, e.to)
}

func checkRoleTransition(from, to roleState) error {
	if slices.Contains(roleTransitions[from], to) {
		return nil
	}
	return &transitionError{from: from, to: to}
}

// activationAction is the role log action written when a role becomes active.
func activationAction(from roleState) string {
	if from == roleAbsent {
		return store.ActionRoleCreated
	}
	return store.ActionRoleReactivated
}
