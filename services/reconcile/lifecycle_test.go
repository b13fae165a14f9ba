package reconcile

import (
	"testing"

	"keysync/services/store"
)

func TestRoleTransitions(t *testing.T) {
	tests := []struct {
		from, to roleState
		ok       bool
	}{
		{roleAbsent, roleActive, true},
		{roleActive, roleInactive, true},
		{roleInactive, roleActive, true},
		{roleActive, roleActive, true},
		{roleAbsent, roleInactive, false},
		{roleInactive, roleInactive, false},
		{roleAbsent, roleAbsent, false},
	}
	for _, tc := range tests {
		err := checkRoleTransition(tc.from, tc.to)
		if (err == nil) != tc.ok {
			t.Fatalf("%s -> %s: got err=%v, want ok=%v", tc.from, tc.to, err, tc.ok)
		}
	}
}

func TestStateOf(t *testing.T) {
	if got := stateOf(nil); got != roleAbsent {
		t.Fatalf("nil role: got %s", got)
	}
	if got := stateOf(&store.RoleDetail{IsActive: true}); got != roleActive {
		t.Fatalf("active role: got %s", got)
	}
	if got := stateOf(&store.RoleDetail{}); got != roleInactive {
		t.Fatalf("inactive role: got %s", got)
	}
}

func TestActivationAction(t *testing.T) {
	if got := activationAction(roleAbsent); got != store.ActionRoleCreated {
		t.Fatalf("absent: got %s", got)
	}
	for _, s := range []roleState{roleInactive, roleActive} {
		if got := activationAction(s); got != store.ActionRoleReactivated {
			t.Fatalf("%s: got %s", s, got)
		}
	}
}
