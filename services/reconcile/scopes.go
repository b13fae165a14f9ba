package reconcile

import (
	"context"
	"fmt"
	"slices"

	"keysync/pkg/apperr"
	"keysync/services/identity"
)

// ProtectedScopes are realm built-ins that client deletion never detaches or
// deletes.
var ProtectedScopes = []string{"acr", "profile", "email", "roles", "web-origins"}

func isProtectedScope(name string) bool {
	return slices.Contains(ProtectedScopes, name)
}

// cleanupClientScopes detaches every non-protected scope from the client's
// default and optional lists and deletes it from the realm.
func (e *Engine) cleanupClientScopes(ctx context.Context, clientUUID string) error {
	kinds := []identity.ScopeKind{identity.DefaultClientScopes, identity.OptionalClientScopes}
	attached := make(map[identity.ScopeKind][]identity.ClientScope, len(kinds))
	for _, kind := range kinds {
		scopes, err := e.admin.ClientScopes(ctx, clientUUID, kind)
		if err != nil {
			return apperr.Newf(apperr.KindUpstreamRejected, err, apperr.MsgUpstreamRejected, apperr.ClientScopeDeleteFailed)
		}
		attached[kind] = scopes
	}

	// A scope on both lists is gone from the second once deleted from the realm.
	removed := make(map[string]struct{})
	for _, kind := range kinds {
		for _, scope := range attached[kind] {
			if scope.Name == "" || scope.ID == "" || isProtectedScope(scope.Name) {
				continue
			}
			if _, ok := removed[scope.ID]; ok {
				continue
			}
			if err := e.admin.DetachClientScope(ctx, clientUUID, kind, scope.ID); err != nil {
				return fmt.Errorf("detach scope %q: %w", scope.Name, err)
			}
			if err := e.admin.DeleteClientScope(ctx, scope.ID); err != nil {
				return fmt.Errorf("delete scope %q: %w", scope.Name, err)
			}
			removed[scope.ID] = struct{}{}
			e.log(ctx).Info().
				Str("client_uuid", clientUUID).
				Str("scope", scope.Name).
				Msg("client scope removed")
		}
	}
	return nil
}
