package reconcile

import (
	"context"
	"errors"

	"keysync/pkg/apperr"
	"keysync/services/identity"
)

// PolicyName is the authorization policy bound to a role.
func PolicyName(role string) string { return role + "_policy" }

var errRoleIDUnknown = errors.New("role id unknown")

// createRolePolicy attaches a positive, unanimous role policy to the client,
// enabling authorization services on it first when needed.
func (e *Engine) createRolePolicy(ctx context.Context, clientUUID, role string, roleID *string) error {
	if roleID == nil || *roleID == "" {
		return errRoleIDUnknown
	}
	if err := e.ensureAuthorization(ctx, clientUUID); err != nil {
		return err
	}
	err := e.admin.CreateRolePolicy(ctx, clientUUID, identity.RolePolicy{
		Name:             PolicyName(role),
		Type:             "role",
		Logic:            "POSITIVE",
		DecisionStrategy: "UNANIMOUS",
		Roles:            []identity.PolicyRoles{{ID: *roleID}},
	})
	if err != nil {
		return upstream(err, apperr.MsgUpstreamRejected, apperr.KeycloakPolicyCreateFailed)
	}
	e.log(ctx).Info().Str("client_uuid", clientUUID).Str("policy", PolicyName(role)).Msg("role policy created")
	return nil
}

func (e *Engine) ensureAuthorization(ctx context.Context, clientUUID string) error {
	rep, err := e.admin.GetClientRaw(ctx, clientUUID)
	if err != nil {
		return upstream(err, apperr.MsgUpstreamRejected, apperr.KeycloakPolicyCreateFailed)
	}
	if enabled, _ := rep["authorizationServicesEnabled"].(bool); enabled {
		return nil
	}
	rep["authorizationServicesEnabled"] = true
	if err := e.admin.UpdateClientRaw(ctx, clientUUID, rep); err != nil {
		return upstream(err, apperr.MsgUpstreamRejected, apperr.KeycloakPolicyCreateFailed)
	}
	e.log(ctx).Info().Str("client_uuid", clientUUID).Msg("authorization services enabled")
	return nil
}

// deleteRolePolicy removes the role's policy. A missing policy is not an error.
func (e *Engine) deleteRolePolicy(ctx context.Context, clientUUID, role string) error {
	policies, err := e.admin.ListAuthz(ctx, clientUUID, identity.AuthzPolicy)
	if err != nil {
		return upstream(err, apperr.MsgUpstreamRejected, apperr.KeycloakPolicyDeleteFailed)
	}
	name := PolicyName(role)
	for _, p := range policies {
		if p.Name() != name {
			continue
		}
		if err := e.admin.DeleteAuthzPolicy(ctx, clientUUID, p.ID()); err != nil {
			return upstream(err, apperr.MsgUpstreamRejected, apperr.KeycloakPolicyDeleteFailed)
		}
		e.log(ctx).Info().Str("client_uuid", clientUUID).Str("policy", name).Msg("role policy deleted")
		return nil
	}
	e.log(ctx).Debug().Str("client_uuid", clientUUID).Str("policy", name).Msg("role policy not present")
	return nil
}
