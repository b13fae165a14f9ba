package reconcile

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"keysync/pkg/apperr"
	"keysync/pkg/bus"
	"keysync/services/identity"
	"keysync/services/store"
)

// ListRoles returns the remote roles of a client.
func (e *Engine) ListRoles(ctx context.Context, clientID string) ([]identity.RoleRepresentation, error) {
	if err := e.requireToken(ctx); err != nil {
		return nil, err
	}
	remote, err := e.remoteClients(ctx)
	if err != nil {
		return nil, err
	}
	match, ok := findClient(remote, clientID)
	if !ok {
		return nil, apperr.New(apperr.KindNotFound, apperr.MsgClientNotFound, apperr.ClientNotFound)
	}
	roles, err := e.admin.ListRoles(ctx, match.ID)
	if err != nil {
		return nil, upstream(err, apperr.MsgListRolesFailed, apperr.ListRolesFailed)
	}
	if roles == nil {
		roles = []identity.RoleRepresentation{}
	}
	return roles, nil
}

// CreateRoles creates every role on every client. Each (client, role) pair
// succeeds or fails on its own; only a missing token or an unreachable client
// list aborts the batch.
func (e *Engine) CreateRoles(ctx context.Context, clientIDs []string, roles []RoleSpec) (map[string]*RoleBatch, error) {
	ctx = detach(ctx)
	if err := e.requireToken(ctx); err != nil {
		return nil, err
	}
	remote, err := e.remoteClients(ctx)
	if err != nil {
		return nil, err
	}

	results := make(map[string]*RoleBatch, len(clientIDs))
	for _, cid := range clientIDs {
		batch, ok := results[cid]
		if !ok {
			batch = newRoleBatch()
			results[cid] = batch
		}

		match, found := findClient(remote, cid)
		for _, spec := range roles {
			if !found {
				batch.Failed = append(batch.Failed, RoleFailure{Name: spec.Name, Reason: apperr.ClientNotFound})
				countOutcome("role_create", false)
				continue
			}

			outcome, action, err := e.createRole(ctx, match, spec)
			if err != nil {
				e.log(ctx).Error().Err(err).
					Str("client_id", cid).
					Str("role", spec.Name).
					Msg("role create failed")
				batch.Failed = append(batch.Failed, RoleFailure{Name: spec.Name, Reason: failureReason(err)})
				countOutcome("role_create", false)
				continue
			}
			if action == store.ActionRoleCreated {
				batch.Created = append(batch.Created, outcome)
			} else {
				batch.Reactivated = append(batch.Reactivated, outcome)
			}
			countOutcome("role_create", true)
		}
	}
	return results, nil
}

func failureReason(err error) string {
	body := apperr.BodyOf(err)
	if body.Details != "" {
		return body.Details
	}
	return body.Message
}

func (e *Engine) createRole(ctx context.Context, client identity.ClientRepresentation, spec RoleSpec) (RoleOutcome, string, error) {
	name := strings.TrimSpace(spec.Name)
	if name == "" {
		return RoleOutcome{}, "", apperr.New(apperr.KindValidation, apperr.MsgInvalidInput, apperr.InvalidInput)
	}

	err := e.admin.CreateRole(ctx, client.ID, identity.RoleRepresentation{Name: name, Description: spec.Description})
	conflict := identity.StatusCode(err) == http.StatusConflict
	if err != nil && !conflict {
		return RoleOutcome{}, "", upstream(err, apperr.MsgRoleCreationFailed, apperr.RolesCreationFailed)
	}

	roleID := e.lookupRoleID(ctx, client.ID, name)

	detail, action, err := e.saveRole(ctx, client, name, roleID)
	if err != nil {
		return RoleOutcome{}, "", err
	}

	if !conflict {
		e.bestEffort(ctx, "policy_create", func(ctx context.Context) error {
			return e.createRolePolicy(ctx, client.ID, name, roleID)
		})
	}

	subject := bus.RoleCreatedSubject
	if action == store.ActionRoleReactivated {
		subject = bus.RoleReactivatedSubject
	}
	e.publish(ctx, subject, client.ClientID+"/"+name, map[string]any{
		"client_uuid":     client.ID,
		"role_uuid":       detail.RoleUUID,
		"remote_conflict": conflict,
	})

	return RoleOutcome{
		Name:        name,
		Description: store.StringPtr(spec.Description),
		RoleUUID:    detail.RoleUUID,
	}, action, nil
}

// lookupRoleID returns the remote role id, or nil when it cannot be read.
func (e *Engine) lookupRoleID(ctx context.Context, clientUUID, name string) *string {
	role, err := e.admin.GetRole(ctx, clientUUID, name)
	if err != nil || role == nil || role.ID == "" {
		if err != nil {
			e.log(ctx).Debug().Err(err).Str("role", name).Msg("role id lookup failed")
		}
		return nil
	}
	return store.StringPtr(role.ID)
}

// saveRole inserts the role or brings an existing row back to active, and
// logs the action in the same unit of work.
func (e *Engine) saveRole(ctx context.Context, client identity.ClientRepresentation, name string, roleID *string) (*store.RoleDetail, string, error) {
	var (
		saved  *store.RoleDetail
		action string
	)
	now := e.now()
	err := e.store.Transaction(ctx, func(tx store.Tx) error {
		// An inactive row belongs to a deleted client and takes no new roles.
		local, err := tx.FindActiveClientByName(client.ClientID)
		if errors.Is(err, store.ErrNotFound) {
			return apperr.New(apperr.KindNotFound, apperr.MsgClientNotFound, apperr.ClientNotFound)
		}
		if err != nil {
			return err
		}

		existing, err := tx.FindRole(local.ID, name)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return err
		}
		from := stateOf(existing)
		if err := checkRoleTransition(from, roleActive); err != nil {
			return err
		}
		action = activationAction(from)

		if existing == nil {
			saved = &store.RoleDetail{
				RoleUUID:   roleID,
				RoleName:   name,
				ClientID:   local.ID,
				ClientUUID: client.ID,
				ClientName: local.ClientName,
				IsActive:   true,
				CreatedAt:  now,
				CreatedBy:  e.actor,
			}
			if err := tx.CreateRole(saved); err != nil {
				return fmt.Errorf("insert role %q: %w", name, err)
			}
		} else {
			existing.IsActive = true
			existing.ClientUUID = client.ID
			existing.UpdatedAt = store.TimePtr(now)
			existing.UpdatedBy = store.StringPtr(e.actor)
			if roleID != nil {
				existing.RoleUUID = roleID
			}
			if err := tx.UpdateRole(existing); err != nil {
				return fmt.Errorf("reactivate role %q: %w", name, err)
			}
			saved = existing
		}

		return tx.AppendRoleLog(&store.RoleLog{
			RoleID:      saved.ID,
			ClientID:    local.ID,
			Action:      action,
			PerformedAt: now,
			PerformedBy: e.actor,
			IsActive:    true,
		})
	})
	if err != nil {
		return nil, "", persistence(err, apperr.MsgDBSaveError, apperr.DBInsertFailed)
	}
	return saved, action, nil
}

// DeleteRoles soft-deletes each role on each client, removes it remotely and
// drops its policy. A failure for one client never blocks the others.
func (e *Engine) DeleteRoles(ctx context.Context, clientIDs, roleNames []string) ([]ClientRoleDeletion, error) {
	ctx = detach(ctx)
	if err := e.requireToken(ctx); err != nil {
		return nil, err
	}
	remote, err := e.remoteClients(ctx)
	if err != nil {
		return nil, err
	}

	results := make([]ClientRoleDeletion, 0, len(clientIDs))
	for _, cid := range clientIDs {
		results = append(results, ClientRoleDeletion{
			ClientID:     cid,
			DeletedRoles: e.deleteRolesForClient(ctx, remote, cid, roleNames),
		})
	}
	return results, nil
}

func (e *Engine) deleteRolesForClient(ctx context.Context, remote []identity.ClientRepresentation, clientID string, roleNames []string) []RoleDeletion {
	clientFailure := func(err error) []RoleDeletion {
		e.log(ctx).Error().Err(err).Str("client_id", clientID).Msg("role deletion skipped for client")
		countOutcome("role_delete", false)
		return []RoleDeletion{{Status: RoleFailed, Message: failureReason(err)}}
	}

	match, ok := findClient(remote, clientID)
	if !ok {
		return clientFailure(apperr.New(apperr.KindNotFound, apperr.MsgClientNotFound, apperr.ClientNotFound))
	}

	var local *store.Client
	err := e.store.Transaction(ctx, func(tx store.Tx) error {
		c, err := tx.FindClientByName(clientID)
		local = c
		return err
	})
	if errors.Is(err, store.ErrNotFound) {
		return clientFailure(apperr.New(apperr.KindNotFound, apperr.MsgClientNotFound, apperr.ClientNotFoundDB))
	}
	if err != nil {
		return clientFailure(persistence(err, apperr.MsgDBSaveError, apperr.DatabaseError))
	}

	out := make([]RoleDeletion, 0, len(roleNames))
	for _, name := range roleNames {
		res := e.deleteRole(ctx, match, local, name)
		countOutcome("role_delete", res.Status == RoleDeleted)
		out = append(out, res)
	}
	return out
}

var errRoleNotActive = errors.New("role not active")

func (e *Engine) deleteRole(ctx context.Context, client identity.ClientRepresentation, local *store.Client, name string) RoleDeletion {
	now := e.now()
	err := e.store.Transaction(ctx, func(tx store.Tx) error {
		role, err := tx.FindRole(local.ID, name)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return err
		}
		if checkRoleTransition(stateOf(role), roleInactive) != nil {
			return errRoleNotActive
		}

		role.IsActive = false
		role.UpdatedAt = store.TimePtr(now)
		role.UpdatedBy = store.StringPtr(e.actor)
		if err := tx.UpdateRole(role); err != nil {
			return err
		}
		if _, err := tx.DeactivateRoleLogs([]int64{role.ID}, e.actor, now); err != nil {
			return err
		}
		return tx.AppendRoleLog(&store.RoleLog{
			RoleID:      role.ID,
			ClientID:    local.ID,
			Action:      store.ActionRoleDeleted,
			PerformedAt: now,
			PerformedBy: e.actor,
			IsActive:    false,
		})
	})
	switch {
	case errors.Is(err, errRoleNotActive):
		return RoleDeletion{RoleName: name, Status: RoleNotFound, Message: apperr.RoleNotFound}
	case err != nil:
		e.log(ctx).Error().Err(err).Str("client_id", client.ClientID).Str("role", name).Msg("role soft delete failed")
		return RoleDeletion{RoleName: name, Status: RoleFailed, Message: apperr.DBInsertFailed}
	}

	if err := e.admin.DeleteRole(ctx, client.ID, name); err != nil && identity.StatusCode(err) != http.StatusNotFound {
		e.log(ctx).Error().Err(err).Str("client_id", client.ClientID).Str("role", name).Msg("remote role delete failed")
		return RoleDeletion{RoleName: name, Status: RoleFailed, Message: apperr.KeycloakRoleDeleteFailed}
	}

	e.bestEffort(ctx, "policy_delete", func(ctx context.Context) error {
		return e.deleteRolePolicy(ctx, client.ID, name)
	})

	e.publish(ctx, bus.RoleDeletedSubject, client.ClientID+"/"+name, map[string]any{"client_uuid": client.ID})
	return RoleDeletion{RoleName: name, Status: RoleDeleted}
}

// DeactivateRolesForDeletedClient retires every active role of a client in a
// single unit of work, writing one CLIENT_DEACTIVATED log per role.
func (e *Engine) DeactivateRolesForDeletedClient(ctx context.Context, clientID string) (string, error) {
	msg := fmt.Sprintf("No active roles found for client '%s'.", clientID)
	now := e.now()
	err := e.store.Transaction(ctx, func(tx store.Tx) error {
		client, err := tx.FindClientByName(clientID)
		if errors.Is(err, store.ErrNotFound) {
			return apperr.New(apperr.KindNotFound, apperr.MsgClientNotFound, apperr.ClientNotFound)
		}
		if err != nil {
			return err
		}

		roles, err := tx.ActiveRoles(client.ID)
		if err != nil {
			return err
		}
		if len(roles) == 0 {
			return nil
		}

		ids := make([]int64, 0, len(roles))
		for i := range roles {
			role := &roles[i]
			if err := checkRoleTransition(stateOf(role), roleInactive); err != nil {
				return err
			}
			role.IsActive = false
			role.UpdatedAt = store.TimePtr(now)
			role.UpdatedBy = store.StringPtr(e.actor)
			if err := tx.UpdateRole(role); err != nil {
				return err
			}
			ids = append(ids, role.ID)
		}

		if _, err := tx.DeactivateRoleLogs(ids, e.actor, now); err != nil {
			return err
		}
		for _, id := range ids {
			err := tx.AppendRoleLog(&store.RoleLog{
				RoleID:      id,
				ClientID:    client.ID,
				Action:      store.ActionRoleClientDeactivated,
				PerformedAt: now,
				PerformedBy: e.actor,
				IsActive:    false,
			})
			if err != nil {
				return err
			}
		}
		msg = fmt.Sprintf("All roles and logs deactivated for deleted client '%s'.", clientID)
		return nil
	})
	if err != nil {
		return "", persistence(err, apperr.MsgDBSaveError, apperr.DBReactivateClientFailed)
	}
	return msg, nil
}
