package reconcile

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sethvargo/go-retry"

	"keysync/pkg/apperr"
	"keysync/pkg/bus"
	"keysync/services/identity"
	"keysync/services/store"
)

// ListClients returns the remote clients, narrowed by a case-insensitive
// substring match on clientId, name or id when filter is set.
func (e *Engine) ListClients(ctx context.Context, filter string) ([]identity.ClientRepresentation, error) {
	if err := e.requireToken(ctx); err != nil {
		return nil, err
	}
	clients, err := e.remoteClients(ctx)
	if err != nil {
		return nil, err
	}

	filter = strings.ToLower(strings.TrimSpace(filter))
	if filter == "" {
		return clients, nil
	}
	out := make([]identity.ClientRepresentation, 0, len(clients))
	for _, c := range clients {
		if strings.Contains(strings.ToLower(c.ClientID), filter) ||
			strings.Contains(strings.ToLower(c.Name), filter) ||
			strings.Contains(strings.ToLower(c.ID), filter) {
			out = append(out, c)
		}
	}
	if len(out) == 0 {
		return nil, apperr.New(apperr.KindNotFound, apperr.MsgClientsNoMatch, apperr.ClientSearchNoResults)
	}
	return out, nil
}

// CreateOrReactivateClients creates each client remotely and records it
// locally, reusing the previous row of a deleted client. A missing admin token
// aborts the batch; every other failure is reported on its own result.
func (e *Engine) CreateOrReactivateClients(ctx context.Context, specs []ClientSpec) ([]ClientResult, error) {
	ctx = detach(ctx)
	if err := e.requireToken(ctx); err != nil {
		return nil, err
	}

	results := make([]ClientResult, 0, len(specs))
	for _, spec := range specs {
		res := ClientResult{ClientID: spec.ClientID, Status: StatusSuccess, Message: "Client created/reactivated successfully"}
		if err := e.createOrReactivate(ctx, spec); err != nil {
			res = failedClient(spec.ClientID, err)
			e.log(ctx).Error().Err(err).Str("client_id", spec.ClientID).Str("details", res.Details).Msg("client create failed")
		}
		countOutcome("client_create", res.Status == StatusSuccess)
		results = append(results, res)
	}
	return results, nil
}

func failedClient(clientID string, err error) ClientResult {
	body := apperr.BodyOf(err)
	return ClientResult{ClientID: clientID, Status: StatusFailed, Message: body.Message, Details: body.Details}
}

func (e *Engine) createOrReactivate(ctx context.Context, spec ClientSpec) error {
	if strings.TrimSpace(spec.ClientID) == "" {
		return apperr.New(apperr.KindValidation, apperr.MsgInvalidInput, apperr.InvalidInput)
	}

	err := e.store.Transaction(ctx, func(tx store.Tx) error {
		_, err := tx.FindActiveClientByName(spec.ClientID)
		return err
	})
	switch {
	case err == nil:
		return apperr.New(apperr.KindConflict, apperr.MsgClientAlreadyActive, apperr.ClientAlreadyActive)
	case !errors.Is(err, store.ErrNotFound):
		return persistence(err, apperr.MsgDBSaveError, apperr.DatabaseError)
	}

	if err := e.admin.CreateClient(ctx, spec.payload(e.redirectURI)); err != nil {
		return upstream(err, apperr.MsgClientCreationFailed, apperr.ClientCreationFailed)
	}

	uuid, err := e.resolveClientUUID(ctx, spec.ClientID)
	if err != nil {
		return err
	}

	client, action, err := e.saveClient(ctx, spec, uuid)
	if err != nil {
		return err
	}
	e.log(ctx).Info().
		Str("client_id", spec.ClientID).
		Str("client_uuid", uuid).
		Str("action", action).
		Msg("client recorded")

	if spec.ClientBucketName != "" && spec.ClientBucketPath != "" && e.buckets != nil {
		e.bestEffort(ctx, "bucket_prefix", func(ctx context.Context) error {
			return e.buckets.EnsurePrefix(ctx, spec.ClientBucketName, spec.ClientBucketPath)
		})
	}

	if spec.ImportFromClient != "" {
		if err := e.ImportResources(ctx, uuid, spec.ImportFromClient); err != nil {
			return apperr.Newf(apperr.KindOf(err), err, apperr.MsgImportFailed, apperr.ClientResourceImportFailed)
		}
	}

	subject := bus.ClientCreatedSubject
	if action == store.ActionClientReactivate {
		subject = bus.ClientReactivatedSubject
	}
	e.publish(ctx, subject, spec.ClientID, map[string]any{
		"client_uuid":       uuid,
		"display_client_id": client.DisplayClientID,
	})
	return nil
}

var errUUIDPending = errors.New("client not visible yet")

// resolveClientUUID polls the identity server until a freshly created client
// shows up in a clientId search.
func (e *Engine) resolveClientUUID(ctx context.Context, clientID string) (string, error) {
	b := retry.WithMaxRetries(uint64(e.pollAttempts-1), retry.NewConstant(e.pollInterval))

	var uuid string
	err := retry.Do(ctx, b, func(ctx context.Context) error {
		found, err := e.admin.FindClientsByClientID(ctx, clientID)
		if err != nil {
			return err
		}
		if c, ok := findClient(found, clientID); ok && c.ID != "" {
			uuid = c.ID
			return nil
		}
		if len(found) > 0 && found[0].ID != "" {
			uuid = found[0].ID
			return nil
		}
		return retry.RetryableError(errUUIDPending)
	})
	switch {
	case err == nil:
		return uuid, nil
	case errors.Is(err, errUUIDPending):
		return "", apperr.Newf(apperr.KindInternal, err, apperr.MsgClientUUIDFetchFailed, apperr.ClientUUIDFetchFailed)
	default:
		return "", upstream(err, apperr.MsgClientUUIDFetchFailed, apperr.ClientUUIDFetchFailed)
	}
}

// saveClient reactivates any existing row for the client, or inserts a new
// one, and appends the matching client log in the same unit of work.
func (e *Engine) saveClient(ctx context.Context, spec ClientSpec, uuid string) (*store.Client, string, error) {
	var (
		saved  *store.Client
		action string
	)
	now := e.now()
	err := e.store.Transaction(ctx, func(tx store.Tx) error {
		existing, err := tx.FindClientByName(spec.ClientID)
		switch {
		case err == nil:
			existing.IsActive = true
			existing.ClientUUID = uuid
			existing.LastUpdatedAt = store.TimePtr(now)
			existing.LastUpdatedBy = store.StringPtr(e.actor)
			if err := tx.UpdateClient(existing); err != nil {
				return fmt.Errorf("reactivate client %q: %w", spec.ClientID, err)
			}
			saved, action = existing, store.ActionClientReactivate
		case errors.Is(err, store.ErrNotFound):
			c := &store.Client{
				ClientName:       spec.ClientID,
				CompanyName:      spec.CompanyName,
				Email:            spec.Email,
				ClientBucketPath: store.StringPtr(spec.ClientBucketPath),
				ClientBucketName: store.StringPtr(spec.ClientBucketName),
				ClientUUID:       uuid,
				ClientMapper:     []byte(`{}`),
				CreatedAt:        now,
				CreatedBy:        e.actor,
				IsActive:         true,
			}
			if err := tx.CreateClient(c); err != nil {
				return fmt.Errorf("insert client %q: %w", spec.ClientID, err)
			}
			saved, action = c, store.ActionClientCreate
		default:
			return err
		}

		return tx.AppendClientLog(&store.ClientLog{
			ClientID:    saved.ID,
			ClientUUID:  store.StringPtr(uuid),
			Action:      action,
			PerformedAt: now,
			PerformedBy: e.actor,
			IsActive:    true,
		})
	})
	if err != nil {
		return nil, "", persistence(err, apperr.MsgDBSaveError, apperr.DBSaveClientFailed)
	}
	return saved, action, nil
}

// DeleteClients removes each client remotely after soft-deleting its local
// row and cascading to its roles. Failing to list remote clients aborts the
// batch; every other failure is reported on its own result.
func (e *Engine) DeleteClients(ctx context.Context, clientIDs []string) ([]ClientResult, error) {
	ctx = detach(ctx)
	if err := e.requireToken(ctx); err != nil {
		return nil, err
	}
	remote, err := e.remoteClients(ctx)
	if err != nil {
		return nil, err
	}

	results := make([]ClientResult, 0, len(clientIDs))
	for _, id := range clientIDs {
		res := ClientResult{ClientID: id, Status: StatusSuccess, Message: fmt.Sprintf("Client '%s' deleted successfully.", id)}
		if err := e.deleteClient(ctx, remote, id); err != nil {
			res = failedClient(id, err)
			e.log(ctx).Error().Err(err).Str("client_id", id).Str("details", res.Details).Msg("client delete failed")
		}
		countOutcome("client_delete", res.Status == StatusSuccess)
		results = append(results, res)
	}
	return results, nil
}

func (e *Engine) deleteClient(ctx context.Context, remote []identity.ClientRepresentation, clientID string) error {
	match, ok := findClient(remote, clientID)
	if !ok {
		return apperr.New(apperr.KindNotFound, apperr.MsgClientNotFound, apperr.ClientNotFoundKeycloak)
	}

	// The role sweep runs for any local row, not only the one flipped here,
	// so a delete retried after a failed sweep still clears the roles.
	var known bool
	now := e.now()
	err := e.store.Transaction(ctx, func(tx store.Tx) error {
		c, err := tx.FindClientByName(clientID)
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		known = true
		if !c.IsActive {
			return nil
		}
		c.IsActive = false
		c.LastUpdatedAt = store.TimePtr(now)
		c.LastUpdatedBy = store.StringPtr(e.actor)
		if err := tx.UpdateClient(c); err != nil {
			return err
		}
		return tx.AppendClientLog(&store.ClientLog{
			ClientID:    c.ID,
			ClientUUID:  store.StringPtr(match.ID),
			Action:      store.ActionClientDelete,
			PerformedAt: now,
			PerformedBy: e.actor,
			IsActive:    false,
		})
	})
	if err != nil {
		return persistence(err, apperr.MsgClientLogFailed, apperr.ClientDBDeactivateFailed)
	}

	if known {
		msg, err := e.DeactivateRolesForDeletedClient(ctx, clientID)
		if err != nil {
			return err
		}
		e.log(ctx).Info().Str("client_id", clientID).Msg(msg)
	}

	e.bestEffort(ctx, "scope_cleanup", func(ctx context.Context) error {
		return e.cleanupClientScopes(ctx, match.ID)
	})

	if err := e.admin.DeleteClient(ctx, match.ID); err != nil {
		return upstream(err, apperr.MsgClientDeleteFailed, apperr.ClientKeycloakDeleteFailed)
	}

	e.publish(ctx, bus.ClientDeletedSubject, clientID, map[string]any{"client_uuid": match.ID})
	return nil
}
