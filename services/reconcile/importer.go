package reconcile

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"keysync/pkg/apperr"
	"keysync/services/identity"
)

// importOrder keeps dependencies ahead of the items that reference them.
var importOrder = []identity.AuthzKind{
	identity.AuthzResource,
	identity.AuthzScope,
	identity.AuthzPolicy,
	identity.AuthzPermission,
}

// ImportResources copies the authorization resources, scopes, policies and
// permissions of sourceClientID onto the client with UUID targetUUID. Items
// already present on the target by name are skipped, so a repeated import
// adds nothing.
func (e *Engine) ImportResources(ctx context.Context, targetUUID, sourceClientID string) error {
	data, err := e.fetchAuthz(ctx, sourceClientID)
	if err != nil {
		return err
	}

	for _, kind := range importOrder {
		items := data[kind]
		if len(items) == 0 {
			continue
		}

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(e.importWorkers)
		for _, item := range items {
			g.Go(func() error {
				return e.importItem(gctx, targetUUID, kind, item)
			})
		}
		if err := g.Wait(); err != nil {
			e.log(ctx).Error().Err(err).
				Str("target_uuid", targetUUID).
				Str("kind", string(kind)).
				Msg("import worker failed")
			return apperr.Newf(apperr.KindWorker, err, apperr.MsgThreadWorkerFailed, apperr.ThreadWorkerException)
		}
	}

	e.log(ctx).Info().
		Str("target_uuid", targetUUID).
		Str("source_client_id", sourceClientID).
		Msg("authorization import completed")
	return nil
}

func (e *Engine) fetchAuthz(ctx context.Context, sourceClientID string) (map[identity.AuthzKind][]identity.AuthzItem, error) {
	found, err := e.admin.FindClientsByClientID(ctx, sourceClientID)
	if err != nil {
		return nil, upstream(err, apperr.MsgResourceFetchFailed, apperr.ResourceFetchFailed)
	}
	src, ok := findClient(found, sourceClientID)
	if !ok {
		return nil, apperr.New(apperr.KindNotFound, apperr.MsgSourceClientNotFound, apperr.SourceClientNotFound)
	}

	out := make(map[identity.AuthzKind][]identity.AuthzItem, len(importOrder))
	for _, kind := range importOrder {
		items, err := e.admin.ListAuthz(ctx, src.ID, kind)
		if err != nil {
			return nil, upstream(err, apperr.MsgResourceFetchFailed, apperr.ResourceFetchFailed)
		}
		out[kind] = items
	}
	e.log(ctx).Debug().
		Str("source_client_id", sourceClientID).
		Int("resources", len(out[identity.AuthzResource])).
		Int("scopes", len(out[identity.AuthzScope])).
		Int("policies", len(out[identity.AuthzPolicy])).
		Int("permissions", len(out[identity.AuthzPermission])).
		Msg("fetched authorization settings")
	return out, nil
}

func (e *Engine) importItem(ctx context.Context, targetUUID string, kind identity.AuthzKind, item identity.AuthzItem) error {
	clean := sanitizeAuthzItem(item)
	name := clean.Name()
	if name == "" {
		return apperr.New(apperr.KindValidation, apperr.MsgResourceNameMissing, apperr.ResourceNameMissing)
	}

	existing, err := e.admin.FindAuthzByName(ctx, targetUUID, kind, name)
	if err != nil {
		return upstream(err, apperr.MsgResourcePostFailed, apperr.ResourcePostFailed)
	}
	if len(existing) > 0 {
		return nil
	}

	if err := e.admin.CreateAuthz(ctx, targetUUID, kind, clean); err != nil {
		return upstream(err, apperr.MsgResourcePostFailed, apperr.ResourcePostFailed)
	}
	return pace(ctx, e.importPacing)
}

func pace(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

var strippedAuthzFields = []string{"id", "_id", "owner", "ownerManagedAccess"}

// sanitizeAuthzItem drops server-assigned fields and reduces nested scope
// references to their names so the item can be posted to another client.
func sanitizeAuthzItem(item identity.AuthzItem) identity.AuthzItem {
	out := make(identity.AuthzItem, len(item))
	for k, v := range item {
		out[k] = v
	}
	for _, k := range strippedAuthzFields {
		delete(out, k)
	}

	if scopes, ok := out["scopes"].([]any); ok {
		named := make([]any, 0, len(scopes))
		for _, s := range scopes {
			m, ok := s.(map[string]any)
			if !ok {
				continue
			}
			if n, ok := m["name"].(string); ok {
				named = append(named, map[string]any{"name": n})
			}
		}
		out["scopes"] = named
	}
	return out
}
