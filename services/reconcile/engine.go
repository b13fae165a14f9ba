// Package reconcile keeps identity-server clients and roles in logged
// agreement with the local store.
package reconcile

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"keysync/pkg/apperr"
	"keysync/pkg/bus"
	"keysync/services/identity"
	"keysync/services/store"
)

const (
	defaultUUIDPollAttempts = 5
	defaultUUIDPollInterval = 500 * time.Millisecond
	defaultImportWorkers    = 3
	defaultImportPacing     = 200 * time.Millisecond
)

// Admin is the slice of the identity admin API the engines call.
type Admin interface {
	ListClients(ctx context.Context) ([]identity.ClientRepresentation, error)
	FindClientsByClientID(ctx context.Context, clientID string) ([]identity.ClientRepresentation, error)
	CreateClient(ctx context.Context, payload identity.NewClientRepresentation) error
	DeleteClient(ctx context.Context, uuid string) error
	GetClientRaw(ctx context.Context, uuid string) (map[string]any, error)
	UpdateClientRaw(ctx context.Context, uuid string, rep map[string]any) error

	ListRoles(ctx context.Context, uuid string) ([]identity.RoleRepresentation, error)
	CreateRole(ctx context.Context, uuid string, role identity.RoleRepresentation) error
	GetRole(ctx context.Context, uuid, name string) (*identity.RoleRepresentation, error)
	DeleteRole(ctx context.Context, uuid, name string) error

	ListAuthz(ctx context.Context, uuid string, kind identity.AuthzKind) ([]identity.AuthzItem, error)
	FindAuthzByName(ctx context.Context, uuid string, kind identity.AuthzKind, name string) ([]identity.AuthzItem, error)
	CreateAuthz(ctx context.Context, uuid string, kind identity.AuthzKind, item identity.AuthzItem) error
	CreateRolePolicy(ctx context.Context, uuid string, policy identity.RolePolicy) error
	DeleteAuthzPolicy(ctx context.Context, uuid, policyID string) error

	ClientScopes(ctx context.Context, uuid string, kind identity.ScopeKind) ([]identity.ClientScope, error)
	DetachClientScope(ctx context.Context, uuid string, kind identity.ScopeKind, scopeID string) error
	DeleteClientScope(ctx context.Context, scopeID string) error
}

// BucketProvisioner creates the object-storage prefix reserved for a client.
type BucketProvisioner interface {
	EnsurePrefix(ctx context.Context, bucket, prefix string) error
}

// Config wires an Engine. Admin, Tokens and Store are required.
type Config struct {
	Admin   Admin
	Tokens  identity.TokenSource
	Store   store.Store
	Events  bus.Publisher
	Buckets BucketProvisioner
	Logger  zerolog.Logger

	DefaultRedirectURI string
	Actor              string

	UUIDPollAttempts int
	UUIDPollInterval time.Duration
	ImportWorkers    int
	ImportPacing     time.Duration
}

// Engine runs client and role reconciliation.
type Engine struct {
	admin   Admin
	tokens  identity.TokenSource
	store   store.Store
	events  bus.Publisher
	buckets BucketProvisioner
	logger  zerolog.Logger

	redirectURI string
	actor       string

	pollAttempts  int
	pollInterval  time.Duration
	importWorkers int
	importPacing  time.Duration

	now func() time.Time
}

// New validates cfg and applies defaults.
func New(cfg Config) (*Engine, error) {
	if cfg.Admin == nil {
		return nil, errors.New("reconcile: admin client is required")
	}
	if cfg.Tokens == nil {
		return nil, errors.New("reconcile: token source is required")
	}
	if cfg.Store == nil {
		return nil, errors.New("reconcile: store is required")
	}
	if cfg.Events == nil {
		cfg.Events = bus.Discard{}
	}
	if cfg.Actor == "" {
		cfg.Actor = store.SystemActor
	}
	if cfg.UUIDPollAttempts <= 0 {
		cfg.UUIDPollAttempts = defaultUUIDPollAttempts
	}
	if cfg.UUIDPollInterval <= 0 {
		cfg.UUIDPollInterval = defaultUUIDPollInterval
	}
	if cfg.ImportWorkers <= 0 {
		cfg.ImportWorkers = defaultImportWorkers
	}
	if cfg.ImportPacing < 0 {
		cfg.ImportPacing = 0
	} else if cfg.ImportPacing == 0 {
		cfg.ImportPacing = defaultImportPacing
	}

	return &Engine{
		admin:         cfg.Admin,
		tokens:        cfg.Tokens,
		store:         cfg.Store,
		events:        cfg.Events,
		buckets:       cfg.Buckets,
		logger:        cfg.Logger,
		redirectURI:   cfg.DefaultRedirectURI,
		actor:         cfg.Actor,
		pollAttempts:  cfg.UUIDPollAttempts,
		pollInterval:  cfg.UUIDPollInterval,
		importWorkers: cfg.ImportWorkers,
		importPacing:  cfg.ImportPacing,
		now:           func() time.Time { return time.Now().UTC() },
	}, nil
}

// log prefers the request-scoped logger carried by ctx.
func (e *Engine) log(ctx context.Context) *zerolog.Logger {
	if l := zerolog.Ctx(ctx); l.GetLevel() != zerolog.Disabled {
		return l
	}
	return &e.logger
}

// detach keeps batch work running after the caller goes away while keeping
// request values such as the logger.
func detach(ctx context.Context) context.Context {
	return context.WithoutCancel(ctx)
}

func (e *Engine) requireToken(ctx context.Context) error {
	if _, err := e.tokens.Token(ctx); err != nil {
		var ae *apperr.Error
		if errors.As(err, &ae) {
			return err
		}
		return apperr.Newf(apperr.KindAuthUnavailable, err, apperr.MsgAdminTokenUnavailable, apperr.ErrorAdminTokenFetch)
	}
	return nil
}

// bestEffort runs a side action whose failure is logged and otherwise ignored.
func (e *Engine) bestEffort(ctx context.Context, name string, fn func(context.Context) error) {
	if err := fn(ctx); err != nil {
		sideActionFailures.WithLabelValues(name).Inc()
		e.log(ctx).Warn().Err(err).Str("action", name).Msg("side action failed")
	}
}

func (e *Engine) publish(ctx context.Context, subject, object string, details map[string]any) {
	e.bestEffort(ctx, "publish", func(ctx context.Context) error {
		return e.events.Publish(ctx, subject, bus.NewEvent(subject, e.actor, object, details))
	})
}

// upstream converts an identity client error into an engine error. Errors
// already carrying a kind pass through; non-2xx answers keep their status.
func upstream(err error, message, details string) error {
	if err == nil {
		return nil
	}
	var ae *apperr.Error
	if errors.As(err, &ae) {
		return err
	}
	if status := identity.StatusCode(err); status > 0 {
		kind := apperr.KindUpstreamRejected
		if status == http.StatusNotFound {
			kind = apperr.KindNotFound
		}
		return apperr.Newf(kind, err, message, details).WithStatus(status)
	}
	return apperr.Newf(apperr.KindInternal, err, message, details)
}

// persistence tags a store failure.
func persistence(err error, message, details string) error {
	var ae *apperr.Error
	if errors.As(err, &ae) {
		return err
	}
	return apperr.Newf(apperr.KindPersistence, err, message, details)
}

// findClient returns the remote client whose clientId equals id.
func findClient(clients []identity.ClientRepresentation, id string) (identity.ClientRepresentation, bool) {
	for _, c := range clients {
		if c.ClientID == id {
			return c, true
		}
	}
	return identity.ClientRepresentation{}, false
}

func (e *Engine) remoteClients(ctx context.Context) ([]identity.ClientRepresentation, error) {
	clients, err := e.admin.ListClients(ctx)
	if err != nil {
		return nil, upstream(err, apperr.MsgClientsFetchFailed, apperr.KeycloakClientsFetchFailed)
	}
	return clients, nil
}
