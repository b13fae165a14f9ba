package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"keysync/services/identity"
	"keysync/services/reconcile"
	"keysync/services/store"
)

const (
	defaultRateLimit   = 100
	defaultReadTimeout = 30 * time.Second
)

// Reconciler is the engine surface driven by the HTTP handlers.
type Reconciler interface {
	ListClients(ctx context.Context, filter string) ([]identity.ClientRepresentation, error)
	CreateOrReactivateClients(ctx context.Context, specs []reconcile.ClientSpec) ([]reconcile.ClientResult, error)
	DeleteClients(ctx context.Context, clientIDs []string) ([]reconcile.ClientResult, error)
	ListRoles(ctx context.Context, clientID string) ([]identity.RoleRepresentation, error)
	CreateRoles(ctx context.Context, clientIDs []string, roles []reconcile.RoleSpec) (map[string]*reconcile.RoleBatch, error)
	DeleteRoles(ctx context.Context, clientIDs, roleNames []string) ([]reconcile.ClientRoleDeletion, error)
}

// API wires the reconciliation engine and the history reader to HTTP handlers.
type API struct {
	engine  Reconciler
	history store.HistoryReader
	logger  zerolog.Logger
}

// New initialises the API layer.
func New(engine Reconciler, history store.HistoryReader, logger zerolog.Logger) (*API, error) {
	if engine == nil {
		return nil, errors.New("engine is required")
	}
	if history == nil {
		return nil, errors.New("history reader is required")
	}
	return &API{engine: engine, history: history, logger: logger}, nil
}

// RouterOptions tunes the cross-cutting middleware.
type RouterOptions struct {
	AllowedOrigins     []string
	RateLimitPerMinute int
	// Middleware runs after request ids are assigned, e.g. telemetry.
	Middleware []func(http.Handler) http.Handler
	// Ready backs /readyz; nil means always ready.
	Ready func(ctx context.Context) error
	// ReadTimeout bounds the lookup routes. Batch routes run to completion
	// because the engine detaches them from the request.
	ReadTimeout time.Duration
}

// Routes constructs the chi router containing all API endpoints.
func (a *API) Routes(opts RouterOptions) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(a.baseLogger)
	for _, mw := range opts.Middleware {
		r.Use(mw)
	}
	r.Use(middleware.Recoverer)

	allowed := opts.AllowedOrigins
	if len(allowed) == 0 {
		allowed = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowed,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: false,
		MaxAge:           int((10 * time.Minute).Seconds()),
	}))

	limit := opts.RateLimitPerMinute
	if limit <= 0 {
		limit = defaultRateLimit
	}

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/readyz", func(w http.ResponseWriter, req *http.Request) {
		if opts.Ready != nil {
			if err := opts.Ready(req.Context()); err != nil {
				zerolog.Ctx(req.Context()).Warn().Err(err).Msg("not ready")
				http.Error(w, "not ready", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	readTimeout := opts.ReadTimeout
	if readTimeout <= 0 {
		readTimeout = defaultReadTimeout
	}

	r.Group(func(r chi.Router) {
		r.Use(httprate.LimitByIP(limit, time.Minute))

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(readTimeout))
			r.Get("/get-clients", a.handleListClients)
			r.Get("/clients/{client_id}/roles", a.handleListRoles)
			r.Get("/clients/{client_id}/history", a.handleClientHistory)
		})

		r.Post("/create-clients-with-config", a.handleCreateClients)
		r.Delete("/delete-clients", a.handleDeleteClients)
		r.Post("/roles/create", a.handleCreateRoles)
		r.Delete("/roles/clients", a.handleDeleteRoles)
	})

	return r
}

// baseLogger attaches the service logger with the request id so handlers
// can log even when no telemetry middleware is installed.
func (a *API) baseLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		l := a.logger.With().Str("request_id", middleware.GetReqID(r.Context())).Logger()
		next.ServeHTTP(w, r.WithContext(l.WithContext(r.Context())))
	})
}
