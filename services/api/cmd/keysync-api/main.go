package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	gormlogger "gorm.io/gorm/logger"

	"keysync/pkg/bus"
	"keysync/pkg/db"
	"keysync/pkg/s3"
	"keysync/pkg/telemetry"
	"keysync/services/api"
	"keysync/services/api/internal/config"
	"keysync/services/identity"
	"keysync/services/reconcile"
	"keysync/services/store"
)

const serviceName = "keysync-api"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	_ = godotenv.Load()

	cfg, err := config.Load(ctx)
	if err != nil {
		boot := telemetry.NewLogger(serviceName, "info", os.Getenv("LOG_FORMAT"), os.Stderr)
		boot.Fatal().Err(err).Msg("load config")
	}

	zerolog.TimeFieldFormat = time.RFC3339Nano
	logger := telemetry.NewLogger(serviceName, cfg.LogLevel, cfg.LogFormat, os.Stdout)

	shutdownTracing, tracing, err := telemetry.Init(ctx, serviceName, cfg.OTLPEndpoint, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("init telemetry")
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("shutdown telemetry")
		}
	}()

	pool, err := db.Open(ctx, cfg.DBDSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect database")
	}
	defer pool.Close()

	if cfg.AutoMigrate {
		if err := db.Migrate(ctx, pool); err != nil {
			logger.Fatal().Err(err).Msg("migrate database")
		}
	}

	orm, err := db.ORM(pool, gormlogger.Silent)
	if err != nil {
		logger.Fatal().Err(err).Msg("open orm")
	}
	local, err := store.NewGorm(orm)
	if err != nil {
		logger.Fatal().Err(err).Msg("init store")
	}

	outbound := &http.Client{Transport: telemetry.Transport(nil)}
	tokens := identity.NewRefreshingSource(identity.ClientCredentials{
		TokenURL:     cfg.TokenURL(),
		ClientID:     cfg.Keycloak.ClientID,
		ClientSecret: cfg.Keycloak.ClientSecret,
		HTTPClient:   outbound,
	}, cfg.TokenRefreshInterval, logger)
	tokens.Start(ctx)

	admin, err := identity.New(identity.Config{
		AdminURL:   cfg.AdminURL(),
		Tokens:     tokens,
		HTTPClient: outbound,
		Logger:     logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("init identity client")
	}

	engineCfg := reconcile.Config{
		Admin:              admin,
		Tokens:             tokens,
		Store:              local,
		Logger:             logger,
		DefaultRedirectURI: cfg.DefaultRedirectURI,
	}

	if cfg.NATSURL != "" {
		events, err := bus.New(cfg.NATSURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("connect bus")
		}
		defer events.Close()
		engineCfg.Events = events
	} else {
		logger.Info().Msg("NATS_URL not set; reconciliation events are discarded")
	}

	if cfg.S3.Enabled() {
		buckets, err := s3.NewClient(ctx, s3.Config{
			Endpoint:       cfg.S3.Endpoint,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			Region:         cfg.S3.Region,
			DisableTLS:     cfg.S3.DisableTLS,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			logger.Fatal().Err(err).Msg("init s3 client")
		}
		engineCfg.Buckets = buckets
	}

	engine, err := reconcile.New(engineCfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("init reconcile engine")
	}

	handlers, err := api.New(engine, store.NewHistory(pool), logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("init api")
	}

	srv := &http.Server{
		Addr: cfg.Addr,
		Handler: handlers.Routes(api.RouterOptions{
			AllowedOrigins:     cfg.AllowedOrigins,
			RateLimitPerMinute: cfg.RateLimitPerMinute,
			Middleware:         []func(http.Handler) http.Handler{tracing},
			Ready:              readiness(pool),
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", cfg.Addr).Msg("starting " + serviceName)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("http server")
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("shutdown server")
	}
}

func readiness(pool *pgxpool.Pool) func(context.Context) error {
	return func(ctx context.Context) error {
		return db.Ping(ctx, pool)
	}
}
