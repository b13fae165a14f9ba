package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sethvargo/go-envconfig"
	gormlogger "gorm.io/gorm/logger"

	"keysync/pkg/bus"
	"keysync/pkg/db"
	"keysync/pkg/telemetry"
	"keysync/services/auditor"
	"keysync/services/store"
)

const serviceName = "keysync-auditor"

type config struct {
	DBDSN       string `env:"DB_DSN,required"`
	NATSURL     string `env:"NATS_URL,required"`
	MetricsAddr string `env:"METRICS_ADDR,default=:9102"`
	LogLevel    string `env:"LOG_LEVEL,default=info"`
	LogFormat   string `env:"LOG_FORMAT,default=json"`
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	_ = godotenv.Load()

	var cfg config
	if err := envconfig.Process(ctx, &cfg); err != nil {
		boot := telemetry.NewLogger(serviceName, "info", os.Getenv("LOG_FORMAT"), os.Stderr)
		boot.Fatal().Err(err).Msg("load config")
	}
	logger := telemetry.NewLogger(serviceName, cfg.LogLevel, cfg.LogFormat, os.Stdout)

	pool, err := db.Open(ctx, cfg.DBDSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect database")
	}
	defer pool.Close()

	orm, err := db.ORM(pool, gormlogger.Silent)
	if err != nil {
		logger.Fatal().Err(err).Msg("open orm")
	}
	local, err := store.NewGorm(orm)
	if err != nil {
		logger.Fatal().Err(err).Msg("init store")
	}

	events, err := bus.New(cfg.NATSURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect bus")
	}
	defer events.Close()

	a, err := auditor.New(events, local, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("init auditor")
	}
	if err := a.Start(ctx); err != nil {
		logger.Fatal().Err(err).Msg("start auditor")
	}
	defer a.Close()

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	srv := &http.Server{Addr: cfg.MetricsAddr, Handler: r, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("metrics server")
		}
	}()

	logger.Info().Msg(serviceName + " running")
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}
