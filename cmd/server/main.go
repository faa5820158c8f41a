// Command server runs the fish-alert backend: the WhatsApp webhook API, the
// admin surface, and the background sweep that dispatches due alerts and
// digest batches.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/aswinsasi/nearbuy-sub002/internal/config"
	httpapi "github.com/aswinsasi/nearbuy-sub002/internal/http"
	"github.com/aswinsasi/nearbuy-sub002/internal/http/handlers"
	"github.com/aswinsasi/nearbuy-sub002/internal/messaging"
	"github.com/aswinsasi/nearbuy-sub002/internal/observability"
	"github.com/aswinsasi/nearbuy-sub002/internal/repo"
	"github.com/aswinsasi/nearbuy-sub002/internal/schedule"
	"github.com/aswinsasi/nearbuy-sub002/internal/scheduler"
	"github.com/aswinsasi/nearbuy-sub002/internal/services"
	"github.com/aswinsasi/nearbuy-sub002/internal/sysutil"
)

// Version is set via ldflags at build time.
var Version = "dev"

func main() {
	_ = godotenv.Load()

	cfg := config.MustLoad()

	sysutil.SetLogLevel(cfg.LogLevel)
	if cfg.LogPretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
	logger := log.With().Str("service", "nearbuy").Logger()

	gin.SetMode(cfg.GinMode)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, Version)
	if err != nil {
		logger.Fatal().Err(err).Msg("otel setup failed")
	}

	db, err := repo.OpenSQLite(cfg.DBPath)
	if err != nil {
		logger.Fatal().Err(err).Str("path", cfg.DBPath).Msg("open database failed")
	}
	if err := repo.AutoMigrate(db); err != nil {
		logger.Fatal().Err(err).Msg("migrate database failed")
	}
	if cfg.OTEL.Enabled {
		if err := repo.EnableTracing(db); err != nil {
			logger.Warn().Err(err).Msg("db tracing unavailable")
		}
	}

	loc, err := time.LoadLocation(cfg.Alerts.OperationalTZ)
	if err != nil {
		logger.Fatal().Err(err).Str("tz", cfg.Alerts.OperationalTZ).Msg("bad operational timezone")
	}
	policy := schedule.NewPolicy(loc)

	// TODO: swap LogSender for the WhatsApp Cloud API transport once the
	// business account is provisioned.
	sender := messaging.LogSender{Log: logger}
	events := &services.CounterHandler{DB: db, Log: logger}

	sessions := services.NewSessionService(db, cfg.Session.DefaultTimeout)
	subs := services.NewSubscriptionService(db, cfg.Alerts.AllowedRadiiKm)
	alerts := services.NewAlertService(db, sender, events, logger)
	batches := services.NewBatchService(db, policy, sender, events, cfg.Alerts.StaleGrace, logger)
	matcher := services.NewMatcherService(db, alerts, batches, policy, logger)
	chat := services.NewChatService(db, sessions, subs, matcher, sender, logger)

	sweeper, err := scheduler.New(db, batches, alerts, sessions, cfg.Session.Retention, cfg.Alerts.SweepSpec, loc, logger)
	if err != nil {
		logger.Fatal().Err(err).Str("spec", cfg.Alerts.SweepSpec).Msg("bad sweep schedule")
	}
	// Catch up on work that came due while the process was down.
	sweeper.RunOnce(ctx)
	sweeper.Start()

	engine := gin.New()
	httpapi.RegisterRoutes(engine, handlers.New(db, chat, alerts, subs), cfg)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           engine,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	go func() {
		logger.Info().Str("addr", srv.Addr).Str("version", Version).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("server stopped unexpectedly")
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	sweeper.Stop(shutdownCtx)

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("http shutdown failed")
	}
	if err := shutdownOTel(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("otel shutdown failed")
	}
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
	logger.Info().Msg("bye")
}
