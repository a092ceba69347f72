package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/medigrid/clinic-scheduling/internal/api"
	"github.com/medigrid/clinic-scheduling/internal/appointment"
	"github.com/medigrid/clinic-scheduling/internal/audit"
	"github.com/medigrid/clinic-scheduling/internal/availability"
	"github.com/medigrid/clinic-scheduling/internal/clinic"
	"github.com/medigrid/clinic-scheduling/internal/clock"
	"github.com/medigrid/clinic-scheduling/internal/config"
	"github.com/medigrid/clinic-scheduling/internal/db"
	"github.com/medigrid/clinic-scheduling/internal/directory"
	"github.com/medigrid/clinic-scheduling/internal/dispatch"
	"github.com/medigrid/clinic-scheduling/internal/events"
	"github.com/medigrid/clinic-scheduling/internal/lock"
	"github.com/medigrid/clinic-scheduling/internal/notify"
	redisclient "github.com/medigrid/clinic-scheduling/internal/redis"
)

const version = "0.3.0"

func main() {
	log := zerolog.New(os.Stdout).With().Timestamp().Str("service", "api-server").Logger()
	log.Info().Msg("api-server starting up")

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config load error")
	}
	log.Info().Str("env", cfg.Env).Str("http_port", cfg.HTTPPort).Msg("configuration loaded")

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN)
	cancelPg()
	if err != nil {
		log.Fatal().Err(err).Msg("postgres connection error")
	}
	defer pgPool.Close()
	log.Info().Msg("connected to Postgres")

	rdb, err := redisclient.Dial(redisclient.Config{
		Addr:     cfg.RedisAddr,
		Username: cfg.RedisUsername,
		Password: cfg.RedisPassword,
		PoolSize: cfg.RedisPoolSize,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("redis connection error")
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			log.Error().Err(err).Msg("error closing redis")
		}
	}()
	log.Info().Msg("connected to Redis")

	clk := clock.System()
	locker := lock.NewRedisLocker(rdb, cfg.LockTTL)
	recorder := audit.NewPgRecorder(pgPool)
	broker := events.NewBroker()

	ledger := availability.NewLedger(availability.NewPgRepository(pgPool), locker, clk, cfg.LeaveLeadTime, log)
	appointments := appointment.NewService(appointment.NewPgRepository(pgPool), ledger, locker, recorder, broker, clk, log)
	dispatcher := dispatch.NewService(
		dispatch.NewPgEmergencyRepository(pgPool),
		dispatch.NewPgAmbulanceStore(pgPool),
		locker, recorder, broker, clk, cfg.EscalationThreshold, log,
	)
	staff := directory.NewPgDirectory(pgPool)
	notifier := notify.NewLogNotifier(log)

	facade := clinic.New(appointments, ledger, dispatcher, staff, notifier, broker, cfg.HoldTTL, log)

	router := api.NewRouter(api.RouterConfig{
		Facade:       facade,
		Appointments: appointments,
		Dispatch:     dispatcher,
		Broker:       broker,
		PgPool:       pgPool,
		Redis:        rdb,
		Log:          log,
		Env:          cfg.Env,
		Version:      version,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-rootCtx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-errCh:
		log.Error().Err(err).Msg("http server failed")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	}
	log.Info().Msg("api-server stopped")
}
