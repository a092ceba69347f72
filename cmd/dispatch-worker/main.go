// dispatch-worker runs the periodic maintenance passes: expiring
// pending appointments whose holds ran out, and escalating emergencies
// nobody picked up.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/medigrid/clinic-scheduling/internal/appointment"
	"github.com/medigrid/clinic-scheduling/internal/audit"
	"github.com/medigrid/clinic-scheduling/internal/availability"
	"github.com/medigrid/clinic-scheduling/internal/clock"
	"github.com/medigrid/clinic-scheduling/internal/config"
	"github.com/medigrid/clinic-scheduling/internal/db"
	"github.com/medigrid/clinic-scheduling/internal/dispatch"
	"github.com/medigrid/clinic-scheduling/internal/events"
	"github.com/medigrid/clinic-scheduling/internal/lock"
	redisclient "github.com/medigrid/clinic-scheduling/internal/redis"
)

func main() {
	log := zerolog.New(os.Stdout).With().Timestamp().Str("service", "dispatch-worker").Logger()
	log.Info().Msg("dispatch-worker starting up")

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config load error")
	}
	log.Info().Str("env", cfg.Env).Dur("interval", cfg.WorkerInterval).Msg("configuration loaded")

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
	pub := events.NopPublisher{}

	ledger := availability.NewLedger(availability.NewPgRepository(pgPool), locker, clk, cfg.LeaveLeadTime, log)
	appointments := appointment.NewService(appointment.NewPgRepository(pgPool), ledger, locker, recorder, pub, clk, log)
	dispatcher := dispatch.NewService(
		dispatch.NewPgEmergencyRepository(pgPool),
		dispatch.NewPgAmbulanceStore(pgPool),
		locker, recorder, pub, clk, cfg.EscalationThreshold, log,
	)

	// Run once at startup, then on the configured interval.
	runOnce(rootCtx, appointments, dispatcher, log)

	ticker := time.NewTicker(cfg.WorkerInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rootCtx.Done():
			log.Info().Msg("shutdown signal received, stopping dispatch-worker")
			return
		case <-ticker.C:
			runOnce(rootCtx, appointments, dispatcher, log)
		}
	}
}

func runOnce(ctx context.Context, appointments *appointment.Service, dispatcher *dispatch.Service, log zerolog.Logger) {
	runCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()

	start := time.Now()

	expired, err := appointments.ExpirePending(runCtx)
	if err != nil {
		log.Error().Err(err).Msg("expiry pass failed")
	}

	escalated, err := dispatcher.EscalateStale(runCtx)
	if err != nil {
		log.Error().Err(err).Msg("escalation pass failed")
	}

	log.Info().
		Int("expired", expired).
		Int("escalated", escalated).
		Dur("took", time.Since(start)).
		Msg("maintenance pass complete")
}
