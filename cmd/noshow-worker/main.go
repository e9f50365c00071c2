package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/clinova/appointment-engine/internal/appointment"
	"github.com/clinova/appointment-engine/internal/config"
	"github.com/clinova/appointment-engine/internal/db"
	"github.com/clinova/appointment-engine/internal/notify"
	redisclient "github.com/clinova/appointment-engine/internal/redis"
)

// systemCaller identifies sweeper-initiated transitions in the audit trail.
var systemCaller = uuid.Nil

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLogger := zerolog.New(os.Stderr)
		bootLogger.Fatal().Err(err).Msg("config load error")
	}

	logger := zerolog.New(os.Stdout).With().Timestamp().Str("component", "noshow-worker").Logger()
	logger.Info().
		Str("env", cfg.Env).
		Dur("interval", cfg.WorkerInterval).
		Dur("grace", cfg.NoShowGrace).
		Msg("no-show worker starting up")

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN, cfg.DBMaxConns, cfg.DBMinConns)
	cancelPg()
	if err != nil {
		logger.Fatal().Err(err).Msg("postgres connection error")
	}
	defer pgPool.Close()

	rdb, err := redisclient.NewRedisClient(cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword)
	if err != nil {
		logger.Fatal().Err(err).Msg("redis connection error")
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			logger.Warn().Err(err).Msg("error closing redis")
		}
	}()

	store := appointment.NewPgStore(pgPool)
	locker := redisclient.NewRedisAppointmentLocker(rdb, cfg.LockTTL)
	dispatcher := notify.NewDispatcher(map[notify.Channel]notify.Messenger{
		notify.ChannelSystem: notify.NewLogMessenger(notify.ChannelSystem, logger),
	}, cfg.SendTimeout, logger)

	engine := appointment.NewEngine(store, locker, dispatcher, logger, appointment.EngineConfig{
		CancelWindow:  cfg.CancelWindow,
		NotifyTimeout: cfg.NotifyTimeout,
	})

	sweeper := &sweeper{
		store:     store,
		engine:    engine,
		grace:     cfg.NoShowGrace,
		batchSize: cfg.SweepBatchSize,
		log:       logger,
	}

	// Run once at startup
	sweeper.runOnce(rootCtx)

	ticker := time.NewTicker(cfg.WorkerInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rootCtx.Done():
			logger.Info().Msg("shutdown signal received, stopping no-show worker")
			return
		case <-ticker.C:
			sweeper.runOnce(rootCtx)
		}
	}
}

type sweeper struct {
	store     appointment.Store
	engine    *appointment.Engine
	grace     time.Duration
	batchSize int
	log       zerolog.Logger
}

// runOnce marks confirmed appointments whose start time passed more than the
// grace period ago as no-show. Each transition goes through the engine like
// any other caller, so the graph, the audit trail, and notifications all
// apply.
func (s *sweeper) runOnce(ctx context.Context) {
	runCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	start := time.Now()
	cutoff := start.Add(-s.grace)

	overdue, err := s.store.FindOverdueConfirmed(runCtx, cutoff, s.batchSize)
	if err != nil {
		s.log.Error().Err(err).Msg("find overdue confirmed appointments")
		return
	}

	var marked, skipped int
	for _, appt := range overdue {
		_, err := s.engine.RequestTransition(runCtx, appointment.TransitionRequest{
			AppointmentID:  appt.ID,
			OrganizationID: appt.OrganizationID,
			TargetStatus:   appointment.StatusNoShow,
			CallerID:       systemCaller,
			CallerRole:     appointment.RoleAdmin,
			Reason:         "missed appointment window",
		})
		switch {
		case err == nil:
			marked++
		case errors.Is(err, appointment.ErrTransitionInFlight),
			errors.Is(err, appointment.ErrForbidden):
			// Someone else moved it first; next sweep will skip it.
			skipped++
		default:
			s.log.Error().Err(err).Str("appointment_id", appt.ID.String()).Msg("mark no-show")
		}
	}

	s.log.Info().
		Int("candidates", len(overdue)).
		Int("marked", marked).
		Int("skipped", skipped).
		Dur("took", time.Since(start)).
		Msg("sweep complete")
}
