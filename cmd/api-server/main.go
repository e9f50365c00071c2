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

	"github.com/clinova/appointment-engine/internal/api"
	"github.com/clinova/appointment-engine/internal/appointment"
	"github.com/clinova/appointment-engine/internal/config"
	"github.com/clinova/appointment-engine/internal/db"
	"github.com/clinova/appointment-engine/internal/notify"
	redisclient "github.com/clinova/appointment-engine/internal/redis"
)

var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLogger := zerolog.New(os.Stderr)
		bootLogger.Fatal().Err(err).Msg("config load error")
	}

	logger := newLogger(cfg.Env)
	logger.Info().Str("env", cfg.Env).Str("http_port", cfg.HTTPPort).Msg("api-server starting up")

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN, cfg.DBMaxConns, cfg.DBMinConns)
	cancelPg()
	if err != nil {
		logger.Fatal().Err(err).Msg("postgres connection error")
	}
	defer pgPool.Close()
	logger.Info().Msg("connected to Postgres")

	rdb, err := redisclient.NewRedisClient(cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword)
	if err != nil {
		logger.Fatal().Err(err).Msg("redis connection error")
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			logger.Warn().Err(err).Msg("error closing redis")
		}
	}()
	logger.Info().Msg("connected to Redis")

	store := appointment.NewPgStore(pgPool)
	locker := redisclient.NewRedisAppointmentLocker(rdb, cfg.LockTTL)

	// Real gateways plug in behind notify.Messenger; dev ships log-only
	// channels.
	dispatcher := notify.NewDispatcher(map[notify.Channel]notify.Messenger{
		notify.ChannelEmail:    notify.NewLogMessenger(notify.ChannelEmail, logger),
		notify.ChannelWhatsApp: notify.NewLogMessenger(notify.ChannelWhatsApp, logger),
		notify.ChannelSystem:   notify.NewLogMessenger(notify.ChannelSystem, logger),
	}, cfg.SendTimeout, logger)

	engine := appointment.NewEngine(store, locker, dispatcher, logger, appointment.EngineConfig{
		CancelWindow:  cfg.CancelWindow,
		NotifyTimeout: cfg.NotifyTimeout,
	})

	router := api.NewRouter(api.RouterConfig{
		Service: engine,
		PgPool:  pgPool,
		Redis:   rdb,
		Logger:  logger,
		Env:     cfg.Env,
		Version: version,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-rootCtx.Done():
		logger.Info().Msg("shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("http server error")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}

	logger.Info().Msg("api-server stopped")
}

func newLogger(env string) zerolog.Logger {
	if env == "dev" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}
