package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/hackgods/consultation-queue/internal/config"
	"github.com/hackgods/consultation-queue/internal/consultation"
	"github.com/hackgods/consultation-queue/internal/db"
	"github.com/hackgods/consultation-queue/internal/logging"
	"github.com/hackgods/consultation-queue/internal/notify"
	redisclient "github.com/hackgods/consultation-queue/internal/redis"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}
	if cfg.StoreBackend != config.StoreBackendPostgres {
		log.Fatalf("expiry-worker needs STORE_BACKEND=postgres, got %q", cfg.StoreBackend)
	}

	logger, err := logging.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	defer func() { _ = logger.Sync() }()
	logger = logger.Named("expiry-worker")

	logger.Info("expiry worker starting up", zap.Duration("interval", cfg.WorkerInterval))

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN, db.PoolOptions{
		MaxConns:        cfg.PgMaxConns,
		MinConns:        cfg.PgMinConns,
		MaxConnLifetime: cfg.PgConnLifetime,
		MaxConnIdleTime: cfg.PgConnIdleTime,
	})
	cancelPg()
	if err != nil {
		logger.Fatal("postgres connection error", zap.Error(err))
	}
	defer pgPool.Close()
	logger.Info("connected to Postgres")

	rdb, err := redisclient.NewClient(rootCtx, redisclient.Options{
		Addr:     cfg.RedisAddr,
		Username: cfg.RedisUsername,
		Password: cfg.RedisPassword,
	})
	if err != nil {
		logger.Fatal("redis connection error", zap.Error(err))
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			logger.Warn("error closing redis", zap.Error(err))
		}
	}()
	logger.Info("connected to Redis")

	// Observers live on the API instances, so expiry events only reach them via the relay.
	hub := notify.NewHub(logger)
	var notifier consultation.Notifier = hub
	if cfg.NotifyBackend == config.NotifyBackendRedis {
		notifier = notify.NewRedisRelay(rdb, hub, logger)
	}

	coord := consultation.NewCoordinator(
		consultation.NewPgRepository(pgPool),
		redisclient.NewRedisScheduleLocker(rdb, cfg.LockTTL, cfg.LockWait),
		notifier,
		logger,
	)

	runOnce(rootCtx, logger, coord)

	ticker := time.NewTicker(cfg.WorkerInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rootCtx.Done():
			logger.Info("shutdown signal received, stopping expiry worker")
			return
		case <-ticker.C:
			runOnce(rootCtx, logger, coord)
		}
	}
}

func runOnce(ctx context.Context, logger *zap.Logger, coord *consultation.Coordinator) {
	runCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()

	start := time.Now()
	expired, err := coord.ExpireStaleInvitations(runCtx)
	if err != nil {
		logger.Error("expiry run failed", zap.Error(err))
		return
	}

	logger.Info("expiry run complete",
		zap.Int("expired", expired),
		zap.Duration("took", time.Since(start)),
	)
}
