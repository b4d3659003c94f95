package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/hackgods/consultation-queue/internal/api"
	"github.com/hackgods/consultation-queue/internal/config"
	"github.com/hackgods/consultation-queue/internal/consultation"
	"github.com/hackgods/consultation-queue/internal/db"
	"github.com/hackgods/consultation-queue/internal/logging"
	"github.com/hackgods/consultation-queue/internal/notify"
	redisclient "github.com/hackgods/consultation-queue/internal/redis"
)

var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}

	logger, err := logging.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("api-server starting up",
		zap.String("http_port", cfg.HTTPPort),
		zap.String("store_backend", cfg.StoreBackend),
		zap.String("notify_backend", cfg.NotifyBackend),
		zap.String("version", version),
	)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var pgPool *pgxpool.Pool
	var repo consultation.Repository

	switch cfg.StoreBackend {
	case config.StoreBackendPostgres:
		if cfg.RunMigrations {
			applied, err := db.MigrateUp(cfg.PostgresDSN)
			if err != nil {
				logger.Fatal("migrations failed", zap.Error(err))
			}
			logger.Info("migrations checked", zap.Bool("applied", applied))
		}

		pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
		pgPool, err = db.ConnectPostgres(pgCtx, cfg.PostgresDSN, db.PoolOptions{
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

		repo = consultation.NewPgRepository(pgPool)
	default:
		logger.Warn("using in-memory store; state is lost on restart")
		repo = consultation.NewMemoryRepository()
	}

	var rdb *redis.Client
	if cfg.UsesRedis() {
		rdb, err = redisclient.NewClient(rootCtx, redisclient.Options{
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
		logger.Info("connected to Redis", zap.String("addr", cfg.RedisAddr))
	}

	// Schedule locks must be shared whenever the store is shared between instances.
	var locker redisclient.Locker
	if cfg.StoreBackend == config.StoreBackendPostgres {
		locker = redisclient.NewRedisScheduleLocker(rdb, cfg.LockTTL, cfg.LockWait)
	} else {
		locker = redisclient.NewLocalScheduleLocker(cfg.LockWait)
	}

	hub := notify.NewHub(logger)
	var notifier consultation.Notifier = hub
	if cfg.NotifyBackend == config.NotifyBackendRedis {
		relay := notify.NewRedisRelay(rdb, hub, logger)
		notifier = relay
		go func() {
			if err := relay.Run(rootCtx); err != nil {
				logger.Error("notification relay stopped", zap.Error(err))
				stop()
			}
		}()
	}

	coord := consultation.NewCoordinator(repo, locker, notifier, logger)

	srv := &http.Server{
		Addr: ":" + cfg.HTTPPort,
		Handler: api.NewRouter(api.RouterConfig{
			Coordinator:  coord,
			Hub:          hub,
			PgPool:       pgPool,
			Redis:        rdb,
			Logger:       logger,
			Env:          cfg.Env,
			Version:      version,
			WSSendBuffer: cfg.WSSendBuffer,
		}),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("http server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-rootCtx.Done():
	case err := <-serveErr:
		if err != nil {
			logger.Error("http server failed", zap.Error(err))
		}
	}

	logger.Info("shutting down api-server", zap.Duration("timeout", cfg.ShutdownTimeout))

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}
