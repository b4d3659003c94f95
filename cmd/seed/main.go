package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/consultation-queue/internal/config"
	"github.com/hackgods/consultation-queue/internal/consultation"
	"github.com/hackgods/consultation-queue/internal/db"
	"github.com/hackgods/consultation-queue/internal/logging"
	"github.com/hackgods/consultation-queue/internal/notify"
	redisclient "github.com/hackgods/consultation-queue/internal/redis"
)

func main() {
	providers := flag.Int("providers", 20, "number of providers to create")
	days := flag.Int("days", 5, "days of schedules per provider, starting today")
	patients := flag.Int("patients", 30, "patients queued on each of today's online schedules")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}
	if cfg.StoreBackend != config.StoreBackendPostgres {
		log.Fatalf("seed needs STORE_BACKEND=postgres, got %q", cfg.StoreBackend)
	}

	logger, err := logging.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	defer func() { _ = logger.Sync() }()
	logger = logger.Named("seed")

	if _, err := db.MigrateUp(cfg.PostgresDSN); err != nil {
		logger.Fatal("migrations failed", zap.Error(err))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	pool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN, db.PoolOptions{
		MaxConns:        cfg.PgMaxConns,
		MinConns:        cfg.PgMinConns,
		MaxConnLifetime: cfg.PgConnLifetime,
		MaxConnIdleTime: cfg.PgConnIdleTime,
	})
	cancel()
	if err != nil {
		logger.Fatal("connect postgres", zap.Error(err))
	}
	defer pool.Close()

	// Nothing observes a seed run, so events go to an empty local hub.
	coord := consultation.NewCoordinator(
		consultation.NewPgRepository(pool),
		redisclient.NewLocalScheduleLocker(cfg.LockWait),
		notify.NewHub(logger),
		logger,
	)

	faker := gofakeit.New(uint64(time.Now().UnixNano()))

	s := seeder{coord: coord, faker: faker, logger: logger}
	if err := s.run(context.Background(), *providers, *days, *patients); err != nil {
		logger.Fatal("seed failed", zap.Error(err))
	}

	logger.Info("seed complete")
}

type seeder struct {
	coord  *consultation.Coordinator
	faker  *gofakeit.Faker
	logger *zap.Logger
}

func (s seeder) run(ctx context.Context, providers, days, patients int) error {
	today := time.Now().UTC()

	for i := 0; i < providers; i++ {
		providerID := uuid.New()
		created := 0

		for d := 0; d < days; d++ {
			date := today.AddDate(0, 0, d).Format(consultation.DateLayout)
			start, end := s.sessionHours()

			schedule, err := s.coord.CreateSchedule(ctx, providerID, date, start, end)
			if err != nil {
				return fmt.Errorf("create schedule for %s: %w", providerID, err)
			}
			created++

			if d == 0 && s.faker.Bool() {
				if err := s.openPractice(ctx, schedule, patients); err != nil {
					return err
				}
			}
		}

		s.logger.Info("provider seeded",
			zap.String("provider_id", providerID.String()),
			zap.Int("schedules", created),
		)
	}

	return nil
}

// sessionHours picks a morning or afternoon block of two to four hours.
func (s seeder) sessionHours() (string, string) {
	startHour := s.faker.Number(7, 14)
	length := s.faker.Number(2, 4)
	return fmt.Sprintf("%02d:00", startHour), fmt.Sprintf("%02d:%02d", startHour+length, s.faker.RandomInt([]int{0, 30}))
}

func (s seeder) openPractice(ctx context.Context, schedule *consultation.Schedule, patients int) error {
	if _, err := s.coord.StartPractice(ctx, schedule.ID, schedule.OwnerID); err != nil {
		return fmt.Errorf("start practice %s: %w", schedule.ID, err)
	}

	for p := 0; p < patients; p++ {
		patientID := uuid.New()
		if _, err := s.coord.Join(ctx, schedule.ID, patientID); err != nil {
			return fmt.Errorf("join queue %s: %w", schedule.ID, err)
		}
		if s.faker.Float64Range(0, 1) < 0.6 {
			if _, err := s.coord.SetReady(ctx, schedule.ID, patientID, true); err != nil {
				return fmt.Errorf("set ready %s: %w", schedule.ID, err)
			}
		}
	}

	s.logger.Debug("practice opened",
		zap.String("schedule_id", schedule.ID.String()),
		zap.Int("patients", patients),
	)
	return nil
}
