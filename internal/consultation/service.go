package consultation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	redisclient "github.com/hackgods/consultation-queue/internal/redis"
)

// StaleInvitationAfter is how long an unanswered invitation may hold the
// schedule's call slot before the next sweep expires it.
const StaleInvitationAfter = 60 * time.Second

// Coordinator owns the schedule, queue and call session state machines.
// Every mutation commits to the repository first; audit entries and
// notifications follow and never fail the operation.
type Coordinator struct {
	repo     Repository
	locker   redisclient.Locker
	notifier Notifier
	logger   *zap.Logger
	now      func() time.Time
}

type Option func(*Coordinator)

// WithClock replaces time.Now, mainly so tests can move past the staleness window.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) {
		c.now = now
	}
}

func NewCoordinator(repo Repository, locker redisclient.Locker, notifier Notifier, logger *zap.Logger, opts ...Option) *Coordinator {
	initMetrics()

	c := &Coordinator{
		repo:     repo,
		locker:   locker,
		notifier: notifier,
		logger:   logger.Named("coordinator"),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Coordinator) clock() time.Time {
	return c.now().UTC()
}

// withScheduleLock runs fn while holding the per-schedule lock.
func (c *Coordinator) withScheduleLock(ctx context.Context, scheduleID uuid.UUID, fn func(ctx context.Context) error) error {
	err := c.locker.WithScheduleLock(ctx, scheduleID, fn)
	if errors.Is(err, redisclient.ErrLockNotAcquired) {
		c.logger.Warn("schedule lock contention", zap.String("schedule_id", scheduleID.String()))
		return ErrScheduleBusy
	}
	return err
}

// publish delivers an event after the state change has committed.
// Failures are logged and swallowed.
func (c *Coordinator) publish(ctx context.Context, channel, event string, payload any) {
	if c.notifier == nil {
		return
	}
	if err := c.notifier.Publish(context.WithoutCancel(ctx), channel, event, payload); err != nil {
		c.logger.Warn("publish notification failed",
			zap.String("channel", channel),
			zap.String("event", event),
			zap.Error(err),
		)
	}
}

// ownedSchedule loads a schedule and hides it from anyone but its owner.
func (c *Coordinator) ownedSchedule(ctx context.Context, scheduleID, providerID uuid.UUID) (*Schedule, error) {
	s, err := c.repo.GetSchedule(ctx, scheduleID)
	if err != nil {
		return nil, wrapStore("load schedule", err)
	}
	if s.OwnerID != providerID {
		return nil, ErrScheduleNotFound
	}
	return s, nil
}

// wrapStore passes coordinator errors through and wraps infrastructure errors.
func wrapStore(action string, err error) error {
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	return fmt.Errorf("%s: %w", action, err)
}
