package consultation

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// CreateSchedule opens a new UPCOMING schedule for the provider.
// date is YYYY-MM-DD, start and end are HH:MM with start before end.
func (c *Coordinator) CreateSchedule(ctx context.Context, ownerID uuid.UUID, date, start, end string) (_ *Schedule, err error) {
	defer func() { observe("create_schedule", err) }()

	day, err := time.Parse(DateLayout, strings.TrimSpace(date))
	if err != nil {
		return nil, ErrInvalidSchedule
	}
	startAt, err := time.Parse(TimeLayout, strings.TrimSpace(start))
	if err != nil {
		return nil, ErrInvalidSchedule
	}
	endAt, err := time.Parse(TimeLayout, strings.TrimSpace(end))
	if err != nil {
		return nil, ErrInvalidSchedule
	}
	if !startAt.Before(endAt) {
		return nil, ErrInvalidSchedule
	}

	now := c.clock()
	created, err := c.repo.CreateSchedule(ctx, Schedule{
		ID:        uuid.New(),
		OwnerID:   ownerID,
		Date:      day,
		StartTime: startAt.Format(TimeLayout),
		EndTime:   endAt.Format(TimeLayout),
		Status:    ScheduleUpcoming,
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		return nil, wrapStore("create schedule", err)
	}

	c.audit(ctx, auditRecord{
		actor:      ownerID,
		action:     ActionScheduleCreated,
		scheduleID: created.ID,
		metadata: map[string]any{
			"date":      created.DateString(),
			"startTime": created.StartTime,
			"endTime":   created.EndTime,
		},
	})

	return created, nil
}

// ListProviderSchedules returns the provider's schedules by date then start time.
func (c *Coordinator) ListProviderSchedules(ctx context.Context, ownerID uuid.UUID) ([]Schedule, error) {
	list, err := c.repo.ListSchedulesByOwner(ctx, ownerID)
	if err != nil {
		return nil, wrapStore("list provider schedules", err)
	}
	if list == nil {
		list = []Schedule{}
	}
	return list, nil
}

// ListAvailableSchedules returns every schedule dated today or later.
func (c *Coordinator) ListAvailableSchedules(ctx context.Context) ([]Schedule, error) {
	now := c.clock()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)

	list, err := c.repo.ListSchedulesFrom(ctx, today)
	if err != nil {
		return nil, wrapStore("list available schedules", err)
	}
	if list == nil {
		list = []Schedule{}
	}
	return list, nil
}

// StartPractice moves an UPCOMING schedule ONLINE.
func (c *Coordinator) StartPractice(ctx context.Context, scheduleID, providerID uuid.UUID) (_ *Schedule, err error) {
	defer func() { observe("start_practice", err) }()

	if _, err := c.ownedSchedule(ctx, scheduleID, providerID); err != nil {
		return nil, err
	}

	updated, err := c.repo.TransitionSchedule(ctx, scheduleID, []ScheduleStatus{ScheduleUpcoming}, ScheduleOnline, c.clock())
	if err != nil {
		if errors.Is(err, ErrInvalidTransition) && updated != nil {
			if updated.Status == ScheduleCompleted {
				return nil, ErrAlreadyCompleted
			}
			return nil, ErrAlreadyStarted
		}
		return nil, wrapStore("start practice", err)
	}

	c.audit(ctx, auditRecord{actor: providerID, action: ActionPracticeStarted, scheduleID: scheduleID})
	c.publish(ctx, ScheduleChannel(scheduleID), EventScheduleStatusChanged, ScheduleStatusPayload{
		ScheduleID: scheduleID,
		OwnerID:    updated.OwnerID,
		Status:     updated.Status,
	})

	c.logger.Info("practice started", zap.String("schedule_id", scheduleID.String()))

	return updated, nil
}

// EndPractice completes the schedule from any non-terminal status and ends
// every call still holding its call slot.
func (c *Coordinator) EndPractice(ctx context.Context, scheduleID, providerID uuid.UUID) (_ *Schedule, err error) {
	defer func() { observe("end_practice", err) }()

	if _, err := c.ownedSchedule(ctx, scheduleID, providerID); err != nil {
		return nil, err
	}

	completed, ended, err := c.repo.CompleteSchedule(ctx, scheduleID, c.clock())
	if err != nil {
		if errors.Is(err, ErrInvalidTransition) {
			return nil, ErrAlreadyCompleted
		}
		return nil, wrapStore("end practice", err)
	}

	c.audit(ctx, auditRecord{
		actor:      providerID,
		action:     ActionPracticeEnded,
		scheduleID: scheduleID,
		metadata:   map[string]any{"endedCalls": len(ended)},
	})

	for i := range ended {
		call := &ended[i]
		c.audit(ctx, callAudit(providerID, ActionCallEnded, call, map[string]any{"endedBy": RoleSystem}))
		c.publish(ctx, CallChannel(call.ID), EventCallEnded, CallEndedPayload{
			CallSessionID: call.ID,
			EndedBy:       RoleSystem,
		})
	}

	c.publish(ctx, ScheduleChannel(scheduleID), EventScheduleStatusChanged, ScheduleStatusPayload{
		ScheduleID: scheduleID,
		OwnerID:    completed.OwnerID,
		Status:     completed.Status,
	})

	c.logger.Info("practice ended",
		zap.String("schedule_id", scheduleID.String()),
		zap.Int("ended_calls", len(ended)),
	)

	return completed, nil
}
