package consultation

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Join admits the patient to the schedule's queue with the next queue number.
func (c *Coordinator) Join(ctx context.Context, scheduleID, patientID uuid.UUID) (_ *QueueEntry, err error) {
	defer func() { observe("join", err) }()

	var entry *QueueEntry
	err = c.withScheduleLock(ctx, scheduleID, func(lockCtx context.Context) error {
		created, err := c.repo.EnqueuePatient(lockCtx, scheduleID, patientID, c.clock())
		if err != nil {
			return wrapStore("enqueue patient", err)
		}
		entry = created
		return nil
	})
	if err != nil {
		return nil, err
	}

	c.audit(ctx, auditRecord{
		actor:      patientID,
		action:     ActionQueueJoined,
		scheduleID: scheduleID,
		patientID:  patientID,
		metadata:   map[string]any{"queueNumber": entry.QueueNumber},
	})
	c.publish(ctx, ScheduleChannel(scheduleID), EventQueueUpdated, QueueUpdatedPayload{ScheduleID: scheduleID})

	c.logger.Debug("patient joined queue",
		zap.String("schedule_id", scheduleID.String()),
		zap.String("patient_id", patientID.String()),
		zap.Int("queue_number", entry.QueueNumber),
	)

	return entry, nil
}

// SetReady toggles the patient between WAITING and READY.
func (c *Coordinator) SetReady(ctx context.Context, scheduleID, patientID uuid.UUID, ready bool) (_ *QueueEntry, err error) {
	defer func() { observe("set_ready", err) }()

	target := QueueWaiting
	if ready {
		target = QueueReady
	}

	entry, err := c.repo.SetQueueStatus(ctx, scheduleID, patientID,
		[]QueueStatus{QueueWaiting, QueueReady}, target, c.clock())
	if err != nil {
		if errors.Is(err, ErrInvalidTransition) && entry != nil {
			switch entry.Status {
			case QueueDone:
				return nil, ErrTerminalState
			case QueueInCall:
				return nil, ErrInCallState
			}
		}
		return nil, wrapStore("set ready", err)
	}

	c.audit(ctx, auditRecord{
		actor:      patientID,
		action:     ActionReadyToggled,
		scheduleID: scheduleID,
		patientID:  patientID,
		metadata:   map[string]any{"isReady": ready},
	})
	c.publish(ctx, ScheduleChannel(scheduleID), EventQueueUpdated, QueueUpdatedPayload{ScheduleID: scheduleID})

	return entry, nil
}

// Queue lists the schedule's entries by queue number. Only the owner may read it.
func (c *Coordinator) Queue(ctx context.Context, scheduleID, providerID uuid.UUID) ([]QueueEntry, error) {
	if _, err := c.ownedSchedule(ctx, scheduleID, providerID); err != nil {
		return nil, err
	}

	entries, err := c.repo.ListQueue(ctx, scheduleID)
	if err != nil {
		return nil, wrapStore("list queue", err)
	}
	return entries, nil
}

// ScheduleDetail is the snapshot a patient polls to recover missed events.
func (c *Coordinator) ScheduleDetail(ctx context.Context, scheduleID, patientID uuid.UUID) (*ScheduleDetail, error) {
	s, err := c.repo.GetSchedule(ctx, scheduleID)
	if err != nil {
		return nil, wrapStore("load schedule", err)
	}

	detail := &ScheduleDetail{Schedule: *s}

	entry, err := c.repo.GetQueueEntry(ctx, scheduleID, patientID)
	switch {
	case err == nil:
		detail.QueueEntry = entry
	case !errors.Is(err, ErrNotQueued):
		return nil, wrapStore("load queue entry", err)
	}

	detail.TotalInQueue, err = c.repo.CountQueue(ctx, scheduleID)
	if err != nil {
		return nil, wrapStore("count queue", err)
	}

	return detail, nil
}
