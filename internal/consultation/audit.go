package consultation

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Audit action types.
const (
	ActionScheduleCreated = "SCHEDULE_CREATED"
	ActionPracticeStarted = "PRACTICE_STARTED"
	ActionPracticeEnded   = "PRACTICE_ENDED"
	ActionQueueJoined     = "QUEUE_JOINED"
	ActionReadyToggled    = "READY_TOGGLED"
	ActionCallInvited     = "CALL_INVITED"
	ActionCallConfirmed   = "CALL_CONFIRMED"
	ActionCallDeclined    = "CALL_DECLINED"
	ActionCallActivated   = "CALL_ACTIVATED"
	ActionPeerIDSet       = "PEER_ID_SET"
	ActionCallEnded       = "CALL_ENDED"
	ActionCallExpired     = "CALL_EXPIRED"
)

const auditTimeout = 2 * time.Second

type auditRecord struct {
	actor         uuid.UUID
	action        string
	scheduleID    uuid.UUID
	patientID     uuid.UUID
	callSessionID uuid.UUID
	metadata      map[string]any
}

func optionalID(id uuid.UUID) *uuid.UUID {
	if id == uuid.Nil {
		return nil
	}
	return &id
}

func callAudit(actor uuid.UUID, action string, call *CallSession, metadata map[string]any) auditRecord {
	return auditRecord{
		actor:         actor,
		action:        action,
		scheduleID:    call.ScheduleID,
		patientID:     call.PatientID,
		callSessionID: call.ID,
		metadata:      metadata,
	}
}

// audit appends an entry to the audit log. The write is detached from the
// request context and a failure is only logged.
func (c *Coordinator) audit(ctx context.Context, rec auditRecord) {
	var data []byte
	if rec.metadata != nil {
		var err error
		data, err = json.Marshal(rec.metadata)
		if err != nil {
			c.logger.Warn("marshal audit metadata", zap.String("action", rec.action), zap.Error(err))
			data = nil
		}
	}

	entry := AuditEntry{
		ActorID:       rec.actor,
		ActionType:    rec.action,
		ScheduleID:    optionalID(rec.scheduleID),
		PatientID:     optionalID(rec.patientID),
		CallSessionID: optionalID(rec.callSessionID),
		Metadata:      data,
		CreatedAt:     c.clock(),
	}

	auditCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), auditTimeout)
	defer cancel()

	if err := c.repo.InsertAudit(auditCtx, entry); err != nil {
		c.logger.Warn("audit write failed",
			zap.String("action", rec.action),
			zap.String("actor_id", rec.actor.String()),
			zap.Error(err),
		)
	}
}
