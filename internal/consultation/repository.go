package consultation

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// InvitationParams describes one atomic sweep+check+create invitation attempt.
type InvitationParams struct {
	ScheduleID  uuid.UUID
	ProviderID  uuid.UUID
	PatientID   uuid.UUID
	At          time.Time
	StaleBefore time.Time // INVITED sessions created before this are expired first
}

// CallTransition is a conditional call status change with an optional queue cascade.
type CallTransition struct {
	ID        uuid.UUID
	From      []CallStatus
	To        CallStatus
	At        time.Time
	QueueFrom []QueueStatus // cascade applies only while the entry is in one of these
	QueueTo   *QueueStatus
}

// Repository contains all record store interactions needed by the coordinator.
// Every method is atomic: a returned error means no record was changed.
type Repository interface {
	// Schedules
	CreateSchedule(ctx context.Context, s Schedule) (*Schedule, error)
	GetSchedule(ctx context.Context, id uuid.UUID) (*Schedule, error)
	ListSchedulesByOwner(ctx context.Context, ownerID uuid.UUID) ([]Schedule, error)
	ListSchedulesFrom(ctx context.Context, from time.Time) ([]Schedule, error)
	// TransitionSchedule returns the current record and ErrInvalidTransition when its status is not in from.
	TransitionSchedule(ctx context.Context, id uuid.UUID, from []ScheduleStatus, to ScheduleStatus, at time.Time) (*Schedule, error)
	// CompleteSchedule moves a non-completed schedule to COMPLETED and ends every active call.
	CompleteSchedule(ctx context.Context, id uuid.UUID, at time.Time) (*Schedule, []CallSession, error)

	// Queue
	EnqueuePatient(ctx context.Context, scheduleID, patientID uuid.UUID, at time.Time) (*QueueEntry, error)
	GetQueueEntry(ctx context.Context, scheduleID, patientID uuid.UUID) (*QueueEntry, error)
	ListQueue(ctx context.Context, scheduleID uuid.UUID) ([]QueueEntry, error)
	CountQueue(ctx context.Context, scheduleID uuid.UUID) (int, error)
	// SetQueueStatus returns the current entry and ErrInvalidTransition when its status is not in from.
	SetQueueStatus(ctx context.Context, scheduleID, patientID uuid.UUID, from []QueueStatus, to QueueStatus, at time.Time) (*QueueEntry, error)

	// Call sessions
	CreateInvitation(ctx context.Context, p InvitationParams) (*CallSession, []CallSession, error)
	GetCallSession(ctx context.Context, id uuid.UUID) (*CallSession, error)
	FindInvitationForPatient(ctx context.Context, patientID uuid.UUID) (*CallSession, error)
	// TransitionCall returns the current session and ErrInvalidTransition when its status is not in From.
	TransitionCall(ctx context.Context, t CallTransition) (*CallSession, error)
	SetPeerID(ctx context.Context, id uuid.UUID, role PeerRole, peerID string) (*CallSession, error)
	ExpireStaleInvitations(ctx context.Context, before, at time.Time) ([]CallSession, error)

	// Audit
	InsertAudit(ctx context.Context, e AuditEntry) error
}

func containsStatus[S ~string](set []S, s S) bool {
	for _, v := range set {
		if v == s {
			return true
		}
	}
	return false
}
