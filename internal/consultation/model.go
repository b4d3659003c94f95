package consultation

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type ScheduleStatus string

const (
	ScheduleUpcoming  ScheduleStatus = "UPCOMING"
	ScheduleOnline    ScheduleStatus = "ONLINE"
	ScheduleCompleted ScheduleStatus = "COMPLETED"
)

type QueueStatus string

const (
	QueueWaiting QueueStatus = "WAITING"
	QueueReady   QueueStatus = "READY"
	QueueInCall  QueueStatus = "IN_CALL"
	QueueDone    QueueStatus = "DONE"
)

type CallStatus string

const (
	CallInvited   CallStatus = "INVITED"
	CallConfirmed CallStatus = "CONFIRMED"
	CallActive    CallStatus = "ACTIVE"
	CallEnded     CallStatus = "ENDED"
	CallDeclined  CallStatus = "DECLINED"
	CallExpired   CallStatus = "EXPIRED"
)

// ActiveCallStatuses is the set guarded by the one-active-call-per-schedule rule.
var ActiveCallStatuses = []CallStatus{CallInvited, CallConfirmed, CallActive}

// IsActive reports whether the status occupies the schedule's call slot.
func (s CallStatus) IsActive() bool {
	return s == CallInvited || s == CallConfirmed || s == CallActive
}

// IsTerminal reports whether no further transition is possible.
func (s CallStatus) IsTerminal() bool {
	return s == CallEnded || s == CallDeclined || s == CallExpired
}

// PeerRole identifies which side of a call an actor is acting for.
type PeerRole string

const (
	RoleProvider PeerRole = "provider"
	RolePatient  PeerRole = "patient"
	RoleSystem   PeerRole = "system"
)

func (r PeerRole) Valid() bool {
	return r == RoleProvider || r == RolePatient
}

// Date and time formats accepted for schedules.
const (
	DateLayout = "2006-01-02"
	TimeLayout = "15:04"
)

type Schedule struct {
	ID        uuid.UUID      `json:"id"`
	OwnerID   uuid.UUID      `json:"ownerId"`
	Date      time.Time      `json:"-"`
	StartTime string         `json:"startTime"`
	EndTime   string         `json:"endTime"`
	Status    ScheduleStatus `json:"status"`
	CreatedAt time.Time      `json:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
}

// DateString renders the schedule date as YYYY-MM-DD.
func (s Schedule) DateString() string {
	return s.Date.Format(DateLayout)
}

func (s Schedule) MarshalJSON() ([]byte, error) {
	type alias Schedule
	return json.Marshal(struct {
		alias
		Date string `json:"date"`
	}{alias: alias(s), Date: s.DateString()})
}

// QueueEntry stores only the canonical status; readiness is derived from it.
type QueueEntry struct {
	ID          uuid.UUID   `json:"id"`
	ScheduleID  uuid.UUID   `json:"scheduleId"`
	PatientID   uuid.UUID   `json:"patientId"`
	QueueNumber int         `json:"queueNumber"`
	Status      QueueStatus `json:"status"`
	JoinedAt    time.Time   `json:"joinedAt"`
	UpdatedAt   time.Time   `json:"updatedAt"`
}

func (e QueueEntry) IsReady() bool {
	return e.Status == QueueReady
}

func (e QueueEntry) MarshalJSON() ([]byte, error) {
	type alias QueueEntry
	return json.Marshal(struct {
		alias
		IsReady bool `json:"isReady"`
	}{alias: alias(e), IsReady: e.IsReady()})
}

type CallSession struct {
	ID             uuid.UUID  `json:"id"`
	ScheduleID     uuid.UUID  `json:"scheduleId"`
	ProviderID     uuid.UUID  `json:"providerId"`
	PatientID      uuid.UUID  `json:"patientId"`
	Status         CallStatus `json:"status"`
	CreatedAt      time.Time  `json:"createdAt"`
	ConfirmedAt    *time.Time `json:"confirmedAt,omitempty"`
	EndedAt        *time.Time `json:"endedAt,omitempty"`
	ProviderPeerID *string    `json:"providerPeerId,omitempty"`
	PatientPeerID  *string    `json:"patientPeerId,omitempty"`
}

// RoleOf returns the role the actor holds in the session, if any.
func (c CallSession) RoleOf(actorID uuid.UUID) (PeerRole, bool) {
	switch actorID {
	case c.ProviderID:
		return RoleProvider, true
	case c.PatientID:
		return RolePatient, true
	}
	return "", false
}

type AuditEntry struct {
	ID            int64
	ActorID       uuid.UUID
	ActionType    string
	ScheduleID    *uuid.UUID
	PatientID     *uuid.UUID
	CallSessionID *uuid.UUID
	Metadata      []byte
	CreatedAt     time.Time
}

// ScheduleDetail is the polling snapshot a patient uses to recover missed events.
type ScheduleDetail struct {
	Schedule     Schedule    `json:"schedule"`
	QueueEntry   *QueueEntry `json:"queueEntry"`
	TotalInQueue int         `json:"totalInQueue"`
}
