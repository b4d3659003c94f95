package consultation

import (
	"context"

	"github.com/google/uuid"
)

// Events published to observers.
const (
	EventQueueUpdated          = "queue_updated"
	EventScheduleStatusChanged = "schedule_status_changed"
	EventCallInvitation        = "call_invitation"
	EventCallConfirmed         = "call_confirmed"
	EventCallDeclined          = "call_declined"
	EventCallActivated         = "call_activated"
	EventPeerIDUpdated         = "peer_id_updated"
	EventCallEnded             = "call_ended"
	EventCallExpired           = "call_expired"
)

// Notifier delivers an event to every observer of a channel.
// Implementations must not block on slow observers.
type Notifier interface {
	Publish(ctx context.Context, channel, event string, payload any) error
}

func UserChannel(id uuid.UUID) string     { return "user:" + id.String() }
func ScheduleChannel(id uuid.UUID) string { return "schedule:" + id.String() }
func CallChannel(id uuid.UUID) string     { return "call:" + id.String() }

type QueueUpdatedPayload struct {
	ScheduleID uuid.UUID `json:"scheduleId"`
}

type ScheduleStatusPayload struct {
	ScheduleID uuid.UUID      `json:"scheduleId"`
	OwnerID    uuid.UUID      `json:"ownerId"`
	Status     ScheduleStatus `json:"status"`
}

type CallInvitationPayload struct {
	CallSessionID uuid.UUID `json:"callSessionId"`
	ScheduleID    uuid.UUID `json:"scheduleId"`
	ProviderID    uuid.UUID `json:"providerId"`
	PatientID     uuid.UUID `json:"patientId"`
	CreatedAt     string    `json:"createdAt"`
}

type CallPatientPayload struct {
	CallSessionID uuid.UUID `json:"callSessionId"`
	PatientID     uuid.UUID `json:"patientId"`
}

type CallPayload struct {
	CallSessionID uuid.UUID `json:"callSessionId"`
}

type PeerIDPayload struct {
	CallSessionID uuid.UUID `json:"callSessionId"`
	Role          PeerRole  `json:"role"`
	PeerID        string    `json:"peerId"`
}

type CallEndedPayload struct {
	CallSessionID uuid.UUID `json:"callSessionId"`
	EndedBy       PeerRole  `json:"endedBy"`
}
