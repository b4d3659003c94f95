package api

import (
	"github.com/google/uuid"

	"github.com/hackgods/consultation-queue/internal/consultation"
)

type CreateScheduleRequest struct {
	Date      string `json:"date"`
	StartTime string `json:"startTime"`
	EndTime   string `json:"endTime"`
}

type InviteRequest struct {
	PatientID string `json:"patientId"`
}

type SetReadyRequest struct {
	IsReady *bool `json:"isReady"`
}

type PeerIDRequest struct {
	PeerID string `json:"peerId"`
}

type ScheduleListResponse struct {
	Schedules []consultation.Schedule `json:"schedules"`
}

type QueueResponse struct {
	ScheduleID uuid.UUID                 `json:"scheduleId"`
	Entries    []consultation.QueueEntry `json:"entries"`
}

type InvitationResponse struct {
	Invitation *consultation.CallSession `json:"invitation"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// ClientFrame is a room membership request sent over the websocket.
type ClientFrame struct {
	Action string `json:"action"`
	ID     string `json:"id"`
}

const (
	ActionJoinSchedule  = "join_schedule"
	ActionLeaveSchedule = "leave_schedule"
	ActionJoinCall      = "join_call"
	ActionLeaveCall     = "leave_call"
)
