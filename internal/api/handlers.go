package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/consultation-queue/internal/consultation"
)

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return false
	}
	return true
}

func pathID(w http.ResponseWriter, r *http.Request, code string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, code, "id must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

func actorOf(r *http.Request) Actor {
	actor, _ := ActorFromContext(r.Context())
	return actor
}

// Provider

func createScheduleHandler(coord *consultation.Coordinator, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateScheduleRequest
		if !decodeJSON(w, r, &req) {
			return
		}

		s, err := coord.CreateSchedule(r.Context(), actorOf(r).ID, req.Date, req.StartTime, req.EndTime)
		if err != nil {
			handleCoordinatorError(w, r, logger, err)
			return
		}

		writeJSON(w, http.StatusCreated, s)
	}
}

func listProviderSchedulesHandler(coord *consultation.Coordinator, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list, err := coord.ListProviderSchedules(r.Context(), actorOf(r).ID)
		if err != nil {
			handleCoordinatorError(w, r, logger, err)
			return
		}

		writeJSON(w, http.StatusOK, ScheduleListResponse{Schedules: list})
	}
}

func startPracticeHandler(coord *consultation.Coordinator, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r, "invalid_schedule_id")
		if !ok {
			return
		}

		s, err := coord.StartPractice(r.Context(), id, actorOf(r).ID)
		if err != nil {
			handleCoordinatorError(w, r, logger, err)
			return
		}

		writeJSON(w, http.StatusOK, s)
	}
}

func endPracticeHandler(coord *consultation.Coordinator, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r, "invalid_schedule_id")
		if !ok {
			return
		}

		s, err := coord.EndPractice(r.Context(), id, actorOf(r).ID)
		if err != nil {
			handleCoordinatorError(w, r, logger, err)
			return
		}

		writeJSON(w, http.StatusOK, s)
	}
}

func queueHandler(coord *consultation.Coordinator, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r, "invalid_schedule_id")
		if !ok {
			return
		}

		entries, err := coord.Queue(r.Context(), id, actorOf(r).ID)
		if err != nil {
			handleCoordinatorError(w, r, logger, err)
			return
		}

		writeJSON(w, http.StatusOK, QueueResponse{ScheduleID: id, Entries: entries})
	}
}

func inviteHandler(coord *consultation.Coordinator, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r, "invalid_schedule_id")
		if !ok {
			return
		}

		var req InviteRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		patientID, err := uuid.Parse(req.PatientID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_patient_id", "patientId must be a valid UUID")
			return
		}

		call, err := coord.Invite(r.Context(), id, actorOf(r).ID, patientID)
		if err != nil {
			handleCoordinatorError(w, r, logger, err)
			return
		}

		writeJSON(w, http.StatusCreated, call)
	}
}

// Patient

func listAvailableSchedulesHandler(coord *consultation.Coordinator, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list, err := coord.ListAvailableSchedules(r.Context())
		if err != nil {
			handleCoordinatorError(w, r, logger, err)
			return
		}

		writeJSON(w, http.StatusOK, ScheduleListResponse{Schedules: list})
	}
}

func scheduleDetailHandler(coord *consultation.Coordinator, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r, "invalid_schedule_id")
		if !ok {
			return
		}

		detail, err := coord.ScheduleDetail(r.Context(), id, actorOf(r).ID)
		if err != nil {
			handleCoordinatorError(w, r, logger, err)
			return
		}

		writeJSON(w, http.StatusOK, detail)
	}
}

func joinQueueHandler(coord *consultation.Coordinator, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r, "invalid_schedule_id")
		if !ok {
			return
		}

		entry, err := coord.Join(r.Context(), id, actorOf(r).ID)
		if err != nil {
			handleCoordinatorError(w, r, logger, err)
			return
		}

		writeJSON(w, http.StatusCreated, entry)
	}
}

func setReadyHandler(coord *consultation.Coordinator, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r, "invalid_schedule_id")
		if !ok {
			return
		}

		var req SetReadyRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		if req.IsReady == nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "isReady is required")
			return
		}

		entry, err := coord.SetReady(r.Context(), id, actorOf(r).ID, *req.IsReady)
		if err != nil {
			handleCoordinatorError(w, r, logger, err)
			return
		}

		writeJSON(w, http.StatusOK, entry)
	}
}

func pendingInvitationHandler(coord *consultation.Coordinator, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		call, err := coord.PendingInvitation(r.Context(), actorOf(r).ID)
		if err != nil && !errors.Is(err, consultation.ErrCallSessionNotFound) {
			handleCoordinatorError(w, r, logger, err)
			return
		}

		writeJSON(w, http.StatusOK, InvitationResponse{Invitation: call})
	}
}

func confirmCallHandler(coord *consultation.Coordinator, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r, "invalid_call_session_id")
		if !ok {
			return
		}

		call, err := coord.Confirm(r.Context(), id, actorOf(r).ID)
		if err != nil {
			handleCoordinatorError(w, r, logger, err)
			return
		}

		writeJSON(w, http.StatusOK, call)
	}
}

func declineCallHandler(coord *consultation.Coordinator, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r, "invalid_call_session_id")
		if !ok {
			return
		}

		call, err := coord.Decline(r.Context(), id, actorOf(r).ID)
		if err != nil {
			handleCoordinatorError(w, r, logger, err)
			return
		}

		writeJSON(w, http.StatusOK, call)
	}
}

// Either party

// peerIDHandler stores the peer id for the role the caller authenticated with.
func peerIDHandler(coord *consultation.Coordinator, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r, "invalid_call_session_id")
		if !ok {
			return
		}

		var req PeerIDRequest
		if !decodeJSON(w, r, &req) {
			return
		}

		actor := actorOf(r)
		call, err := coord.SetPeerID(r.Context(), id, actor.ID, actor.Role, req.PeerID)
		if err != nil {
			handleCoordinatorError(w, r, logger, err)
			return
		}

		writeJSON(w, http.StatusOK, call)
	}
}

func endCallHandler(coord *consultation.Coordinator, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r, "invalid_call_session_id")
		if !ok {
			return
		}

		call, err := coord.EndCall(r.Context(), id, actorOf(r).ID)
		if err != nil {
			handleCoordinatorError(w, r, logger, err)
			return
		}

		writeJSON(w, http.StatusOK, call)
	}
}

func getCallSessionHandler(coord *consultation.Coordinator, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r, "invalid_call_session_id")
		if !ok {
			return
		}

		call, err := coord.CallSession(r.Context(), id, actorOf(r).ID)
		if err != nil {
			handleCoordinatorError(w, r, logger, err)
			return
		}

		writeJSON(w, http.StatusOK, call)
	}
}

func activateCallHandler(coord *consultation.Coordinator, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r, "invalid_call_session_id")
		if !ok {
			return
		}

		call, err := coord.Activate(r.Context(), id, actorOf(r).ID)
		if err != nil {
			handleCoordinatorError(w, r, logger, err)
			return
		}

		writeJSON(w, http.StatusOK, call)
	}
}
