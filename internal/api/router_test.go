package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/hackgods/consultation-queue/internal/consultation"
	"github.com/hackgods/consultation-queue/internal/notify"
	redisclient "github.com/hackgods/consultation-queue/internal/redis"
)

type testServer struct {
	handler http.Handler
	hub     *notify.Hub
	coord   *consultation.Coordinator
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	logger := zaptest.NewLogger(t)
	hub := notify.NewHub(logger)
	coord := consultation.NewCoordinator(
		consultation.NewMemoryRepository(),
		redisclient.NewLocalScheduleLocker(time.Second),
		hub,
		logger,
	)

	return &testServer{
		handler: NewRouter(RouterConfig{
			Coordinator:  coord,
			Hub:          hub,
			Logger:       logger,
			Env:          "test",
			Version:      "test",
			WSSendBuffer: 16,
		}),
		hub:   hub,
		coord: coord,
	}
}

func (s *testServer) do(t *testing.T, method, path string, actor Actor, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}

	req := httptest.NewRequest(method, path, &buf)
	if actor.ID != uuid.Nil {
		req.Header.Set(HeaderActorID, actor.ID.String())
		req.Header.Set(HeaderActorRole, string(actor.Role))
	}

	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()

	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func provider() Actor { return Actor{ID: uuid.New(), Role: consultation.RoleProvider} }
func patient() Actor  { return Actor{ID: uuid.New(), Role: consultation.RolePatient} }

func today() string { return time.Now().UTC().Format(consultation.DateLayout) }

func TestHealthEndpoints(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/health/live", Actor{}, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	rec = s.do(t, http.MethodGet, "/health/ready", Actor{}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	ready := decode[ReadinessResponse](t, rec)
	assert.Equal(t, "ok", ready.Status)
	assert.Equal(t, "disabled", ready.Dependencies["postgres"])
	assert.Equal(t, "disabled", ready.Dependencies["redis"])

	rec = s.do(t, http.MethodPost, "/provider/schedules", provider(), CreateScheduleRequest{
		Date: today(), StartTime: "09:00", EndTime: "10:00",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = s.do(t, http.MethodGet, "/metrics", Actor{}, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "consultation_operations_total")
	assert.Contains(t, rec.Body.String(), "notify_observers")
}

func TestActorHeadersRequired(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/provider/schedules", Actor{}, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/provider/schedules", nil)
	req.Header.Set(HeaderActorID, uuid.NewString())
	req.Header.Set(HeaderActorRole, "admin")
	rec = httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(t, http.MethodGet, "/provider/schedules", patient(), nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "forbidden", decode[ErrorResponse](t, rec).Error)
}

func TestConsultationOverHTTP(t *testing.T) {
	s := newTestServer(t)
	doc, pat := provider(), patient()

	rec := s.do(t, http.MethodPost, "/provider/schedules", doc, CreateScheduleRequest{
		Date: today(), StartTime: "09:00", EndTime: "17:00",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	schedule := decode[map[string]any](t, rec)
	scheduleID := schedule["id"].(string)
	assert.Equal(t, today(), schedule["date"])
	assert.Equal(t, "UPCOMING", schedule["status"])

	rec = s.do(t, http.MethodPost, "/provider/schedules/"+scheduleID+"/start", doc, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = s.do(t, http.MethodGet, "/patient/schedules", pat, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[ScheduleListResponse](t, rec).Schedules, 1)

	rec = s.do(t, http.MethodPost, "/patient/schedules/"+scheduleID+"/queue", pat, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	entry := decode[map[string]any](t, rec)
	assert.EqualValues(t, 1, entry["queueNumber"])
	assert.Equal(t, false, entry["isReady"])

	rec = s.do(t, http.MethodPost, "/patient/schedules/"+scheduleID+"/queue", pat, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "already_queued", decode[ErrorResponse](t, rec).Error)

	ready := true
	rec = s.do(t, http.MethodPut, "/patient/schedules/"+scheduleID+"/ready", pat, SetReadyRequest{IsReady: &ready})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, true, decode[map[string]any](t, rec)["isReady"])

	rec = s.do(t, http.MethodPost, "/provider/schedules/"+scheduleID+"/invitations", doc, InviteRequest{PatientID: pat.ID.String()})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	call := decode[consultation.CallSession](t, rec)
	assert.Equal(t, consultation.CallInvited, call.Status)

	rec = s.do(t, http.MethodGet, "/patient/invitation", pat, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	invitation := decode[InvitationResponse](t, rec)
	require.NotNil(t, invitation.Invitation)
	assert.Equal(t, call.ID, invitation.Invitation.ID)

	callPath := "/call-sessions/" + call.ID.String()

	rec = s.do(t, http.MethodPost, "/patient"+callPath+"/confirm", pat, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = s.do(t, http.MethodPost, "/patient"+callPath+"/confirm", pat, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	conflict := decode[ErrorResponse](t, rec)
	assert.Equal(t, "invalid_transition", conflict.Error)
	assert.Contains(t, conflict.Details, "CONFIRMED")

	rec = s.do(t, http.MethodPost, "/provider"+callPath+"/peer-id", doc, PeerIDRequest{PeerID: "doc-peer"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = s.do(t, http.MethodPost, callPath+"/activate", pat, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, consultation.CallActive, decode[consultation.CallSession](t, rec).Status)

	rec = s.do(t, http.MethodGet, callPath, doc, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	current := decode[consultation.CallSession](t, rec)
	require.NotNil(t, current.ProviderPeerID)
	assert.Equal(t, "doc-peer", *current.ProviderPeerID)

	rec = s.do(t, http.MethodGet, callPath, patient(), nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(t, http.MethodPost, "/provider"+callPath+"/end", doc, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, consultation.CallEnded, decode[consultation.CallSession](t, rec).Status)

	rec = s.do(t, http.MethodPost, "/provider/schedules/"+scheduleID+"/invitations", doc, InviteRequest{PatientID: pat.ID.String()})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "patient_not_ready", decode[ErrorResponse](t, rec).Error)

	rec = s.do(t, http.MethodGet, "/provider/schedules/"+scheduleID+"/queue", doc, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	queue := decode[QueueResponse](t, rec)
	require.Len(t, queue.Entries, 1)
	assert.Equal(t, consultation.QueueDone, queue.Entries[0].Status)

	rec = s.do(t, http.MethodGet, "/patient/schedules/"+scheduleID, pat, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	detail := decode[consultation.ScheduleDetail](t, rec)
	assert.Equal(t, 1, detail.TotalInQueue)
	require.NotNil(t, detail.QueueEntry)
	assert.Equal(t, consultation.QueueDone, detail.QueueEntry.Status)

	rec = s.do(t, http.MethodPost, "/provider/schedules/"+scheduleID+"/end", doc, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = s.do(t, http.MethodPost, "/provider/schedules/"+scheduleID+"/start", doc, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "already_completed", decode[ErrorResponse](t, rec).Error)
}

func TestRequestValidation(t *testing.T) {
	s := newTestServer(t)
	doc, pat := provider(), patient()

	rec := s.do(t, http.MethodPost, "/provider/schedules/not-a-uuid/start", doc, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_schedule_id", decode[ErrorResponse](t, rec).Error)

	req := httptest.NewRequest(http.MethodPost, "/provider/schedules", strings.NewReader("{"))
	req.Header.Set(HeaderActorID, doc.ID.String())
	req.Header.Set(HeaderActorRole, string(doc.Role))
	rec = httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodPost, "/provider/schedules", doc, CreateScheduleRequest{Date: today(), StartTime: "10:00", EndTime: "09:00"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_schedule", decode[ErrorResponse](t, rec).Error)

	rec = s.do(t, http.MethodPut, "/patient/schedules/"+uuid.NewString()+"/ready", pat, map[string]any{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodPost, "/patient/schedules/"+uuid.NewString()+"/queue", pat, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "schedule_not_found", decode[ErrorResponse](t, rec).Error)

	rec = s.do(t, http.MethodGet, "/patient/invitation", pat, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Nil(t, decode[InvitationResponse](t, rec).Invitation)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{consultation.ErrScheduleNotFound, http.StatusNotFound},
		{consultation.ErrCallSessionNotFound, http.StatusNotFound},
		{consultation.ErrAlreadyStarted, http.StatusConflict},
		{consultation.ErrAlreadyQueued, http.StatusConflict},
		{consultation.ErrCallAlreadyActive, http.StatusConflict},
		{consultation.ErrPatientNotReady, http.StatusBadRequest},
		{consultation.ErrNotParticipant, http.StatusForbidden},
		{consultation.ErrScheduleBusy, http.StatusServiceUnavailable},
		{fmt.Errorf("load: %w", context.DeadlineExceeded), http.StatusInternalServerError},
		{errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.err), tt.err.Error())
	}
}
