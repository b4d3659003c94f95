package consultation

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateSchedule(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	providerID := uuid.New()

	s, err := f.coord.CreateSchedule(ctx, providerID, "2026-03-05", "14:00", "16:30")
	require.NoError(t, err)
	assert.Equal(t, ScheduleUpcoming, s.Status)
	assert.Equal(t, providerID, s.OwnerID)
	assert.Equal(t, "2026-03-05", s.DateString())
	assert.Equal(t, "14:00", s.StartTime)
	assert.Equal(t, "16:30", s.EndTime)

	invalid := []struct {
		date, start, end string
	}{
		{"05/03/2026", "14:00", "16:00"},
		{"2026-03-05", "2pm", "16:00"},
		{"2026-03-05", "14:00", "25:00"},
		{"2026-03-05", "16:00", "14:00"},
		{"2026-03-05", "14:00", "14:00"},
	}
	for _, tc := range invalid {
		_, err := f.coord.CreateSchedule(ctx, providerID, tc.date, tc.start, tc.end)
		assert.ErrorIs(t, err, ErrInvalidSchedule, "%s %s-%s", tc.date, tc.start, tc.end)
	}
}

func TestStartPractice(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	providerID := uuid.New()
	s := f.schedule(t, providerID)

	_, err := f.coord.StartPractice(ctx, s.ID, uuid.New())
	assert.ErrorIs(t, err, ErrScheduleNotFound)

	started, err := f.coord.StartPractice(ctx, s.ID, providerID)
	require.NoError(t, err)
	assert.Equal(t, ScheduleOnline, started.Status)

	_, err = f.coord.StartPractice(ctx, s.ID, providerID)
	assert.ErrorIs(t, err, ErrAlreadyStarted)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	_, err = f.coord.EndPractice(ctx, s.ID, providerID)
	require.NoError(t, err)

	_, err = f.coord.StartPractice(ctx, s.ID, providerID)
	assert.ErrorIs(t, err, ErrAlreadyCompleted)

	events := f.notifier.on(ScheduleChannel(s.ID))
	require.Len(t, events, 2)
	assert.Equal(t, ScheduleStatusPayload{ScheduleID: s.ID, OwnerID: providerID, Status: ScheduleOnline}, events[0].Payload)
	assert.Equal(t, ScheduleStatusPayload{ScheduleID: s.ID, OwnerID: providerID, Status: ScheduleCompleted}, events[1].Payload)
}

func TestEndPracticeEndsActiveCall(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s, providerID := f.onlineSchedule(t)
	patientID := f.readyPatient(t, s.ID)

	call, err := f.coord.Invite(ctx, s.ID, providerID, patientID)
	require.NoError(t, err)
	_, err = f.coord.Confirm(ctx, call.ID, patientID)
	require.NoError(t, err)

	_, err = f.coord.EndPractice(ctx, s.ID, uuid.New())
	assert.ErrorIs(t, err, ErrScheduleNotFound)

	completed, err := f.coord.EndPractice(ctx, s.ID, providerID)
	require.NoError(t, err)
	assert.Equal(t, ScheduleCompleted, completed.Status)

	ended, err := f.repo.GetCallSession(ctx, call.ID)
	require.NoError(t, err)
	assert.Equal(t, CallEnded, ended.Status)
	assert.NotNil(t, ended.EndedAt)
	assert.Empty(t, f.repo.ActiveCalls(s.ID))

	// the queue entry is left as it was
	assert.Equal(t, QueueInCall, f.queueEntry(t, s.ID, patientID).Status)

	callEvents := f.notifier.on(CallChannel(call.ID))
	require.Len(t, callEvents, 1)
	assert.Equal(t, CallEndedPayload{CallSessionID: call.ID, EndedBy: RoleSystem}, callEvents[0].Payload)

	_, err = f.coord.EndPractice(ctx, s.ID, providerID)
	assert.ErrorIs(t, err, ErrAlreadyCompleted)

	_, err = f.coord.Invite(ctx, s.ID, providerID, f.readyPatient(t, s.ID))
	assert.ErrorIs(t, err, ErrPracticeNotOnline)
}

func TestEndPracticeFromUpcoming(t *testing.T) {
	f := newFixture(t)
	providerID := uuid.New()
	s := f.schedule(t, providerID)

	completed, err := f.coord.EndPractice(context.Background(), s.ID, providerID)
	require.NoError(t, err)
	assert.Equal(t, ScheduleCompleted, completed.Status)
}

func TestListSchedules(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	providerID := uuid.New()

	later, err := f.coord.CreateSchedule(ctx, providerID, "2026-03-04", "09:00", "10:00")
	require.NoError(t, err)
	afternoon, err := f.coord.CreateSchedule(ctx, providerID, "2026-03-02", "14:00", "15:00")
	require.NoError(t, err)
	morning, err := f.coord.CreateSchedule(ctx, providerID, "2026-03-02", "08:00", "09:00")
	require.NoError(t, err)
	past, err := f.coord.CreateSchedule(ctx, providerID, "2026-03-01", "08:00", "09:00")
	require.NoError(t, err)
	other, err := f.coord.CreateSchedule(ctx, uuid.New(), "2026-03-03", "08:00", "09:00")
	require.NoError(t, err)

	own, err := f.coord.ListProviderSchedules(ctx, providerID)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{past.ID, morning.ID, afternoon.ID, later.ID}, scheduleIDs(own))

	available, err := f.coord.ListAvailableSchedules(ctx)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{morning.ID, afternoon.ID, other.ID, later.ID}, scheduleIDs(available))

	none, err := f.coord.ListProviderSchedules(ctx, uuid.New())
	require.NoError(t, err)
	assert.NotNil(t, none)
	assert.Empty(t, none)
}

func scheduleIDs(list []Schedule) []uuid.UUID {
	out := make([]uuid.UUID, len(list))
	for i, s := range list {
		out[i] = s.ID
	}
	return out
}

func TestStartPracticeStampsCoordinatorClock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	providerID := uuid.New()
	s := f.schedule(t, providerID)

	f.clock.Advance(90 * time.Minute)

	started, err := f.coord.StartPractice(ctx, s.ID, providerID)
	require.NoError(t, err)
	assert.Equal(t, f.clock.Now(), started.UpdatedAt)
	assert.Equal(t, s.CreatedAt, started.CreatedAt)

	stored, err := f.repo.GetSchedule(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, f.clock.Now(), stored.UpdatedAt)
}

func TestListProviderSchedulesIsUnbounded(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	providerID := uuid.New()

	const total = 120
	for i := 0; i < total; i++ {
		_, err := f.coord.CreateSchedule(ctx, providerID, "2026-03-02", "09:00", "10:00")
		require.NoError(t, err)
	}

	own, err := f.coord.ListProviderSchedules(ctx, providerID)
	require.NoError(t, err)
	assert.Len(t, own, total)
}
