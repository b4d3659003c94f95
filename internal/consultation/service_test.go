package consultation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	redisclient "github.com/hackgods/consultation-queue/internal/redis"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type publishedEvent struct {
	Channel string
	Event   string
	Payload any
}

type recordingNotifier struct {
	mu        sync.Mutex
	events    []publishedEvent
	err       error
	onPublish func(publishedEvent)
}

func (n *recordingNotifier) Publish(ctx context.Context, channel, event string, payload any) error {
	ev := publishedEvent{Channel: channel, Event: event, Payload: payload}

	n.mu.Lock()
	n.events = append(n.events, ev)
	hook, err := n.onPublish, n.err
	n.mu.Unlock()

	if hook != nil {
		hook(ev)
	}
	return err
}

func (n *recordingNotifier) on(channel string) []publishedEvent {
	n.mu.Lock()
	defer n.mu.Unlock()

	var out []publishedEvent
	for _, ev := range n.events {
		if ev.Channel == channel {
			out = append(out, ev)
		}
	}
	return out
}

func (n *recordingNotifier) names(channel string) []string {
	var out []string
	for _, ev := range n.on(channel) {
		out = append(out, ev.Event)
	}
	return out
}

type busyLocker struct{}

func (busyLocker) WithScheduleLock(ctx context.Context, scheduleID uuid.UUID, fn func(ctx context.Context) error) error {
	return redisclient.ErrLockNotAcquired
}

type fixture struct {
	repo     *MemoryRepository
	notifier *recordingNotifier
	clock    *fakeClock
	coord    *Coordinator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		repo:     NewMemoryRepository(),
		notifier: &recordingNotifier{},
		clock:    &fakeClock{now: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)},
	}
	f.coord = NewCoordinator(
		f.repo,
		redisclient.NewLocalScheduleLocker(2*time.Second),
		f.notifier,
		zaptest.NewLogger(t),
		WithClock(f.clock.Now),
	)
	return f
}

func (f *fixture) schedule(t *testing.T, providerID uuid.UUID) *Schedule {
	t.Helper()

	s, err := f.coord.CreateSchedule(context.Background(), providerID, "2026-03-02", "09:00", "12:00")
	require.NoError(t, err)
	return s
}

// onlineSchedule creates and starts a schedule owned by a new provider.
func (f *fixture) onlineSchedule(t *testing.T) (*Schedule, uuid.UUID) {
	t.Helper()

	providerID := uuid.New()
	s := f.schedule(t, providerID)
	started, err := f.coord.StartPractice(context.Background(), s.ID, providerID)
	require.NoError(t, err)
	return started, providerID
}

// readyPatient joins a new patient to the schedule and marks them ready.
func (f *fixture) readyPatient(t *testing.T, scheduleID uuid.UUID) uuid.UUID {
	t.Helper()

	patientID := uuid.New()
	_, err := f.coord.Join(context.Background(), scheduleID, patientID)
	require.NoError(t, err)
	_, err = f.coord.SetReady(context.Background(), scheduleID, patientID, true)
	require.NoError(t, err)
	return patientID
}

func (f *fixture) queueEntry(t *testing.T, scheduleID, patientID uuid.UUID) *QueueEntry {
	t.Helper()

	entry, err := f.repo.GetQueueEntry(context.Background(), scheduleID, patientID)
	require.NoError(t, err)
	return entry
}

func TestErrorMatching(t *testing.T) {
	err := invalidTransition("confirm", CallEnded)

	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.ErrorIs(t, ErrAlreadyStarted, ErrInvalidTransition)
	assert.NotErrorIs(t, ErrPatientNotReady, ErrInvalidTransition)
	assert.NotErrorIs(t, ErrInvalidTransition, ErrAlreadyStarted)
	assert.Contains(t, err.Error(), "ENDED")

	assert.Equal(t, KindPreconditionFailed, KindOf(ErrCallAlreadyActive))
	assert.Equal(t, Kind(""), KindOf(errors.New("boom")))
	assert.Equal(t, "internal_error", CodeOf(errors.New("boom")))
	assert.Equal(t, "schedule_busy", CodeOf(ErrScheduleBusy))
}

func TestWrapStoreKeepsCoordinatorErrors(t *testing.T) {
	assert.Same(t, ErrNotQueued, wrapStore("load", ErrNotQueued))

	wrapped := wrapStore("load", context.DeadlineExceeded)
	assert.ErrorIs(t, wrapped, context.DeadlineExceeded)
	assert.Equal(t, "load: context deadline exceeded", wrapped.Error())
}

func TestLockContentionReturnsScheduleBusy(t *testing.T) {
	f := newFixture(t)
	s := f.schedule(t, uuid.New())

	busy := NewCoordinator(f.repo, busyLocker{}, f.notifier, zaptest.NewLogger(t))

	_, err := busy.Join(context.Background(), s.ID, uuid.New())
	require.ErrorIs(t, err, ErrScheduleBusy)
	assert.Equal(t, KindUnavailable, KindOf(err))

	count, err := f.repo.CountQueue(context.Background(), s.ID)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestNotifierFailureDoesNotFailOperation(t *testing.T) {
	f := newFixture(t)
	f.notifier.err = errors.New("hub offline")

	s, providerID := f.onlineSchedule(t)
	patientID := f.readyPatient(t, s.ID)

	call, err := f.coord.Invite(context.Background(), s.ID, providerID, patientID)
	require.NoError(t, err)
	assert.Equal(t, CallInvited, call.Status)

	stored, err := f.repo.GetCallSession(context.Background(), call.ID)
	require.NoError(t, err)
	assert.Equal(t, CallInvited, stored.Status)
}

func TestNotificationsFollowCommit(t *testing.T) {
	f := newFixture(t)
	s, providerID := f.onlineSchedule(t)
	patientID := f.readyPatient(t, s.ID)

	var seen []CallStatus
	f.notifier.onPublish = func(ev publishedEvent) {
		var id uuid.UUID
		switch p := ev.Payload.(type) {
		case CallInvitationPayload:
			id = p.CallSessionID
		case CallPatientPayload:
			id = p.CallSessionID
		default:
			return
		}
		stored, err := f.repo.GetCallSession(context.Background(), id)
		if assert.NoError(t, err) {
			seen = append(seen, stored.Status)
		}
	}

	call, err := f.coord.Invite(context.Background(), s.ID, providerID, patientID)
	require.NoError(t, err)
	_, err = f.coord.Confirm(context.Background(), call.ID, patientID)
	require.NoError(t, err)

	assert.Equal(t, []CallStatus{CallInvited, CallConfirmed}, seen)
}

func TestAuditTrail(t *testing.T) {
	f := newFixture(t)
	s, providerID := f.onlineSchedule(t)
	patientID := f.readyPatient(t, s.ID)

	call, err := f.coord.Invite(context.Background(), s.ID, providerID, patientID)
	require.NoError(t, err)
	_, err = f.coord.Confirm(context.Background(), call.ID, patientID)
	require.NoError(t, err)
	_, err = f.coord.EndCall(context.Background(), call.ID, providerID)
	require.NoError(t, err)

	var actions []string
	for _, e := range f.repo.AuditEntries() {
		actions = append(actions, e.ActionType)
	}
	assert.Equal(t, []string{
		ActionScheduleCreated,
		ActionPracticeStarted,
		ActionQueueJoined,
		ActionReadyToggled,
		ActionCallInvited,
		ActionCallConfirmed,
		ActionCallEnded,
	}, actions)

	last := f.repo.AuditEntries()[6]
	assert.Equal(t, providerID, last.ActorID)
	require.NotNil(t, last.CallSessionID)
	assert.Equal(t, call.ID, *last.CallSessionID)
	assert.JSONEq(t, `{"endedBy":"provider"}`, string(last.Metadata))
}
