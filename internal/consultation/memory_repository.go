package consultation

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

type scheduleRecord struct {
	Schedule
	queueSeq int
}

// MemoryRepository keeps every record in process memory behind one mutex, which
// makes each method trivially atomic. It backs the test suite and STORE_BACKEND=memory.
type MemoryRepository struct {
	mu        sync.Mutex
	schedules map[uuid.UUID]*scheduleRecord
	queue     map[uuid.UUID]map[uuid.UUID]*QueueEntry // schedule -> patient -> entry
	calls     map[uuid.UUID]*CallSession
	audit     []AuditEntry
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		schedules: make(map[uuid.UUID]*scheduleRecord),
		queue:     make(map[uuid.UUID]map[uuid.UUID]*QueueEntry),
		calls:     make(map[uuid.UUID]*CallSession),
	}
}

func cloneCall(c *CallSession) *CallSession {
	out := *c
	if c.ConfirmedAt != nil {
		t := *c.ConfirmedAt
		out.ConfirmedAt = &t
	}
	if c.EndedAt != nil {
		t := *c.EndedAt
		out.EndedAt = &t
	}
	if c.ProviderPeerID != nil {
		p := *c.ProviderPeerID
		out.ProviderPeerID = &p
	}
	if c.PatientPeerID != nil {
		p := *c.PatientPeerID
		out.PatientPeerID = &p
	}
	return &out
}

func sortSchedules(list []Schedule) {
	sort.Slice(list, func(i, j int) bool {
		if !list[i].Date.Equal(list[j].Date) {
			return list[i].Date.Before(list[j].Date)
		}
		return list[i].StartTime < list[j].StartTime
	})
}

// Schedules

func (r *MemoryRepository) CreateSchedule(ctx context.Context, s Schedule) (*Schedule, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	r.schedules[s.ID] = &scheduleRecord{Schedule: s}
	out := s
	return &out, nil
}

func (r *MemoryRepository) GetSchedule(ctx context.Context, id uuid.UUID) (*Schedule, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.schedules[id]
	if !ok {
		return nil, ErrScheduleNotFound
	}
	out := rec.Schedule
	return &out, nil
}

func (r *MemoryRepository) ListSchedulesByOwner(ctx context.Context, ownerID uuid.UUID) ([]Schedule, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []Schedule
	for _, rec := range r.schedules {
		if rec.OwnerID == ownerID {
			out = append(out, rec.Schedule)
		}
	}
	sortSchedules(out)
	return out, nil
}

func (r *MemoryRepository) ListSchedulesFrom(ctx context.Context, from time.Time) ([]Schedule, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []Schedule
	for _, rec := range r.schedules {
		if !rec.Date.Before(from) {
			out = append(out, rec.Schedule)
		}
	}
	sortSchedules(out)
	return out, nil
}

func (r *MemoryRepository) TransitionSchedule(ctx context.Context, id uuid.UUID, from []ScheduleStatus, to ScheduleStatus, at time.Time) (*Schedule, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.schedules[id]
	if !ok {
		return nil, ErrScheduleNotFound
	}
	if !containsStatus(from, rec.Status) {
		out := rec.Schedule
		return &out, ErrInvalidTransition
	}
	rec.Status = to
	rec.UpdatedAt = at
	out := rec.Schedule
	return &out, nil
}

func (r *MemoryRepository) CompleteSchedule(ctx context.Context, id uuid.UUID, at time.Time) (*Schedule, []CallSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.schedules[id]
	if !ok {
		return nil, nil, ErrScheduleNotFound
	}
	if rec.Status == ScheduleCompleted {
		out := rec.Schedule
		return &out, nil, ErrInvalidTransition
	}
	rec.Status = ScheduleCompleted
	rec.UpdatedAt = at

	var ended []CallSession
	for _, c := range r.calls {
		if c.ScheduleID != id || !c.Status.IsActive() {
			continue
		}
		endedAt := at
		c.Status = CallEnded
		c.EndedAt = &endedAt
		ended = append(ended, *cloneCall(c))
	}

	out := rec.Schedule
	return &out, ended, nil
}

// Queue

func (r *MemoryRepository) EnqueuePatient(ctx context.Context, scheduleID, patientID uuid.UUID, at time.Time) (*QueueEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.schedules[scheduleID]
	if !ok {
		return nil, ErrScheduleNotFound
	}
	entries := r.queue[scheduleID]
	if entries == nil {
		entries = make(map[uuid.UUID]*QueueEntry)
		r.queue[scheduleID] = entries
	}
	if _, exists := entries[patientID]; exists {
		return nil, ErrAlreadyQueued
	}

	rec.queueSeq++
	entry := &QueueEntry{
		ID:          uuid.New(),
		ScheduleID:  scheduleID,
		PatientID:   patientID,
		QueueNumber: rec.queueSeq,
		Status:      QueueWaiting,
		JoinedAt:    at,
		UpdatedAt:   at,
	}
	entries[patientID] = entry

	out := *entry
	return &out, nil
}

func (r *MemoryRepository) GetQueueEntry(ctx context.Context, scheduleID, patientID uuid.UUID) (*QueueEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.queue[scheduleID][patientID]
	if !ok {
		return nil, ErrNotQueued
	}
	out := *entry
	return &out, nil
}

func (r *MemoryRepository) ListQueue(ctx context.Context, scheduleID uuid.UUID) ([]QueueEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]QueueEntry, 0, len(r.queue[scheduleID]))
	for _, e := range r.queue[scheduleID] {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].QueueNumber < out[j].QueueNumber })
	return out, nil
}

func (r *MemoryRepository) CountQueue(ctx context.Context, scheduleID uuid.UUID) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.queue[scheduleID]), nil
}

func (r *MemoryRepository) SetQueueStatus(ctx context.Context, scheduleID, patientID uuid.UUID, from []QueueStatus, to QueueStatus, at time.Time) (*QueueEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.queue[scheduleID][patientID]
	if !ok {
		return nil, ErrNotQueued
	}
	if !containsStatus(from, entry.Status) {
		out := *entry
		return &out, ErrInvalidTransition
	}
	entry.Status = to
	entry.UpdatedAt = at
	out := *entry
	return &out, nil
}

// Call sessions

func (r *MemoryRepository) CreateInvitation(ctx context.Context, p InvitationParams) (*CallSession, []CallSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.schedules[p.ScheduleID]
	if !ok {
		return nil, nil, ErrScheduleNotFound
	}
	if rec.Status != ScheduleOnline {
		return nil, nil, ErrPracticeNotOnline
	}

	// Stale invitations are released before the active-call check.
	var stale []*CallSession
	for _, c := range r.calls {
		if c.ScheduleID != p.ScheduleID || !c.Status.IsActive() {
			continue
		}
		if c.Status == CallInvited && c.CreatedAt.Before(p.StaleBefore) {
			stale = append(stale, c)
			continue
		}
		return nil, nil, ErrCallAlreadyActive
	}

	entry, ok := r.queue[p.ScheduleID][p.PatientID]
	if !ok || entry.Status != QueueReady {
		return nil, nil, ErrPatientNotReady
	}

	expired := make([]CallSession, 0, len(stale))
	for _, c := range stale {
		endedAt := p.At
		c.Status = CallExpired
		c.EndedAt = &endedAt
		expired = append(expired, *cloneCall(c))
	}

	call := &CallSession{
		ID:         uuid.New(),
		ScheduleID: p.ScheduleID,
		ProviderID: p.ProviderID,
		PatientID:  p.PatientID,
		Status:     CallInvited,
		CreatedAt:  p.At,
	}
	r.calls[call.ID] = call

	return cloneCall(call), expired, nil
}

func (r *MemoryRepository) GetCallSession(ctx context.Context, id uuid.UUID) (*CallSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.calls[id]
	if !ok {
		return nil, ErrCallSessionNotFound
	}
	return cloneCall(c), nil
}

func (r *MemoryRepository) FindInvitationForPatient(ctx context.Context, patientID uuid.UUID) (*CallSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var found *CallSession
	for _, c := range r.calls {
		if c.PatientID != patientID || c.Status != CallInvited {
			continue
		}
		if found == nil || c.CreatedAt.After(found.CreatedAt) {
			found = c
		}
	}
	if found == nil {
		return nil, ErrCallSessionNotFound
	}
	return cloneCall(found), nil
}

func (r *MemoryRepository) TransitionCall(ctx context.Context, t CallTransition) (*CallSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.calls[t.ID]
	if !ok {
		return nil, ErrCallSessionNotFound
	}
	if !containsStatus(t.From, c.Status) {
		return cloneCall(c), ErrInvalidTransition
	}

	at := t.At
	c.Status = t.To
	switch {
	case t.To == CallConfirmed:
		c.ConfirmedAt = &at
	case t.To.IsTerminal():
		c.EndedAt = &at
	}

	if t.QueueTo != nil {
		if entry, ok := r.queue[c.ScheduleID][c.PatientID]; ok && containsStatus(t.QueueFrom, entry.Status) {
			entry.Status = *t.QueueTo
			entry.UpdatedAt = at
		}
	}

	return cloneCall(c), nil
}

func (r *MemoryRepository) SetPeerID(ctx context.Context, id uuid.UUID, role PeerRole, peerID string) (*CallSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.calls[id]
	if !ok {
		return nil, ErrCallSessionNotFound
	}
	switch role {
	case RoleProvider:
		c.ProviderPeerID = &peerID
	case RolePatient:
		c.PatientPeerID = &peerID
	default:
		return nil, ErrInvalidPeer
	}
	return cloneCall(c), nil
}

func (r *MemoryRepository) ExpireStaleInvitations(ctx context.Context, before, at time.Time) ([]CallSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var expired []CallSession
	for _, c := range r.calls {
		if c.Status != CallInvited || !c.CreatedAt.Before(before) {
			continue
		}
		endedAt := at
		c.Status = CallExpired
		c.EndedAt = &endedAt
		expired = append(expired, *cloneCall(c))
	}
	return expired, nil
}

// Audit

func (r *MemoryRepository) InsertAudit(ctx context.Context, e AuditEntry) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	e.ID = int64(len(r.audit) + 1)
	r.audit = append(r.audit, e)
	return nil
}

// AuditEntries returns a copy of the recorded audit log in insertion order.
func (r *MemoryRepository) AuditEntries() []AuditEntry {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]AuditEntry, len(r.audit))
	copy(out, r.audit)
	return out
}

// ActiveCalls returns the sessions currently holding the schedule's call slot.
func (r *MemoryRepository) ActiveCalls(scheduleID uuid.UUID) []CallSession {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []CallSession
	for _, c := range r.calls {
		if c.ScheduleID == scheduleID && c.Status.IsActive() {
			out = append(out, *cloneCall(c))
		}
	}
	return out
}
