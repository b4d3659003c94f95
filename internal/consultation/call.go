package consultation

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

func queueStatus(s QueueStatus) *QueueStatus { return &s }

// Invite creates an INVITED call session for a READY patient. Stale
// invitations are expired first so they cannot hold the call slot.
func (c *Coordinator) Invite(ctx context.Context, scheduleID, providerID, patientID uuid.UUID) (_ *CallSession, err error) {
	defer func() { observe("invite", err) }()

	if _, err := c.ownedSchedule(ctx, scheduleID, providerID); err != nil {
		return nil, err
	}

	var (
		call    *CallSession
		expired []CallSession
	)
	err = c.withScheduleLock(ctx, scheduleID, func(lockCtx context.Context) error {
		now := c.clock()
		created, swept, err := c.repo.CreateInvitation(lockCtx, InvitationParams{
			ScheduleID:  scheduleID,
			ProviderID:  providerID,
			PatientID:   patientID,
			At:          now,
			StaleBefore: now.Add(-StaleInvitationAfter),
		})
		if err != nil {
			return wrapStore("create invitation", err)
		}
		call, expired = created, swept
		return nil
	})
	if err != nil {
		return nil, err
	}

	c.announceExpired(ctx, expired)

	c.audit(ctx, callAudit(providerID, ActionCallInvited, call, nil))
	c.publish(ctx, UserChannel(patientID), EventCallInvitation, CallInvitationPayload{
		CallSessionID: call.ID,
		ScheduleID:    scheduleID,
		ProviderID:    providerID,
		PatientID:     patientID,
		CreatedAt:     call.CreatedAt.Format(time.RFC3339),
	})
	c.publish(ctx, ScheduleChannel(scheduleID), EventQueueUpdated, QueueUpdatedPayload{ScheduleID: scheduleID})

	c.logger.Info("call invitation created",
		zap.String("schedule_id", scheduleID.String()),
		zap.String("call_session_id", call.ID.String()),
		zap.String("patient_id", patientID.String()),
		zap.Int("expired", len(expired)),
	)

	return call, nil
}

// Confirm accepts an invitation and moves the patient's queue entry IN_CALL.
func (c *Coordinator) Confirm(ctx context.Context, callSessionID, patientID uuid.UUID) (_ *CallSession, err error) {
	defer func() { observe("confirm", err) }()

	call, err := c.transitionAs(ctx, callSessionID, patientID, RolePatient, "confirm", CallTransition{
		From:      []CallStatus{CallInvited},
		To:        CallConfirmed,
		QueueFrom: []QueueStatus{QueueWaiting, QueueReady},
		QueueTo:   queueStatus(QueueInCall),
	})
	if err != nil {
		return nil, err
	}

	c.audit(ctx, callAudit(patientID, ActionCallConfirmed, call, nil))
	c.publish(ctx, UserChannel(call.ProviderID), EventCallConfirmed, CallPatientPayload{
		CallSessionID: call.ID,
		PatientID:     call.PatientID,
	})
	c.publish(ctx, ScheduleChannel(call.ScheduleID), EventQueueUpdated, QueueUpdatedPayload{ScheduleID: call.ScheduleID})

	return call, nil
}

// Decline rejects an invitation. The patient goes back to WAITING and must
// signal readiness again.
func (c *Coordinator) Decline(ctx context.Context, callSessionID, patientID uuid.UUID) (_ *CallSession, err error) {
	defer func() { observe("decline", err) }()

	call, err := c.transitionAs(ctx, callSessionID, patientID, RolePatient, "decline", CallTransition{
		From:      []CallStatus{CallInvited},
		To:        CallDeclined,
		QueueFrom: []QueueStatus{QueueWaiting, QueueReady, QueueInCall},
		QueueTo:   queueStatus(QueueWaiting),
	})
	if err != nil {
		return nil, err
	}

	c.audit(ctx, callAudit(patientID, ActionCallDeclined, call, nil))
	c.publish(ctx, UserChannel(call.ProviderID), EventCallDeclined, CallPatientPayload{
		CallSessionID: call.ID,
		PatientID:     call.PatientID,
	})
	c.publish(ctx, ScheduleChannel(call.ScheduleID), EventQueueUpdated, QueueUpdatedPayload{ScheduleID: call.ScheduleID})

	return call, nil
}

// Activate marks a confirmed call ACTIVE once the media channel is up.
// Either party may call it.
func (c *Coordinator) Activate(ctx context.Context, callSessionID, actorID uuid.UUID) (_ *CallSession, err error) {
	defer func() { observe("activate", err) }()

	current, err := c.participantCall(ctx, callSessionID, actorID)
	if err != nil {
		return nil, err
	}

	call, err := c.applyTransition(ctx, current, "activate", CallTransition{
		From: []CallStatus{CallConfirmed},
		To:   CallActive,
	})
	if err != nil {
		return nil, err
	}

	c.audit(ctx, callAudit(actorID, ActionCallActivated, call, nil))
	c.publish(ctx, CallChannel(call.ID), EventCallActivated, CallPayload{CallSessionID: call.ID})

	return call, nil
}

// SetPeerID stores the caller's opaque media endpoint identifier for its role.
func (c *Coordinator) SetPeerID(ctx context.Context, callSessionID, actorID uuid.UUID, role PeerRole, peerID string) (_ *CallSession, err error) {
	defer func() { observe("set_peer_id", err) }()

	peerID = strings.TrimSpace(peerID)
	if !role.Valid() || peerID == "" {
		return nil, ErrInvalidPeer
	}

	if _, err := c.callAs(ctx, callSessionID, actorID, role); err != nil {
		return nil, err
	}

	call, err := c.repo.SetPeerID(ctx, callSessionID, role, peerID)
	if err != nil {
		return nil, wrapStore("set peer id", err)
	}

	c.audit(ctx, callAudit(actorID, ActionPeerIDSet, call, map[string]any{"role": role}))
	c.publish(ctx, CallChannel(call.ID), EventPeerIDUpdated, PeerIDPayload{
		CallSessionID: call.ID,
		Role:          role,
		PeerID:        peerID,
	})

	return call, nil
}

// EndCall finishes a non-terminal call and marks the patient's queue entry DONE.
// Either party may end the call; the event carries which one did.
func (c *Coordinator) EndCall(ctx context.Context, callSessionID, actorID uuid.UUID) (_ *CallSession, err error) {
	defer func() { observe("end_call", err) }()

	current, err := c.repo.GetCallSession(ctx, callSessionID)
	if err != nil {
		return nil, wrapStore("load call session", err)
	}
	role, ok := current.RoleOf(actorID)
	if !ok {
		return nil, ErrCallSessionNotFound
	}

	call, err := c.applyTransition(ctx, current, "end", CallTransition{
		From:      ActiveCallStatuses,
		To:        CallEnded,
		QueueFrom: []QueueStatus{QueueWaiting, QueueReady, QueueInCall},
		QueueTo:   queueStatus(QueueDone),
	})
	if err != nil {
		return nil, err
	}

	c.audit(ctx, callAudit(actorID, ActionCallEnded, call, map[string]any{"endedBy": role}))
	c.publish(ctx, CallChannel(call.ID), EventCallEnded, CallEndedPayload{
		CallSessionID: call.ID,
		EndedBy:       role,
	})
	c.publish(ctx, ScheduleChannel(call.ScheduleID), EventQueueUpdated, QueueUpdatedPayload{ScheduleID: call.ScheduleID})

	return call, nil
}

// CallSession returns the session to either party.
func (c *Coordinator) CallSession(ctx context.Context, callSessionID, actorID uuid.UUID) (*CallSession, error) {
	return c.participantCall(ctx, callSessionID, actorID)
}

// PendingInvitation returns the patient's newest session still in INVITED.
// A stale invitation stays visible here until a sweep expires it.
func (c *Coordinator) PendingInvitation(ctx context.Context, patientID uuid.UUID) (*CallSession, error) {
	call, err := c.repo.FindInvitationForPatient(ctx, patientID)
	if err != nil {
		return nil, wrapStore("find invitation", err)
	}
	return call, nil
}

// ExpireStaleInvitations sweeps stale invitations across every schedule.
// The API path does the same sweep lazily inside Invite.
func (c *Coordinator) ExpireStaleInvitations(ctx context.Context) (_ int, err error) {
	defer func() { observe("expire_invitations", err) }()

	now := c.clock()
	expired, err := c.repo.ExpireStaleInvitations(ctx, now.Add(-StaleInvitationAfter), now)
	if err != nil {
		return 0, wrapStore("expire stale invitations", err)
	}

	c.announceExpired(ctx, expired)

	return len(expired), nil
}

func (c *Coordinator) announceExpired(ctx context.Context, expired []CallSession) {
	schedules := make(map[uuid.UUID]struct{})
	for i := range expired {
		call := &expired[i]
		c.audit(ctx, callAudit(uuid.Nil, ActionCallExpired, call, map[string]any{"endedBy": RoleSystem}))
		c.publish(ctx, CallChannel(call.ID), EventCallExpired, CallPayload{CallSessionID: call.ID})
		schedules[call.ScheduleID] = struct{}{}

		c.logger.Info("call invitation expired",
			zap.String("schedule_id", call.ScheduleID.String()),
			zap.String("call_session_id", call.ID.String()),
		)
	}
	for scheduleID := range schedules {
		c.publish(ctx, ScheduleChannel(scheduleID), EventQueueUpdated, QueueUpdatedPayload{ScheduleID: scheduleID})
	}
}

// participantCall loads a session that the actor is a party to.
func (c *Coordinator) participantCall(ctx context.Context, callSessionID, actorID uuid.UUID) (*CallSession, error) {
	call, err := c.repo.GetCallSession(ctx, callSessionID)
	if err != nil {
		return nil, wrapStore("load call session", err)
	}
	if _, ok := call.RoleOf(actorID); !ok {
		return nil, ErrNotParticipant
	}
	return call, nil
}

// callAs loads a session that the actor holds in the given role. Anyone else
// gets NotFound so the session's existence is not revealed.
func (c *Coordinator) callAs(ctx context.Context, callSessionID, actorID uuid.UUID, role PeerRole) (*CallSession, error) {
	call, err := c.repo.GetCallSession(ctx, callSessionID)
	if err != nil {
		return nil, wrapStore("load call session", err)
	}

	owner := call.PatientID
	if role == RoleProvider {
		owner = call.ProviderID
	}
	if owner != actorID {
		return nil, ErrCallSessionNotFound
	}
	return call, nil
}

func (c *Coordinator) transitionAs(ctx context.Context, callSessionID, actorID uuid.UUID, role PeerRole, action string, t CallTransition) (*CallSession, error) {
	current, err := c.callAs(ctx, callSessionID, actorID, role)
	if err != nil {
		return nil, err
	}
	return c.applyTransition(ctx, current, action, t)
}

// applyTransition runs a conditional status change. A rejected change reports
// the status the session was actually in.
func (c *Coordinator) applyTransition(ctx context.Context, current *CallSession, action string, t CallTransition) (*CallSession, error) {
	if !containsStatus(t.From, current.Status) {
		return nil, invalidTransition(action, current.Status)
	}

	t.ID = current.ID
	t.At = c.clock()

	updated, err := c.repo.TransitionCall(ctx, t)
	if err != nil {
		if errors.Is(err, ErrInvalidTransition) && updated != nil {
			return nil, invalidTransition(action, updated.Status)
		}
		return nil, wrapStore(action+" call", err)
	}
	return updated, nil
}
