package consultation

import (
	"errors"
	"fmt"
)

// Kind classifies coordinator errors for the calling layer.
type Kind string

const (
	KindNotFound           Kind = "NOT_FOUND"
	KindInvalidTransition  Kind = "INVALID_TRANSITION"
	KindPreconditionFailed Kind = "PRECONDITION_FAILED"
	KindUnauthorized       Kind = "UNAUTHORIZED"
	KindUnavailable        Kind = "UNAVAILABLE"
)

// Error is returned for every rejected coordinator operation.
// Two errors match under errors.Is when their codes match, so a message that
// carries the current status still matches its sentinel. Every InvalidTransition
// error also matches ErrInvalidTransition.
type Error struct {
	Kind    Kind
	Code    string
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	if t.Code == ErrInvalidTransition.Code {
		return e.Kind == KindInvalidTransition
	}
	return e.Code == t.Code
}

func newError(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

var (
	ErrScheduleNotFound    = newError(KindNotFound, "schedule_not_found", "schedule not found")
	ErrNotQueued           = newError(KindNotFound, "not_queued", "not in queue")
	ErrCallSessionNotFound = newError(KindNotFound, "call_session_not_found", "call session not found")

	ErrInvalidTransition = newError(KindInvalidTransition, "invalid_transition", "invalid status transition")
	ErrAlreadyStarted    = newError(KindInvalidTransition, "already_started", "practice already started")
	ErrAlreadyCompleted  = newError(KindInvalidTransition, "already_completed", "practice already completed")
	ErrTerminalState     = newError(KindInvalidTransition, "terminal_state", "consultation already completed")
	ErrInCallState       = newError(KindInvalidTransition, "in_call", "currently in call")

	ErrAlreadyQueued     = newError(KindPreconditionFailed, "already_queued", "already in queue")
	ErrPracticeNotOnline = newError(KindPreconditionFailed, "practice_not_online", "practice not online")
	ErrPatientNotReady   = newError(KindPreconditionFailed, "patient_not_ready", "patient is not ready")
	ErrCallAlreadyActive = newError(KindPreconditionFailed, "call_already_active", "another call is already active")
	ErrInvalidSchedule   = newError(KindPreconditionFailed, "invalid_schedule", "invalid schedule window")
	ErrInvalidPeer       = newError(KindPreconditionFailed, "invalid_peer", "invalid peer identifier")

	ErrNotParticipant = newError(KindUnauthorized, "not_participant", "not a participant of this call")

	ErrScheduleBusy = newError(KindUnavailable, "schedule_busy", "schedule is busy, please retry")
)

// invalidTransition reports a rejected status change, naming the current status.
func invalidTransition(action string, current any) *Error {
	return newError(KindInvalidTransition, ErrInvalidTransition.Code,
		fmt.Sprintf("cannot %s call in status: %s", action, current))
}

// KindOf returns the kind of a coordinator error, or "" for infrastructure errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// CodeOf returns the machine code of a coordinator error, or "internal_error".
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return "internal_error"
}
