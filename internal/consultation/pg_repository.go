package consultation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	uniqueViolation = "23505"

	constraintOneActiveCall   = "one_active_call_per_schedule"
	constraintSchedulePatient = "queue_entries_schedule_patient_key"
)

const (
	scheduleColumns = `id, owner_id, date, start_time, end_time, status, created_at, updated_at`
	queueColumns    = `id, schedule_id, patient_id, queue_number, status, joined_at, updated_at`
	callColumns     = `id, schedule_id, provider_id, patient_id, status, created_at, confirmed_at, ended_at, provider_peer_id, patient_peer_id`
)

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

// Helpers

func scanSchedule(row pgx.Row) (*Schedule, error) {
	var s Schedule

	err := row.Scan(
		&s.ID,
		&s.OwnerID,
		&s.Date,
		&s.StartTime,
		&s.EndTime,
		&s.Status,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrScheduleNotFound
		}
		return nil, err
	}

	return &s, nil
}

func scanQueueEntry(row pgx.Row) (*QueueEntry, error) {
	var e QueueEntry

	err := row.Scan(
		&e.ID,
		&e.ScheduleID,
		&e.PatientID,
		&e.QueueNumber,
		&e.Status,
		&e.JoinedAt,
		&e.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotQueued
		}
		return nil, err
	}

	return &e, nil
}

func scanCallSession(row pgx.Row) (*CallSession, error) {
	var c CallSession

	err := row.Scan(
		&c.ID,
		&c.ScheduleID,
		&c.ProviderID,
		&c.PatientID,
		&c.Status,
		&c.CreatedAt,
		&c.ConfirmedAt,
		&c.EndedAt,
		&c.ProviderPeerID,
		&c.PatientPeerID,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrCallSessionNotFound
		}
		return nil, err
	}

	return &c, nil
}

func collectSchedules(rows pgx.Rows) ([]Schedule, error) {
	defer rows.Close()

	var result []Schedule
	for rows.Next() {
		s, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func collectCallSessions(rows pgx.Rows) ([]CallSession, error) {
	defer rows.Close()

	var result []CallSession
	for rows.Next() {
		c, err := scanCallSession(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func isUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == uniqueViolation && pgErr.ConstraintName == constraint
}

func statusStrings[S ~string](set []S) []string {
	out := make([]string, len(set))
	for i, s := range set {
		out[i] = string(s)
	}
	return out
}

func activeStatusStrings() []string {
	return statusStrings(ActiveCallStatuses)
}

// withTx runs fn inside a transaction and commits when fn returns nil.
func (r *PgRepository) withTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// Schedules

func (r *PgRepository) CreateSchedule(ctx context.Context, s Schedule) (*Schedule, error) {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}

	row := r.pool.QueryRow(ctx, `
		INSERT INTO schedules (id, owner_id, date, start_time, end_time, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
		RETURNING `+scheduleColumns,
		s.ID, s.OwnerID, s.Date, s.StartTime, s.EndTime, s.Status, s.CreatedAt)

	return scanSchedule(row)
}

func (r *PgRepository) GetSchedule(ctx context.Context, id uuid.UUID) (*Schedule, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+scheduleColumns+`
		FROM schedules
		WHERE id = $1
	`, id)
	return scanSchedule(row)
}

func (r *PgRepository) ListSchedulesByOwner(ctx context.Context, ownerID uuid.UUID) ([]Schedule, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+scheduleColumns+`
		FROM schedules
		WHERE owner_id = $1
		ORDER BY date, start_time
	`, ownerID)
	if err != nil {
		return nil, err
	}
	return collectSchedules(rows)
}

func (r *PgRepository) ListSchedulesFrom(ctx context.Context, from time.Time) ([]Schedule, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+scheduleColumns+`
		FROM schedules
		WHERE date >= $1
		ORDER BY date, start_time
	`, from)
	if err != nil {
		return nil, err
	}
	return collectSchedules(rows)
}

func (r *PgRepository) TransitionSchedule(ctx context.Context, id uuid.UUID, from []ScheduleStatus, to ScheduleStatus, at time.Time) (*Schedule, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE schedules
		SET status = $2,
		    updated_at = $4
		WHERE id = $1
		  AND status = ANY($3)
		RETURNING `+scheduleColumns,
		id, to, statusStrings(from), at)

	s, err := scanSchedule(row)
	if errors.Is(err, ErrScheduleNotFound) {
		current, getErr := r.GetSchedule(ctx, id)
		if getErr != nil {
			return nil, getErr
		}
		return current, ErrInvalidTransition
	}
	return s, err
}

func (r *PgRepository) CompleteSchedule(ctx context.Context, id uuid.UUID, at time.Time) (*Schedule, []CallSession, error) {
	var (
		completed *Schedule
		ended     []CallSession
	)

	err := r.withTx(ctx, func(tx pgx.Tx) error {
		current, err := scanSchedule(tx.QueryRow(ctx, `
			SELECT `+scheduleColumns+`
			FROM schedules
			WHERE id = $1
			FOR UPDATE
		`, id))
		if err != nil {
			return err
		}
		if current.Status == ScheduleCompleted {
			completed = current
			return ErrInvalidTransition
		}

		completed, err = scanSchedule(tx.QueryRow(ctx, `
			UPDATE schedules
			SET status = $2,
			    updated_at = $3
			WHERE id = $1
			RETURNING `+scheduleColumns,
			id, ScheduleCompleted, at))
		if err != nil {
			return fmt.Errorf("complete schedule: %w", err)
		}

		rows, err := tx.Query(ctx, `
			UPDATE call_sessions
			SET status = $3,
			    ended_at = $4
			WHERE schedule_id = $1
			  AND status = ANY($2)
			RETURNING `+callColumns,
			id, activeStatusStrings(), CallEnded, at)
		if err != nil {
			return fmt.Errorf("end active calls: %w", err)
		}
		ended, err = collectCallSessions(rows)
		return err
	})
	if err != nil {
		if errors.Is(err, ErrInvalidTransition) {
			return completed, nil, err
		}
		return nil, nil, err
	}

	return completed, ended, nil
}

// Queue

// EnqueuePatient bumps the schedule's queue counter and inserts the entry in one
// transaction. The counter row lock serialises concurrent joins and a rejected
// insert rolls the counter back, so numbers stay gapless.
func (r *PgRepository) EnqueuePatient(ctx context.Context, scheduleID, patientID uuid.UUID, at time.Time) (*QueueEntry, error) {
	var entry *QueueEntry

	err := r.withTx(ctx, func(tx pgx.Tx) error {
		var seq int
		err := tx.QueryRow(ctx, `
			UPDATE schedules
			SET queue_seq = queue_seq + 1
			WHERE id = $1
			RETURNING queue_seq
		`, scheduleID).Scan(&seq)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrScheduleNotFound
			}
			return fmt.Errorf("next queue number: %w", err)
		}

		entry, err = scanQueueEntry(tx.QueryRow(ctx, `
			INSERT INTO queue_entries (id, schedule_id, patient_id, queue_number, status, joined_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $6)
			RETURNING `+queueColumns,
			uuid.New(), scheduleID, patientID, seq, QueueWaiting, at))
		if err != nil {
			if isUniqueViolation(err, constraintSchedulePatient) {
				return ErrAlreadyQueued
			}
			return fmt.Errorf("insert queue entry: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return entry, nil
}

func (r *PgRepository) GetQueueEntry(ctx context.Context, scheduleID, patientID uuid.UUID) (*QueueEntry, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+queueColumns+`
		FROM queue_entries
		WHERE schedule_id = $1
		  AND patient_id = $2
	`, scheduleID, patientID)
	return scanQueueEntry(row)
}

func (r *PgRepository) ListQueue(ctx context.Context, scheduleID uuid.UUID) ([]QueueEntry, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+queueColumns+`
		FROM queue_entries
		WHERE schedule_id = $1
		ORDER BY queue_number
	`, scheduleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := []QueueEntry{}
	for rows.Next() {
		e, err := scanQueueEntry(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func (r *PgRepository) CountQueue(ctx context.Context, scheduleID uuid.UUID) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, `
		SELECT count(*)
		FROM queue_entries
		WHERE schedule_id = $1
	`, scheduleID).Scan(&n)
	if err != nil {
		return 0, err
	}
	return n, nil
}

func (r *PgRepository) SetQueueStatus(ctx context.Context, scheduleID, patientID uuid.UUID, from []QueueStatus, to QueueStatus, at time.Time) (*QueueEntry, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE queue_entries
		SET status = $3,
		    updated_at = $4
		WHERE schedule_id = $1
		  AND patient_id = $2
		  AND status = ANY($5)
		RETURNING `+queueColumns,
		scheduleID, patientID, to, at, statusStrings(from))

	e, err := scanQueueEntry(row)
	if errors.Is(err, ErrNotQueued) {
		current, getErr := r.GetQueueEntry(ctx, scheduleID, patientID)
		if getErr != nil {
			return nil, getErr
		}
		return current, ErrInvalidTransition
	}
	return e, err
}

// Call sessions

// CreateInvitation locks the schedule row, expires stale invitations, checks the
// active-call slot and the patient's readiness, then inserts. The partial unique
// index one_active_call_per_schedule backs the slot check at the storage level.
func (r *PgRepository) CreateInvitation(ctx context.Context, p InvitationParams) (*CallSession, []CallSession, error) {
	var (
		created *CallSession
		expired []CallSession
	)

	err := r.withTx(ctx, func(tx pgx.Tx) error {
		var status ScheduleStatus
		err := tx.QueryRow(ctx, `
			SELECT status
			FROM schedules
			WHERE id = $1
			FOR UPDATE
		`, p.ScheduleID).Scan(&status)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrScheduleNotFound
			}
			return fmt.Errorf("lock schedule: %w", err)
		}
		if status != ScheduleOnline {
			return ErrPracticeNotOnline
		}

		rows, err := tx.Query(ctx, `
			UPDATE call_sessions
			SET status = $4,
			    ended_at = $3
			WHERE schedule_id = $1
			  AND status = $5
			  AND created_at < $2
			RETURNING `+callColumns,
			p.ScheduleID, p.StaleBefore, p.At, CallExpired, CallInvited)
		if err != nil {
			return fmt.Errorf("expire stale invitations: %w", err)
		}
		expired, err = collectCallSessions(rows)
		if err != nil {
			return fmt.Errorf("expire stale invitations: %w", err)
		}

		var active int
		err = tx.QueryRow(ctx, `
			SELECT count(*)
			FROM call_sessions
			WHERE schedule_id = $1
			  AND status = ANY($2)
		`, p.ScheduleID, activeStatusStrings()).Scan(&active)
		if err != nil {
			return fmt.Errorf("check active call: %w", err)
		}
		if active > 0 {
			return ErrCallAlreadyActive
		}

		var entryStatus QueueStatus
		err = tx.QueryRow(ctx, `
			SELECT status
			FROM queue_entries
			WHERE schedule_id = $1
			  AND patient_id = $2
		`, p.ScheduleID, p.PatientID).Scan(&entryStatus)
		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("load queue entry: %w", err)
		}
		if entryStatus != QueueReady {
			return ErrPatientNotReady
		}

		created, err = scanCallSession(tx.QueryRow(ctx, `
			INSERT INTO call_sessions (id, schedule_id, provider_id, patient_id, status, created_at)
			VALUES ($1, $2, $3, $4, $5, $6)
			RETURNING `+callColumns,
			uuid.New(), p.ScheduleID, p.ProviderID, p.PatientID, CallInvited, p.At))
		if err != nil {
			if isUniqueViolation(err, constraintOneActiveCall) {
				return ErrCallAlreadyActive
			}
			return fmt.Errorf("insert call session: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	return created, expired, nil
}

func (r *PgRepository) GetCallSession(ctx context.Context, id uuid.UUID) (*CallSession, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+callColumns+`
		FROM call_sessions
		WHERE id = $1
	`, id)
	return scanCallSession(row)
}

func (r *PgRepository) FindInvitationForPatient(ctx context.Context, patientID uuid.UUID) (*CallSession, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+callColumns+`
		FROM call_sessions
		WHERE patient_id = $1
		  AND status = $2
		ORDER BY created_at DESC
		LIMIT 1
	`, patientID, CallInvited)
	return scanCallSession(row)
}

func (r *PgRepository) TransitionCall(ctx context.Context, t CallTransition) (*CallSession, error) {
	var (
		confirmedAt *time.Time
		endedAt     *time.Time
	)
	at := t.At
	switch {
	case t.To == CallConfirmed:
		confirmedAt = &at
	case t.To.IsTerminal():
		endedAt = &at
	}

	var updated, current *CallSession

	err := r.withTx(ctx, func(tx pgx.Tx) error {
		var err error
		updated, err = scanCallSession(tx.QueryRow(ctx, `
			UPDATE call_sessions
			SET status = $2,
			    confirmed_at = COALESCE($4, confirmed_at),
			    ended_at = COALESCE($5, ended_at)
			WHERE id = $1
			  AND status = ANY($3)
			RETURNING `+callColumns,
			t.ID, t.To, statusStrings(t.From), confirmedAt, endedAt))
		if err != nil {
			if !errors.Is(err, ErrCallSessionNotFound) {
				return fmt.Errorf("transition call: %w", err)
			}
			current, err = scanCallSession(tx.QueryRow(ctx, `
				SELECT `+callColumns+`
				FROM call_sessions
				WHERE id = $1
			`, t.ID))
			if err != nil {
				return err
			}
			return ErrInvalidTransition
		}

		if t.QueueTo == nil {
			return nil
		}
		_, err = tx.Exec(ctx, `
			UPDATE queue_entries
			SET status = $3,
			    updated_at = $4
			WHERE schedule_id = $1
			  AND patient_id = $2
			  AND status = ANY($5)
		`, updated.ScheduleID, updated.PatientID, *t.QueueTo, at, statusStrings(t.QueueFrom))
		if err != nil {
			return fmt.Errorf("cascade queue entry: %w", err)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrInvalidTransition) {
			return current, err
		}
		return nil, err
	}

	return updated, nil
}

func (r *PgRepository) SetPeerID(ctx context.Context, id uuid.UUID, role PeerRole, peerID string) (*CallSession, error) {
	var query string
	switch role {
	case RoleProvider:
		query = `UPDATE call_sessions SET provider_peer_id = $2 WHERE id = $1 RETURNING ` + callColumns
	case RolePatient:
		query = `UPDATE call_sessions SET patient_peer_id = $2 WHERE id = $1 RETURNING ` + callColumns
	default:
		return nil, ErrInvalidPeer
	}

	return scanCallSession(r.pool.QueryRow(ctx, query, id, peerID))
}

func (r *PgRepository) ExpireStaleInvitations(ctx context.Context, before, at time.Time) ([]CallSession, error) {
	rows, err := r.pool.Query(ctx, `
		UPDATE call_sessions
		SET status = $3,
		    ended_at = $2
		WHERE status = $4
		  AND created_at < $1
		RETURNING `+callColumns,
		before, at, CallExpired, CallInvited)
	if err != nil {
		return nil, err
	}
	return collectCallSessions(rows)
}

// Audit

func (r *PgRepository) InsertAudit(ctx context.Context, e AuditEntry) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO audit_logs (actor_id, action_type, schedule_id, patient_id, call_session_id, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, COALESCE($7, now()))
	`, e.ActorID, e.ActionType, e.ScheduleID, e.PatientID, e.CallSessionID, e.Metadata, nullableTime(e.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}

	return nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
