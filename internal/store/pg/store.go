package pg

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"clinotify/internal/domain"
	"clinotify/internal/store"
)

// Store implements the claim protocol over Postgres. Every mutating operation
// is a single statement, so race outcomes are decided by row-level locking in
// the storage engine, never by application code.
type Store struct {
	DB *pgxpool.Pool
}

func New(db *pgxpool.Pool) *Store { return &Store{DB: db} }

// machine maps a dispatch queue onto the table and column group carrying its
// state. Statement text is assembled once, from these constants only.
type machine struct {
	table   string
	status  string
	owner   string
	claimed string
	retries string
}

var machines = map[domain.Queue]machine{
	domain.QueueWelcome:  {"patients", "welcome_status", "welcome_owner", "welcome_claimed_at", "welcome_retries"},
	domain.QueueConfirm:  {"appointment_queue", "confirm_status", "confirm_owner", "confirm_claimed_at", "confirm_retries"},
	domain.QueueReminder: {"appointment_queue", "reminder_status", "reminder_owner", "reminder_claimed_at", "reminder_retries"},
}

func machineFor(q domain.Queue) (machine, error) {
	m, ok := machines[q]
	if !ok {
		return machine{}, fmt.Errorf("unknown queue %q", q)
	}
	return m, nil
}

// claimable is the shared claim predicate: fresh work, retryable failures
// under budget, or claims abandoned past the stale timeout. Claiming a stale
// row directly is allowed; only the reclaimer moves rows back to pending.
func (m machine) claimable() string {
	return fmt.Sprintf(`(%[1]s = 'pending'
       OR (%[1]s = 'failed' AND %[2]s < $3)
       OR (%[1]s = 'processing' AND %[3]s < $4))`, m.status, m.retries, m.claimed)
}

const welcomePayload = `id, phone, first_name, last_name, welcome_retries`

var claimWelcomeSQL = fmt.Sprintf(`
	UPDATE patients SET
		welcome_status = 'processing',
		welcome_owner = $1,
		welcome_claimed_at = $2,
		updated_at = $2
	WHERE id IN (
		SELECT id FROM patients
		WHERE %s
		ORDER BY registered_at
		LIMIT $5
		FOR UPDATE SKIP LOCKED
	)
	RETURNING `+welcomePayload, machines[domain.QueueWelcome].claimable())

var claimConfirmSQL = fmt.Sprintf(`
	UPDATE appointment_queue SET
		confirm_status = 'processing',
		confirm_owner = $1,
		confirm_claimed_at = $2,
		updated_at = $2
	WHERE id IN (
		SELECT id FROM appointment_queue
		WHERE %s
		ORDER BY scheduled_at
		LIMIT $5
		FOR UPDATE SKIP LOCKED
	)
	RETURNING id, recipient_phone, patient_name, doctor_name, scheduled_at, confirm_retries`,
	machines[domain.QueueConfirm].claimable())

// The reminder predicate additionally gates on a sent confirmation and on the
// eligibility window (now, now+window]; $6 = now, $7 = window end.
var claimReminderSQL = fmt.Sprintf(`
	UPDATE appointment_queue SET
		reminder_status = 'processing',
		reminder_owner = $1,
		reminder_claimed_at = $2,
		updated_at = $2
	WHERE id IN (
		SELECT id FROM appointment_queue
		WHERE confirm_status = 'sent'
		  AND scheduled_at > $6
		  AND scheduled_at <= $7
		  AND %s
		ORDER BY scheduled_at
		LIMIT $5
		FOR UPDATE SKIP LOCKED
	)
	RETURNING id, recipient_phone, patient_name, doctor_name, scheduled_at, reminder_retries`,
	machines[domain.QueueReminder].claimable())

// ClaimBatch atomically transitions up to opts.Limit claimable rows to
// processing, stamping owner and claim time, and returns exactly the rows it
// transitioned. Concurrent callers never receive the same row: the transition
// and the read of the transitioned set are one statement, and SKIP LOCKED
// keeps claimants off each other's rows.
func (s *Store) ClaimBatch(ctx context.Context, q domain.Queue, now time.Time, opts store.ClaimOptions) ([]store.Record, error) {
	staleBefore := now.Add(-opts.StaleAfter)

	switch q {
	case domain.QueueWelcome:
		rows, err := s.DB.Query(ctx, claimWelcomeSQL,
			opts.Owner, now, opts.MaxRetries, staleBefore, opts.Limit)
		if err != nil {
			return nil, err
		}
		defer rows.Close()

		var out []store.Record
		for rows.Next() {
			var r store.Record
			var first, last string
			if err := rows.Scan(&r.ID, &r.Recipient, &first, &last, &r.RetryCount); err != nil {
				return nil, err
			}
			r.Queue = q
			r.PatientName = fullName(first, last)
			out = append(out, r)
		}
		return out, rows.Err()

	case domain.QueueConfirm, domain.QueueReminder:
		sql := claimConfirmSQL
		args := []any{opts.Owner, now, opts.MaxRetries, staleBefore, opts.Limit}
		if q == domain.QueueReminder {
			sql = claimReminderSQL
			args = append(args, now, now.Add(opts.Window))
		}

		rows, err := s.DB.Query(ctx, sql, args...)
		if err != nil {
			return nil, err
		}
		defer rows.Close()

		var out []store.Record
		for rows.Next() {
			var r store.Record
			if err := rows.Scan(&r.ID, &r.Recipient, &r.PatientName, &r.DoctorName, &r.ScheduledAt, &r.RetryCount); err != nil {
				return nil, err
			}
			r.Queue = q
			out = append(out, r)
		}
		return out, rows.Err()

	default:
		return nil, fmt.Errorf("unknown queue %q", q)
	}
}

// Finalize conditionally moves a previously claimed row out of processing.
// False means another owner already reclaimed or finalized it: a lost race,
// not an error. A failed finalize increments the retry counter in the same
// statement so the count only ever moves on failed transitions.
func (s *Store) Finalize(ctx context.Context, q domain.Queue, id, owner string, st domain.Status, now time.Time) (bool, error) {
	m, err := machineFor(q)
	if err != nil {
		return false, err
	}
	if st != domain.StatusSent && st != domain.StatusFailed {
		return false, fmt.Errorf("finalize to %q not allowed", st)
	}

	bump := ""
	if st == domain.StatusFailed {
		bump = fmt.Sprintf(", %[1]s = %[1]s + 1", m.retries)
	}
	sql := fmt.Sprintf(`
		UPDATE %s SET %s = $3, updated_at = $4%s
		WHERE id = $1 AND %s = 'processing' AND %s = $2`,
		m.table, m.status, bump, m.status, m.owner)

	ct, err := s.DB.Exec(ctx, sql, id, owner, string(st), now)
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() > 0, nil
}

// ResetStale returns abandoned in-flight rows to pending, clearing owner and
// claim time. Retries are untouched: a crash is not a delivery failure.
func (s *Store) ResetStale(ctx context.Context, q domain.Queue, now time.Time, staleAfter time.Duration) (int64, error) {
	m, err := machineFor(q)
	if err != nil {
		return 0, err
	}
	sql := fmt.Sprintf(`
		UPDATE %s SET %s = 'pending', %s = NULL, %s = NULL, updated_at = $2
		WHERE %s = 'processing' AND %s < $1`,
		m.table, m.status, m.owner, m.claimed, m.status, m.claimed)

	ct, err := s.DB.Exec(ctx, sql, now.Add(-staleAfter), now)
	if err != nil {
		return 0, err
	}
	return ct.RowsAffected(), nil
}

// InsertQueueEntryIfAbsent projects an appointment into the queue at most
// once per natural key, no matter how many ingestion ticks observe the same
// source row. Returns whether this call created the row.
func (s *Store) InsertQueueEntryIfAbsent(ctx context.Context, e store.QueueEntry, now time.Time) (bool, error) {
	ct, err := s.DB.Exec(ctx, `
		INSERT INTO appointment_queue
			(id, patient_id, doctor_id, scheduled_at, recipient_phone, patient_name, doctor_name, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
		ON CONFLICT (patient_id, doctor_id, scheduled_at) DO NOTHING
	`, e.ID, e.PatientID, e.DoctorID, e.ScheduledAt, e.Recipient, e.PatientName, e.DoctorName, now)
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() > 0, nil
}

func fullName(first, last string) string {
	return strings.TrimSpace(first + " " + last)
}
