package pg

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"clinotify/internal/domain"
	"clinotify/internal/store"
)

// AppointmentsToIngest scans the source view for appointments that still need
// a queue entry: not canceled, scheduled on or after the cutoff, with a
// recipient phone, and with resolvable patient and doctor rows (the joins
// drop anything with dangling keys). Rows already projected are filtered
// here and again by the dedup insert, which settles any scan race.
func (s *Store) AppointmentsToIngest(ctx context.Context, cutoff time.Time, limit int) ([]store.AppointmentSource, error) {
	rows, err := s.DB.Query(ctx, `
		SELECT a.patient_id, a.doctor_id, a.scheduled_at,
		       p.phone, p.first_name, p.last_name, d.name
		FROM appointments a
		JOIN patients p ON p.id = a.patient_id
		JOIN doctors d  ON d.id = a.doctor_id
		WHERE NOT a.canceled
		  AND a.scheduled_at >= $1
		  AND p.phone <> ''
		  AND NOT EXISTS (
			SELECT 1 FROM appointment_queue q
			WHERE q.patient_id = a.patient_id
			  AND q.doctor_id = a.doctor_id
			  AND q.scheduled_at = a.scheduled_at
		  )
		ORDER BY a.scheduled_at
		LIMIT $2
	`, cutoff, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.AppointmentSource
	for rows.Next() {
		var src store.AppointmentSource
		var first, last string
		if err := rows.Scan(&src.PatientID, &src.DoctorID, &src.ScheduledAt,
			&src.Recipient, &first, &last, &src.DoctorName); err != nil {
			return nil, err
		}
		src.PatientName = fullName(first, last)
		out = append(out, src)
	}
	return out, rows.Err()
}

// DispatchSettings reads the reminder configuration row. Callers read it once
// per tick; there is no cache on purpose.
func (s *Store) DispatchSettings(ctx context.Context) (store.Settings, error) {
	var cfg store.Settings
	err := s.DB.QueryRow(ctx, `
		SELECT reminder_enabled, reminder_window_hours FROM dispatch_settings WHERE id = 1
	`).Scan(&cfg.ReminderEnabled, &cfg.ReminderWindowHours)
	if err != nil {
		return store.Settings{}, err
	}
	return cfg, nil
}

// ClinicProfile returns the profile row, or nil when none has been configured
// yet.
func (s *Store) ClinicProfile(ctx context.Context) (*store.Profile, error) {
	var p store.Profile
	err := s.DB.QueryRow(ctx, `
		SELECT clinic_name, sender_phone, signature, timezone, updated_at
		FROM clinic_profile WHERE id = 1
	`).Scan(&p.ClinicName, &p.SenderPhone, &p.Signature, &p.Timezone, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// RecentMessages lists the latest records of one queue for the ops API,
// optionally filtered by status.
func (s *Store) RecentMessages(ctx context.Context, q domain.Queue, st domain.Status, limit int) ([]store.RecentMessage, error) {
	m, err := machineFor(q)
	if err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	filter := ""
	args := []any{limit}
	if st != "" {
		filter = fmt.Sprintf("WHERE %s = $2", m.status)
		args = append(args, string(st))
	}

	var sql string
	if q == domain.QueueWelcome {
		sql = fmt.Sprintf(`
			SELECT id, phone, first_name, last_name, welcome_status,
			       COALESCE(welcome_owner, ''), welcome_retries, updated_at
			FROM patients %s
			ORDER BY updated_at DESC
			LIMIT $1`, filter)
	} else {
		sql = fmt.Sprintf(`
			SELECT id, recipient_phone, patient_name, %s,
			       COALESCE(%s, ''), %s, updated_at
			FROM appointment_queue %s
			ORDER BY updated_at DESC
			LIMIT $1`, m.status, m.owner, m.retries, filter)
	}

	rows, err := s.DB.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.RecentMessage
	for rows.Next() {
		var rec store.RecentMessage
		var status string
		if q == domain.QueueWelcome {
			var first, last string
			if err := rows.Scan(&rec.ID, &rec.Recipient, &first, &last,
				&status, &rec.Owner, &rec.RetryCount, &rec.UpdatedAt); err != nil {
				return nil, err
			}
			rec.PatientName = fullName(first, last)
		} else {
			if err := rows.Scan(&rec.ID, &rec.Recipient, &rec.PatientName,
				&status, &rec.Owner, &rec.RetryCount, &rec.UpdatedAt); err != nil {
				return nil, err
			}
		}
		rec.Queue = q
		rec.Status = domain.Status(status)
		out = append(out, rec)
	}
	return out, rows.Err()
}
