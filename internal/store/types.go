package store

import (
	"time"

	"clinotify/internal/domain"
)

// Record is one claimed unit of work handed to a dispatch loop. For the
// welcome queue it is a patient row; for confirm/reminder it is an
// appointment queue entry with the payload snapshotted at ingestion.
type Record struct {
	Queue       domain.Queue
	ID          string
	Recipient   string
	PatientName string
	DoctorName  string
	ScheduledAt time.Time
	RetryCount  int
}

// ClaimOptions parameterizes a ClaimBatch call. Window applies to the
// reminder queue only: claim rows whose appointment lies in
// (now, now+Window]; zero means the queue has no time bound.
type ClaimOptions struct {
	Owner      string
	Limit      int
	MaxRetries int
	StaleAfter time.Duration
	Window     time.Duration
}

// QueueEntry is a deduplicated appointment projection. The natural key
// (PatientID, DoctorID, ScheduledAt) makes ingestion idempotent.
type QueueEntry struct {
	ID          string
	PatientID   string
	DoctorID    string
	ScheduledAt time.Time
	Recipient   string
	PatientName string
	DoctorName  string
}

// AppointmentSource is one row of the ingestion scan: an appointment joined
// with its patient and doctor, not yet projected into the queue.
type AppointmentSource struct {
	PatientID   string
	DoctorID    string
	ScheduledAt time.Time
	Recipient   string
	PatientName string
	DoctorName  string
}

// Settings is the single-row reminder configuration, read once per tick.
type Settings struct {
	ReminderEnabled     bool
	ReminderWindowHours int
}

// Profile is the clinic profile row consumed by rendering.
type Profile struct {
	ClinicName  string    `json:"clinicName"`
	SenderPhone string    `json:"senderPhone"`
	Signature   string    `json:"signature"`
	Timezone    string    `json:"timezone"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// RecentMessage is the ops-API listing shape.
type RecentMessage struct {
	Queue       domain.Queue  `json:"queue"`
	ID          string        `json:"id"`
	Recipient   string        `json:"recipient"`
	PatientName string        `json:"patientName"`
	Status      domain.Status `json:"status"`
	Owner       string        `json:"owner,omitempty"`
	RetryCount  int           `json:"retryCount"`
	UpdatedAt   time.Time     `json:"updatedAt"`
}
