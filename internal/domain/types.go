package domain

// Status is the per-record delivery state machine:
// pending -> processing -> {sent, failed}; failed rows are re-claimable until
// their retry budget is exhausted, processing rows return to pending only via
// the stale reclaimer.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusSent       Status = "sent"
	StatusFailed     Status = "failed"
)

// Queue identifies one of the three dispatch categories. Welcome state lives
// on the patients table; confirm and reminder are independent machines on the
// appointment queue sharing a row.
type Queue string

const (
	QueueWelcome  Queue = "welcome"
	QueueConfirm  Queue = "confirm"
	QueueReminder Queue = "reminder"
)

// Queues lists every dispatch category, in reclaim order.
func Queues() []Queue {
	return []Queue{QueueWelcome, QueueConfirm, QueueReminder}
}

func (q Queue) Valid() bool {
	switch q {
	case QueueWelcome, QueueConfirm, QueueReminder:
		return true
	}
	return false
}

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusSent, StatusFailed:
		return true
	}
	return false
}
