package util

import (
	"crypto/rand"
	"time"

	"github.com/oklog/ulid/v2"
)

// NewEntryID returns a prefixed ULID for appointment queue rows.
// ULID is sortable (nice for DB indexes and dashboards).
func NewEntryID() string {
	t := time.Now().UTC()
	return "apq_" + ulid.MustNew(ulid.Timestamp(t), rand.Reader).String()
}

func NowUTC() time.Time {
	return time.Now().UTC()
}
