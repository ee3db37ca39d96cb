// Package identity names a dispatcher process. Every claim written to the
// store carries this token as the owner, so finalize can verify the row was
// not reclaimed by someone else in the meantime.
package identity

import (
	"crypto/rand"
	"fmt"
	"os"
	"time"

	"github.com/oklog/ulid/v2"
)

type Identity struct {
	Host  string
	PID   int
	Token string
}

// New builds a process-unique owner token. Host and PID make it readable in
// the database; the ULID makes it unique even if a PID is recycled on the
// same host.
func New() Identity {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "unknown"
	}
	pid := os.Getpid()
	u := ulid.MustNew(ulid.Timestamp(time.Now().UTC()), rand.Reader)
	return Identity{
		Host:  host,
		PID:   pid,
		Token: fmt.Sprintf("%s:%d:%s", host, pid, u.String()),
	}
}

func (i Identity) String() string { return i.Token }
