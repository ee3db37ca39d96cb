package dispatch

import (
	"context"
	"log/slog"
	"time"

	"clinotify/internal/domain"
	"clinotify/internal/observability"
	"clinotify/internal/util"
)

type ReclaimStore interface {
	ResetStale(ctx context.Context, q domain.Queue, now time.Time, staleAfter time.Duration) (int64, error)
}

// Reclaimer returns PROCESSING rows abandoned by crashed or wedged
// dispatchers to PENDING. It never touches retry counts; a crash is not a
// delivery failure.
type Reclaimer struct {
	Store      ReclaimStore
	StaleAfter time.Duration

	now func() time.Time
}

func (r *Reclaimer) clock() time.Time {
	if r.now != nil {
		return r.now()
	}
	return util.NowUTC()
}

// Tick sweeps every queue. Per-queue errors are logged and isolated so one
// broken machine never blocks recovery of the others.
func (r *Reclaimer) Tick(ctx context.Context) {
	now := r.clock()
	for _, q := range domain.Queues() {
		n, err := r.Store.ResetStale(ctx, q, now, r.StaleAfter)
		if err != nil {
			slog.Error("stale reset failed", "queue", q, "err", err)
			continue
		}
		if n > 0 {
			observability.StaleResets.WithLabelValues(string(q)).Add(float64(n))
			slog.Warn("reset stale claims", "queue", q, "count", n, "stale_after", r.StaleAfter.String())
		}
	}
}
