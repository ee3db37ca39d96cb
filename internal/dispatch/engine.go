// Package dispatch claims pending records from the store and pushes them
// through the outbound transport, one category per loop. All coordination
// between dispatcher processes happens in the store's claim protocol; the
// engine itself keeps no cross-tick state.
package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"clinotify/internal/domain"
	"clinotify/internal/observability"
	"clinotify/internal/reminder"
	"clinotify/internal/store"
	"clinotify/internal/transport"
	"clinotify/internal/util"
)

type Store interface {
	ClaimBatch(ctx context.Context, q domain.Queue, now time.Time, opts store.ClaimOptions) ([]store.Record, error)
	Finalize(ctx context.Context, q domain.Queue, id, owner string, st domain.Status, now time.Time) (bool, error)
	AppointmentsToIngest(ctx context.Context, cutoff time.Time, limit int) ([]store.AppointmentSource, error)
	InsertQueueEntryIfAbsent(ctx context.Context, e store.QueueEntry, now time.Time) (bool, error)
	DispatchSettings(ctx context.Context) (store.Settings, error)
}

type ProfileSource interface {
	Get(ctx context.Context) (*store.Profile, error)
}

type Renderer interface {
	Render(rec store.Record, p store.Profile) (string, error)
}

type Options struct {
	Owner        string
	BatchSize    int
	MaxRetries   int
	StaleAfter   time.Duration
	IngestCutoff time.Time
	IngestLimit  int
}

type Engine struct {
	Store    Store
	Profiles ProfileSource
	Renderer Renderer
	Sender   transport.Sender
	Limiter  *rate.Limiter
	Breaker  *gobreaker.CircuitBreaker
	Opts     Options

	// OnSent fires after a successful finalize to SENT, once per delivery.
	OnSent func(ctx context.Context, q domain.Queue, recordID, remoteID string, sentAt time.Time)

	now func() time.Time
}

func (e *Engine) clock() time.Time {
	if e.now != nil {
		return e.now()
	}
	return util.NowUTC()
}

// Tick runs one dispatch round for a category: settings, profile, ingest,
// claim, then sequential per-record processing. Every early return here
// mutates nothing; claimed rows abandoned mid-batch come back through the
// stale reclaimer.
func (e *Engine) Tick(ctx context.Context, cat Category) {
	start := time.Now()
	defer func() {
		observability.TickDuration.WithLabelValues(string(cat.Queue)).Observe(time.Since(start).Seconds())
	}()

	now := e.clock()

	var win reminder.Window
	if cat.Windowed {
		settings, err := e.Store.DispatchSettings(ctx)
		if err != nil {
			slog.Error("settings read failed, skipping tick", "queue", cat.Queue, "err", err)
			return
		}
		win = reminder.FromHours(settings.ReminderEnabled, settings.ReminderWindowHours)
		if !win.Enabled {
			slog.Debug("reminders disabled, skipping tick", "queue", cat.Queue)
			return
		}
	}

	prof, err := e.Profiles.Get(ctx)
	if err != nil {
		slog.Error("profile fetch failed, skipping tick", "queue", cat.Queue, "err", err)
		return
	}
	if prof == nil {
		slog.Warn("clinic profile not configured, skipping tick", "queue", cat.Queue)
		return
	}

	if cat.Ingest {
		e.ingest(ctx, now)
	}

	opts := store.ClaimOptions{
		Owner:      e.Opts.Owner,
		Limit:      e.Opts.BatchSize,
		MaxRetries: e.Opts.MaxRetries,
		StaleAfter: e.Opts.StaleAfter,
	}
	if cat.Windowed {
		opts.Window = win.Span
	}

	records, err := e.Store.ClaimBatch(ctx, cat.Queue, now, opts)
	if err != nil {
		slog.Error("claim failed, skipping tick", "queue", cat.Queue, "err", err)
		return
	}
	if len(records) == 0 {
		return
	}
	observability.Claimed.WithLabelValues(string(cat.Queue)).Add(float64(len(records)))

	for _, rec := range records {
		if ctx.Err() != nil {
			slog.Info("context done, abandoning batch remainder", "queue", cat.Queue)
			return
		}
		err := e.processRecord(ctx, cat, win, rec, *prof)
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			// Transient gateway protection. Unfinished claims stay
			// PROCESSING and return via the reclaimer with no retry
			// penalty, because this is not a delivery failure.
			slog.Warn("breaker open, abandoning batch remainder", "queue", cat.Queue)
			observability.Sends.WithLabelValues(string(cat.Queue), "breaker_open").Inc()
			return
		}
	}
}

// ingest projects source appointments into the queue. Per-row failures are
// logged and skipped; the dedup key makes rerunning this at any time safe.
func (e *Engine) ingest(ctx context.Context, now time.Time) {
	srcs, err := e.Store.AppointmentsToIngest(ctx, e.Opts.IngestCutoff, e.Opts.IngestLimit)
	if err != nil {
		slog.Error("ingest scan failed", "err", err)
		return
	}
	for _, src := range srcs {
		entry := store.QueueEntry{
			ID:          util.NewEntryID(),
			PatientID:   src.PatientID,
			DoctorID:    src.DoctorID,
			ScheduledAt: src.ScheduledAt,
			Recipient:   src.Recipient,
			PatientName: src.PatientName,
			DoctorName:  src.DoctorName,
		}
		inserted, err := e.Store.InsertQueueEntryIfAbsent(ctx, entry, now)
		if err != nil {
			observability.Ingested.WithLabelValues("error").Inc()
			slog.Error("ingest insert failed", "patient_id", src.PatientID, "scheduled_at", src.ScheduledAt, "err", err)
			continue
		}
		if inserted {
			observability.Ingested.WithLabelValues("inserted").Inc()
			slog.Info("appointment queued", "entry_id", entry.ID, "patient_id", src.PatientID, "scheduled_at", src.ScheduledAt)
		} else {
			observability.Ingested.WithLabelValues("duplicate").Inc()
		}
	}
}

// processRecord takes one claimed record to a terminal decision. A non-nil
// return is only ever a breaker-open signal for the caller; every other
// outcome is absorbed here so one bad record cannot take down the batch.
func (e *Engine) processRecord(ctx context.Context, cat Category, win reminder.Window, rec store.Record, prof store.Profile) (err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("record processing panic recovered", "queue", cat.Queue, "record_id", rec.ID, "panic", r)
			e.finalize(ctx, cat.Queue, rec.ID, domain.StatusFailed)
			observability.Sends.WithLabelValues(string(cat.Queue), "panic").Inc()
			err = nil
		}
	}()

	recipient := util.NormalizePhone(rec.Recipient)
	if recipient == "" {
		slog.Warn("record has no usable recipient", "queue", cat.Queue, "record_id", rec.ID)
		e.finalize(ctx, cat.Queue, rec.ID, domain.StatusFailed)
		observability.Sends.WithLabelValues(string(cat.Queue), "invalid").Inc()
		return nil
	}

	if cat.Windowed && !win.Contains(e.clock(), rec.ScheduledAt) {
		// The claim predicate mirrors the window, so this only fires when
		// the appointment start passed between claim and processing. Leave
		// the claim for the reclaimer rather than sending late.
		slog.Warn("claimed record fell outside window, leaving for reclaim",
			"queue", cat.Queue, "record_id", rec.ID, "scheduled_at", rec.ScheduledAt)
		return nil
	}

	body, renderErr := e.Renderer.Render(rec, prof)
	if renderErr != nil {
		slog.Error("render failed", "queue", cat.Queue, "record_id", rec.ID, "err", renderErr)
		e.finalize(ctx, cat.Queue, rec.ID, domain.StatusFailed)
		observability.Sends.WithLabelValues(string(cat.Queue), "render_error").Inc()
		return nil
	}

	if e.Limiter != nil {
		if waitErr := e.Limiter.Wait(ctx); waitErr != nil {
			// Only happens on context cancellation; the batch loop exits
			// on the next iteration and the claim comes back via reclaim.
			return nil
		}
	}

	remoteID, sendErr := e.send(ctx, recipient, body)
	if errors.Is(sendErr, gobreaker.ErrOpenState) || errors.Is(sendErr, gobreaker.ErrTooManyRequests) {
		return sendErr
	}
	if sendErr != nil {
		slog.Error("send failed", "queue", cat.Queue, "record_id", rec.ID, "retry_count", rec.RetryCount, "err", sendErr)
		e.finalize(ctx, cat.Queue, rec.ID, domain.StatusFailed)
		observability.Sends.WithLabelValues(string(cat.Queue), "error").Inc()
		return nil
	}

	sentAt := e.clock()
	updated := e.finalize(ctx, cat.Queue, rec.ID, domain.StatusSent)
	observability.Sends.WithLabelValues(string(cat.Queue), "sent").Inc()
	if updated && e.OnSent != nil {
		e.OnSent(ctx, cat.Queue, rec.ID, remoteID, sentAt)
	}
	slog.Info("message dispatched", "queue", cat.Queue, "record_id", rec.ID, "remote_id", remoteID, "retry_count", rec.RetryCount)
	return nil
}

// finalize releases our claim into a terminal status. rowsAffected=0 means
// another process reclaimed the row first; that race is benign and only
// logged.
func (e *Engine) finalize(ctx context.Context, q domain.Queue, id string, st domain.Status) bool {
	updated, err := e.Store.Finalize(ctx, q, id, e.Opts.Owner, st, e.clock())
	if err != nil {
		slog.Error("finalize failed", "queue", q, "record_id", id, "status", st, "err", err)
		return false
	}
	if !updated {
		slog.Warn("claim lost before finalize", "queue", q, "record_id", id, "status", st)
	}
	return updated
}

func (e *Engine) send(ctx context.Context, to, body string) (string, error) {
	if e.Breaker == nil {
		return e.Sender.Send(ctx, to, body)
	}
	res, err := e.Breaker.Execute(func() (any, error) {
		return e.Sender.Send(ctx, to, body)
	})
	if err != nil {
		return "", err
	}
	return res.(string), nil
}
