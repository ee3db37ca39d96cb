package dispatch

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/sony/gobreaker"

	"clinotify/internal/domain"
	"clinotify/internal/store"
)

type finalizeCall struct {
	Queue  domain.Queue
	ID     string
	Owner  string
	Status domain.Status
}

type fakeStore struct {
	records     []store.Record
	claimErr    error
	claims      []store.ClaimOptions
	finalizes   []finalizeCall
	finalizeOK  bool
	settings    store.Settings
	settingsErr error
	sources     []store.AppointmentSource
	inserted    []store.QueueEntry
	insertDup   bool
}

func (f *fakeStore) ClaimBatch(ctx context.Context, q domain.Queue, now time.Time, opts store.ClaimOptions) ([]store.Record, error) {
	f.claims = append(f.claims, opts)
	if f.claimErr != nil {
		return nil, f.claimErr
	}
	return f.records, nil
}

func (f *fakeStore) Finalize(ctx context.Context, q domain.Queue, id, owner string, st domain.Status, now time.Time) (bool, error) {
	f.finalizes = append(f.finalizes, finalizeCall{Queue: q, ID: id, Owner: owner, Status: st})
	return f.finalizeOK, nil
}

func (f *fakeStore) AppointmentsToIngest(ctx context.Context, cutoff time.Time, limit int) ([]store.AppointmentSource, error) {
	return f.sources, nil
}

func (f *fakeStore) InsertQueueEntryIfAbsent(ctx context.Context, e store.QueueEntry, now time.Time) (bool, error) {
	f.inserted = append(f.inserted, e)
	return !f.insertDup, nil
}

func (f *fakeStore) DispatchSettings(ctx context.Context) (store.Settings, error) {
	return f.settings, f.settingsErr
}

type staticProfiles struct {
	p   *store.Profile
	err error
}

func (s staticProfiles) Get(ctx context.Context) (*store.Profile, error) { return s.p, s.err }

type fakeRenderer struct {
	err     error
	panicOn string
}

func (r fakeRenderer) Render(rec store.Record, p store.Profile) (string, error) {
	if rec.ID == r.panicOn {
		panic("render exploded")
	}
	if r.err != nil {
		return "", r.err
	}
	return "hello " + rec.PatientName, nil
}

type fakeSender struct {
	err   error
	calls []string
}

func (s *fakeSender) Send(ctx context.Context, recipient, body string) (string, error) {
	s.calls = append(s.calls, recipient)
	if s.err != nil {
		return "", s.err
	}
	return "gw-" + recipient, nil
}

func testEngine(fs *fakeStore, snd *fakeSender) *Engine {
	return &Engine{
		Store:    fs,
		Profiles: staticProfiles{p: &store.Profile{ClinicName: "Smile Dental", Timezone: "UTC"}},
		Renderer: fakeRenderer{},
		Sender:   snd,
		Opts: Options{
			Owner:      "host:1:TESTULID",
			BatchSize:  10,
			MaxRetries: 3,
			StaleAfter: 5 * time.Minute,
		},
	}
}

func TestTickDispatchesAndFinalizesSent(t *testing.T) {
	fs := &fakeStore{
		records: []store.Record{
			{Queue: domain.QueueWelcome, ID: "pat_1", Recipient: "+15550000001", PatientName: "Anna"},
			{Queue: domain.QueueWelcome, ID: "pat_2", Recipient: "+15550000002", PatientName: "Jan"},
		},
		finalizeOK: true,
	}
	snd := &fakeSender{}
	eng := testEngine(fs, snd)

	var sent []string
	eng.OnSent = func(ctx context.Context, q domain.Queue, recordID, remoteID string, sentAt time.Time) {
		sent = append(sent, recordID+"/"+remoteID)
	}

	eng.Tick(context.Background(), Welcome())

	if len(snd.calls) != 2 {
		t.Fatalf("expected 2 sends, got %d", len(snd.calls))
	}
	if len(fs.finalizes) != 2 {
		t.Fatalf("expected 2 finalizes, got %+v", fs.finalizes)
	}
	for _, fc := range fs.finalizes {
		if fc.Status != domain.StatusSent {
			t.Fatalf("expected SENT finalize, got %+v", fc)
		}
		if fc.Owner != "host:1:TESTULID" {
			t.Fatalf("finalize must carry the claiming owner, got %+v", fc)
		}
	}
	if len(sent) != 2 || sent[0] != "pat_1/gw-+15550000001" {
		t.Fatalf("unexpected OnSent calls %v", sent)
	}
}

func TestTickRecordWithoutRecipientFailsWithoutSend(t *testing.T) {
	fs := &fakeStore{
		records:    []store.Record{{Queue: domain.QueueWelcome, ID: "pat_1", Recipient: "  "}},
		finalizeOK: true,
	}
	snd := &fakeSender{}
	eng := testEngine(fs, snd)

	eng.Tick(context.Background(), Welcome())

	if len(snd.calls) != 0 {
		t.Fatalf("validation failure must not reach the transport, got %d sends", len(snd.calls))
	}
	if len(fs.finalizes) != 1 || fs.finalizes[0].Status != domain.StatusFailed {
		t.Fatalf("expected one FAILED finalize, got %+v", fs.finalizes)
	}
}

func TestTickSendFailureFinalizesFailed(t *testing.T) {
	fs := &fakeStore{
		records:    []store.Record{{Queue: domain.QueueWelcome, ID: "pat_1", Recipient: "+15550000001"}},
		finalizeOK: true,
	}
	snd := &fakeSender{err: errors.New("gateway down")}
	eng := testEngine(fs, snd)

	eng.Tick(context.Background(), Welcome())

	if len(fs.finalizes) != 1 || fs.finalizes[0].Status != domain.StatusFailed {
		t.Fatalf("expected one FAILED finalize, got %+v", fs.finalizes)
	}
}

func TestTickLostRaceContinuesBatch(t *testing.T) {
	fs := &fakeStore{
		records: []store.Record{
			{Queue: domain.QueueWelcome, ID: "pat_1", Recipient: "+15550000001"},
			{Queue: domain.QueueWelcome, ID: "pat_2", Recipient: "+15550000002"},
		},
		finalizeOK: false, // every finalize loses the race
	}
	snd := &fakeSender{}
	eng := testEngine(fs, snd)

	hooks := 0
	eng.OnSent = func(ctx context.Context, q domain.Queue, recordID, remoteID string, sentAt time.Time) { hooks++ }

	eng.Tick(context.Background(), Welcome())

	if len(snd.calls) != 2 {
		t.Fatalf("lost race must not abort the batch, got %d sends", len(snd.calls))
	}
	if hooks != 0 {
		t.Fatalf("OnSent must not fire for lost races, got %d", hooks)
	}
}

func TestTickPanicIsolatedPerRecord(t *testing.T) {
	fs := &fakeStore{
		records: []store.Record{
			{Queue: domain.QueueWelcome, ID: "pat_1", Recipient: "+15550000001"},
			{Queue: domain.QueueWelcome, ID: "pat_2", Recipient: "+15550000002"},
		},
		finalizeOK: true,
	}
	snd := &fakeSender{}
	eng := testEngine(fs, snd)
	eng.Renderer = fakeRenderer{panicOn: "pat_1"}

	eng.Tick(context.Background(), Welcome())

	if len(fs.finalizes) != 2 {
		t.Fatalf("expected finalizes for both records, got %+v", fs.finalizes)
	}
	if fs.finalizes[0].ID != "pat_1" || fs.finalizes[0].Status != domain.StatusFailed {
		t.Fatalf("panicking record must finalize FAILED, got %+v", fs.finalizes[0])
	}
	if fs.finalizes[1].ID != "pat_2" || fs.finalizes[1].Status != domain.StatusSent {
		t.Fatalf("batch must continue past a panic, got %+v", fs.finalizes[1])
	}
}

func TestTickBreakerOpenAbortsBatchWithoutFinalize(t *testing.T) {
	fs := &fakeStore{
		records: []store.Record{
			{Queue: domain.QueueWelcome, ID: "pat_1", Recipient: "+15550000001"},
			{Queue: domain.QueueWelcome, ID: "pat_2", Recipient: "+15550000002"},
			{Queue: domain.QueueWelcome, ID: "pat_3", Recipient: "+15550000003"},
		},
		finalizeOK: true,
	}
	snd := &fakeSender{err: errors.New("gateway down")}
	eng := testEngine(fs, snd)
	eng.Breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "gateway",
		ReadyToTrip: func(c gobreaker.Counts) bool { return c.ConsecutiveFailures >= 1 },
	})

	eng.Tick(context.Background(), Welcome())

	// First record trips the breaker and finalizes FAILED; the open breaker
	// then aborts the batch before records two and three are touched.
	if len(snd.calls) != 1 {
		t.Fatalf("expected 1 send before the breaker opened, got %d", len(snd.calls))
	}
	if len(fs.finalizes) != 1 {
		t.Fatalf("abandoned records must not be finalized, got %+v", fs.finalizes)
	}
	if fs.finalizes[0].ID != "pat_1" || fs.finalizes[0].Status != domain.StatusFailed {
		t.Fatalf("unexpected finalize %+v", fs.finalizes[0])
	}
}

func TestTickClaimErrorSkipsTick(t *testing.T) {
	fs := &fakeStore{claimErr: errors.New("connection refused")}
	snd := &fakeSender{}
	eng := testEngine(fs, snd)

	eng.Tick(context.Background(), Welcome())

	if len(snd.calls) != 0 || len(fs.finalizes) != 0 {
		t.Fatalf("claim error must mutate nothing, got sends=%d finalizes=%d", len(snd.calls), len(fs.finalizes))
	}
}

func TestTickProfileMissingSkipsClaim(t *testing.T) {
	fs := &fakeStore{records: []store.Record{{Queue: domain.QueueWelcome, ID: "pat_1", Recipient: "+1"}}}
	snd := &fakeSender{}
	eng := testEngine(fs, snd)
	eng.Profiles = staticProfiles{}

	eng.Tick(context.Background(), Welcome())

	if len(fs.claims) != 0 {
		t.Fatalf("missing profile must skip the tick before claiming, got %d claims", len(fs.claims))
	}
}

func TestTickRemindersDisabledSkips(t *testing.T) {
	fs := &fakeStore{settings: store.Settings{ReminderEnabled: false, ReminderWindowHours: 24}}
	snd := &fakeSender{}
	eng := testEngine(fs, snd)

	eng.Tick(context.Background(), Reminder())

	if len(fs.claims) != 0 {
		t.Fatalf("disabled reminders must not claim, got %d claims", len(fs.claims))
	}
}

func TestTickReminderPassesWindowToClaim(t *testing.T) {
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	fs := &fakeStore{
		settings: store.Settings{ReminderEnabled: true, ReminderWindowHours: 24},
		records: []store.Record{{
			Queue: domain.QueueReminder, ID: "apq_1", Recipient: "+15550000001",
			ScheduledAt: now.Add(23 * time.Hour),
		}},
		finalizeOK: true,
	}
	snd := &fakeSender{}
	eng := testEngine(fs, snd)
	eng.now = func() time.Time { return now }

	eng.Tick(context.Background(), Reminder())

	if len(fs.claims) != 1 || fs.claims[0].Window != 24*time.Hour {
		t.Fatalf("expected claim with 24h window, got %+v", fs.claims)
	}
	if len(snd.calls) != 1 {
		t.Fatalf("expected in-window record to send, got %d", len(snd.calls))
	}
	if len(fs.finalizes) != 1 || fs.finalizes[0].Status != domain.StatusSent {
		t.Fatalf("unexpected finalizes %+v", fs.finalizes)
	}
}

func TestTickWindowGateLeavesClaimForReclaim(t *testing.T) {
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	fs := &fakeStore{
		settings: store.Settings{ReminderEnabled: true, ReminderWindowHours: 24},
		records: []store.Record{{
			Queue: domain.QueueReminder, ID: "apq_1", Recipient: "+15550000001",
			ScheduledAt: now.Add(-time.Hour), // started before we got to it
		}},
		finalizeOK: true,
	}
	snd := &fakeSender{}
	eng := testEngine(fs, snd)
	eng.now = func() time.Time { return now }

	eng.Tick(context.Background(), Reminder())

	if len(snd.calls) != 0 {
		t.Fatalf("out-of-window record must not send, got %d", len(snd.calls))
	}
	if len(fs.finalizes) != 0 {
		t.Fatalf("out-of-window record keeps its claim for the reclaimer, got %+v", fs.finalizes)
	}
}

func TestTickIngestProjectsAppointments(t *testing.T) {
	at := time.Date(2025, 4, 1, 9, 0, 0, 0, time.UTC)
	fs := &fakeStore{
		sources: []store.AppointmentSource{{
			PatientID: "pat_1", DoctorID: "doc_1", ScheduledAt: at,
			Recipient: "+15550000001", PatientName: "Anna Kowalska", DoctorName: "Dr. Lee",
		}},
		finalizeOK: true,
	}
	snd := &fakeSender{}
	eng := testEngine(fs, snd)

	eng.Tick(context.Background(), Confirm())

	if len(fs.inserted) != 1 {
		t.Fatalf("expected one queue insert, got %d", len(fs.inserted))
	}
	e := fs.inserted[0]
	if !strings.HasPrefix(e.ID, "apq_") {
		t.Fatalf("expected apq_ entry id, got %q", e.ID)
	}
	if e.PatientID != "pat_1" || e.DoctorID != "doc_1" || !e.ScheduledAt.Equal(at) {
		t.Fatalf("unexpected entry %+v", e)
	}
	if e.Recipient != "+15550000001" || e.PatientName != "Anna Kowalska" || e.DoctorName != "Dr. Lee" {
		t.Fatalf("entry must carry the denormalized payload, got %+v", e)
	}
}

func TestTickWelcomeDoesNotIngest(t *testing.T) {
	fs := &fakeStore{
		sources:    []store.AppointmentSource{{PatientID: "pat_1"}},
		finalizeOK: true,
	}
	snd := &fakeSender{}
	eng := testEngine(fs, snd)

	eng.Tick(context.Background(), Welcome())

	if len(fs.inserted) != 0 {
		t.Fatalf("welcome tick must not ingest appointments, got %d", len(fs.inserted))
	}
}
