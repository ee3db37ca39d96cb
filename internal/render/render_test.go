package render

import (
	"strings"
	"testing"
	"time"

	"clinotify/internal/domain"
	"clinotify/internal/store"
)

func testProfile() store.Profile {
	return store.Profile{
		ClinicName: "Smile Dental",
		Signature:  "Smile Dental, 555-0100",
		Timezone:   "Europe/Warsaw",
	}
}

func TestRenderWelcome(t *testing.T) {
	r := New()
	rec := store.Record{Queue: domain.QueueWelcome, PatientName: "Anna Kowalska"}

	body, err := r.Render(rec, testProfile())
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if !strings.Contains(body, "Anna Kowalska") || !strings.Contains(body, "Smile Dental") {
		t.Fatalf("unexpected body %q", body)
	}
}

func TestRenderReminderClinicTimezone(t *testing.T) {
	r := New()
	// 08:30 UTC is 09:30 in Warsaw during winter.
	at := time.Date(2025, 1, 15, 8, 30, 0, 0, time.UTC)
	rec := store.Record{
		Queue:       domain.QueueReminder,
		PatientName: "Jan Nowak",
		DoctorName:  "Dr. Lee",
		ScheduledAt: at,
	}

	body, err := r.Render(rec, testProfile())
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if !strings.Contains(body, "15 Jan 2025") {
		t.Fatalf("expected clinic-local date in %q", body)
	}
	if !strings.Contains(body, "09:30") {
		t.Fatalf("expected clinic-local time in %q", body)
	}
	if !strings.Contains(body, "Dr. Lee") {
		t.Fatalf("expected doctor name in %q", body)
	}
}

func TestRenderUnknownTimezoneFallsBackToUTC(t *testing.T) {
	r := New()
	at := time.Date(2025, 1, 15, 8, 30, 0, 0, time.UTC)
	rec := store.Record{Queue: domain.QueueConfirm, PatientName: "Jan", DoctorName: "Dr. Lee", ScheduledAt: at}
	p := testProfile()
	p.Timezone = "Mars/Olympus"

	body, err := r.Render(rec, p)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if !strings.Contains(body, "08:30") {
		t.Fatalf("expected UTC time in %q", body)
	}
}

func TestRenderUnknownQueue(t *testing.T) {
	r := New()
	if _, err := r.Render(store.Record{Queue: domain.Queue("bogus")}, testProfile()); err == nil {
		t.Fatalf("expected error for unknown queue")
	}
}

func TestApply(t *testing.T) {
	got := Apply("hi {a} {b} {missing}", map[string]string{"a": "x", "b": "y"})
	if got != "hi x y {missing}" {
		t.Fatalf("got %q", got)
	}
}
