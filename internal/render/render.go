// Package render turns a claimed record plus the clinic profile into the
// outbound message body.
package render

import (
	"fmt"
	"strings"
	"time"

	"clinotify/internal/domain"
	"clinotify/internal/store"
)

// Default bodies per queue. Placeholders use the {var} scheme; unknown
// placeholders are left untouched so a bad template is visible in the
// delivered text rather than silently dropped.
var defaultTemplates = map[domain.Queue]string{
	domain.QueueWelcome:  "Hello {patientName}, welcome to {clinicName}! We are happy to have you with us. {signature}",
	domain.QueueConfirm:  "Dear {patientName}, your appointment with {doctorName} on {date} at {time} is confirmed. {signature}",
	domain.QueueReminder: "Dear {patientName}, this is a reminder of your appointment with {doctorName} on {date} at {time}. {signature}",
}

type Renderer struct {
	templates map[domain.Queue]string
}

func New() *Renderer {
	return &Renderer{templates: defaultTemplates}
}

// Render builds the message body for one record. Appointment instants are
// stored in UTC; they are converted to the clinic timezone for display only.
func (r *Renderer) Render(rec store.Record, p store.Profile) (string, error) {
	tpl, ok := r.templates[rec.Queue]
	if !ok {
		return "", fmt.Errorf("no template for queue %q", rec.Queue)
	}

	loc, err := time.LoadLocation(p.Timezone)
	if err != nil || p.Timezone == "" {
		loc = time.UTC
	}
	local := rec.ScheduledAt.In(loc)

	vars := map[string]string{
		"patientName": rec.PatientName,
		"doctorName":  rec.DoctorName,
		"date":        local.Format("2 Jan 2006"),
		"time":        local.Format("15:04"),
		"clinicName":  p.ClinicName,
		"signature":   p.Signature,
	}

	body := strings.TrimSpace(Apply(tpl, vars))
	if body == "" {
		return "", fmt.Errorf("empty body for queue %q", rec.Queue)
	}
	return body, nil
}

// Apply performs simple {var} replacement.
func Apply(body string, vars map[string]string) string {
	out := body
	for k, v := range vars {
		out = strings.ReplaceAll(out, "{"+k+"}", v)
	}
	return out
}
