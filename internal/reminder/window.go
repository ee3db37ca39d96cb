// Package reminder decides when an appointment sits inside the send window.
package reminder

import "time"

// Window is the reminder eligibility rule. An appointment is eligible from
// span before its start until the start itself; appointments already started
// are never eligible.
type Window struct {
	Enabled bool
	Span    time.Duration
}

// Contains reports whether now falls within [appointmentAt-span, appointmentAt).
// A disabled window contains nothing.
func (w Window) Contains(now, appointmentAt time.Time) bool {
	if !w.Enabled || w.Span <= 0 {
		return false
	}
	return appointmentAt.After(now) && !appointmentAt.After(now.Add(w.Span))
}

// FromHours builds a window from the stored settings row.
func FromHours(enabled bool, hours int) Window {
	return Window{Enabled: enabled, Span: time.Duration(hours) * time.Hour}
}
