package util

import "strings"

// NormalizePhone strips formatting characters so that equality checks and
// dedup keys see one canonical form. A leading + is preserved.
// TODO - may use libphonenumber
func NormalizePhone(p string) string {
	p = strings.TrimSpace(p)
	var b strings.Builder
	b.Grow(len(p))
	for i, r := range p {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '+' && i == 0:
			b.WriteRune(r)
		case r == ' ' || r == '-' || r == '(' || r == ')' || r == '.':
			// formatting only
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
