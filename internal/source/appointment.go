// Package source fetches and normalizes the current appointment listing from
// the municipal booking system. Parsing and validation happen once, here at
// the boundary; the rest of the system only sees Appointment values.
package source

import (
	"fmt"
	"strings"
	"time"
)

// Date is a calendar date without time-of-day. The booking source offers
// day-granular slots only, and deadline matching is day-granular too.
//
// The zero value is "no date". Date is comparable and safe as a map key.
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

func NewDate(year int, month time.Month, day int) Date {
	return Date{Year: year, Month: month, Day: day}
}

// DateOf truncates t to its calendar date in t's location.
func DateOf(t time.Time) Date {
	y, m, d := t.Date()
	return Date{Year: y, Month: m, Day: d}
}

// ParseDate parses the user-facing DD.MM.YYYY form. Impossible dates
// (31.02.2025) are rejected, not normalized.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse("02.01.2006", strings.TrimSpace(s))
	if err != nil {
		return Date{}, fmt.Errorf("invalid date %q: %w", s, err)
	}
	return DateOf(t), nil
}

func (d Date) IsZero() bool { return d == Date{} }

func (d Date) time() time.Time {
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, time.UTC)
}

func (d Date) Before(o Date) bool { return d.time().Before(o.time()) }
func (d Date) After(o Date) bool  { return d.time().After(o.time()) }

// AddDays returns the date n days later (n may be negative).
func (d Date) AddDays(n int) Date {
	return DateOf(d.time().AddDate(0, 0, n))
}

// String renders the user-facing DD.MM.YYYY form.
func (d Date) String() string {
	return fmt.Sprintf("%02d.%02d.%04d", d.Day, int(d.Month), d.Year)
}

// ISO renders YYYY-MM-DD, used for storage keys and sorting.
func (d Date) ISO() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, int(d.Month), d.Day)
}

// ParseISO parses the YYYY-MM-DD storage form.
func ParseISO(s string) (Date, error) {
	t, err := time.Parse("2006-01-02", strings.TrimSpace(s))
	if err != nil {
		return Date{}, fmt.Errorf("invalid date %q: %w", s, err)
	}
	return DateOf(t), nil
}

// Appointment is one bookable slot. The source provides no opaque ids, so the
// normalized (location, date) pair is the identity itself: Appointment is
// comparable and doubles as its own identity in dedup and history state.
type Appointment struct {
	Location string
	Date     Date
}

// Key is the stable storage encoding of the identity.
func (a Appointment) Key() string {
	return a.Location + "|" + a.Date.ISO()
}

// ParseKey reverses Key.
func ParseKey(s string) (Appointment, error) {
	i := strings.LastIndex(s, "|")
	if i <= 0 || i == len(s)-1 {
		return Appointment{}, fmt.Errorf("invalid appointment key %q", s)
	}
	d, err := ParseISO(s[i+1:])
	if err != nil {
		return Appointment{}, fmt.Errorf("invalid appointment key %q: %w", s, err)
	}
	return Appointment{Location: s[:i], Date: d}, nil
}

// normalizeLocation collapses whitespace so the same Bürgeramt never shows up
// under two identities.
func normalizeLocation(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
