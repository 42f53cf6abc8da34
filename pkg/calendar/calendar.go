// Package calendar converts instants to hospital-local calendar days. A day is
// represented as midnight UTC of that date so it round-trips through a
// PostgreSQL DATE column unchanged.
package calendar

import (
	"fmt"
	"time"
)

// DateOf returns the calendar day of t in loc.
func DateOf(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Today is DateOf(now, loc).
func Today(now time.Time, loc *time.Location) time.Time {
	return DateOf(now, loc)
}

// Days returns every day from start to end inclusive. It is empty when end
// precedes start.
func Days(start, end time.Time) []time.Time {
	var out []time.Time
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		out = append(out, d)
	}
	return out
}

// Span counts the days from start to end inclusive.
func Span(start, end time.Time) int {
	if end.Before(start) {
		return 0
	}
	return int(end.Sub(start).Hours()/24) + 1
}

// Parse reads a YYYY-MM-DD day.
func Parse(s string) (time.Time, error) {
	d, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse date %q: %w", s, err)
	}
	return d, nil
}

// LoadLocation wraps time.LoadLocation with a clearer error.
func LoadLocation(name string) (*time.Location, error) {
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", name, err)
	}
	return loc, nil
}
