// Package types provides shared type definitions for the IBS backtester.
package types

import (
	"fmt"
	"time"
)

const secondsPerDay = 86400

// Day is a calendar date encoded as whole days since the Unix epoch (UTC).
// It is the key type for every date→index map in the engine, so lookups
// never depend on time zones, wall-clock components or time.Time equality.
type Day int

// DayOf truncates a timestamp to its UTC calendar date.
func DayOf(t time.Time) Day {
	secs := t.UTC().Unix()
	d := secs / secondsPerDay
	if secs%secondsPerDay < 0 {
		d--
	}
	return Day(d)
}

// NewDay builds a Day from a calendar date.
func NewDay(year int, month time.Month, day int) Day {
	return DayOf(time.Date(year, month, day, 0, 0, 0, 0, time.UTC))
}

// ParseDay parses an ISO date (2006-01-02).
func ParseDay(s string) (Day, error) {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return 0, fmt.Errorf("invalid date %q: %w", s, err)
	}
	return DayOf(t), nil
}

// Time returns midnight UTC of the date.
func (d Day) Time() time.Time {
	return time.Unix(int64(d)*secondsPerDay, 0).UTC()
}

// Weekday returns the day of week.
func (d Day) Weekday() time.Weekday {
	return d.Time().Weekday()
}

func (d Day) String() string {
	return d.Time().Format("2006-01-02")
}

// MarshalJSON renders the date as an ISO string.
func (d Day) MarshalJSON() ([]byte, error) {
	return []byte(`"` + d.String() + `"`), nil
}

// UnmarshalJSON accepts an ISO date string.
func (d *Day) UnmarshalJSON(data []byte) error {
	s := string(data)
	if len(s) < 2 || s[0] != '"' || s[len(s)-1] != '"' {
		return fmt.Errorf("invalid date json %s", s)
	}
	parsed, err := ParseDay(s[1 : len(s)-1])
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}
