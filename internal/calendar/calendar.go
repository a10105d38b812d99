// Package calendar provides day-granularity date arithmetic.
//
// All recurrence and streak comparisons happen on whole calendar days in a
// fixed reference time zone. Time-of-day never participates, so daylight
// saving transitions cannot shift an occurrence onto a neighbouring day.
package calendar

import (
	"fmt"
	"time"
)

// Layout is the textual form of a Day ("2006-01-02").
const Layout = "2006-01-02"

const secondsPerDay = 24 * 60 * 60

// Day is a calendar day, counted in days since 1970-01-01.
//
// The zero value is 1970-01-01. Day values are zone-free; the zone only
// matters when converting to or from a time.Time (see Calendar).
type Day int64

// Date builds a Day from a proleptic Gregorian year, month and day.
// Out-of-range values are normalized the same way time.Date normalizes them.
func Date(year int, month time.Month, day int) Day {
	t := time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
	return Day(t.Unix() / secondsPerDay)
}

// ParseDay parses a "2006-01-02" string.
func ParseDay(s string) (Day, error) {
	t, err := time.Parse(Layout, s)
	if err != nil {
		return 0, fmt.Errorf("parse day %q: %w", s, err)
	}
	return Day(t.Unix() / secondsPerDay), nil
}

// MustParseDay is ParseDay for literals in tests and fixtures.
func MustParseDay(s string) Day {
	d, err := ParseDay(s)
	if err != nil {
		panic(err)
	}
	return d
}

// AddDays returns d shifted by n days.
func (d Day) AddDays(n int) Day {
	return d + Day(n)
}

// Sub returns the number of days from other to d (d - other).
func (d Day) Sub(other Day) int {
	return int(d - other)
}

// Before reports whether d is strictly earlier than other.
func (d Day) Before(other Day) bool { return d < other }

// After reports whether d is strictly later than other.
func (d Day) After(other Day) bool { return d > other }

// Weekday returns the day of the week. 1970-01-01 was a Thursday.
func (d Day) Weekday() time.Weekday {
	w := (int64(d) + int64(time.Thursday)) % 7
	if w < 0 {
		w += 7
	}
	return time.Weekday(w)
}

// WeekStart returns the Monday on or before d.
func (d Day) WeekStart() Day {
	offset := (int(d.Weekday()) + 6) % 7 // Monday=0 ... Sunday=6
	return d.AddDays(-offset)
}

// UTC returns midnight of d in UTC.
func (d Day) UTC() time.Time {
	return time.Unix(int64(d)*secondsPerDay, 0).UTC()
}

// String formats d as "2006-01-02".
func (d Day) String() string {
	return d.UTC().Format(Layout)
}

// MarshalText implements encoding.TextMarshaler.
func (d Day) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Day) UnmarshalText(b []byte) error {
	parsed, err := ParseDay(string(b))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// Calendar converts instants to Days in a fixed reference zone.
type Calendar struct {
	loc *time.Location
}

// New returns a Calendar for loc. A nil loc means UTC.
func New(loc *time.Location) Calendar {
	if loc == nil {
		loc = time.UTC
	}
	return Calendar{loc: loc}
}

// Load returns a Calendar for the named IANA zone ("" means UTC).
func Load(name string) (Calendar, error) {
	if name == "" {
		return New(time.UTC), nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return Calendar{}, fmt.Errorf("load time zone %q: %w", name, err)
	}
	return New(loc), nil
}

// Location returns the reference zone.
func (c Calendar) Location() *time.Location {
	if c.loc == nil {
		return time.UTC
	}
	return c.loc
}

// Day returns the calendar day containing t in the reference zone.
func (c Calendar) Day(t time.Time) Day {
	y, m, dd := t.In(c.Location()).Date()
	return Date(y, m, dd)
}

// Start returns midnight of d in the reference zone.
func (c Calendar) Start(d Day) time.Time {
	u := d.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, c.Location())
}
