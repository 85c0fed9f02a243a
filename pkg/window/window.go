package window

import (
	"errors"
	"fmt"
	"time"
)

// Name identifies one of the supported statistics windows
type Name string

const (
	// Month covers the calendar month leading up to now
	Month Name = "month"
	// Year covers the current academic year, starting September 1
	Year Name = "year"
	// All has no lower bound
	All Name = "all"
)

// AcademicYearStart is the month in which the academic year begins
const AcademicYearStart = time.September

// ErrUnknownWindow is returned when a window name is not recognized
var ErrUnknownWindow = errors.New("unknown time window")

// Defaults returns the windows indexed on every run, in order
func Defaults() []Name {
	return []Name{Month, Year, All}
}

// Range is a half-open [Start, End) interval. A zero Start means the range
// has no lower bound.
type Range struct {
	Start time.Time
	End   time.Time
}

// Unbounded reports whether the range has no lower bound
func (r Range) Unbounded() bool {
	return r.Start.IsZero()
}

// Resolve computes the concrete range for a window at the given instant.
// The second return value is false when the window is not recognized; the
// returned range is then empty and callers should treat the query as unfiltered.
func Resolve(name Name, now time.Time) (Range, bool) {
	switch name {
	case Month:
		return Range{Start: monthsBefore(now, 1), End: now}, true
	case Year:
		return Range{Start: AcademicYearBegin(now), End: now}, true
	case All:
		return Range{End: now}, true
	default:
		return Range{}, false
	}
}

// Parse validates a window name
func Parse(s string) (Name, error) {
	switch n := Name(s); n {
	case Month, Year, All:
		return n, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownWindow, s)
	}
}

// AcademicYearBegin returns midnight on September 1 of the academic year that
// contains now. Dates before September belong to the year that started the
// previous September.
func AcademicYearBegin(now time.Time) time.Time {
	year := now.Year()
	if now.Month() < AcademicYearStart {
		year--
	}
	return time.Date(year, AcademicYearStart, 1, 0, 0, 0, 0, now.Location())
}

// monthsBefore steps back n calendar months, clamping the day to the length
// of the target month (March 31 minus one month is February 28 or 29).
func monthsBefore(t time.Time, n int) time.Time {
	y, m, d := t.Date()
	first := time.Date(y, m-time.Month(n), 1, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
	if last := daysIn(first.Year(), first.Month(), t.Location()); d > last {
		d = last
	}
	return first.AddDate(0, 0, d-1)
}

func daysIn(year int, month time.Month, loc *time.Location) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, loc).Day()
}

// Column returns the storage column suffix for the window
func (n Name) Column() string {
	switch n {
	case Month:
		return "last_month"
	case Year:
		return "academic_year"
	case All:
		return "total"
	default:
		return ""
	}
}

func (n Name) String() string {
	return string(n)
}
