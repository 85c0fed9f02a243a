package window

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestResolve_Month(t *testing.T) {
	tests := []struct {
		name  string
		now   time.Time
		start time.Time
	}{
		{"mid month", date(2024, time.March, 15), date(2024, time.February, 15)},
		{"clamped to leap day", date(2024, time.March, 31), date(2024, time.February, 29)},
		{"clamped to short month", date(2023, time.March, 30), date(2023, time.February, 28)},
		{"across year", date(2024, time.January, 10), date(2023, time.December, 10)},
		{"keeps time of day", time.Date(2024, 5, 20, 13, 45, 0, 0, time.UTC), time.Date(2024, 4, 20, 13, 45, 0, 0, time.UTC)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, ok := Resolve(Month, tt.now)
			require.True(t, ok)
			assert.Equal(t, tt.start, r.Start)
			assert.Equal(t, tt.now, r.End)
		})
	}
}

func TestResolve_AcademicYearBoundary(t *testing.T) {
	tests := []struct {
		now   time.Time
		start time.Time
	}{
		{date(2024, time.August, 31), date(2023, time.September, 1)},
		{date(2024, time.September, 1), date(2024, time.September, 1)},
		{date(2024, time.January, 1), date(2023, time.September, 1)},
		{date(2024, time.December, 31), date(2024, time.September, 1)},
		{time.Date(2024, time.August, 31, 23, 59, 59, 0, time.UTC), date(2023, time.September, 1)},
	}

	for _, tt := range tests {
		t.Run(tt.now.Format(time.RFC3339), func(t *testing.T) {
			r, ok := Resolve(Year, tt.now)
			require.True(t, ok)
			assert.Equal(t, tt.start, r.Start)
			assert.Equal(t, tt.now, r.End)
		})
	}
}

func TestResolve_All(t *testing.T) {
	now := date(2024, time.June, 1)
	r, ok := Resolve(All, now)
	require.True(t, ok)
	assert.True(t, r.Unbounded())
	assert.Equal(t, now, r.End)
}

func TestResolve_StartNotAfterEnd(t *testing.T) {
	for d := date(2023, time.January, 1); d.Before(date(2025, time.January, 1)); d = d.AddDate(0, 0, 1) {
		for _, w := range Defaults() {
			r, ok := Resolve(w, d)
			require.True(t, ok)
			if !r.Unbounded() {
				assert.False(t, r.Start.After(r.End), "%s at %s", w, d)
			}
		}
	}
}

func TestResolve_Unknown(t *testing.T) {
	r, ok := Resolve(Name("week"), date(2024, time.June, 1))
	assert.False(t, ok)
	assert.Equal(t, Range{}, r)
}

func TestParse(t *testing.T) {
	for _, s := range []string{"month", "year", "all"} {
		n, err := Parse(s)
		require.NoError(t, err)
		assert.Equal(t, Name(s), n)
	}

	_, err := Parse("fortnight")
	assert.ErrorIs(t, err, ErrUnknownWindow)
}

func TestColumn(t *testing.T) {
	assert.Equal(t, "last_month", Month.Column())
	assert.Equal(t, "academic_year", Year.Column())
	assert.Equal(t, "total", All.Column())
	assert.Equal(t, "", Name("x").Column())
}
