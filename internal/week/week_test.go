package week

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustLoad(t *testing.T, name string) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation(name)
	if err != nil {
		t.Skipf("timezone %s unavailable: %v", name, err)
	}
	return loc
}

func TestDefaultAnchorIsMondayEveryDay(t *testing.T) {
	for _, tz := range []string{"UTC", "Asia/Seoul", "America/New_York"} {
		loc := mustLoad(t, tz)
		day := time.Date(2023, 1, 1, 13, 45, 0, 0, loc)
		end := time.Date(2026, 1, 1, 0, 0, 0, 0, loc)
		for ; day.Before(end); day = day.AddDate(0, 0, 1) {
			a := DefaultAnchor(day)
			require.Equal(t, time.Monday, a.Weekday(), "%s %s", tz, day)
			require.Equal(t, 0, a.Hour())
			require.False(t, a.After(day), "anchor after today for %s", day)
			require.True(t, day.Sub(a) < 7*24*time.Hour+time.Hour, "anchor too far back for %s", day)
		}
	}
}

func TestDefaultAnchorCases(t *testing.T) {
	tests := []struct {
		name  string
		today time.Time
		want  string
	}{
		{"wednesday", time.Date(2024, 5, 15, 10, 0, 0, 0, time.UTC), "2024-05-13"},
		{"monday", time.Date(2024, 5, 13, 0, 0, 0, 0, time.UTC), "2024-05-13"},
		{"sunday", time.Date(2024, 5, 19, 23, 59, 0, 0, time.UTC), "2024-05-13"},
		{"new year", time.Date(2025, 1, 1, 8, 0, 0, 0, time.UTC), "2024-12-30"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DefaultAnchor(tt.today).Format(DateLayout))
		})
	}
}

func TestDeriveWeekDatesConsecutive(t *testing.T) {
	loc := mustLoad(t, "America/New_York")
	r := NewResolver(time.Date(2023, 1, 4, 12, 0, 0, 0, loc))
	for i := 0; i < 160; i++ {
		anchor := r.Anchor()
		dates := r.WeekDates()
		assert.True(t, dates[0].Equal(anchor))
		for j := 1; j < len(dates); j++ {
			y, m, d := dates[j-1].AddDate(0, 0, 1).Date()
			gy, gm, gd := dates[j].Date()
			require.Equal(t, []int{y, int(m), d}, []int{gy, int(gm), gd})
			require.Equal(t, 0, dates[j].Hour())
		}
		ly, lm, ld := dates[6].Date()
		wy, wm, wd := anchor.AddDate(0, 0, 6).Date()
		require.Equal(t, []int{wy, int(wm), wd}, []int{ly, int(lm), ld})

		require.NoError(t, r.SetAnchor(anchor.AddDate(0, 0, 7)))
	}
}

func TestDeriveWeekDatesYearRollover(t *testing.T) {
	dates := DeriveWeekDates(time.Date(2024, 12, 30, 0, 0, 0, 0, time.UTC))
	var got []string
	for _, d := range dates {
		got = append(got, d.Format(DateLayout))
	}
	assert.Equal(t, []string{
		"2024-12-30", "2024-12-31", "2025-01-01", "2025-01-02",
		"2025-01-03", "2025-01-04", "2025-01-05",
	}, got)
}

func TestSetAnchorOnlyMondays(t *testing.T) {
	loc := mustLoad(t, "Asia/Seoul")
	r := NewResolver(time.Date(2024, 1, 1, 9, 0, 0, 0, loc))
	day := time.Date(2024, 1, 1, 0, 0, 0, 0, loc)
	for i := 0; i < 400; i++ {
		before := r.Anchor()
		err := r.SetAnchor(day)
		if day.Weekday() == time.Monday {
			require.NoError(t, err, day)
			assert.True(t, r.Anchor().Equal(day))
		} else {
			require.Error(t, err, day)
			assert.True(t, errors.Is(err, ErrNotMonday))
			assert.True(t, r.Anchor().Equal(before), "anchor changed on rejection")
		}
		day = day.AddDate(0, 0, 1)
	}
}

func TestWednesdayRejectsTuesday(t *testing.T) {
	r := NewResolver(time.Date(2024, 5, 15, 10, 0, 0, 0, time.UTC))
	monday := r.Anchor()
	require.Equal(t, "2024-05-13", monday.Format(DateLayout))

	tuesday, err := ParseDate("2024-05-21", time.UTC)
	require.NoError(t, err)
	err = r.SetAnchor(tuesday)

	var nm *NotMondayError
	require.True(t, errors.As(err, &nm))
	assert.Equal(t, "2024-05-21", nm.Candidate.Format(DateLayout))
	assert.True(t, r.Anchor().Equal(monday))
	assert.True(t, r.WeekDates()[0].Equal(monday))
}

func TestSetAnchorNormalizesToMidnight(t *testing.T) {
	r := NewResolver(time.Date(2024, 5, 15, 0, 0, 0, 0, time.UTC))
	require.NoError(t, r.SetAnchor(time.Date(2024, 6, 3, 17, 20, 0, 0, time.UTC)))
	assert.Equal(t, time.Date(2024, 6, 3, 0, 0, 0, 0, time.UTC), r.Anchor())
}

func TestParseDate(t *testing.T) {
	loc := mustLoad(t, "Asia/Seoul")
	d, err := ParseDate("2024-03-04", loc)
	require.NoError(t, err)
	assert.Equal(t, time.Monday, d.Weekday())
	assert.Equal(t, loc, d.Location())

	_, err = ParseDate("04/03/2024", loc)
	assert.Error(t, err)
}
