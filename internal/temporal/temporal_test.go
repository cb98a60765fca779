package temporal

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// wed is Wednesday 2024-03-13 10:15 local.
var wed = time.Date(2024, time.March, 13, 10, 15, 0, 0, time.UTC)

func at(y int, m time.Month, d, h, min int) time.Time {
	return time.Date(y, m, d, h, min, 0, 0, time.UTC)
}

func TestResolve_TomorrowAt6pm(t *testing.T) {
	for i := 0; i < 400; i += 37 {
		now := wed.AddDate(0, 0, i).Add(time.Duration(i) * time.Minute)
		got := Resolve("tomorrow at 6pm", now)
		next := now.AddDate(0, 0, 1)
		want := time.Date(next.Year(), next.Month(), next.Day(), 18, 0, 0, 0, now.Location())
		assert.Equal(t, want, got, "now=%s", now)
	}
}

func TestResolve_BareHourMeridiemInference(t *testing.T) {
	gym := Resolve("gym at 7", wed)
	dinner := Resolve("dinner at 7", wed)

	assert.Equal(t, 7, gym.Hour(), "fitness context keeps AM")
	assert.Equal(t, 19, dinner.Hour(), "social/default context is PM")
	assert.Equal(t, gym.YearDay(), dinner.YearDay())
}

func TestResolve_WeekdayNeverToday(t *testing.T) {
	names := []string{"sunday", "monday", "tuesday", "wednesday", "thursday", "friday", "saturday"}
	for offset := 0; offset < 7; offset++ {
		now := wed.AddDate(0, 0, offset)
		for i, name := range names {
			for _, phrase := range []string{"lunch " + name, "lunch next " + name, "lunch every " + name} {
				got := ResolveDate(phrase, now)
				today := midnight(now)
				assert.True(t, got.After(today), "%q from %s resolved to %s", phrase, now.Weekday(), got)
				assert.LessOrEqual(t, got.Sub(today), 7*24*time.Hour)
				assert.Equal(t, time.Weekday(i), got.Weekday())
			}
		}
	}
}

func TestResolve_Dates(t *testing.T) {
	tests := []struct {
		name string
		text string
		want time.Time
	}{
		{"today", "call mom today", at(2024, 3, 13, 12, 0)},
		{"tomorrow", "call mom tomorrow", at(2024, 3, 14, 12, 0)},
		{"next week", "review next week", at(2024, 3, 20, 12, 0)},
		{"day after tomorrow", "pay rent the day after tomorrow", at(2024, 3, 15, 12, 0)},
		{"digits from now", "dentist 3 days from now", at(2024, 3, 16, 12, 0)},
		{"in words", "dentist in two days", at(2024, 3, 15, 12, 0)},
		{"a week from now", "party a week from now", at(2024, 3, 20, 12, 0)},
		{"one week from now", "party one week from now", at(2024, 3, 20, 12, 0)},
		{"weeks from now", "trip 2 weeks from now", at(2024, 3, 27, 12, 0)},
		{"in ten days", "trip in ten days", at(2024, 3, 23, 12, 0)},
		{"month day today", "exam march 13", at(2024, 3, 13, 12, 0)},
		{"month day ordinal", "exam Mar 20th", at(2024, 3, 20, 12, 0)},
		{"day of month", "exam 13th of march", at(2024, 3, 13, 12, 0)},
		{"passed date rolls to next year", "exam feb 2", at(2025, 2, 2, 12, 0)},
		{"explicit year", "exam march 1, 2026", at(2026, 3, 1, 12, 0)},
		{"numeric", "exam 3/14", at(2024, 3, 14, 12, 0)},
		{"numeric after at", "meeting at 3/13", at(2024, 3, 13, 12, 0)},
		{"numeric after at with time", "meeting at 3/14 at 4pm", at(2024, 3, 14, 16, 0)},
		{"numeric after by then bare hour", "report by 3/15 at 9", at(2024, 3, 15, 21, 0)},
		{"numeric four digit year", "exam 3/13/2024", at(2024, 3, 13, 12, 0)},
		{"numeric two digit year", "exam 4/1/25", at(2025, 4, 1, 12, 0)},
		{"iso", "exam 2024-05-01", at(2024, 5, 1, 12, 0)},
		{"invalid day falls back", "exam feb 31", at(2024, 3, 14, 12, 0)},
		{"no signal", "buy milk", at(2024, 3, 14, 12, 0)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Resolve(tt.text, wed))
		})
	}
}

func TestResolveTime(t *testing.T) {
	tests := []struct {
		text   string
		hour   int
		minute int
		ok     bool
	}{
		{"at 6pm", 18, 0, true},
		{"6:30 PM", 18, 30, true},
		{"7 a.m. standup", 7, 0, true},
		{"12am", 0, 0, true},
		{"12pm", 12, 0, true},
		{"lunch at noon", 12, 0, true},
		{"deploy at midnight", 0, 0, true},
		{"run at 6", 6, 0, true},
		{"morning workout at 8:15", 8, 15, true},
		{"drinks at 9", 21, 0, true},
		{"call at 3", 15, 0, true},
		{"meeting at 14:30", 14, 30, true},
		{"sync 16:45", 16, 45, true},
		{"coffee in the morning", 9, 0, true},
		{"walk this afternoon", 14, 0, true},
		{"movie in the evening", 18, 0, true},
		{"movie tonight", 20, 0, true},
		{"buy milk", 0, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			h, m, ok := ResolveTime(tt.text)
			require.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.hour, h)
			assert.Equal(t, tt.minute, m)
		})
	}
}

func TestResolve_NeverZero(t *testing.T) {
	for _, text := range []string{"", "   ", "???", "at 99", "13/45", "in many days"} {
		got := Resolve(text, wed)
		assert.False(t, got.IsZero(), "text %q", text)
		assert.True(t, got.After(wed), "text %q resolved to %s", text, got)
	}
}

func TestNormalizeYear(t *testing.T) {
	assert.Equal(t, 2024, NormalizeYear(24))
	assert.Equal(t, 2000, NormalizeYear(0))
	assert.Equal(t, 1999, NormalizeYear(1999))
}

func TestHasDateSignal(t *testing.T) {
	assert.True(t, HasDateSignal("lunch friday"))
	assert.True(t, HasDateSignal("lunch at 1pm"))
	assert.True(t, HasDateSignal("lunch in 2 days"))
	assert.False(t, HasDateSignal("what's the weather like"))
}

func TestSpans(t *testing.T) {
	spans := Spans("Dentist tomorrow at 3pm")
	assert.Contains(t, spans, "tomorrow")
	assert.Contains(t, spans, "3pm")

	spans = Spans("Essay due next Friday afternoon")
	assert.Contains(t, spans, "afternoon")
	assert.Contains(t, spans, "next Friday")
	assert.NotContains(t, spans, "noon")
}
