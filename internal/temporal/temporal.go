// Package temporal turns natural-language date and time fragments into
// concrete timestamps relative to a reference "now".
//
// Resolution never fails: text without any date signal resolves to
// tomorrow, text without a time resolves to noon. Dates are matched in a
// fixed order (relative words, relative offsets, weekdays, calendar dates)
// and the first match wins. Times are matched independently and merged onto
// the resolved date.
package temporal

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Default clock values.
const (
	DefaultHour = 12

	MorningHour   = 9
	AfternoonHour = 14
	EveningHour   = 18
	TonightHour   = 20
)

// morningCues flip a bare 5–11 hour to AM. Matched as substrings.
var morningCues = []string{"gym", "workout", "exercise", "run", "morning"}

var numberWords = map[string]int{
	"a": 1, "an": 1, "one": 1, "two": 2, "three": 3, "four": 4, "five": 5,
	"six": 6, "seven": 7, "eight": 8, "nine": 9, "ten": 10,
}

var weekdays = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}

var months = map[string]time.Month{
	"jan": time.January, "feb": time.February, "mar": time.March,
	"apr": time.April, "may": time.May, "jun": time.June,
	"jul": time.July, "aug": time.August, "sep": time.September,
	"oct": time.October, "nov": time.November, "dec": time.December,
}

const (
	numberPattern = `(\d+|a|an|one|two|three|four|five|six|seven|eight|nine|ten)`
	monthPattern  = `(jan(?:uary)?|feb(?:ruary)?|mar(?:ch)?|apr(?:il)?|may|june?|july?|aug(?:ust)?|sep(?:t(?:ember)?)?|oct(?:ober)?|nov(?:ember)?|dec(?:ember)?)`
)

var (
	// "3 days from now", "a week from now"
	fromNowRE = regexp.MustCompile(`\b` + numberPattern + `\s+(day|week)s?\s+from\s+now\b`)
	// "in 3 days", "in two weeks"
	inOffsetRE = regexp.MustCompile(`\bin\s+` + numberPattern + `\s+(day|week)s?\b`)

	weekdayRE = regexp.MustCompile(`\b(next\s+)?(monday|tuesday|wednesday|thursday|friday|saturday|sunday)s?\b`)

	// "march 13", "mar 13th, 2025"
	monthDayRE = regexp.MustCompile(`\b` + monthPattern + `\.?\s+(\d{1,2})(?:st|nd|rd|th)?(?:,?\s+(\d{4}))?\b`)
	// "13th of march", "13 march 2025"
	dayMonthRE = regexp.MustCompile(`\b(\d{1,2})(?:st|nd|rd|th)?\s+(?:of\s+)?` + monthPattern + `(?:,?\s+(\d{4}))?\b`)
	// "3/13", "3/13/24", "3/13/2024"
	numericDateRE = regexp.MustCompile(`\b(\d{1,2})/(\d{1,2})(?:/(\d{4}|\d{2}))?\b`)
	// "2024-03-13"
	isoDateRE = regexp.MustCompile(`\b(\d{4})-(\d{2})-(\d{2})\b`)

	// "6pm", "6:30 pm", "6 p.m."
	meridiemRE = regexp.MustCompile(`\b(\d{1,2})(?::(\d{2}))?\s*([ap])\.?m\b\.?`)
	// "at 7", "@ 7:30", "around 8"
	bareHourRE = regexp.MustCompile(`(?:\bat|@|\baround|\bby)\s*(\d{1,2})(?::(\d{2}))?\b`)
	// "14:30", "7:15"
	clockRE = regexp.MustCompile(`\b([01]?\d|2[0-3]):([0-5]\d)\b`)

	noonRE     = regexp.MustCompile(`\bnoon\b`)
	midnightRE = regexp.MustCompile(`\bmidnight\b`)
)

// Resolve returns the concrete timestamp described by text. It never fails:
// missing date → tomorrow, missing time → 12:00.
func Resolve(text string, now time.Time) time.Time {
	date := ResolveDate(text, now)
	hour, minute, ok := ResolveTime(text)
	if !ok {
		hour, minute = DefaultHour, 0
	}
	return time.Date(date.Year(), date.Month(), date.Day(), hour, minute, 0, 0, now.Location())
}

// ResolveDate returns midnight of the date described by text, or of
// tomorrow when nothing matches.
func ResolveDate(text string, now time.Time) time.Time {
	if d, ok := matchDate(strings.ToLower(text), now); ok {
		return d
	}
	return midnight(now).AddDate(0, 0, 1)
}

// HasDateSignal reports whether text contains any date or time phrase.
func HasDateSignal(text string) bool {
	lower := strings.ToLower(text)
	if _, ok := matchDate(lower, time.Now()); ok {
		return true
	}
	_, _, ok := ResolveTime(lower)
	return ok
}

func matchDate(lower string, now time.Time) (time.Time, bool) {
	today := midnight(now)

	// 1. relative words
	switch {
	case strings.Contains(lower, "today"), strings.Contains(lower, "tonight"):
		return today, true
	case strings.Contains(lower, "day after tomorrow"):
		return today.AddDate(0, 0, 2), true
	case strings.Contains(lower, "tomorrow"):
		return today.AddDate(0, 0, 1), true
	case strings.Contains(lower, "next week"):
		return today.AddDate(0, 0, 7), true
	}

	// 2. relative offsets
	for _, re := range []*regexp.Regexp{fromNowRE, inOffsetRE} {
		if m := re.FindStringSubmatch(lower); m != nil {
			n, ok := parseNumber(m[1])
			if !ok {
				continue
			}
			if m[2] == "week" {
				n *= 7
			}
			return today.AddDate(0, 0, n), true
		}
	}

	// 3. weekdays, always strictly after today
	if m := weekdayRE.FindStringSubmatch(lower); m != nil {
		return nextWeekday(today, weekdays[m[2]]), true
	}

	// 4. calendar dates
	if d, ok := matchCalendarDate(lower, today); ok {
		return d, true
	}

	return time.Time{}, false
}

func matchCalendarDate(lower string, today time.Time) (time.Time, bool) {
	if m := isoDateRE.FindStringSubmatch(lower); m != nil {
		y, _ := strconv.Atoi(m[1])
		mo, _ := strconv.Atoi(m[2])
		d, _ := strconv.Atoi(m[3])
		if t, ok := buildDate(y, time.Month(mo), d, today.Location()); ok {
			return t, true
		}
	}
	if m := monthDayRE.FindStringSubmatch(lower); m != nil {
		day, _ := strconv.Atoi(m[2])
		if t, ok := calendarDate(today, months[m[1][:3]], day, m[3]); ok {
			return t, true
		}
	}
	if m := dayMonthRE.FindStringSubmatch(lower); m != nil {
		day, _ := strconv.Atoi(m[1])
		if t, ok := calendarDate(today, months[m[2][:3]], day, m[3]); ok {
			return t, true
		}
	}
	if m := numericDateRE.FindStringSubmatch(lower); m != nil {
		mo, _ := strconv.Atoi(m[1])
		day, _ := strconv.Atoi(m[2])
		if mo >= 1 && mo <= 12 {
			if t, ok := calendarDate(today, time.Month(mo), day, m[3]); ok {
				return t, true
			}
		}
	}
	return time.Time{}, false
}

// calendarDate builds a date from parsed parts. A missing year means the next
// occurrence of that month/day on or after today.
func calendarDate(today time.Time, month time.Month, day int, yearStr string) (time.Time, bool) {
	if yearStr != "" {
		year, _ := strconv.Atoi(yearStr)
		year = NormalizeYear(year)
		return buildDate(year, month, day, today.Location())
	}
	t, ok := buildDate(today.Year(), month, day, today.Location())
	if !ok {
		return t, false
	}
	if t.Before(today) {
		return buildDate(today.Year()+1, month, day, today.Location())
	}
	return t, true
}

// NormalizeYear maps two-digit years to 2000+YY.
func NormalizeYear(y int) int {
	if y >= 0 && y < 100 {
		return 2000 + y
	}
	return y
}

func buildDate(year int, month time.Month, day int, loc *time.Location) (time.Time, bool) {
	if day < 1 || day > 31 || month < time.January || month > time.December {
		return time.Time{}, false
	}
	t := time.Date(year, month, day, 0, 0, 0, 0, loc)
	if t.Month() != month {
		return time.Time{}, false // Feb 30 and friends
	}
	return t, true
}

// ResolveTime extracts a clock time from text. ok is false when text
// carries no time signal.
func ResolveTime(text string) (hour, minute int, ok bool) {
	lower := strings.ToLower(text)

	// 1. explicit meridiem, noon, midnight
	if m := meridiemRE.FindStringSubmatch(lower); m != nil {
		h, _ := strconv.Atoi(m[1])
		if h >= 1 && h <= 12 {
			mm := atoiOr(m[2], 0)
			if m[3] == "p" && h != 12 {
				h += 12
			}
			if m[3] == "a" && h == 12 {
				h = 0
			}
			return h, mm, true
		}
	}
	if noonRE.MatchString(lower) {
		return 12, 0, true
	}
	if midnightRE.MatchString(lower) {
		return 0, 0, true
	}

	// 2. bare hours with context-sensitive meridiem
	for _, loc := range bareHourRE.FindAllStringSubmatchIndex(lower, -1) {
		if startsDate(lower, loc[1]) {
			continue
		}
		h := atoiOr(lower[loc[2]:loc[3]], -1)
		mm := 0
		if loc[4] >= 0 {
			mm = atoiOr(lower[loc[4]:loc[5]], 0)
		}
		if h, mm, ok := inferBareHour(lower, h, mm); ok {
			return h, mm, true
		}
		break
	}
	if m := clockRE.FindStringSubmatch(lower); m != nil {
		if h, mm, ok := inferBareHour(lower, atoiOr(m[1], -1), atoiOr(m[2], 0)); ok {
			return h, mm, true
		}
	}

	// 3. named periods
	switch {
	case strings.Contains(lower, "tonight"):
		return TonightHour, 0, true
	case strings.Contains(lower, "morning"):
		return MorningHour, 0, true
	case strings.Contains(lower, "afternoon"):
		return AfternoonHour, 0, true
	case strings.Contains(lower, "evening"):
		return EveningHour, 0, true
	}

	return 0, 0, false
}

// startsDate reports whether the number ending at i continues as a date
// ("at 3/13", "by 4-1", "on 12.5").
func startsDate(lower string, i int) bool {
	if i+1 >= len(lower) {
		return false
	}
	switch lower[i] {
	case '/', '-', '.':
		return lower[i+1] >= '0' && lower[i+1] <= '9'
	}
	return false
}

// inferBareHour applies the meridiem heuristic to an hour written without
// am/pm. Hours 5–11 are AM in fitness/morning context and PM otherwise;
// 1–4 are always PM; 0 and 12–23 are taken literally.
func inferBareHour(lower string, h, mm int) (int, int, bool) {
	if h < 0 || h > 23 || mm > 59 {
		return 0, 0, false
	}
	switch {
	case h >= 5 && h <= 11:
		if hasMorningCue(lower) {
			return h, mm, true
		}
		return h + 12, mm, true
	case h >= 1 && h <= 4:
		return h + 12, mm, true
	default:
		return h, mm, true
	}
}

func hasMorningCue(lower string) bool {
	for _, cue := range morningCues {
		if strings.Contains(lower, cue) {
			return true
		}
	}
	return false
}

// Spans returns every date/time phrase found in text, in the original
// casing, so callers can strip them from titles.
func Spans(text string) []string {
	lower := strings.ToLower(text)
	if len(lower) != len(text) {
		text = lower // case folding changed byte offsets
	}
	var spans []string
	add := func(start, end int) {
		spans = append(spans, text[start:end])
	}
	for _, word := range []string{"day after tomorrow", "this morning", "this afternoon", "this evening", "afternoon", "morning", "evening", "tomorrow", "tonight", "today", "next week", "midnight", "noon"} {
		if i := strings.Index(lower, word); i >= 0 {
			add(i, i+len(word))
			lower = lower[:i] + strings.Repeat(" ", len(word)) + lower[i+len(word):]
		}
	}
	for _, re := range []*regexp.Regexp{fromNowRE, inOffsetRE, weekdayRE, isoDateRE, monthDayRE, dayMonthRE, numericDateRE, meridiemRE, bareHourRE, clockRE} {
		for _, loc := range re.FindAllStringIndex(lower, -1) {
			add(loc[0], loc[1])
			lower = lower[:loc[0]] + strings.Repeat(" ", loc[1]-loc[0]) + lower[loc[1]:]
		}
	}
	return spans
}

func nextWeekday(today time.Time, target time.Weekday) time.Time {
	ahead := (int(target) - int(today.Weekday()) + 7) % 7
	if ahead == 0 {
		ahead = 7
	}
	return today.AddDate(0, 0, ahead)
}

func parseNumber(s string) (int, bool) {
	if n, ok := numberWords[s]; ok {
		return n, true
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

func atoiOr(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}

func midnight(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
