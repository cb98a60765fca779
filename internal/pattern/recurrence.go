package pattern

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/IdanShtepel/CalendarAssistV2-sub000/internal/model"
)

// Cron specs for custom cadences. Only the day fields matter; the clock
// time of the original due date is kept.
const (
	WeekdaysSpec = "0 0 * * 1-5"
	WeekendsSpec = "0 0 * * 0,6"
)

var (
	recurrenceCueRE = regexp.MustCompile(`(?i)\b(every|daily|weekly|biweekly|monthly|each\s+(?:day|week|month))\b`)

	everyWeekdayRE = regexp.MustCompile(`(?i)\bevery\s+(monday|tuesday|wednesday|thursday|friday|saturday|sunday)s?\b`)
	everyNRE       = regexp.MustCompile(`(?i)\bevery\s+(\d+|two|three|four|five|six)\s+(day|week|month)s?\b`)
	biweeklyRE     = regexp.MustCompile(`(?i)\b(biweekly|bi-weekly|fortnightly|every\s+other\s+week)\b`)
	weekdaysRE     = regexp.MustCompile(`(?i)\b(every\s+weekday|weekdays)\b`)
	weekendsRE     = regexp.MustCompile(`(?i)\b(every\s+weekend|weekends)\b`)
	dailyRE        = regexp.MustCompile(`(?i)\b(daily|every\s+(?:day|morning|evening|night)|each\s+day)\b`)
	weeklyRE       = regexp.MustCompile(`(?i)\b(weekly|every\s+week|each\s+week)\b`)
	monthlyRE      = regexp.MustCompile(`(?i)\b(monthly|every\s+month|each\s+month)\b`)

	durationRE      = regexp.MustCompile(`(?i)\b(\d+(?:\.\d+)?)\s*(h|hrs?|hours?|m|mins?|minutes?)\b`)
	compactDurRE    = regexp.MustCompile(`(?i)\b(\d+)h\s*(\d+)(?:m|min)?\b`)
	halfHourRE      = regexp.MustCompile(`(?i)\bhalf\s+an?\s+hour\b`)
	spelledCountMap = map[string]int{"two": 2, "three": 3, "four": 4, "five": 5, "six": 6}
)

// HasRecurrenceCue reports whether text asks for a repeating event.
func HasRecurrenceCue(text string) bool {
	return recurrenceCueRE.MatchString(text)
}

// Cadence returns the normalized cadence label for a recurring request:
// "daily", "every <weekday>", "weekly", "monthly". Unrecognized cadences
// default to "weekly".
func Cadence(text string) string {
	switch {
	case dailyRE.MatchString(text):
		return "daily"
	case everyWeekdayRE.MatchString(text):
		m := everyWeekdayRE.FindStringSubmatch(text)
		return "every " + strings.ToLower(m[1])
	case monthlyRE.MatchString(text):
		return "monthly"
	default:
		return "weekly"
	}
}

// DetectRecurrence returns the rule described by text and the matched span,
// or nil when text does not recur.
func DetectRecurrence(text string) (*model.RecurrenceRule, string) {
	if m := everyNRE.FindStringSubmatch(text); m != nil {
		n, err := strconv.Atoi(m[1])
		if err != nil {
			n = spelledCountMap[strings.ToLower(m[1])]
		}
		if n > 0 {
			freq := model.FrequencyDaily
			switch strings.ToLower(m[2]) {
			case "week":
				freq = model.FrequencyWeekly
			case "month":
				freq = model.FrequencyMonthly
			}
			return &model.RecurrenceRule{Frequency: freq, Interval: n}, m[0]
		}
	}

	checks := []struct {
		re   *regexp.Regexp
		rule model.RecurrenceRule
	}{
		{biweeklyRE, model.RecurrenceRule{Frequency: model.FrequencyBiweekly, Interval: 1}},
		{weekdaysRE, model.RecurrenceRule{Frequency: model.FrequencyCustom, Interval: 1, Spec: WeekdaysSpec}},
		{weekendsRE, model.RecurrenceRule{Frequency: model.FrequencyCustom, Interval: 1, Spec: WeekendsSpec}},
		{dailyRE, model.RecurrenceRule{Frequency: model.FrequencyDaily, Interval: 1}},
		{everyWeekdayRE, model.RecurrenceRule{Frequency: model.FrequencyWeekly, Interval: 1}},
		{weeklyRE, model.RecurrenceRule{Frequency: model.FrequencyWeekly, Interval: 1}},
		{monthlyRE, model.RecurrenceRule{Frequency: model.FrequencyMonthly, Interval: 1}},
	}
	for _, c := range checks {
		if loc := c.re.FindStringIndex(text); loc != nil {
			rule := c.rule
			return &rule, text[loc[0]:loc[1]]
		}
	}
	return nil, ""
}

// DurationHint returns an effort estimate such as "30 minutes", "2h" or
// "1h30m" and the matched span. Zero when absent.
func DurationHint(text string) (time.Duration, string) {
	if m := compactDurRE.FindStringSubmatch(text); m != nil {
		h, _ := strconv.Atoi(m[1])
		mins, _ := strconv.Atoi(m[2])
		return time.Duration(h)*time.Hour + time.Duration(mins)*time.Minute, m[0]
	}
	if loc := halfHourRE.FindStringIndex(text); loc != nil {
		return 30 * time.Minute, text[loc[0]:loc[1]]
	}
	if m := durationRE.FindStringSubmatch(text); m != nil {
		v, err := strconv.ParseFloat(m[1], 64)
		if err != nil || v <= 0 {
			return 0, ""
		}
		unit := time.Minute
		if strings.HasPrefix(strings.ToLower(m[2]), "h") {
			unit = time.Hour
		}
		return time.Duration(v * float64(unit)), m[0]
	}
	return 0, ""
}
