// Package todo assembles a TodoDraft from one line of input and computes
// follow-up occurrences for recurring todos.
package todo

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/teambition/rrule-go"

	"github.com/IdanShtepel/CalendarAssistV2-sub000/internal/model"
	"github.com/IdanShtepel/CalendarAssistV2-sub000/internal/pattern"
	"github.com/IdanShtepel/CalendarAssistV2-sub000/internal/temporal"
)

// ErrEmpty is returned by Parse for blank input.
var ErrEmpty = errors.New("todo text is empty")

// cronParser accepts standard five-field specs only.
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Parse builds a todo from text. Priority, project and tags come from the
// pattern extractor; the due date is only set when text carries a date or
// time phrase, or when the todo recurs. Every matched phrase is stripped from
// the title.
func Parse(text string, now time.Time) (model.TodoDraft, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return model.TodoDraft{}, ErrEmpty
	}

	res := pattern.Extract(text)
	d := model.TodoDraft{
		Priority: res.Priority,
		Project:  res.Project,
		Tags:     res.Tags,
	}

	spans := append([]string{}, res.Spans...)
	if rule, span := pattern.DetectRecurrence(text); rule != nil {
		d.Recurrence = rule
		spans = append(spans, span)
	}
	if dur, span := pattern.DurationHint(text); dur > 0 {
		d.Duration = dur
		spans = append(spans, span)
	}

	if temporal.HasDateSignal(text) || d.Recurrence != nil {
		due := temporal.Resolve(text, now)
		d.Due = &due
		spans = append(spans, temporal.Spans(text)...)
	}

	d.Title = pattern.Clean(text, spans)
	return d, nil
}

// NextDue returns the occurrence of rule that follows due, keeping due's
// clock time. ok is false when the rule is invalid or has ended.
func NextDue(rule *model.RecurrenceRule, due time.Time) (time.Time, bool) {
	if rule == nil || rule.Validate() != nil {
		return time.Time{}, false
	}

	var next time.Time
	var err error
	if rule.Frequency == model.FrequencyCustom {
		next, err = nextFromCron(rule, due)
	} else {
		next, err = nextFromRRule(rule, due)
	}
	if err != nil || next.IsZero() {
		return time.Time{}, false
	}
	if rule.End != nil && next.After(*rule.End) {
		return time.Time{}, false
	}
	return next, true
}

// Regenerate returns the follow-up todo for a completed recurring todo.
func Regenerate(d model.TodoDraft) (model.TodoDraft, bool) {
	if d.Recurrence == nil || d.Due == nil {
		return model.TodoDraft{}, false
	}
	next, ok := NextDue(d.Recurrence, *d.Due)
	if !ok {
		return model.TodoDraft{}, false
	}
	out := d
	out.ID = 0
	out.Done = false
	out.Due = &next
	out.Tags = append([]string(nil), d.Tags...)
	rule := *d.Recurrence
	out.Recurrence = &rule
	return out, true
}

func nextFromRRule(rule *model.RecurrenceRule, due time.Time) (time.Time, error) {
	opt := rrule.ROption{
		Interval: rule.Interval,
		Count:    2,
		Dtstart:  due,
	}
	switch rule.Frequency {
	case model.FrequencyDaily:
		opt.Freq = rrule.DAILY
	case model.FrequencyWeekly:
		opt.Freq = rrule.WEEKLY
	case model.FrequencyBiweekly:
		opt.Freq = rrule.WEEKLY
		opt.Interval = 2 * rule.Interval
	case model.FrequencyMonthly:
		opt.Freq = rrule.MONTHLY
	default:
		return time.Time{}, fmt.Errorf("%w: frequency %q", model.ErrInvalidRule, rule.Frequency)
	}

	r, err := rrule.NewRRule(opt)
	if err != nil {
		return time.Time{}, fmt.Errorf("build rrule: %w", err)
	}
	return r.After(due, false), nil
}

// nextFromCron uses the cron expression's day fields and keeps due's clock time.
func nextFromCron(rule *model.RecurrenceRule, due time.Time) (time.Time, error) {
	sched, err := cronParser.Parse(rule.Spec)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: cron spec %q: %v", model.ErrInvalidRule, rule.Spec, err)
	}

	day := time.Date(due.Year(), due.Month(), due.Day(), 23, 59, 59, 0, due.Location())
	for i := 0; i < rule.Interval; i++ {
		day = sched.Next(day)
		if day.IsZero() {
			return time.Time{}, nil
		}
		day = time.Date(day.Year(), day.Month(), day.Day(), 23, 59, 59, 0, day.Location())
	}
	return time.Date(day.Year(), day.Month(), day.Day(), due.Hour(), due.Minute(), 0, 0, due.Location()), nil
}
