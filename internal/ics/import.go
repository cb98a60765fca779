package ics

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/teambition/rrule-go"

	"github.com/IdanShtepel/CalendarAssistV2-sub000/internal/classify"
	"github.com/IdanShtepel/CalendarAssistV2-sub000/internal/model"
	"github.com/IdanShtepel/CalendarAssistV2-sub000/internal/store"
)

// MaxOccurrencesPerEvent caps RRULE expansion for open-ended rules.
const MaxOccurrencesPerEvent = 104

// Parse reads every VEVENT in r. Recurring events are expanded into one draft
// per instance. Events that cannot be read are skipped and reported in the
// joined error; the drafts that could be read are still returned.
func Parse(r io.Reader) ([]model.EventDraft, error) {
	cal, err := ical.ParseCalendar(r)
	if err != nil {
		return nil, fmt.Errorf("parsing calendar: %w", err)
	}

	var (
		out  []model.EventDraft
		errs []error
	)
	for _, ve := range cal.Events() {
		drafts, err := parseVEvent(ve)
		if err != nil {
			errs = append(errs, fmt.Errorf("event %q: %w", ve.Id(), err))
			continue
		}
		out = append(out, drafts...)
	}
	return out, errors.Join(errs...)
}

func parseVEvent(ve *ical.VEvent) ([]model.EventDraft, error) {
	var base model.EventDraft
	if p := ve.GetProperty(ical.ComponentPropertySummary); p != nil {
		base.Title = strings.TrimSpace(p.Value)
	}
	if base.Title == "" {
		return nil, errors.New("missing SUMMARY")
	}
	if p := ve.GetProperty(ical.ComponentPropertyLocation); p != nil {
		base.Location = p.Value
	}
	if p := ve.GetProperty(ical.ComponentPropertyDescription); p != nil {
		base.Description = p.Value
	}
	if p := ve.GetProperty(ical.ComponentPropertyCategories); p != nil {
		// First recognized entry of a comma-separated list.
		for _, v := range strings.Split(p.Value, ",") {
			if c, ok := model.ParseCategory(v); ok {
				base.Category = c
				break
			}
		}
	}

	start, err := ve.GetStartAt()
	if err != nil {
		return nil, fmt.Errorf("reading DTSTART: %w", err)
	}
	base.Start = start
	if end, err := ve.GetEndAt(); err == nil && end.After(start) {
		base.End = end
	} else {
		base.End = start.Add(model.DefaultEventDuration)
	}
	base.CategorySource = model.SourceImported

	p := ve.GetProperty(ical.ComponentPropertyRrule)
	if p == nil || strings.TrimSpace(p.Value) == "" {
		return []model.EventDraft{base}, nil
	}

	starts, err := expand(p.Value, start, exDates(ve))
	if err != nil {
		return nil, err
	}
	dur := base.End.Sub(base.Start)
	out := make([]model.EventDraft, 0, len(starts))
	for _, s := range starts {
		d := base
		d.Start = s
		d.End = s.Add(dur)
		out = append(out, d)
	}
	return out, nil
}

// expand materializes an RRULE from start, dropping excluded instants.
// Rules without COUNT or UNTIL stop after MaxOccurrencesPerEvent.
func expand(raw string, start time.Time, excluded []time.Time) ([]time.Time, error) {
	opt, err := rrule.StrToROption(raw)
	if err != nil {
		return nil, fmt.Errorf("parsing RRULE %q: %w", raw, err)
	}
	opt.Dtstart = start
	if opt.Count == 0 && opt.Until.IsZero() {
		opt.Count = MaxOccurrencesPerEvent
	}
	r, err := rrule.NewRRule(*opt)
	if err != nil {
		return nil, fmt.Errorf("building RRULE %q: %w", raw, err)
	}

	var set rrule.Set
	set.RRule(r)
	for _, ex := range excluded {
		set.ExDate(ex.In(start.Location()))
	}
	all := set.All()
	if len(all) > MaxOccurrencesPerEvent {
		all = all[:MaxOccurrencesPerEvent]
	}
	return all, nil
}

func exDates(ve *ical.VEvent) []time.Time {
	var out []time.Time
	for _, p := range ve.GetProperties(ical.ComponentPropertyExdate) {
		for _, part := range strings.Split(p.Value, ",") {
			if t, err := parseICSTime(part); err == nil {
				out = append(out, t)
			}
		}
	}
	return out
}

// parseICSTime reads the basic UTC, floating and date-only forms.
func parseICSTime(v string) (time.Time, error) {
	v = strings.TrimSpace(v)
	switch {
	case v == "":
		return time.Time{}, errors.New("empty time value")
	case strings.HasSuffix(v, "Z"):
		return time.Parse("20060102T150405Z", v)
	case strings.Contains(v, "T"):
		return time.ParseInLocation("20060102T150405", v, time.Local)
	default:
		return time.ParseInLocation("20060102", v, time.Local)
	}
}

// EventStore is the subset of store.Store used by Import.
type EventStore interface {
	AppendEvent(ctx context.Context, d *model.EventDraft) (int64, error)
	FindEventByHash(ctx context.Context, hash string) (*model.EventDraft, error)
}

// Classifier fills in the category of events that carry none.
type Classifier interface {
	Classify(ctx context.Context, in classify.Input) classify.Classification
}

// ImportResult counts what Import did.
type ImportResult struct {
	Added   int
	Skipped int // already stored
	Failed  int
}

// Importer stores parsed calendar events.
type Importer struct {
	events     EventStore
	classifier Classifier
	logger     *slog.Logger
}

// NewImporter creates an Importer. classifier may be nil, in which case
// events without CATEGORIES are filed as personal.
func NewImporter(events EventStore, classifier Classifier, logger *slog.Logger) *Importer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Importer{events: events, classifier: classifier, logger: logger}
}

// Import parses r and stores every event not already present. Imported
// events keep category source "imported" whichever way their category was
// found. Per-event failures are joined into the returned error.
func (im *Importer) Import(ctx context.Context, r io.Reader) (ImportResult, error) {
	drafts, parseErr := Parse(r)
	if parseErr != nil && drafts == nil {
		return ImportResult{}, parseErr
	}

	res, err := im.ImportDrafts(ctx, drafts)
	im.logger.Info("ics import completed", "added", res.Added, "skipped", res.Skipped, "failed", res.Failed)
	return res, errors.Join(parseErr, err)
}

// ImportDrafts stores drafts read from an external calendar, skipping those
// already stored. Drafts without a category are classified.
func (im *Importer) ImportDrafts(ctx context.Context, drafts []model.EventDraft) (ImportResult, error) {
	var (
		res  ImportResult
		errs []error
	)
	for i := range drafts {
		d := drafts[i]

		existing, err := im.events.FindEventByHash(ctx, store.HashEvent(d.Title, d.Start, d.Location))
		if err != nil {
			res.Failed++
			errs = append(errs, err)
			continue
		}
		if existing != nil {
			res.Skipped++
			continue
		}

		d.CategorySource = model.SourceImported
		if d.Category == "" {
			im.fillCategory(ctx, &d)
		}

		if _, err := im.events.AppendEvent(ctx, &d); err != nil {
			res.Failed++
			errs = append(errs, fmt.Errorf("storing %q at %s: %w", d.Title, d.Start.Format(model.DateTimeLayout), err))
			continue
		}
		res.Added++
	}
	return res, errors.Join(errs...)
}

func (im *Importer) fillCategory(ctx context.Context, d *model.EventDraft) {
	if im.classifier == nil {
		d.Category = model.CategoryPersonal
		return
	}
	c := im.classifier.Classify(ctx, classify.InputFromDraft(*d))
	d.Category = c.Category
	conf := c.Confidence
	d.CategoryConfidence = &conf
}
