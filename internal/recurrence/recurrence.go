// Package recurrence runs the two-turn recurring event flow: a request such
// as "lunch every tuesday" is seeded and parked, and a follow-up "6 weeks"
// generates the instances.
//
// State lives in a Session owned by the caller, one per conversation.
package recurrence

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"time"

	"github.com/teambition/rrule-go"

	"github.com/IdanShtepel/CalendarAssistV2-sub000/internal/classify"
	"github.com/IdanShtepel/CalendarAssistV2-sub000/internal/extract"
	"github.com/IdanShtepel/CalendarAssistV2-sub000/internal/model"
	"github.com/IdanShtepel/CalendarAssistV2-sub000/internal/pattern"
	"github.com/IdanShtepel/CalendarAssistV2-sub000/internal/temporal"
)

// MaxWeeks caps a single generation request.
const MaxWeeks = 104

// Messages shown to the user.
const (
	QuestionHowManyWeeks = "How many weeks should this repeat?"
	ApologyNoPending     = "Sorry, I don't have a recurring event waiting for a duration. Tell me what should repeat first, for example \"lunch every tuesday\"."
)

// State is the orchestrator state of one session.
type State int

const (
	StateIdle State = iota
	StateAwaitingDuration
)

func (s State) String() string {
	if s == StateAwaitingDuration {
		return "awaiting-duration"
	}
	return "idle"
}

// Session holds the single pending recurring request of a conversation.
// Not safe for concurrent use; callers serialize turns.
type Session struct {
	pending *model.PendingRecurringContext
	// idleTurns counts unrelated turns since the request was parked.
	idleTurns int
}

// State reports the current state.
func (s *Session) State() State {
	if s.pending != nil {
		return StateAwaitingDuration
	}
	return StateIdle
}

// Pending returns a copy of the parked request, or nil.
func (s *Session) Pending() *model.PendingRecurringContext {
	if s.pending == nil {
		return nil
	}
	p := *s.pending
	return &p
}

// Reset drops any parked request.
func (s *Session) Reset() {
	s.pending = nil
	s.idleTurns = 0
}

// Kind tells the caller how to present a Result.
type Kind int

const (
	KindQuestion Kind = iota // ask the user something, nothing created
	KindCreated              // instances were generated
	KindApology              // duration without a parked request
	KindFailure              // the seed extraction failed
)

// Result is the outcome of a consumed turn.
type Result struct {
	Kind    Kind
	Message string
	Events  []model.EventDraft // committed instances, with IDs
	Err     error              // joined per-instance failures, or the seed failure
}

// Seeder extracts the seed event of a recurring request.
// *extract.Pipeline implements it.
type Seeder interface {
	ExtractEventBounded(ctx context.Context, req extract.Request) (extract.Outcome, error)
}

// Classifier assigns a category to each generated instance.
type Classifier interface {
	Classify(ctx context.Context, in classify.Input) classify.Classification
}

// EventAppender commits one event and returns its ID.
type EventAppender interface {
	AppendEvent(ctx context.Context, d *model.EventDraft) (int64, error)
}

// Orchestrator drives the recurring flow.
type Orchestrator struct {
	seeder     Seeder
	classifier Classifier
	events     EventAppender
	logger     *slog.Logger
}

// New creates an orchestrator.
func New(seeder Seeder, classifier Classifier, events EventAppender, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{seeder: seeder, classifier: classifier, events: events, logger: logger}
}

var (
	// weeksRE matches a duration answer anywhere in a turn.
	weeksRE = regexp.MustCompile(`(?i)\b(\d+)\s+weeks?\b`)
	// bareWeeksRE matches a turn that is nothing but a duration answer.
	bareWeeksRE = regexp.MustCompile(`(?i)^\s*(?:for\s+)?(\d+)\s+weeks?\s*[.!]?\s*$`)
	// forWeeksRE matches a duration given together with the request.
	forWeeksRE = regexp.MustCompile(`(?i)\bfor\s+(\d+)\s+weeks?\b`)
)

// Handle processes one turn. consumed is false when the turn has nothing to
// do with recurring events and should be handled elsewhere.
//
// An unrelated turn while a request is parked keeps it for one more turn; a
// second unrelated turn drops it.
func (o *Orchestrator) Handle(ctx context.Context, sess *Session, text string, now time.Time) (res Result, consumed bool) {
	if sess.pending != nil {
		if m := weeksRE.FindStringSubmatch(text); m != nil && !pattern.HasRecurrenceCue(text) {
			return o.answer(ctx, sess, m[1]), true
		}
	} else if m := bareWeeksRE.FindStringSubmatch(text); m != nil {
		return Result{Kind: KindApology, Message: ApologyNoPending}, true
	}

	if pattern.HasRecurrenceCue(text) {
		if r, ok := o.seed(ctx, sess, text, now); !ok {
			return r, true
		}
		if m := forWeeksRE.FindStringSubmatch(text); m != nil {
			return o.answer(ctx, sess, m[1]), true
		}
		return Result{Kind: KindQuestion, Message: QuestionHowManyWeeks}, true
	}

	if sess.pending != nil {
		sess.idleTurns++
		if sess.idleTurns > 1 {
			o.logger.Debug("recurring request abandoned", "title", sess.pending.Title)
			sess.Reset()
		}
	}
	return Result{}, false
}

// seed extracts and parks the request. A new request replaces a parked one.
func (o *Orchestrator) seed(ctx context.Context, sess *Session, text string, now time.Time) (Result, bool) {
	out, err := o.seeder.ExtractEventBounded(ctx, extract.Request{UserText: text, Now: now})
	if err != nil {
		return Result{Kind: KindFailure, Err: fmt.Errorf("seeding recurring event: %w", err)}, false
	}
	start := out.Draft.Start
	if out.Stage == extract.StageKeyword && temporal.HasDateSignal(text) {
		// The keyword fallback ignores weekdays and dates.
		start = temporal.Resolve(text, now)
	}
	sess.pending = &model.PendingRecurringContext{
		Title:    out.Draft.Title,
		Start:    start,
		Location: out.Draft.Location,
		Pattern:  pattern.Cadence(text),
	}
	sess.idleTurns = 0
	o.logger.Debug("recurring request parked", "title", out.Draft.Title, "cadence", sess.pending.Pattern, "stage", out.Stage)
	return Result{}, true
}

func (o *Orchestrator) answer(ctx context.Context, sess *Session, digits string) Result {
	n, err := strconv.Atoi(digits)
	if err != nil || n <= 0 || n > MaxWeeks {
		return Result{Kind: KindQuestion, Message: fmt.Sprintf("Please give a number of weeks between 1 and %d.", MaxWeeks)}
	}

	pending := *sess.pending
	sess.Reset()

	events, err := o.Generate(ctx, pending, n)
	msg := fmt.Sprintf("Created %d %s events for %q.", len(events), pending.Pattern, pending.Title)
	if err != nil {
		msg = fmt.Sprintf("Created %d of %d %s events for %q; some could not be saved.", len(events), n, pending.Pattern, pending.Title)
	}
	return Result{Kind: KindCreated, Message: msg, Events: events, Err: err}
}

// Occurrences returns n start times for p. Daily cadences step one day;
// every other cadence, monthly included, steps one week.
func Occurrences(p model.PendingRecurringContext, n int) ([]time.Time, error) {
	if n <= 0 {
		return nil, nil
	}
	freq := rrule.WEEKLY
	if p.Pattern == "daily" {
		freq = rrule.DAILY
	}
	r, err := rrule.NewRRule(rrule.ROption{
		Freq:     freq,
		Interval: 1,
		Count:    n,
		Dtstart:  p.Start,
	})
	if err != nil {
		return nil, fmt.Errorf("build rrule: %w", err)
	}
	return r.All(), nil
}

// Generate commits n instances of p. Each instance is classified and
// appended on its own; a failed append does not stop the rest.
func (o *Orchestrator) Generate(ctx context.Context, p model.PendingRecurringContext, n int) ([]model.EventDraft, error) {
	starts, err := Occurrences(p, n)
	if err != nil {
		return nil, err
	}

	var (
		created []model.EventDraft
		errs    []error
	)
	for i, start := range starts {
		d := model.EventDraft{
			Title:    p.Title,
			Start:    start,
			End:      start.Add(model.DefaultEventDuration),
			Location: p.Location,
		}
		if o.classifier != nil {
			o.classifier.Classify(ctx, classify.InputFromDraft(d)).Apply(&d)
		}
		id, err := o.events.AppendEvent(ctx, &d)
		if err != nil {
			o.logger.Warn("recurring instance not saved", "index", i, "start", start, "error", err)
			errs = append(errs, fmt.Errorf("instance %d (%s): %w", i+1, start.Format(model.DateTimeLayout), err))
			continue
		}
		d.ID = id
		created = append(created, d)
	}
	return created, errors.Join(errs...)
}
