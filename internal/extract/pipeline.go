package extract

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/IdanShtepel/CalendarAssistV2-sub000/internal/llm"
	"github.com/IdanShtepel/CalendarAssistV2-sub000/internal/model"
	"github.com/IdanShtepel/CalendarAssistV2-sub000/internal/temporal"
)

// DefaultTimeout bounds ExtractEventBounded.
const DefaultTimeout = 5 * time.Second

// ErrEmptyInput is returned for blank user text.
var ErrEmptyInput = errors.New("nothing to extract: input is empty")

// Request is one extraction call.
type Request struct {
	UserText      string
	AssistantText string
	History       []model.Message // oldest first
	Now           time.Time       // reference time; zero uses the pipeline clock
}

// Outcome is the result of one extraction.
type Outcome struct {
	Draft    model.EventDraft
	Result   model.ExtractionResult
	Stage    Stage
	TimedOut bool
}

// Pipeline extracts event drafts through an LLM provider. It never touches
// persisted state.
type Pipeline struct {
	provider llm.Provider
	timeout  time.Duration
	now      func() time.Time
	logger   *slog.Logger
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithTimeout sets the bound used by ExtractEventBounded.
func WithTimeout(d time.Duration) Option {
	return func(p *Pipeline) {
		if d > 0 {
			p.timeout = d
		}
	}
}

// WithClock overrides the reference time source.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) { p.logger = l }
}

// New creates a pipeline. provider may be nil, in which case every call
// fails with an error wrapping llm.ErrAuthMissing.
func New(provider llm.Provider, opts ...Option) *Pipeline {
	p := &Pipeline{
		provider: provider,
		timeout:  DefaultTimeout,
		now:      time.Now,
		logger:   slog.Default(),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Timeout returns the bound used by ExtractEventBounded.
func (p *Pipeline) Timeout() time.Duration { return p.timeout }

// ExtractEvent sends one extraction request and decodes the response.
// Provider errors are returned as-is (see llm.IsConfiguration and
// llm.IsTransient); the caller picks the fallback.
func (p *Pipeline) ExtractEvent(ctx context.Context, req Request) (Outcome, error) {
	if strings.TrimSpace(req.UserText) == "" {
		return Outcome{}, ErrEmptyInput
	}
	if p.provider == nil {
		return Outcome{}, fmt.Errorf("extract event: no LLM provider configured: %w", llm.ErrAuthMissing)
	}

	now := p.reference(req)
	raw, err := p.provider.Complete(ctx, BuildPrompt(req.UserText, req.AssistantText, now), llm.CompletionOpts{
		Temperature: 0.1,
		MaxTokens:   256,
		Format:      "json",
		System:      systemPrompt,
		History:     req.History,
	})
	if err != nil {
		return Outcome{}, fmt.Errorf("extract event via %s: %w", p.provider.Name(), err)
	}

	res, stage := Decode(raw, req.UserText, now)
	p.logger.Debug("event extracted", "stage", stage, "title", res.Title, "datetime", res.DateTime)
	return Outcome{
		Draft:  draft(res, stage, req.UserText, now),
		Result: res,
		Stage:  stage,
	}, nil
}

// ExtractEventBounded runs ExtractEvent with a hard deadline. A timeout or a
// transient/malformed provider failure degrades to the keyword fallback; only
// empty input and configuration errors are returned.
func (p *Pipeline) ExtractEventBounded(ctx context.Context, req Request) (Outcome, error) {
	if strings.TrimSpace(req.UserText) == "" {
		return Outcome{}, ErrEmptyInput
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	type reply struct {
		out Outcome
		err error
	}
	done := make(chan reply, 1)
	go func() {
		out, err := p.ExtractEvent(ctx, req)
		done <- reply{out, err}
	}()

	var r reply
	select {
	case r = <-done:
	case <-ctx.Done():
		r.err = ctx.Err()
	}
	if r.err == nil {
		return r.out, nil
	}
	if llm.IsConfiguration(r.err) {
		return Outcome{}, r.err
	}

	out := p.Fallback(req)
	if ctx.Err() != nil {
		p.logger.Warn("extraction timed out, using keyword fallback", "timeout", p.timeout)
		out.TimedOut = true
		return out, nil
	}
	p.logger.Warn("extraction failed, using keyword fallback", "error", r.err, "transient", llm.IsTransient(r.err))
	return out, nil
}

// Fallback builds an Outcome from the keyword heuristics alone.
func (p *Pipeline) Fallback(req Request) Outcome {
	now := p.reference(req)
	res := KeywordFallback(req.UserText+" "+req.AssistantText, now)
	return Outcome{
		Draft:  draft(res, StageKeyword, req.UserText, now),
		Result: res,
		Stage:  StageKeyword,
	}
}

func (p *Pipeline) reference(req Request) time.Time {
	if !req.Now.IsZero() {
		return req.Now
	}
	return p.now()
}

// draft converts a decoded result into an event draft. When a model-provided
// datetime matches no known layout the user's own wording is resolved
// instead, if it carries a date or time.
func draft(res model.ExtractionResult, stage Stage, userText string, now time.Time) model.EventDraft {
	start, ok := parseLayouts(res.DateTime, now.Location())
	if !ok {
		if stage != StageKeyword && temporal.HasDateSignal(userText) {
			start = temporal.Resolve(userText, now)
		} else {
			start = ParseDateTime(res.DateTime, now)
		}
	}
	return model.EventDraft{
		Title:    res.Title,
		Start:    start,
		End:      start.Add(model.DefaultEventDuration),
		Location: res.Location,
	}
}
