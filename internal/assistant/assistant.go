// Package assistant turns one user turn into a committed event, a question,
// a failure or a conversational reply.
//
// Each turn runs the recurring-event flow first. Turns with a scheduling cue
// then go through bounded extraction, classification and persistence; every
// other turn gets a plain chat reply from the provider.
package assistant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/IdanShtepel/CalendarAssistV2-sub000/internal/classify"
	"github.com/IdanShtepel/CalendarAssistV2-sub000/internal/extract"
	"github.com/IdanShtepel/CalendarAssistV2-sub000/internal/llm"
	"github.com/IdanShtepel/CalendarAssistV2-sub000/internal/model"
	"github.com/IdanShtepel/CalendarAssistV2-sub000/internal/recurrence"
	"github.com/IdanShtepel/CalendarAssistV2-sub000/internal/temporal"
	"github.com/IdanShtepel/CalendarAssistV2-sub000/internal/todo"
)

// SetupHint is shown when no provider is usable.
const SetupHint = "No AI provider is configured. Set GEMINI_API_KEY, OPENROUTER_API_KEY or OPENAI_API_KEY, or pass --llm provider/model."

const (
	askWhat         = "What would you like to schedule?"
	chatUnavailable = "Sorry, I can't reach the assistant right now. Try again in a moment."
	displayLayout   = "Mon Jan 2 15:04"
)

const chatSystemPrompt = `You are a friendly calendar assistant. Answer briefly. You can schedule events when the user describes one with a time, and manage todos. Do not invent events.`

// Kind tells the caller how to present a Response.
type Kind int

const (
	KindCommitted     Kind = iota // events were stored
	KindClarification             // the user needs to say more
	KindFailure                   // nothing was stored
	KindReply                     // conversational answer, nothing stored
)

func (k Kind) String() string {
	switch k {
	case KindCommitted:
		return "committed"
	case KindClarification:
		return "clarification"
	case KindFailure:
		return "failure"
	default:
		return "reply"
	}
}

// Response is the outcome of one turn.
type Response struct {
	Kind    Kind
	Message string
	Events  []model.EventDraft // committed events, with IDs
	Stage   extract.Stage      // decoder stage of a single extracted event
	// NeedsConfirmation is set when a committed event's category came
	// back below the classifier threshold.
	NeedsConfirmation bool
	Err               error
}

// Session is one conversation. Turns on the same session are serialized.
type Session struct {
	ID string

	mu        sync.Mutex
	recurring recurrence.Session
}

// NewSession starts a conversation with a fresh ID.
func NewSession() *Session {
	return &Session{ID: uuid.NewString()}
}

// ResumeSession continues a conversation whose history is already stored.
// Pending recurring requests are not persisted and start empty.
func ResumeSession(id string) *Session {
	return &Session{ID: id}
}

// Store is the persistence the engine needs. *store.SQLiteStore implements it.
type Store interface {
	recurrence.EventAppender
	AppendMessage(ctx context.Context, sessionID string, m model.Message) error
	History(ctx context.Context, sessionID string, limit int) ([]model.Message, error)
	AddTodo(ctx context.Context, d *model.TodoDraft) (int64, error)
}

// Classifier assigns event categories. *classify.Classifier implements it.
type Classifier interface {
	Classify(ctx context.Context, in classify.Input) classify.Classification
}

// Config holds the engine's collaborators.
type Config struct {
	Provider     llm.Provider // chat replies; may be nil
	Pipeline     *extract.Pipeline
	Classifier   Classifier // may be nil: events are filed as personal
	Store        Store
	HistoryLimit int // turns sent to the provider; 0 uses the store default
	Logger       *slog.Logger
}

// Engine handles user turns.
type Engine struct {
	provider     llm.Provider
	pipeline     *extract.Pipeline
	classifier   Classifier
	store        Store
	orchestrator *recurrence.Orchestrator
	historyLimit int
	logger       *slog.Logger
}

// New creates an engine.
func New(cfg Config) *Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	var rc recurrence.Classifier
	if cfg.Classifier != nil {
		rc = cfg.Classifier
	}
	return &Engine{
		provider:     cfg.Provider,
		pipeline:     cfg.Pipeline,
		classifier:   cfg.Classifier,
		store:        cfg.Store,
		orchestrator: recurrence.New(cfg.Pipeline, rc, cfg.Store, logger),
		historyLimit: cfg.HistoryLimit,
		logger:       logger,
	}
}

var schedulingVerbRE = regexp.MustCompile(`(?i)\b(schedule|add|book|remind|create|set\s+up|put)\b`)

// IsSchedulingRequest reports whether text should go through extraction: it
// has a scheduling verb, or it carries a date or time and is not a question.
func IsSchedulingRequest(text string) bool {
	if schedulingVerbRE.MatchString(text) {
		return true
	}
	if strings.HasSuffix(strings.TrimSpace(text), "?") {
		return false
	}
	return temporal.HasDateSignal(text)
}

// Handle processes one user turn. now is the reference time for relative
// dates. Both sides of the turn are appended to the session history.
func (e *Engine) Handle(ctx context.Context, sess *Session, text string, now time.Time) Response {
	sess.mu.Lock()
	defer sess.mu.Unlock()

	text = strings.TrimSpace(text)
	if text == "" {
		return Response{Kind: KindClarification, Message: askWhat, Err: extract.ErrEmptyInput}
	}

	history, err := e.store.History(ctx, sess.ID, e.historyLimit)
	if err != nil {
		e.logger.Warn("history unavailable", "session", sess.ID, "error", err)
		history = nil
	}
	e.record(ctx, sess, model.RoleUser, text)

	resp := e.turn(ctx, sess, text, history, now)
	if resp.Message != "" {
		e.record(ctx, sess, model.RoleAssistant, resp.Message)
	}
	e.logger.Debug("turn handled", "session", sess.ID, "kind", resp.Kind, "events", len(resp.Events))
	return resp
}

func (e *Engine) turn(ctx context.Context, sess *Session, text string, history []model.Message, now time.Time) Response {
	if res, consumed := e.orchestrator.Handle(ctx, &sess.recurring, text, now); consumed {
		return fromRecurrence(res)
	}
	if IsSchedulingRequest(text) {
		return e.schedule(ctx, text, history, now)
	}
	return e.chat(ctx, text, history)
}

func fromRecurrence(res recurrence.Result) Response {
	switch res.Kind {
	case recurrence.KindCreated:
		return Response{Kind: KindCommitted, Message: res.Message, Events: res.Events, Err: res.Err}
	case recurrence.KindFailure:
		return failure(res.Err)
	default:
		return Response{Kind: KindClarification, Message: res.Message}
	}
}

func (e *Engine) schedule(ctx context.Context, text string, history []model.Message, now time.Time) Response {
	out, err := e.pipeline.ExtractEventBounded(ctx, extract.Request{UserText: text, History: history, Now: now})
	if err != nil {
		if errors.Is(err, extract.ErrEmptyInput) {
			return Response{Kind: KindClarification, Message: askWhat, Err: err}
		}
		return failure(err)
	}

	d := out.Draft
	needsConfirmation := false
	if e.classifier != nil {
		c := e.classifier.Classify(ctx, classify.InputFromDraft(d))
		c.Apply(&d)
		needsConfirmation = c.NeedsConfirmation
	} else {
		d.Category = model.CategoryPersonal
		d.CategorySource = model.SourceDefault
	}

	if _, err := e.store.AppendEvent(ctx, &d); err != nil {
		return Response{Kind: KindFailure, Message: "Sorry, I couldn't save that event.", Err: fmt.Errorf("saving event: %w", err)}
	}

	msg := fmt.Sprintf("Added %q on %s", d.Title, d.Start.Format(displayLayout))
	if d.Location != "" {
		msg += " at " + d.Location
	}
	msg += fmt.Sprintf(" (%s).", d.Category)
	if needsConfirmation {
		msg += fmt.Sprintf(" I'm not sure about the category %q; set an override if it's wrong.", d.Category)
	}
	return Response{
		Kind:              KindCommitted,
		Message:           msg,
		Events:            []model.EventDraft{d},
		Stage:             out.Stage,
		NeedsConfirmation: needsConfirmation,
	}
}

func (e *Engine) chat(ctx context.Context, text string, history []model.Message) Response {
	if e.provider == nil {
		return failure(fmt.Errorf("chat reply: %w", llm.ErrAuthMissing))
	}
	reply, err := e.provider.Complete(ctx, text, llm.CompletionOpts{
		Temperature: 0.7,
		MaxTokens:   400,
		System:      chatSystemPrompt,
		History:     history,
	})
	if err != nil {
		if llm.IsConfiguration(err) {
			return failure(err)
		}
		e.logger.Warn("chat reply failed", "error", err, "transient", llm.IsTransient(err))
		return Response{Kind: KindFailure, Message: chatUnavailable, Err: err}
	}
	return Response{Kind: KindReply, Message: strings.TrimSpace(reply)}
}

func failure(err error) Response {
	msg := "Sorry, something went wrong."
	if llm.IsConfiguration(err) {
		msg = SetupHint
	}
	return Response{Kind: KindFailure, Message: msg, Err: err}
}

func (e *Engine) record(ctx context.Context, sess *Session, role model.Role, text string) {
	if err := e.store.AppendMessage(ctx, sess.ID, model.Message{Role: role, Text: text}); err != nil {
		e.logger.Warn("history not saved", "session", sess.ID, "role", role, "error", err)
	}
}

// ParseTodo builds a todo draft without storing it.
func (e *Engine) ParseTodo(text string, now time.Time) (model.TodoDraft, error) {
	return todo.Parse(text, now)
}

// AddTodo parses and stores a todo.
func (e *Engine) AddTodo(ctx context.Context, text string, now time.Time) (model.TodoDraft, error) {
	d, err := todo.Parse(text, now)
	if err != nil {
		return model.TodoDraft{}, err
	}
	if _, err := e.store.AddTodo(ctx, &d); err != nil {
		return model.TodoDraft{}, fmt.Errorf("saving todo: %w", err)
	}
	return d, nil
}
