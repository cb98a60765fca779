// Package model holds the records shared by every stage of intent
// extraction: event and todo drafts, recurrence rules and the transient
// recurring-request context.
package model

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// DateTimeLayout is the wire format of ExtractionResult.DateTime.
const DateTimeLayout = "2006-01-02 15:04"

// DefaultEventDuration is applied when a draft carries no explicit end.
const DefaultEventDuration = time.Hour

// Category is the semantic bucket an event is filed under.
type Category string

const (
	CategoryPersonal Category = "personal"
	CategoryWork     Category = "work"
	CategorySocial   Category = "social"
	CategoryHealth   Category = "health"
	CategoryExam     Category = "exam"
	CategoryDueDate  Category = "due-date"
	CategoryMeeting  Category = "meeting"
	CategoryTravel   Category = "travel"
	CategoryErrand   Category = "errand"
)

// Categories lists every valid category in display order.
var Categories = []Category{
	CategoryPersonal,
	CategoryWork,
	CategorySocial,
	CategoryHealth,
	CategoryExam,
	CategoryDueDate,
	CategoryMeeting,
	CategoryTravel,
	CategoryErrand,
}

// ParseCategory matches s case-insensitively against the known categories.
// Underscores and spaces are accepted in place of hyphens ("due date").
func ParseCategory(s string) (Category, bool) {
	v := strings.ToLower(strings.TrimSpace(s))
	v = strings.NewReplacer("_", "-", " ", "-").Replace(v)
	for _, c := range Categories {
		if string(c) == v {
			return c, true
		}
	}
	return "", false
}

// CategorySource records who decided an event's category.
type CategorySource string

const (
	SourceAuto     CategorySource = "auto"
	SourceManual   CategorySource = "manual"
	SourceImported CategorySource = "imported"
	SourceDefault  CategorySource = "default"
)

// EventDraft is an extracted event, possibly not yet persisted (ID == 0).
type EventDraft struct {
	ID                 int64
	Title              string
	Start              time.Time
	End                time.Time
	Location           string
	Description        string
	Category           Category // empty until classified
	CategoryConfidence *float64
	CategorySource     CategorySource
}

// EndOrDefault returns End, or Start plus DefaultEventDuration when unset.
func (e EventDraft) EndOrDefault() time.Time {
	if e.End.IsZero() || !e.End.After(e.Start) {
		return e.Start.Add(DefaultEventDuration)
	}
	return e.End
}

// Priority ranks todos. The zero value is not valid; use PriorityMedium.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// TodoDraft is a task assembled from a single line of input.
type TodoDraft struct {
	ID         int64
	Title      string
	Due        *time.Time
	Priority   Priority
	Project    string
	Tags       []string
	Recurrence *RecurrenceRule
	Duration   time.Duration // estimated effort, 0 when not stated
	Done       bool
}

// Frequency is the base cadence of a RecurrenceRule.
type Frequency string

const (
	FrequencyDaily    Frequency = "daily"
	FrequencyWeekly   Frequency = "weekly"
	FrequencyBiweekly Frequency = "biweekly"
	FrequencyMonthly  Frequency = "monthly"
	FrequencyCustom   Frequency = "custom"
)

// RecurrenceRule governs todo regeneration and bulk event generation.
type RecurrenceRule struct {
	Frequency Frequency
	Interval  int
	End       *time.Time
	// Spec is a standard five-field cron expression, only used by
	// FrequencyCustom.
	Spec string
}

// ErrInvalidRule is returned by RecurrenceRule.Validate.
var ErrInvalidRule = errors.New("invalid recurrence rule")

// Validate checks interval and frequency constraints.
func (r RecurrenceRule) Validate() error {
	if r.Interval <= 0 {
		return fmt.Errorf("%w: interval must be positive, got %d", ErrInvalidRule, r.Interval)
	}
	switch r.Frequency {
	case FrequencyDaily, FrequencyWeekly, FrequencyBiweekly, FrequencyMonthly:
		return nil
	case FrequencyCustom:
		if strings.TrimSpace(r.Spec) == "" {
			return fmt.Errorf("%w: custom frequency requires a cron spec", ErrInvalidRule)
		}
		return nil
	default:
		return fmt.Errorf("%w: unknown frequency %q", ErrInvalidRule, r.Frequency)
	}
}

// PendingRecurringContext is the single-slot state held between a
// recurring request and the answer giving its repeat count.
type PendingRecurringContext struct {
	Title    string
	Start    time.Time
	Location string
	Pattern  string // cadence label: "daily", "weekly", "monthly", "every tuesday"
}

// ExtractionResult is the normalized output of the AI extraction pipeline.
// It is never persisted directly.
type ExtractionResult struct {
	Title    string `json:"title"`
	DateTime string `json:"datetime"`
	Location string `json:"location"`
}

// Role names a conversation participant.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one conversation turn.
type Message struct {
	Role Role
	Text string
}
