// Package classify assigns a category to an event.
//
// Lookup order: user overrides (exact normalized key), then the LLM, then
// keyword heuristics. Results below the confidence threshold are still
// returned, flagged NeedsConfirmation so the caller can ask the user.
package classify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/IdanShtepel/CalendarAssistV2-sub000/internal/llm"
	"github.com/IdanShtepel/CalendarAssistV2-sub000/internal/model"
)

const (
	// classifyTimeout is the max time for a single classification call.
	classifyTimeout = 15 * time.Second

	// DefaultThreshold is the confidence below which a result needs confirmation.
	DefaultThreshold = 0.75

	// KeywordConfidence is assigned to keyword-heuristic matches.
	KeywordConfidence = 0.3

	// FallbackConfidence is assigned when nothing matched at all.
	FallbackConfidence = 0.1

	defaultCacheSize = 256
)

const classifySystemPrompt = `You are an event classification system for a personal calendar. Assign exactly one CATEGORY to the event.

AVAILABLE CATEGORIES:
- personal: Private time, hobbies, family, anything that fits no other category
- work: Job tasks, office hours, client work, focus blocks ("finish Q3 report", "client visit")
- social: Meals and outings with friends, parties, drinks ("dinner with Ana", "birthday party")
- health: Exercise, medical and wellness appointments ("gym", "dentist", "therapy")
- exam: Tests, quizzes, exams ("physics midterm", "driving test")
- due-date: Deadlines and submissions ("essay due", "submit tax return")
- meeting: Scheduled meetings, calls, standups, 1:1s ("standup", "sync with Bob")
- travel: Flights, trips, hotel stays, commutes ("flight to NYC", "check in at hotel")
- errand: Chores and pickups ("groceries", "pick up dry cleaning")

RULES:
- Classify based on the MEANING of the event, not single keywords
- Return confidence 0.0-1.0
- Keep reasoning to one short sentence

Return ONLY a JSON object:
{"category": "meeting", "confidence": 0.9, "reasoning": "Recurring team standup."}`

// Input is the event text to classify.
type Input struct {
	Title       string
	Location    string
	Description string
}

// InputFromDraft builds an Input from an event draft.
func InputFromDraft(d model.EventDraft) Input {
	return Input{Title: d.Title, Location: d.Location, Description: d.Description}
}

// Classification is the result of Classify.
type Classification struct {
	Category          model.Category
	Confidence        float64
	Source            model.CategorySource
	Reasoning         string
	NeedsConfirmation bool // confidence below threshold
}

// Apply copies the classification onto d.
func (c Classification) Apply(d *model.EventDraft) {
	conf := c.Confidence
	d.Category = c.Category
	d.CategoryConfidence = &conf
	d.CategorySource = c.Source
}

// Classifier assigns categories. Overrides are owned by the instance.
type Classifier struct {
	provider  llm.Provider
	store     OverrideStore
	overrides *Overrides
	cache     *lru.Cache[string, Classification]
	enabled   bool
	threshold float64
	logger    *slog.Logger
}

// Option configures a Classifier.
type Option func(*Classifier)

// WithThreshold sets the confirmation threshold (0 < t <= 1).
func WithThreshold(t float64) Option {
	return func(c *Classifier) {
		if t > 0 && t <= 1 {
			c.threshold = t
		}
	}
}

// WithAutoDetect toggles automatic classification. When disabled every
// event is personal with source default.
func WithAutoDetect(enabled bool) Option {
	return func(c *Classifier) { c.enabled = enabled }
}

// WithOverrideStore persists overrides through s.
func WithOverrideStore(s OverrideStore) Option {
	return func(c *Classifier) { c.store = s }
}

// WithOverrides seeds the in-memory override map.
func WithOverrides(m map[string]model.Category) Option {
	return func(c *Classifier) { c.overrides.Replace(m) }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *Classifier) { c.logger = l }
}

// New creates a classifier. provider may be nil; classification then uses
// keyword heuristics only.
func New(provider llm.Provider, opts ...Option) *Classifier {
	cache, _ := lru.New[string, Classification](defaultCacheSize)
	c := &Classifier{
		provider:  provider,
		overrides: NewOverrides(nil),
		cache:     cache,
		enabled:   true,
		threshold: DefaultThreshold,
		logger:    slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Threshold returns the confirmation threshold.
func (c *Classifier) Threshold() float64 { return c.threshold }

// Overrides returns the classifier's override map.
func (c *Classifier) Overrides() *Overrides { return c.overrides }

// LoadOverrides replaces the in-memory overrides with the store's content.
func (c *Classifier) LoadOverrides(ctx context.Context) error {
	if c.store == nil {
		return nil
	}
	m, err := c.store.LoadOverrides(ctx)
	if err != nil {
		return fmt.Errorf("loading category overrides: %w", err)
	}
	c.overrides.Replace(m)
	c.cache.Purge()
	return nil
}

// Classify returns the category for in. It never fails: provider errors and
// unusable responses degrade to keyword heuristics.
func (c *Classifier) Classify(ctx context.Context, in Input) Classification {
	if !c.enabled {
		return Classification{Category: model.CategoryPersonal, Confidence: 0, Source: model.SourceDefault}
	}

	if cat, key, ok := c.overrides.Lookup(in); ok {
		return Classification{
			Category:   cat,
			Confidence: 1.0,
			Source:     model.SourceManual,
			Reasoning:  "override " + key,
		}
	}

	key := NormalizeKey(in.Title, in.Location, in.Description)
	if cached, ok := c.cache.Get(key); ok {
		return cached
	}

	if c.provider != nil {
		res, err := c.classifyWithLLM(ctx, in)
		if err == nil {
			c.cache.Add(key, res)
			return res
		}
		if llm.IsTransient(err) {
			c.logger.Warn("category classification unavailable, using keywords", "error", err)
		} else {
			c.logger.Debug("category classification unusable, using keywords", "error", err)
		}
	}

	return c.finish(keywordClassification(in))
}

// finish applies the confidence threshold.
func (c *Classifier) finish(res Classification) Classification {
	res.Source = model.SourceAuto
	res.NeedsConfirmation = res.Confidence < c.threshold
	return res
}

// errUnknownCategory marks a response naming a category outside the set.
var errUnknownCategory = errors.New("unknown category")

func (c *Classifier) classifyWithLLM(ctx context.Context, in Input) (Classification, error) {
	ctx, cancel := context.WithTimeout(ctx, classifyTimeout)
	defer cancel()

	response, err := c.provider.Complete(ctx, buildClassifyPrompt(in), llm.CompletionOpts{
		Temperature: 0.1,
		MaxTokens:   200,
		Format:      "json",
		System:      classifySystemPrompt,
	})
	if err != nil {
		return Classification{}, fmt.Errorf("LLM classify call: %w", err)
	}

	parsed, err := parseClassifyResponse(response)
	if err != nil {
		return Classification{}, err
	}
	cat, ok := model.ParseCategory(parsed.Category)
	if !ok {
		return Classification{}, fmt.Errorf("%w: %q", errUnknownCategory, parsed.Category)
	}

	conf := parsed.Confidence
	if conf < 0 {
		conf = 0
	}
	if conf > 1 {
		conf = 1
	}
	return c.finish(Classification{
		Category:   cat,
		Confidence: conf,
		Reasoning:  strings.TrimSpace(parsed.Reasoning),
	}), nil
}

// buildClassifyPrompt constructs the user message for one event.
func buildClassifyPrompt(in Input) string {
	var sb strings.Builder
	sb.WriteString("Classify this event. Return JSON only.\n\n")
	sb.WriteString(fmt.Sprintf("Title: %s\n", orNone(in.Title)))
	sb.WriteString(fmt.Sprintf("Location: %s\n", orNone(in.Location)))
	sb.WriteString(fmt.Sprintf("Description: %s\n", orNone(truncateForPrompt(in.Description, 300))))
	return sb.String()
}

// classifyResponse is the JSON the LLM returns.
type classifyResponse struct {
	Category   string  `json:"category"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning"`
}

// parseClassifyResponse parses the LLM's JSON (with markdown stripping).
func parseClassifyResponse(raw string) (classifyResponse, error) {
	cleaned := strings.TrimSpace(raw)

	// Strip markdown code fences
	if strings.HasPrefix(cleaned, "```") {
		lines := strings.Split(cleaned, "\n")
		start, end := 0, len(lines)
		for i, line := range lines {
			if strings.HasPrefix(strings.TrimSpace(line), "```") {
				if start == 0 {
					start = i + 1
				} else {
					end = i
					break
				}
			}
		}
		if start > 0 && end > start {
			cleaned = strings.Join(lines[start:end], "\n")
		}
	}

	// Tolerate prose around the object
	if i, j := strings.Index(cleaned, "{"), strings.LastIndex(cleaned, "}"); i >= 0 && j > i {
		cleaned = cleaned[i : j+1]
	}

	var resp classifyResponse
	if err := json.Unmarshal([]byte(cleaned), &resp); err != nil {
		return classifyResponse{}, fmt.Errorf("invalid JSON from LLM: %w\nraw: %s", err, truncateForPrompt(raw, 300))
	}
	return resp, nil
}

// keywordRules are checked in order; the first match wins.
var keywordRules = []struct {
	category model.Category
	re       *regexp.Regexp
}{
	{model.CategoryExam, wordsRE("exam", "exams", "test", "quiz", "midterm", "finals")},
	{model.CategoryDueDate, wordsRE("due", "deadline", "submit", "submission", "assignment")},
	{model.CategoryMeeting, wordsRE("meeting", "standup", "stand-up", "sync", "1:1", "one-on-one", "call")},
	{model.CategoryHealth, wordsRE("gym", "doctor", "dentist", "workout", "therapy", "yoga", "physio", "checkup")},
	{model.CategoryTravel, wordsRE("flight", "trip", "hotel", "airport", "train", "vacation")},
	{model.CategorySocial, wordsRE("lunch", "dinner", "party", "drinks", "coffee", "brunch", "birthday")},
	{model.CategoryErrand, wordsRE("groceries", "grocery", "pickup", "pick up", "errand", "laundry", "pharmacy")},
	{model.CategoryWork, wordsRE("work", "office", "client", "presentation", "report")},
}

func wordsRE(words ...string) *regexp.Regexp {
	quoted := make([]string, len(words))
	for i, w := range words {
		quoted[i] = regexp.QuoteMeta(w)
	}
	return regexp.MustCompile(`\b(?:` + strings.Join(quoted, "|") + `)\b`)
}

// KeywordCategory applies the keyword heuristics alone.
func KeywordCategory(in Input) (model.Category, bool) {
	text := strings.ToLower(in.Title + " " + in.Location + " " + in.Description)
	for _, r := range keywordRules {
		if r.re.MatchString(text) {
			return r.category, true
		}
	}
	return "", false
}

func keywordClassification(in Input) Classification {
	if cat, ok := KeywordCategory(in); ok {
		return Classification{Category: cat, Confidence: KeywordConfidence, Reasoning: "keyword match"}
	}
	return Classification{Category: model.CategoryPersonal, Confidence: FallbackConfidence, Reasoning: "no signal"}
}

// SaveOverride records the user's category for in. With generalize, the
// title-only and location-only keys are saved too. The result cache is
// dropped so the override takes effect immediately.
func (c *Classifier) SaveOverride(ctx context.Context, in Input, category model.Category, generalize bool) ([]string, error) {
	if _, ok := model.ParseCategory(string(category)); !ok {
		return nil, fmt.Errorf("invalid category %q", category)
	}

	keys := []string{NormalizeKey(in.Title, in.Location, in.Description)}
	if generalize {
		if normalizeField(in.Title) != "" {
			keys = append(keys, TitleKey(in.Title))
		}
		if normalizeField(in.Location) != "" {
			keys = append(keys, LocationKey(in.Location))
		}
	}

	var errs []error
	for _, k := range keys {
		if c.store != nil {
			if err := c.store.SaveOverride(ctx, k, category); err != nil {
				errs = append(errs, fmt.Errorf("saving override %q: %w", k, err))
				continue
			}
		}
		c.overrides.Set(k, category)
	}
	c.cache.Purge()
	return keys, errors.Join(errs...)
}

// DeleteOverride removes one key from the store and memory.
func (c *Classifier) DeleteOverride(ctx context.Context, key string) error {
	if c.store != nil {
		if err := c.store.DeleteOverride(ctx, key); err != nil {
			return fmt.Errorf("deleting override %q: %w", key, err)
		}
	}
	c.overrides.Delete(key)
	c.cache.Purge()
	return nil
}

func orNone(s string) string {
	if strings.TrimSpace(s) == "" {
		return "(none)"
	}
	return s
}

// truncateForPrompt truncates a string for prompt inclusion, cutting at a
// rune boundary at or before maxLen bytes.
func truncateForPrompt(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	cut := maxLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "…"
}
