package classify

import (
	"context"
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/IdanShtepel/CalendarAssistV2-sub000/internal/llm"
	"github.com/IdanShtepel/CalendarAssistV2-sub000/internal/model"
)

// mockClassifyProvider implements llm.Provider for testing classification.
type mockClassifyProvider struct {
	response   string
	err        error
	calls      int
	lastPrompt string
}

func (m *mockClassifyProvider) Complete(_ context.Context, prompt string, opts llm.CompletionOpts) (string, error) {
	m.calls++
	m.lastPrompt = prompt
	if m.err != nil {
		return "", m.err
	}
	return m.response, nil
}

func (m *mockClassifyProvider) Name() string { return "mock/classify" }

// memOverrideStore is an in-memory OverrideStore.
type memOverrideStore struct {
	m       map[string]model.Category
	failKey string
}

func newMemOverrideStore() *memOverrideStore {
	return &memOverrideStore{m: map[string]model.Category{}}
}

func (s *memOverrideStore) LoadOverrides(context.Context) (map[string]model.Category, error) {
	out := make(map[string]model.Category, len(s.m))
	for k, v := range s.m {
		out[k] = v
	}
	return out, nil
}

func (s *memOverrideStore) SaveOverride(_ context.Context, key string, c model.Category) error {
	if key == s.failKey {
		return errors.New("disk full")
	}
	s.m[key] = c
	return nil
}

func (s *memOverrideStore) DeleteOverride(_ context.Context, key string) error {
	delete(s.m, key)
	return nil
}

func TestClassify_Disabled(t *testing.T) {
	provider := &mockClassifyProvider{response: `{"category": "work", "confidence": 0.99}`}
	c := New(provider, WithAutoDetect(false))

	got := c.Classify(context.Background(), Input{Title: "Quarterly review"})
	if got.Category != model.CategoryPersonal || got.Confidence != 0 || got.Source != model.SourceDefault {
		t.Errorf("unexpected classification: %+v", got)
	}
	if provider.calls != 0 {
		t.Errorf("expected no LLM calls, got %d", provider.calls)
	}
}

func TestClassify_OverrideWinsOverLLM(t *testing.T) {
	provider := &mockClassifyProvider{response: `{"category": "social", "confidence": 0.99, "reasoning": "sounds fun"}`}
	c := New(provider, WithOverrides(map[string]model.Category{
		"standup|room a|": model.CategoryWork,
	}))

	got := c.Classify(context.Background(), Input{Title: "Standup", Location: "Room  A"})
	if got.Category != model.CategoryWork {
		t.Errorf("expected override category work, got %q", got.Category)
	}
	if got.Confidence != 1.0 {
		t.Errorf("expected confidence 1.0, got %v", got.Confidence)
	}
	if got.Source != model.SourceManual {
		t.Errorf("expected source manual, got %q", got.Source)
	}
	if provider.calls != 0 {
		t.Errorf("override must short-circuit the LLM, got %d calls", provider.calls)
	}
}

func TestClassify_GeneralizedOverrides(t *testing.T) {
	c := New(nil, WithOverrides(map[string]model.Category{
		TitleKey("Standup"):        model.CategoryMeeting,
		LocationKey("City Clinic"): model.CategoryHealth,
	}))

	got := c.Classify(context.Background(), Input{Title: "standup", Location: "Zoom", Description: "daily"})
	if got.Category != model.CategoryMeeting || got.Source != model.SourceManual {
		t.Errorf("title override: got %+v", got)
	}

	got = c.Classify(context.Background(), Input{Title: "Checkup with Dr. Lee", Location: "city clinic"})
	if got.Category != model.CategoryHealth || got.Source != model.SourceManual {
		t.Errorf("location override: got %+v", got)
	}
}

func TestClassify_LLMConfidence(t *testing.T) {
	tests := []struct {
		name         string
		response     string
		wantCategory model.Category
		wantConf     float64
		needsConfirm bool
	}{
		{"high confidence", `{"category": "meeting", "confidence": 0.92, "reasoning": "team sync"}`, model.CategoryMeeting, 0.92, false},
		{"at threshold", `{"category": "work", "confidence": 0.75}`, model.CategoryWork, 0.75, false},
		{"low confidence still returned", `{"category": "social", "confidence": 0.5}`, model.CategorySocial, 0.5, true},
		{"category alias", `{"category": "Due Date", "confidence": 0.9}`, model.CategoryDueDate, 0.9, false},
		{"confidence clamped", `{"category": "travel", "confidence": 7}`, model.CategoryTravel, 1, false},
		{"markdown fenced", "```json\n{\"category\": \"exam\", \"confidence\": 0.8}\n```", model.CategoryExam, 0.8, false},
		{"prose around object", `Sure: {"category": "errand", "confidence": 0.85} hope that helps`, model.CategoryErrand, 0.85, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := New(&mockClassifyProvider{response: tt.response})
			got := c.Classify(context.Background(), Input{Title: "Something"})
			if got.Category != tt.wantCategory {
				t.Errorf("category: got %q, want %q", got.Category, tt.wantCategory)
			}
			if got.Confidence != tt.wantConf {
				t.Errorf("confidence: got %v, want %v", got.Confidence, tt.wantConf)
			}
			if got.Source != model.SourceAuto {
				t.Errorf("source: got %q, want auto", got.Source)
			}
			if got.NeedsConfirmation != tt.needsConfirm {
				t.Errorf("needs confirmation: got %v, want %v", got.NeedsConfirmation, tt.needsConfirm)
			}
		})
	}
}

func TestClassify_KeywordFallback(t *testing.T) {
	tests := []struct {
		name     string
		provider *mockClassifyProvider
		input    Input
		want     model.Category
		conf     float64
	}{
		{"unknown category", &mockClassifyProvider{response: `{"category": "technology", "confidence": 0.9}`}, Input{Title: "Physics exam"}, model.CategoryExam, KeywordConfidence},
		{"invalid JSON", &mockClassifyProvider{response: "not json"}, Input{Title: "Essay deadline"}, model.CategoryDueDate, KeywordConfidence},
		{"provider error", &mockClassifyProvider{err: &llm.NetworkError{Err: errors.New("reset")}}, Input{Title: "Flight to Lisbon"}, model.CategoryTravel, KeywordConfidence},
		{"location keyword", &mockClassifyProvider{response: "???"}, Input{Title: "Leg day", Location: "Gym"}, model.CategoryHealth, KeywordConfidence},
		{"total failure", &mockClassifyProvider{response: "???"}, Input{Title: "Think about life"}, model.CategoryPersonal, FallbackConfidence},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := New(tt.provider).Classify(context.Background(), tt.input)
			if got.Category != tt.want {
				t.Errorf("category: got %q, want %q", got.Category, tt.want)
			}
			if got.Confidence != tt.conf {
				t.Errorf("confidence: got %v, want %v", got.Confidence, tt.conf)
			}
			if got.Source != model.SourceAuto || !got.NeedsConfirmation {
				t.Errorf("fallback must be auto and need confirmation: %+v", got)
			}
		})
	}
}

func TestClassify_NilProviderUsesKeywords(t *testing.T) {
	got := New(nil).Classify(context.Background(), Input{Title: "Dinner with Ana"})
	if got.Category != model.CategorySocial || got.Confidence != KeywordConfidence {
		t.Errorf("unexpected classification: %+v", got)
	}
}

func TestClassify_CacheAndInvalidation(t *testing.T) {
	provider := &mockClassifyProvider{response: `{"category": "social", "confidence": 0.9}`}
	store := newMemOverrideStore()
	c := New(provider, WithOverrideStore(store))
	ctx := context.Background()
	in := Input{Title: "Board games", Location: "Tom's"}

	c.Classify(ctx, in)
	c.Classify(ctx, Input{Title: "  board   games ", Location: "TOM'S"})
	if provider.calls != 1 {
		t.Fatalf("expected normalized input to hit the cache, got %d calls", provider.calls)
	}

	if _, err := c.SaveOverride(ctx, in, model.CategoryPersonal, false); err != nil {
		t.Fatalf("SaveOverride: %v", err)
	}
	got := c.Classify(ctx, in)
	if got.Category != model.CategoryPersonal || got.Source != model.SourceManual {
		t.Errorf("override not applied after save: %+v", got)
	}
}

func TestSaveOverride(t *testing.T) {
	store := newMemOverrideStore()
	c := New(nil, WithOverrideStore(store))
	ctx := context.Background()

	keys, err := c.SaveOverride(ctx, Input{Title: "Standup", Location: "Room A"}, model.CategoryMeeting, true)
	if err != nil {
		t.Fatalf("SaveOverride: %v", err)
	}
	want := []string{"standup|room a|", "title:standup", "location:room a"}
	if strings.Join(keys, ",") != strings.Join(want, ",") {
		t.Errorf("keys: got %v, want %v", keys, want)
	}
	for _, k := range want {
		if store.m[k] != model.CategoryMeeting {
			t.Errorf("store missing %q", k)
		}
	}
	if c.Overrides().Len() != 3 {
		t.Errorf("expected 3 in-memory overrides, got %d", c.Overrides().Len())
	}

	keys, err = c.SaveOverride(ctx, Input{Title: "Gym"}, model.CategoryHealth, true)
	if err != nil {
		t.Fatalf("SaveOverride: %v", err)
	}
	if len(keys) != 2 {
		t.Errorf("empty location must not be generalized, got %v", keys)
	}

	if _, err := c.SaveOverride(ctx, Input{Title: "x"}, model.Category("fun"), false); err == nil {
		t.Error("expected error for invalid category")
	}
}

func TestSaveOverride_PartialFailure(t *testing.T) {
	store := newMemOverrideStore()
	store.failKey = "title:standup"
	c := New(nil, WithOverrideStore(store))

	_, err := c.SaveOverride(context.Background(), Input{Title: "Standup", Location: "Room A"}, model.CategoryMeeting, true)
	if err == nil || !strings.Contains(err.Error(), "disk full") {
		t.Fatalf("expected joined store error, got %v", err)
	}
	if _, ok := store.m["location:room a"]; !ok {
		t.Error("remaining keys should still be saved")
	}
	if c.Overrides().Len() != 2 {
		t.Errorf("failed key must not be cached in memory, got %d keys", c.Overrides().Len())
	}
}

func TestLoadAndDeleteOverrides(t *testing.T) {
	store := newMemOverrideStore()
	store.m["standup|room a|"] = model.CategoryMeeting
	c := New(nil, WithOverrideStore(store))
	ctx := context.Background()

	if err := c.LoadOverrides(ctx); err != nil {
		t.Fatalf("LoadOverrides: %v", err)
	}
	if got := c.Classify(ctx, Input{Title: "Standup", Location: "Room A"}); got.Source != model.SourceManual {
		t.Fatalf("expected loaded override to apply, got %+v", got)
	}

	if err := c.DeleteOverride(ctx, "standup|room a|"); err != nil {
		t.Fatalf("DeleteOverride: %v", err)
	}
	if _, ok := store.m["standup|room a|"]; ok {
		t.Error("override still in store")
	}
	if got := c.Classify(ctx, Input{Title: "Standup", Location: "Room A"}); got.Source == model.SourceManual {
		t.Error("deleted override still applied")
	}
}

func TestNormalizeKey(t *testing.T) {
	tests := []struct {
		title, location, description string
		want                         string
	}{
		{"Standup", "Room A", "", "standup|room a|"},
		{"  Standup ", "Room \t A", "", "standup|room a|"},
		{"Dinner", "", "with  Ana", "dinner||with ana"},
		{"", "", "", "||"},
	}

	for _, tt := range tests {
		if got := NormalizeKey(tt.title, tt.location, tt.description); got != tt.want {
			t.Errorf("NormalizeKey(%q, %q, %q) = %q, want %q", tt.title, tt.location, tt.description, got, tt.want)
		}
	}
}

func TestBuildClassifyPrompt(t *testing.T) {
	prompt := buildClassifyPrompt(Input{Title: "Standup", Location: "Room A"})

	if !strings.Contains(prompt, "Title: Standup") {
		t.Error("prompt should contain title")
	}
	if !strings.Contains(prompt, "Location: Room A") {
		t.Error("prompt should contain location")
	}
	if !strings.Contains(prompt, "Description: (none)") {
		t.Error("prompt should show (none) for empty description")
	}
}

func TestParseClassifyResponse_InvalidJSON(t *testing.T) {
	if _, err := parseClassifyResponse("not json"); err == nil {
		t.Fatal("expected error")
	}
}

func TestApply(t *testing.T) {
	var d model.EventDraft
	Classification{Category: model.CategoryWork, Confidence: 0.8, Source: model.SourceAuto}.Apply(&d)
	if d.Category != model.CategoryWork || d.CategorySource != model.SourceAuto {
		t.Errorf("unexpected draft: %+v", d)
	}
	if d.CategoryConfidence == nil || *d.CategoryConfidence != 0.8 {
		t.Error("confidence not applied")
	}
}

func TestTruncateForPrompt(t *testing.T) {
	tests := []struct {
		name string
		in   string
		max  int
		want string
	}{
		{"short", "lunch", 10, "lunch"},
		{"ascii", "team standup", 4, "team…"},
		{"cuts before multibyte rune", "café meeting", 4, "caf…"},
		{"keeps whole multibyte rune", "café meeting", 5, "café…"},
		{"emoji", "🎉 party", 2, "…"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := truncateForPrompt(tt.in, tt.max)
			if got != tt.want {
				t.Errorf("truncateForPrompt(%q, %d) = %q, want %q", tt.in, tt.max, got, tt.want)
			}
			if !utf8.ValidString(got) {
				t.Errorf("truncateForPrompt(%q, %d) = %q is not valid UTF-8", tt.in, tt.max, got)
			}
		})
	}
}
