package classify

import (
	"context"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/IdanShtepel/CalendarAssistV2-sub000/internal/model"
)

// Key prefixes for generalized overrides.
const (
	titleKeyPrefix    = "title:"
	locationKeyPrefix = "location:"
)

// OverrideStore persists category overrides.
type OverrideStore interface {
	LoadOverrides(ctx context.Context) (map[string]model.Category, error)
	SaveOverride(ctx context.Context, key string, category model.Category) error
	DeleteOverride(ctx context.Context, key string) error
}

var wsRE = regexp.MustCompile(`\s+`)

func normalizeField(s string) string {
	return wsRE.ReplaceAllString(strings.ToLower(strings.TrimSpace(s)), " ")
}

// NormalizeKey builds the composite override key: each field lower-cased,
// trimmed and whitespace-collapsed, joined with "|".
// NormalizeKey("Standup", "Room  A", "") == "standup|room a|".
func NormalizeKey(title, location, description string) string {
	return normalizeField(title) + "|" + normalizeField(location) + "|" + normalizeField(description)
}

// TitleKey is the generalized key matching any event with this title.
func TitleKey(title string) string { return titleKeyPrefix + normalizeField(title) }

// LocationKey is the generalized key matching any event at this location.
func LocationKey(location string) string { return locationKeyPrefix + normalizeField(location) }

// Overrides is an in-memory override map. Safe for concurrent use.
type Overrides struct {
	mu sync.RWMutex
	m  map[string]model.Category
}

// NewOverrides copies m into a new Overrides.
func NewOverrides(m map[string]model.Category) *Overrides {
	o := &Overrides{m: make(map[string]model.Category, len(m))}
	for k, v := range m {
		o.m[k] = v
	}
	return o
}

// Lookup checks the composite key first, then the title and location keys.
// Matching is exact on the normalized key.
func (o *Overrides) Lookup(in Input) (model.Category, string, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()

	keys := []string{NormalizeKey(in.Title, in.Location, in.Description)}
	if normalizeField(in.Title) != "" {
		keys = append(keys, TitleKey(in.Title))
	}
	if normalizeField(in.Location) != "" {
		keys = append(keys, LocationKey(in.Location))
	}
	for _, k := range keys {
		if c, ok := o.m[k]; ok {
			return c, k, true
		}
	}
	return "", "", false
}

// Set stores one key.
func (o *Overrides) Set(key string, c model.Category) {
	o.mu.Lock()
	o.m[key] = c
	o.mu.Unlock()
}

// Delete removes one key and reports whether it existed.
func (o *Overrides) Delete(key string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.m[key]
	delete(o.m, key)
	return ok
}

// Replace swaps the whole map.
func (o *Overrides) Replace(m map[string]model.Category) {
	fresh := make(map[string]model.Category, len(m))
	for k, v := range m {
		fresh[k] = v
	}
	o.mu.Lock()
	o.m = fresh
	o.mu.Unlock()
}

// Len returns the number of keys.
func (o *Overrides) Len() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return len(o.m)
}

// Entry is one override for listing.
type Entry struct {
	Key      string
	Category model.Category
}

// Entries returns all overrides sorted by key.
func (o *Overrides) Entries() []Entry {
	o.mu.RLock()
	out := make([]Entry, 0, len(o.m))
	for k, v := range o.m {
		out = append(out, Entry{Key: k, Category: v})
	}
	o.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}
