// Package connect pulls events from external calendars into calassist.
//
// Connectors fetch events from a remote service (Google Calendar, a
// subscribed ICS feed) and return them as drafts. Sync stores them through
// the same path as file imports, so they are deduplicated, classified when
// they carry no category and filed with category source "imported".
package connect

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/IdanShtepel/CalendarAssistV2-sub000/internal/model"
)

// Provider defines the interface that all connectors must implement.
type Provider interface {
	// Name returns the unique provider identifier (e.g., "gcal").
	Name() string

	// DisplayName returns a human-readable name (e.g., "Google Calendar").
	DisplayName() string

	// ValidateConfig checks whether the provided JSON config is valid.
	// Returns nil if config is valid, error with actionable message otherwise.
	ValidateConfig(config json.RawMessage) error

	// DefaultConfig returns a template config with placeholder values.
	DefaultConfig() json.RawMessage

	// Fetch retrieves events from the external service.
	// If since is non-nil, only events modified after that time are returned
	// where the service supports it.
	Fetch(ctx context.Context, cfg json.RawMessage, since *time.Time) ([]model.EventDraft, error)
}

// SyncResult holds the outcome of a connector sync operation.
type SyncResult struct {
	Provider       string        `json:"provider"`
	EventsFetched  int           `json:"events_fetched"`
	EventsImported int           `json:"events_imported"`
	EventsSkipped  int           `json:"events_skipped"`
	EventsFailed   int           `json:"events_failed"`
	Duration       time.Duration `json:"duration"`
	Error          string        `json:"error,omitempty"`
	SyncedAt       time.Time     `json:"synced_at"`
}

// Registry holds all registered providers. Thread-safe.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
}

// NewRegistry creates an empty provider registry.
func NewRegistry() *Registry {
	return &Registry{
		providers: make(map[string]Provider),
	}
}

// Register adds a provider to the registry. Panics on duplicate names.
func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := p.Name()
	if _, exists := r.providers[name]; exists {
		panic(fmt.Sprintf("connect: duplicate provider registration: %s", name))
	}
	r.providers[name] = p
}

// Get returns a provider by name, or nil if not found.
func (r *Registry) Get(name string) Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.providers[name]
}

// List returns all registered provider names, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DefaultRegistry is the global provider registry.
// Providers register themselves during init().
var DefaultRegistry = NewRegistry()
