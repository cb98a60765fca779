package connect

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/IdanShtepel/CalendarAssistV2-sub000/internal/ics"
)

// SyncEngine runs connector fetches through the event import path.
type SyncEngine struct {
	registry *Registry
	importer *ics.Importer
	logger   *slog.Logger
	now      func() time.Time
}

// NewSyncEngine creates a sync engine. A nil registry uses DefaultRegistry.
func NewSyncEngine(registry *Registry, importer *ics.Importer, logger *slog.Logger) *SyncEngine {
	if registry == nil {
		registry = DefaultRegistry
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SyncEngine{registry: registry, importer: importer, logger: logger, now: time.Now}
}

// Sync fetches from the named provider and imports the result. The returned
// error is non-nil when the provider is unknown, its config is invalid or
// the fetch fails; per-event import failures are only counted.
func (se *SyncEngine) Sync(ctx context.Context, providerName string, cfg json.RawMessage, since *time.Time) (SyncResult, error) {
	start := se.now()
	result := SyncResult{
		Provider: providerName,
		SyncedAt: start,
	}
	fail := func(err error) (SyncResult, error) {
		result.Error = err.Error()
		result.Duration = se.now().Sub(start)
		se.logger.Warn("connector sync failed", "provider", providerName, "error", err)
		return result, err
	}

	provider := se.registry.Get(providerName)
	if provider == nil {
		return fail(fmt.Errorf("provider %q not registered (available: %v)", providerName, se.registry.List()))
	}
	if err := provider.ValidateConfig(cfg); err != nil {
		return fail(fmt.Errorf("%s config: %w", providerName, err))
	}

	drafts, err := provider.Fetch(ctx, cfg, since)
	if err != nil {
		return fail(fmt.Errorf("fetch failed: %w", err))
	}
	result.EventsFetched = len(drafts)

	res, err := se.importer.ImportDrafts(ctx, drafts)
	result.EventsImported = res.Added
	result.EventsSkipped = res.Skipped
	result.EventsFailed = res.Failed
	if err != nil {
		result.Error = err.Error()
	}
	result.Duration = se.now().Sub(start)

	se.logger.Info("connector sync completed",
		"provider", providerName,
		"fetched", result.EventsFetched,
		"imported", result.EventsImported,
		"skipped", result.EventsSkipped,
		"failed", result.EventsFailed,
		"duration", result.Duration,
	)
	return result, nil
}
