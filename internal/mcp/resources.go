package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/IdanShtepel/CalendarAssistV2-sub000/internal/classify"
	"github.com/IdanShtepel/CalendarAssistV2-sub000/internal/store"
)

// upcomingWindow is how far ahead the upcoming resource looks.
const upcomingWindow = 14 * 24 * time.Hour

func registerUpcomingResource(s *server.MCPServer, st store.Store, now func() time.Time) {
	resource := mcp.NewResource(
		"calassist://events/upcoming",
		"Upcoming Events",
		mcp.WithResourceDescription("Stored events starting within the next 14 days."),
		mcp.WithMIMEType("application/json"),
	)

	s.AddResource(resource, func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		dbMu.Lock()
		defer dbMu.Unlock()

		if st == nil {
			return nil, fmt.Errorf("no store configured")
		}
		from := now()
		events, err := st.ListEvents(ctx, from, from.Add(upcomingWindow))
		if err != nil {
			return nil, fmt.Errorf("listing upcoming events: %w", err)
		}

		out := make([]EventJSON, 0, len(events))
		for _, ev := range events {
			out = append(out, eventJSON(ev))
		}
		payload := map[string]interface{}{
			"events": out,
			"count":  len(out),
		}
		data, _ := json.MarshalIndent(payload, "", "  ")
		return []mcp.ResourceContents{
			mcp.TextResourceContents{URI: req.Params.URI, MIMEType: "application/json", Text: string(data)},
		}, nil
	})
}

func registerOverridesResource(s *server.MCPServer, c *classify.Classifier) {
	resource := mcp.NewResource(
		"calassist://overrides",
		"Category Overrides",
		mcp.WithResourceDescription("User category overrides keyed by normalized event text."),
		mcp.WithMIMEType("application/json"),
	)

	s.AddResource(resource, func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		type overrideInfo struct {
			Key      string `json:"key"`
			Category string `json:"category"`
		}

		overrides := make([]overrideInfo, 0)
		if c != nil {
			for _, e := range c.Overrides().Entries() {
				overrides = append(overrides, overrideInfo{Key: e.Key, Category: string(e.Category)})
			}
		}

		payload := map[string]interface{}{
			"overrides": overrides,
			"count":     len(overrides),
		}
		data, _ := json.MarshalIndent(payload, "", "  ")
		return []mcp.ResourceContents{
			mcp.TextResourceContents{URI: req.Params.URI, MIMEType: "application/json", Text: string(data)},
		}, nil
	})
}
