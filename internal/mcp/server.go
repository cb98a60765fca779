// Package mcp provides a Model Context Protocol server for calassist.
//
// It exposes event extraction, todo parsing, classification, category
// overrides, event listing and time resolution as MCP tools, and upcoming
// events and overrides as MCP resources. Runs over stdio.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/IdanShtepel/CalendarAssistV2-sub000/internal/classify"
	"github.com/IdanShtepel/CalendarAssistV2-sub000/internal/extract"
	"github.com/IdanShtepel/CalendarAssistV2-sub000/internal/model"
	"github.com/IdanShtepel/CalendarAssistV2-sub000/internal/store"
	"github.com/IdanShtepel/CalendarAssistV2-sub000/internal/temporal"
	"github.com/IdanShtepel/CalendarAssistV2-sub000/internal/todo"
)

// ServerConfig holds configuration for the MCP server.
type ServerConfig struct {
	Store      store.Store
	Pipeline   *extract.Pipeline
	Classifier *classify.Classifier
	Version    string           // version string for MCP server info
	Now        func() time.Time // reference clock; defaults to time.Now
}

// dbMu serializes MCP database access. The mcp-go library dispatches
// handlers concurrently via goroutines and SQLite supports only one writer
// at a time. LLM calls run outside it.
var dbMu sync.Mutex

const dateLayout = "2006-01-02"

// NewServer creates a configured MCP server with all calassist tools and resources.
func NewServer(cfg ServerConfig) *server.MCPServer {
	ver := cfg.Version
	if ver == "" {
		ver = "dev"
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	s := server.NewMCPServer(
		"calassist",
		ver,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(true, false),
	)

	registerExtractEventTool(s, cfg)
	registerParseTodoTool(s, cfg)
	registerClassifyEventTool(s, cfg.Classifier)
	registerOverrideTool(s, cfg.Classifier)
	registerListEventsTool(s, cfg.Store, cfg.Now)
	registerResolveTimeTool(s, cfg.Now)

	registerUpcomingResource(s, cfg.Store, cfg.Now)
	registerOverridesResource(s, cfg.Classifier)

	return s
}

// EventJSON is the wire form of an event.
type EventJSON struct {
	ID                 int64    `json:"id,omitempty"`
	Title              string   `json:"title"`
	Start              string   `json:"start"`
	End                string   `json:"end"`
	Location           string   `json:"location,omitempty"`
	Description        string   `json:"description,omitempty"`
	Category           string   `json:"category,omitempty"`
	CategoryConfidence *float64 `json:"category_confidence,omitempty"`
	CategorySource     string   `json:"category_source,omitempty"`
}

func eventJSON(d model.EventDraft) EventJSON {
	return EventJSON{
		ID:                 d.ID,
		Title:              d.Title,
		Start:              d.Start.Format(time.RFC3339),
		End:                d.EndOrDefault().Format(time.RFC3339),
		Location:           d.Location,
		Description:        d.Description,
		Category:           string(d.Category),
		CategoryConfidence: d.CategoryConfidence,
		CategorySource:     string(d.CategorySource),
	}
}

// TodoJSON is the wire form of a todo.
type TodoJSON struct {
	ID         int64    `json:"id,omitempty"`
	Title      string   `json:"title"`
	Due        string   `json:"due,omitempty"`
	Priority   string   `json:"priority"`
	Project    string   `json:"project,omitempty"`
	Tags       []string `json:"tags,omitempty"`
	Recurrence string   `json:"recurrence,omitempty"`
	Duration   string   `json:"duration,omitempty"`
}

func todoJSON(d model.TodoDraft) TodoJSON {
	out := TodoJSON{
		ID:       d.ID,
		Title:    d.Title,
		Priority: string(d.Priority),
		Project:  d.Project,
		Tags:     d.Tags,
	}
	if d.Due != nil {
		out.Due = d.Due.Format(time.RFC3339)
	}
	if r := d.Recurrence; r != nil {
		out.Recurrence = string(r.Frequency)
		if r.Interval > 1 {
			out.Recurrence = fmt.Sprintf("%s/%d", r.Frequency, r.Interval)
		}
		if r.Spec != "" {
			out.Recurrence = r.Spec
		}
	}
	if d.Duration > 0 {
		out.Duration = d.Duration.String()
	}
	return out
}

func jsonResult(v any) *mcp.CallToolResult {
	data, _ := json.MarshalIndent(v, "", "  ")
	return mcp.NewToolResultText(string(data))
}

// --- Tools ---

func registerExtractEventTool(s *server.MCPServer, cfg ServerConfig) {
	tool := mcp.NewTool("extract_event",
		mcp.WithDescription("Extract one calendar event from a natural-language request. Always returns a best-effort draft with a category. Set commit=true to store it."),
		mcp.WithReadOnlyHintAnnotation(false),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithString("text",
			mcp.Required(),
			mcp.Description("The scheduling request, e.g. 'lunch with Sam tomorrow at 1pm at Luigi's'"),
		),
		mcp.WithString("assistant_text",
			mcp.Description("Optional assistant acknowledgement that followed the request"),
		),
		mcp.WithBoolean("commit",
			mcp.Description("Store the extracted event (default: false)"),
		),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		text, err := req.RequireString("text")
		if err != nil || strings.TrimSpace(text) == "" {
			return mcp.NewToolResultError("text is required"), nil
		}
		if cfg.Pipeline == nil {
			return mcp.NewToolResultError("extraction is not configured"), nil
		}

		out, err := cfg.Pipeline.ExtractEventBounded(ctx, extract.Request{
			UserText:      text,
			AssistantText: req.GetString("assistant_text", ""),
			Now:           cfg.Now(),
		})
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("extraction error: %v", err)), nil
		}

		d := out.Draft
		needsConfirmation := false
		if cfg.Classifier != nil {
			c := cfg.Classifier.Classify(ctx, classify.InputFromDraft(d))
			c.Apply(&d)
			needsConfirmation = c.NeedsConfirmation
		} else {
			d.Category = model.CategoryPersonal
			d.CategorySource = model.SourceDefault
		}

		if req.GetBool("commit", false) {
			if cfg.Store == nil {
				return mcp.NewToolResultError("no store configured"), nil
			}
			dbMu.Lock()
			_, err := cfg.Store.AppendEvent(ctx, &d)
			dbMu.Unlock()
			if err != nil {
				return mcp.NewToolResultError(fmt.Sprintf("saving event: %v", err)), nil
			}
		}

		return jsonResult(map[string]any{
			"event":              eventJSON(d),
			"stage":              string(out.Stage),
			"timed_out":          out.TimedOut,
			"needs_confirmation": needsConfirmation,
		}), nil
	})
}

func registerParseTodoTool(s *server.MCPServer, cfg ServerConfig) {
	tool := mcp.NewTool("parse_todo",
		mcp.WithDescription("Parse a one-line todo: due date, priority (urgent, important, someday), project (for <name>), tags (#tag), recurrence and duration hints. Set save=true to store it."),
		mcp.WithReadOnlyHintAnnotation(false),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithString("text",
			mcp.Required(),
			mcp.Description("The todo line, e.g. 'pay rent every month important #home'"),
		),
		mcp.WithBoolean("save",
			mcp.Description("Store the parsed todo (default: false)"),
		),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		dbMu.Lock()
		defer dbMu.Unlock()

		text, err := req.RequireString("text")
		if err != nil {
			return mcp.NewToolResultError("text is required"), nil
		}

		d, err := todo.Parse(text, cfg.Now())
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("parse error: %v", err)), nil
		}

		if req.GetBool("save", false) {
			if cfg.Store == nil {
				return mcp.NewToolResultError("no store configured"), nil
			}
			if _, err := cfg.Store.AddTodo(ctx, &d); err != nil {
				return mcp.NewToolResultError(fmt.Sprintf("saving todo: %v", err)), nil
			}
		}

		return jsonResult(todoJSON(d)), nil
	})
}

func registerClassifyEventTool(s *server.MCPServer, c *classify.Classifier) {
	tool := mcp.NewTool("classify_event",
		mcp.WithDescription("Assign a category to an event. User overrides win, then the AI classifier, then keyword heuristics."),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithString("title",
			mcp.Required(),
			mcp.Description("Event title"),
		),
		mcp.WithString("location",
			mcp.Description("Event location"),
		),
		mcp.WithString("description",
			mcp.Description("Event description"),
		),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		title, err := req.RequireString("title")
		if err != nil {
			return mcp.NewToolResultError("title is required"), nil
		}
		if c == nil {
			return mcp.NewToolResultError("classifier is not configured"), nil
		}

		res := c.Classify(ctx, classify.Input{
			Title:       title,
			Location:    req.GetString("location", ""),
			Description: req.GetString("description", ""),
		})
		return jsonResult(map[string]any{
			"category":           string(res.Category),
			"confidence":         res.Confidence,
			"source":             string(res.Source),
			"reasoning":          res.Reasoning,
			"needs_confirmation": res.NeedsConfirmation,
		}), nil
	})
}

func registerOverrideTool(s *server.MCPServer, c *classify.Classifier) {
	categories := make([]string, 0, len(model.Categories))
	for _, cat := range model.Categories {
		categories = append(categories, string(cat))
	}

	tool := mcp.NewTool("set_category_override",
		mcp.WithDescription("Remember a user's category choice for an event. Future events with the same title, location and description get this category."),
		mcp.WithReadOnlyHintAnnotation(false),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithString("title",
			mcp.Required(),
			mcp.Description("Event title"),
		),
		mcp.WithString("category",
			mcp.Required(),
			mcp.Description("Category to assign"),
			mcp.Enum(categories...),
		),
		mcp.WithString("location",
			mcp.Description("Event location"),
		),
		mcp.WithString("description",
			mcp.Description("Event description"),
		),
		mcp.WithBoolean("generalize",
			mcp.Description("Also apply to any event with this title or this location (default: false)"),
		),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		dbMu.Lock()
		defer dbMu.Unlock()

		title, err := req.RequireString("title")
		if err != nil {
			return mcp.NewToolResultError("title is required"), nil
		}
		raw, err := req.RequireString("category")
		if err != nil {
			return mcp.NewToolResultError("category is required"), nil
		}
		category, ok := model.ParseCategory(raw)
		if !ok {
			return mcp.NewToolResultError(fmt.Sprintf("unknown category %q", raw)), nil
		}
		if c == nil {
			return mcp.NewToolResultError("classifier is not configured"), nil
		}

		keys, err := c.SaveOverride(ctx, classify.Input{
			Title:       title,
			Location:    req.GetString("location", ""),
			Description: req.GetString("description", ""),
		}, category, req.GetBool("generalize", false))
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("override error: %v", err)), nil
		}

		return jsonResult(map[string]any{
			"category": string(category),
			"keys":     keys,
		}), nil
	})
}

func registerListEventsTool(s *server.MCPServer, st store.Store, now func() time.Time) {
	tool := mcp.NewTool("list_events",
		mcp.WithDescription("List stored events in start order, optionally bounded by a date range."),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithString("from",
			mcp.Description("Earliest start date, inclusive (YYYY-MM-DD)"),
		),
		mcp.WithString("to",
			mcp.Description("Latest start date, inclusive (YYYY-MM-DD)"),
		),
		mcp.WithNumber("limit",
			mcp.Description("Maximum number of events (default: 50, max: 500)"),
		),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		dbMu.Lock()
		defer dbMu.Unlock()

		if st == nil {
			return mcp.NewToolResultError("no store configured"), nil
		}

		loc := now().Location()
		var from, to time.Time
		if raw := req.GetString("from", ""); raw != "" {
			t, err := time.ParseInLocation(dateLayout, raw, loc)
			if err != nil {
				return mcp.NewToolResultError(fmt.Sprintf("invalid from date %q: want YYYY-MM-DD", raw)), nil
			}
			from = t
		}
		if raw := req.GetString("to", ""); raw != "" {
			t, err := time.ParseInLocation(dateLayout, raw, loc)
			if err != nil {
				return mcp.NewToolResultError(fmt.Sprintf("invalid to date %q: want YYYY-MM-DD", raw)), nil
			}
			to = t.AddDate(0, 0, 1)
		}

		limit := 50
		if l, err := req.RequireFloat("limit"); err == nil && l > 0 {
			limit = int(l)
			if limit > 500 {
				limit = 500
			}
		}

		events, err := st.ListEvents(ctx, from, to)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("list error: %v", err)), nil
		}
		if len(events) > limit {
			events = events[:limit]
		}

		out := make([]EventJSON, 0, len(events))
		for _, ev := range events {
			out = append(out, eventJSON(ev))
		}
		return jsonResult(out), nil
	})
}

func registerResolveTimeTool(s *server.MCPServer, now func() time.Time) {
	tool := mcp.NewTool("resolve_time",
		mcp.WithDescription("Resolve a date/time phrase such as 'next friday at 3pm' or '12/25' to a concrete timestamp. Missing date means tomorrow; missing time means noon."),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithString("text",
			mcp.Required(),
			mcp.Description("Text containing a date and/or time phrase"),
		),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		text, err := req.RequireString("text")
		if err != nil {
			return mcp.NewToolResultError("text is required"), nil
		}

		at := temporal.Resolve(text, now())
		_, _, hasTime := temporal.ResolveTime(text)
		return jsonResult(map[string]any{
			"resolved":   at.Format(time.RFC3339),
			"normalized": at.Format(model.DateTimeLayout),
			"has_signal": temporal.HasDateSignal(text),
			"has_time":   hasTime,
			"spans":      temporal.Spans(text),
		}), nil
	})
}
