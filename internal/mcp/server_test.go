package mcp

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/IdanShtepel/CalendarAssistV2-sub000/internal/classify"
	"github.com/IdanShtepel/CalendarAssistV2-sub000/internal/extract"
	"github.com/IdanShtepel/CalendarAssistV2-sub000/internal/llm"
	"github.com/IdanShtepel/CalendarAssistV2-sub000/internal/model"
	"github.com/IdanShtepel/CalendarAssistV2-sub000/internal/store"
)

// Wednesday 2024-03-13 10:15 UTC.
var testNow = time.Date(2024, time.March, 13, 10, 15, 0, 0, time.UTC)

// cannedProvider answers classification prompts with category and
// everything else with event.
type cannedProvider struct {
	event    string
	category string
}

func (p *cannedProvider) Complete(_ context.Context, _ string, opts llm.CompletionOpts) (string, error) {
	if strings.Contains(opts.System, "classification") {
		return p.category, nil
	}
	return p.event, nil
}

func (p *cannedProvider) Name() string { return "canned/test" }

// helper: create a test store with some events
func setupTestStore(t *testing.T) store.Store {
	t.Helper()
	s, err := store.NewStore(store.StoreConfig{DBPath: ":memory:", Location: time.UTC})
	if err != nil {
		t.Fatalf("creating test store: %v", err)
	}

	ctx := context.Background()
	events := []*model.EventDraft{
		{Title: "Dentist", Start: time.Date(2024, time.March, 14, 9, 0, 0, 0, time.UTC), Category: model.CategoryHealth, CategorySource: model.SourceAuto},
		{Title: "Team sync", Start: time.Date(2024, time.March, 18, 10, 0, 0, 0, time.UTC), Location: "Room A", Category: model.CategoryMeeting, CategorySource: model.SourceAuto},
		{Title: "Flight to Lisbon", Start: time.Date(2024, time.April, 20, 7, 0, 0, 0, time.UTC), Category: model.CategoryTravel, CategorySource: model.SourceImported},
	}
	for _, ev := range events {
		if _, err := s.AppendEvent(ctx, ev); err != nil {
			t.Fatalf("adding test event: %v", err)
		}
	}
	return s
}

func setupTestServer(t *testing.T, s store.Store) *server.MCPServer {
	t.Helper()
	p := &cannedProvider{
		event:    `{"title": "Dinner with Alex", "datetime": "2024-03-14 19:00", "location": "Luigi's"}`,
		category: `{"category": "social", "confidence": 0.9, "reasoning": "dinner with a friend"}`,
	}
	clock := func() time.Time { return testNow }
	return NewServer(ServerConfig{
		Store:      s,
		Pipeline:   extract.New(p, extract.WithClock(clock)),
		Classifier: classify.New(p, classify.WithOverrideStore(s)),
		Version:    "test",
		Now:        clock,
	})
}

func TestNewServer(t *testing.T) {
	s := setupTestStore(t)
	defer s.Close()

	srv := NewServer(ServerConfig{Store: s})
	if srv == nil {
		t.Fatal("NewServer returned nil")
	}
}

// callTool is a helper that invokes an MCP tool through a JSON-RPC message.
func callTool(t *testing.T, srv *server.MCPServer, name string, args map[string]interface{}) *mcplib.CallToolResult {
	t.Helper()

	result := srv.HandleMessage(context.Background(), mustMarshal(t, map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  "tools/call",
		"params": map[string]interface{}{
			"name":      name,
			"arguments": args,
		},
	}))

	respBytes, err := json.Marshal(result)
	if err != nil {
		t.Fatalf("marshal response: %v", err)
	}

	var resp struct {
		Result struct {
			Content []struct {
				Type string `json:"type"`
				Text string `json:"text"`
			} `json:"content"`
			IsError bool `json:"isError"`
		} `json:"result"`
		Error *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(respBytes, &resp); err != nil {
		t.Fatalf("unmarshal response: %v\nraw: %s", err, string(respBytes))
	}

	if resp.Error != nil {
		t.Fatalf("JSON-RPC error: %d %s", resp.Error.Code, resp.Error.Message)
	}

	callResult := &mcplib.CallToolResult{
		IsError: resp.Result.IsError,
	}
	for _, c := range resp.Result.Content {
		if c.Type == "text" {
			callResult.Content = append(callResult.Content, mcplib.NewTextContent(c.Text))
		}
	}
	return callResult
}

func callResource(t *testing.T, srv *server.MCPServer, uri string) string {
	t.Helper()

	result := srv.HandleMessage(context.Background(), mustMarshal(t, map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  "resources/read",
		"params": map[string]interface{}{
			"uri": uri,
		},
	}))

	respBytes, err := json.Marshal(result)
	if err != nil {
		t.Fatalf("marshal response: %v", err)
	}

	var resp struct {
		Result struct {
			Contents []struct {
				Text string `json:"text"`
			} `json:"contents"`
		} `json:"result"`
		Error *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(respBytes, &resp); err != nil {
		t.Fatalf("unmarshal response: %v\nraw: %s", err, string(respBytes))
	}
	if resp.Error != nil {
		t.Fatalf("JSON-RPC error: %d %s", resp.Error.Code, resp.Error.Message)
	}
	if len(resp.Result.Contents) == 0 {
		t.Fatalf("no resource contents for %s", uri)
	}
	return resp.Result.Contents[0].Text
}

func mustMarshal(t *testing.T, v interface{}) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return data
}

func getTextContent(t *testing.T, result *mcplib.CallToolResult) string {
	t.Helper()
	if len(result.Content) == 0 {
		t.Fatal("no content in result")
	}
	for _, c := range result.Content {
		if tc, ok := c.(mcplib.TextContent); ok {
			return tc.Text
		}
	}
	t.Fatal("no text content found")
	return ""
}

func TestExtractEventTool(t *testing.T) {
	s := setupTestStore(t)
	defer s.Close()
	srv := setupTestServer(t, s)

	result := callTool(t, srv, "extract_event", map[string]interface{}{
		"text": "dinner with Alex tomorrow at 7pm at Luigi's",
	})
	if result.IsError {
		t.Fatalf("unexpected error: %s", getTextContent(t, result))
	}

	var out struct {
		Event             EventJSON `json:"event"`
		Stage             string    `json:"stage"`
		NeedsConfirmation bool      `json:"needs_confirmation"`
	}
	if err := json.Unmarshal([]byte(getTextContent(t, result)), &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out.Event.Title != "Dinner with Alex" {
		t.Errorf("title = %q", out.Event.Title)
	}
	if out.Event.Start != "2024-03-14T19:00:00Z" {
		t.Errorf("start = %q", out.Event.Start)
	}
	if out.Event.Category != "social" || out.Event.CategorySource != "auto" {
		t.Errorf("category = %q (%s)", out.Event.Category, out.Event.CategorySource)
	}
	if out.Event.ID != 0 {
		t.Errorf("event stored without commit: id %d", out.Event.ID)
	}
	if out.Stage != string(extract.StageJSON) {
		t.Errorf("stage = %q", out.Stage)
	}
	if out.NeedsConfirmation {
		t.Error("0.9 confidence should not need confirmation")
	}

	events, _ := s.ListEvents(context.Background(), time.Time{}, time.Time{})
	if len(events) != 3 {
		t.Errorf("expected 3 stored events, got %d", len(events))
	}
}

func TestExtractEventToolCommit(t *testing.T) {
	s := setupTestStore(t)
	defer s.Close()
	srv := setupTestServer(t, s)

	result := callTool(t, srv, "extract_event", map[string]interface{}{
		"text":   "dinner with Alex tomorrow at 7pm",
		"commit": true,
	})
	if result.IsError {
		t.Fatalf("unexpected error: %s", getTextContent(t, result))
	}
	if !strings.Contains(getTextContent(t, result), `"id": 4`) {
		t.Errorf("expected committed event id 4, got %s", getTextContent(t, result))
	}

	events, _ := s.ListEvents(context.Background(), time.Time{}, time.Time{})
	if len(events) != 4 {
		t.Fatalf("expected 4 stored events, got %d", len(events))
	}
}

// gatedProvider blocks extraction until release is closed.
type gatedProvider struct {
	started chan struct{}
	release chan struct{}
	cannedProvider
}

func (p *gatedProvider) Complete(ctx context.Context, prompt string, opts llm.CompletionOpts) (string, error) {
	if !strings.Contains(opts.System, "classification") {
		p.started <- struct{}{}
		select {
		case <-p.release:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return p.cannedProvider.Complete(ctx, prompt, opts)
}

func TestExtractEventToolDoesNotBlockStoreDuringLLMCall(t *testing.T) {
	s := setupTestStore(t)
	defer s.Close()

	p := &gatedProvider{
		started: make(chan struct{}, 1),
		release: make(chan struct{}),
		cannedProvider: cannedProvider{
			event:    `{"title": "Dinner with Alex", "datetime": "2024-03-14 19:00"}`,
			category: `{"category": "social", "confidence": 0.9}`,
		},
	}
	clock := func() time.Time { return testNow }
	srv := NewServer(ServerConfig{
		Store:      s,
		Pipeline:   extract.New(p, extract.WithClock(clock), extract.WithTimeout(10*time.Second)),
		Classifier: classify.New(p, classify.WithOverrideStore(s)),
		Version:    "test",
		Now:        clock,
	})

	message := func(id int, name string, args map[string]interface{}) []byte {
		return mustMarshal(t, map[string]interface{}{
			"jsonrpc": "2.0",
			"id":      id,
			"method":  "tools/call",
			"params":  map[string]interface{}{"name": name, "arguments": args},
		})
	}
	extractMsg := message(1, "extract_event", map[string]interface{}{"text": "dinner with Alex tomorrow at 7pm", "commit": true})
	listMsg := message(2, "list_events", map[string]interface{}{})

	extracted := make(chan struct{})
	go func() {
		srv.HandleMessage(context.Background(), extractMsg)
		close(extracted)
	}()

	select {
	case <-p.started:
	case <-time.After(5 * time.Second):
		t.Fatal("extraction never reached the provider")
	}

	listed := make(chan struct{})
	go func() {
		srv.HandleMessage(context.Background(), listMsg)
		close(listed)
	}()
	select {
	case <-listed:
	case <-time.After(5 * time.Second):
		close(p.release)
		t.Fatal("list_events blocked while extraction was waiting on the provider")
	}

	close(p.release)
	select {
	case <-extracted:
	case <-time.After(5 * time.Second):
		t.Fatal("extraction did not finish")
	}

	events, _ := s.ListEvents(context.Background(), time.Time{}, time.Time{})
	if len(events) != 4 {
		t.Errorf("expected committed event, got %d stored events", len(events))
	}
}

func TestExtractEventToolMissingText(t *testing.T) {
	s := setupTestStore(t)
	defer s.Close()
	srv := setupTestServer(t, s)

	result := callTool(t, srv, "extract_event", map[string]interface{}{"text": "   "})
	if !result.IsError {
		t.Error("expected error for blank text")
	}
}

func TestExtractEventToolNoProvider(t *testing.T) {
	s := setupTestStore(t)
	defer s.Close()
	srv := NewServer(ServerConfig{Store: s, Pipeline: extract.New(nil)})

	result := callTool(t, srv, "extract_event", map[string]interface{}{"text": "lunch tomorrow"})
	if !result.IsError {
		t.Error("expected configuration error without a provider")
	}
}

func TestParseTodoTool(t *testing.T) {
	s := setupTestStore(t)
	defer s.Close()
	srv := setupTestServer(t, s)

	result := callTool(t, srv, "parse_todo", map[string]interface{}{
		"text": "submit report urgent #work",
		"save": true,
	})
	if result.IsError {
		t.Fatalf("unexpected error: %s", getTextContent(t, result))
	}

	var out TodoJSON
	if err := json.Unmarshal([]byte(getTextContent(t, result)), &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out.Priority != "urgent" {
		t.Errorf("priority = %q", out.Priority)
	}
	if len(out.Tags) != 1 || out.Tags[0] != "work" {
		t.Errorf("tags = %v", out.Tags)
	}
	if out.ID == 0 {
		t.Error("saved todo should carry an id")
	}

	todos, err := s.ListTodos(context.Background(), false)
	if err != nil {
		t.Fatalf("ListTodos: %v", err)
	}
	if len(todos) != 1 {
		t.Errorf("expected 1 stored todo, got %d", len(todos))
	}
}

func TestParseTodoToolEmpty(t *testing.T) {
	s := setupTestStore(t)
	defer s.Close()
	srv := setupTestServer(t, s)

	result := callTool(t, srv, "parse_todo", map[string]interface{}{"text": ""})
	if !result.IsError {
		t.Error("expected error for empty todo")
	}
}

func TestClassifyEventTool(t *testing.T) {
	s := setupTestStore(t)
	defer s.Close()
	srv := setupTestServer(t, s)

	result := callTool(t, srv, "classify_event", map[string]interface{}{
		"title":    "Dinner",
		"location": "Luigi's",
	})
	if result.IsError {
		t.Fatalf("unexpected error: %s", getTextContent(t, result))
	}
	text := getTextContent(t, result)
	if !strings.Contains(text, `"category": "social"`) {
		t.Errorf("expected social category, got %s", text)
	}
	if !strings.Contains(text, `"source": "auto"`) {
		t.Errorf("expected auto source, got %s", text)
	}
}

func TestSetCategoryOverrideTool(t *testing.T) {
	s := setupTestStore(t)
	defer s.Close()
	srv := setupTestServer(t, s)

	result := callTool(t, srv, "set_category_override", map[string]interface{}{
		"title":      "Dinner",
		"location":   "Luigi's",
		"category":   "work",
		"generalize": true,
	})
	if result.IsError {
		t.Fatalf("unexpected error: %s", getTextContent(t, result))
	}
	if !strings.Contains(getTextContent(t, result), "title:dinner") {
		t.Errorf("expected generalized title key, got %s", getTextContent(t, result))
	}

	result = callTool(t, srv, "classify_event", map[string]interface{}{
		"title":    "Dinner",
		"location": "Luigi's",
	})
	text := getTextContent(t, result)
	if !strings.Contains(text, `"category": "work"`) || !strings.Contains(text, `"source": "manual"`) {
		t.Errorf("override should win, got %s", text)
	}

	stored, err := s.LoadOverrides(context.Background())
	if err != nil {
		t.Fatalf("LoadOverrides: %v", err)
	}
	if stored["dinner|luigi's|"] != model.CategoryWork {
		t.Errorf("composite override not persisted: %v", stored)
	}

	resource := callResource(t, srv, "calassist://overrides")
	if !strings.Contains(resource, `"count": 3`) {
		t.Errorf("expected 3 overrides in resource, got %s", resource)
	}
}

func TestSetCategoryOverrideToolUnknownCategory(t *testing.T) {
	s := setupTestStore(t)
	defer s.Close()
	srv := setupTestServer(t, s)

	result := callTool(t, srv, "set_category_override", map[string]interface{}{
		"title":    "Dinner",
		"category": "party",
	})
	if !result.IsError {
		t.Error("expected error for unknown category")
	}
}

func TestListEventsTool(t *testing.T) {
	s := setupTestStore(t)
	defer s.Close()
	srv := setupTestServer(t, s)

	tests := []struct {
		name string
		args map[string]interface{}
		want []string
	}{
		{"all", map[string]interface{}{}, []string{"Dentist", "Team sync", "Flight to Lisbon"}},
		{"from", map[string]interface{}{"from": "2024-03-15"}, []string{"Team sync", "Flight to Lisbon"}},
		{"to inclusive", map[string]interface{}{"to": "2024-03-18"}, []string{"Dentist", "Team sync"}},
		{"limit", map[string]interface{}{"limit": 1}, []string{"Dentist"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := callTool(t, srv, "list_events", tt.args)
			if result.IsError {
				t.Fatalf("unexpected error: %s", getTextContent(t, result))
			}
			var events []EventJSON
			if err := json.Unmarshal([]byte(getTextContent(t, result)), &events); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if len(events) != len(tt.want) {
				t.Fatalf("got %d events, want %d", len(events), len(tt.want))
			}
			for i, title := range tt.want {
				if events[i].Title != title {
					t.Errorf("events[%d] = %q, want %q", i, events[i].Title, title)
				}
			}
		})
	}
}

func TestListEventsToolBadDate(t *testing.T) {
	s := setupTestStore(t)
	defer s.Close()
	srv := setupTestServer(t, s)

	result := callTool(t, srv, "list_events", map[string]interface{}{"from": "March 15"})
	if !result.IsError {
		t.Error("expected error for malformed date")
	}
}

func TestResolveTimeTool(t *testing.T) {
	s := setupTestStore(t)
	defer s.Close()
	srv := setupTestServer(t, s)

	result := callTool(t, srv, "resolve_time", map[string]interface{}{"text": "tomorrow at 3pm"})
	if result.IsError {
		t.Fatalf("unexpected error: %s", getTextContent(t, result))
	}

	var out struct {
		Resolved   string `json:"resolved"`
		Normalized string `json:"normalized"`
		HasTime    bool   `json:"has_time"`
	}
	if err := json.Unmarshal([]byte(getTextContent(t, result)), &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out.Normalized != "2024-03-14 15:00" {
		t.Errorf("normalized = %q", out.Normalized)
	}
	if !out.HasTime {
		t.Error("expected has_time")
	}
}

func TestUpcomingResource(t *testing.T) {
	s := setupTestStore(t)
	defer s.Close()
	srv := setupTestServer(t, s)

	text := callResource(t, srv, "calassist://events/upcoming")
	if !strings.Contains(text, "Dentist") || !strings.Contains(text, "Team sync") {
		t.Errorf("expected events within two weeks, got %s", text)
	}
	if strings.Contains(text, "Flight to Lisbon") {
		t.Error("flight is outside the upcoming window")
	}
}
