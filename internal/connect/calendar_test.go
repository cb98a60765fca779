package connect

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/IdanShtepel/CalendarAssistV2-sub000/internal/ics"
	"github.com/IdanShtepel/CalendarAssistV2-sub000/internal/model"
	"github.com/IdanShtepel/CalendarAssistV2-sub000/internal/store"
)

var syncNow = time.Date(2024, time.March, 13, 10, 0, 0, 0, time.UTC)

func testEvents() calendarEventsList {
	return calendarEventsList{
		Items: []calendarEvent{
			{
				ID:       "evt1",
				Summary:  "Team Standup",
				Status:   "confirmed",
				Location: "Room 4",
				Start:    calendarEventTime{DateTime: "2024-03-14T09:00:00Z"},
				End:      calendarEventTime{DateTime: "2024-03-14T09:15:00Z"},
			},
			{
				ID:      "evt2",
				Summary: "Cancelled Meeting",
				Status:  "cancelled",
				Start:   calendarEventTime{DateTime: "2024-03-14T14:00:00Z"},
			},
			{
				ID:      "evt3",
				Summary: "Conference",
				Status:  "confirmed",
				Start:   calendarEventTime{Date: "2024-03-15", TimeZone: "UTC"},
				End:     calendarEventTime{Date: "2024-03-16", TimeZone: "UTC"},
			},
		},
	}
}

// withCalendarServer points the Google Calendar client at a test server.
func withCalendarServer(t *testing.T, h http.HandlerFunc) {
	t.Helper()
	server := httptest.NewServer(h)
	t.Cleanup(server.Close)

	old := calendarBaseURL
	calendarBaseURL = server.URL
	t.Cleanup(func() { calendarBaseURL = old })
}

func TestCalendarProviderRegistered(t *testing.T) {
	p := DefaultRegistry.Get("gcal")
	if p == nil {
		t.Fatal("gcal provider not registered")
	}
	if p.DisplayName() != "Google Calendar" {
		t.Fatalf("expected display name 'Google Calendar', got %q", p.DisplayName())
	}
	if got := DefaultRegistry.List(); len(got) != 2 || got[0] != "gcal" || got[1] != "ics-feed" {
		t.Fatalf("unexpected providers: %v", got)
	}
}

func TestRegistryDuplicatePanics(t *testing.T) {
	r := NewRegistry()
	r.Register(&FeedProvider{})
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on duplicate registration")
		}
	}()
	r.Register(&FeedProvider{})
}

func TestCalendarDefaultConfig(t *testing.T) {
	p := &CalendarProvider{}

	var parsed CalendarConfig
	if err := json.Unmarshal(p.DefaultConfig(), &parsed); err != nil {
		t.Fatalf("default config is not valid JSON: %v", err)
	}
	if len(parsed.Calendars) != 1 || parsed.Calendars[0] != "primary" {
		t.Fatalf("unexpected default calendars: %v", parsed.Calendars)
	}
	if parsed.DaysBack != 7 || parsed.DaysForward != 90 {
		t.Fatalf("unexpected window: %d back, %d forward", parsed.DaysBack, parsed.DaysForward)
	}
}

func TestCalendarValidateConfig(t *testing.T) {
	t.Setenv("GOOGLE_ACCESS_TOKEN", "")
	p := &CalendarProvider{}

	tests := []struct {
		name    string
		config  string
		wantErr bool
	}{
		{"valid", `{"access_token": "ya29.x", "calendars": ["primary"]}`, false},
		{"missing token", `{"access_token": "", "calendars": ["primary"]}`, true},
		{"no calendars", `{"access_token": "ya29.x", "calendars": []}`, true},
		{"invalid JSON", `{bad`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := p.ValidateConfig(json.RawMessage(tt.config))
			if (err != nil) != tt.wantErr {
				t.Fatalf("ValidateConfig() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestEventToDraft(t *testing.T) {
	d, ok := eventToDraft(testEvents().Items[0])
	if !ok {
		t.Fatal("expected a draft")
	}
	if d.Title != "Team Standup" || d.Location != "Room 4" {
		t.Fatalf("unexpected draft: %+v", d)
	}
	if !d.Start.Equal(time.Date(2024, time.March, 14, 9, 0, 0, 0, time.UTC)) {
		t.Fatalf("start = %v", d.Start)
	}
	if d.End.Sub(d.Start) != 15*time.Minute {
		t.Fatalf("end = %v", d.End)
	}
	if d.CategorySource != model.SourceImported {
		t.Fatalf("source = %q", d.CategorySource)
	}
}

func TestEventToDraftAllDay(t *testing.T) {
	d, ok := eventToDraft(testEvents().Items[2])
	if !ok {
		t.Fatal("expected a draft")
	}
	if !d.Start.Equal(time.Date(2024, time.March, 15, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("all-day start = %v", d.Start)
	}
	if d.End.Sub(d.Start) != 24*time.Hour {
		t.Fatalf("all-day end = %v", d.End)
	}
}

func TestEventToDraftEdgeCases(t *testing.T) {
	d, ok := eventToDraft(calendarEvent{Start: calendarEventTime{DateTime: "2024-03-14T09:00:00Z"}})
	if !ok || d.Title != "(No title)" {
		t.Fatalf("expected placeholder title, got %+v", d)
	}
	if d.End.Sub(d.Start) != model.DefaultEventDuration {
		t.Fatalf("missing end should default, got %v", d.End)
	}

	if _, ok := eventToDraft(calendarEvent{Summary: "No start"}); ok {
		t.Fatal("event without start should be dropped")
	}

	long := strings.Repeat("a", 2500)
	d, _ = eventToDraft(calendarEvent{Summary: "x", Description: long, Start: calendarEventTime{Date: "2024-03-14"}})
	if len(d.Description) != 2003 || !strings.HasSuffix(d.Description, "...") {
		t.Fatalf("description not truncated: %d", len(d.Description))
	}
}

func TestParseGoogleTime(t *testing.T) {
	tests := []struct {
		in   string
		want time.Time
	}{
		{"2024-03-14T09:00:00Z", time.Date(2024, 3, 14, 9, 0, 0, 0, time.UTC)},
		{"2024-03-14T09:00:00.123Z", time.Date(2024, 3, 14, 9, 0, 0, 123000000, time.UTC)},
		{"", time.Time{}},
		{"garbage", time.Time{}},
	}
	for _, tt := range tests {
		if got := parseGoogleTime(tt.in); !got.Equal(tt.want) {
			t.Errorf("parseGoogleTime(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestCalendarFetchWithMockServer(t *testing.T) {
	var auth, path string
	var query map[string][]string
	withCalendarServer(t, func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		path = r.URL.EscapedPath()
		query = r.URL.Query()
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(testEvents())
	})

	p := &CalendarProvider{Now: func() time.Time { return syncNow }}
	drafts, err := p.Fetch(context.Background(),
		json.RawMessage(`{"access_token": "test-token", "calendars": ["me@example.com"]}`), nil)
	if err != nil {
		t.Fatalf("fetch failed: %v", err)
	}

	if len(drafts) != 2 {
		t.Fatalf("expected 2 drafts (excluding cancelled), got %d", len(drafts))
	}
	if drafts[0].Title != "Team Standup" || drafts[1].Title != "Conference" {
		t.Fatalf("unexpected drafts: %q, %q", drafts[0].Title, drafts[1].Title)
	}
	if auth != "Bearer test-token" {
		t.Fatalf("Authorization = %q", auth)
	}
	if path != "/calendars/me@example.com/events" {
		t.Fatalf("path = %q", path)
	}
	if got := query["timeMin"]; len(got) != 1 || got[0] != "2024-03-06T10:00:00Z" {
		t.Fatalf("timeMin = %v", got)
	}
	if _, ok := query["updatedMin"]; ok {
		t.Fatal("full sync should not send updatedMin")
	}
}

func TestCalendarFetchPaging(t *testing.T) {
	calls := 0
	withCalendarServer(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		page := calendarEventsList{Items: testEvents().Items[:1]}
		if r.URL.Query().Get("pageToken") == "" {
			page.NextPageToken = "p2"
		}
		json.NewEncoder(w).Encode(page)
	})

	p := &CalendarProvider{Now: func() time.Time { return syncNow }}
	drafts, err := p.Fetch(context.Background(),
		json.RawMessage(`{"access_token": "t", "calendars": ["primary"]}`), nil)
	if err != nil {
		t.Fatal(err)
	}
	if calls != 2 || len(drafts) != 2 {
		t.Fatalf("calls = %d, drafts = %d", calls, len(drafts))
	}
}

func TestCalendarFetchIncremental(t *testing.T) {
	var updatedMin string
	withCalendarServer(t, func(w http.ResponseWriter, r *http.Request) {
		updatedMin = r.URL.Query().Get("updatedMin")
		json.NewEncoder(w).Encode(calendarEventsList{})
	})

	p := &CalendarProvider{}
	since := time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)
	if _, err := p.Fetch(context.Background(),
		json.RawMessage(`{"access_token": "test", "calendars": ["primary"]}`), &since); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if updatedMin != "2024-03-10T00:00:00Z" {
		t.Fatalf("updatedMin = %q", updatedMin)
	}
}

func TestCalendarFetchEnvFallback(t *testing.T) {
	var auth string
	withCalendarServer(t, func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		json.NewEncoder(w).Encode(calendarEventsList{})
	})

	p := &CalendarProvider{}
	cfg := json.RawMessage(`{"access_token": "", "calendars": ["primary"]}`)

	t.Setenv("GOOGLE_ACCESS_TOKEN", "")
	if _, err := p.Fetch(context.Background(), cfg, nil); err == nil {
		t.Fatal("expected error without token")
	}

	t.Setenv("GOOGLE_ACCESS_TOKEN", "ya29.from-env")
	if _, err := p.Fetch(context.Background(), cfg, nil); err != nil {
		t.Fatalf("env fallback failed: %v", err)
	}
	if auth != "Bearer ya29.from-env" {
		t.Fatalf("Authorization = %q", auth)
	}
}

func TestCalendarFetchUnauthorized(t *testing.T) {
	withCalendarServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"invalid_token"}`, http.StatusUnauthorized)
	})

	p := &CalendarProvider{}
	_, err := p.Fetch(context.Background(),
		json.RawMessage(`{"access_token": "expired", "calendars": ["primary"]}`), nil)

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *APIError, got %v", err)
	}
	if !apiErr.Unauthorized() {
		t.Fatalf("status %d should count as unauthorized", apiErr.Status)
	}
}

const feedBody = "BEGIN:VCALENDAR\r\nVERSION:2.0\r\nPRODID:-//t//t//EN\r\n" +
	"BEGIN:VEVENT\r\nUID:f1\r\nDTSTAMP:20240301T000000Z\r\nDTSTART:20240318T090000Z\r\nSUMMARY:Dentist\r\nCATEGORIES:health\r\nEND:VEVENT\r\n" +
	"END:VCALENDAR\r\n"

func TestFeedValidateConfig(t *testing.T) {
	p := &FeedProvider{}
	tests := []struct {
		config  string
		wantErr bool
	}{
		{`{"url": "https://example.com/cal.ics"}`, false},
		{`{"url": "webcal://example.com/cal.ics"}`, false},
		{`{"url": ""}`, true},
		{`{"url": "ftp://example.com/cal.ics"}`, true},
		{`{bad`, true},
	}
	for _, tt := range tests {
		err := p.ValidateConfig(json.RawMessage(tt.config))
		if (err != nil) != tt.wantErr {
			t.Errorf("ValidateConfig(%s) error = %v, wantErr %v", tt.config, err, tt.wantErr)
		}
	}
}

func TestFeedFetch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/secret-token/cal.ics" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/calendar")
		w.Write([]byte(feedBody))
	}))
	defer server.Close()

	p := &FeedProvider{}
	drafts, err := p.Fetch(context.Background(), json.RawMessage(`{"url": "`+server.URL+`/secret-token/cal.ics"}`), nil)
	if err != nil {
		t.Fatalf("fetch failed: %v", err)
	}
	if len(drafts) != 1 || drafts[0].Title != "Dentist" || drafts[0].Category != model.CategoryHealth {
		t.Fatalf("unexpected drafts: %+v", drafts)
	}

	_, err = p.Fetch(context.Background(), json.RawMessage(`{"url": "`+server.URL+`/secret-token/missing.ics"}`), nil)
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusNotFound {
		t.Fatalf("expected 404 APIError, got %v", err)
	}
	if strings.Contains(err.Error(), "secret-token") {
		t.Fatalf("error leaks feed path: %v", err)
	}
}

func TestSyncImportsAndDedups(t *testing.T) {
	withCalendarServer(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(testEvents())
	})

	st, err := store.NewStore(store.StoreConfig{DBPath: ":memory:", Location: time.UTC})
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()

	reg := NewRegistry()
	reg.Register(&CalendarProvider{Now: func() time.Time { return syncNow }})
	engine := NewSyncEngine(reg, ics.NewImporter(st, nil, nil), nil)

	cfg := json.RawMessage(`{"access_token": "t", "calendars": ["primary"]}`)
	ctx := context.Background()

	res, err := engine.Sync(ctx, "gcal", cfg, nil)
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if res.EventsFetched != 2 || res.EventsImported != 2 || res.EventsSkipped != 0 {
		t.Fatalf("first sync = %+v", res)
	}

	res, err = engine.Sync(ctx, "gcal", cfg, nil)
	if err != nil {
		t.Fatalf("second sync: %v", err)
	}
	if res.EventsImported != 0 || res.EventsSkipped != 2 {
		t.Fatalf("second sync should skip stored events, got %+v", res)
	}

	events, err := st.ListEvents(ctx, syncNow, syncNow.AddDate(0, 0, 7))
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 stored events, got %d", len(events))
	}
	for _, e := range events {
		if e.CategorySource != model.SourceImported {
			t.Errorf("%s: source = %q", e.Title, e.CategorySource)
		}
	}
}

func TestSyncErrors(t *testing.T) {
	st, err := store.NewStore(store.StoreConfig{DBPath: ":memory:", Location: time.UTC})
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()
	engine := NewSyncEngine(NewRegistry(), ics.NewImporter(st, nil, nil), nil)

	res, err := engine.Sync(context.Background(), "outlook", nil, nil)
	if err == nil || res.Error == "" {
		t.Fatal("expected error for unknown provider")
	}

	engine = NewSyncEngine(nil, ics.NewImporter(st, nil, nil), nil)
	if _, err := engine.Sync(context.Background(), "ics-feed", json.RawMessage(`{"url": ""}`), nil); err == nil {
		t.Fatal("expected config validation error")
	}
}
