package connect

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/IdanShtepel/CalendarAssistV2-sub000/internal/model"
)

// CalendarProvider imports events from Google Calendar.
type CalendarProvider struct {
	// Now is the reference time for the sync window. Defaults to time.Now.
	Now func() time.Time
}

// CalendarConfig holds the configuration for the Google Calendar connector.
type CalendarConfig struct {
	// AccessToken is a Google OAuth 2.0 access token with calendar.readonly scope.
	AccessToken string `json:"access_token"`

	// Calendars is a list of calendar IDs to sync (default: ["primary"]).
	Calendars []string `json:"calendars"`

	// DaysBack controls how far back to sync (default: 7).
	DaysBack int `json:"days_back,omitempty"`

	// DaysForward controls how far ahead to sync (default: 90).
	DaysForward int `json:"days_forward,omitempty"`
}

func init() {
	DefaultRegistry.Register(&CalendarProvider{})
}

func (p *CalendarProvider) Name() string        { return "gcal" }
func (p *CalendarProvider) DisplayName() string { return "Google Calendar" }

func (p *CalendarProvider) DefaultConfig() json.RawMessage {
	return json.RawMessage(`{
  "access_token": "",
  "calendars": ["primary"],
  "days_back": 7,
  "days_forward": 90
}`)
}

func (p *CalendarProvider) ValidateConfig(config json.RawMessage) error {
	var cfg CalendarConfig
	if err := json.Unmarshal(config, &cfg); err != nil {
		return fmt.Errorf("invalid config JSON: %w", err)
	}
	if cfg.AccessToken == "" && os.Getenv("GOOGLE_ACCESS_TOKEN") == "" {
		return fmt.Errorf("access_token is required (Google OAuth 2.0 token with calendar.readonly scope, or GOOGLE_ACCESS_TOKEN)")
	}
	if len(cfg.Calendars) == 0 {
		return fmt.Errorf("at least one calendar ID is required (use \"primary\" for default)")
	}
	return nil
}

func (p *CalendarProvider) Fetch(ctx context.Context, config json.RawMessage, since *time.Time) ([]model.EventDraft, error) {
	var cfg CalendarConfig
	if err := json.Unmarshal(config, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	// Fall back to GOOGLE_ACCESS_TOKEN env var if no token in config
	if cfg.AccessToken == "" {
		cfg.AccessToken = os.Getenv("GOOGLE_ACCESS_TOKEN")
	}
	if cfg.AccessToken == "" {
		return nil, fmt.Errorf("no access token provided: set in config or GOOGLE_ACCESS_TOKEN env var")
	}
	if len(cfg.Calendars) == 0 {
		return nil, fmt.Errorf("at least one calendar is required")
	}

	daysBack := cfg.DaysBack
	if daysBack <= 0 {
		daysBack = 7
	}
	daysForward := cfg.DaysForward
	if daysForward <= 0 {
		daysForward = 90
	}

	now := time.Now
	if p.Now != nil {
		now = p.Now
	}
	window := syncWindow{
		from:  now().UTC().AddDate(0, 0, -daysBack),
		to:    now().UTC().AddDate(0, 0, daysForward),
		since: since,
	}

	client := newGoogleClient(cfg.AccessToken)

	var all []model.EventDraft
	for _, calID := range cfg.Calendars {
		drafts, err := fetchEvents(ctx, client, calID, window)
		if err != nil {
			return nil, fmt.Errorf("fetching events for calendar %s: %w", calID, err)
		}
		all = append(all, drafts...)
	}
	return all, nil
}

type syncWindow struct {
	from, to time.Time
	since    *time.Time
}

// calendarBaseURL is the Google Calendar API base. Variable for test injection.
var calendarBaseURL = "https://www.googleapis.com/calendar/v3"

// maxPages caps pagination per calendar.
const maxPages = 10

func fetchEvents(ctx context.Context, client *googleClient, calendarID string, w syncWindow) ([]model.EventDraft, error) {
	// Calendar IDs are often email addresses.
	baseURL := fmt.Sprintf("%s/calendars/%s/events", calendarBaseURL, url.PathEscape(calendarID))

	params := url.Values{}
	params.Set("singleEvents", "true")
	params.Set("orderBy", "startTime")
	params.Set("maxResults", "250")
	params.Set("timeMin", w.from.Format(time.RFC3339))
	params.Set("timeMax", w.to.Format(time.RFC3339))
	if w.since != nil {
		params.Set("updatedMin", w.since.UTC().Format(time.RFC3339))
	}

	var drafts []model.EventDraft
	for pages := 0; pages < maxPages; pages++ {
		var result calendarEventsList
		if err := client.get(ctx, baseURL+"?"+params.Encode(), &result); err != nil {
			return nil, err
		}

		for _, event := range result.Items {
			if event.Status == "cancelled" {
				continue
			}
			if d, ok := eventToDraft(event); ok {
				drafts = append(drafts, d)
			}
		}

		if result.NextPageToken == "" {
			break
		}
		params.Set("pageToken", result.NextPageToken)
	}
	return drafts, nil
}

// eventToDraft converts a Google Calendar event. Events without a usable
// start are dropped. All-day events start at local midnight.
func eventToDraft(event calendarEvent) (model.EventDraft, bool) {
	start, ok := eventTime(event.Start)
	if !ok {
		return model.EventDraft{}, false
	}

	title := strings.TrimSpace(event.Summary)
	if title == "" {
		title = "(No title)"
	}

	d := model.EventDraft{
		Title:          title,
		Start:          start,
		Location:       strings.TrimSpace(event.Location),
		Description:    truncate(event.Description, 2000),
		CategorySource: model.SourceImported,
	}
	if end, ok := eventTime(event.End); ok && end.After(start) {
		d.End = end
	} else {
		d.End = start.Add(model.DefaultEventDuration)
	}
	return d, true
}

func eventTime(et calendarEventTime) (time.Time, bool) {
	if et.DateTime != "" {
		t := parseGoogleTime(et.DateTime)
		return t, !t.IsZero()
	}
	if et.Date != "" {
		loc := time.Local
		if et.TimeZone != "" {
			if l, err := time.LoadLocation(et.TimeZone); err == nil {
				loc = l
			}
		}
		t, err := time.ParseInLocation("2006-01-02", et.Date, loc)
		return t, err == nil
	}
	return time.Time{}, false
}

func truncate(s string, maxLen int) string {
	s = strings.TrimSpace(s)
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}

// --- Google Calendar API types ---

type calendarEventsList struct {
	Items         []calendarEvent `json:"items"`
	NextPageToken string          `json:"nextPageToken"`
}

type calendarEvent struct {
	ID          string            `json:"id"`
	Summary     string            `json:"summary"`
	Description string            `json:"description"`
	Location    string            `json:"location"`
	Status      string            `json:"status"`
	Start       calendarEventTime `json:"start"`
	End         calendarEventTime `json:"end"`
	Updated     string            `json:"updated"`
}

type calendarEventTime struct {
	DateTime string `json:"dateTime"`
	Date     string `json:"date"`
	TimeZone string `json:"timeZone"`
}
