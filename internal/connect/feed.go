package connect

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/IdanShtepel/CalendarAssistV2-sub000/internal/ics"
	"github.com/IdanShtepel/CalendarAssistV2-sub000/internal/model"
)

// maxFeedBytes bounds a subscribed feed's size.
const maxFeedBytes = 10 << 20

// FeedProvider imports a subscribed iCalendar feed over HTTP(S).
type FeedProvider struct{}

// FeedConfig holds the configuration for the ICS feed connector.
type FeedConfig struct {
	// URL is the feed address. webcal:// is treated as https://.
	URL string `json:"url"`
}

func init() {
	DefaultRegistry.Register(&FeedProvider{})
}

func (p *FeedProvider) Name() string        { return "ics-feed" }
func (p *FeedProvider) DisplayName() string { return "iCalendar feed" }

func (p *FeedProvider) DefaultConfig() json.RawMessage {
	return json.RawMessage(`{
  "url": "https://example.com/calendar.ics"
}`)
}

func (p *FeedProvider) ValidateConfig(config json.RawMessage) error {
	var cfg FeedConfig
	if err := json.Unmarshal(config, &cfg); err != nil {
		return fmt.Errorf("invalid config JSON: %w", err)
	}
	_, err := feedURL(cfg.URL)
	return err
}

// Fetch downloads and parses the feed. since is ignored: feeds carry no
// modification filter, and already stored events are skipped on sync.
func (p *FeedProvider) Fetch(ctx context.Context, config json.RawMessage, since *time.Time) ([]model.EventDraft, error) {
	var cfg FeedConfig
	if err := json.Unmarshal(config, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	u, err := feedURL(cfg.URL)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "text/calendar")

	client := &http.Client{Timeout: 15 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching feed %s: %w", redactURL(u), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, &APIError{Service: "feed " + redactURL(u), Status: resp.StatusCode, Body: string(body)}
	}

	drafts, err := ics.Parse(io.LimitReader(resp.Body, maxFeedBytes))
	if err != nil && len(drafts) == 0 {
		return nil, err
	}
	return drafts, nil
}

func feedURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", errors.New("url is required")
	}
	if strings.HasPrefix(raw, "webcal://") {
		raw = "https://" + strings.TrimPrefix(raw, "webcal://")
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", fmt.Errorf("invalid feed url %q: want http(s):// or webcal://", raw)
	}
	return u.String(), nil
}

// redactURL keeps only scheme and host; feed paths often embed secrets.
func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "(redacted)"
	}
	return u.Scheme + "://" + u.Host + "/...(redacted)"
}
