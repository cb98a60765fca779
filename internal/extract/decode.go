package extract

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/kaptinlin/jsonrepair"

	"github.com/IdanShtepel/CalendarAssistV2-sub000/internal/model"
)

// Stage names the decoder that produced an ExtractionResult.
type Stage string

const (
	StageJSON       Stage = "json"
	StageStructured Stage = "structured"
	StageKeyword    Stage = "keyword"
)

// DefaultTitle is used when a decoded response has no title.
const DefaultTitle = "New Event"

// DecodeFunc parses a provider response. ok is false when the stage does not
// apply to raw.
type DecodeFunc func(raw string, now time.Time) (model.ExtractionResult, bool)

// Decoder pairs a decode function with the stage it reports.
type Decoder struct {
	Stage  Stage
	Decode DecodeFunc
}

// Decoders returns the response decoders in the order they are tried. The
// keyword fallback is not listed: it never fails and also reads the user's
// text, see KeywordFallback.
func Decoders() []Decoder {
	return []Decoder{
		{StageJSON, DecodeJSON},
		{StageStructured, DecodeStructured},
	}
}

// Decode runs the cascade over raw. Stages are exclusive: the first success
// is returned as-is and partial results are never merged.
func Decode(raw, userText string, now time.Time) (model.ExtractionResult, Stage) {
	for _, d := range Decoders() {
		if res, ok := d.Decode(raw, now); ok {
			return res, d.Stage
		}
	}
	return KeywordFallback(userText+" "+raw, now), StageKeyword
}

// DecodeJSON parses the outermost {...} span of raw. Malformed JSON is run
// through jsonrepair once; a repaired object must carry at least one known
// field to count.
func DecodeJSON(raw string, now time.Time) (model.ExtractionResult, bool) {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return model.ExtractionResult{}, false
	}
	span := raw[start : end+1]

	fields, err := parseObject(span)
	if err != nil {
		repaired, rerr := jsonrepair.JSONRepair(span)
		if rerr != nil {
			return model.ExtractionResult{}, false
		}
		fields, err = parseObject(repaired)
		if err != nil || !hasKnownField(fields) {
			return model.ExtractionResult{}, false
		}
	}

	res := model.ExtractionResult{
		Title:    firstField(fields, "title", "summary", "name"),
		DateTime: firstField(fields, "datetime", "date_time", "start"),
		Location: firstField(fields, "location", "place"),
	}
	return withDefaults(res, now), true
}

func parseObject(s string) (map[string]any, error) {
	var fields map[string]any
	if err := json.Unmarshal([]byte(s), &fields); err != nil {
		return nil, err
	}
	if fields == nil {
		return nil, fmt.Errorf("not an object")
	}
	return fields, nil
}

func hasKnownField(fields map[string]any) bool {
	for k := range fields {
		switch strings.ToLower(k) {
		case "title", "summary", "name", "datetime", "date_time", "start", "location", "place":
			return true
		}
	}
	return false
}

// firstField returns the first non-empty value among keys, matched
// case-insensitively. Non-string values are formatted.
func firstField(fields map[string]any, keys ...string) string {
	for _, want := range keys {
		for k, v := range fields {
			if !strings.EqualFold(k, want) || v == nil {
				continue
			}
			var s string
			switch val := v.(type) {
			case string:
				s = val
			case float64:
				s = strconv.FormatFloat(val, 'f', -1, 64)
			default:
				s = fmt.Sprint(val)
			}
			if s = strings.TrimSpace(s); s != "" {
				return s
			}
		}
	}
	return ""
}

var bulletRE = regexp.MustCompile(`^\s*(?:[-*•]|\d+[.)])\s*`)

// DecodeStructured scans raw for "title: X", "datetime: Y" and "location: Z"
// lines. Bullets and bold markers are tolerated. At least a title or a
// datetime must be present.
func DecodeStructured(raw string, now time.Time) (model.ExtractionResult, bool) {
	var res model.ExtractionResult
	found := false
	for _, line := range strings.Split(raw, "\n") {
		line = bulletRE.ReplaceAllString(line, "")
		line = strings.NewReplacer("**", "", "__", "").Replace(line)
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		value = strings.Trim(strings.TrimSpace(value), `"'`)
		if value == "" {
			continue
		}
		switch strings.NewReplacer(" ", "", "_", "", "-", "", "/", "").Replace(strings.ToLower(strings.TrimSpace(key))) {
		case "title":
			if res.Title == "" {
				res.Title = value
				found = true
			}
		case "datetime":
			if res.DateTime == "" {
				res.DateTime = value
				found = true
			}
		case "location":
			if res.Location == "" {
				res.Location = value
			}
		}
	}
	if !found {
		return model.ExtractionResult{}, false
	}
	return withDefaults(res, now), true
}

var (
	keywordTitleRE = regexp.MustCompile(`\b(lunch|dinner|meeting|call)\b`)
	explicitTimeRE = regexp.MustCompile(`\b(\d{1,2})(?::(\d{2}))?\s*([ap])\.?m\b`)
)

// KeywordFallback derives a coarse result from text alone. The title comes
// from a fixed keyword set ("Lunch", "Dinner", "Meeting", "Call") or is
// "Event". The time is taken only from an explicit "7pm" style token, on
// today's date or tomorrow's when already past; otherwise one hour from now.
func KeywordFallback(text string, now time.Time) model.ExtractionResult {
	lower := strings.ToLower(text)

	title := "Event"
	if m := keywordTitleRE.FindStringSubmatch(lower); m != nil {
		title = strings.ToUpper(m[1][:1]) + m[1][1:]
	}

	at := now.Add(time.Hour)
	if m := explicitTimeRE.FindStringSubmatch(lower); m != nil {
		h, _ := strconv.Atoi(m[1])
		mm := 0
		if m[2] != "" {
			mm, _ = strconv.Atoi(m[2])
		}
		if h >= 1 && h <= 12 && mm <= 59 {
			if m[3] == "p" && h != 12 {
				h += 12
			}
			if m[3] == "a" && h == 12 {
				h = 0
			}
			at = time.Date(now.Year(), now.Month(), now.Day(), h, mm, 0, 0, now.Location())
			if at.Before(now) {
				at = at.AddDate(0, 0, 1)
			}
		}
	}

	return model.ExtractionResult{
		Title:    title,
		DateTime: at.Format(model.DateTimeLayout),
	}
}

func withDefaults(res model.ExtractionResult, now time.Time) model.ExtractionResult {
	if strings.TrimSpace(res.Title) == "" {
		res.Title = DefaultTitle
	}
	if strings.TrimSpace(res.DateTime) == "" {
		res.DateTime = now.Add(time.Hour).Format(model.DateTimeLayout)
	}
	return res
}

// dateTimeLayouts are tried in order; the first that parses wins.
var dateTimeLayouts = []string{
	model.DateTimeLayout,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"01/02/2006 15:04",
	"01/02/2006 3:04 PM",
	"2006-01-02",
}

// ParseDateTime parses s against the known layouts in now's location. A
// string mentioning "tomorrow" maps to now plus one day; anything else maps
// to now plus one hour.
func ParseDateTime(s string, now time.Time) time.Time {
	if t, ok := parseLayouts(s, now.Location()); ok {
		return t
	}
	if strings.Contains(strings.ToLower(s), "tomorrow") {
		return now.AddDate(0, 0, 1)
	}
	return now.Add(time.Hour)
}

func parseLayouts(s string, loc *time.Location) (time.Time, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range dateTimeLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
