// Package extract turns a scheduling request into an event draft using the
// LLM provider, with a deterministic keyword fallback.
//
// The provider response is decoded by an ordered cascade: JSON object,
// structured "key: value" text, keyword heuristics. The first stage that
// succeeds wins and its Stage is recorded on the Outcome.
package extract

import (
	"fmt"
	"strings"
	"time"

	"github.com/IdanShtepel/CalendarAssistV2-sub000/internal/model"
)

const systemPrompt = `You are a calendar assistant that converts a scheduling request into one event.

RULES:
- Use the dates given in the request for "today" and "tomorrow"; never compute them yourself
- "datetime" must be local time formatted as YYYY-MM-DD HH:MM (24-hour clock)
- If no time is stated, use 12:00
- If no date is stated, use tomorrow
- "location" is an empty string when none is mentioned
- "title" is short and does not repeat the date, time or location

Return ONLY a JSON object:
{"title": "Lunch with Sam", "datetime": "2024-03-14 12:30", "location": "Cafe Rio"}`

// BuildPrompt constructs the user message for one extraction call. The
// literal dates of today and tomorrow are embedded so the model never does
// date arithmetic.
func BuildPrompt(userText, assistantText string, now time.Time) string {
	tomorrow := now.AddDate(0, 0, 1)

	var sb strings.Builder
	sb.WriteString("Extract the event from this request. Return JSON only.\n\n")
	sb.WriteString(fmt.Sprintf("Current time: %s (%s)\n", now.Format(model.DateTimeLayout), now.Weekday()))
	sb.WriteString(fmt.Sprintf("Today: %s (%s)\n", now.Format("2006-01-02"), now.Weekday()))
	sb.WriteString(fmt.Sprintf("Tomorrow: %s (%s)\n\n", tomorrow.Format("2006-01-02"), tomorrow.Weekday()))
	sb.WriteString("REQUEST:\n")
	sb.WriteString(strings.TrimSpace(userText))
	sb.WriteString("\n")
	if a := strings.TrimSpace(assistantText); a != "" {
		sb.WriteString("\nASSISTANT REPLY:\n")
		sb.WriteString(a)
		sb.WriteString("\n")
	}
	return sb.String()
}
