// Package ics converts between stored events and iCalendar files.
//
// Export writes one VEVENT per stored event with the category carried in
// CATEGORIES. Import reads VEVENTs back, expands RRULEs into concrete
// instances and stores them with category source "imported".
package ics

import (
	"fmt"
	"io"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/google/uuid"

	"github.com/IdanShtepel/CalendarAssistV2-sub000/internal/model"
)

// ProductID identifies calassist in exported calendars.
const ProductID = "-//calassist//calassist//EN"

// uidDomain is the host part of exported UIDs.
const uidDomain = "calassist.local"

// UID returns the stable UID of a stored event. Unsaved drafts get a random
// one.
func UID(d model.EventDraft) string {
	if d.ID > 0 {
		return fmt.Sprintf("event-%d@%s", d.ID, uidDomain)
	}
	return uuid.NewString() + "@" + uidDomain
}

// Export writes events as a VCALENDAR to w. stamp is written as DTSTAMP.
func Export(w io.Writer, events []model.EventDraft, stamp time.Time) error {
	cal := ical.NewCalendar()
	cal.SetMethod(ical.MethodPublish)
	cal.SetProductId(ProductID)

	for _, d := range events {
		ev := cal.AddEvent(UID(d))
		ev.SetDtStampTime(stamp.UTC())
		ev.SetStartAt(d.Start.UTC())
		ev.SetEndAt(d.EndOrDefault().UTC())
		ev.SetSummary(d.Title)
		if d.Location != "" {
			ev.SetLocation(d.Location)
		}
		if d.Description != "" {
			ev.SetDescription(d.Description)
		}
		if d.Category != "" {
			ev.SetProperty(ical.ComponentPropertyCategories, string(d.Category))
		}
	}

	if _, err := io.WriteString(w, cal.Serialize()); err != nil {
		return fmt.Errorf("writing calendar: %w", err)
	}
	return nil
}
