package ics

import (
	"time"

	ical "github.com/arran4/golang-ical"

	"campuscal/internal/model"
)

const productID = "-//campuscal//schedule//EN"

// Export renders schedule items as a VCALENDAR. stamp becomes every event's
// DTSTAMP so the output is reproducible for a given input.
//
// The output only uses properties Parse understands, so Parse(Export(x))
// yields x back (modulo ordering).
func Export(name string, items []model.ScheduleItem, stamp time.Time) string {
	cal := ical.NewCalendar()
	cal.SetMethod(ical.MethodPublish)
	cal.SetProductId(productID)
	if name != "" {
		cal.SetXWRCalName(name)
	}

	for _, it := range items {
		ev := cal.AddEvent(it.ID)
		ev.SetDtStampTime(stamp.UTC())
		ev.SetStartAt(it.StartsAt.UTC())
		if it.EndsAt != nil {
			ev.SetEndAt(it.EndsAt.UTC())
		}
		ev.SetSummary(it.Title)
		if it.Location != "" {
			ev.SetLocation(it.Location)
		}
		if it.CampusID != "" {
			ev.AddProperty(ical.ComponentProperty("X-CAMPUS-ID"), it.CampusID)
		}
	}

	return cal.Serialize()
}
