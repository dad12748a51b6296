package ics

import (
	"strings"

	"campuscal/internal/eventid"
	appLog "campuscal/internal/log"
	"campuscal/internal/merge"
	"campuscal/internal/model"
)

// Parse turns ICS text into events sorted by start time, then id.
//
//   - VEVENTs without SUMMARY or DTSTART, or with an undecodable DTSTART or
//     DTEND, are skipped; the rest of the calendar is still parsed.
//   - Events carrying an RRULE are replaced by their expanded occurrences
//     (see Expand).
//   - Events without a UID get a content-derived id.
func Parse(text string, opts ExpandOptions) []model.ParsedEvent {
	blocks := Blocks(Unfold(text))

	events := make([]model.ParsedEvent, 0, len(blocks))
	skipped := 0
	for _, props := range blocks {
		base, ok := baseEvent(props)
		if !ok {
			skipped++
			continue
		}

		if rule := strings.TrimSpace(props.Get("RRULE")); rule != "" {
			events = append(events, Expand(base, rule, opts)...)
			continue
		}
		events = append(events, base)
	}

	merge.SortParsed(events)

	appLog.Debug("ics parse completed", "blocks", len(blocks), "skipped", skipped, "event_count", len(events))
	return events
}

// baseEvent builds the unexpanded event for one VEVENT block. ok is false if
// the block must be skipped.
func baseEvent(props Properties) (model.ParsedEvent, bool) {
	title := strings.TrimSpace(unescapeText(props.Get("SUMMARY")))
	rawStart := strings.TrimSpace(props.Get("DTSTART"))
	if title == "" || rawStart == "" {
		return model.ParsedEvent{}, false
	}

	start, err := DecodeDate(rawStart)
	if err != nil {
		appLog.Debug("ics: skipping event with bad DTSTART", "summary", title, "err", err)
		return model.ParsedEvent{}, false
	}

	ev := model.ParsedEvent{
		Title:    title,
		StartsAt: start,
		Location: strings.TrimSpace(unescapeText(props.Get("LOCATION"))),
		CampusID: campusID(props),
	}

	if rawEnd := strings.TrimSpace(props.Get("DTEND")); rawEnd != "" {
		end, err := DecodeDate(rawEnd)
		if err != nil {
			appLog.Debug("ics: skipping event with bad DTEND", "summary", title, "err", err)
			return model.ParsedEvent{}, false
		}
		ev.EndsAt = &end
	}

	if uid := strings.TrimSpace(props.Get("UID")); uid != "" {
		ev.ID = uid
	} else {
		ev.ID = eventid.Stable(title, start)
	}

	return ev, true
}

func campusID(props Properties) string {
	for _, name := range []string{"X-CAMPUS-ID", "X-CAMPUS"} {
		if v := strings.TrimSpace(unescapeText(props.Get(name))); v != "" {
			return v
		}
	}
	return ""
}
