package model

import "time"

// Epoch is the sentinel date given to scraped events whose page carries no
// usable date. It is the Unix epoch, not the zero time.Time.
var Epoch = time.Unix(0, 0).UTC()

// ParsedEvent is a single VEVENT (or one occurrence of a recurring VEVENT)
// after parsing. StartsAt is always UTC.
type ParsedEvent struct {
	ID       string     `json:"id"`
	Title    string     `json:"title"`
	StartsAt time.Time  `json:"startsAt"`
	EndsAt   *time.Time `json:"endsAt,omitempty"`
	Location string     `json:"location,omitempty"`
	CampusID string     `json:"campusId,omitempty"`

	// IsRecurring is set on occurrences produced by recurrence expansion.
	IsRecurring bool `json:"isRecurring,omitempty"`
	// RecurringInstanceID is "{baseID}-{index}" for expanded occurrences.
	RecurringInstanceID string `json:"recurringInstanceId,omitempty"`
}

// Duration returns EndsAt-StartsAt, or zero if the event has no end.
func (e ParsedEvent) Duration() time.Duration {
	if e.EndsAt == nil {
		return 0
	}
	return e.EndsAt.Sub(e.StartsAt)
}

// ScheduleItem projects the event onto the external schedule shape.
func (e ParsedEvent) ScheduleItem() ScheduleItem {
	return ScheduleItem{
		ID:       e.ID,
		Title:    e.Title,
		StartsAt: e.StartsAt,
		EndsAt:   e.EndsAt,
		Location: e.Location,
		CampusID: e.CampusID,
	}
}

// PublicEvent is an event scraped from an HTML page or a news feed, or
// projected from a calendar feed for the public events listing.
type PublicEvent struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Date      time.Time `json:"date"`
	SourceURL string    `json:"sourceUrl"`
}

// ScheduleItem is the external-facing projection of ParsedEvent used by the
// schedule endpoints.
type ScheduleItem struct {
	ID       string     `json:"id"`
	Title    string     `json:"title"`
	StartsAt time.Time  `json:"startsAt"`
	EndsAt   *time.Time `json:"endsAt,omitempty"`
	Location string     `json:"location,omitempty"`
	CampusID string     `json:"campusId,omitempty"`
}
