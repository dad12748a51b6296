// Package merge deduplicates events by id and orders them by time, id.
package merge

import (
	"cmp"
	"slices"
	"time"

	"campuscal/internal/model"
)

// Dedupe keeps one item per id. When ids collide the later item replaces the
// earlier one. The result is sorted by at(item) ascending, ties broken by id.
func Dedupe[T any](items []T, id func(T) string, at func(T) time.Time) []T {
	index := make(map[string]int, len(items))
	out := make([]T, 0, len(items))
	for _, it := range items {
		k := id(it)
		if i, ok := index[k]; ok {
			out[i] = it
			continue
		}
		index[k] = len(out)
		out = append(out, it)
	}
	Sort(out, id, at)
	return out
}

// Sort orders items in place by at(item), then id(item).
func Sort[T any](items []T, id func(T) string, at func(T) time.Time) {
	slices.SortStableFunc(items, func(a, b T) int {
		if c := at(a).Compare(at(b)); c != 0 {
			return c
		}
		return cmp.Compare(id(a), id(b))
	})
}

func parsedID(e model.ParsedEvent) string       { return e.ID }
func parsedAt(e model.ParsedEvent) time.Time    { return e.StartsAt }
func publicID(e model.PublicEvent) string       { return e.ID }
func publicAt(e model.PublicEvent) time.Time    { return e.Date }
func scheduleID(e model.ScheduleItem) string    { return e.ID }
func scheduleAt(e model.ScheduleItem) time.Time { return e.StartsAt }

func Parsed(events []model.ParsedEvent) []model.ParsedEvent {
	return Dedupe(events, parsedID, parsedAt)
}

func SortParsed(events []model.ParsedEvent) {
	Sort(events, parsedID, parsedAt)
}

func Events(events []model.PublicEvent) []model.PublicEvent {
	return Dedupe(events, publicID, publicAt)
}

func Schedule(items []model.ScheduleItem) []model.ScheduleItem {
	return Dedupe(items, scheduleID, scheduleAt)
}
