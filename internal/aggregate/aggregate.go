// Package aggregate fetches every configured source of a resource, routes
// each body to the matching extractor, and merges the results behind a TTL
// single-flight cache.
package aggregate

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"campuscal/internal/cache"
	"campuscal/internal/config"
	"campuscal/internal/eventid"
	"campuscal/internal/feed"
	"campuscal/internal/fetch"
	"campuscal/internal/ics"
	appLog "campuscal/internal/log"
	"campuscal/internal/merge"
	"campuscal/internal/model"
	"campuscal/internal/scrape"
)

// Kind names an aggregated resource.
type Kind string

const (
	KindEvents   Kind = "events"
	KindSchedule Kind = "schedule"
)

// EventsResult is the merged public events listing.
type EventsResult struct {
	Events []model.PublicEvent `json:"events"`
	// Degraded is set when at least one source failed or the listing is the
	// synthetic per-source fallback.
	Degraded  bool      `json:"degraded"`
	FetchedAt time.Time `json:"fetchedAt"`
}

// ScheduleResult is the merged schedule.
type ScheduleResult struct {
	Items []model.ScheduleItem `json:"items"`
	// Degraded is set when at least one source failed or the schedule is the
	// synthetic per-source fallback.
	Degraded  bool      `json:"degraded"`
	FetchedAt time.Time `json:"fetchedAt"`
}

// UnsupportedFormatError is a source whose format the resource cannot use.
type UnsupportedFormatError struct {
	Kind   Kind
	Format string
}

func (e *UnsupportedFormatError) Error() string {
	return fmt.Sprintf("aggregate: %s sources cannot have format %q", e.Kind, e.Format)
}

// Aggregator is safe for concurrent use.
type Aggregator struct {
	events   []config.SourceConfig
	schedule []config.SourceConfig
	ingest   config.IngestConfig

	fetcher  fetch.Fetcher
	renderer fetch.Fetcher
	now      func() time.Time

	eventsCache   *cache.Cache[EventsResult]
	scheduleCache *cache.Cache[ScheduleResult]
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithRenderer sets the fetcher used for sources with render: true.
func WithRenderer(f fetch.Fetcher) Option {
	return func(a *Aggregator) { a.renderer = f }
}

// WithClock replaces time.Now for expansion windows, fallback dates and
// cache expiry.
func WithClock(now func() time.Time) Option {
	return func(a *Aggregator) { a.now = now }
}

// New builds an Aggregator over the normalized cfg.
func New(cfg *config.Config, fetcher fetch.Fetcher, opts ...Option) *Aggregator {
	cfg.Normalize()
	a := &Aggregator{
		events:   cfg.Events,
		schedule: cfg.Schedule,
		ingest:   cfg.Ingest,
		fetcher:  fetcher,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	a.eventsCache = cache.New[EventsResult](cache.WithClock(a.now))
	a.scheduleCache = cache.New[ScheduleResult](cache.WithClock(a.now))
	return a
}

// Events returns the cached events listing, loading it on a miss.
func (a *Aggregator) Events(ctx context.Context) (EventsResult, error) {
	return a.eventsCache.Get(ctx, string(KindEvents), a.ingest.EventsTTL, a.ingest.LoadTimeout, a.loadEvents)
}

// Schedule returns the cached schedule, loading it on a miss.
func (a *Aggregator) Schedule(ctx context.Context) (ScheduleResult, error) {
	return a.scheduleCache.Get(ctx, string(KindSchedule), a.ingest.ScheduleTTL, a.ingest.LoadTimeout, a.loadSchedule)
}

// Refresh drops the cached value of kind and loads it again.
func (a *Aggregator) Refresh(ctx context.Context, kind Kind) error {
	switch kind {
	case KindEvents:
		a.eventsCache.Invalidate(string(kind))
		_, err := a.Events(ctx)
		return err
	case KindSchedule:
		a.scheduleCache.Invalidate(string(kind))
		_, err := a.Schedule(ctx)
		return err
	default:
		return fmt.Errorf("aggregate: unknown resource %q", kind)
	}
}

// Clear empties both caches.
func (a *Aggregator) Clear() {
	a.eventsCache.Clear()
	a.scheduleCache.Clear()
}

func (a *Aggregator) loadEvents(ctx context.Context) (EventsResult, error) {
	outcomes := gather(ctx, a.events, a.fanOutLimit(len(a.events)), a.eventsFrom)

	all, failed := collect(KindEvents, outcomes)
	events := merge.Events(all)
	degraded := failed > 0

	if len(events) == 0 && len(a.events) > 0 {
		events = a.fallbackEvents()
		degraded = true
	}
	if len(events) > a.ingest.MaxEvents {
		events = events[:a.ingest.MaxEvents]
	}

	appLog.Info("aggregate completed", "resource", KindEvents, "sources", len(a.events), "failed", failed, "count", len(events), "degraded", degraded)
	return EventsResult{Events: events, Degraded: degraded, FetchedAt: a.now().UTC()}, nil
}

func (a *Aggregator) loadSchedule(ctx context.Context) (ScheduleResult, error) {
	outcomes := gather(ctx, a.schedule, a.fanOutLimit(len(a.schedule)), a.scheduleFrom)

	all, failed := collect(KindSchedule, outcomes)
	items := merge.Schedule(all)
	degraded := failed > 0

	if len(items) == 0 && len(a.schedule) > 0 {
		items = a.fallbackSchedule()
		degraded = true
	}
	if len(items) > a.ingest.MaxScheduleItems {
		items = items[:a.ingest.MaxScheduleItems]
	}

	appLog.Info("aggregate completed", "resource", KindSchedule, "sources", len(a.schedule), "failed", failed, "count", len(items), "degraded", degraded)
	return ScheduleResult{Items: items, Degraded: degraded, FetchedAt: a.now().UTC()}, nil
}

func (a *Aggregator) eventsFrom(ctx context.Context, src config.SourceConfig) ([]model.PublicEvent, error) {
	switch src.Format {
	case config.FormatHTML, config.FormatFeed, config.FormatICS:
	default:
		return nil, &UnsupportedFormatError{Kind: KindEvents, Format: src.Format}
	}

	body, err := a.fetchBody(ctx, src)
	if err != nil {
		return nil, err
	}

	switch src.Format {
	case config.FormatHTML:
		return scrape.Extract(string(body), src.URL), nil
	case config.FormatFeed:
		return feed.Extract(string(body), src.URL)
	default:
		parsed := ics.Parse(string(body), a.expandOptions())
		out := make([]model.PublicEvent, 0, len(parsed))
		for _, ev := range parsed {
			out = append(out, model.PublicEvent{
				ID:        ev.ID,
				Title:     ev.Title,
				Date:      ev.StartsAt,
				SourceURL: src.URL,
			})
		}
		return out, nil
	}
}

func (a *Aggregator) scheduleFrom(ctx context.Context, src config.SourceConfig) ([]model.ScheduleItem, error) {
	if src.Format != config.FormatICS {
		return nil, &UnsupportedFormatError{Kind: KindSchedule, Format: src.Format}
	}

	body, err := a.fetchBody(ctx, src)
	if err != nil {
		return nil, err
	}

	parsed := ics.Parse(string(body), a.expandOptions())
	out := make([]model.ScheduleItem, 0, len(parsed))
	for _, ev := range parsed {
		out = append(out, ev.ScheduleItem())
	}
	return out, nil
}

func (a *Aggregator) fetchBody(ctx context.Context, src config.SourceConfig) ([]byte, error) {
	f := a.fetcher
	if src.Render {
		if a.renderer != nil {
			f = a.renderer
		} else {
			appLog.Debug("aggregate: no renderer configured, using plain fetch", "id", src.ID)
		}
	}

	ctx, cancel := context.WithTimeout(ctx, a.ingest.FetchTimeout)
	defer cancel()
	return f.Fetch(ctx, src.URL)
}

func (a *Aggregator) expandOptions() ics.ExpandOptions {
	return ics.ExpandOptions{
		HorizonDays:  a.ingest.RRuleHorizonDays,
		MaxInstances: a.ingest.RRuleMaxInstances,
		Now:          a.now,
	}
}

// fallbackEvents returns one placeholder event per configured source, titled
// with the source label and dated now.
func (a *Aggregator) fallbackEvents() []model.PublicEvent {
	now := a.now().UTC()
	out := make([]model.PublicEvent, 0, len(a.events))
	for _, src := range a.events {
		out = append(out, model.PublicEvent{
			ID:        eventid.Public(src.URL, src.Label, model.Epoch),
			Title:     src.Label,
			Date:      now,
			SourceURL: src.URL,
		})
	}
	return merge.Events(out)
}

// fanOutLimit returns the concurrency for n sources: the configured cap,
// raised so that every wave of fetches ends before the load timeout. Zero
// means unbounded.
func (a *Aggregator) fanOutLimit(n int) int {
	limit := a.ingest.Concurrency
	if limit <= 0 || limit >= n {
		return 0
	}
	waves := int((a.ingest.LoadTimeout - 1) / a.ingest.FetchTimeout)
	if waves < 1 {
		return 0
	}
	if need := (n + waves - 1) / waves; need > limit {
		appLog.Debug("aggregate: raising fetch concurrency to fit load timeout", "configured", limit, "effective", need, "sources", n)
		limit = need
	}
	return limit
}

// fallbackSchedule is fallbackEvents for the schedule: one item per source,
// starting now, with no end.
func (a *Aggregator) fallbackSchedule() []model.ScheduleItem {
	now := a.now().UTC()
	out := make([]model.ScheduleItem, 0, len(a.schedule))
	for _, src := range a.schedule {
		out = append(out, model.ScheduleItem{
			ID:       eventid.Public(src.URL, src.Label, model.Epoch),
			Title:    src.Label,
			StartsAt: now,
		})
	}
	return merge.Schedule(out)
}

type outcome[T any] struct {
	src   config.SourceConfig
	items []T
	err   error
}

// gather runs fn for every source, at most limit at a time, and waits for all
// of them. Results keep source order. A failing source never stops the others.
func gather[T any](ctx context.Context, sources []config.SourceConfig, limit int, fn func(context.Context, config.SourceConfig) ([]T, error)) []outcome[T] {
	out := make([]outcome[T], len(sources))

	var g errgroup.Group
	if limit > 0 {
		g.SetLimit(limit)
	}
	for i, src := range sources {
		i, src := i, src
		g.Go(func() error {
			items, err := fn(ctx, src)
			out[i] = outcome[T]{src: src, items: items, err: err}
			return nil
		})
	}
	_ = g.Wait()
	return out
}

func collect[T any](kind Kind, outcomes []outcome[T]) ([]T, int) {
	var (
		all    []T
		failed int
	)
	for _, o := range outcomes {
		if o.err != nil {
			failed++
			appLog.Error("aggregate: source failed", o.err, "resource", kind, "id", o.src.ID, "url", fetch.RedactURL(o.src.URL))
			continue
		}
		all = append(all, o.items...)
	}
	return all, failed
}
