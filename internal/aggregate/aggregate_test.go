package aggregate

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"campuscal/internal/config"
	"campuscal/internal/eventid"
	"campuscal/internal/fetch"
	"campuscal/internal/model"
)

var testNow = time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC)

type response struct {
	body  string
	err   error
	delay time.Duration
}

type fakeFetcher struct {
	mu        sync.Mutex
	responses map[string]response
	calls     map[string]int
}

func newFakeFetcher(responses map[string]response) *fakeFetcher {
	return &fakeFetcher{responses: responses, calls: make(map[string]int)}
}

func (f *fakeFetcher) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	f.mu.Lock()
	f.calls[rawURL]++
	r, ok := f.responses[rawURL]
	f.mu.Unlock()

	if !ok {
		return nil, &fetch.StatusError{URL: rawURL, Code: 404}
	}
	if r.delay > 0 {
		select {
		case <-time.After(r.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if r.err != nil {
		return nil, r.err
	}
	return []byte(r.body), nil
}

func (f *fakeFetcher) count(rawURL string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[rawURL]
}

const lectureICS = "BEGIN:VCALENDAR\r\n" +
	"BEGIN:VEVENT\r\n" +
	"UID:lec-1\r\n" +
	"SUMMARY:Algorithms\r\n" +
	"DTSTART:20260203T090000Z\r\n" +
	"DTEND:20260203T103000Z\r\n" +
	"LOCATION:Room 101\r\n" +
	"END:VEVENT\r\n" +
	"BEGIN:VEVENT\r\n" +
	"UID:lec-2\r\n" +
	"SUMMARY:Databases\r\n" +
	"DTSTART:20260202T090000Z\r\n" +
	"END:VEVENT\r\n" +
	"END:VCALENDAR\r\n"

const movedICS = "BEGIN:VCALENDAR\r\n" +
	"BEGIN:VEVENT\r\n" +
	"UID:lec-1\r\n" +
	"SUMMARY:Algorithms (moved)\r\n" +
	"DTSTART:20260204T090000Z\r\n" +
	"END:VEVENT\r\n" +
	"END:VCALENDAR\r\n"

const eventsPage = `<html><body>
<article><h2>Open day</h2><time datetime="2026-03-01T10:00:00Z"></time><a href="/open-day">more</a></article>
<article><h2>Career fair</h2><p>12.02.2026</p><a href="https://uni.example/fair">more</a></article>
</body></html>`

const emptyPage = `<html><body><p>Nothing planned.</p></body></html>`

func newAggregator(t *testing.T, cfg *config.Config, f fetch.Fetcher, opts ...Option) *Aggregator {
	t.Helper()
	opts = append([]Option{WithClock(func() time.Time { return testNow })}, opts...)
	return New(cfg, f, opts...)
}

func TestEventsMergesSourcesAndMarksFailures(t *testing.T) {
	f := newFakeFetcher(map[string]response{
		"https://uni.example/events": {body: eventsPage},
		"https://down.example/":      {err: errors.New("connection refused")},
	})
	cfg := &config.Config{Events: []config.SourceConfig{
		{ID: "uni", URL: "https://uni.example/events"},
		{ID: "down", URL: "https://down.example/"},
	}}

	res, err := newAggregator(t, cfg, f).Events(context.Background())
	require.NoError(t, err)

	assert.True(t, res.Degraded)
	assert.Equal(t, testNow, res.FetchedAt)
	require.Len(t, res.Events, 2)
	assert.Equal(t, "Career fair", res.Events[0].Title)
	assert.Equal(t, "Open day", res.Events[1].Title)
	assert.Equal(t, "https://uni.example/open-day", res.Events[1].SourceURL)
}

func TestEventsFallbackWhenSourcesYieldNothing(t *testing.T) {
	f := newFakeFetcher(map[string]response{
		"https://a.example/": {body: emptyPage},
	})
	cfg := &config.Config{Events: []config.SourceConfig{
		{Label: "Library", URL: "https://a.example/"},
		{Label: "Sports", URL: "https://b.example/"},
	}}

	res, err := newAggregator(t, cfg, f).Events(context.Background())
	require.NoError(t, err)

	assert.True(t, res.Degraded)
	require.Len(t, res.Events, 2)
	var titles []string
	for _, ev := range res.Events {
		titles = append(titles, ev.Title)
		assert.Equal(t, testNow, ev.Date)
		assert.Len(t, ev.ID, 16)
	}
	assert.ElementsMatch(t, []string{"Library", "Sports"}, titles)
}

func TestEventsNoSources(t *testing.T) {
	res, err := newAggregator(t, &config.Config{}, newFakeFetcher(nil)).Events(context.Background())
	require.NoError(t, err)
	assert.False(t, res.Degraded)
	assert.NotNil(t, res.Events)
	assert.Empty(t, res.Events)
}

func TestEventsFromICSAndFeed(t *testing.T) {
	rss := `<?xml version="1.0"?><rss version="2.0"><channel><title>News</title>
<item><title>Concert</title><link>https://news.example/concert</link><pubDate>Fri, 06 Feb 2026 18:00:00 +0000</pubDate></item>
</channel></rss>`
	f := newFakeFetcher(map[string]response{
		"https://cal.example/lectures.ics": {body: lectureICS},
		"https://news.example/rss":         {body: rss},
	})
	cfg := &config.Config{Events: []config.SourceConfig{
		{ID: "cal", URL: "https://cal.example/lectures.ics", Format: "ics"},
		{ID: "news", URL: "https://news.example/rss", Format: "feed"},
	}}

	res, err := newAggregator(t, cfg, f).Events(context.Background())
	require.NoError(t, err)
	assert.False(t, res.Degraded)

	require.Len(t, res.Events, 3)
	assert.Equal(t, "Databases", res.Events[0].Title)
	assert.Equal(t, "lec-2", res.Events[0].ID)
	assert.Equal(t, "https://cal.example/lectures.ics", res.Events[0].SourceURL)
	assert.Equal(t, "Algorithms", res.Events[1].Title)
	assert.Equal(t, "Concert", res.Events[2].Title)
}

func TestEventsCap(t *testing.T) {
	f := newFakeFetcher(map[string]response{
		"https://uni.example/events": {body: eventsPage},
	})
	cfg := &config.Config{
		Ingest: config.IngestConfig{MaxEvents: 1},
		Events: []config.SourceConfig{{URL: "https://uni.example/events"}},
	}

	res, err := newAggregator(t, cfg, f).Events(context.Background())
	require.NoError(t, err)
	require.Len(t, res.Events, 1)
	assert.Equal(t, "Career fair", res.Events[0].Title)
}

func TestScheduleDedupesAcrossSources(t *testing.T) {
	f := newFakeFetcher(map[string]response{
		"https://cal.example/a.ics": {body: lectureICS},
		"https://cal.example/b.ics": {body: movedICS},
	})
	cfg := &config.Config{Schedule: []config.SourceConfig{
		{URL: "https://cal.example/a.ics"},
		{URL: "https://cal.example/b.ics"},
	}}

	res, err := newAggregator(t, cfg, f).Schedule(context.Background())
	require.NoError(t, err)
	assert.False(t, res.Degraded)

	require.Len(t, res.Items, 2)
	assert.Equal(t, "lec-2", res.Items[0].ID)
	assert.Equal(t, "lec-1", res.Items[1].ID)
	assert.Equal(t, "Algorithms (moved)", res.Items[1].Title)
	assert.Equal(t, time.Date(2026, 2, 4, 9, 0, 0, 0, time.UTC), res.Items[1].StartsAt)
	assert.Nil(t, res.Items[1].EndsAt)
}

func TestScheduleRejectsNonICSSources(t *testing.T) {
	f := newFakeFetcher(map[string]response{
		"https://uni.example/events": {body: eventsPage},
	})
	cfg := &config.Config{Schedule: []config.SourceConfig{
		{URL: "https://uni.example/events", Format: "html"},
	}}

	res, err := newAggregator(t, cfg, f).Schedule(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Degraded)
	require.Len(t, res.Items, 1)
	assert.Equal(t, "https://uni.example/events", res.Items[0].Title)
	assert.Zero(t, f.count("https://uni.example/events"))
}

func TestScheduleFallbackWhenSourcesYieldNothing(t *testing.T) {
	f := newFakeFetcher(map[string]response{
		"https://cal.example/a.ics": {body: "BEGIN:VCALENDAR\r\nEND:VCALENDAR\r\n"},
		"https://cal.example/b.ics": {body: "BEGIN:VCALENDAR\r\nEND:VCALENDAR\r\n"},
	})
	cfg := &config.Config{Schedule: []config.SourceConfig{
		{Label: "Lectures", URL: "https://cal.example/a.ics"},
		{Label: "Exams", URL: "https://cal.example/b.ics"},
	}}

	res, err := newAggregator(t, cfg, f).Schedule(context.Background())
	require.NoError(t, err)

	assert.True(t, res.Degraded)
	require.Len(t, res.Items, 2)
	byTitle := map[string]model.ScheduleItem{}
	for _, it := range res.Items {
		byTitle[it.Title] = it
		assert.Equal(t, testNow, it.StartsAt)
		assert.Nil(t, it.EndsAt)
	}
	require.Contains(t, byTitle, "Lectures")
	require.Contains(t, byTitle, "Exams")
	assert.Equal(t, eventid.Public("https://cal.example/a.ics", "Lectures", model.Epoch), byTitle["Lectures"].ID)
}

func TestScheduleNoSources(t *testing.T) {
	res, err := newAggregator(t, &config.Config{}, newFakeFetcher(nil)).Schedule(context.Background())
	require.NoError(t, err)
	assert.False(t, res.Degraded)
	assert.NotNil(t, res.Items)
	assert.Empty(t, res.Items)
}

func TestFetchTimeoutFailsOnlyThatSource(t *testing.T) {
	f := newFakeFetcher(map[string]response{
		"https://slow.example/a.ics": {body: movedICS, delay: time.Second},
		"https://cal.example/a.ics":  {body: lectureICS},
	})
	cfg := &config.Config{
		Ingest: config.IngestConfig{FetchTimeout: 50 * time.Millisecond},
		Schedule: []config.SourceConfig{
			{URL: "https://slow.example/a.ics"},
			{URL: "https://cal.example/a.ics"},
		},
	}

	start := time.Now()
	res, err := newAggregator(t, cfg, f).Schedule(context.Background())
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
	assert.True(t, res.Degraded)
	require.Len(t, res.Items, 2)
	assert.Equal(t, "Algorithms", res.Items[1].Title)
}

func TestSourcesAreFetchedConcurrently(t *testing.T) {
	responses := map[string]response{}
	var sources []config.SourceConfig
	for _, u := range []string{"https://a.example/x.ics", "https://b.example/x.ics", "https://c.example/x.ics", "https://d.example/x.ics"} {
		responses[u] = response{body: lectureICS, delay: 100 * time.Millisecond}
		sources = append(sources, config.SourceConfig{URL: u})
	}
	cfg := &config.Config{
		Ingest:   config.IngestConfig{Concurrency: 4},
		Schedule: sources,
	}

	start := time.Now()
	_, err := newAggregator(t, cfg, newFakeFetcher(responses)).Schedule(context.Background())
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 300*time.Millisecond)
}

// hangingSources returns n sources that never answer plus one healthy one.
func hangingSources(n int) (map[string]response, []config.SourceConfig) {
	responses := map[string]response{
		"https://cal.example/a.ics": {body: lectureICS},
	}
	var sources []config.SourceConfig
	for i := 0; i < n; i++ {
		u := fmt.Sprintf("https://hang%d.example/x.ics", i)
		responses[u] = response{body: movedICS, delay: time.Hour}
		sources = append(sources, config.SourceConfig{URL: u})
	}
	sources = append(sources, config.SourceConfig{URL: "https://cal.example/a.ics"})
	return responses, sources
}

func TestManySlowSourcesStillYieldPartialResult(t *testing.T) {
	for _, limit := range []int{0, 2} {
		t.Run(fmt.Sprintf("concurrency=%d", limit), func(t *testing.T) {
			responses, sources := hangingSources(12)
			cfg := &config.Config{
				Ingest: config.IngestConfig{
					Concurrency:  limit,
					FetchTimeout: 100 * time.Millisecond,
					LoadTimeout:  400 * time.Millisecond,
				},
				Schedule: sources,
			}

			res, err := newAggregator(t, cfg, newFakeFetcher(responses)).Schedule(context.Background())
			require.NoError(t, err)
			assert.True(t, res.Degraded)
			require.Len(t, res.Items, 2)
			assert.Equal(t, "Databases", res.Items[0].Title)
			assert.Equal(t, "Algorithms", res.Items[1].Title)
		})
	}
}

func TestFanOutLimit(t *testing.T) {
	agg := newAggregator(t, &config.Config{Ingest: config.IngestConfig{
		Concurrency:  2,
		FetchTimeout: 100 * time.Millisecond,
		LoadTimeout:  400 * time.Millisecond,
	}}, newFakeFetcher(nil))

	assert.Zero(t, agg.fanOutLimit(2))
	assert.Equal(t, 2, agg.fanOutLimit(6))
	assert.Equal(t, 5, agg.fanOutLimit(13))

	unbounded := newAggregator(t, &config.Config{}, newFakeFetcher(nil))
	assert.Zero(t, unbounded.fanOutLimit(50))
}

func TestResultsAreCachedUntilRefresh(t *testing.T) {
	f := newFakeFetcher(map[string]response{
		"https://cal.example/a.ics": {body: lectureICS},
	})
	cfg := &config.Config{Schedule: []config.SourceConfig{{URL: "https://cal.example/a.ics"}}}
	agg := newAggregator(t, cfg, f)
	ctx := context.Background()

	_, err := agg.Schedule(ctx)
	require.NoError(t, err)
	_, err = agg.Schedule(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, f.count("https://cal.example/a.ics"))

	require.NoError(t, agg.Refresh(ctx, KindSchedule))
	assert.Equal(t, 2, f.count("https://cal.example/a.ics"))

	agg.Clear()
	_, err = agg.Schedule(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, f.count("https://cal.example/a.ics"))

	assert.Error(t, agg.Refresh(ctx, Kind("nope")))
}

func TestRenderSourcesUseRenderer(t *testing.T) {
	plain := newFakeFetcher(nil)
	rendered := newFakeFetcher(map[string]response{
		"https://spa.example/events": {body: eventsPage},
	})
	cfg := &config.Config{Events: []config.SourceConfig{
		{URL: "https://spa.example/events", Render: true},
	}}

	res, err := newAggregator(t, cfg, plain, WithRenderer(rendered)).Events(context.Background())
	require.NoError(t, err)
	assert.False(t, res.Degraded)
	assert.Len(t, res.Events, 2)
	assert.Equal(t, 1, rendered.count("https://spa.example/events"))
	assert.Zero(t, plain.count("https://spa.example/events"))
}

func TestUnsupportedFormatError(t *testing.T) {
	err := error(&UnsupportedFormatError{Kind: KindSchedule, Format: "feed"})
	var ufe *UnsupportedFormatError
	require.ErrorAs(t, err, &ufe)
	assert.Contains(t, err.Error(), `"feed"`)
}
