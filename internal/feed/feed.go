// Package feed turns RSS and Atom documents into public events.
package feed

import (
	"fmt"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
	"golang.org/x/text/unicode/norm"

	"campuscal/internal/eventid"
	"campuscal/internal/model"
	"campuscal/internal/scrape"
)

// MaxItems caps the events taken from one feed.
const MaxItems = 50

// Extract parses an RSS or Atom body. Items without a title or without a safe
// http(s) link are dropped. The item date is its published time, then its
// updated time, then model.Epoch.
func Extract(body, sourceURL string) ([]model.PublicEvent, error) {
	f, err := gofeed.NewParser().ParseString(body)
	if err != nil {
		return nil, fmt.Errorf("feed: parse: %w", err)
	}

	out := make([]model.PublicEvent, 0, min(len(f.Items), MaxItems))
	for _, item := range f.Items {
		if len(out) == MaxItems {
			break
		}
		title := norm.NFC.String(strings.Join(strings.Fields(item.Title), " "))
		if title == "" {
			continue
		}
		link, ok := scrape.ResolveLink(sourceURL, item.Link)
		if !ok {
			continue
		}
		date := itemDate(item)
		out = append(out, model.PublicEvent{
			ID:        eventid.Public(link, title, date),
			Title:     title,
			Date:      date,
			SourceURL: link,
		})
	}
	return out, nil
}

func itemDate(item *gofeed.Item) time.Time {
	switch {
	case item.PublishedParsed != nil:
		return item.PublishedParsed.UTC()
	case item.UpdatedParsed != nil:
		return item.UpdatedParsed.UTC()
	default:
		return model.Epoch
	}
}
