// Package scrape pulls event-like (title, date, link) tuples out of HTML pages
// that publish no machine-readable calendar.
//
// Extraction is a fixed chain of regular-expression strategies tuned for the
// handful of page shapes campus sites use. It is not an HTML parser and does
// not try to be one: a strategy either recognizes its shape or yields nothing
// and the next one is tried.
package scrape

import (
	"html"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"

	"campuscal/internal/eventid"
	"campuscal/internal/model"
)

const (
	// MaxPerStrategy caps results of any single strategy.
	MaxPerStrategy = 8
	// MaxLinkLength rejects pathological resolved links.
	MaxLinkLength = 2048

	minAnchorText = 4
	maxAnchorText = 120
)

var (
	articleRe = regexp.MustCompile(`(?is)<article\b[^>]*>.*?</article>`)
	tileRe    = regexp.MustCompile(`(?is)<div\b[^>]*\bclass\s*=\s*["'][^"']*event[^"']*["'][^>]*>.*?</div>`)
	anchorRe  = regexp.MustCompile(`(?is)<a\b[^>]*\bhref\s*=\s*["']([^"']*)["'][^>]*>(.*?)</a>`)

	titleAttrRe = regexp.MustCompile(`(?i)\bdata-event-title\s*=\s*(?:"([^"]*)"|'([^']*)')`)
	headingRe   = regexp.MustCompile(`(?is)<h[23]\b[^>]*>(.*?)</h[23]>`)
	anchorTxtRe = regexp.MustCompile(`(?is)<a\b[^>]*>(.*?)</a>`)

	datetimeRe = regexp.MustCompile(`(?i)\bdatetime\s*=\s*["']([^"']+)["']`)
	dottedRe   = regexp.MustCompile(`\b(\d{1,2})\.(\d{1,2})\.(\d{4})(?:,?\s+(\d{1,2}):(\d{2}))?`)

	urlAttrRe = regexp.MustCompile(`(?i)\bdata-event-url\s*=\s*["']([^"']+)["']`)
	hrefRe    = regexp.MustCompile(`(?i)\bhref\s*=\s*["']([^"']+)["']`)

	tagRe   = regexp.MustCompile(`(?s)<[^>]*>`)
	spaceRe = regexp.MustCompile(`\s+`)
)

type candidate struct {
	title string
	date  time.Time
	link  string
}

type strategy func(page, sourceURL string) []candidate

// Extract runs the strategies in order (article blocks, event tiles, plain
// anchors) and returns the events of the first one that produced anything.
// Every returned event has a title and an absolute http(s) link.
func Extract(page, sourceURL string) []model.PublicEvent {
	for _, s := range []strategy{fromArticles, fromTiles, fromAnchors} {
		found := s(page, sourceURL)
		if len(found) == 0 {
			continue
		}
		out := make([]model.PublicEvent, 0, len(found))
		for _, c := range found {
			out = append(out, model.PublicEvent{
				ID:        eventid.Public(c.link, c.title, c.date),
				Title:     c.title,
				Date:      c.date,
				SourceURL: c.link,
			})
		}
		return out
	}
	return []model.PublicEvent{}
}

func fromArticles(page, sourceURL string) []candidate {
	return fromBlocks(articleRe.FindAllString(page, -1), sourceURL)
}

func fromTiles(page, sourceURL string) []candidate {
	return fromBlocks(tileRe.FindAllString(page, -1), sourceURL)
}

func fromBlocks(blocks []string, sourceURL string) []candidate {
	var out []candidate
	for _, block := range blocks {
		if len(out) == MaxPerStrategy {
			break
		}
		title := blockTitle(block)
		if title == "" {
			continue
		}
		link, ok := blockLink(block, sourceURL)
		if !ok {
			continue
		}
		out = append(out, candidate{title: title, date: blockDate(block), link: link})
	}
	return out
}

func fromAnchors(page, sourceURL string) []candidate {
	var out []candidate
	for _, m := range anchorRe.FindAllStringSubmatch(page, -1) {
		if len(out) == MaxPerStrategy {
			break
		}
		text := cleanText(m[2])
		n := utf8.RuneCountInString(text)
		if n < minAnchorText || n > maxAnchorText {
			continue
		}
		link, ok := ResolveLink(sourceURL, m[1])
		if !ok {
			continue
		}
		out = append(out, candidate{title: text, date: model.Epoch, link: link})
	}
	return out
}

func blockTitle(block string) string {
	if m := titleAttrRe.FindStringSubmatch(block); m != nil {
		if t := cleanText(m[1] + m[2]); t != "" {
			return t
		}
	}
	if m := headingRe.FindStringSubmatch(block); m != nil {
		if t := cleanText(m[1]); t != "" {
			return t
		}
	}
	if m := anchorTxtRe.FindStringSubmatch(block); m != nil {
		return cleanText(m[1])
	}
	return ""
}

func blockLink(block, sourceURL string) (string, bool) {
	if m := urlAttrRe.FindStringSubmatch(block); m != nil {
		return ResolveLink(sourceURL, m[1])
	}
	if m := hrefRe.FindStringSubmatch(block); m != nil {
		return ResolveLink(sourceURL, m[1])
	}
	return "", false
}

// blockDate reads a datetime attribute, then a DD.MM.YYYY[ HH:MM] text date
// (taken as UTC), and falls back to model.Epoch.
func blockDate(block string) time.Time {
	if m := datetimeRe.FindStringSubmatch(block); m != nil {
		if t, ok := parseDatetimeAttr(m[1]); ok {
			return t
		}
	}
	if m := dottedRe.FindStringSubmatch(block); m != nil {
		if t, ok := parseDotted(m); ok {
			return t
		}
	}
	return model.Epoch
}

func parseDatetimeAttr(v string) (time.Time, bool) {
	v = strings.TrimSpace(v)
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04", "2006-01-02 15:04", "2006-01-02"} {
		if t, err := time.Parse(layout, v); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

func parseDotted(m []string) (time.Time, bool) {
	day, _ := strconv.Atoi(m[1])
	month, _ := strconv.Atoi(m[2])
	year, _ := strconv.Atoi(m[3])
	hour, minute := 0, 0
	if m[4] != "" {
		hour, _ = strconv.Atoi(m[4])
		minute, _ = strconv.Atoi(m[5])
	}
	t := time.Date(year, time.Month(month), day, hour, minute, 0, 0, time.UTC)
	if t.Day() != day || int(t.Month()) != month || t.Hour() != hour || t.Minute() != minute {
		return time.Time{}, false
	}
	return t, true
}

// cleanText strips tags, decodes entities, collapses whitespace and applies
// NFC so visually identical titles hash to the same id.
func cleanText(s string) string {
	s = tagRe.ReplaceAllString(s, " ")
	s = html.UnescapeString(s)
	s = spaceRe.ReplaceAllString(s, " ")
	return norm.NFC.String(strings.TrimSpace(s))
}
