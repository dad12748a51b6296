// Package eventid derives deterministic event identifiers from event content.
//
// All ids are the first 16 hex characters of a SHA-256 digest, so the same
// feed parsed twice yields the same ids and repeated fetches deduplicate.
package eventid

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// ISOLayout renders instants the way ids are keyed: UTC, millisecond precision.
const ISOLayout = "2006-01-02T15:04:05.000Z"

// ISO formats t in UTC with ISOLayout.
func ISO(t time.Time) string {
	return t.UTC().Format(ISOLayout)
}

// Stable is used for VEVENTs that carry no UID.
func Stable(title string, startsAt time.Time) string {
	return digest(title + "|" + ISO(startsAt))
}

// Instance identifies one occurrence of a recurring event.
func Instance(baseID string, occurrence time.Time) string {
	return digest(baseID + ISO(occurrence))
}

// Public identifies a scraped event by link, title and date.
func Public(url, title string, date time.Time) string {
	return digest(strings.Join([]string{url, title, ISO(date)}, "|"))
}

func digest(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:8])
}
