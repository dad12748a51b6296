package scrape

import (
	"html"
	"net/url"
	"strings"
)

// ResolveLink resolves href against base and accepts only absolute http(s)
// URLs no longer than MaxLinkLength. javascript:, data:, mailto: and
// unparseable links are rejected.
func ResolveLink(base, href string) (string, bool) {
	href = strings.TrimSpace(html.UnescapeString(href))
	if href == "" {
		return "", false
	}

	ref, err := url.Parse(href)
	if err != nil {
		return "", false
	}
	if b, err := url.Parse(base); err == nil {
		ref = b.ResolveReference(ref)
	}

	switch strings.ToLower(ref.Scheme) {
	case "http", "https":
	default:
		return "", false
	}
	if ref.Host == "" {
		return "", false
	}

	resolved := ref.String()
	if len(resolved) > MaxLinkLength {
		return "", false
	}
	return resolved, true
}
