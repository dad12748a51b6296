package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"golang.org/x/net/html/charset"
	"golang.org/x/time/rate"

	appLog "campuscal/internal/log"
)

const (
	DefaultTimeout      = 8 * time.Second
	DefaultMaxBodyBytes = 5 << 20
	DefaultUserAgent    = "campuscal/1.0 (+calendar ingestion)"
)

// Fetcher retrieves the body of a source URL.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) ([]byte, error)
}

// Doer is the subset of *http.Client used by HTTPFetcher.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// StatusError is returned for any response outside 2xx.
type StatusError struct {
	URL  string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("fetch %s: unexpected status %d", RedactURL(e.URL), e.Code)
}

// Options configures an HTTPFetcher. Zero values select defaults.
type Options struct {
	// Timeout bounds each request when Client is nil.
	Timeout time.Duration

	// PerHostInterval is the minimum spacing between requests to one host.
	// Zero disables rate limiting.
	PerHostInterval time.Duration

	UserAgent    string
	MaxBodyBytes int64

	// Client overrides the HTTP client, mainly for tests.
	Client Doer
}

// HTTPFetcher fetches sources over HTTP(S) and returns UTF-8 bodies.
type HTTPFetcher struct {
	client    Doer
	userAgent string
	maxBody   int64
	interval  time.Duration

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewHTTPFetcher creates a fetcher with the given options.
func NewHTTPFetcher(opts Options) *HTTPFetcher {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.UserAgent == "" {
		opts.UserAgent = DefaultUserAgent
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = DefaultMaxBodyBytes
	}
	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: opts.Timeout}
	}
	return &HTTPFetcher{
		client:    client,
		userAgent: opts.UserAgent,
		maxBody:   opts.MaxBodyBytes,
		interval:  opts.PerHostInterval,
		limiters:  make(map[string]*rate.Limiter),
	}
}

// Fetch GETs rawURL. Non-200 responses yield *StatusError. The body is
// transcoded to UTF-8 according to the Content-Type header or, failing that,
// the document's own meta tags.
func (f *HTTPFetcher) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	if rawURL == "" {
		return nil, errors.New("fetch: source URL is empty")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("fetch: build request: %w", err)
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "text/calendar, text/html, application/rss+xml, application/atom+xml, */*;q=0.5")

	if lim := f.limiter(req.URL); lim != nil {
		if err := lim.Wait(ctx); err != nil {
			return nil, fmt.Errorf("fetch: rate limit wait: %w", err)
		}
	}

	appLog.Debug("fetch start", "url", RedactURL(rawURL))

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", RedactURL(rawURL), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{URL: rawURL, Code: resp.StatusCode}
	}

	r, err := charset.NewReader(io.LimitReader(resp.Body, f.maxBody), resp.Header.Get("Content-Type"))
	if err != nil {
		return nil, fmt.Errorf("fetch %s: decode charset: %w", RedactURL(rawURL), err)
	}
	body, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: read body: %w", RedactURL(rawURL), err)
	}

	appLog.Debug("fetch success", "url", RedactURL(rawURL), "status", resp.StatusCode, "bytes", len(body))
	return body, nil
}

func (f *HTTPFetcher) limiter(u *url.URL) *rate.Limiter {
	if f.interval <= 0 || u == nil {
		return nil
	}
	host := u.Hostname()

	f.mu.Lock()
	defer f.mu.Unlock()
	lim, ok := f.limiters[host]
	if !ok {
		lim = rate.NewLimiter(rate.Every(f.interval), 1)
		f.limiters[host] = lim
	}
	return lim
}

// RedactURL hides path and query of a source URL for logging purposes.
// Example:
//
//	https://example.com/path/to/private.ics?token=abcd
//	-> https://example.com/...(redacted)
func RedactURL(u string) string {
	const redactedSuffix = "/...(redacted)"

	parsed, err := url.Parse(u)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return "source://...(redacted)"
	}
	return parsed.Scheme + "://" + parsed.Host + redactedSuffix
}
