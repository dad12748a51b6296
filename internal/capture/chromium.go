package capture

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/chromedp/chromedp"

	appLog "campuscal/internal/log"
)

// Default render parameters.
const (
	DefaultTimeoutSec = 20
	DefaultSettle     = 750 * time.Millisecond
	DefaultWaitFor    = "body"
)

// Options defines parameters for a Chromium-based page render.
type Options struct {
	// WaitFor is a CSS selector that must be visible before the DOM is
	// read. If empty, DefaultWaitFor is used.
	WaitFor string

	// Settle is an extra delay after WaitFor, giving client-side scripts
	// time to finish filling in the event list.
	Settle time.Duration

	// Timeout bounds the entire render. If zero, DefaultTimeoutSec is used.
	Timeout time.Duration

	// ExecAllocatorOptions override the chromedp defaults (e.g. to point at
	// a specific Chromium binary). Nil uses chromedp.DefaultExecAllocatorOptions.
	ExecAllocatorOptions []chromedp.ExecAllocatorOption
}

func (o Options) withDefaults() Options {
	if o.WaitFor == "" {
		o.WaitFor = DefaultWaitFor
	}
	if o.Settle <= 0 {
		o.Settle = DefaultSettle
	}
	if o.Timeout <= 0 {
		o.Timeout = time.Duration(DefaultTimeoutSec) * time.Second
	}
	return o
}

// RenderedFetcher loads pages in headless Chromium and returns the rendered
// document's outer HTML. It satisfies fetch.Fetcher, so the aggregator can
// use it for sources marked render: true.
type RenderedFetcher struct {
	opts Options
}

func NewRenderedFetcher(opts Options) *RenderedFetcher {
	return &RenderedFetcher{opts: opts.withDefaults()}
}

// Fetch navigates to rawURL, waits for the WaitFor selector, lets scripts
// settle and returns the serialized DOM.
func (f *RenderedFetcher) Fetch(parentCtx context.Context, rawURL string) ([]byte, error) {
	if rawURL == "" {
		return nil, errors.New("capture: URL is required")
	}

	allocOpts := f.opts.ExecAllocatorOptions
	if allocOpts == nil {
		allocOpts = chromedp.DefaultExecAllocatorOptions[:]
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(parentCtx, allocOpts...)
	defer allocCancel()

	ctx, cancel := chromedp.NewContext(allocCtx)
	defer cancel()

	ctx, timeoutCancel := context.WithTimeout(ctx, f.opts.Timeout)
	defer timeoutCancel()

	var html string
	tasks := chromedp.Tasks{
		chromedp.Navigate(rawURL),
		chromedp.WaitVisible(f.opts.WaitFor, chromedp.ByQuery),
		chromedp.Sleep(f.opts.Settle),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	}

	start := time.Now()
	if err := chromedp.Run(ctx, tasks); err != nil {
		return nil, fmt.Errorf("capture: chromedp run failed: %w", err)
	}
	appLog.Debug("capture rendered page", "bytes", len(html), "elapsed", time.Since(start))

	return []byte(html), nil
}
