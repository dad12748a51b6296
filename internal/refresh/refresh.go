// Package refresh keeps the aggregator caches warm on a cron schedule so HTTP
// requests rarely pay for a cold load.
package refresh

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"campuscal/internal/aggregate"
	appLog "campuscal/internal/log"
)

// Off disables scheduled refresh.
const Off = "off"

const defaultTimeout = time.Minute

// Refresher is the part of the aggregator the scheduler drives.
type Refresher interface {
	Refresh(ctx context.Context, kind aggregate.Kind) error
}

// Scheduler runs Refresh for every resource on each cron tick.
type Scheduler struct {
	cron    *cron.Cron
	target  Refresher
	timeout time.Duration
}

// New parses expr (standard five-field cron syntax, or descriptors such as
// "@every 10m"). It returns nil with no error when expr is "off" or empty.
func New(expr string, target Refresher, timeout time.Duration) (*Scheduler, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" || strings.EqualFold(expr, Off) {
		return nil, nil
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	s := &Scheduler{
		cron:    cron.New(),
		target:  target,
		timeout: timeout,
	}
	if _, err := s.cron.AddFunc(expr, s.tick); err != nil {
		return nil, fmt.Errorf("refresh: invalid schedule %q: %w", expr, err)
	}
	return s, nil
}

// Start warms both caches once, then runs the schedule until ctx is done.
func (s *Scheduler) Start(ctx context.Context) {
	go s.tick()
	s.cron.Start()
	appLog.Info("refresh scheduler started", "entries", len(s.cron.Entries()))

	go func() {
		<-ctx.Done()
		<-s.cron.Stop().Done()
		appLog.Info("refresh scheduler stopped")
	}()
}

// tick refreshes every resource. Failures are logged; the next tick retries.
func (s *Scheduler) tick() {
	for _, kind := range []aggregate.Kind{aggregate.KindEvents, aggregate.KindSchedule} {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		start := time.Now()
		err := s.target.Refresh(ctx, kind)
		cancel()
		if err != nil {
			appLog.Error("scheduled refresh failed", err, "resource", kind)
			continue
		}
		appLog.Debug("scheduled refresh done", "resource", kind, "elapsed", time.Since(start))
	}
}
