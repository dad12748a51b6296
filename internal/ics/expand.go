package ics

import (
	"fmt"
	"time"

	"github.com/teambition/rrule-go"

	"campuscal/internal/eventid"
	appLog "campuscal/internal/log"
	"campuscal/internal/model"
)

const (
	DefaultHorizonDays  = 365
	DefaultMaxInstances = 100
)

// ExpandOptions bounds recurrence expansion.
type ExpandOptions struct {
	// HorizonDays is the forward window, measured from Now, in which
	// occurrences are materialized. Zero means DefaultHorizonDays.
	HorizonDays int

	// MaxInstances caps occurrences per recurring event. Zero means
	// DefaultMaxInstances.
	MaxInstances int

	// Now returns the start of the window. Nil means time.Now.
	Now func() time.Time
}

func (o ExpandOptions) withDefaults() ExpandOptions {
	if o.HorizonDays <= 0 {
		o.HorizonDays = DefaultHorizonDays
	}
	if o.MaxInstances <= 0 {
		o.MaxInstances = DefaultMaxInstances
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// Expand materializes the occurrences of base described by rruleValue that
// fall inside [now, now+HorizonDays], at most MaxInstances of them, in
// chronological order.
//
// Expand never fails: an unparseable rule, an empty window or a failure in
// the enumerator all yield []ParsedEvent{base}.
func Expand(base model.ParsedEvent, rruleValue string, opts ExpandOptions) (out []model.ParsedEvent) {
	opts = opts.withDefaults()

	rule, err := ParseRule(rruleValue)
	if err != nil {
		appLog.Debug("expand: RRULE rejected, keeping base event", "id", base.ID, "err", err)
		return []model.ParsedEvent{base}
	}

	defer func() {
		if r := recover(); r != nil {
			appLog.Error("expand: enumeration panicked, keeping base event", fmt.Errorf("%v", r), "id", base.ID, "rrule", rruleValue)
			out = []model.ParsedEvent{base}
		}
	}()

	now := opts.Now().UTC()
	windowEnd := now.Add(time.Duration(opts.HorizonDays) * 24 * time.Hour)

	starts, err := rule.Between(base.StartsAt, now, windowEnd)
	if err != nil {
		appLog.Error("expand: failed to build rule", err, "id", base.ID, "rrule", rruleValue)
		return []model.ParsedEvent{base}
	}
	if len(starts) > opts.MaxInstances {
		appLog.Debug("expand: truncated occurrences", "id", base.ID, "found", len(starts), "cap", opts.MaxInstances)
		starts = starts[:opts.MaxInstances]
	}
	if len(starts) == 0 {
		return []model.ParsedEvent{base}
	}

	dur := base.Duration()
	out = make([]model.ParsedEvent, 0, len(starts))
	for i, occStart := range starts {
		occStart = occStart.UTC()

		occ := base
		occ.StartsAt = occStart
		if base.EndsAt != nil {
			end := occStart.Add(dur)
			occ.EndsAt = &end
		}
		occ.IsRecurring = true
		occ.ID = eventid.Instance(base.ID, occStart)
		occ.RecurringInstanceID = fmt.Sprintf("%s-%d", base.ID, i)

		out = append(out, occ)
	}
	return out
}

// Between enumerates the rule's occurrences starting at dtstart that lie in
// [from, to], oldest first. COUNT and UNTIL are applied from dtstart, so
// occurrences before from still consume COUNT.
func (r RecurrenceRule) Between(dtstart, from, to time.Time) ([]time.Time, error) {
	rr, err := rrule.NewRRule(r.options(dtstart))
	if err != nil {
		return nil, err
	}
	return rr.Between(from, to, true), nil
}

func (r RecurrenceRule) options(dtstart time.Time) rrule.ROption {
	opt := rrule.ROption{
		Dtstart:  dtstart.UTC(),
		Interval: r.Interval,
		Count:    r.Count,
		Wkst:     rrule.MO,
	}

	switch r.Freq {
	case Daily:
		opt.Freq = rrule.DAILY
	case Weekly:
		opt.Freq = rrule.WEEKLY
	case Monthly:
		opt.Freq = rrule.MONTHLY
	case Yearly:
		opt.Freq = rrule.YEARLY
	}

	if r.Until != nil {
		opt.Until = r.Until.UTC()
	}

	if r.Freq == Weekly {
		for _, wd := range r.ByDay {
			opt.Byweekday = append(opt.Byweekday, rruleWeekday(wd))
		}
	}
	return opt
}

func rruleWeekday(wd time.Weekday) rrule.Weekday {
	switch wd {
	case time.Monday:
		return rrule.MO
	case time.Tuesday:
		return rrule.TU
	case time.Wednesday:
		return rrule.WE
	case time.Thursday:
		return rrule.TH
	case time.Friday:
		return rrule.FR
	case time.Saturday:
		return rrule.SA
	default:
		return rrule.SU
	}
}
