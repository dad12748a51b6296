package ics

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Frequency is the FREQ part of an RRULE.
type Frequency int

const (
	Daily Frequency = iota + 1
	Weekly
	Monthly
	Yearly
)

func (f Frequency) String() string {
	switch f {
	case Daily:
		return "DAILY"
	case Weekly:
		return "WEEKLY"
	case Monthly:
		return "MONTHLY"
	case Yearly:
		return "YEARLY"
	default:
		return "UNKNOWN"
	}
}

var frequencies = map[string]Frequency{
	"DAILY":   Daily,
	"WEEKLY":  Weekly,
	"MONTHLY": Monthly,
	"YEARLY":  Yearly,
}

var weekdays = map[string]time.Weekday{
	"MO": time.Monday,
	"TU": time.Tuesday,
	"WE": time.Wednesday,
	"TH": time.Thursday,
	"FR": time.Friday,
	"SA": time.Saturday,
	"SU": time.Sunday,
}

// RecurrenceRule is the supported subset of an RRULE value.
type RecurrenceRule struct {
	Freq     Frequency
	Interval int
	// Count is 0 when the rule has no COUNT.
	Count int
	Until *time.Time
	// ByDay is only honored for Weekly rules.
	ByDay []time.Weekday
}

// RuleError reports an RRULE value that could not be parsed.
type RuleError struct {
	Value  string
	Reason string
}

func (e *RuleError) Error() string {
	return fmt.Sprintf("ics: invalid RRULE %q: %s", e.Value, e.Reason)
}

// ParseRule parses FREQ, INTERVAL, COUNT, UNTIL and BYDAY out of an RRULE
// value. Other parts are ignored.
func ParseRule(value string) (RecurrenceRule, error) {
	rule := RecurrenceRule{Interval: 1}
	fail := func(reason string) (RecurrenceRule, error) {
		return RecurrenceRule{}, &RuleError{Value: value, Reason: reason}
	}

	for _, part := range strings.Split(strings.TrimSpace(value), ";") {
		if part == "" {
			continue
		}
		key, val, ok := strings.Cut(part, "=")
		if !ok {
			return fail("part without '=': " + part)
		}
		key = strings.ToUpper(strings.TrimSpace(key))
		val = strings.TrimSpace(val)

		switch key {
		case "FREQ":
			f, known := frequencies[strings.ToUpper(val)]
			if !known {
				return fail("unsupported FREQ " + val)
			}
			rule.Freq = f
		case "INTERVAL":
			n, err := strconv.Atoi(val)
			if err != nil || n < 1 {
				return fail("bad INTERVAL " + val)
			}
			rule.Interval = n
		case "COUNT":
			n, err := strconv.Atoi(val)
			if err != nil || n < 1 {
				return fail("bad COUNT " + val)
			}
			rule.Count = n
		case "UNTIL":
			t, err := DecodeDate(val)
			if err != nil {
				return fail("bad UNTIL " + val)
			}
			rule.Until = &t
		case "BYDAY":
			days, err := parseByDay(val)
			if err != nil {
				return fail(err.Error())
			}
			rule.ByDay = days
		}
	}

	if rule.Freq == 0 {
		return fail("missing FREQ")
	}
	return rule, nil
}

func parseByDay(val string) ([]time.Weekday, error) {
	seen := make(map[time.Weekday]bool)
	var out []time.Weekday
	for _, code := range strings.Split(val, ",") {
		code = strings.ToUpper(strings.TrimSpace(code))
		wd, ok := weekdays[code]
		if !ok {
			return nil, fmt.Errorf("bad BYDAY code %q", code)
		}
		if seen[wd] {
			continue
		}
		seen[wd] = true
		out = append(out, wd)
	}
	return out, nil
}
