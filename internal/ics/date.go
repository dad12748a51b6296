package ics

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var dateRe = regexp.MustCompile(`^(\d{4})(\d{2})(\d{2})(?:T(\d{2})(\d{2})(\d{2})Z?)?$`)

// InvalidDateError reports a DTSTART/DTEND/UNTIL value that does not decode
// to a usable instant.
type InvalidDateError struct {
	Value string
}

func (e *InvalidDateError) Error() string {
	return fmt.Sprintf("ics: invalid date %q", e.Value)
}

// DecodeDate converts YYYYMMDD or YYYYMMDDTHHMMSS[Z] into a UTC instant.
//
// Floating and TZID-qualified times are read as UTC; there is no timezone
// database behind this parser. Values that do not match, carry out-of-range
// fields, or land on the Unix epoch or the zero time.Time are rejected.
func DecodeDate(value string) (time.Time, error) {
	v := strings.TrimSpace(value)
	m := dateRe.FindStringSubmatch(v)
	if m == nil {
		return time.Time{}, &InvalidDateError{Value: value}
	}

	n := make([]int, 6)
	for i := 1; i < len(m); i++ {
		if m[i] == "" {
			continue
		}
		n[i-1], _ = strconv.Atoi(m[i])
	}
	year, month, day, hour, minute, sec := n[0], n[1], n[2], n[3], n[4], n[5]

	t := time.Date(year, time.Month(month), day, hour, minute, sec, 0, time.UTC)
	// time.Date normalizes overflow (month 13, Feb 30); reject instead.
	if t.Year() != year || int(t.Month()) != month || t.Day() != day ||
		t.Hour() != hour || t.Minute() != minute || t.Second() != sec {
		return time.Time{}, &InvalidDateError{Value: value}
	}
	// The zero time would make the recurrence enumerator start from the wall
	// clock instead of the event.
	if t.IsZero() || t.Unix() == 0 {
		return time.Time{}, &InvalidDateError{Value: value}
	}
	return t, nil
}
