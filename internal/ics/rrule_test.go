package ics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRule(t *testing.T) {
	rule, err := ParseRule("FREQ=WEEKLY;INTERVAL=2;COUNT=6;BYDAY=MO,we,FR,MO;WKST=SU")
	require.NoError(t, err)
	assert.Equal(t, Weekly, rule.Freq)
	assert.Equal(t, 2, rule.Interval)
	assert.Equal(t, 6, rule.Count)
	assert.Nil(t, rule.Until)
	assert.Equal(t, []time.Weekday{time.Monday, time.Wednesday, time.Friday}, rule.ByDay)

	rule, err = ParseRule("FREQ=daily;UNTIL=20260301T000000Z")
	require.NoError(t, err)
	assert.Equal(t, Daily, rule.Freq)
	assert.Equal(t, 1, rule.Interval)
	require.NotNil(t, rule.Until)
	assert.True(t, rule.Until.Equal(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)))
}

func TestParseRuleRejects(t *testing.T) {
	for _, in := range []string{
		"",
		"INVALID_RULE",
		"FREQ=HOURLY",
		"COUNT=3",
		"FREQ=DAILY;INTERVAL=0",
		"FREQ=DAILY;COUNT=x",
		"FREQ=DAILY;UNTIL=tomorrow",
		"FREQ=WEEKLY;BYDAY=1MO",
	} {
		_, err := ParseRule(in)
		var ruleErr *RuleError
		assert.ErrorAs(t, err, &ruleErr, "input %q", in)
	}
}

func TestFrequencyString(t *testing.T) {
	assert.Equal(t, "MONTHLY", Monthly.String())
	assert.Equal(t, "UNKNOWN", Frequency(0).String())
}
