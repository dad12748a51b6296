package ics

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnfold(t *testing.T) {
	text := "BEGIN:VEVENT\r\nSUMMARY:Lorem Ip\r\n sum\r\nLOCATION:Room\n\t 101\nEND:VEVENT"
	lines := Unfold(text)

	assert.Equal(t, []string{
		"BEGIN:VEVENT",
		"SUMMARY:Lorem Ipsum",
		"LOCATION:Room 101",
		"END:VEVENT",
	}, lines)
}

func TestUnfoldLeadingContinuation(t *testing.T) {
	assert.Equal(t, []string{" orphan", "A:b"}, Unfold(" orphan\nA:b"))
}

func TestParseProperty(t *testing.T) {
	name, prop, ok := ParseProperty(`dtstart;TZID="Europe/Berlin";value=DATE-TIME:20260201T100000`)
	require.True(t, ok)
	assert.Equal(t, "DTSTART", name)
	assert.Equal(t, "20260201T100000", prop.Value)
	assert.Equal(t, map[string]string{"TZID": "Europe/Berlin", "VALUE": "DATE-TIME"}, prop.Params)

	name, prop, ok = ParseProperty("URL:https://example.org:8443/a?b=c")
	require.True(t, ok)
	assert.Equal(t, "URL", name)
	assert.Equal(t, "https://example.org:8443/a?b=c", prop.Value)

	_, _, ok = ParseProperty("no colon here")
	assert.False(t, ok)
}

func TestBlocks(t *testing.T) {
	lines := Unfold(`BEGIN:VCALENDAR
SUMMARY:outside
BEGIN:VEVENT
SUMMARY:first
SUMMARY:second
garbage line
BEGIN:VALARM
ACTION:DISPLAY
SUMMARY:alarm text
END:VALARM
END:VEVENT
BEGIN:VEVENT
SUMMARY:unterminated
END:VCALENDAR`)

	blocks := Blocks(lines)
	require.Len(t, blocks, 1)
	assert.Equal(t, "second", blocks[0].Get("SUMMARY"))
	assert.NotContains(t, blocks[0], "ACTION")
}

func TestBlocksUnterminatedNestedComponent(t *testing.T) {
	lines := Unfold(`BEGIN:VCALENDAR
BEGIN:VEVENT
SUMMARY:A
BEGIN:VALARM
ACTION:DISPLAY
END:VEVENT
BEGIN:VEVENT
SUMMARY:B
END:VEVENT
END:VCALENDAR`)

	blocks := Blocks(lines)
	require.Len(t, blocks, 2)
	assert.Equal(t, "A", blocks[0].Get("SUMMARY"))
	assert.NotContains(t, blocks[0], "ACTION")
	assert.Equal(t, "B", blocks[1].Get("SUMMARY"))
}

func TestUnescapeText(t *testing.T) {
	assert.Equal(t, "a, b; c\\d\ne\nf", unescapeText(`a\, b\; c\\d\ne\Nf`))
	assert.Equal(t, `keep \x`, unescapeText(`keep \x`))
	assert.Equal(t, `trailing\`, unescapeText(`trailing\`))
}
