package ics

import (
	"strings"
)

// RawProperty is one property line of a VEVENT after splitting.
type RawProperty struct {
	Value  string
	Params map[string]string
}

// Properties maps uppercase property names to their last value in a block.
type Properties map[string]RawProperty

// Get returns the value of name, or "" if absent.
func (p Properties) Get(name string) string {
	return p[name].Value
}

// Unfold normalizes line endings and joins folded continuation lines.
// A line beginning with a single space or tab continues the previous line;
// exactly that one character is dropped.
func Unfold(text string) []string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	raw := strings.Split(text, "\n")

	out := make([]string, 0, len(raw))
	for _, line := range raw {
		if len(line) > 0 && (line[0] == ' ' || line[0] == '\t') && len(out) > 0 {
			out[len(out)-1] += line[1:]
			continue
		}
		out = append(out, line)
	}
	return out
}

// ParseProperty splits a logical line of the form NAME;K=V;K2="V2":value.
// ok is false when the line has no colon.
func ParseProperty(line string) (name string, prop RawProperty, ok bool) {
	head, value, found := strings.Cut(line, ":")
	if !found {
		return "", RawProperty{}, false
	}

	parts := strings.Split(head, ";")
	name = strings.ToUpper(strings.TrimSpace(parts[0]))
	if name == "" {
		return "", RawProperty{}, false
	}

	params := make(map[string]string, len(parts)-1)
	for _, p := range parts[1:] {
		k, v, hasEq := strings.Cut(p, "=")
		if !hasEq {
			continue
		}
		if len(v) >= 2 && v[0] == '"' && v[len(v)-1] == '"' {
			v = v[1 : len(v)-1]
		}
		params[strings.ToUpper(strings.TrimSpace(k))] = v
	}

	return name, RawProperty{Value: value, Params: params}, true
}

// Blocks scans logical lines and returns the properties of every complete
// VEVENT, in document order. Components nested inside a VEVENT (VALARM and
// friends) are skipped so their SUMMARY/DESCRIPTION cannot leak into the
// event. END:VEVENT always closes the event, even inside an unterminated
// nested component. A VEVENT left open at end of input is dropped.
func Blocks(lines []string) []Properties {
	var (
		blocks  []Properties
		current Properties
		nested  int
	)

	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		upper := strings.ToUpper(trimmed)

		if current == nil {
			if upper == "BEGIN:VEVENT" {
				current = make(Properties)
				nested = 0
			}
			continue
		}

		switch {
		case upper == "END:VEVENT":
			blocks = append(blocks, current)
			current = nil
			nested = 0
			continue
		case strings.HasPrefix(upper, "BEGIN:"):
			nested++
			continue
		case strings.HasPrefix(upper, "END:"):
			if nested > 0 {
				nested--
			}
			continue
		}
		if nested > 0 {
			continue
		}

		name, prop, ok := ParseProperty(line)
		if !ok {
			continue
		}
		current[name] = prop
	}

	return blocks
}

// unescapeText reverses TEXT escaping: \n \N \, \; \\.
// Unknown escapes are kept verbatim.
func unescapeText(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '\\' || i+1 == len(s) {
			b.WriteByte(c)
			continue
		}
		next := s[i+1]
		switch next {
		case 'n', 'N':
			b.WriteByte('\n')
		case ',', ';', '\\':
			b.WriteByte(next)
		default:
			b.WriteByte(c)
			b.WriteByte(next)
		}
		i++
	}
	return b.String()
}
