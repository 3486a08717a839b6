package reservoir

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"
)

const (
	ViewStateField       = "__VIEWSTATE"
	EventValidationField = "__EVENTVALIDATION"
)

// DeltaEntry is one `length|type|id|content|` record of an ASP.NET AJAX
// partial page response.
type DeltaEntry struct {
	Type    string
	Id      string
	Content string
}

func nextField(payload string, pos int) (string, int, error) {
	end := strings.IndexByte(payload[pos:], '|')
	if end < 0 {
		return "", 0, fmt.Errorf("unterminated field at %d", pos)
	}
	return payload[pos : pos+end], pos + end + 1, nil
}

// utf16Span returns the byte length of the first `units` UTF-16 code units of
// s, the delta format counts content length the way javascript does.
func utf16Span(s string, units int) (int, bool) {
	pos := 0
	for units > 0 {
		if pos >= len(s) {
			return 0, false
		}
		r, size := utf8.DecodeRuneInString(s[pos:])
		if r >= 0x10000 {
			units -= 2
		} else {
			units--
		}
		pos += size
	}
	return pos, units == 0
}

// ParseDelta splits an ASP.NET AJAX delta payload into its records.
func ParseDelta(payload string) ([]DeltaEntry, error) {
	var entries []DeltaEntry
	pos := 0
	for pos < len(payload) {
		lengthStr, next, err := nextField(payload, pos)
		if err != nil {
			return nil, err
		}
		length, err := strconv.Atoi(lengthStr)
		if err != nil || length < 0 {
			return nil, fmt.Errorf("invalid length %q at %d", lengthStr, pos)
		}

		typ, next, err := nextField(payload, next)
		if err != nil {
			return nil, err
		}
		id, next, err := nextField(payload, next)
		if err != nil {
			return nil, err
		}

		span, ok := utf16Span(payload[next:], length)
		if !ok {
			return nil, fmt.Errorf("content of %s %q overruns payload", typ, id)
		}
		content := payload[next : next+span]
		next += span
		if next >= len(payload) || payload[next] != '|' {
			return nil, fmt.Errorf("missing delimiter after %s %q", typ, id)
		}

		entries = append(entries, DeltaEntry{Type: typ, Id: id, Content: content})
		pos = next + 1
	}
	return entries, nil
}

var tokenPatterns = map[string]*regexp.Regexp{
	ViewStateField:       regexp.MustCompile(`\|__VIEWSTATE\|([^|]+)\|`),
	EventValidationField: regexp.MustCompile(`\|__EVENTVALIDATION\|([^|]+)\|`),
}

// Tokens returns the refreshed view state and event validation values found
// in payload. Fields the payload does not carry are absent from the result.
func Tokens(payload string) map[string]string {
	tokens := map[string]string{}

	entries, err := ParseDelta(payload)
	if err == nil {
		for _, e := range entries {
			if e.Type != "hiddenField" {
				continue
			}
			if _, ok := tokenPatterns[e.Id]; ok && e.Content != "" {
				tokens[e.Id] = e.Content
			}
		}
		return tokens
	}

	// not a well formed delta payload, look for the fields by their delimiters
	for field, pattern := range tokenPatterns {
		groups := pattern.FindStringSubmatch(payload)
		if len(groups) < 2 {
			continue
		}
		tokens[field] = groups[1]
	}
	return tokens
}
