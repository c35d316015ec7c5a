// Package extract pulls structured JSON payloads out of free-form agent
// output. Agents are asked to fence their JSON, but the extractor tolerates
// all the ways they fail to.
package extract

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/tidwall/gjson"
)

var fencePattern = regexp.MustCompile("(?s)```([a-zA-Z0-9]*)[ \t]*\n(.*?)```")

// FirstJSON returns the first well-formed JSON value found in text, trying in
// priority order: a ```json fence, a bare ``` fence, the first balanced {...}
// substring, then the first balanced [...] substring. Malformed input is a
// normal outcome and reports ok=false; FirstJSON never fails hard.
func FirstJSON(text string) (json.RawMessage, bool) {
	// Fenced blocks first: an agent that bothered to fence its output is
	// telling us where the payload is.
	for _, wantTag := range []string{"json", ""} {
		for _, m := range fencePattern.FindAllStringSubmatch(text, -1) {
			if m[1] != wantTag {
				continue
			}
			candidate := strings.TrimSpace(m[2])
			if gjson.Valid(candidate) {
				return json.RawMessage(candidate), true
			}
		}
	}

	for _, open := range []byte{'{', '['} {
		if candidate, ok := firstBalanced(text, open); ok {
			return json.RawMessage(candidate), true
		}
	}

	return nil, false
}

// Unmarshal extracts the first JSON value from text and decodes it into v.
func Unmarshal(text string, v any) bool {
	raw, ok := FirstJSON(text)
	if !ok {
		return false
	}
	return json.Unmarshal(raw, v) == nil
}

// firstBalanced scans text for the first balanced region opened by open that
// is also valid JSON. Braces inside string literals do not affect nesting
// depth, and escape sequences inside strings are honored.
func firstBalanced(text string, open byte) (string, bool) {
	closing := map[byte]byte{'{': '}', '[': ']'}[open]

	for start := 0; start < len(text); start++ {
		if text[start] != open {
			continue
		}

		depth := 0
		inString := false
		escaped := false
		for i := start; i < len(text); i++ {
			c := text[i]
			switch {
			case escaped:
				escaped = false
			case inString && c == '\\':
				escaped = true
			case c == '"':
				inString = !inString
			case inString:
				// String contents never affect depth.
			case c == open:
				depth++
			case c == closing:
				depth--
				if depth == 0 {
					candidate := text[start : i+1]
					if gjson.Valid(candidate) {
						return candidate, true
					}
					// Balanced but not valid JSON; keep
					// looking from the next opener.
					i = len(text)
				}
			}
		}
	}

	return "", false
}
