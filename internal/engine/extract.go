package engine

import (
	"encoding/json"
	"regexp"
	"strings"
)

var fencedJSON = regexp.MustCompile("(?s)```(?:json|JSON)\\s*\\n(.*?)```")

// Extract finds the structured payload in an utterance: a fenced json
// block first, then the outermost balanced {...} or [...] pair. Whole-line
// // comments are dropped before parsing.
func Extract(utterance string) (json.RawMessage, bool) {
	for _, m := range fencedJSON.FindAllStringSubmatch(utterance, -1) {
		if raw, ok := parseCandidate(m[1]); ok {
			return raw, true
		}
	}
	if c, ok := outermost(utterance); ok {
		return parseCandidate(c)
	}
	return nil, false
}

func parseCandidate(s string) (json.RawMessage, bool) {
	s = strings.TrimSpace(stripLineComments(s))
	if s == "" || !json.Valid([]byte(s)) {
		return nil, false
	}
	return json.RawMessage(s), true
}

// outermost returns the first balanced bracket span, honouring strings.
func outermost(s string) (string, bool) {
	start := strings.IndexAny(s, "{[")
	for start >= 0 {
		if end := matchBracket(s, start); end > start {
			return s[start : end+1], true
		}
		next := strings.IndexAny(s[start+1:], "{[")
		if next < 0 {
			break
		}
		start += next + 1
	}
	return "", false
}

func matchBracket(s string, start int) int {
	var stack []byte
	inString, escaped := false, false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{', '[':
			stack = append(stack, c)
		case '}', ']':
			if len(stack) == 0 {
				return -1
			}
			open := stack[len(stack)-1]
			if (open == '{') != (c == '}') {
				return -1
			}
			stack = stack[:len(stack)-1]
			if len(stack) == 0 {
				return i
			}
		}
	}
	return -1
}

func stripLineComments(s string) string {
	if !strings.Contains(s, "//") {
		return s
	}
	lines := strings.Split(s, "\n")
	out := lines[:0]
	for _, l := range lines {
		if strings.HasPrefix(strings.TrimSpace(l), "//") {
			continue
		}
		out = append(out, l)
	}
	return strings.Join(out, "\n")
}

// hasRoot reports whether payload is an object carrying key at the top level.
func hasRoot(payload json.RawMessage, key string) bool {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(payload, &obj); err != nil {
		return false
	}
	_, ok := obj[key]
	return ok
}
