package answer

import (
	"encoding/json"
	"regexp"
	"strings"

	"autosurvey/internal/domain"
)

var fenceRe = regexp.MustCompile("(?s)```[a-zA-Z]*[ \t]*\r?\n?(.*?)```")

// ExtractJSON pulls the first JSON object out of an LLM reply. Fenced code
// blocks are searched first, then the raw text with a brace-depth scan that
// skips braces inside string literals. It fails with *domain.ParseError.
func ExtractJSON(text string) (string, error) {
	for _, m := range fenceRe.FindAllStringSubmatch(text, -1) {
		if obj, ok := firstObject(m[1]); ok {
			return obj, nil
		}
	}
	if obj, ok := firstObject(text); ok {
		return obj, nil
	}
	reason := "no balanced JSON object found"
	if strings.Contains(text, "{") {
		reason = "no valid JSON object found"
	}
	return "", &domain.ParseError{Reason: reason, Raw: text}
}

// firstObject returns the first balanced {...} span that is valid JSON.
func firstObject(s string) (string, bool) {
	for start := strings.IndexByte(s, '{'); start >= 0; {
		end := matchBrace(s, start)
		if end > 0 {
			candidate := s[start : end+1]
			if json.Valid([]byte(candidate)) {
				return candidate, true
			}
		}
		next := strings.IndexByte(s[start+1:], '{')
		if next < 0 {
			break
		}
		start += next + 1
	}
	return "", false
}

// matchBrace returns the index of the brace closing s[start], or -1.
func matchBrace(s string, start int) int {
	depth := 0
	inString := false
	escaped := false
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
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}
