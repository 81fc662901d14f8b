package ai

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrMalformedResponse is returned when no decoding strategy yields valid JSON
var ErrMalformedResponse = errors.New("malformed response")

var (
	codeFenceRe     = regexp.MustCompile("(?s)```(?:json)?\\s*\\n?(.*?)\\n?```")
	trailingCommaRe = regexp.MustCompile(`,(\s*[}\]])`)
	unquotedKeyRe   = regexp.MustCompile(`([{,]\s*)([a-zA-Z_][a-zA-Z0-9_]*)(\s*:)`)
	lineCommentRe   = regexp.MustCompile(`(?m)^\s*//.*$`)
	blockCommentRe  = regexp.MustCompile(`(?s)/\*.*?\*/`)
)

// Decode parses model output as JSON into T. Models wrap JSON in code fences,
// surround it with prose, or emit trailing commas; Decode tries, in order:
// the raw text, the first fenced block, a cleaned-up version of either, and
// finally the outermost object or array found in the text.
func Decode[T any](text string) (T, error) {
	var v T
	text = strings.TrimSpace(text)
	if text == "" {
		return v, fmt.Errorf("%w: empty response", ErrMalformedResponse)
	}

	candidates := []string{text}
	if m := codeFenceRe.FindStringSubmatch(text); len(m) > 1 {
		candidates = append(candidates, strings.TrimSpace(m[1]))
	}
	raw := candidates
	for _, c := range raw {
		candidates = append(candidates, cleanupJSON(c))
	}
	if extracted := extractJSON(text); extracted != "" {
		candidates = append(candidates, extracted, cleanupJSON(extracted))
	}

	var firstErr error
	for _, c := range candidates {
		var out T
		err := json.Unmarshal([]byte(c), &out)
		if err == nil {
			return out, nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	return v, fmt.Errorf("%w: %v (response: %s)", ErrMalformedResponse, firstErr, truncate(text, 120))
}

func cleanupJSON(s string) string {
	s = blockCommentRe.ReplaceAllString(s, "")
	s = lineCommentRe.ReplaceAllString(s, "")
	s = trailingCommaRe.ReplaceAllString(s, "$1")
	s = unquotedKeyRe.ReplaceAllString(s, `$1"$2"$3`)
	return strings.TrimSpace(s)
}

// extractJSON returns the outermost balanced object or array in s, whichever
// starts first, or "" if there is none.
func extractJSON(s string) string {
	start := strings.IndexAny(s, "{[")
	if start < 0 {
		return ""
	}
	open := s[start]
	closing := byte('}')
	if open == '[' {
		closing = ']'
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		switch {
		case escaped:
			escaped = false
		case c == '\\' && inString:
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
		case c == open:
			depth++
		case c == closing:
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return ""
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
