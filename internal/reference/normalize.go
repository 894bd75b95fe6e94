package reference

import (
	"regexp"
	"strings"
)

var categoryPattern = regexp.MustCompile(`^[A-Z][0-9]{2}`)

// Normalize reduces a raw diagnosis code to its 3-character ICD-10 category.
// Punctuation, whitespace and case are ignored and sub-codes are truncated, so
// "m54.5", " M54 5" and "M545" all yield "M54". The boolean is false when the
// input does not start with a letter followed by two digits; the cleaned input
// is still returned so callers can report what they received.
func Normalize(raw string) (string, bool) {
	cleaned := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return r - 'a' + 'A'
		case (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9'):
			return r
		default:
			return -1
		}
	}, raw)

	if m := categoryPattern.FindString(cleaned); m != "" {
		return m, true
	}
	return cleaned, false
}
