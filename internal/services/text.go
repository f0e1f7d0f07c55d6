package services

import (
	"html"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
)

var plainTextPolicy = bluemonday.StrictPolicy()

// sanitizeText strips markup and control characters and truncates to limit runes.
func sanitizeText(input string, limit int) string {
	input = strings.TrimSpace(input)
	if input == "" {
		return ""
	}
	input = plainTextPolicy.Sanitize(input)
	input = html.UnescapeString(input)

	var b strings.Builder
	for _, r := range input {
		if r < 32 && r != '\n' && r != '\t' {
			continue
		}
		if r == utf8.RuneError {
			continue
		}
		b.WriteRune(r)
	}
	out := strings.TrimSpace(b.String())
	if limit > 0 && utf8.RuneCountInString(out) > limit {
		out = string([]rune(out)[:limit])
	}
	return out
}

func valuePtr[T any](v T) *T {
	return &v
}

func derefString(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}
