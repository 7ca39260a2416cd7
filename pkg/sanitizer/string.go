package sanitizer

import (
	"strings"
	"unicode"
)

// TrimAndNormalize trims s and collapses every run of whitespace to one space.
func TrimAndNormalize(s string) string {
	s = strings.TrimSpace(s)

	if s == "" {
		return ""
	}

	var result strings.Builder
	var lastWasSpace bool

	for _, r := range s {
		if unicode.IsSpace(r) {
			if !lastWasSpace {
				result.WriteRune(' ')
				lastWasSpace = true
			}
		} else {
			result.WriteRune(r)
			lastWasSpace = false
		}
	}

	return result.String()
}

// NormalizeName cleans a display name.
func NormalizeName(name string) string {
	return TrimAndNormalize(name)
}

// NormalizeID trims an identifier and lowercases it. ObjectID hex is
// case-insensitive on input but stored lowercase.
func NormalizeID(id string) string {
	id = strings.TrimSpace(id)
	if strings.IndexFunc(id, unicode.IsSpace) >= 0 {
		return ""
	}
	return strings.ToLower(id)
}
