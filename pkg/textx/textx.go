// Package textx provides small text utilities used across the project.
package textx

import (
	"strings"
)

// SanitizeText normalizes line endings to \n, drops control characters other
// than tab and newline, and trims surrounding whitespace.
func SanitizeText(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r == '\r':
			b.WriteByte('\n')
		case r == '\n' || r == '\t' || (r >= 32 && r != 127):
			b.WriteRune(r)
		}
	}
	return strings.TrimSpace(b.String())
}
