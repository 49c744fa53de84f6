package indexer

import (
	"strings"
	"unicode"
)

// Normalize prepares extracted text for chunking: whitespace runs collapse to a
// single space, C0/C1 control characters are dropped, and the result is trimmed.
func Normalize(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	wasSpace := false
	for _, r := range text {
		if unicode.IsSpace(r) {
			if !wasSpace {
				b.WriteRune(' ')
				wasSpace = true
			}
			continue
		}
		if isStrippedControl(r) {
			continue
		}
		b.WriteRune(r)
		wasSpace = false
	}
	return strings.TrimSpace(b.String())
}

// isStrippedControl reports whether r is in U+0000-U+0008, U+000B, U+000C,
// U+000E-U+001F or U+007F-U+009F.
func isStrippedControl(r rune) bool {
	switch {
	case r <= 0x08:
		return true
	case r == 0x0b || r == 0x0c:
		return true
	case r >= 0x0e && r <= 0x1f:
		return true
	case r >= 0x7f && r <= 0x9f:
		return true
	}
	return false
}
