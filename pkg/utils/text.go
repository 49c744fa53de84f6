// Package utils provides shared utilities for text, math, and logging.
package utils

// Truncate returns s cut to maxLen characters with "..." appended when anything was cut.
// If maxLen is 0 or negative, returns s unchanged.
func Truncate(s string, maxLen int) string {
	cut := Cut(s, maxLen)
	if len(cut) == len(s) {
		return s
	}
	return cut + "..."
}

// Cut returns the first maxLen characters (runes) of s. If maxLen is 0 or
// negative, returns s unchanged.
func Cut(s string, maxLen int) string {
	if maxLen <= 0 || len(s) <= maxLen {
		return s
	}
	n := 0
	for i := range s {
		if n == maxLen {
			return s[:i]
		}
		n++
	}
	return s
}
