// Package utils provides shared helpers for logging and text display.
package utils

import (
	"strconv"
	"strings"
	"unicode/utf8"
)

// Truncate returns s cut to at most maxRunes runes, with "..." appended when cut.
// A maxRunes of 0 or less returns s unchanged. Multi-byte characters are never split.
func Truncate(s string, maxRunes int) string {
	if maxRunes <= 0 || utf8.RuneCountInString(s) <= maxRunes {
		return s
	}
	i, n := 0, 0
	for i = range s {
		if n == maxRunes {
			break
		}
		n++
	}
	return s[:i] + "..."
}

// SingleLine collapses all whitespace runs, newlines included, into single spaces.
func SingleLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// HumanBytes formats n bytes with a binary unit, e.g. "1.5 MiB".
func HumanBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return strconv.FormatInt(n, 10) + " B"
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	whole := n / div
	tenth := (n % div) * 10 / div
	return strconv.FormatInt(whole, 10) + "." + strconv.FormatInt(tenth, 10) + " " + string("KMGTPE"[exp]) + "iB"
}
