package session

import "strings"

const (
	titleMaxLen   = 40
	titleEllipsis = "..."
)

// Title derives a conversation title from its first user message: the trimmed text, cut to 40 characters
// with the last three replaced by an ellipsis when it is longer.
func Title(input string) string {
	t := []rune(strings.TrimSpace(input))
	if len(t) <= titleMaxLen {
		return string(t)
	}
	return string(t[:titleMaxLen-len(titleEllipsis)]) + titleEllipsis
}
