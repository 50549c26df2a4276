package strings

import (
	"strings"
)

// DefaultMessageMaxLen is the width of message columns in table output.
const DefaultMessageMaxLen = 60

// MinTruncateLen is the minimum maxLen value for SingleLine.
// Values smaller than this would not leave room for meaningful content plus "...".
const MinTruncateLen = 4

// SingleLine collapses every run of whitespace, newlines included, into one
// space and truncates the result to maxLen runes, ending it with "..." when
// cut. maxLen below MinTruncateLen is raised to MinTruncateLen.
func SingleLine(s string, maxLen int) string {
	if maxLen < MinTruncateLen {
		maxLen = MinTruncateLen
	}

	s = strings.Join(strings.Fields(s), " ")

	runes := []rune(s)
	if len(runes) > maxLen {
		return string(runes[:maxLen-3]) + "..."
	}
	return s
}
