package streams

import "strings"

// ModeShorts is the mode value that selects vertical output.
const ModeShorts = "shorts"

// ParseMode reports whether mode selects vertical output. Matching is
// case-insensitive and ignores surrounding whitespace; anything else,
// including the empty string, means landscape.
func ParseMode(mode string) bool {
	return strings.EqualFold(strings.TrimSpace(mode), ModeShorts)
}
