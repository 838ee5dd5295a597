package session

import "strings"

// NormalizeHandle collapses every "no handle" representation to a single
// absent value. A conversation handle is present only when it is a non-empty,
// non-whitespace string; anything else means the next invocation starts a
// fresh conversation. Every read site of a stored handle goes through this
// function so the equivalence is defined exactly once.
func NormalizeHandle(value string) (string, bool) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "", false
	}
	return trimmed, true
}
