// Package ident normalizes the identifiers shared across the service:
// room codes, player display names, client ids, and the case-folded
// key used for display-name uniqueness.
package ident

import (
	"strings"

	"golang.org/x/text/cases"
)

const (
	MaxRoomCodeLen   = 40
	MinRoomCodeLen   = 4
	MaxPlayerNameLen = 22
	MaxClientIDLen   = 64
)

var foldCaser = cases.Fold()

// NormalizeRoomCode lowercases, strips everything outside [a-z0-9-] and
// caps the length. Returns "" if fewer than MinRoomCodeLen chars survive.
func NormalizeRoomCode(value string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(value)) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-' {
			b.WriteRune(r)
		}
		if b.Len() >= MaxRoomCodeLen {
			break
		}
	}
	code := b.String()
	if len(code) < MinRoomCodeLen {
		return ""
	}
	return code
}

// NormalizePlayerName collapses runs of whitespace to single spaces,
// trims, and caps the length. Case is preserved for display.
func NormalizePlayerName(value string) string {
	name := strings.Join(strings.Fields(value), " ")
	runes := []rune(name)
	if len(runes) > MaxPlayerNameLen {
		name = strings.TrimSpace(string(runes[:MaxPlayerNameLen]))
	}
	return name
}

// NormalizeClientID lowercases, strips everything outside [a-z0-9_-]
// and caps the length. An empty result means "no client id".
func NormalizeClientID(value string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(value)) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' || r == '-' {
			b.WriteRune(r)
		}
		if b.Len() >= MaxClientIDLen {
			break
		}
	}
	return b.String()
}

// NameKey is the uniqueness key for a display name: normalized, then
// case-folded. Folding (not lowercasing) so names that differ only by
// case in any script collide.
func NameKey(value string) string {
	name := NormalizePlayerName(value)
	if name == "" {
		return ""
	}
	return foldCaser.String(name)
}
