// Package normalize canonicalizes user-supplied identity fields before they
// are stored or compared. Every write path goes through these helpers so
// lookups never miss on case or whitespace differences.
package normalize

import "strings"

// Email lowercases and trims an email address.
func Email(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// Name trims surrounding whitespace but preserves case.
func Name(s string) string {
	return strings.TrimSpace(s)
}

// AuthMethod canonicalizes an auth method to lowercase (password, google, magic).
func AuthMethod(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// Status canonicalizes a status value to lowercase (active, disabled).
func Status(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// Role canonicalizes a membership role to lowercase (owner, member).
func Role(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// Stage trims a pipeline stage name. Stage names keep their case; they are
// displayed verbatim on the board.
func Stage(s string) string {
	return strings.TrimSpace(s)
}

// Currency uppercases and trims an ISO 4217 currency code.
func Currency(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}
