package fileutils

import "strings"

// NormalizeHash lower cases and trims a hex digest so digests can be compared
// and stored in a single canonical form.
func NormalizeHash(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// SameHash compares two hex digests case-insensitively.
func SameHash(a, b string) bool {
	return NormalizeHash(a) == NormalizeHash(b)
}
