// internal/oa/normalize.go
package oa

import "strings"

// NormalizeUsername trims u and prepends prefix unless it is already there.
// Empty input stays empty. Applying it twice gives the same result.
func NormalizeUsername(prefix, u string) string {
	s := strings.TrimSpace(u)
	if s == "" {
		return s
	}
	prefix = strings.TrimSpace(prefix)
	if prefix != "" && !strings.HasPrefix(s, prefix) {
		s = prefix + s
	}
	return s
}

func normalizedPtr(prefix, u string) *string {
	return strPtr(NormalizeUsername(prefix, u))
}
