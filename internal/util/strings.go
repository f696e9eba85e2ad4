package util

import (
	"slices"
	"strings"
)

// SetDelimiter separates members of a set stored as a single column.
const SetDelimiter = ","

// SafeTruncate safely truncates a string to maxLen bytes without panicking.
// Token values are logged through it so only a prefix is ever written.
//
// If maxLen is negative, it's treated as 0 and returns an empty string.
//
// Example:
//
//	SafeTruncate("very-long-token-abc123", 8) // Returns: "very-lon"
//	SafeTruncate("short", 10)                  // Returns: "short"
func SafeTruncate(s string, maxLen int) string {
	if maxLen < 0 {
		return ""
	}
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen]
}

// NormalizeURL removes trailing slashes so base URLs can be joined with paths.
//
//	NormalizeURL("https://example.com/")   // Returns: "https://example.com"
//	NormalizeURL("https://example.com///") // Returns: "https://example.com"
func NormalizeURL(url string) string {
	return strings.TrimRight(url, "/")
}

// NormalizeSet returns the members of values sorted, de-duplicated and with
// blank entries removed. The input slice is not modified.
func NormalizeSet(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v != "" {
			out = append(out, v)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}

// JoinSet encodes values as a delimited string. Order and duplicates in the
// input do not affect the result.
func JoinSet(values []string) string {
	return strings.Join(NormalizeSet(values), SetDelimiter)
}

// SplitSet decodes a string produced by JoinSet. Empty input yields nil.
func SplitSet(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return NormalizeSet(strings.Split(s, SetDelimiter))
}

// SplitScope splits a space-delimited OAuth scope parameter (RFC 6749 section 3.3).
func SplitScope(scope string) []string {
	fields := strings.Fields(scope)
	if len(fields) == 0 {
		return nil
	}
	return NormalizeSet(fields)
}
