// Package strings normalizes lists of identifiers: broker addresses from the
// environment and signer public keys from guard definitions.
package strings

import (
	"slices"
	"strings"
)

// SplitList splits a comma-separated value into trimmed, unique, non-empty
// items in their original order.
func SplitList(v string) []string {
	if v == "" {
		return nil
	}
	return DedupeAndTrim(strings.Split(v, ","))
}

// DedupeAndTrim trims each item and drops blanks and repeats. Order is kept.
func DedupeAndTrim(values []string) []string {
	return dedupe(values, strings.TrimSpace)
}

// DedupeAndTrimLower is DedupeAndTrim for case-insensitive identifiers such
// as hex keys.
func DedupeAndTrimLower(values []string) []string {
	return dedupe(values, func(v string) string {
		return strings.ToLower(strings.TrimSpace(v))
	})
}

// SortedSet returns the lower-cased, trimmed, unique items in sorted order.
func SortedSet(values []string) []string {
	out := DedupeAndTrimLower(values)
	slices.Sort(out)
	return out
}

func dedupe(values []string, norm func(string) string) []string {
	if values == nil {
		return nil
	}
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = norm(v)
		if v == "" {
			continue
		}
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
