package match

import (
	"strings"

	"github.com/elliotchance/pie/v2"
)

// normalizeTags trims, upper-cases, and de-duplicates tags, dropping any
// that are empty after trimming (spec.md §3 invariant 6). The result is
// idempotent: normalizeTags(normalizeTags(xs)) == normalizeTags(xs).
func normalizeTags(tags []string) []string {
	trimmed := pie.Map(tags, func(t string) string {
		return strings.ToUpper(strings.TrimSpace(t))
	})
	trimmed = pie.Filter(trimmed, func(t string) bool { return t != "" })
	return pie.Unique(trimmed)
}

// intersect returns the tags common to both a and b, preserving a's order.
func intersect(a, b []string) []string {
	return pie.Filter(a, func(t string) bool {
		return pie.Contains(b, t)
	})
}
