package pathresolver

import (
	"regexp"
	"strings"
)

var (
	slugStrip    = regexp.MustCompile(`[^\p{L}\p{N}_\s\p{Z}-]`)
	slugCollapse = regexp.MustCompile(`[\s\p{Z}-]+`)
)

// Slugify lowercases s, drops everything but word characters, whitespace and
// hyphens, collapses whitespace and hyphen runs into one hyphen, and trims
// leading and trailing hyphens and underscores.
//
// Distinct titles may share a slug.
func Slugify(s string) string {
	s = slugStrip.ReplaceAllString(strings.ToLower(s), "")
	s = slugCollapse.ReplaceAllString(s, "-")
	return strings.Trim(s, "-_")
}
