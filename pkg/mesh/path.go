package mesh

import (
	"regexp"
	"strings"
)

var (
	hopSuffixPattern = regexp.MustCompile(`(?i)\s*\([^)]*hops?[^)]*\)`)
	nodeIDPattern    = regexp.MustCompile(`[0-9a-fA-F]{2}`)
	zeroHopPattern   = regexp.MustCompile(`(^|[^0-9])0 hops?\b`)
)

// ParsePath extracts the repeater node ids from a routing path string.
//
// Accepted forms include "11,98,a4", "11 98 a4", "1198a4" and "01,5f (2 hops)".
func ParsePath(path string) []string {
	if strings.TrimSpace(path) == "" {
		return nil
	}

	cleaned := hopSuffixPattern.ReplaceAllString(path, "")
	cleaned = strings.NewReplacer(",", " ", ":", " ").Replace(strings.TrimSpace(cleaned))

	matches := nodeIDPattern.FindAllString(cleaned, -1)
	if len(matches) == 0 {
		return nil
	}

	ids := make([]string, 0, len(matches))
	for _, match := range matches {
		ids = append(ids, strings.ToUpper(match))
	}

	return ids
}

// IsDirectPath reports whether a path string describes a zero-hop route.
func IsDirectPath(path string) bool {
	lower := strings.ToLower(strings.TrimSpace(path))
	return lower == "" || strings.Contains(lower, "direct") || zeroHopPattern.MatchString(lower)
}
