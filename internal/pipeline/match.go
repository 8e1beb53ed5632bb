package pipeline

import "strings"

// MatchPath reports whether path matches pattern. A pattern ending in "*"
// matches every path that starts with the text before the star; any other
// pattern must equal path exactly.
func MatchPath(pattern, path string) bool {
	if strings.HasSuffix(pattern, "*") {
		return strings.HasPrefix(path, strings.TrimRight(pattern, "*"))
	}
	return pattern == path
}

// MatchAny reports whether path matches at least one of patterns.
func MatchAny(patterns []string, path string) bool {
	for _, p := range patterns {
		if MatchPath(p, path) {
			return true
		}
	}
	return false
}
