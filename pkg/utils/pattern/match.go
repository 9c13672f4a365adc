// ABOUTME: Glob-style key matching for storage key listing and persistence policies
// ABOUTME: Supports exact, prefix and wildcard patterns with cached compiled regexes

package pattern

import (
	"regexp"
	"strings"
	"sync"
)

// compiled caches glob patterns translated to anchored regexes
var compiled sync.Map

// Match reports whether key matches pattern. "*" matches any run of
// characters (including none) and "?" matches exactly one. An empty pattern
// matches everything.
func Match(pattern, key string) bool {
	switch {
	case pattern == "" || pattern == "*":
		return true
	case pattern == key:
		return true
	case !strings.ContainsAny(pattern, "*?"):
		return false
	}

	// Fast path: "prefix*"
	if strings.HasSuffix(pattern, "*") && !strings.ContainsAny(pattern[:len(pattern)-1], "*?") {
		return strings.HasPrefix(key, pattern[:len(pattern)-1])
	}

	if cached, ok := compiled.Load(pattern); ok {
		return cached.(*regexp.Regexp).MatchString(key)
	}
	re := regexp.MustCompile("^" + globToRegex(pattern) + "$")
	compiled.Store(pattern, re)
	return re.MatchString(key)
}

// Filter returns the keys matching pattern, preserving order
func Filter(pattern string, keys []string) []string {
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if Match(pattern, k) {
			out = append(out, k)
		}
	}
	return out
}

// MatchAny reports whether key matches at least one of patterns
func MatchAny(patterns []string, key string) bool {
	for _, p := range patterns {
		if Match(p, key) {
			return true
		}
	}
	return false
}

// globToRegex escapes everything except the glob wildcards
func globToRegex(pattern string) string {
	var b strings.Builder
	b.Grow(len(pattern) * 2)
	for _, r := range pattern {
		switch r {
		case '*':
			b.WriteString(".*")
		case '?':
			b.WriteString(".")
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	return b.String()
}
