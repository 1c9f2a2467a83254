package utils

import (
	"regexp"
	"strings"
)

// CompilePathPattern turns a path pattern into an anchored regular expression.
// "*" matches any run of characters (including "/"); everything else is literal.
func CompilePathPattern(pattern string) (*regexp.Regexp, error) {
	escaped := regexp.QuoteMeta(pattern)
	escaped = strings.ReplaceAll(escaped, `\*`, ".*")
	return regexp.Compile("^" + escaped + "$")
}

// MatchesAnyPrefix reports whether path starts with one of prefixes.
func MatchesAnyPrefix(path string, prefixes []string) bool {
	for _, prefix := range prefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

// ContainsFold reports whether values contains s, ignoring case.
func ContainsFold(values []string, s string) bool {
	for _, v := range values {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}
