package vfs

import (
	"regexp"
	"strings"

	"github.com/arthur-debert/loosevfs/pkg/loosevfs/pathutil"
)

// excludeToRegexp rewrites a glob-like exclude string into regular
// expression source. The rewrite is purely textual: "**" and "/*" become
// ".*", a leading "*" becomes ".*", and the characters ". / [ ] -" are
// escaped.
func excludeToRegexp(exclude string) string {
	re := strings.ReplaceAll(exclude, ".", `\.`)
	re = strings.TrimSuffix(re, "/")
	re = strings.ReplaceAll(re, "**", ".*")
	re = strings.ReplaceAll(re, "/*", "/.*")
	re = strings.ReplaceAll(re, "/", `\/`)
	re = strings.ReplaceAll(re, "**", "*")
	if strings.HasPrefix(re, "*") {
		re = "." + re
	}
	re = strings.ReplaceAll(re, "[", `\[`)
	re = strings.ReplaceAll(re, "]", `\]`)
	re = strings.ReplaceAll(re, "-", `\-`)
	return re
}

// compileExclude compiles an exclude string. The expression must match a
// whole "/"-rooted relative path.
func compileExclude(exclude string) (*regexp.Regexp, error) {
	return regexp.Compile("^(?:" + excludeToRegexp(exclude) + ")$")
}

// excludedRel reports whether rel, or any directory above it, matches the
// pattern. rel is "/"-rooted and relative to a rule's disk root; the root
// itself is never tested.
func excludedRel(pattern *regexp.Regexp, rel string) bool {
	if pattern == nil {
		return false
	}
	for p := rel; p != "" && p != pathutil.Root; p = pathutil.Parent(p) {
		if pattern.MatchString(p) {
			return true
		}
	}
	return false
}
