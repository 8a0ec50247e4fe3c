// Package pathutil holds the string helpers used to move between archive
// paths ("/"-rooted, "/"-separated, no trailing slash except the root) and
// the physical paths backing them.
package pathutil

import (
	"path"
	"path/filepath"
	"strings"
)

// Root is the archive path of an archive's root container.
const Root = "/"

// NonRecursiveMarker prefixes a subscription path that covers only the path
// itself and its immediate children.
const NonRecursiveMarker = "!"

// Clean normalizes an archive path. It reports false when the path is not
// absolute or when ".." segments would climb above the root.
func Clean(p string) (string, bool) {
	if !strings.HasPrefix(p, "/") {
		return "", false
	}
	depth := 0
	for _, seg := range strings.Split(p, "/") {
		switch seg {
		case "", ".":
		case "..":
			depth--
			if depth < 0 {
				return "", false
			}
		default:
			depth++
		}
	}
	return path.Clean(p), true
}

// IsRoot reports whether p is the archive root.
func IsRoot(p string) bool {
	return p == Root
}

// Parent returns the parent of an archive path, or "" for the root.
func Parent(p string) string {
	if p == Root || p == "" {
		return ""
	}
	i := strings.LastIndex(p, "/")
	if i <= 0 {
		return Root
	}
	return p[:i]
}

// Name returns the last component of an archive path, or "" for the root.
func Name(p string) string {
	if p == Root || p == "" {
		return ""
	}
	return p[strings.LastIndex(p, "/")+1:]
}

// FirstComponent returns the leading component of p, ignoring a leading slash.
func FirstComponent(p string) string {
	p = strings.TrimPrefix(p, "/")
	if i := strings.Index(p, "/"); i >= 0 {
		return p[:i]
	}
	return p
}

// Join appends a relative name to an archive directory path.
func Join(dir, name string) string {
	name = strings.Trim(name, "/")
	if name == "" {
		return dir
	}
	if dir == Root {
		return Root + name
	}
	return dir + "/" + name
}

// Covers reports whether p is prefix itself or lies somewhere below it.
func Covers(prefix, p string) bool {
	if prefix == Root {
		return strings.HasPrefix(p, "/")
	}
	return p == prefix || strings.HasPrefix(p, prefix+"/")
}

// IsBeneath reports whether location lies strictly below dir.
func IsBeneath(dir, location string) bool {
	return len(location) > len(dir) && Covers(dir, location)
}

// NextComponent returns the child of dir that leads toward location, which
// must lie strictly below dir.
func NextComponent(dir, location string) string {
	rest := location[len(dir):]
	return Join(dir, FirstComponent(rest))
}

// Rel expresses a physical path relative to a physical root, as a
// "/"-rooted slash path. It reports false when target is not under root.
func Rel(root, target string) (string, bool) {
	root = filepath.Clean(root)
	target = filepath.Clean(target)
	if target == root {
		return Root, true
	}
	prefix := root
	if !strings.HasSuffix(prefix, string(filepath.Separator)) {
		prefix += string(filepath.Separator)
	}
	if !strings.HasPrefix(target, prefix) {
		return "", false
	}
	return "/" + filepath.ToSlash(target[len(prefix):]), true
}

// ToDisk maps an archive-relative suffix ("/" or "/a/b") onto a physical root.
func ToDisk(root, rel string) string {
	if rel == Root || rel == "" {
		return filepath.Clean(root)
	}
	return filepath.Join(root, filepath.FromSlash(strings.TrimPrefix(rel, "/")))
}

// ParseSubscription splits a subscription path into its fixed archive path
// and whether it should be followed recursively.
func ParseSubscription(sub string) (fixed string, recursive bool) {
	if strings.HasPrefix(sub, NonRecursiveMarker) {
		return sub[len(NonRecursiveMarker):], false
	}
	return sub, true
}

// MatchesSubscription reports whether archive path p falls inside the
// subscription sub. A non-recursive subscription matches its own path and
// immediate children only.
func MatchesSubscription(sub, p string) bool {
	fixed, recursive := ParseSubscription(sub)
	if recursive {
		return Covers(fixed, p)
	}
	if p == fixed {
		return true
	}
	if !IsBeneath(fixed, p) {
		return false
	}
	rest := strings.TrimPrefix(p[len(fixed):], "/")
	return !strings.Contains(rest, "/")
}
