package vfs

import (
	"path/filepath"

	"github.com/spf13/afero"

	"github.com/arthur-debert/loosevfs/pkg/loosevfs/pathutil"
)

// matches reports whether r currently presents archive path p: the path is
// in the rule's namespace, the disk side exists (archive rules always do),
// and it is neither excluded nor mis-cased.
func (a *Archive) matches(r *Rule, p string) bool {
	disk, ok := r.claim(p)
	if !ok {
		return false
	}
	switch r.kind {
	case KindArchive:
		return true
	case KindFile:
		return a.exists(disk)
	}
	if !a.exists(disk) || r.excluded(disk) {
		return false
	}
	if a.caseCheck && !a.caseMatches(r.disk, disk) {
		return false
	}
	return true
}

// matchingRules returns every rule currently presenting p, in order.
func (a *Archive) matchingRules(p string) []*Rule {
	var out []*Rule
	for _, r := range a.rules {
		if a.matches(r, p) {
			out = append(out, r)
		}
	}
	return out
}

// resolve returns the entry owned by the first rule presenting p, or a
// pass-through entry when some rule's location lies below p.
func (a *Archive) resolve(p string) (Entry, bool) {
	for _, r := range a.rules {
		if a.matches(r, p) {
			return Entry{archive: a, rule: r, path: p}, true
		}
	}
	for _, r := range a.rules {
		if r.isBeneath(p) {
			return Entry{archive: a, path: p}, true
		}
	}
	return Entry{}, false
}

// listing accumulates child paths in first-discovery order.
type listing struct {
	order  []string
	owners map[string]*Rule
}

func (l *listing) add(p string, r *Rule) {
	cur, seen := l.owners[p]
	if !seen {
		l.order = append(l.order, p)
		l.owners[p] = r
		return
	}
	// A pass-through placeholder yields to a real owner, as in resolve.
	if cur == nil && r != nil {
		l.owners[p] = r
	}
}

// list collects the children of dir across all rules, in rule order.
func (a *Archive) list(dir string) []Entry {
	l := &listing{owners: make(map[string]*Rule)}

	for _, r := range a.rules {
		if r.kind == KindDirectory && a.matches(r, dir) {
			disk, _ := r.claim(dir)
			infos, err := afero.ReadDir(a.fs, disk)
			if err != nil {
				a.logger.Debug().
					Str("path", dir).
					Str("disk", disk).
					Err(err).
					Msg("cannot list directory rule target")
			}
			for _, info := range infos {
				if r.excluded(filepath.Join(disk, info.Name())) {
					continue
				}
				l.add(pathutil.Join(dir, info.Name()), r)
			}
		}

		if !r.isBeneath(dir) {
			continue
		}
		if pathutil.Parent(r.location) == dir {
			if a.matches(r, r.location) {
				l.add(r.location, r)
			}
			continue
		}
		l.add(pathutil.NextComponent(dir, r.location), nil)
	}

	entries := make([]Entry, 0, len(l.order))
	for _, p := range l.order {
		entries = append(entries, Entry{archive: a, rule: l.owners[p], path: p})
	}
	return entries
}
