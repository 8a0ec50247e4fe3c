package vfs

import (
	"fmt"
	"path/filepath"
	"regexp"

	"github.com/rs/zerolog"

	"github.com/arthur-debert/loosevfs/pkg/loosevfs/pathutil"
)

// Kind tags the variant of a Rule.
type Kind int

const (
	// KindDirectory maps a whole archive subtree onto a disk directory.
	KindDirectory Kind = iota
	// KindFile maps one archive path onto one disk file.
	KindFile
	// KindArchive mounts a nested Archive at one archive path.
	KindArchive
)

func (k Kind) String() string {
	switch k {
	case KindDirectory:
		return "dir"
	case KindFile:
		return "file"
	case KindArchive:
		return "archive"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// RuleSpec is the parsed form of one configured mapping, as produced by a
// rule-list provider.
type RuleSpec struct {
	Kind Kind
	// Location is the archive path (the prefix, for directory rules).
	Location string
	// Disk is the physical directory or file. Unused for archive rules.
	Disk string
	// Excludes is an optional glob-like exclude string for directory rules.
	Excludes string
	// Archive is the nested archive mounted by an archive rule.
	Archive *Archive
}

// Directory returns the spec of a directory rule.
func Directory(location, disk, excludes string) RuleSpec {
	return RuleSpec{Kind: KindDirectory, Location: location, Disk: disk, Excludes: excludes}
}

// File returns the spec of a single-file rule.
func File(location, disk string) RuleSpec {
	return RuleSpec{Kind: KindFile, Location: location, Disk: disk}
}

// Nested returns the spec of an archive rule mounting child at location.
func Nested(location string, child *Archive) RuleSpec {
	return RuleSpec{Kind: KindArchive, Location: location, Archive: child}
}

// Rule is one mapping from an archive location to a physical source. Rules
// are immutable once built.
type Rule struct {
	index    int
	kind     Kind
	location string
	disk     string
	excludes string
	pattern  *regexp.Regexp
	child    *Archive
}

// newRule builds a rule from its spec. A malformed exclude string is logged
// and the rule excludes nothing.
func newRule(index int, spec RuleSpec, logger zerolog.Logger) (*Rule, error) {
	location, ok := pathutil.Clean(spec.Location)
	if !ok {
		return nil, &PathError{Op: OpRule, Path: spec.Location, Err: ErrInvalidPath}
	}

	r := &Rule{
		index:    index,
		kind:     spec.Kind,
		location: location,
	}

	switch spec.Kind {
	case KindDirectory, KindFile:
		if spec.Disk == "" {
			return nil, &PathError{Op: OpRule, Path: location, Err: fmt.Errorf("%w: %s rule without disk path", ErrInvalidRule, spec.Kind)}
		}
		disk, err := filepath.Abs(spec.Disk)
		if err != nil {
			return nil, &PathError{Op: OpRule, Path: location, Err: err}
		}
		r.disk = disk
	case KindArchive:
		if spec.Archive == nil {
			return nil, &PathError{Op: OpRule, Path: location, Err: fmt.Errorf("%w: archive rule without archive", ErrInvalidRule)}
		}
		r.child = spec.Archive
	default:
		return nil, &PathError{Op: OpRule, Path: location, Err: fmt.Errorf("%w: unknown kind %s", ErrInvalidRule, spec.Kind)}
	}

	if spec.Kind == KindDirectory && spec.Excludes != "" {
		r.excludes = spec.Excludes
		pattern, err := compileExclude(spec.Excludes)
		if err != nil {
			logger.Warn().
				Str("location", location).
				Str("excludes", spec.Excludes).
				Err(err).
				Msg("ignoring malformed exclude pattern")
		} else {
			r.pattern = pattern
		}
	}

	return r, nil
}

// Index returns the rule's position in its rule set; lower wins.
func (r *Rule) Index() int { return r.index }

// Kind returns the rule's variant.
func (r *Rule) Kind() Kind { return r.kind }

// Location returns the archive path the rule maps.
func (r *Rule) Location() string { return r.location }

// Disk returns the physical root of a directory or file rule.
func (r *Rule) Disk() string { return r.disk }

// Excludes returns the configured exclude string, if any.
func (r *Rule) Excludes() string { return r.excludes }

// Archive returns the nested archive of an archive rule.
func (r *Rule) Archive() *Archive { return r.child }

func (r *Rule) String() string {
	switch r.kind {
	case KindArchive:
		return fmt.Sprintf("#%d %s %s", r.index, r.kind, r.location)
	default:
		return fmt.Sprintf("#%d %s %s -> %s", r.index, r.kind, r.location, r.disk)
	}
}

// claim maps an archive path onto the rule's physical namespace without
// touching the disk. Archive rules claim their location with no disk path.
func (r *Rule) claim(p string) (disk string, ok bool) {
	switch r.kind {
	case KindDirectory:
		if !pathutil.Covers(r.location, p) {
			return "", false
		}
		rel := p
		if r.location != pathutil.Root {
			rel = p[len(r.location):]
		}
		return pathutil.ToDisk(r.disk, rel), true
	case KindFile:
		if p != r.location {
			return "", false
		}
		return r.disk, true
	case KindArchive:
		return "", p == r.location
	}
	return "", false
}

// isBeneath reports whether the rule's own location lies strictly below p.
func (r *Rule) isBeneath(p string) bool {
	return pathutil.IsBeneath(p, r.location)
}

// excluded reports whether a disk path under a directory rule is excluded.
func (r *Rule) excluded(disk string) bool {
	if r.pattern == nil {
		return false
	}
	rel, ok := pathutil.Rel(r.disk, disk)
	if !ok {
		return false
	}
	return excludedRel(r.pattern, rel)
}

// archivePathFor translates a physical path back into the archive path the
// rule would present it at.
func (r *Rule) archivePathFor(physical string) (string, bool) {
	switch r.kind {
	case KindDirectory:
		rel, ok := pathutil.Rel(r.disk, physical)
		if !ok {
			return "", false
		}
		if r.location == pathutil.Root {
			return rel, true
		}
		if rel == pathutil.Root {
			return r.location, true
		}
		return r.location + rel, true
	case KindFile:
		if filepath.Clean(physical) == r.disk {
			return r.location, true
		}
	}
	return "", false
}

// monitors reports whether a physical path falls inside what the rule
// contributes to the watch sets.
func (r *Rule) monitors(physical string) bool {
	_, ok := r.archivePathFor(physical)
	return ok
}
