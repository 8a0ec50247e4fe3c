// Package vfs implements the loose-archive virtual filesystem: a read-only
// overlay that presents scattered disk directories, single files and nested
// archives as one logical archive tree, plus the notifier that turns
// physical file events into archive-relative notifications.
//
// Precedence is positional. When several rules can present the same archive
// path, the rule declared first owns it; lookup, listing and change
// reconciliation all apply that order.
package vfs

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/afero"

	"github.com/arthur-debert/loosevfs/pkg/loosevfs/pathutil"
)

// Archive is the root of one overlay. Its rule set is fixed at
// construction, so lookups and listings need no locking.
type Archive struct {
	rules     []*Rule
	fs        afero.Fs
	cacheDir  string
	source    string
	caseCheck bool
	factory   ContainerFactory
	logger    zerolog.Logger

	watcher  WatchService
	interval time.Duration

	// parent does not own this archive; the parent's archive rule does.
	parent *Archive
	mount  string

	notifierMu sync.Mutex
	notifier   atomic.Pointer[Notifier]
}

// New builds an archive over an ordered rule list. Order is precedence.
// Archives named by archive rules become nested children of the new
// archive; a child can be mounted only once.
func New(specs []RuleSpec, opts ...Option) (*Archive, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	a := &Archive{
		fs:        o.fs,
		cacheDir:  o.cacheDir,
		source:    o.source,
		caseCheck: o.caseCheck,
		factory:   o.factory,
		logger:    o.logger,
		watcher:   o.watcher,
		interval:  o.interval,
	}

	a.rules = make([]*Rule, 0, len(specs))
	mounted := make(map[*Archive]string)
	for i, spec := range specs {
		r, err := newRule(i, spec, a.logger)
		if err != nil {
			return nil, err
		}
		if r.kind == KindArchive {
			if r.child.parent != nil {
				return nil, &PathError{Op: OpNew, Path: r.location, Err: fmt.Errorf("%w: archive already mounted at %s", ErrInvalidRule, r.child.mount)}
			}
			if prev, dup := mounted[r.child]; dup {
				return nil, &PathError{Op: OpNew, Path: r.location, Err: fmt.Errorf("%w: archive already mounted at %s", ErrInvalidRule, prev)}
			}
			mounted[r.child] = r.location
		}
		a.rules = append(a.rules, r)
	}

	for _, r := range a.rules {
		if r.kind != KindArchive {
			continue
		}
		r.child.parent = a
		r.child.mount = r.location
		r.child.inherit(a)
	}

	a.logger.Debug().
		Int("rules", len(a.rules)).
		Str("source", a.source).
		Msg("built archive")

	return a, nil
}

// inherit fills in collaborators the child was built without.
func (a *Archive) inherit(parent *Archive) {
	if a.watcher == nil && parent.watcher != nil {
		a.watcher = parent.watcher
		a.interval = parent.interval
	}
	if a.cacheDir == "" && parent.cacheDir != "" {
		a.cacheDir = filepath.Join(parent.cacheDir, filepath.FromSlash(strings.TrimPrefix(a.mount, "/")))
	}
	if a.factory == nil {
		a.factory = parent.factory
	}
	for _, r := range a.rules {
		if r.kind == KindArchive {
			r.child.inherit(a)
		}
	}
}

// Rules returns a copy of the rule set in precedence order.
func (a *Archive) Rules() []*Rule {
	return append([]*Rule(nil), a.rules...)
}

// Source returns the configuration file the archive was built from.
func (a *Archive) Source() string { return a.source }

// CacheDir returns the archive's cache directory.
func (a *Archive) CacheDir() string { return a.cacheDir }

// Fs returns the filesystem rule disk paths resolve against.
func (a *Archive) Fs() afero.Fs { return a.fs }

// Parent returns the archive this one is mounted in and the mount path.
func (a *Archive) Parent() (*Archive, string, bool) {
	if a.parent == nil {
		return nil, "", false
	}
	return a.parent, a.mount, true
}

// Root returns the archive's root container.
func (a *Archive) Root() *Dir {
	return &Dir{archive: a, path: pathutil.Root}
}

// Entry looks up the entry at an archive path. The root is the container
// itself, not an entry, so it is never found.
func (a *Archive) Entry(p string) (Entry, bool) {
	clean, ok := pathutil.Clean(p)
	if !ok || pathutil.IsRoot(clean) {
		a.logger.Trace().Str("path", p).Msg("no entry for path")
		return Entry{}, false
	}
	return a.resolve(clean)
}

// Entries lists the children of an archive directory in first-discovery
// order.
func (a *Archive) Entries(p string) []Entry {
	clean, ok := pathutil.Clean(p)
	if !ok {
		return nil
	}
	return a.list(clean)
}

// PhysicalPath returns the disk path of the first rule presenting p.
func (a *Archive) PhysicalPath(p string) (string, bool) {
	clean, ok := pathutil.Clean(p)
	if !ok {
		return "", false
	}
	for _, r := range a.rules {
		if !a.matches(r, clean) {
			continue
		}
		if r.kind == KindArchive {
			return "", false
		}
		disk, _ := r.claim(clean)
		return disk, true
	}
	return "", false
}

// URLs returns file URLs for every rule presenting p, in rule order.
// Unlike PhysicalPath it is not limited to the winning rule.
func (a *Archive) URLs(p string) []string {
	clean, ok := pathutil.Clean(p)
	if !ok {
		return nil
	}
	var urls []string
	seen := make(map[string]bool)
	add := func(u string) {
		if !seen[u] {
			seen[u] = true
			urls = append(urls, u)
		}
	}
	for _, r := range a.rules {
		if !a.matches(r, clean) {
			continue
		}
		if r.kind == KindArchive {
			for _, u := range r.child.URLs(pathutil.Root) {
				add(u)
			}
			continue
		}
		disk, _ := r.claim(clean)
		add(a.fileURL(disk))
	}
	return urls
}

func (a *Archive) fileURL(disk string) string {
	p := filepath.ToSlash(disk)
	if info, err := a.fs.Stat(disk); err == nil && info.IsDir() && !strings.HasSuffix(p, "/") {
		p += "/"
	}
	return (&url.URL{Scheme: "file", Path: p}).String()
}

func (a *Archive) exists(disk string) bool {
	_, err := a.fs.Stat(disk)
	return err == nil
}

func (a *Archive) stat(disk string) (os.FileInfo, bool) {
	info, err := a.fs.Stat(disk)
	if err != nil {
		return nil, false
	}
	return info, true
}

// caseMatches walks from root down to disk and requires each component to
// appear with exactly that case in its parent's listing.
func (a *Archive) caseMatches(root, disk string) bool {
	rel, ok := pathutil.Rel(root, disk)
	if !ok {
		return false
	}
	if rel == pathutil.Root {
		return true
	}
	cur := root
	for _, name := range strings.Split(strings.TrimPrefix(rel, "/"), "/") {
		names, err := afero.ReadDir(a.fs, cur)
		if err != nil {
			return false
		}
		found := false
		for _, info := range names {
			if info.Name() == name {
				found = true
				break
			}
		}
		if !found {
			return false
		}
		cur = filepath.Join(cur, name)
	}
	return true
}
