package vfs

import (
	"errors"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/arthur-debert/loosevfs/pkg/loosevfs/pathutil"
)

// registration is one listener and the subscription paths it asked for.
type registration struct {
	listener Listener
	paths    []string
}

// cascade keeps a nested archive's notifier watching while the parent
// monitors the mount point.
type cascade struct {
	child    *Notifier
	listener Listener
}

// passThrough is registered on a nested archive's notifier so that its
// physical paths are watched. Changes reach the parent through the
// notifier's parent link, not through this listener.
type passThrough struct {
	mount  string
	logger zerolog.Logger
}

func (p *passThrough) Notify(changes Changes) {
	p.logger.Trace().
		Str("mount", p.mount).
		Int("added", len(changes.Added)).
		Int("removed", len(changes.Removed)).
		Int("modified", len(changes.Modified)).
		Msg("nested archive batch")
}

// Notifier translates physical change batches for one archive into
// archive-relative notifications. All mutating entry points serialize on
// mu. Deliveries serialize on deliverMu, so listeners of one notifier see
// batches one at a time, in the order they were reconciled. Listeners are
// called with mu released and may register or remove listeners.
type Notifier struct {
	// deliverMu is taken before mu, and a child's before its parent's.
	deliverMu sync.Mutex
	mu        sync.Mutex
	archive *Archive
	parent  *Notifier
	logger  zerolog.Logger

	registrations []registration
	monitored     []string
	cascades      map[*Rule]*cascade

	// Watched physical paths. Non-recursive directories carry the "!" marker.
	filesWatched map[string]bool
	dirsWatched  map[string]bool
	interval     time.Duration

	recursive WatchRegistration
	flat      WatchRegistration
}

var _ ChangeSink = (*Notifier)(nil)

// Notifier returns the archive's notifier, creating it on first use.
// Nested archives' notifiers are linked to their parent's.
func (a *Archive) Notifier() *Notifier {
	if n := a.notifier.Load(); n != nil {
		return n
	}
	a.notifierMu.Lock()
	defer a.notifierMu.Unlock()
	if n := a.notifier.Load(); n != nil {
		return n
	}
	var parent *Notifier
	if a.parent != nil {
		parent = a.parent.Notifier()
	}
	n := &Notifier{
		archive:      a,
		parent:       parent,
		logger:       a.logger.With().Str("component", "notifier").Str("mount", a.mountPath()).Logger(),
		cascades:     make(map[*Rule]*cascade),
		filesWatched: make(map[string]bool),
		dirsWatched:  make(map[string]bool),
		interval:     a.interval,
	}
	a.notifier.Store(n)
	return n
}

func (a *Archive) mountPath() string {
	if a.parent == nil {
		return pathutil.Root
	}
	return a.mount
}

// Register subscribes listener to changes under paths. Paths are archive
// paths; a leading "!" limits a path to itself and its immediate children.
// The container must belong to the notifier's archive. Registering a
// listener again adds to its paths.
func (n *Notifier) Register(container *Dir, paths []string, listener Listener) error {
	if container == nil || container.archive != n.archive {
		return &PathError{Op: OpRegister, Err: fmt.Errorf("%w: container belongs to another archive", ErrInvalidRegistration)}
	}
	if listener == nil {
		return &PathError{Op: OpRegister, Err: fmt.Errorf("%w: nil listener", ErrInvalidRegistration)}
	}
	clean := make([]string, 0, len(paths))
	for _, sub := range paths {
		fixed, recursive := pathutil.ParseSubscription(sub)
		p, ok := pathutil.Clean(fixed)
		if !ok {
			return &PathError{Op: OpRegister, Path: sub, Err: fmt.Errorf("%w: %w", ErrInvalidRegistration, ErrInvalidPath)}
		}
		if !recursive {
			p = pathutil.NonRecursiveMarker + p
		}
		clean = append(clean, p)
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	merged := false
	for i := range n.registrations {
		if n.registrations[i].listener != listener {
			continue
		}
		for _, p := range clean {
			if !slices.Contains(n.registrations[i].paths, p) {
				n.registrations[i].paths = append(n.registrations[i].paths, p)
			}
		}
		merged = true
		break
	}
	if !merged {
		n.registrations = append(n.registrations, registration{listener: listener, paths: clean})
	}

	n.logger.Debug().
		Strs("paths", clean).
		Int("listeners", len(n.registrations)).
		Msg("registered listener")

	n.refreshLocked()
	return nil
}

// RemoveListener drops every registration of listener and reports whether
// there was one. No call to listener starts after it returns; use Wait to
// let a call already in progress finish.
func (n *Notifier) RemoveListener(listener Listener) bool {
	n.mu.Lock()
	defer n.mu.Unlock()

	kept := n.registrations[:0]
	removed := false
	for _, reg := range n.registrations {
		if reg.listener == listener {
			removed = true
			continue
		}
		kept = append(kept, reg)
	}
	for i := len(kept); i < len(n.registrations); i++ {
		n.registrations[i] = registration{}
	}
	n.registrations = kept

	if removed {
		n.logger.Debug().Int("listeners", len(n.registrations)).Msg("removed listener")
		n.refreshLocked()
	}
	return removed
}

// SetNotificationOptions changes the interval hint of this notifier and of
// the nested notifiers it cascades to. Zero selects push mode.
func (n *Notifier) SetNotificationOptions(interval time.Duration) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.interval == interval {
		return
	}
	n.interval = interval
	for _, c := range n.cascades {
		c.child.SetNotificationOptions(interval)
	}
	n.applyLocked(&n.recursive, n.specLocked(true))
	n.applyLocked(&n.flat, n.specLocked(false))
}

// Close drops all listeners and releases the watch registrations.
func (n *Notifier) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.registrations = nil
	n.refreshLocked()

	var errs []error
	for _, reg := range []*WatchRegistration{&n.recursive, &n.flat} {
		if *reg != nil {
			errs = append(errs, (*reg).Close())
			*reg = nil
		}
	}
	return errors.Join(errs...)
}

// Wait blocks until the delivery in progress, if any, has returned. It must
// not be called from a listener.
func (n *Notifier) Wait() {
	n.deliverMu.Lock()
	defer n.deliverMu.Unlock()
}

// Monitored returns the union of all subscribed paths.
func (n *Notifier) Monitored() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.monitored...)
}

// Watched returns the physical files and directories currently watched.
// Non-recursive directories carry the "!" marker.
func (n *Notifier) Watched() (files, dirs []string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return sortedKeys(n.filesWatched), sortedKeys(n.dirsWatched)
}

// refreshLocked recomputes the monitored set, nested cascades and the
// physical watch sets after a registration change.
func (n *Notifier) refreshLocked() {
	n.monitored = n.monitored[:0]
	for _, reg := range n.registrations {
		for _, p := range reg.paths {
			if !slices.Contains(n.monitored, p) {
				n.monitored = append(n.monitored, p)
			}
		}
	}
	n.updateCascadesLocked()
	n.updateWatchesLocked()
}

// covers reports whether the monitored set reaches a nested mount point.
func (n *Notifier) covers(mount string) bool {
	for _, sub := range n.monitored {
		fixed, recursive := pathutil.ParseSubscription(sub)
		switch {
		case pathutil.IsRoot(fixed):
			return true
		case !recursive && fixed == mount:
			return true
		case recursive && pathutil.Covers(fixed, mount):
			return true
		}
	}
	return false
}

func (n *Notifier) updateCascadesLocked() {
	for _, r := range n.archive.rules {
		if r.kind != KindArchive {
			continue
		}
		c, active := n.cascades[r]
		switch covered := n.covers(r.location); {
		case covered && !active:
			child := r.child.Notifier()
			l := &passThrough{mount: r.location, logger: n.logger}
			if err := child.Register(r.child.Root(), []string{pathutil.Root}, l); err != nil {
				n.logger.Error().Err(err).Str("mount", r.location).Msg("cannot cascade to nested archive")
				continue
			}
			n.cascades[r] = &cascade{child: child, listener: l}
			n.logger.Debug().Str("mount", r.location).Msg("cascading to nested archive")
		case !covered && active:
			c.child.RemoveListener(c.listener)
			delete(n.cascades, r)
			n.logger.Debug().Str("mount", r.location).Msg("stopped cascading to nested archive")
		}
	}
}

func (n *Notifier) updateWatchesLocked() {
	files := make(map[string]bool)
	dirs := make(map[string]bool)
	a := n.archive

	for _, sub := range n.monitored {
		fixed, recursive := pathutil.ParseSubscription(sub)
		for _, r := range a.rules {
			n.contribute(r, fixed, recursive, files, dirs)
		}
		if a.parent == nil && a.source != "" && pathutil.IsRoot(fixed) {
			files[a.source] = true
		}
	}

	if equalSets(files, n.filesWatched) && equalSets(dirs, n.dirsWatched) {
		return
	}
	n.filesWatched = files
	n.dirsWatched = dirs

	n.logger.Debug().
		Strs("files", sortedKeys(files)).
		Strs("dirs", sortedKeys(dirs)).
		Msg("watch set changed")

	n.applyLocked(&n.recursive, n.specLocked(true))
	n.applyLocked(&n.flat, n.specLocked(false))
}

// contribute adds the physical paths rule r needs watched so that changes
// at or below the subscription path fixed are seen.
func (n *Notifier) contribute(r *Rule, fixed string, recursive bool, files, dirs map[string]bool) {
	addDir := func(disk string, rec bool) {
		if rec {
			dirs[disk] = true
		} else {
			dirs[pathutil.NonRecursiveMarker+disk] = true
		}
	}

	switch r.kind {
	case KindDirectory:
		if disk, ok := r.claim(fixed); ok {
			if info, err := n.archive.fs.Stat(disk); err == nil && !info.IsDir() {
				files[disk] = true
				return
			}
			addDir(disk, recursive)
			return
		}
		if !r.isBeneath(fixed) {
			return
		}
		if recursive {
			addDir(r.disk, true)
		} else if pathutil.Parent(r.location) == fixed {
			addDir(r.disk, false)
		}
	case KindFile:
		if r.location == fixed ||
			(r.isBeneath(fixed) && (recursive || pathutil.Parent(r.location) == fixed)) {
			files[r.disk] = true
		}
	}
}

func (n *Notifier) specLocked(recursive bool) WatchSpec {
	spec := WatchSpec{Recursive: recursive, Interval: n.interval}
	for _, d := range sortedKeys(n.dirsWatched) {
		fixed, rec := pathutil.ParseSubscription(d)
		if rec == recursive {
			spec.Dirs = append(spec.Dirs, fixed)
		}
	}
	if recursive {
		spec.Files = sortedKeys(n.filesWatched)
	}
	return spec
}

// applyLocked brings one watch registration in line with spec.
func (n *Notifier) applyLocked(reg *WatchRegistration, spec WatchSpec) {
	switch {
	case spec.Empty():
		if *reg != nil {
			if err := (*reg).Close(); err != nil {
				n.logger.Warn().Err(err).Bool("recursive", spec.Recursive).Msg("cannot close watch registration")
			}
			*reg = nil
		}
	case *reg != nil:
		if err := (*reg).Update(spec); err != nil {
			n.logger.Warn().Err(err).Bool("recursive", spec.Recursive).Msg("cannot update watch registration")
		}
	case n.archive.watcher == nil:
		n.logger.Debug().Msg("no watch service configured")
	default:
		w, err := n.archive.watcher.Watch(spec, n)
		if err != nil {
			n.logger.Error().Err(err).Bool("recursive", spec.Recursive).Msg("cannot register watch")
			return
		}
		*reg = w
	}
}

// OnChange reconciles one physical change batch and notifies listeners.
// Batches are delivered one at a time even when the watch service calls
// from several goroutines.
func (n *Notifier) OnChange(created, modified, deleted []string, filter string) {
	n.deliverMu.Lock()
	defer n.deliverMu.Unlock()

	n.mu.Lock()
	result := n.reconcileLocked(created, modified, deleted)
	n.mu.Unlock()

	if result.empty() {
		return
	}
	if n.parent != nil {
		n.parent.childModified(n.archive.mount, filter)
	}
	n.dispatch(result, filter)
}

// childModified reports a nested archive's churn as a single modification
// of its mount point.
func (n *Notifier) childModified(mount, filter string) {
	n.deliverMu.Lock()
	defer n.deliverMu.Unlock()

	n.logger.Debug().Str("path", mount).Msg("nested archive changed")

	if n.parent != nil {
		n.parent.childModified(n.archive.mount, filter)
	}
	result := newChangeSet()
	result.modified[mount] = true
	n.dispatch(result, filter)
}

// dispatch calls the listeners registered when the batch starts, in
// registration order. Each one is looked up again right before its call, so
// a listener removed meanwhile is skipped and current paths apply.
func (n *Notifier) dispatch(result changeSet, filter string) {
	n.mu.Lock()
	listeners := make([]Listener, len(n.registrations))
	for i, reg := range n.registrations {
		listeners[i] = reg.listener
	}
	n.mu.Unlock()

	for _, l := range listeners {
		paths, ok := n.pathsOf(l)
		if !ok {
			continue
		}
		changes := Changes{
			Added:    filterPaths(result.added, paths),
			Removed:  filterPaths(result.removed, paths),
			Modified: filterPaths(result.modified, paths),
			Filter:   filter,
		}
		if !changes.Empty() {
			l.Notify(changes)
		}
	}
}

func (n *Notifier) pathsOf(l Listener) ([]string, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, reg := range n.registrations {
		if reg.listener == l {
			return append([]string(nil), reg.paths...), true
		}
	}
	return nil, false
}

// filterPaths returns the sorted members of set inside any subscription.
func filterPaths(set map[string]bool, subs []string) []string {
	var out []string
	for p := range set {
		for _, sub := range subs {
			if pathutil.MatchesSubscription(sub, p) {
				out = append(out, p)
				break
			}
		}
	}
	sort.Strings(out)
	return out
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func equalSets(a, b map[string]bool) bool {
	if len(a) != len(b) {
		return false
	}
	for k := range a {
		if !b[k] {
			return false
		}
	}
	return true
}
