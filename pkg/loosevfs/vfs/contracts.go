package vfs

import (
	"io/fs"
	"time"
)

// Changes is one batch of archive-relative notifications, already filtered
// to a listener's subscription. Each slice is sorted.
type Changes struct {
	Added    []string
	Removed  []string
	Modified []string
	// Filter is the transport-level token the watch service delivered the
	// underlying physical batch with.
	Filter string
}

// Empty reports whether the batch carries no paths.
func (c Changes) Empty() bool {
	return len(c.Added) == 0 && len(c.Removed) == 0 && len(c.Modified) == 0
}

// Listener receives notifications for the paths it registered for.
// Implementations must be comparable; registrations are keyed by listener
// identity. Notify runs on the goroutine delivering the batch. Calls from
// one notifier never overlap and arrive in reconciliation order; a listener
// may register or remove listeners but must not call Wait.
type Listener interface {
	Notify(changes Changes)
}

type funcListener struct {
	fn func(Changes)
}

func (l *funcListener) Notify(changes Changes) { l.fn(changes) }

// ListenerFunc wraps fn as a Listener. Each call returns a distinct
// listener, so keep the result to remove it later.
func ListenerFunc(fn func(Changes)) Listener {
	return &funcListener{fn: fn}
}

// WatchSpec is the physical path set one watch registration covers.
type WatchSpec struct {
	Dirs  []string
	Files []string
	// Recursive selects whole-subtree watching of Dirs. Non-recursive
	// registrations watch each directory and its immediate children.
	Recursive bool
	// Interval is the polling interval hint; zero requests push mode.
	Interval time.Duration
	// Filter is echoed back on every OnChange call for this registration.
	Filter string
}

// Empty reports whether the spec watches nothing.
func (s WatchSpec) Empty() bool {
	return len(s.Dirs) == 0 && len(s.Files) == 0
}

// ChangeSink receives raw physical change batches from a watch service.
type ChangeSink interface {
	OnChange(created, modified, deleted []string, filter string)
}

// WatchRegistration is a live registration with a watch service.
type WatchRegistration interface {
	// Update replaces the registration's path set and options in place.
	Update(spec WatchSpec) error
	// Close unregisters.
	Close() error
}

// WatchService is the OS-level file watching collaborator.
type WatchService interface {
	Watch(spec WatchSpec, sink ChangeSink) (WatchRegistration, error)
}

// ContainerFactory converts a physical file or directory behind an entry
// into a container, for example by opening it as a packaged archive. The
// cacheDir is private to the entry's location.
type ContainerFactory interface {
	Container(cacheDir string, parent *Dir, entry Entry, disk string) (fs.FS, bool)
}
