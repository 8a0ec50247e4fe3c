package watch

import (
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/arthur-debert/loosevfs/pkg/loosevfs/vfs"
)

// Registration is one watched spec. Update and Close never wait for the
// registration's goroutine, so both may be called from inside the sink.
type Registration struct {
	svc    *Service
	sink   vfs.ChangeSink
	logger zerolog.Logger

	mu       sync.Mutex
	spec     vfs.WatchSpec
	closed   bool
	snapshot map[string]state
	fsw      *fsnotify.Watcher
	watching map[string]bool
	pending  batch

	reset    chan struct{}
	stop     chan struct{}
	stopOnce sync.Once
}

var _ vfs.WatchRegistration = (*Registration)(nil)

// Spec returns the spec currently watched.
func (r *Registration) Spec() vfs.WatchSpec {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.spec
}

// Pushing reports whether the registration follows fsnotify events rather
// than polling.
func (r *Registration) Pushing() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.fsw != nil
}

// Update replaces the watched spec. Polling restarts from a fresh scan, so
// changes made before the update are not reported.
func (r *Registration) Update(spec vfs.WatchSpec) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrClosed
	}
	return r.configureLocked(spec)
}

// Close stops the registration.
func (r *Registration) Close() error {
	var err error
	r.stopOnce.Do(func() {
		close(r.stop)
		r.mu.Lock()
		r.closed = true
		if r.fsw != nil {
			err = r.fsw.Close()
			r.fsw = nil
		}
		r.mu.Unlock()
		r.svc.forget(r)
		r.logger.Debug().Msg("watch registration closed")
	})
	return err
}

func (r *Registration) push() bool {
	return r.spec.Interval == 0 && r.svc.native()
}

func (r *Registration) pollInterval() time.Duration {
	if r.spec.Interval > 0 {
		return r.spec.Interval
	}
	return r.svc.fallback
}

func (r *Registration) configureLocked(spec vfs.WatchSpec) error {
	r.spec = normalize(spec)
	if r.fsw != nil {
		if err := r.fsw.Close(); err != nil {
			r.logger.Warn().Err(err).Msg("cannot close fsnotify watcher")
		}
		r.fsw = nil
	}
	r.pending = newBatch()

	if r.push() {
		w, err := fsnotify.NewWatcher()
		if err != nil {
			return err
		}
		r.fsw = w
		r.watching = make(map[string]bool)
		r.snapshot = nil
		r.addWatchesLocked()
	} else {
		r.snapshot = scan(r.svc.fs, r.spec)
	}

	r.logger.Debug().
		Strs("dirs", r.spec.Dirs).
		Strs("files", r.spec.Files).
		Bool("recursive", r.spec.Recursive).
		Bool("push", r.fsw != nil).
		Dur("interval", r.pollInterval()).
		Msg("watching")

	select {
	case r.reset <- struct{}{}:
	default:
	}
	return nil
}

// loop owns the ticker and the coalescing timer.
func (r *Registration) loop() {
	defer r.svc.wg.Done()

	var (
		ticker *time.Ticker
		tick   <-chan time.Time
		events <-chan fsnotify.Event
		errs   <-chan error
		timer  *time.Timer
		flush  <-chan time.Time
	)
	defer func() {
		if ticker != nil {
			ticker.Stop()
		}
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-r.stop:
			return

		case <-r.reset:
			if ticker != nil {
				ticker.Stop()
				ticker, tick = nil, nil
			}
			r.mu.Lock()
			events, errs = nil, nil
			if r.fsw != nil {
				events, errs = r.fsw.Events, r.fsw.Errors
			} else {
				ticker = time.NewTicker(r.pollInterval())
				tick = ticker.C
			}
			r.mu.Unlock()

		case <-tick:
			r.poll()

		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if r.record(ev) && flush == nil {
				timer = time.NewTimer(r.svc.window)
				flush = timer.C
			}

		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			r.logger.Warn().Err(err).Msg("fsnotify error")

		case <-flush:
			flush = nil
			r.flush()
		}
	}
}

// poll rescans the spec and reports the difference from the last scan.
func (r *Registration) poll() {
	r.mu.Lock()
	if r.closed || r.fsw != nil {
		r.mu.Unlock()
		return
	}
	next := scan(r.svc.fs, r.spec)
	created, modified, deleted := diff(r.snapshot, next)
	r.snapshot = next
	filter := r.spec.Filter
	r.mu.Unlock()

	r.deliver(created, modified, deleted, filter)
}

func (r *Registration) deliver(created, modified, deleted []string, filter string) {
	if len(created) == 0 && len(modified) == 0 && len(deleted) == 0 {
		return
	}
	r.logger.Debug().
		Strs("created", created).
		Strs("modified", modified).
		Strs("deleted", deleted).
		Msg("physical changes")
	r.sink.OnChange(created, modified, deleted, filter)
}

// addWatchesLocked registers every directory push mode needs. fsnotify
// watches one directory level, so recursive specs add each subdirectory,
// files are watched through their parent, and a missing directory is
// watched through its parent until it appears.
func (r *Registration) addWatchesLocked() {
	for _, d := range r.spec.Dirs {
		info, err := r.svc.fs.Stat(d)
		switch {
		case err != nil:
			r.addDirLocked(filepath.Dir(d))
		case !info.IsDir():
			r.addDirLocked(filepath.Dir(d))
		case r.spec.Recursive:
			r.addTreeLocked(d)
		default:
			r.addDirLocked(d)
		}
	}
	for _, f := range r.spec.Files {
		r.addDirLocked(filepath.Dir(f))
	}
}

func (r *Registration) addDirLocked(dir string) {
	if r.watching[dir] {
		return
	}
	if err := r.fsw.Add(dir); err != nil {
		r.logger.Debug().Err(err).Str("dir", dir).Msg("cannot watch directory")
		return
	}
	r.watching[dir] = true
}

// addTreeLocked watches root and every directory below it, returning the
// paths found below root.
func (r *Registration) addTreeLocked(root string) []string {
	var found []string
	for p, st := range scan(r.svc.fs, vfs.WatchSpec{Dirs: []string{root}, Recursive: true}) {
		if p != root {
			found = append(found, p)
		}
		if st.dir {
			r.addDirLocked(p)
		}
	}
	sort.Strings(found)
	return found
}

// record adds one fsnotify event to the pending batch and reports whether
// it was in scope.
func (r *Registration) record(ev fsnotify.Event) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fsw == nil {
		return false
	}
	p := filepath.Clean(ev.Name)
	if !inScope(r.spec, p) {
		return false
	}

	switch {
	case ev.Has(fsnotify.Create):
		r.pending.created[p] = true
		info, err := r.svc.fs.Stat(p)
		if err != nil || !info.IsDir() {
			break
		}
		if r.spec.Recursive {
			for _, c := range r.addTreeLocked(p) {
				r.pending.created[c] = true
			}
		} else if isConfigured(r.spec.Dirs, p) {
			r.addDirLocked(p)
		}
	case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
		r.pending.deleted[p] = true
		delete(r.watching, p)
	case ev.Has(fsnotify.Write), ev.Has(fsnotify.Chmod):
		if info, err := r.svc.fs.Stat(p); err == nil && info.IsDir() {
			return false
		}
		r.pending.modified[p] = true
	default:
		return false
	}
	return true
}

func isConfigured(dirs []string, p string) bool {
	for _, d := range dirs {
		if d == p {
			return true
		}
	}
	return false
}

func (r *Registration) flush() {
	r.mu.Lock()
	b := r.pending
	r.pending = newBatch()
	filter := r.spec.Filter
	r.mu.Unlock()

	created, modified, deleted := b.resolve(func(p string) bool {
		_, err := r.svc.fs.Stat(p)
		return err == nil
	})
	r.deliver(created, modified, deleted, filter)
}

// batch collects push-mode events until the window closes.
type batch struct {
	created  map[string]bool
	modified map[string]bool
	deleted  map[string]bool
}

func newBatch() batch {
	return batch{
		created:  make(map[string]bool),
		modified: make(map[string]bool),
		deleted:  make(map[string]bool),
	}
}

// resolve settles paths that saw several events inside one window by
// checking whether they exist now.
func (b batch) resolve(exists func(string) bool) (created, modified, deleted []string) {
	seen := make(map[string]bool)
	for _, set := range []map[string]bool{b.created, b.deleted} {
		for p := range set {
			if seen[p] {
				continue
			}
			seen[p] = true
			now := exists(p)
			switch {
			case b.created[p] && now:
				created = append(created, p)
			case b.deleted[p] && !now:
				if !b.created[p] {
					deleted = append(deleted, p)
				}
			case b.deleted[p] && now:
				modified = append(modified, p)
			}
		}
	}
	for p := range b.modified {
		if !seen[p] && exists(p) {
			modified = append(modified, p)
		}
	}
	sort.Strings(created)
	sort.Strings(modified)
	sort.Strings(deleted)
	return created, modified, deleted
}
