package vfs

import (
	"io/fs"
	"sync"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"github.com/arthur-debert/loosevfs/pkg/loosevfs/testutil"
)

// writeFiles creates each file, with its own path as content.
func writeFiles(t *testing.T, fsys afero.Fs, paths ...string) {
	t.Helper()
	tree := make(testutil.Tree, len(paths))
	for _, p := range paths {
		tree[p] = p
	}
	testutil.WriteTree(t, fsys, "/", tree)
}

func mkdirs(t *testing.T, fsys afero.Fs, paths ...string) {
	t.Helper()
	for _, p := range paths {
		require.NoError(t, fsys.MkdirAll(p, 0o755))
	}
}

func newTestArchive(t *testing.T, fsys afero.Fs, specs []RuleSpec, opts ...Option) *Archive {
	t.Helper()
	base := []Option{WithFs(fsys), WithCaseCheck(false)}
	a, err := New(specs, append(base, opts...)...)
	require.NoError(t, err)
	return a
}

func entryPaths(entries []Entry) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Path())
	}
	return out
}

// fakeWatchService records registrations so tests can inspect the watch
// sets and drive OnChange by hand.
type fakeWatchService struct {
	mu   sync.Mutex
	regs []*fakeRegistration
}

type fakeRegistration struct {
	spec    WatchSpec
	sink    ChangeSink
	updates int
	closed  bool
}

func (s *fakeWatchService) Watch(spec WatchSpec, sink ChangeSink) (WatchRegistration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := &fakeRegistration{spec: spec, sink: sink}
	s.regs = append(s.regs, r)
	return r, nil
}

func (r *fakeRegistration) Update(spec WatchSpec) error {
	r.spec = spec
	r.updates++
	return nil
}

func (r *fakeRegistration) Close() error {
	r.closed = true
	return nil
}

// open returns the live registrations for sink.
func (s *fakeWatchService) open(sink ChangeSink) []*fakeRegistration {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*fakeRegistration
	for _, r := range s.regs {
		if !r.closed && r.sink == sink {
			out = append(out, r)
		}
	}
	return out
}

// recorder is a Listener that keeps every batch it receives.
type recorder struct {
	mu      sync.Mutex
	batches []Changes
}

func (r *recorder) Notify(c Changes) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batches = append(r.batches, c)
}

func (r *recorder) take() []Changes {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.batches
	r.batches = nil
	return out
}

// fakeFactory records container conversion requests.
type fakeFactory struct {
	cacheDir string
	parent   *Dir
	entry    Entry
	disk     string
	result   fs.FS
}

func (f *fakeFactory) Container(cacheDir string, parent *Dir, entry Entry, disk string) (fs.FS, bool) {
	f.cacheDir = cacheDir
	f.parent = parent
	f.entry = entry
	f.disk = disk
	return f.result, f.result != nil
}
