package vfs

import (
	"errors"
	"io"
	"io/fs"
	"sort"
	"strings"
	"time"

	"github.com/arthur-debert/loosevfs/pkg/loosevfs/pathutil"
)

// Dir is a container view of one archive directory. It also serves the
// archive through io/fs, with names relative to the directory.
type Dir struct {
	archive *Archive
	path    string
}

var (
	_ fs.FS        = (*Dir)(nil)
	_ fs.ReadDirFS = (*Dir)(nil)
	_ fs.StatFS    = (*Dir)(nil)
)

// Path returns the directory's archive path.
func (d *Dir) Path() string { return d.path }

// IsRoot reports whether the directory is its archive's root.
func (d *Dir) IsRoot() bool { return pathutil.IsRoot(d.path) }

// Archive returns the archive the directory belongs to.
func (d *Dir) Archive() *Archive { return d.archive }

// Entries lists the directory in first-discovery order.
func (d *Dir) Entries() []Entry { return d.archive.list(d.path) }

// Entry looks up a path relative to the directory.
func (d *Dir) Entry(name string) (Entry, bool) {
	return d.archive.Entry(pathutil.Join(d.path, name))
}

// FS returns the archive root as an io/fs filesystem.
func (a *Archive) FS() fs.FS { return a.Root() }

// locate descends through mounted archives until p is owned by a single
// archive, returning it and the path inside it.
func locate(a *Archive, p string) (*Archive, string) {
	for {
		var next *Archive
		for _, r := range a.rules {
			if r.kind != KindArchive || pathutil.IsRoot(r.location) || !pathutil.IsBeneath(r.location, p) {
				continue
			}
			if e, ok := a.resolve(r.location); ok && e.rule == r {
				next = r.child
				p = p[len(r.location):]
				break
			}
		}
		if next == nil {
			return a, p
		}
		a = next
	}
}

// Find looks up an archive path, descending into mounted archives. The
// returned entry belongs to the innermost archive presenting the path; a
// mount point itself is found as the mounting archive's entry.
func (a *Archive) Find(p string) (Entry, bool) {
	clean, ok := pathutil.Clean(p)
	if !ok || pathutil.IsRoot(clean) {
		return Entry{}, false
	}
	owner, inner := locate(a, clean)
	return owner.resolve(inner)
}

// target is a resolved io/fs name: the entry describing it, and where its
// children are listed from.
type target struct {
	entry   Entry
	archive *Archive
	path    string
}

func (d *Dir) lookup(op, name string) (target, error) {
	if !fs.ValidPath(name) {
		return target{}, &fs.PathError{Op: op, Path: name, Err: fs.ErrInvalid}
	}
	p := d.path
	if name != "." {
		p = pathutil.Join(d.path, name)
	}
	a, inner := locate(d.archive, p)
	if pathutil.IsRoot(inner) {
		return target{entry: Entry{archive: a, path: inner}, archive: a, path: inner}, nil
	}
	e, ok := a.resolve(inner)
	if !ok {
		return target{}, &fs.PathError{Op: op, Path: name, Err: fs.ErrNotExist}
	}
	if e.rule != nil && e.rule.kind == KindArchive {
		return target{entry: e, archive: e.rule.child, path: pathutil.Root}, nil
	}
	return target{entry: e, archive: a, path: inner}, nil
}

// Open implements fs.FS.
func (d *Dir) Open(name string) (fs.File, error) {
	t, err := d.lookup("open", name)
	if err != nil {
		return nil, err
	}
	if (entryInfo{t.entry}).IsDir() {
		return &dirFile{target: t}, nil
	}
	rc, ok := t.entry.Open()
	if !ok {
		return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrNotExist}
	}
	return &regularFile{ReadCloser: rc, entry: t.entry}, nil
}

// Stat implements fs.StatFS.
func (d *Dir) Stat(name string) (fs.FileInfo, error) {
	t, err := d.lookup("stat", name)
	if err != nil {
		return nil, err
	}
	return entryInfo{t.entry}, nil
}

// ReadDir implements fs.ReadDirFS. Entries are sorted by name.
func (d *Dir) ReadDir(name string) ([]fs.DirEntry, error) {
	t, err := d.lookup("readdir", name)
	if err != nil {
		return nil, err
	}
	if !(entryInfo{t.entry}).IsDir() {
		return nil, &fs.PathError{Op: "readdir", Path: name, Err: errors.New("not a directory")}
	}
	return readDir(t.archive, t.path), nil
}

func readDir(a *Archive, p string) []fs.DirEntry {
	entries := a.list(p)
	out := make([]fs.DirEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, entryInfo{e})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// entryInfo presents an Entry as both fs.FileInfo and fs.DirEntry.
type entryInfo struct {
	e Entry
}

func (i entryInfo) Name() string {
	if pathutil.IsRoot(i.e.path) {
		return "."
	}
	return i.e.Name()
}

func (i entryInfo) Size() int64 {
	if i.e.path == pathutil.Root {
		return 0
	}
	return i.e.Size()
}

func (i entryInfo) Mode() fs.FileMode {
	if i.IsDir() {
		return fs.ModeDir | 0o555
	}
	return 0o444
}

func (i entryInfo) ModTime() time.Time {
	if i.e.path == pathutil.Root {
		return time.Time{}
	}
	return i.e.ModTime()
}

func (i entryInfo) IsDir() bool {
	return pathutil.IsRoot(i.e.path) || i.e.IsDir()
}

func (i entryInfo) Sys() any { return i.e.rule }

func (i entryInfo) Type() fs.FileMode { return i.Mode().Type() }

func (i entryInfo) Info() (fs.FileInfo, error) { return i, nil }

type regularFile struct {
	io.ReadCloser
	entry Entry
}

func (f *regularFile) Stat() (fs.FileInfo, error) { return entryInfo{f.entry}, nil }

type dirFile struct {
	target  target
	pending []fs.DirEntry
	loaded  bool
}

func (f *dirFile) Stat() (fs.FileInfo, error) { return entryInfo{f.target.entry}, nil }

func (f *dirFile) Read([]byte) (int, error) {
	return 0, &fs.PathError{Op: "read", Path: strings.TrimPrefix(f.target.entry.path, "/"), Err: errors.New("is a directory")}
}

func (f *dirFile) Close() error { return nil }

// ReadDir implements fs.ReadDirFile.
func (f *dirFile) ReadDir(n int) ([]fs.DirEntry, error) {
	if !f.loaded {
		f.pending = readDir(f.target.archive, f.target.path)
		f.loaded = true
	}
	if n <= 0 {
		out := f.pending
		f.pending = nil
		return out, nil
	}
	if len(f.pending) == 0 {
		return nil, io.EOF
	}
	if n > len(f.pending) {
		n = len(f.pending)
	}
	out := f.pending[:n]
	f.pending = f.pending[n:]
	return out, nil
}
