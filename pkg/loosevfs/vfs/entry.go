package vfs

import (
	"io"
	"io/fs"
	"path/filepath"
	"strings"
	"time"

	"github.com/arthur-debert/loosevfs/pkg/loosevfs/pathutil"
)

// Entry is a view of one resolved archive path. Entries are built on every
// lookup and carry no state of their own.
type Entry struct {
	archive *Archive
	rule    *Rule
	path    string
}

// Path returns the entry's archive path.
func (e Entry) Path() string { return e.path }

// Name returns the last component of the entry's path.
func (e Entry) Name() string { return pathutil.Name(e.path) }

// Archive returns the archive the entry was resolved in.
func (e Entry) Archive() *Archive { return e.archive }

// Rule returns the owning rule, or nil for a pass-through entry.
func (e Entry) Rule() *Rule { return e.rule }

// IsPassThrough reports whether the entry exists only because some rule's
// location lies below it.
func (e Entry) IsPassThrough() bool { return e.rule == nil }

func (e Entry) disk() (string, bool) {
	if e.rule == nil || e.rule.kind == KindArchive {
		return "", false
	}
	return e.rule.claim(e.path)
}

// IsDir reports whether the entry behaves as a directory.
func (e Entry) IsDir() bool {
	if e.rule == nil || e.rule.kind == KindArchive {
		return true
	}
	disk, _ := e.disk()
	info, ok := e.archive.stat(disk)
	return ok && info.IsDir()
}

// Size returns the size of the backing file, or 0 when there is none.
func (e Entry) Size() int64 {
	disk, ok := e.disk()
	if !ok {
		return 0
	}
	info, ok := e.archive.stat(disk)
	if !ok {
		e.archive.logger.Debug().Str("path", e.path).Str("disk", disk).Msg("backing file missing")
		return 0
	}
	if info.IsDir() {
		return 0
	}
	return info.Size()
}

// ModTime returns the backing file's modification time, or the zero time.
func (e Entry) ModTime() time.Time {
	disk, ok := e.disk()
	if !ok {
		return time.Time{}
	}
	info, ok := e.archive.stat(disk)
	if !ok {
		e.archive.logger.Debug().Str("path", e.path).Str("disk", disk).Msg("backing file missing")
		return time.Time{}
	}
	return info.ModTime()
}

// Open opens the backing file for reading. It reports false for
// directories and for files that are missing or unreadable.
func (e Entry) Open() (io.ReadCloser, bool) {
	disk, ok := e.disk()
	if !ok {
		return nil, false
	}
	f, err := e.archive.fs.Open(disk)
	if err != nil {
		e.archive.logger.Debug().Str("path", e.path).Str("disk", disk).Err(err).Msg("cannot open backing file")
		return nil, false
	}
	info, err := f.Stat()
	if err != nil || info.IsDir() {
		f.Close()
		return nil, false
	}
	return f, true
}

// PhysicalPath returns the disk path behind the entry.
func (e Entry) PhysicalPath() (string, bool) {
	return e.disk()
}

// URLs returns file URLs for every rule presenting the entry's path.
func (e Entry) URLs() []string {
	return e.archive.URLs(e.path)
}

// Container converts the entry into a container. Archive rules yield the
// nested archive's root. With localOnly, directory and file entries yield a
// container only when they are real disk directories; otherwise the
// archive's ContainerFactory is asked, with a cache directory private to
// the entry's location.
func (e Entry) Container(localOnly bool) (fs.FS, bool) {
	if e.rule == nil {
		return &Dir{archive: e.archive, path: e.path}, true
	}
	if e.rule.kind == KindArchive {
		return e.rule.child.Root(), true
	}

	disk, _ := e.disk()
	isDir := false
	if info, ok := e.archive.stat(disk); ok {
		isDir = info.IsDir()
	}

	if localOnly || e.archive.factory == nil {
		if isDir {
			return &Dir{archive: e.archive, path: e.path}, true
		}
		return nil, false
	}

	parent := &Dir{archive: e.archive, path: pathutil.Parent(e.path)}
	return e.archive.factory.Container(e.cacheDir(), parent, e, disk)
}

// cacheDir locates the entry's container under the archive cache directory.
func (e Entry) cacheDir() string {
	rel := strings.TrimPrefix(pathutil.Parent(e.path), "/")
	return filepath.Join(e.archive.cacheDir, filepath.FromSlash(rel))
}
