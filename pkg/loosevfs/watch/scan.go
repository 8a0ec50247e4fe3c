package watch

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/afero"

	"github.com/arthur-debert/loosevfs/pkg/loosevfs/vfs"
)

// state is what polling compares between two scans.
type state struct {
	size int64
	mod  time.Time
	dir  bool
}

func stateOf(info os.FileInfo) state {
	return state{size: info.Size(), mod: info.ModTime(), dir: info.IsDir()}
}

// normalize cleans every path in spec.
func normalize(spec vfs.WatchSpec) vfs.WatchSpec {
	clean := func(in []string) []string {
		out := make([]string, 0, len(in))
		for _, p := range in {
			out = append(out, filepath.Clean(p))
		}
		return out
	}
	spec.Dirs = clean(spec.Dirs)
	spec.Files = clean(spec.Files)
	return spec
}

// scan records every path spec covers that currently exists. Directories
// are included along with their contents.
func scan(fsys afero.Fs, spec vfs.WatchSpec) map[string]state {
	out := make(map[string]state)
	for _, f := range spec.Files {
		if info, err := fsys.Stat(f); err == nil {
			out[f] = stateOf(info)
		}
	}
	for _, d := range spec.Dirs {
		info, err := fsys.Stat(d)
		if err != nil {
			continue
		}
		out[d] = stateOf(info)
		if !info.IsDir() {
			continue
		}
		if spec.Recursive {
			_ = afero.Walk(fsys, d, func(p string, info os.FileInfo, err error) error {
				if err != nil || info == nil {
					return nil
				}
				out[p] = stateOf(info)
				return nil
			})
			continue
		}
		infos, _ := afero.ReadDir(fsys, d)
		for _, i := range infos {
			out[filepath.Join(d, i.Name())] = stateOf(i)
		}
	}
	return out
}

// diff compares two scans. Directory timestamps are not compared: a
// directory changes only by appearing or disappearing.
func diff(before, after map[string]state) (created, modified, deleted []string) {
	for p, now := range after {
		was, ok := before[p]
		switch {
		case !ok:
			created = append(created, p)
		case now.dir || was.dir:
			if now.dir != was.dir {
				modified = append(modified, p)
			}
		case now.size != was.size || !now.mod.Equal(was.mod):
			modified = append(modified, p)
		}
	}
	for p := range before {
		if _, ok := after[p]; !ok {
			deleted = append(deleted, p)
		}
	}
	sort.Strings(created)
	sort.Strings(modified)
	sort.Strings(deleted)
	return created, modified, deleted
}

// inScope reports whether a physical path is covered by spec.
func inScope(spec vfs.WatchSpec, p string) bool {
	for _, f := range spec.Files {
		if p == f {
			return true
		}
	}
	for _, d := range spec.Dirs {
		if p == d {
			return true
		}
		if spec.Recursive {
			if strings.HasPrefix(p, strings.TrimSuffix(d, string(filepath.Separator))+string(filepath.Separator)) {
				return true
			}
		} else if filepath.Dir(p) == d {
			return true
		}
	}
	return false
}
