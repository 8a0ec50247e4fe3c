package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"

	"github.com/gammazero/toposort"

	"github.com/arthur-debert/loosevfs/pkg/loosevfs/vfs"
)

func validate(archive string, index int, r Rule) error {
	fail := func(format string, args ...any) error {
		return &Error{
			Archive: archive,
			Reason:  fmt.Sprintf("rule %d (%s %s)", index, r.Kind, r.Location),
			Cause:   fmt.Errorf("%w: "+format, append([]any{ErrFormat}, args...)...),
		}
	}
	if r.Location == "" {
		return fail("missing archive location")
	}
	switch r.Kind {
	case vfs.KindDirectory, vfs.KindFile:
		if r.Disk == "" {
			return fail("missing disk path")
		}
		if r.Ref != "" || len(r.Rules) > 0 {
			return fail("only archive rules take ref or nested rules")
		}
		if r.Kind == vfs.KindFile && r.Excludes != "" {
			return fail("file rules take no excludes")
		}
	case vfs.KindArchive:
		if (r.Ref == "") == (len(r.Rules) == 0) {
			return fail("need exactly one of ref or nested rules")
		}
		if r.Disk != "" || r.Excludes != "" {
			return fail("archive rules take no disk path or excludes")
		}
	}
	return nil
}

func sortNames(names []string) { sort.Strings(names) }

// refs collects the names a rule list mounts, including those of inline
// nested archives.
func refs(rules []Rule) []string {
	var out []string
	for _, r := range rules {
		if r.Kind != vfs.KindArchive {
			continue
		}
		if r.Ref != "" {
			out = append(out, r.Ref)
		}
		out = append(out, refs(r.Rules)...)
	}
	return out
}

// order checks every ref, rejects cycles among the named archives, including
// ones the root never reaches, and returns the names leaves first.
func (d *Document) order() ([]string, error) {
	for _, ref := range refs(d.Rules) {
		if _, ok := d.Archives[ref]; !ok {
			return nil, &Error{File: d.Path, Reason: "ref " + ref, Cause: ErrUnknownArchive}
		}
	}

	var edges []toposort.Edge
	for _, name := range d.Names {
		for _, ref := range refs(d.Archives[name]) {
			if _, ok := d.Archives[ref]; !ok {
				return nil, &Error{File: d.Path, Archive: name, Reason: "ref " + ref, Cause: ErrUnknownArchive}
			}
			if ref == name {
				return nil, &Error{File: d.Path, Archive: name, Reason: "mounts itself", Cause: ErrCycle}
			}
			edges = append(edges, toposort.Edge{ref, name})
		}
	}

	sorted, err := toposort.Toposort(edges)
	if err != nil {
		return nil, &Error{File: d.Path, Reason: "named archives", Cause: fmt.Errorf("%w: %w", ErrCycle, err)}
	}
	out := make([]string, 0, len(d.Names))
	seen := make(map[string]bool, len(d.Names))
	for _, v := range sorted {
		name, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("unexpected type in topological sort result: %T", v)
		}
		out = append(out, name)
		seen[name] = true
	}
	// Definitions nobody refers to and that refer to nothing have no edges.
	for _, name := range d.Names {
		if !seen[name] {
			out = append(out, name)
		}
	}
	return out, nil
}

// build turns the document into its root archive. Refs are checked up front
// by order, which also makes the recursive build below terminate. The build
// itself follows the rules: every ref mounts its own instance of the named
// archive, since an archive can be mounted only once, so no instance is
// shared and the sorted order is only logged.
func (d *Document) build(l *loader) (*vfs.Archive, error) {
	order, err := d.order()
	if err != nil {
		return nil, err
	}
	l.logger.Trace().Strs("order", order).Msg("named archive build order")

	b := &builder{doc: d, loader: l, dir: filepath.Dir(d.Path)}
	specs, err := b.specs("", d.Rules)
	if err != nil {
		return nil, err
	}

	opts := append(b.base(), vfs.WithSource(d.Path))
	if d.CacheDir != "" {
		opts = append(opts, vfs.WithCacheDir(b.disk(d.CacheDir)))
	}
	a, err := vfs.New(specs, opts...)
	if err != nil {
		return nil, &Error{File: d.Path, Reason: "build", Cause: err}
	}
	return a, nil
}

type builder struct {
	doc    *Document
	loader *loader
	dir    string
}

func (b *builder) base() []vfs.Option {
	return append([]vfs.Option{
		vfs.WithFs(b.loader.fs),
		vfs.WithLogger(b.loader.logger),
	}, b.loader.archiveOpts...)
}

func (b *builder) specs(archive string, rules []Rule) ([]vfs.RuleSpec, error) {
	specs := make([]vfs.RuleSpec, 0, len(rules))
	for _, r := range rules {
		switch r.Kind {
		case vfs.KindDirectory:
			specs = append(specs, vfs.Directory(r.Location, b.disk(r.Disk), r.Excludes))
		case vfs.KindFile:
			specs = append(specs, vfs.File(r.Location, b.disk(r.Disk)))
		case vfs.KindArchive:
			name, rules := archive, r.Rules
			if r.Ref != "" {
				name, rules = r.Ref, b.doc.Archives[r.Ref]
			}
			child, err := b.archive(name, rules)
			if err != nil {
				return nil, err
			}
			specs = append(specs, vfs.Nested(r.Location, child))
		}
	}
	return specs, nil
}

func (b *builder) archive(name string, rules []Rule) (*vfs.Archive, error) {
	specs, err := b.specs(name, rules)
	if err != nil {
		return nil, err
	}
	a, err := vfs.New(specs, b.base()...)
	if err != nil {
		return nil, &Error{File: b.doc.Path, Archive: name, Reason: "build", Cause: err}
	}
	return a, nil
}

// disk expands variables in a disk path and anchors it at the
// configuration file's directory when relative.
func (b *builder) disk(p string) string {
	p = b.expand(p)
	if !filepath.IsAbs(p) {
		p = filepath.Join(b.dir, p)
	}
	return filepath.Clean(p)
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// expand replaces ${VAR} and ${VAR:-default}. CONFIG_DIR names the
// configuration file's directory; other names come from the environment.
func (b *builder) expand(s string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		name, fallback := parts[1], parts[2]
		if name == "CONFIG_DIR" {
			return b.dir
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return fallback
	})
}
