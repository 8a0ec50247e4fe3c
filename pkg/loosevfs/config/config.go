// Package config reads loose-archive configuration files and builds the
// archives they describe.
//
// A configuration is an ordered rule list. Order is precedence: the rule
// listed first wins wherever two rules present the same archive path, and
// the loader never reorders rules. Two formats are accepted, YAML and the
// loose XML format, chosen by file extension or, failing that, by content.
//
// Nested archives are either written inline under an archive rule or
// defined once by name and mounted with a ref. Named definitions may refer
// to each other; a reference cycle is an error.
package config

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/spf13/afero"

	"github.com/arthur-debert/loosevfs/pkg/loosevfs/vfs"
)

var (
	// ErrCycle is returned when named archives refer to each other in a loop.
	ErrCycle = errors.New("archive reference cycle")
	// ErrUnknownArchive is returned for a ref naming no defined archive.
	ErrUnknownArchive = errors.New("unknown archive")
	// ErrFormat is returned for content that is not a valid configuration.
	ErrFormat = errors.New("invalid configuration")
)

// Error locates a configuration problem.
type Error struct {
	File    string
	Archive string
	Reason  string
	Cause   error
}

func (e *Error) Error() string {
	msg := "config " + e.File
	if e.Archive != "" {
		msg += fmt.Sprintf(": archive %q", e.Archive)
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Cause }

// Rule is one configured mapping, before paths are resolved.
type Rule struct {
	Kind     vfs.Kind
	Location string
	Disk     string
	Excludes string
	// Ref names an archive definition to mount. Archive rules only.
	Ref string
	// Rules is an inline nested archive. Archive rules only.
	Rules []Rule
}

// Document is a parsed configuration file.
type Document struct {
	// Path is the file the document was read from.
	Path     string
	CacheDir string
	Rules    []Rule
	// Archives holds named archive definitions; Names keeps their order.
	Archives map[string][]Rule
	Names    []string
}

type loader struct {
	fs          afero.Fs
	logger      zerolog.Logger
	cacheDir    string
	archiveOpts []vfs.Option
}

// Option configures Load.
type Option func(*loader)

// WithFs sets the filesystem the configuration file and the rules' disk
// paths are read from.
func WithFs(fsys afero.Fs) Option {
	return func(l *loader) { l.fs = fsys }
}

// WithLogger sets the logger for the loader and every archive it builds.
func WithLogger(logger zerolog.Logger) Option {
	return func(l *loader) { l.logger = logger }
}

// WithCacheDir overrides the document's cache directory.
func WithCacheDir(dir string) Option {
	return func(l *loader) { l.cacheDir = dir }
}

// WithArchiveOptions adds options applied to every archive built.
func WithArchiveOptions(opts ...vfs.Option) Option {
	return func(l *loader) { l.archiveOpts = append(l.archiveOpts, opts...) }
}

// Load reads the configuration at path and builds its root archive. The
// archive records path as its source so that notifiers watch it.
func Load(path string, opts ...Option) (*vfs.Archive, error) {
	l := &loader{
		fs:     afero.NewOsFs(),
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(l)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, &Error{File: path, Reason: "resolve path", Cause: err}
	}
	data, err := afero.ReadFile(l.fs, abs)
	if err != nil {
		return nil, &Error{File: abs, Reason: "read", Cause: err}
	}
	doc, err := Parse(abs, data)
	if err != nil {
		return nil, err
	}
	if l.cacheDir != "" {
		if doc.CacheDir, err = filepath.Abs(l.cacheDir); err != nil {
			return nil, &Error{File: abs, Reason: "resolve cache directory", Cause: err}
		}
	}

	l.logger.Debug().
		Str("config", abs).
		Int("rules", len(doc.Rules)).
		Strs("archives", doc.Names).
		Msg("loaded configuration")

	return doc.build(l)
}

// Parse decodes a configuration. The format follows the extension of path
// (.yaml, .yml or .xml); anything else is sniffed from the content.
func Parse(path string, data []byte) (*Document, error) {
	var (
		doc *Document
		err error
	)
	switch format(path, data) {
	case formatXML:
		doc, err = parseXML(data)
	default:
		doc, err = parseYAML(data)
	}
	if err != nil {
		var cerr *Error
		if errors.As(err, &cerr) {
			cerr.File = path
			return nil, cerr
		}
		return nil, &Error{File: path, Reason: "parse", Cause: fmt.Errorf("%w: %w", ErrFormat, err)}
	}
	doc.Path = path
	return doc, nil
}
