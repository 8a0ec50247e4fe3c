package vfs

import (
	"runtime"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/afero"
)

// DefaultPollInterval is the interval hint passed to the watch service
// when none is configured.
const DefaultPollInterval = 500 * time.Millisecond

type options struct {
	fs        afero.Fs
	cacheDir  string
	source    string
	logger    zerolog.Logger
	caseCheck bool
	factory   ContainerFactory
	watcher   WatchService
	interval  time.Duration
}

func defaultOptions() options {
	return options{
		fs:        afero.NewOsFs(),
		logger:    zerolog.Nop(),
		caseCheck: DefaultCaseCheck(),
		interval:  DefaultPollInterval,
	}
}

// Option configures an Archive.
type Option func(*options)

// WithFs sets the filesystem the rules' disk paths live on.
func WithFs(fsys afero.Fs) Option {
	return func(o *options) { o.fs = fsys }
}

// WithCacheDir sets the directory converted containers may cache into.
func WithCacheDir(dir string) Option {
	return func(o *options) { o.cacheDir = dir }
}

// WithSource records the configuration file the archive was built from.
// A root archive watches it whenever "/" is monitored.
func WithSource(path string) Option {
	return func(o *options) { o.source = path }
}

// WithLogger sets the archive's logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithCaseCheck enables exact-case verification of directory rule matches.
func WithCaseCheck(enabled bool) Option {
	return func(o *options) { o.caseCheck = enabled }
}

// WithContainerFactory sets the collaborator used for non-local container
// conversion of directory and file entries.
func WithContainerFactory(factory ContainerFactory) Option {
	return func(o *options) { o.factory = factory }
}

// WithWatchService sets the watch service notifiers register with. Nested
// archives without their own service inherit it.
func WithWatchService(service WatchService) Option {
	return func(o *options) { o.watcher = service }
}

// WithPollInterval sets the interval hint; zero selects push mode.
func WithPollInterval(interval time.Duration) Option {
	return func(o *options) { o.interval = interval }
}

// DefaultCaseCheck reports whether the platform's default filesystems are
// case-insensitive, in which case directory matches verify exact case.
func DefaultCaseCheck() bool {
	switch runtime.GOOS {
	case "darwin", "windows", "ios":
		return true
	default:
		return false
	}
}
