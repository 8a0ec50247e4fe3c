// Package loosevfs mounts loose archives described by a configuration file.
//
// Open loads the configuration, builds the archive tree and attaches a
// watch service so that notifiers on any archive in the tree receive change
// notifications for the files behind it.
package loosevfs

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/afero"

	"github.com/arthur-debert/loosevfs/pkg/loosevfs/config"
	"github.com/arthur-debert/loosevfs/pkg/loosevfs/vfs"
	"github.com/arthur-debert/loosevfs/pkg/loosevfs/watch"
)

// System is a loaded archive tree and the watch service behind its notifiers.
type System struct {
	Archive *vfs.Archive
	Watcher *watch.Service
	logger  zerolog.Logger
}

type settings struct {
	fs        afero.Fs
	logger    zerolog.Logger
	interval  time.Duration
	cacheDir  string
	caseCheck *bool
	factory   vfs.ContainerFactory
}

// Option configures Open.
type Option func(*settings)

// WithFs sets the filesystem for the configuration, the rules' disk paths
// and the watch service.
func WithFs(fsys afero.Fs) Option {
	return func(s *settings) { s.fs = fsys }
}

// WithLogger sets the logger shared by every component.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *settings) { s.logger = logger }
}

// WithPollInterval sets the watch interval. Zero selects push mode where
// the filesystem supports it.
func WithPollInterval(d time.Duration) Option {
	return func(s *settings) { s.interval = d }
}

// WithCacheDir overrides the configuration's cache directory.
func WithCacheDir(dir string) Option {
	return func(s *settings) { s.cacheDir = dir }
}

// WithCaseCheck overrides the platform default for exact-case matching.
func WithCaseCheck(enabled bool) Option {
	return func(s *settings) { s.caseCheck = &enabled }
}

// WithContainerFactory sets the container conversion collaborator.
func WithContainerFactory(factory vfs.ContainerFactory) Option {
	return func(s *settings) { s.factory = factory }
}

// Open loads the configuration at path.
func Open(path string, opts ...Option) (*System, error) {
	s := &settings{
		fs:       afero.NewOsFs(),
		logger:   zerolog.Nop(),
		interval: vfs.DefaultPollInterval,
	}
	for _, opt := range opts {
		opt(s)
	}

	svc := watch.New(
		watch.WithFs(s.fs),
		watch.WithLogger(s.logger),
		watch.WithFallbackInterval(fallback(s.interval)),
	)

	archiveOpts := []vfs.Option{
		vfs.WithWatchService(svc),
		vfs.WithPollInterval(s.interval),
	}
	if s.caseCheck != nil {
		archiveOpts = append(archiveOpts, vfs.WithCaseCheck(*s.caseCheck))
	}
	if s.factory != nil {
		archiveOpts = append(archiveOpts, vfs.WithContainerFactory(s.factory))
	}

	loadOpts := []config.Option{
		config.WithFs(s.fs),
		config.WithLogger(s.logger),
		config.WithArchiveOptions(archiveOpts...),
	}
	if s.cacheDir != "" {
		loadOpts = append(loadOpts, config.WithCacheDir(s.cacheDir))
	}

	a, err := config.Load(path, loadOpts...)
	if err != nil {
		_ = svc.Close()
		return nil, err
	}
	return &System{Archive: a, Watcher: svc, logger: s.logger}, nil
}

func fallback(interval time.Duration) time.Duration {
	if interval > 0 {
		return interval
	}
	return vfs.DefaultPollInterval
}

// Watch subscribes listener to paths of the root archive until ctx is done,
// then removes it. When it returns, listener is no longer being called.
// It returns ctx's error.
func (s *System) Watch(ctx context.Context, paths []string, listener vfs.Listener) error {
	n := s.Archive.Notifier()
	if err := n.Register(s.Archive.Root(), paths, listener); err != nil {
		return err
	}
	s.logger.Info().Strs("paths", paths).Msg("watching")
	<-ctx.Done()
	n.RemoveListener(listener)
	n.Wait()
	return ctx.Err()
}

// Close releases the root notifier's registrations and stops the watch
// service.
func (s *System) Close() error {
	return errors.Join(s.Archive.Notifier().Close(), s.Watcher.Close())
}
