// Package watch is the watch service archives register their physical
// paths with. A registration polls its paths through afero at the requested
// interval or, when the interval is zero and the service runs on the host
// filesystem, follows fsnotify events and delivers them in coalesced
// batches.
package watch

import (
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/afero"

	"github.com/arthur-debert/loosevfs/pkg/loosevfs/vfs"
)

// ErrClosed is returned when watching through a closed service or updating
// a closed registration.
var ErrClosed = errors.New("watch: closed")

// ErrNilSink is returned by Watch when there is no sink to report to.
var ErrNilSink = errors.New("watch: nil sink")

// DefaultWindow is how long push mode collects events before delivering
// them as one batch.
const DefaultWindow = 100 * time.Millisecond

// Service hands out registrations, one goroutine each.
type Service struct {
	fs       afero.Fs
	logger   zerolog.Logger
	window   time.Duration
	fallback time.Duration

	mu     sync.Mutex
	regs   map[*Registration]struct{}
	closed bool
	wg     sync.WaitGroup
}

var _ vfs.WatchService = (*Service)(nil)

// Option configures a Service.
type Option func(*Service)

// WithFs sets the filesystem to watch. Push mode is only available on
// afero.OsFs; any other filesystem is polled.
func WithFs(fsys afero.Fs) Option {
	return func(s *Service) { s.fs = fsys }
}

// WithLogger sets the service logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// WithWindow sets the push-mode coalescing window.
func WithWindow(d time.Duration) Option {
	return func(s *Service) { s.window = d }
}

// WithFallbackInterval sets the polling interval used when push mode is
// requested but unavailable.
func WithFallbackInterval(d time.Duration) Option {
	return func(s *Service) { s.fallback = d }
}

// New returns a service watching the host filesystem.
func New(opts ...Option) *Service {
	s := &Service{
		fs:       afero.NewOsFs(),
		logger:   zerolog.Nop(),
		window:   DefaultWindow,
		fallback: vfs.DefaultPollInterval,
		regs:     make(map[*Registration]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With().Str("component", "watch").Logger()
	return s
}

func (s *Service) native() bool {
	_, ok := s.fs.(*afero.OsFs)
	return ok
}

// Watch starts watching spec and reports changes to sink.
func (s *Service) Watch(spec vfs.WatchSpec, sink vfs.ChangeSink) (vfs.WatchRegistration, error) {
	if sink == nil {
		return nil, &vfs.PathError{Op: vfs.OpWatch, Err: ErrNilSink}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}

	r := &Registration{
		svc:    s,
		sink:   sink,
		logger: s.logger,
		reset:  make(chan struct{}, 1),
		stop:   make(chan struct{}),
	}
	r.mu.Lock()
	err := r.configureLocked(spec)
	r.mu.Unlock()
	if err != nil {
		return nil, err
	}

	s.regs[r] = struct{}{}
	s.wg.Add(1)
	go r.loop()
	return r, nil
}

// Registrations returns the live registrations.
func (s *Service) Registrations() []*Registration {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Registration, 0, len(s.regs))
	for r := range s.regs {
		out = append(out, r)
	}
	return out
}

func (s *Service) forget(r *Registration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.regs, r)
}

// Close stops every registration and waits for their goroutines.
func (s *Service) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	regs := make([]*Registration, 0, len(s.regs))
	for r := range s.regs {
		regs = append(regs, r)
	}
	s.mu.Unlock()

	var errs []error
	for _, r := range regs {
		errs = append(errs, r.Close())
	}
	s.wg.Wait()
	return errors.Join(errs...)
}
