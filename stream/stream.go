// Package stream keeps the latest frame of the machine's camera and fans it out to
// viewers.
package stream

import (
	"context"
	"image"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.viam.com/rdk/logging"

	"github.com/viamrobotics/scavenger-hunt/utils"
)

// DefaultFrameInterval is the delay between two frame fetches.
const DefaultFrameInterval = 100 * time.Millisecond

// ErrNoFrame is returned when no frame has been received yet and the source cannot be read.
var ErrNoFrame = errors.New("no video frame available")

// A Source yields the current image of a camera.
type Source interface {
	Frame(ctx context.Context) (image.Image, error)
}

// Config controls the frame cadence.
type Config struct {
	FrameInterval time.Duration
	Clock         clock.Clock
}

// Stream is the single owner of the latest video frame.
//
// Frames are fetched by one loop which checks the streaming-active flag before every
// fetch and again before publishing, so a stop takes effect without the loop re-arming
// itself and a frame fetched across a stop is dropped. Each start runs a new loop with
// its own context; a loop left behind by a stop never publishes.
type Stream struct {
	name   string
	src    Source
	cfg    Config
	logger logging.Logger

	active atomic.Bool

	mu          sync.Mutex
	workers     *utils.StoppableWorkers
	latest      image.Image
	latestAt    time.Time
	err         error
	nextSubID   int
	subscribers map[int]chan image.Image
}

// New returns a stopped stream for the named camera.
func New(name string, src Source, cfg Config, logger logging.Logger) *Stream {
	if cfg.FrameInterval <= 0 {
		cfg.FrameInterval = DefaultFrameInterval
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	return &Stream{
		name:        name,
		src:         src,
		cfg:         cfg,
		logger:      logger,
		subscribers: map[int]chan image.Image{},
	}
}

// Name is the camera name the stream reads from.
func (s *Stream) Name() string {
	return s.name
}

// Start begins fetching frames. It clears any previous stream error.
func (s *Stream) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active.Load() {
		return
	}
	s.err = nil
	s.active.Store(true)
	s.logger.Debugw("starting stream", "camera", s.name)
	s.workers = utils.NewStoppableWorkers(s.run)
}

// Stop clears the streaming-active flag, cancels the frame loop and closes every
// subscriber channel. It does not wait for a fetch in flight; that frame is dropped.
func (s *Stream) Stop() {
	s.active.Store(false)
	s.mu.Lock()
	workers := s.workers
	s.workers = nil
	workers.Cancel()
	s.closeSubscribers()
	s.mu.Unlock()
	if workers != nil {
		s.logger.Debugw("stopping stream", "camera", s.name)
	}
}
// Active reports whether frames are being fetched.
func (s *Stream) Active() bool {
	return s.active.Load()
}

// Err returns the error that halted the stream, if any.
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Stream) run(ctx context.Context) {
	for {
		if !s.active.Load() || ctx.Err() != nil {
			return
		}
		// the fetch is not cancelled by a stop; its frame is dropped instead.
		img, err := s.src.Frame(context.WithoutCancel(ctx))
		if !s.active.Load() || ctx.Err() != nil {
			return
		}
		if err != nil {
			s.fail(ctx, err)
			return
		}
		s.publish(ctx, img)

		select {
		case <-ctx.Done():
			return
		case <-s.cfg.Clock.After(s.cfg.FrameInterval):
		}
	}
}

func (s *Stream) fail(ctx context.Context, err error) {
	s.mu.Lock()
	if ctx.Err() != nil {
		s.mu.Unlock()
		return
	}
	s.active.Store(false)
	s.err = errors.Wrapf(err, "stream %q", s.name)
	s.closeSubscribers()
	s.mu.Unlock()
	s.logger.Errorw("stream error, stopping stream", "camera", s.name, "error", err)
}

// closeSubscribers ends every subscription. s.mu must be held.
func (s *Stream) closeSubscribers() {
	for id, ch := range s.subscribers {
		close(ch)
		delete(s.subscribers, id)
	}
}

func (s *Stream) publish(ctx context.Context, img image.Image) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ctx.Err() != nil {
		return
	}
	s.latest = img
	s.latestAt = s.cfg.Clock.Now()
	for _, ch := range s.subscribers {
		select {
		case <-ch:
		default:
		}
		ch <- img
	}
}

// Latest returns the newest frame and when it arrived.
func (s *Stream) Latest() (image.Image, time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latest, s.latestAt, s.latest != nil
}

// NativeSize is the resolution of the newest frame, or the zero point before the first frame.
func (s *Stream) NativeSize() image.Point {
	img, _, ok := s.Latest()
	if !ok {
		return image.Point{}
	}
	return img.Bounds().Size()
}

// Snapshot returns the frame currently shown to viewers, reading the camera directly
// when no frame has been streamed yet.
func (s *Stream) Snapshot(ctx context.Context) (image.Image, error) {
	if img, _, ok := s.Latest(); ok {
		return img, nil
	}
	img, err := s.src.Frame(ctx)
	if err != nil {
		return nil, errors.Wrap(ErrNoFrame, err.Error())
	}
	return img, nil
}

// Subscribe returns a channel receiving every new frame. Slow readers only see the
// newest frame. The channel is closed when the stream stops or fails. The returned
// func unsubscribes and may be called after the channel was closed.
func (s *Stream) Subscribe() (<-chan image.Image, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextSubID
	s.nextSubID++
	ch := make(chan image.Image, 1)
	s.subscribers[id] = ch
	return ch, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if ch, ok := s.subscribers[id]; ok {
			close(ch)
			delete(s.subscribers, id)
		}
	}
}
