// Package hunt ties the game, detection, overlay, gallery and training pieces to one
// connected machine.
package hunt

import (
	"context"
	"image"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.opencensus.io/trace"
	"go.uber.org/multierr"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/rimage"
	rutils "go.viam.com/rdk/utils"

	"github.com/viamrobotics/scavenger-hunt/catalog"
	"github.com/viamrobotics/scavenger-hunt/connection"
	"github.com/viamrobotics/scavenger-hunt/detection"
	"github.com/viamrobotics/scavenger-hunt/gallery"
	"github.com/viamrobotics/scavenger-hunt/game"
	"github.com/viamrobotics/scavenger-hunt/overlay"
	"github.com/viamrobotics/scavenger-hunt/poller"
	"github.com/viamrobotics/scavenger-hunt/stream"
	"github.com/viamrobotics/scavenger-hunt/training"
)

var (
	// ErrChecking is returned by Submit while a previous submission is being checked.
	ErrChecking = errors.New("already checking for the target")
	// ErrTrainingDisabled is returned when no uploader is configured.
	ErrTrainingDisabled = errors.New("training capture is not configured")
)

// Config tunes an App.
type Config struct {
	Threshold    *float64
	PollInterval time.Duration
	Game         game.Config
	Style        overlay.Style
	Training     training.Config
	Clock        clock.Clock
}

// Deps are the resources an App is built from. Machine is nil when the connection
// could not be established, in which case ConnectErr says why.
type Deps struct {
	Catalog    *catalog.Catalog
	Machine    *connection.Machine
	ConnectErr error
	// Store holds gallery entries; nil keeps them in memory.
	Store gallery.Store
	// Uploader enables training capture when non-nil.
	Uploader training.Uploader
}

// EventType names what an Event carries.
type EventType string

// Event types pushed to subscribers.
const (
	EventState      EventType = "state"
	EventDetections EventType = "detections"
	EventFound      EventType = "found"
)

// An Event is pushed to subscribers whenever something visible changes.
type Event struct {
	Type       EventType             `json:"type"`
	Change     game.Event            `json:"change,omitempty"`
	State      *game.State           `json:"state,omitempty"`
	Detections []detection.Detection `json:"detections,omitempty"`
	Entry      *gallery.Entry        `json:"entry,omitempty"`
}

// SubmitResult is the outcome of a Submit.
type SubmitResult struct {
	Found     bool                 `json:"found"`
	Target    string               `json:"target"`
	Detection *detection.Detection `json:"detection,omitempty"`
	Entry     *gallery.Entry       `json:"entry,omitempty"`
	State     game.State           `json:"state"`
}

// App is one game played against one machine.
type App struct {
	cfg        Config
	logger     logging.Logger
	catalog    *catalog.Catalog
	game       *game.Session
	renderer   *overlay.Renderer
	gallery    *gallery.Recorder
	machine    *connection.Machine
	connectErr error
	poller     *poller.Poller
	capturer   *training.Capturer

	checking atomic.Bool

	mu          sync.Mutex
	nextSubID   int
	subscribers map[int]func(Event)
}

// New builds an App. A missing machine is not an error: the game can still be browsed
// and Err reports why the camera is unavailable.
func New(deps Deps, cfg Config, logger logging.Logger) (*App, error) {
	if deps.Catalog == nil {
		return nil, errors.New("an object catalog is required")
	}
	threshold := detection.ResolveThreshold(cfg.Threshold)
	if err := detection.ValidateThreshold(threshold); err != nil {
		return nil, err
	}
	cfg.Threshold = &threshold
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.Game.Clock == nil {
		cfg.Game.Clock = cfg.Clock
	}
	if cfg.Training.Clock == nil {
		cfg.Training.Clock = cfg.Clock
	}
	if cfg.Style == (overlay.Style{}) {
		cfg.Style = overlay.DefaultStyle()
	}
	renderer, err := overlay.NewRenderer(cfg.Style)
	if err != nil {
		return nil, err
	}

	a := &App{
		cfg:         cfg,
		logger:      logger,
		catalog:     deps.Catalog,
		game:        game.New(deps.Catalog, cfg.Game, logger.Sublogger("game")),
		renderer:    renderer,
		machine:     deps.Machine,
		connectErr:  deps.ConnectErr,
		subscribers: map[int]func(Event){},
	}
	if a.machine == nil && a.connectErr == nil {
		a.connectErr = connection.ErrNotConnected
	}

	var frames gallery.FrameGrabber
	if a.machine != nil {
		frames = a.machine.Stream
		a.poller, err = poller.New(a.machine.Household, a.machine.Custom, poller.Config{
			CameraName: a.machine.CameraName,
			Interval:   cfg.PollInterval,
			Threshold:  cfg.Threshold,
			Clock:      cfg.Clock,
		}, logger.Sublogger("poller"))
		if err != nil {
			a.game.Close()
			return nil, err
		}
		a.poller.OnUpdate(func(dets []detection.Detection) {
			a.emit(Event{Type: EventDetections, Detections: dets})
		})
		if deps.Uploader != nil {
			a.capturer = training.NewCapturer(a.machine.Camera, deps.Uploader, cfg.Training, logger.Sublogger("training"))
		}
	}
	a.gallery = gallery.NewRecorder(frames, deps.Store, cfg.Clock, logger.Sublogger("gallery"))
	a.gallery.OnRecord(func(e gallery.Entry) {
		a.emit(Event{Type: EventFound, Entry: &e})
	})
	a.game.OnChange(func(ev game.Event, st game.State) {
		a.emit(Event{Type: EventState, Change: ev, State: &st})
	})
	return a, nil
}

// Err is the reason the machine is unavailable, or nil when connected.
func (a *App) Err() error {
	if a.machine != nil {
		return nil
	}
	return a.connectErr
}

// Connected reports whether a machine is attached.
func (a *App) Connected() bool {
	return a.machine != nil
}

// Catalog returns the object catalog.
func (a *App) Catalog() *catalog.Catalog {
	return a.catalog
}

// Gallery returns the recorder of found objects.
func (a *App) Gallery() *gallery.Recorder {
	return a.gallery
}

// Stream returns the live video stream, or nil when not connected.
func (a *App) Stream() *stream.Stream {
	if a.machine == nil {
		return nil
	}
	return a.machine.Stream
}

// State returns the current game state.
func (a *App) State() game.State {
	return a.game.Snapshot()
}

// StartGame starts a new game.
func (a *App) StartGame() game.State {
	return a.game.Start()
}

// EndGame ends the current game.
func (a *App) EndGame() game.State {
	return a.game.End()
}

// Skip draws a new target.
func (a *App) Skip() game.State {
	return a.game.Skip()
}

// SelectTarget makes name the current target.
func (a *App) SelectTarget(name string) (game.State, error) {
	return a.game.Select(name)
}

// Submit asks the detector responsible for the current target whether it is in view.
// A match is recorded in the gallery before it is scored; when the frame cannot be
// recorded the match is not scored and the error is returned. Only one submission is
// checked at a time.
func (a *App) Submit(ctx context.Context) (SubmitResult, error) {
	if a.poller == nil {
		return SubmitResult{}, a.Err()
	}
	if !a.checking.CompareAndSwap(false, true) {
		return SubmitResult{}, ErrChecking
	}
	defer a.checking.Store(false)

	ctx, span := trace.StartSpan(ctx, "scavenger::hunt::Submit")
	defer span.End()

	target := a.game.Snapshot().Target
	src := a.catalog.Source(target)
	dets, err := a.poller.Check(ctx, src)
	if err != nil {
		return SubmitResult{}, errors.Wrapf(err, "checking for %q", target)
	}
	det, ok := detection.FirstMatch(dets, target, *a.cfg.Threshold)
	if !ok {
		a.logger.CDebugw(ctx, "target not found", "target", target, "source", src, "detections", len(dets))
		return SubmitResult{Target: target, State: a.game.Snapshot()}, nil
	}

	// a find only scores once its frame is in the gallery
	entry, err := a.gallery.Record(ctx, target, det)
	if err != nil {
		a.logger.Warnw("could not record find in gallery", "target", target, "error", err)
		return SubmitResult{}, errors.Wrapf(err, "recording find of %q", target)
	}
	result := SubmitResult{Found: true, Target: target, Detection: &det, Entry: &entry}
	result.State = a.game.Match()
	a.logger.Infow("target found", "target", target, "confidence", det.Confidence, "score", result.State.Score)
	return result, nil
}

// SetOverlay shows or hides detection boxes. Detections are only polled while shown.
func (a *App) SetOverlay(enabled bool) {
	a.renderer.SetEnabled(enabled)
	if a.poller != nil {
		a.poller.SetEnabled(enabled)
	}
}

// OverlayEnabled reports whether detection boxes are shown.
func (a *App) OverlayEnabled() bool {
	return a.renderer.Enabled()
}

// Detections returns the detections currently drawn on the overlay.
func (a *App) Detections() []detection.Detection {
	if a.poller == nil {
		return nil
	}
	return a.poller.Current()
}

// AnnotatedFind returns the gallery image of a find as a JPEG with the detection that
// matched drawn onto it.
func (a *App) AnnotatedFind(ctx context.Context, id uuid.UUID) ([]byte, error) {
	e, err := a.gallery.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	img, err := rimage.DecodeImage(ctx, e.Image, e.MimeType)
	if err != nil {
		return nil, errors.Wrap(err, "decoding gallery image")
	}
	return rimage.EncodeImage(ctx, a.renderer.Annotate(img, []detection.Detection{e.Detection}), rutils.MimeTypeJPEG)
}

// Overlay renders the current detections onto a transparent layer of the given
// display size.
func (a *App) Overlay(display image.Point) *image.RGBA {
	var native image.Point
	if s := a.Stream(); s != nil {
		native = s.NativeSize()
	}
	return a.renderer.Render(a.Detections(), native, display)
}

// CaptureTraining uploads the current camera image for training.
func (a *App) CaptureTraining(ctx context.Context) (string, error) {
	if a.machine == nil {
		return "", a.Err()
	}
	if a.capturer == nil {
		return "", ErrTrainingDisabled
	}
	return a.capturer.Capture(ctx)
}

// Subscribe registers fn for every Event. fn is called synchronously and must not
// block. The returned func unsubscribes.
func (a *App) Subscribe(fn func(Event)) func() {
	a.mu.Lock()
	defer a.mu.Unlock()
	id := a.nextSubID
	a.nextSubID++
	a.subscribers[id] = fn
	return func() {
		a.mu.Lock()
		defer a.mu.Unlock()
		delete(a.subscribers, id)
	}
}

func (a *App) emit(ev Event) {
	a.mu.Lock()
	subs := make([]func(Event), 0, len(a.subscribers))
	for _, fn := range a.subscribers {
		subs = append(subs, fn)
	}
	a.mu.Unlock()
	for _, fn := range subs {
		fn(ev)
	}
}

// Close stops the game timer and polling, disconnects from the machine and closes the
// gallery store.
func (a *App) Close(ctx context.Context) error {
	a.game.Close()
	if a.poller != nil {
		a.poller.Close()
	}
	return multierr.Combine(
		a.machine.Close(ctx),
		a.gallery.Close(),
	)
}
