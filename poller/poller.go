// Package poller periodically asks the household and custom detectors what they see and
// keeps the latest confident detections for the overlay.
package poller

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.opencensus.io/trace"
	"go.viam.com/rdk/logging"
	goutils "go.viam.com/utils"
	"golang.org/x/sync/errgroup"

	"github.com/viamrobotics/scavenger-hunt/detection"
	"github.com/viamrobotics/scavenger-hunt/utils"
)

// DefaultInterval is how often detections are refreshed while the overlay is shown.
const DefaultInterval = 2 * time.Second

// ErrPollInFlight is returned by Poll when the previous poll has not finished yet.
var ErrPollInFlight = errors.New("previous detection poll still in flight")

// A Detector returns the detections for the latest image of the named camera. The
// vision services of a machine satisfy it once their detections are converted.
type Detector interface {
	DetectionsFromCamera(ctx context.Context, cameraName string, extra map[string]interface{}) ([]detection.Detection, error)
}

// Config controls the cadence and filtering of a Poller.
type Config struct {
	CameraName string
	Interval   time.Duration
	// Threshold is the confidence a detection must exceed. Nil means the default.
	Threshold *float64
	Clock     clock.Clock
}

func (cfg *Config) setDefaults() {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
}

// Poller owns the shared "current detections" value. All writes to it go through the
// Poller's lock; readers receive copies.
type Poller struct {
	cfg       Config
	threshold float64
	detectors map[detection.Source]Detector
	logger    logging.Logger

	mu         sync.Mutex
	enabled    bool
	closed     bool
	generation uint64
	current    []detection.Detection
	ticker     *utils.StoppableWorkers
	listeners  []func([]detection.Detection)

	inFlight atomic.Bool
}

// New returns a disabled Poller over the two detectors.
func New(household, custom Detector, cfg Config, logger logging.Logger) (*Poller, error) {
	if household == nil || custom == nil {
		return nil, errors.New("poller needs both a household and a custom detector")
	}
	if cfg.CameraName == "" {
		return nil, errors.New("poller needs a camera name")
	}
	cfg.setDefaults()
	threshold := detection.ResolveThreshold(cfg.Threshold)
	if err := detection.ValidateThreshold(threshold); err != nil {
		return nil, err
	}
	return &Poller{
		cfg:       cfg,
		threshold: threshold,
		detectors: map[detection.Source]Detector{
			detection.SourceHousehold: household,
			detection.SourceCustom:    custom,
		},
		logger: logger,
	}, nil
}

// Threshold is the confidence a detection must exceed to be kept.
func (p *Poller) Threshold() float64 {
	return p.threshold
}

// OnUpdate registers fn to be called with every new detection set, including the empty
// set published when polling is disabled. fn must not block.
func (p *Poller) OnUpdate(fn func([]detection.Detection)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.listeners = append(p.listeners, fn)
}

// Enabled reports whether periodic polling is running.
func (p *Poller) Enabled() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.enabled
}

// SetEnabled starts or stops periodic polling. Disabling clears the current detections
// right away; a poll still in flight finishes but its result is discarded.
func (p *Poller) SetEnabled(enabled bool) {
	p.mu.Lock()
	if p.closed || p.enabled == enabled {
		p.mu.Unlock()
		return
	}
	p.enabled = enabled
	p.generation++
	gen := p.generation
	oldTicker := p.ticker
	p.ticker = nil
	if enabled {
		p.ticker = utils.NewTickerWorker(p.cfg.Clock, p.cfg.Interval, func(ctx context.Context) bool {
			p.startPoll(gen)
			return true
		})
	} else {
		p.current = nil
	}
	listeners := append([]func([]detection.Detection){}, p.listeners...)
	p.mu.Unlock()

	oldTicker.Stop()
	p.logger.Debugw("detection polling toggled", "enabled", enabled, "interval", p.cfg.Interval)
	if !enabled {
		for _, fn := range listeners {
			fn(nil)
		}
	}
}

// Current returns a copy of the latest detection set.
func (p *Poller) Current() []detection.Detection {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]detection.Detection(nil), p.current...)
}

// startPoll runs one poll in the background. The poll is not tied to the ticker's
// context so that stopping the ticker never aborts a call already sent to a detector.
func (p *Poller) startPoll(gen uint64) {
	goutils.PanicCapturingGo(func() {
		if err := p.poll(context.Background(), gen); err != nil {
			if errors.Is(err, ErrPollInFlight) {
				p.logger.Debugw("skipping detection poll", "reason", err)
				return
			}
			p.logger.Warnw("error getting detections", "error", err)
		}
	})
}

// Poll runs one poll cycle synchronously and publishes its result if polling is still
// enabled when it completes.
func (p *Poller) Poll(ctx context.Context) error {
	p.mu.Lock()
	gen := p.generation
	p.mu.Unlock()
	return p.poll(ctx, gen)
}

func (p *Poller) poll(ctx context.Context, gen uint64) error {
	if !p.inFlight.CompareAndSwap(false, true) {
		return ErrPollInFlight
	}
	defer p.inFlight.Store(false)

	ctx, span := trace.StartSpan(ctx, "scavenger::poller::Poll")
	defer span.End()

	results := make([][]detection.Detection, len(detection.Sources))
	var group errgroup.Group
	for i, src := range detection.Sources {
		group.Go(func() error {
			dets, err := p.fetch(ctx, src)
			results[i] = dets
			return err
		})
	}
	if err := group.Wait(); err != nil {
		return err
	}

	var merged []detection.Detection
	for _, dets := range results {
		merged = append(merged, dets...)
	}

	p.mu.Lock()
	if gen != p.generation || !p.enabled {
		p.mu.Unlock()
		p.logger.Debugw("discarding stale detections", "count", len(merged))
		return nil
	}
	p.current = merged
	listeners := append([]func([]detection.Detection){}, p.listeners...)
	p.mu.Unlock()

	p.logger.CDebugw(ctx, "detections updated", "count", len(merged))
	for _, fn := range listeners {
		fn(append([]detection.Detection(nil), merged...))
	}
	return nil
}

// Check queries only the detector for src and returns its confident detections. It is
// independent of the periodic poll and does not touch the current detection set.
func (p *Poller) Check(ctx context.Context, src detection.Source) ([]detection.Detection, error) {
	ctx, span := trace.StartSpan(ctx, "scavenger::poller::Check::"+string(src))
	defer span.End()
	return p.fetch(ctx, src)
}

func (p *Poller) fetch(ctx context.Context, src detection.Source) ([]detection.Detection, error) {
	detector, ok := p.detectors[src]
	if !ok {
		return nil, errors.Errorf("no detector for source %q", src)
	}
	dets, err := detector.DetectionsFromCamera(ctx, p.cfg.CameraName, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "%s detector", src)
	}
	return detection.Filter(dets, p.threshold, src), nil
}

// Close stops polling. It does not wait for a poll in flight; that poll's result is
// discarded when it returns.
func (p *Poller) Close() {
	p.mu.Lock()
	p.closed = true
	p.enabled = false
	p.generation++
	p.current = nil
	ticker := p.ticker
	p.ticker = nil
	p.mu.Unlock()

	ticker.Stop()
}
