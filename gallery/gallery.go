// Package gallery records the frames on which a target object was found.
package gallery

import (
	"bytes"
	"context"
	"image"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/disintegration/imaging"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.opencensus.io/trace"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/rimage"
	rutils "go.viam.com/rdk/utils"

	"github.com/viamrobotics/scavenger-hunt/detection"
)

// ErrNotFound is returned for an unknown entry id.
var ErrNotFound = errors.New("gallery entry not found")

// An Entry is one successful find.
type Entry struct {
	ID           uuid.UUID           `json:"id"`
	TargetObject string              `json:"object"`
	Detection    detection.Detection `json:"detection"`
	CapturedAt   time.Time           `json:"timestamp"`
	MimeType     string              `json:"mime_type"`
	Image        []byte              `json:"-"`
}

// A FrameGrabber returns the frame currently on screen at native resolution.
type FrameGrabber interface {
	Snapshot(ctx context.Context) (image.Image, error)
}

// A Store keeps entries newest first.
type Store interface {
	Add(ctx context.Context, e Entry) error
	List(ctx context.Context) ([]Entry, error)
	Get(ctx context.Context, id uuid.UUID) (Entry, error)
	Close() error
}

// Recorder captures frames into a Store.
type Recorder struct {
	frames FrameGrabber
	store  Store
	clk    clock.Clock
	logger logging.Logger

	mu        sync.Mutex
	listeners []func(Entry)
}

// NewRecorder returns a recorder. A nil store keeps entries in memory.
func NewRecorder(frames FrameGrabber, store Store, clk clock.Clock, logger logging.Logger) *Recorder {
	if store == nil {
		store = NewMemoryStore()
	}
	if clk == nil {
		clk = clock.New()
	}
	return &Recorder{frames: frames, store: store, clk: clk, logger: logger}
}

// OnRecord registers fn to be called with every new entry.
func (r *Recorder) OnRecord(fn func(Entry)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = append(r.listeners, fn)
}

// Record grabs the current frame, encodes it as JPEG and prepends it to the gallery.
func (r *Recorder) Record(ctx context.Context, target string, det detection.Detection) (Entry, error) {
	ctx, span := trace.StartSpan(ctx, "scavenger::gallery::Record")
	defer span.End()

	frame, err := r.frames.Snapshot(ctx)
	if err != nil {
		return Entry{}, errors.Wrap(err, "capturing frame")
	}
	data, err := rimage.EncodeImage(ctx, frame, rutils.MimeTypeJPEG)
	if err != nil {
		return Entry{}, errors.Wrap(err, "encoding frame")
	}
	e := Entry{
		ID:           uuid.New(),
		TargetObject: target,
		Detection:    det,
		CapturedAt:   r.clk.Now().UTC(),
		MimeType:     rutils.MimeTypeJPEG,
		Image:        data,
	}
	if err := r.store.Add(ctx, e); err != nil {
		return Entry{}, errors.Wrap(err, "storing gallery entry")
	}
	r.logger.CDebugw(ctx, "recorded find", "object", target, "id", e.ID)

	r.mu.Lock()
	listeners := append([]func(Entry){}, r.listeners...)
	r.mu.Unlock()
	for _, fn := range listeners {
		fn(e)
	}
	return e, nil
}

// List returns every entry, newest first.
func (r *Recorder) List(ctx context.Context) ([]Entry, error) {
	return r.store.List(ctx)
}

// Get returns a single entry.
func (r *Recorder) Get(ctx context.Context, id uuid.UUID) (Entry, error) {
	return r.store.Get(ctx, id)
}

// Thumbnail returns the entry's image scaled to the given width as JPEG.
func (r *Recorder) Thumbnail(ctx context.Context, id uuid.UUID, width int) ([]byte, error) {
	e, err := r.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if width <= 0 {
		return nil, errors.Errorf("invalid thumbnail width %d", width)
	}
	img, err := imaging.Decode(bytes.NewReader(e.Image))
	if err != nil {
		return nil, errors.Wrap(err, "decoding gallery image")
	}
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, imaging.Resize(img, width, 0, imaging.Lanczos), imaging.JPEG); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Close closes the underlying store.
func (r *Recorder) Close() error {
	return r.store.Close()
}
