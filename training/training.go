// Package training uploads camera frames to the cloud so the custom detector can be
// retrained on them.
package training

import (
	"context"
	"strings"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.opencensus.io/trace"
	"go.viam.com/rdk/logging"
	rutils "go.viam.com/rdk/utils"
	"golang.org/x/time/rate"
)

var (
	// ErrBusy is returned while another capture is uploading.
	ErrBusy = errors.New("a training capture is already in progress")
	// ErrRateLimited is returned when captures come faster than the upload limit.
	ErrRateLimited = errors.New("training captures are rate limited, try again shortly")
)

// An ImageSource returns the raw encoded bytes of the current camera image.
type ImageSource interface {
	ImageBytes(ctx context.Context) ([]byte, string, error)
}

// An Upload is one image sent for training.
type Upload struct {
	Data        []byte
	Extension   string
	RequestedAt time.Time
	Tags        []string
}

// An Uploader stores an Upload and returns its file id.
type Uploader interface {
	Upload(ctx context.Context, u Upload) (string, error)
}

// Config tunes a Capturer.
type Config struct {
	// Tags are attached to every upload.
	Tags []string
	// Limit is the sustained upload rate; zero means one per second.
	Limit rate.Limit
	Clock clock.Clock
}

// Capturer takes one frame at a time and uploads it.
type Capturer struct {
	src       ImageSource
	uploader  Uploader
	cfg       Config
	limiter   *rate.Limiter
	logger    logging.Logger
	capturing atomic.Bool
}

// NewCapturer returns a Capturer reading from src.
func NewCapturer(src ImageSource, uploader Uploader, cfg Config, logger logging.Logger) *Capturer {
	if cfg.Limit == 0 {
		cfg.Limit = rate.Every(time.Second)
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	return &Capturer{
		src:      src,
		uploader: uploader,
		cfg:      cfg,
		limiter:  rate.NewLimiter(cfg.Limit, 1),
		logger:   logger,
	}
}

// Capturing reports whether an upload is in progress.
func (c *Capturer) Capturing() bool {
	return c.capturing.Load()
}

// Capture reads the current image and uploads it. The capturing flag is always
// cleared afterwards so a failed capture can be retried.
func (c *Capturer) Capture(ctx context.Context) (string, error) {
	if !c.capturing.CompareAndSwap(false, true) {
		return "", ErrBusy
	}
	defer c.capturing.Store(false)

	if !c.limiter.AllowN(c.cfg.Clock.Now(), 1) {
		return "", ErrRateLimited
	}

	ctx, span := trace.StartSpan(ctx, "scavenger::training::Capture")
	defer span.End()

	data, mimeType, err := c.src.ImageBytes(ctx)
	if err != nil {
		return "", errors.Wrap(err, "reading camera image")
	}
	now := c.cfg.Clock.Now().UTC()
	id, err := c.uploader.Upload(ctx, Upload{
		Data:        data,
		Extension:   Extension(mimeType),
		RequestedAt: now,
		Tags:        c.cfg.Tags,
	})
	if err != nil {
		c.logger.Warnw("training upload failed", "error", err)
		return "", errors.Wrap(err, "uploading training image")
	}
	c.logger.Infow("uploaded training image", "file_id", id, "bytes", len(data))
	return id, nil
}

// Extension maps an image mime type to the file extension used for uploads.
func Extension(mimeType string) string {
	if strings.HasPrefix(mimeType, rutils.MimeTypeJPEG) {
		return ".jpeg"
	}
	return ".png"
}
