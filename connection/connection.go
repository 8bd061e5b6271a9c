// Package connection opens the session to the machine and hands out the camera, video
// stream and detector handles the game needs.
package connection

import (
	"context"
	"image"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.viam.com/rdk/logging"

	"github.com/viamrobotics/scavenger-hunt/poller"
	"github.com/viamrobotics/scavenger-hunt/stream"
)

const (
	// DefaultCameraName is the camera the game watches.
	DefaultCameraName = "cam"
	// DefaultHouseholdDetector is the vision service trained on household objects.
	DefaultHouseholdDetector = "myPeopleDetector"
	// DefaultCustomDetector is the vision service trained on the scavenger objects.
	DefaultCustomDetector = "scavengerCustomDetector"
)

// ErrNotConnected is returned by operations that need a machine before one is connected.
var ErrNotConnected = errors.New("not connected to a machine")

// A Camera is a handle on the machine's camera.
type Camera interface {
	// Frame returns the current image decoded.
	Frame(ctx context.Context) (image.Image, error)
	// ImageBytes returns the current image as encoded by the camera, with its mime type.
	ImageBytes(ctx context.Context) ([]byte, string, error)
}

// A Session is an open connection to a machine.
type Session interface {
	Camera(name string) (Camera, error)
	Detector(name string) (poller.Detector, error)
	Close(ctx context.Context) error
}

// A Dialer opens sessions.
type Dialer interface {
	Dial(ctx context.Context, creds Credentials) (Session, error)
}

// DialerFunc adapts a function to a Dialer.
type DialerFunc func(ctx context.Context, creds Credentials) (Session, error)

// Dial calls f.
func (f DialerFunc) Dial(ctx context.Context, creds Credentials) (Session, error) {
	return f(ctx, creds)
}

// Credentials authenticate a session with an API key.
type Credentials struct {
	Host             string
	APIKeyID         string
	APIKey           string
	SignalingAddress string
}

// Validate reports the first missing credential.
func (c Credentials) Validate() error {
	switch {
	case c.Host == "":
		return errors.New("machine host is required")
	case c.APIKeyID == "":
		return errors.New("API key id is required")
	case c.APIKey == "":
		return errors.New("API key is required")
	}
	return nil
}

// Config describes which resources to open on the machine.
type Config struct {
	Credentials
	CameraName        string
	HouseholdDetector string
	CustomDetector    string
	Stream            stream.Config
}

func (cfg *Config) setDefaults() {
	if cfg.CameraName == "" {
		cfg.CameraName = DefaultCameraName
	}
	if cfg.HouseholdDetector == "" {
		cfg.HouseholdDetector = DefaultHouseholdDetector
	}
	if cfg.CustomDetector == "" {
		cfg.CustomDetector = DefaultCustomDetector
	}
}

// Machine owns the session and every handle obtained from it. Close releases all of them.
type Machine struct {
	CameraName string
	Camera     Camera
	Stream     *stream.Stream
	Household  poller.Detector
	Custom     poller.Detector

	session Session
	logger  logging.Logger
}

// Connect opens one session and resolves the camera and both detectors. The video
// stream is started before returning.
func Connect(ctx context.Context, cfg Config, dialer Dialer, logger logging.Logger) (*Machine, error) {
	cfg.setDefaults()
	if err := cfg.Credentials.Validate(); err != nil {
		return nil, err
	}
	logger.CDebugw(ctx, "connecting to machine", "host", cfg.Host)
	session, err := dialer.Dial(ctx, cfg.Credentials)
	if err != nil {
		return nil, errors.Wrapf(err, "connecting to %s", cfg.Host)
	}

	m := &Machine{CameraName: cfg.CameraName, session: session, logger: logger}
	if err := m.resolve(cfg); err != nil {
		return nil, multierr.Combine(err, session.Close(ctx))
	}
	m.Stream = stream.New(cfg.CameraName, m.Camera, cfg.Stream, logger.Sublogger("stream"))
	m.Stream.Start()
	logger.Infow("connected to machine", "host", cfg.Host, "camera", cfg.CameraName)
	return m, nil
}

func (m *Machine) resolve(cfg Config) error {
	var err error
	if m.Camera, err = m.session.Camera(cfg.CameraName); err != nil {
		return errors.Wrapf(err, "camera %q", cfg.CameraName)
	}
	if m.Household, err = m.session.Detector(cfg.HouseholdDetector); err != nil {
		return errors.Wrapf(err, "detector %q", cfg.HouseholdDetector)
	}
	if m.Custom, err = m.session.Detector(cfg.CustomDetector); err != nil {
		return errors.Wrapf(err, "detector %q", cfg.CustomDetector)
	}
	return nil
}

// Close stops the video stream and disconnects. The session is closed even when the
// stream had already failed.
func (m *Machine) Close(ctx context.Context) error {
	if m == nil {
		return nil
	}
	if m.Stream != nil {
		m.Stream.Stop()
		if err := m.Stream.Err(); err != nil {
			m.logger.Debugw("stream had stopped with an error", "error", err)
		}
	}
	if m.session == nil {
		return nil
	}
	return errors.Wrap(m.session.Close(ctx), "disconnecting")
}
