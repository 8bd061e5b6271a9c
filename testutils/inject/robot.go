package inject

import (
	"context"
	"sync/atomic"

	"github.com/pkg/errors"

	"github.com/viamrobotics/scavenger-hunt/connection"
	"github.com/viamrobotics/scavenger-hunt/poller"
)

// Session is an injected machine session. Cameras and Detectors are looked up by name
// unless the corresponding func is set.
type Session struct {
	Cameras      map[string]*Camera
	Detectors    map[string]*Detector
	CameraFunc   func(name string) (connection.Camera, error)
	DetectorFunc func(name string) (poller.Detector, error)
	CloseFunc    func(ctx context.Context) error

	closed atomic.Int64
}

// Camera calls the injected Camera or looks the name up in Cameras.
func (s *Session) Camera(name string) (connection.Camera, error) {
	if s.CameraFunc != nil {
		return s.CameraFunc(name)
	}
	cam, ok := s.Cameras[name]
	if !ok {
		return nil, errors.Errorf("camera %q not found", name)
	}
	return cam, nil
}

// Detector calls the injected Detector or looks the name up in Detectors.
func (s *Session) Detector(name string) (poller.Detector, error) {
	if s.DetectorFunc != nil {
		return s.DetectorFunc(name)
	}
	det, ok := s.Detectors[name]
	if !ok {
		return nil, errors.Errorf("detector %q not found", name)
	}
	return det, nil
}

// Close counts the call and calls the injected Close.
func (s *Session) Close(ctx context.Context) error {
	s.closed.Add(1)
	if s.CloseFunc == nil {
		return nil
	}
	return s.CloseFunc(ctx)
}

// Closed returns how many times Close was called.
func (s *Session) Closed() int {
	return int(s.closed.Load())
}

// Dialer returns a dialer that always yields s, or err when it is non-nil.
func Dialer(s *Session, err error) connection.DialerFunc {
	return func(context.Context, connection.Credentials) (connection.Session, error) {
		if err != nil {
			return nil, err
		}
		return s, nil
	}
}
