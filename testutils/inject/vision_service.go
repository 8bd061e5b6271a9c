// Package inject provides fakes of the machine-facing interfaces whose behavior is
// supplied per test through function fields.
package inject

import (
	"context"
	"sync/atomic"

	"github.com/pkg/errors"

	"github.com/viamrobotics/scavenger-hunt/detection"
)

// Detector is an injected detector.
type Detector struct {
	Name                     string
	DetectionsFromCameraFunc func(ctx context.Context, cameraName string, extra map[string]interface{}) ([]detection.Detection, error)
	calls                    atomic.Int64
}

// DetectionsFromCamera calls the injected DetectionsFromCamera or returns an error.
func (d *Detector) DetectionsFromCamera(
	ctx context.Context,
	cameraName string,
	extra map[string]interface{},
) ([]detection.Detection, error) {
	d.calls.Add(1)
	if d.DetectionsFromCameraFunc == nil {
		return nil, errors.Errorf("detector %q: DetectionsFromCamera not injected", d.Name)
	}
	return d.DetectionsFromCameraFunc(ctx, cameraName, extra)
}

// Calls returns how many times DetectionsFromCamera was called.
func (d *Detector) Calls() int {
	return int(d.calls.Load())
}

// StaticDetector returns a Detector that always returns dets.
func StaticDetector(name string, dets ...detection.Detection) *Detector {
	return &Detector{
		Name: name,
		DetectionsFromCameraFunc: func(context.Context, string, map[string]interface{}) ([]detection.Detection, error) {
			return append([]detection.Detection(nil), dets...), nil
		},
	}
}
