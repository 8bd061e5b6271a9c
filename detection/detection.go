// Package detection holds the bounding-box detections produced by the household and
// custom vision services, tagged with the detector that produced them.
package detection

import (
	"fmt"
	"image"
	"strings"

	"github.com/pkg/errors"
)

// DefaultConfidenceThreshold is the score a detection must strictly exceed to be kept.
const DefaultConfidenceThreshold = 0.3

// ResolveThreshold returns the configured threshold, or DefaultConfidenceThreshold when
// none is set. Zero is a valid threshold that keeps every scored detection.
func ResolveThreshold(threshold *float64) float64 {
	if threshold == nil {
		return DefaultConfidenceThreshold
	}
	return *threshold
}

// ValidateThreshold checks that a threshold lies in [0, 1).
func ValidateThreshold(threshold float64) error {
	if threshold < 0 || threshold >= 1 {
		return errors.Errorf("confidence threshold must be in [0, 1), got %v", threshold)
	}
	return nil
}

// Source identifies which of the two detectors produced a Detection.
type Source string

const (
	// SourceHousehold is the stock detector trained on common household objects.
	SourceHousehold Source = "household"
	// SourceCustom is the detector trained on the scavenger-specific objects.
	SourceCustom Source = "custom"
)

// ErrUnknownSource is returned when parsing a name that is not a detector source.
var ErrUnknownSource = errors.New("unknown detection source")

// Sources lists every detector source in merge order.
var Sources = []Source{SourceHousehold, SourceCustom}

// Valid reports whether s is a known source.
func (s Source) Valid() bool {
	return s == SourceHousehold || s == SourceCustom
}

// ParseSource converts a string to a Source.
func ParseSource(s string) (Source, error) {
	src := Source(strings.ToLower(strings.TrimSpace(s)))
	if !src.Valid() {
		return "", errors.Wrapf(ErrUnknownSource, "%q", s)
	}
	return src, nil
}

// A Detection is a labeled bounding box in the native pixel space of the video frame
// it was computed on.
type Detection struct {
	XMin       float64 `json:"x_min"`
	YMin       float64 `json:"y_min"`
	XMax       float64 `json:"x_max"`
	YMax       float64 `json:"y_max"`
	ClassName  string  `json:"class_name"`
	Confidence float64 `json:"confidence"`
	Source     Source  `json:"source"`
}

// FromRectangle builds a Detection from an integer bounding box.
func FromRectangle(box image.Rectangle, className string, confidence float64, src Source) Detection {
	return Detection{
		XMin:       float64(box.Min.X),
		YMin:       float64(box.Min.Y),
		XMax:       float64(box.Max.X),
		YMax:       float64(box.Max.Y),
		ClassName:  className,
		Confidence: confidence,
		Source:     src,
	}
}

// Width of the box in native pixels.
func (d Detection) Width() float64 {
	return d.XMax - d.XMin
}

// Height of the box in native pixels.
func (d Detection) Height() float64 {
	return d.YMax - d.YMin
}

// Label is the human readable caption drawn above the box, e.g. "Apple (87.5%)".
func (d Detection) Label() string {
	return fmt.Sprintf("%s (%.1f%%)", d.ClassName, d.Confidence*100)
}

// Matches reports whether the detection names the given target, ignoring case.
func (d Detection) Matches(target string) bool {
	return strings.EqualFold(d.ClassName, target)
}

// Qualifies reports whether the detection's confidence strictly exceeds threshold.
func (d Detection) Qualifies(threshold float64) bool {
	return d.Confidence > threshold
}

// Filter returns the detections whose confidence exceeds threshold, tagged with src.
// The input slice is not modified.
func Filter(dets []Detection, threshold float64, src Source) []Detection {
	out := make([]Detection, 0, len(dets))
	for _, d := range dets {
		if !d.Qualifies(threshold) {
			continue
		}
		d.Source = src
		out = append(out, d)
	}
	return out
}

// FirstMatch returns the first detection that qualifies under threshold and names target.
func FirstMatch(dets []Detection, target string, threshold float64) (Detection, bool) {
	for _, d := range dets {
		if d.Qualifies(threshold) && d.Matches(target) {
			return d, true
		}
	}
	return Detection{}, false
}
