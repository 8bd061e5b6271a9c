// Package overlay paints detection boxes onto a transparent surface aligned with the
// displayed video.
//
// Detectors report boxes in the native resolution of the camera frame while the video
// is shown at whatever size the page lays it out, so every draw rescales each box by
// displayed/native, independently per axis.
package overlay

import (
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"io"
	"sync"

	"github.com/fogleman/gg"
	"github.com/lucasb-eyer/go-colorful"
	"github.com/pkg/errors"

	"github.com/viamrobotics/scavenger-hunt/detection"
)

// Default colors of the boxes, keyed by detector.
const (
	DefaultHouseholdColor = "#38B2AC"
	DefaultCustomColor    = "#F56565"
)

// ErrNoNativeSize is returned when the native frame size is not known yet.
var ErrNoNativeSize = errors.New("native video size is unknown")

// Box is a rectangle in display pixel space.
type Box struct {
	X1, Y1, X2, Y2 float64
}

// Width of the box.
func (b Box) Width() float64 { return b.X2 - b.X1 }

// Height of the box.
func (b Box) Height() float64 { return b.Y2 - b.Y1 }

// Scale maps a detection from native video pixels to display pixels.
func Scale(d detection.Detection, native, display image.Point) (Box, error) {
	if native.X <= 0 || native.Y <= 0 {
		return Box{}, ErrNoNativeSize
	}
	sx := float64(display.X) / float64(native.X)
	sy := float64(display.Y) / float64(native.Y)
	return Box{
		X1: d.XMin * sx,
		Y1: d.YMin * sy,
		X2: d.XMax * sx,
		Y2: d.YMax * sy,
	}, nil
}

// Style describes how boxes and labels are drawn.
type Style struct {
	HouseholdColor string
	CustomColor    string
	LineWidth      float64
	FontSize       float64
	LabelHeight    float64
	LabelPadding   float64
	LabelAlpha     float64
}

// DefaultStyle matches the look of the game page.
func DefaultStyle() Style {
	return Style{
		HouseholdColor: DefaultHouseholdColor,
		CustomColor:    DefaultCustomColor,
		LineWidth:      2,
		FontSize:       12,
		LabelHeight:    20,
		LabelPadding:   5,
		LabelAlpha:     0.8,
	}
}

type palette struct {
	stroke color.Color
	label  color.Color
}

// Renderer draws detection overlays. It is safe for concurrent use.
type Renderer struct {
	style  Style
	colors map[detection.Source]palette

	mu      sync.Mutex
	enabled bool
}

// NewRenderer returns a disabled renderer using style.
func NewRenderer(style Style) (*Renderer, error) {
	colors := map[detection.Source]palette{}
	for src, hex := range map[detection.Source]string{
		detection.SourceHousehold: style.HouseholdColor,
		detection.SourceCustom:    style.CustomColor,
	} {
		c, err := colorful.Hex(hex)
		if err != nil {
			return nil, errors.Wrapf(err, "bad %s color %q", src, hex)
		}
		r, g, b := c.RGB255()
		colors[src] = palette{
			stroke: color.NRGBA{R: r, G: g, B: b, A: 0xff},
			label:  color.NRGBA{R: r, G: g, B: b, A: uint8(style.LabelAlpha * 0xff)},
		}
	}
	return &Renderer{style: style, colors: colors}, nil
}

// SetEnabled turns drawing on or off. Once disabled, every render returns a cleared
// surface, even for detections computed while it was enabled.
func (r *Renderer) SetEnabled(enabled bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.enabled = enabled
}

// Enabled reports whether overlays are drawn.
func (r *Renderer) Enabled() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.enabled
}

// Render returns a transparent surface of the display size with every detection drawn
// on it. The native size is the resolution the detections were computed at.
func (r *Renderer) Render(dets []detection.Detection, native, display image.Point) *image.RGBA {
	r.mu.Lock()
	defer r.mu.Unlock()

	surface := image.NewRGBA(image.Rect(0, 0, max(display.X, 0), max(display.Y, 0)))
	if !r.enabled || len(dets) == 0 || surface.Bounds().Empty() {
		return surface
	}
	dc := gg.NewContextForRGBA(surface)
	dc.SetFontFace(newFace(r.style.FontSize))
	for _, d := range dets {
		box, err := Scale(d, native, display)
		if err != nil {
			return surface
		}
		r.drawDetection(dc, d, box)
	}
	return surface
}

// Annotate returns a copy of frame with the detections drawn at native scale.
func (r *Renderer) Annotate(frame image.Image, dets []detection.Detection) *image.RGBA {
	r.mu.Lock()
	defer r.mu.Unlock()

	bounds := frame.Bounds()
	out := image.NewRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	draw.Draw(out, out.Bounds(), frame, bounds.Min, draw.Src)
	if len(dets) == 0 {
		return out
	}
	dc := gg.NewContextForRGBA(out)
	dc.SetFontFace(newFace(r.style.FontSize))
	size := out.Bounds().Size()
	for _, d := range dets {
		box, err := Scale(d, size, size)
		if err != nil {
			break
		}
		r.drawDetection(dc, d, box)
	}
	return out
}

func (r *Renderer) drawDetection(dc *gg.Context, d detection.Detection, box Box) {
	colors, ok := r.colors[d.Source]
	if !ok {
		colors = r.colors[detection.SourceHousehold]
	}
	drawRectangleEmpty(dc, box.X1, box.Y1, box.Width(), box.Height(), colors.stroke, r.style.LineWidth)

	text := d.Label()
	textWidth, _ := dc.MeasureString(text)
	drawRectangleFilled(dc, box.X1, box.Y1-r.style.LabelHeight, textWidth+2*r.style.LabelPadding, r.style.LabelHeight, colors.label)
	drawString(dc, text, box.X1+r.style.LabelPadding, box.Y1-r.style.LabelPadding, color.White)
}

// EncodePNG writes img as a PNG, preserving transparency.
func EncodePNG(w io.Writer, img image.Image) error {
	return png.Encode(w, img)
}
