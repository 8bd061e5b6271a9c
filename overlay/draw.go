package overlay

import (
	"image/color"

	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"
)

var labelFont *truetype.Font

func init() {
	var err error
	labelFont, err = truetype.Parse(goregular.TTF)
	if err != nil {
		panic(err)
	}
}

// newFace returns a face of the label font at the given point size. Faces cache glyphs
// and are not safe for concurrent use, so each render gets its own.
func newFace(size float64) font.Face {
	return truetype.NewFace(labelFont, &truetype.Options{Size: size})
}

// drawRectangleEmpty strokes the outline of the rectangle (x, y, w, h).
func drawRectangleEmpty(dc *gg.Context, x, y, w, h float64, c color.Color, width float64) {
	dc.SetColor(c)
	dc.SetLineWidth(width)
	dc.DrawRectangle(x, y, w, h)
	dc.Stroke()
}

// drawRectangleFilled fills the rectangle (x, y, w, h).
func drawRectangleFilled(dc *gg.Context, x, y, w, h float64, c color.Color) {
	dc.SetColor(c)
	dc.DrawRectangle(x, y, w, h)
	dc.Fill()
}

// drawString writes text with its baseline at (x, y).
func drawString(dc *gg.Context, text string, x, y float64, c color.Color) {
	dc.SetColor(c)
	dc.DrawString(text, x, y)
}
