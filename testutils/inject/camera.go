package inject

import (
	"context"
	"image"
	"image/color"

	"github.com/pkg/errors"
)

// Camera is an injected camera handle.
type Camera struct {
	FrameFunc      func(ctx context.Context) (image.Image, error)
	ImageBytesFunc func(ctx context.Context) ([]byte, string, error)
}

// Frame calls the injected Frame or returns an error.
func (c *Camera) Frame(ctx context.Context) (image.Image, error) {
	if c.FrameFunc == nil {
		return nil, errors.New("Frame not injected")
	}
	return c.FrameFunc(ctx)
}

// ImageBytes calls the injected ImageBytes or returns an error.
func (c *Camera) ImageBytes(ctx context.Context) ([]byte, string, error) {
	if c.ImageBytesFunc == nil {
		return nil, "", errors.New("ImageBytes not injected")
	}
	return c.ImageBytesFunc(ctx)
}

// SolidImage returns a width x height image filled with c.
func SolidImage(width, height int, c color.Color) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

// StaticCamera returns a camera that always yields img.
func StaticCamera(img image.Image) *Camera {
	return &Camera{
		FrameFunc: func(context.Context) (image.Image, error) {
			return img, nil
		},
	}
}
