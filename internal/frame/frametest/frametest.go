// Package frametest builds synthetic images for tests that need frames without a camera.
package frametest

import (
	"image"
	"image/color"
	"image/draw"
)

// Default synthetic frame size, matching the camera capture resolution.
const (
	Width  = 640
	Height = 480
)

// Solid returns a w x h RGBA image filled with c.
func Solid(w, h int, c color.Color) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: c}, image.Point{}, draw.Src)
	return img
}

// Blank returns a black frame of the default size.
func Blank() *image.RGBA {
	return Solid(Width, Height, color.Black)
}

// WithPatch returns a black w x h image with a filled rectangle of colour c at r.
// Tests use it as a stand-in for a face.
func WithPatch(w, h int, r image.Rectangle, c color.Color) *image.RGBA {
	img := Solid(w, h, color.Black)
	draw.Draw(img, r, &image.Uniform{C: c}, image.Point{}, draw.Src)
	return img
}

// Gradient returns a w x h image whose pixel at (x,y) encodes its coordinates,
// so crops can be checked pixel by pixel.
func Gradient(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 0, A: 255})
		}
	}
	return img
}

// Sequence returns n copies of img, useful for feeding a session or mock camera.
func Sequence(img image.Image, n int) []image.Image {
	frames := make([]image.Image, n)
	for i := range frames {
		frames[i] = img
	}
	return frames
}
