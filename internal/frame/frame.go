// Package frame holds a captured image together with the face region found in it.
//
// A Frame is a value: every operation that changes the face region returns a new
// Frame and leaves the receiver untouched, so a detection stage can never leak
// state into a later crop or overlay of a different frame.
package frame

import (
	"errors"
	"fmt"
	"image"
	"image/draw"
	_ "image/jpeg"
	_ "image/png"
	"math"
	"os"
)

var (
	// ErrInvalidInput is returned when a frame is built from a missing or empty image.
	ErrInvalidInput = errors.New("invalid input")
	// ErrNoFaceRegion is returned when an operation needs a face region that was never set.
	ErrNoFaceRegion = errors.New("frame has no face region")
	// ErrEmptyCrop is returned when the face region lies entirely outside the image.
	ErrEmptyCrop = errors.New("face region does not overlap the image")
)

// Rect is an axis-aligned rectangle in image pixel coordinates.
// X1,Y1 is the top-left corner and X2,Y2 the bottom-right corner.
type Rect struct {
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
	X2 float64 `json:"x2"`
	Y2 float64 `json:"y2"`
}

// Width returns the horizontal extent of the rectangle.
func (r Rect) Width() float64 { return r.X2 - r.X1 }

// Height returns the vertical extent of the rectangle.
func (r Rect) Height() float64 { return r.Y2 - r.Y1 }

// Valid reports whether the corners are strictly ordered.
func (r Rect) Valid() bool { return r.X1 < r.X2 && r.Y1 < r.Y2 }

// Frame is one image plus an optional face region.
type Frame struct {
	img    image.Image
	width  int
	height int
	face   *Rect
}

// New creates a Frame from img. The face region starts out absent.
func New(img image.Image) (Frame, error) {
	if img == nil {
		return Frame{}, fmt.Errorf("%w: image is required", ErrInvalidInput)
	}

	b := img.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return Frame{}, fmt.Errorf("%w: image has empty bounds %v", ErrInvalidInput, b)
	}

	return Frame{
		img:    img,
		width:  b.Dx(),
		height: b.Dy(),
	}, nil
}

// Load decodes the image file at path and wraps it in a Frame.
func Load(path string) (Frame, error) {
	f, err := os.Open(path)
	if err != nil {
		return Frame{}, fmt.Errorf("%w: open %s: %v", ErrInvalidInput, path, err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return Frame{}, fmt.Errorf("%w: decode %s: %v", ErrInvalidInput, path, err)
	}

	return New(img)
}

// Image returns the underlying image. Callers must not modify it.
func (f Frame) Image() image.Image { return f.img }

// Width returns the image width in pixels.
func (f Frame) Width() int { return f.width }

// Height returns the image height in pixels.
func (f Frame) Height() int { return f.height }

// Bounds returns the outer bounds of the frame, always (0,0,Width,Height).
func (f Frame) Bounds() Rect {
	return Rect{X1: 0, Y1: 0, X2: float64(f.width), Y2: float64(f.height)}
}

// FaceRegion returns the face region and whether one is set.
func (f Frame) FaceRegion() (Rect, bool) {
	if f.face == nil {
		return Rect{}, false
	}
	return *f.face, true
}

// HasFace reports whether a face region is set.
func (f Frame) HasFace() bool { return f.face != nil }

// WithFaceRegion returns a copy of f whose face region is r.
// No bounds validation is done beyond what the caller guarantees.
func (f Frame) WithFaceRegion(r Rect) Frame {
	f.face = &r
	return f
}

// ClearFaceRegion returns a copy of f without a face region.
func (f Frame) ClearFaceRegion() Frame {
	f.face = nil
	return f
}

// ExpandRegion grows the face region symmetrically. The margin added to each
// side is ratio/2 of the image width horizontally and ratio/2 of the image
// height vertically; it is not proportional to the face box. The result may
// extend past the image bounds.
func (f Frame) ExpandRegion(ratio float64) (Frame, error) {
	if f.face == nil {
		return f, fmt.Errorf("expand region: %w", ErrNoFaceRegion)
	}

	dx := float64(f.width) * ratio / 2
	dy := float64(f.height) * ratio / 2

	r := *f.face
	return f.WithFaceRegion(Rect{
		X1: r.X1 - dx,
		Y1: r.Y1 - dy,
		X2: r.X2 + dx,
		Y2: r.Y2 + dy,
	}), nil
}

// PixelRegion returns the face region rounded to whole pixels and clamped to the
// image bounds, in frame coordinates.
func (f Frame) PixelRegion() (image.Rectangle, error) {
	if f.face == nil {
		return image.Rectangle{}, fmt.Errorf("pixel region: %w", ErrNoFaceRegion)
	}

	r := *f.face
	px := image.Rect(
		int(math.Round(r.X1)),
		int(math.Round(r.Y1)),
		int(math.Round(r.X2)),
		int(math.Round(r.Y2)),
	)

	px = px.Intersect(image.Rect(0, 0, f.width, f.height))
	if px.Empty() {
		return image.Rectangle{}, fmt.Errorf("%w: region %+v on %dx%d image", ErrEmptyCrop, r, f.width, f.height)
	}
	return px, nil
}

// CropFace returns the part of the image inside the face region as a new image
// with its origin at (0,0). Coordinates outside the canvas are clamped.
func (f Frame) CropFace() (image.Image, error) {
	px, err := f.PixelRegion()
	if err != nil {
		return nil, fmt.Errorf("crop face: %w", err)
	}

	origin := f.img.Bounds().Min
	dst := image.NewRGBA(image.Rect(0, 0, px.Dx(), px.Dy()))
	draw.Draw(dst, dst.Bounds(), f.img, px.Min.Add(origin), draw.Src)

	return dst, nil
}
