package frame

import (
	"image"
	"image/color"
	"image/draw"

	"github.com/fogleman/gg"
	"golang.org/x/image/font/basicfont"
)

// Overlay drawing constants.
const (
	// BorderWidth is the stroke width of the face rectangle in pixels.
	BorderWidth = 3
	// LabelOffsetRatio positions the label above the box as a fraction of the image height.
	LabelOffsetRatio = 0.06
)

// Colours used for overlays.
var (
	ColorSuccess = color.RGBA{R: 0, G: 200, B: 0, A: 255}
	ColorFailure = color.RGBA{R: 220, G: 0, B: 0, A: 255}
	ColorNeutral = color.RGBA{R: 240, G: 200, B: 0, A: 255}
)

// RenderOverlay returns a new image with the face region outlined in c and an
// optional label written above it. Without a face region the copy is returned
// unchanged. The frame's own image is never modified.
func (f Frame) RenderOverlay(c color.Color, label string) image.Image {
	canvas := image.NewRGBA(image.Rect(0, 0, f.width, f.height))
	draw.Draw(canvas, canvas.Bounds(), f.img, f.img.Bounds().Min, draw.Src)

	if f.face == nil {
		return canvas
	}

	r := *f.face
	dc := gg.NewContextForRGBA(canvas)
	dc.SetColor(c)
	dc.SetLineWidth(BorderWidth)
	dc.DrawRectangle(r.X1, r.Y1, r.Width(), r.Height())
	dc.Stroke()

	if label != "" {
		dc.SetFontFace(basicfont.Face7x13)
		dc.DrawString(label, r.X1, r.Y1-float64(f.height)*LabelOffsetRatio)
	}

	return dc.Image()
}
