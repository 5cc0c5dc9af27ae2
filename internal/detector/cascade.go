package detector

import (
	"fmt"
	"image"
	"sync"

	"gocv.io/x/gocv"

	"github.com/ayusman/roomguard/internal/frame"
	"github.com/ayusman/roomguard/internal/inference"
)

// CascadeDetector implements Detector with an OpenCV Haar cascade. It needs
// no Python runtime and is useful on machines without the MTCNN service.
type CascadeDetector struct {
	mu         sync.Mutex
	classifier gocv.CascadeClassifier
	minSize    image.Point
}

var cascadeSearchPaths = []string{
	"/usr/local/share/opencv4/haarcascades",
	"/usr/share/opencv4/haarcascades",
	"/opt/homebrew/share/opencv4/haarcascades",
}

// NewCascadeDetector loads the cascade file named in cfg. A bare file name is
// also looked up in the usual OpenCV install locations.
func NewCascadeDetector(cfg Config) (*CascadeDetector, error) {
	classifier := gocv.NewCascadeClassifier()

	loaded := classifier.Load(cfg.CascadePath)
	for _, dir := range cascadeSearchPaths {
		if loaded {
			break
		}
		loaded = classifier.Load(dir + "/" + cfg.CascadePath)
	}
	if !loaded {
		classifier.Close()
		return nil, fmt.Errorf("load face cascade %q", cfg.CascadePath)
	}

	minSize := cfg.MinFaceSize
	if minSize <= 0 {
		minSize = DefaultConfig().MinFaceSize
	}

	return &CascadeDetector{
		classifier: classifier,
		minSize:    image.Pt(minSize, minSize),
	}, nil
}

// Detect returns the largest face found in img.
func (d *CascadeDetector) Detect(img image.Image) (frame.Rect, bool, error) {
	mat, err := gocv.ImageToMatRGB(img)
	if err != nil {
		return frame.Rect{}, false, fmt.Errorf("%w: convert image: %v", inference.ErrModelFailure, err)
	}
	defer mat.Close()

	gray := gocv.NewMat()
	defer gray.Close()
	gocv.CvtColor(mat, &gray, gocv.ColorBGRToGray)
	gocv.EqualizeHist(gray, &gray)

	d.mu.Lock()
	faces := d.classifier.DetectMultiScaleWithParams(gray, 1.1, 4, 0, d.minSize, image.Point{})
	d.mu.Unlock()

	best, ok := largest(faces)
	if !ok {
		return frame.Rect{}, false, nil
	}

	// Mat coordinates start at (0,0) whatever the source bounds were.
	return frame.Rect{
		X1: float64(best.Min.X),
		Y1: float64(best.Min.Y),
		X2: float64(best.Max.X),
		Y2: float64(best.Max.Y),
	}, true, nil
}

// Close releases the classifier.
func (d *CascadeDetector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.classifier.Close()
}

func largest(rects []image.Rectangle) (image.Rectangle, bool) {
	var best image.Rectangle
	area := 0
	for _, r := range rects {
		if a := r.Dx() * r.Dy(); a > area {
			best, area = r, a
		}
	}
	return best, area > 0
}
