package detector

import (
	"fmt"
	"image"

	"github.com/ayusman/roomguard/internal/frame"
)

// Detector finds a face in an image.
type Detector interface {
	// Detect returns the bounding box of one face in img in pixel coordinates.
	// The boolean is false when no face is present; that is not an error.
	// Inference failures wrap inference.ErrModelFailure.
	Detect(img image.Image) (frame.Rect, bool, error)

	// Close releases any resources held by the detector.
	Close() error
}

// Backend names accepted by New.
const (
	BackendSidecar = "sidecar"
	BackendCascade = "cascade"
	BackendMock    = "mock"
)

// DefaultOffsetRatio is the margin added around a detected face before cropping.
const DefaultOffsetRatio = 0.05

// Config holds configuration options for face detection.
type Config struct {
	// Python and Script launch the MTCNN service for the sidecar backend.
	Python string
	Script string

	// CascadePath is the Haar cascade XML file for the cascade backend.
	CascadePath string

	// MinFaceSize is the smallest face side, in pixels, the cascade reports.
	MinFaceSize int

	// MinConfidence drops sidecar detections scored below it (0 keeps all).
	MinConfidence float64
}

// DefaultConfig returns a Config with sensible default values.
func DefaultConfig() Config {
	return Config{
		Script:      "mtcnn_service.py",
		CascadePath: "haarcascade_frontalface_default.xml",
		MinFaceSize: 40,
	}
}

// New builds the detector for backend.
func New(backend string, cfg Config) (Detector, error) {
	switch backend {
	case BackendSidecar, "":
		return NewSidecarDetector(cfg)
	case BackendCascade:
		return NewCascadeDetector(cfg)
	case BackendMock:
		return NewMockDetector(), nil
	default:
		return nil, fmt.Errorf("unknown detector backend %q", backend)
	}
}

// Locate runs d on f and returns a frame carrying the detected face region
// grown by offsetRatio. When no face is found the returned frame has no region.
func Locate(d Detector, f frame.Frame, offsetRatio float64) (frame.Frame, bool, error) {
	box, ok, err := d.Detect(f.Image())
	if err != nil {
		return f.ClearFaceRegion(), false, err
	}
	if !ok {
		return f.ClearFaceRegion(), false, nil
	}

	located, err := f.WithFaceRegion(box).ExpandRegion(offsetRatio)
	if err != nil {
		return f.ClearFaceRegion(), false, err
	}
	return located, true, nil
}
