package detector

import (
	"fmt"
	"image"

	"github.com/ayusman/roomguard/internal/frame"
	"github.com/ayusman/roomguard/internal/inference"
)

// SidecarDetector implements Detector using a Python MTCNN subprocess.
type SidecarDetector struct {
	svc           *inference.Sidecar
	minConfidence float64
}

// detectResponse is the JSON line written by the MTCNN service.
type detectResponse struct {
	Boxes [][]float64 `json:"boxes"`
	Probs []float64   `json:"probs"`
}

// NewSidecarDetector creates a new MTCNN detector.
// The Python process is started lazily on first detection.
func NewSidecarDetector(cfg Config) (*SidecarDetector, error) {
	svc, err := inference.NewSidecar(inference.Config{
		Name:   "face detector",
		Python: cfg.Python,
		Script: cfg.Script,
	})
	if err != nil {
		return nil, err
	}

	return &SidecarDetector{svc: svc, minConfidence: cfg.MinConfidence}, nil
}

// Detect sends img to the service and returns its first face.
func (d *SidecarDetector) Detect(img image.Image) (frame.Rect, bool, error) {
	var resp detectResponse
	if err := d.svc.Call(img, &resp); err != nil {
		return frame.Rect{}, false, fmt.Errorf("detect: %w", err)
	}
	return firstFace(resp, d.minConfidence)
}

// Close shuts down the Python process.
func (d *SidecarDetector) Close() error {
	return d.svc.Close()
}

// firstFace picks the first box the service reported, skipping any below
// minConfidence. MTCNN orders boxes by score.
func firstFace(resp detectResponse, minConfidence float64) (frame.Rect, bool, error) {
	for i, b := range resp.Boxes {
		if len(b) != 4 {
			return frame.Rect{}, false, fmt.Errorf("%w: box %d has %d coordinates", inference.ErrModelFailure, i, len(b))
		}
		if minConfidence > 0 && i < len(resp.Probs) && resp.Probs[i] < minConfidence {
			continue
		}

		r := frame.Rect{X1: b[0], Y1: b[1], X2: b[2], Y2: b[3]}
		if !r.Valid() {
			continue
		}
		return r, true, nil
	}
	return frame.Rect{}, false, nil
}
