package embedder

import (
	"fmt"
	"image"

	"github.com/ayusman/roomguard/internal/inference"
)

// SidecarEmbedder implements Embedder using a Python FaceNet subprocess.
type SidecarEmbedder struct {
	svc *inference.Sidecar
	dim int
}

type embedResponse struct {
	Embedding []float32 `json:"embedding"`
}

// NewSidecarEmbedder creates an embedder backed by the FaceNet service.
// The service resizes and normalises the crop itself.
func NewSidecarEmbedder(cfg Config) (*SidecarEmbedder, error) {
	svc, err := inference.NewSidecar(inference.Config{
		Name:   "face embedder",
		Python: cfg.Python,
		Script: cfg.Script,
	})
	if err != nil {
		return nil, err
	}
	return &SidecarEmbedder{svc: svc, dim: cfg.Dim}, nil
}

// Embed sends face to the service.
func (e *SidecarEmbedder) Embed(face image.Image) ([]float32, error) {
	if face == nil {
		return nil, nil
	}

	var resp embedResponse
	if err := e.svc.Call(face, &resp); err != nil {
		return nil, fmt.Errorf("embed: %w", err)
	}
	return checkEmbedding(resp.Embedding, e.dim)
}

// Close shuts down the Python process.
func (e *SidecarEmbedder) Close() error {
	return e.svc.Close()
}

func checkEmbedding(v []float32, dim int) ([]float32, error) {
	if len(v) == 0 {
		return nil, fmt.Errorf("%w: empty embedding", inference.ErrModelFailure)
	}
	if dim > 0 && len(v) != dim {
		return nil, fmt.Errorf("%w: embedding has %d values, want %d", inference.ErrModelFailure, len(v), dim)
	}
	return v, nil
}
