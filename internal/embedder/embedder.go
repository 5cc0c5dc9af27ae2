// Package embedder turns a cropped face into a fixed-length feature vector.
package embedder

import (
	"fmt"
	"image"
)

// Embedder maps a face crop to an embedding.
type Embedder interface {
	// Embed returns the embedding for face. A nil face yields a nil vector and
	// no error. Inference failures wrap inference.ErrModelFailure.
	Embed(face image.Image) ([]float32, error)

	// Close releases any resources held by the embedder.
	Close() error
}

// Backend names accepted by New.
const (
	BackendSidecar = "sidecar"
	BackendMock    = "mock"
)

// DefaultDim is the output size of InceptionResnetV1.
const DefaultDim = 512

// Config holds configuration options for the embedding model.
type Config struct {
	Python string
	Script string

	// Dim is the expected embedding length; replies of another length are rejected.
	Dim int
}

// DefaultConfig returns a Config for the FaceNet service.
func DefaultConfig() Config {
	return Config{
		Script: "facenet_service.py",
		Dim:    DefaultDim,
	}
}

// New builds the embedder for backend.
func New(backend string, cfg Config) (Embedder, error) {
	switch backend {
	case BackendSidecar, "":
		return NewSidecarEmbedder(cfg)
	case BackendMock:
		return NewMockEmbedder(cfg.Dim), nil
	default:
		return nil, fmt.Errorf("unknown embedder backend %q", backend)
	}
}
