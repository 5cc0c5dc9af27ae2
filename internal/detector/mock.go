package detector

import (
	"image"
	"sync"

	"github.com/ayusman/roomguard/internal/frame"
)

// MockDetector is a test implementation of the Detector interface.
// It allows tests to control the detection results.
type MockDetector struct {
	mu    sync.Mutex
	face  *frame.Rect
	err   error
	calls int
}

// NewMockDetector creates a new MockDetector that reports no face.
func NewMockDetector() *MockDetector {
	return &MockDetector{}
}

// SetFace makes Detect report r.
func (m *MockDetector) SetFace(r frame.Rect) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.face = &r
	m.err = nil
}

// SetNoFace makes Detect report that no face is present.
func (m *MockDetector) SetNoFace() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.face = nil
	m.err = nil
}

// SetError sets the error that will be returned by Detect.
func (m *MockDetector) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Calls returns how many times Detect has been called.
func (m *MockDetector) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Detect returns the pre-configured face or error.
func (m *MockDetector) Detect(img image.Image) (frame.Rect, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls++
	if m.err != nil {
		return frame.Rect{}, false, m.err
	}
	if m.face == nil {
		return frame.Rect{}, false, nil
	}
	return *m.face, true, nil
}

// Close is a no-op for the mock detector.
func (m *MockDetector) Close() error {
	return nil
}
