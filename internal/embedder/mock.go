package embedder

import (
	"image"
	"sync"
)

// MockEmbedder is a test implementation of the Embedder interface.
// Queued vectors are returned first, one per call; after that every call
// returns the fixed vector.
type MockEmbedder struct {
	mu     sync.Mutex
	fixed  []float32
	queue  [][]float32
	err    error
	calls  int
	closed bool
}

// NewMockEmbedder creates a mock whose fixed vector is the first unit vector of length dim.
func NewMockEmbedder(dim int) *MockEmbedder {
	if dim <= 0 {
		dim = DefaultDim
	}
	v := make([]float32, dim)
	v[0] = 1
	return &MockEmbedder{fixed: v}
}

// SetEmbedding sets the vector returned once the queue is empty.
func (m *MockEmbedder) SetEmbedding(v []float32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fixed = v
}

// Enqueue adds vectors to be returned by the next calls, in order.
func (m *MockEmbedder) Enqueue(vs ...[]float32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queue = append(m.queue, vs...)
}

// SetError sets the error that will be returned by Embed.
func (m *MockEmbedder) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Calls returns how many non-nil faces have been embedded.
func (m *MockEmbedder) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Closed reports whether Close was called.
func (m *MockEmbedder) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// Embed returns the next configured vector or error.
func (m *MockEmbedder) Embed(face image.Image) ([]float32, error) {
	if face == nil {
		return nil, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls++
	if m.err != nil {
		return nil, m.err
	}

	v := m.fixed
	if len(m.queue) > 0 {
		v = m.queue[0]
		m.queue = m.queue[1:]
	}

	out := make([]float32, len(v))
	copy(out, v)
	return out, nil
}

// Close marks the mock closed.
func (m *MockEmbedder) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
