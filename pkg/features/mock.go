package features

import (
	"hash/fnv"
	"math"
	"sync"

	"github.com/teslashibe/go-teachable/pkg/capture"
)

// Mock implements Extractor for testing.
// Without ExtractFunc it hashes the frame bytes into a deterministic unit vector.
type Mock struct {
	// ExtractFunc overrides the default vector computation.
	ExtractFunc func(frame capture.Frame) ([]float32, error)

	pool *Pool

	mu    sync.Mutex
	calls int
}

// NewMock creates a mock extractor producing vectors of length dim.
func NewMock(dim int) *Mock {
	return &Mock{pool: NewPool(dim)}
}

// Extract implements Extractor.
func (m *Mock) Extract(frame capture.Frame) (*Embedding, error) {
	m.mu.Lock()
	m.calls++
	fn := m.ExtractFunc
	m.mu.Unlock()

	if fn != nil {
		vec, err := fn(frame)
		if err != nil {
			return nil, err
		}
		return m.pool.New(vec), nil
	}

	if len(frame.JPEG) == 0 {
		return nil, ErrEmptyFrame
	}
	return m.pool.New(hashVector(frame.JPEG, m.pool.Dim())), nil
}

// Dim implements Extractor.
func (m *Mock) Dim() int {
	return m.pool.Dim()
}

// Pool implements Extractor.
func (m *Mock) Pool() *Pool {
	return m.pool
}

// Close implements Extractor.
func (m *Mock) Close() error {
	return nil
}

// Calls returns how many times Extract ran.
func (m *Mock) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func hashVector(data []byte, dim int) []float32 {
	vec := make([]float32, dim)
	h := fnv.New64a()
	h.Write(data)
	seed := h.Sum64()

	var norm float64
	for i := range vec {
		// xorshift64
		seed ^= seed << 13
		seed ^= seed >> 7
		seed ^= seed << 17
		v := float64(seed%2000)/1000 - 1
		vec[i] = float32(v)
		norm += v * v
	}
	if norm > 0 {
		inv := float32(1 / math.Sqrt(norm))
		for i := range vec {
			vec[i] *= inv
		}
	}
	return vec
}
