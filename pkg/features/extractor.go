package features

import (
	"errors"

	"github.com/teslashibe/go-teachable/pkg/capture"
)

// Sentinel errors for extraction.
var (
	// ErrEmptyFrame is returned when a frame has no decodable image.
	ErrEmptyFrame = errors.New("features: empty frame")

	// ErrDimMismatch is returned when the backbone output width differs from the configured dim.
	ErrDimMismatch = errors.New("features: embedding dimension mismatch")
)

// Extractor maps one frame to one embedding.
type Extractor interface {
	// Extract computes the embedding for frame. The caller owns the result.
	Extract(frame capture.Frame) (*Embedding, error)

	// Dim returns the embedding length.
	Dim() int

	// Pool returns the buffer pool embeddings are drawn from.
	Pool() *Pool

	// Close releases the backbone.
	Close() error
}
