// Package store holds the labeled embeddings collected during a session.
//
// The store owns every embedding appended to it and releases them all on Clear.
// It is not safe for concurrent use; the session controller serializes access.
package store

import (
	"errors"
	"fmt"

	"github.com/teslashibe/go-teachable/pkg/features"
	"github.com/teslashibe/go-teachable/pkg/labels"
)

// ErrNilEmbedding is returned when appending a nil embedding.
var ErrNilEmbedding = errors.New("store: nil embedding")

// Example pairs an embedding with its label index.
type Example struct {
	Embedding *features.Embedding
	Label     int
}

// Store is an arena of examples keyed by label.
type Store struct {
	examples []Example
	counts   []int
}

// New creates a store for numLabels labels.
func New(numLabels int) *Store {
	return &Store{counts: make([]int, numLabels)}
}

// Append takes ownership of emb and records it under label.
func (s *Store) Append(emb *features.Embedding, label int) error {
	if emb == nil {
		return ErrNilEmbedding
	}
	if label < 0 || label >= len(s.counts) {
		return fmt.Errorf("%w: %d", labels.ErrUnknownLabel, label)
	}
	s.examples = append(s.examples, Example{Embedding: emb, Label: label})
	s.counts[label]++
	return nil
}

// CountFor returns the number of examples for label, or 0 for unknown labels.
func (s *Store) CountFor(label int) int {
	if label < 0 || label >= len(s.counts) {
		return 0
	}
	return s.counts[label]
}

// Counts returns a copy of the per-label counts in index order.
func (s *Store) Counts() []int {
	out := make([]int, len(s.counts))
	copy(out, s.counts)
	return out
}

// Len returns the total number of examples.
func (s *Store) Len() int {
	return len(s.examples)
}

// NumLabels returns the label count the store was created for.
func (s *Store) NumLabels() int {
	return len(s.counts)
}

// Missing returns the labels that have no examples, ascending.
func (s *Store) Missing() []int {
	var out []int
	for label, n := range s.counts {
		if n == 0 {
			out = append(out, label)
		}
	}
	return out
}

// Snapshot returns the embeddings and their labels as parallel slices.
// The slices are fresh; the embeddings are shared and still owned by the store.
func (s *Store) Snapshot() ([]*features.Embedding, []int) {
	embs := make([]*features.Embedding, len(s.examples))
	lbls := make([]int, len(s.examples))
	for i, ex := range s.examples {
		embs[i] = ex.Embedding
		lbls[i] = ex.Label
	}
	return embs, lbls
}

// Clear releases every embedding, then drops all examples and zeros the counts.
func (s *Store) Clear() {
	for i := range s.examples {
		s.examples[i].Embedding.Release()
		s.examples[i].Embedding = nil
	}
	s.examples = s.examples[:0]
	for i := range s.counts {
		s.counts[i] = 0
	}
}
