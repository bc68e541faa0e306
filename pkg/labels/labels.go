// Package labels defines the fixed set of class labels a session trains on.
//
// The set is built once from configuration and never changes size afterwards;
// the classifier's output dimension is derived from it.
package labels

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// MinLabels is the smallest usable label set.
const MinLabels = 2

var (
	// ErrUnknownLabel is returned for an index outside the label set.
	ErrUnknownLabel = errors.New("labels: unknown label")

	// ErrInvalidSet is returned when a label configuration fails validation.
	ErrInvalidSet = errors.New("labels: invalid label set")
)

// Label is a class index with a human-readable name.
type Label struct {
	Index int    `json:"index" mapstructure:"index" yaml:"index"`
	Name  string `json:"name" mapstructure:"name" yaml:"name"`
}

// Set is an immutable, validated list of labels ordered by index.
type Set struct {
	labels []Label
}

// NewSet validates the given labels and returns them as a Set.
// Indices must cover 0..n-1 exactly once; names must be non-empty and unique.
func NewSet(in []Label) (*Set, error) {
	if len(in) < MinLabels {
		return nil, fmt.Errorf("%w: need at least %d labels, got %d", ErrInvalidSet, MinLabels, len(in))
	}

	sorted := make([]Label, len(in))
	copy(sorted, in)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Index < sorted[j].Index })

	names := make(map[string]bool, len(sorted))
	for i, l := range sorted {
		if l.Index != i {
			return nil, fmt.Errorf("%w: indices must be 0..%d without gaps or duplicates", ErrInvalidSet, len(sorted)-1)
		}
		name := strings.TrimSpace(l.Name)
		if name == "" {
			return nil, fmt.Errorf("%w: label %d has no name", ErrInvalidSet, l.Index)
		}
		if names[name] {
			return nil, fmt.Errorf("%w: duplicate name %q", ErrInvalidSet, name)
		}
		names[name] = true
		sorted[i].Name = name
	}

	return &Set{labels: sorted}, nil
}

// FromNames builds a Set where each name's position is its index.
func FromNames(names ...string) (*Set, error) {
	in := make([]Label, len(names))
	for i, n := range names {
		in[i] = Label{Index: i, Name: n}
	}
	return NewSet(in)
}

// Len returns the number of labels.
func (s *Set) Len() int {
	return len(s.labels)
}

// Binary reports whether the set has exactly two labels.
func (s *Set) Binary() bool {
	return len(s.labels) == 2
}

// Valid reports whether index belongs to the set.
func (s *Set) Valid(index int) bool {
	return index >= 0 && index < len(s.labels)
}

// Check returns ErrUnknownLabel if index is not in the set.
func (s *Set) Check(index int) error {
	if !s.Valid(index) {
		return fmt.Errorf("%w: %d", ErrUnknownLabel, index)
	}
	return nil
}

// Name returns the label name at index, or "" if unknown.
func (s *Set) Name(index int) string {
	if !s.Valid(index) {
		return ""
	}
	return s.labels[index].Name
}

// Names returns all names in index order.
func (s *Set) Names() []string {
	out := make([]string, len(s.labels))
	for i, l := range s.labels {
		out[i] = l.Name
	}
	return out
}

// All returns a copy of the labels in index order.
func (s *Set) All() []Label {
	out := make([]Label, len(s.labels))
	copy(out, s.labels)
	return out
}

// Lookup finds a label index by name (case-insensitive).
func (s *Set) Lookup(name string) (int, bool) {
	for _, l := range s.labels {
		if strings.EqualFold(l.Name, name) {
			return l.Index, true
		}
	}
	return -1, false
}
