package classifier

import (
	"fmt"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"
)

// OneHot encodes labels as rows of length depth with a 1 at the label index.
func OneHot(labels []int, depth int) (*mat.Dense, error) {
	if len(labels) == 0 {
		return nil, ErrNoData
	}
	out := mat.NewDense(len(labels), depth, nil)
	for i, l := range labels {
		if l < 0 || l >= depth {
			return nil, fmt.Errorf("classifier: label %d out of range [0,%d)", l, depth)
		}
		out.Set(i, l, 1)
	}
	return out, nil
}

// Stack copies equal-length vectors into the rows of a matrix.
func Stack(vectors [][]float32) (*mat.Dense, error) {
	if len(vectors) == 0 {
		return nil, ErrNoData
	}
	dim := len(vectors[0])
	out := mat.NewDense(len(vectors), dim, nil)
	for i, v := range vectors {
		if len(v) != dim {
			return nil, fmt.Errorf("%w: row %d has %d values, want %d", ErrShape, i, len(v), dim)
		}
		row := out.RawRowView(i)
		for j, f := range v {
			row[j] = float64(f)
		}
	}
	return out, nil
}

// ArgMax returns the index of the largest value. Ties go to the lowest
// index; an empty slice yields -1.
func ArgMax(values []float64) int {
	best := -1
	for i, v := range values {
		if best < 0 || v > values[best] {
			best = i
		}
	}
	return best
}

// Confidence converts a probability to a whole percentage, rounding down.
func Confidence(p float64) int {
	return int(math.Floor(p * 100))
}

// ShuffleCombo applies one random permutation to both slices so that
// a[i] and b[i] stay paired.
func ShuffleCombo[A, B any](rng *rand.Rand, a []A, b []B) error {
	if len(a) != len(b) {
		return fmt.Errorf("%w: cannot shuffle %d items with %d items", ErrShape, len(a), len(b))
	}
	rng.Shuffle(len(a), func(i, j int) {
		a[i], a[j] = a[j], a[i]
		b[i], b[j] = b[j], b[i]
	})
	return nil
}
