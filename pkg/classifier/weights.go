package classifier

import "fmt"

// Weights is the serializable state of a head.
type Weights struct {
	InputDim    int       `json:"input_dim"`
	HiddenUnits int       `json:"hidden_units"`
	NumClasses  int       `json:"num_classes"`
	Loss        string    `json:"loss"`
	W1          []float64 `json:"w1"`
	B1          []float64 `json:"b1"`
	W2          []float64 `json:"w2"`
	B2          []float64 `json:"b2"`
}

// Weights returns a copy of the current parameters. W1 and W2 are row-major
// (input x output).
func (h *Head) Weights() Weights {
	return Weights{
		InputDim:    h.cfg.InputDim,
		HiddenUnits: h.cfg.HiddenUnits,
		NumClasses:  h.cfg.NumClasses,
		Loss:        h.loss.Name(),
		W1:          append([]float64(nil), h.w1...),
		B1:          append([]float64(nil), h.b1...),
		W2:          append([]float64(nil), h.w2...),
		B2:          append([]float64(nil), h.b2...),
	}
}

// LoadWeights replaces the parameters with w. Optimizer state is kept.
func (h *Head) LoadWeights(w Weights) error {
	if w.InputDim != h.cfg.InputDim || w.HiddenUnits != h.cfg.HiddenUnits || w.NumClasses != h.cfg.NumClasses {
		return fmt.Errorf("%w: weights are %dx%dx%d, head is %dx%dx%d", ErrShape,
			w.InputDim, w.HiddenUnits, w.NumClasses,
			h.cfg.InputDim, h.cfg.HiddenUnits, h.cfg.NumClasses)
	}
	if len(w.W1) != len(h.w1) || len(w.B1) != len(h.b1) || len(w.W2) != len(h.w2) || len(w.B2) != len(h.b2) {
		return fmt.Errorf("%w: weight tensor sizes do not match", ErrShape)
	}
	copy(h.w1, w.W1)
	copy(h.b1, w.B1)
	copy(h.w2, w.W2)
	copy(h.b2, w.B2)
	return nil
}
