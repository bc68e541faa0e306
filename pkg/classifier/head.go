// Package classifier implements the trainable head that maps embeddings to
// a probability distribution over labels.
//
// The head is a two-layer network: dense (ReLU) then dense (softmax), trained
// with Adam on cross-entropy. Binary label sets use binary cross-entropy over
// the two softmax outputs; larger sets use categorical cross-entropy.
package classifier

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"
)

var (
	// ErrShape is returned when inputs do not match the head's dimensions.
	ErrShape = errors.New("classifier: shape mismatch")

	// ErrNoData is returned when fitting on an empty batch.
	ErrNoData = errors.New("classifier: no training data")
)

// Config holds head architecture and optimizer settings.
type Config struct {
	InputDim     int
	HiddenUnits  int
	NumClasses   int
	LearningRate float64
	Beta1        float64
	Beta2        float64
	Epsilon      float64
	Seed         uint64
}

// DefaultConfig returns the head used on MobileNet v2 embeddings.
func DefaultConfig(numClasses int) Config {
	return Config{
		InputDim:     1280,
		HiddenUnits:  64,
		NumClasses:   numClasses,
		LearningRate: 0.001,
		Beta1:        0.9,
		Beta2:        0.999,
		Epsilon:      1e-7,
		Seed:         42,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.InputDim <= 0 || c.HiddenUnits <= 0 {
		return fmt.Errorf("classifier: input dim and hidden units must be positive")
	}
	if c.NumClasses < 2 {
		return fmt.Errorf("classifier: need at least 2 classes, got %d", c.NumClasses)
	}
	if c.LearningRate <= 0 {
		return fmt.Errorf("classifier: learning rate must be positive")
	}
	return nil
}

// Head is the trainable classifier.
type Head struct {
	cfg  Config
	loss Loss
	rng  *rand.Rand

	w1, b1, w2, b2 []float64
	opt            *adam
}

// New creates a head with Glorot-uniform weights and zero biases.
func New(cfg Config) (*Head, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	h := &Head{
		cfg:  cfg,
		loss: LossFor(cfg.NumClasses),
		rng:  rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15)),
	}
	h.w1 = h.glorot(cfg.InputDim, cfg.HiddenUnits)
	h.b1 = make([]float64, cfg.HiddenUnits)
	h.w2 = h.glorot(cfg.HiddenUnits, cfg.NumClasses)
	h.b2 = make([]float64, cfg.NumClasses)
	h.opt = newAdam(cfg, len(h.w1), len(h.b1), len(h.w2), len(h.b2))

	return h, nil
}

func (h *Head) glorot(fanIn, fanOut int) []float64 {
	limit := math.Sqrt(6 / float64(fanIn+fanOut))
	w := make([]float64, fanIn*fanOut)
	for i := range w {
		w[i] = (h.rng.Float64()*2 - 1) * limit
	}
	return w
}

// Config returns the head configuration.
func (h *Head) Config() Config {
	return h.cfg
}

// Loss returns the loss the head trains with.
func (h *Head) Loss() Loss {
	return h.loss
}

// Rand returns the head's random source, shared with data shuffling so a
// seeded session is reproducible.
func (h *Head) Rand() *rand.Rand {
	return h.rng
}

// activations holds the intermediate values of one forward pass.
type activations struct {
	x  mat.Matrix
	z1 *mat.Dense
	a1 *mat.Dense
	p  *mat.Dense
}

func (h *Head) forward(x mat.Matrix) activations {
	n, _ := x.Dims()
	w1 := mat.NewDense(h.cfg.InputDim, h.cfg.HiddenUnits, h.w1)
	w2 := mat.NewDense(h.cfg.HiddenUnits, h.cfg.NumClasses, h.w2)

	z1 := mat.NewDense(n, h.cfg.HiddenUnits, nil)
	z1.Mul(x, w1)
	addBias(z1, h.b1)

	a1 := mat.NewDense(n, h.cfg.HiddenUnits, nil)
	a1.Apply(func(_, _ int, v float64) float64 { return math.Max(v, 0) }, z1)

	p := mat.NewDense(n, h.cfg.NumClasses, nil)
	p.Mul(a1, w2)
	addBias(p, h.b2)
	for i := 0; i < n; i++ {
		softmax(p.RawRowView(i))
	}

	return activations{x: x, z1: z1, a1: a1, p: p}
}

// backward returns gradients for w1, b1, w2, b2 given dL/dp.
func (h *Head) backward(act activations, dp *mat.Dense) [4][]float64 {
	n, _ := dp.Dims()
	w2 := mat.NewDense(h.cfg.HiddenUnits, h.cfg.NumClasses, h.w2)

	// Softmax Jacobian: dz_j = p_j * (g_j - sum_k g_k p_k)
	dz2 := mat.NewDense(n, h.cfg.NumClasses, nil)
	for i := 0; i < n; i++ {
		p := act.p.RawRowView(i)
		g := dp.RawRowView(i)
		var dot float64
		for k := range p {
			dot += g[k] * p[k]
		}
		row := dz2.RawRowView(i)
		for k := range p {
			row[k] = p[k] * (g[k] - dot)
		}
	}

	dw2 := mat.NewDense(h.cfg.HiddenUnits, h.cfg.NumClasses, nil)
	dw2.Mul(act.a1.T(), dz2)
	db2 := colSums(dz2)

	dz1 := mat.NewDense(n, h.cfg.HiddenUnits, nil)
	dz1.Mul(dz2, w2.T())
	dz1.Apply(func(i, j int, v float64) float64 {
		if act.z1.At(i, j) > 0 {
			return v
		}
		return 0
	}, dz1)

	dw1 := mat.NewDense(h.cfg.InputDim, h.cfg.HiddenUnits, nil)
	dw1.Mul(act.x.T(), dz1)
	db1 := colSums(dz1)

	return [4][]float64{dw1.RawMatrix().Data, db1, dw2.RawMatrix().Data, db2}
}

// Predict returns class probabilities for one embedding.
func (h *Head) Predict(vec []float32) ([]float64, error) {
	if len(vec) != h.cfg.InputDim {
		return nil, fmt.Errorf("%w: embedding has %d values, head expects %d", ErrShape, len(vec), h.cfg.InputDim)
	}
	row := make([]float64, len(vec))
	for i, v := range vec {
		row[i] = float64(v)
	}
	act := h.forward(mat.NewDense(1, len(row), row))
	out := make([]float64, h.cfg.NumClasses)
	copy(out, act.p.RawRowView(0))
	return out, nil
}

func addBias(m *mat.Dense, b []float64) {
	r, _ := m.Dims()
	for i := 0; i < r; i++ {
		row := m.RawRowView(i)
		for j := range row {
			row[j] += b[j]
		}
	}
}

func colSums(m *mat.Dense) []float64 {
	r, c := m.Dims()
	out := make([]float64, c)
	for i := 0; i < r; i++ {
		for j, v := range m.RawRowView(i) {
			out[j] += v
		}
	}
	return out
}

// softmax normalizes row in place.
func softmax(row []float64) {
	maxV := math.Inf(-1)
	for _, v := range row {
		if v > maxV {
			maxV = v
		}
	}
	var sum float64
	for j, v := range row {
		row[j] = math.Exp(v - maxV)
		sum += row[j]
	}
	for j := range row {
		row[j] /= sum
	}
}
