package classifier

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

const lossEpsilon = 1e-7

// Loss scores a batch of predicted probabilities against targets.
type Loss interface {
	// Name identifies the loss in manifests and logs.
	Name() string

	// Eval returns the mean loss and dL/dp for predictions p and targets y.
	Eval(p, y *mat.Dense) (float64, *mat.Dense)

	// Accuracy returns the fraction of correct predictions in the batch.
	Accuracy(p, y *mat.Dense) float64
}

// LossFor picks binary cross-entropy for two classes and categorical
// cross-entropy otherwise.
func LossFor(numClasses int) Loss {
	if numClasses == 2 {
		return BinaryCrossEntropy{}
	}
	return CategoricalCrossEntropy{}
}

// BinaryCrossEntropy averages per-output binary cross-entropy over the
// softmax outputs of the batch.
type BinaryCrossEntropy struct{}

func (BinaryCrossEntropy) Name() string { return "binary_crossentropy" }

func (BinaryCrossEntropy) Eval(p, y *mat.Dense) (float64, *mat.Dense) {
	n, c := p.Dims()
	scale := float64(n * c)
	grad := mat.NewDense(n, c, nil)

	var total float64
	for i := 0; i < n; i++ {
		pr, yr, gr := p.RawRowView(i), y.RawRowView(i), grad.RawRowView(i)
		for j := range pr {
			q := clip(pr[j])
			total += -(yr[j]*math.Log(q) + (1-yr[j])*math.Log(1-q))
			gr[j] = (-yr[j]/q + (1-yr[j])/(1-q)) / scale
		}
	}
	return total / scale, grad
}

// Accuracy thresholds every output at 0.5 and compares it with the target.
func (BinaryCrossEntropy) Accuracy(p, y *mat.Dense) float64 {
	n, c := p.Dims()
	if n == 0 {
		return 0
	}
	var hits int
	for i := 0; i < n; i++ {
		pr, yr := p.RawRowView(i), y.RawRowView(i)
		for j := range pr {
			if (pr[j] > 0.5) == (yr[j] > 0.5) {
				hits++
			}
		}
	}
	return float64(hits) / float64(n*c)
}

// CategoricalCrossEntropy is -sum(y log p) averaged over the batch.
type CategoricalCrossEntropy struct{}

func (CategoricalCrossEntropy) Name() string { return "categorical_crossentropy" }

func (CategoricalCrossEntropy) Eval(p, y *mat.Dense) (float64, *mat.Dense) {
	n, c := p.Dims()
	grad := mat.NewDense(n, c, nil)

	var total float64
	for i := 0; i < n; i++ {
		pr, yr, gr := p.RawRowView(i), y.RawRowView(i), grad.RawRowView(i)
		for j := range pr {
			q := clip(pr[j])
			total -= yr[j] * math.Log(q)
			gr[j] = -yr[j] / q / float64(n)
		}
	}
	return total / float64(n), grad
}

// Accuracy compares the arg-max of each prediction with the arg-max of its target.
func (CategoricalCrossEntropy) Accuracy(p, y *mat.Dense) float64 {
	n, _ := p.Dims()
	if n == 0 {
		return 0
	}
	var hits int
	for i := 0; i < n; i++ {
		if ArgMax(p.RawRowView(i)) == ArgMax(y.RawRowView(i)) {
			hits++
		}
	}
	return float64(hits) / float64(n)
}

func clip(v float64) float64 {
	return math.Min(math.Max(v, lossEpsilon), 1-lossEpsilon)
}
