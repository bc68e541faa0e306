package classifier

import (
	"context"
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// FitOptions controls a training run.
type FitOptions struct {
	Epochs    int
	BatchSize int
	Shuffle   bool
}

// DefaultFitOptions returns 5 epochs of batch size 5 with shuffling.
func DefaultFitOptions() FitOptions {
	return FitOptions{Epochs: 5, BatchSize: 5, Shuffle: true}
}

// EpochLogs reports the metrics of one finished epoch. Epoch is zero-based.
type EpochLogs struct {
	Epoch    int     `json:"epoch"`
	Loss     float64 `json:"loss"`
	Accuracy float64 `json:"accuracy"`
}

// History collects the logs of every epoch in a fit.
type History struct {
	Epochs []EpochLogs `json:"epochs"`
}

// Final returns the last epoch's logs, or the zero value for an empty history.
func (h History) Final() EpochLogs {
	if len(h.Epochs) == 0 {
		return EpochLogs{}
	}
	return h.Epochs[len(h.Epochs)-1]
}

// Fit trains the head on x (n x InputDim) against one-hot targets y
// (n x NumClasses). onEpochEnd, if non-nil, is called after every epoch.
// Fit stops between batches when ctx is cancelled.
func (h *Head) Fit(ctx context.Context, x, y *mat.Dense, opts FitOptions, onEpochEnd func(EpochLogs)) (History, error) {
	n, in := x.Dims()
	yn, yc := y.Dims()
	switch {
	case n == 0:
		return History{}, ErrNoData
	case in != h.cfg.InputDim:
		return History{}, fmt.Errorf("%w: inputs have %d columns, head expects %d", ErrShape, in, h.cfg.InputDim)
	case yc != h.cfg.NumClasses:
		return History{}, fmt.Errorf("%w: targets have %d columns, head has %d classes", ErrShape, yc, h.cfg.NumClasses)
	case yn != n:
		return History{}, fmt.Errorf("%w: %d inputs but %d targets", ErrShape, n, yn)
	case opts.Epochs <= 0:
		return History{}, fmt.Errorf("classifier: epochs must be positive, got %d", opts.Epochs)
	}

	batch := opts.BatchSize
	if batch <= 0 || batch > n {
		batch = n
	}

	order := make([]int, n)
	for i := range order {
		order[i] = i
	}

	var hist History
	for epoch := 0; epoch < opts.Epochs; epoch++ {
		if opts.Shuffle {
			h.rng.Shuffle(n, func(i, j int) { order[i], order[j] = order[j], order[i] })
		}

		var lossSum, accSum float64
		for start := 0; start < n; start += batch {
			if err := ctx.Err(); err != nil {
				return hist, err
			}

			end := min(start+batch, n)
			xb, yb := gatherRows(x, order[start:end]), gatherRows(y, order[start:end])

			act := h.forward(xb)
			loss, dp := h.loss.Eval(act.p, yb)
			acc := h.loss.Accuracy(act.p, yb)

			grads := h.backward(act, dp)
			h.opt.apply([][]float64{h.w1, h.b1, h.w2, h.b2}, grads[:])

			size := float64(end - start)
			lossSum += loss * size
			accSum += acc * size
		}

		logs := EpochLogs{
			Epoch:    epoch,
			Loss:     lossSum / float64(n),
			Accuracy: accSum / float64(n),
		}
		hist.Epochs = append(hist.Epochs, logs)
		if onEpochEnd != nil {
			onEpochEnd(logs)
		}
	}

	return hist, nil
}

func gatherRows(m *mat.Dense, rows []int) *mat.Dense {
	_, c := m.Dims()
	out := mat.NewDense(len(rows), c, nil)
	for i, r := range rows {
		out.SetRow(i, m.RawRowView(r))
	}
	return out
}
