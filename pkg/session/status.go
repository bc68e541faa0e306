package session

import (
	"fmt"
	"strings"

	"github.com/teslashibe/go-teachable/pkg/classifier"
	"github.com/teslashibe/go-teachable/pkg/labels"
)

// Fixed status messages.
const (
	StatusCameraEnabled = "Camera enabled"
	StatusReset         = "Reset successful. No data collected"
	StatusTraining      = "Training..."
)

// Display receives every status update.
type Display interface {
	SetStatus(text string)
}

// EpochDisplay is a Display that also receives structured training progress.
type EpochDisplay interface {
	Display
	ShowEpoch(logs classifier.EpochLogs, total int)
}

// DisplayFunc adapts a function to Display.
type DisplayFunc func(string)

// SetStatus implements Display.
func (f DisplayFunc) SetStatus(text string) { f(text) }

type nopDisplay struct{}

func (nopDisplay) SetStatus(string) {}

// CollectionStatus renders the count of every label in index order.
func CollectionStatus(set *labels.Set, counts []int) string {
	var b strings.Builder
	for i, name := range set.Names() {
		n := 0
		if i < len(counts) {
			n = counts[i]
		}
		fmt.Fprintf(&b, "%s  data count: %d. ", name, n)
	}
	return b.String()
}

// EpochStatus renders the progress of one finished epoch. total is the
// configured epoch count.
func EpochStatus(logs classifier.EpochLogs, total int) string {
	return fmt.Sprintf("Training epoch %d/%d: loss %.4f, accuracy %d%%",
		logs.Epoch+1, total, logs.Loss, classifier.Confidence(logs.Accuracy))
}

// PredictionStatus renders the selected label and its confidence.
func PredictionStatus(name string, p float64) string {
	return fmt.Sprintf("Prediction: %s with %d%% confidence", name, classifier.Confidence(p))
}

// InsufficientDataStatus tells the user which labels still need examples.
func InsufficientDataStatus(names []string) string {
	return "Add examples for: " + strings.Join(names, ", ")
}

// CaptureErrorStatus is shown when the camera cannot be enabled.
func CaptureErrorStatus(err error) string {
	return "Camera unavailable: " + err.Error()
}
