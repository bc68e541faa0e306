package session

import (
	"errors"
	"fmt"
	"strings"
)

// Phase is the kind of session state.
type Phase int

const (
	Idle Phase = iota
	Collecting
	Training
	Predicting
)

func (p Phase) String() string {
	switch p {
	case Idle:
		return "idle"
	case Collecting:
		return "collecting"
	case Training:
		return "training"
	case Predicting:
		return "predicting"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// State is the current session state. Label is the collection target while
// Collecting and -1 otherwise.
type State struct {
	Phase Phase
	Label int
}

func idleState() State {
	return State{Phase: Idle, Label: -1}
}

func (s State) String() string {
	if s.Phase == Collecting {
		return fmt.Sprintf("collecting(%d)", s.Label)
	}
	return s.Phase.String()
}

// armed reports whether the per-frame task runs in this state.
func (s State) armed() bool {
	return s.Phase == Collecting || s.Phase == Predicting
}

var (
	// ErrInvalidState is returned when an operation is not allowed in the
	// current state.
	ErrInvalidState = errors.New("session: invalid state")

	// ErrCaptureNotEnabled is returned when an operation needs frames but the
	// capture source has not been enabled.
	ErrCaptureNotEnabled = fmt.Errorf("%w: capture source not enabled", ErrInvalidState)

	// ErrNotTrained is returned when prediction is requested before any
	// successful training run.
	ErrNotTrained = fmt.Errorf("%w: no trained model", ErrInvalidState)

	// ErrInsufficientData matches every *InsufficientDataError.
	ErrInsufficientData = errors.New("session: insufficient data")
)

// InsufficientDataError lists the labels that have no examples.
type InsufficientDataError struct {
	Labels []string
}

func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("session: insufficient data: no examples for %s", strings.Join(e.Labels, ", "))
}

func (e *InsufficientDataError) Unwrap() error {
	return ErrInsufficientData
}
