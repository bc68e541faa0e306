// Package capture provides the camera frame source for a teaching session.
//
// A Source must be enabled before it yields frames. Once enabled it produces an
// indefinite sequence of frames, one per Next call, paced by the device. The
// sequence can only be restarted by enabling again.
package capture

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrPermissionDenied is returned when the host refuses access to the camera.
	ErrPermissionDenied = errors.New("capture: permission denied")

	// ErrUnsupportedDevice is returned when no usable camera is present.
	ErrUnsupportedDevice = errors.New("capture: unsupported device")

	// ErrNotEnabled is returned by Next before Enable succeeded.
	ErrNotEnabled = errors.New("capture: source not enabled")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("capture: source closed")
)

// Frame is one captured image, JPEG encoded.
type Frame struct {
	Seq       uint64
	Timestamp time.Time
	Width     int
	Height    int
	JPEG      []byte
}

// Source is a camera that yields frames once enabled.
type Source interface {
	// Enable opens the device. It returns ErrPermissionDenied or
	// ErrUnsupportedDevice (possibly wrapped) on failure.
	Enable(ctx context.Context) error

	// Enabled reports whether frames are available.
	Enabled() bool

	// Next blocks until the next frame is available.
	Next(ctx context.Context) (Frame, error)

	// Close releases the device.
	Close() error
}
