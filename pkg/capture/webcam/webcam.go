// Package webcam implements capture.Source on a local video device using GoCV.
package webcam

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/teslashibe/go-teachable/pkg/capture"
	"github.com/teslashibe/go-teachable/pkg/debug"
	"gocv.io/x/gocv"
)

// maxEmptyReads is how many consecutive empty reads mean the device stopped delivering.
const maxEmptyReads = 30

// Source reads frames from a V4L2/AVFoundation device.
type Source struct {
	config capture.Config
	logger *slog.Logger

	// mu is held across device reads. enabled is kept outside it so
	// status polls never wait on a read.
	mu      sync.Mutex
	cam     *gocv.VideoCapture
	img     gocv.Mat
	seq     uint64
	closed  bool
	enabled atomic.Bool
}

// New creates a webcam source. The device is not opened until Enable.
func New(cfg capture.Config, logger *slog.Logger) (*Source, error) {
	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, fmt.Errorf("invalid camera config: %v", errs)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Source{
		config: cfg,
		logger: logger.With("component", "webcam", "device", cfg.Device),
	}, nil
}

// Enable opens the device and reads one frame to confirm it delivers images.
func (s *Source) Enable(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return capture.ErrClosed
	}
	if s.enabled.Load() {
		return nil
	}

	if err := checkDeviceAccess(s.config.Device); err != nil {
		return err
	}

	cam, err := gocv.OpenVideoCapture(s.config.Device)
	if err != nil {
		return fmt.Errorf("%w: open device %d: %v", capture.ErrUnsupportedDevice, s.config.Device, err)
	}
	if !cam.IsOpened() {
		cam.Close()
		return fmt.Errorf("%w: device %d did not open", capture.ErrUnsupportedDevice, s.config.Device)
	}

	cam.Set(gocv.VideoCaptureFrameWidth, float64(s.config.Width))
	cam.Set(gocv.VideoCaptureFrameHeight, float64(s.config.Height))
	cam.Set(gocv.VideoCaptureFPS, float64(s.config.Framerate))

	img := gocv.NewMat()
	if ok := cam.Read(&img); !ok || img.Empty() {
		img.Close()
		cam.Close()
		return fmt.Errorf("%w: device %d returned no frames", capture.ErrUnsupportedDevice, s.config.Device)
	}

	s.cam = cam
	s.img = img
	s.seq = 0
	s.enabled.Store(true)

	s.logger.Info("camera enabled",
		"width", img.Cols(),
		"height", img.Rows(),
		"fps", cam.Get(gocv.VideoCaptureFPS))
	return nil
}

// Enabled implements capture.Source.
func (s *Source) Enabled() bool {
	return s.enabled.Load()
}

// Next blocks on the device until a frame is read, then JPEG-encodes it.
func (s *Source) Next(ctx context.Context) (capture.Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return capture.Frame{}, capture.ErrClosed
	}
	if !s.enabled.Load() {
		return capture.Frame{}, capture.ErrNotEnabled
	}

	for empty := 0; ; empty++ {
		if err := ctx.Err(); err != nil {
			return capture.Frame{}, err
		}
		if empty >= maxEmptyReads {
			return capture.Frame{}, fmt.Errorf("%w: device %d stopped delivering frames", capture.ErrUnsupportedDevice, s.config.Device)
		}
		if ok := s.cam.Read(&s.img); ok && !s.img.Empty() {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	buf, err := gocv.IMEncodeWithParams(gocv.JPEGFileExt, s.img, []int{int(gocv.IMWriteJpegQuality), s.config.Quality})
	if err != nil {
		return capture.Frame{}, fmt.Errorf("encode frame: %w", err)
	}
	defer buf.Close()

	data := make([]byte, buf.Len())
	copy(data, buf.GetBytes())

	s.seq++
	debug.Frame("capture", s.seq, "bytes", len(data))

	return capture.Frame{
		Seq:       s.seq,
		Timestamp: time.Now(),
		Width:     s.img.Cols(),
		Height:    s.img.Rows(),
		JPEG:      data,
	}, nil
}

// Close releases the device.
func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	s.enabled.Store(false)
	if s.cam != nil {
		s.img.Close()
		if err := s.cam.Close(); err != nil {
			return fmt.Errorf("close device: %w", err)
		}
		s.cam = nil
	}
	return nil
}

// checkDeviceAccess distinguishes a missing device from one we may not open.
// OpenCV reports both as "not opened", which loses the permission case.
func checkDeviceAccess(device int) error {
	path := fmt.Sprintf("/dev/video%d", device)
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	switch {
	case err == nil:
		f.Close()
		return nil
	case errors.Is(err, os.ErrPermission):
		return fmt.Errorf("%w: %s", capture.ErrPermissionDenied, path)
	case errors.Is(err, os.ErrNotExist):
		// Not a V4L2 host (e.g. macOS); let OpenCV decide.
		return nil
	default:
		return fmt.Errorf("%w: %s: %v", capture.ErrUnsupportedDevice, path, err)
	}
}
