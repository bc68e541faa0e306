package capture

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"sync"
	"time"
)

// Mock implements Source for tests and simulated sessions.
// It yields either the configured Frames in rotation or a synthetic gradient image.
type Mock struct {
	// EnableErr, if set, is returned by Enable.
	EnableErr error

	// Frames are returned in rotation. If empty, synthetic frames are generated.
	Frames [][]byte

	// Interval paces Next. Zero means no delay.
	Interval time.Duration

	// Width and Height of synthetic frames.
	Width  int
	Height int

	mu      sync.Mutex
	enabled bool
	closed  bool
	seq     uint64
	enables int
}

// NewMock creates a mock source producing small synthetic frames.
func NewMock() *Mock {
	return &Mock{Width: 64, Height: 48}
}

// Enable implements Source.
func (m *Mock) Enable(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	m.enables++
	if m.EnableErr != nil {
		return m.EnableErr
	}
	m.enabled = true
	m.seq = 0
	return nil
}

// Enabled implements Source.
func (m *Mock) Enabled() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.enabled && !m.closed
}

// EnableCalls returns how many times Enable was called.
func (m *Mock) EnableCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.enables
}

// Next implements Source.
func (m *Mock) Next(ctx context.Context) (Frame, error) {
	if m.Interval > 0 {
		select {
		case <-ctx.Done():
			return Frame{}, ctx.Err()
		case <-time.After(m.Interval):
		}
	} else if err := ctx.Err(); err != nil {
		return Frame{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return Frame{}, ErrClosed
	}
	if !m.enabled {
		return Frame{}, ErrNotEnabled
	}

	m.seq++
	frame := Frame{
		Seq:       m.seq,
		Timestamp: time.Now(),
		Width:     m.Width,
		Height:    m.Height,
	}

	if len(m.Frames) > 0 {
		frame.JPEG = m.Frames[int(m.seq-1)%len(m.Frames)]
		return frame, nil
	}

	data, err := syntheticJPEG(m.Width, m.Height, m.seq)
	if err != nil {
		return Frame{}, err
	}
	frame.JPEG = data
	return frame, nil
}

// Close implements Source.
func (m *Mock) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.enabled = false
	return nil
}

// syntheticJPEG draws a gradient whose phase shifts with seq.
func syntheticJPEG(w, h int, seq uint64) ([]byte, error) {
	if w <= 0 {
		w = 64
	}
	if h <= 0 {
		h = 48
	}
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	shift := uint8(seq % 256)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{
				R: uint8(x*255/w) + shift,
				G: uint8(y*255/h) + shift,
				B: shift,
				A: 255,
			})
		}
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 80}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
