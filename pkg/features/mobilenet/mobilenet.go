// Package mobilenet extracts image embeddings with a truncated MobileNet v2 ONNX model via GoCV.
package mobilenet

import (
	"fmt"
	"image"
	"log/slog"
	"os"
	"sync"

	"github.com/teslashibe/go-teachable/pkg/capture"
	"github.com/teslashibe/go-teachable/pkg/debug"
	"github.com/teslashibe/go-teachable/pkg/features"
	"gocv.io/x/gocv"
)

// Config holds backbone configuration.
type Config struct {
	ModelPath    string `mapstructure:"path"`          // Local ONNX file or http(s) URL
	CacheDir     string `mapstructure:"cache_dir"`     // Where downloaded models are kept
	OutputLayer  string `mapstructure:"output_layer"`  // Layer to read; "" means the network output
	InputWidth   int    `mapstructure:"input_width"`   // Backbone input width
	InputHeight  int    `mapstructure:"input_height"`  // Backbone input height
	EmbeddingDim int    `mapstructure:"embedding_dim"` // Width of the pooled feature vector
}

// DefaultConfig returns defaults for MobileNet v2 cut at global average pooling.
func DefaultConfig() Config {
	return Config{
		ModelPath:    "models/mobilenet_v2_features.onnx",
		CacheDir:     "models/cache",
		InputWidth:   224,
		InputHeight:  224,
		EmbeddingDim: 1280,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.ModelPath == "" {
		return fmt.Errorf("mobilenet: model path required")
	}
	if c.InputWidth <= 0 || c.InputHeight <= 0 {
		return fmt.Errorf("mobilenet: input size must be positive, got %dx%d", c.InputWidth, c.InputHeight)
	}
	if c.EmbeddingDim <= 0 {
		return fmt.Errorf("mobilenet: embedding dim must be positive, got %d", c.EmbeddingDim)
	}
	return nil
}

// Extractor runs the backbone on JPEG frames.
type Extractor struct {
	net       gocv.Net
	config    Config
	path      string // Resolved local model file
	inputSize image.Point
	pool      *features.Pool
	logger    *slog.Logger
	mu        sync.Mutex // Protects inference
}

// New loads the model, resolving URLs through the download cache, and warms it up.
func New(cfg Config, logger *slog.Logger) (*Extractor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "mobilenet")

	path, err := resolveModel(cfg.ModelPath, cfg.CacheDir, logger)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("model file not found: %s", path)
	}

	net := gocv.ReadNetFromONNX(path)
	if net.Empty() {
		return nil, fmt.Errorf("failed to load backbone from %s", path)
	}

	net.SetPreferableBackend(gocv.NetBackendDefault)
	net.SetPreferableTarget(gocv.NetTargetCPU)

	e := &Extractor{
		net:       net,
		config:    cfg,
		path:      path,
		inputSize: image.Pt(cfg.InputWidth, cfg.InputHeight),
		pool:      features.NewPool(cfg.EmbeddingDim),
		logger:    logger,
	}

	if err := e.warmup(); err != nil {
		net.Close()
		return nil, err
	}

	logger.Info("backbone loaded", "path", path, "dim", cfg.EmbeddingDim)
	return e, nil
}

// warmup passes one all-zero input through the net and checks the output width.
func (e *Extractor) warmup() error {
	zeros := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 0, 0, 0), e.config.InputHeight, e.config.InputWidth, gocv.MatTypeCV8UC3)
	defer zeros.Close()

	vec, err := e.forward(zeros)
	if err != nil {
		return fmt.Errorf("warmup: %w", err)
	}
	if len(vec) != e.config.EmbeddingDim {
		return fmt.Errorf("%w: backbone produced %d values, configured %d",
			features.ErrDimMismatch, len(vec), e.config.EmbeddingDim)
	}
	return nil
}

// Extract decodes the frame, normalizes it to [0,1] at the backbone input size,
// and returns the pooled feature vector.
func (e *Extractor) Extract(frame capture.Frame) (*features.Embedding, error) {
	if len(frame.JPEG) == 0 {
		return nil, features.ErrEmptyFrame
	}

	img, err := gocv.IMDecode(frame.JPEG, gocv.IMReadColor)
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	defer img.Close()

	if img.Empty() {
		return nil, features.ErrEmptyFrame
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	vec, err := e.forward(img)
	if err != nil {
		return nil, err
	}
	if len(vec) != e.config.EmbeddingDim {
		return nil, fmt.Errorf("%w: got %d, want %d", features.ErrDimMismatch, len(vec), e.config.EmbeddingDim)
	}

	debug.Frame("embed", frame.Seq)
	return e.pool.New(vec), nil
}

// forward runs one image through the net. The returned slice is a copy.
func (e *Extractor) forward(img gocv.Mat) ([]float32, error) {
	// Bilinear resize to the input size, scale to [0,1], BGR -> RGB.
	blob := gocv.BlobFromImage(img, 1.0/255.0, e.inputSize, gocv.NewScalar(0, 0, 0, 0), true, false)
	defer blob.Close()

	e.net.SetInput(blob, "")

	output := e.net.Forward(e.config.OutputLayer)
	defer output.Close()

	if output.Empty() {
		return nil, fmt.Errorf("backbone returned empty output")
	}

	data, err := output.DataPtrFloat32()
	if err != nil {
		return nil, fmt.Errorf("read output: %w", err)
	}

	vec := make([]float32, len(data))
	copy(vec, data)
	return vec, nil
}

// Dim implements features.Extractor.
func (e *Extractor) Dim() int {
	return e.config.EmbeddingDim
}

// Pool implements features.Extractor.
func (e *Extractor) Pool() *features.Pool {
	return e.pool
}

// Config returns the backbone configuration.
func (e *Extractor) Config() Config {
	return e.config
}

// ModelFile returns the local ONNX file the net was loaded from.
func (e *Extractor) ModelFile() string {
	return e.path
}

// Close releases the net.
func (e *Extractor) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.net.Close()
}
