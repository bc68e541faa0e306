// Package session implements the teaching session state machine.
//
// A Controller owns the example store and the classifier head and moves
// between Idle, Collecting(label), Training and Predicting. A single mutex
// serializes every operation and every frame step, so a step never
// observes a half-applied transition. Run drives the per-frame task for
// whichever state is armed.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/teslashibe/go-teachable/pkg/capture"
	"github.com/teslashibe/go-teachable/pkg/classifier"
	"github.com/teslashibe/go-teachable/pkg/debug"
	"github.com/teslashibe/go-teachable/pkg/export"
	"github.com/teslashibe/go-teachable/pkg/features"
	"github.com/teslashibe/go-teachable/pkg/history"
	"github.com/teslashibe/go-teachable/pkg/labels"
	"github.com/teslashibe/go-teachable/pkg/store"
)

// Config holds training constants and loop tuning.
type Config struct {
	Fit      classifier.FitOptions
	Backbone export.Backbone

	// ErrorBackoff is the pause after a failed frame step.
	ErrorBackoff time.Duration
}

// DefaultConfig returns 5 epochs, batch size 5, shuffled.
func DefaultConfig() Config {
	return Config{
		Fit:          classifier.DefaultFitOptions(),
		ErrorBackoff: 100 * time.Millisecond,
	}
}

// Options are the collaborators of a Controller. Labels, Source and
// Extractor are required; Head and Store are created when nil.
type Options struct {
	Labels    *labels.Set
	Source    capture.Source
	Extractor features.Extractor
	Head      *classifier.Head
	Store     *store.Store
	Display   Display
	Exporter  export.Exporter
	History   history.Store
	Logger    *slog.Logger

	// OnEpoch is called after every training epoch.
	OnEpoch func(classifier.EpochLogs)

	// OnFrame is called with every frame the loop pulls, outside the lock.
	OnFrame func(capture.Frame)
}

// Prediction is the result of one prediction step.
type Prediction struct {
	Label         int       `json:"label"`
	Name          string    `json:"name"`
	Confidence    int       `json:"confidence"`
	Probabilities []float64 `json:"probabilities"`
	At            time.Time `json:"at"`
}

// Snapshot is a consistent view of the session for status surfaces.
type Snapshot struct {
	State         State
	Status        string
	Counts        []int
	Trained       bool
	CaptureActive bool
	Prediction    *Prediction
	LastRun       *history.Run
}

// Controller is the session state machine.
type Controller struct {
	cfg       Config
	labels    *labels.Set
	source    capture.Source
	extractor features.Extractor
	head      *classifier.Head
	store     *store.Store
	exporter  export.Exporter
	history   history.Store
	onEpoch   func(classifier.EpochLogs)
	log       *slog.Logger

	// mu serializes operations and frame steps.
	mu      sync.Mutex
	state   State
	trained bool

	// viewMu guards the published view and the hooks, so status queries
	// never wait for a training run.
	viewMu  sync.RWMutex
	view    Snapshot
	display Display
	onFrame func(capture.Frame)

	wake chan struct{}
}

// New validates opts and creates an Idle controller.
func New(cfg Config, opts Options) (*Controller, error) {
	if opts.Labels == nil {
		return nil, fmt.Errorf("session: label set is required")
	}
	if opts.Source == nil {
		return nil, fmt.Errorf("session: capture source is required")
	}
	if opts.Extractor == nil {
		return nil, fmt.Errorf("session: feature extractor is required")
	}
	if cfg.Fit.Epochs <= 0 {
		cfg.Fit = classifier.DefaultFitOptions()
	}
	if cfg.ErrorBackoff <= 0 {
		cfg.ErrorBackoff = 100 * time.Millisecond
	}

	n := opts.Labels.Len()

	head := opts.Head
	if head == nil {
		hc := classifier.DefaultConfig(n)
		hc.InputDim = opts.Extractor.Dim()
		var err error
		if head, err = classifier.New(hc); err != nil {
			return nil, err
		}
	}
	hc := head.Config()
	if hc.NumClasses != n {
		return nil, fmt.Errorf("session: head has %d classes but there are %d labels", hc.NumClasses, n)
	}
	if hc.InputDim != opts.Extractor.Dim() {
		return nil, fmt.Errorf("session: head input %d does not match embedding dim %d", hc.InputDim, opts.Extractor.Dim())
	}

	st := opts.Store
	if st == nil {
		st = store.New(n)
	}
	if st.NumLabels() != n {
		return nil, fmt.Errorf("session: store has %d labels but there are %d", st.NumLabels(), n)
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	display := opts.Display
	if display == nil {
		display = nopDisplay{}
	}

	c := &Controller{
		cfg:       cfg,
		labels:    opts.Labels,
		source:    opts.Source,
		extractor: opts.Extractor,
		head:      head,
		store:     st,
		exporter:  opts.Exporter,
		history:   opts.History,
		onEpoch:   opts.OnEpoch,
		log:       logger.With("component", "session"),
		state:     idleState(),
		display:   display,
		onFrame:   opts.OnFrame,
		wake:      make(chan struct{}, 1),
	}
	c.publishLocked()
	return c, nil
}

// SetDisplay replaces the status display.
func (c *Controller) SetDisplay(d Display) {
	if d == nil {
		d = nopDisplay{}
	}
	c.viewMu.Lock()
	c.display = d
	c.viewMu.Unlock()
}

// SetFrameObserver replaces the frame hook. A non-nil observer keeps the
// loop pulling frames while Idle.
func (c *Controller) SetFrameObserver(fn func(capture.Frame)) {
	c.viewMu.Lock()
	c.onFrame = fn
	c.viewMu.Unlock()
	c.signal()
}

// Labels returns the label set.
func (c *Controller) Labels() *labels.Set {
	return c.labels
}

// Config returns the controller configuration.
func (c *Controller) Config() Config {
	return c.cfg
}

// EnableCapture enables the capture source. Enabling an enabled source is a
// no-op. On failure the status shows a warning and the state is unchanged.
func (c *Controller) EnableCapture(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.source.Enabled() {
		return nil
	}

	if err := c.source.Enable(ctx); err != nil {
		c.log.Warn("capture enable failed", "error", err)
		c.publishLocked()
		c.setStatusLocked(CaptureErrorStatus(err))
		return err
	}

	c.log.Info("capture enabled")
	c.publishLocked()
	c.setStatusLocked(StatusCameraEnabled)
	c.signal()
	return nil
}

// Press starts collecting examples for label. Prediction is stopped first.
func (c *Controller) Press(label int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.labels.Check(label); err != nil {
		return err
	}
	switch c.state.Phase {
	case Collecting, Training:
		return fmt.Errorf("%w: cannot collect while %s", ErrInvalidState, c.state)
	}
	if !c.source.Enabled() {
		return ErrCaptureNotEnabled
	}

	if c.state.Phase == Predicting {
		c.log.Info("prediction stopped for collection")
	}
	c.state = State{Phase: Collecting, Label: label}
	c.log.Debug("collecting", "label", label, "name", c.labels.Name(label))
	c.publishLocked()
	c.signal()
	return nil
}

// Release stops collecting for label, which must be the active target.
func (c *Controller) Release(label int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state.Phase != Collecting || c.state.Label != label {
		return fmt.Errorf("%w: release of label %d while %s", ErrInvalidState, label, c.state)
	}

	c.state = idleState()
	c.log.Debug("collection stopped", "label", label, "count", c.store.CountFor(label))
	c.publishLocked()
	return nil
}

// StartPrediction resumes prediction with the trained head.
func (c *Controller) StartPrediction() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.trained {
		return ErrNotTrained
	}
	if !c.source.Enabled() {
		return ErrCaptureNotEnabled
	}
	switch c.state.Phase {
	case Predicting:
		return nil
	case Collecting, Training:
		return fmt.Errorf("%w: cannot predict while %s", ErrInvalidState, c.state)
	}

	c.state = State{Phase: Predicting, Label: -1}
	c.publishLocked()
	c.signal()
	return nil
}

// StopPrediction returns from Predicting to Idle. It is a no-op when Idle.
func (c *Controller) StopPrediction() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state.Phase {
	case Idle:
		return nil
	case Predicting:
		c.state = idleState()
		c.publishLocked()
		return nil
	default:
		return fmt.Errorf("%w: not predicting (%s)", ErrInvalidState, c.state)
	}
}

// Reset clears every example and returns to Idle. The capture source and
// the head weights are kept.
func (c *Controller) Reset() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state.Phase == Training {
		return fmt.Errorf("%w: cannot reset while training", ErrInvalidState)
	}

	c.store.Clear()
	c.state = idleState()

	c.viewMu.Lock()
	c.view.Prediction = nil
	c.viewMu.Unlock()

	c.publishLocked()
	c.setStatusLocked(StatusReset)
	c.log.Info("reset", "live_embeddings", c.extractor.Pool().Live())
	return nil
}

// Train fits the head on every collected example, exports the combined
// model and starts predicting. It holds the controller for the whole run
// and is not cancelled by ctx; ctx only bounds the export.
func (c *Controller) Train(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state.Phase == Training {
		return fmt.Errorf("%w: already training", ErrInvalidState)
	}
	if !c.source.Enabled() {
		return ErrCaptureNotEnabled
	}
	if missing := c.store.Missing(); len(missing) > 0 {
		names := make([]string, len(missing))
		for i, l := range missing {
			names[i] = c.labels.Name(l)
		}
		c.log.Warn("training blocked", "empty_labels", names)
		c.publishLocked()
		c.setStatusLocked(InsufficientDataStatus(names))
		return &InsufficientDataError{Labels: names}
	}

	c.state = State{Phase: Training, Label: -1}
	c.publishLocked()
	c.setStatusLocked(StatusTraining)

	run := history.NewRun(c.labels.Names(), c.store.Counts())
	c.log.Info("training started", "run_id", run.ID, "examples", c.store.Len(), "loss", c.head.Loss().Name())

	hist, err := c.fitLocked(context.WithoutCancel(ctx))
	run.Epochs = hist.Epochs
	if err != nil {
		run.Status = history.StatusFailed
		run.Error = err.Error()
		run.FinishedAt = time.Now()
		c.recordRunLocked(run)

		c.state = idleState()
		c.publishLocked()
		c.setStatusLocked("Training failed: " + err.Error())
		c.log.Error("training failed", "run_id", run.ID, "error", err)
		return fmt.Errorf("session: training: %w", err)
	}

	c.trained = true
	c.exportLocked(ctx, run)

	run.Status = history.StatusSucceeded
	run.FinishedAt = time.Now()
	c.recordRunLocked(run)

	final := hist.Final()
	c.log.Info("training complete",
		"run_id", run.ID,
		"loss", final.Loss,
		"accuracy", final.Accuracy,
		"duration", run.Duration())

	c.state = State{Phase: Predicting, Label: -1}
	c.publishLocked()
	c.signal()
	return nil
}

// fitLocked builds the training batch from the store and fits the head.
// The batch copies the embeddings and is dropped when fitting returns.
func (c *Controller) fitLocked(ctx context.Context) (classifier.History, error) {
	embs, lbls := c.store.Snapshot()
	if err := classifier.ShuffleCombo(c.head.Rand(), embs, lbls); err != nil {
		return classifier.History{}, err
	}

	vecs := make([][]float32, len(embs))
	for i, e := range embs {
		vecs[i] = e.Vector()
	}
	x, err := classifier.Stack(vecs)
	if err != nil {
		return classifier.History{}, err
	}
	y, err := classifier.OneHot(lbls, c.labels.Len())
	if err != nil {
		return classifier.History{}, err
	}

	total := c.cfg.Fit.Epochs
	return c.head.Fit(ctx, x, y, c.cfg.Fit, func(logs classifier.EpochLogs) {
		c.log.Info("epoch", "epoch", logs.Epoch, "loss", logs.Loss, "accuracy", logs.Accuracy)
		c.setStatusLocked(EpochStatus(logs, total))
		if ed, ok := c.currentDisplay().(EpochDisplay); ok {
			ed.ShowEpoch(logs, total)
		}
		if c.onEpoch != nil {
			c.onEpoch(logs)
		}
	})
}

// exportLocked hands the combined model to the exporter once. Failures are
// recorded on the run and shown in the status but do not fail training.
func (c *Controller) exportLocked(ctx context.Context, run *history.Run) {
	if c.exporter == nil {
		return
	}

	bundle := &export.Bundle{
		RunID:     run.ID,
		CreatedAt: time.Now(),
		Labels:    c.labels.All(),
		Backbone:  c.cfg.Backbone,
		Head:      c.head.Weights(),
	}
	run.Artifact = bundle.Filename()

	data, err := bundle.Bytes()
	if err == nil {
		run.Location, err = c.exporter.Export(ctx, run.Artifact, data)
	}
	if err != nil {
		run.ExportError = err.Error()
		c.log.Warn("model export failed", "run_id", run.ID, "error", err)
		c.setStatusLocked("Model export failed: " + err.Error())
		return
	}
	c.log.Info("model exported", "artifact", run.Artifact, "location", run.Location, "bytes", len(data))
}

func (c *Controller) recordRunLocked(run *history.Run) {
	if c.history != nil {
		if err := c.history.Save(run); err != nil {
			c.log.Warn("failed to save run", "run_id", run.ID, "error", err)
		}
	}
	cp := *run
	c.viewMu.Lock()
	c.view.LastRun = &cp
	c.viewMu.Unlock()
}

// Tick runs one step of the frame loop: it pulls the next frame when a
// task is armed (or a frame observer is set) and processes it.
func (c *Controller) Tick(ctx context.Context) error {
	if !c.wantsFrames() {
		return nil
	}

	frame, err := c.source.Next(ctx)
	if err != nil {
		return fmt.Errorf("session: next frame: %w", err)
	}

	c.viewMu.RLock()
	onFrame := c.onFrame
	c.viewMu.RUnlock()
	if onFrame != nil {
		onFrame(frame)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stepLocked(frame)
}

// Run drives Tick until ctx is done. Failed steps are logged and retried
// after a backoff.
func (c *Controller) Run(ctx context.Context) error {
	c.log.Info("session loop started")
	defer c.log.Info("session loop stopped")

	for {
		if !c.wantsFrames() {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-c.wake:
			}
			continue
		}

		if err := c.Tick(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.log.Warn("frame step failed", "error", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.cfg.ErrorBackoff):
			}
		}
	}
}

func (c *Controller) wantsFrames() bool {
	if !c.source.Enabled() {
		return false
	}
	c.viewMu.RLock()
	defer c.viewMu.RUnlock()
	return c.view.State.armed() || c.onFrame != nil
}

// stepLocked re-checks the gate and runs the task for the current state.
func (c *Controller) stepLocked(frame capture.Frame) error {
	if !c.source.Enabled() {
		return nil
	}
	switch c.state.Phase {
	case Collecting:
		return c.collectLocked(frame, c.state.Label)
	case Predicting:
		return c.predictLocked(frame)
	}
	return nil
}

func (c *Controller) collectLocked(frame capture.Frame, label int) error {
	emb, err := c.extractor.Extract(frame)
	if err != nil {
		return fmt.Errorf("session: extract: %w", err)
	}
	if err := c.store.Append(emb, label); err != nil {
		emb.Release()
		return err
	}

	debug.Frame("collect", frame.Seq, "label", label, "count", c.store.CountFor(label))
	c.publishLocked()
	c.setStatusLocked(CollectionStatus(c.labels, c.store.Counts()))
	return nil
}

func (c *Controller) predictLocked(frame capture.Frame) error {
	emb, err := c.extractor.Extract(frame)
	if err != nil {
		return fmt.Errorf("session: extract: %w", err)
	}
	defer emb.Release()

	p, err := c.head.Predict(emb.Vector())
	if err != nil {
		return fmt.Errorf("session: predict: %w", err)
	}

	idx := classifier.ArgMax(p)
	pred := &Prediction{
		Label:         idx,
		Name:          c.labels.Name(idx),
		Confidence:    classifier.Confidence(p[idx]),
		Probabilities: p,
		At:            frame.Timestamp,
	}

	debug.Frame("predict", frame.Seq, "label", pred.Name, "p", p[idx])
	c.viewMu.Lock()
	c.view.Prediction = pred
	c.viewMu.Unlock()
	c.setStatusLocked(PredictionStatus(pred.Name, p[idx]))
	return nil
}

func (c *Controller) currentDisplay() Display {
	c.viewMu.RLock()
	defer c.viewMu.RUnlock()
	return c.display
}

func (c *Controller) setStatusLocked(text string) {
	c.viewMu.Lock()
	c.view.Status = text
	d := c.display
	c.viewMu.Unlock()
	d.SetStatus(text)
}

// publishLocked copies the controller state into the view.
func (c *Controller) publishLocked() {
	counts := c.store.Counts()
	c.viewMu.Lock()
	c.view.State = c.state
	c.view.Counts = counts
	c.view.Trained = c.trained
	c.view.CaptureActive = c.source.Enabled()
	c.viewMu.Unlock()
}

func (c *Controller) signal() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// Snapshot returns the published view.
func (c *Controller) Snapshot() Snapshot {
	c.viewMu.RLock()
	defer c.viewMu.RUnlock()

	s := c.view
	s.Counts = append([]int(nil), c.view.Counts...)
	if c.view.Prediction != nil {
		p := *c.view.Prediction
		p.Probabilities = append([]float64(nil), p.Probabilities...)
		s.Prediction = &p
	}
	if c.view.LastRun != nil {
		r := *c.view.LastRun
		s.LastRun = &r
	}
	return s
}

// State returns the current state.
func (c *Controller) State() State {
	return c.Snapshot().State
}

// Counts returns per-label example counts in index order.
func (c *Controller) Counts() []int {
	return c.Snapshot().Counts
}

// Status returns the current status text.
func (c *Controller) Status() string {
	return c.Snapshot().Status
}

// Trained reports whether a training run has succeeded.
func (c *Controller) Trained() bool {
	return c.Snapshot().Trained
}

// LastRun returns the most recent training run, or nil.
func (c *Controller) LastRun() *history.Run {
	return c.Snapshot().LastRun
}

// Close releases every example and closes the source and extractor.
func (c *Controller) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.store.Clear()
	c.state = idleState()
	c.publishLocked()

	return errors.Join(c.source.Close(), c.extractor.Close())
}
