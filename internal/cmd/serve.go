package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/teslashibe/go-teachable/internal/config"
	applog "github.com/teslashibe/go-teachable/internal/log"
	"github.com/teslashibe/go-teachable/pkg/capture"
	"github.com/teslashibe/go-teachable/pkg/capture/webcam"
	"github.com/teslashibe/go-teachable/pkg/classifier"
	"github.com/teslashibe/go-teachable/pkg/debug"
	"github.com/teslashibe/go-teachable/pkg/export"
	"github.com/teslashibe/go-teachable/pkg/features"
	"github.com/teslashibe/go-teachable/pkg/features/mobilenet"
	"github.com/teslashibe/go-teachable/pkg/history"
	"github.com/teslashibe/go-teachable/pkg/session"
	"github.com/teslashibe/go-teachable/pkg/web"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the teaching dashboard",
	RunE:  runServe,
}

func init() {
	f := serveCmd.Flags()
	f.String("port", "8080", "dashboard port")
	f.Int("device", 0, "video device index (/dev/videoN)")
	f.String("preset", "", "camera preset: default, 720p, lowres")
	f.String("model", "", "backbone ONNX file or URL")
	f.Bool("simulate", false, "synthetic camera and embeddings, no hardware or model")
	f.Bool("debug", false, "enable verbose debug logging")
	f.Bool("debug-frames", false, "log every collected and predicted frame")
	f.String("log-level", "info", "log level: debug, info, warn, error")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(config.FileFromEnv(configFile), cmd.Flags())
	if err != nil {
		return err
	}

	level := cfg.Log.Level
	if cfg.Log.Debug {
		level = "debug"
	}
	logger := applog.Init(applog.Options{Level: level, JSON: config.Production()})
	debug.Frames, _ = cmd.Flags().GetBool("debug-frames")

	a, err := newApp(cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	return a.Run(ctx)
}

// app is the wired dashboard process.
type app struct {
	log     *slog.Logger
	session *session.Controller
	server  *web.Server
	latest  *export.Latest
	runs    *history.JSONStore
}

func newApp(cfg *config.Config, logger *slog.Logger) (*app, error) {
	if logger == nil {
		logger = slog.Default()
	}
	set, err := cfg.LabelSet()
	if err != nil {
		return nil, err
	}

	source, extractor, backbone, err := newPipeline(cfg, logger)
	if err != nil {
		return nil, err
	}

	hc := classifier.DefaultConfig(set.Len())
	hc.InputDim = extractor.Dim()
	hc.HiddenUnits = cfg.Training.HiddenUnits
	hc.LearningRate = cfg.Training.LearningRate
	hc.Seed = cfg.Training.Seed
	head, err := classifier.New(hc)
	if err != nil {
		closePipeline(source, extractor)
		return nil, err
	}

	runs, err := history.NewJSONStore(cfg.History.Path)
	if err != nil {
		closePipeline(source, extractor)
		return nil, err
	}
	if cfg.History.MaxRuns > 0 {
		runs.SetMaxRuns(cfg.History.MaxRuns)
	}

	latest := export.NewLatest()
	exporters, drive, err := newExporters(cfg, logger)
	if err != nil {
		closePipeline(source, extractor)
		return nil, err
	}
	exporters = append(exporters, latest)

	sess, err := session.New(session.Config{
		Fit: classifier.FitOptions{
			Epochs:    cfg.Training.Epochs,
			BatchSize: cfg.Training.BatchSize,
			Shuffle:   cfg.Training.Shuffle,
		},
		Backbone: backbone,
	}, session.Options{
		Labels:    set,
		Source:    source,
		Extractor: extractor,
		Head:      head,
		Exporter:  export.NewChain(logger, exporters...),
		History:   runs,
		Logger:    logger,
	})
	if err != nil {
		closePipeline(source, extractor)
		return nil, err
	}

	srv, err := web.NewServer(web.Config{
		Port:      cfg.Server.Port,
		StaticDir: cfg.Server.StaticDir,
	}, web.Deps{
		Session: sess,
		Latest:  latest,
		History: runs,
		Drive:   drive,
		Logger:  logger,
	})
	if err != nil {
		sess.Close()
		return nil, err
	}

	logger.Info("teachable ready",
		"labels", set.Names(),
		"simulate", cfg.Simulate,
		"embedding_dim", extractor.Dim(),
		"exporters", len(exporters),
		"history", runs.Path())

	return &app{
		log:     logger,
		session: sess,
		server:  srv,
		latest:  latest,
		runs:    runs,
	}, nil
}

// Run drives the session loop and the dashboard until ctx is done or the
// dashboard stops, e.g. because its port is taken.
func (a *app) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	loopDone := make(chan error, 1)
	go func() { loopDone <- a.session.Run(ctx) }()

	err := a.server.Start(ctx)
	if err != nil {
		a.log.Error("dashboard stopped", "error", err)
	}
	cancel()
	if loopErr := <-loopDone; loopErr != nil && !errors.Is(loopErr, context.Canceled) {
		a.log.Warn("session loop", "error", loopErr)
	}
	return err
}

// Close releases the camera and the backbone.
func (a *app) Close() error {
	return a.session.Close()
}

// newPipeline opens the capture source and the feature extractor.
func newPipeline(cfg *config.Config, logger *slog.Logger) (capture.Source, features.Extractor, export.Backbone, error) {
	backbone := export.Backbone{
		Source:       cfg.Model.Path,
		InputWidth:   cfg.Model.InputWidth,
		InputHeight:  cfg.Model.InputHeight,
		EmbeddingDim: cfg.Model.EmbeddingDim,
		OutputLayer:  cfg.Model.OutputLayer,
	}

	if cfg.Simulate {
		src := capture.NewMock()
		src.Width, src.Height = cfg.Capture.Width, cfg.Capture.Height
		src.Interval = time.Second / time.Duration(cfg.Capture.Framerate)
		backbone.Source = "simulated"
		logger.Info("simulation mode: synthetic frames and embeddings")
		return src, features.NewMock(cfg.Model.EmbeddingDim), backbone, nil
	}

	src, err := webcam.New(cfg.Capture, logger)
	if err != nil {
		return nil, nil, backbone, err
	}
	ext, err := mobilenet.New(mobilenet.Config{
		ModelPath:    cfg.Model.Path,
		CacheDir:     cfg.Model.CacheDir,
		OutputLayer:  cfg.Model.OutputLayer,
		InputWidth:   cfg.Model.InputWidth,
		InputHeight:  cfg.Model.InputHeight,
		EmbeddingDim: cfg.Model.EmbeddingDim,
	}, logger)
	if err != nil {
		src.Close()
		return nil, nil, backbone, fmt.Errorf("load backbone: %w", err)
	}
	backbone.Path = ext.ModelFile()
	return src, ext, backbone, nil
}

func closePipeline(src capture.Source, ext features.Extractor) {
	src.Close()
	ext.Close()
}

// newExporters builds every configured export target. The Drive exporter
// is also returned so the dashboard can run its OAuth flow.
func newExporters(cfg *config.Config, logger *slog.Logger) ([]export.Exporter, *export.DriveExporter, error) {
	var out []export.Exporter

	if cfg.Export.Dir != "" {
		fe, err := export.NewFileExporter(cfg.Export.Dir)
		if err != nil {
			return nil, nil, err
		}
		out = append(out, fe)
	}

	if cfg.Export.MinIOEnabled() {
		me, err := export.NewMinIOExporter(cfg.Export.MinIO)
		if err != nil {
			return nil, nil, err
		}
		out = append(out, me)
		logger.Info("minio export enabled", "endpoint", cfg.Export.MinIO.Endpoint, "bucket", cfg.Export.MinIO.Bucket)
	}

	var drive *export.DriveExporter
	if cfg.Export.DriveEnabled() {
		dc := cfg.Export.Drive
		if dc.TokenPath == "" {
			dc.TokenPath = filepath.Join(config.HomeDir(), "google_token.json")
		}
		if dc.RedirectURL == "" {
			dc.RedirectURL = fmt.Sprintf("http://localhost:%s/api/drive/callback", cfg.Server.Port)
		}
		var err error
		if drive, err = export.NewDriveExporter(dc); err != nil {
			return nil, nil, err
		}
		out = append(out, drive)
		if !drive.Authenticated() {
			logger.Warn("google drive not authenticated", "login", fmt.Sprintf("http://localhost:%s/api/drive/auth", cfg.Server.Port))
		}
	}

	if len(out) == 0 {
		logger.Info("no persistent export target; models are only downloadable from the dashboard")
	}
	return out, drive, nil
}
