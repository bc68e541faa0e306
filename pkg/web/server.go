// Package web serves the teaching dashboard: a REST API over the session
// controller, a status and a camera websocket, and a control websocket
// that accepts protocol commands.
package web

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"os"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"

	"github.com/teslashibe/go-teachable/pkg/capture"
	"github.com/teslashibe/go-teachable/pkg/classifier"
	"github.com/teslashibe/go-teachable/pkg/export"
	"github.com/teslashibe/go-teachable/pkg/history"
	"github.com/teslashibe/go-teachable/pkg/hub"
	"github.com/teslashibe/go-teachable/pkg/protocol"
	"github.com/teslashibe/go-teachable/pkg/session"
)

// Config configures the dashboard server.
type Config struct {
	Port      string
	StaticDir string
}

// DefaultConfig serves ./web on port 8080.
func DefaultConfig() Config {
	return Config{Port: "8080", StaticDir: "./web"}
}

// Deps are the collaborators behind the API. Session is required.
type Deps struct {
	Session *session.Controller
	Latest  *export.Latest
	History history.Store
	Drive   *export.DriveExporter
	Logger  *slog.Logger
}

// Server is the web dashboard server
type Server struct {
	app  *fiber.App
	cfg  Config
	log  *slog.Logger
	sess *session.Controller

	latest *export.Latest
	runs   history.Store
	drive  *export.DriveExporter

	// Hubs for websocket broadcast
	statusHub *hub.Hub
	cameraHub *hub.Hub
}

// NewServer creates the server and installs it as the session's display
// and frame observer.
func NewServer(cfg Config, deps Deps) (*Server, error) {
	if deps.Session == nil {
		return nil, errors.New("web: session is required")
	}
	if cfg.Port == "" {
		cfg.Port = DefaultConfig().Port
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		cfg:       cfg,
		log:       logger.With("component", "web"),
		sess:      deps.Session,
		latest:    deps.Latest,
		runs:      deps.History,
		drive:     deps.Drive,
		statusHub: hub.New("status", logger).ReplayLast(),
		cameraHub: hub.New("camera", logger),
	}

	app := fiber.New(fiber.Config{
		AppName:               "Teachable",
		DisableStartupMessage: true,
	})

	// CORS for local development
	app.Use(cors.New())

	if cfg.StaticDir != "" {
		if _, err := os.Stat(cfg.StaticDir); err == nil {
			app.Static("/", cfg.StaticDir)
		}
	}

	api := app.Group("/api")
	api.Get("/status", s.handleStatus)
	api.Get("/labels", s.handleLabels)
	api.Post("/camera/enable", s.handleEnable)
	api.Post("/labels/:index/press", s.handlePress)
	api.Post("/labels/:index/release", s.handleRelease)
	api.Post("/train", s.handleTrain)
	api.Post("/reset", s.handleReset)
	api.Post("/predict/start", s.handlePredictStart)
	api.Post("/predict/stop", s.handlePredictStop)
	api.Get("/model", s.handleModel)
	api.Get("/runs", s.handleRuns)
	api.Get("/runs/:id", s.handleRun)
	if s.drive != nil {
		api.Get("/drive/auth", s.handleDriveAuth)
		api.Get("/drive/callback", s.handleDriveCallback)
	}

	// WebSocket upgrade middleware
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	app.Get("/ws/status", websocket.New(s.handleStatusWS))
	app.Get("/ws/camera", websocket.New(s.handleCameraWS))
	app.Get("/ws/control", websocket.New(s.handleControlWS))

	s.app = app

	deps.Session.SetDisplay(s)
	deps.Session.SetFrameObserver(s.sendCameraFrame)
	return s, nil
}

// App returns the underlying fiber app.
func (s *Server) App() *fiber.App {
	return s.app
}

// Start listens on the configured port until ctx is done.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", ":"+s.cfg.Port)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve runs the hubs and serves on ln until ctx is done.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.log.Info("dashboard listening", "addr", "http://"+ln.Addr().String())

	go s.statusHub.Run(ctx)
	go s.cameraHub.Run(ctx)
	s.broadcastStatus()

	go func() {
		<-ctx.Done()
		if err := s.app.Shutdown(); err != nil {
			s.log.Warn("shutdown", "error", err)
		}
	}()

	return s.app.Listener(ln)
}

// SetStatus implements session.Display by pushing the session view to
// status subscribers.
func (s *Server) SetStatus(text string) {
	s.log.Debug("status", "text", text)
	s.broadcastStatus()
}

// ShowEpoch implements session.EpochDisplay.
func (s *Server) ShowEpoch(logs classifier.EpochLogs, total int) {
	msg, err := protocol.NewEpochMessage(logs.Epoch, total, logs.Loss, logs.Accuracy)
	if err != nil {
		s.log.Warn("epoch message", "error", err)
		return
	}
	s.broadcast(msg)
}

func (s *Server) broadcastStatus() {
	msg, err := protocol.NewStatusMessage(statusData(s.sess.Snapshot()))
	if err != nil {
		s.log.Warn("status message", "error", err)
		return
	}
	s.broadcast(msg)
}

func (s *Server) broadcast(msg *protocol.Message) {
	data, err := msg.Bytes()
	if err != nil {
		s.log.Warn("encode message", "type", msg.Type, "error", err)
		return
	}
	s.statusHub.Broadcast(hub.NewJSONMessage(data))
}

// sendCameraFrame forwards preview frames while someone is watching.
func (s *Server) sendCameraFrame(frame capture.Frame) {
	if len(frame.JPEG) == 0 || s.cameraHub.ClientCount() == 0 {
		return
	}
	s.cameraHub.BroadcastFrame(frame.JPEG)
}

// statusData converts a session snapshot to its wire form.
func statusData(snap session.Snapshot) protocol.StatusData {
	d := protocol.StatusData{
		State:         snap.State.Phase.String(),
		Label:         snap.State.Label,
		Status:        snap.Status,
		Counts:        snap.Counts,
		Trained:       snap.Trained,
		CaptureActive: snap.CaptureActive,
	}
	if d.Counts == nil {
		d.Counts = []int{}
	}
	if p := snap.Prediction; p != nil {
		d.Prediction = &protocol.PredictionData{
			Label:         p.Label,
			Name:          p.Name,
			Confidence:    p.Confidence,
			Probabilities: p.Probabilities,
		}
	}
	return d
}
