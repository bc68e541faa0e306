package web

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"

	"github.com/teslashibe/go-teachable/pkg/capture"
	"github.com/teslashibe/go-teachable/pkg/export"
	"github.com/teslashibe/go-teachable/pkg/history"
	"github.com/teslashibe/go-teachable/pkg/hub"
	"github.com/teslashibe/go-teachable/pkg/labels"
	"github.com/teslashibe/go-teachable/pkg/protocol"
	"github.com/teslashibe/go-teachable/pkg/session"
)

var errUnknownCommand = errors.New("web: unknown command")

// StatusResponse is the body of GET /api/status and of successful commands.
type StatusResponse struct {
	protocol.StatusData
	Labels  []labels.Label `json:"labels"`
	LastRun *history.Run   `json:"last_run,omitempty"`
}

// ErrorResponse is the body of every failed API call.
type ErrorResponse struct {
	Error  string   `json:"error"`
	Code   string   `json:"code"`
	Labels []string `json:"labels,omitempty"`
}

// execute runs one session command. label is only used by press and release.
func (s *Server) execute(ctx context.Context, t protocol.MessageType, label int) error {
	switch t {
	case protocol.TypeEnable:
		return s.sess.EnableCapture(ctx)
	case protocol.TypePress:
		return s.sess.Press(label)
	case protocol.TypeRelease:
		return s.sess.Release(label)
	case protocol.TypeTrain:
		return s.sess.Train(ctx)
	case protocol.TypeReset:
		return s.sess.Reset()
	case protocol.TypePredictStart:
		return s.sess.StartPrediction()
	case protocol.TypePredictStop:
		return s.sess.StopPrediction()
	default:
		return fmt.Errorf("%w: %q", errUnknownCommand, t)
	}
}

// classify maps a command error to an HTTP status and a protocol code.
func classify(err error) (int, ErrorResponse) {
	resp := ErrorResponse{Error: err.Error(), Code: protocol.CodeInternal}
	status := fiber.StatusInternalServerError

	var insufficient *session.InsufficientDataError
	switch {
	case errors.As(err, &insufficient):
		status, resp.Code = fiber.StatusUnprocessableEntity, protocol.CodeInsufficientData
		resp.Labels = insufficient.Labels
	case errors.Is(err, labels.ErrUnknownLabel):
		status, resp.Code = fiber.StatusNotFound, protocol.CodeUnknownLabel
	case errors.Is(err, session.ErrInvalidState):
		status, resp.Code = fiber.StatusConflict, protocol.CodeInvalidState
	case errors.Is(err, capture.ErrPermissionDenied):
		status, resp.Code = fiber.StatusForbidden, protocol.CodePermissionDenied
	case errors.Is(err, capture.ErrUnsupportedDevice):
		status, resp.Code = fiber.StatusServiceUnavailable, protocol.CodeUnsupported
	case errors.Is(err, errUnknownCommand):
		status, resp.Code = fiber.StatusBadRequest, protocol.CodeBadRequest
	}
	return status, resp
}

func (s *Server) statusResponse() StatusResponse {
	snap := s.sess.Snapshot()
	return StatusResponse{
		StatusData: statusData(snap),
		Labels:     s.sess.Labels().All(),
		LastRun:    snap.LastRun,
	}
}

// command runs t and answers with the new status or a mapped error.
func (s *Server) command(c *fiber.Ctx, t protocol.MessageType, label int) error {
	err := s.execute(c.UserContext(), t, label)
	s.broadcastStatus()
	if err != nil {
		status, resp := classify(err)
		if status >= fiber.StatusInternalServerError {
			s.log.Error("command failed", "command", t, "error", err)
		}
		return c.Status(status).JSON(resp)
	}
	return c.JSON(s.statusResponse())
}

// labelParam accepts a label index or a label name.
func (s *Server) labelParam(c *fiber.Ctx) (int, error) {
	if idx, err := c.ParamsInt("index"); err == nil {
		return idx, nil
	}
	return s.lookupLabel(c.Params("index"))
}

func (s *Server) lookupLabel(name string) (int, error) {
	idx, ok := s.sess.Labels().Lookup(name)
	if !ok {
		return 0, fmt.Errorf("%w: %q", labels.ErrUnknownLabel, name)
	}
	return idx, nil
}

func (s *Server) handleStatus(c *fiber.Ctx) error {
	return c.JSON(s.statusResponse())
}

func (s *Server) handleLabels(c *fiber.Ctx) error {
	return c.JSON(s.sess.Labels().All())
}

func (s *Server) handleEnable(c *fiber.Ctx) error {
	return s.command(c, protocol.TypeEnable, -1)
}

func (s *Server) handlePress(c *fiber.Ctx) error {
	idx, err := s.labelParam(c)
	if err != nil {
		status, resp := classify(err)
		return c.Status(status).JSON(resp)
	}
	return s.command(c, protocol.TypePress, idx)
}

func (s *Server) handleRelease(c *fiber.Ctx) error {
	idx, err := s.labelParam(c)
	if err != nil {
		status, resp := classify(err)
		return c.Status(status).JSON(resp)
	}
	return s.command(c, protocol.TypeRelease, idx)
}

// handleTrain blocks until training and export finish.
func (s *Server) handleTrain(c *fiber.Ctx) error {
	return s.command(c, protocol.TypeTrain, -1)
}

func (s *Server) handleReset(c *fiber.Ctx) error {
	return s.command(c, protocol.TypeReset, -1)
}

func (s *Server) handlePredictStart(c *fiber.Ctx) error {
	return s.command(c, protocol.TypePredictStart, -1)
}

func (s *Server) handlePredictStop(c *fiber.Ctx) error {
	return s.command(c, protocol.TypePredictStop, -1)
}

// handleModel downloads the most recently exported bundle.
func (s *Server) handleModel(c *fiber.Ctx) error {
	if s.latest == nil {
		return c.Status(fiber.StatusNotFound).JSON(ErrorResponse{Error: export.ErrNoArtifact.Error(), Code: protocol.CodeNotFound})
	}
	name, data, at, err := s.latest.Get()
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(ErrorResponse{Error: err.Error(), Code: protocol.CodeNotFound})
	}
	c.Attachment(name)
	c.Set(fiber.HeaderLastModified, at.UTC().Format(http.TimeFormat))
	return c.Send(data)
}

func (s *Server) handleRuns(c *fiber.Ctx) error {
	if s.runs == nil {
		return c.JSON([]*history.Run{})
	}
	runs, err := s.runs.List()
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{Error: err.Error(), Code: protocol.CodeInternal})
	}
	return c.JSON(runs)
}

func (s *Server) handleRun(c *fiber.Ctx) error {
	if s.runs == nil {
		return c.Status(fiber.StatusNotFound).JSON(ErrorResponse{Error: history.ErrNotFound.Error(), Code: protocol.CodeNotFound})
	}
	run, err := s.runs.Get(c.Params("id"))
	if errors.Is(err, history.ErrNotFound) {
		return c.Status(fiber.StatusNotFound).JSON(ErrorResponse{Error: err.Error(), Code: protocol.CodeNotFound})
	}
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{Error: err.Error(), Code: protocol.CodeInternal})
	}
	return c.JSON(run)
}

// handleDriveAuth sends the browser to the Google consent page.
func (s *Server) handleDriveAuth(c *fiber.Ctx) error {
	return c.Redirect(s.drive.AuthURL(), fiber.StatusTemporaryRedirect)
}

func (s *Server) handleDriveCallback(c *fiber.Ctx) error {
	code := c.Query("code")
	if code == "" {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "missing code", Code: protocol.CodeBadRequest})
	}
	if err := s.drive.HandleCallback(c.UserContext(), code); err != nil {
		s.log.Warn("drive callback", "error", err)
		return c.Status(fiber.StatusBadGateway).JSON(ErrorResponse{Error: err.Error(), Code: protocol.CodeInternal})
	}
	return c.JSON(fiber.Map{"authenticated": true})
}

func (s *Server) handleStatusWS(c *websocket.Conn) {
	s.serveHub(s.statusHub, c, nil)
}

func (s *Server) handleCameraWS(c *websocket.Conn) {
	s.serveHub(s.cameraHub, c, nil)
}

// handleControlWS attaches the connection to the status hub and answers
// every command with an ack or an error carrying the command's ID.
func (s *Server) handleControlWS(c *websocket.Conn) {
	log := s.log.With("remote", c.RemoteAddr().String())
	s.serveHub(s.statusHub, c, func(client *hub.Client, raw []byte) {
		reply := s.handleCommand(context.Background(), raw)
		if reply == nil {
			return
		}
		data, err := reply.Bytes()
		if err != nil {
			log.Warn("encode reply", "error", err)
			return
		}
		if !client.Send(hub.NewJSONMessage(data)) {
			log.Debug("reply dropped", "type", reply.Type)
		}
	})
}

func (s *Server) serveHub(h *hub.Hub, c *websocket.Conn, handle hub.Handler) {
	client := hub.NewClient(h, c, handle)
	if client == nil {
		c.Close()
		return
	}
	client.Run()
}

// handleCommand decodes one control message, runs it and builds the reply.
func (s *Server) handleCommand(ctx context.Context, raw []byte) *protocol.Message {
	msg, err := protocol.ParseMessage(raw)
	if err != nil {
		reply, _ := protocol.NewErrorMessage(nil, protocol.CodeBadRequest, err.Error(), nil)
		return reply
	}

	if msg.Type == protocol.TypePing {
		ping, err := msg.GetPingData()
		if err != nil {
			reply, _ := protocol.NewErrorMessage(msg, protocol.CodeBadRequest, err.Error(), nil)
			return reply
		}
		sent := ping.Timestamp
		if sent == 0 {
			sent = msg.Timestamp
		}
		reply, _ := protocol.NewPongMessage(ping.ID, sent, time.Now().UnixMilli())
		return reply
	}

	label := -1
	if msg.Type == protocol.TypePress || msg.Type == protocol.TypeRelease {
		cmd, err := msg.GetLabelCommand()
		if err != nil {
			reply, _ := protocol.NewErrorMessage(msg, protocol.CodeBadRequest, err.Error(), nil)
			return reply
		}
		label = cmd.Label
		if cmd.Name != "" {
			if label, err = s.lookupLabel(cmd.Name); err != nil {
				_, resp := classify(err)
				reply, _ := protocol.NewErrorMessage(msg, resp.Code, resp.Error, nil)
				return reply
			}
		}
	}

	err = s.execute(ctx, msg.Type, label)
	s.broadcastStatus()
	if err != nil {
		_, resp := classify(err)
		reply, _ := protocol.NewErrorMessage(msg, resp.Code, resp.Error, resp.Labels)
		return reply
	}
	reply, _ := protocol.NewAckMessage(msg)
	return reply
}
