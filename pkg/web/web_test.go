package web

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/teslashibe/go-teachable/pkg/capture"
	"github.com/teslashibe/go-teachable/pkg/export"
	"github.com/teslashibe/go-teachable/pkg/features"
	"github.com/teslashibe/go-teachable/pkg/history"
	"github.com/teslashibe/go-teachable/pkg/labels"
	"github.com/teslashibe/go-teachable/pkg/protocol"
	"github.com/teslashibe/go-teachable/pkg/session"
)

type testServer struct {
	srv    *Server
	sess   *session.Controller
	source *capture.Mock
	latest *export.Latest
	runs   *history.JSONStore
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	set, err := labels.FromNames("cat", "dog")
	if err != nil {
		t.Fatalf("labels: %v", err)
	}
	ts := &testServer{
		source: capture.NewMock(),
		latest: export.NewLatest(),
		runs:   history.NewMemoryStore(),
	}
	ts.sess, err = session.New(session.DefaultConfig(), session.Options{
		Labels:    set,
		Source:    ts.source,
		Extractor: features.NewMock(8),
		Exporter:  ts.latest,
		History:   ts.runs,
	})
	if err != nil {
		t.Fatalf("session.New: %v", err)
	}
	ts.srv, err = NewServer(Config{Port: "0"}, Deps{
		Session: ts.sess,
		Latest:  ts.latest,
		History: ts.runs,
	})
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	return ts
}

func (ts *testServer) do(t *testing.T, method, path string) (*http.Response, []byte) {
	t.Helper()
	resp, err := ts.srv.App().Test(httptest.NewRequest(method, path, nil), -1)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp, body
}

// collect records n examples for label through the session loop.
func (ts *testServer) collect(t *testing.T, label, n int) {
	t.Helper()
	if err := ts.sess.Press(label); err != nil {
		t.Fatalf("Press(%d): %v", label, err)
	}
	for i := 0; i < n; i++ {
		if err := ts.sess.Tick(context.Background()); err != nil {
			t.Fatalf("Tick: %v", err)
		}
	}
	if err := ts.sess.Release(label); err != nil {
		t.Fatalf("Release(%d): %v", label, err)
	}
}

func decodeStatus(t *testing.T, body []byte) StatusResponse {
	t.Helper()
	var st StatusResponse
	if err := json.Unmarshal(body, &st); err != nil {
		t.Fatalf("decode status %s: %v", body, err)
	}
	return st
}

func decodeError(t *testing.T, body []byte) ErrorResponse {
	t.Helper()
	var e ErrorResponse
	if err := json.Unmarshal(body, &e); err != nil {
		t.Fatalf("decode error %s: %v", body, err)
	}
	return e
}

func TestNewServerRequiresSession(t *testing.T) {
	if _, err := NewServer(DefaultConfig(), Deps{}); err == nil {
		t.Error("NewServer without a session should fail")
	}
}

func TestStatus(t *testing.T) {
	ts := newTestServer(t)

	resp, body := ts.do(t, http.MethodGet, "/api/status")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	st := decodeStatus(t, body)
	if st.State != "idle" || st.Label != -1 {
		t.Errorf("state = %s(%d), want idle(-1)", st.State, st.Label)
	}
	if len(st.Counts) != 2 || st.Counts[0] != 0 || st.Counts[1] != 0 {
		t.Errorf("counts = %v", st.Counts)
	}
	if len(st.Labels) != 2 || st.Labels[1].Name != "dog" {
		t.Errorf("labels = %+v", st.Labels)
	}
	if st.Trained || st.CaptureActive {
		t.Errorf("fresh session reported trained=%v capture=%v", st.Trained, st.CaptureActive)
	}
}

func TestLabels(t *testing.T) {
	ts := newTestServer(t)
	_, body := ts.do(t, http.MethodGet, "/api/labels")
	var got []labels.Label
	if err := json.Unmarshal(body, &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got) != 2 || got[0].Name != "cat" || got[0].Index != 0 {
		t.Errorf("labels = %+v", got)
	}

	ts.sess.EnableCapture(context.Background())
	resp, _ := ts.do(t, http.MethodPost, "/api/labels/dog/press")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("press by name = %d", resp.StatusCode)
	}
	if st := ts.sess.State(); st.Phase != session.Collecting || st.Label != 1 {
		t.Errorf("state = %s, want collecting dog", st)
	}
}

func TestCommandErrors(t *testing.T) {
	tests := []struct {
		name   string
		setup  func(ts *testServer)
		method string
		path   string
		status int
		code   string
	}{
		{
			name:   "press before enable",
			method: http.MethodPost, path: "/api/labels/0/press",
			status: http.StatusConflict, code: protocol.CodeInvalidState,
		},
		{
			name:   "unknown label",
			method: http.MethodPost, path: "/api/labels/7/press",
			status: http.StatusNotFound, code: protocol.CodeUnknownLabel,
		},
		{
			name:   "unknown label name",
			method: http.MethodPost, path: "/api/labels/fish/press",
			status: http.StatusNotFound, code: protocol.CodeUnknownLabel,
		},
		{
			name:   "release without press",
			setup:  func(ts *testServer) { ts.sess.EnableCapture(context.Background()) },
			method: http.MethodPost, path: "/api/labels/0/release",
			status: http.StatusConflict, code: protocol.CodeInvalidState,
		},
		{
			name:   "permission denied",
			setup:  func(ts *testServer) { ts.source.EnableErr = capture.ErrPermissionDenied },
			method: http.MethodPost, path: "/api/camera/enable",
			status: http.StatusForbidden, code: protocol.CodePermissionDenied,
		},
		{
			name:   "no camera",
			setup:  func(ts *testServer) { ts.source.EnableErr = capture.ErrUnsupportedDevice },
			method: http.MethodPost, path: "/api/camera/enable",
			status: http.StatusServiceUnavailable, code: protocol.CodeUnsupported,
		},
		{
			name:   "predict before train",
			setup:  func(ts *testServer) { ts.sess.EnableCapture(context.Background()) },
			method: http.MethodPost, path: "/api/predict/start",
			status: http.StatusConflict, code: protocol.CodeInvalidState,
		},
		{
			name:   "model before train",
			method: http.MethodGet, path: "/api/model",
			status: http.StatusNotFound, code: protocol.CodeNotFound,
		},
		{
			name:   "unknown run",
			method: http.MethodGet, path: "/api/runs/nope",
			status: http.StatusNotFound, code: protocol.CodeNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t)
			if tt.setup != nil {
				tt.setup(ts)
			}
			resp, body := ts.do(t, tt.method, tt.path)
			if resp.StatusCode != tt.status {
				t.Fatalf("status = %d, want %d (%s)", resp.StatusCode, tt.status, body)
			}
			if e := decodeError(t, body); e.Code != tt.code {
				t.Errorf("code = %q, want %q", e.Code, tt.code)
			}
		})
	}
}

func TestTrainWithoutExamples(t *testing.T) {
	ts := newTestServer(t)
	ts.do(t, http.MethodPost, "/api/camera/enable")
	ts.collect(t, 0, 2)

	resp, body := ts.do(t, http.MethodPost, "/api/train")
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422 (%s)", resp.StatusCode, body)
	}
	e := decodeError(t, body)
	if e.Code != protocol.CodeInsufficientData {
		t.Errorf("code = %q", e.Code)
	}
	if len(e.Labels) != 1 || e.Labels[0] != "dog" {
		t.Errorf("labels = %v, want [dog]", e.Labels)
	}
}

func TestTrainAndDownload(t *testing.T) {
	ts := newTestServer(t)

	resp, body := ts.do(t, http.MethodPost, "/api/camera/enable")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("enable = %d (%s)", resp.StatusCode, body)
	}
	if st := decodeStatus(t, body); !st.CaptureActive || st.Status != session.StatusCameraEnabled {
		t.Errorf("after enable: %+v", st.StatusData)
	}

	ts.collect(t, 0, 3)
	ts.collect(t, 1, 4)

	resp, body = ts.do(t, http.MethodPost, "/api/train")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("train = %d (%s)", resp.StatusCode, body)
	}
	st := decodeStatus(t, body)
	if st.State != "predicting" || !st.Trained {
		t.Errorf("after train: state=%s trained=%v", st.State, st.Trained)
	}
	if st.LastRun == nil || len(st.LastRun.Epochs) != 5 {
		t.Fatalf("last run = %+v", st.LastRun)
	}

	resp, body = ts.do(t, http.MethodGet, "/api/model")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("model = %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/zip" {
		t.Errorf("content type = %q", ct)
	}
	m, w, err := export.ReadBundle(body)
	if err != nil {
		t.Fatalf("ReadBundle: %v", err)
	}
	if len(m.Labels) != 2 || w.NumClasses != 2 {
		t.Errorf("bundle labels=%d classes=%d", len(m.Labels), w.NumClasses)
	}

	_, body = ts.do(t, http.MethodGet, "/api/runs")
	var runs []history.Run
	if err := json.Unmarshal(body, &runs); err != nil {
		t.Fatalf("decode runs: %v", err)
	}
	if len(runs) != 1 || runs[0].Status != history.StatusSucceeded {
		t.Fatalf("runs = %+v", runs)
	}

	resp, _ = ts.do(t, http.MethodGet, "/api/runs/"+runs[0].ID)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("get run = %d", resp.StatusCode)
	}

	resp, body = ts.do(t, http.MethodPost, "/api/predict/stop")
	if st := decodeStatus(t, body); resp.StatusCode != http.StatusOK || st.State != "idle" {
		t.Errorf("predict stop = %d %s", resp.StatusCode, st.State)
	}

	resp, body = ts.do(t, http.MethodPost, "/api/reset")
	st = decodeStatus(t, body)
	if resp.StatusCode != http.StatusOK || st.Counts[0] != 0 || st.Counts[1] != 0 {
		t.Errorf("reset = %d counts %v", resp.StatusCode, st.Counts)
	}
	if st.Status != session.StatusReset {
		t.Errorf("status = %q", st.Status)
	}
}

func TestHandleCommand(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()

	reply := ts.srv.handleCommand(ctx, []byte(`{nope`))
	if reply.Type != protocol.TypeError {
		t.Fatalf("garbage reply = %s", reply.Type)
	}
	if e, _ := reply.GetErrorData(); e.Code != protocol.CodeBadRequest {
		t.Errorf("garbage code = %q", e.Code)
	}

	press, _ := protocol.NewCommand(protocol.TypePress, "p1", 0)
	raw, _ := press.Bytes()
	reply = ts.srv.handleCommand(ctx, raw)
	if reply.Type != protocol.TypeError || reply.ID != "p1" {
		t.Fatalf("press before enable = %s id %q", reply.Type, reply.ID)
	}
	if e, _ := reply.GetErrorData(); e.Code != protocol.CodeInvalidState || e.Command != protocol.TypePress {
		t.Errorf("press error = %+v", e)
	}

	enable, _ := protocol.NewCommand(protocol.TypeEnable, "e1", -1)
	raw, _ = enable.Bytes()
	reply = ts.srv.handleCommand(ctx, raw)
	if reply.Type != protocol.TypeAck || reply.ID != "e1" {
		t.Fatalf("enable reply = %s id %q", reply.Type, reply.ID)
	}

	raw, _ = press.Bytes()
	if reply = ts.srv.handleCommand(ctx, raw); reply.Type != protocol.TypeAck {
		t.Fatalf("press after enable = %s", reply.Type)
	}
	if got := ts.sess.State(); got.Phase != session.Collecting || got.Label != 0 {
		t.Errorf("state = %s", got)
	}

	ack, _ := protocol.NewMessage(protocol.TypeStatus, nil)
	raw, _ = ack.Bytes()
	if reply = ts.srv.handleCommand(ctx, raw); reply.Type != protocol.TypeError {
		t.Errorf("non-command reply = %s", reply.Type)
	}

	byName := []byte(`{"type":"release","id":"r1","data":{"name":"Cat"}}`)
	if reply = ts.srv.handleCommand(ctx, byName); reply.Type != protocol.TypeAck || reply.ID != "r1" {
		t.Fatalf("release by name = %s id %q", reply.Type, reply.ID)
	}
	unknown := []byte(`{"type":"press","id":"u1","data":{"name":"fish"}}`)
	reply = ts.srv.handleCommand(ctx, unknown)
	if e, _ := reply.GetErrorData(); reply.Type != protocol.TypeError || e.Code != protocol.CodeUnknownLabel {
		t.Errorf("press unknown name = %s %+v", reply.Type, e)
	}

	ping, _ := protocol.NewPingMessage("x")
	raw, _ = ping.Bytes()
	reply = ts.srv.handleCommand(ctx, raw)
	if reply.Type != protocol.TypePong {
		t.Fatalf("ping reply = %s", reply.Type)
	}
}

func TestWebSockets(t *testing.T) {
	ts := newTestServer(t)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go ts.srv.Serve(ctx, ln)

	base := "ws://" + ln.Addr().String()

	var status *websocket.Conn
	deadline := time.Now().Add(2 * time.Second)
	for {
		status, _, err = websocket.DefaultDialer.Dial(base+"/ws/status", nil)
		if err == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("dial status: %v", err)
		}
		time.Sleep(10 * time.Millisecond)
	}
	defer status.Close()

	status.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := status.ReadMessage()
	if err != nil {
		t.Fatalf("read status: %v", err)
	}
	msg, err := protocol.ParseMessage(raw)
	if err != nil || msg.Type != protocol.TypeStatus {
		t.Fatalf("first status message = %s (%v)", raw, err)
	}

	control, _, err := websocket.DefaultDialer.Dial(base+"/ws/control", nil)
	if err != nil {
		t.Fatalf("dial control: %v", err)
	}
	defer control.Close()

	cmd, _ := protocol.NewCommand(protocol.TypeEnable, "42", -1)
	out, _ := cmd.Bytes()
	if err := control.WriteMessage(websocket.TextMessage, out); err != nil {
		t.Fatalf("write: %v", err)
	}
	// Control connections also receive status pushes; skip them until the ack.
	for {
		control.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, raw, err = control.ReadMessage()
		if err != nil {
			t.Fatalf("read reply: %v", err)
		}
		reply, err := protocol.ParseMessage(raw)
		if err != nil {
			t.Fatalf("reply = %s (%v)", raw, err)
		}
		if reply.Type == protocol.TypeStatus {
			continue
		}
		if reply.Type != protocol.TypeAck || reply.ID != "42" {
			t.Fatalf("reply = %s", raw)
		}
		break
	}

	// The enable is pushed to status subscribers.
	for {
		status.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, raw, err = status.ReadMessage()
		if err != nil {
			t.Fatalf("waiting for capture status: %v", err)
		}
		msg, _ = protocol.ParseMessage(raw)
		st, _ := msg.GetStatusData()
		if st != nil && st.CaptureActive {
			break
		}
	}
}

func TestStartBusyPort(t *testing.T) {
	busy, err := net.Listen("tcp", ":0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer busy.Close()

	ts := newTestServer(t)
	ts.srv.cfg.Port = strconv.Itoa(busy.Addr().(*net.TCPAddr).Port)

	done := make(chan error, 1)
	go func() { done <- ts.srv.Start(context.Background()) }()
	select {
	case err := <-done:
		if err == nil {
			t.Error("Start on a busy port should fail")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return on a busy port")
	}
}

func TestUpgradeRequired(t *testing.T) {
	ts := newTestServer(t)
	resp, _ := ts.do(t, http.MethodGet, "/ws/status")
	if resp.StatusCode != http.StatusUpgradeRequired {
		t.Errorf("status = %d, want 426", resp.StatusCode)
	}
}
