package hub

import (
	"context"
	"testing"
	"time"
)

func startHub(t *testing.T, h *Hub) context.CancelFunc {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	go h.Run(ctx)
	deadline := time.Now().Add(time.Second)
	for !h.IsRunning() {
		if time.Now().After(deadline) {
			t.Fatal("hub did not start")
		}
		time.Sleep(time.Millisecond)
	}
	return cancel
}

func attach(h *Hub, buffer int) *Client {
	c := &Client{hub: h, send: make(chan Message, buffer)}
	h.register <- c
	return c
}

func waitClients(t *testing.T, h *Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for h.ClientCount() != n {
		if time.Now().After(deadline) {
			t.Fatalf("ClientCount = %d, want %d", h.ClientCount(), n)
		}
		time.Sleep(time.Millisecond)
	}
}

func receive(t *testing.T, c *Client) Message {
	t.Helper()
	select {
	case m := <-c.send:
		return m
	case <-time.After(time.Second):
		t.Fatal("no message received")
	}
	return Message{}
}

func TestBroadcastReachesClients(t *testing.T) {
	h := New("test", nil)
	cancel := startHub(t, h)
	defer cancel()

	a, b := attach(h, 4), attach(h, 4)
	waitClients(t, h, 2)

	if err := h.BroadcastJSON(map[string]int{"n": 1}); err != nil {
		t.Fatalf("BroadcastJSON: %v", err)
	}
	for _, c := range []*Client{a, b} {
		m := receive(t, c)
		if m.Kind != KindJSON || string(m.Data) != `{"n":1}` {
			t.Errorf("message = %+v", m)
		}
	}

	h.BroadcastFrame([]byte{0xff, 0xd8})
	if m := receive(t, a); m.Kind != KindFrame || len(m.Data) != 2 || !m.Droppable {
		t.Errorf("frame message = %+v", m)
	}
}

func TestReplayLast(t *testing.T) {
	h := New("status", nil).ReplayLast()
	cancel := startHub(t, h)
	defer cancel()

	early := attach(h, 4)
	h.Broadcast(NewJSONMessage([]byte(`"one"`)))
	h.Broadcast(NewJSONMessage([]byte(`"two"`)))
	h.BroadcastFrame([]byte{1})
	for i := 0; i < 3; i++ {
		receive(t, early)
	}

	late := attach(h, 4)
	if m := receive(t, late); string(m.Data) != `"two"` {
		t.Errorf("replayed %s, want the latest JSON message", m.Data)
	}
}

func TestSlowClient(t *testing.T) {
	tests := []struct {
		name      string
		msg       Message
		wantKept  bool
		wantSkips uint64
	}{
		{"frame is skipped", NewFrameMessage([]byte{1}), true, 1},
		{"json drops the client", NewJSONMessage([]byte(`{}`)), false, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := New("test", nil)
			cancel := startHub(t, h)
			defer cancel()

			slow := attach(h, 1)
			waitClients(t, h, 1)
			slow.send <- NewJSONMessage([]byte(`"fill"`))

			h.Broadcast(tt.msg)

			deadline := time.Now().Add(time.Second)
			for {
				kept := h.ClientCount() == 1
				if kept == tt.wantKept && h.Skipped() == tt.wantSkips {
					break
				}
				if time.Now().After(deadline) {
					t.Fatalf("clients = %d skipped = %d", h.ClientCount(), h.Skipped())
				}
				time.Sleep(time.Millisecond)
			}
		})
	}
}

func TestClientSend(t *testing.T) {
	h := New("test", nil)
	cancel := startHub(t, h)
	defer cancel()

	a, b := attach(h, 1), attach(h, 1)
	waitClients(t, h, 2)

	if !a.Send(NewJSONMessage([]byte(`"ack"`))) {
		t.Fatal("Send to a registered client failed")
	}
	if m := receive(t, a); string(m.Data) != `"ack"` {
		t.Errorf("a got %s", m.Data)
	}
	select {
	case m := <-b.send:
		t.Errorf("b should not receive a direct reply, got %s", m.Data)
	default:
	}

	a.Send(NewJSONMessage([]byte(`1`)))
	if a.Send(NewJSONMessage([]byte(`2`))) {
		t.Error("Send to a full buffer should report false")
	}

	h.unregister <- b
	waitClients(t, h, 1)
	if b.Send(NewJSONMessage([]byte(`"late"`))) {
		t.Error("Send after unregister should report false")
	}
}

func TestUnregister(t *testing.T) {
	h := New("test", nil)
	cancel := startHub(t, h)
	defer cancel()

	c := attach(h, 4)
	h.unregister <- c
	if _, ok := <-c.send; ok {
		t.Error("send channel should be closed after unregister")
	}
	if h.ClientCount() != 0 {
		t.Errorf("ClientCount = %d, want 0", h.ClientCount())
	}
}

func TestRunStopsWithContext(t *testing.T) {
	h := New("test", nil)
	cancel := startHub(t, h)
	c := attach(h, 4)

	cancel()
	select {
	case <-h.Done():
	case <-time.After(time.Second):
		t.Fatal("hub did not stop")
	}
	if h.IsRunning() {
		t.Error("IsRunning should be false after stop")
	}
	if _, ok := <-c.send; ok {
		t.Error("clients should be closed when the hub stops")
	}
	if NewClient(h, nil, nil) != nil {
		t.Error("NewClient on a stopped hub should return nil")
	}
}

func TestBroadcastJSONError(t *testing.T) {
	h := New("test", nil)
	if err := h.BroadcastJSON(make(chan int)); err == nil {
		t.Error("BroadcastJSON should fail for unencodable values")
	}
}
