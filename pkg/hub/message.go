// Package hub fans dashboard updates out to websocket subscribers over
// channels. One goroutine owns the client set; each client has a single
// writer goroutine.
package hub

// Kind selects the websocket frame a Message is written as.
type Kind int

const (
	// KindJSON is written as a text frame.
	KindJSON Kind = iota
	// KindFrame is a camera preview image, written as a binary frame.
	KindFrame
)

// Message is one outbound websocket frame.
type Message struct {
	Kind Kind
	Data []byte

	// Droppable messages are skipped for a client whose buffer is full
	// instead of disconnecting it. Preview frames are superseded by the
	// next one anyway.
	Droppable bool
}

// NewJSONMessage wraps pre-encoded JSON.
func NewJSONMessage(data []byte) Message {
	return Message{Kind: KindJSON, Data: data}
}

// NewFrameMessage wraps one JPEG preview frame.
func NewFrameMessage(jpeg []byte) Message {
	return Message{Kind: KindFrame, Data: jpeg, Droppable: true}
}
