// Package protocol defines the WebSocket messages exchanged between the
// dashboard (or the watch CLI) and a teaching session.
package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// MessageType identifies the type of WebSocket message
type MessageType string

const (
	// Client → Session commands
	TypeEnable       MessageType = "enable"        // Enable the camera
	TypePress        MessageType = "press"         // Start collecting for a label
	TypeRelease      MessageType = "release"       // Stop collecting for a label
	TypeTrain        MessageType = "train"         // Train and start predicting
	TypeReset        MessageType = "reset"         // Drop all examples
	TypePredictStart MessageType = "predict_start" // Resume prediction
	TypePredictStop  MessageType = "predict_stop"  // Pause prediction

	// Session → Client messages
	TypeAck    MessageType = "ack"    // Command accepted
	TypeError  MessageType = "error"  // Command rejected
	TypeStatus MessageType = "status" // Status surface update
	TypeEpoch  MessageType = "epoch"  // Training progress

	// Bidirectional
	TypePing MessageType = "ping" // Health check
	TypePong MessageType = "pong" // Health check response
)

// IsCommand reports whether t is a client command.
func (t MessageType) IsCommand() bool {
	switch t {
	case TypeEnable, TypePress, TypeRelease, TypeTrain, TypeReset, TypePredictStart, TypePredictStop:
		return true
	}
	return false
}

// Message is the base wrapper for all WebSocket messages
type Message struct {
	Type      MessageType     `json:"type"`
	ID        string          `json:"id,omitempty"` // Echoed in the ack/error reply
	Timestamp int64           `json:"ts,omitempty"` // Unix milliseconds
	Data      json.RawMessage `json:"data,omitempty"`
}

// NewMessage creates a new message with the current timestamp
func NewMessage(msgType MessageType, data interface{}) (*Message, error) {
	var rawData json.RawMessage
	if data != nil {
		var err error
		rawData, err = json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal message data: %w", err)
		}
	}

	return &Message{
		Type:      msgType,
		Timestamp: time.Now().UnixMilli(),
		Data:      rawData,
	}, nil
}

// ParseData unmarshals the message data into the provided struct
func (m *Message) ParseData(v interface{}) error {
	if m.Data == nil {
		return nil
	}
	return json.Unmarshal(m.Data, v)
}

// Bytes returns the JSON-encoded message
func (m *Message) Bytes() ([]byte, error) {
	return json.Marshal(m)
}

// ParseMessage parses a JSON message from bytes
func ParseMessage(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("failed to parse message: %w", err)
	}
	if msg.Type == "" {
		return nil, fmt.Errorf("failed to parse message: missing type")
	}
	return &msg, nil
}

// =============================================================================
// Client → Session
// =============================================================================

// LabelCommand selects a label for press and release, by index or by
// name. A non-empty Name takes precedence.
type LabelCommand struct {
	Label int    `json:"label"`
	Name  string `json:"name,omitempty"`
}

// =============================================================================
// Session → Client
// =============================================================================

// AckData confirms a command.
type AckData struct {
	Command MessageType `json:"command"`
}

// Error codes carried by ErrorData.
const (
	CodeBadRequest       = "bad_request"
	CodeUnknownLabel     = "unknown_label"
	CodeInvalidState     = "invalid_state"
	CodeInsufficientData = "insufficient_data"
	CodePermissionDenied = "permission_denied"
	CodeUnsupported      = "unsupported_device"
	CodeNotFound         = "not_found"
	CodeInternal         = "internal"
)

// ErrorData rejects a command.
type ErrorData struct {
	Command MessageType `json:"command,omitempty"`
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Labels  []string    `json:"labels,omitempty"` // Empty labels for insufficient_data
}

// PredictionData is the latest prediction.
type PredictionData struct {
	Label         int       `json:"label"`
	Name          string    `json:"name"`
	Confidence    int       `json:"confidence"`
	Probabilities []float64 `json:"probabilities"`
}

// StatusData mirrors the session status surface.
type StatusData struct {
	State         string          `json:"state"`
	Label         int             `json:"label"` // Collection target, -1 otherwise
	Status        string          `json:"status"`
	Counts        []int           `json:"counts"`
	Trained       bool            `json:"trained"`
	CaptureActive bool            `json:"capture_active"`
	Prediction    *PredictionData `json:"prediction,omitempty"`
}

// EpochData reports one finished training epoch.
type EpochData struct {
	Epoch    int     `json:"epoch"`
	Epochs   int     `json:"epochs"`
	Loss     float64 `json:"loss"`
	Accuracy float64 `json:"accuracy"`
}

// =============================================================================
// Bidirectional Message Types
// =============================================================================

// PingData contains ping information
type PingData struct {
	ID        string `json:"id"`
	Timestamp int64  `json:"ts"`
}

// PongData contains pong response
type PongData struct {
	ID        string `json:"id"`
	PingTS    int64  `json:"ping_ts"`
	PongTS    int64  `json:"pong_ts"`
	LatencyMs int64  `json:"latency_ms"`
}
