package protocol

// =============================================================================
// Helper functions for creating messages
// =============================================================================

// NewCommand creates a client command. label is only used by press and release.
func NewCommand(t MessageType, id string, label int) (*Message, error) {
	var data interface{}
	if t == TypePress || t == TypeRelease {
		data = LabelCommand{Label: label}
	}
	msg, err := NewMessage(t, data)
	if err != nil {
		return nil, err
	}
	msg.ID = id
	return msg, nil
}

// NewAckMessage acknowledges the command req.
func NewAckMessage(req *Message) (*Message, error) {
	msg, err := NewMessage(TypeAck, AckData{Command: req.Type})
	if err != nil {
		return nil, err
	}
	msg.ID = req.ID
	return msg, nil
}

// NewErrorMessage rejects req. req may be nil for unparseable input.
func NewErrorMessage(req *Message, code, text string, labels []string) (*Message, error) {
	data := ErrorData{Code: code, Message: text, Labels: labels}
	var id string
	if req != nil {
		data.Command = req.Type
		id = req.ID
	}
	msg, err := NewMessage(TypeError, data)
	if err != nil {
		return nil, err
	}
	msg.ID = id
	return msg, nil
}

// NewStatusMessage creates a status message
func NewStatusMessage(status StatusData) (*Message, error) {
	return NewMessage(TypeStatus, status)
}

// NewEpochMessage creates a training progress message
func NewEpochMessage(epoch, epochs int, loss, accuracy float64) (*Message, error) {
	return NewMessage(TypeEpoch, EpochData{
		Epoch:    epoch,
		Epochs:   epochs,
		Loss:     loss,
		Accuracy: accuracy,
	})
}

// NewPingMessage creates a ping message
func NewPingMessage(id string) (*Message, error) {
	return NewMessage(TypePing, PingData{
		ID:        id,
		Timestamp: 0, // Will be set by NewMessage
	})
}

// NewPongMessage creates a pong response message
func NewPongMessage(id string, pingTS, pongTS int64) (*Message, error) {
	return NewMessage(TypePong, PongData{
		ID:        id,
		PingTS:    pingTS,
		PongTS:    pongTS,
		LatencyMs: pongTS - pingTS,
	})
}

// =============================================================================
// Helper functions for parsing messages
// =============================================================================

// GetLabelCommand extracts the label of a press or release command
func (m *Message) GetLabelCommand() (*LabelCommand, error) {
	data := LabelCommand{Label: -1}
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetAckData extracts ack data from a message
func (m *Message) GetAckData() (*AckData, error) {
	var data AckData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetErrorData extracts error data from a message
func (m *Message) GetErrorData() (*ErrorData, error) {
	var data ErrorData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetStatusData extracts status data from a message
func (m *Message) GetStatusData() (*StatusData, error) {
	var data StatusData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetEpochData extracts epoch data from a message
func (m *Message) GetEpochData() (*EpochData, error) {
	var data EpochData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetPingData extracts ping data from a message
func (m *Message) GetPingData() (*PingData, error) {
	var data PingData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}
