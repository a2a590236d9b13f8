package realtime

import (
	"encoding/json"
	"errors"
	"strings"
)

// Named channel messages.
const (
	EventConnect       = "connect"
	EventDisconnect    = "disconnect"
	EventAgendaUpdated = "agenda_updated"
	EventNotification  = "notification"
	// EventStateChanged is emitted locally on every lifecycle transition.
	EventStateChanged = "state_changed"
)

var errMissingEventName = errors.New("realtime: frame event name required")

// Frame is one channel message: {"event": name, "data": payload}.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// DisconnectData is the payload of a disconnect frame.
type DisconnectData struct {
	Reason string `json:"reason"`
}

// DecodeFrame parses a text frame.
func DecodeFrame(raw []byte) (Frame, error) {
	var frame Frame
	if err := json.Unmarshal(raw, &frame); err != nil {
		return Frame{}, err
	}
	frame.Event = strings.TrimSpace(frame.Event)
	if frame.Event == "" {
		return Frame{}, errMissingEventName
	}
	return frame, nil
}

// EncodeFrame renders a frame; data may be nil.
func EncodeFrame(event string, data any) ([]byte, error) {
	if strings.TrimSpace(event) == "" {
		return nil, errMissingEventName
	}
	frame := Frame{Event: event}
	if data != nil {
		encoded, err := json.Marshal(data)
		if err != nil {
			return nil, err
		}
		frame.Data = encoded
	}
	return json.Marshal(frame)
}

// Message is what subscribers receive. Reason is set for disconnects and
// State for lifecycle messages.
type Message struct {
	Event  string
	Data   json.RawMessage
	Reason string
	State  State
}

// Handler receives messages on the connection goroutine, in arrival order.
type Handler func(Message)
