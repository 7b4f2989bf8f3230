package wire

import (
	"encoding/json"
	"fmt"
	"time"
)

// Outbound event names.
const (
	EventJoinConversation  = "join_conversation"
	EventLeaveConversation = "leave_conversation"
	EventTyping            = "typing"
	EventStopTyping        = "stop_typing"
	EventPing              = "ping"
)

// EventAck is the event name of an acknowledgement reply. Its Ack field
// carries the id of the request it answers.
const EventAck = "ack"

// Frame is one message on the event stream.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
	Ack   uint64          `json:"ack,omitempty"`
}

// IsAck reports whether f answers an earlier request.
func (f Frame) IsAck() bool {
	return f.Event == EventAck && f.Ack != 0
}

// Encode marshals an outbound frame. ack is zero for fire-and-forget events.
func Encode(event string, data any, ack uint64) ([]byte, error) {
	f := Frame{Event: event, Ack: ack}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("encode %s payload: %w", event, err)
		}
		f.Data = raw
	}
	return json.Marshal(f)
}

// Parse unmarshals a raw frame.
func Parse(b []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(b, &f); err != nil {
		return Frame{}, fmt.Errorf("parse frame: %w", err)
	}
	if f.Event == "" {
		return Frame{}, fmt.Errorf("parse frame: missing event name")
	}
	return f, nil
}

// TypingData is the payload of typing and stop_typing.
type TypingData struct {
	ConversationID string `json:"conversationId"`
}

// Ping is the probe request payload.
type Ping struct {
	Timestamp int64 `json:"timestamp"`
}

// Pong is the probe reply payload.
type Pong struct {
	Timestamp time.Time `json:"timestamp"`
	UserID    string    `json:"userId"`
}

// RoomAck is the reply to join/leave requests.
type RoomAck struct {
	Success        bool   `json:"success"`
	Error          string `json:"error,omitempty"`
	ConversationID string `json:"conversationId,omitempty"`
}
