package protocol

import (
	"time"

	"github.com/google/uuid"
)

// Message is the envelope for everything exchanged with the desktop app.
type Message struct {
	Type          string    `json:"type"`
	Payload       any       `json:"payload"`
	CorrelationID string    `json:"correlationId"`
	SenderID      string    `json:"senderId"`
	CapturedAt    time.Time `json:"capturedAt"`
}

// NewMessage creates a message with a fresh correlation id and the current
// timestamp.
func NewMessage(msgType string, payload any, senderID string) *Message {
	return &Message{
		Type:          msgType,
		Payload:       payload,
		CorrelationID: uuid.NewString(),
		SenderID:      senderID,
		CapturedAt:    time.Now().UTC(),
	}
}

// Agent → desktop message types. Captured events use their event category
// (terminal, file, editor, debug) as the message type.
const (
	TypePing = "ping"
	TypeTest = "test"
)

// Desktop → agent message types.
const (
	TypeTestResponse = "test_response"
	TypePong         = "pong"
	TypeError        = "error"
)

// EventPayload carries one normalized event.
type EventPayload struct {
	Action    string `json:"action"`
	Data      any    `json:"data"`
	Timestamp int64  `json:"timestamp"` // unix milliseconds
}

// TestPayload is the body of a diagnostic probe.
type TestPayload struct {
	Value string `json:"value"`
}

// PingPayload is the body of a keep-alive ping.
type PingPayload struct {
	Timestamp int64 `json:"timestamp"`
}

// NewEventMessage wraps an event's action and data for sending.
func NewEventMessage(eventType, action string, data any, senderID string, now time.Time) *Message {
	return NewMessage(eventType, EventPayload{
		Action:    action,
		Data:      data,
		Timestamp: now.UnixMilli(),
	}, senderID)
}

// NewTestMessage creates a diagnostic probe whose acknowledgement carries the
// same correlation id.
func NewTestMessage(senderID string) *Message {
	return NewMessage(TypeTest, TestPayload{Value: "test"}, senderID)
}

// NewPingMessage creates a keep-alive ping.
func NewPingMessage(senderID string, now time.Time) *Message {
	return NewMessage(TypePing, PingPayload{Timestamp: now.UnixMilli()}, senderID)
}
