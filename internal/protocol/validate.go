package protocol

import (
	"errors"
	"fmt"
)

var (
	ErrMissingType    = errors.New("missing 'type' field")
	ErrMissingPayload = errors.New("missing 'payload' field")
)

// Decoder is the subset of a wire codec needed to parse inbound frames.
type Decoder interface {
	Unmarshal(data []byte, v any) error
}

// DecodeInbound parses and validates a raw frame received from the desktop
// app. Unknown message types are accepted; they are surfaced to the user but
// not processed further.
func DecodeInbound(dec Decoder, raw []byte) (*Message, error) {
	var msg Message
	if err := dec.Unmarshal(raw, &msg); err != nil {
		return nil, fmt.Errorf("invalid frame: %w", err)
	}

	if msg.Type == "" {
		return nil, ErrMissingType
	}

	switch msg.Type {
	case TypeTestResponse:
		if msg.CorrelationID == "" && correlationFromPayload(msg.Payload) == "" {
			return nil, fmt.Errorf("missing required field 'correlationId' in %s", msg.Type)
		}
	case TypeError:
		if msg.Payload == nil {
			return nil, fmt.Errorf("%w in %s", ErrMissingPayload, msg.Type)
		}
	}

	return &msg, nil
}

// AckCorrelation returns the correlation id a test_response acknowledges.
// The desktop app either echoes the probe's envelope id or names it in the
// payload.
func AckCorrelation(msg *Message) string {
	if id := correlationFromPayload(msg.Payload); id != "" {
		return id
	}
	return msg.CorrelationID
}

func correlationFromPayload(payload any) string {
	m, ok := payload.(map[string]any)
	if !ok {
		return ""
	}
	id, _ := m["correlationId"].(string)
	return id
}
