// Package protocol defines the wire format shared by the realtime client
// and the relay: JSON frames tagged with a "type" (or, for notification
// actions, "action") discriminator.
package protocol

import (
	"encoding/json"
	"fmt"
)

// Envelope is one decoded frame: its discriminator plus the raw bytes it
// was decoded from, so typed payloads can unmarshal from the original
// frame. An Envelope is immutable once received.
type Envelope struct {
	Type string
	Raw  json.RawMessage
}

// MalformedFrameError reports a frame that could not be decoded: invalid
// JSON or a missing discriminator. It is a non-fatal condition; the
// connection carrying the frame stays open.
type MalformedFrameError struct {
	Reason string
	Err    error
}

func (e *MalformedFrameError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("protocol: malformed frame: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("protocol: malformed frame: %s", e.Reason)
}

func (e *MalformedFrameError) Unwrap() error { return e.Err }

// DecodeEnvelope parses a raw frame into an Envelope. Frames carrying an
// "action" field instead of "type" (notification channel requests) are
// normalized onto the same discriminator.
func DecodeEnvelope(data []byte) (Envelope, error) {
	var head struct {
		Type   string `json:"type"`
		Action string `json:"action"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return Envelope{}, &MalformedFrameError{Reason: "invalid JSON", Err: err}
	}

	t := head.Type
	if t == "" {
		t = head.Action
	}
	if t == "" {
		return Envelope{}, &MalformedFrameError{Reason: "missing type discriminator"}
	}

	raw := make(json.RawMessage, len(data))
	copy(raw, data)
	return Envelope{Type: t, Raw: raw}, nil
}

// Encode marshals an outbound frame.
func Encode(frame any) ([]byte, error) {
	data, err := json.Marshal(frame)
	if err != nil {
		return nil, fmt.Errorf("protocol: encode frame: %w", err)
	}
	return data, nil
}

// Heartbeat frame types. The client emits heartbeat while a connection is
// open; the relay answers with heartbeat_ack.
const (
	TypeHeartbeat    = "heartbeat"
	TypeHeartbeatAck = "heartbeat_ack"
)

// HeartbeatFrame returns the keep-alive frame.
func HeartbeatFrame() []byte {
	return []byte(`{"type":"heartbeat"}`)
}

// HeartbeatAckFrame returns the keep-alive acknowledgment frame.
func HeartbeatAckFrame() []byte {
	return []byte(`{"type":"heartbeat_ack"}`)
}
