// Package protocol defines the JSON wire format exchanged with clients.
//
// Every frame is an Envelope {"type": ..., "payload": {...}}. Inbound payloads
// are decoded and validated by the Decode* functions; outbound payloads are
// plain structs serialized with Encode.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Client → server event names.
const (
	EventAuth       = "auth"
	EventJoinRoom   = "join_room"
	EventLeaveRoom  = "leave_room"
	EventMoveIntent = "move_intent"
	EventChatSend   = "chat_send"
	EventInteract   = "interact"
)

// Server → client event names.
const (
	EventAuthOK        = "auth_ok"
	EventRoomState     = "room_state"
	EventPlayerJoin    = "player_join"
	EventPlayerLeave   = "player_leave"
	EventPlayerMove    = "player_move"
	EventPlayerUpdate  = "player_update"
	EventChatBroadcast = "chat_broadcast"
	EventError         = "error"
)

// ErrInvalidPayload is wrapped by every decoding and validation failure.
var ErrInvalidPayload = errors.New("invalid payload")

// Envelope is the outer frame of every message.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// DecodeEnvelope parses a raw frame.
//
// Postcondition: Returns an error wrapping ErrInvalidPayload for malformed
// JSON or a missing type.
func DecodeEnvelope(raw []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: envelope: %v", ErrInvalidPayload, err)
	}
	if env.Type == "" {
		return Envelope{}, fmt.Errorf("%w: envelope: missing type", ErrInvalidPayload)
	}
	return env, nil
}

// Encode serializes an outbound event.
//
// Precondition: eventType must be non-empty; payload must be JSON-serializable.
func Encode(eventType string, payload any) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encoding %s payload: %w", eventType, err)
	}
	frame, err := json.Marshal(Envelope{Type: eventType, Payload: body})
	if err != nil {
		return nil, fmt.Errorf("encoding %s envelope: %w", eventType, err)
	}
	return frame, nil
}
