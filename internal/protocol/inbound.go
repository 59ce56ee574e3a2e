package protocol

import (
	"encoding/json"
	"fmt"
	"math"
	"unicode/utf8"
)

// Wire limits for inbound payloads.
const (
	MaxRoomSlugLength = 50
	MaxChatLength     = 120
	maxCoordinate     = math.MaxInt32
)

// Auth asks the server to confirm, and optionally upgrade, the connection identity.
type Auth struct {
	Token string
	Guest bool
}

// JoinRoom asks to enter the room with the given slug.
type JoinRoom struct {
	RoomSlug string
}

// MoveIntent asks to walk to a target cell.
type MoveIntent struct {
	X int
	Y int
}

// ChatSend carries raw chat text.
type ChatSend struct {
	Text string
}

// Interact applies an action to a room object.
type Interact struct {
	ObjectID string
	Action   string
}

type authWire struct {
	Token *string `json:"token"`
	Guest *bool   `json:"guest"`
}

type joinRoomWire struct {
	RoomSlug *string `json:"roomSlug"`
}

type moveIntentWire struct {
	X *float64 `json:"x"`
	Y *float64 `json:"y"`
}

type chatSendWire struct {
	Text *string `json:"text"`
}

type interactWire struct {
	ObjectID *string `json:"objectId"`
	Action   *string `json:"action"`
}

func unmarshal(name string, raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		raw = json.RawMessage("{}")
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidPayload, name, err)
	}
	return nil
}

func invalid(name, format string, args ...any) error {
	return fmt.Errorf("%w: %s: %s", ErrInvalidPayload, name, fmt.Sprintf(format, args...))
}

// DecodeAuth decodes an auth payload. Both fields are optional and a missing
// payload is accepted.
func DecodeAuth(raw json.RawMessage) (Auth, error) {
	var w authWire
	if err := unmarshal(EventAuth, raw, &w); err != nil {
		return Auth{}, err
	}
	var a Auth
	if w.Token != nil {
		a.Token = *w.Token
	}
	if w.Guest != nil {
		a.Guest = *w.Guest
	}
	return a, nil
}

// DecodeJoinRoom decodes and validates a join_room payload.
//
// Postcondition: RoomSlug has 1 to MaxRoomSlugLength characters.
func DecodeJoinRoom(raw json.RawMessage) (JoinRoom, error) {
	var w joinRoomWire
	if err := unmarshal(EventJoinRoom, raw, &w); err != nil {
		return JoinRoom{}, err
	}
	if w.RoomSlug == nil {
		return JoinRoom{}, invalid(EventJoinRoom, "roomSlug is required")
	}
	if n := utf8.RuneCountInString(*w.RoomSlug); n < 1 || n > MaxRoomSlugLength {
		return JoinRoom{}, invalid(EventJoinRoom, "roomSlug must have 1-%d characters, got %d", MaxRoomSlugLength, n)
	}
	return JoinRoom{RoomSlug: *w.RoomSlug}, nil
}

// DecodeMoveIntent decodes and validates a move_intent payload.
//
// Postcondition: X and Y are non-negative integers.
func DecodeMoveIntent(raw json.RawMessage) (MoveIntent, error) {
	var w moveIntentWire
	if err := unmarshal(EventMoveIntent, raw, &w); err != nil {
		return MoveIntent{}, err
	}
	x, err := coordinate("x", w.X)
	if err != nil {
		return MoveIntent{}, err
	}
	y, err := coordinate("y", w.Y)
	if err != nil {
		return MoveIntent{}, err
	}
	return MoveIntent{X: x, Y: y}, nil
}

func coordinate(field string, v *float64) (int, error) {
	if v == nil {
		return 0, invalid(EventMoveIntent, "%s is required", field)
	}
	f := *v
	if f != math.Trunc(f) || math.IsInf(f, 0) {
		return 0, invalid(EventMoveIntent, "%s must be an integer", field)
	}
	if f < 0 || f > maxCoordinate {
		return 0, invalid(EventMoveIntent, "%s must be between 0 and %d", field, maxCoordinate)
	}
	return int(f), nil
}

// DecodeChatSend decodes and validates a chat_send payload.
//
// Postcondition: Text has 1 to MaxChatLength characters.
func DecodeChatSend(raw json.RawMessage) (ChatSend, error) {
	var w chatSendWire
	if err := unmarshal(EventChatSend, raw, &w); err != nil {
		return ChatSend{}, err
	}
	if w.Text == nil {
		return ChatSend{}, invalid(EventChatSend, "text is required")
	}
	if n := utf8.RuneCountInString(*w.Text); n < 1 || n > MaxChatLength {
		return ChatSend{}, invalid(EventChatSend, "text must have 1-%d characters, got %d", MaxChatLength, n)
	}
	return ChatSend{Text: *w.Text}, nil
}

// DecodeInteract decodes and validates an interact payload.
//
// Postcondition: ObjectID and Action are non-empty.
func DecodeInteract(raw json.RawMessage) (Interact, error) {
	var w interactWire
	if err := unmarshal(EventInteract, raw, &w); err != nil {
		return Interact{}, err
	}
	if w.ObjectID == nil || *w.ObjectID == "" {
		return Interact{}, invalid(EventInteract, "objectId is required")
	}
	if w.Action == nil || *w.Action == "" {
		return Interact{}, invalid(EventInteract, "action is required")
	}
	return Interact{ObjectID: *w.ObjectID, Action: *w.Action}, nil
}
