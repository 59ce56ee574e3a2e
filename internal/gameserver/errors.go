package gameserver

// Messages sent to clients for rejected requests.
const (
	msgInvalidMessage     = "Invalid message"
	msgUnknownEvent       = "Unknown event"
	msgInternalError      = "Internal error"
	msgNotInRoom          = "Not in a room"
	msgRoomNotFound       = "Room not found"
	msgPlayerNotFound     = "Player not found"
	msgFailedToJoin       = "Failed to join room"
	msgInvalidMove        = "Invalid move"
	msgStandUpFirst       = "Stand up first"
	msgOutOfBounds        = "Out of bounds"
	msgTileBlocked        = "Tile is blocked"
	msgNoPath             = "No path found"
	msgInvalidChat        = "Invalid chat message"
	msgRateLimited        = "Rate limit exceeded"
	msgInvalidInteraction = "Invalid interaction"
	msgObjectNotFound     = "Object not found"
	msgTooFar             = "Too far from chair"
)

// RejectError is a domain rejection whose Message is safe to show the client.
// Err, when set, is the underlying cause and is only logged.
type RejectError struct {
	Message string
	Err     error
}

func (e *RejectError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *RejectError) Unwrap() error {
	return e.Err
}

func reject(msg string) error {
	return &RejectError{Message: msg}
}

func rejectWith(msg string, err error) error {
	return &RejectError{Message: msg, Err: err}
}
