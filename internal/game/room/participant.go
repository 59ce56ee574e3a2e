// Package room holds the authoritative live state of every room: its static
// definition and the participants currently inside it.
package room

import "github.com/cory-johannsen/plaza/internal/game/world"

// Participant is one identity's live record inside a room.
type Participant struct {
	// ID is the stable identity id; at most one record per room.
	ID string
	// DisplayName is shown to other participants.
	DisplayName string
	// Avatar holds free-form appearance attributes.
	Avatar map[string]any
	// X and Y are the participant's grid cell.
	X int
	Y int
	// Facing is the direction the participant looks.
	Facing world.Facing
	// State is standing, walking, or sitting.
	State world.State
}

// Position returns the participant's grid cell.
func (p Participant) Position() world.Point {
	return world.Point{X: p.X, Y: p.Y}
}

// Snapshot is a consistent copy of a room's state.
type Snapshot struct {
	Room         *world.Room
	Participants []Participant
	Objects      []world.RoomObject
}

// SpawnPoint returns the first unblocked cell scanning rows top to bottom and
// cells left to right. If every cell is blocked it returns (0,0).
//
// Precondition: room must be non-nil.
func SpawnPoint(room *world.Room) world.Point {
	tm := &room.Tilemap
	for y := 0; y < tm.Height; y++ {
		for x := 0; x < tm.Width; x++ {
			p := world.Point{X: x, Y: y}
			if !tm.IsBlocked(p) {
				return p
			}
		}
	}
	return world.Point{}
}
