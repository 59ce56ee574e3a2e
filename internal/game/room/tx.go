package room

import (
	"fmt"

	"github.com/cory-johannsen/plaza/internal/game/world"
)

// Tx is exclusive access to one room for the duration of an Exec callback.
// A Tx must not be retained after the callback returns.
type Tx struct {
	roomID string
	st     *roomState
}

// RoomID returns the slug of the room this Tx guards.
func (tx *Tx) RoomID() string {
	return tx.roomID
}

// Room returns the room's static definition.
func (tx *Tx) Room() *world.Room {
	return tx.st.room
}

// Participant returns a copy of the participant.
func (tx *Tx) Participant(id string) (Participant, bool) {
	p, ok := tx.st.participants[id]
	if !ok {
		return Participant{}, false
	}
	return *p, true
}

// Participants returns copies of all participants in no particular order.
func (tx *Tx) Participants() []Participant {
	out := make([]Participant, 0, len(tx.st.participants))
	for _, p := range tx.st.participants {
		out = append(out, *p)
	}
	return out
}

// Snapshot returns the room, its participants, and its objects.
func (tx *Tx) Snapshot() Snapshot {
	return Snapshot{
		Room:         tx.st.room,
		Participants: tx.Participants(),
		Objects:      tx.st.room.Objects,
	}
}

// Add inserts or overwrites the participant by identity.
//
// Postcondition: Returns ErrInvalidPosition if p is not on a walkable tile.
func (tx *Tx) Add(p Participant) error {
	if !tx.st.room.Tilemap.Walkable(p.Position()) {
		return fmt.Errorf("participant %q at (%d,%d): %w", p.ID, p.X, p.Y, ErrInvalidPosition)
	}
	if !p.State.Valid() {
		return fmt.Errorf("participant %q state %q: %w", p.ID, p.State, ErrInvalidState)
	}
	tx.CancelPending(p.ID)
	cp := p
	tx.st.participants[p.ID] = &cp
	return nil
}

// Remove deletes the participant and cancels any pending deferred action
// for it. It is a no-op if absent.
func (tx *Tx) Remove(id string) {
	tx.CancelPending(id)
	delete(tx.st.participants, id)
}

// UpdatePosition moves the participant. No-op if absent.
//
// Postcondition: Returns ErrInvalidPosition for a non-walkable target.
func (tx *Tx) UpdatePosition(id string, pos world.Point) error {
	p, ok := tx.st.participants[id]
	if !ok {
		return nil
	}
	if !tx.st.room.Tilemap.Walkable(pos) {
		return fmt.Errorf("participant %q to (%d,%d): %w", id, pos.X, pos.Y, ErrInvalidPosition)
	}
	p.X, p.Y = pos.X, pos.Y
	return nil
}

// UpdateState sets the participant's movement state. No-op if absent.
func (tx *Tx) UpdateState(id string, state world.State) error {
	if !state.Valid() {
		return fmt.Errorf("participant %q state %q: %w", id, state, ErrInvalidState)
	}
	if p, ok := tx.st.participants[id]; ok {
		p.State = state
	}
	return nil
}

// UpdateFacing sets the participant's facing. No-op if absent or invalid.
func (tx *Tx) UpdateFacing(id string, facing world.Facing) {
	if !facing.Valid() {
		return
	}
	if p, ok := tx.st.participants[id]; ok {
		p.Facing = facing
	}
}

// Pending returns the participant's pending deferred action, if any.
func (tx *Tx) Pending(id string) (Canceler, bool) {
	c, ok := tx.st.pending[id]
	return c, ok
}

// ReplacePending cancels the participant's pending action, if any, and
// records c in its place.
func (tx *Tx) ReplacePending(id string, c Canceler) {
	tx.CancelPending(id)
	tx.st.pending[id] = c
}

// ClearPending forgets c if it is still the participant's pending action.
// It does not cancel c.
func (tx *Tx) ClearPending(id string, c Canceler) {
	if cur, ok := tx.st.pending[id]; ok && cur == c {
		delete(tx.st.pending, id)
	}
}

// CancelPending cancels and forgets the participant's pending action.
func (tx *Tx) CancelPending(id string) {
	if c, ok := tx.st.pending[id]; ok {
		c.Cancel()
		delete(tx.st.pending, id)
	}
}
