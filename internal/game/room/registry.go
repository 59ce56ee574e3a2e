package room

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/cory-johannsen/plaza/internal/game/world"
)

var (
	// ErrRoomNotInitialized is returned when mutating a room that was never
	// registered with Initialize. It signals a bootstrap ordering bug.
	ErrRoomNotInitialized = errors.New("room not initialized")
	// ErrRoomNotFound is returned by Snapshot for an unknown room.
	ErrRoomNotFound = errors.New("room not found")
	// ErrInvalidPosition is returned when a mutation would place a
	// participant outside the grid or on a blocked tile.
	ErrInvalidPosition = errors.New("invalid position")
	// ErrInvalidState is returned for an unknown movement state.
	ErrInvalidState = errors.New("invalid state")
)

// Canceler is a pending deferred action that can be cancelled.
type Canceler interface {
	Cancel()
}

// roomState is the live state of one room. mu serializes every read and
// write of participants and pending.
type roomState struct {
	mu           sync.Mutex
	room         *world.Room
	participants map[string]*Participant
	pending      map[string]Canceler
}

// Registry is the authoritative store of room definitions and participants,
// keyed by room slug. Each room is guarded by its own lock so rooms proceed
// independently.
type Registry struct {
	mu    sync.RWMutex
	rooms map[string]*roomState
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{rooms: make(map[string]*roomState)}
}

// Initialize registers a room's static definition with an empty participant
// set. Re-initializing a known room replaces its definition and keeps its
// live participants.
//
// Precondition: room must be non-nil with a non-empty slug.
func (r *Registry) Initialize(room *world.Room) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if st, ok := r.rooms[room.Slug]; ok {
		st.mu.Lock()
		st.room = room
		st.mu.Unlock()
		return
	}
	r.rooms[room.Slug] = &roomState{
		room:         room,
		participants: make(map[string]*Participant),
		pending:      make(map[string]Canceler),
	}
}

// Ensure initializes the room only if it is not yet registered.
//
// Postcondition: Returns true if this call registered the room.
func (r *Registry) Ensure(room *world.Room) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.rooms[room.Slug]; ok {
		return false
	}
	r.rooms[room.Slug] = &roomState{
		room:         room,
		participants: make(map[string]*Participant),
		pending:      make(map[string]Canceler),
	}
	return true
}

// Exec runs fn with exclusive access to the room. All composite operations
// on a room (validate then mutate) must go through Exec so they are ordered
// with respect to each other.
//
// Precondition: fn must not call back into Exec for the same room.
// Postcondition: Returns ErrRoomNotInitialized for an unknown room, or fn's error.
func (r *Registry) Exec(roomID string, fn func(tx *Tx) error) error {
	st, ok := r.state(roomID)
	if !ok {
		return fmt.Errorf("room %q: %w", roomID, ErrRoomNotInitialized)
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return fn(&Tx{roomID: roomID, st: st})
}

// AddParticipant inserts or overwrites the participant by identity.
//
// Postcondition: Returns ErrRoomNotInitialized if the room is unknown, or
// ErrInvalidPosition if p is not on a walkable tile.
func (r *Registry) AddParticipant(roomID string, p Participant) error {
	return r.Exec(roomID, func(tx *Tx) error {
		return tx.Add(p)
	})
}

// RemoveParticipant removes the participant. It is a no-op if absent or if
// the room is unknown.
func (r *Registry) RemoveParticipant(roomID, participantID string) {
	_ = r.Exec(roomID, func(tx *Tx) error {
		tx.Remove(participantID)
		return nil
	})
}

// GetParticipant returns a copy of the participant.
//
// Postcondition: Returns (participant, true) if found, or (Participant{}, false) otherwise.
func (r *Registry) GetParticipant(roomID, participantID string) (Participant, bool) {
	var (
		p  Participant
		ok bool
	)
	_ = r.Exec(roomID, func(tx *Tx) error {
		p, ok = tx.Participant(participantID)
		return nil
	})
	return p, ok
}

// GetRoom returns the room's static definition.
//
// Postcondition: Returns (room, true) if initialized, or (nil, false) otherwise.
func (r *Registry) GetRoom(roomID string) (*world.Room, bool) {
	st, ok := r.state(roomID)
	if !ok {
		return nil, false
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.room, true
}

// Snapshot returns the room, its participants in no particular order, and
// its objects.
//
// Postcondition: Returns ErrRoomNotFound if the room is unknown.
func (r *Registry) Snapshot(roomID string) (Snapshot, error) {
	var snap Snapshot
	err := r.Exec(roomID, func(tx *Tx) error {
		snap = tx.Snapshot()
		return nil
	})
	if errors.Is(err, ErrRoomNotInitialized) {
		return Snapshot{}, fmt.Errorf("room %q: %w", roomID, ErrRoomNotFound)
	}
	return snap, err
}

// UpdatePosition moves an existing participant. It is a no-op if the
// participant is absent.
//
// Postcondition: Returns ErrInvalidPosition for a non-walkable target, or
// ErrRoomNotInitialized for an unknown room.
func (r *Registry) UpdatePosition(roomID, participantID string, pos world.Point) error {
	return r.Exec(roomID, func(tx *Tx) error {
		return tx.UpdatePosition(participantID, pos)
	})
}

// UpdateState sets an existing participant's movement state. It is a no-op
// if the participant is absent.
func (r *Registry) UpdateState(roomID, participantID string, state world.State) error {
	return r.Exec(roomID, func(tx *Tx) error {
		return tx.UpdateState(participantID, state)
	})
}

// RoomIDs returns the slugs of all initialized rooms in sorted order.
func (r *Registry) RoomIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.rooms))
	for id := range r.rooms {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// ParticipantCount returns the number of participants in the room, or 0 if
// the room is unknown.
func (r *Registry) ParticipantCount(roomID string) int {
	n := 0
	_ = r.Exec(roomID, func(tx *Tx) error {
		n = len(tx.st.participants)
		return nil
	})
	return n
}

func (r *Registry) state(roomID string) (*roomState, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	st, ok := r.rooms[roomID]
	return st, ok
}
