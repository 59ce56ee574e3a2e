// Package world provides the static room model: tilemaps, room objects, grid
// positions, and shortest-path search over a room's walkable tiles.
package world

import (
	"errors"
	"fmt"
)

// ErrRoomNotFound is returned by room stores when no room matches a lookup.
var ErrRoomNotFound = errors.New("room not found")

// Point is an integer grid cell.
type Point struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Facing is the direction a participant is looking.
type Facing string

// The four grid facings.
const (
	North Facing = "north"
	South Facing = "south"
	East  Facing = "east"
	West  Facing = "west"
)

// Valid reports whether f is one of the four grid facings.
func (f Facing) Valid() bool {
	switch f {
	case North, South, East, West:
		return true
	}
	return false
}

// FacingAlong returns the direction of the final step of path.
//
// Postcondition: Returns false when path has fewer than two cells or its last
// step is not a single orthogonal move.
func FacingAlong(path []Point) (Facing, bool) {
	if len(path) < 2 {
		return "", false
	}
	from, to := path[len(path)-2], path[len(path)-1]
	switch (Point{X: to.X - from.X, Y: to.Y - from.Y}) {
	case Point{X: 0, Y: -1}:
		return North, true
	case Point{X: 0, Y: 1}:
		return South, true
	case Point{X: 1, Y: 0}:
		return East, true
	case Point{X: -1, Y: 0}:
		return West, true
	}
	return "", false
}

// State is a participant's movement state.
type State string

// Movement states. Transitions are standing<->walking and standing<->sitting.
const (
	Standing State = "standing"
	Walking  State = "walking"
	Sitting  State = "sitting"
)

// Valid reports whether s is a known movement state.
func (s State) Valid() bool {
	switch s {
	case Standing, Walking, Sitting:
		return true
	}
	return false
}

// Tilemap is a room's grid. Blocked is indexed [y][x].
type Tilemap struct {
	Width   int      `json:"width"`
	Height  int      `json:"height"`
	Tiles   [][]int  `json:"tiles"`
	Blocked [][]bool `json:"blocked"`
}

// InBounds reports whether p lies inside the grid.
func (t *Tilemap) InBounds(p Point) bool {
	return p.X >= 0 && p.Y >= 0 && p.X < t.Width && p.Y < t.Height
}

// IsBlocked reports whether the tile at p is marked blocked. Cells missing
// from a short row are treated as open.
func (t *Tilemap) IsBlocked(p Point) bool {
	if p.Y < 0 || p.Y >= len(t.Blocked) {
		return false
	}
	row := t.Blocked[p.Y]
	if p.X < 0 || p.X >= len(row) {
		return false
	}
	return row[p.X]
}

// Walkable reports whether a participant may stand on p.
func (t *Tilemap) Walkable(p Point) bool {
	return t.InBounds(p) && !t.IsBlocked(p)
}

// Validate checks that the grid dimensions agree with its rows.
//
// Postcondition: Returns nil if valid, or an error describing the first violation.
func (t *Tilemap) Validate() error {
	if t.Width < 1 || t.Height < 1 {
		return fmt.Errorf("tilemap dimensions must be >= 1, got %dx%d", t.Width, t.Height)
	}
	if len(t.Blocked) != t.Height {
		return fmt.Errorf("tilemap blocked grid has %d rows, want %d", len(t.Blocked), t.Height)
	}
	for y, row := range t.Blocked {
		if len(row) != t.Width {
			return fmt.Errorf("tilemap blocked row %d has %d cells, want %d", y, len(row), t.Width)
		}
	}
	if t.Tiles != nil {
		if len(t.Tiles) != t.Height {
			return fmt.Errorf("tilemap tile grid has %d rows, want %d", len(t.Tiles), t.Height)
		}
		for y, row := range t.Tiles {
			if len(row) != t.Width {
				return fmt.Errorf("tilemap tile row %d has %d cells, want %d", y, len(row), t.Width)
			}
		}
	}
	return nil
}

// RoomObject is a static furnishing placed on the grid.
type RoomObject struct {
	ID       string         `json:"id"`
	Type     string         `json:"type"`
	X        int            `json:"x"`
	Y        int            `json:"y"`
	Rotation int            `json:"rotation"`
	State    map[string]any `json:"state,omitempty"`
}

// Position returns the object's grid cell.
func (o RoomObject) Position() Point {
	return Point{X: o.X, Y: o.Y}
}

// Room is a room's static definition. It is not mutated after loading.
type Room struct {
	ID      string
	Slug    string
	Name    string
	Tilemap Tilemap
	Objects []RoomObject
}

// Object returns the object with the given ID.
//
// Postcondition: Returns (object, true) if found, or (RoomObject{}, false) otherwise.
func (r *Room) Object(id string) (RoomObject, bool) {
	for _, o := range r.Objects {
		if o.ID == id {
			return o, true
		}
	}
	return RoomObject{}, false
}

// Validate checks room invariants.
//
// Postcondition: Returns nil if valid, or an error describing the first violation.
func (r *Room) Validate() error {
	if r.Slug == "" {
		return errors.New("room slug must not be empty")
	}
	if len(r.Slug) > 50 {
		return fmt.Errorf("room %q: slug must be at most 50 characters", r.Slug)
	}
	if r.Name == "" {
		return fmt.Errorf("room %q: name must not be empty", r.Slug)
	}
	if err := r.Tilemap.Validate(); err != nil {
		return fmt.Errorf("room %q: %w", r.Slug, err)
	}
	seen := make(map[string]bool, len(r.Objects))
	for _, o := range r.Objects {
		if o.ID == "" {
			return fmt.Errorf("room %q: object id must not be empty", r.Slug)
		}
		if seen[o.ID] {
			return fmt.Errorf("room %q: duplicate object id %q", r.Slug, o.ID)
		}
		seen[o.ID] = true
		if !r.Tilemap.InBounds(o.Position()) {
			return fmt.Errorf("room %q: object %q at (%d,%d) is out of bounds", r.Slug, o.ID, o.X, o.Y)
		}
	}
	return nil
}

// ChebyshevDistance returns max(|dx|, |dy|) between a and b.
func ChebyshevDistance(a, b Point) int {
	return max(abs(a.X-b.X), abs(a.Y-b.Y))
}

// ManhattanDistance returns |dx| + |dy| between a and b.
func ManhattanDistance(a, b Point) int {
	return abs(a.X-b.X) + abs(a.Y-b.Y)
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
