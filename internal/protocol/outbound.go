package protocol

import (
	"github.com/cory-johannsen/plaza/internal/game/room"
	"github.com/cory-johannsen/plaza/internal/game/world"
)

// Profile is the connection identity echoed in auth_ok.
type Profile struct {
	ID          string         `json:"id"`
	DisplayName string         `json:"displayName"`
	AvatarJSON  map[string]any `json:"avatarJson"`
}

// RoomSummary lists a joinable room.
type RoomSummary struct {
	Slug        string `json:"slug"`
	Name        string `json:"name"`
	PlayerCount int    `json:"playerCount"`
}

// AuthOK is the auth_ok payload.
type AuthOK struct {
	Profile Profile       `json:"profile"`
	Rooms   []RoomSummary `json:"rooms"`
}

// Objects wraps a room's object list.
type Objects struct {
	Objects []world.RoomObject `json:"objects"`
}

// Room is a room's static definition on the wire.
type Room struct {
	ID          string        `json:"id"`
	Slug        string        `json:"slug"`
	Name        string        `json:"name"`
	TilemapJSON world.Tilemap `json:"tilemapJson"`
	ObjectsJSON Objects       `json:"objectsJson"`
}

// Player is a participant on the wire.
type Player struct {
	ID          string         `json:"id"`
	DisplayName string         `json:"displayName"`
	X           int            `json:"x"`
	Y           int            `json:"y"`
	Facing      world.Facing   `json:"facing"`
	State       world.State    `json:"state"`
	AvatarJSON  map[string]any `json:"avatarJson"`
}

// RoomState is the full snapshot sent to a joining connection.
type RoomState struct {
	Room    Room               `json:"room"`
	Players []Player           `json:"players"`
	Objects []world.RoomObject `json:"objects"`
}

// PlayerJoin announces a new participant.
type PlayerJoin struct {
	Player Player `json:"player"`
}

// PlayerLeave announces a departed participant.
type PlayerLeave struct {
	PlayerID string `json:"playerId"`
}

// PlayerMove carries the full path of a walk.
type PlayerMove struct {
	PlayerID string        `json:"playerId"`
	Path     []world.Point `json:"path"`
}

// PlayerUpdate carries changed participant attributes; absent fields are unchanged.
type PlayerUpdate struct {
	PlayerID string       `json:"playerId"`
	State    world.State  `json:"state,omitempty"`
	X        *int         `json:"x,omitempty"`
	Y        *int         `json:"y,omitempty"`
	Facing   world.Facing `json:"facing,omitempty"`
}

// ChatBroadcast carries a sanitized chat message. TS is unix milliseconds.
type ChatBroadcast struct {
	PlayerID string `json:"playerId"`
	Text     string `json:"text"`
	TS       int64  `json:"ts"`
}

// Error reports a rejected request to its sender.
type Error struct {
	Message string `json:"message"`
}

// NewRoom converts a room definition to its wire form.
func NewRoom(r *world.Room) Room {
	tm := r.Tilemap
	if tm.Tiles == nil {
		tm.Tiles = [][]int{}
	}
	if tm.Blocked == nil {
		tm.Blocked = [][]bool{}
	}
	return Room{
		ID:          r.ID,
		Slug:        r.Slug,
		Name:        r.Name,
		TilemapJSON: tm,
		ObjectsJSON: Objects{Objects: objectsOrEmpty(r.Objects)},
	}
}

// NewPlayer converts a participant to its wire form.
func NewPlayer(p room.Participant) Player {
	avatar := p.Avatar
	if avatar == nil {
		avatar = map[string]any{}
	}
	return Player{
		ID:          p.ID,
		DisplayName: p.DisplayName,
		X:           p.X,
		Y:           p.Y,
		Facing:      p.Facing,
		State:       p.State,
		AvatarJSON:  avatar,
	}
}

// NewRoomState converts a registry snapshot to its wire form.
func NewRoomState(s room.Snapshot) RoomState {
	players := make([]Player, 0, len(s.Participants))
	for _, p := range s.Participants {
		players = append(players, NewPlayer(p))
	}
	return RoomState{
		Room:    NewRoom(s.Room),
		Players: players,
		Objects: objectsOrEmpty(s.Objects),
	}
}

func objectsOrEmpty(objs []world.RoomObject) []world.RoomObject {
	if objs == nil {
		return []world.RoomObject{}
	}
	return objs
}
