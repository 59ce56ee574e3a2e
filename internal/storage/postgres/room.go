package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cory-johannsen/plaza/internal/game/world"
)

// objectsDocument is the stored shape of a room's objects column.
type objectsDocument struct {
	Objects []world.RoomObject `json:"objects"`
}

// RoomRepository loads and stores room definitions. Tilemaps and objects
// are kept as JSONB documents.
type RoomRepository struct {
	db *pgxpool.Pool
}

// NewRoomRepository creates a RoomRepository backed by the given pool.
//
// Precondition: db must be a valid, open connection pool.
func NewRoomRepository(db *pgxpool.Pool) *RoomRepository {
	return &RoomRepository{db: db}
}

// RoomBySlug returns the room with the given slug.
//
// Postcondition: Returns a validated Room, or an error wrapping world.ErrRoomNotFound.
func (r *RoomRepository) RoomBySlug(ctx context.Context, slug string) (*world.Room, error) {
	row := r.db.QueryRow(ctx,
		`SELECT id, slug, name, tilemap_json, objects_json
		 FROM rooms WHERE slug = $1`,
		slug,
	)
	room, err := scanRoom(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("slug %q: %w", slug, world.ErrRoomNotFound)
		}
		return nil, err
	}
	return room, nil
}

// ListRooms returns every stored room ordered by slug.
func (r *RoomRepository) ListRooms(ctx context.Context) ([]*world.Room, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, slug, name, tilemap_json, objects_json
		 FROM rooms ORDER BY slug`,
	)
	if err != nil {
		return nil, fmt.Errorf("querying rooms: %w", err)
	}
	defer rows.Close()

	var rooms []*world.Room
	for rows.Next() {
		room, err := scanRoom(rows)
		if err != nil {
			return nil, err
		}
		rooms = append(rooms, room)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating rooms: %w", err)
	}
	return rooms, nil
}

// Upsert inserts the room, or replaces the name, tilemap, and objects of the
// room already stored under the same slug. The stored id is kept on update.
//
// Precondition: room must pass Validate.
func (r *RoomRepository) Upsert(ctx context.Context, room *world.Room) error {
	if err := room.Validate(); err != nil {
		return fmt.Errorf("validating room: %w", err)
	}
	tilemapJSON, err := json.Marshal(room.Tilemap)
	if err != nil {
		return fmt.Errorf("encoding tilemap for %q: %w", room.Slug, err)
	}
	objects := room.Objects
	if objects == nil {
		objects = []world.RoomObject{}
	}
	objectsJSON, err := json.Marshal(objectsDocument{Objects: objects})
	if err != nil {
		return fmt.Errorf("encoding objects for %q: %w", room.Slug, err)
	}

	_, err = r.db.Exec(ctx,
		`INSERT INTO rooms (id, slug, name, tilemap_json, objects_json)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (slug) DO UPDATE
		 SET name = EXCLUDED.name,
		     tilemap_json = EXCLUDED.tilemap_json,
		     objects_json = EXCLUDED.objects_json,
		     updated_at = NOW()`,
		room.ID, room.Slug, room.Name, tilemapJSON, objectsJSON,
	)
	if err != nil {
		return fmt.Errorf("upserting room %q: %w", room.Slug, err)
	}
	return nil
}

func scanRoom(row pgx.Row) (*world.Room, error) {
	var (
		room        world.Room
		tilemapJSON []byte
		objectsJSON []byte
	)
	if err := row.Scan(&room.ID, &room.Slug, &room.Name, &tilemapJSON, &objectsJSON); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scanning room: %w", err)
	}
	if err := json.Unmarshal(tilemapJSON, &room.Tilemap); err != nil {
		return nil, fmt.Errorf("decoding tilemap for %q: %w", room.Slug, err)
	}
	var doc objectsDocument
	if err := json.Unmarshal(objectsJSON, &doc); err != nil {
		return nil, fmt.Errorf("decoding objects for %q: %w", room.Slug, err)
	}
	room.Objects = doc.Objects
	if room.Objects == nil {
		room.Objects = []world.RoomObject{}
	}
	if err := room.Validate(); err != nil {
		return nil, fmt.Errorf("stored room: %w", err)
	}
	return &room, nil
}
