package world

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// blockedGlyph marks a blocked tile in a YAML layout row.
const blockedGlyph = '#'

// defaultTileType is the tile type assigned when a room file omits tiles.
const defaultTileType = 1

// yamlRoomFile is the top-level YAML structure for room files.
type yamlRoomFile struct {
	Room yamlRoom `yaml:"room"`
}

// yamlRoom is the YAML representation of a room.
type yamlRoom struct {
	ID      string       `yaml:"id"`
	Slug    string       `yaml:"slug"`
	Name    string       `yaml:"name"`
	Width   int          `yaml:"width"`
	Height  int          `yaml:"height"`
	Layout  []string     `yaml:"layout"`
	Tiles   [][]int      `yaml:"tiles"`
	Objects []yamlObject `yaml:"objects"`
}

// yamlObject is the YAML representation of a room object.
type yamlObject struct {
	ID       string         `yaml:"id"`
	Type     string         `yaml:"type"`
	X        int            `yaml:"x"`
	Y        int            `yaml:"y"`
	Rotation int            `yaml:"rotation"`
	State    map[string]any `yaml:"state"`
}

// LoadRoomFromFile reads and validates a single room YAML file.
//
// Precondition: path must point to a valid YAML room file.
// Postcondition: Returns a validated Room or a non-nil error.
func LoadRoomFromFile(path string) (*Room, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading room file %s: %w", path, err)
	}
	return LoadRoomFromBytes(data)
}

// LoadRoomFromBytes parses and validates a room from YAML bytes.
//
// A layout row uses '#' for a blocked tile and any other character for an
// open one. When layout is omitted every tile is open.
//
// Precondition: data must be valid YAML conforming to the room schema.
// Postcondition: Returns a validated Room or a non-nil error.
func LoadRoomFromBytes(data []byte) (*Room, error) {
	var file yamlRoomFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing room YAML: %w", err)
	}

	room, err := convertYAMLRoom(file.Room)
	if err != nil {
		return nil, fmt.Errorf("converting room: %w", err)
	}
	if err := room.Validate(); err != nil {
		return nil, fmt.Errorf("validating room: %w", err)
	}
	return room, nil
}

// LoadRoomsFromDir loads all YAML files in a directory as rooms.
//
// Precondition: dir must be a valid directory path.
// Postcondition: Returns all validated rooms or the first error encountered.
func LoadRoomsFromDir(dir string) ([]*Room, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading room directory %s: %w", dir, err)
	}

	var rooms []*Room
	slugs := make(map[string]string)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasSuffix(name, ".yaml") && !strings.HasSuffix(name, ".yml") {
			continue
		}
		room, err := LoadRoomFromFile(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("loading room from %s: %w", name, err)
		}
		if prev, dup := slugs[room.Slug]; dup {
			return nil, fmt.Errorf("duplicate room slug %q in %s and %s", room.Slug, prev, name)
		}
		slugs[room.Slug] = name
		rooms = append(rooms, room)
	}

	if len(rooms) == 0 {
		return nil, fmt.Errorf("no room files found in %s", dir)
	}
	return rooms, nil
}

// convertYAMLRoom converts the parsed YAML structures into domain types.
func convertYAMLRoom(yr yamlRoom) (*Room, error) {
	if yr.Width < 1 || yr.Height < 1 {
		return nil, fmt.Errorf("room %q: width and height must be >= 1, got %dx%d", yr.Slug, yr.Width, yr.Height)
	}
	if yr.Layout != nil && len(yr.Layout) != yr.Height {
		return nil, fmt.Errorf("room %q: layout has %d rows, want %d", yr.Slug, len(yr.Layout), yr.Height)
	}

	blocked := make([][]bool, yr.Height)
	for y := range blocked {
		blocked[y] = make([]bool, yr.Width)
		if yr.Layout == nil {
			continue
		}
		row := []rune(yr.Layout[y])
		if len(row) != yr.Width {
			return nil, fmt.Errorf("room %q: layout row %d has %d cells, want %d", yr.Slug, y, len(row), yr.Width)
		}
		for x, glyph := range row {
			blocked[y][x] = glyph == blockedGlyph
		}
	}

	tiles := yr.Tiles
	if tiles == nil {
		tiles = make([][]int, yr.Height)
		for y := range tiles {
			tiles[y] = make([]int, yr.Width)
			for x := range tiles[y] {
				tiles[y][x] = defaultTileType
			}
		}
	}

	id := yr.ID
	if id == "" {
		id = yr.Slug
	}
	room := &Room{
		ID:   id,
		Slug: yr.Slug,
		Name: yr.Name,
		Tilemap: Tilemap{
			Width:   yr.Width,
			Height:  yr.Height,
			Tiles:   tiles,
			Blocked: blocked,
		},
		Objects: make([]RoomObject, 0, len(yr.Objects)),
	}
	for _, yo := range yr.Objects {
		room.Objects = append(room.Objects, RoomObject{
			ID:       yo.ID,
			Type:     yo.Type,
			X:        yo.X,
			Y:        yo.Y,
			Rotation: yo.Rotation,
			State:    yo.State,
		})
	}
	return room, nil
}
