package world

import (
	"context"
	"fmt"
	"sort"
)

// StaticStore serves room definitions loaded once from content files.
// It is safe for concurrent use because it is never mutated after construction.
type StaticStore struct {
	rooms map[string]*Room
	order []string
}

// NewStaticStore indexes rooms by slug.
//
// Postcondition: Returns a StaticStore, or an error on duplicate slugs.
func NewStaticStore(rooms []*Room) (*StaticStore, error) {
	s := &StaticStore{rooms: make(map[string]*Room, len(rooms))}
	for _, r := range rooms {
		if _, exists := s.rooms[r.Slug]; exists {
			return nil, fmt.Errorf("duplicate room slug: %q", r.Slug)
		}
		s.rooms[r.Slug] = r
		s.order = append(s.order, r.Slug)
	}
	sort.Strings(s.order)
	return s, nil
}

// RoomBySlug returns the room with the given slug.
//
// Postcondition: Returns the room, or ErrRoomNotFound.
func (s *StaticStore) RoomBySlug(_ context.Context, slug string) (*Room, error) {
	r, ok := s.rooms[slug]
	if !ok {
		return nil, fmt.Errorf("slug %q: %w", slug, ErrRoomNotFound)
	}
	return r, nil
}

// ListRooms returns every room ordered by slug.
func (s *StaticStore) ListRooms(_ context.Context) ([]*Room, error) {
	out := make([]*Room, 0, len(s.order))
	for _, slug := range s.order {
		out = append(out, s.rooms[slug])
	}
	return out, nil
}
