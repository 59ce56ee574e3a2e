package room

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/cory-johannsen/plaza/internal/game/world"
)

func testRoom(w, h int, blocked ...world.Point) *world.Room {
	grid := make([][]bool, h)
	for y := range grid {
		grid[y] = make([]bool, w)
	}
	for _, b := range blocked {
		grid[b.Y][b.X] = true
	}
	return &world.Room{
		ID:      "room-1",
		Slug:    "lobby",
		Name:    "Lobby",
		Tilemap: world.Tilemap{Width: w, Height: h, Blocked: grid},
		Objects: []world.RoomObject{{ID: "chair-1", Type: "chair", X: 2, Y: 2}},
	}
}

func alice() Participant {
	return Participant{ID: "u1", DisplayName: "Alice", X: 1, Y: 1, Facing: world.South, State: world.Standing}
}

type countingCanceler struct{ cancelled int }

func (c *countingCanceler) Cancel() { c.cancelled++ }

func TestRegistry_AddParticipant_NotInitialized(t *testing.T) {
	reg := NewRegistry()
	err := reg.AddParticipant("nowhere", alice())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrRoomNotInitialized))
}

func TestRegistry_AddAndGetParticipant(t *testing.T) {
	reg := NewRegistry()
	reg.Initialize(testRoom(4, 4))
	require.NoError(t, reg.AddParticipant("lobby", alice()))

	p, ok := reg.GetParticipant("lobby", "u1")
	require.True(t, ok)
	assert.Equal(t, "Alice", p.DisplayName)
	assert.Equal(t, world.Point{X: 1, Y: 1}, p.Position())
	assert.Equal(t, 1, reg.ParticipantCount("lobby"))

	_, ok = reg.GetParticipant("lobby", "u2")
	assert.False(t, ok)
	_, ok = reg.GetParticipant("nowhere", "u1")
	assert.False(t, ok)
}

func TestRegistry_AddParticipant_Overwrites(t *testing.T) {
	reg := NewRegistry()
	reg.Initialize(testRoom(4, 4))
	require.NoError(t, reg.AddParticipant("lobby", alice()))
	again := alice()
	again.X = 3
	require.NoError(t, reg.AddParticipant("lobby", again))

	p, _ := reg.GetParticipant("lobby", "u1")
	assert.Equal(t, 3, p.X)
	assert.Equal(t, 1, reg.ParticipantCount("lobby"))
}

func TestRegistry_AddParticipant_RejectsBlockedTile(t *testing.T) {
	reg := NewRegistry()
	reg.Initialize(testRoom(4, 4, world.Point{X: 1, Y: 1}))
	err := reg.AddParticipant("lobby", alice())
	assert.True(t, errors.Is(err, ErrInvalidPosition))
}

func TestRegistry_RemoveParticipant(t *testing.T) {
	reg := NewRegistry()
	reg.Initialize(testRoom(4, 4))
	require.NoError(t, reg.AddParticipant("lobby", alice()))

	reg.RemoveParticipant("lobby", "u1")
	_, ok := reg.GetParticipant("lobby", "u1")
	assert.False(t, ok)

	// absent participant and unknown room are no-ops
	reg.RemoveParticipant("lobby", "u1")
	reg.RemoveParticipant("nowhere", "u1")
}

func TestRegistry_GetRoom(t *testing.T) {
	reg := NewRegistry()
	room := testRoom(3, 3)
	reg.Initialize(room)

	got, ok := reg.GetRoom("lobby")
	require.True(t, ok)
	assert.Same(t, room, got)

	_, ok = reg.GetRoom("nowhere")
	assert.False(t, ok)
}

func TestRegistry_Snapshot(t *testing.T) {
	reg := NewRegistry()
	reg.Initialize(testRoom(4, 4))
	require.NoError(t, reg.AddParticipant("lobby", alice()))
	bob := alice()
	bob.ID, bob.DisplayName = "u2", "Bob"
	require.NoError(t, reg.AddParticipant("lobby", bob))

	snap, err := reg.Snapshot("lobby")
	require.NoError(t, err)
	assert.Equal(t, "lobby", snap.Room.Slug)
	assert.Len(t, snap.Participants, 2)
	require.Len(t, snap.Objects, 1)
	assert.Equal(t, "chair-1", snap.Objects[0].ID)

	_, err = reg.Snapshot("nowhere")
	assert.True(t, errors.Is(err, ErrRoomNotFound))
}

func TestRegistry_SnapshotIsACopy(t *testing.T) {
	reg := NewRegistry()
	reg.Initialize(testRoom(4, 4))
	require.NoError(t, reg.AddParticipant("lobby", alice()))

	snap, err := reg.Snapshot("lobby")
	require.NoError(t, err)
	snap.Participants[0].X = 3

	p, _ := reg.GetParticipant("lobby", "u1")
	assert.Equal(t, 1, p.X)
}

func TestRegistry_UpdatePositionAndState(t *testing.T) {
	reg := NewRegistry()
	reg.Initialize(testRoom(4, 4, world.Point{X: 3, Y: 3}))
	require.NoError(t, reg.AddParticipant("lobby", alice()))

	require.NoError(t, reg.UpdatePosition("lobby", "u1", world.Point{X: 2, Y: 0}))
	require.NoError(t, reg.UpdateState("lobby", "u1", world.Walking))
	p, _ := reg.GetParticipant("lobby", "u1")
	assert.Equal(t, world.Point{X: 2, Y: 0}, p.Position())
	assert.Equal(t, world.Walking, p.State)

	assert.True(t, errors.Is(reg.UpdatePosition("lobby", "u1", world.Point{X: 3, Y: 3}), ErrInvalidPosition))
	assert.True(t, errors.Is(reg.UpdatePosition("lobby", "u1", world.Point{X: 9, Y: 0}), ErrInvalidPosition))
	assert.True(t, errors.Is(reg.UpdateState("lobby", "u1", world.State("flying")), ErrInvalidState))

	p, _ = reg.GetParticipant("lobby", "u1")
	assert.Equal(t, world.Point{X: 2, Y: 0}, p.Position(), "rejected updates must not move the participant")

	// absent participant is a no-op
	assert.NoError(t, reg.UpdatePosition("lobby", "ghost", world.Point{X: 0, Y: 0}))
	assert.NoError(t, reg.UpdateState("lobby", "ghost", world.Standing))
}

func TestRegistry_InitializeKeepsParticipants(t *testing.T) {
	reg := NewRegistry()
	reg.Initialize(testRoom(4, 4))
	require.NoError(t, reg.AddParticipant("lobby", alice()))

	replacement := testRoom(5, 5)
	replacement.Name = "Lobby v2"
	reg.Initialize(replacement)

	room, _ := reg.GetRoom("lobby")
	assert.Equal(t, "Lobby v2", room.Name)
	assert.Equal(t, 1, reg.ParticipantCount("lobby"))
}

func TestRegistry_EnsureOnlyRegistersOnce(t *testing.T) {
	reg := NewRegistry()
	assert.True(t, reg.Ensure(testRoom(4, 4)))
	require.NoError(t, reg.AddParticipant("lobby", alice()))

	replacement := testRoom(5, 5)
	replacement.Name = "Lobby v2"
	assert.False(t, reg.Ensure(replacement))

	room, _ := reg.GetRoom("lobby")
	assert.Equal(t, "Lobby", room.Name)
	assert.Equal(t, 1, reg.ParticipantCount("lobby"))
}

func TestRegistry_RoomIDs(t *testing.T) {
	reg := NewRegistry()
	garden := testRoom(2, 2)
	garden.Slug = "garden"
	reg.Initialize(testRoom(2, 2))
	reg.Initialize(garden)
	assert.Equal(t, []string{"garden", "lobby"}, reg.RoomIDs())
}

func TestTx_PendingLifecycle(t *testing.T) {
	reg := NewRegistry()
	reg.Initialize(testRoom(4, 4))
	require.NoError(t, reg.AddParticipant("lobby", alice()))

	first := &countingCanceler{}
	second := &countingCanceler{}
	require.NoError(t, reg.Exec("lobby", func(tx *Tx) error {
		tx.ReplacePending("u1", first)
		tx.ReplacePending("u1", second)
		cur, ok := tx.Pending("u1")
		require.True(t, ok)
		assert.Same(t, second, cur)

		tx.ClearPending("u1", first)
		_, ok = tx.Pending("u1")
		assert.True(t, ok, "clearing a stale handle must not drop the current one")
		return nil
	}))
	assert.Equal(t, 1, first.cancelled)
	assert.Equal(t, 0, second.cancelled)

	reg.RemoveParticipant("lobby", "u1")
	assert.Equal(t, 1, second.cancelled, "removal cancels the pending action")
}

func TestRegistry_ConcurrentRoomsAndParticipants(t *testing.T) {
	reg := NewRegistry()
	for i := 0; i < 4; i++ {
		r := testRoom(8, 8)
		r.Slug = fmt.Sprintf("room-%d", i)
		reg.Initialize(r)
	}

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		for j := 0; j < 25; j++ {
			wg.Add(1)
			go func(room string, id string) {
				defer wg.Done()
				p := alice()
				p.ID = id
				_ = reg.AddParticipant(room, p)
				_ = reg.UpdateState(room, id, world.Walking)
				_, _ = reg.Snapshot(room)
			}(fmt.Sprintf("room-%d", i), fmt.Sprintf("u%d", j))
		}
	}
	wg.Wait()

	for i := 0; i < 4; i++ {
		assert.Equal(t, 25, reg.ParticipantCount(fmt.Sprintf("room-%d", i)))
	}
}

func TestSpawnPoint(t *testing.T) {
	assert.Equal(t, world.Point{X: 0, Y: 0}, SpawnPoint(testRoom(3, 3)))
	assert.Equal(t, world.Point{X: 2, Y: 0}, SpawnPoint(testRoom(3, 3, world.Point{X: 0, Y: 0}, world.Point{X: 1, Y: 0})))
	assert.Equal(t, world.Point{X: 0, Y: 1}, SpawnPoint(testRoom(2, 2, world.Point{X: 0, Y: 0}, world.Point{X: 1, Y: 0})))
}

func TestSpawnPoint_AllBlockedFallsBackToOrigin(t *testing.T) {
	room := testRoom(2, 2, world.Point{X: 0, Y: 0}, world.Point{X: 1, Y: 0}, world.Point{X: 0, Y: 1}, world.Point{X: 1, Y: 1})
	assert.Equal(t, world.Point{X: 0, Y: 0}, SpawnPoint(room))
}

// Property: the spawn point is the row-major first open cell, or the origin when none exists.
func TestPropertySpawnPointIsFirstOpenCell(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		w := rapid.IntRange(1, 6).Draw(t, "w")
		h := rapid.IntRange(1, 6).Draw(t, "h")
		var blocked []world.Point
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				if rapid.Bool().Draw(t, "blocked") {
					blocked = append(blocked, world.Point{X: x, Y: y})
				}
			}
		}
		room := testRoom(w, h, blocked...)
		got := SpawnPoint(room)

		want := world.Point{}
		found := false
		for y := 0; y < h && !found; y++ {
			for x := 0; x < w && !found; x++ {
				if !room.Tilemap.IsBlocked(world.Point{X: x, Y: y}) {
					want = world.Point{X: x, Y: y}
					found = true
				}
			}
		}
		if got != want {
			t.Fatalf("SpawnPoint = %v, want %v", got, want)
		}
	})
}
