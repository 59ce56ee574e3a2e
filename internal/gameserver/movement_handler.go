package gameserver

import (
	"encoding/json"

	"github.com/cory-johannsen/plaza/internal/game/room"
	"github.com/cory-johannsen/plaza/internal/game/world"
	"github.com/cory-johannsen/plaza/internal/protocol"
)

// handleMoveIntent validates a walk target, commits the participant to the
// final cell in walking state, broadcasts the full path, and arms the
// completion that returns the participant to standing.
func (g *Gateway) handleMoveIntent(connID string, raw json.RawMessage) error {
	req, err := protocol.DecodeMoveIntent(raw)
	if err != nil {
		return rejectWith(msgInvalidMove, err)
	}
	roomID := g.sessions.RoomOf(connID)
	if roomID == "" {
		return reject(msgNotInRoom)
	}
	pid, err := g.participantOf(connID)
	if err != nil {
		return err
	}

	err = g.registry.Exec(roomID, func(tx *room.Tx) error {
		p, ok := tx.Participant(pid)
		if !ok {
			return reject(msgPlayerNotFound)
		}
		if p.State == world.Sitting {
			return reject(msgStandUpFirst)
		}

		grid := &tx.Room().Tilemap
		target := world.Point{X: req.X, Y: req.Y}
		if !grid.InBounds(target) {
			return reject(msgOutOfBounds)
		}
		if grid.IsBlocked(target) {
			return reject(msgTileBlocked)
		}

		path := world.FindPath(grid, p.Position(), target)
		if len(path) == 0 {
			return reject(msgNoPath)
		}

		if err := tx.UpdatePosition(pid, path[len(path)-1]); err != nil {
			return err
		}
		if err := tx.UpdateState(pid, world.Walking); err != nil {
			return err
		}
		if facing, ok := world.FacingAlong(path); ok {
			tx.UpdateFacing(pid, facing)
		}

		g.broadcast(roomID, "", protocol.EventPlayerMove, protocol.PlayerMove{PlayerID: pid, Path: path})
		g.scheduler.Arm(tx, pid, len(path), func(tx *room.Tx, p room.Participant) {
			g.broadcast(tx.RoomID(), "", protocol.EventPlayerUpdate, protocol.PlayerUpdate{
				PlayerID: p.ID,
				State:    world.Standing,
			})
		})
		return nil
	})
	if err != nil {
		return roomErr(err)
	}
	g.metrics.Moves.Add(1)
	return nil
}

// handleInteract applies sit or stand to a room object. Other actions on a
// known object are accepted without effect.
func (g *Gateway) handleInteract(connID string, raw json.RawMessage) error {
	req, err := protocol.DecodeInteract(raw)
	if err != nil {
		return rejectWith(msgInvalidInteraction, err)
	}
	roomID := g.sessions.RoomOf(connID)
	if roomID == "" {
		return reject(msgNotInRoom)
	}
	pid, err := g.participantOf(connID)
	if err != nil {
		return err
	}

	err = g.registry.Exec(roomID, func(tx *room.Tx) error {
		p, ok := tx.Participant(pid)
		if !ok {
			return reject(msgPlayerNotFound)
		}
		obj, ok := tx.Room().Object(req.ObjectID)
		if !ok {
			return reject(msgObjectNotFound)
		}

		switch {
		case g.sittable[obj.Type] && req.Action == "sit":
			seat := obj.Position()
			if world.ChebyshevDistance(p.Position(), seat) > 1 {
				return reject(msgTooFar)
			}
			if !tx.Room().Tilemap.Walkable(seat) {
				return reject(msgTileBlocked)
			}
			g.scheduler.Cancel(tx, pid)
			if err := tx.UpdatePosition(pid, seat); err != nil {
				return err
			}
			if err := tx.UpdateState(pid, world.Sitting); err != nil {
				return err
			}
			x, y := seat.X, seat.Y
			g.broadcast(roomID, "", protocol.EventPlayerUpdate, protocol.PlayerUpdate{
				PlayerID: pid,
				State:    world.Sitting,
				X:        &x,
				Y:        &y,
			})

		case req.Action == "stand":
			g.scheduler.Cancel(tx, pid)
			if err := tx.UpdateState(pid, world.Standing); err != nil {
				return err
			}
			g.broadcast(roomID, "", protocol.EventPlayerUpdate, protocol.PlayerUpdate{
				PlayerID: pid,
				State:    world.Standing,
			})
		}
		return nil
	})
	return roomErr(err)
}
