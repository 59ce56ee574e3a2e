package gameserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/cory-johannsen/plaza/internal/game/room"
	"github.com/cory-johannsen/plaza/internal/game/world"
	"github.com/cory-johannsen/plaza/internal/protocol"
)

// handleAuth confirms the connection identity, upgrading a guest when a
// valid token is supplied, and replies with auth_ok.
func (g *Gateway) handleAuth(ctx context.Context, connID string, raw json.RawMessage) error {
	req, err := protocol.DecodeAuth(raw)
	if err != nil {
		g.logger.Debug("ignoring malformed auth payload", zap.String("conn_id", connID), zap.Error(err))
	}

	id, ok := g.sessions.Identity(connID)
	if !ok {
		return fmt.Errorf("connection %q not registered", connID)
	}

	if req.Token != "" && id.Guest && g.resolver != nil {
		switch {
		case g.sessions.RoomOf(connID) != "":
			g.logger.Warn("identity upgrade refused while in a room", zap.String("conn_id", connID))
		default:
			rctx, cancel := context.WithTimeout(ctx, storeTimeout)
			upgraded, err := g.resolver.Resolve(rctx, req.Token)
			cancel()
			if err != nil {
				g.logger.Warn("token verification failed", zap.String("conn_id", connID), zap.Error(err))
			} else if err := g.sessions.SetIdentity(connID, upgraded); err == nil {
				id = upgraded
				g.logger.Info("identity upgraded",
					zap.String("conn_id", connID),
					zap.String("user_id", id.UserID),
				)
			}
		}
	}

	g.send(connID, protocol.EventAuthOK, protocol.AuthOK{
		Profile: protocol.Profile{
			ID:          id.UserID,
			DisplayName: id.DisplayName,
			AvatarJSON:  id.Avatar,
		},
		Rooms: g.roomSummaries(ctx),
	})
	return nil
}

// roomSummaries lists the store's rooms with live participant counts.
// A store failure yields an empty list.
func (g *Gateway) roomSummaries(ctx context.Context) []protocol.RoomSummary {
	sctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()
	rooms, err := g.store.ListRooms(sctx)
	if err != nil {
		g.logger.Warn("listing rooms for auth_ok", zap.Error(err))
		return []protocol.RoomSummary{}
	}
	out := make([]protocol.RoomSummary, 0, len(rooms))
	for _, r := range rooms {
		out = append(out, protocol.RoomSummary{
			Slug:        r.Slug,
			Name:        r.Name,
			PlayerCount: g.registry.ParticipantCount(r.Slug),
		})
	}
	return out
}

// handleJoinRoom leaves any current room, then places the connection's
// participant at the spawn point of the requested room.
func (g *Gateway) handleJoinRoom(ctx context.Context, connID string, raw json.RawMessage) error {
	req, err := protocol.DecodeJoinRoom(raw)
	if err != nil {
		return rejectWith(msgFailedToJoin, err)
	}

	g.leave(connID)

	sctx, cancel := context.WithTimeout(ctx, storeTimeout)
	def, err := g.store.RoomBySlug(sctx, req.RoomSlug)
	cancel()
	if errors.Is(err, world.ErrRoomNotFound) {
		return rejectWith(msgRoomNotFound, err)
	}
	if err != nil {
		return rejectWith(msgFailedToJoin, err)
	}
	if g.registry.Ensure(def) {
		g.logger.Info("room initialized on first join", zap.String("room", def.Slug))
	}

	id, ok := g.sessions.Identity(connID)
	if !ok {
		return fmt.Errorf("connection %q not registered", connID)
	}

	err = g.registry.Exec(def.Slug, func(tx *room.Tx) error {
		spawn := room.SpawnPoint(tx.Room())
		p := room.Participant{
			ID:          id.UserID,
			DisplayName: id.DisplayName,
			Avatar:      id.Avatar,
			X:           spawn.X,
			Y:           spawn.Y,
			Facing:      world.South,
			State:       world.Standing,
		}
		if err := tx.Add(p); err != nil {
			return rejectWith(msgFailedToJoin, err)
		}
		if _, err := g.sessions.Subscribe(connID, def.Slug); err != nil {
			tx.Remove(p.ID)
			return err
		}
		g.send(connID, protocol.EventRoomState, protocol.NewRoomState(tx.Snapshot()))
		g.broadcast(def.Slug, connID, protocol.EventPlayerJoin, protocol.PlayerJoin{Player: protocol.NewPlayer(p)})
		return nil
	})
	if err != nil {
		return roomErr(err)
	}

	g.logger.Info("joined room",
		zap.String("conn_id", connID),
		zap.String("user_id", id.UserID),
		zap.String("room", def.Slug),
	)
	return nil
}

// leave removes the connection's participant from its current room, if
// any, and tells the remaining connections. Disconnect uses the same path.
func (g *Gateway) leave(connID string) {
	roomID := g.sessions.RoomOf(connID)
	if roomID == "" {
		return
	}
	id, _ := g.sessions.Identity(connID)

	err := g.registry.Exec(roomID, func(tx *room.Tx) error {
		tx.Remove(id.UserID)
		g.sessions.Unsubscribe(connID)
		g.broadcast(roomID, "", protocol.EventPlayerLeave, protocol.PlayerLeave{PlayerID: id.UserID})
		return nil
	})
	if err != nil {
		g.sessions.Unsubscribe(connID)
		g.logger.Error("leaving room", zap.String("conn_id", connID), zap.String("room", roomID), zap.Error(err))
		return
	}

	g.logger.Info("left room",
		zap.String("conn_id", connID),
		zap.String("user_id", id.UserID),
		zap.String("room", roomID),
	)
}
