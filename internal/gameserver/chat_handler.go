package gameserver

import (
	"encoding/json"
	"errors"

	"github.com/cory-johannsen/plaza/internal/game/chat"
	"github.com/cory-johannsen/plaza/internal/game/room"
	"github.com/cory-johannsen/plaza/internal/protocol"
)

// handleChatSend rate-limits and sanitizes a chat message, then broadcasts
// it to the sender's room, sender included.
func (g *Gateway) handleChatSend(connID string, raw json.RawMessage) error {
	req, err := protocol.DecodeChatSend(raw)
	if err != nil {
		return rejectWith(msgInvalidChat, err)
	}
	roomID := g.sessions.RoomOf(connID)
	if roomID == "" {
		return reject(msgNotInRoom)
	}
	pid, err := g.participantOf(connID)
	if err != nil {
		return err
	}

	text, at, err := g.chat.Accept(connID, req.Text)
	switch {
	case errors.Is(err, chat.ErrRateLimited):
		g.metrics.ChatRateLimited.Add(1)
		return rejectWith(msgRateLimited, err)
	case err != nil:
		return rejectWith(msgInvalidChat, err)
	}

	err = g.registry.Exec(roomID, func(tx *room.Tx) error {
		g.broadcast(roomID, "", protocol.EventChatBroadcast, protocol.ChatBroadcast{
			PlayerID: pid,
			Text:     text,
			TS:       at.UnixMilli(),
		})
		return nil
	})
	return roomErr(err)
}
