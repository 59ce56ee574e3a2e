// Package gameserver is the connection gateway: it decodes client events,
// applies them to the authoritative room state, and fans the resulting
// deltas out to every connection in the room.
package gameserver

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/plaza/internal/game/chat"
	"github.com/cory-johannsen/plaza/internal/game/movement"
	"github.com/cory-johannsen/plaza/internal/game/room"
	"github.com/cory-johannsen/plaza/internal/game/session"
	"github.com/cory-johannsen/plaza/internal/game/world"
	"github.com/cory-johannsen/plaza/internal/identity"
	"github.com/cory-johannsen/plaza/internal/protocol"
)

const storeTimeout = 5 * time.Second

// RoomStore supplies room definitions.
type RoomStore interface {
	// RoomBySlug returns an error wrapping world.ErrRoomNotFound for an unknown slug.
	RoomBySlug(ctx context.Context, slug string) (*world.Room, error)
	ListRooms(ctx context.Context) ([]*world.Room, error)
}

// IdentityResolver turns a bearer token into an authenticated identity.
type IdentityResolver interface {
	Resolve(ctx context.Context, token string) (identity.Identity, error)
}

// GatewayConfig holds gateway tunables.
type GatewayConfig struct {
	// SittableTypes lists object types that accept the "sit" action.
	// Empty means ["chair"].
	SittableTypes []string
}

// Gateway dispatches client events for all connections.
//
// Events for a single connection must be delivered sequentially; events for
// different connections may arrive concurrently. Lock order is room lock,
// then session manager lock.
type Gateway struct {
	registry  *room.Registry
	sessions  *session.Manager
	scheduler *movement.Scheduler
	chat      *chat.Guard
	store     RoomStore
	resolver  IdentityResolver
	sittable  map[string]bool
	metrics   *Metrics
	logger    *zap.Logger
}

// NewGateway creates a Gateway with the given dependencies.
//
// Precondition: registry, sessions, scheduler, guard, store, and logger must be non-nil.
// resolver may be nil, in which case auth tokens are ignored.
// Postcondition: Returns a Gateway ready to accept connections.
func NewGateway(
	cfg GatewayConfig,
	registry *room.Registry,
	sessions *session.Manager,
	scheduler *movement.Scheduler,
	guard *chat.Guard,
	store RoomStore,
	resolver IdentityResolver,
	logger *zap.Logger,
) *Gateway {
	types := cfg.SittableTypes
	if len(types) == 0 {
		types = []string{"chair"}
	}
	sittable := make(map[string]bool, len(types))
	for _, t := range types {
		sittable[t] = true
	}
	return &Gateway{
		registry:  registry,
		sessions:  sessions,
		scheduler: scheduler,
		chat:      guard,
		store:     store,
		resolver:  resolver,
		sittable:  sittable,
		metrics:   &Metrics{},
		logger:    logger,
	}
}

// Metrics returns the gateway's counters.
func (g *Gateway) Metrics() *Metrics {
	return g.metrics
}

// InitializeRooms registers every room from the store with the registry.
//
// Postcondition: Returns the number of rooms newly registered.
func (g *Gateway) InitializeRooms(ctx context.Context) (int, error) {
	rooms, err := g.store.ListRooms(ctx)
	if err != nil {
		return 0, fmt.Errorf("listing rooms: %w", err)
	}
	n := 0
	for _, r := range rooms {
		if g.registry.Ensure(r) {
			n++
		}
	}
	g.logger.Info("rooms initialized", zap.Int("count", n))
	return n, nil
}

// Connect registers a new connection with the given identity.
//
// Precondition: connID must be unique among live connections.
// Postcondition: Returns the session whose Entity carries outbound frames.
func (g *Gateway) Connect(connID string, id identity.Identity) (*session.Session, error) {
	sess, err := g.sessions.Add(connID, id)
	if err != nil {
		return nil, err
	}
	g.metrics.ConnectionsOpen.Add(1)
	g.metrics.ConnectionsTotal.Add(1)
	g.logger.Info("client connected",
		zap.String("conn_id", connID),
		zap.String("user_id", id.UserID),
		zap.String("display_name", id.DisplayName),
		zap.Bool("guest", id.Guest),
	)
	return sess, nil
}

// Disconnect runs the leave path for the connection, drops its chat
// cooldown, and unregisters it.
func (g *Gateway) Disconnect(connID string) {
	g.leave(connID)
	g.chat.Forget(connID)
	if _, err := g.sessions.Remove(connID); err != nil {
		g.logger.Debug("disconnect of unknown connection", zap.String("conn_id", connID), zap.Error(err))
		return
	}
	g.metrics.ConnectionsOpen.Add(-1)
	g.logger.Info("client disconnected", zap.String("conn_id", connID))
}

// HandleMessage decodes one raw client frame and dispatches it. It never
// panics; failures are reported to the sending connection as error events.
func (g *Gateway) HandleMessage(ctx context.Context, connID string, raw []byte) {
	eventType := ""
	defer func() {
		if r := recover(); r != nil {
			g.metrics.InternalErrors.Add(1)
			g.logger.Error("panic handling event",
				zap.String("conn_id", connID),
				zap.String("event", eventType),
				zap.Any("panic", r),
				zap.Stack("stack"),
			)
			g.sendError(connID, msgInternalError)
		}
	}()

	env, err := protocol.DecodeEnvelope(raw)
	if err != nil {
		g.report(connID, "", rejectWith(msgInvalidMessage, err))
		return
	}
	eventType = env.Type

	if err := g.dispatch(ctx, connID, env); err != nil {
		g.report(connID, env.Type, err)
		return
	}
	g.metrics.EventsAccepted.Add(1)
}

// dispatch routes an envelope to the appropriate handler.
func (g *Gateway) dispatch(ctx context.Context, connID string, env protocol.Envelope) error {
	switch env.Type {
	case protocol.EventAuth:
		return g.handleAuth(ctx, connID, env.Payload)
	case protocol.EventJoinRoom:
		return g.handleJoinRoom(ctx, connID, env.Payload)
	case protocol.EventLeaveRoom:
		g.leave(connID)
		return nil
	case protocol.EventMoveIntent:
		return g.handleMoveIntent(connID, env.Payload)
	case protocol.EventChatSend:
		return g.handleChatSend(connID, env.Payload)
	case protocol.EventInteract:
		return g.handleInteract(connID, env.Payload)
	default:
		return reject(msgUnknownEvent)
	}
}

// report logs err and sends the matching error event to connID.
func (g *Gateway) report(connID, eventType string, err error) {
	var rej *RejectError
	if errors.As(err, &rej) {
		g.metrics.EventsRejected.Add(1)
		fields := []zap.Field{
			zap.String("conn_id", connID),
			zap.String("event", eventType),
			zap.String("reason", rej.Message),
		}
		switch {
		case errors.Is(rej.Err, room.ErrRoomNotInitialized):
			g.logger.Error("event hit uninitialized room", append(fields, zap.Error(rej.Err))...)
		case rej.Err != nil && !isExpected(rej.Err):
			g.logger.Warn("event failed", append(fields, zap.Error(rej.Err))...)
		default:
			g.logger.Debug("event rejected", append(fields, zap.Error(rej.Err))...)
		}
		g.sendError(connID, rej.Message)
		return
	}

	g.metrics.InternalErrors.Add(1)
	g.logger.Error("internal error handling event",
		zap.String("conn_id", connID),
		zap.String("event", eventType),
		zap.Error(err),
	)
	g.sendError(connID, msgInternalError)
}

// isExpected reports whether err is ordinary bad client input.
func isExpected(err error) bool {
	return errors.Is(err, protocol.ErrInvalidPayload) ||
		errors.Is(err, world.ErrRoomNotFound) ||
		errors.Is(err, chat.ErrRateLimited) ||
		errors.Is(err, chat.ErrInvalidLength)
}

func (g *Gateway) sendError(connID, msg string) {
	g.send(connID, protocol.EventError, protocol.Error{Message: msg})
}

// send enqueues one event for a single connection.
func (g *Gateway) send(connID, eventType string, payload any) {
	frame, err := protocol.Encode(eventType, payload)
	if err != nil {
		g.logger.Error("encoding event", zap.String("event", eventType), zap.Error(err))
		return
	}
	g.sessions.Push([]string{connID}, frame, g.pushFailed)
}

// broadcast enqueues one event for every connection in roomID except
// excludeConnID. Callers hold the room lock so per-room order is preserved.
func (g *Gateway) broadcast(roomID, excludeConnID, eventType string, payload any) {
	frame, err := protocol.Encode(eventType, payload)
	if err != nil {
		g.logger.Error("encoding broadcast", zap.String("event", eventType), zap.Error(err))
		return
	}
	conns := g.sessions.ConnIDsInRoom(roomID)
	if excludeConnID != "" {
		filtered := conns[:0]
		for _, id := range conns {
			if id != excludeConnID {
				filtered = append(filtered, id)
			}
		}
		conns = filtered
	}
	g.sessions.Push(conns, frame, g.pushFailed)
}

func (g *Gateway) pushFailed(connID string, err error) {
	g.metrics.PushFailures.Add(1)
	g.logger.Warn("push to connection failed", zap.String("conn_id", connID), zap.Error(err))
}

// participantOf resolves the identity id of the participant a connection controls.
func (g *Gateway) participantOf(connID string) (string, error) {
	id, ok := g.sessions.Identity(connID)
	if !ok {
		return "", fmt.Errorf("connection %q not registered", connID)
	}
	return id.UserID, nil
}

// roomErr maps registry errors to client-facing rejections.
func roomErr(err error) error {
	if err == nil {
		return nil
	}
	var rej *RejectError
	if errors.As(err, &rej) {
		return err
	}
	if errors.Is(err, room.ErrRoomNotInitialized) {
		return rejectWith(msgRoomNotFound, err)
	}
	return err
}
