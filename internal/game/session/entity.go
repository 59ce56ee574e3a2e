// Package session tracks connected clients, the identity behind each, the
// room each is joined to, and the outbound event queue that feeds its
// transport.
package session

import (
	"errors"
	"fmt"
	"sync"
)

// ErrBufferFull is returned by Push when the transport is not draining fast enough.
var ErrBufferFull = errors.New("event buffer full")

// BridgeEntity routes pushed frames to a Go channel, bridging the room core
// to a transport write loop.
type BridgeEntity struct {
	connID string
	events chan []byte
	mu     sync.Mutex
	closed bool
}

// NewBridgeEntity creates a BridgeEntity for the given connection.
//
// Precondition: connID must be non-empty.
// Postcondition: Returns a BridgeEntity with an open events channel.
func NewBridgeEntity(connID string, bufferSize int) *BridgeEntity {
	if bufferSize <= 0 {
		bufferSize = 64
	}
	return &BridgeEntity{
		connID: connID,
		events: make(chan []byte, bufferSize),
	}
}

// ConnID returns the owning connection id.
func (e *BridgeEntity) ConnID() string {
	return e.connID
}

// Push enqueues a frame without blocking.
//
// Precondition: data must be a non-nil byte slice.
// Postcondition: Data is enqueued, or an error is returned if the entity is
// closed or its buffer is full.
func (e *BridgeEntity) Push(data []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return fmt.Errorf("connection %s is closed", e.connID)
	}
	select {
	case e.events <- data:
		return nil
	default:
		return fmt.Errorf("connection %s: %w", e.connID, ErrBufferFull)
	}
}

// Events returns the read-only events channel drained by the write loop.
func (e *BridgeEntity) Events() <-chan []byte {
	return e.events
}

// Close marks the entity as closed and closes the events channel.
//
// Postcondition: The events channel is closed. Further Push calls return an error.
func (e *BridgeEntity) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.closed {
		e.closed = true
		close(e.events)
	}
	return nil
}

// IsClosed reports whether the entity has been closed.
func (e *BridgeEntity) IsClosed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}
