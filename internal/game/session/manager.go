package session

import (
	"fmt"
	"sort"
	"sync"

	"github.com/cory-johannsen/plaza/internal/identity"
)

// Session is one connected client. Fields other than ConnID and Entity are
// read and written through the Manager.
type Session struct {
	// ConnID uniquely identifies the connection.
	ConnID string
	// Entity receives outbound frames for the connection.
	Entity *BridgeEntity

	identity identity.Identity
	roomID   string
}

// Manager tracks all active sessions and room subscriptions.
// All methods are safe for concurrent use.
type Manager struct {
	mu         sync.RWMutex
	sessions   map[string]*Session        // connID → session
	roomSets   map[string]map[string]bool // roomID → set of connIDs
	bufferSize int
}

// NewManager creates an empty session Manager whose entities buffer
// bufferSize frames.
func NewManager(bufferSize int) *Manager {
	return &Manager{
		sessions:   make(map[string]*Session),
		roomSets:   make(map[string]map[string]bool),
		bufferSize: bufferSize,
	}
}

// Add registers a new connection with no room.
//
// Precondition: connID must be non-empty.
// Postcondition: Returns the created Session, or an error if connID is already registered.
func (m *Manager) Add(connID string, id identity.Identity) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.sessions[connID]; exists {
		return nil, fmt.Errorf("connection %q already registered", connID)
	}
	sess := &Session{
		ConnID:   connID,
		Entity:   NewBridgeEntity(connID, m.bufferSize),
		identity: id,
	}
	m.sessions[connID] = sess
	return sess, nil
}

// Remove drops a connection, unsubscribes it, and closes its entity.
//
// Postcondition: Returns the removed session, or an error if not found.
func (m *Manager) Remove(connID string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, exists := m.sessions[connID]
	if !exists {
		return nil, fmt.Errorf("connection %q not found", connID)
	}
	m.unsubscribeLocked(sess)
	_ = sess.Entity.Close()
	delete(m.sessions, connID)
	return sess, nil
}

// Get returns the session for connID.
//
// Postcondition: Returns (session, true) if found, or (nil, false) otherwise.
func (m *Manager) Get(connID string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sess, ok := m.sessions[connID]
	return sess, ok
}

// Identity returns the identity bound to connID.
func (m *Manager) Identity(connID string) (identity.Identity, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sess, ok := m.sessions[connID]
	if !ok {
		return identity.Identity{}, false
	}
	return sess.identity, true
}

// SetIdentity replaces the identity bound to connID.
//
// Postcondition: Returns an error if connID is not registered.
func (m *Manager) SetIdentity(connID string, id identity.Identity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[connID]
	if !ok {
		return fmt.Errorf("connection %q not found", connID)
	}
	sess.identity = id
	return nil
}

// RoomOf returns the room connID is joined to, or "" if none.
func (m *Manager) RoomOf(connID string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if sess, ok := m.sessions[connID]; ok {
		return sess.roomID
	}
	return ""
}

// Subscribe moves connID into roomID's subscriber set, leaving any previous
// room. An empty roomID leaves without joining.
//
// Postcondition: Returns the previous room id ("" if none), or an error if
// connID is not registered.
func (m *Manager) Subscribe(connID, roomID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, exists := m.sessions[connID]
	if !exists {
		return "", fmt.Errorf("connection %q not found", connID)
	}
	old := sess.roomID
	m.unsubscribeLocked(sess)
	if roomID != "" {
		sess.roomID = roomID
		if m.roomSets[roomID] == nil {
			m.roomSets[roomID] = make(map[string]bool)
		}
		m.roomSets[roomID][connID] = true
	}
	return old, nil
}

// Unsubscribe clears connID's room.
//
// Postcondition: Returns the previous room id ("" if none).
func (m *Manager) Unsubscribe(connID string) string {
	old, _ := m.Subscribe(connID, "")
	return old
}

func (m *Manager) unsubscribeLocked(sess *Session) {
	if sess.roomID == "" {
		return
	}
	if rs, ok := m.roomSets[sess.roomID]; ok {
		delete(rs, sess.ConnID)
		if len(rs) == 0 {
			delete(m.roomSets, sess.roomID)
		}
	}
	sess.roomID = ""
}

// ConnIDsInRoom returns the sorted ids of connections subscribed to roomID.
//
// Postcondition: Returns a slice of connection ids (may be empty).
func (m *Manager) ConnIDsInRoom(roomID string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	conns, ok := m.roomSets[roomID]
	if !ok {
		return nil
	}
	result := make([]string, 0, len(conns))
	for id := range conns {
		result = append(result, id)
	}
	sort.Strings(result)
	return result
}

// Push enqueues data on every listed connection that is still registered.
// Delivery failures are reported per connection through onErr, which may be nil.
func (m *Manager) Push(connIDs []string, data []byte, onErr func(connID string, err error)) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, id := range connIDs {
		sess, ok := m.sessions[id]
		if !ok {
			continue
		}
		if err := sess.Entity.Push(data); err != nil && onErr != nil {
			onErr(id, err)
		}
	}
}

// Count returns the number of connected sessions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}
