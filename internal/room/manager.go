// Package room tracks which live connections are subscribed to which
// documents and fans lightweight change notifications out to them.
package room

import (
	"sync"

	"github.com/splitsync/splitsync/internal/metrics"
)

// Notification is the change signal broadcast to room members. It carries no
// payload; a recipient that is behind pulls the missing operations itself.
type Notification struct {
	Type       string `json:"type"`
	DocumentID string `json:"documentId"`
	NewVersion int64  `json:"newVersion"`
	UpdatedBy  string `json:"updatedBy,omitempty"`
}

// NotificationType is the envelope tag for change notifications.
const NotificationType = "doc_changed"

// Subscriber receives notifications for rooms a connection has joined.
// Delivery is best-effort; implementations must not block.
type Subscriber interface {
	Notify(n Notification)
}

// Manager tracks room membership. It holds only (connection, document)
// pairs, never document state, and is safe for concurrent joins, leaves, and
// broadcasts from many connections. Construct one per process and pass it by
// handle; there is no package-level instance.
type Manager struct {
	mu    sync.RWMutex
	rooms map[string]map[string]Subscriber
}

// NewManager creates an empty room manager.
func NewManager() *Manager {
	return &Manager{rooms: make(map[string]map[string]Subscriber)}
}

// Join subscribes the connection to the document's room. Joining twice
// replaces the previous subscription. Authorization is the caller's job and
// must use the same participant rule as mutations.
func (m *Manager) Join(documentID, connID string, sub Subscriber) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rooms[documentID]
	if !ok {
		r = make(map[string]Subscriber)
		m.rooms[documentID] = r
	}
	r[connID] = sub
	metrics.RoomJoins.Inc()
}

// Leave removes the connection from the document's room.
func (m *Manager) Leave(documentID, connID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.rooms[documentID]; ok {
		delete(r, connID)
		if len(r) == 0 {
			delete(m.rooms, documentID)
		}
	}
}

// LeaveAll removes the connection from every room it joined. Called on
// disconnect.
func (m *Manager) LeaveAll(connID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for documentID, r := range m.rooms {
		delete(r, connID)
		if len(r) == 0 {
			delete(m.rooms, documentID)
		}
	}
}

// Broadcast delivers the notification to every subscriber in the document's
// room except excludeConnID (the originating connection, which already got a
// synchronous acknowledgement).
func (m *Manager) Broadcast(documentID string, n Notification, excludeConnID string) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for connID, sub := range m.rooms[documentID] {
		if connID == excludeConnID {
			continue
		}
		sub.Notify(n)
		metrics.BroadcastsSent.Inc()
	}
}

// RoomSize returns the number of connections in the document's room.
func (m *Manager) RoomSize(documentID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.rooms[documentID])
}
