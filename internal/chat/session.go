// Package chat serves the agent over a JSON websocket protocol.
package chat

import (
	"log/slog"
	"sort"
	"sync"

	"github.com/coder/websocket"
)

// SessionManager tracks open chat sockets per user and session.
type SessionManager struct {
	mu     sync.RWMutex
	active map[string]map[string]*websocket.Conn
}

// NewSessionManager creates an empty session manager.
func NewSessionManager() *SessionManager {
	return &SessionManager{active: make(map[string]map[string]*websocket.Conn)}
}

// Register records conn as the socket for userID/sessionID. A previous socket
// on the same session is closed after the manager is unlocked.
func (m *SessionManager) Register(userID, sessionID string, conn *websocket.Conn) {
	m.mu.Lock()
	sessions, ok := m.active[userID]
	if !ok {
		sessions = make(map[string]*websocket.Conn)
		m.active[userID] = sessions
	}
	prev := sessions[sessionID]
	sessions[sessionID] = conn
	m.mu.Unlock()

	if prev != nil && prev != conn {
		_ = prev.Close(websocket.StatusPolicyViolation, "session replaced")
		slog.Info("Chat session replaced", "user_id", userID, "session_id", sessionID)
	}
}

// Unregister forgets conn if it is still the socket for userID/sessionID.
func (m *SessionManager) Unregister(userID, sessionID string, conn *websocket.Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sessions := m.active[userID]
	if sessions == nil || sessions[sessionID] != conn {
		return
	}
	delete(sessions, sessionID)
	if len(sessions) == 0 {
		delete(m.active, userID)
	}
}

// Sessions returns the open session ids for userID, sorted.
func (m *SessionManager) Sessions(userID string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, 0, len(m.active[userID]))
	for id := range m.active[userID] {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Count returns the number of open sockets across all users.
func (m *SessionManager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, sessions := range m.active {
		n += len(sessions)
	}
	return n
}

// CloseSession closes every socket held by userID.
func (m *SessionManager) CloseSession(userID string) int {
	m.mu.Lock()
	sessions := m.active[userID]
	delete(m.active, userID)
	m.mu.Unlock()

	for sid, conn := range sessions {
		_ = conn.Close(websocket.StatusGoingAway, "agent reset")
		slog.Info("Chat session closed", "user_id", userID, "session_id", sid)
	}
	return len(sessions)
}

// CloseAll closes every socket. Used on shutdown.
func (m *SessionManager) CloseAll() {
	m.mu.Lock()
	all := m.active
	m.active = make(map[string]map[string]*websocket.Conn)
	m.mu.Unlock()

	for _, sessions := range all {
		for _, conn := range sessions {
			_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
		}
	}
}
