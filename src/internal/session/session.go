// FILE: src/internal/session/session.go
package session

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"sync"
	"time"

	"saslwisp/src/internal/auth"
)

// Source types
const (
	SourceTCP  = "tcp"
	SourceHTTP = "http"
)

// Session tracks one client from its first AUTH until it disconnects or expires.
type Session struct {
	ID           string    // Unique session identifier
	RemoteAddr   string    // Client address
	Source       string    // Transport: "tcp" or "http"
	CreatedAt    time.Time // Session creation time
	LastActivity time.Time // Last activity timestamp

	// Set while an exchange is in progress
	Exchange *auth.Exchange

	// Set once authenticated
	Identity *auth.Identity
}

// Authenticated reports whether the exchange finished successfully.
func (s *Session) Authenticated() bool {
	return s.Identity != nil
}

// Manager handles the lifecycle of sessions. Pending sessions expire at
// their exchange deadline, authenticated ones after maxIdleTime.
type Manager struct {
	sessions map[string]*Session
	mu       sync.RWMutex

	maxIdleTime   time.Duration
	cleanupTicker *time.Ticker
	done          chan struct{}
	stopOnce      sync.Once
	now           func() time.Time

	// Expiry callbacks by source type
	expiryCallbacks map[string]func(sessionID, remoteAddr string)
	callbacksMu     sync.RWMutex
}

// NewManager creates a new session manager with a specified idle timeout.
func NewManager(maxIdleTime time.Duration) *Manager {
	if maxIdleTime == 0 {
		maxIdleTime = 30 * time.Minute
	}

	m := &Manager{
		sessions:    make(map[string]*Session),
		maxIdleTime: maxIdleTime,
		done:        make(chan struct{}),
		now:         time.Now,
	}
	m.startCleanup(time.Minute)
	return m
}

// Begin stores a pending session around a running exchange.
func (m *Manager) Begin(remoteAddr, source string, ex *auth.Exchange) *Session {
	now := m.now()
	s := &Session{
		ID:           generateSessionID(),
		RemoteAddr:   remoteAddr,
		Source:       source,
		CreatedAt:    now,
		LastActivity: now,
		Exchange:     ex,
	}

	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()
	return s
}

// Register stores an already authenticated session, e.g. a TCP connection
// that finished its exchange on the connection itself.
func (m *Manager) Register(remoteAddr, source string, identity *auth.Identity) *Session {
	now := m.now()
	s := &Session{
		ID:           generateSessionID(),
		RemoteAddr:   remoteAddr,
		Source:       source,
		CreatedAt:    now,
		LastActivity: now,
		Identity:     identity,
	}

	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()
	return s
}

// Take removes the pending session for id and hands it to the caller, who
// owns its exchange until Park or Complete. Expired sessions are closed and
// reported as absent.
func (m *Manager) Take(id string) (*Session, bool) {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if !ok || s.Exchange == nil {
		m.mu.Unlock()
		return nil, false
	}
	delete(m.sessions, id)
	expired := m.expired(s, m.now())
	m.mu.Unlock()

	if expired {
		s.Exchange.Close()
		return nil, false
	}
	return s, true
}

// Park returns a taken session whose exchange needs more steps.
func (m *Manager) Park(s *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s.LastActivity = m.now()
	m.sessions[s.ID] = s
}

// Complete stores s as authenticated.
func (m *Manager) Complete(s *Session, identity *auth.Identity) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s.Exchange = nil
	s.Identity = identity
	s.LastActivity = m.now()
	m.sessions[s.ID] = s
}

// Touch refreshes the idle timer of an authenticated session.
func (m *Manager) Touch(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok || !s.Authenticated() {
		return false
	}
	if m.expired(s, m.now()) {
		delete(m.sessions, id)
		return false
	}
	s.LastActivity = m.now()
	return true
}

// GetSession retrieves a session by its unique ID.
func (m *Manager) GetSession(sessionID string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[sessionID]
	return s, ok
}

// RemoveSession removes a session and closes its exchange, if any.
func (m *Manager) RemoveSession(sessionID string) {
	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	delete(m.sessions, sessionID)
	m.mu.Unlock()

	if ok && s.Exchange != nil {
		s.Exchange.Close()
	}
}

// GetSessionCount returns the number of tracked sessions.
func (m *Manager) GetSessionCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// GetSessionsBySource returns all sessions of a transport.
func (m *Manager) GetSessionsBySource(source string) []*Session {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var sessions []*Session
	for _, s := range m.sessions {
		if s.Source == source {
			sessions = append(sessions, s)
		}
	}
	return sessions
}

// GetStats returns statistics about the session manager.
func (m *Manager) GetStats() map[string]any {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sourceCounts := make(map[string]int)
	var pending, authenticated int
	for _, s := range m.sessions {
		sourceCounts[s.Source]++
		if s.Authenticated() {
			authenticated++
		} else {
			pending++
		}
	}

	return map[string]any{
		"total_sessions":   len(m.sessions),
		"pending":          pending,
		"authenticated":    authenticated,
		"sessions_by_type": sourceCounts,
		"max_idle_time":    m.maxIdleTime.String(),
	}
}

// Stop stops the cleanup goroutine and closes all pending exchanges.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() {
		close(m.done)
		m.cleanupTicker.Stop()

		m.mu.Lock()
		for id, s := range m.sessions {
			if s.Exchange != nil {
				s.Exchange.Close()
			}
			delete(m.sessions, id)
		}
		m.mu.Unlock()
	})
}

// RegisterExpiryCallback registers a function run when a session of source expires.
func (m *Manager) RegisterExpiryCallback(source string, callback func(sessionID, remoteAddr string)) {
	m.callbacksMu.Lock()
	defer m.callbacksMu.Unlock()

	if m.expiryCallbacks == nil {
		m.expiryCallbacks = make(map[string]func(sessionID, remoteAddr string))
	}
	m.expiryCallbacks[source] = callback
}

// UnregisterExpiryCallback removes an expiry callback for a given source type.
func (m *Manager) UnregisterExpiryCallback(source string) {
	m.callbacksMu.Lock()
	defer m.callbacksMu.Unlock()
	delete(m.expiryCallbacks, source)
}

func (m *Manager) expired(s *Session, now time.Time) bool {
	if s.Exchange != nil {
		return now.After(s.Exchange.Deadline())
	}
	return now.Sub(s.LastActivity) > m.maxIdleTime
}

func (m *Manager) startCleanup(interval time.Duration) {
	m.cleanupTicker = time.NewTicker(interval)

	go func() {
		for {
			select {
			case <-m.cleanupTicker.C:
				m.cleanupExpiredSessions()
			case <-m.done:
				return
			}
		}
	}()
}

// cleanupExpiredSessions removes expired sessions and notifies their owners.
func (m *Manager) cleanupExpiredSessions() {
	now := m.now()

	m.mu.Lock()
	var expiredSessions []*Session
	for id, s := range m.sessions {
		if m.expired(s, now) {
			expiredSessions = append(expiredSessions, s)
			delete(m.sessions, id)
		}
	}
	m.mu.Unlock()

	if len(expiredSessions) == 0 {
		return
	}

	// Callbacks run outside of the session lock
	m.callbacksMu.RLock()
	defer m.callbacksMu.RUnlock()

	for _, s := range expiredSessions {
		if s.Exchange != nil {
			s.Exchange.Close()
		}
		if callback, ok := m.expiryCallbacks[s.Source]; ok {
			go callback(s.ID, s.RemoteAddr)
		}
	}
}

// generateSessionID creates a unique, random session identifier.
func generateSessionID() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("session_%d", time.Now().UnixNano())
	}
	return base64.RawURLEncoding.EncodeToString(b)
}
