package connection

import (
	"sync"

	"github.com/life-stream-dev/life-stream-go-ws-broker/internal/logger"
)

// Unsubscriber removes a session from every subscription it holds.
type Unsubscriber interface {
	UnsubscribeAll(s *Session) int
}

// Observer is told about session starts and ends. Implementations must not
// block.
type Observer interface {
	SessionOpened(s *Session)
	SessionClosed(s *Session, reason error)
}

// Manager tracks live sessions and performs their teardown.
type Manager struct {
	mu        sync.RWMutex
	sessions  map[string]*Session
	registry  Unsubscriber
	observers []Observer
	closed    bool
}

func NewManager(registry Unsubscriber, observers ...Observer) *Manager {
	return &Manager{
		sessions:  make(map[string]*Session),
		registry:  registry,
		observers: observers,
	}
}

// Add starts tracking s. It fails once CloseAll has run.
func (m *Manager) Add(s *Session) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrManagerClosed
	}
	m.sessions[s.id] = s
	m.mu.Unlock()

	logger.DebugF("[%s] Session opened from %s", s.id, s.remoteAddr)
	for _, observer := range m.observers {
		observer.SessionOpened(s)
	}
	return nil
}

// Terminate closes s: it leaves every topic, stops being tracked and its
// connection is released. Anything still queued for the client is dropped.
// Only the first call for a session does anything; it reports whether this
// call was that one.
func (m *Manager) Terminate(s *Session, reason error) bool {
	return m.terminate(s, reason, false)
}

// Finish ends s like Terminate, but replies already queued are still written
// before the connection closes. The session's WriteLoop must be running.
func (m *Manager) Finish(s *Session, reason error) bool {
	return m.terminate(s, reason, true)
}

func (m *Manager) terminate(s *Session, reason error, drain bool) bool {
	if !s.markClosed() {
		return false
	}
	if drain {
		s.drain.Store(true)
	}

	removed := m.registry.UnsubscribeAll(s)

	m.mu.Lock()
	delete(m.sessions, s.id)
	m.mu.Unlock()

	s.release()

	if reason != nil {
		logger.InfoF("[%s] Session closed (client %q, %d subscriptions removed): %v", s.id, s.ClientID(), removed, reason)
	} else {
		logger.InfoF("[%s] Session closed (client %q, %d subscriptions removed)", s.id, s.ClientID(), removed)
	}
	for _, observer := range m.observers {
		observer.SessionClosed(s, reason)
	}
	return true
}

// CloseAll terminates every tracked session and refuses new ones. It returns
// the number of sessions it terminated.
func (m *Manager) CloseAll(reason error) int {
	m.mu.Lock()
	m.closed = true
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	count := 0
	for _, s := range sessions {
		if m.Terminate(s, reason) {
			count++
		}
	}
	return count
}

// FindByClientID returns a Connected session announcing clientID.
func (m *Manager) FindByClientID(clientID string) (*Session, bool) {
	if clientID == "" {
		return nil, false
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, s := range m.sessions {
		if s.Connected() && s.ClientID() == clientID {
			return s, true
		}
	}
	return nil, false
}

func (m *Manager) Sessions() []*Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	return sessions
}

func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}
