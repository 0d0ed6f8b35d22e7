package session

import (
	"sync"

	"github.com/VladislavSufyanov/go-bitswap/network"
)

// SessionManager owns every live Session, assigning each an integer
// ID it can later be looked up or forgotten by (spec.md §9's
// weak-reference stand-in).
type SessionManager struct {
	mu       sync.Mutex
	nextID   uint64
	sessions map[uint64]*Session
}

// NewManager returns an empty SessionManager.
func NewManager() *SessionManager {
	return &SessionManager{sessions: make(map[uint64]*Session)}
}

// Create starts a new Session against net/pm and registers it.
func (m *SessionManager) Create(net network.Network, pm PeerManager, cfg Config) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	id := m.nextID
	s := newSession(id, m, net, pm, cfg)
	m.sessions[id] = s
	return s
}

// Get resolves id to a live Session. ok is false once the session has
// been Closed.
func (m *SessionManager) Get(id uint64) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	return s, ok
}

// All returns every currently live session, used by ConnectionManager
// to purge a disconnected peer from each one (spec.md §4.3).
func (m *SessionManager) All() []*Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	return out
}

func (m *SessionManager) remove(id uint64) {
	m.mu.Lock()
	delete(m.sessions, id)
	m.mu.Unlock()
}
