package fivegame

import "sync"

// Session ties an authenticated connection to a user plus a cached advisory
// balance. The ledger stays authoritative; the cache only feeds client UIs.
type Session struct {
	ConnID  string
	UserID  string
	Balance int64
}

// SessionRegistry tracks authenticated connections. Methods return value
// copies so callers never share the registry's internal state.
type SessionRegistry struct {
	sync.RWMutex
	sessions map[string]*Session
}

func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{
		sessions: make(map[string]*Session),
	}
}

// Bind registers (or replaces) the session for a connection.
func (sr *SessionRegistry) Bind(connID, userID string, balance int64) Session {
	sr.Lock()
	defer sr.Unlock()
	sess := &Session{
		ConnID:  connID,
		UserID:  userID,
		Balance: balance,
	}
	sr.sessions[connID] = sess
	return *sess
}

// Get returns the session bound to a connection, if any.
func (sr *SessionRegistry) Get(connID string) (Session, bool) {
	sr.RLock()
	defer sr.RUnlock()
	sess, ok := sr.sessions[connID]
	if !ok {
		return Session{}, false
	}
	return *sess, true
}

// ByUser returns every live session for a user. A user connected twice gets
// two sessions with independent wager sets.
func (sr *SessionRegistry) ByUser(userID string) []Session {
	sr.RLock()
	defer sr.RUnlock()
	var out []Session
	for _, sess := range sr.sessions {
		if sess.UserID == userID {
			out = append(out, *sess)
		}
	}
	return out
}

// SetBalance refreshes the cached advisory balance for a connection.
func (sr *SessionRegistry) SetBalance(connID string, balance int64) {
	sr.Lock()
	defer sr.Unlock()
	if sess, ok := sr.sessions[connID]; ok {
		sess.Balance = balance
	}
}

// Remove drops the session for a disconnected connection.
func (sr *SessionRegistry) Remove(connID string) {
	sr.Lock()
	defer sr.Unlock()
	delete(sr.sessions, connID)
}

// Count returns the number of authenticated connections.
func (sr *SessionRegistry) Count() int {
	sr.RLock()
	defer sr.RUnlock()
	return len(sr.sessions)
}
