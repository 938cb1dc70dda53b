package mcp

import "sync"

// SessionRegistry maps agent IDs to MCP session IDs. Entries are captured
// when an agent calls flow.watch.
type SessionRegistry struct {
	mu       sync.RWMutex
	sessions map[string]string // agentID → sessionID
}

// NewSessionRegistry creates an empty SessionRegistry.
func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{sessions: make(map[string]string)}
}

// Register associates an agent ID with a session ID, replacing any earlier
// session of that agent.
func (r *SessionRegistry) Register(agentID, sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[agentID] = sessionID
}

// SessionFor returns the session ID for the given agent, if connected.
func (r *SessionRegistry) SessionFor(agentID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sid, ok := r.sessions[agentID]
	return sid, ok
}

// Remove drops every agent bound to sessionID and returns how many were
// bound.
func (r *SessionRegistry) Remove(sessionID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for aid, sid := range r.sessions {
		if sid == sessionID {
			delete(r.sessions, aid)
			n++
		}
	}
	return n
}

// Len returns the number of registered agents.
func (r *SessionRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
