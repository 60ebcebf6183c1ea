package session

import (
	"errors"
	"sort"
	"sync"

	"voice-risk-service/internal/models"
)

var (
	ErrDuplicateSession = errors.New("session already registered")
	ErrSessionNotFound  = errors.New("session not found")
)

// Info is a read-only summary of a registered session.
type Info struct {
	ID       string           `json:"sessionId"`
	TenantID string           `json:"tenantId,omitempty"`
	Locale   models.Locale    `json:"locale"`
	State    string           `json:"state"`
	Degraded bool             `json:"degraded"`
	Risk     models.RiskState `json:"risk"`
}

// Registry tracks live sessions by ID. Thread-safe.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// Add registers s.
func (r *Registry) Add(s *Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[s.ID()]; ok {
		return ErrDuplicateSession
	}
	r.sessions[s.ID()] = s
	return nil
}

// Get returns the session with id.
func (r *Registry) Get(id string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// Remove unregisters id if it still maps to s.
func (r *Registry) Remove(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.sessions[s.ID()]; ok && cur == s {
		delete(r.sessions, s.ID())
	}
}

// Len returns the number of registered sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// List returns a summary of every session sorted by ID.
func (r *Registry) List() []Info {
	r.mu.RLock()
	infos := make([]Info, 0, len(r.sessions))
	for _, s := range r.sessions {
		infos = append(infos, s.Info())
	}
	r.mu.RUnlock()

	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
	return infos
}

// StopAll stops every registered session and empties the registry.
func (r *Registry) StopAll() {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for id, s := range r.sessions {
		sessions = append(sessions, s)
		delete(r.sessions, id)
	}
	r.mu.Unlock()

	for _, s := range sessions {
		s.Stop()
	}
}

// Info returns a summary of the session.
func (s *Session) Info() Info {
	snap := s.Snapshot()
	return Info{
		ID:       s.cfg.ID,
		TenantID: s.cfg.TenantID,
		Locale:   s.cfg.Locale,
		State:    s.State().String(),
		Degraded: s.Degraded(),
		Risk:     snap.Risk,
	}
}
