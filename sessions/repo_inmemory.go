package sessions

import (
	"context"
	"sync"
)

var _ Repo = (*InMemoryRepo)(nil)

// InMemoryRepo is a thread-safe in-memory session store.
type InMemoryRepo struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewInMemoryRepo() *InMemoryRepo {
	return &InMemoryRepo{sessions: make(map[string]*Session)}
}

func (r *InMemoryRepo) Upsert(_ context.Context, session *Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := *session
	r.sessions[session.ID] = &copied
	return nil
}

func (r *InMemoryRepo) Get(_ context.Context, sessionID string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	session, ok := r.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *session
	return &copied, nil
}

func (r *InMemoryRepo) Delete(_ context.Context, sessionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, sessionID)
	return nil
}
