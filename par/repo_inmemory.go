package par

import (
	"context"
	"sync"
)

// InMemoryRepo is a thread-safe in-memory implementation of the Repo interface
type InMemoryRepo struct {
	mu       sync.Mutex
	requests map[string]*StoredRequest
}

func NewInMemoryRepo() *InMemoryRepo {
	return &InMemoryRepo{requests: make(map[string]*StoredRequest)}
}

func (r *InMemoryRepo) Store(_ context.Context, request *StoredRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := *request
	r.requests[request.RequestURI] = &copied
	return nil
}

func (r *InMemoryRepo) Get(_ context.Context, requestURI string) (*StoredRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	request, exists := r.requests[requestURI]
	if !exists {
		return nil, ErrNotFound
	}
	copied := *request
	return &copied, nil
}

// Consume flips the consumed flag under the lock; the returned snapshot is
// the pre-update state so callers can tell who got there first.
func (r *InMemoryRepo) Consume(_ context.Context, requestURI string) (*StoredRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	request, exists := r.requests[requestURI]
	if !exists {
		return nil, ErrNotFound
	}
	before := *request
	request.Consumed = true
	return &before, nil
}

func (r *InMemoryRepo) Remove(_ context.Context, requestURI string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.requests, requestURI)
	return nil
}
