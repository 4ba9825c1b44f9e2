package grants

import (
	"context"
	"sync"
	"time"
)

// InMemoryCodeRepo is a thread-safe in-memory implementation of CodeRepo
type InMemoryCodeRepo struct {
	mu    sync.Mutex
	codes map[string]*Code
}

func NewInMemoryCodeRepo() *InMemoryCodeRepo {
	return &InMemoryCodeRepo{codes: make(map[string]*Code)}
}

func (r *InMemoryCodeRepo) Upsert(_ context.Context, code *Code) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.codes[code.Code] = code
	return nil
}

// Consume removes the code under the lock so concurrent redemptions cannot
// both observe it.
func (r *InMemoryCodeRepo) Consume(_ context.Context, code string) (*Code, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	record, exists := r.codes[code]
	if !exists {
		return nil, ErrNotFound
	}
	delete(r.codes, code)
	return record, nil
}

// InMemoryDeviceCodeRepo is a thread-safe in-memory implementation of DeviceCodeRepo
type InMemoryDeviceCodeRepo struct {
	mu       sync.Mutex
	byDevice map[string]*DeviceCode
	byUser   map[string]string // user code to device code
}

func NewInMemoryDeviceCodeRepo() *InMemoryDeviceCodeRepo {
	return &InMemoryDeviceCodeRepo{
		byDevice: make(map[string]*DeviceCode),
		byUser:   make(map[string]string),
	}
}

func (r *InMemoryDeviceCodeRepo) Upsert(_ context.Context, record *DeviceCode) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byDevice[record.DeviceCode] = record
	r.byUser[record.UserCode] = record.DeviceCode
	return nil
}

func (r *InMemoryDeviceCodeRepo) GetByDeviceCode(_ context.Context, deviceCode string) (*DeviceCode, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	record, exists := r.byDevice[deviceCode]
	if !exists {
		return nil, ErrNotFound
	}
	copied := *record
	return &copied, nil
}

func (r *InMemoryDeviceCodeRepo) GetByUserCode(_ context.Context, userCode string) (*DeviceCode, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	deviceCode, exists := r.byUser[userCode]
	if !exists {
		return nil, ErrNotFound
	}
	record, exists := r.byDevice[deviceCode]
	if !exists {
		return nil, ErrNotFound
	}
	copied := *record
	return &copied, nil
}

// TouchLastPolled mutates the stored record under the lock; a concurrent
// approval between a poll's read and its throttle update survives.
func (r *InMemoryDeviceCodeRepo) TouchLastPolled(_ context.Context, deviceCode string, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	record, exists := r.byDevice[deviceCode]
	if !exists {
		return ErrNotFound
	}
	record.LastPolledAt = now
	return nil
}

func (r *InMemoryDeviceCodeRepo) Consume(_ context.Context, deviceCode string) (*DeviceCode, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	record, exists := r.byDevice[deviceCode]
	if !exists {
		return nil, ErrNotFound
	}
	delete(r.byDevice, deviceCode)
	delete(r.byUser, record.UserCode)
	return record, nil
}

// InMemoryBackchannelRepo is a thread-safe in-memory implementation of BackchannelRepo
type InMemoryBackchannelRepo struct {
	mu       sync.Mutex
	requests map[string]*BackchannelRequest
}

func NewInMemoryBackchannelRepo() *InMemoryBackchannelRepo {
	return &InMemoryBackchannelRepo{requests: make(map[string]*BackchannelRequest)}
}

func (r *InMemoryBackchannelRepo) Upsert(_ context.Context, record *BackchannelRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requests[record.AuthReqID] = record
	return nil
}

func (r *InMemoryBackchannelRepo) Get(_ context.Context, authReqID string) (*BackchannelRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	record, exists := r.requests[authReqID]
	if !exists {
		return nil, ErrNotFound
	}
	copied := *record
	return &copied, nil
}

func (r *InMemoryBackchannelRepo) TouchLastPolled(_ context.Context, authReqID string, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	record, exists := r.requests[authReqID]
	if !exists {
		return ErrNotFound
	}
	record.LastPolledAt = now
	return nil
}

func (r *InMemoryBackchannelRepo) Consume(_ context.Context, authReqID string) (*BackchannelRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	record, exists := r.requests[authReqID]
	if !exists {
		return nil, ErrNotFound
	}
	delete(r.requests, authReqID)
	return record, nil
}
