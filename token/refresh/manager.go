package refresh

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"time"

	"github.com/pkg/errors"
)

const (
	defaultTokenLength = 32 // bytes of entropy, hex encoded on the wire
	defaultExpiry      = 30 * 24 * time.Hour
)

// Manager handles refresh token creation, lookup, and rotation
type Manager struct {
	repo        Repo
	tokenLength int
	expiry      time.Duration
	nowFunc     func() time.Time
}

type ManagerOption func(*Manager)

// WithTokenLength sets the number of random bytes per token
func WithTokenLength(n int) ManagerOption {
	return func(m *Manager) {
		if n > 0 {
			m.tokenLength = n
		}
	}
}

// WithExpiry sets the refresh token lifetime
func WithExpiry(d time.Duration) ManagerOption {
	return func(m *Manager) {
		if d > 0 {
			m.expiry = d
		}
	}
}

func WithNowFunc(now func() time.Time) ManagerOption {
	return func(m *Manager) {
		m.nowFunc = now
	}
}

// NewManager creates a new refresh token manager
func NewManager(repo Repo, options ...ManagerOption) *Manager {
	m := &Manager{
		repo:        repo,
		tokenLength: defaultTokenLength,
		expiry:      defaultExpiry,
		nowFunc:     time.Now,
	}
	for _, opt := range options {
		opt(m)
	}
	return m
}

// Create generates a new refresh token bound to the given client, subject and
// grant, and stores it
func (m *Manager) Create(ctx context.Context, clientID, subjectID, sessionID string, scopes, resources []string) (*string, error) {
	tokenBytes := make([]byte, m.tokenLength)
	if _, err := rand.Read(tokenBytes); err != nil {
		return nil, errors.Wrap(err, "[Manager.Create] rand.Read")
	}

	now := m.nowFunc()
	tokenStr := hex.EncodeToString(tokenBytes)
	if err := m.repo.Upsert(ctx, &StoredRefreshToken{
		Token:     tokenStr,
		SubjectID: subjectID,
		SessionID: sessionID,
		ClientID:  clientID,
		Scopes:    append([]string(nil), scopes...),
		Resources: append([]string(nil), resources...),
		Iat:       now,
		ExpiresAt: now.Add(m.expiry),
	}); err != nil {
		return nil, errors.Wrap(err, "[Manager.Create] Upsert")
	}

	return &tokenStr, nil
}

// Consume atomically removes the token from storage and returns its metadata.
// Expired tokens are treated as absent.
func (m *Manager) Consume(ctx context.Context, token string) (*StoredRefreshToken, error) {
	rt, err := m.repo.Consume(ctx, token)
	if err != nil {
		return nil, err
	}
	if m.nowFunc().After(rt.ExpiresAt) {
		return nil, ErrNotFound
	}
	return rt, nil
}

// Rotate consumes the old token and issues a replacement carrying the same
// binding. The granted scopes and resources are copied unchanged.
func (m *Manager) Rotate(ctx context.Context, old *StoredRefreshToken) (*string, error) {
	return m.Create(ctx, old.ClientID, old.SubjectID, old.SessionID, old.Scopes, old.Resources)
}

// Delete removes a refresh token from storage
func (m *Manager) Delete(ctx context.Context, token string) error {
	return m.repo.Delete(ctx, token)
}

// RevokeSubject removes all refresh tokens issued to the given subject
func (m *Manager) RevokeSubject(ctx context.Context, subjectID string) error {
	return m.repo.DeleteBySubject(ctx, subjectID)
}
