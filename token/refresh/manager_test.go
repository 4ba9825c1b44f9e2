package refresh_test

import (
	"context"
	"testing"
	"time"

	"github.com/jrsteele09/go-identity-server/token/refresh"
	refreshrepofake "github.com/jrsteele09/go-identity-server/token/refresh/repofake"
	"github.com/stretchr/testify/require"
)

func TestCreateAndConsume(t *testing.T) {
	now := time.Date(2025, 3, 14, 10, 0, 0, 0, time.UTC)
	manager := refresh.NewManager(refreshrepofake.NewFakeRefreshTokenRepo(),
		refresh.WithNowFunc(func() time.Time { return now }))

	tokenStr, err := manager.Create(context.Background(), "web-client", "user-1", "session-1",
		[]string{"openid", "orders.read"}, []string{"orders-api"})
	require.NoError(t, err)
	require.NotNil(t, tokenStr)
	require.Len(t, *tokenStr, 64) // 32 random bytes, hex encoded

	stored, err := manager.Consume(context.Background(), *tokenStr)
	require.NoError(t, err)
	require.Equal(t, "web-client", stored.ClientID)
	require.Equal(t, "user-1", stored.SubjectID)
	require.Equal(t, []string{"openid", "orders.read"}, stored.Scopes)
	require.Equal(t, []string{"orders-api"}, stored.Resources)

	// Consumption is single use
	_, err = manager.Consume(context.Background(), *tokenStr)
	require.ErrorIs(t, err, refresh.ErrNotFound)
}

func TestConsumeExpiredToken(t *testing.T) {
	now := time.Date(2025, 3, 14, 10, 0, 0, 0, time.UTC)
	manager := refresh.NewManager(refreshrepofake.NewFakeRefreshTokenRepo(),
		refresh.WithExpiry(time.Hour),
		refresh.WithNowFunc(func() time.Time { return now }))

	tokenStr, err := manager.Create(context.Background(), "web-client", "user-1", "", nil, nil)
	require.NoError(t, err)

	now = now.Add(2 * time.Hour)

	_, err = manager.Consume(context.Background(), *tokenStr)
	require.ErrorIs(t, err, refresh.ErrNotFound)
}

func TestRotateCarriesOriginalGrant(t *testing.T) {
	manager := refresh.NewManager(refreshrepofake.NewFakeRefreshTokenRepo())

	tokenStr, err := manager.Create(context.Background(), "web-client", "user-1", "session-1",
		[]string{"openid"}, []string{"orders-api"})
	require.NoError(t, err)

	old, err := manager.Consume(context.Background(), *tokenStr)
	require.NoError(t, err)

	rotated, err := manager.Rotate(context.Background(), old)
	require.NoError(t, err)
	require.NotEqual(t, *tokenStr, *rotated)

	replacement, err := manager.Consume(context.Background(), *rotated)
	require.NoError(t, err)
	require.Equal(t, old.Scopes, replacement.Scopes)
	require.Equal(t, old.Resources, replacement.Resources)
	require.Equal(t, old.SessionID, replacement.SessionID)
}

func TestRevokeSubject(t *testing.T) {
	manager := refresh.NewManager(refreshrepofake.NewFakeRefreshTokenRepo())

	first, err := manager.Create(context.Background(), "web-client", "user-1", "", nil, nil)
	require.NoError(t, err)
	second, err := manager.Create(context.Background(), "mobile-client", "user-1", "", nil, nil)
	require.NoError(t, err)

	require.NoError(t, manager.RevokeSubject(context.Background(), "user-1"))

	_, err = manager.Consume(context.Background(), *first)
	require.ErrorIs(t, err, refresh.ErrNotFound)
	_, err = manager.Consume(context.Background(), *second)
	require.ErrorIs(t, err, refresh.ErrNotFound)
}
