package token_test

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jrsteele09/go-identity-server/oauth2"
	"github.com/jrsteele09/go-identity-server/token"
	"github.com/jrsteele09/go-identity-server/token/refresh"
	refreshrepofake "github.com/jrsteele09/go-identity-server/token/refresh/repofake"
	"github.com/jrsteele09/go-identity-server/users"
	fakeuserrepo "github.com/jrsteele09/go-identity-server/users/repofake"
	"github.com/stretchr/testify/require"
)

type managerFixture struct {
	manager     *token.Manager
	signer      token.Signer
	refreshRepo *refreshrepofake.FakeRefreshTokenRepo
	now         time.Time
}

func newManagerFixture(t *testing.T, options ...token.ManagerOption) *managerFixture {
	t.Helper()

	now := time.Date(2025, 3, 14, 10, 0, 0, 0, time.UTC)
	signer := token.NewHMACSigner("test-secret")
	userRepo := fakeuserrepo.NewFakeUserRepo()
	refreshRepo := refreshrepofake.NewFakeRefreshTokenRepo()

	user := &users.User{
		ID:        "user-1",
		Email:     "ada@example.com",
		FirstName: "Ada",
		LastName:  "Lovelace",
		Verified:  true,
	}
	require.NoError(t, userRepo.Upsert(context.Background(), user))

	refreshManager := refresh.NewManager(refreshRepo, refresh.WithNowFunc(func() time.Time { return now }))

	opts := append([]token.ManagerOption{
		token.WithIssuer("https://issuer.example.com"),
		token.WithNowFunc(func() time.Time { return now }),
	}, options...)

	return &managerFixture{
		manager:     token.New(refreshManager, userRepo, signer, opts...),
		signer:      signer,
		refreshRepo: refreshRepo,
		now:         now,
	}
}

func (f *managerFixture) parseClaims(t *testing.T, rawToken string) jwt.MapClaims {
	t.Helper()
	parsed, err := jwt.NewParser(jwt.WithoutClaimsValidation()).Parse(rawToken, f.signer.GetVerificationKey)
	require.NoError(t, err)
	claims, ok := parsed.Claims.(jwt.MapClaims)
	require.True(t, ok)
	return claims
}

func TestGenerateTokenResponseForUserGrant(t *testing.T) {
	f := newManagerFixture(t)

	response, err := f.manager.GenerateTokenResponse(context.Background(), token.Grant{
		ClientID:          "web-client",
		SubjectID:         "user-1",
		SessionID:         "session-1",
		Scopes:            []string{"openid", "orders.read"},
		Audiences:         []string{"orders-api"},
		Nonce:             "n-123",
		IssueIDToken:      true,
		IssueRefreshToken: true,
	})
	require.NoError(t, err)
	require.NotNil(t, response.AccessToken)
	require.NotNil(t, response.IdToken)
	require.NotNil(t, response.RefreshToken)
	require.Equal(t, oauth2.TokenTypeBearer, response.TokenType)
	require.Equal(t, "openid orders.read", response.Scope)

	claims := f.parseClaims(t, *response.AccessToken)
	require.Equal(t, "user-1", claims["sub"])
	require.Equal(t, "web-client", claims["client_id"])
	require.Equal(t, "orders-api", claims["aud"])
	require.Equal(t, "openid orders.read", claims["scope"])
	require.NotContains(t, claims, "cnf")

	idClaims := f.parseClaims(t, *response.IdToken)
	require.Equal(t, "user-1", idClaims["sub"])
	require.Equal(t, "web-client", idClaims["aud"])
	require.Equal(t, "n-123", idClaims["nonce"])
	require.Equal(t, "session-1", idClaims["sid"])
	require.Equal(t, "Ada Lovelace", idClaims["name"])

	stored, err := f.refreshRepo.Get(context.Background(), *response.RefreshToken)
	require.NoError(t, err)
	require.Equal(t, "user-1", stored.SubjectID)
	require.Equal(t, []string{"openid", "orders.read"}, stored.Scopes)
}

func TestCreateAccessTokenWithDPoPBinding(t *testing.T) {
	f := newManagerFixture(t)

	accessToken, err := f.manager.CreateAccessToken(token.Grant{
		ClientID:     "mobile-client",
		Scopes:       []string{"orders.read"},
		Audiences:    []string{"orders-api", "billing-api"},
		Confirmation: "thumbprint-abc",
		TokenType:    oauth2.TokenTypeDPoP,
	})
	require.NoError(t, err)

	claims := f.parseClaims(t, *accessToken)
	require.Equal(t, "mobile-client", claims["sub"])
	require.ElementsMatch(t, []any{"orders-api", "billing-api"}, claims["aud"])

	cnf, ok := claims["cnf"].(map[string]any)
	require.True(t, ok)
	require.Equal(t, "thumbprint-abc", cnf["jkt"])
}

func TestIntrospectionReportsRevokedTokensInactive(t *testing.T) {
	f := newManagerFixture(t)

	accessToken, err := f.manager.CreateAccessToken(token.Grant{
		ClientID: "web-client",
		Scopes:   []string{"orders.read"},
	})
	require.NoError(t, err)

	introspection, err := f.manager.Introspection(*accessToken)
	require.NoError(t, err)
	require.True(t, introspection.Active)
	require.Equal(t, "orders.read", *introspection.Scope)
	require.Equal(t, "web-client", *introspection.ClientID)

	require.NoError(t, f.manager.RevokeAccessToken(*accessToken))

	introspection, err = f.manager.Introspection(*accessToken)
	require.NoError(t, err)
	require.False(t, introspection.Active)
}

func TestIntrospectionOfGarbageTokenIsInactive(t *testing.T) {
	f := newManagerFixture(t)

	introspection, _ := f.manager.Introspection("not-a-jwt")
	require.False(t, introspection.Active)

	introspection, err := f.manager.Introspection("   ")
	require.NoError(t, err)
	require.False(t, introspection.Active)
}
