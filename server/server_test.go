package server_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/jrsteele09/go-identity-server/authorize"
	"github.com/jrsteele09/go-identity-server/clients"
	fakeclientrepo "github.com/jrsteele09/go-identity-server/clients/fakerepo"
	"github.com/jrsteele09/go-identity-server/dpop"
	"github.com/jrsteele09/go-identity-server/events"
	"github.com/jrsteele09/go-identity-server/grants"
	"github.com/jrsteele09/go-identity-server/internal/config"
	"github.com/jrsteele09/go-identity-server/oauth2"
	"github.com/jrsteele09/go-identity-server/par"
	"github.com/jrsteele09/go-identity-server/resources"
	resourcerepofakes "github.com/jrsteele09/go-identity-server/resources/repofakes"
	"github.com/jrsteele09/go-identity-server/server"
	"github.com/jrsteele09/go-identity-server/server/authflowrepo"
	"github.com/jrsteele09/go-identity-server/sessions"
	"github.com/jrsteele09/go-identity-server/token"
	"github.com/jrsteele09/go-identity-server/token/refresh"
	refreshrepofake "github.com/jrsteele09/go-identity-server/token/refresh/repofake"
	fakeuserrepo "github.com/jrsteele09/go-identity-server/users/repofake"
)

type serverFixture struct {
	server   *server.Server
	clients  *fakeclientrepo.FakeClientRepo
	sessions *sessions.InMemoryRepo
	par      *par.Flow
}

func setupServerFixture(t *testing.T) *serverFixture {
	t.Helper()
	logger := zerolog.Nop()

	clientRepo := fakeclientrepo.NewFakeClientRepo()
	userRepo := fakeuserrepo.NewFakeUserRepo()
	resourceRepo := resourcerepofakes.NewFakeResourceRepo()
	resourceRepo.AddIdentityResource(&resources.IdentityResource{Name: "openid", Enabled: true})

	sessionRepo := sessions.NewInMemoryRepo()
	consentRepo := authorize.NewInMemoryConsentRepo()
	codeRepo := grants.NewInMemoryCodeRepo()
	parFlow := par.NewFlow(par.NewInMemoryRepo())

	signer, err := token.GenerateSigner("RS256", "primary")
	require.NoError(t, err)
	tokenManager := token.New(refresh.NewManager(refreshrepofake.NewFakeRefreshTokenRepo()), userRepo, signer)

	nonceKey, err := dpop.GenerateNonceKey()
	require.NoError(t, err)
	protector, err := dpop.NewNonceProtector(nonceKey)
	require.NoError(t, err)
	proofValidator, err := dpop.NewProofValidator(dpop.NewInMemoryReplayCache(), protector)
	require.NoError(t, err)

	resourceValidator := resources.NewValidator(resourceRepo)
	audit := events.NewAuditor(logger)

	deps := server.Deps{
		Clients:  clientRepo,
		Users:    userRepo,
		Sessions: sessionRepo,
		Consents: consentRepo,
		Validator: authorize.NewRequestValidator(clientRepo, resourceValidator, logger,
			authorize.WithPushedRequests(parFlow)),
		Interaction: authorize.NewInteractionGenerator(sessionRepo, consentRepo, logger),
		Responses:   authorize.NewResponseGenerator(codeRepo, audit),
		Grants: grants.NewTokenRequestValidator(clientRepo, resourceValidator, proofValidator, logger).
			Register(oauth2.AuthorizationCodeGrant, grants.NewAuthorizationCodeValidator(codeRepo)),
		Tokens:    tokenManager,
		PAR:       parFlow,
		AuthFlows: authflowrepo.NewInMemoryRepo(),
		Audit:     audit,
	}

	srv, err := server.New(config.New(), deps, logger)
	require.NoError(t, err)

	require.NoError(t, clientRepo.Upsert(context.Background(), &clients.Client{
		ID:           "pushed-client",
		Type:         clients.ClientTypeConfidential,
		Secret:       "pushed-secret",
		Scopes:       []string{"openid"},
		GrantTypes:   []oauth2.GrantType{oauth2.AuthorizationCodeGrant},
		RedirectURIs: []string{"https://app.example.com/callback"},
		RequirePAR:   true,
	}))

	return &serverFixture{server: srv, clients: clientRepo, sessions: sessionRepo, par: parFlow}
}

// A client that must push its authorization requests still has to survive the
// detour through the login page: the URL the user is sent back to cannot carry
// the bare redeemed parameters, it has to reference a fresh pushed request.
func TestPushedRequestSurvivesLoginRoundTrip(t *testing.T) {
	f := setupServerFixture(t)
	ctx := context.Background()

	client, err := f.clients.Get(ctx, "pushed-client")
	require.NoError(t, err)

	pushed, err := f.par.Push(ctx, client, url.Values{
		"client_id":     {"pushed-client"},
		"response_type": {"code"},
		"redirect_uri":  {"https://app.example.com/callback"},
		"scope":         {"openid"},
		"state":         {"xyz"},
	})
	require.NoError(t, err)

	// No login session yet, so authorize parks the user at the login page
	target := server.RouteOAuth2Authorize + "?" + url.Values{
		"client_id":   {"pushed-client"},
		"request_uri": {pushed.RequestURI},
	}.Encode()
	rec := httptest.NewRecorder()
	f.server.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	require.Equal(t, http.StatusSeeOther, rec.Code)

	location, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	require.Equal(t, server.RouteLogin, location.Path)

	returnTo, err := url.Parse(location.Query().Get("return_to"))
	require.NoError(t, err)
	require.Equal(t, server.RouteOAuth2Authorize, returnTo.Path)

	replay := returnTo.Query()
	require.True(t, strings.HasPrefix(replay.Get("request_uri"), oauth2.PARRequestURIPrefix))
	require.NotEqual(t, pushed.RequestURI, replay.Get("request_uri"))
	require.Empty(t, replay.Get("redirect_uri"))

	// Logged in, replaying the stashed URL issues a code to the client
	require.NoError(t, f.sessions.Upsert(ctx, &sessions.Session{
		ID:              "sess-1",
		SubjectID:       "user-1",
		AuthenticatedAt: time.Now(),
		ExpiresAt:       time.Now().Add(time.Hour),
	}))

	req := httptest.NewRequest(http.MethodGet, returnTo.String(), nil)
	req.AddCookie(&http.Cookie{Name: "identity_session", Value: "sess-1"})
	rec = httptest.NewRecorder()
	f.server.ServeHTTP(rec, req)
	require.Equal(t, http.StatusSeeOther, rec.Code)

	callback, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	require.Equal(t, "https://app.example.com/callback", callback.Scheme+"://"+callback.Host+callback.Path)
	require.NotEmpty(t, callback.Query().Get("code"))
	require.Equal(t, "xyz", callback.Query().Get("state"))
}
