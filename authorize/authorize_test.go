package authorize_test

import (
	"context"
	"net/url"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jrsteele09/go-identity-server/authorize"
	"github.com/jrsteele09/go-identity-server/clients"
	fakeclientrepo "github.com/jrsteele09/go-identity-server/clients/fakerepo"
	"github.com/jrsteele09/go-identity-server/events"
	"github.com/jrsteele09/go-identity-server/grants"
	"github.com/jrsteele09/go-identity-server/oauth2"
	"github.com/jrsteele09/go-identity-server/par"
	"github.com/jrsteele09/go-identity-server/resources"
	resourcerepofakes "github.com/jrsteele09/go-identity-server/resources/repofakes"
	"github.com/jrsteele09/go-identity-server/sessions"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

const redirectURI = "https://app.example.com/callback"

type testFixture struct {
	validator   *authorize.RequestValidator
	interaction *authorize.InteractionGenerator
	response    *authorize.ResponseGenerator
	clientRepo  *fakeclientrepo.FakeClientRepo
	sessionRepo *sessions.InMemoryRepo
	consents    *authorize.InMemoryConsentRepo
	codes       *grants.InMemoryCodeRepo
	parFlow     *par.Flow
	now         time.Time
	nowFunc     func() time.Time
}

func setupTestFixture(t *testing.T) *testFixture {
	t.Helper()

	f := &testFixture{
		clientRepo:  fakeclientrepo.NewFakeClientRepo(),
		sessionRepo: sessions.NewInMemoryRepo(),
		consents:    authorize.NewInMemoryConsentRepo(),
		codes:       grants.NewInMemoryCodeRepo(),
		now:         time.Date(2025, 3, 14, 10, 0, 0, 0, time.UTC),
	}
	f.nowFunc = func() time.Time { return f.now }

	ctx := context.Background()
	require.NoError(t, f.clientRepo.Upsert(ctx, &clients.Client{
		ID:           "web-client",
		Type:         clients.ClientTypeConfidential,
		Secret:       "web-secret",
		RedirectURIs: []string{redirectURI},
		Scopes:       []string{"openid", "orders.read", "orders.write"},
		GrantTypes:   []oauth2.GrantType{oauth2.AuthorizationCodeGrant},
	}))
	require.NoError(t, f.clientRepo.Upsert(ctx, &clients.Client{
		ID:           "spa-client",
		Type:         clients.ClientTypePublic,
		RedirectURIs: []string{redirectURI},
		Scopes:       []string{"openid", "orders.read"},
		GrantTypes:   []oauth2.GrantType{oauth2.AuthorizationCodeGrant},
	}))
	require.NoError(t, f.clientRepo.Upsert(ctx, &clients.Client{
		ID:           "par-client",
		Type:         clients.ClientTypeConfidential,
		Secret:       "par-secret",
		RedirectURIs: []string{redirectURI},
		Scopes:       []string{"openid", "orders.read"},
		GrantTypes:   []oauth2.GrantType{oauth2.AuthorizationCodeGrant},
		RequirePAR:   true,
	}))
	require.NoError(t, f.clientRepo.Upsert(ctx, &clients.Client{
		ID:             "consent-client",
		Type:           clients.ClientTypeConfidential,
		Secret:         "consent-secret",
		RedirectURIs:   []string{redirectURI},
		Scopes:         []string{"openid", "orders.read"},
		GrantTypes:     []oauth2.GrantType{oauth2.AuthorizationCodeGrant},
		RequireConsent: true,
	}))
	require.NoError(t, f.clientRepo.Upsert(ctx, &clients.Client{
		ID:             "idp-client",
		Type:           clients.ClientTypeConfidential,
		Secret:         "idp-secret",
		RedirectURIs:   []string{redirectURI},
		Scopes:         []string{"openid"},
		GrantTypes:     []oauth2.GrantType{oauth2.AuthorizationCodeGrant},
		IdPRedirectURL: "https://idp.example.com/login",
	}))

	resourceRepo := resourcerepofakes.NewFakeResourceRepo()
	resourceRepo.AddIdentityResource(&resources.IdentityResource{Name: "openid", Enabled: true})
	resourceRepo.AddApiScope(&resources.ApiScope{Name: "orders.read", Enabled: true})
	resourceRepo.AddApiScope(&resources.ApiScope{Name: "orders.write", Enabled: true})
	resourceRepo.AddApiResource(&resources.ApiResource{
		Name:    "resource-a",
		Enabled: true,
		Scopes:  []string{"orders.read", "orders.write"},
	})

	log := zerolog.Nop()
	f.parFlow = par.NewFlow(par.NewInMemoryRepo(), par.WithNowFunc(f.nowFunc))
	f.validator = authorize.NewRequestValidator(
		f.clientRepo,
		resources.NewValidator(resourceRepo),
		log,
		authorize.WithPushedRequests(f.parFlow),
	)
	f.interaction = authorize.NewInteractionGenerator(f.sessionRepo, f.consents, log,
		authorize.WithInteractionNowFunc(f.nowFunc))
	f.response = authorize.NewResponseGenerator(f.codes, events.NewAuditor(log),
		authorize.WithResponseNowFunc(f.nowFunc))

	return f
}

func (f *testFixture) addSession(t *testing.T, subjectID string) string {
	t.Helper()
	session := &sessions.Session{
		ID:              uuid.New().String(),
		SubjectID:       subjectID,
		AuthenticatedAt: f.now.Add(-time.Minute),
		ExpiresAt:       f.now.Add(time.Hour),
	}
	require.NoError(t, f.sessionRepo.Upsert(context.Background(), session))
	return session.ID
}

func webRequest(overrides url.Values) *authorize.Parameters {
	values := url.Values{
		"client_id":     {"web-client"},
		"response_type": {"code"},
		"redirect_uri":  {redirectURI},
		"scope":         {"openid orders.read"},
		"state":         {"abc123"},
	}
	for key, vals := range overrides {
		if len(vals) == 1 && vals[0] == "" {
			values.Del(key)
			continue
		}
		values[key] = vals
	}
	return authorize.ParseParameters(values)
}

func requireAuthorizeErr(t *testing.T, err error, code string, redirectable bool) *authorize.Error {
	t.Helper()
	require.Error(t, err)
	authErr, ok := err.(*authorize.Error)
	require.True(t, ok, "expected *authorize.Error, got %T", err)
	require.Equal(t, code, authErr.Err.Code)
	require.Equal(t, redirectable, authErr.Redirectable)
	return authErr
}

func TestValidateHappyPath(t *testing.T) {
	f := setupTestFixture(t)

	req, err := f.validator.Validate(context.Background(), webRequest(url.Values{
		"nonce": {"n-1"},
	}))
	require.NoError(t, err)
	require.Equal(t, "web-client", req.Client.ID)
	require.Equal(t, oauth2.QueryResponseMode, req.ResponseMode)
	require.Equal(t, []string{"openid", "orders.read"}, req.Scopes)
	require.Equal(t, "n-1", req.Nonce)
	require.Equal(t, "abc123", req.State)
	require.False(t, req.FromPushedRequest)
	require.Equal(t, []string{"resource-a"}, req.Resources.Audiences())
}

func TestValidateClientResolution(t *testing.T) {
	f := setupTestFixture(t)
	ctx := context.Background()

	_, err := f.validator.Validate(ctx, webRequest(url.Values{"client_id": {""}}))
	requireAuthorizeErr(t, err, oauth2.ErrorInvalidRequest, false)

	_, err = f.validator.Validate(ctx, webRequest(url.Values{"client_id": {"no-such-client"}}))
	requireAuthorizeErr(t, err, oauth2.ErrorInvalidRequest, false)
}

func TestValidateRedirectURINeverRedirectsErrors(t *testing.T) {
	f := setupTestFixture(t)
	ctx := context.Background()

	_, err := f.validator.Validate(ctx, webRequest(url.Values{"redirect_uri": {""}}))
	requireAuthorizeErr(t, err, oauth2.ErrorInvalidRequest, false)

	_, err = f.validator.Validate(ctx, webRequest(url.Values{"redirect_uri": {"https://evil.example.com/callback"}}))
	authErr := requireAuthorizeErr(t, err, oauth2.ErrorInvalidRequest, false)
	_, ok := authErr.RedirectURL()
	require.False(t, ok)
}

func TestValidateResponseTypeAndMode(t *testing.T) {
	f := setupTestFixture(t)
	ctx := context.Background()

	_, err := f.validator.Validate(ctx, webRequest(url.Values{"response_type": {"token"}}))
	authErr := requireAuthorizeErr(t, err, oauth2.ErrorUnsupportedResponse, true)
	require.Equal(t, "abc123", authErr.State)

	redirect, ok := authErr.RedirectURL()
	require.True(t, ok)
	target, parseErr := url.Parse(redirect)
	require.NoError(t, parseErr)
	require.Equal(t, oauth2.ErrorUnsupportedResponse, target.Query().Get("error"))
	require.Equal(t, "abc123", target.Query().Get("state"))

	_, err = f.validator.Validate(ctx, webRequest(url.Values{"response_mode": {"web_message"}}))
	requireAuthorizeErr(t, err, oauth2.ErrorInvalidRequest, true)

	req, err := f.validator.Validate(ctx, webRequest(url.Values{"response_mode": {"form_post"}}))
	require.NoError(t, err)
	require.Equal(t, oauth2.FormPostResponseMode, req.ResponseMode)
}

func TestValidatePKCE(t *testing.T) {
	f := setupTestFixture(t)
	ctx := context.Background()
	challenge := oauth2.CodeChallengeS256("a-code-verifier-of-decent-length-1234567890")

	// public clients cannot skip PKCE
	_, err := f.validator.Validate(ctx, webRequest(url.Values{
		"client_id": {"spa-client"},
		"scope":     {"openid orders.read"},
	}))
	requireAuthorizeErr(t, err, oauth2.ErrorInvalidRequest, true)

	req, err := f.validator.Validate(ctx, webRequest(url.Values{
		"client_id":      {"spa-client"},
		"code_challenge": {challenge},
	}))
	require.NoError(t, err)
	require.Equal(t, challenge, req.CodeChallenge)
	require.Equal(t, oauth2.CodeMethodTypeS256, req.CodeChallengeMethod)

	_, err = f.validator.Validate(ctx, webRequest(url.Values{
		"client_id":             {"spa-client"},
		"code_challenge":        {challenge},
		"code_challenge_method": {"S512"},
	}))
	requireAuthorizeErr(t, err, oauth2.ErrorInvalidRequest, true)

	_, err = f.validator.Validate(ctx, webRequest(url.Values{
		"client_id":      {"spa-client"},
		"code_challenge": {"too-short"},
	}))
	requireAuthorizeErr(t, err, oauth2.ErrorInvalidRequest, true)
}

func TestValidateInvalidScopesListedExactly(t *testing.T) {
	f := setupTestFixture(t)

	_, err := f.validator.Validate(context.Background(), webRequest(url.Values{
		"scope": {"openid email orders.read payments.write"},
	}))
	authErr := requireAuthorizeErr(t, err, oauth2.ErrorInvalidScope, true)
	require.Contains(t, authErr.Err.Description, "email")
	require.Contains(t, authErr.Err.Description, "payments.write")
	require.NotContains(t, authErr.Err.Description, "openid")
	require.NotContains(t, authErr.Err.Description, "orders.read")
}

func TestValidateUnknownResourceIndicator(t *testing.T) {
	f := setupTestFixture(t)

	_, err := f.validator.Validate(context.Background(), webRequest(url.Values{
		"resource": {"resource-z"},
	}))
	authErr := requireAuthorizeErr(t, err, oauth2.ErrorInvalidTarget, true)
	require.Contains(t, authErr.Err.Description, "resource-z")
}

func TestValidatePushedRequestLifecycle(t *testing.T) {
	f := setupTestFixture(t)
	ctx := context.Background()

	// direct front-channel requests are rejected for a PAR-only client
	_, err := f.validator.Validate(ctx, webRequest(url.Values{"client_id": {"par-client"}}))
	requireAuthorizeErr(t, err, oauth2.ErrorInvalidRequest, false)

	parClient, err := f.clientRepo.Get(ctx, "par-client")
	require.NoError(t, err)
	pushed, err := f.parFlow.Push(ctx, parClient, url.Values{
		"client_id":     {"par-client"},
		"response_type": {"code"},
		"redirect_uri":  {redirectURI},
		"scope":         {"openid"},
		"state":         {"par-state"},
	})
	require.NoError(t, err)

	req, err := f.validator.Validate(ctx, authorize.ParseParameters(url.Values{
		"client_id":   {"par-client"},
		"request_uri": {pushed.RequestURI},
	}))
	require.NoError(t, err)
	require.True(t, req.FromPushedRequest)
	require.Equal(t, "par-state", req.State)
	require.Equal(t, []string{"openid"}, req.Scopes)

	// a reference redeems exactly once
	_, err = f.validator.Validate(ctx, authorize.ParseParameters(url.Values{
		"client_id":   {"par-client"},
		"request_uri": {pushed.RequestURI},
	}))
	requireAuthorizeErr(t, err, oauth2.ErrorInvalidRequest, false)
}

func TestValidatePushedRequestForeignClient(t *testing.T) {
	f := setupTestFixture(t)
	ctx := context.Background()

	parClient, err := f.clientRepo.Get(ctx, "par-client")
	require.NoError(t, err)
	pushed, err := f.parFlow.Push(ctx, parClient, url.Values{
		"client_id":     {"par-client"},
		"response_type": {"code"},
		"redirect_uri":  {redirectURI},
		"scope":         {"openid"},
	})
	require.NoError(t, err)

	_, err = f.validator.Validate(ctx, webRequest(url.Values{
		"request_uri": {pushed.RequestURI},
	}))
	requireAuthorizeErr(t, err, oauth2.ErrorInvalidRequest, false)
}

func TestValidatePushedRequestsDisabled(t *testing.T) {
	f := setupTestFixture(t)

	resourceRepo := resourcerepofakes.NewFakeResourceRepo()
	noPAR := authorize.NewRequestValidator(f.clientRepo, resources.NewValidator(resourceRepo), zerolog.Nop())

	_, err := noPAR.Validate(context.Background(), webRequest(url.Values{
		"request_uri": {oauth2.PARRequestURIPrefix + "abc"},
	}))
	requireAuthorizeErr(t, err, oauth2.ErrorInvalidRequest, false)
}

func TestInteractionLoginRequired(t *testing.T) {
	f := setupTestFixture(t)
	ctx := context.Background()

	req, err := f.validator.Validate(ctx, webRequest(nil))
	require.NoError(t, err)

	// no session cookie at all
	decision, err := f.interaction.Decide(ctx, req, "")
	require.NoError(t, err)
	require.Equal(t, authorize.InteractionLogin, decision.Type)

	// a session that expired no longer counts
	sessionID := f.addSession(t, "user-1")
	f.now = f.now.Add(2 * time.Hour)
	decision, err = f.interaction.Decide(ctx, req, sessionID)
	require.NoError(t, err)
	require.Equal(t, authorize.InteractionLogin, decision.Type)
}

func TestInteractionPromptLoginForcesLogin(t *testing.T) {
	f := setupTestFixture(t)
	ctx := context.Background()

	req, err := f.validator.Validate(ctx, webRequest(url.Values{"prompt": {"login"}}))
	require.NoError(t, err)

	sessionID := f.addSession(t, "user-1")
	decision, err := f.interaction.Decide(ctx, req, sessionID)
	require.NoError(t, err)
	require.Equal(t, authorize.InteractionLogin, decision.Type)
}

func TestInteractionCustomRedirect(t *testing.T) {
	f := setupTestFixture(t)
	ctx := context.Background()

	req, err := f.validator.Validate(ctx, webRequest(url.Values{
		"client_id": {"idp-client"},
		"scope":     {"openid"},
	}))
	require.NoError(t, err)

	decision, err := f.interaction.Decide(ctx, req, "")
	require.NoError(t, err)
	require.Equal(t, authorize.InteractionCustomRedirect, decision.Type)
	require.Equal(t, "https://idp.example.com/login", decision.RedirectURL)
}

func TestInteractionCreateAccount(t *testing.T) {
	f := setupTestFixture(t)
	ctx := context.Background()

	require.NoError(t, f.clientRepo.Upsert(ctx, &clients.Client{
		ID:                   "signup-client",
		Type:                 clients.ClientTypeConfidential,
		Secret:               "signup-secret",
		RedirectURIs:         []string{redirectURI},
		Scopes:               []string{"openid"},
		GrantTypes:           []oauth2.GrantType{oauth2.AuthorizationCodeGrant},
		AllowAccountCreation: true,
	}))

	req, err := f.validator.Validate(ctx, webRequest(url.Values{
		"client_id": {"signup-client"},
		"scope":     {"openid"},
		"prompt":    {"create"},
	}))
	require.NoError(t, err)

	decision, err := f.interaction.Decide(ctx, req, "")
	require.NoError(t, err)
	require.Equal(t, authorize.InteractionCreateAccount, decision.Type)

	// prompt=create on a client without the feature falls back to login
	req, err = f.validator.Validate(ctx, webRequest(url.Values{"prompt": {"create"}}))
	require.NoError(t, err)
	decision, err = f.interaction.Decide(ctx, req, "")
	require.NoError(t, err)
	require.Equal(t, authorize.InteractionLogin, decision.Type)
}

func TestInteractionConsentLifecycle(t *testing.T) {
	f := setupTestFixture(t)
	ctx := context.Background()

	req, err := f.validator.Validate(ctx, webRequest(url.Values{
		"client_id": {"consent-client"},
		"scope":     {"openid orders.read"},
	}))
	require.NoError(t, err)

	sessionID := f.addSession(t, "user-1")

	// nothing stored yet: consent interaction, with the key to store under
	decision, err := f.interaction.Decide(ctx, req, sessionID)
	require.NoError(t, err)
	require.Equal(t, authorize.InteractionConsent, decision.Type)
	require.NotEmpty(t, decision.ConsentID)
	require.Equal(t, authorize.ConsentID("user-1", req.Raw), decision.ConsentID)

	require.NoError(t, f.consents.Save(ctx, decision.ConsentID, &authorize.ConsentResponse{
		SubjectID: "user-1",
		ClientID:  "consent-client",
		Granted:   true,
		Scopes:    req.Scopes,
	}))

	decision, err = f.interaction.Decide(ctx, req, sessionID)
	require.NoError(t, err)
	require.Equal(t, authorize.InteractionNone, decision.Type)
	require.Equal(t, "user-1", decision.Session.SubjectID)

	// consent is single use: replaying the request needs a fresh answer
	decision, err = f.interaction.Decide(ctx, req, sessionID)
	require.NoError(t, err)
	require.Equal(t, authorize.InteractionConsent, decision.Type)
}

func TestInteractionConsentBoundToSubjectAndClient(t *testing.T) {
	f := setupTestFixture(t)
	ctx := context.Background()

	req, err := f.validator.Validate(ctx, webRequest(url.Values{
		"client_id": {"consent-client"},
		"scope":     {"openid"},
	}))
	require.NoError(t, err)

	sessionID := f.addSession(t, "user-1")
	consentID := authorize.ConsentID("user-1", req.Raw)

	// A grant recorded by a different subject under the victim's consent ID
	// must not satisfy the prompt
	require.NoError(t, f.consents.Save(ctx, consentID, &authorize.ConsentResponse{
		SubjectID: "attacker",
		ClientID:  "consent-client",
		Granted:   true,
	}))
	decision, err := f.interaction.Decide(ctx, req, sessionID)
	require.NoError(t, err)
	require.Equal(t, authorize.InteractionConsent, decision.Type)

	// Same for a grant recorded against a different client
	require.NoError(t, f.consents.Save(ctx, consentID, &authorize.ConsentResponse{
		SubjectID: "user-1",
		ClientID:  "other-client",
		Granted:   true,
	}))
	decision, err = f.interaction.Decide(ctx, req, sessionID)
	require.NoError(t, err)
	require.Equal(t, authorize.InteractionConsent, decision.Type)

	// The mismatched record was consumed, not left around to retry against
	_, err = f.consents.Read(ctx, consentID)
	require.ErrorIs(t, err, authorize.ErrConsentNotFound)
}

func TestInteractionConsentDenied(t *testing.T) {
	f := setupTestFixture(t)
	ctx := context.Background()

	req, err := f.validator.Validate(ctx, webRequest(url.Values{
		"client_id": {"consent-client"},
		"scope":     {"openid"},
	}))
	require.NoError(t, err)

	sessionID := f.addSession(t, "user-1")
	consentID := authorize.ConsentID("user-1", req.Raw)
	require.NoError(t, f.consents.Save(ctx, consentID, &authorize.ConsentResponse{
		SubjectID: "user-1",
		ClientID:  "consent-client",
		Granted:   false,
	}))

	_, err = f.interaction.Decide(ctx, req, sessionID)
	requireAuthorizeErr(t, err, oauth2.ErrorAccessDenied, true)

	// the denial was consumed along with the consent record
	decision, err := f.interaction.Decide(ctx, req, sessionID)
	require.NoError(t, err)
	require.Equal(t, authorize.InteractionConsent, decision.Type)
}

func TestInteractionNoneWithActiveSession(t *testing.T) {
	f := setupTestFixture(t)
	ctx := context.Background()

	req, err := f.validator.Validate(ctx, webRequest(nil))
	require.NoError(t, err)

	sessionID := f.addSession(t, "user-1")
	decision, err := f.interaction.Decide(ctx, req, sessionID)
	require.NoError(t, err)
	require.Equal(t, authorize.InteractionNone, decision.Type)
	require.NotNil(t, decision.Session)
	require.Equal(t, sessionID, decision.Session.ID)
}

func TestResponseGeneratorIssuesSingleUseCode(t *testing.T) {
	f := setupTestFixture(t)
	ctx := context.Background()

	challenge := oauth2.CodeChallengeS256("a-code-verifier-of-decent-length-1234567890")
	req, err := f.validator.Validate(ctx, webRequest(url.Values{
		"nonce":          {"n-1"},
		"code_challenge": {challenge},
		"resource":       {"resource-a"},
	}))
	require.NoError(t, err)

	sessionID := f.addSession(t, "user-1")
	session, err := f.sessionRepo.Get(ctx, sessionID)
	require.NoError(t, err)

	response, err := f.response.Generate(ctx, req, session)
	require.NoError(t, err)
	require.NotEmpty(t, response.Code)
	require.Equal(t, "abc123", response.State)

	redirect, parseErr := url.Parse(response.RedirectURL())
	require.NoError(t, parseErr)
	require.Equal(t, response.Code, redirect.Query().Get("code"))
	require.Equal(t, "abc123", redirect.Query().Get("state"))

	stored, err := f.codes.Consume(ctx, response.Code)
	require.NoError(t, err)
	require.Equal(t, "web-client", stored.ClientID)
	require.Equal(t, "user-1", stored.SubjectID)
	require.Equal(t, sessionID, stored.SessionID)
	require.Equal(t, redirectURI, stored.RedirectURI)
	require.Equal(t, []string{"openid", "orders.read"}, stored.Scopes)
	require.Equal(t, []string{"resource-a"}, stored.Resources)
	require.Equal(t, "n-1", stored.Nonce)
	require.Equal(t, challenge, stored.CodeChallenge)
	require.True(t, stored.ExpiresAt.After(f.now))

	// consumed means gone
	_, err = f.codes.Consume(ctx, response.Code)
	require.ErrorIs(t, err, grants.ErrNotFound)
}

func TestResponseFragmentMode(t *testing.T) {
	response := &authorize.AuthorizeResponse{
		Code:         "the-code",
		State:        "xyz",
		RedirectURI:  redirectURI,
		ResponseMode: oauth2.FragmentResponseMode,
	}

	redirect, err := url.Parse(response.RedirectURL())
	require.NoError(t, err)
	require.Empty(t, redirect.RawQuery)

	fragment, err := url.ParseQuery(redirect.Fragment)
	require.NoError(t, err)
	require.Equal(t, "the-code", fragment.Get("code"))
	require.Equal(t, "xyz", fragment.Get("state"))
}
