package authorize

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"net/url"
	"time"

	"github.com/pkg/errors"

	"github.com/jrsteele09/go-identity-server/events"
	"github.com/jrsteele09/go-identity-server/grants"
	"github.com/jrsteele09/go-identity-server/oauth2"
	"github.com/jrsteele09/go-identity-server/sessions"
)

const (
	codeEntropy         = 32
	defaultCodeLifetime = 2 * time.Minute
)

// AuthorizeResponse is a successful authorize outcome: a single-use code to
// deliver to the redirect URI in the requested response mode.
type AuthorizeResponse struct {
	Code         string
	State        string
	RedirectURI  string
	ResponseMode oauth2.ResponseModeType
}

// Parameters returns the response values to deliver to the client.
func (r *AuthorizeResponse) Parameters() url.Values {
	values := url.Values{}
	values.Set("code", r.Code)
	if r.State != "" {
		values.Set("state", r.State)
	}
	return values
}

// RedirectURL builds the redirect target for query and fragment response
// modes. Form-post delivery is the transport layer's job; it uses
// Parameters directly.
func (r *AuthorizeResponse) RedirectURL() string {
	return appendParameters(r.RedirectURI, r.ResponseMode, r.Parameters())
}

// RedirectURL builds an error redirect for a redirectable failure. The
// second return is false when the error must be rendered at the server
// instead of sent to a redirect URI.
func (e *Error) RedirectURL() (string, bool) {
	if !e.Redirectable || e.RedirectURI == "" {
		return "", false
	}
	values := url.Values{}
	values.Set("error", e.Err.Code)
	if e.Err.Description != "" {
		values.Set("error_description", e.Err.Description)
	}
	if e.State != "" {
		values.Set("state", e.State)
	}
	return appendParameters(e.RedirectURI, e.ResponseMode, values), true
}

func appendParameters(redirectURI string, mode oauth2.ResponseModeType, values url.Values) string {
	target, err := url.Parse(redirectURI)
	if err != nil {
		return redirectURI
	}
	if mode == oauth2.FragmentResponseMode {
		target.Fragment = values.Encode()
		return target.String()
	}
	query := target.Query()
	for key, vals := range values {
		for _, v := range vals {
			query.Set(key, v)
		}
	}
	target.RawQuery = query.Encode()
	return target.String()
}

// ResponseGenerator terminates a successful authorize request: it mints a
// single-use authorization code, persists everything the token endpoint
// needs, and raises the audit event.
type ResponseGenerator struct {
	codes        grants.CodeRepo
	audit        *events.Auditor
	codeLifetime time.Duration
	nowFunc      func() time.Time
}

type ResponseOption func(*ResponseGenerator)

func WithCodeLifetime(lifetime time.Duration) ResponseOption {
	return func(g *ResponseGenerator) {
		g.codeLifetime = lifetime
	}
}

func WithResponseNowFunc(now func() time.Time) ResponseOption {
	return func(g *ResponseGenerator) {
		g.nowFunc = now
	}
}

func NewResponseGenerator(codeRepo grants.CodeRepo, audit *events.Auditor, options ...ResponseOption) *ResponseGenerator {
	g := &ResponseGenerator{
		codes:        codeRepo,
		audit:        audit,
		codeLifetime: defaultCodeLifetime,
		nowFunc:      time.Now,
	}
	for _, opt := range options {
		opt(g)
	}
	return g
}

// Generate issues the authorization code for a request that has cleared
// validation and interaction.
func (g *ResponseGenerator) Generate(ctx context.Context, req *ValidatedRequest, session *sessions.Session) (*AuthorizeResponse, error) {
	raw := make([]byte, codeEntropy)
	if _, err := rand.Read(raw); err != nil {
		return nil, errors.Wrap(err, "[ResponseGenerator.Generate] rand.Read")
	}
	code := base64.RawURLEncoding.EncodeToString(raw)

	if err := g.codes.Upsert(ctx, &grants.Code{
		Code:                code,
		ClientID:            req.Client.ID,
		SubjectID:           session.SubjectID,
		SessionID:           session.ID,
		RedirectURI:         req.RedirectURI,
		Scopes:              req.Scopes,
		Resources:           req.ResourceIndicators,
		Nonce:               req.Nonce,
		CodeChallenge:       req.CodeChallenge,
		CodeChallengeMethod: req.CodeChallengeMethod,
		AuthTime:            session.AuthenticatedAt,
		ExpiresAt:           g.nowFunc().Add(g.codeLifetime),
	}); err != nil {
		return nil, errors.Wrap(err, "[ResponseGenerator.Generate] Upsert")
	}

	g.audit.AuthorizeGranted(req.Client.ID, session.SubjectID, req.Scopes)

	return &AuthorizeResponse{
		Code:         code,
		State:        req.State,
		RedirectURI:  req.RedirectURI,
		ResponseMode: req.ResponseMode,
	}, nil
}
