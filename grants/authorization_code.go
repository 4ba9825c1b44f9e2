package grants

import (
	"context"
	"strings"
	"time"

	"github.com/jrsteele09/go-identity-server/oauth2"
	"github.com/jrsteele09/go-identity-server/token"
)

// AuthorizationCodeValidator exchanges a single-use authorization code for a
// grant. The code is consumed atomically before anything is checked; a code
// that fails validation is burned, never retryable.
type AuthorizationCodeValidator struct {
	codes   CodeRepo
	nowFunc func() time.Time
}

func NewAuthorizationCodeValidator(codes CodeRepo) *AuthorizationCodeValidator {
	return &AuthorizationCodeValidator{codes: codes, nowFunc: time.Now}
}

// WithNowFunc overrides the clock, for tests
func (g *AuthorizationCodeValidator) WithNowFunc(now func() time.Time) *AuthorizationCodeValidator {
	g.nowFunc = now
	return g
}

func (g *AuthorizationCodeValidator) Validate(ctx context.Context, req *Request) (*token.Grant, error) {
	if strings.TrimSpace(req.Code) == "" {
		return nil, oauth2.NewError(oauth2.ErrorInvalidRequest, "code is required")
	}

	code, err := g.codes.Consume(ctx, req.Code)
	if err != nil {
		return nil, oauth2.NewError(oauth2.ErrorInvalidGrant, "invalid authorization code")
	}

	if g.nowFunc().After(code.ExpiresAt) {
		return nil, oauth2.NewError(oauth2.ErrorInvalidGrant, "authorization code expired")
	}
	if code.ClientID != req.Client.ID {
		return nil, oauth2.NewError(oauth2.ErrorInvalidGrant, "authorization code was issued to another client")
	}
	if code.RedirectURI != req.RedirectURI {
		return nil, oauth2.NewError(oauth2.ErrorInvalidGrant, "redirect_uri does not match the authorize request")
	}

	if code.CodeChallenge != "" || req.CodeVerifier != "" {
		if !oauth2.VerifyCodeChallenge(code.CodeChallenge, req.CodeVerifier, code.CodeChallengeMethod) {
			return nil, oauth2.NewError(oauth2.ErrorInvalidGrant, "PKCE verification failed")
		}
	}

	if err := restrictToOriginalResources(req.Resources, code.Resources); err != nil {
		return nil, err
	}

	return &token.Grant{
		ClientID:          req.Client.ID,
		SubjectID:         code.SubjectID,
		SessionID:         code.SessionID,
		Scopes:            code.Scopes,
		Resources:         code.Resources,
		Nonce:             code.Nonce,
		IssueIDToken:      oauth2.ContainsScope(code.Scopes, oauth2.ScopeOpenID),
		IssueRefreshToken: oauth2.ContainsScope(code.Scopes, oauth2.ScopeOfflineAccess),
	}, nil
}

// restrictToOriginalResources rejects any resource indicator that was not
// part of the originally authorized set. Token requests may narrow an
// audience, never widen it. When the authorization carried no indicators
// there is nothing to narrow, so any indicator here is a widening.
func restrictToOriginalResources(requested, original []string) error {
	if len(original) == 0 {
		if len(requested) > 0 {
			return oauth2.NewError(oauth2.ErrorInvalidTarget, "original grant carried no resource indicators")
		}
		return nil
	}
	for _, indicator := range requested {
		if !oauth2.ContainsScope(original, indicator) {
			return oauth2.NewErrorf(oauth2.ErrorInvalidTarget, "resource %q was not part of the original authorization", indicator)
		}
	}
	return nil
}
