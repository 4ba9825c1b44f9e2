package grants

import (
	"context"
	"strings"

	"github.com/jrsteele09/go-identity-server/oauth2"
	"github.com/jrsteele09/go-identity-server/token"
	"github.com/jrsteele09/go-identity-server/token/refresh"
)

// RefreshTokenValidator rotates refresh tokens: the presented token is
// consumed atomically, and the grant it produces mints a replacement. Scope
// and resource requests are capped by what the original authorization
// granted; a refresh can narrow a grant but never widen it.
type RefreshTokenValidator struct {
	refresh *refresh.Manager
}

func NewRefreshTokenValidator(refreshManager *refresh.Manager) *RefreshTokenValidator {
	return &RefreshTokenValidator{refresh: refreshManager}
}

func (g *RefreshTokenValidator) Validate(ctx context.Context, req *Request) (*token.Grant, error) {
	if strings.TrimSpace(req.RefreshToken) == "" {
		return nil, oauth2.NewError(oauth2.ErrorInvalidRequest, "refresh_token is required")
	}

	stored, err := g.refresh.Consume(ctx, req.RefreshToken)
	if err != nil {
		return nil, oauth2.NewError(oauth2.ErrorInvalidGrant, "invalid refresh token")
	}

	if stored.ClientID != req.Client.ID {
		return nil, oauth2.NewError(oauth2.ErrorInvalidGrant, "refresh token was issued to another client")
	}

	scopes := stored.Scopes
	if requested := req.RequestedScopes(); len(requested) > 0 {
		if !oauth2.SubsetOf(requested, stored.Scopes) {
			return nil, oauth2.NewError(oauth2.ErrorInvalidScope, "requested scope exceeds the original grant")
		}
		scopes = requested
	}

	// The originally authorized resource set is the ceiling. resource=C for
	// a token granted against A and B is an escalation, not a narrowing.
	if len(stored.Resources) > 0 {
		for _, indicator := range req.Resources {
			if !oauth2.ContainsScope(stored.Resources, indicator) {
				return nil, oauth2.NewErrorf(oauth2.ErrorInvalidTarget, "resource %q was not part of the original authorization", indicator)
			}
		}
	} else if len(req.Resources) > 0 {
		return nil, oauth2.NewError(oauth2.ErrorInvalidTarget, "original grant carried no resource indicators")
	}

	return &token.Grant{
		ClientID:          req.Client.ID,
		SubjectID:         stored.SubjectID,
		SessionID:         stored.SessionID,
		Scopes:            scopes,
		Resources:         stored.Resources,
		IssueIDToken:      oauth2.ContainsScope(scopes, oauth2.ScopeOpenID),
		IssueRefreshToken: true,
	}, nil
}
