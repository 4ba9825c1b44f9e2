package grants

import (
	"context"
	"strings"
	"time"

	"github.com/jrsteele09/go-identity-server/oauth2"
	"github.com/jrsteele09/go-identity-server/token"
)

// CIBAValidator handles token-endpoint polling for backchannel
// authentication requests. The poll state machine mirrors the device flow:
// pending, slow_down on fast polls, access_denied, expired_token, and a
// single-use redemption once approved.
type CIBAValidator struct {
	requests BackchannelRepo
	nowFunc  func() time.Time
}

func NewCIBAValidator(requests BackchannelRepo) *CIBAValidator {
	return &CIBAValidator{requests: requests, nowFunc: time.Now}
}

// WithNowFunc overrides the clock, for tests
func (g *CIBAValidator) WithNowFunc(now func() time.Time) *CIBAValidator {
	g.nowFunc = now
	return g
}

func (g *CIBAValidator) Validate(ctx context.Context, req *Request) (*token.Grant, error) {
	if strings.TrimSpace(req.AuthReqID) == "" {
		return nil, oauth2.NewError(oauth2.ErrorInvalidRequest, "auth_req_id is required")
	}

	record, err := g.requests.Get(ctx, req.AuthReqID)
	if err != nil {
		return nil, oauth2.NewError(oauth2.ErrorInvalidGrant, "invalid auth_req_id")
	}

	if record.ClientID != req.Client.ID {
		return nil, oauth2.NewError(oauth2.ErrorInvalidGrant, "auth_req_id was issued to another client")
	}

	now := g.nowFunc()
	if now.After(record.ExpiresAt) {
		return nil, oauth2.NewError(oauth2.ErrorExpiredToken, "authentication request expired")
	}

	if !record.LastPolledAt.IsZero() && now.Sub(record.LastPolledAt) < record.Interval {
		return nil, oauth2.NewError(oauth2.ErrorSlowDown, "polling too frequently")
	}
	if err := g.requests.TouchLastPolled(ctx, record.AuthReqID, now); err != nil {
		return nil, oauth2.NewError(oauth2.ErrorInvalidGrant, "invalid auth_req_id")
	}

	switch record.Status {
	case StatusPending:
		return nil, oauth2.NewError(oauth2.ErrorAuthorizationPending, "the user has not yet authenticated")
	case StatusDenied:
		return nil, oauth2.NewError(oauth2.ErrorAccessDenied, "the user denied the request")
	case StatusAuthorized:
	default:
		return nil, oauth2.NewError(oauth2.ErrorInvalidGrant, "invalid auth_req_id")
	}

	consumed, err := g.requests.Consume(ctx, record.AuthReqID)
	if err != nil {
		return nil, oauth2.NewError(oauth2.ErrorInvalidGrant, "invalid auth_req_id")
	}

	return &token.Grant{
		ClientID:          req.Client.ID,
		SubjectID:         consumed.SubjectID,
		Scopes:            consumed.Scopes,
		Resources:         consumed.Resources,
		IssueIDToken:      oauth2.ContainsScope(consumed.Scopes, oauth2.ScopeOpenID),
		IssueRefreshToken: oauth2.ContainsScope(consumed.Scopes, oauth2.ScopeOfflineAccess),
	}, nil
}
