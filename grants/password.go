package grants

import (
	"context"
	"strings"

	"github.com/jrsteele09/go-identity-server/oauth2"
	"github.com/jrsteele09/go-identity-server/token"
	"github.com/jrsteele09/go-identity-server/users"
)

// PasswordValidator handles the resource-owner password grant. Credential
// failures, blocked users and unverified users all produce the same
// invalid_grant answer; the caller learns nothing about which check failed.
type PasswordValidator struct {
	users users.UserRepo
}

func NewPasswordValidator(userRepo users.UserRepo) *PasswordValidator {
	return &PasswordValidator{users: userRepo}
}

func (g *PasswordValidator) Validate(ctx context.Context, req *Request) (*token.Grant, error) {
	if strings.TrimSpace(req.Username) == "" || req.Password == "" {
		return nil, oauth2.NewError(oauth2.ErrorInvalidRequest, "username and password are required")
	}

	user, err := g.users.GetByUsername(ctx, req.Username)
	if err != nil {
		user, err = g.users.GetByEmail(ctx, req.Username)
	}
	if err != nil {
		return nil, invalidCredentials()
	}

	if !users.CheckPasswordHash(req.Password, user.PasswordHash) {
		return nil, invalidCredentials()
	}
	if !user.Active() {
		return nil, invalidCredentials()
	}

	scopes := req.RequestedScopes()

	return &token.Grant{
		ClientID:          req.Client.ID,
		SubjectID:         user.ID,
		Scopes:            scopes,
		IssueIDToken:      oauth2.ContainsScope(scopes, oauth2.ScopeOpenID),
		IssueRefreshToken: oauth2.ContainsScope(scopes, oauth2.ScopeOfflineAccess),
	}, nil
}

func invalidCredentials() *oauth2.Error {
	return oauth2.NewError(oauth2.ErrorInvalidGrant, "invalid username or password")
}
