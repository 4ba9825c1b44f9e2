package grants

import (
	"context"

	"github.com/jrsteele09/go-identity-server/oauth2"
	"github.com/jrsteele09/go-identity-server/token"
)

// ClientCredentialsValidator handles machine-to-machine grants. There is no
// end user, so identity scopes and offline_access are rejected during the
// uniform resource restriction (the grant carries no subject).
type ClientCredentialsValidator struct{}

func NewClientCredentialsValidator() *ClientCredentialsValidator {
	return &ClientCredentialsValidator{}
}

func (g *ClientCredentialsValidator) Validate(_ context.Context, req *Request) (*token.Grant, error) {
	if req.Client.IsPublic() {
		return nil, oauth2.NewError(oauth2.ErrorUnauthorizedClient, "public clients cannot use client_credentials")
	}

	scopes := req.RequestedScopes()
	if len(scopes) == 0 {
		scopes = req.Client.Scopes
	}

	return &token.Grant{
		ClientID: req.Client.ID,
		Scopes:   scopes,
	}, nil
}
