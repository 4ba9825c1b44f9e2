package grants

import (
	"context"
	"crypto/subtle"
	"strings"

	"github.com/jrsteele09/go-identity-server/clients"
	"github.com/jrsteele09/go-identity-server/dpop"
	"github.com/jrsteele09/go-identity-server/oauth2"
	"github.com/jrsteele09/go-identity-server/resources"
	"github.com/jrsteele09/go-identity-server/token"
	"github.com/rs/zerolog"
)

// TokenRequest carries the raw parameters of a token-endpoint request plus
// the transport material DPoP validation needs.
type TokenRequest struct {
	GrantType    string
	ClientID     string
	ClientSecret string

	// authorization_code
	Code         string
	RedirectURI  string
	CodeVerifier string

	// refresh_token
	RefreshToken string

	// password
	Username string
	Password string

	// device_code / ciba
	DeviceCode string
	AuthReqID  string

	Scope     string
	Resources []string // repeated resource parameters, RFC 8707

	// DPoPProofs holds every DPoP header value as received. More than one
	// is a protocol violation.
	DPoPProofs []string

	// Method and URL describe the request for htm/htu binding.
	Method string
	URL    string
}

// Request is the per-grant validation input: the raw request plus the
// resolved client and any validated proof material.
type Request struct {
	TokenRequest
	Client *clients.Client
	Proof  *dpop.Result
}

// RequestedScopes returns the parsed scope parameter.
func (r *Request) RequestedScopes() []string {
	return oauth2.ParseScopes(r.Scope)
}

// GrantValidator validates one grant type. Implementations return the grant
// to mint tokens for, or a protocol error. Scope and resource restriction is
// applied uniformly after dispatch; validators only decide the candidate
// scope set and the subject.
type GrantValidator interface {
	Validate(ctx context.Context, req *Request) (*token.Grant, error)
}

// TokenRequestValidator authenticates the client, applies DPoP policy, and
// dispatches to the grant-specific validator selected by grant_type.
type TokenRequestValidator struct {
	clients    clients.Repo
	resources  *resources.Validator
	proofs     *dpop.ProofValidator
	validators map[oauth2.GrantType]GrantValidator
	log        zerolog.Logger
}

// NewTokenRequestValidator creates a validator with no registered grants.
// Register wires in each supported grant type.
func NewTokenRequestValidator(clientRepo clients.Repo, resourceValidator *resources.Validator, proofValidator *dpop.ProofValidator, log zerolog.Logger) *TokenRequestValidator {
	return &TokenRequestValidator{
		clients:    clientRepo,
		resources:  resourceValidator,
		proofs:     proofValidator,
		validators: make(map[oauth2.GrantType]GrantValidator),
		log:        log,
	}
}

// Register adds a validator for a grant type. Extension grants register here
// under their URN the same way the built-in grants do.
func (v *TokenRequestValidator) Register(grantType oauth2.GrantType, validator GrantValidator) *TokenRequestValidator {
	v.validators[grantType] = validator
	return v
}

// Validate runs the full token-request pipeline and returns the grant to
// mint tokens for. Every returned error is an *oauth2.Error; when a DPoP
// nonce was minted during validation it rides along on the error so the
// client can retry without restarting.
func (v *TokenRequestValidator) Validate(ctx context.Context, request TokenRequest) (*token.Grant, error) {
	client, err := v.authenticateClient(ctx, &request)
	if err != nil {
		return nil, err
	}

	grantType := oauth2.GrantType(request.GrantType)
	if !client.HasGrantType(grantType) {
		return nil, oauth2.NewErrorf(oauth2.ErrorUnauthorizedClient, "client is not allowed to use grant type %q", request.GrantType)
	}

	proof, err := v.validateProof(ctx, &request, client)
	if err != nil {
		return nil, err
	}

	grantValidator, exists := v.validators[grantType]
	if !exists {
		return nil, oauth2.NewErrorf(oauth2.ErrorUnsupportedGrantType, "unsupported grant type %q", request.GrantType)
	}

	req := &Request{TokenRequest: request, Client: client, Proof: proof}

	grant, err := grantValidator.Validate(ctx, req)
	if err != nil {
		return nil, v.withRetryNonce(err, proof)
	}

	if err := v.restrictResources(ctx, req, grant); err != nil {
		return nil, v.withRetryNonce(err, proof)
	}

	if proof != nil {
		grant.Confirmation = proof.Thumbprint
		grant.TokenType = oauth2.TokenTypeDPoP
	}

	return grant, nil
}

// authenticateClient resolves the client and checks its secret. Confidential
// clients must present the right secret; public clients must present none.
func (v *TokenRequestValidator) authenticateClient(ctx context.Context, request *TokenRequest) (*clients.Client, error) {
	if strings.TrimSpace(request.ClientID) == "" {
		return nil, oauth2.NewError(oauth2.ErrorInvalidClient, "client_id is required")
	}

	client, err := v.clients.Get(ctx, request.ClientID)
	if err != nil {
		return nil, oauth2.NewError(oauth2.ErrorInvalidClient, "unknown client")
	}

	if client.IsPublic() {
		return client, nil
	}

	if subtle.ConstantTimeCompare([]byte(client.Secret), []byte(request.ClientSecret)) != 1 {
		return nil, oauth2.NewError(oauth2.ErrorInvalidClient, "client authentication failed")
	}

	return client, nil
}

// validateProof applies the client's DPoP policy before dispatch. A
// duplicated header is fatal here; a grant never sees a request carrying
// ambiguous proof material.
func (v *TokenRequestValidator) validateProof(ctx context.Context, request *TokenRequest, client *clients.Client) (*dpop.Result, error) {
	if len(request.DPoPProofs) > 1 {
		return nil, oauth2.NewError(oauth2.ErrorInvalidRequest, "multiple DPoP proofs are not allowed")
	}

	if len(request.DPoPProofs) == 0 {
		if client.DPoP.Required {
			return nil, oauth2.NewError(oauth2.ErrorInvalidDPoPProof, "DPoP proof is required for this client")
		}
		return nil, nil
	}

	result, err := v.proofs.Validate(ctx, dpop.ProofContext{
		Proof:  request.DPoPProofs[0],
		Method: request.Method,
		URL:    request.URL,
		Client: client,
	})
	if err != nil {
		return nil, oauth2.AsError(err)
	}
	return result, nil
}

// restrictResources re-validates the grant's scopes and the request's
// resource indicators uniformly after dispatch, then narrows the grant to
// the resolved scope and audience set. Scope failures and resource failures
// surface as distinct error codes.
func (v *TokenRequestValidator) restrictResources(ctx context.Context, req *Request, grant *token.Grant) error {
	result, err := v.resources.Validate(ctx, req.Client, grant.Scopes, req.Resources)
	if err != nil {
		v.log.Error().Err(err).Str("clientID", req.Client.ID).Msg("resource validation failed")
		return oauth2.NewError(oauth2.ErrorServerError, "resource validation failed")
	}

	if len(result.InvalidScopes) > 0 {
		return oauth2.NewErrorf(oauth2.ErrorInvalidScope, "invalid scopes: %s", strings.Join(result.InvalidScopes, " "))
	}
	if len(result.InvalidResourceIndicators) > 0 {
		return oauth2.NewErrorf(oauth2.ErrorInvalidTarget, "invalid resource indicators: %s", strings.Join(result.InvalidResourceIndicators, " "))
	}

	// Machine grants have no end user to consent to identity data or
	// long-lived access.
	if grant.SubjectID == "" {
		if len(result.IdentityResources) > 0 || result.OfflineAccess {
			return oauth2.NewError(oauth2.ErrorInvalidScope, "identity and offline_access scopes require an end user")
		}
	}

	if len(req.Resources) == 1 {
		result = result.FilterByResourceIndicator(req.Resources[0])
	}

	grant.Scopes = append([]string(nil), result.RawScopes...)
	grant.Audiences = result.Audiences()

	// Validators that bind the grant to an originally-authorized resource set
	// leave it in place; otherwise the request's indicators become the
	// ceiling for any refresh token minted from this grant.
	if len(grant.Resources) == 0 {
		grant.Resources = req.Resources
	}
	return nil
}

// withRetryNonce carries a freshly-minted server nonce onto any error so a
// DPoP-bound client can retry without a second nonce round trip.
func (v *TokenRequestValidator) withRetryNonce(err error, proof *dpop.Result) error {
	oauthErr := oauth2.AsError(err)
	if proof != nil && proof.ServerNonce != "" && oauthErr.RetryNonce == "" {
		return oauthErr.WithRetryNonce(proof.ServerNonce)
	}
	return oauthErr
}
