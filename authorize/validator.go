package authorize

import (
	"context"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/jrsteele09/go-identity-server/clients"
	"github.com/jrsteele09/go-identity-server/oauth2"
	"github.com/jrsteele09/go-identity-server/par"
	"github.com/jrsteele09/go-identity-server/resources"
)

const (
	minCodeVerifierLength = 43
	maxCodeVerifierLength = 128
)

// RequestValidator checks authorize-endpoint parameters against the client's
// registration and the resource configuration. Failures before the redirect
// URI is verified are never redirectable; everything after is.
type RequestValidator struct {
	clients   clients.Repo
	resources *resources.Validator
	pushed    *par.Flow
	log       zerolog.Logger
}

type RequestValidatorOption func(*RequestValidator)

// WithPushedRequests enables request_uri redemption (RFC 9126). Without it,
// authorize requests carrying a request_uri are rejected.
func WithPushedRequests(flow *par.Flow) RequestValidatorOption {
	return func(v *RequestValidator) {
		v.pushed = flow
	}
}

func NewRequestValidator(clientRepo clients.Repo, resourceValidator *resources.Validator, log zerolog.Logger, options ...RequestValidatorOption) *RequestValidator {
	v := &RequestValidator{
		clients:   clientRepo,
		resources: resourceValidator,
		log:       log.With().Str("component", "authorize").Logger(),
	}
	for _, opt := range options {
		opt(v)
	}
	return v
}

// Validate resolves the client, redeems a pushed request reference if one was
// supplied, and checks every parameter. The returned error is always an
// *Error carrying whether it may be delivered to the redirect URI.
func (v *RequestValidator) Validate(ctx context.Context, params *Parameters) (*ValidatedRequest, error) {
	if params.ClientID == "" {
		return nil, &Error{Err: oauth2.NewError(oauth2.ErrorInvalidRequest, "client_id is required")}
	}

	client, err := v.clients.Get(ctx, params.ClientID)
	if err != nil {
		if errors.Is(err, clients.ErrNotFound) {
			return nil, &Error{Err: oauth2.NewError(oauth2.ErrorInvalidRequest, "unknown client")}
		}
		v.log.Error().Err(err).Str("clientID", params.ClientID).Msg("client lookup failed")
		return nil, serverError("client lookup failed")
	}

	fromPushed := false
	if params.RequestURI != "" {
		redeemed, redeemErr := v.redeemPushedRequest(ctx, client, params.RequestURI)
		if redeemErr != nil {
			return nil, redeemErr
		}
		params = redeemed
		fromPushed = true
	}

	if client.RequirePAR && !fromPushed {
		return nil, &Error{Err: oauth2.NewError(oauth2.ErrorInvalidRequest, "this client must push authorization requests")}
	}

	if params.RedirectURI == "" {
		return nil, &Error{Err: oauth2.NewError(oauth2.ErrorInvalidRequest, "redirect_uri is required")}
	}
	if !client.RedirectURIAllowed(params.RedirectURI) {
		return nil, &Error{Err: oauth2.NewError(oauth2.ErrorInvalidRequest, "redirect_uri is not registered for this client")}
	}

	// The redirect URI is trusted from here on; later failures go back to
	// the client application.
	responseMode := params.ResponseMode
	if responseMode == "" {
		responseMode = oauth2.QueryResponseMode
	}
	fail := func(protocolErr *oauth2.Error) error {
		return &Error{
			Err:          protocolErr,
			Redirectable: true,
			RedirectURI:  params.RedirectURI,
			ResponseMode: responseMode,
			State:        params.State,
		}
	}

	if !responseModeValid(responseMode) {
		return nil, fail(oauth2.NewErrorf(oauth2.ErrorInvalidRequest, "unsupported response_mode %q", params.ResponseMode))
	}
	if params.ResponseType != oauth2.CodeResponseType {
		return nil, fail(oauth2.NewErrorf(oauth2.ErrorUnsupportedResponse, "unsupported response_type %q", params.ResponseType))
	}

	challengeMethod := params.CodeChallengeMethod
	if params.CodeChallenge != "" || challengeMethod != "" {
		if challengeMethod == "" {
			challengeMethod = oauth2.CodeMethodTypeS256
		}
		if challengeMethod != oauth2.CodeMethodTypeS256 && challengeMethod != oauth2.CodeMethodTypeNone {
			return nil, fail(oauth2.NewErrorf(oauth2.ErrorInvalidRequest, "unsupported code_challenge_method %q", params.CodeChallengeMethod))
		}
		if len(params.CodeChallenge) < minCodeVerifierLength || len(params.CodeChallenge) > maxCodeVerifierLength {
			return nil, fail(oauth2.NewError(oauth2.ErrorInvalidRequest, "code_challenge length must be between 43 and 128 characters"))
		}
	} else if client.IsPublic() || client.RequirePKCE {
		return nil, fail(oauth2.NewError(oauth2.ErrorInvalidRequest, "code_challenge is required for this client"))
	}

	requestedScopes := oauth2.ParseScopes(params.Scope)
	if len(requestedScopes) == 0 {
		return nil, fail(oauth2.NewError(oauth2.ErrorInvalidScope, "scope is required"))
	}

	result, err := v.resources.Validate(ctx, client, requestedScopes, params.Resources)
	if err != nil {
		v.log.Error().Err(err).Str("clientID", client.ID).Msg("resource validation failed")
		return nil, fail(oauth2.NewError(oauth2.ErrorServerError, "an internal error occurred"))
	}
	if len(result.InvalidScopes) > 0 {
		return nil, fail(oauth2.NewErrorf(oauth2.ErrorInvalidScope, "invalid scopes: %s", oauth2.JoinScopes(result.InvalidScopes)))
	}
	if len(result.InvalidResourceIndicators) > 0 {
		return nil, fail(oauth2.NewErrorf(oauth2.ErrorInvalidTarget, "invalid resources: %s", oauth2.JoinScopes(result.InvalidResourceIndicators)))
	}

	return &ValidatedRequest{
		Client:              client,
		ResponseType:        params.ResponseType,
		ResponseMode:        responseMode,
		RedirectURI:         params.RedirectURI,
		Scopes:              result.RawScopes,
		Resources:           result,
		ResourceIndicators:  params.Resources,
		CodeChallenge:       params.CodeChallenge,
		CodeChallengeMethod: challengeMethod,
		State:               params.State,
		Nonce:               params.Nonce,
		Prompt:              params.Prompt,
		LoginHint:           params.LoginHint,
		FromPushedRequest:   fromPushed,
		Raw:                 params.Raw,
	}, nil
}

// redeemPushedRequest swaps a request_uri reference for the parameters it was
// pushed with. The stored set replaces the front-channel set entirely; only
// client_id is checked for agreement.
func (v *RequestValidator) redeemPushedRequest(ctx context.Context, client *clients.Client, requestURI string) (*Parameters, error) {
	if v.pushed == nil {
		return nil, &Error{Err: oauth2.NewError(oauth2.ErrorInvalidRequest, "pushed authorization requests are not supported")}
	}

	stored, err := v.pushed.Redeem(ctx, client, requestURI)
	if err != nil {
		if protocolErr, ok := err.(*oauth2.Error); ok {
			return nil, &Error{Err: protocolErr}
		}
		v.log.Error().Err(err).Str("clientID", client.ID).Msg("pushed request redemption failed")
		return nil, serverError("pushed request redemption failed")
	}

	redeemed := ParseParameters(stored)
	if redeemed.ClientID != "" && redeemed.ClientID != client.ID {
		return nil, &Error{Err: oauth2.NewError(oauth2.ErrorInvalidRequest, "request_uri was pushed for another client")}
	}
	redeemed.ClientID = client.ID
	return redeemed, nil
}

func responseModeValid(mode oauth2.ResponseModeType) bool {
	switch mode {
	case oauth2.QueryResponseMode, oauth2.FragmentResponseMode, oauth2.FormPostResponseMode:
		return true
	}
	return false
}
