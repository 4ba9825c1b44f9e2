package oauth2

// TokenResponse represents the response from an OAuth2 token request.
// This is the standard OAuth2 token endpoint response format as defined in RFC 6749.
// Returned from the /token endpoint for all grant types.
type TokenResponse struct {
	// AccessToken is the JWT token used to access protected resources.
	// Example: "eyJhbGciOiJSUzI1NiIsInR5cCI6IkpXVCJ9..."
	// Usage: Include in Authorization header: "Bearer <access_token>" or
	// "DPoP <access_token>" for DPoP-bound tokens
	// Lifespan: Short-lived (typically 15 minutes - 1 hour)
	AccessToken *string `json:"access_token,omitempty"`

	// IdToken is the OpenID Connect ID token containing user identity information.
	// Only present: When "openid" scope was requested
	IdToken *string `json:"id_token,omitempty"`

	// TokenType indicates how to use the access token: "bearer", or "DPoP"
	// when the token is bound to the client's proof-of-possession key.
	TokenType string `json:"token_type,omitempty"`

	// ExpiresIn is the lifetime in seconds of the access token.
	// Note: This is a hint - actual expiration is in the JWT's "exp" claim
	ExpiresIn int `json:"expires_in,omitempty"`

	// RefreshToken is an opaque token used to obtain new access tokens.
	// Lifespan: Long-lived; rotates on each use.
	RefreshToken *string `json:"refresh_token,omitempty"`

	// Scope indicates the access token's granted permissions.
	// Note: May be less than requested if some scopes were denied
	Scope string `json:"scope,omitempty"`
}

// TokenErrorResponse is the RFC 6749 error shape returned from the token endpoint.
// The DPoP nonce, when present, travels in the DPoP-Nonce response header rather
// than the body; it is carried here so transport glue can set that header.
type TokenErrorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
	DPoPNonce        string `json:"-"`
}

// NewTokenErrorResponse builds a wire error response from a protocol error.
func NewTokenErrorResponse(err *Error) *TokenErrorResponse {
	return &TokenErrorResponse{
		Error:            err.Code,
		ErrorDescription: err.Description,
		DPoPNonce:        err.RetryNonce,
	}
}

// PushedAuthorizationResponse is the RFC 9126 success response from the PAR endpoint.
type PushedAuthorizationResponse struct {
	// RequestURI is the single-use reference in the form
	// urn:ietf:params:oauth:request_uri:<reference>.
	RequestURI string `json:"request_uri"`

	// ExpiresIn is the lifetime of the reference in seconds.
	ExpiresIn int `json:"expires_in"`
}

// DeviceAuthorizationResponse is the RFC 8628 device authorization response.
type DeviceAuthorizationResponse struct {
	DeviceCode              string `json:"device_code"`
	UserCode                string `json:"user_code"`
	VerificationURI         string `json:"verification_uri"`
	VerificationURIComplete string `json:"verification_uri_complete,omitempty"`
	ExpiresIn               int    `json:"expires_in"`
	Interval                int    `json:"interval,omitempty"`
}

// BackchannelAuthenticationResponse is the successful CIBA response, returning
// the auth_req_id the client polls the token endpoint with.
type BackchannelAuthenticationResponse struct {
	AuthReqID string `json:"auth_req_id"`
	ExpiresIn int    `json:"expires_in"`
	Interval  int    `json:"interval,omitempty"`
}
