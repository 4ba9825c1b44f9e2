package oauth2

import "fmt"

// Protocol error codes returned to clients. Internal detail never leaks into
// these; infrastructure failures map to ErrorServerError before leaving the engine.
const (
	ErrorInvalidRequest       = "invalid_request"
	ErrorInvalidClient        = "invalid_client"
	ErrorInvalidGrant         = "invalid_grant"
	ErrorInvalidScope         = "invalid_scope"
	ErrorInvalidTarget        = "invalid_target"
	ErrorUnauthorizedClient   = "unauthorized_client"
	ErrorUnsupportedGrantType = "unsupported_grant_type"
	ErrorUnsupportedResponse  = "unsupported_response_type"
	ErrorAccessDenied         = "access_denied"
	ErrorInvalidDPoPProof     = "invalid_dpop_proof"
	ErrorUseDPoPNonce         = "use_dpop_nonce"
	ErrorAuthorizationPending = "authorization_pending"
	ErrorSlowDown             = "slow_down"
	ErrorExpiredToken         = "expired_token"
	ErrorServerError          = "server_error"
)

// Error is a protocol-level OAuth2 error. RetryNonce carries a server-issued
// DPoP nonce when the error is the retryable use_dpop_nonce signal, or when a
// fresh nonce was minted during validation and must survive a later failure.
type Error struct {
	Code        string
	Description string
	RetryNonce  string
}

// NewError creates a protocol error with the given code and description.
func NewError(code, description string) *Error {
	return &Error{Code: code, Description: description}
}

// NewErrorf creates a protocol error with a formatted description.
func NewErrorf(code, format string, args ...any) *Error {
	return &Error{Code: code, Description: fmt.Sprintf(format, args...)}
}

func (e *Error) Error() string {
	if e.Description == "" {
		return e.Code
	}
	return e.Code + ": " + e.Description
}

// WithRetryNonce returns a copy of the error carrying a DPoP nonce for the
// client to retry with.
func (e *Error) WithRetryNonce(nonce string) *Error {
	clone := *e
	clone.RetryNonce = nonce
	return &clone
}

// IsRetryable reports whether the error is the use_dpop_nonce contract rather
// than a conventional failure.
func (e *Error) IsRetryable() bool {
	return e.Code == ErrorUseDPoPNonce
}

// AsError extracts a protocol error from err, or wraps err as a generic
// server_error so that internal failure detail never reaches the client.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	if protocolErr, ok := err.(*Error); ok {
		return protocolErr
	}
	return NewError(ErrorServerError, "an internal error occurred")
}
