// Package authorize implements the authorize-endpoint half of the protocol
// engine: parameter validation, the interaction decision, and authorization
// code issuance.
package authorize

import (
	"net/url"

	"github.com/jrsteele09/go-identity-server/clients"
	"github.com/jrsteele09/go-identity-server/oauth2"
	"github.com/jrsteele09/go-identity-server/resources"
)

// Parameters holds an authorize request as received, before any validation.
type Parameters struct {
	ClientID            string
	ResponseType        oauth2.ResponseType
	RedirectURI         string
	ResponseMode        oauth2.ResponseModeType
	Scope               string
	State               string
	Nonce               string
	CodeChallenge       string
	CodeChallengeMethod oauth2.CodeMethodType
	Resources           []string
	Prompt              string
	LoginHint           string
	RequestURI          string

	// Raw is the parameter set exactly as received, echoed into consent
	// hashing and audit trails.
	Raw url.Values
}

// ParseParameters reads an authorize request out of its query or form values
func ParseParameters(values url.Values) *Parameters {
	return &Parameters{
		ClientID:            values.Get("client_id"),
		ResponseType:        oauth2.ResponseType(values.Get("response_type")),
		RedirectURI:         values.Get("redirect_uri"),
		ResponseMode:        oauth2.ResponseModeType(values.Get("response_mode")),
		Scope:               values.Get("scope"),
		State:               values.Get("state"),
		Nonce:               values.Get("nonce"),
		CodeChallenge:       values.Get("code_challenge"),
		CodeChallengeMethod: oauth2.CodeMethodType(values.Get("code_challenge_method")),
		Resources:           values["resource"],
		Prompt:              values.Get("prompt"),
		LoginHint:           values.Get("login_hint"),
		RequestURI:          values.Get("request_uri"),
		Raw:                 values,
	}
}

// ValidatedRequest is the outcome of authorize validation: the resolved
// client and the checked parameter set. Created once per request and
// read-only thereafter.
type ValidatedRequest struct {
	Client              *clients.Client
	ResponseType        oauth2.ResponseType
	ResponseMode        oauth2.ResponseModeType
	RedirectURI         string
	Scopes              []string
	Resources           *resources.Result
	ResourceIndicators  []string
	CodeChallenge       string
	CodeChallengeMethod oauth2.CodeMethodType
	State               string
	Nonce               string
	Prompt              string
	LoginHint           string

	// FromPushedRequest is set when the parameters arrived via a PAR
	// reference rather than the front channel.
	FromPushedRequest bool

	Raw url.Values
}

// redirectError wraps a protocol error for delivery to the request's
// already-verified redirect URI.
func (r *ValidatedRequest) redirectError(protocolErr *oauth2.Error) *Error {
	return &Error{
		Err:          protocolErr,
		Redirectable: true,
		RedirectURI:  r.RedirectURI,
		ResponseMode: r.ResponseMode,
		State:        r.State,
	}
}

// Error is an authorize-endpoint failure. Redirectable reports whether the
// error may be delivered to the client's redirect URI; validation failures
// before the redirect URI itself is trusted must render at the server instead.
type Error struct {
	Err          *oauth2.Error
	Redirectable bool
	RedirectURI  string
	ResponseMode oauth2.ResponseModeType
	State        string
}

func (e *Error) Error() string {
	return e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// serverError is for infrastructure failures: generic code, never redirected
func serverError(description string) *Error {
	return &Error{Err: oauth2.NewError(oauth2.ErrorServerError, description)}
}
