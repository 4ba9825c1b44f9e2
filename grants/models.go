package grants

import (
	"time"

	"github.com/jrsteele09/go-identity-server/oauth2"
)

// Code is the server-side record behind an authorization code. The code
// itself is an opaque random string; everything the token endpoint needs to
// finish the flow is stored here. Codes are single use.
type Code struct {
	Code                string
	ClientID            string
	SubjectID           string
	SessionID           string
	RedirectURI         string
	Scopes              []string
	Resources           []string // resource indicators authorized at the authorize endpoint
	Nonce               string
	CodeChallenge       string
	CodeChallengeMethod oauth2.CodeMethodType
	AuthTime            time.Time
	ExpiresAt           time.Time
}

// DeviceFlowStatus tracks where a device or backchannel authorization stands
// between issuance and the end user's decision.
type DeviceFlowStatus string

const (
	StatusPending    DeviceFlowStatus = "pending"
	StatusAuthorized DeviceFlowStatus = "authorized"
	StatusDenied     DeviceFlowStatus = "denied"
)

// DeviceCode is the record behind an RFC 8628 device authorization: the
// long device_code the device polls with, and the short user_code the end
// user types in on a second device.
type DeviceCode struct {
	DeviceCode   string
	UserCode     string
	ClientID     string
	SubjectID    string // set when the user approves
	Scopes       []string
	Resources    []string
	Status       DeviceFlowStatus
	Interval     time.Duration // minimum time between polls
	LastPolledAt time.Time
	ExpiresAt    time.Time
}

// BackchannelRequest is the record behind a CIBA authentication request,
// keyed by auth_req_id and polled at the token endpoint.
type BackchannelRequest struct {
	AuthReqID    string
	ClientID     string
	SubjectID    string
	Scopes       []string
	Resources    []string
	Status       DeviceFlowStatus
	Interval     time.Duration
	LastPolledAt time.Time
	ExpiresAt    time.Time
}
