package clients

import (
	"time"

	"github.com/jrsteele09/go-identity-server/oauth2"
)

type ClientType string

const (
	ClientTypeConfidential ClientType = "confidential" // Can keep secrets (server-side apps)
	ClientTypePublic       ClientType = "public"       // Cannot keep secrets (SPAs, mobile apps)
)

// DPoPMode selects the freshness check applied to DPoP proofs for a client.
type DPoPMode string

const (
	// DPoPModeIAT validates the proof's iat claim against the client clock skew.
	DPoPModeIAT DPoPMode = "iat"

	// DPoPModeNonce requires a server-issued nonce in the proof. A missing or
	// stale nonce is answered with use_dpop_nonce and a fresh nonce to retry with.
	DPoPModeNonce DPoPMode = "nonce"
)

// DPoPPolicy controls RFC 9449 proof-of-possession validation for a client.
type DPoPPolicy struct {
	// Required forces every token request from this client to carry a DPoP proof.
	Required bool `json:"required"`

	// Mode selects iat-based or server-nonce-based freshness validation.
	// Defaults to DPoPModeIAT when empty.
	Mode DPoPMode `json:"mode,omitempty"`

	// ClockSkew is the tolerated difference between the client's clock and
	// ours when validating proof timestamps in iat mode.
	ClockSkew time.Duration `json:"clockSkew,omitempty"`
}

type Client struct {
	ID           string     `json:"id"`
	Type         ClientType `json:"type"` // public or confidential
	Description  string     `json:"description"`
	Secret       string     `json:"secret"`
	RedirectURIs []string   `json:"redirectURIs"`
	Scopes       []string   `json:"scopes"` // Allowed scopes for this client

	// GrantTypes lists the token-endpoint grants this client may use.
	GrantTypes []oauth2.GrantType `json:"grantTypes"`

	// AllowOfflineAccess permits the offline_access scope (refresh tokens).
	// Never implied by the scope list alone.
	AllowOfflineAccess bool `json:"allowOfflineAccess"`

	// RequireConsent forces the consent interaction before issuing anything
	// to this client, unless a matching stored consent exists.
	RequireConsent bool `json:"requireConsent"`

	// RequirePKCE forces a code challenge on authorize requests even for
	// confidential clients. Public clients always require PKCE.
	RequirePKCE bool `json:"requirePKCE"`

	// RequirePAR rejects authorize requests that did not arrive via a pushed
	// authorization request reference (RFC 9126).
	RequirePAR bool `json:"requirePAR"`

	// DPoP is the proof-of-possession policy for this client.
	DPoP DPoPPolicy `json:"dpop"`

	// IdPRedirectURL, when set, sends unauthenticated users to an upstream
	// identity provider instead of the local login page.
	IdPRedirectURL string `json:"idpRedirectURL,omitempty"`

	// AllowAccountCreation enables the create-account interaction for
	// authorize requests carrying prompt=create.
	AllowAccountCreation bool `json:"allowAccountCreation,omitempty"`
}

// IsPublic returns true if the client is a public client
func (c *Client) IsPublic() bool {
	return c.Type == ClientTypePublic
}

// HasScope checks if the client has permission for a specific scope
func (c *Client) HasScope(scope string) bool {
	for _, s := range c.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// HasGrantType checks whether the client may use the given grant type.
func (c *Client) HasGrantType(grantType oauth2.GrantType) bool {
	for _, g := range c.GrantTypes {
		if g == grantType {
			return true
		}
	}
	return false
}

// RedirectURIAllowed checks a redirect URI against the registered whitelist.
// Matching is exact to prevent open redirects.
func (c *Client) RedirectURIAllowed(uri string) bool {
	for _, registered := range c.RedirectURIs {
		if uri == registered {
			return true
		}
	}
	return false
}

// DPoPValidationMode returns the configured mode, defaulting to iat validation.
func (c *Client) DPoPValidationMode() DPoPMode {
	if c.DPoP.Mode == "" {
		return DPoPModeIAT
	}
	return c.DPoP.Mode
}
