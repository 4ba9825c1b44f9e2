// Package resources models the protected resources an access token can be
// issued for: identity resources (OIDC claim bundles), API scopes, and the
// API resources (audiences) that expose them.
package resources

// IdentityResource is a named bundle of user claims requested via an OIDC
// scope such as "openid", "profile" or "email".
type IdentityResource struct {
	Name        string   `json:"name"`
	DisplayName string   `json:"displayName,omitempty"`
	Enabled     bool     `json:"enabled"`
	UserClaims  []string `json:"userClaims,omitempty"`
}

// ApiScope is a permission that one or more API resources expose.
type ApiScope struct {
	Name        string `json:"name"`
	DisplayName string `json:"displayName,omitempty"`
	Enabled     bool   `json:"enabled"`
}

// ApiResource is an audience a token can target. Several resources may share
// a scope name; the resource indicator parameter disambiguates which audience
// a token is minted for.
type ApiResource struct {
	Name        string   `json:"name"`
	DisplayName string   `json:"displayName,omitempty"`
	Enabled     bool     `json:"enabled"`
	Scopes      []string `json:"scopes"`

	// RequireResourceIndicator keeps this resource out of token audiences
	// unless the request names it explicitly. Used to isolate audiences that
	// must never appear in a shared-audience token.
	RequireResourceIndicator bool `json:"requireResourceIndicator,omitempty"`
}

// HasScope reports whether the resource exposes the given scope.
func (r *ApiResource) HasScope(scope string) bool {
	for _, s := range r.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}
