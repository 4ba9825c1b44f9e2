package resources

import "github.com/jrsteele09/go-identity-server/oauth2"

// Result is the outcome of resource validation: the resolved resources and
// scopes for a request, plus diagnostics for anything that failed. A Result
// is created once by Validator.Validate and read-only thereafter.
type Result struct {
	IdentityResources []*IdentityResource
	ApiResources      []*ApiResource
	ApiScopes         []*ApiScope

	// OfflineAccess is set when offline_access was requested and allowed.
	OfflineAccess bool

	// RawScopes holds the granted scope values exactly as requested.
	RawScopes []string

	// InvalidScopes lists requested scopes that are unknown, disabled, or not
	// allowed for the client.
	InvalidScopes []string

	// InvalidResourceIndicators lists resource parameters that name no
	// registered resource, or a resource exposing none of the requested scopes.
	InvalidResourceIndicators []string
}

// Succeeded reports whether every requested scope and resource indicator resolved.
func (r *Result) Succeeded() bool {
	return len(r.InvalidScopes) == 0 && len(r.InvalidResourceIndicators) == 0
}

// ScopeString returns the granted scopes in wire format.
func (r *Result) ScopeString() string {
	return oauth2.JoinScopes(r.RawScopes)
}

// Audiences returns the names of the resolved API resources.
func (r *Result) Audiences() []string {
	audiences := make([]string, 0, len(r.ApiResources))
	for _, api := range r.ApiResources {
		audiences = append(audiences, api.Name)
	}
	return audiences
}

// FilterByResourceIndicator narrows the result to a single API resource, or,
// with an empty indicator, to the union of all resources that do not require
// an explicit indicator. Identity scopes and the offline-access flag are
// always retained; API scopes are cut down to those the surviving resources
// expose.
func (r *Result) FilterByResourceIndicator(indicator string) *Result {
	filtered := &Result{
		IdentityResources: r.IdentityResources,
		OfflineAccess:     r.OfflineAccess,
	}

	for _, api := range r.ApiResources {
		if indicator == "" {
			if !api.RequireResourceIndicator {
				filtered.ApiResources = append(filtered.ApiResources, api)
			}
			continue
		}
		if api.Name == indicator {
			filtered.ApiResources = append(filtered.ApiResources, api)
		}
	}

	exposed := func(scope string) bool {
		for _, api := range filtered.ApiResources {
			if api.HasScope(scope) {
				return true
			}
		}
		return false
	}

	for _, apiScope := range r.ApiScopes {
		if indicator == "" || exposed(apiScope.Name) {
			filtered.ApiScopes = append(filtered.ApiScopes, apiScope)
		}
	}

	identityScope := func(scope string) bool {
		for _, id := range filtered.IdentityResources {
			if id.Name == scope {
				return true
			}
		}
		return false
	}

	for _, raw := range r.RawScopes {
		if raw == oauth2.ScopeOfflineAccess || identityScope(raw) {
			filtered.RawScopes = append(filtered.RawScopes, raw)
			continue
		}
		if indicator == "" {
			filtered.RawScopes = append(filtered.RawScopes, raw)
			continue
		}
		if exposed(raw) {
			filtered.RawScopes = append(filtered.RawScopes, raw)
		}
	}

	return filtered
}
