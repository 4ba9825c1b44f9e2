package resources

import (
	"context"

	"github.com/jrsteele09/go-identity-server/clients"
	"github.com/jrsteele09/go-identity-server/oauth2"
	"github.com/pkg/errors"
)

// Validator resolves requested scopes and resource indicators against the
// registered resources and the client's allowed-scope list.
type Validator struct {
	repo Repo
}

// NewValidator creates a resource validator backed by the given repo.
func NewValidator(repo Repo) *Validator {
	return &Validator{repo: repo}
}

// Validate resolves requestedScopes and resourceIndicators for the client.
// A scope is invalid if unknown, disabled, or not in the client's allowed
// list; offline_access additionally requires the client's explicit
// AllowOfflineAccess flag. A resource indicator is invalid if it names no
// registered, enabled API resource, or one that exposes none of the requested
// scopes. Resources flagged RequireResourceIndicator only appear when
// explicitly indicated. The returned Result always carries the full
// diagnostics; callers gate on Result.Succeeded.
func (v *Validator) Validate(ctx context.Context, client *clients.Client, requestedScopes, resourceIndicators []string) (*Result, error) {
	result := &Result{}

	scopes := dedupe(requestedScopes)

	lookup := make([]string, 0, len(scopes))
	for _, scope := range scopes {
		if scope == oauth2.ScopeOfflineAccess {
			continue
		}
		lookup = append(lookup, scope)
	}

	identityResources, err := v.repo.FindIdentityResourcesByScope(ctx, lookup)
	if err != nil {
		return nil, errors.Wrap(err, "[Validator.Validate] FindIdentityResourcesByScope")
	}
	apiScopes, err := v.repo.FindApiScopesByName(ctx, lookup)
	if err != nil {
		return nil, errors.Wrap(err, "[Validator.Validate] FindApiScopesByName")
	}

	identityByName := make(map[string]*IdentityResource, len(identityResources))
	for _, identity := range identityResources {
		identityByName[identity.Name] = identity
	}
	apiScopeByName := make(map[string]*ApiScope, len(apiScopes))
	for _, apiScope := range apiScopes {
		apiScopeByName[apiScope.Name] = apiScope
	}

	grantedApiScopes := make([]string, 0, len(scopes))
	for _, scope := range scopes {
		if scope == oauth2.ScopeOfflineAccess {
			if !client.AllowOfflineAccess {
				result.InvalidScopes = append(result.InvalidScopes, scope)
				continue
			}
			result.OfflineAccess = true
			result.RawScopes = append(result.RawScopes, scope)
			continue
		}

		if !client.HasScope(scope) {
			result.InvalidScopes = append(result.InvalidScopes, scope)
			continue
		}

		if identity, ok := identityByName[scope]; ok {
			if !identity.Enabled {
				result.InvalidScopes = append(result.InvalidScopes, scope)
				continue
			}
			result.IdentityResources = append(result.IdentityResources, identity)
			result.RawScopes = append(result.RawScopes, scope)
			continue
		}

		if apiScope, ok := apiScopeByName[scope]; ok {
			if !apiScope.Enabled {
				result.InvalidScopes = append(result.InvalidScopes, scope)
				continue
			}
			result.ApiScopes = append(result.ApiScopes, apiScope)
			result.RawScopes = append(result.RawScopes, scope)
			grantedApiScopes = append(grantedApiScopes, scope)
			continue
		}

		result.InvalidScopes = append(result.InvalidScopes, scope)
	}

	indicated := dedupe(resourceIndicators)
	indicatedSet := make(map[string]bool, len(indicated))
	for _, name := range indicated {
		indicatedSet[name] = true
	}

	apiResources, err := v.repo.FindApiResourcesByScope(ctx, grantedApiScopes)
	if err != nil {
		return nil, errors.Wrap(err, "[Validator.Validate] FindApiResourcesByScope")
	}
	for _, api := range apiResources {
		if !api.Enabled {
			continue
		}
		if api.RequireResourceIndicator && !indicatedSet[api.Name] {
			continue
		}
		result.ApiResources = append(result.ApiResources, api)
	}

	if len(indicated) > 0 {
		named, err := v.repo.FindApiResourcesByName(ctx, indicated)
		if err != nil {
			return nil, errors.Wrap(err, "[Validator.Validate] FindApiResourcesByName")
		}
		namedByName := make(map[string]*ApiResource, len(named))
		for _, api := range named {
			namedByName[api.Name] = api
		}
		for _, indicator := range indicated {
			api, ok := namedByName[indicator]
			if !ok || !api.Enabled {
				result.InvalidResourceIndicators = append(result.InvalidResourceIndicators, indicator)
				continue
			}
			if !exposesAny(api, grantedApiScopes) {
				result.InvalidResourceIndicators = append(result.InvalidResourceIndicators, indicator)
				continue
			}
			if !containsResource(result.ApiResources, api.Name) {
				result.ApiResources = append(result.ApiResources, api)
			}
		}
	}

	return result, nil
}

func exposesAny(api *ApiResource, scopes []string) bool {
	for _, scope := range scopes {
		if api.HasScope(scope) {
			return true
		}
	}
	return false
}

func containsResource(apis []*ApiResource, name string) bool {
	for _, api := range apis {
		if api.Name == name {
			return true
		}
	}
	return false
}

func dedupe(values []string) []string {
	seen := make(map[string]bool, len(values))
	result := make([]string, 0, len(values))
	for _, v := range values {
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		result = append(result, v)
	}
	return result
}
