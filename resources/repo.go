package resources

import "context"

// Repo looks up registered resources by scope name or resource name.
// Implementations return only what matched; missing names are simply absent
// from the result rather than an error.
type Repo interface {
	FindApiResourcesByScope(ctx context.Context, scopeNames []string) ([]*ApiResource, error)
	FindApiResourcesByName(ctx context.Context, names []string) ([]*ApiResource, error)
	FindIdentityResourcesByScope(ctx context.Context, scopeNames []string) ([]*IdentityResource, error)
	FindApiScopesByName(ctx context.Context, names []string) ([]*ApiScope, error)
}
