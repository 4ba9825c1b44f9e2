package resourcerepofakes

import (
	"context"
	"sync"

	"github.com/jrsteele09/go-identity-server/resources"
)

var _ resources.Repo = (*FakeResourceRepo)(nil)

// FakeResourceRepo is an in-memory resources.Repo for tests.
type FakeResourceRepo struct {
	lock              sync.RWMutex
	identityResources []*resources.IdentityResource
	apiScopes         []*resources.ApiScope
	apiResources      []*resources.ApiResource
}

func NewFakeResourceRepo() *FakeResourceRepo {
	return &FakeResourceRepo{}
}

func (r *FakeResourceRepo) AddIdentityResource(identity *resources.IdentityResource) {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.identityResources = append(r.identityResources, identity)
}

func (r *FakeResourceRepo) AddApiScope(apiScope *resources.ApiScope) {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.apiScopes = append(r.apiScopes, apiScope)
}

func (r *FakeResourceRepo) AddApiResource(api *resources.ApiResource) {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.apiResources = append(r.apiResources, api)
}

func (r *FakeResourceRepo) FindApiResourcesByScope(_ context.Context, scopeNames []string) ([]*resources.ApiResource, error) {
	r.lock.RLock()
	defer r.lock.RUnlock()
	result := make([]*resources.ApiResource, 0)
	for _, api := range r.apiResources {
		for _, scope := range scopeNames {
			if api.HasScope(scope) {
				result = append(result, api)
				break
			}
		}
	}
	return result, nil
}

func (r *FakeResourceRepo) FindApiResourcesByName(_ context.Context, names []string) ([]*resources.ApiResource, error) {
	r.lock.RLock()
	defer r.lock.RUnlock()
	result := make([]*resources.ApiResource, 0)
	for _, api := range r.apiResources {
		for _, name := range names {
			if api.Name == name {
				result = append(result, api)
				break
			}
		}
	}
	return result, nil
}

func (r *FakeResourceRepo) FindIdentityResourcesByScope(_ context.Context, scopeNames []string) ([]*resources.IdentityResource, error) {
	r.lock.RLock()
	defer r.lock.RUnlock()
	result := make([]*resources.IdentityResource, 0)
	for _, identity := range r.identityResources {
		for _, scope := range scopeNames {
			if identity.Name == scope {
				result = append(result, identity)
				break
			}
		}
	}
	return result, nil
}

func (r *FakeResourceRepo) FindApiScopesByName(_ context.Context, names []string) ([]*resources.ApiScope, error) {
	r.lock.RLock()
	defer r.lock.RUnlock()
	result := make([]*resources.ApiScope, 0)
	for _, apiScope := range r.apiScopes {
		for _, name := range names {
			if apiScope.Name == name {
				result = append(result, apiScope)
				break
			}
		}
	}
	return result, nil
}
