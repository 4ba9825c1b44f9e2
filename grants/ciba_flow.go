package grants

import (
	"context"
	"strings"
	"time"

	"github.com/jrsteele09/go-identity-server/clients"
	"github.com/jrsteele09/go-identity-server/oauth2"
	"github.com/jrsteele09/go-identity-server/resources"
	"github.com/jrsteele09/go-identity-server/users"
	"github.com/pkg/errors"
)

const defaultBackchannelLifetime = 5 * time.Minute

// BackchannelFlow issues CIBA authentication requests. The client names an
// end user via login_hint; an out-of-band authentication device records the
// user's decision while the client polls the token endpoint with the
// auth_req_id.
type BackchannelFlow struct {
	requests BackchannelRepo
	users    users.UserRepo
	scopes   *resources.Validator
	lifetime time.Duration
	interval time.Duration
	nowFunc  func() time.Time
}

type BackchannelFlowOption func(*BackchannelFlow)

func WithBackchannelLifetime(lifetime time.Duration) BackchannelFlowOption {
	return func(f *BackchannelFlow) {
		f.lifetime = lifetime
	}
}

func WithBackchannelPollInterval(interval time.Duration) BackchannelFlowOption {
	return func(f *BackchannelFlow) {
		f.interval = interval
	}
}

func WithBackchannelNowFunc(now func() time.Time) BackchannelFlowOption {
	return func(f *BackchannelFlow) {
		f.nowFunc = now
	}
}

func NewBackchannelFlow(requests BackchannelRepo, userRepo users.UserRepo, scopeValidator *resources.Validator, options ...BackchannelFlowOption) *BackchannelFlow {
	f := &BackchannelFlow{
		requests: requests,
		users:    userRepo,
		scopes:   scopeValidator,
		lifetime: defaultBackchannelLifetime,
		interval: defaultPollInterval,
		nowFunc:  time.Now,
	}
	for _, opt := range options {
		opt(f)
	}
	return f
}

// Start validates the request, resolves the login hint, and records a
// pending authentication request
func (f *BackchannelFlow) Start(ctx context.Context, client *clients.Client, scope, loginHint string, resourceIndicators []string) (*oauth2.BackchannelAuthenticationResponse, error) {
	if !client.HasGrantType(oauth2.CIBAGrant) {
		return nil, oauth2.NewError(oauth2.ErrorUnauthorizedClient, "client is not allowed to use backchannel authentication")
	}
	if strings.TrimSpace(loginHint) == "" {
		return nil, oauth2.NewError(oauth2.ErrorInvalidRequest, "login_hint is required")
	}

	user, err := f.users.GetByEmail(ctx, loginHint)
	if err != nil {
		user, err = f.users.GetByUsername(ctx, loginHint)
	}
	if err != nil || !user.Active() {
		// unknown_user_id per the CIBA spec taxonomy
		return nil, oauth2.NewError("unknown_user_id", "login_hint does not identify an active user")
	}

	requestedScopes := oauth2.ParseScopes(scope)
	result, err := f.scopes.Validate(ctx, client, requestedScopes, resourceIndicators)
	if err != nil {
		return nil, oauth2.NewError(oauth2.ErrorServerError, "scope validation failed")
	}
	if len(result.InvalidScopes) > 0 {
		return nil, oauth2.NewErrorf(oauth2.ErrorInvalidScope, "invalid scopes: %s", strings.Join(result.InvalidScopes, " "))
	}
	if len(result.InvalidResourceIndicators) > 0 {
		return nil, oauth2.NewErrorf(oauth2.ErrorInvalidTarget, "invalid resource indicators: %s", strings.Join(result.InvalidResourceIndicators, " "))
	}

	authReqID, err := randomToken(32)
	if err != nil {
		return nil, oauth2.NewError(oauth2.ErrorServerError, "auth_req_id generation failed")
	}

	record := &BackchannelRequest{
		AuthReqID: authReqID,
		ClientID:  client.ID,
		SubjectID: user.ID,
		Scopes:    result.RawScopes,
		Resources: resourceIndicators,
		Status:    StatusPending,
		Interval:  f.interval,
		ExpiresAt: f.nowFunc().Add(f.lifetime),
	}
	if err := f.requests.Upsert(ctx, record); err != nil {
		return nil, oauth2.NewError(oauth2.ErrorServerError, "backchannel request storage failed")
	}

	return &oauth2.BackchannelAuthenticationResponse{
		AuthReqID: authReqID,
		ExpiresIn: int(f.lifetime.Seconds()),
		Interval:  int(f.interval.Seconds()),
	}, nil
}

// Approve records the user's authentication for a pending request
func (f *BackchannelFlow) Approve(ctx context.Context, authReqID string) error {
	return f.decide(ctx, authReqID, StatusAuthorized)
}

// Deny records the user's refusal for a pending request
func (f *BackchannelFlow) Deny(ctx context.Context, authReqID string) error {
	return f.decide(ctx, authReqID, StatusDenied)
}

func (f *BackchannelFlow) decide(ctx context.Context, authReqID string, status DeviceFlowStatus) error {
	record, err := f.requests.Get(ctx, authReqID)
	if err != nil {
		return errors.Wrap(err, "[BackchannelFlow.decide] Get")
	}
	if f.nowFunc().After(record.ExpiresAt) {
		return errors.New("authentication request expired")
	}
	if record.Status != StatusPending {
		return errors.New("authentication request already decided")
	}

	record.Status = status
	return f.requests.Upsert(ctx, record)
}
