package grants

import (
	"context"
	"strings"
	"time"

	"github.com/jrsteele09/go-identity-server/oauth2"
	"github.com/jrsteele09/go-identity-server/token"
)

// DeviceCodeValidator handles token-endpoint polling for the device flow.
// Until the user decides, polls answer authorization_pending; polls faster
// than the advertised interval answer slow_down. An authorized record is
// consumed on first successful redemption.
type DeviceCodeValidator struct {
	devices DeviceCodeRepo
	nowFunc func() time.Time
}

func NewDeviceCodeValidator(devices DeviceCodeRepo) *DeviceCodeValidator {
	return &DeviceCodeValidator{devices: devices, nowFunc: time.Now}
}

// WithNowFunc overrides the clock, for tests
func (g *DeviceCodeValidator) WithNowFunc(now func() time.Time) *DeviceCodeValidator {
	g.nowFunc = now
	return g
}

func (g *DeviceCodeValidator) Validate(ctx context.Context, req *Request) (*token.Grant, error) {
	if strings.TrimSpace(req.DeviceCode) == "" {
		return nil, oauth2.NewError(oauth2.ErrorInvalidRequest, "device_code is required")
	}

	record, err := g.devices.GetByDeviceCode(ctx, req.DeviceCode)
	if err != nil {
		return nil, oauth2.NewError(oauth2.ErrorInvalidGrant, "invalid device code")
	}

	if record.ClientID != req.Client.ID {
		return nil, oauth2.NewError(oauth2.ErrorInvalidGrant, "device code was issued to another client")
	}

	now := g.nowFunc()
	if now.After(record.ExpiresAt) {
		return nil, oauth2.NewError(oauth2.ErrorExpiredToken, "device code expired")
	}

	if !record.LastPolledAt.IsZero() && now.Sub(record.LastPolledAt) < record.Interval {
		return nil, oauth2.NewError(oauth2.ErrorSlowDown, "polling too frequently")
	}
	// Touch in place rather than writing the whole record back; a stale
	// copy must never overwrite a concurrent user decision
	if err := g.devices.TouchLastPolled(ctx, record.DeviceCode, now); err != nil {
		return nil, oauth2.NewError(oauth2.ErrorInvalidGrant, "invalid device code")
	}

	switch record.Status {
	case StatusPending:
		return nil, oauth2.NewError(oauth2.ErrorAuthorizationPending, "the user has not yet completed authorization")
	case StatusDenied:
		return nil, oauth2.NewError(oauth2.ErrorAccessDenied, "the user denied the request")
	case StatusAuthorized:
	default:
		return nil, oauth2.NewError(oauth2.ErrorInvalidGrant, "invalid device code")
	}

	consumed, err := g.devices.Consume(ctx, record.DeviceCode)
	if err != nil {
		return nil, oauth2.NewError(oauth2.ErrorInvalidGrant, "invalid device code")
	}

	return &token.Grant{
		ClientID:          req.Client.ID,
		SubjectID:         consumed.SubjectID,
		Scopes:            consumed.Scopes,
		Resources:         consumed.Resources,
		IssueIDToken:      oauth2.ContainsScope(consumed.Scopes, oauth2.ScopeOpenID),
		IssueRefreshToken: oauth2.ContainsScope(consumed.Scopes, oauth2.ScopeOfflineAccess),
	}, nil
}
