package grants

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/jrsteele09/go-identity-server/clients"
	"github.com/jrsteele09/go-identity-server/oauth2"
	"github.com/jrsteele09/go-identity-server/resources"
	"github.com/pkg/errors"
)

// userCodeCharset deliberately omits vowels and ambiguous characters so the
// code a user has to type cannot spell words and survives bad handwriting.
const userCodeCharset = "BCDFGHJKLMNPQRSTVWXZ"

const (
	defaultDeviceCodeLifetime = 10 * time.Minute
	defaultPollInterval       = 5 * time.Second
)

// DeviceFlow issues device authorizations (RFC 8628) and records the end
// user's decision. Polling happens at the token endpoint via DeviceCodeValidator.
type DeviceFlow struct {
	devices         DeviceCodeRepo
	scopes          *resources.Validator
	verificationURI string
	lifetime        time.Duration
	interval        time.Duration
	nowFunc         func() time.Time
}

type DeviceFlowOption func(*DeviceFlow)

func WithDeviceCodeLifetime(lifetime time.Duration) DeviceFlowOption {
	return func(f *DeviceFlow) {
		f.lifetime = lifetime
	}
}

func WithPollInterval(interval time.Duration) DeviceFlowOption {
	return func(f *DeviceFlow) {
		f.interval = interval
	}
}

func WithDeviceFlowNowFunc(now func() time.Time) DeviceFlowOption {
	return func(f *DeviceFlow) {
		f.nowFunc = now
	}
}

func NewDeviceFlow(devices DeviceCodeRepo, scopeValidator *resources.Validator, verificationURI string, options ...DeviceFlowOption) *DeviceFlow {
	f := &DeviceFlow{
		devices:         devices,
		scopes:          scopeValidator,
		verificationURI: verificationURI,
		lifetime:        defaultDeviceCodeLifetime,
		interval:        defaultPollInterval,
		nowFunc:         time.Now,
	}
	for _, opt := range options {
		opt(f)
	}
	return f
}

// Start validates the request and issues a pending device_code/user_code pair
func (f *DeviceFlow) Start(ctx context.Context, client *clients.Client, scope string, resourceIndicators []string) (*oauth2.DeviceAuthorizationResponse, error) {
	if !client.HasGrantType(oauth2.DeviceCodeGrant) {
		return nil, oauth2.NewError(oauth2.ErrorUnauthorizedClient, "client is not allowed to use the device flow")
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

	deviceCode, err := randomToken(32)
	if err != nil {
		return nil, oauth2.NewError(oauth2.ErrorServerError, "device code generation failed")
	}
	userCode, err := generateUserCode()
	if err != nil {
		return nil, oauth2.NewError(oauth2.ErrorServerError, "user code generation failed")
	}

	record := &DeviceCode{
		DeviceCode: deviceCode,
		UserCode:   userCode,
		ClientID:   client.ID,
		Scopes:     result.RawScopes,
		Resources:  resourceIndicators,
		Status:     StatusPending,
		Interval:   f.interval,
		ExpiresAt:  f.nowFunc().Add(f.lifetime),
	}
	if err := f.devices.Upsert(ctx, record); err != nil {
		return nil, oauth2.NewError(oauth2.ErrorServerError, "device code storage failed")
	}

	return &oauth2.DeviceAuthorizationResponse{
		DeviceCode:              deviceCode,
		UserCode:                userCode,
		VerificationURI:         f.verificationURI,
		VerificationURIComplete: fmt.Sprintf("%s?user_code=%s", f.verificationURI, userCode),
		ExpiresIn:               int(f.lifetime.Seconds()),
		Interval:                int(f.interval.Seconds()),
	}, nil
}

// Approve records the end user's approval for the given user code
func (f *DeviceFlow) Approve(ctx context.Context, userCode, subjectID string) error {
	return f.decide(ctx, userCode, StatusAuthorized, subjectID)
}

// Deny records the end user's refusal for the given user code
func (f *DeviceFlow) Deny(ctx context.Context, userCode string) error {
	return f.decide(ctx, userCode, StatusDenied, "")
}

func (f *DeviceFlow) decide(ctx context.Context, userCode string, status DeviceFlowStatus, subjectID string) error {
	record, err := f.devices.GetByUserCode(ctx, normalizeUserCode(userCode))
	if err != nil {
		return errors.Wrap(err, "[DeviceFlow.decide] GetByUserCode")
	}
	if f.nowFunc().After(record.ExpiresAt) {
		return errors.New("device authorization expired")
	}
	if record.Status != StatusPending {
		return errors.New("device authorization already decided")
	}

	record.Status = status
	record.SubjectID = subjectID
	return f.devices.Upsert(ctx, record)
}

func randomToken(length int) (string, error) {
	raw := make([]byte, length)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// generateUserCode produces a code in the form XXXX-XXXX
func generateUserCode() (string, error) {
	raw := make([]byte, 8)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}

	code := make([]byte, 0, 9)
	for i, b := range raw {
		if i == 4 {
			code = append(code, '-')
		}
		code = append(code, userCodeCharset[int(b)%len(userCodeCharset)])
	}
	return string(code), nil
}

// normalizeUserCode forgives the formatting users actually type
func normalizeUserCode(userCode string) string {
	upper := strings.ToUpper(strings.TrimSpace(userCode))
	if !strings.Contains(upper, "-") && len(upper) == 8 {
		return upper[:4] + "-" + upper[4:]
	}
	return upper
}
