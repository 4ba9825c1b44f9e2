package par

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"net/url"
	"strings"
	"time"

	"github.com/jrsteele09/go-identity-server/clients"
	"github.com/jrsteele09/go-identity-server/oauth2"
	"github.com/pkg/errors"
)

const (
	// referenceEntropy is the number of random bytes in a request URI
	// reference. 32 bytes comfortably clears the 160-bit floor below which
	// a reference becomes guessable.
	referenceEntropy = 32

	defaultRequestLifetime = 90 * time.Second
)

// Flow accepts pushed authorization requests and redeems their references.
type Flow struct {
	repo     Repo
	lifetime time.Duration
	nowFunc  func() time.Time
}

type FlowOption func(*Flow)

// WithRequestLifetime sets how long a pushed request stays redeemable
func WithRequestLifetime(lifetime time.Duration) FlowOption {
	return func(f *Flow) {
		f.lifetime = lifetime
	}
}

func WithNowFunc(now func() time.Time) FlowOption {
	return func(f *Flow) {
		f.nowFunc = now
	}
}

func NewFlow(repo Repo, options ...FlowOption) *Flow {
	f := &Flow{
		repo:     repo,
		lifetime: defaultRequestLifetime,
		nowFunc:  time.Now,
	}
	for _, opt := range options {
		opt(f)
	}
	return f
}

// Push stores the raw parameter set under a fresh single-use reference.
// The parameters are not validated here; the authorize endpoint re-validates
// everything at redemption time.
func (f *Flow) Push(ctx context.Context, client *clients.Client, parameters url.Values) (*oauth2.PushedAuthorizationResponse, error) {
	if parameters.Get("request_uri") != "" {
		return nil, oauth2.NewError(oauth2.ErrorInvalidRequest, "request_uri is not allowed in a pushed request")
	}

	raw := make([]byte, referenceEntropy)
	if _, err := rand.Read(raw); err != nil {
		return nil, errors.Wrap(err, "[Flow.Push] rand.Read")
	}
	requestURI := oauth2.PARRequestURIPrefix + base64.RawURLEncoding.EncodeToString(raw)

	now := f.nowFunc()
	if err := f.repo.Store(ctx, &StoredRequest{
		RequestURI: requestURI,
		ClientID:   client.ID,
		Parameters: parameters,
		CreatedAt:  now,
		ExpiresAt:  now.Add(f.lifetime),
	}); err != nil {
		return nil, errors.Wrap(err, "[Flow.Push] Store")
	}

	return &oauth2.PushedAuthorizationResponse{
		RequestURI: requestURI,
		ExpiresIn:  int(f.lifetime.Seconds()),
	}, nil
}

// Redeem consumes a reference and returns the stored parameter set. A
// reference redeems at most once, and only before expiry, and only for the
// client that pushed it. Every failure is fail closed: the reference is
// either untouched (not found) or already burned.
func (f *Flow) Redeem(ctx context.Context, client *clients.Client, requestURI string) (url.Values, error) {
	if !strings.HasPrefix(requestURI, oauth2.PARRequestURIPrefix) {
		return nil, oauth2.NewError(oauth2.ErrorInvalidRequest, "malformed request_uri")
	}

	before, err := f.repo.Consume(ctx, requestURI)
	if err != nil {
		return nil, oauth2.NewError(oauth2.ErrorInvalidRequest, "unknown request_uri")
	}

	if before.Consumed {
		return nil, oauth2.NewError(oauth2.ErrorInvalidRequest, "request_uri has already been used")
	}
	if f.nowFunc().After(before.ExpiresAt) {
		_ = f.repo.Remove(ctx, requestURI)
		return nil, oauth2.NewError(oauth2.ErrorInvalidRequest, "request_uri has expired")
	}
	if before.ClientID != client.ID {
		return nil, oauth2.NewError(oauth2.ErrorInvalidRequest, "request_uri was pushed by another client")
	}

	return before.Parameters, nil
}
