// Package par implements RFC 9126 pushed authorization requests: authorize
// parameters are registered ahead of time and later redeemed at the authorize
// endpoint through a single-use reference URI.
package par

import (
	"context"
	"net/url"
	"time"

	"github.com/pkg/errors"
)

// ErrNotFound is returned when a request URI does not exist in storage.
var ErrNotFound = errors.New("pushed authorization request not found")

// StoredRequest is a pushed authorization request at rest. The parameters are
// stored raw and unvalidated; redemption re-runs full authorize validation,
// so a stale client record can never resurrect an approval it no longer has.
type StoredRequest struct {
	RequestURI string
	ClientID   string
	Parameters url.Values
	Consumed   bool
	CreatedAt  time.Time
	ExpiresAt  time.Time
}

// Repo stores pushed authorization requests between push and redemption.
type Repo interface {
	Store(ctx context.Context, request *StoredRequest) error
	Get(ctx context.Context, requestURI string) (*StoredRequest, error)

	// Consume marks the request used and returns its state as of before the
	// update. The update must be atomic: of two concurrent redemptions,
	// exactly one observes Consumed false. Consuming an already-consumed
	// request is a no-op, not an error, tolerating retries.
	Consume(ctx context.Context, requestURI string) (*StoredRequest, error)

	Remove(ctx context.Context, requestURI string) error
}
