package refresh

import (
	"context"
	"time"

	"github.com/pkg/errors"
)

// ErrNotFound is returned when a refresh token is not in storage, either
// because it was never issued or because it has already been consumed.
var ErrNotFound = errors.New("refresh token not found")

// StoredRefreshToken represents the server-side storage of refresh token
// metadata. The client only receives the Token field (a random string). The
// remaining fields bound what a refresh of this token may ask for: requested
// scopes and resources must stay within the Scopes and Resources granted here.
type StoredRefreshToken struct {
	Token     string    // The actual random token string (sent to client)
	SubjectID string    // End user the token was issued for (empty for machine clients)
	SessionID string    // Authentication session the grant originated from
	ClientID  string    // Client the token is bound to
	Scopes    []string  // Scopes granted at original issuance
	Resources []string  // Resource indicators granted at original issuance
	Iat       time.Time // Issued at time
	ExpiresAt time.Time // Absolute expiry
}

// Repo manages server-side storage of refresh token metadata. Refresh tokens
// sent to clients are opaque random strings; this repo stores the associated
// metadata keyed by the token string.
type Repo interface {
	Upsert(ctx context.Context, refreshToken *StoredRefreshToken) error

	// Consume atomically retrieves and removes a token. Two concurrent
	// consumers of the same token must not both succeed.
	Consume(ctx context.Context, token string) (*StoredRefreshToken, error)

	Get(ctx context.Context, token string) (*StoredRefreshToken, error)
	Delete(ctx context.Context, token string) error
	DeleteBySubject(ctx context.Context, subjectID string) error
	List(ctx context.Context, offset, limit int) ([]*StoredRefreshToken, error)
}
