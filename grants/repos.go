package grants

import (
	"context"
	"time"

	"github.com/pkg/errors"
)

// ErrNotFound is returned by the grant stores when a record does not exist,
// has expired out of storage, or has already been consumed.
var ErrNotFound = errors.New("grant record not found")

// CodeRepo stores authorization codes between the authorize and token
// endpoints.
type CodeRepo interface {
	Upsert(ctx context.Context, code *Code) error

	// Consume atomically retrieves and removes a code. Two concurrent
	// redemptions of the same code must not both succeed.
	Consume(ctx context.Context, code string) (*Code, error)
}

// DeviceCodeRepo stores device authorization records between issuance,
// user approval, and token-endpoint polling.
type DeviceCodeRepo interface {
	Upsert(ctx context.Context, record *DeviceCode) error
	GetByDeviceCode(ctx context.Context, deviceCode string) (*DeviceCode, error)
	GetByUserCode(ctx context.Context, userCode string) (*DeviceCode, error)

	// TouchLastPolled records a poll against the stored record without
	// rewriting anything else, so a poll racing a user decision can never
	// revert it.
	TouchLastPolled(ctx context.Context, deviceCode string, now time.Time) error

	// Consume atomically retrieves and removes an authorized record so the
	// device_code cannot be redeemed twice.
	Consume(ctx context.Context, deviceCode string) (*DeviceCode, error)
}

// BackchannelRepo stores CIBA authentication requests keyed by auth_req_id.
type BackchannelRepo interface {
	Upsert(ctx context.Context, record *BackchannelRequest) error
	Get(ctx context.Context, authReqID string) (*BackchannelRequest, error)

	// TouchLastPolled records a poll in place; see DeviceCodeRepo.
	TouchLastPolled(ctx context.Context, authReqID string, now time.Time) error

	Consume(ctx context.Context, authReqID string) (*BackchannelRequest, error)
}
