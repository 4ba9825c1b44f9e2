package authorize

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"sync"

	"github.com/pkg/errors"
)

// ErrConsentNotFound is returned when no stored consent exists under an ID.
var ErrConsentNotFound = errors.New("consent response not found")

// ConsentResponse is an end user's answer to a consent prompt. Responses are
// single use: the interaction generator deletes one as soon as it is read,
// whether the request then succeeds or fails.
type ConsentResponse struct {
	SubjectID string
	ClientID  string
	Granted   bool
	Scopes    []string // scopes the user actually approved
}

// ConsentRepo stores pending consent responses between the consent page
// posting an answer and the authorize request being replayed.
type ConsentRepo interface {
	Save(ctx context.Context, id string, response *ConsentResponse) error
	Read(ctx context.Context, id string) (*ConsentResponse, error)
	Delete(ctx context.Context, id string) error
}

// ConsentID derives the storage key for a consent response. The key is a
// hash over the subject and the raw parameter set, so an answer only matches
// a replay of the exact same authorize request by the same user.
func ConsentID(subjectID string, raw url.Values) string {
	h := sha256.New()
	h.Write([]byte(subjectID))
	h.Write([]byte{0})
	h.Write([]byte(raw.Encode()))
	return hex.EncodeToString(h.Sum(nil))
}

type InMemoryConsentRepo struct {
	mu        sync.Mutex
	responses map[string]*ConsentResponse
}

func NewInMemoryConsentRepo() *InMemoryConsentRepo {
	return &InMemoryConsentRepo{responses: make(map[string]*ConsentResponse)}
}

func (r *InMemoryConsentRepo) Save(_ context.Context, id string, response *ConsentResponse) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored := *response
	r.responses[id] = &stored
	return nil
}

func (r *InMemoryConsentRepo) Read(_ context.Context, id string) (*ConsentResponse, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	response, ok := r.responses[id]
	if !ok {
		return nil, ErrConsentNotFound
	}
	copied := *response
	return &copied, nil
}

func (r *InMemoryConsentRepo) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.responses, id)
	return nil
}
