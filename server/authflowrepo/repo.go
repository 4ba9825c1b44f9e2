// Package authflowrepo stores the transient state of an upstream
// identity-provider login: the CSRF state, the PKCE verifier, the nonce, and
// where to send the user once the round trip completes.
package authflowrepo

import (
	"errors"
	"time"
)

var ErrNotFound = errors.New("auth flow state not found")

type AuthFlowState struct {
	Issuer       string // upstream issuer this flow was started against
	CodeVerifier string
	Nonce        string
	ReturnURL    string // original authorize request to resume
	ExpiresAt    time.Time
}

type Repo interface {
	Upsert(state string, flowState *AuthFlowState) error
	Get(state string) (*AuthFlowState, error)
	Delete(state string) error
}
