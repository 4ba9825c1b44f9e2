// Package events emits structured audit events for protocol decisions. The
// sink is a zerolog logger; subject identifiers are hashed before they are
// written so audit trails do not become a user-data store.
package events

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/rs/zerolog"
)

type Auditor struct {
	log zerolog.Logger
}

func NewAuditor(log zerolog.Logger) *Auditor {
	return &Auditor{log: log.With().Str("component", "audit").Logger()}
}

// AuthorizeGranted records a successful authorize response
func (a *Auditor) AuthorizeGranted(clientID, subjectID string, scopes []string) {
	a.log.Info().
		Str("event", "authorize_granted").
		Str("clientID", clientID).
		Str("subject", HashSubject(subjectID)).
		Strs("scopes", scopes).
		Msg("authorization granted")
}

// AuthorizeRejected records an authorize request that ended in a protocol error
func (a *Auditor) AuthorizeRejected(clientID, errorCode, description string) {
	a.log.Warn().
		Str("event", "authorize_rejected").
		Str("clientID", clientID).
		Str("error", errorCode).
		Str("description", description).
		Msg("authorization rejected")
}

// InteractionRequired records that an authorize request needs the end user
func (a *Auditor) InteractionRequired(clientID, interaction string) {
	a.log.Info().
		Str("event", "interaction_required").
		Str("clientID", clientID).
		Str("interaction", interaction).
		Msg("user interaction required")
}

// TokenIssued records a successful token response
func (a *Auditor) TokenIssued(clientID, subjectID, grantType string, scopes []string) {
	a.log.Info().
		Str("event", "token_issued").
		Str("clientID", clientID).
		Str("subject", HashSubject(subjectID)).
		Str("grantType", grantType).
		Strs("scopes", scopes).
		Msg("tokens issued")
}

// TokenRejected records a token request that ended in a protocol error
func (a *Auditor) TokenRejected(clientID, grantType, errorCode string) {
	a.log.Warn().
		Str("event", "token_rejected").
		Str("clientID", clientID).
		Str("grantType", grantType).
		Str("error", errorCode).
		Msg("token request rejected")
}

// HashSubject returns a stable, non-reversible identifier for a subject.
// Empty subjects (machine grants) stay empty.
func HashSubject(subjectID string) string {
	if subjectID == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(subjectID))
	return hex.EncodeToString(sum[:8])
}
