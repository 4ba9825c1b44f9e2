// Package sessions tracks server-side user sessions: who is currently
// authenticated at the authorization server, independent of any one client.
package sessions

import "time"

// Session is an authenticated end-user session. The interaction logic treats
// a missing or expired session as "login required".
type Session struct {
	ID              string    // Unique session identifier (UUID)
	SubjectID       string    // Authenticated user's ID
	AuthenticatedAt time.Time // When the user last proved who they are
	ExpiresAt       time.Time // When the session stops counting as a login
	IdP             string    // Which identity provider authenticated the user ("" = local)
	AMR             []string  // Authentication method references (pwd, mfa, ...)
}

// Active reports whether the session still represents a logged-in user.
func (s *Session) Active(now time.Time) bool {
	if s == nil || s.SubjectID == "" {
		return false
	}
	return s.ExpiresAt.IsZero() || now.Before(s.ExpiresAt)
}
