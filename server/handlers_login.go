package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jrsteele09/go-identity-server/authorize"
	"github.com/jrsteele09/go-identity-server/oauth2"
	"github.com/jrsteele09/go-identity-server/sessions"
	"github.com/jrsteele09/go-identity-server/users"
)

// LoginHandler authenticates a local user and establishes the server-side
// session the interaction generator looks for.
func (s *Server) LoginHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			http.Error(w, "invalid request", http.StatusBadRequest)
			return
		}

		username := r.FormValue("username")
		password := r.FormValue("password")

		user, err := s.deps.Users.GetByUsername(r.Context(), username)
		if err != nil {
			user, err = s.deps.Users.GetByEmail(r.Context(), username)
		}
		if err != nil || !user.Active() || !users.CheckPasswordHash(password, user.PasswordHash) {
			// One answer for every failure mode
			http.Error(w, "invalid credentials", http.StatusUnauthorized)
			return
		}

		if err := s.establishSession(w, r, user.ID, "", "pwd"); err != nil {
			s.log.Error().Err(err).Msg("session creation failed")
			http.Error(w, "internal server error", http.StatusInternalServerError)
			return
		}

		http.Redirect(w, r, safeReturnTo(r.FormValue("return_to")), http.StatusSeeOther)
	}
}

// LogoutHandler removes the login session.
func (s *Server) LogoutHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if sessionID := sessionIDFromRequest(r); sessionID != "" {
			if err := s.deps.Sessions.Delete(r.Context(), sessionID); err != nil {
				s.log.Warn().Err(err).Msg("session delete failed")
			}
		}
		s.ClearSessionCookie(w, r)
		w.WriteHeader(http.StatusNoContent)
	}
}

// SignupHandler registers a new local account and logs it in, completing the
// create-account interaction.
func (s *Server) SignupHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			http.Error(w, "invalid request", http.StatusBadRequest)
			return
		}

		email := r.FormValue("email")
		username := r.FormValue("username")
		password := r.FormValue("password")
		if email == "" || password == "" {
			http.Error(w, "email and password are required", http.StatusBadRequest)
			return
		}
		if _, err := s.deps.Users.GetByEmail(r.Context(), email); err == nil {
			http.Error(w, "account already exists", http.StatusConflict)
			return
		}

		passwordHash, err := users.HashPassword(password)
		if err != nil {
			s.log.Error().Err(err).Msg("password hashing failed")
			http.Error(w, "internal server error", http.StatusInternalServerError)
			return
		}

		user := &users.User{
			ID:           uuid.New().String(),
			Email:        email,
			Username:     username,
			PasswordHash: passwordHash,
			DateJoined:   time.Now(),
			Verified:     true,
		}
		if err := s.deps.Users.Upsert(r.Context(), user); err != nil {
			s.log.Error().Err(err).Msg("user creation failed")
			http.Error(w, "internal server error", http.StatusInternalServerError)
			return
		}

		if err := s.establishSession(w, r, user.ID, "", "pwd"); err != nil {
			s.log.Error().Err(err).Msg("session creation failed")
			http.Error(w, "internal server error", http.StatusInternalServerError)
			return
		}

		http.Redirect(w, r, safeReturnTo(r.FormValue("return_to")), http.StatusSeeOther)
	}
}

// ConsentHandler records the user's answer to a consent prompt and replays
// the original authorize request.
func (s *Server) ConsentHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			http.Error(w, "invalid request", http.StatusBadRequest)
			return
		}

		session := s.currentSession(r)
		if session == nil {
			http.Error(w, "login required", http.StatusUnauthorized)
			return
		}

		consentID := r.FormValue("consent_id")
		if consentID == "" {
			http.Error(w, "consent_id is required", http.StatusBadRequest)
			return
		}

		response := &authorize.ConsentResponse{
			SubjectID: session.SubjectID,
			ClientID:  r.FormValue("client_id"),
			Granted:   r.FormValue("action") == "allow",
			Scopes:    oauth2.ParseScopes(r.FormValue("scope")),
		}
		if err := s.deps.Consents.Save(r.Context(), consentID, response); err != nil {
			s.log.Error().Err(err).Msg("consent save failed")
			http.Error(w, "internal server error", http.StatusInternalServerError)
			return
		}

		http.Redirect(w, r, safeReturnTo(r.FormValue("return_to")), http.StatusSeeOther)
	}
}

// DeviceApprovalHandler completes a device or backchannel authorization: the
// logged-in user approves or denies the pending request.
func (s *Server) DeviceApprovalHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			http.Error(w, "invalid request", http.StatusBadRequest)
			return
		}

		session := s.currentSession(r)
		if session == nil {
			http.Error(w, "login required", http.StatusUnauthorized)
			return
		}

		approve := r.FormValue("action") == "allow"

		var err error
		switch {
		case r.FormValue("user_code") != "":
			if approve {
				err = s.deps.Device.Approve(r.Context(), r.FormValue("user_code"), session.SubjectID)
			} else {
				err = s.deps.Device.Deny(r.Context(), r.FormValue("user_code"))
			}
		case r.FormValue("auth_req_id") != "":
			if approve {
				err = s.deps.Backchannel.Approve(r.Context(), r.FormValue("auth_req_id"))
			} else {
				err = s.deps.Backchannel.Deny(r.Context(), r.FormValue("auth_req_id"))
			}
		default:
			http.Error(w, "user_code or auth_req_id is required", http.StatusBadRequest)
			return
		}

		if err != nil {
			http.Error(w, "unknown or expired code", http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// establishSession creates a login session and sets its cookie.
func (s *Server) establishSession(w http.ResponseWriter, r *http.Request, subjectID, idp, amr string) error {
	now := time.Now()
	session := &sessions.Session{
		ID:              uuid.New().String(),
		SubjectID:       subjectID,
		AuthenticatedAt: now,
		ExpiresAt:       now.Add(s.config.GetMaxSessionAge()),
		IdP:             idp,
		AMR:             []string{amr},
	}
	if err := s.deps.Sessions.Upsert(r.Context(), session); err != nil {
		return err
	}
	s.SetSessionCookie(w, r, session.ID)
	return nil
}

// currentSession returns the active login session, or nil.
func (s *Server) currentSession(r *http.Request) *sessions.Session {
	sessionID := sessionIDFromRequest(r)
	if sessionID == "" {
		return nil
	}
	session, err := s.deps.Sessions.Get(r.Context(), sessionID)
	if err != nil || !session.Active(time.Now()) {
		return nil
	}
	return session
}

// safeReturnTo only allows same-site relative redirect targets.
func safeReturnTo(returnTo string) string {
	if returnTo == "" || !strings.HasPrefix(returnTo, "/") || strings.HasPrefix(returnTo, "//") {
		return "/"
	}
	return returnTo
}
