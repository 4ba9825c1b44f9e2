package server

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net/http"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"github.com/jrsteele09/go-identity-server/server/authflowrepo"
	"github.com/jrsteele09/go-identity-server/users"
)

const authFlowLifetime = 10 * time.Minute

// generateCodeChallenge creates a PKCE code challenge from a verifier.
func generateCodeChallenge(verifier string) string {
	hash := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(hash[:])
}

// UpstreamLoginHandler starts an authorization code flow against an upstream
// identity provider. Clients configured with a custom redirect land here
// instead of the local login form.
func (s *Server) UpstreamLoginHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		issuer := r.URL.Query().Get("issuer")
		if issuer == "" {
			http.Error(w, "issuer is required", http.StatusBadRequest)
			return
		}

		oidcConfig, err := s.getOidcConfig(r.Context(), issuer, r)
		if err != nil {
			s.log.Error().Err(err).Str("issuer", issuer).Msg("upstream discovery failed")
			http.Error(w, "upstream identity provider unavailable", http.StatusBadGateway)
			return
		}

		state := generateRandomString(32)
		nonce := generateRandomString(32)
		codeVerifier := generateRandomString(32)

		flowState := &authflowrepo.AuthFlowState{
			Issuer:       issuer,
			CodeVerifier: codeVerifier,
			Nonce:        nonce,
			ReturnURL:    safeReturnTo(r.URL.Query().Get("return_to")),
			ExpiresAt:    time.Now().Add(authFlowLifetime),
		}
		if err := s.deps.AuthFlows.Upsert(state, flowState); err != nil {
			s.log.Error().Err(err).Msg("auth flow state save failed")
			http.Error(w, "internal server error", http.StatusInternalServerError)
			return
		}

		authURL := oidcConfig.OAuth2Config.AuthCodeURL(
			state,
			oidc.Nonce(nonce),
			oauth2.SetAuthURLParam("code_challenge", generateCodeChallenge(codeVerifier)),
			oauth2.SetAuthURLParam("code_challenge_method", "S256"),
		)
		http.Redirect(w, r, authURL, http.StatusSeeOther)
	}
}

// UpstreamCallbackHandler completes the upstream round trip: exchange the
// code, verify the ID token, map the upstream identity to a local user, and
// resume the original authorize request.
func (s *Server) UpstreamCallbackHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// r.FormValue covers both query params and form_post callbacks
		state := r.FormValue("state")
		code := r.FormValue("code")

		if errorParam := r.FormValue("error"); errorParam != "" {
			http.Error(w, fmt.Sprintf("authorization failed: %s - %s", errorParam, r.FormValue("error_description")), http.StatusBadRequest)
			return
		}
		if code == "" || state == "" {
			http.Error(w, "missing code or state parameter", http.StatusBadRequest)
			return
		}

		flowState, err := s.deps.AuthFlows.Get(state)
		if err != nil {
			http.Error(w, "invalid state parameter", http.StatusBadRequest)
			return
		}
		// Single use
		if err := s.deps.AuthFlows.Delete(state); err != nil {
			s.log.Warn().Err(err).Msg("auth flow state delete failed")
		}
		if time.Now().After(flowState.ExpiresAt) {
			http.Error(w, "login attempt expired", http.StatusBadRequest)
			return
		}

		oidcConfig, err := s.getOidcConfig(r.Context(), flowState.Issuer, r)
		if err != nil {
			s.log.Error().Err(err).Str("issuer", flowState.Issuer).Msg("upstream discovery failed")
			http.Error(w, "upstream identity provider unavailable", http.StatusBadGateway)
			return
		}

		oauth2Token, err := oidcConfig.OAuth2Config.Exchange(
			r.Context(),
			code,
			oauth2.SetAuthURLParam("code_verifier", flowState.CodeVerifier),
		)
		if err != nil {
			s.log.Error().Err(err).Msg("upstream token exchange failed")
			http.Error(w, "token exchange failed", http.StatusInternalServerError)
			return
		}

		rawIDToken, ok := oauth2Token.Extra("id_token").(string)
		if !ok {
			http.Error(w, "no ID token in response", http.StatusInternalServerError)
			return
		}

		idToken, err := oidcConfig.OidcProvider.Verifier(&oidc.Config{
			ClientID: oidcConfig.OAuth2Config.ClientID,
		}).Verify(r.Context(), rawIDToken)
		if err != nil {
			http.Error(w, "ID token verification failed", http.StatusUnauthorized)
			return
		}

		var claims struct {
			Nonce      string `json:"nonce"`
			Sub        string `json:"sub"`
			Email      string `json:"email"`
			GivenName  string `json:"given_name"`
			FamilyName string `json:"family_name"`
		}
		if err := idToken.Claims(&claims); err != nil {
			http.Error(w, "failed to extract claims", http.StatusInternalServerError)
			return
		}
		if claims.Nonce != flowState.Nonce {
			http.Error(w, "invalid nonce", http.StatusUnauthorized)
			return
		}
		if claims.Email == "" {
			http.Error(w, "upstream identity has no email", http.StatusUnauthorized)
			return
		}

		user, err := s.findOrCreateUpstreamUser(r.Context(), claims.Email, claims.GivenName, claims.FamilyName)
		if err != nil {
			s.log.Error().Err(err).Msg("upstream user mapping failed")
			http.Error(w, "internal server error", http.StatusInternalServerError)
			return
		}
		if !user.Active() {
			http.Error(w, "account is blocked", http.StatusForbidden)
			return
		}

		if err := s.establishSession(w, r, user.ID, flowState.Issuer, "fed"); err != nil {
			s.log.Error().Err(err).Msg("session creation failed")
			http.Error(w, "internal server error", http.StatusInternalServerError)
			return
		}

		http.Redirect(w, r, flowState.ReturnURL, http.StatusSeeOther)
	}
}

// getOidcConfig discovers and caches the upstream provider configuration for
// an issuer.
func (s *Server) getOidcConfig(ctx context.Context, issuer string, r *http.Request) (OidcConfig, error) {
	s.upstreamOidcLock.RLock()
	cached, exists := s.upstreamOidc[issuer]
	s.upstreamOidcLock.RUnlock()
	if exists {
		return cached, nil
	}

	provider, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		return OidcConfig{}, fmt.Errorf("[server.getOidcConfig] provider discovery: %w", err)
	}

	oidcConfig := OidcConfig{
		OidcProvider: provider,
		OAuth2Config: &oauth2.Config{
			ClientID:     s.upstreamClientID,
			ClientSecret: s.upstreamClientSecret,
			Endpoint:     provider.Endpoint(),
			RedirectURL:  getScheme(r) + "://" + r.Host + RouteCallback,
			Scopes:       []string{oidc.ScopeOpenID, "profile", "email"},
		},
	}

	s.upstreamOidcLock.Lock()
	s.upstreamOidc[issuer] = oidcConfig
	s.upstreamOidcLock.Unlock()

	return oidcConfig, nil
}

// findOrCreateUpstreamUser maps a federated identity to a local account,
// provisioning one on first login.
func (s *Server) findOrCreateUpstreamUser(ctx context.Context, email, firstName, lastName string) (*users.User, error) {
	user, err := s.deps.Users.GetByEmail(ctx, email)
	if err == nil {
		return user, nil
	}

	user = &users.User{
		ID:         uuid.New().String(),
		Email:      email,
		Username:   email,
		FirstName:  firstName,
		LastName:   lastName,
		DateJoined: time.Now(),
		Verified:   true, // the upstream provider vouches for the address
	}
	if err := s.deps.Users.Upsert(ctx, user); err != nil {
		return nil, fmt.Errorf("[server.findOrCreateUpstreamUser] upsert: %w", err)
	}
	return user, nil
}
