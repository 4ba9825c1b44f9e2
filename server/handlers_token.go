package server

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"

	"github.com/jrsteele09/go-identity-server/clients"
	"github.com/jrsteele09/go-identity-server/grants"
	"github.com/jrsteele09/go-identity-server/oauth2"
	"github.com/jrsteele09/go-identity-server/token"
)

// Token exchanges a grant for tokens. DPoP-bound failures carry the retry
// nonce in the DPoP-Nonce response header so clients can resubmit.
func (s *Server) Token() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			writeJSONError(w, oauth2.ErrorInvalidRequest, "failed to parse form data", http.StatusBadRequest)
			return
		}

		clientID, clientSecret := clientCredentials(r)
		tokenReq := grants.TokenRequest{
			GrantType:    r.FormValue("grant_type"),
			ClientID:     clientID,
			ClientSecret: clientSecret,
			Code:         r.FormValue("code"),
			RedirectURI:  r.FormValue("redirect_uri"),
			CodeVerifier: r.FormValue("code_verifier"),
			RefreshToken: r.FormValue("refresh_token"),
			Username:     r.FormValue("username"),
			Password:     r.FormValue("password"),
			DeviceCode:   r.FormValue("device_code"),
			AuthReqID:    r.FormValue("auth_req_id"),
			Scope:        r.FormValue("scope"),
			Resources:    r.Form["resource"],
			DPoPProofs:   r.Header.Values("DPoP"),
			Method:       r.Method,
			URL:          requestURL(r),
		}

		grant, err := s.deps.Grants.Validate(r.Context(), tokenReq)
		if err != nil {
			s.writeTokenError(w, tokenReq.ClientID, tokenReq.GrantType, err)
			return
		}

		tokenResponse, err := s.deps.Tokens.GenerateTokenResponse(r.Context(), *grant)
		if err != nil {
			s.writeTokenError(w, tokenReq.ClientID, tokenReq.GrantType, err)
			return
		}

		s.deps.Audit.TokenIssued(grant.ClientID, grant.SubjectID, tokenReq.GrantType, grant.Scopes)

		w.Header().Set("Content-Type", contentTypeJSON)
		w.Header().Set("Cache-Control", "no-store")
		w.Header().Set("Pragma", "no-cache")
		_ = json.NewEncoder(w).Encode(tokenResponse)
	}
}

// Introspect reports the state of a token (RFC 7662).
func (s *Server) Introspect() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			writeJSONError(w, oauth2.ErrorInvalidRequest, "failed to parse form data", http.StatusBadRequest)
			return
		}
		if _, err := s.authenticateClient(r); err != nil {
			writeJSONError(w, oauth2.ErrorInvalidClient, "client authentication failed", http.StatusUnauthorized)
			return
		}

		rawToken := r.FormValue("token")
		if rawToken == "" {
			writeJSONError(w, oauth2.ErrorInvalidRequest, "token parameter is required", http.StatusBadRequest)
			return
		}

		introspection, err := s.deps.Tokens.Introspection(rawToken)
		if err != nil || introspection == nil {
			// Unparsable tokens are simply inactive, not an error
			introspection = &token.TokenIntrospection{Active: false}
		}

		w.Header().Set("Content-Type", contentTypeJSON)
		_ = json.NewEncoder(w).Encode(introspection)
	}
}

// Revoke invalidates an access or refresh token (RFC 7009).
func (s *Server) Revoke() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			writeJSONError(w, oauth2.ErrorInvalidRequest, "failed to parse form data", http.StatusBadRequest)
			return
		}
		if _, err := s.authenticateClient(r); err != nil {
			writeJSONError(w, oauth2.ErrorInvalidClient, "client authentication failed", http.StatusUnauthorized)
			return
		}

		rawToken := r.FormValue("token")
		if rawToken == "" {
			writeJSONError(w, oauth2.ErrorInvalidRequest, "token parameter is required", http.StatusBadRequest)
			return
		}

		// Revocation of an unknown or already-dead token still returns 200
		switch r.FormValue("token_type_hint") {
		case "refresh_token":
			s.deps.Tokens.InvalidateRefreshToken(r.Context(), rawToken)
		default:
			if err := s.deps.Tokens.RevokeAccessToken(rawToken); err != nil {
				s.deps.Tokens.InvalidateRefreshToken(r.Context(), rawToken)
			}
		}

		w.WriteHeader(http.StatusOK)
	}
}

// writeTokenError maps an engine error onto the token endpoint's wire
// contract, propagating the DPoP retry nonce when one was minted.
func (s *Server) writeTokenError(w http.ResponseWriter, clientID, grantType string, err error) {
	protocolErr := oauth2.AsError(err)
	if protocolErr.Code == oauth2.ErrorServerError {
		s.log.Error().Err(err).Str("clientID", clientID).Str("grantType", grantType).Msg("token request failed")
	}
	s.deps.Audit.TokenRejected(clientID, grantType, protocolErr.Code)

	if protocolErr.RetryNonce != "" {
		w.Header().Set("DPoP-Nonce", protocolErr.RetryNonce)
	}

	status := http.StatusBadRequest
	switch protocolErr.Code {
	case oauth2.ErrorInvalidClient:
		status = http.StatusUnauthorized
	case oauth2.ErrorServerError:
		status = http.StatusInternalServerError
	}
	writeJSONError(w, protocolErr.Code, protocolErr.Description, status)
}

// clientCredentials reads the client ID and secret from the form body or
// HTTP basic auth.
func clientCredentials(r *http.Request) (string, string) {
	clientID := r.FormValue("client_id")
	clientSecret := r.FormValue("client_secret")
	if clientID == "" {
		if basicID, basicSecret, ok := r.BasicAuth(); ok {
			clientID, clientSecret = basicID, basicSecret
		}
	}
	return clientID, clientSecret
}

// authenticateClient resolves and authenticates the requesting client.
// Public clients authenticate by ID alone; confidential clients must present
// their secret.
func (s *Server) authenticateClient(r *http.Request) (*clients.Client, error) {
	clientID, clientSecret := clientCredentials(r)
	if clientID == "" {
		return nil, oauth2.NewError(oauth2.ErrorInvalidClient, "client_id is required")
	}
	client, err := s.deps.Clients.Get(r.Context(), clientID)
	if err != nil {
		return nil, oauth2.NewError(oauth2.ErrorInvalidClient, "unknown client")
	}
	if !client.IsPublic() {
		if subtle.ConstantTimeCompare([]byte(client.Secret), []byte(clientSecret)) != 1 {
			return nil, oauth2.NewError(oauth2.ErrorInvalidClient, "invalid client credentials")
		}
	}
	return client, nil
}

// writeJSONError writes an OAuth2 error response
func writeJSONError(w http.ResponseWriter, errorCode, description string, statusCode int) {
	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":             errorCode,
		"error_description": description,
	})
}
