package server

import (
	"encoding/json"
	"net/http"

	"github.com/jrsteele09/go-identity-server/oauth2"
)

// WellKnownOpenIDConfig serves the OIDC discovery document
func (s *Server) WellKnownOpenIDConfig() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		baseURL := s.config.GetIssuer()

		resp := map[string]any{
			"issuer":                                baseURL,
			"authorization_endpoint":                baseURL + RouteOAuth2Authorize,
			"token_endpoint":                        baseURL + RouteOAuth2Token,
			"pushed_authorization_request_endpoint": baseURL + RouteOAuth2PAR,
			"device_authorization_endpoint":         baseURL + RouteOAuth2DeviceAuth,
			"backchannel_authentication_endpoint":   baseURL + RouteOAuth2Backchannel,
			"jwks_uri":                              baseURL + RouteWellKnownJWKS,
			"revocation_endpoint":                   baseURL + RouteOAuth2Revoke,
			"introspection_endpoint":                baseURL + RouteOAuth2Introspect,

			"response_types_supported": []string{"code"},
			"response_modes_supported": []string{"query", "fragment", "form_post"},
			"subject_types_supported":  []string{"public"},

			"id_token_signing_alg_values_supported": []string{"RS256"},
			"dpop_signing_alg_values_supported": []string{
				"RS256", "RS384", "RS512", "PS256", "PS384", "PS512",
				"ES256", "ES384", "ES512",
			},

			"scopes_supported": []string{
				oauth2.ScopeOpenID,
				oauth2.ScopeOfflineAccess,
			},

			"token_endpoint_auth_methods_supported": []string{
				"client_secret_post",
				"client_secret_basic",
				"none", // public clients with PKCE
			},

			"grant_types_supported": []string{
				string(oauth2.AuthorizationCodeGrant),
				string(oauth2.RefreshTokenGrant),
				string(oauth2.ClientCredentialsGrant),
				string(oauth2.PasswordGrant),
				string(oauth2.DeviceCodeGrant),
				string(oauth2.CIBAGrant),
			},

			"code_challenge_methods_supported": []string{"S256", "plain"},

			"claims_supported": []string{
				"sub", "aud", "iss", "iat", "exp",
				"email", "email_verified", "name",
				"preferred_username", "sid", "nonce", "cnf",
			},

			"authorization_response_iss_parameter_supported": false,
			"claims_parameter_supported":                     false,
			"request_parameter_supported":                    false,
			"request_uri_parameter_supported":                true,
			"require_pushed_authorization_requests":          false,
		}

		w.Header().Set("Content-Type", contentTypeJSON)
		w.Header().Set("Cache-Control", "public, max-age=3600")
		_ = json.NewEncoder(w).Encode(resp)
	}
}

// JWKS returns the JSON Web Key Set used to validate tokens
func (s *Server) JWKS() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jwks, err := s.deps.Tokens.GetJWKS()
		if err != nil {
			s.log.Error().Err(err).Msg("jwks export failed")
			http.Error(w, "failed to get JWKS", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", contentTypeJSON)
		w.Header().Set("Cache-Control", "public, max-age=3600")
		_ = json.NewEncoder(w).Encode(jwks)
	}
}
