package server

import (
	"encoding/json"
	"net/http"
	"net/url"

	"github.com/jrsteele09/go-identity-server/oauth2"
)

// PushedAuthorization accepts a pushed authorization request (RFC 9126) and
// returns the single-use request_uri reference.
func (s *Server) PushedAuthorization() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			writeJSONError(w, oauth2.ErrorInvalidRequest, "failed to parse form data", http.StatusBadRequest)
			return
		}
		client, err := s.authenticateClient(r)
		if err != nil {
			writeJSONError(w, oauth2.ErrorInvalidClient, "client authentication failed", http.StatusUnauthorized)
			return
		}

		// The stored parameter set is the request as pushed, minus the
		// client's own credentials. Validation happens at redemption.
		parameters := url.Values{}
		for key, values := range r.PostForm {
			if key == "client_secret" {
				continue
			}
			parameters[key] = values
		}
		if parameters.Get("client_id") == "" {
			parameters.Set("client_id", client.ID)
		}

		pushed, err := s.deps.PAR.Push(r.Context(), client, parameters)
		if err != nil {
			protocolErr := oauth2.AsError(err)
			writeJSONError(w, protocolErr.Code, protocolErr.Description, http.StatusBadRequest)
			return
		}

		w.Header().Set("Content-Type", contentTypeJSON)
		w.Header().Set("Cache-Control", "no-store")
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(pushed)
	}
}

// DeviceAuthorization starts an RFC 8628 device flow, issuing the
// device_code/user_code pair the device polls and the user approves.
func (s *Server) DeviceAuthorization() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			writeJSONError(w, oauth2.ErrorInvalidRequest, "failed to parse form data", http.StatusBadRequest)
			return
		}
		client, err := s.authenticateClient(r)
		if err != nil {
			writeJSONError(w, oauth2.ErrorInvalidClient, "client authentication failed", http.StatusUnauthorized)
			return
		}

		response, err := s.deps.Device.Start(r.Context(), client, r.FormValue("scope"), r.Form["resource"])
		if err != nil {
			protocolErr := oauth2.AsError(err)
			writeJSONError(w, protocolErr.Code, protocolErr.Description, http.StatusBadRequest)
			return
		}

		w.Header().Set("Content-Type", contentTypeJSON)
		w.Header().Set("Cache-Control", "no-store")
		_ = json.NewEncoder(w).Encode(response)
	}
}

// BackchannelAuthorize starts a CIBA flow: the client names the user via
// login_hint and polls the token endpoint with the returned auth_req_id.
func (s *Server) BackchannelAuthorize() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			writeJSONError(w, oauth2.ErrorInvalidRequest, "failed to parse form data", http.StatusBadRequest)
			return
		}
		client, err := s.authenticateClient(r)
		if err != nil {
			writeJSONError(w, oauth2.ErrorInvalidClient, "client authentication failed", http.StatusUnauthorized)
			return
		}

		response, err := s.deps.Backchannel.Start(r.Context(), client, r.FormValue("scope"), r.FormValue("login_hint"), r.Form["resource"])
		if err != nil {
			protocolErr := oauth2.AsError(err)
			writeJSONError(w, protocolErr.Code, protocolErr.Description, http.StatusBadRequest)
			return
		}

		w.Header().Set("Content-Type", contentTypeJSON)
		w.Header().Set("Cache-Control", "no-store")
		_ = json.NewEncoder(w).Encode(response)
	}
}
