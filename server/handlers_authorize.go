package server

import (
	"context"
	"html/template"
	"net/http"
	"net/url"

	"github.com/pkg/errors"

	"github.com/jrsteele09/go-identity-server/authorize"
	"github.com/jrsteele09/go-identity-server/oauth2"
)

const contentTypeJSON = "application/json; charset=utf-8"
const contentTypeHTML = "text/html; charset=utf-8"

// formPostTemplate auto-submits the authorize response to the client's
// redirect URI, per the OAuth 2.0 Form Post Response Mode spec.
var formPostTemplate = template.Must(template.New("form_post").Parse(`<!DOCTYPE html>
<html>
<head><title>Submitting...</title></head>
<body onload="document.forms[0].submit()">
<form method="post" action="{{.Action}}">
{{- range $name, $values := .Values}}{{range $values}}
<input type="hidden" name="{{$name}}" value="{{.}}">
{{- end}}{{end}}
<noscript><button type="submit">Continue</button></noscript>
</form>
</body>
</html>`))

// Authorize runs the authorize endpoint: validation, the interaction
// decision, and either code issuance or a redirect to the interaction pages.
func (s *Server) Authorize() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			http.Error(w, "invalid request", http.StatusBadRequest)
			return
		}
		params := authorize.ParseParameters(r.Form)

		req, err := s.deps.Validator.Validate(r.Context(), params)
		if err != nil {
			s.authorizeError(w, r, params.ClientID, err)
			return
		}

		decision, err := s.deps.Interaction.Decide(r.Context(), req, sessionIDFromRequest(r))
		if err != nil {
			s.authorizeError(w, r, req.Client.ID, err)
			return
		}

		var returnTo string
		if decision.Type != authorize.InteractionNone {
			if returnTo, err = s.interactionReturnTo(r.Context(), req); err != nil {
				s.authorizeError(w, r, req.Client.ID, err)
				return
			}
		}

		switch decision.Type {
		case authorize.InteractionNone:
			response, err := s.deps.Responses.Generate(r.Context(), req, decision.Session)
			if err != nil {
				s.authorizeError(w, r, req.Client.ID, err)
				return
			}
			s.deliverAuthorizeResponse(w, r, response)

		case authorize.InteractionLogin:
			s.deps.Audit.InteractionRequired(req.Client.ID, string(decision.Type))
			redirectTo(w, r, RouteLogin, url.Values{"return_to": {returnTo}, "login_hint": {req.LoginHint}})

		case authorize.InteractionConsent:
			s.deps.Audit.InteractionRequired(req.Client.ID, string(decision.Type))
			redirectTo(w, r, RouteConsent, url.Values{
				"consent_id": {decision.ConsentID},
				"client_id":  {req.Client.ID},
				"scope":      {oauth2.JoinScopes(req.Scopes)},
				"return_to":  {returnTo},
			})

		case authorize.InteractionCreateAccount:
			s.deps.Audit.InteractionRequired(req.Client.ID, string(decision.Type))
			redirectTo(w, r, RouteSignup, url.Values{"return_to": {returnTo}})

		case authorize.InteractionCustomRedirect:
			s.deps.Audit.InteractionRequired(req.Client.ID, string(decision.Type))
			redirectTo(w, r, RouteUpstreamLogin, url.Values{
				"issuer":    {decision.RedirectURL},
				"return_to": {returnTo},
			})

		default:
			s.authorizeError(w, r, req.Client.ID, errors.Errorf("unknown interaction %q", decision.Type))
		}
	}
}

// interactionReturnTo builds the authorize URL an interaction page sends the
// user back to. A request redeemed from a pushed reference cannot replay its
// bare parameters (the client must push), so the redeemed set is pushed again
// and the replay carries the fresh request_uri.
func (s *Server) interactionReturnTo(ctx context.Context, req *authorize.ValidatedRequest) (string, error) {
	if !req.FromPushedRequest {
		return RouteOAuth2Authorize + "?" + req.Raw.Encode(), nil
	}
	if s.deps.PAR == nil {
		return "", errors.New("pushed request cannot be replayed without a PAR flow")
	}
	pushed, err := s.deps.PAR.Push(ctx, req.Client, req.Raw)
	if err != nil {
		return "", errors.Wrap(err, "[Server.interactionReturnTo] Push")
	}
	replay := url.Values{
		"client_id":   {req.Client.ID},
		"request_uri": {pushed.RequestURI},
	}
	return RouteOAuth2Authorize + "?" + replay.Encode(), nil
}

// deliverAuthorizeResponse sends a successful response in the requested mode.
func (s *Server) deliverAuthorizeResponse(w http.ResponseWriter, r *http.Request, response *authorize.AuthorizeResponse) {
	if response.ResponseMode == oauth2.FormPostResponseMode {
		s.renderFormPost(w, response.RedirectURI, response.Parameters())
		return
	}
	http.Redirect(w, r, response.RedirectURL(), http.StatusSeeOther)
}

// authorizeError terminates an authorize request with a protocol error,
// redirecting to the client when the redirect URI is trusted and rendering at
// the server when it is not.
func (s *Server) authorizeError(w http.ResponseWriter, r *http.Request, clientID string, err error) {
	authErr, ok := err.(*authorize.Error)
	if !ok {
		s.log.Error().Err(err).Str("clientID", clientID).Msg("authorize failed")
		s.deps.Audit.AuthorizeRejected(clientID, oauth2.ErrorServerError, "internal error")
		http.Error(w, "an internal error occurred", http.StatusInternalServerError)
		return
	}

	s.deps.Audit.AuthorizeRejected(clientID, authErr.Err.Code, authErr.Err.Description)

	if authErr.Redirectable && authErr.ResponseMode == oauth2.FormPostResponseMode {
		values := url.Values{"error": {authErr.Err.Code}}
		if authErr.Err.Description != "" {
			values.Set("error_description", authErr.Err.Description)
		}
		if authErr.State != "" {
			values.Set("state", authErr.State)
		}
		s.renderFormPost(w, authErr.RedirectURI, values)
		return
	}
	if redirect, ok := authErr.RedirectURL(); ok {
		http.Redirect(w, r, redirect, http.StatusSeeOther)
		return
	}

	status := http.StatusBadRequest
	if authErr.Err.Code == oauth2.ErrorServerError {
		status = http.StatusInternalServerError
	}
	http.Error(w, authErr.Err.Error(), status)
}

func (s *Server) renderFormPost(w http.ResponseWriter, action string, values url.Values) {
	w.Header().Set("Content-Type", contentTypeHTML)
	data := struct {
		Action string
		Values url.Values
	}{Action: action, Values: values}
	if err := formPostTemplate.Execute(w, data); err != nil {
		s.log.Error().Err(err).Msg("form_post render failed")
	}
}

func redirectTo(w http.ResponseWriter, r *http.Request, path string, values url.Values) {
	for key := range values {
		if values.Get(key) == "" {
			values.Del(key)
		}
	}
	target := path
	if len(values) > 0 {
		target += "?" + values.Encode()
	}
	http.Redirect(w, r, target, http.StatusSeeOther)
}
