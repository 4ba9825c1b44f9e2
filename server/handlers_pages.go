package server

import (
	"html/template"
	"net/http"

	"github.com/jrsteele09/go-identity-server/oauth2"
)

// Minimal interaction pages. Deployments fronting this server with their own
// UI can register handlers over these routes instead.
var pageTemplates = template.Must(template.New("pages").Parse(`
{{define "layout_top"}}<!DOCTYPE html>
<html>
<head><title>{{.Title}}</title></head>
<body>
<h1>{{.Title}}</h1>
{{end}}

{{define "layout_bottom"}}</body>
</html>
{{end}}

{{define "login"}}{{template "layout_top" .}}
<form method="post" action="{{.Action}}">
<input type="hidden" name="return_to" value="{{.ReturnTo}}">
<label>Username <input type="text" name="username" value="{{.LoginHint}}"></label><br>
<label>Password <input type="password" name="password"></label><br>
<button type="submit">Sign in</button>
</form>
{{template "layout_bottom" .}}{{end}}

{{define "signup"}}{{template "layout_top" .}}
<form method="post" action="{{.Action}}">
<input type="hidden" name="return_to" value="{{.ReturnTo}}">
<label>Email <input type="email" name="email"></label><br>
<label>Username <input type="text" name="username"></label><br>
<label>Password <input type="password" name="password"></label><br>
<button type="submit">Create account</button>
</form>
{{template "layout_bottom" .}}{{end}}

{{define "consent"}}{{template "layout_top" .}}
<p>{{.ClientID}} is requesting access to:</p>
<ul>{{range .Scopes}}<li>{{.}}</li>{{end}}</ul>
<form method="post" action="{{.Action}}">
<input type="hidden" name="return_to" value="{{.ReturnTo}}">
<input type="hidden" name="consent_id" value="{{.ConsentID}}">
<input type="hidden" name="client_id" value="{{.ClientID}}">
<input type="hidden" name="scope" value="{{.Scope}}">
<button type="submit" name="action" value="allow">Allow</button>
<button type="submit" name="action" value="deny">Deny</button>
</form>
{{template "layout_bottom" .}}{{end}}

{{define "device"}}{{template "layout_top" .}}
<form method="post" action="{{.Action}}">
<label>Code <input type="text" name="user_code" value="{{.UserCode}}"></label><br>
<button type="submit" name="action" value="allow">Approve</button>
<button type="submit" name="action" value="deny">Deny</button>
</form>
{{template "layout_bottom" .}}{{end}}
`))

type pageData struct {
	Title     string
	Action    string
	ReturnTo  string
	LoginHint string
	ConsentID string
	ClientID  string
	Scope     string
	Scopes    []string
	UserCode  string
}

func (s *Server) renderPage(w http.ResponseWriter, name string, data pageData) {
	w.Header().Set("Content-Type", contentTypeHTML)
	if err := pageTemplates.ExecuteTemplate(w, name, data); err != nil {
		s.log.Error().Err(err).Str("page", name).Msg("page render failed")
	}
}

func (s *Server) LoginPage() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.renderPage(w, "login", pageData{
			Title:     "Sign in",
			Action:    RouteLogin,
			ReturnTo:  safeReturnTo(r.URL.Query().Get("return_to")),
			LoginHint: r.URL.Query().Get("login_hint"),
		})
	}
}

func (s *Server) SignupPage() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.renderPage(w, "signup", pageData{
			Title:    "Create account",
			Action:   RouteSignup,
			ReturnTo: safeReturnTo(r.URL.Query().Get("return_to")),
		})
	}
}

func (s *Server) ConsentPage() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		scope := r.URL.Query().Get("scope")
		s.renderPage(w, "consent", pageData{
			Title:     "Grant access",
			Action:    RouteConsent,
			ReturnTo:  safeReturnTo(r.URL.Query().Get("return_to")),
			ConsentID: r.URL.Query().Get("consent_id"),
			ClientID:  r.URL.Query().Get("client_id"),
			Scope:     scope,
			Scopes:    oauth2.ParseScopes(scope),
		})
	}
}

func (s *Server) DeviceApprovalPage() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.renderPage(w, "device", pageData{
			Title:    "Approve device",
			Action:   RouteDeviceApproval,
			UserCode: r.URL.Query().Get("user_code"),
		})
	}
}
