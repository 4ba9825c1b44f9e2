// Package server is the HTTP surface over the protocol engine: the OAuth2 and
// OIDC endpoints, the interaction pages' form handlers, and the upstream
// identity-provider round trip.
package server

import (
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/rs/zerolog"
	"golang.org/x/oauth2"

	"github.com/jrsteele09/go-identity-server/authorize"
	"github.com/jrsteele09/go-identity-server/clients"
	"github.com/jrsteele09/go-identity-server/events"
	"github.com/jrsteele09/go-identity-server/grants"
	"github.com/jrsteele09/go-identity-server/internal/config"
	"github.com/jrsteele09/go-identity-server/par"
	"github.com/jrsteele09/go-identity-server/server/authflowrepo"
	"github.com/jrsteele09/go-identity-server/sessions"
	"github.com/jrsteele09/go-identity-server/token"
	"github.com/jrsteele09/go-identity-server/users"
)

// OidcConfig holds the discovered configuration for one upstream identity
// provider, cached per issuer.
type OidcConfig struct {
	OidcProvider *oidc.Provider
	OAuth2Config *oauth2.Config
}

// Deps are the engine collaborators the HTTP layer dispatches into.
type Deps struct {
	Clients     clients.Repo
	Users       users.UserRepo
	Sessions    sessions.Repo
	Consents    authorize.ConsentRepo
	Validator   *authorize.RequestValidator
	Interaction *authorize.InteractionGenerator
	Responses   *authorize.ResponseGenerator
	Grants      *grants.TokenRequestValidator
	Tokens      *token.Manager
	PAR         *par.Flow
	Device      *grants.DeviceFlow
	Backchannel *grants.BackchannelFlow
	AuthFlows   authflowrepo.Repo
	Audit       *events.Auditor
}

type Server struct {
	env    string // Environment (e.g., "DEV", "production")
	mux    *http.ServeMux
	routes []string
	config config.Config
	deps   Deps
	log    zerolog.Logger

	// UpstreamClientID/Secret authenticate this server to upstream IdPs.
	upstreamClientID     string
	upstreamClientSecret string

	upstreamOidc     map[string]OidcConfig
	upstreamOidcLock sync.RWMutex
}

func New(cfg config.Config, deps Deps, log zerolog.Logger) (*Server, error) {
	if deps.Validator == nil || deps.Grants == nil || deps.Tokens == nil {
		return nil, fmt.Errorf("[server.New] missing engine dependencies")
	}

	s := &Server{
		mux:                  http.NewServeMux(),
		config:               cfg,
		deps:                 deps,
		log:                  log.With().Str("component", "server").Logger(),
		env:                  cfg.GetEnv(),
		upstreamClientID:     config.GetEnv("UPSTREAM_CLIENT_ID", ""),
		upstreamClientSecret: config.GetEnv("UPSTREAM_CLIENT_SECRET", ""),
		upstreamOidc:         make(map[string]OidcConfig),
	}

	s.initRoutes()
	s.logRoutes()

	return s, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) RegisterRouteHandler(pattern string, handler http.Handler) {
	s.routes = append(s.routes, pattern)
	s.mux.Handle(pattern, handler)
}

func (s *Server) RegisterRouteFunc(pattern string, handler func(http.ResponseWriter, *http.Request)) {
	s.routes = append(s.routes, pattern)
	s.mux.HandleFunc(pattern, handler)
}

func (s *Server) logRoutes() {
	if s.env != "DEV" {
		return
	}
	for _, route := range s.routes {
		parts := strings.SplitN(route, " ", 2)
		if len(parts) > 1 {
			s.logRoute(parts[0], parts[1])
		} else {
			s.logRoute("", parts[0])
		}
	}
}

func (s *Server) logRoute(method, path string) {
	s.log.Debug().Str("method", method).Str("path", path).Msg("route")
}

// getScheme determines http/https, honouring proxy forwarding.
func getScheme(r *http.Request) string {
	if r.TLS != nil {
		return "https"
	}
	if scheme := r.Header.Get("X-Forwarded-Proto"); scheme != "" {
		return scheme
	}
	return "http"
}

// requestURL reconstructs the full URL of the request for DPoP htu binding.
func requestURL(r *http.Request) string {
	return getScheme(r) + "://" + r.Host + r.URL.Path
}
