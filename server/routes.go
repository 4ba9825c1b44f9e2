package server

// Route path constants. All routes are defined here for consistency.
const (
	// Interaction routes: the engine's login/consent/signup decisions land here
	RouteLogin          = "/auth/login"
	RouteLogout         = "/auth/logout"
	RouteConsent        = "/auth/consent"
	RouteSignup         = "/auth/signup"
	RouteDeviceApproval = "/auth/device"
	RouteUpstreamLogin  = "/auth/upstream"
	RouteCallback       = "/callback"

	// OAuth2 / OIDC routes
	RouteWellKnownOpenIDConfig = "/.well-known/openid-configuration"
	RouteWellKnownJWKS         = "/.well-known/jwks.json"
	RouteOAuth2Authorize       = "/oauth2/authorize"
	RouteOAuth2Token           = "/oauth2/token"
	RouteOAuth2PAR             = "/oauth2/par"
	RouteOAuth2DeviceAuth      = "/oauth2/device_authorization"
	RouteOAuth2Backchannel     = "/oauth2/bc-authorize"
	RouteOAuth2Introspect      = "/oauth2/introspect"
	RouteOAuth2Revoke          = "/oauth2/revoke"
)

func (s *Server) initRoutes() {
	// Interaction pages and their form handlers
	s.RegisterRouteFunc("GET "+RouteLogin, s.LoginPage())
	s.RegisterRouteFunc("GET "+RouteConsent, s.ConsentPage())
	s.RegisterRouteFunc("GET "+RouteSignup, s.SignupPage())
	s.RegisterRouteFunc("GET "+RouteDeviceApproval, s.DeviceApprovalPage())
	s.RegisterRouteFunc("POST "+RouteLogin, s.LoginHandler())
	s.RegisterRouteFunc("GET "+RouteLogout, s.LogoutHandler())
	s.RegisterRouteFunc("POST "+RouteConsent, s.ConsentHandler())
	s.RegisterRouteFunc("POST "+RouteSignup, s.SignupHandler())
	s.RegisterRouteFunc("POST "+RouteDeviceApproval, s.DeviceApprovalHandler())
	s.RegisterRouteFunc("GET "+RouteUpstreamLogin, s.UpstreamLoginHandler())
	s.RegisterRouteFunc("GET "+RouteCallback, s.UpstreamCallbackHandler())
	s.RegisterRouteFunc("POST "+RouteCallback, s.UpstreamCallbackHandler()) // form_post response mode

	// OAuth2 / OIDC API routes
	s.RegisterRouteHandler("GET "+RouteWellKnownOpenIDConfig, ChainMiddleware(s.WellKnownOpenIDConfig(), s.APIMiddleware()...))
	s.RegisterRouteHandler("GET "+RouteWellKnownJWKS, ChainMiddleware(s.JWKS(), s.APIMiddleware()...))
	s.RegisterRouteHandler("GET "+RouteOAuth2Authorize, ChainMiddleware(s.Authorize(), s.APIMiddleware()...))
	s.RegisterRouteHandler("POST "+RouteOAuth2Authorize, ChainMiddleware(s.Authorize(), s.APIMiddleware()...))
	s.RegisterRouteHandler("POST "+RouteOAuth2Token, ChainMiddleware(s.Token(), s.APIMiddleware()...))
	s.RegisterRouteHandler("POST "+RouteOAuth2PAR, ChainMiddleware(s.PushedAuthorization(), s.APIMiddleware()...))
	s.RegisterRouteHandler("POST "+RouteOAuth2DeviceAuth, ChainMiddleware(s.DeviceAuthorization(), s.APIMiddleware()...))
	s.RegisterRouteHandler("POST "+RouteOAuth2Backchannel, ChainMiddleware(s.BackchannelAuthorize(), s.APIMiddleware()...))
	s.RegisterRouteHandler("POST "+RouteOAuth2Introspect, ChainMiddleware(s.Introspect(), s.APIMiddleware()...))
	s.RegisterRouteHandler("POST "+RouteOAuth2Revoke, ChainMiddleware(s.Revoke(), s.APIMiddleware()...))
}
