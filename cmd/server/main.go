package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/common-nighthawk/go-figure"
	"github.com/rs/zerolog"

	"github.com/jrsteele09/go-identity-server/authorize"
	"github.com/jrsteele09/go-identity-server/clients"
	fakeclientrepo "github.com/jrsteele09/go-identity-server/clients/fakerepo"
	"github.com/jrsteele09/go-identity-server/dpop"
	"github.com/jrsteele09/go-identity-server/events"
	"github.com/jrsteele09/go-identity-server/grants"
	"github.com/jrsteele09/go-identity-server/internal/config"
	"github.com/jrsteele09/go-identity-server/oauth2"
	"github.com/jrsteele09/go-identity-server/par"
	"github.com/jrsteele09/go-identity-server/resources"
	resourcerepofakes "github.com/jrsteele09/go-identity-server/resources/repofakes"
	"github.com/jrsteele09/go-identity-server/server"
	"github.com/jrsteele09/go-identity-server/server/authflowrepo"
	"github.com/jrsteele09/go-identity-server/sessions"
	"github.com/jrsteele09/go-identity-server/token"
	"github.com/jrsteele09/go-identity-server/token/refresh"
	refreshrepofake "github.com/jrsteele09/go-identity-server/token/refresh/repofake"
	"github.com/jrsteele09/go-identity-server/users"
	fakeuserrepo "github.com/jrsteele09/go-identity-server/users/repofake"
)

func main() {
	for {
		if err := run(); err != nil {
			log.Fatalf("Error running server: %s\n", err)
			time.Sleep(1 * time.Second)
		} else {
			break
		}
	}
	log.Printf("Server stopped\n")
}

func run() (returnError error) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("Recovered from panic: %v\n", r)
			debug.PrintStack()
			returnError = errors.New("panic recovered")
		}
	}()

	c := config.New()
	displayAppname(c.GetAppName())

	logger := newLogger(c)
	handler, err := buildServer(c, logger)
	if err != nil {
		return fmt.Errorf("buildServer: %w", err)
	}

	httpServer := &http.Server{Addr: c.GetPort(), Handler: handler}
	go listenAndServe(httpServer)
	waitForStopSignal()
	returnError = shutdown(httpServer)
	return returnError
}

func newLogger(c config.Config) zerolog.Logger {
	if c.GetEnv() == "DEV" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).
			Level(zerolog.DebugLevel).
			With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

// buildServer wires the protocol engine together: storage, signing keys,
// grant validators, and the HTTP surface over them.
func buildServer(c config.Config, logger zerolog.Logger) (*server.Server, error) {
	ctx := context.Background()

	clientRepo := fakeclientrepo.NewFakeClientRepo()
	userRepo := fakeuserrepo.NewFakeUserRepo()
	resourceRepo := resourcerepofakes.NewFakeResourceRepo()
	refreshRepo := refreshrepofake.NewFakeRefreshTokenRepo()
	sessionRepo := sessions.NewInMemoryRepo()
	consentRepo := authorize.NewInMemoryConsentRepo()
	codeRepo := grants.NewInMemoryCodeRepo()
	deviceRepo := grants.NewInMemoryDeviceCodeRepo()
	backchannelRepo := grants.NewInMemoryBackchannelRepo()

	if c.GetEnv() == "DEV" {
		if err := seedDemoData(ctx, clientRepo, userRepo, resourceRepo, c); err != nil {
			return nil, fmt.Errorf("seedDemoData: %w", err)
		}
	}

	signer, err := token.GenerateSigner("RS256", "primary")
	if err != nil {
		return nil, fmt.Errorf("token.GenerateSigner: %w", err)
	}

	refreshManager := refresh.NewManager(refreshRepo,
		refresh.WithExpiry(c.GetRefreshTokenExpiry()))

	tokenManager := token.New(refreshManager, userRepo, signer,
		token.WithIssuer(c.GetIssuer()),
		token.WithTokenExpiry(c.GetAccessTokenExpiry(), c.GetIDTokenExpiry()),
		token.WithRevokedTokenCache(token.NewInMemoryRevokedTokenCache()))

	nonceKey := c.GetNonceKey()
	if nonceKey == nil {
		if nonceKey, err = dpop.GenerateNonceKey(); err != nil {
			return nil, fmt.Errorf("dpop.GenerateNonceKey: %w", err)
		}
	}
	nonceProtector, err := dpop.NewNonceProtector(nonceKey)
	if err != nil {
		return nil, fmt.Errorf("dpop.NewNonceProtector: %w", err)
	}
	proofValidator, err := dpop.NewProofValidator(dpop.NewInMemoryReplayCache(), nonceProtector,
		dpop.WithProofLifetime(c.GetProofLifetime()),
		dpop.WithServerClockSkew(c.GetServerClockSkew()))
	if err != nil {
		return nil, fmt.Errorf("dpop.NewProofValidator: %w", err)
	}

	resourceValidator := resources.NewValidator(resourceRepo)
	audit := events.NewAuditor(logger)

	parFlow := par.NewFlow(par.NewInMemoryRepo(),
		par.WithRequestLifetime(c.GetPushedRequestLifetime()))

	deviceFlow := grants.NewDeviceFlow(deviceRepo, resourceValidator,
		c.GetIssuer()+server.RouteDeviceApproval,
		grants.WithDeviceCodeLifetime(c.GetDeviceCodeLifetime()),
		grants.WithPollInterval(c.GetDevicePollInterval()))

	backchannelFlow := grants.NewBackchannelFlow(backchannelRepo, userRepo, resourceValidator)

	grantValidator := grants.NewTokenRequestValidator(clientRepo, resourceValidator, proofValidator, logger).
		Register(oauth2.AuthorizationCodeGrant, grants.NewAuthorizationCodeValidator(codeRepo)).
		Register(oauth2.ClientCredentialsGrant, grants.NewClientCredentialsValidator()).
		Register(oauth2.PasswordGrant, grants.NewPasswordValidator(userRepo)).
		Register(oauth2.RefreshTokenGrant, grants.NewRefreshTokenValidator(refreshManager)).
		Register(oauth2.DeviceCodeGrant, grants.NewDeviceCodeValidator(deviceRepo)).
		Register(oauth2.CIBAGrant, grants.NewCIBAValidator(backchannelRepo))

	deps := server.Deps{
		Clients:     clientRepo,
		Users:       userRepo,
		Sessions:    sessionRepo,
		Consents:    consentRepo,
		Validator:   authorize.NewRequestValidator(clientRepo, resourceValidator, logger, authorize.WithPushedRequests(parFlow)),
		Interaction: authorize.NewInteractionGenerator(sessionRepo, consentRepo, logger),
		Responses:   authorize.NewResponseGenerator(codeRepo, audit, authorize.WithCodeLifetime(c.GetAuthCodeLifetime())),
		Grants:      grantValidator,
		Tokens:      tokenManager,
		PAR:         parFlow,
		Device:      deviceFlow,
		Backchannel: backchannelFlow,
		AuthFlows:   authflowrepo.NewInMemoryRepo(),
		Audit:       audit,
	}

	return server.New(c, deps, logger)
}

// seedDemoData registers a demo client, user, and API so a fresh DEV server
// is usable out of the box.
func seedDemoData(ctx context.Context, clientRepo clients.Repo, userRepo users.UserRepo, resourceRepo *resourcerepofakes.FakeResourceRepo, c config.Config) error {
	resourceRepo.AddIdentityResource(&resources.IdentityResource{
		Name: "openid", Enabled: true, UserClaims: []string{"sub"},
	})
	resourceRepo.AddIdentityResource(&resources.IdentityResource{
		Name: "profile", Enabled: true, UserClaims: []string{"name", "given_name", "family_name"},
	})
	resourceRepo.AddIdentityResource(&resources.IdentityResource{
		Name: "email", Enabled: true, UserClaims: []string{"email", "email_verified"},
	})
	resourceRepo.AddApiScope(&resources.ApiScope{Name: "api.read", Enabled: true})
	resourceRepo.AddApiScope(&resources.ApiScope{Name: "api.write", Enabled: true})
	resourceRepo.AddApiResource(&resources.ApiResource{
		Name:    "https://api.example.com",
		Enabled: true,
		Scopes:  []string{"api.read", "api.write"},
	})

	demoClient := &clients.Client{
		ID:           "demo-web",
		Type:         clients.ClientTypeConfidential,
		Description:  "Demo web application",
		Secret:       config.GetEnv("DEMO_CLIENT_SECRET", "demo-secret"),
		RedirectURIs: []string{c.GetIssuer() + "/demo/callback"},
		Scopes:       []string{"openid", "profile", "email", "api.read", "api.write"},
		GrantTypes: []oauth2.GrantType{
			oauth2.AuthorizationCodeGrant,
			oauth2.ClientCredentialsGrant,
			oauth2.RefreshTokenGrant,
			oauth2.DeviceCodeGrant,
		},
		AllowOfflineAccess: true,
	}
	if err := clientRepo.Upsert(ctx, demoClient); err != nil {
		return err
	}

	spaClient := &clients.Client{
		ID:           "demo-spa",
		Type:         clients.ClientTypePublic,
		Description:  "Demo single page application",
		RedirectURIs: []string{"http://localhost:3000/callback"},
		Scopes:       []string{"openid", "profile", "email", "api.read"},
		GrantTypes: []oauth2.GrantType{
			oauth2.AuthorizationCodeGrant,
			oauth2.RefreshTokenGrant,
		},
	}
	if err := clientRepo.Upsert(ctx, spaClient); err != nil {
		return err
	}

	password := config.GetEnv("DEMO_USER_PASSWORD", "")
	if password == "" {
		password = "changeme-" + time.Now().Format("150405")
	}
	passwordHash, err := users.HashPassword(password)
	if err != nil {
		return err
	}
	if err := userRepo.Upsert(ctx, &users.User{
		ID:           "demo-admin",
		Email:        "admin@example.com",
		Username:     "admin",
		PasswordHash: passwordHash,
		FirstName:    "Demo",
		LastName:     "Admin",
		DateJoined:   time.Now(),
		Verified:     true,
	}); err != nil {
		return err
	}

	log.Printf("Demo data seeded:")
	log.Printf("   Clients:   demo-web (confidential), demo-spa (public)")
	log.Printf("   User:      admin / %s", password)
	log.Printf("   Discovery: %s/.well-known/openid-configuration", c.GetIssuer())
	return nil
}

func listenAndServe(server *http.Server) error {
	log.Printf("Server listening on %s\n", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server.ListenAndServe %w", err)
	}
	return nil
}

func waitForStopSignal() {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
}

func shutdown(server *http.Server) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server.Shutdown: %w", err)
	}
	return nil
}

func displayAppname(appname string) {
	myFigure := figure.NewFigure(appname, "cybermedium", true)
	myFigure.Print()
	fmt.Println()
}
