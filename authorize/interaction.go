package authorize

import (
	"context"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/jrsteele09/go-identity-server/oauth2"
	"github.com/jrsteele09/go-identity-server/sessions"
)

// InteractionType names the next step an authorize request needs from the
// end user before a response can be issued.
type InteractionType string

const (
	// InteractionNone means the request can proceed straight to issuance.
	InteractionNone InteractionType = "none"

	// InteractionLogin sends the user to the local login page.
	InteractionLogin InteractionType = "login"

	// InteractionConsent sends the user to the consent page.
	InteractionConsent InteractionType = "consent"

	// InteractionCreateAccount sends the user to account registration.
	InteractionCreateAccount InteractionType = "create_account"

	// InteractionCustomRedirect hands the user to the client's configured
	// upstream identity provider.
	InteractionCustomRedirect InteractionType = "custom_redirect"
)

// Interaction is the interaction generator's decision. Session is set only
// for InteractionNone, where issuance needs the authenticated user.
type Interaction struct {
	Type        InteractionType
	RedirectURL string // destination for InteractionCustomRedirect
	ConsentID   string // storage key for InteractionConsent
	Session     *sessions.Session
}

// InteractionGenerator decides what has to happen between a validated
// authorize request and a response: nothing, login, consent, account
// creation, or a redirect to an upstream identity provider.
type InteractionGenerator struct {
	sessions sessions.Repo
	consents ConsentRepo
	log      zerolog.Logger
	nowFunc  func() time.Time
}

type InteractionOption func(*InteractionGenerator)

func WithInteractionNowFunc(now func() time.Time) InteractionOption {
	return func(g *InteractionGenerator) {
		g.nowFunc = now
	}
}

func NewInteractionGenerator(sessionRepo sessions.Repo, consentRepo ConsentRepo, log zerolog.Logger, options ...InteractionOption) *InteractionGenerator {
	g := &InteractionGenerator{
		sessions: sessionRepo,
		consents: consentRepo,
		log:      log.With().Str("component", "interaction").Logger(),
		nowFunc:  time.Now,
	}
	for _, opt := range options {
		opt(g)
	}
	return g
}

// Decide runs the interaction state machine for a validated request.
// sessionID identifies the browser's server-side session, empty when the
// user agent presented none. A denied consent surfaces as a redirectable
// access_denied error, not an interaction.
func (g *InteractionGenerator) Decide(ctx context.Context, req *ValidatedRequest, sessionID string) (*Interaction, error) {
	session, err := g.currentSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	loggedIn := session.Active(g.nowFunc())
	if !loggedIn || hasPrompt(req.Prompt, "login") {
		if hasPrompt(req.Prompt, "create") && req.Client.AllowAccountCreation {
			return &Interaction{Type: InteractionCreateAccount}, nil
		}
		if req.Client.IdPRedirectURL != "" {
			return &Interaction{Type: InteractionCustomRedirect, RedirectURL: req.Client.IdPRedirectURL}, nil
		}
		return &Interaction{Type: InteractionLogin}, nil
	}

	if req.Client.RequireConsent || hasPrompt(req.Prompt, "consent") {
		consentID := ConsentID(session.SubjectID, req.Raw)
		consent, err := g.takeConsent(ctx, consentID)
		if err != nil {
			return nil, err
		}
		// A stored consent only counts when the subject who recorded it is
		// the one logged in here, answering for this client. Anything else
		// was planted under a predictable ID and is discarded unused.
		if consent != nil && (consent.SubjectID != session.SubjectID || consent.ClientID != req.Client.ID) {
			g.log.Warn().Str("clientID", req.Client.ID).Msg("stored consent does not match the session, discarding")
			consent = nil
		}
		if consent == nil {
			return &Interaction{Type: InteractionConsent, ConsentID: consentID}, nil
		}
		if !consent.Granted {
			return nil, req.redirectError(oauth2.NewError(oauth2.ErrorAccessDenied, "the user denied the request"))
		}
	}

	return &Interaction{Type: InteractionNone, Session: session}, nil
}

func (g *InteractionGenerator) currentSession(ctx context.Context, sessionID string) (*sessions.Session, error) {
	if sessionID == "" {
		return nil, nil
	}
	session, err := g.sessions.Get(ctx, sessionID)
	if err != nil {
		if errors.Is(err, sessions.ErrNotFound) {
			return nil, nil
		}
		g.log.Error().Err(err).Msg("session lookup failed")
		return nil, serverError("session lookup failed")
	}
	return session, nil
}

// takeConsent reads and deletes a stored consent response. Consent is single
// use: it is removed as soon as it is read, whatever the outcome.
func (g *InteractionGenerator) takeConsent(ctx context.Context, consentID string) (*ConsentResponse, error) {
	consent, err := g.consents.Read(ctx, consentID)
	if err != nil {
		if errors.Is(err, ErrConsentNotFound) {
			return nil, nil
		}
		g.log.Error().Err(err).Msg("consent lookup failed")
		return nil, serverError("consent lookup failed")
	}
	if err := g.consents.Delete(ctx, consentID); err != nil {
		g.log.Warn().Err(err).Msg("consent delete failed")
	}
	return consent, nil
}

func hasPrompt(prompt, value string) bool {
	for _, p := range strings.Fields(prompt) {
		if p == value {
			return true
		}
	}
	return false
}
