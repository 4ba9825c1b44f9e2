package token

import (
	"context"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jrsteele09/go-identity-server/internal/utils"
	"github.com/jrsteele09/go-identity-server/oauth2"
	"github.com/jrsteele09/go-identity-server/token/refresh"
	"github.com/jrsteele09/go-identity-server/users"
	"github.com/pkg/errors"
)

// Grant describes an authorization outcome the token endpoint is about to
// turn into tokens. Grant validators populate it; the Manager only mints.
type Grant struct {
	ClientID          string
	SubjectID         string // empty for machine-to-machine grants
	SessionID         string
	Scopes            []string
	Audiences         []string
	Resources         []string // resource indicators carried onto the refresh token
	Nonce             string   // echoed into the ID token when present
	Confirmation      string   // DPoP key thumbprint for the cnf claim, empty for bearer
	TokenType         string   // oauth2.TokenTypeBearer or oauth2.TokenTypeDPoP
	IssueIDToken      bool
	IssueRefreshToken bool
}

// CnfClaim is the JWT confirmation claim carrying the DPoP key thumbprint
type CnfClaim struct {
	Jkt string `json:"jkt"`
}

// TokenIntrospection represents the metadata information of an OAuth 2.0 token.
// The struct is designed to capture details from an introspection endpoint.
// The 'active' field indicates the state of the token - if it's false, other fields may not be populated.
type TokenIntrospection struct {
	Active   bool      `json:"active"`              // True or false - Is the token valid
	Scope    *string   `json:"scope,omitempty"`     // Space separated granted scopes
	ClientID *string   `json:"client_id,omitempty"` // Client the token was issued to
	Aud      []string  `json:"aud,omitempty"`       // Audiences the token is valid for
	Exp      *int64    `json:"exp,omitempty"`       // Expiration
	Iat      *int64    `json:"iat,omitempty"`       // Issued at time
	Iss      *string   `json:"iss,omitempty"`       // Issuer of the token
	Sub      *string   `json:"sub,omitempty"`       // Subject's unique ID
	Cnf      *CnfClaim `json:"cnf,omitempty"`       // DPoP key binding
}

type Manager struct {
	signer             Signer
	issuer             string
	defaultAudience    string
	refresh            *refresh.Manager
	userRepo           users.UserRepo
	revokedCache       RevokedTokenCache
	accessTokenExpiry  time.Duration
	idTokenExpiry      time.Duration
	nowFunc            func() time.Time
}

type ManagerOption func(*Manager)

func WithTokenExpiry(accessTokenExpiry, idTokenExpiry time.Duration) ManagerOption {
	return func(m *Manager) {
		m.accessTokenExpiry = accessTokenExpiry
		m.idTokenExpiry = idTokenExpiry
	}
}

func WithNowFunc(now func() time.Time) ManagerOption {
	return func(m *Manager) {
		m.nowFunc = now
	}
}

func WithIssuer(issuer string) ManagerOption {
	return func(m *Manager) {
		m.issuer = issuer
	}
}

// WithDefaultAudience sets the aud claim value used when a grant names no
// audience of its own
func WithDefaultAudience(audience string) ManagerOption {
	return func(m *Manager) {
		m.defaultAudience = audience
	}
}

func WithRevokedTokenCache(cache RevokedTokenCache) ManagerOption {
	return func(m *Manager) {
		m.revokedCache = cache
	}
}

func New(refreshManager *refresh.Manager, userRepo users.UserRepo, signer Signer, options ...ManagerOption) *Manager {
	m := &Manager{
		refresh:      refreshManager,
		userRepo:     userRepo,
		signer:       signer,
		revokedCache: NewInMemoryRevokedTokenCache(),
	}

	for _, opt := range options {
		opt(m)
	}

	if m.accessTokenExpiry == 0 {
		m.accessTokenExpiry = time.Minute * 10
	}
	if m.idTokenExpiry == 0 {
		m.idTokenExpiry = time.Hour
	}
	if m.nowFunc == nil {
		m.nowFunc = time.Now
	}
	return m
}

// CreateIDToken mints an OIDC ID token for the given user and client
func (c *Manager) CreateIDToken(user *users.User, clientID, nonce, sessionID string) (*string, error) {
	claims := jwt.MapClaims{
		"iss":   c.issuer,
		"sub":   user.ID,
		"aud":   clientID,
		"email": user.Email,
		"name":  user.Name(),
		"roles": user.Roles,
		"iat":   c.nowFunc().Unix(),
		"exp":   c.nowFunc().Add(c.idTokenExpiry).Unix(),
		"jti":   uuid.New().String(),
	}

	if nonce != "" {
		claims["nonce"] = nonce
	}
	if sessionID != "" {
		claims["sid"] = sessionID
	}

	return c.signToken(claims)
}

// CreateAccessToken mints an access token for the grant. The sub claim is the
// end user when present, otherwise the client itself. A non-empty Confirmation
// binds the token to the DPoP key via the cnf claim.
func (c *Manager) CreateAccessToken(grant Grant) (*string, error) {
	claims := jwt.MapClaims{
		"iss":       c.issuer,
		"sub":       grant.ClientID,
		"client_id": grant.ClientID,
		"iat":       c.nowFunc().Unix(),
		"exp":       c.nowFunc().Add(c.accessTokenExpiry).Unix(),
		"jti":       uuid.New().String(),
	}

	if grant.SubjectID != "" {
		claims["sub"] = grant.SubjectID
	}
	if len(grant.Scopes) > 0 {
		claims["scope"] = strings.Join(grant.Scopes, " ")
	}

	switch len(grant.Audiences) {
	case 0:
		if c.defaultAudience != "" {
			claims["aud"] = c.defaultAudience
		}
	case 1:
		claims["aud"] = grant.Audiences[0]
	default:
		claims["aud"] = grant.Audiences
	}

	if grant.Confirmation != "" {
		claims["cnf"] = map[string]string{"jkt": grant.Confirmation}
	}

	return c.signToken(claims)
}

// GenerateTokenResponse mints the full token endpoint response for a validated
// grant: access token, optional ID token, optional refresh token.
func (c *Manager) GenerateTokenResponse(ctx context.Context, grant Grant) (*oauth2.TokenResponse, error) {
	accessToken, err := c.CreateAccessToken(grant)
	if err != nil {
		return nil, errors.Wrap(err, "[Manager.GenerateTokenResponse] CreateAccessToken")
	}

	var idToken *string
	if grant.IssueIDToken && grant.SubjectID != "" {
		user, err := c.userRepo.GetByID(ctx, grant.SubjectID)
		if err != nil {
			return nil, errors.Wrap(err, "[Manager.GenerateTokenResponse] GetByID")
		}
		idToken, err = c.CreateIDToken(user, grant.ClientID, grant.Nonce, grant.SessionID)
		if err != nil {
			return nil, errors.Wrap(err, "[Manager.GenerateTokenResponse] CreateIDToken")
		}
	}

	var refreshToken *string
	if grant.IssueRefreshToken {
		refreshToken, err = c.refresh.Create(ctx, grant.ClientID, grant.SubjectID, grant.SessionID, grant.Scopes, grant.Resources)
		if err != nil {
			return nil, errors.Wrap(err, "[Manager.GenerateTokenResponse] refresh.Create")
		}
	}

	tokenType := grant.TokenType
	if tokenType == "" {
		tokenType = oauth2.TokenTypeBearer
	}

	return &oauth2.TokenResponse{
		AccessToken:  accessToken,
		IdToken:      idToken,
		TokenType:    tokenType,
		ExpiresIn:    int(c.accessTokenExpiry.Seconds()),
		RefreshToken: refreshToken,
		Scope:        strings.Join(grant.Scopes, " "),
	}, nil
}

// Introspection parses and verifies an access token, returning its metadata.
// Invalid, expired and revoked tokens all come back with Active false.
func (c *Manager) Introspection(rawToken string) (*TokenIntrospection, error) {
	if strings.TrimSpace(rawToken) == "" {
		return &TokenIntrospection{Active: false}, nil
	}

	token, err := jwt.NewParser(jwt.WithoutClaimsValidation()).Parse(rawToken, c.signer.GetVerificationKey)
	if err != nil || !token.Valid {
		return &TokenIntrospection{Active: false}, err
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return &TokenIntrospection{Active: false}, errors.New("error extracting claims from token")
	}

	iss, _ := claims["iss"].(string)
	sub, _ := claims["sub"].(string)
	clientID, _ := claims["client_id"].(string)
	scope, _ := claims["scope"].(string)
	iat, _ := claims["iat"].(float64)
	exp, _ := claims["exp"].(float64)
	jti, _ := claims["jti"].(string)

	iatInt := int64(iat)
	expInt := int64(exp)

	var aud []string
	switch v := claims["aud"].(type) {
	case string:
		aud = []string{v}
	case []any:
		aud = utils.ToStringSlice(v)
	}

	var cnf *CnfClaim
	if cnfClaim, ok := claims["cnf"].(map[string]any); ok {
		if jkt, ok := cnfClaim["jkt"].(string); ok {
			cnf = &CnfClaim{Jkt: jkt}
		}
	}

	active := c.nowFunc().Unix() <= expInt
	if jti != "" && c.revokedCache.IsRevoked(jti) {
		active = false
	}

	introspection := &TokenIntrospection{
		Active: active,
		Aud:    aud,
		Exp:    utils.Ptr(expInt),
		Iat:    utils.Ptr(iatInt),
		Iss:    utils.Ptr(iss),
		Sub:    utils.Ptr(sub),
		Cnf:    cnf,
	}
	if clientID != "" {
		introspection.ClientID = utils.Ptr(clientID)
	}
	if scope != "" {
		introspection.Scope = utils.Ptr(scope)
	}
	return introspection, nil
}

// RevokeAccessToken revokes an access token by its JTI
func (c *Manager) RevokeAccessToken(rawToken string) error {
	token, err := jwt.NewParser(jwt.WithoutClaimsValidation()).Parse(rawToken, c.signer.GetVerificationKey)
	if err != nil || !token.Valid {
		return errors.Wrap(err, "invalid token")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return errors.New("error extracting claims from token")
	}

	jti, ok := claims["jti"].(string)
	if !ok || jti == "" {
		return errors.New("token missing jti claim")
	}

	exp, ok := claims["exp"].(float64)
	if !ok {
		return errors.New("token missing exp claim")
	}

	return c.revokedCache.Add(jti, time.Unix(int64(exp), 0))
}

// InvalidateRefreshToken removes a refresh token from storage
func (c *Manager) InvalidateRefreshToken(ctx context.Context, refreshToken string) {
	_ = c.refresh.Delete(ctx, refreshToken)
}

// GetJWKS returns the JSON Web Key Set for public key distribution.
// Only works with asymmetric signers.
func (c *Manager) GetJWKS() (*JWKS, error) {
	keyPairSigner, ok := c.signer.(*KeyPairSigner)
	if !ok {
		return nil, errors.New("JWKS is only available for asymmetric signers")
	}
	return keyPairSigner.GetJWKS()
}

func (c *Manager) signToken(claims jwt.MapClaims) (*string, error) {
	signedToken, err := c.signer.Sign(claims)
	if err != nil {
		return nil, err
	}
	return &signedToken, nil
}
