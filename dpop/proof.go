// Package dpop validates RFC 9449 Demonstrating Proof-of-Possession proofs:
// client-signed tokens binding a request to an asymmetric key, with replay
// and clock-skew protection.
package dpop

import (
	"context"
	"crypto"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	jose "github.com/go-jose/go-jose/v4"
	"github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"

	"github.com/jrsteele09/go-identity-server/clients"
	"github.com/jrsteele09/go-identity-server/oauth2"
)

// Supported proof signing algorithms. Symmetric algorithms are deliberately
// absent: a proof must be verifiable with the embedded public key alone.
var supportedAlgorithms = []string{
	"RS256", "RS384", "RS512",
	"PS256", "PS384", "PS512",
	"ES256", "ES384", "ES512",
}

const proofHeaderType = "dpop+jwt"

const (
	defaultProofLifetime   = time.Minute
	defaultServerClockSkew = 10 * time.Second
)

// ProofContext is the input for a single proof validation: the proof token
// and the request it claims to cover.
type ProofContext struct {
	Proof       string          // Raw value of the DPoP header
	Method      string          // HTTP method of the request
	URL         string          // Full request URL; query and fragment are ignored
	AccessToken string          // Bound access token, for ath validation ("" at the token endpoint)
	Client      *clients.Client // Client whose DPoP policy applies
}

// Result is the outcome of a successful validation. Transient, one per call.
type Result struct {
	// JSONWebKey is the public key embedded in the proof header.
	JSONWebKey jose.JSONWebKey

	// Thumbprint is the RFC 7638 base64url SHA-256 thumbprint of the key.
	Thumbprint string

	// Confirmation is the cnf claim value to embed in issued tokens.
	Confirmation string

	// JwtID, IssuedAt and Nonce are the extracted payload fields.
	JwtID    string
	IssuedAt time.Time
	Nonce    string

	// ServerNonce is a freshly-minted nonce for the client's next request.
	// Only set under nonce-mode validation.
	ServerNonce string
}

// ProofValidator validates DPoP proofs against per-client policy.
// Safe for concurrent use.
type ProofValidator struct {
	replay          ReplayCache
	nonces          *NonceProtector
	proofLifetime   time.Duration
	serverClockSkew time.Duration
	replayPadding   time.Duration
	nowFunc         func() time.Time
}

type ProofValidatorOption func(*ProofValidator)

// WithProofLifetime sets how long after its iat (or nonce issue time) a proof
// stays acceptable.
func WithProofLifetime(lifetime time.Duration) ProofValidatorOption {
	return func(v *ProofValidator) {
		v.proofLifetime = lifetime
	}
}

// WithServerClockSkew sets the skew tolerated when validating server-issued
// nonces (nonce mode uses our own clock, not the client's).
func WithServerClockSkew(skew time.Duration) ProofValidatorOption {
	return func(v *ProofValidator) {
		v.serverClockSkew = skew
	}
}

// WithReplayTTLPadding overrides the padding added to the replay cache TTL.
// The default is twice the relevant clock skew, a conservative approximation
// rather than a derived bound.
func WithReplayTTLPadding(padding time.Duration) ProofValidatorOption {
	return func(v *ProofValidator) {
		v.replayPadding = padding
	}
}

// WithNowFunc sets the clock (primarily for testing).
func WithNowFunc(now func() time.Time) ProofValidatorOption {
	return func(v *ProofValidator) {
		v.nowFunc = now
	}
}

// NewProofValidator creates a proof validator. The replay cache and nonce
// protector are required collaborators.
func NewProofValidator(replay ReplayCache, nonces *NonceProtector, options ...ProofValidatorOption) (*ProofValidator, error) {
	if replay == nil {
		return nil, errors.New("[NewProofValidator] replay cache is required")
	}
	if nonces == nil {
		return nil, errors.New("[NewProofValidator] nonce protector is required")
	}
	v := &ProofValidator{
		replay:          replay,
		nonces:          nonces,
		proofLifetime:   defaultProofLifetime,
		serverClockSkew: defaultServerClockSkew,
		nowFunc:         time.Now,
	}
	for _, opt := range options {
		opt(v)
	}
	return v, nil
}

// Validate runs the proof through header, signature, payload, freshness and
// replay stages, short-circuiting on the first violation. The replay-cache
// insert is the only side effect and happens strictly after every other check
// has passed. Protocol failures come back as *oauth2.Error with code
// invalid_dpop_proof, except the retryable use_dpop_nonce signal which also
// carries a fresh server nonce.
func (v *ProofValidator) Validate(ctx context.Context, proof ProofContext) (*Result, error) {
	if proof.Proof == "" {
		return nil, invalidProof("missing DPoP proof")
	}
	if proof.Client == nil {
		return nil, errors.New("[ProofValidator.Validate] client is required")
	}

	result := &Result{}

	// Header and signature stages. The keyfunc performs the header checks and
	// hands the embedded public key to the signature verifier; any failure in
	// either stage surfaces as a generic invalid_dpop_proof so the underlying
	// cryptographic reason never reaches the caller.
	claims := jwt.MapClaims{}
	parser := jwt.NewParser(jwt.WithValidMethods(supportedAlgorithms), jwt.WithoutClaimsValidation())
	if _, err := parser.ParseWithClaims(proof.Proof, claims, v.embeddedKey(result)); err != nil {
		return nil, invalidProof("invalid DPoP proof")
	}

	// Payload stage.
	if proof.AccessToken != "" {
		hash := sha256.Sum256([]byte(proof.AccessToken))
		expectedATH := base64.RawURLEncoding.EncodeToString(hash[:])
		ath, _ := claims["ath"].(string)
		if ath != expectedATH {
			return nil, invalidProof("'ath' mismatch")
		}
	}

	jwtID, _ := claims["jti"].(string)
	if jwtID == "" {
		return nil, invalidProof("missing 'jti'")
	}
	result.JwtID = jwtID

	if htm, _ := claims["htm"].(string); htm != proof.Method {
		return nil, invalidProof("'htm' mismatch")
	}

	expectedHTU, err := normalizeHTU(proof.URL)
	if err != nil {
		return nil, errors.Wrap(err, "[ProofValidator.Validate] request URL")
	}
	if htu, _ := claims["htu"].(string); htu != expectedHTU {
		return nil, invalidProof("'htu' mismatch")
	}

	issuedAt, err := claims.GetIssuedAt()
	if err != nil || issuedAt == nil {
		return nil, invalidProof("missing or malformed 'iat'")
	}
	result.IssuedAt = issuedAt.Time
	result.Nonce, _ = claims["nonce"].(string)

	// Freshness stage, policy-selectable per client.
	now := v.nowFunc()
	relevantSkew := proof.Client.DPoP.ClockSkew
	switch proof.Client.DPoPValidationMode() {
	case clients.DPoPModeNonce:
		relevantSkew = v.serverClockSkew
		if err := v.validateNonceFreshness(result, now); err != nil {
			return nil, err
		}
	default:
		if err := v.validateIssuedAtFreshness(result.IssuedAt, proof.Client.DPoP.ClockSkew, now); err != nil {
			return nil, err
		}
	}

	// Replay stage, always last. The doubled skew accounts for drift applying
	// in either time direction; over-retaining a jti is the safe failure mode.
	padding := v.replayPadding
	if padding == 0 {
		padding = 2 * relevantSkew
	}
	if err := ctx.Err(); err != nil {
		return nil, errors.Wrap(err, "[ProofValidator.Validate] cancelled")
	}
	seen, err := v.replay.Exists(ctx, ProofReplayPurpose, jwtID)
	if err != nil {
		return nil, errors.Wrap(err, "[ProofValidator.Validate] replay.Exists")
	}
	if seen {
		return nil, invalidProof("proof replay detected")
	}
	if err := v.replay.Add(ctx, ProofReplayPurpose, jwtID, now.Add(v.proofLifetime+padding)); err != nil {
		if errors.Is(err, ErrDuplicateKey) {
			return nil, invalidProof("proof replay detected")
		}
		return nil, errors.Wrap(err, "[ProofValidator.Validate] replay.Add")
	}

	return result, nil
}

// embeddedKey is the keyfunc for proof parsing: it enforces the header stage
// (typ, embedded public-only jwk) and records the key, thumbprint and cnf
// value on the result before signature verification runs.
func (v *ProofValidator) embeddedKey(result *Result) jwt.Keyfunc {
	return func(token *jwt.Token) (any, error) {
		if typ, _ := token.Header["typ"].(string); typ != proofHeaderType {
			return nil, errors.Errorf("unexpected typ header %q", typ)
		}

		jwkHeader, ok := token.Header["jwk"]
		if !ok {
			return nil, errors.New("missing jwk header")
		}
		raw, err := json.Marshal(jwkHeader)
		if err != nil {
			return nil, errors.Wrap(err, "marshal jwk header")
		}

		var key jose.JSONWebKey
		if err := key.UnmarshalJSON(raw); err != nil {
			return nil, errors.Wrap(err, "unmarshal jwk header")
		}
		if !key.Valid() || !key.IsPublic() {
			// A jwk carrying private material is as fatal as a missing one.
			return nil, errors.New("jwk header must be a public key")
		}

		thumbprint, err := key.Thumbprint(crypto.SHA256)
		if err != nil {
			return nil, errors.Wrap(err, "jwk thumbprint")
		}

		result.JSONWebKey = key
		result.Thumbprint = base64.RawURLEncoding.EncodeToString(thumbprint)
		result.Confirmation = fmt.Sprintf(`{"jkt":%q}`, result.Thumbprint)

		return key.Key, nil
	}
}

func (v *ProofValidator) validateIssuedAtFreshness(issuedAt time.Time, clientSkew time.Duration, now time.Time) error {
	if issuedAt.After(now.Add(clientSkew)) {
		return invalidProof("proof issued in the future")
	}
	if issuedAt.Add(v.proofLifetime).Before(now.Add(-clientSkew)) {
		return invalidProof("proof expired")
	}
	return nil
}

// validateNonceFreshness validates a server-issued nonce. Whatever goes wrong
// here, the caller always receives a fresh nonce to retry with; a client is
// never left without a retry path.
func (v *ProofValidator) validateNonceFreshness(result *Result, now time.Time) error {
	fresh, err := v.nonces.Protect(now)
	if err != nil {
		return errors.Wrap(err, "[ProofValidator] minting server nonce")
	}
	result.ServerNonce = fresh

	if result.Nonce == "" {
		return nonceRequired(fresh)
	}
	issued, err := v.nonces.Unprotect(result.Nonce)
	if err != nil {
		return nonceRequired(fresh)
	}
	if issued.After(now.Add(v.serverClockSkew)) {
		return nonceRequired(fresh)
	}
	if issued.Add(v.proofLifetime).Before(now.Add(-v.serverClockSkew)) {
		return nonceRequired(fresh)
	}
	return nil
}

func normalizeHTU(rawURL string) (string, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	parsed.RawQuery = ""
	parsed.Fragment = ""
	parsed.RawFragment = ""
	return parsed.String(), nil
}

func invalidProof(description string) *oauth2.Error {
	return oauth2.NewError(oauth2.ErrorInvalidDPoPProof, description)
}

func nonceRequired(nonce string) *oauth2.Error {
	return oauth2.NewError(oauth2.ErrorUseDPoPNonce, "server nonce required").WithRetryNonce(nonce)
}
