package dpop_test

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"sync"
	"testing"
	"time"

	jose "github.com/go-jose/go-jose/v4"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jrsteele09/go-identity-server/clients"
	"github.com/jrsteele09/go-identity-server/dpop"
	"github.com/jrsteele09/go-identity-server/oauth2"
	"github.com/stretchr/testify/require"
)

const tokenEndpoint = "https://issuer.example.com/oauth2/token"

type proofSigner struct {
	key *ecdsa.PrivateKey
}

func newProofSigner(t *testing.T) *proofSigner {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	return &proofSigner{key: key}
}

// jwkHeader returns the signer's public key as the map the jwk header carries
func (s *proofSigner) jwkHeader(t *testing.T) map[string]any {
	t.Helper()
	raw, err := (&jose.JSONWebKey{Key: s.key.Public()}).MarshalJSON()
	require.NoError(t, err)
	var header map[string]any
	require.NoError(t, json.Unmarshal(raw, &header))
	return header
}

type proofOption func(token *jwt.Token)

func withHeader(name string, value any) proofOption {
	return func(token *jwt.Token) {
		token.Header[name] = value
	}
}

func (s *proofSigner) sign(t *testing.T, claims jwt.MapClaims, options ...proofOption) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodES256, claims)
	token.Header["typ"] = "dpop+jwt"
	token.Header["jwk"] = s.jwkHeader(t)
	for _, opt := range options {
		opt(token)
	}
	signed, err := token.SignedString(s.key)
	require.NoError(t, err)
	return signed
}

func (s *proofSigner) claims(now time.Time) jwt.MapClaims {
	return jwt.MapClaims{
		"jti": uuid.New().String(),
		"htm": "POST",
		"htu": tokenEndpoint,
		"iat": now.Unix(),
	}
}

type proofFixture struct {
	validator *dpop.ProofValidator
	protector *dpop.NonceProtector
	replay    *dpop.InMemoryReplayCache
	signer    *proofSigner
	now       time.Time
	nowFunc   func() time.Time
}

func setupProofFixture(t *testing.T, options ...dpop.ProofValidatorOption) *proofFixture {
	t.Helper()

	f := &proofFixture{
		signer: newProofSigner(t),
		replay: dpop.NewInMemoryReplayCache(),
		now:    time.Date(2025, 3, 14, 10, 0, 0, 0, time.UTC),
	}
	f.nowFunc = func() time.Time { return f.now }

	key, err := dpop.GenerateNonceKey()
	require.NoError(t, err)
	f.protector, err = dpop.NewNonceProtector(key)
	require.NoError(t, err)

	opts := append([]dpop.ProofValidatorOption{dpop.WithNowFunc(f.nowFunc)}, options...)
	f.validator, err = dpop.NewProofValidator(f.replay, f.protector, opts...)
	require.NoError(t, err)

	return f
}

func iatClient(skew time.Duration) *clients.Client {
	return &clients.Client{
		ID:   "dpop-client",
		DPoP: clients.DPoPPolicy{Required: true, Mode: clients.DPoPModeIAT, ClockSkew: skew},
	}
}

func nonceClient() *clients.Client {
	return &clients.Client{
		ID:   "dpop-client",
		DPoP: clients.DPoPPolicy{Required: true, Mode: clients.DPoPModeNonce},
	}
}

func (f *proofFixture) validate(proof string, client *clients.Client) (*dpop.Result, error) {
	return f.validator.Validate(context.Background(), dpop.ProofContext{
		Proof:  proof,
		Method: "POST",
		URL:    tokenEndpoint,
		Client: client,
	})
}

func requireProofError(t *testing.T, err error, code string) *oauth2.Error {
	t.Helper()
	require.Error(t, err)
	oauthErr, ok := err.(*oauth2.Error)
	require.True(t, ok, "expected *oauth2.Error, got %T: %v", err, err)
	require.Equal(t, code, oauthErr.Code)
	return oauthErr
}

func TestValidProofInIATMode(t *testing.T) {
	f := setupProofFixture(t)

	proof := f.signer.sign(t, f.signer.claims(f.now))
	result, err := f.validate(proof, iatClient(10*time.Second))
	require.NoError(t, err)

	require.NotEmpty(t, result.JwtID)
	require.NotEmpty(t, result.Thumbprint)
	require.Contains(t, result.Confirmation, result.Thumbprint)
	require.True(t, result.JSONWebKey.IsPublic())
	require.Equal(t, f.now.Unix(), result.IssuedAt.Unix())
}

func TestProofReplayIsRejected(t *testing.T) {
	f := setupProofFixture(t)

	proof := f.signer.sign(t, f.signer.claims(f.now))
	_, err := f.validate(proof, iatClient(0))
	require.NoError(t, err)

	_, err = f.validate(proof, iatClient(0))
	requireProofError(t, err, oauth2.ErrorInvalidDPoPProof)
}

func TestConcurrentReplayYieldsExactlyOneSuccess(t *testing.T) {
	f := setupProofFixture(t)

	proof := f.signer.sign(t, f.signer.claims(f.now))

	const attempts = 16
	var wg sync.WaitGroup
	results := make(chan error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.validate(proof, iatClient(0))
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	successes := 0
	for err := range results {
		if err == nil {
			successes++
		}
	}
	require.Equal(t, 1, successes)
}

func TestSymmetricAlgorithmIsRejected(t *testing.T) {
	f := setupProofFixture(t)

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, f.signer.claims(f.now))
	token.Header["typ"] = "dpop+jwt"
	token.Header["jwk"] = f.signer.jwkHeader(t)
	proof, err := token.SignedString([]byte("shared-secret"))
	require.NoError(t, err)

	_, err = f.validate(proof, iatClient(0))
	requireProofError(t, err, oauth2.ErrorInvalidDPoPProof)
}

func TestPrivateKeyMaterialInJWKIsRejected(t *testing.T) {
	f := setupProofFixture(t)

	raw, err := (&jose.JSONWebKey{Key: f.signer.key}).MarshalJSON()
	require.NoError(t, err)
	var privateHeader map[string]any
	require.NoError(t, json.Unmarshal(raw, &privateHeader))

	proof := f.signer.sign(t, f.signer.claims(f.now), withHeader("jwk", privateHeader))
	_, err = f.validate(proof, iatClient(0))
	requireProofError(t, err, oauth2.ErrorInvalidDPoPProof)
}

func TestWrongTypHeaderIsRejected(t *testing.T) {
	f := setupProofFixture(t)

	proof := f.signer.sign(t, f.signer.claims(f.now), withHeader("typ", "JWT"))
	_, err := f.validate(proof, iatClient(0))
	requireProofError(t, err, oauth2.ErrorInvalidDPoPProof)
}

func TestSignatureMustMatchEmbeddedKey(t *testing.T) {
	f := setupProofFixture(t)

	// Signed by one key, jwk header claims another
	other := newProofSigner(t)
	proof := f.signer.sign(t, f.signer.claims(f.now), withHeader("jwk", other.jwkHeader(t)))
	_, err := f.validate(proof, iatClient(0))
	requireProofError(t, err, oauth2.ErrorInvalidDPoPProof)
}

func TestMethodAndURLBinding(t *testing.T) {
	f := setupProofFixture(t)

	claims := f.signer.claims(f.now)
	claims["htm"] = "GET"
	_, err := f.validate(f.signer.sign(t, claims), iatClient(0))
	requireProofError(t, err, oauth2.ErrorInvalidDPoPProof)

	claims = f.signer.claims(f.now)
	claims["htu"] = "https://issuer.example.com/other"
	_, err = f.validate(f.signer.sign(t, claims), iatClient(0))
	requireProofError(t, err, oauth2.ErrorInvalidDPoPProof)
}

func TestQueryStringIsIgnoredInURLBinding(t *testing.T) {
	f := setupProofFixture(t)

	proof := f.signer.sign(t, f.signer.claims(f.now))
	_, err := f.validator.Validate(context.Background(), dpop.ProofContext{
		Proof:  proof,
		Method: "POST",
		URL:    tokenEndpoint + "?foo=bar#frag",
		Client: iatClient(0),
	})
	require.NoError(t, err)
}

func TestAccessTokenHashBinding(t *testing.T) {
	f := setupProofFixture(t)
	accessToken := "an.access.token"

	hash := sha256.Sum256([]byte(accessToken))
	claims := f.signer.claims(f.now)
	claims["ath"] = base64.RawURLEncoding.EncodeToString(hash[:])

	_, err := f.validator.Validate(context.Background(), dpop.ProofContext{
		Proof:       f.signer.sign(t, claims),
		Method:      "POST",
		URL:         tokenEndpoint,
		AccessToken: accessToken,
		Client:      iatClient(0),
	})
	require.NoError(t, err)

	// Wrong hash
	claims = f.signer.claims(f.now)
	claims["ath"] = "bm90LXRoZS1oYXNo"
	_, err = f.validator.Validate(context.Background(), dpop.ProofContext{
		Proof:       f.signer.sign(t, claims),
		Method:      "POST",
		URL:         tokenEndpoint,
		AccessToken: accessToken,
		Client:      iatClient(0),
	})
	requireProofError(t, err, oauth2.ErrorInvalidDPoPProof)
}

func TestMissingJTIAndIATAreFatal(t *testing.T) {
	f := setupProofFixture(t)

	claims := f.signer.claims(f.now)
	delete(claims, "jti")
	_, err := f.validate(f.signer.sign(t, claims), iatClient(0))
	requireProofError(t, err, oauth2.ErrorInvalidDPoPProof)

	// Missing iat stays fatal in nonce mode even when a nonce is present
	nonce, err := f.protector.Protect(f.now)
	require.NoError(t, err)
	claims = f.signer.claims(f.now)
	delete(claims, "iat")
	claims["nonce"] = nonce
	_, err = f.validate(f.signer.sign(t, claims), nonceClient())
	requireProofError(t, err, oauth2.ErrorInvalidDPoPProof)
}

func TestClockSkewBoundaries(t *testing.T) {
	const lifetime = time.Minute
	const skew = 10 * time.Second
	f := setupProofFixture(t, dpop.WithProofLifetime(lifetime))
	client := iatClient(skew)

	cases := []struct {
		name string
		iat  time.Time
		ok   bool
	}{
		{"just inside the past bound", f.now.Add(-(lifetime + skew - time.Second)), true},
		{"just past the past bound", f.now.Add(-(lifetime + skew + time.Second)), false},
		{"just inside the future bound", f.now.Add(skew - time.Second), true},
		{"just past the future bound", f.now.Add(skew + time.Second), false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			claims := f.signer.claims(tc.iat)
			claims["jti"] = uuid.New().String()
			_, err := f.validate(f.signer.sign(t, claims), client)
			if tc.ok {
				require.NoError(t, err)
			} else {
				requireProofError(t, err, oauth2.ErrorInvalidDPoPProof)
			}
		})
	}
}

func TestNonceModeRoundTrip(t *testing.T) {
	f := setupProofFixture(t)

	// First request carries no nonce: use_dpop_nonce plus a retry nonce
	proof := f.signer.sign(t, f.signer.claims(f.now))
	_, err := f.validate(proof, nonceClient())
	oauthErr := requireProofError(t, err, oauth2.ErrorUseDPoPNonce)
	require.NotEmpty(t, oauthErr.RetryNonce)
	require.True(t, oauthErr.IsRetryable())

	// Retrying with the issued nonce succeeds
	claims := f.signer.claims(f.now)
	claims["nonce"] = oauthErr.RetryNonce
	result, err := f.validate(f.signer.sign(t, claims), nonceClient())
	require.NoError(t, err)
	require.Equal(t, oauthErr.RetryNonce, result.Nonce)
}

func TestStaleAndTamperedNoncesIssueFreshOnes(t *testing.T) {
	f := setupProofFixture(t, dpop.WithProofLifetime(time.Minute))

	stale, err := f.protector.Protect(f.now.Add(-time.Hour))
	require.NoError(t, err)
	claims := f.signer.claims(f.now)
	claims["nonce"] = stale
	oauthErr := requireProofError(t, mustErr(f.validate(f.signer.sign(t, claims), nonceClient())), oauth2.ErrorUseDPoPNonce)
	require.NotEmpty(t, oauthErr.RetryNonce)

	claims = f.signer.claims(f.now)
	claims["nonce"] = "dGFtcGVyZWQtbm9uY2U"
	oauthErr = requireProofError(t, mustErr(f.validate(f.signer.sign(t, claims), nonceClient())), oauth2.ErrorUseDPoPNonce)
	require.NotEmpty(t, oauthErr.RetryNonce)
}

func TestEmptyProofIsRejected(t *testing.T) {
	f := setupProofFixture(t)

	_, err := f.validate("", iatClient(0))
	requireProofError(t, err, oauth2.ErrorInvalidDPoPProof)
}

func TestCancelledContextWritesNothing(t *testing.T) {
	f := setupProofFixture(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	proof := f.signer.sign(t, f.signer.claims(f.now))
	_, err := f.validator.Validate(ctx, dpop.ProofContext{
		Proof: proof, Method: "POST", URL: tokenEndpoint, Client: iatClient(0),
	})
	require.Error(t, err)

	// The replay cache was not touched: the same proof validates cleanly
	_, err = f.validate(proof, iatClient(0))
	require.NoError(t, err)
}

func mustErr(_ *dpop.Result, err error) error {
	return err
}
