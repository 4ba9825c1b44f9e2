package oauth2

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
)

// CodeChallengeS256 derives the S256 code challenge for a verifier.
func CodeChallengeS256(verifier string) string {
	hash := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(hash[:])
}

// VerifyCodeChallenge checks a PKCE code_verifier against the stored challenge.
// An empty challenge with an empty verifier means PKCE was not used.
func VerifyCodeChallenge(storedChallenge, verifier string, method CodeMethodType) bool {
	if storedChallenge == "" && verifier == "" {
		return true
	}
	switch method {
	case CodeMethodTypeS256:
		derived := CodeChallengeS256(verifier)
		return subtle.ConstantTimeCompare([]byte(derived), []byte(storedChallenge)) == 1
	case CodeMethodTypeNone:
		return subtle.ConstantTimeCompare([]byte(verifier), []byte(storedChallenge)) == 1
	}
	return false
}
