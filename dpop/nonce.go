package dpop

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"io"
	"strconv"
	"time"

	"github.com/pkg/errors"
)

// NonceProtector produces the opaque, tamper-evident server nonces handed to
// DPoP clients. A nonce is an AES-256-GCM sealed unix timestamp: the server
// can recover when it was issued, the client cannot read or forge it.
type NonceProtector struct {
	aead cipher.AEAD
}

// NewNonceProtector creates a protector. The key must be exactly 32 bytes for AES-256.
func NewNonceProtector(key []byte) (*NonceProtector, error) {
	if len(key) != 32 {
		return nil, errors.Errorf("nonce key must be exactly 32 bytes for AES-256, got %d", len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, errors.Wrap(err, "[NewNonceProtector] aes.NewCipher")
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, errors.Wrap(err, "[NewNonceProtector] cipher.NewGCM")
	}
	return &NonceProtector{aead: aead}, nil
}

// Protect seals a timestamp into an opaque base64url nonce value.
func (p *NonceProtector) Protect(t time.Time) (string, error) {
	plaintext := strconv.FormatInt(t.Unix(), 10)
	nonce := make([]byte, p.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", errors.Wrap(err, "[NonceProtector.Protect] rand.Read")
	}
	// Storage format: [gcm nonce][ciphertext]
	sealed := p.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.RawURLEncoding.EncodeToString(sealed), nil
}

// Unprotect opens a protected nonce back into the timestamp it was issued at.
// Tampered or malformed values fail.
func (p *NonceProtector) Unprotect(protected string) (time.Time, error) {
	sealed, err := base64.RawURLEncoding.DecodeString(protected)
	if err != nil {
		return time.Time{}, errors.Wrap(err, "[NonceProtector.Unprotect] base64 decode")
	}
	nonceSize := p.aead.NonceSize()
	if len(sealed) < nonceSize {
		return time.Time{}, errors.New("[NonceProtector.Unprotect] value too short")
	}
	nonce, ciphertext := sealed[:nonceSize], sealed[nonceSize:]
	plaintext, err := p.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return time.Time{}, errors.Wrap(err, "[NonceProtector.Unprotect] open")
	}
	unix, err := strconv.ParseInt(string(plaintext), 10, 64)
	if err != nil {
		return time.Time{}, errors.Wrap(err, "[NonceProtector.Unprotect] parse timestamp")
	}
	return time.Unix(unix, 0), nil
}

// GenerateNonceKey generates a new 32-byte key for the protector.
func GenerateNonceKey() ([]byte, error) {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, errors.Wrap(err, "[GenerateNonceKey] rand.Read")
	}
	return key, nil
}
