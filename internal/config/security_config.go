package config

import (
	"encoding/base64"
	"os"
	"time"
)

type SecurityConfig interface {
	GetProofLifetime() time.Duration
	GetServerClockSkew() time.Duration
	GetMaxSessionAge() time.Duration

	// GetNonceKey returns the 32-byte AES key protecting DPoP nonces, or nil
	// when none is configured and a key should be generated at startup.
	GetNonceKey() []byte
}

type Security struct{}

var _ SecurityConfig = Security{}

// GetProofLifetime is how long a DPoP proof's iat stays acceptable.
func (Security) GetProofLifetime() time.Duration {
	return 5 * time.Minute
}

func (Security) GetServerClockSkew() time.Duration {
	return 10 * time.Second
}

func (Security) GetMaxSessionAge() time.Duration {
	return 30 * time.Minute
}

func (Security) GetNonceKey() []byte {
	encoded := os.Getenv("DPOP_NONCE_KEY")
	if encoded == "" {
		return nil
	}
	key, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil || len(key) != 32 {
		return nil
	}
	return key
}
