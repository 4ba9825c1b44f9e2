package dpop_test

import (
	"encoding/base64"
	"testing"
	"time"

	"github.com/jrsteele09/go-identity-server/dpop"
	"github.com/stretchr/testify/require"
)

func newProtector(t *testing.T) *dpop.NonceProtector {
	t.Helper()
	key, err := dpop.GenerateNonceKey()
	require.NoError(t, err)
	protector, err := dpop.NewNonceProtector(key)
	require.NoError(t, err)
	return protector
}

func TestNonceRoundTrip(t *testing.T) {
	protector := newProtector(t)

	for _, issued := range []time.Time{
		time.Unix(0, 0),
		time.Date(2025, 3, 14, 10, 0, 0, 0, time.UTC),
		time.Now(),
	} {
		protected, err := protector.Protect(issued)
		require.NoError(t, err)

		recovered, err := protector.Unprotect(protected)
		require.NoError(t, err)
		require.Equal(t, issued.Unix(), recovered.Unix())
	}
}

func TestNoncesAreOpaque(t *testing.T) {
	protector := newProtector(t)
	issued := time.Date(2025, 3, 14, 10, 0, 0, 0, time.UTC)

	first, err := protector.Protect(issued)
	require.NoError(t, err)
	second, err := protector.Protect(issued)
	require.NoError(t, err)

	// Same timestamp, different ciphertext
	require.NotEqual(t, first, second)
}

func TestTamperedNonceFailsToUnprotect(t *testing.T) {
	protector := newProtector(t)

	protected, err := protector.Protect(time.Now())
	require.NoError(t, err)

	raw, err := base64.RawURLEncoding.DecodeString(protected)
	require.NoError(t, err)
	raw[len(raw)-1] ^= 0xff
	tampered := base64.RawURLEncoding.EncodeToString(raw)

	_, err = protector.Unprotect(tampered)
	require.Error(t, err)

	_, err = protector.Unprotect("not base64!!!")
	require.Error(t, err)

	_, err = protector.Unprotect("")
	require.Error(t, err)
}

func TestNoncesFromAnotherKeyAreRejected(t *testing.T) {
	first := newProtector(t)
	second := newProtector(t)

	protected, err := first.Protect(time.Now())
	require.NoError(t, err)

	_, err = second.Unprotect(protected)
	require.Error(t, err)
}

func TestNonceKeyLengthIsEnforced(t *testing.T) {
	_, err := dpop.NewNonceProtector(make([]byte, 16))
	require.Error(t, err)
}
