package dpop_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jrsteele09/go-identity-server/dpop"
	"github.com/stretchr/testify/require"
)

func TestReplayCacheLifecycle(t *testing.T) {
	cache := dpop.NewInMemoryReplayCache()
	ctx := context.Background()
	expiry := time.Now().Add(time.Minute)

	seen, err := cache.Exists(ctx, dpop.ProofReplayPurpose, "jti-1")
	require.NoError(t, err)
	require.False(t, seen)

	require.NoError(t, cache.Add(ctx, dpop.ProofReplayPurpose, "jti-1", expiry))

	seen, err = cache.Exists(ctx, dpop.ProofReplayPurpose, "jti-1")
	require.NoError(t, err)
	require.True(t, seen)

	// A different purpose namespaces the same key
	seen, err = cache.Exists(ctx, "OtherPurpose", "jti-1")
	require.NoError(t, err)
	require.False(t, seen)
}

func TestReplayCacheAddIsInsertIfAbsent(t *testing.T) {
	cache := dpop.NewInMemoryReplayCache()
	ctx := context.Background()
	expiry := time.Now().Add(time.Minute)

	require.NoError(t, cache.Add(ctx, dpop.ProofReplayPurpose, "jti-1", expiry))
	err := cache.Add(ctx, dpop.ProofReplayPurpose, "jti-1", expiry)
	require.ErrorIs(t, err, dpop.ErrDuplicateKey)
}

func TestConcurrentAddsYieldOneWinner(t *testing.T) {
	cache := dpop.NewInMemoryReplayCache()
	ctx := context.Background()
	expiry := time.Now().Add(time.Minute)

	const attempts = 32
	var wg sync.WaitGroup
	errs := make(chan error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- cache.Add(ctx, dpop.ProofReplayPurpose, "contended", expiry)
		}()
	}
	wg.Wait()
	close(errs)

	winners := 0
	for err := range errs {
		if err == nil {
			winners++
		}
	}
	require.Equal(t, 1, winners)
}

func TestExpiredEntriesReadAsAbsent(t *testing.T) {
	cache := dpop.NewInMemoryReplayCache()
	ctx := context.Background()

	require.NoError(t, cache.Add(ctx, dpop.ProofReplayPurpose, "short-lived", time.Now().Add(-time.Second)))

	seen, err := cache.Exists(ctx, dpop.ProofReplayPurpose, "short-lived")
	require.NoError(t, err)
	require.False(t, seen)

	// An expired entry no longer blocks re-insertion
	require.NoError(t, cache.Add(ctx, dpop.ProofReplayPurpose, "short-lived", time.Now().Add(time.Minute)))
}
