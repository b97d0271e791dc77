package ratelimiter

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corpuscore/acquire/internal/config"
)

func testConfig() *config.Config {
	return &config.Config{
		PerDomainDelays: map[string]time.Duration{
			"nytimes.com": 50 * time.Millisecond,
		},
	}
}

func TestAcquireAdmitsImmediatelyWhenIdle(t *testing.T) {
	rl := New(testConfig())
	start := time.Now()
	require.NoError(t, rl.Acquire(context.Background(), "nytimes.com"))
	assert.Less(t, time.Since(start), 10*time.Millisecond)
}

func TestAcquireEnforcesPerDomainDelay(t *testing.T) {
	rl := New(testConfig())
	ctx := context.Background()

	require.NoError(t, rl.Acquire(ctx, "nytimes.com"))
	start := time.Now()
	require.NoError(t, rl.Acquire(ctx, "nytimes.com"))
	assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)
}

func TestAcquireDomainsAreIndependent(t *testing.T) {
	rl := New(testConfig())
	ctx := context.Background()

	require.NoError(t, rl.Acquire(ctx, "nytimes.com"))
	start := time.Now()
	require.NoError(t, rl.Acquire(ctx, "reuters.com")) // default delay applies, but different domain must not wait on nytimes's timer
	assert.Less(t, time.Since(start), 10*time.Millisecond)
}

func TestAcquireRespectsContextCancellation(t *testing.T) {
	rl := New(testConfig())
	ctx := context.Background()
	require.NoError(t, rl.Acquire(ctx, "nytimes.com"))

	cancelCtx, cancel := context.WithCancel(context.Background())
	cancel()
	err := rl.Acquire(cancelCtx, "nytimes.com")
	assert.ErrorIs(t, err, context.Canceled)
}
