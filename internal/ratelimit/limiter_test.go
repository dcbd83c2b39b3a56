package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/elaracare/elara/server/domain"
)

func TestAllowWithinBudget(t *testing.T) {
	l := New(Config{Events: 5, Window: time.Second}, zap.NewNop())

	for i := 0; i < 5; i++ {
		require.NoError(t, l.Allow("user-1"), "event %d should be admitted", i)
	}
}

func TestDenyOverBudgetWithRetryAfter(t *testing.T) {
	window := time.Second
	l := New(Config{Events: 3, Window: window}, zap.NewNop())

	for i := 0; i < 3; i++ {
		require.NoError(t, l.Allow("user-1"))
	}

	err := l.Allow("user-1")
	require.Error(t, err)

	retryAfter, ok := domain.IsRateLimited(err)
	require.True(t, ok, "denial should be a rate limit error")
	assert.Greater(t, retryAfter, time.Duration(0))
	assert.LessOrEqual(t, retryAfter, window)
}

func TestKeysAreIndependent(t *testing.T) {
	l := New(Config{Events: 1, Window: time.Minute}, zap.NewNop())

	require.NoError(t, l.Allow("user-1"))
	require.Error(t, l.Allow("user-1"))
	require.NoError(t, l.Allow("user-2"))
}

func TestAdmittedAfterWindowElapsed(t *testing.T) {
	window := 200 * time.Millisecond
	l := New(Config{Events: 2, Window: window}, zap.NewNop())

	require.NoError(t, l.Allow("user-1"))
	require.NoError(t, l.Allow("user-1"))
	require.Error(t, l.Allow("user-1"))

	time.Sleep(window + 50*time.Millisecond)

	assert.NoError(t, l.Allow("user-1"), "tokens should refill once the window has elapsed")
}

func TestJanitorPrunesIdleKeys(t *testing.T) {
	l := New(Config{Events: 10, Window: 10 * time.Millisecond}, zap.NewNop())

	require.NoError(t, l.Allow("user-1"))
	require.Equal(t, 1, l.Len())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go l.Janitor(ctx, 20*time.Millisecond)

	assert.Eventually(t, func() bool {
		return l.Len() == 0
	}, time.Second, 10*time.Millisecond)
}
