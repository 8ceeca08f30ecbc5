package governor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWindowLimiter_AdmitsUpToLimitImmediately(t *testing.T) {
	l := newWindowLimiter(5, time.Second)

	start := time.Now()
	for i := 0; i < 5; i++ {
		require.NoError(t, l.Wait(context.Background()))
	}
	assert.Less(t, time.Since(start), 100*time.Millisecond,
		"the first limit starts must not block")
}

func TestWindowLimiter_BlocksUntilWindowFrees(t *testing.T) {
	l := newWindowLimiter(2, 100*time.Millisecond)

	require.NoError(t, l.Wait(context.Background()))
	require.NoError(t, l.Wait(context.Background()))

	start := time.Now()
	require.NoError(t, l.Wait(context.Background()))
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond,
		"the third start must wait for the oldest to age out")
}

func TestWindowLimiter_ContextCancelWhileBlocked(t *testing.T) {
	l := newWindowLimiter(1, time.Hour)
	require.NoError(t, l.Wait(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := l.Wait(ctx)

	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestWindowLimiter_DefaultsForBadArguments(t *testing.T) {
	l := newWindowLimiter(0, 0)

	assert.Equal(t, 1, l.limit)
	assert.Equal(t, time.Second, l.window)
}
