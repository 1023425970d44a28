package middleware

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRateLimiterSlidingWindow(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	rl := newRateLimiter(2, time.Minute, func() time.Time { return now })
	defer rl.Close()

	require.True(t, rl.Allow(1))
	now = now.Add(10 * time.Second)
	require.True(t, rl.Allow(1))
	require.False(t, rl.Allow(1))
	require.True(t, rl.Allow(2), "лимит считается по каждому чату отдельно")
	require.Equal(t, 50*time.Second, rl.RetryAfter(1))

	now = now.Add(51 * time.Second)
	require.Zero(t, rl.RetryAfter(1))
	require.True(t, rl.Allow(1))
}

func TestRateLimiterDisabled(t *testing.T) {
	rl := newRateLimiter(0, time.Minute, time.Now)
	for i := 0; i < 100; i++ {
		require.True(t, rl.Allow(1))
	}
}

func TestRecoverFromPanic(t *testing.T) {
	require.NotPanics(t, func() {
		defer RecoverFromPanic()
		panic("boom")
	})
}

func TestPreviewCutsByRunes(t *testing.T) {
	short := "Привет"
	require.Equal(t, short, Preview(short))

	long := strings.Repeat("ж", 60)
	got := Preview(long)
	require.Equal(t, strings.Repeat("ж", 50)+"...", got)
}
