package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lyzr/datasync/common/logger"
)

func TestMemoryLimiter_FixedWindow(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	m := NewMemoryLimiter(logger.Discard())
	m.now = func() time.Time { return now }

	for i := 1; i <= 3; i++ {
		r, err := m.Check(ctx, "10.0.0.1", 3, time.Minute)
		require.NoError(t, err)
		assert.True(t, r.Allowed, "hit %d", i)
		assert.Equal(t, int64(i), r.CurrentCount)
	}

	now = now.Add(20 * time.Second)
	r, err := m.Check(ctx, "10.0.0.1", 3, time.Minute)
	require.NoError(t, err)
	assert.False(t, r.Allowed)
	assert.Equal(t, 40*time.Second, r.RetryAfter)

	// other keys have their own window
	r, err = m.Check(ctx, "10.0.0.2", 3, time.Minute)
	require.NoError(t, err)
	assert.True(t, r.Allowed)

	now = now.Add(40 * time.Second)
	r, err = m.Check(ctx, "10.0.0.1", 3, time.Minute)
	require.NoError(t, err)
	assert.True(t, r.Allowed)
	assert.Equal(t, int64(1), r.CurrentCount)
}

func TestMemoryLimiter_PrunesExpiredWindows(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	m := NewMemoryLimiter(logger.Discard())
	m.now = func() time.Time { return now }

	for _, key := range []string{"a", "b", "c"} {
		_, err := m.Check(ctx, key, 1, time.Second)
		require.NoError(t, err)
	}
	now = now.Add(2 * time.Second)
	_, err := m.Check(ctx, "d", 1, time.Second)
	require.NoError(t, err)

	assert.Len(t, m.windows, 1)
}

func TestParseScriptResult(t *testing.T) {
	r, err := parseScriptResult([]interface{}{int64(0), int64(7), int64(5), int64(1500)})
	require.NoError(t, err)
	assert.False(t, r.Allowed)
	assert.Equal(t, int64(7), r.CurrentCount)
	assert.Equal(t, int64(5), r.Limit)
	assert.Equal(t, 1500*time.Millisecond, r.RetryAfter)

	_, err = parseScriptResult([]interface{}{int64(1)})
	assert.Error(t, err)
	_, err = parseScriptResult([]interface{}{"1", int64(1), int64(1), int64(0)})
	assert.Error(t, err)
	_, err = parseScriptResult("nope")
	assert.Error(t, err)
}

func TestScriptIsEmbedded(t *testing.T) {
	assert.Contains(t, rateLimitScript, "INCR")
	assert.Contains(t, rateLimitScript, "PEXPIRE")
}
