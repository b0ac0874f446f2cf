package ratelimiter

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLimiter(t *testing.T) (*Limiter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return New(rdb), mr
}

func TestAllow_UnderLimit(t *testing.T) {
	l, _ := newLimiter(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		ok, remaining, err := l.Allow(ctx, "chat", "10.0.0.1", 5)
		require.NoError(t, err)
		assert.True(t, ok, "request %d", i)
		assert.Equal(t, 4-i, remaining)
	}
}

func TestAllow_RejectsAtLimit(t *testing.T) {
	l, _ := newLimiter(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ok, _, err := l.Allow(ctx, "file", "10.0.0.2", 3)
		require.NoError(t, err)
		require.True(t, ok)
	}
	ok, remaining, err := l.Allow(ctx, "file", "10.0.0.2", 3)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 0, remaining)
}

func TestAllow_WindowSlides(t *testing.T) {
	l, mr := newLimiter(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		ok, _, err := l.Allow(ctx, "chat", "10.0.0.3", 2)
		require.NoError(t, err)
		require.True(t, ok)
	}
	ok, _, err := l.Allow(ctx, "chat", "10.0.0.3", 2)
	require.NoError(t, err)
	require.False(t, ok)

	// Past the window the budget is restored. miniredis does not advance
	// wall-clock time used by the script, so expire the set directly.
	mr.FastForward(61 * time.Second)
	ok, _, err = l.Allow(ctx, "chat", "10.0.0.3", 2)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestAllow_ClassesAreIndependent(t *testing.T) {
	l, _ := newLimiter(t)
	ctx := context.Background()

	ok, _, err := l.Allow(ctx, "chat", "10.0.0.4", 1)
	require.NoError(t, err)
	require.True(t, ok)
	ok, _, err = l.Allow(ctx, "chat", "10.0.0.4", 1)
	require.NoError(t, err)
	require.False(t, ok)

	// Same IP, different class: separate window.
	ok, _, err = l.Allow(ctx, "auth", "10.0.0.4", 1)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestAllow_ZeroLimit(t *testing.T) {
	l, _ := newLimiter(t)
	ok, _, err := l.Allow(context.Background(), "chat", "10.0.0.5", 0)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestBlacklist(t *testing.T) {
	l, _ := newLimiter(t)
	ctx := context.Background()

	blocked, err := l.IsBlacklisted(ctx, "10.0.0.6")
	require.NoError(t, err)
	assert.False(t, blocked)

	require.NoError(t, l.Blacklist(ctx, "10.0.0.6"))
	blocked, err = l.IsBlacklisted(ctx, "10.0.0.6")
	require.NoError(t, err)
	assert.True(t, blocked)
}
