package dedupe

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryGuard(t *testing.T) {
	ctx := context.Background()
	g := NewMemory(time.Minute)
	clock := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	g.now = func() time.Time { return clock }

	first, err := g.FirstSeen(ctx, 10)
	require.NoError(t, err)
	assert.True(t, first)

	again, err := g.FirstSeen(ctx, 10)
	require.NoError(t, err)
	assert.False(t, again)

	other, err := g.FirstSeen(ctx, 11)
	require.NoError(t, err)
	assert.True(t, other)

	clock = clock.Add(2 * time.Minute)
	expired, err := g.FirstSeen(ctx, 10)
	require.NoError(t, err)
	assert.True(t, expired)
}

func TestMemoryGuardRelease(t *testing.T) {
	ctx := context.Background()
	g := NewMemory(time.Minute)

	first, err := g.FirstSeen(ctx, 20)
	require.NoError(t, err)
	require.True(t, first)

	require.NoError(t, g.Release(ctx, 20))
	again, err := g.FirstSeen(ctx, 20)
	require.NoError(t, err)
	assert.True(t, again)

	require.NoError(t, g.Release(ctx, 99))
}
