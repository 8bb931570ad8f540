//go:build integration

package dedupe

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
)

func TestRedisGuard(t *testing.T) {
	ctx := context.Background()
	container, err := tcredis.Run(ctx, "redis:7-alpine")
	require.NoError(t, err)
	t.Cleanup(func() { _ = testcontainers.TerminateContainer(container) })

	url, err := container.ConnectionString(ctx)
	require.NoError(t, err)
	client, err := Connect(ctx, url)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	g := NewRedis(client, time.Minute)
	first, err := g.FirstSeen(ctx, 99)
	require.NoError(t, err)
	assert.True(t, first)

	again, err := g.FirstSeen(ctx, 99)
	require.NoError(t, err)
	assert.False(t, again)

	require.NoError(t, g.Release(ctx, 99))
	released, err := g.FirstSeen(ctx, 99)
	require.NoError(t, err)
	assert.True(t, released)
}
