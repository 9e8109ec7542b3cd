package redis

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunMarker_Claim(t *testing.T) {
	t.Run("first claim wins", func(t *testing.T) {
		client, mock, cleanup := setupTest(t)
		defer cleanup()

		mock.ExpectSetNX("marketplace:job-run:payout:2026-06-01", "node-a", 48*time.Hour).SetVal(true)
		mock.ExpectSetNX("marketplace:job-run:payout:2026-06-01", "node-a", 48*time.Hour).SetVal(false)

		marker := NewRunMarker(client, WithRunMarkerOwner("node-a"))
		ok, err := marker.Claim(context.Background(), "payout", "2026-06-01")
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = marker.Claim(context.Background(), "payout", "2026-06-01")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("custom prefix and ttl", func(t *testing.T) {
		client, mock, cleanup := setupTest(t)
		defer cleanup()

		mock.ExpectSetNX("test:reconcile-payments:1000", "marketplace", time.Hour).SetVal(true)

		marker := NewRunMarker(client, WithRunMarkerPrefix("test:"), WithRunMarkerTTL(time.Hour))
		ok, err := marker.Claim(context.Background(), "reconcile-payments", "1000")
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("redis error", func(t *testing.T) {
		client, mock, cleanup := setupTest(t)
		defer cleanup()

		mock.ExpectSetNX("marketplace:job-run:payout:2026-06-01", "marketplace", 48*time.Hour).SetErr(redis.ErrClosed)

		ok, err := NewRunMarker(client).Claim(context.Background(), "payout", "2026-06-01")
		assert.ErrorIs(t, err, redis.ErrClosed)
		assert.False(t, ok)
	})
}
