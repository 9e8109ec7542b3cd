package redis

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestJobLocker_Acquire(t *testing.T) {
	t.Run("acquire and release", func(t *testing.T) {
		defer goleak.VerifyNone(t)
		client, mock, cleanup := setupTest(t)
		defer cleanup()

		mock.Regexp().ExpectSetNX(payoutLockKey, ".*", 30*time.Second).SetVal(true)
		mock.Regexp().ExpectEvalSha(".*", []string{payoutLockKey}, []string{".*"}).SetVal(int64(1))

		locker := NewJobLocker(client)
		runCtx, release, err := locker.Acquire(context.Background(), "payout")
		require.NoError(t, err)
		assert.NoError(t, runCtx.Err())

		release()
		assertReleased(t, runCtx)
	})

	t.Run("held by another node", func(t *testing.T) {
		defer goleak.VerifyNone(t)
		client, mock, cleanup := setupTest(t)
		defer cleanup()

		mock.Regexp().ExpectSetNX("jobs:payout", ".*", time.Minute).SetVal(false)
		mock.Regexp().ExpectEvalSha(".*", []string{"jobs:payout"}, []string{".*"}).SetVal(int64(0))

		locker := NewJobLocker(client, WithJobLockerPrefix("jobs:"), WithJobLockerExpiry(time.Minute))
		runCtx, release, err := locker.Acquire(context.Background(), "payout")
		assert.ErrorIs(t, err, ErrLockHeld)
		assert.ErrorContains(t, err, "payout")
		assert.Nil(t, runCtx)
		assert.Nil(t, release)
	})
}
