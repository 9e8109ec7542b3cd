package auction

import (
	"context"
	"testing"
	"time"

	"code.cloudfoundry.org/clock/fakeclock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"marketplace/events/eventstest"
	"marketplace/models"
	"marketplace/models/modeltest"
	"marketplace/money"
)

var testStart = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

type testEnv struct {
	db          *gorm.DB
	store       *Store
	clock       *fakeclock.FakeClock
	recorder    *eventstest.Recorder
	coordinator *Coordinator
	lifecycle   *Lifecycle
	vendor      *models.Vendor
	product     *models.Product
}

func setupTest(t *testing.T) *testEnv {
	t.Helper()
	db := modeltest.NewDB(t)
	env := &testEnv{
		db:       db,
		store:    NewStore(db),
		clock:    fakeclock.NewFakeClock(testStart),
		recorder: &eventstest.Recorder{},
	}
	env.coordinator = NewCoordinator(env.store, NewLadders(nil),
		WithCoordinatorClock(env.clock),
		WithCoordinatorBroadcaster(env.recorder),
	)
	env.lifecycle = NewLifecycle(env.store,
		WithLifecycleClock(env.clock),
		WithLifecycleBroadcaster(env.recorder),
		WithLockTTL(24*time.Hour),
	)
	env.vendor = modeltest.SeedVendor(t, db, nil)
	env.product = modeltest.SeedProduct(t, db, env.vendor.ID)
	return env
}

// liveAuction 建立起標價 100、每次加價 10 的拍賣
func (e *testEnv) liveAuction(t *testing.T) *models.Auction {
	t.Helper()
	a := modeltest.LiveAuction(t, e.db, e.vendor.ID, e.product.ID, 100, testStart, time.Hour)
	ladder := []models.LadderTier{{Increment: 10}}
	require.NoError(t, e.db.Model(a).Update("ladder", datatypes.NewJSONType(ladder)).Error)
	return a
}

func (e *testEnv) reload(t *testing.T, id uuid.UUID) *models.Auction {
	t.Helper()
	a, err := e.store.Get(context.Background(), id)
	require.NoError(t, err)
	return a
}

func (e *testEnv) bid(t *testing.T, auctionID, userID uuid.UUID, amount money.Cents, maxProxy *money.Cents) PlaceBidResult {
	t.Helper()
	result, err := e.coordinator.PlaceBid(context.Background(), PlaceBidRequest{
		AuctionID: auctionID,
		UserID:    userID,
		Amount:    amount,
		MaxProxy:  maxProxy,
	})
	require.NoError(t, err)
	return result
}

func (e *testEnv) countBids(t *testing.T, auctionID uuid.UUID) int64 {
	t.Helper()
	var count int64
	require.NoError(t, e.db.Model(&models.Bid{}).Where("auction_id = ?", auctionID).Count(&count).Error)
	return count
}

func vendorActor(v *models.Vendor) Actor {
	return Actor{UserID: v.UserID, VendorID: &v.ID}
}
