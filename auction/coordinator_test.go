package auction

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketplace/events"
	"marketplace/models"
	"marketplace/money"
)

func TestMinimumAcceptableBid(t *testing.T) {
	ladder := Ladder{{Increment: 10}}
	a := &models.Auction{StartingBidAmount: 100}
	assert.Equal(t, money.Cents(100), MinimumAcceptableBid(a, ladder))

	userID := uuid.New()
	a.HighBidAmount = money.Ptr(150)
	a.HighBidUserID = &userID
	assert.Equal(t, money.Cents(160), MinimumAcceptableBid(a, ladder))
}

func TestCoordinator_PlaceBid_FirstBid(t *testing.T) {
	env := setupTest(t)
	a := env.liveAuction(t)
	alice := uuid.New()

	// 第一筆出價以出價金額領先，而不是代理上限
	result := env.bid(t, a.ID, alice, 100, money.Ptr(500))
	assert.Equal(t, alice, result.LeaderID)
	assert.Equal(t, money.Cents(100), result.Price)
	assert.True(t, result.IsLeading)
	assert.False(t, result.Displaced)
	assert.Equal(t, money.Cents(110), result.MinimumNextBid)

	got := env.reload(t, a.ID)
	assert.Equal(t, money.Cents(100), *got.HighBidAmount)
	assert.Equal(t, alice, *got.HighBidUserID)

	assert.Equal(t, []string{events.NameNewBid}, env.recorder.Names())
	emitted := env.recorder.Emitted()[0]
	assert.Equal(t, events.AuctionRoom(a.ID), emitted.Room)
	assert.Equal(t, events.NewBid{AuctionID: a.ID, UserID: alice, Amount: 100, Ts: testStart}, emitted.Payload)
}

func TestCoordinator_PlaceBid_ProxyBattle(t *testing.T) {
	env := setupTest(t)
	a := env.liveAuction(t)
	alice, bob := uuid.New(), uuid.New()

	env.bid(t, a.ID, alice, 100, money.Ptr(300))

	// bob 的上限較低，alice 以 bob 上限加一個級距繼續領先
	result := env.bid(t, a.ID, bob, 200, nil)
	assert.Equal(t, alice, result.LeaderID)
	assert.Equal(t, money.Cents(210), result.Price)
	assert.False(t, result.IsLeading)
	assert.False(t, result.Displaced)

	// bob 以更高的上限取代 alice，只需付出 alice 上限加一個級距
	env.recorder.Reset()
	result = env.bid(t, a.ID, bob, 250, money.Ptr(1000))
	assert.Equal(t, bob, result.LeaderID)
	assert.Equal(t, money.Cents(310), result.Price)
	assert.True(t, result.IsLeading)
	assert.True(t, result.Displaced)
	require.NotNil(t, result.PreviousLeaderID)
	assert.Equal(t, alice, *result.PreviousLeaderID)
	assert.Equal(t, money.Cents(320), result.MinimumNextBid)

	assert.Equal(t, []string{events.NameNewBid, events.NameOutbid}, env.recorder.Names())
	assert.Equal(t, events.Outbid{AuctionID: a.ID, PreviousUserID: alice, Amount: 310, Ts: testStart}, env.recorder.Emitted()[1].Payload)

	// 所有被接受的出價都會留下紀錄
	assert.Equal(t, int64(3), env.countBids(t, a.ID))
}

func TestCoordinator_PlaceBid_TieFavorsIncumbent(t *testing.T) {
	env := setupTest(t)
	a := env.liveAuction(t)
	alice, bob := uuid.New(), uuid.New()

	env.bid(t, a.ID, alice, 100, money.Ptr(500))
	result := env.bid(t, a.ID, bob, 500, nil)
	assert.Equal(t, alice, result.LeaderID)
	assert.Equal(t, money.Cents(500), result.Price)
	assert.False(t, result.Displaced)
}

func TestCoordinator_PlaceBid_LeaderRaisesKeepsCeiling(t *testing.T) {
	env := setupTest(t)
	a := env.liveAuction(t)
	alice, bob := uuid.New(), uuid.New()

	env.bid(t, a.ID, alice, 100, money.Ptr(500))
	env.clock.Increment(time.Second)
	result := env.bid(t, a.ID, alice, 150, nil)
	assert.Equal(t, alice, result.LeaderID)
	assert.Equal(t, money.Cents(150), result.Price)

	// 自己加價不會降低原本的代理上限
	env.clock.Increment(time.Second)
	result = env.bid(t, a.ID, bob, 400, nil)
	assert.Equal(t, alice, result.LeaderID)
	assert.Equal(t, money.Cents(410), result.Price)
}

func TestCoordinator_PlaceBid_ProxyBelowAmountIgnored(t *testing.T) {
	env := setupTest(t)
	a := env.liveAuction(t)
	alice := uuid.New()

	env.bid(t, a.ID, alice, 200, money.Ptr(150))

	bids, err := env.store.Bids(context.Background(), a.ID)
	require.NoError(t, err)
	require.Len(t, bids, 1)
	assert.Nil(t, bids[0].MaxProxyAmount)
	assert.Equal(t, money.Cents(200), bids[0].Ceiling())
}

func TestCoordinator_PlaceBid_Rejections(t *testing.T) {
	env := setupTest(t)
	a := env.liveAuction(t)
	alice := uuid.New()
	env.bid(t, a.ID, alice, 100, nil)

	canceled := env.liveAuction(t)
	require.NoError(t, env.db.Model(canceled).Update("status", models.AuctionStatusCanceled).Error)

	tests := []struct {
		name    string
		req     PlaceBidRequest
		wantErr error
	}{
		{name: "not found", req: PlaceBidRequest{AuctionID: uuid.New(), UserID: alice, Amount: 500}, wantErr: ErrAuctionNotFound},
		{name: "not live", req: PlaceBidRequest{AuctionID: canceled.ID, UserID: alice, Amount: 500}, wantErr: ErrAuctionNotLive},
		{name: "below minimum", req: PlaceBidRequest{AuctionID: a.ID, UserID: uuid.New(), Amount: 105}, wantErr: ErrBidBelowMinimum},
		{name: "non positive amount", req: PlaceBidRequest{AuctionID: a.ID, UserID: uuid.New(), Amount: 0}, wantErr: ErrInvalidBid},
		{name: "missing auction before amount", req: PlaceBidRequest{AuctionID: uuid.New(), UserID: alice, Amount: 0}, wantErr: ErrAuctionNotFound},
		{name: "not live before amount", req: PlaceBidRequest{AuctionID: canceled.ID, UserID: alice, Amount: -5}, wantErr: ErrAuctionNotLive},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.coordinator.PlaceBid(context.Background(), tt.req)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.True(t, IsValidation(err))
		})
	}

	var below *BelowMinimumError
	_, err := env.coordinator.PlaceBid(context.Background(), PlaceBidRequest{AuctionID: a.ID, UserID: uuid.New(), Amount: 105})
	require.True(t, errors.As(err, &below))
	assert.Equal(t, money.Cents(110), below.Minimum)
	assert.EqualError(t, err, "bid below minimum: minimum bid amount is 1.10")

	// 被拒絕的出價不會留下紀錄
	assert.Equal(t, int64(1), env.countBids(t, a.ID))
}

func TestCoordinator_PlaceBid_Ended(t *testing.T) {
	env := setupTest(t)
	a := env.liveAuction(t)

	env.clock.Increment(time.Hour)
	_, err := env.coordinator.PlaceBid(context.Background(), PlaceBidRequest{AuctionID: a.ID, UserID: uuid.New(), Amount: 100})
	assert.ErrorIs(t, err, ErrAuctionEnded)
	_, err = env.coordinator.PlaceBid(context.Background(), PlaceBidRequest{AuctionID: a.ID, UserID: uuid.New(), Amount: 0})
	assert.ErrorIs(t, err, ErrAuctionEnded)
	assert.Empty(t, env.recorder.Emitted())
}

func TestCoordinator_PlaceBid_NoEndAt(t *testing.T) {
	env := setupTest(t)
	a := env.liveAuction(t)
	require.NoError(t, env.db.Model(a).Update("end_at", nil).Error)

	env.clock.Increment(240 * time.Hour)
	result := env.bid(t, a.ID, uuid.New(), 100, nil)
	assert.True(t, result.IsLeading)
}

func TestCoordinator_PlaceBid_Concurrent(t *testing.T) {
	env := setupTest(t)
	a := env.liveAuction(t)
	low, high := uuid.New(), uuid.New()

	var (
		wg        sync.WaitGroup
		succeeded = make([]bool, 2)
		errs      = make([]error, 2)
	)
	for i, req := range []PlaceBidRequest{
		{AuctionID: a.ID, UserID: low, Amount: 110},
		{AuctionID: a.ID, UserID: high, Amount: 120},
	} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = env.coordinator.PlaceBid(context.Background(), req)
			succeeded[i] = errs[i] == nil
		}()
	}
	wg.Wait()

	// 不論先後順序，120 的出價者都會以 120 領先
	require.NoError(t, errs[1])
	got := env.reload(t, a.ID)
	assert.Equal(t, high, *got.HighBidUserID)
	assert.Equal(t, money.Cents(120), *got.HighBidAmount)

	// 110 只有在先處理時才會被接受，被接受的出價一定留下紀錄
	if !succeeded[0] {
		assert.ErrorIs(t, errs[0], ErrBidBelowMinimum)
	}
	wantRows := int64(1)
	if succeeded[0] {
		wantRows = 2
	}
	assert.Equal(t, wantRows, env.countBids(t, a.ID))
}

func TestCoordinator_PlaceBid_LosingBidPersisted(t *testing.T) {
	env := setupTest(t)
	a := env.liveAuction(t)
	alice, bob := uuid.New(), uuid.New()

	env.bid(t, a.ID, alice, 110, money.Ptr(200))
	result := env.bid(t, a.ID, bob, 120, nil)
	assert.Equal(t, alice, result.LeaderID)
	assert.Equal(t, money.Cents(130), result.Price)

	bids, err := env.store.Bids(context.Background(), a.ID)
	require.NoError(t, err)
	require.Len(t, bids, 2)
	assert.Equal(t, bob, bids[1].UserID)
	assert.Equal(t, money.Cents(120), bids[1].Amount)
}

func TestCoordinator_PlaceBid_PriceMonotonic(t *testing.T) {
	env := setupTest(t)
	a := env.liveAuction(t)
	users := []uuid.UUID{uuid.New(), uuid.New(), uuid.New()}

	var last money.Cents
	for i := range 20 {
		current := env.reload(t, a.ID)
		minimum := MinimumAcceptableBid(current, Ladder{{Increment: 10}})
		proxy := minimum + money.Cents((i%4)*25)
		result := env.bid(t, a.ID, users[i%len(users)], minimum, &proxy)
		require.GreaterOrEqual(t, result.Price, last)
		last = result.Price
		env.clock.Increment(time.Second)
	}
}
