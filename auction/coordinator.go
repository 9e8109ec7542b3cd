package auction

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"code.cloudfoundry.org/clock"
	"github.com/google/uuid"

	"marketplace/events"
	"marketplace/models"
	"marketplace/money"
)

// PlaceBidRequest 為一次出價請求
type PlaceBidRequest struct {
	AuctionID uuid.UUID
	UserID    uuid.UUID
	Amount    money.Cents
	// MaxProxy 出價者私下設定的代理出價上限，可為 nil
	MaxProxy *money.Cents
}

// PlaceBidResult 為出價後拍賣的狀態
type PlaceBidResult struct {
	BidID            uuid.UUID
	LeaderID         uuid.UUID
	Price            money.Cents
	IsLeading        bool
	MinimumNextBid   money.Cents
	Displaced        bool
	PreviousLeaderID *uuid.UUID
}

// MinimumAcceptableBid 回傳拍賣目前可以接受的最低出價
// 尚未有出價時為起標價，否則為目前價格加上一個級距
func MinimumAcceptableBid(a *models.Auction, ladder Ladder) money.Cents {
	if !a.HasBid() {
		return a.StartingBidAmount
	}
	return *a.HighBidAmount + ladder.IncrementAt(*a.HighBidAmount)
}

type coordinatorOptions struct {
	logger      *slog.Logger
	clock       clock.Clock
	broadcaster events.Broadcaster
}

type CoordinatorOption func(*coordinatorOptions)

// WithCoordinatorLogger 設置日誌記錄器
func WithCoordinatorLogger(logger *slog.Logger) CoordinatorOption {
	return func(o *coordinatorOptions) {
		o.logger = logger
	}
}

// WithCoordinatorClock 設置時鐘
func WithCoordinatorClock(c clock.Clock) CoordinatorOption {
	return func(o *coordinatorOptions) {
		o.clock = c
	}
}

// WithCoordinatorBroadcaster 設置事件廣播
func WithCoordinatorBroadcaster(b events.Broadcaster) CoordinatorOption {
	return func(o *coordinatorOptions) {
		o.broadcaster = b
	}
}

// Coordinator 負責出價，同一個拍賣的出價會透過資料列鎖依序處理
type Coordinator struct {
	store       *Store
	ladders     Ladders
	clock       clock.Clock
	broadcaster events.Broadcaster
	logger      *slog.Logger
}

func NewCoordinator(store *Store, ladders Ladders, opts ...CoordinatorOption) *Coordinator {
	options := coordinatorOptions{
		logger:      slog.Default(),
		clock:       clock.NewClock(),
		broadcaster: events.Nop,
	}
	for _, opt := range opts {
		opt(&options)
	}
	return &Coordinator{
		store:       store,
		ladders:     ladders,
		clock:       options.clock,
		broadcaster: options.broadcaster,
		logger:      options.logger.With(slog.String("caller", "Coordinator")),
	}
}

// PlaceBid 出價
// 出價紀錄一定會在解析代理出價之前寫入，即使沒有改變領先者也會保留
func (c *Coordinator) PlaceBid(ctx context.Context, req PlaceBidRequest) (PlaceBidResult, error) {
	const op = "Coordinator.PlaceBid"

	now := c.clock.Now()
	var result PlaceBidResult
	err := c.store.WithLockedAuction(ctx, req.AuctionID, func(g *Guard) error {
		a := g.Auction()
		if a.Status != models.AuctionStatusLive {
			return ErrAuctionNotLive
		}
		if a.ExpiredAt(now) {
			return ErrAuctionEnded
		}
		if !req.Amount.IsPositive() {
			return fmt.Errorf("%w: amount must be positive", ErrInvalidBid)
		}
		ladder := c.ladders.For(a)
		if minimum := MinimumAcceptableBid(a, ladder); req.Amount < minimum {
			return &BelowMinimumError{Minimum: minimum}
		}

		// 先鎖定領先者的最後一筆出價，避免並行的出價讀到過期的代理上限
		leaderBid, err := g.LeaderLastBid()
		if err != nil {
			return err
		}

		bid := models.Bid{
			UserID:    req.UserID,
			Amount:    req.Amount,
			CreatedAt: now,
		}
		if req.MaxProxy != nil && *req.MaxProxy > req.Amount {
			bid.MaxProxyAmount = money.Ptr(*req.MaxProxy)
		}

		var (
			leaderID = req.UserID
			price    = req.Amount
		)
		switch {
		case !a.HasBid():
			// 沒有對手時直接以出價金額領先，代理上限只在有競爭時才會用到
		case *a.HighBidUserID == req.UserID:
			// 領先者自己加價，保留較高的代理上限
			if leaderBid != nil && leaderBid.Ceiling() > bid.Ceiling() {
				bid.MaxProxyAmount = money.Ptr(leaderBid.Ceiling())
			}
		default:
			previousCeiling := *a.HighBidAmount
			if leaderBid != nil {
				previousCeiling = max(previousCeiling, leaderBid.Ceiling())
			}
			outcome := ResolveProxy(previousCeiling, bid.Ceiling(), ladder)
			price = outcome.ClearingPrice
			if outcome.Winner == WinnerPrevious {
				leaderID = *a.HighBidUserID
			} else {
				result.Displaced = true
				result.PreviousLeaderID = a.HighBidUserID
			}
		}

		if err := g.InsertBid(&bid); err != nil {
			return err
		}
		if err := g.SetLeader(leaderID, price); err != nil {
			return err
		}

		result.BidID = bid.ID
		result.LeaderID = leaderID
		result.Price = price
		result.IsLeading = leaderID == req.UserID
		result.MinimumNextBid = MinimumAcceptableBid(a, ladder)
		return nil
	})
	if err != nil {
		if IsValidation(err) {
			return PlaceBidResult{}, err
		}
		c.logger.Error("failed to place bid",
			slog.String("auctionID", req.AuctionID.String()),
			slog.String("error", err.Error()),
		)
		return PlaceBidResult{}, fmt.Errorf("[%s] Fail to place bid, err=%w", op, err)
	}

	emitBid(ctx, c.broadcaster, c.logger, req.AuctionID, result, now)
	return result, nil
}

// emitBid 廣播新出價，領先者被取代時另外廣播 outbid
func emitBid(ctx context.Context, b events.Broadcaster, logger *slog.Logger, auctionID uuid.UUID, result PlaceBidResult, ts time.Time) {
	room := events.AuctionRoom(auctionID)
	emit(ctx, b, logger, room, events.NameNewBid, events.NewBid{
		AuctionID: auctionID,
		UserID:    result.LeaderID,
		Amount:    result.Price,
		Ts:        ts,
	})
	if result.Displaced && result.PreviousLeaderID != nil {
		emit(ctx, b, logger, room, events.NameOutbid, events.Outbid{
			AuctionID:      auctionID,
			PreviousUserID: *result.PreviousLeaderID,
			Amount:         result.Price,
			Ts:             ts,
		})
	}
}

// emit 廣播事件，失敗時只記錄日誌
func emit(ctx context.Context, b events.Broadcaster, logger *slog.Logger, room, name string, payload any) {
	if err := b.Emit(ctx, room, name, payload); err != nil {
		logger.Warn("failed to broadcast event",
			slog.String("room", room),
			slog.String("event", name),
			slog.String("error", err.Error()),
		)
	}
}
