package auction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"code.cloudfoundry.org/clock"
	"github.com/google/uuid"
	"gorm.io/datatypes"

	"marketplace/events"
	"marketplace/models"
	"marketplace/money"
)

// DefaultLockTTL 得標後保留商品等待付款的預設時間
const DefaultLockTTL = 48 * time.Hour

// CreateRequest 為建立拍賣的請求
type CreateRequest struct {
	VendorID    uuid.UUID
	ProductID   uuid.UUID
	Title       string
	StartingBid money.Cents
	Reserve     *money.Cents
	BuyNow      *money.Cents
	// Ladder 為空時使用預設的加價階梯
	Ladder   Ladder
	Duration time.Duration
}

// Validate 檢查建立拍賣的參數
func (r CreateRequest) Validate() error {
	switch {
	case strings.TrimSpace(r.Title) == "":
		return fmt.Errorf("%w: title is required", ErrInvalidAuction)
	case !r.StartingBid.IsPositive():
		return fmt.Errorf("%w: starting bid must be positive", ErrInvalidAuction)
	case r.Duration <= 0:
		return fmt.Errorf("%w: duration must be positive", ErrInvalidAuction)
	case r.Reserve != nil && *r.Reserve < r.StartingBid:
		return fmt.Errorf("%w: reserve must not be below the starting bid", ErrInvalidAuction)
	case r.BuyNow != nil && *r.BuyNow <= r.StartingBid:
		return fmt.Errorf("%w: buy now must be above the starting bid", ErrInvalidAuction)
	case r.BuyNow != nil && r.Reserve != nil && *r.BuyNow < *r.Reserve:
		return fmt.Errorf("%w: buy now must not be below the reserve", ErrInvalidAuction)
	}
	if len(r.Ladder) > 0 {
		if err := r.Ladder.Validate(); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidAuction, err)
		}
	}
	return nil
}

// EndResult 為結束或取消拍賣的結果
type EndResult struct {
	Auction *models.Auction
	// AlreadyFinal 拍賣在操作前就已經是終止狀態，這次沒有做任何修改
	AlreadyFinal bool
	// Lock 為得標者建立的商品保留，沒有得標者或未達保留價時為 nil
	Lock *models.AuctionLock
}

type lifecycleOptions struct {
	logger      *slog.Logger
	clock       clock.Clock
	broadcaster events.Broadcaster
	lockTTL     time.Duration
}

type LifecycleOption func(*lifecycleOptions)

// WithLifecycleLogger 設置日誌記錄器
func WithLifecycleLogger(logger *slog.Logger) LifecycleOption {
	return func(o *lifecycleOptions) {
		o.logger = logger
	}
}

// WithLifecycleClock 設置時鐘
func WithLifecycleClock(c clock.Clock) LifecycleOption {
	return func(o *lifecycleOptions) {
		o.clock = c
	}
}

// WithLifecycleBroadcaster 設置事件廣播
func WithLifecycleBroadcaster(b events.Broadcaster) LifecycleOption {
	return func(o *lifecycleOptions) {
		o.broadcaster = b
	}
}

// WithLockTTL 設置得標後保留商品的時間
func WithLockTTL(ttl time.Duration) LifecycleOption {
	return func(o *lifecycleOptions) {
		o.lockTTL = ttl
	}
}

// Lifecycle 管理拍賣的狀態轉換
// draft → scheduled → live → {ended, canceled}，ended 與 canceled 為終止狀態
type Lifecycle struct {
	store       *Store
	clock       clock.Clock
	broadcaster events.Broadcaster
	lockTTL     time.Duration
	logger      *slog.Logger
}

func NewLifecycle(store *Store, opts ...LifecycleOption) *Lifecycle {
	options := lifecycleOptions{
		logger:      slog.Default(),
		clock:       clock.NewClock(),
		broadcaster: events.Nop,
		lockTTL:     DefaultLockTTL,
	}
	for _, opt := range opts {
		opt(&options)
	}
	return &Lifecycle{
		store:       store,
		clock:       options.clock,
		broadcaster: options.broadcaster,
		lockTTL:     options.lockTTL,
		logger:      options.logger.With(slog.String("caller", "Lifecycle")),
	}
}

// Create 建立拍賣，建立後立即開始
func (l *Lifecycle) Create(ctx context.Context, actor Actor, req CreateRequest) (*models.Auction, error) {
	const op = "Lifecycle.Create"

	if !actor.Manages(req.VendorID) {
		return nil, ErrForbidden
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	now := l.clock.Now()
	endAt := now.Add(req.Duration)
	auction := models.Auction{
		ProductID:         req.ProductID,
		VendorID:          req.VendorID,
		Title:             strings.TrimSpace(req.Title),
		Status:            models.AuctionStatusLive,
		StartAt:           now,
		EndAt:             &endAt,
		StartingBidAmount: req.StartingBid,
		ReserveAmount:     req.Reserve,
		BuyNowAmount:      req.BuyNow,
		Ladder:            datatypes.NewJSONType([]models.LadderTier(req.Ladder)),
	}
	if err := l.store.Create(ctx, &auction); err != nil {
		if errors.Is(err, ErrForbidden) || IsValidation(err) {
			return nil, err
		}
		return nil, fmt.Errorf("[%s] Fail to create auction, err=%w", op, err)
	}
	l.logger.Info("auction created",
		slog.String("auctionID", auction.ID.String()),
		slog.String("vendorID", auction.VendorID.String()),
	)
	return &auction, nil
}

// Close 由賣家或管理員手動結束拍賣
func (l *Lifecycle) Close(ctx context.Context, actor Actor, auctionID uuid.UUID) (EndResult, error) {
	return l.finish(ctx, actor, auctionID, models.AuctionStatusEnded, events.ReasonClosed)
}

// Cancel 由賣家或管理員取消拍賣，取消後保留最後的出價資訊但不會成交
func (l *Lifecycle) Cancel(ctx context.Context, actor Actor, auctionID uuid.UUID) (EndResult, error) {
	return l.finish(ctx, actor, auctionID, models.AuctionStatusCanceled, events.ReasonCanceled)
}

func (l *Lifecycle) finish(ctx context.Context, actor Actor, auctionID uuid.UUID, status models.AuctionStatus, reason string) (EndResult, error) {
	const op = "Lifecycle.finish"

	now := l.clock.Now()
	var result EndResult
	err := l.store.WithLockedAuction(ctx, auctionID, func(g *Guard) error {
		a := g.Auction()
		if !actor.Manages(a.VendorID) {
			return ErrForbidden
		}
		result.Auction = a
		if a.Status.IsFinal() {
			result.AlreadyFinal = true
			return nil
		}
		if status == models.AuctionStatusEnded && a.Status != models.AuctionStatusLive {
			return ErrAuctionNotLive
		}
		lock, err := l.end(g, status, reason, now)
		result.Lock = lock
		return err
	})
	if err != nil {
		if errors.Is(err, ErrForbidden) || IsValidation(err) {
			return EndResult{}, err
		}
		return EndResult{}, fmt.Errorf("[%s] Fail to %s auction, err=%w", op, reason, err)
	}
	if !result.AlreadyFinal {
		l.emitEnded(ctx, auctionID, reason)
	}
	return result, nil
}

// BuyNow 以直購價為買家出價並立即結束拍賣
func (l *Lifecycle) BuyNow(ctx context.Context, actor Actor, auctionID uuid.UUID) (EndResult, error) {
	const op = "Lifecycle.BuyNow"

	now := l.clock.Now()
	var (
		result EndResult
		bid    PlaceBidResult
	)
	err := l.store.WithLockedAuction(ctx, auctionID, func(g *Guard) error {
		a := g.Auction()
		if a.Status != models.AuctionStatusLive {
			return ErrAuctionNotLive
		}
		if a.ExpiredAt(now) {
			return ErrAuctionEnded
		}
		if a.BuyNowAmount == nil {
			return fmt.Errorf("%w: auction has no buy now price", ErrBuyNowUnavailable)
		}
		if actor.Owns(a.VendorID) {
			return ErrForbidden
		}
		if a.HasBid() && *a.HighBidAmount >= *a.BuyNowAmount {
			return fmt.Errorf("%w: bidding has reached the buy now price", ErrBuyNowUnavailable)
		}

		price := *a.BuyNowAmount
		record := models.Bid{
			UserID:         actor.UserID,
			Amount:         price,
			MaxProxyAmount: money.Ptr(price),
			CreatedAt:      now,
		}
		if err := g.InsertBid(&record); err != nil {
			return err
		}
		if a.HasBid() && *a.HighBidUserID != actor.UserID {
			bid.Displaced = true
			bid.PreviousLeaderID = a.HighBidUserID
		}
		if err := g.SetLeader(actor.UserID, price); err != nil {
			return err
		}
		bid.BidID = record.ID
		bid.LeaderID = actor.UserID
		bid.Price = price
		bid.IsLeading = true

		lock, err := l.end(g, models.AuctionStatusEnded, events.ReasonBuyNow, now)
		result.Auction = a
		result.Lock = lock
		return err
	})
	if err != nil {
		if errors.Is(err, ErrForbidden) || IsValidation(err) {
			return EndResult{}, err
		}
		return EndResult{}, fmt.Errorf("[%s] Fail to buy now, err=%w", op, err)
	}
	emitBid(ctx, l.broadcaster, l.logger, auctionID, bid, now)
	l.emitEnded(ctx, auctionID, events.ReasonBuyNow)
	return result, nil
}

// EndExpired 結束所有已到期的拍賣，回傳結束的數量
// 每個拍賣各自在獨立的交易中處理，單一拍賣失敗不影響其他拍賣
func (l *Lifecycle) EndExpired(ctx context.Context) (int, error) {
	const op = "Lifecycle.EndExpired"

	now := l.clock.Now()
	ids, err := l.store.ExpiredIDs(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("[%s] Fail to list expired auctions, err=%w", op, err)
	}

	var (
		ended int
		errs  []error
	)
	for _, id := range ids {
		var done bool
		err := l.store.WithLockedAuction(ctx, id, func(g *Guard) error {
			a := g.Auction()
			// 取得鎖之前可能已經被其他操作結束
			if a.Status != models.AuctionStatusLive || !a.ExpiredAt(now) {
				return nil
			}
			done = true
			_, err := l.end(g, models.AuctionStatusEnded, events.ReasonExpired, now)
			return err
		})
		if err != nil {
			l.logger.Error("failed to end expired auction",
				slog.String("auctionID", id.String()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("auction %s: %w", id, err))
			continue
		}
		if done {
			ended++
			l.emitEnded(ctx, id, events.ReasonExpired)
		}
	}
	if len(errs) > 0 {
		return ended, fmt.Errorf("[%s] Fail to end expired auctions, err=%w", op, errors.Join(errs...))
	}
	return ended, nil
}

// end 將已鎖定的拍賣轉為終止狀態，成交時為得標者保留商品
func (l *Lifecycle) end(g *Guard, status models.AuctionStatus, reason string, now time.Time) (*models.AuctionLock, error) {
	if err := g.Finish(status, reason, now); err != nil {
		return nil, err
	}
	a := g.Auction()
	if status != models.AuctionStatusEnded || !a.ReserveMet() {
		return nil, nil
	}
	lock, created, err := g.ReserveWinner(now.Add(l.lockTTL))
	if err != nil {
		return nil, err
	}
	if !created {
		l.logger.Warn("product already has an active lock",
			slog.String("auctionID", a.ID.String()),
			slog.String("productID", a.ProductID.String()),
		)
	}
	return lock, nil
}

func (l *Lifecycle) emitEnded(ctx context.Context, auctionID uuid.UUID, reason string) {
	emit(ctx, l.broadcaster, l.logger, events.AuctionRoom(auctionID), events.NameAuctionEnded, events.AuctionEnded{
		AuctionID: auctionID,
		Reason:    reason,
	})
}
