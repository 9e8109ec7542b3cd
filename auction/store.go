package auction

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"marketplace/models"
	"marketplace/money"
)

// Store 負責拍賣資料的存取，所有會修改拍賣的操作都必須透過 WithLockedAuction 取得的 Guard 進行
type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// WithLockedAuction 在交易中以 SELECT ... FOR UPDATE 鎖定拍賣，並將 Guard 交給 fn
// fn 回傳錯誤時整個交易會被回滾
func (s *Store) WithLockedAuction(ctx context.Context, auctionID uuid.UUID, fn func(g *Guard) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var auction models.Auction
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Take(&auction, "id = ?", auctionID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrAuctionNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to lock auction: %w", err)
		}
		return fn(&Guard{tx: tx, auction: &auction})
	})
}

// Get 讀取拍賣(不加鎖)
func (s *Store) Get(ctx context.Context, auctionID uuid.UUID) (*models.Auction, error) {
	var auction models.Auction
	err := s.db.WithContext(ctx).Take(&auction, "id = ?", auctionID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrAuctionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get auction: %w", err)
	}
	return &auction, nil
}

// Create 建立拍賣，商品必須存在、上架中且屬於同一個賣家
func (s *Store) Create(ctx context.Context, auction *models.Auction) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var product models.Product
		err := tx.Clauses(clause.Locking{Strength: "SHARE"}).
			Take(&product, "id = ?", auction.ProductID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("%w: product not found", ErrInvalidAuction)
		}
		if err != nil {
			return fmt.Errorf("failed to get product: %w", err)
		}
		if product.VendorID != auction.VendorID {
			return ErrForbidden
		}
		if product.Status != models.ProductStatusActive {
			return fmt.Errorf("%w: product is not active", ErrInvalidAuction)
		}
		if err := tx.Create(auction).Error; err != nil {
			return fmt.Errorf("failed to create auction: %w", err)
		}
		return nil
	})
}

// ExpiredIDs 列出已經到期但仍在進行中的拍賣
func (s *Store) ExpiredIDs(ctx context.Context, now time.Time) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := s.db.WithContext(ctx).Model(&models.Auction{}).
		Where("status = ? AND end_at IS NOT NULL AND end_at <= ?", models.AuctionStatusLive, now).
		Order("end_at").
		Pluck("id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list expired auctions: %w", err)
	}
	return ids, nil
}

// Bids 依時間順序列出拍賣的所有出價
func (s *Store) Bids(ctx context.Context, auctionID uuid.UUID) ([]models.Bid, error) {
	var bids []models.Bid
	err := s.db.WithContext(ctx).
		Where("auction_id = ?", auctionID).
		Order("created_at, id").
		Find(&bids).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list bids: %w", err)
	}
	return bids, nil
}

// Guard 代表已鎖定的拍賣，只在 WithLockedAuction 的 fn 內有效
type Guard struct {
	tx      *gorm.DB
	auction *models.Auction
}

// Auction 回傳已鎖定的拍賣
func (g *Guard) Auction() *models.Auction {
	return g.auction
}

// LeaderLastBid 鎖定並讀取目前領先者最近一次的出價，沒有領先者或找不到出價時回傳 nil
func (g *Guard) LeaderLastBid() (*models.Bid, error) {
	if g.auction.HighBidUserID == nil {
		return nil, nil
	}
	var bid models.Bid
	err := g.tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("auction_id = ? AND user_id = ?", g.auction.ID, *g.auction.HighBidUserID).
		Order("created_at DESC, id DESC").
		Take(&bid).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get leader bid: %w", err)
	}
	return &bid, nil
}

// InsertBid 寫入一筆出價紀錄
func (g *Guard) InsertBid(bid *models.Bid) error {
	bid.AuctionID = g.auction.ID
	if err := g.tx.Create(bid).Error; err != nil {
		return fmt.Errorf("failed to insert bid: %w", err)
	}
	return nil
}

// SetLeader 更新拍賣的領先者與目前價格
func (g *Guard) SetLeader(userID uuid.UUID, price money.Cents) error {
	err := g.tx.Model(g.auction).Updates(map[string]any{
		"high_bid_amount":  price,
		"high_bid_user_id": userID,
	}).Error
	if err != nil {
		return fmt.Errorf("failed to update leader: %w", err)
	}
	g.auction.HighBidAmount = &price
	g.auction.HighBidUserID = &userID
	return nil
}

// Finish 將拍賣轉為終止狀態，提早結束時 EndAt 會改為結束的時間
func (g *Guard) Finish(status models.AuctionStatus, reason string, now time.Time) error {
	if !status.IsFinal() {
		return fmt.Errorf("%w: %s is not a final status", ErrInvalidAuction, status)
	}
	endAt := now
	if g.auction.EndAt != nil && g.auction.EndAt.Before(now) {
		endAt = *g.auction.EndAt
	}
	err := g.tx.Model(g.auction).Updates(map[string]any{
		"status":     status,
		"end_reason": reason,
		"end_at":     endAt,
	}).Error
	if err != nil {
		return fmt.Errorf("failed to finish auction: %w", err)
	}
	g.auction.Status = status
	g.auction.EndReason = reason
	g.auction.EndAt = &endAt
	return nil
}

// ReserveWinner 為得標者建立商品保留，商品已經有 active 的保留時回傳 nil, false
func (g *Guard) ReserveWinner(expiresAt time.Time) (*models.AuctionLock, bool, error) {
	a := g.auction
	var count int64
	err := g.tx.Model(&models.AuctionLock{}).
		Where("product_id = ? AND status = ?", a.ProductID, models.AuctionLockStatusActive).
		Count(&count).Error
	if err != nil {
		return nil, false, fmt.Errorf("failed to check auction lock: %w", err)
	}
	if count > 0 {
		return nil, false, nil
	}
	lock := models.AuctionLock{
		ProductID:  a.ProductID,
		UserID:     *a.HighBidUserID,
		AuctionID:  a.ID,
		PriceCents: *a.HighBidAmount,
		ExpiresAt:  expiresAt,
		Status:     models.AuctionLockStatusActive,
	}
	if err := g.tx.Create(&lock).Error; err != nil {
		return nil, false, fmt.Errorf("failed to create auction lock: %w", err)
	}
	return &lock, true, nil
}
