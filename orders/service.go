// Package orders 處理訂單付款狀態的轉換
package orders

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"code.cloudfoundry.org/clock"
	"github.com/google/uuid"
	"github.com/samber/lo"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"marketplace/models"
	"marketplace/settlement"
)

var (
	ErrOrderNotFound = settlement.ErrOrderNotFound
	// ErrInvalidTransition 訂單目前的狀態不能轉換為目標狀態
	ErrInvalidTransition = errors.New("invalid order status transition")
)

// ConfirmResult 為確認付款的結果
type ConfirmResult struct {
	Order *models.Order
	// AlreadyPaid 訂單在確認前就已經付款，這次只重新結算
	AlreadyPaid bool
	Settlement  []models.OrderVendor
	// SettlementErr 結算違反不變量，訂單仍然是已付款但沒有建立結算
	SettlementErr error
}

type serviceOptions struct {
	logger *slog.Logger
	clock  clock.Clock
}

type ServiceOption func(*serviceOptions)

// WithServiceLogger 設置日誌記錄器
func WithServiceLogger(logger *slog.Logger) ServiceOption {
	return func(o *serviceOptions) {
		o.logger = logger
	}
}

// WithServiceClock 設置時鐘
func WithServiceClock(c clock.Clock) ServiceOption {
	return func(o *serviceOptions) {
		o.clock = c
	}
}

// Service 訂單付款確認，webhook 與對帳工作都透過這裡推進訂單狀態
type Service struct {
	db        *gorm.DB
	allocator *settlement.Allocator
	clock     clock.Clock
	logger    *slog.Logger
}

func NewService(db *gorm.DB, allocator *settlement.Allocator, opts ...ServiceOption) *Service {
	options := serviceOptions{
		logger: slog.Default(),
		clock:  clock.NewClock(),
	}
	for _, opt := range opts {
		opt(&options)
	}
	return &Service{
		db:        db,
		allocator: allocator,
		clock:     options.clock,
		logger:    options.logger.With(slog.String("caller", "OrderService")),
	}
}

// ConfirmPaid 將訂單標記為已付款，封存購買的商品並將得標保留轉為 paid，提交後再結算
// 付款是金流服務已經確認的事實，結算失敗不會讓訂單回到待付款。
// 結算違反不變量時只記錄錯誤並回傳在 SettlementErr，其他結算錯誤會回傳給呼叫端重試；
// 已經付款的訂單會再次結算，結算本身是冪等的。
func (s *Service) ConfirmPaid(ctx context.Context, orderID uuid.UUID) (ConfirmResult, error) {
	const op = "OrderService.ConfirmPaid"

	now := s.clock.Now()
	var result ConfirmResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		order, err := lockOrder(tx, orderID)
		if err != nil {
			return err
		}
		result.Order = order

		switch order.Status {
		case models.OrderStatusPaid:
			result.AlreadyPaid = true
			return nil
		case models.OrderStatusPendingPayment, models.OrderStatusFailed:
			return s.markPaid(tx, order, now)
		default:
			return fmt.Errorf("%w: %s to %s", ErrInvalidTransition, order.Status, models.OrderStatusPaid)
		}
	})
	if err != nil {
		if errors.Is(err, ErrOrderNotFound) || errors.Is(err, ErrInvalidTransition) {
			return ConfirmResult{}, err
		}
		s.logger.Error("failed to confirm payment",
			slog.String("orderID", orderID.String()),
			slog.String("error", err.Error()),
		)
		return ConfirmResult{}, fmt.Errorf("[%s] Fail to confirm order, err=%w", op, err)
	}
	if !result.AlreadyPaid {
		s.logger.Info("order paid", slog.String("orderID", orderID.String()))
	}

	result.Settlement, err = s.allocator.Allocate(ctx, orderID)
	if err == nil {
		return result, nil
	}
	attrs := []any{slog.String("orderID", orderID.String()), slog.String("error", err.Error())}
	if vendorErr, ok := lo.ErrorsAs[*settlement.VendorError](err); ok {
		attrs = append(attrs, slog.String("vendorID", vendorErr.VendorID.String()))
	}
	if settlement.IsInvariant(err) {
		s.logger.Error("settlement invariant violated, order stays paid", attrs...)
		result.SettlementErr = err
		return result, nil
	}
	s.logger.Error("failed to settle paid order", attrs...)
	return result, fmt.Errorf("[%s] Fail to settle order, err=%w", op, err)
}

func (s *Service) markPaid(tx *gorm.DB, order *models.Order, now time.Time) error {
	err := tx.Model(order).Updates(map[string]any{
		"status":  models.OrderStatusPaid,
		"paid_at": now,
	}).Error
	if err != nil {
		return fmt.Errorf("failed to update order: %w", err)
	}
	order.Status = models.OrderStatusPaid
	order.PaidAt = &now

	var productIDs []uuid.UUID
	err = tx.Model(&models.OrderItem{}).Where("order_id = ?", order.ID).Pluck("product_id", &productIDs).Error
	if err != nil {
		return fmt.Errorf("failed to list purchased products: %w", err)
	}
	productIDs = lo.Uniq(productIDs)
	if len(productIDs) > 0 {
		err = tx.Model(&models.Product{}).
			Where("id IN ? AND status = ?", productIDs, models.ProductStatusActive).
			Updates(map[string]any{
				"status":      models.ProductStatusArchived,
				"archived_at": now,
			}).Error
		if err != nil {
			return fmt.Errorf("failed to archive products: %w", err)
		}
	}

	locks := tx.Model(&models.AuctionLock{}).Where("status = ?", models.AuctionLockStatusActive)
	switch {
	case order.AuctionID != nil:
		locks = locks.Where("auction_id = ?", *order.AuctionID)
	case len(productIDs) > 0:
		locks = locks.Where("product_id IN ? AND user_id = ?", productIDs, order.BuyerID)
	default:
		return nil
	}
	if err := locks.Update("status", models.AuctionLockStatusPaid).Error; err != nil {
		return fmt.Errorf("failed to update auction lock: %w", err)
	}
	return nil
}

// MarkFailed 將待付款的訂單標記為付款失敗，其他狀態不做任何事
func (s *Service) MarkFailed(ctx context.Context, orderID uuid.UUID) (bool, error) {
	const op = "OrderService.MarkFailed"

	var changed bool
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		order, err := lockOrder(tx, orderID)
		if err != nil {
			return err
		}
		if order.Status != models.OrderStatusPendingPayment {
			return nil
		}
		if err := tx.Model(order).Update("status", models.OrderStatusFailed).Error; err != nil {
			return fmt.Errorf("failed to update order: %w", err)
		}
		changed = true
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrOrderNotFound) {
			return false, err
		}
		return false, fmt.Errorf("[%s] Fail to mark order failed, err=%w", op, err)
	}
	if changed {
		s.logger.Info("order payment failed", slog.String("orderID", orderID.String()))
	}
	return changed, nil
}

// FindByPaymentIntent 以付款意圖找到訂單
func (s *Service) FindByPaymentIntent(ctx context.Context, intentID string) (*models.Order, error) {
	var order models.Order
	err := s.db.WithContext(ctx).Take(&order, "payment_intent_id = ?", intentID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find order by payment intent: %w", err)
	}
	return &order, nil
}

// StaleCursor 為 StalePending 分頁的位置，依 (created_at, id) 排序
type StaleCursor struct {
	CreatedAt time.Time
	ID        uuid.UUID
}

// CursorOf 回傳接續在指定訂單之後的分頁位置
func CursorOf(order models.Order) *StaleCursor {
	return &StaleCursor{CreatedAt: order.CreatedAt, ID: order.ID}
}

// StalePending 列出建立時間早於 before 且帶有付款意圖的待付款訂單
// after 不為 nil 時只回傳排在 after 之後的訂單，limit <= 0 代表不限制數量
func (s *Service) StalePending(ctx context.Context, before time.Time, after *StaleCursor, limit int) ([]models.Order, error) {
	var orders []models.Order
	query := s.db.WithContext(ctx).
		Where("status = ? AND payment_intent_id IS NOT NULL AND created_at < ?", models.OrderStatusPendingPayment, before).
		Order("created_at, id")
	if after != nil {
		query = query.Where("(created_at > ? OR (created_at = ? AND id > ?))", after.CreatedAt, after.CreatedAt, after.ID)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&orders).Error; err != nil {
		return nil, fmt.Errorf("failed to list stale pending orders: %w", err)
	}
	return orders, nil
}

func lockOrder(tx *gorm.DB, orderID uuid.UUID) (*models.Order, error) {
	var order models.Order
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Take(&order, "id = ?", orderID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock order: %w", err)
	}
	return &order, nil
}
