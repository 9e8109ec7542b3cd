package settlement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"code.cloudfoundry.org/clock"
	"github.com/google/uuid"
	"github.com/samber/lo"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"marketplace/events"
	"marketplace/models"
	"marketplace/payments"
)

// ErrNoPaymentIntent 訂單沒有付款意圖，無法透過金流服務退款
var ErrNoPaymentIntent = errors.New("order has no payment intent")

// RefundProcessor 為退款需要的金流服務功能
type RefundProcessor interface {
	CreateRefund(ctx context.Context, req payments.RefundRequest) (payments.RefundResult, error)
}

// ReverseResult 為沖銷的結果
type ReverseResult struct {
	Reversed []uuid.UUID
	// Retained 為已經撥款或撥款進行中而無法沖銷的結算，需要另外向賣家追回
	Retained []uuid.UUID
}

type refunderOptions struct {
	logger *slog.Logger
	clock  clock.Clock
	ledger events.Ledger
}

type RefunderOption func(*refunderOptions)

// WithRefunderLogger 設置日誌記錄器
func WithRefunderLogger(logger *slog.Logger) RefunderOption {
	return func(o *refunderOptions) {
		o.logger = logger
	}
}

// WithRefunderClock 設置時鐘
func WithRefunderClock(c clock.Clock) RefunderOption {
	return func(o *refunderOptions) {
		o.clock = c
	}
}

// WithRefunderLedger 設置帳務事件記錄
func WithRefunderLedger(ledger events.Ledger) RefunderOption {
	return func(o *refunderOptions) {
		o.ledger = ledger
	}
}

// Refunder 處理訂單退款以及結算沖銷
type Refunder struct {
	db        *gorm.DB
	processor RefundProcessor
	clock     clock.Clock
	ledger    events.Ledger
	logger    *slog.Logger
}

func NewRefunder(db *gorm.DB, processor RefundProcessor, opts ...RefunderOption) *Refunder {
	options := refunderOptions{
		logger: slog.Default(),
		clock:  clock.NewClock(),
		ledger: events.NopLedger,
	}
	for _, opt := range opts {
		opt(&options)
	}
	return &Refunder{
		db:        db,
		processor: processor,
		clock:     options.clock,
		ledger:    options.ledger,
		logger:    options.logger.With(slog.String("caller", "Refunder")),
	}
}

// Refund 透過金流服務全額退款後沖銷結算，已經退款的訂單不會重複退款
func (r *Refunder) Refund(ctx context.Context, orderID uuid.UUID) (ReverseResult, error) {
	const op = "Refunder.Refund"

	var order models.Order
	err := r.db.WithContext(ctx).Take(&order, "id = ?", orderID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ReverseResult{}, ErrOrderNotFound
	}
	if err != nil {
		return ReverseResult{}, fmt.Errorf("[%s] Fail to get order, err=%w", op, err)
	}
	switch {
	case order.Status == models.OrderStatusRefunded:
		return r.Reverse(ctx, orderID)
	case order.Status != models.OrderStatusPaid:
		return ReverseResult{}, fmt.Errorf("%w: status is %s", ErrOrderNotPaid, order.Status)
	case order.PaymentIntentID == nil:
		return ReverseResult{}, ErrNoPaymentIntent
	}

	refund, err := r.processor.CreateRefund(ctx, payments.RefundRequest{
		PaymentIntentID: *order.PaymentIntentID,
		Amount:          order.TotalCents,
		Reason:          "requested_by_customer",
		IdempotencyKey:  "refund-" + orderID.String(),
	})
	if err != nil {
		r.logger.Error("failed to create refund",
			slog.String("orderID", orderID.String()),
			slog.String("error", err.Error()),
		)
		return ReverseResult{}, fmt.Errorf("[%s] Fail to create refund, err=%w", op, err)
	}
	r.logger.Info("refund created",
		slog.String("orderID", orderID.String()),
		slog.String("refundID", refund.RefundID),
	)
	return r.Reverse(ctx, orderID)
}

// Reverse 將訂單標記為已退款，並沖銷所有尚未撥款的結算
func (r *Refunder) Reverse(ctx context.Context, orderID uuid.UUID) (ReverseResult, error) {
	const op = "Refunder.Reverse"

	var result ReverseResult
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var order models.Order
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Take(&order, "id = ?", orderID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrOrderNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to lock order: %w", err)
		}
		switch order.Status {
		case models.OrderStatusRefunded:
		case models.OrderStatusPaid:
			if err := tx.Model(&order).Update("status", models.OrderStatusRefunded).Error; err != nil {
				return fmt.Errorf("failed to update order: %w", err)
			}
		default:
			return fmt.Errorf("%w: status is %s", ErrOrderNotPaid, order.Status)
		}

		var rows []models.OrderVendor
		err = tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("order_id = ?", orderID).Find(&rows).Error
		if err != nil {
			return fmt.Errorf("failed to lock settlement rows: %w", err)
		}
		for _, row := range rows {
			switch {
			case row.InFlight():
				// 撥款失敗時撥款工作會沖銷這筆結算，成功時則需要追回
				result.Retained = append(result.Retained, row.ID)
				r.logger.Warn("settlement payout in flight, needs clawback if transfer succeeds",
					slog.String("orderID", orderID.String()),
					slog.String("vendorID", row.VendorID.String()),
					slog.String("idempotencyKey", lo.FromPtr(row.PayoutClaim)),
				)
			case row.PayoutStatus.CanAdvanceTo(models.PayoutStatusReversed):
				result.Reversed = append(result.Reversed, row.ID)
			case row.PayoutStatus == models.PayoutStatusTransferred:
				result.Retained = append(result.Retained, row.ID)
				r.logger.Warn("settlement already transferred, needs clawback",
					slog.String("orderID", orderID.String()),
					slog.String("vendorID", row.VendorID.String()),
					slog.String("transferID", lo.FromPtr(row.TransferID)),
				)
			}
		}
		if len(result.Reversed) == 0 {
			return nil
		}
		err = tx.Model(&models.OrderVendor{}).
			Where("id IN ?", result.Reversed).
			Update("payout_status", models.PayoutStatusReversed).Error
		if err != nil {
			return fmt.Errorf("failed to reverse settlement rows: %w", err)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrOrderNotFound) || errors.Is(err, ErrOrderNotPaid) {
			return ReverseResult{}, err
		}
		return ReverseResult{}, fmt.Errorf("[%s] Fail to reverse order %s, err=%w", op, orderID, err)
	}

	if len(result.Reversed) > 0 {
		err = r.ledger.Record(ctx, events.LedgerEvent{
			Type:       events.LedgerSettlementReversed,
			OrderID:    lo.ToPtr(orderID),
			RowIDs:     result.Reversed,
			OccurredAt: r.clock.Now(),
		})
		if err != nil {
			r.logger.Warn("failed to record ledger event",
				slog.String("orderID", orderID.String()),
				slog.String("error", err.Error()),
			)
		}
	}
	return result, nil
}
