// Package settlement 將已付款的訂單轉換為各賣家的結算快照，並處理退款時的沖銷
package settlement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"code.cloudfoundry.org/clock"
	"github.com/google/uuid"
	"github.com/samber/lo"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"marketplace/events"
	"marketplace/models"
	"marketplace/money"
)

// DefaultHoldingPeriod 結算後到可以撥款之間的預設等待時間
const DefaultHoldingPeriod = 7 * 24 * time.Hour

type allocatorOptions struct {
	logger        *slog.Logger
	clock         clock.Clock
	ledger        events.Ledger
	rule          FeeRule
	holdingPeriod time.Duration
}

type AllocatorOption func(*allocatorOptions)

// WithAllocatorLogger 設置日誌記錄器
func WithAllocatorLogger(logger *slog.Logger) AllocatorOption {
	return func(o *allocatorOptions) {
		o.logger = logger
	}
}

// WithAllocatorClock 設置時鐘
func WithAllocatorClock(c clock.Clock) AllocatorOption {
	return func(o *allocatorOptions) {
		o.clock = c
	}
}

// WithAllocatorLedger 設置帳務事件記錄
func WithAllocatorLedger(ledger events.Ledger) AllocatorOption {
	return func(o *allocatorOptions) {
		o.ledger = ledger
	}
}

// WithFeeRule 設置手續費規則，預設為 PerOrderMinimum
func WithFeeRule(rule FeeRule) AllocatorOption {
	return func(o *allocatorOptions) {
		o.rule = rule
	}
}

// WithHoldingPeriod 設置撥款前的等待時間
func WithHoldingPeriod(d time.Duration) AllocatorOption {
	return func(o *allocatorOptions) {
		o.holdingPeriod = d
	}
}

// Allocator 為已付款的訂單建立每個賣家的結算快照
// 以 (訂單, 賣家) 找到或建立資料列後無條件覆寫金額欄位，重複執行會得到相同的結果
type Allocator struct {
	db            *gorm.DB
	commission    Commission
	rule          FeeRule
	holdingPeriod time.Duration
	clock         clock.Clock
	ledger        events.Ledger
	logger        *slog.Logger
}

func NewAllocator(db *gorm.DB, commission Commission, opts ...AllocatorOption) *Allocator {
	options := allocatorOptions{
		logger:        slog.Default(),
		clock:         clock.NewClock(),
		ledger:        events.NopLedger,
		rule:          PerOrderMinimum{},
		holdingPeriod: DefaultHoldingPeriod,
	}
	for _, opt := range opts {
		opt(&options)
	}
	return &Allocator{
		db:            db,
		commission:    commission,
		rule:          options.rule,
		holdingPeriod: options.holdingPeriod,
		clock:         options.clock,
		ledger:        options.ledger,
		logger:        options.logger.With(slog.String("caller", "Allocator")),
	}
}

// Allocate 在獨立的交易中結算訂單，提交後送出帳務事件
func (a *Allocator) Allocate(ctx context.Context, orderID uuid.UUID) ([]models.OrderVendor, error) {
	const op = "Allocator.Allocate"

	var rows []models.OrderVendor
	err := a.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		rows, err = a.AllocateTx(tx, orderID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("[%s] Fail to allocate order %s, err=%w", op, orderID, err)
	}
	a.Record(ctx, rows)
	return rows, nil
}

// AllocateTx 在呼叫端的交易中結算訂單，交易提交後由呼叫端呼叫 Record
func (a *Allocator) AllocateTx(tx *gorm.DB, orderID uuid.UUID) ([]models.OrderVendor, error) {
	var order models.Order
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Take(&order, "id = ?", orderID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock order: %w", err)
	}
	if order.Status != models.OrderStatusPaid {
		return nil, fmt.Errorf("%w: status is %s", ErrOrderNotPaid, order.Status)
	}

	var items []models.OrderItem
	if err := tx.Where("order_id = ?", orderID).Order("id").Find(&items).Error; err != nil {
		return nil, fmt.Errorf("failed to list order items: %w", err)
	}

	shares, err := groupByVendor(items, order.ShippingCents)
	if err != nil {
		return nil, err
	}

	var existing []models.OrderVendor
	if err := tx.Where("order_id = ?", orderID).Find(&existing).Error; err != nil {
		return nil, fmt.Errorf("failed to list settlement rows: %w", err)
	}
	byVendor := lo.KeyBy(existing, func(row models.OrderVendor) uuid.UUID { return row.VendorID })

	// 等待期從付款時間起算，晚一點才結算(例如由對帳工作補上)不會延長等待期
	holdUntil := lo.FromPtrOr(order.PaidAt, a.clock.Now()).Add(a.holdingPeriod)
	rows := make([]models.OrderVendor, 0, len(shares))
	for _, vs := range shares {
		gross := vs.share.Gross()
		fee := a.rule.Fee(vs.share, a.commission)
		net := gross - fee
		if net.IsNegative() || fee.IsNegative() {
			return nil, &VendorError{
				VendorID: vs.vendorID,
				Err:      fmt.Errorf("%w: gross %s fee %s", ErrNegativeNet, gross, fee),
			}
		}

		row, ok := byVendor[vs.vendorID]
		if ok && (row.PayoutStatus.IsFinal() || row.InFlight()) {
			a.logger.Warn("settlement row is final or being paid out, skip update",
				slog.String("orderID", orderID.String()),
				slog.String("vendorID", vs.vendorID.String()),
				slog.String("payoutStatus", string(row.PayoutStatus)),
			)
			continue
		}

		row.VendorGrossCents = gross
		row.VendorFeeCents = fee
		row.VendorNetCents = net
		row.CommissionPct = a.commission.Pct
		row.CommissionMinCents = a.commission.MinFee

		if !ok {
			row.OrderID = orderID
			row.VendorID = vs.vendorID
			row.PayoutStatus = models.PayoutStatusHolding
			row.HoldUntil = &holdUntil
			if err := tx.Create(&row).Error; err != nil {
				return nil, fmt.Errorf("failed to create settlement row: %w", err)
			}
			rows = append(rows, row)
			continue
		}

		updates := map[string]any{
			"vendor_gross_cents":   gross,
			"vendor_fee_cents":     fee,
			"vendor_net_cents":     net,
			"commission_pct":       a.commission.Pct,
			"commission_min_cents": a.commission.MinFee,
		}
		if row.PayoutStatus == models.PayoutStatusPending {
			row.PayoutStatus = models.PayoutStatusHolding
			row.HoldUntil = &holdUntil
			updates["payout_status"] = row.PayoutStatus
			updates["hold_until"] = holdUntil
		}
		if err := tx.Model(&models.OrderVendor{}).Where("id = ?", row.ID).Updates(updates).Error; err != nil {
			return nil, fmt.Errorf("failed to update settlement row: %w", err)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// Record 送出結算的帳務事件，失敗時只記錄日誌
func (a *Allocator) Record(ctx context.Context, rows []models.OrderVendor) {
	now := a.clock.Now()
	for _, row := range rows {
		err := a.ledger.Record(ctx, events.LedgerEvent{
			Type:       events.LedgerSettlementAllocated,
			OrderID:    lo.ToPtr(row.OrderID),
			VendorID:   lo.ToPtr(row.VendorID),
			Gross:      row.VendorGrossCents,
			Fee:        row.VendorFeeCents,
			Amount:     row.VendorNetCents,
			RowIDs:     []uuid.UUID{row.ID},
			OccurredAt: now,
		})
		if err != nil {
			a.logger.Warn("failed to record ledger event",
				slog.String("orderID", row.OrderID.String()),
				slog.String("vendorID", row.VendorID.String()),
				slog.String("error", err.Error()),
			)
		}
	}
}

type vendorShare struct {
	vendorID uuid.UUID
	share    VendorShare
}

// groupByVendor 依賣家分組並拆分運費，賣家依 id 排序讓餘數的分配固定
func groupByVendor(items []models.OrderItem, shipping money.Cents) ([]vendorShare, error) {
	grouped := lo.GroupBy(items, func(item models.OrderItem) uuid.UUID { return item.VendorID })
	vendorIDs := lo.Keys(grouped)
	slices.SortFunc(vendorIDs, func(x, y uuid.UUID) int {
		return slices.Compare(x[:], y[:])
	})

	shares := make([]vendorShare, len(vendorIDs))
	lineTotals := make([]money.Cents, len(vendorIDs))
	for i, vendorID := range vendorIDs {
		lines := lo.Map(grouped[vendorID], func(item models.OrderItem, _ int) money.Cents { return item.LineTotalCents })
		shares[i] = vendorShare{
			vendorID: vendorID,
			share:    VendorShare{Lines: lines, LineTotal: money.Sum(lines...)},
		}
		lineTotals[i] = shares[i].share.LineTotal
	}

	split, err := SplitShipping(lineTotals, shipping)
	if err != nil {
		return nil, err
	}
	for i := range shares {
		shares[i].share.Shipping = split[i]
	}
	return shares, nil
}
