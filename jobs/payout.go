package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"time"

	"code.cloudfoundry.org/clock"
	"github.com/google/uuid"
	"github.com/samber/lo"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"marketplace/events"
	"marketplace/models"
	"marketplace/money"
	"marketplace/payments"
)

// 撥款略過的原因
const (
	SkipNonPositiveAmount = "non-positive-amount"
	SkipVendorMissing     = "vendor-missing"
	SkipNoPayoutAccount   = "payout-account-missing"
	SkipTransferFailed    = "transfer-failed"
	SkipPersistFailed     = "persist-failed"
	SkipRowsChanged       = "rows-changed"
)

// DefaultTransferTimeout 單次撥款呼叫的預設逾時
const DefaultTransferTimeout = 30 * time.Second

// Transferer 為撥款需要的金流服務功能
type Transferer interface {
	CreateTransfer(ctx context.Context, req payments.TransferRequest) (payments.TransferResult, error)
}

// VendorPayout 為單一賣家成功的撥款
type VendorPayout struct {
	VendorID   uuid.UUID
	TransferID string
	Amount     money.Cents
	RowIDs     []uuid.UUID
}

// VendorSkip 為單一賣家這次沒有撥款的原因，會在下次執行時重試
type VendorSkip struct {
	VendorID uuid.UUID
	Reason   string
	Amount   money.Cents
	Err      error
}

// PayoutReport 為一次撥款的結果
type PayoutReport struct {
	Transferred []VendorPayout
	Skipped     []VendorSkip
}

type payoutOptions struct {
	logger          *slog.Logger
	clock           clock.Clock
	ledger          events.Ledger
	transferTimeout time.Duration
}

type PayoutOption func(*payoutOptions)

// WithPayoutLogger 設置日誌記錄器
func WithPayoutLogger(logger *slog.Logger) PayoutOption {
	return func(o *payoutOptions) {
		o.logger = logger
	}
}

// WithPayoutClock 設置時鐘
func WithPayoutClock(c clock.Clock) PayoutOption {
	return func(o *payoutOptions) {
		o.clock = c
	}
}

// WithPayoutLedger 設置帳務事件記錄
func WithPayoutLedger(ledger events.Ledger) PayoutOption {
	return func(o *payoutOptions) {
		o.ledger = ledger
	}
}

// WithTransferTimeout 設置單次撥款呼叫的逾時，逾時視為該賣家這次撥款失敗
func WithTransferTimeout(d time.Duration) PayoutOption {
	return func(o *payoutOptions) {
		o.transferTimeout = d
	}
}

// PayoutJob 將已過等待期的結算依賣家彙總後撥款
// 每個賣家每次執行最多呼叫一次撥款，只有撥款成功時才會標記為 transferred
type PayoutJob struct {
	db              *gorm.DB
	transferer      Transferer
	clock           clock.Clock
	ledger          events.Ledger
	transferTimeout time.Duration
	logger          *slog.Logger
}

func NewPayoutJob(db *gorm.DB, transferer Transferer, opts ...PayoutOption) *PayoutJob {
	options := payoutOptions{
		logger:          slog.Default(),
		clock:           clock.NewClock(),
		ledger:          events.NopLedger,
		transferTimeout: DefaultTransferTimeout,
	}
	for _, opt := range opts {
		opt(&options)
	}
	return &PayoutJob{
		db:              db,
		transferer:      transferer,
		clock:           options.clock,
		ledger:          options.ledger,
		transferTimeout: options.transferTimeout,
		logger:          options.logger.With(slog.String("caller", "PayoutJob")),
	}
}

func (j *PayoutJob) Name() string { return "payout" }

func (j *PayoutJob) Run(ctx context.Context) error {
	report, err := j.Payout(ctx)
	if err != nil {
		return err
	}
	j.logger.Info("payout finished",
		slog.Int("transferred", len(report.Transferred)),
		slog.Int("skipped", len(report.Skipped)),
	)
	return nil
}

// Payout 執行一次撥款，單一賣家失敗不影響其他賣家
func (j *PayoutJob) Payout(ctx context.Context) (PayoutReport, error) {
	const op = "PayoutJob.Payout"

	now := j.clock.Now()
	paidOrders := j.db.Model(&models.Order{}).Select("id").Where("status = ?", models.OrderStatusPaid)

	// 上次執行中斷而留下 claim 的結算不論訂單狀態都要以同一個 key 重送
	var rows []models.OrderVendor
	err := j.db.WithContext(ctx).
		Where("payout_status = ?", models.PayoutStatusHolding).
		Where("payout_claim IS NOT NULL OR (hold_until <= ? AND order_id IN (?))", now, paidOrders).
		Order("vendor_id, id").
		Find(&rows).Error
	if err != nil {
		return PayoutReport{}, fmt.Errorf("[%s] Fail to list payable rows, err=%w", op, err)
	}

	grouped := lo.GroupBy(rows, func(row models.OrderVendor) uuid.UUID { return row.VendorID })
	vendorIDs := lo.Keys(grouped)
	slices.SortFunc(vendorIDs, func(x, y uuid.UUID) int { return strings.Compare(x.String(), y.String()) })

	var vendors []models.Vendor
	if len(vendorIDs) > 0 {
		if err := j.db.WithContext(ctx).Where("id IN ?", vendorIDs).Find(&vendors).Error; err != nil {
			return PayoutReport{}, fmt.Errorf("[%s] Fail to list vendors, err=%w", op, err)
		}
	}
	vendorByID := lo.KeyBy(vendors, func(v models.Vendor) uuid.UUID { return v.ID })

	var report PayoutReport
	for _, vendorID := range vendorIDs {
		vendorRows := grouped[vendorID]
		var vendor *models.Vendor
		if v, ok := vendorByID[vendorID]; ok {
			vendor = &v
		}
		payout, skip := j.payVendor(ctx, vendorID, vendor, vendorRows, now)
		if skip != nil {
			report.Skipped = append(report.Skipped, *skip)
			j.recordSkip(ctx, *skip, now)
			continue
		}
		report.Transferred = append(report.Transferred, *payout)
		j.record(ctx, events.LedgerEvent{
			Type:       events.LedgerPayoutTransferred,
			VendorID:   lo.ToPtr(vendorID),
			Amount:     payout.Amount,
			TransferID: payout.TransferID,
			RowIDs:     payout.RowIDs,
			OccurredAt: now,
		})
	}
	return report, nil
}

// payVendor 撥款給單一賣家
// 撥款前先在交易中鎖定並 claim 這批結算，撥款期間沖銷只會把它們列為已保留，
// 所以撥出的金額一定等於最後被標記為 transferred 的結算總和
func (j *PayoutJob) payVendor(ctx context.Context, vendorID uuid.UUID, vendor *models.Vendor, rows []models.OrderVendor, now time.Time) (*VendorPayout, *VendorSkip) {
	logger := j.logger.With(slog.String("vendorID", vendorID.String()))
	rows, claim := nextBatch(rows)
	amount := lo.SumBy(rows, func(row models.OrderVendor) money.Cents { return row.VendorNetCents })
	rowIDs := lo.Map(rows, func(row models.OrderVendor, _ int) uuid.UUID { return row.ID })

	skip := func(reason string, err error) (*VendorPayout, *VendorSkip) {
		attrs := []any{slog.String("reason", reason), slog.String("amount", amount.String())}
		if err != nil {
			attrs = append(attrs, slog.String("error", err.Error()))
		}
		logger.Warn("payout skipped", attrs...)
		return nil, &VendorSkip{VendorID: vendorID, Reason: reason, Amount: amount, Err: err}
	}

	switch {
	case !amount.IsPositive():
		return skip(SkipNonPositiveAmount, nil)
	case vendor == nil:
		return skip(SkipVendorMissing, nil)
	case !vendor.HasPayoutAccount():
		return skip(SkipNoPayoutAccount, nil)
	}

	key := lo.FromPtr(claim)
	if claim == nil {
		key = payoutIdempotencyKey(vendorID, rowIDs)
		claimed, err := j.claim(ctx, key, rowIDs)
		if err != nil {
			return skip(SkipPersistFailed, err)
		}
		if !claimed {
			return skip(SkipRowsChanged, nil)
		}
	} else {
		logger.Info("resume interrupted payout", slog.String("idempotencyKey", key))
	}

	transferCtx, cancel := context.WithTimeout(ctx, j.transferTimeout)
	defer cancel()
	result, err := j.transferer.CreateTransfer(transferCtx, payments.TransferRequest{
		AccountID:   *vendor.PayoutAccountID,
		Amount:      amount,
		Description: fmt.Sprintf("Marketplace payout %s", now.Format(time.DateOnly)),
		Metadata: map[string]string{
			"vendorId": vendorID.String(),
			"rows":     strconv.Itoa(len(rows)),
		},
		IdempotencyKey: key,
	})
	if err != nil {
		if releaseErr := j.release(ctx, key, now); releaseErr != nil {
			logger.Error("failed to release payout claim",
				slog.String("idempotencyKey", key),
				slog.String("error", releaseErr.Error()),
			)
		}
		return skip(SkipTransferFailed, err)
	}

	res := j.db.WithContext(ctx).Model(&models.OrderVendor{}).
		Where("payout_claim = ? AND payout_status = ?", key, models.PayoutStatusHolding).
		Updates(map[string]any{
			"payout_status": models.PayoutStatusTransferred,
			"transfer_id":   result.TransferID,
			"payout_claim":  nil,
		})
	if res.Error != nil {
		// 撥款已經成功，結算仍保留 claim，下次執行會以相同的 idempotency key 取回同一筆撥款
		logger.Error("transfer succeeded but rows were not updated", slog.String("transferID", result.TransferID))
		return skip(SkipPersistFailed, res.Error)
	}
	if res.RowsAffected != int64(len(rowIDs)) {
		logger.Error("claimed rows changed during payout",
			slog.String("transferID", result.TransferID),
			slog.Int64("updated", res.RowsAffected),
			slog.Int("expected", len(rowIDs)),
		)
	}

	logger.Info("payout transferred",
		slog.String("transferID", result.TransferID),
		slog.String("amount", amount.String()),
		slog.Int("rows", len(rows)),
	)
	return &VendorPayout{VendorID: vendorID, TransferID: result.TransferID, Amount: amount, RowIDs: rowIDs}, nil
}

// nextBatch 挑出這次要撥款的結算
// 有上次中斷留下的 claim 時只重送該 claim 的結算，其餘的等下次執行
func nextBatch(rows []models.OrderVendor) ([]models.OrderVendor, *string) {
	claimed, ok := lo.Find(rows, func(row models.OrderVendor) bool { return row.PayoutClaim != nil })
	if !ok {
		return rows, nil
	}
	key := *claimed.PayoutClaim
	return lo.Filter(rows, func(row models.OrderVendor, _ int) bool {
		return row.PayoutClaim != nil && *row.PayoutClaim == key
	}), &key
}

// claim 鎖定結算並寫入 claim，任何一筆已經不能撥款(被沖銷、訂單已退款或已被 claim)時整批都不 claim
func (j *PayoutJob) claim(ctx context.Context, key string, rowIDs []uuid.UUID) (bool, error) {
	var claimed bool
	err := j.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		paidOrders := tx.Model(&models.Order{}).Select("id").Where("status = ?", models.OrderStatusPaid)
		var locked []models.OrderVendor
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id IN ? AND payout_status = ? AND payout_claim IS NULL", rowIDs, models.PayoutStatusHolding).
			Where("order_id IN (?)", paidOrders).
			Find(&locked).Error
		if err != nil {
			return fmt.Errorf("failed to lock settlement rows: %w", err)
		}
		if len(locked) != len(rowIDs) {
			return nil
		}
		err = tx.Model(&models.OrderVendor{}).Where("id IN ?", rowIDs).Update("payout_claim", key).Error
		if err != nil {
			return fmt.Errorf("failed to claim settlement rows: %w", err)
		}
		claimed = true
		return nil
	})
	return claimed, err
}

// release 在撥款失敗後清除 claim，撥款期間訂單已經退款的結算直接沖銷
func (j *PayoutJob) release(ctx context.Context, key string, now time.Time) error {
	var reversed []models.OrderVendor
	err := j.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		refundedOrders := tx.Model(&models.Order{}).Select("id").Where("status = ?", models.OrderStatusRefunded)
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("payout_claim = ? AND payout_status = ?", key, models.PayoutStatusHolding).
			Where("order_id IN (?)", refundedOrders).
			Find(&reversed).Error
		if err != nil {
			return fmt.Errorf("failed to lock refunded rows: %w", err)
		}
		if len(reversed) > 0 {
			err = tx.Model(&models.OrderVendor{}).
				Where("id IN ?", lo.Map(reversed, func(row models.OrderVendor, _ int) uuid.UUID { return row.ID })).
				Updates(map[string]any{
					"payout_status": models.PayoutStatusReversed,
					"payout_claim":  nil,
				}).Error
			if err != nil {
				return fmt.Errorf("failed to reverse refunded rows: %w", err)
			}
		}
		err = tx.Model(&models.OrderVendor{}).Where("payout_claim = ?", key).Update("payout_claim", nil).Error
		if err != nil {
			return fmt.Errorf("failed to release settlement rows: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	for _, row := range reversed {
		j.record(ctx, events.LedgerEvent{
			Type:       events.LedgerSettlementReversed,
			OrderID:    lo.ToPtr(row.OrderID),
			VendorID:   lo.ToPtr(row.VendorID),
			Amount:     row.VendorNetCents,
			RowIDs:     []uuid.UUID{row.ID},
			OccurredAt: now,
		})
	}
	return nil
}

func (j *PayoutJob) recordSkip(ctx context.Context, skip VendorSkip, now time.Time) {
	j.record(ctx, events.LedgerEvent{
		Type:       events.LedgerPayoutSkipped,
		VendorID:   lo.ToPtr(skip.VendorID),
		Amount:     skip.Amount,
		Reason:     skip.Reason,
		OccurredAt: now,
	})
}

func (j *PayoutJob) record(ctx context.Context, event events.LedgerEvent) {
	if err := j.ledger.Record(ctx, event); err != nil {
		j.logger.Warn("failed to record ledger event",
			slog.String("type", event.Type),
			slog.String("error", err.Error()),
		)
	}
}

// payoutIdempotencyKey 由賣家與結算列產生固定的 key，同一批結算重送時不會重複撥款
func payoutIdempotencyKey(vendorID uuid.UUID, rowIDs []uuid.UUID) string {
	data := make([]byte, 0, len(rowIDs)*16)
	for _, id := range rowIDs {
		data = append(data, id[:]...)
	}
	return "payout-" + uuid.NewSHA1(vendorID, data).String()
}
