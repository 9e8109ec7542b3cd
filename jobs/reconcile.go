package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"code.cloudfoundry.org/clock"
	"github.com/google/uuid"

	"marketplace/models"
	"marketplace/orders"
	"marketplace/payments"
)

// 預設的對帳參數
const (
	DefaultStaleAfter     = 15 * time.Minute
	DefaultReconcileBatch = 100
)

// IntentRetriever 為對帳需要的金流服務功能
type IntentRetriever interface {
	RetrievePaymentIntent(ctx context.Context, intentID string) (payments.IntentStatus, error)
}

// ReconcileReport 為一次對帳的結果
type ReconcileReport struct {
	Paid    []uuid.UUID
	Failed  []uuid.UUID
	Pending []uuid.UUID
	Errors  map[uuid.UUID]error
}

type reconcileOptions struct {
	logger     *slog.Logger
	clock      clock.Clock
	staleAfter time.Duration
	batchSize  int
}

type ReconcileOption func(*reconcileOptions)

// WithReconcileLogger 設置日誌記錄器
func WithReconcileLogger(logger *slog.Logger) ReconcileOption {
	return func(o *reconcileOptions) {
		o.logger = logger
	}
}

// WithReconcileClock 設置時鐘
func WithReconcileClock(c clock.Clock) ReconcileOption {
	return func(o *reconcileOptions) {
		o.clock = c
	}
}

// WithStaleAfter 設置待付款訂單超過多久才需要對帳
func WithStaleAfter(d time.Duration) ReconcileOption {
	return func(o *reconcileOptions) {
		o.staleAfter = d
	}
}

// WithReconcileBatch 設置每次從資料庫讀取的訂單數量，所有過期訂單仍會分頁處理完
func WithReconcileBatch(n int) ReconcileOption {
	return func(o *reconcileOptions) {
		o.batchSize = n
	}
}

// ReconcileJob 向金流服務重新查詢卡在待付款的訂單
type ReconcileJob struct {
	orders     *orders.Service
	retriever  IntentRetriever
	clock      clock.Clock
	staleAfter time.Duration
	batchSize  int
	logger     *slog.Logger
}

func NewReconcileJob(service *orders.Service, retriever IntentRetriever, opts ...ReconcileOption) *ReconcileJob {
	options := reconcileOptions{
		logger:     slog.Default(),
		clock:      clock.NewClock(),
		staleAfter: DefaultStaleAfter,
		batchSize:  DefaultReconcileBatch,
	}
	for _, opt := range opts {
		opt(&options)
	}
	return &ReconcileJob{
		orders:     service,
		retriever:  retriever,
		clock:      options.clock,
		staleAfter: options.staleAfter,
		batchSize:  options.batchSize,
		logger:     options.logger.With(slog.String("caller", "ReconcileJob")),
	}
}

func (j *ReconcileJob) Name() string { return "reconcile-payments" }

func (j *ReconcileJob) Run(ctx context.Context) error {
	report, err := j.Reconcile(ctx)
	if err != nil {
		return err
	}
	j.logger.Info("reconcile finished",
		slog.Int("paid", len(report.Paid)),
		slog.Int("failed", len(report.Failed)),
		slog.Int("pending", len(report.Pending)),
		slog.Int("errors", len(report.Errors)),
	)
	return nil
}

// Reconcile 逐頁處理所有過期的待付款訂單，單筆失敗不影響其他訂單
// 以 (created_at, id) 分頁，長期停在處理中的訂單不會擋住後面的訂單
func (j *ReconcileJob) Reconcile(ctx context.Context) (ReconcileReport, error) {
	const op = "ReconcileJob.Reconcile"

	before := j.clock.Now().Add(-j.staleAfter)
	report := ReconcileReport{Errors: map[uuid.UUID]error{}}
	var cursor *orders.StaleCursor
	for {
		page, err := j.orders.StalePending(ctx, before, cursor, j.batchSize)
		if err != nil {
			return report, fmt.Errorf("[%s] Fail to list pending orders, err=%w", op, err)
		}
		for _, order := range page {
			j.reconcileOrder(ctx, order, &report)
		}
		if j.batchSize <= 0 || len(page) < j.batchSize {
			return report, nil
		}
		if err := ctx.Err(); err != nil {
			return report, fmt.Errorf("[%s] Fail to finish reconcile, err=%w", op, err)
		}
		cursor = orders.CursorOf(page[len(page)-1])
	}
}

func (j *ReconcileJob) reconcileOrder(ctx context.Context, order models.Order, report *ReconcileReport) {
	logger := j.logger.With(
		slog.String("orderID", order.ID.String()),
		slog.String("paymentIntentID", *order.PaymentIntentID),
	)

	status, err := j.retriever.RetrievePaymentIntent(ctx, *order.PaymentIntentID)
	if err != nil {
		logger.Error("failed to retrieve payment intent", slog.String("error", err.Error()))
		report.Errors[order.ID] = err
		return
	}

	switch status {
	case payments.IntentStatusSucceeded:
		if _, err := j.orders.ConfirmPaid(ctx, order.ID); err != nil {
			logger.Error("failed to confirm order", slog.String("error", err.Error()))
			report.Errors[order.ID] = err
			return
		}
		report.Paid = append(report.Paid, order.ID)
	case payments.IntentStatusCanceled:
		if _, err := j.orders.MarkFailed(ctx, order.ID); err != nil {
			logger.Error("failed to mark order failed", slog.String("error", err.Error()))
			report.Errors[order.ID] = err
			return
		}
		report.Failed = append(report.Failed, order.ID)
	default:
		logger.Info("payment still pending, skip", slog.String("status", string(status)))
		report.Pending = append(report.Pending, order.ID)
	}
}
