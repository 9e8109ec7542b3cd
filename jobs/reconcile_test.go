package jobs

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketplace/models"
	"marketplace/models/modeltest"
	"marketplace/orders"
	"marketplace/payments"
	"marketplace/settlement"
)

func TestReconcileJob_Reconcile(t *testing.T) {
	env := setupTest(t)
	vendor := modeltest.SeedVendor(t, env.db, nil)
	allocator := settlement.NewAllocator(env.db,
		settlement.Commission{Pct: decimal.RequireFromString("0.1")},
		settlement.WithAllocatorClock(env.clock),
	)
	service := orders.NewService(env.db, allocator, orders.WithServiceClock(env.clock))

	seed := func(intent string, createdAt time.Time) *models.Order {
		return modeltest.SeedOrder(t, env.db, models.OrderStatusPendingPayment, 0, createdAt, &intent,
			modeltest.Line{VendorID: vendor.ID, UnitPrice: 1000, Quantity: 1},
		)
	}
	stale := testNow.Add(-time.Hour)
	succeeded := seed("pi_ok", stale)
	canceled := seed("pi_cancel", stale)
	processing := seed("pi_processing", stale)
	broken := seed("pi_broken", stale)
	fresh := seed("pi_fresh", testNow.Add(-time.Minute))

	env.processor.Intents["pi_ok"] = payments.IntentStatusSucceeded
	env.processor.Intents["pi_cancel"] = payments.IntentStatusCanceled
	env.processor.Intents["pi_processing"] = payments.IntentStatusProcessing
	env.processor.Intents["pi_fresh"] = payments.IntentStatusSucceeded
	env.processor.IntentErrors["pi_broken"] = errors.New("api unavailable")

	job := NewReconcileJob(service, env.processor,
		WithReconcileClock(env.clock),
		WithStaleAfter(15*time.Minute),
	)
	report, err := job.Reconcile(context.Background())
	require.NoError(t, err)

	require.Len(t, report.Paid, 1)
	assert.Equal(t, succeeded.ID, report.Paid[0])
	assert.Len(t, report.Failed, 1)
	assert.Equal(t, canceled.ID, report.Failed[0])
	assert.Len(t, report.Pending, 1)
	assert.Equal(t, processing.ID, report.Pending[0])
	assert.Contains(t, report.Errors, broken.ID)
	assert.NotContains(t, env.processor.Retrieved, "pi_fresh")

	status := func(id any) models.OrderStatus {
		var order models.Order
		require.NoError(t, env.db.Take(&order, "id = ?", id).Error)
		return order.Status
	}
	assert.Equal(t, models.OrderStatusPaid, status(succeeded.ID))
	assert.Equal(t, models.OrderStatusFailed, status(canceled.ID))
	assert.Equal(t, models.OrderStatusPendingPayment, status(processing.ID))
	assert.Equal(t, models.OrderStatusPendingPayment, status(broken.ID))
	assert.Equal(t, models.OrderStatusPendingPayment, status(fresh.ID))

	// 付款成功的訂單會被結算
	var rows []models.OrderVendor
	require.NoError(t, env.db.Where("order_id = ?", succeeded.ID).Find(&rows).Error)
	require.Len(t, rows, 1)
	assert.Equal(t, models.PayoutStatusHolding, rows[0].PayoutStatus)

	// 再次執行時只剩下仍在處理中與查詢失敗的訂單
	env.processor.Retrieved = nil
	_, err = job.Reconcile(context.Background())
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"pi_processing", "pi_broken"}, env.processor.Retrieved)
}

func TestReconcileJob_PagesPastStuckOrders(t *testing.T) {
	env := setupTest(t)
	vendor := modeltest.SeedVendor(t, env.db, nil)
	allocator := settlement.NewAllocator(env.db,
		settlement.Commission{Pct: decimal.RequireFromString("0.1")},
		settlement.WithAllocatorClock(env.clock),
	)
	service := orders.NewService(env.db, allocator, orders.WithServiceClock(env.clock))

	// 超過兩頁的結帳被放棄的訂單排在付款成功的訂單前面
	oldest := testNow.Add(-48 * time.Hour)
	for i := range 7 {
		intent := fmt.Sprintf("pi_abandoned_%d", i)
		modeltest.SeedOrder(t, env.db, models.OrderStatusPendingPayment, 0, oldest.Add(time.Duration(i)*time.Second), &intent,
			modeltest.Line{VendorID: vendor.ID, UnitPrice: 1000, Quantity: 1},
		)
		env.processor.Intents[intent] = payments.IntentStatusRequiresPaymentMethod
	}
	paidIntent := "pi_paid"
	paid := modeltest.SeedOrder(t, env.db, models.OrderStatusPendingPayment, 0, testNow.Add(-time.Hour), &paidIntent,
		modeltest.Line{VendorID: vendor.ID, UnitPrice: 1000, Quantity: 1},
	)
	env.processor.Intents[paidIntent] = payments.IntentStatusSucceeded

	job := NewReconcileJob(service, env.processor,
		WithReconcileClock(env.clock),
		WithReconcileBatch(3),
	)
	report, err := job.Reconcile(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []uuid.UUID{paid.ID}, report.Paid)
	assert.Len(t, report.Pending, 7)
	assert.Contains(t, env.processor.Retrieved, paidIntent)
	assert.Len(t, env.processor.Retrieved, 8)

	var got models.Order
	require.NoError(t, env.db.Take(&got, "id = ?", paid.ID).Error)
	assert.Equal(t, models.OrderStatusPaid, got.Status)
}
