package settlement

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketplace/events"
	"marketplace/models"
	"marketplace/models/modeltest"
	"marketplace/payments/paymentstest"
)

func TestRefunder_Refund(t *testing.T) {
	env := setupTest(t)
	intent := "pi_123"
	order := modeltest.SeedOrder(t, env.db, models.OrderStatusPaid, 100, testNow, &intent,
		modeltest.Line{VendorID: env.vendorA.ID, UnitPrice: 300, Quantity: 1},
		modeltest.Line{VendorID: env.vendorB.ID, UnitPrice: 700, Quantity: 1},
	)
	_, err := env.allocator(tenPercent).Allocate(context.Background(), order.ID)
	require.NoError(t, err)
	transferred := env.rows(t, order.ID)[env.vendorB.ID]
	require.NoError(t, env.db.Model(&transferred).Updates(map[string]any{
		"payout_status": models.PayoutStatusTransferred,
		"transfer_id":   "tr_9",
	}).Error)
	env.recorder.Reset()

	processor := paymentstest.New()
	refunder := NewRefunder(env.db, processor, WithRefunderClock(env.clock), WithRefunderLedger(env.recorder))

	result, err := refunder.Refund(context.Background(), order.ID)
	require.NoError(t, err)
	require.Len(t, processor.Refunds, 1)
	assert.Equal(t, intent, processor.Refunds[0].PaymentIntentID)
	assert.Equal(t, order.TotalCents, processor.Refunds[0].Amount)

	rows := env.rows(t, order.ID)
	assert.Equal(t, []uuid.UUID{rows[env.vendorA.ID].ID}, result.Reversed)
	assert.Equal(t, models.PayoutStatusReversed, rows[env.vendorA.ID].PayoutStatus)
	assert.Equal(t, models.PayoutStatusTransferred, rows[env.vendorB.ID].PayoutStatus)
	assert.Equal(t, "tr_9", *rows[env.vendorB.ID].TransferID)
	assert.Equal(t, []uuid.UUID{rows[env.vendorB.ID].ID}, result.Retained)

	var got models.Order
	require.NoError(t, env.db.Take(&got, "id = ?", order.ID).Error)
	assert.Equal(t, models.OrderStatusRefunded, got.Status)

	ledger := env.recorder.Ledger()
	require.Len(t, ledger, 1)
	assert.Equal(t, events.LedgerSettlementReversed, ledger[0].Type)

	// 已退款的訂單不會再次呼叫金流服務
	result, err = refunder.Refund(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Len(t, processor.Refunds, 1)
	assert.Empty(t, result.Reversed)
}

func TestRefunder_Refund_Rejections(t *testing.T) {
	env := setupTest(t)
	processor := paymentstest.New()
	refunder := NewRefunder(env.db, processor)

	pending := modeltest.SeedOrder(t, env.db, models.OrderStatusPendingPayment, 0, testNow, nil,
		modeltest.Line{VendorID: env.vendorA.ID, UnitPrice: 100, Quantity: 1},
	)
	_, err := refunder.Refund(context.Background(), pending.ID)
	assert.ErrorIs(t, err, ErrOrderNotPaid)
	_, err = refunder.Reverse(context.Background(), pending.ID)
	assert.ErrorIs(t, err, ErrOrderNotPaid)

	noIntent := modeltest.SeedOrder(t, env.db, models.OrderStatusPaid, 0, testNow, nil,
		modeltest.Line{VendorID: env.vendorA.ID, UnitPrice: 100, Quantity: 1},
	)
	_, err = refunder.Refund(context.Background(), noIntent.ID)
	assert.ErrorIs(t, err, ErrNoPaymentIntent)

	intent := "pi_fail"
	failing := modeltest.SeedOrder(t, env.db, models.OrderStatusPaid, 0, testNow, &intent,
		modeltest.Line{VendorID: env.vendorA.ID, UnitPrice: 100, Quantity: 1},
	)
	processor.RefundError = errors.New("card_declined")
	_, err = refunder.Refund(context.Background(), failing.ID)
	assert.Error(t, err)
	var got models.Order
	require.NoError(t, env.db.Take(&got, "id = ?", failing.ID).Error)
	assert.Equal(t, models.OrderStatusPaid, got.Status)

	assert.Empty(t, processor.Refunds)
}

func TestRefunder_Reverse_InFlightPayout(t *testing.T) {
	env := setupTest(t)
	order := env.paidOrder(t)
	_, err := env.allocator(tenPercent).Allocate(context.Background(), order.ID)
	require.NoError(t, err)
	claimed := env.rows(t, order.ID)[env.vendorA.ID]
	require.NoError(t, env.db.Model(&claimed).Update("payout_claim", "payout-in-flight").Error)

	refunder := NewRefunder(env.db, paymentstest.New(), WithRefunderClock(env.clock))
	result, err := refunder.Reverse(context.Background(), order.ID)
	require.NoError(t, err)

	rows := env.rows(t, order.ID)
	assert.Equal(t, []uuid.UUID{rows[env.vendorA.ID].ID}, result.Retained)
	assert.Equal(t, []uuid.UUID{rows[env.vendorB.ID].ID}, result.Reversed)
	assert.Equal(t, models.PayoutStatusHolding, rows[env.vendorA.ID].PayoutStatus)
	assert.Equal(t, models.PayoutStatusReversed, rows[env.vendorB.ID].PayoutStatus)
}
