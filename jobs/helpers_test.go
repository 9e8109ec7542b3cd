package jobs

import (
	"testing"
	"time"

	"code.cloudfoundry.org/clock/fakeclock"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"marketplace/events/eventstest"
	"marketplace/models"
	"marketplace/models/modeltest"
	"marketplace/money"
	"marketplace/payments/paymentstest"
)

var testNow = time.Date(2026, 6, 1, 2, 0, 0, 0, time.UTC)

type testEnv struct {
	db        *gorm.DB
	clock     *fakeclock.FakeClock
	recorder  *eventstest.Recorder
	processor *paymentstest.Fake
}

func setupTest(t *testing.T) *testEnv {
	t.Helper()
	return &testEnv{
		db:        modeltest.NewDB(t),
		clock:     fakeclock.NewFakeClock(testNow),
		recorder:  &eventstest.Recorder{},
		processor: paymentstest.New(),
	}
}

func account(id string) *string {
	return &id
}

// holdingRow 建立一筆已付款訂單與其等待撥款的結算
func (e *testEnv) holdingRow(t *testing.T, vendorID uuid.UUID, net money.Cents, holdUntil time.Time) models.OrderVendor {
	t.Helper()
	order := modeltest.SeedOrder(t, e.db, models.OrderStatusPaid, 0, testNow.Add(-96*time.Hour), nil,
		modeltest.Line{VendorID: vendorID, UnitPrice: net, Quantity: 1},
	)
	row := models.OrderVendor{
		OrderID:          order.ID,
		VendorID:         vendorID,
		VendorGrossCents: net,
		VendorNetCents:   net,
		CommissionPct:    decimal.Zero,
		PayoutStatus:     models.PayoutStatusHolding,
		HoldUntil:        &holdUntil,
	}
	require.NoError(t, e.db.Create(&row).Error)
	return row
}

func (e *testEnv) reloadRow(t *testing.T, id uuid.UUID) models.OrderVendor {
	t.Helper()
	var row models.OrderVendor
	require.NoError(t, e.db.Take(&row, "id = ?", id).Error)
	return row
}
