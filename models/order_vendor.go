package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"marketplace/money"
)

type PayoutStatus string

const (
	PayoutStatusPending     PayoutStatus = "pending"
	PayoutStatusHolding     PayoutStatus = "holding"
	PayoutStatusTransferred PayoutStatus = "transferred"
	PayoutStatusReversed    PayoutStatus = "reversed"
)

// IsFinal 判斷撥款狀態是否已經不能再變動
func (s PayoutStatus) IsFinal() bool {
	return s == PayoutStatusTransferred || s == PayoutStatusReversed
}

// CanAdvanceTo 判斷撥款狀態是否可以往指定狀態前進
// 只允許 pending→holding→transferred，以及任何非終止狀態→reversed
func (s PayoutStatus) CanAdvanceTo(next PayoutStatus) bool {
	switch next {
	case PayoutStatusHolding:
		return s == PayoutStatusPending
	case PayoutStatusTransferred:
		return s == PayoutStatusHolding
	case PayoutStatusReversed:
		return !s.IsFinal()
	}
	return false
}

// InFlight 撥款已經送出但尚未確認結果
func (ov *OrderVendor) InFlight() bool {
	return ov.PayoutStatus == PayoutStatusHolding && ov.PayoutClaim != nil
}

// OrderVendor 代表一筆訂單中單一賣家的結算快照
// 每個 (訂單, 賣家) 只會有一筆，VendorNetCents = VendorGrossCents - VendorFeeCents 且不可為負數
// PayoutClaim 在撥款送出到確認結果之間為該次撥款的 idempotency key，期間金額不會被重新結算也不會被沖銷
type OrderVendor struct {
	ID                 uuid.UUID       `gorm:"type:uuid;primaryKey"`
	OrderID            uuid.UUID       `gorm:"type:uuid;not null;uniqueIndex:idx_order_vendor_order_id_vendor_id;<-:create"`
	VendorID           uuid.UUID       `gorm:"type:uuid;not null;uniqueIndex:idx_order_vendor_order_id_vendor_id;index;<-:create"`
	VendorGrossCents   money.Cents     `gorm:"not null"`
	VendorFeeCents     money.Cents     `gorm:"not null"`
	VendorNetCents     money.Cents     `gorm:"not null"`
	CommissionPct      decimal.Decimal `gorm:"type:numeric(7,4);not null"`
	CommissionMinCents money.Cents     `gorm:"not null"`
	PayoutStatus       PayoutStatus    `gorm:"type:varchar(16);not null;index"`
	HoldUntil          *time.Time      `gorm:"index"`
	TransferID         *string         `gorm:"type:varchar(255)"`
	PayoutClaim        *string         `gorm:"type:varchar(64);index"`
	CreatedAt          time.Time
	UpdatedAt          time.Time

	Order *Order `gorm:"foreignKey:OrderID"`
}

func (ov *OrderVendor) BeforeCreate(*gorm.DB) error {
	if ov.ID == uuid.Nil {
		ov.ID = newID()
	}
	return nil
}
