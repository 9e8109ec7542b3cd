package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"marketplace/money"
)

type OrderStatus string

const (
	OrderStatusPendingPayment OrderStatus = "pending_payment"
	OrderStatusPaid           OrderStatus = "paid"
	OrderStatusFailed         OrderStatus = "failed"
	OrderStatusRefunded       OrderStatus = "refunded"
)

// Order 代表買家的一筆訂單
// ShippingCents 為外部運費政策計算好的整筆訂單運費，結算時才依賣家比例拆分
type Order struct {
	ID              uuid.UUID   `gorm:"type:uuid;primaryKey"`
	BuyerID         uuid.UUID   `gorm:"type:uuid;not null;index;<-:create"`
	Status          OrderStatus `gorm:"type:varchar(24);not null;index"`
	SubtotalCents   money.Cents `gorm:"not null"`
	ShippingCents   money.Cents `gorm:"not null"`
	TotalCents      money.Cents `gorm:"not null"`
	PaymentIntentID *string     `gorm:"type:varchar(255);uniqueIndex"`
	AuctionID       *uuid.UUID  `gorm:"type:uuid;index"`
	PaidAt          *time.Time
	CreatedAt       time.Time `gorm:"index"`
	UpdatedAt       time.Time

	Items []OrderItem `gorm:"foreignKey:OrderID"`
}

func (o *Order) BeforeCreate(*gorm.DB) error {
	if o.ID == uuid.Nil {
		o.ID = newID()
	}
	return nil
}

// OrderItem 代表訂單中的一個品項，每個品項都歸屬於一個賣家
type OrderItem struct {
	ID             uuid.UUID   `gorm:"type:uuid;primaryKey"`
	OrderID        uuid.UUID   `gorm:"type:uuid;not null;index;<-:create"`
	ProductID      uuid.UUID   `gorm:"type:uuid;not null;<-:create"`
	VendorID       uuid.UUID   `gorm:"type:uuid;not null;index;<-:create"`
	UnitPriceCents money.Cents `gorm:"not null;<-:create"`
	Quantity       int         `gorm:"not null;<-:create"`
	LineTotalCents money.Cents `gorm:"not null;<-:create"`
	CreatedAt      time.Time
}

func (i *OrderItem) BeforeCreate(*gorm.DB) error {
	if i.ID == uuid.Nil {
		i.ID = newID()
	}
	return nil
}
