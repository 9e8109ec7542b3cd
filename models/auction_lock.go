package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"marketplace/money"
)

type AuctionLockStatus string

const (
	AuctionLockStatusActive   AuctionLockStatus = "active"
	AuctionLockStatusPaid     AuctionLockStatus = "paid"
	AuctionLockStatusReleased AuctionLockStatus = "released"
)

// AuctionLock 代表得標者在付款前對商品的短期保留
// 同一個商品同時最多只會有一筆 active 的保留，狀態只能從 active 轉為 paid 或 released
type AuctionLock struct {
	ID         uuid.UUID         `gorm:"type:uuid;primaryKey"`
	ProductID  uuid.UUID         `gorm:"type:uuid;not null;uniqueIndex:idx_auction_lock_active_product,where:status = 'active';<-:create"`
	UserID     uuid.UUID         `gorm:"type:uuid;not null;index;<-:create"`
	AuctionID  uuid.UUID         `gorm:"type:uuid;not null;index;<-:create"`
	PriceCents money.Cents       `gorm:"not null;<-:create"`
	ExpiresAt  time.Time         `gorm:"not null;index"`
	Status     AuctionLockStatus `gorm:"type:varchar(16);not null;uniqueIndex:idx_auction_lock_active_product,where:status = 'active'"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (l *AuctionLock) BeforeCreate(*gorm.DB) error {
	if l.ID == uuid.Nil {
		l.ID = newID()
	}
	return nil
}
