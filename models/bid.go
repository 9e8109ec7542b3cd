package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"marketplace/money"
)

// Bid 代表拍賣商品的出價紀錄
// 每一次被接受的出價都會寫入一筆，寫入後不可修改或刪除
// MaxProxyAmount 為出價者私下設定的代理出價上限
type Bid struct {
	ID             uuid.UUID    `gorm:"type:uuid;primaryKey"`
	AuctionID      uuid.UUID    `gorm:"type:uuid;not null;index:idx_bid_auction_user_created,priority:1;<-:create"`
	UserID         uuid.UUID    `gorm:"type:uuid;not null;index:idx_bid_auction_user_created,priority:2;<-:create"`
	Amount         money.Cents  `gorm:"not null;<-:create"`
	MaxProxyAmount *money.Cents `gorm:"<-:create"`
	CreatedAt      time.Time    `gorm:"not null;index:idx_bid_auction_user_created,priority:3;<-:create"`
}

func (b *Bid) BeforeCreate(*gorm.DB) error {
	if b.ID == uuid.Nil {
		b.ID = newID()
	}
	return nil
}

// Ceiling 回傳此出價的有效上限，未設定代理出價時即為出價金額
func (b *Bid) Ceiling() money.Cents {
	if b.MaxProxyAmount != nil && *b.MaxProxyAmount > b.Amount {
		return *b.MaxProxyAmount
	}
	return b.Amount
}
