package models

import (
	"github.com/google/uuid"
)

// All 回傳所有需要建立資料表的模型，順序依照外鍵相依關係排列
func All() []any {
	return []any{
		&User{},
		&Vendor{},
		&Product{},
		&Auction{},
		&Bid{},
		&AuctionLock{},
		&Order{},
		&OrderItem{},
		&OrderVendor{},
	}
}

// newID 產生時間排序的 UUIDv7，失敗時退回隨機的 UUIDv4
func newID() uuid.UUID {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New()
	}
	return id
}
