package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"marketplace/money"
)

type AuctionStatus string

const (
	AuctionStatusDraft     AuctionStatus = "draft"
	AuctionStatusScheduled AuctionStatus = "scheduled"
	AuctionStatusLive      AuctionStatus = "live"
	AuctionStatusEnded     AuctionStatus = "ended"
	AuctionStatusCanceled  AuctionStatus = "canceled"
)

// IsFinal 判斷狀態是否為終止狀態(ended 或 canceled)
func (s AuctionStatus) IsFinal() bool {
	return s == AuctionStatusEnded || s == AuctionStatusCanceled
}

// LadderTier 代表加價階梯中的一個級距
// UpTo 為 nil 時代表最後一個級距(以上皆適用)
type LadderTier struct {
	UpTo      *money.Cents `json:"upTo"`
	Increment money.Cents  `json:"increment"`
}

// Auction 代表一個競標中的商品
// 包含起標價、保留價、直購價、加價階梯以及目前最高出價等資訊
type Auction struct {
	ID                uuid.UUID                        `gorm:"type:uuid;primaryKey"`
	ProductID         uuid.UUID                        `gorm:"type:uuid;not null;index;<-:create"`
	VendorID          uuid.UUID                        `gorm:"type:uuid;not null;index;<-:create"`
	Title             string                           `gorm:"type:varchar(255);not null"`
	Status            AuctionStatus                    `gorm:"type:varchar(16);not null;index"`
	StartAt           time.Time                        `gorm:"not null"`
	EndAt             *time.Time                       `gorm:"index"`
	StartingBidAmount money.Cents                      `gorm:"not null"`
	ReserveAmount     *money.Cents                     ``
	BuyNowAmount      *money.Cents                     ``
	Ladder            datatypes.JSONType[[]LadderTier] ``
	HighBidAmount     *money.Cents                     ``
	HighBidUserID     *uuid.UUID                       `gorm:"type:uuid"`
	EndReason         string                           `gorm:"type:varchar(32);not null;default:''"`
	CreatedAt         time.Time
	UpdatedAt         time.Time

	// 外鍵關聯
	BidRecords []Bid `gorm:"foreignKey:AuctionID"`
}

func (a *Auction) BeforeCreate(*gorm.DB) error {
	if a.ID == uuid.Nil {
		a.ID = newID()
	}
	return nil
}

// HasBid 判斷是否已經有被接受的出價
func (a *Auction) HasBid() bool {
	return a.HighBidAmount != nil && a.HighBidUserID != nil
}

// ReserveMet 判斷最高出價是否達到保留價，未設定保留價時只要有出價即成立
func (a *Auction) ReserveMet() bool {
	if !a.HasBid() {
		return false
	}
	return a.ReserveAmount == nil || *a.HighBidAmount >= *a.ReserveAmount
}

// ExpiredAt 判斷在指定時間點拍賣是否已經到期，EndAt 為 nil 時視為尚未到期
func (a *Auction) ExpiredAt(now time.Time) bool {
	return a.EndAt != nil && !now.Before(*a.EndAt)
}
