// Package events 定義拍賣與結算過程中對外發出的事件，以及發送事件所需的介面
package events

import (
	"context"
	"time"

	"github.com/google/uuid"

	"marketplace/money"
)

// 廣播給連線中客戶端的事件名稱
const (
	NameNewBid       = "auction.new-bid"
	NameOutbid       = "auction.outbid"
	NameAuctionEnded = "auction.ended"
)

// 結束拍賣的原因
const (
	ReasonExpired  = "expired"
	ReasonClosed   = "closed"
	ReasonBuyNow   = "buy-now"
	ReasonCanceled = "canceled"
)

// NewBid 有新的出價被接受
type NewBid struct {
	AuctionID uuid.UUID   `json:"auctionId"`
	UserID    uuid.UUID   `json:"userId"`
	Amount    money.Cents `json:"amountCents"`
	Ts        time.Time   `json:"ts"`
}

// Outbid 原本的領先者被超越
type Outbid struct {
	AuctionID      uuid.UUID   `json:"auctionId"`
	PreviousUserID uuid.UUID   `json:"previousUserId"`
	Amount         money.Cents `json:"amountCents"`
	Ts             time.Time   `json:"ts"`
}

// AuctionEnded 拍賣進入終止狀態
type AuctionEnded struct {
	AuctionID uuid.UUID `json:"auctionId"`
	Reason    string    `json:"reason"`
}

// AuctionRoom 回傳拍賣對應的廣播房間名稱
func AuctionRoom(auctionID uuid.UUID) string {
	return "auction:" + auctionID.String()
}

// Broadcaster 將事件廣播給訂閱房間的客戶端
// 廣播為 fire-and-forget，不保證送達
type Broadcaster interface {
	Emit(ctx context.Context, room string, name string, payload any) error
}

// BroadcasterFunc 讓一般函式可以作為 Broadcaster 使用
type BroadcasterFunc func(ctx context.Context, room string, name string, payload any) error

func (f BroadcasterFunc) Emit(ctx context.Context, room string, name string, payload any) error {
	return f(ctx, room, name, payload)
}

// Nop 不做任何事的 Broadcaster
var Nop Broadcaster = BroadcasterFunc(func(context.Context, string, string, any) error { return nil })
