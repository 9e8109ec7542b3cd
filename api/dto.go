package api

import (
	"time"

	"github.com/google/uuid"

	"marketplace/auction"
	"marketplace/models"
	"marketplace/money"
	"marketplace/settlement"
)

type TierBody struct {
	UpToCents      *money.Cents `json:"upToCents"`
	IncrementCents money.Cents  `json:"incrementCents"`
}

type CreateAuctionBody struct {
	// VendorID 只有管理員需要指定，賣家固定為自己
	VendorID         *uuid.UUID   `json:"vendorId"`
	ProductID        uuid.UUID    `json:"productId" binding:"required"`
	Title            string       `json:"title" binding:"required"`
	StartingBidCents money.Cents  `json:"startingBidCents"`
	ReserveCents     *money.Cents `json:"reserveCents"`
	BuyNowCents      *money.Cents `json:"buyNowCents"`
	Ladder           []TierBody   `json:"ladder"`
	DurationSeconds  int64        `json:"durationSeconds"`
}

type PlaceBidBody struct {
	AmountCents   money.Cents  `json:"amountCents"`
	MaxProxyCents *money.Cents `json:"maxProxyCents"`
}

type AuctionResponse struct {
	ID                  uuid.UUID            `json:"id"`
	ProductID           uuid.UUID            `json:"productId"`
	VendorID            uuid.UUID            `json:"vendorId"`
	Title               string               `json:"title"`
	Status              models.AuctionStatus `json:"status"`
	StartAt             time.Time            `json:"startAt"`
	EndAt               *time.Time           `json:"endAt"`
	StartingBidCents    money.Cents          `json:"startingBidCents"`
	BuyNowCents         *money.Cents         `json:"buyNowCents,omitempty"`
	HighBidCents        *money.Cents         `json:"highBidCents"`
	HighBidUserID       *uuid.UUID           `json:"highBidUserId"`
	ReserveMet          bool                 `json:"reserveMet"`
	MinimumNextBidCents money.Cents          `json:"minimumNextBidCents"`
	EndReason           string               `json:"endReason,omitempty"`
}

type EndAuctionResponse struct {
	Auction      AuctionResponse `json:"auction"`
	AlreadyFinal bool            `json:"alreadyFinal"`
	LockID       *uuid.UUID      `json:"lockId,omitempty"`
}

type PlaceBidResponse struct {
	BidID               uuid.UUID   `json:"bidId"`
	LeaderID            uuid.UUID   `json:"leaderId"`
	PriceCents          money.Cents `json:"priceCents"`
	IsLeading           bool        `json:"isLeading"`
	MinimumNextBidCents money.Cents `json:"minimumNextBidCents"`
}

type RefundResponse struct {
	Reversed []uuid.UUID `json:"reversed"`
	Retained []uuid.UUID `json:"retained"`
}

// toLadder 將請求中的階梯轉換成 auction.Ladder，格式錯誤由 CreateRequest.Validate 檢查
func toLadder(tiers []TierBody) auction.Ladder {
	if len(tiers) == 0 {
		return nil
	}
	ladder := make(auction.Ladder, len(tiers))
	for i, tier := range tiers {
		ladder[i] = auction.Tier{UpTo: tier.UpToCents, Increment: tier.IncrementCents}
	}
	return ladder
}

func newAuctionResponse(a *models.Auction, ladders auction.Ladders) AuctionResponse {
	// 不回傳出價者的代理出價上限
	return AuctionResponse{
		ID:                  a.ID,
		ProductID:           a.ProductID,
		VendorID:            a.VendorID,
		Title:               a.Title,
		Status:              a.Status,
		StartAt:             a.StartAt,
		EndAt:               a.EndAt,
		StartingBidCents:    a.StartingBidAmount,
		BuyNowCents:         a.BuyNowAmount,
		HighBidCents:        a.HighBidAmount,
		HighBidUserID:       a.HighBidUserID,
		ReserveMet:          a.ReserveMet(),
		MinimumNextBidCents: auction.MinimumAcceptableBid(a, ladders.For(a)),
		EndReason:           a.EndReason,
	}
}

func newEndAuctionResponse(result auction.EndResult, ladders auction.Ladders) EndAuctionResponse {
	resp := EndAuctionResponse{
		Auction:      newAuctionResponse(result.Auction, ladders),
		AlreadyFinal: result.AlreadyFinal,
	}
	if result.Lock != nil {
		resp.LockID = &result.Lock.ID
	}
	return resp
}

func newRefundResponse(result settlement.ReverseResult) RefundResponse {
	resp := RefundResponse{Reversed: result.Reversed, Retained: result.Retained}
	if resp.Reversed == nil {
		resp.Reversed = []uuid.UUID{}
	}
	if resp.Retained == nil {
		resp.Retained = []uuid.UUID{}
	}
	return resp
}
