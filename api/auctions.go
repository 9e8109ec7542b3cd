package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"marketplace/auction"
)

// pathUUID 讀取路徑上的 uuid 參數
func pathUUID(c *gin.Context, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: %s is not a valid id", ErrInvalidRequest, name)
	}
	return id, nil
}

// bindJSON 解析請求內容，格式錯誤一律視為 ErrInvalidRequest
func bindJSON(c *gin.Context, body any) error {
	if err := c.ShouldBindJSON(body); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidRequest, err.Error())
	}
	return nil
}

// Get auction
// (GET /auctions/{auctionID})
func (s *Server) GetAuction(c *gin.Context) {
	auctionID, err := pathUUID(c, "auctionID")
	if err != nil {
		abortWithError(c, s.logger, err)
		return
	}
	a, err := s.store.Get(c.Request.Context(), auctionID)
	if err != nil {
		abortWithError(c, s.logger, err)
		return
	}
	c.JSON(http.StatusOK, newAuctionResponse(a, s.ladders))
}

// Create auction
// (POST /auctions)
func (s *Server) PostAuction(c *gin.Context) {
	var body CreateAuctionBody
	if err := bindJSON(c, &body); err != nil {
		abortWithError(c, s.logger, err)
		return
	}
	actor := actorFrom(c)

	// 賣家只能替自己建立拍賣，管理員必須指定賣家
	vendorID := body.VendorID
	if vendorID == nil {
		vendorID = actor.VendorID
	}
	if vendorID == nil {
		abortWithError(c, s.logger, fmt.Errorf("%w: vendorId is required", ErrInvalidRequest))
		return
	}

	ladder := toLadder(body.Ladder)
	if ladder != nil {
		if err := ladder.Validate(); err != nil {
			abortWithError(c, s.logger, fmt.Errorf("%w: %s", auction.ErrInvalidAuction, err.Error()))
			return
		}
	}

	a, err := s.lifecycle.Create(c.Request.Context(), actor, auction.CreateRequest{
		VendorID:    *vendorID,
		ProductID:   body.ProductID,
		Title:       s.htmlPolicy.Sanitize(body.Title),
		StartingBid: body.StartingBidCents,
		Reserve:     body.ReserveCents,
		BuyNow:      body.BuyNowCents,
		Ladder:      ladder,
		Duration:    time.Duration(body.DurationSeconds) * time.Second,
	})
	if err != nil {
		abortWithError(c, s.logger, err)
		return
	}
	c.Header("Location", "/auctions/"+a.ID.String())
	c.JSON(http.StatusCreated, newAuctionResponse(a, s.ladders))
}

// Place bid
// (POST /auctions/{auctionID}/bids)
func (s *Server) PostAuctionBid(c *gin.Context) {
	auctionID, err := pathUUID(c, "auctionID")
	if err != nil {
		abortWithError(c, s.logger, err)
		return
	}
	var body PlaceBidBody
	if err := bindJSON(c, &body); err != nil {
		abortWithError(c, s.logger, err)
		return
	}
	actor := actorFrom(c)

	result, err := s.coordinator.PlaceBid(c.Request.Context(), auction.PlaceBidRequest{
		AuctionID: auctionID,
		UserID:    actor.UserID,
		Amount:    body.AmountCents,
		MaxProxy:  body.MaxProxyCents,
	})
	if err != nil {
		var belowMinimum *auction.BelowMinimumError
		if errors.As(err, &belowMinimum) {
			c.AbortWithStatusJSON(http.StatusBadRequest, struct {
				errorResponse
				MinimumBidCents int64 `json:"minimumBidCents"`
			}{errorResponse{Message: err.Error()}, belowMinimum.Minimum.Int64()})
			return
		}
		abortWithError(c, s.logger, err)
		return
	}
	s.logger.Debug("bid accepted",
		slog.String("auctionID", auctionID.String()),
		slog.String("userID", actor.UserID.String()),
		slog.Bool("leading", result.IsLeading))
	c.JSON(http.StatusOK, PlaceBidResponse{
		BidID:               result.BidID,
		LeaderID:            result.LeaderID,
		PriceCents:          result.Price,
		IsLeading:           result.IsLeading,
		MinimumNextBidCents: result.MinimumNextBid,
	})
}

// Close auction early
// (POST /auctions/{auctionID}/close)
func (s *Server) PostAuctionClose(c *gin.Context) {
	s.endAuction(c, s.lifecycle.Close)
}

// Cancel auction
// (POST /auctions/{auctionID}/cancel)
func (s *Server) PostAuctionCancel(c *gin.Context) {
	s.endAuction(c, s.lifecycle.Cancel)
}

// Buy now
// (POST /auctions/{auctionID}/buy-now)
func (s *Server) PostAuctionBuyNow(c *gin.Context) {
	s.endAuction(c, s.lifecycle.BuyNow)
}

type endFunc func(ctx context.Context, actor auction.Actor, auctionID uuid.UUID) (auction.EndResult, error)

func (s *Server) endAuction(c *gin.Context, end endFunc) {
	auctionID, err := pathUUID(c, "auctionID")
	if err != nil {
		abortWithError(c, s.logger, err)
		return
	}
	result, err := end(c.Request.Context(), actorFrom(c), auctionID)
	if err != nil {
		abortWithError(c, s.logger, err)
		return
	}
	c.JSON(http.StatusOK, newEndAuctionResponse(result, s.ladders))
}
