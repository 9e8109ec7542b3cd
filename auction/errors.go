package auction

import (
	"errors"
	"fmt"

	"marketplace/money"
)

var (
	// 驗證錯誤，呼叫端可以修正後重試
	ErrAuctionNotFound   = errors.New("auction not found")
	ErrAuctionNotLive    = errors.New("auction not live")
	ErrAuctionEnded      = errors.New("auction has ended")
	ErrBidBelowMinimum   = errors.New("bid below minimum")
	ErrInvalidBid        = errors.New("invalid bid")
	ErrInvalidAuction    = errors.New("invalid auction")
	ErrBuyNowUnavailable = errors.New("buy now unavailable")

	// 權限錯誤
	ErrForbidden = errors.New("not the auction owner or an admin")
)

// BelowMinimumError 出價低於最低可接受金額，並帶有目前的最低金額
type BelowMinimumError struct {
	Minimum money.Cents
}

func (e *BelowMinimumError) Error() string {
	return fmt.Sprintf("bid below minimum: minimum bid amount is %s", e.Minimum)
}

func (e *BelowMinimumError) Is(target error) bool {
	return target == ErrBidBelowMinimum
}

// IsValidation 判斷錯誤是否為呼叫端可修正的驗證錯誤
func IsValidation(err error) bool {
	for _, target := range []error{
		ErrAuctionNotFound,
		ErrAuctionNotLive,
		ErrAuctionEnded,
		ErrBidBelowMinimum,
		ErrInvalidBid,
		ErrInvalidAuction,
		ErrBuyNowUnavailable,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
