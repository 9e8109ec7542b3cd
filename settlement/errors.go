package settlement

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	ErrOrderNotFound = errors.New("order not found")
	ErrOrderNotPaid  = errors.New("order is not paid")
	// 以下為不變量被破壞，代表程式錯誤或設定錯誤而不是輸入錯誤
	ErrNegativeNet        = errors.New("vendor net amount would be negative")
	ErrUnbalancedShipping = errors.New("shipping allocation does not add up")
	ErrUnknownFeeRule     = errors.New("unknown fee rule")
)

// VendorError 為單一賣家結算時違反不變量的錯誤
type VendorError struct {
	VendorID uuid.UUID
	Err      error
}

func (e *VendorError) Error() string {
	return fmt.Sprintf("vendor %s: %v", e.VendorID, e.Err)
}

func (e *VendorError) Unwrap() error {
	return e.Err
}

// IsInvariant 判斷錯誤是否為結算不變量被破壞，重試不會改變結果
func IsInvariant(err error) bool {
	return errors.Is(err, ErrNegativeNet) ||
		errors.Is(err, ErrUnbalancedShipping) ||
		errors.Is(err, ErrUnknownFeeRule)
}
