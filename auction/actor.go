package auction

import (
	"github.com/google/uuid"
)

// Actor 代表發起操作的使用者
type Actor struct {
	UserID   uuid.UUID
	VendorID *uuid.UUID
	Admin    bool
}

// Manages 判斷是否可以管理指定賣家的拍賣，管理員不受限制
func (a Actor) Manages(vendorID uuid.UUID) bool {
	if a.Admin {
		return true
	}
	return a.VendorID != nil && *a.VendorID == vendorID
}

// Owns 判斷是否為指定賣家本人
func (a Actor) Owns(vendorID uuid.UUID) bool {
	return a.VendorID != nil && *a.VendorID == vendorID
}
