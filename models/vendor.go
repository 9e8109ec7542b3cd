package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Vendor 代表市集中的賣家
// PayoutAccountID 為金流服務上的收款帳戶，未設定時無法撥款
type Vendor struct {
	ID              uuid.UUID `gorm:"type:uuid;primaryKey"`
	UserID          uuid.UUID `gorm:"type:uuid;not null;uniqueIndex;<-:create"`
	Name            string    `gorm:"type:varchar(255);not null"`
	PayoutAccountID *string   `gorm:"type:varchar(255)"`
	CreatedAt       time.Time
	UpdatedAt       time.Time

	User *User `gorm:"foreignKey:UserID"`
}

func (v *Vendor) BeforeCreate(*gorm.DB) error {
	if v.ID == uuid.Nil {
		v.ID = newID()
	}
	return nil
}

// HasPayoutAccount 判斷是否已設定收款帳戶
func (v *Vendor) HasPayoutAccount() bool {
	return v.PayoutAccountID != nil && *v.PayoutAccountID != ""
}
