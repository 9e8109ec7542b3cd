package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type ProductStatus string

const (
	ProductStatusActive   ProductStatus = "active"
	ProductStatusArchived ProductStatus = "archived"
)

// Product 代表賣家上架的商品，售出後會被封存
type Product struct {
	ID         uuid.UUID     `gorm:"type:uuid;primaryKey"`
	VendorID   uuid.UUID     `gorm:"type:uuid;not null;index;<-:create"`
	Title      string        `gorm:"type:varchar(255);not null"`
	Status     ProductStatus `gorm:"type:varchar(16);not null;default:'active'"`
	ArchivedAt *time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (p *Product) BeforeCreate(*gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = newID()
	}
	return nil
}
