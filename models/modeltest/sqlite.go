// Package modeltest 提供測試用的 in-memory 資料庫
package modeltest

import (
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"marketplace/models"
	"marketplace/money"
)

// NewDB 建立一個已完成 migration 的 in-memory SQLite 資料庫
// NOTE: 只開放一條連線，讓並行的交易像在 PostgreSQL 上取得 row lock 一樣被序列化
func NewDB(t testing.TB) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })
	require.NoError(t, db.AutoMigrate(models.All()...))
	return db
}

// SeedVendor 建立一個賣家(以及其使用者帳號)
func SeedVendor(t testing.TB, db *gorm.DB, payoutAccount *string) *models.Vendor {
	t.Helper()
	user := models.User{Username: "vendor-" + uuid.NewString()[:8], Role: models.UserRoleVendor}
	require.NoError(t, db.Create(&user).Error)
	vendor := models.Vendor{UserID: user.ID, Name: user.Username, PayoutAccountID: payoutAccount}
	require.NoError(t, db.Create(&vendor).Error)
	return &vendor
}

// SeedProduct 建立一個上架中的商品
func SeedProduct(t testing.TB, db *gorm.DB, vendorID uuid.UUID) *models.Product {
	t.Helper()
	product := models.Product{VendorID: vendorID, Title: "product-" + uuid.NewString()[:8], Status: models.ProductStatusActive}
	require.NoError(t, db.Create(&product).Error)
	return &product
}

// LiveAuction 建立一個進行中的拍賣
func LiveAuction(t testing.TB, db *gorm.DB, vendorID, productID uuid.UUID, startingBid money.Cents, startAt time.Time, duration time.Duration) *models.Auction {
	t.Helper()
	endAt := startAt.Add(duration)
	auction := models.Auction{
		ProductID:         productID,
		VendorID:          vendorID,
		Title:             "auction",
		Status:            models.AuctionStatusLive,
		StartAt:           startAt,
		EndAt:             &endAt,
		StartingBidAmount: startingBid,
	}
	require.NoError(t, db.Create(&auction).Error)
	return &auction
}

// Line 描述一筆測試用訂單品項
type Line struct {
	VendorID  uuid.UUID
	ProductID uuid.UUID
	UnitPrice money.Cents
	Quantity  int
}

// SeedOrder 建立一筆訂單以及其品項
func SeedOrder(t testing.TB, db *gorm.DB, status models.OrderStatus, shipping money.Cents, createdAt time.Time, intentID *string, lines ...Line) *models.Order {
	t.Helper()
	order := models.Order{
		BuyerID:         uuid.New(),
		Status:          status,
		ShippingCents:   shipping,
		PaymentIntentID: intentID,
		CreatedAt:       createdAt,
	}
	for _, line := range lines {
		productID := line.ProductID
		if productID == uuid.Nil {
			productID = uuid.New()
		}
		total := line.UnitPrice * money.Cents(line.Quantity)
		order.SubtotalCents += total
		order.Items = append(order.Items, models.OrderItem{
			ProductID:      productID,
			VendorID:       line.VendorID,
			UnitPriceCents: line.UnitPrice,
			Quantity:       line.Quantity,
			LineTotalCents: total,
		})
	}
	order.TotalCents = order.SubtotalCents + shipping
	if status == models.OrderStatusPaid {
		paidAt := createdAt
		order.PaidAt = &paidAt
	}
	require.NoError(t, db.Create(&order).Error)
	return &order
}
