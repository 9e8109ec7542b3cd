package events

import (
	"context"
	"time"

	"github.com/google/uuid"

	"marketplace/money"
)

// 帳務事件種類
const (
	LedgerSettlementAllocated = "settlement.allocated"
	LedgerSettlementReversed  = "settlement.reversed"
	LedgerPayoutTransferred   = "payout.transferred"
	LedgerPayoutSkipped       = "payout.skipped"
)

// LedgerEvent 代表一筆金流相關的帳務事件，提供下游(對帳、通知)使用
type LedgerEvent struct {
	Type       string      `json:"type"`
	OrderID    *uuid.UUID  `json:"orderId,omitempty"`
	VendorID   *uuid.UUID  `json:"vendorId,omitempty"`
	Gross      money.Cents `json:"grossCents,omitempty"`
	Fee        money.Cents `json:"feeCents,omitempty"`
	Amount     money.Cents `json:"amountCents,omitempty"`
	TransferID string      `json:"transferId,omitempty"`
	Reason     string      `json:"reason,omitempty"`
	RowIDs     []uuid.UUID `json:"rowIds,omitempty"`
	OccurredAt time.Time   `json:"occurredAt"`
}

// Key 回傳事件的分區鍵，同一個賣家(或訂單)的事件會落在同一個分區
func (e LedgerEvent) Key() string {
	if e.VendorID != nil {
		return e.VendorID.String()
	}
	if e.OrderID != nil {
		return e.OrderID.String()
	}
	return e.Type
}

// Ledger 記錄帳務事件
type Ledger interface {
	Record(ctx context.Context, event LedgerEvent) error
}

// LedgerFunc 讓一般函式可以作為 Ledger 使用
type LedgerFunc func(ctx context.Context, event LedgerEvent) error

func (f LedgerFunc) Record(ctx context.Context, event LedgerEvent) error {
	return f(ctx, event)
}

// NopLedger 不做任何事的 Ledger
var NopLedger Ledger = LedgerFunc(func(context.Context, LedgerEvent) error { return nil })
