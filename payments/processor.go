// Package payments 定義結算與撥款需要的金流服務介面
package payments

import (
	"context"
	"errors"

	"marketplace/money"
)

// IntentStatus 為付款意圖的狀態
type IntentStatus string

const (
	IntentStatusSucceeded             IntentStatus = "succeeded"
	IntentStatusCanceled              IntentStatus = "canceled"
	IntentStatusProcessing            IntentStatus = "processing"
	IntentStatusRequiresPaymentMethod IntentStatus = "requires_payment_method"
	IntentStatusRequiresConfirmation  IntentStatus = "requires_confirmation"
	IntentStatusRequiresAction        IntentStatus = "requires_action"
	IntentStatusRequiresCapture       IntentStatus = "requires_capture"
)

// 處理的 webhook 事件種類
const (
	EventPaymentSucceeded = "payment_intent.succeeded"
	EventPaymentFailed    = "payment_intent.payment_failed"
	EventPaymentCanceled  = "payment_intent.canceled"
	EventChargeRefunded   = "charge.refunded"
)

var (
	ErrInvalidSignature = errors.New("invalid webhook signature")
	ErrIntentNotFound   = errors.New("payment intent not found")
)

// TransferRequest 撥款給賣家收款帳戶的請求
type TransferRequest struct {
	AccountID   string
	Amount      money.Cents
	Description string
	Metadata    map[string]string
	// IdempotencyKey 相同的 key 重送時金流服務只會撥款一次
	IdempotencyKey string
}

type TransferResult struct {
	TransferID string
}

// RefundRequest 退款請求，Amount 為 0 時全額退款
type RefundRequest struct {
	PaymentIntentID string
	Amount          money.Cents
	Reason          string
	IdempotencyKey  string
}

type RefundResult struct {
	RefundID string
	Status   string
}

// WebhookEvent 為驗證過簽章的 webhook 事件
type WebhookEvent struct {
	ID              string
	Type            string
	PaymentIntentID string
}

// Processor 金流服務
type Processor interface {
	CreateTransfer(ctx context.Context, req TransferRequest) (TransferResult, error)
	RetrievePaymentIntent(ctx context.Context, intentID string) (IntentStatus, error)
	CreateRefund(ctx context.Context, req RefundRequest) (RefundResult, error)
	VerifyWebhook(payload []byte, signature string) (WebhookEvent, error)
}
