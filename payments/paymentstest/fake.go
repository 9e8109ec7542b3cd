// Package paymentstest 提供測試用的金流服務
package paymentstest

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"marketplace/payments"
)

// Fake 為記憶體中的金流服務
type Fake struct {
	mu sync.Mutex

	// TransferErrors 指定收款帳戶撥款時回傳的錯誤
	TransferErrors map[string]error
	// TransferDelay 撥款前等待的時間，context 先結束時回傳 context 的錯誤
	TransferDelay time.Duration
	// Intents 付款意圖的狀態，不存在時回傳 ErrIntentNotFound
	Intents map[string]payments.IntentStatus
	// IntentErrors 指定付款意圖查詢時回傳的錯誤
	IntentErrors map[string]error
	RefundError  error
	// Secret 為 webhook 簽章，payload 為 WebhookEvent 的 JSON
	Secret string

	Transfers []payments.TransferRequest
	Refunds   []payments.RefundRequest
	Retrieved []string
}

func New() *Fake {
	return &Fake{
		TransferErrors: map[string]error{},
		Intents:        map[string]payments.IntentStatus{},
		IntentErrors:   map[string]error{},
		Secret:         "whsec_test",
	}
}

func (f *Fake) CreateTransfer(ctx context.Context, req payments.TransferRequest) (payments.TransferResult, error) {
	if f.TransferDelay > 0 {
		select {
		case <-ctx.Done():
			return payments.TransferResult{}, ctx.Err()
		case <-time.After(f.TransferDelay):
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.TransferErrors[req.AccountID]; err != nil {
		return payments.TransferResult{}, err
	}
	f.Transfers = append(f.Transfers, req)
	return payments.TransferResult{TransferID: fmt.Sprintf("tr_%d", len(f.Transfers))}, nil
}

func (f *Fake) RetrievePaymentIntent(_ context.Context, intentID string) (payments.IntentStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Retrieved = append(f.Retrieved, intentID)
	if err := f.IntentErrors[intentID]; err != nil {
		return "", err
	}
	status, ok := f.Intents[intentID]
	if !ok {
		return "", payments.ErrIntentNotFound
	}
	return status, nil
}

func (f *Fake) CreateRefund(_ context.Context, req payments.RefundRequest) (payments.RefundResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.RefundError != nil {
		return payments.RefundResult{}, f.RefundError
	}
	f.Refunds = append(f.Refunds, req)
	return payments.RefundResult{RefundID: fmt.Sprintf("re_%d", len(f.Refunds)), Status: "succeeded"}, nil
}

func (f *Fake) VerifyWebhook(payload []byte, signature string) (payments.WebhookEvent, error) {
	if signature != f.Secret {
		return payments.WebhookEvent{}, payments.ErrInvalidSignature
	}
	var event payments.WebhookEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return payments.WebhookEvent{}, fmt.Errorf("failed to parse webhook payload: %w", err)
	}
	return event, nil
}

// TransferCount 回傳成功的撥款次數
func (f *Fake) TransferCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Transfers)
}
