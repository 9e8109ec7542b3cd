// Package stripe 以 Stripe API 實作 payments.Processor
package stripe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	stripeapi "github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/client"
	"github.com/stripe/stripe-go/v79/webhook"

	"marketplace/payments"
)

type processorOptions struct {
	logger     *slog.Logger
	currency   string
	backendURL string
}

type ProcessorOption func(*processorOptions)

// WithProcessorLogger 設置日誌記錄器，SDK 的日誌也會透過它輸出
func WithProcessorLogger(logger *slog.Logger) ProcessorOption {
	return func(o *processorOptions) {
		o.logger = logger
	}
}

// WithProcessorCurrency 設置撥款使用的幣別
func WithProcessorCurrency(currency string) ProcessorOption {
	return func(o *processorOptions) {
		o.currency = currency
	}
}

// WithProcessorBackendURL 覆寫 API 位址，用於測試或代理
func WithProcessorBackendURL(url string) ProcessorOption {
	return func(o *processorOptions) {
		o.backendURL = url
	}
}

// Processor 透過 Stripe Connect 撥款給賣家、查詢付款狀態、退款以及驗證 webhook
type Processor struct {
	api           *client.API
	webhookSecret string
	currency      string
	logger        *slog.Logger
}

func NewProcessor(apiKey, webhookSecret string, opts ...ProcessorOption) (*Processor, error) {
	if apiKey == "" {
		return nil, errors.New("stripe api key cannot be empty")
	}
	if webhookSecret == "" {
		return nil, errors.New("stripe webhook secret cannot be empty")
	}

	options := processorOptions{
		logger:   slog.Default(),
		currency: string(stripeapi.CurrencyUSD),
	}
	for _, opt := range opts {
		opt(&options)
	}
	logger := options.logger.With(slog.String("caller", "StripeProcessor"))

	config := &stripeapi.BackendConfig{
		LeveledLogger: leveledLogger{logger: logger},
	}
	if options.backendURL != "" {
		config.URL = stripeapi.String(options.backendURL)
	}
	backends := &stripeapi.Backends{
		API:     stripeapi.GetBackendWithConfig(stripeapi.APIBackend, config),
		Connect: stripeapi.GetBackendWithConfig(stripeapi.ConnectBackend, config),
		Uploads: stripeapi.GetBackendWithConfig(stripeapi.UploadsBackend, config),
	}

	return &Processor{
		api:           client.New(apiKey, backends),
		webhookSecret: webhookSecret,
		currency:      options.currency,
		logger:        logger,
	}, nil
}

func (p *Processor) CreateTransfer(ctx context.Context, req payments.TransferRequest) (payments.TransferResult, error) {
	params := &stripeapi.TransferParams{
		Amount:      stripeapi.Int64(req.Amount.Int64()),
		Currency:    stripeapi.String(p.currency),
		Destination: stripeapi.String(req.AccountID),
	}
	if req.Description != "" {
		params.Description = stripeapi.String(req.Description)
	}
	params.Context = ctx
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}

	transfer, err := p.api.Transfers.New(params)
	if err != nil {
		return payments.TransferResult{}, fmt.Errorf("failed to create transfer to %s: %w", req.AccountID, err)
	}
	return payments.TransferResult{TransferID: transfer.ID}, nil
}

func (p *Processor) RetrievePaymentIntent(ctx context.Context, intentID string) (payments.IntentStatus, error) {
	params := &stripeapi.PaymentIntentParams{}
	params.Context = ctx

	intent, err := p.api.PaymentIntents.Get(intentID, params)
	if err != nil {
		var apiErr *stripeapi.Error
		if errors.As(err, &apiErr) && apiErr.HTTPStatusCode == http.StatusNotFound {
			return "", fmt.Errorf("%w: %s", payments.ErrIntentNotFound, intentID)
		}
		return "", fmt.Errorf("failed to retrieve payment intent %s: %w", intentID, err)
	}
	return payments.IntentStatus(intent.Status), nil
}

func (p *Processor) CreateRefund(ctx context.Context, req payments.RefundRequest) (payments.RefundResult, error) {
	params := &stripeapi.RefundParams{
		PaymentIntent: stripeapi.String(req.PaymentIntentID),
	}
	if req.Amount.IsPositive() {
		params.Amount = stripeapi.Int64(req.Amount.Int64())
	}
	if req.Reason != "" {
		params.Reason = stripeapi.String(req.Reason)
	}
	params.Context = ctx
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}

	refund, err := p.api.Refunds.New(params)
	if err != nil {
		return payments.RefundResult{}, fmt.Errorf("failed to refund payment intent %s: %w", req.PaymentIntentID, err)
	}
	return payments.RefundResult{RefundID: refund.ID, Status: string(refund.Status)}, nil
}

// VerifyWebhook 驗證簽章並取出事件相關的付款意圖
// 不同 API 版本的事件也接受，只讀取 id 欄位
func (p *Processor) VerifyWebhook(payload []byte, signature string) (payments.WebhookEvent, error) {
	event, err := webhook.ConstructEventWithOptions(payload, signature, p.webhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		for _, sigErr := range []error{webhook.ErrNotSigned, webhook.ErrInvalidHeader, webhook.ErrNoValidSignature, webhook.ErrTooOld} {
			if errors.Is(err, sigErr) {
				return payments.WebhookEvent{}, fmt.Errorf("%w: %v", payments.ErrInvalidSignature, err)
			}
		}
		return payments.WebhookEvent{}, fmt.Errorf("failed to parse webhook event: %w", err)
	}

	result := payments.WebhookEvent{ID: event.ID, Type: string(event.Type)}
	if event.Data == nil {
		return result, nil
	}
	switch event.Type {
	case payments.EventPaymentSucceeded, payments.EventPaymentFailed, payments.EventPaymentCanceled:
		var intent stripeapi.PaymentIntent
		if err := json.Unmarshal(event.Data.Raw, &intent); err != nil {
			return payments.WebhookEvent{}, fmt.Errorf("failed to decode payment intent of event %s: %w", event.ID, err)
		}
		result.PaymentIntentID = intent.ID
	case payments.EventChargeRefunded:
		var charge stripeapi.Charge
		if err := json.Unmarshal(event.Data.Raw, &charge); err != nil {
			return payments.WebhookEvent{}, fmt.Errorf("failed to decode charge of event %s: %w", event.ID, err)
		}
		if charge.PaymentIntent != nil {
			result.PaymentIntentID = charge.PaymentIntent.ID
		}
	}
	return result, nil
}

// leveledLogger 把 SDK 的日誌轉到 slog
type leveledLogger struct {
	logger *slog.Logger
}

func (l leveledLogger) Debugf(format string, v ...any) { l.logger.Debug(fmt.Sprintf(format, v...)) }
func (l leveledLogger) Infof(format string, v ...any)  { l.logger.Debug(fmt.Sprintf(format, v...)) }
func (l leveledLogger) Warnf(format string, v ...any)  { l.logger.Warn(fmt.Sprintf(format, v...)) }
func (l leveledLogger) Errorf(format string, v ...any) { l.logger.Error(fmt.Sprintf(format, v...)) }
