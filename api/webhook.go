package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"marketplace/orders"
	"marketplace/payments"
	"marketplace/settlement"
)

const (
	signatureHeader = "Stripe-Signature"
	// maxWebhookSize 金流服務的事件內容上限
	maxWebhookSize = 64 << 10
)

// Receive payment webhook
// (POST /webhooks/payments)
func (s *Server) PostPaymentWebhook(c *gin.Context) {
	payload, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookSize))
	if err != nil {
		abortWithError(c, s.logger, fmt.Errorf("%w: %s", ErrInvalidRequest, err.Error()))
		return
	}
	event, err := s.processor.VerifyWebhook(payload, c.GetHeader(signatureHeader))
	if err != nil {
		if !errors.Is(err, payments.ErrInvalidSignature) {
			err = fmt.Errorf("%w: %s", ErrInvalidRequest, err.Error())
		}
		abortWithError(c, s.logger, err)
		return
	}

	logger := s.logger.With(
		slog.String("eventID", event.ID),
		slog.String("type", event.Type),
		slog.String("paymentIntentID", event.PaymentIntentID))
	if err := s.handlePaymentEvent(c.Request.Context(), logger, event); err != nil {
		abortWithError(c, s.logger, err)
		return
	}
	c.Status(http.StatusOK)
}

// handlePaymentEvent 依事件種類更新訂單
// 找不到訂單或狀態不允許時只記錄，回應成功避免金流服務無限重送
func (s *Server) handlePaymentEvent(ctx context.Context, logger *slog.Logger, event payments.WebhookEvent) error {
	const op = "handlePaymentEvent"

	switch event.Type {
	case payments.EventPaymentSucceeded,
		payments.EventPaymentFailed,
		payments.EventPaymentCanceled,
		payments.EventChargeRefunded:
	default:
		logger.Debug("ignore webhook event")
		return nil
	}
	if event.PaymentIntentID == "" {
		logger.Warn("webhook event has no payment intent")
		return nil
	}

	order, err := s.orders.FindByPaymentIntent(ctx, event.PaymentIntentID)
	if errors.Is(err, orders.ErrOrderNotFound) {
		logger.Warn("no order for payment intent")
		return nil
	}
	if err != nil {
		return fmt.Errorf("[%s] Fail to find order, err=%w", op, err)
	}
	logger = logger.With(slog.String("orderID", order.ID.String()))

	switch event.Type {
	case payments.EventPaymentSucceeded:
		result, err := s.orders.ConfirmPaid(ctx, order.ID)
		if err != nil {
			return s.ignoreStale(logger, op, err)
		}
		logger.Info("order paid", slog.Bool("alreadyPaid", result.AlreadyPaid), slog.Int("vendors", len(result.Settlement)))
	case payments.EventPaymentFailed, payments.EventPaymentCanceled:
		changed, err := s.orders.MarkFailed(ctx, order.ID)
		if err != nil {
			return s.ignoreStale(logger, op, err)
		}
		logger.Info("order payment failed", slog.Bool("changed", changed))
	case payments.EventChargeRefunded:
		result, err := s.refunder.Reverse(ctx, order.ID)
		if err != nil {
			return s.ignoreStale(logger, op, err)
		}
		logger.Info("order refunded by payment provider",
			slog.Int("reversed", len(result.Reversed)),
			slog.Int("retained", len(result.Retained)))
	}
	return nil
}

// ignoreStale 過期或重複的事件不視為錯誤
func (s *Server) ignoreStale(logger *slog.Logger, op string, err error) error {
	if errors.Is(err, orders.ErrOrderNotFound) ||
		errors.Is(err, orders.ErrInvalidTransition) ||
		errors.Is(err, settlement.ErrOrderNotPaid) {
		logger.Warn("ignore webhook event", slog.Any("error", err))
		return nil
	}
	return fmt.Errorf("[%s] Fail to handle webhook event, err=%w", op, err)
}
