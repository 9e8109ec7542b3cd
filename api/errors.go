package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"marketplace/auction"
	"marketplace/orders"
	"marketplace/payments"
	"marketplace/settlement"
)

var (
	ErrInvalidRequest = errors.New("invalid request")
	ErrNotFound       = errors.New("not found")
)

type errorResponse struct {
	Message string `json:"message"`
}

// errorStatus 將領域錯誤對應到 HTTP 狀態碼
func errorStatus(err error) int {
	switch {
	case errors.Is(err, ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, auction.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, auction.ErrAuctionNotFound),
		errors.Is(err, orders.ErrOrderNotFound),
		errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, auction.ErrAuctionEnded):
		return http.StatusGone
	case auction.IsValidation(err),
		errors.Is(err, ErrInvalidRequest),
		errors.Is(err, payments.ErrInvalidSignature):
		return http.StatusBadRequest
	case errors.Is(err, settlement.ErrOrderNotPaid),
		errors.Is(err, settlement.ErrNoPaymentIntent),
		errors.Is(err, orders.ErrInvalidTransition):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

// abortWithError 回應錯誤，非預期的錯誤只記錄在日誌中，不回傳細節給呼叫端
func abortWithError(c *gin.Context, logger *slog.Logger, err error) {
	status := errorStatus(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		logger.Error("request failed",
			slog.String("method", c.Request.Method),
			slog.String("path", c.FullPath()),
			slog.Any("error", err))
		message = http.StatusText(status)
	}
	c.AbortWithStatusJSON(status, errorResponse{Message: message})
}
