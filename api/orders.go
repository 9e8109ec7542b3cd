package api

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
)

// Refund paid order
// (POST /orders/{orderID}/refund)
func (s *Server) PostOrderRefund(c *gin.Context) {
	orderID, err := pathUUID(c, "orderID")
	if err != nil {
		abortWithError(c, s.logger, err)
		return
	}
	result, err := s.refunder.Refund(c.Request.Context(), orderID)
	if err != nil {
		abortWithError(c, s.logger, err)
		return
	}
	s.logger.Info("order refunded",
		slog.String("orderID", orderID.String()),
		slog.Int("reversed", len(result.Reversed)),
		slog.Int("retained", len(result.Retained)))
	c.JSON(http.StatusOK, newRefundResponse(result))
}
