package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"marketplace/auction"
	"marketplace/events"
)

// keepAliveInterval 沒有事件時定期送出註解行，避免代理伺服器斷開閒置連線
var keepAliveInterval = 30 * time.Second

// Track auction events
// (GET /auctions/{auctionID}/events)
func (s *Server) GetAuctionEvents(c *gin.Context) {
	const op = "GetAuctionEvents"
	auctionID, err := pathUUID(c, "auctionID")
	if err != nil {
		abortWithError(c, s.logger, err)
		return
	}
	a, err := s.store.Get(c.Request.Context(), auctionID)
	if err != nil {
		abortWithError(c, s.logger, err)
		return
	}
	if a.Status.IsFinal() {
		abortWithError(c, s.logger, auction.ErrAuctionEnded)
		return
	}

	room := events.AuctionRoom(auctionID)
	ch, err := s.sseManager.Subscribe(room)
	if err != nil {
		abortWithError(c, s.logger, fmt.Errorf("[%s] Fail to subscribe to auction events, err=%w", op, err))
		return
	}
	defer s.sseManager.Unsubscribe(room, ch)

	// 連線合法，開始串流
	w := c.Writer
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	w.Flush()

	ticker := time.NewTicker(keepAliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.Request.Context().Done():
			return
		case msg, ok := <-ch:
			if !ok {
				// 管理器關閉
				return
			}
			c.SSEvent(msg.Name, json.RawMessage(msg.Data))
			w.Flush()
			if msg.Name == events.NameAuctionEnded {
				s.logger.Debug("auction ended, close event stream", slog.String("auctionID", auctionID.String()))
				return
			}
		case <-ticker.C:
			w.WriteString(": keepalive\n\n")
			w.Flush()
		}
	}
}
