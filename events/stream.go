package events

import (
	"context"
	"encoding/json"
	"fmt"

	"marketplace/adapters/sse"
)

// Message 為透過 redis stream 轉送到 SSE 客戶端的訊息
type Message struct {
	Name string `msgpack:"name" json:"name"`
	Data []byte `msgpack:"data" json:"data"`
}

// Publisher 將發布請求送往跨節點的訊息串流(redis.Producer 實作此介面)
type Publisher interface {
	Publish(data sse.PublishRequest[Message]) error
}

// StreamBroadcaster 透過訊息串流廣播事件，每個 API 節點再從串流轉發給自己的 SSE 連線
type StreamBroadcaster struct {
	publisher Publisher
}

func NewStreamBroadcaster(publisher Publisher) *StreamBroadcaster {
	return &StreamBroadcaster{publisher: publisher}
}

func (b *StreamBroadcaster) Emit(_ context.Context, room string, name string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal %s payload: %w", name, err)
	}
	return b.publisher.Publish(sse.PublishRequest[Message]{
		Channel: room,
		Message: Message{Name: name, Data: data},
	})
}
