package sse

// PublishRequest 表示一個發布請求，包含頻道名稱和訊息。
type PublishRequest[T any] struct {
	Channel string `json:"channel" msgpack:"channel"`
	Message T      `json:"message" msgpack:"message"`
}

// Subscriber 提供從跨節點訊息串流收到的發布請求，redis.Consumer 實作此介面
type Subscriber[T any] interface {
	Start()
	Subscribe() <-chan PublishRequest[T]
	Close()
}

// ConnectionManager 定義了 SSE 連線管理員的介面，
// 負責把串流上的發布請求轉送給訂閱對應頻道的連線。
type ConnectionManager[T any] interface {
	// Start 啟動 ConnectionManager，開始處理訊息的接收與廣播。
	// 應在呼叫其他方法前先呼叫此方法。
	Start()
	// Done 停止 ConnectionManager，釋放所有資源。
	Done()
	// Subscribe 註冊並訂閱指定頻道，返回一個新的唯讀通道。
	Subscribe(channelName string) (<-chan T, error)
	// Unsubscribe 取消訂閱指定頻道。
	Unsubscribe(channelName string, ch <-chan T)
}
