package redis

import (
	"context"
)

// IProducer 將訊息寫入 redis stream，events.StreamBroadcaster 透過它把拍賣事件送到所有 API 節點
type IProducer[T any] interface {
	Start()
	Publish(data T) error
	Close()
}

// IConsumer 從 redis stream 讀取訊息，sse.ConnectionManager 以它作為訊息來源
type IConsumer[T any] interface {
	Start()
	Subscribe() <-chan T
	Close()
}

// IAutoRenewMutex 為排程工作使用的分散式鎖
// Lock 與 TryLock 回傳的 context 在鎖遺失或釋放時會被取消
type IAutoRenewMutex interface {
	Lock(ctx context.Context) (context.Context, error)
	TryLock(ctx context.Context) (context.Context, error)
	Unlock() (bool, error)
	Valid() bool
}

var (
	_ IProducer[any]  = (*Producer[any])(nil)
	_ IConsumer[any]  = (*Consumer[any])(nil)
	_ IAutoRenewMutex = (*AutoRenewMutex)(nil)
)
