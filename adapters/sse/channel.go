package sse

import (
	"sync"
)

// subscription 為單一連線的訂閱，dropped 記錄因緩衝已滿而漏接的訊息數
type subscription[T any] struct {
	out     chan T
	dropped int
}

// Channel 為一個拍賣房間(或其他主題)的訂閱者集合。
// 廣播不會等待慢的訂閱者：緩衝滿時該訊息直接略過，連線端可以透過重新查詢拍賣狀態補齊。
type Channel[T any] struct {
	mu         sync.RWMutex
	subs       map[<-chan T]*subscription[T]
	bufferSize int
}

// NewChannel 建立頻道，每個訂閱者有 bufferSize 大小的緩衝
func NewChannel[T any](bufferSize int) *Channel[T] {
	if bufferSize < 0 {
		bufferSize = 0
	}
	return &Channel[T]{
		subs:       make(map[<-chan T]*subscription[T]),
		bufferSize: bufferSize,
	}
}

// Subscribe 加入一個新的訂閱者並回傳其唯讀通道
func (c *Channel[T]) Subscribe() <-chan T {
	sub := &subscription[T]{out: make(chan T, c.bufferSize)}
	c.mu.Lock()
	c.subs[sub.out] = sub
	c.mu.Unlock()
	return sub.out
}

// Unsubscribe 移除訂閱者並關閉其通道，重複呼叫不會有作用
func (c *Channel[T]) Unsubscribe(ch <-chan T) {
	c.mu.Lock()
	defer c.mu.Unlock()
	sub, ok := c.subs[ch]
	if !ok {
		return
	}
	delete(c.subs, ch)
	close(sub.out)
}

// UnsubscribeAll 關閉所有訂閱者，用於服務關閉時
func (c *Channel[T]) UnsubscribeAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, sub := range c.subs {
		close(sub.out)
		delete(c.subs, key)
	}
}

// Broadcast 送出訊息並回傳這次漏接的訂閱者數量
// 需要寫入 dropped 計數，所以使用寫鎖
func (c *Channel[T]) Broadcast(message T) (dropped int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, sub := range c.subs {
		select {
		case sub.out <- message:
		default:
			sub.dropped++
			dropped++
		}
	}
	return dropped
}

// Dropped 回傳指定訂閱者累計漏接的訊息數，未訂閱時為 0
func (c *Channel[T]) Dropped(ch <-chan T) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if sub, ok := c.subs[ch]; ok {
		return sub.dropped
	}
	return 0
}

// Len 回傳目前的訂閱者數量
func (c *Channel[T]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.subs)
}

// IsIdle 沒有任何訂閱者
func (c *Channel[T]) IsIdle() bool {
	return c.Len() == 0
}
