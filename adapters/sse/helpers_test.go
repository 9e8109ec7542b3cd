package sse_test

import (
	"io"
	"log"
	"sync"

	"marketplace/adapters/sse"
)

func init() {
	// 將日誌輸出重定向到io.Discard
	log.SetOutput(io.Discard)
}

// Message 表示一個 SSE 訊息，包含事件名稱和資料。
type Message struct {
	Name string `json:"name"`
	Data string `json:"data"`
}

// fakeSubscriber 以記憶體通道模擬跨節點的訊息串流
type fakeSubscriber struct {
	ch      chan sse.PublishRequest[Message]
	once    sync.Once
	started bool
}

func newFakeSubscriber() *fakeSubscriber {
	return &fakeSubscriber{ch: make(chan sse.PublishRequest[Message], 10)}
}

func (f *fakeSubscriber) Start() { f.started = true }

func (f *fakeSubscriber) Subscribe() <-chan sse.PublishRequest[Message] { return f.ch }

func (f *fakeSubscriber) Close() { f.once.Do(func() { close(f.ch) }) }

func (f *fakeSubscriber) push(channel string, msg Message) {
	f.ch <- sse.PublishRequest[Message]{Channel: channel, Message: msg}
}
