// Package eventstest 提供測試用的事件記錄器
package eventstest

import (
	"context"
	"sync"

	"marketplace/events"
)

// Emitted 為一筆被記錄下來的廣播
type Emitted struct {
	Room    string
	Name    string
	Payload any
}

// Recorder 記錄所有廣播與帳務事件
type Recorder struct {
	mu      sync.Mutex
	emitted []Emitted
	ledger  []events.LedgerEvent
}

func (r *Recorder) Emit(_ context.Context, room string, name string, payload any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.emitted = append(r.emitted, Emitted{Room: room, Name: name, Payload: payload})
	return nil
}

func (r *Recorder) Record(_ context.Context, event events.LedgerEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ledger = append(r.ledger, event)
	return nil
}

// Emitted 回傳已記錄的廣播
func (r *Recorder) Emitted() []Emitted {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Emitted(nil), r.emitted...)
}

// Names 回傳已記錄廣播的事件名稱
func (r *Recorder) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, len(r.emitted))
	for i, e := range r.emitted {
		names[i] = e.Name
	}
	return names
}

// Ledger 回傳已記錄的帳務事件
func (r *Recorder) Ledger() []events.LedgerEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]events.LedgerEvent(nil), r.ledger...)
}

// Reset 清除所有紀錄
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.emitted = nil
	r.ledger = nil
}
