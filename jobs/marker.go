package jobs

import (
	"context"
	"sync"
)

// RunMarker 記錄工作已經執行過的週期
// Claim 回傳 true 代表這次取得了執行權，同一個 (job, key) 只會有一次 true
type RunMarker interface {
	Claim(ctx context.Context, job, key string) (bool, error)
}

// MemoryMarker 只在單一程序內有效的 RunMarker
type MemoryMarker struct {
	mu      sync.Mutex
	claimed map[string]string
}

func NewMemoryMarker() *MemoryMarker {
	return &MemoryMarker{claimed: make(map[string]string)}
}

func (m *MemoryMarker) Claim(_ context.Context, job, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.claimed[job] == key {
		return false, nil
	}
	m.claimed[job] = key
	return true, nil
}

// Locker 確保同一個工作不會在多個程序同時執行
// 回傳的 context 在失去鎖時會被取消，release 必須在工作結束後呼叫
type Locker interface {
	Acquire(ctx context.Context, job string) (context.Context, func(), error)
}

type localLocker struct{}

func (localLocker) Acquire(ctx context.Context, _ string) (context.Context, func(), error) {
	return ctx, func() {}, nil
}
