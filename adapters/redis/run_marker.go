package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

type runMarkerOptions struct {
	prefix string
	ttl    time.Duration
	owner  string
}

type RunMarkerOption func(*runMarkerOptions)

// WithRunMarkerPrefix 設置 key 前綴
func WithRunMarkerPrefix(prefix string) RunMarkerOption {
	return func(o *runMarkerOptions) {
		o.prefix = prefix
	}
}

// WithRunMarkerTTL 設置執行紀錄保留的時間，需要比排程週期長
func WithRunMarkerTTL(d time.Duration) RunMarkerOption {
	return func(o *runMarkerOptions) {
		o.ttl = d
	}
}

// WithRunMarkerOwner 設置寫入紀錄的節點名稱，方便追查是哪個節點執行的
func WithRunMarkerOwner(owner string) RunMarkerOption {
	return func(o *runMarkerOptions) {
		o.owner = owner
	}
}

// RunMarker 以 SETNX 記錄排程工作在每個週期是否已經執行過，讓多個節點共享執行紀錄
type RunMarker struct {
	client  *redis.Client
	options runMarkerOptions
}

func NewRunMarker(client *redis.Client, opts ...RunMarkerOption) *RunMarker {
	options := runMarkerOptions{
		prefix: "marketplace:job-run:",
		ttl:    48 * time.Hour,
		owner:  "marketplace",
	}
	for _, opt := range opts {
		opt(&options)
	}

	return &RunMarker{
		client:  client,
		options: options,
	}
}

// Claim 嘗試取得 (job, key) 的執行權，已經被取得過時回傳 false
func (m *RunMarker) Claim(ctx context.Context, job, key string) (bool, error) {
	const op = "redis.RunMarker.Claim"
	ok, err := m.client.SetNX(ctx, m.options.prefix+job+":"+key, m.options.owner, m.options.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("%s: failed to set run marker: %w", op, err)
	}
	return ok, nil
}
