package redis

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

type jobLockerOptions struct {
	logger *slog.Logger
	prefix string
	expiry time.Duration
}

type JobLockerOption func(*jobLockerOptions)

// WithJobLockerLogger 設置日誌記錄器
func WithJobLockerLogger(logger *slog.Logger) JobLockerOption {
	return func(o *jobLockerOptions) {
		o.logger = logger
	}
}

// WithJobLockerPrefix 設置鎖的 key 前綴
func WithJobLockerPrefix(prefix string) JobLockerOption {
	return func(o *jobLockerOptions) {
		o.prefix = prefix
	}
}

// WithJobLockerExpiry 設置鎖的過期時間，持有期間會自動續期
func WithJobLockerExpiry(d time.Duration) JobLockerOption {
	return func(o *jobLockerOptions) {
		o.expiry = d
	}
}

// JobLocker 以 redis 分散式鎖確保同一個排程工作不會在多個節點同時執行
type JobLocker struct {
	client  *redis.Client
	logger  *slog.Logger
	options jobLockerOptions
}

func NewJobLocker(client *redis.Client, opts ...JobLockerOption) *JobLocker {
	options := jobLockerOptions{
		logger: slog.Default(),
		prefix: "marketplace:job-lock:",
		expiry: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(&options)
	}

	return &JobLocker{
		client:  client,
		logger:  options.logger.With(slog.String("caller", "JobLocker")),
		options: options,
	}
}

// Acquire 只嘗試一次取得工作的鎖，其他節點正在執行時回傳包含 ErrLockHeld 的錯誤
// 回傳的 context 會在失去鎖或釋放時取消
func (l *JobLocker) Acquire(ctx context.Context, job string) (context.Context, func(), error) {
	mutex := NewAutoRenewMutex(l.client, l.options.prefix+job,
		WithAutoRenewMutexExpiry(l.options.expiry),
		WithAutoRenewMutexLogger(l.logger))
	lockCtx, err := mutex.TryLock(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to lock job %s: %w", job, err)
	}

	release := func() {
		if _, err := mutex.Unlock(); err != nil {
			l.logger.Warn("failed to release job lock", slog.String("job", job), slog.Any("error", err))
		}
	}
	return lockCtx, release, nil
}
