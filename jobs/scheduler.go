// Package jobs 提供排程器以及撥款、對帳、拍賣到期等背景工作
package jobs

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"code.cloudfoundry.org/clock"
)

// Job 為排程執行的工作
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

// JobFunc 讓一般函式可以作為 Job 使用
type JobFunc struct {
	JobName string
	Fn      func(ctx context.Context) error
}

func (j JobFunc) Name() string                  { return j.JobName }
func (j JobFunc) Run(ctx context.Context) error { return j.Fn(ctx) }

type schedulerOptions struct {
	logger       *slog.Logger
	clock        clock.Clock
	marker       RunMarker
	locker       Locker
	tickInterval time.Duration
}

type SchedulerOption func(*schedulerOptions)

// WithSchedulerLogger 設置日誌記錄器
func WithSchedulerLogger(logger *slog.Logger) SchedulerOption {
	return func(o *schedulerOptions) {
		o.logger = logger
	}
}

// WithSchedulerClock 設置時鐘
func WithSchedulerClock(c clock.Clock) SchedulerOption {
	return func(o *schedulerOptions) {
		o.clock = c
	}
}

// WithRunMarker 設置執行紀錄，多個程序共用時需要使用共享的實作
func WithRunMarker(marker RunMarker) SchedulerOption {
	return func(o *schedulerOptions) {
		o.marker = marker
	}
}

// WithLocker 設置跨程序的工作鎖
func WithLocker(locker Locker) SchedulerOption {
	return func(o *schedulerOptions) {
		o.locker = locker
	}
}

// WithTickInterval 設置檢查觸發條件的間隔
func WithTickInterval(d time.Duration) SchedulerOption {
	return func(o *schedulerOptions) {
		o.tickInterval = d
	}
}

type entry struct {
	job     Job
	trigger Trigger
	lastKey string
}

// Scheduler 定期檢查每個工作的觸發條件，並確保同一個週期只執行一次
type Scheduler struct {
	clock        clock.Clock
	marker       RunMarker
	locker       Locker
	tickInterval time.Duration
	logger       *slog.Logger

	mu         sync.Mutex
	entries    []*entry
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
	closed     bool
}

func NewScheduler(opts ...SchedulerOption) *Scheduler {
	options := schedulerOptions{
		logger:       slog.Default(),
		clock:        clock.NewClock(),
		locker:       localLocker{},
		tickInterval: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(&options)
	}
	if options.marker == nil {
		options.marker = NewMemoryMarker()
	}
	return &Scheduler{
		clock:        options.clock,
		marker:       options.marker,
		locker:       options.locker,
		tickInterval: options.tickInterval,
		logger:       options.logger.With(slog.String("caller", "Scheduler")),
		closed:       true,
	}
}

// Add 加入工作，必須在 Start 之前呼叫
func (s *Scheduler) Add(job Job, trigger Trigger) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, &entry{job: job, trigger: trigger})
}

// Start 為每個工作啟動一個迴圈
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		return
	}
	s.closed = false

	ctx, cancel := context.WithCancel(context.Background())
	s.cancelFunc = cancel
	for _, e := range s.entries {
		s.wg.Add(1)
		go s.loop(ctx, e)
	}
	s.logger.Info("scheduler started", slog.Int("jobs", len(s.entries)))
}

// Stop 停止排程並等待執行中的工作結束
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.cancelFunc()
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Info("scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context, e *entry) {
	defer s.wg.Done()
	ticker := s.clock.NewTicker(s.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C():
			s.tick(ctx, e, now)
		}
	}
}

// tick 在觸發條件成立且這個週期還沒執行過時執行工作
func (s *Scheduler) tick(ctx context.Context, e *entry, now time.Time) {
	name := e.job.Name()
	logger := s.logger.With(slog.String("job", name))

	key, ok := e.trigger.Due(now)
	if !ok || key == e.lastKey {
		return
	}

	runCtx, release, err := s.locker.Acquire(ctx, name)
	if err != nil {
		logger.Info("skip run, lock held elsewhere", slog.String("error", err.Error()))
		return
	}
	defer release()

	claimed, err := s.marker.Claim(runCtx, name, key)
	if err != nil {
		logger.Error("failed to claim run", slog.String("key", key), slog.String("error", err.Error()))
		return
	}
	e.lastKey = key
	if !claimed {
		logger.Debug("run already claimed", slog.String("key", key))
		return
	}

	started := s.clock.Now()
	if err := e.job.Run(runCtx); err != nil {
		logger.Error("job failed",
			slog.String("key", key),
			slog.Duration("elapsed", s.clock.Since(started)),
			slog.String("error", err.Error()),
		)
		return
	}
	logger.Info("job finished", slog.String("key", key), slog.Duration("elapsed", s.clock.Since(started)))
}
