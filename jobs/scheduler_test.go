package jobs

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"code.cloudfoundry.org/clock/fakeclock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

var windowStart = time.Date(2026, 6, 1, 2, 0, 0, 0, time.UTC)

type countingJob struct {
	runs atomic.Int32
	err  error
}

func (j *countingJob) Name() string { return "counting" }

func (j *countingJob) Run(context.Context) error {
	j.runs.Add(1)
	return j.err
}

type failingLocker struct{}

func (failingLocker) Acquire(context.Context, string) (context.Context, func(), error) {
	return nil, nil, errors.New("lock held")
}

func TestScheduler_Tick_OncePerWindow(t *testing.T) {
	job := &countingJob{}
	s := NewScheduler()
	e := &entry{job: job, trigger: DailyWindow{Hour: 2, StartMinute: 0, EndMinute: 10}}
	ctx := context.Background()

	s.tick(ctx, e, windowStart.Add(-time.Minute))
	assert.Equal(t, int32(0), job.runs.Load())

	s.tick(ctx, e, windowStart)
	s.tick(ctx, e, windowStart.Add(5*time.Minute))
	s.tick(ctx, e, windowStart.Add(10*time.Minute))
	assert.Equal(t, int32(1), job.runs.Load())

	s.tick(ctx, e, windowStart.Add(24*time.Hour))
	assert.Equal(t, int32(2), job.runs.Load())
}

func TestScheduler_Tick_SharedMarker(t *testing.T) {
	job := &countingJob{}
	marker := NewMemoryMarker()
	trigger := DailyWindow{Hour: 2, StartMinute: 0, EndMinute: 10}
	first := NewScheduler(WithRunMarker(marker))
	second := NewScheduler(WithRunMarker(marker))

	// 兩個程序共用同一個執行紀錄時只有一個會執行
	first.tick(context.Background(), &entry{job: job, trigger: trigger}, windowStart)
	second.tick(context.Background(), &entry{job: job, trigger: trigger}, windowStart.Add(time.Minute))
	assert.Equal(t, int32(1), job.runs.Load())
}

func TestScheduler_Tick_FailedRunNotRepeated(t *testing.T) {
	job := &countingJob{err: errors.New("boom")}
	s := NewScheduler()
	e := &entry{job: job, trigger: DailyWindow{Hour: 2, StartMinute: 0, EndMinute: 10}}

	s.tick(context.Background(), e, windowStart)
	s.tick(context.Background(), e, windowStart.Add(time.Minute))
	assert.Equal(t, int32(1), job.runs.Load())
}

func TestScheduler_Tick_LockHeld(t *testing.T) {
	job := &countingJob{}
	marker := NewMemoryMarker()
	e := &entry{job: job, trigger: Every(time.Minute)}

	NewScheduler(WithLocker(failingLocker{}), WithRunMarker(marker)).tick(context.Background(), e, windowStart)
	assert.Equal(t, int32(0), job.runs.Load())
	assert.Empty(t, e.lastKey)

	// 沒有取得鎖時不會佔用這個週期
	NewScheduler(WithRunMarker(marker)).tick(context.Background(), e, windowStart)
	assert.Equal(t, int32(1), job.runs.Load())
}

func TestScheduler_StartStop(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreTopFunction("code.cloudfoundry.org/clock/fakeclock.NewFakeTicker.func1"))

	clk := fakeclock.NewFakeClock(windowStart.Add(-time.Minute))
	job := &countingJob{}
	s := NewScheduler(WithSchedulerClock(clk), WithTickInterval(time.Minute))
	s.Add(job, DailyWindow{Hour: 2, StartMinute: 0, EndMinute: 10})

	s.Start()
	s.Start()
	clk.WaitForWatcherAndIncrement(time.Minute)
	require.Eventually(t, func() bool { return job.runs.Load() == 1 }, time.Second, 5*time.Millisecond)

	s.Stop()
	s.Stop()
}

func TestMemoryMarker_Claim(t *testing.T) {
	marker := NewMemoryMarker()
	ctx := context.Background()

	ok, err := marker.Claim(ctx, "payout", "2026-06-01")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, _ = marker.Claim(ctx, "payout", "2026-06-01")
	assert.False(t, ok)

	ok, _ = marker.Claim(ctx, "reconcile", "2026-06-01")
	assert.True(t, ok)

	ok, _ = marker.Claim(ctx, "payout", "2026-06-02")
	assert.True(t, ok)
}
