package jobs

import (
	"fmt"
	"strconv"
	"time"
)

// Trigger 決定工作在某個時間點是否該執行
// key 用來辨識同一個執行週期，同一個 key 只會執行一次
type Trigger interface {
	Due(now time.Time) (key string, ok bool)
}

// DailyWindow 每天在 Hour 時 StartMinute 到 EndMinute 分之間執行一次，key 為當天日期
type DailyWindow struct {
	Hour        int
	StartMinute int
	EndMinute   int
	Location    *time.Location
}

// Validate 檢查時間區間設定
func (w DailyWindow) Validate() error {
	switch {
	case w.Hour < 0 || w.Hour > 23:
		return fmt.Errorf("window hour must be between 0 and 23, got %d", w.Hour)
	case w.StartMinute < 0 || w.StartMinute > 59 || w.EndMinute < 0 || w.EndMinute > 59:
		return fmt.Errorf("window minutes must be between 0 and 59, got %d-%d", w.StartMinute, w.EndMinute)
	case w.StartMinute > w.EndMinute:
		return fmt.Errorf("window start minute %d is after end minute %d", w.StartMinute, w.EndMinute)
	}
	return nil
}

func (w DailyWindow) Due(now time.Time) (string, bool) {
	loc := w.Location
	if loc == nil {
		loc = time.UTC
	}
	local := now.In(loc)
	if local.Hour() != w.Hour || local.Minute() < w.StartMinute || local.Minute() > w.EndMinute {
		return "", false
	}
	return local.Format(time.DateOnly), true
}

// Every 每隔固定時間執行一次，key 為時間區段的序號
type Every time.Duration

func (e Every) Due(now time.Time) (string, bool) {
	if e <= 0 {
		return "", false
	}
	return strconv.FormatInt(now.UnixNano()/int64(e), 10), true
}
