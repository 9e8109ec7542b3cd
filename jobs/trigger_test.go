package jobs

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDailyWindow_Due(t *testing.T) {
	window := DailyWindow{Hour: 2, StartMinute: 0, EndMinute: 30}
	tests := []struct {
		name    string
		now     time.Time
		wantKey string
		wantOK  bool
	}{
		{name: "before window", now: time.Date(2026, 6, 1, 1, 59, 59, 0, time.UTC)},
		{name: "window start", now: time.Date(2026, 6, 1, 2, 0, 0, 0, time.UTC), wantKey: "2026-06-01", wantOK: true},
		{name: "window end", now: time.Date(2026, 6, 1, 2, 30, 59, 0, time.UTC), wantKey: "2026-06-01", wantOK: true},
		{name: "after window", now: time.Date(2026, 6, 1, 2, 31, 0, 0, time.UTC)},
		{name: "next day", now: time.Date(2026, 6, 2, 2, 15, 0, 0, time.UTC), wantKey: "2026-06-02", wantOK: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key, ok := window.Due(tt.now)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.wantKey, key)
		})
	}
}

func TestDailyWindow_Location(t *testing.T) {
	taipei := time.FixedZone("Asia/Taipei", 8*60*60)
	window := DailyWindow{Hour: 2, StartMinute: 0, EndMinute: 10, Location: taipei}

	key, ok := window.Due(time.Date(2026, 6, 1, 18, 5, 0, 0, time.UTC))
	assert.True(t, ok)
	assert.Equal(t, "2026-06-02", key)
}

func TestDailyWindow_Validate(t *testing.T) {
	assert.NoError(t, DailyWindow{Hour: 23, StartMinute: 0, EndMinute: 59}.Validate())
	assert.Error(t, DailyWindow{Hour: 24}.Validate())
	assert.Error(t, DailyWindow{Hour: 1, StartMinute: -1}.Validate())
	assert.Error(t, DailyWindow{Hour: 1, StartMinute: 30, EndMinute: 10}.Validate())
}

func TestEvery_Due(t *testing.T) {
	every := Every(5 * time.Minute)
	base := time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)

	first, ok := every.Due(base)
	assert.True(t, ok)
	same, _ := every.Due(base.Add(4 * time.Minute))
	assert.Equal(t, first, same)
	next, _ := every.Due(base.Add(5 * time.Minute))
	assert.NotEqual(t, first, next)

	_, ok = Every(0).Due(base)
	assert.False(t, ok)
}
