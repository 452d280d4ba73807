package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"strend/internal/market"
)

func TestNextTimesAlignment(t *testing.T) {
	s := &AlignedScheduler{Interval: 15 * time.Minute, Offset: 5 * time.Second}

	// 10:07:30 → 下一根收盘 10:15，延迟 5s 后执行。
	now := time.Date(2026, 8, 30, 10, 7, 30, 0, time.UTC)
	nextClose, wakeAt, untilClose, wait := s.nextTimes(now)
	assert.Equal(t, time.Date(2026, 8, 30, 10, 15, 0, 0, time.UTC), nextClose)
	assert.Equal(t, nextClose.Add(5*time.Second), wakeAt)
	assert.Equal(t, 7*time.Minute+30*time.Second, untilClose)
	assert.Equal(t, untilClose+5*time.Second, wait)

	// 正好在整点收盘边界：对齐到下一根，而不是当前这根。
	now = time.Date(2026, 8, 30, 10, 15, 0, 0, time.UTC)
	nextClose, _, untilClose, _ = s.nextTimes(now)
	assert.Equal(t, time.Date(2026, 8, 30, 10, 30, 0, 0, time.UTC), nextClose)
	assert.Equal(t, 15*time.Minute, untilClose)
}

func TestSchedulerRunImmediatelyAndAlignedTicks(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := NewAlignedScheduler(ctx, 20*time.Millisecond, 0)
	s.RunImmediately = true

	ticks := make(chan Tick, 8)
	done := make(chan struct{})
	go func() {
		s.Start(func(tk Tick) {
			ticks <- tk
			if tk.Seq >= 3 {
				cancel()
			}
		})
		close(done)
	}()

	first := <-ticks
	assert.Equal(t, int64(1), first.Seq)
	assert.True(t, first.Immediately, "首轮为立即执行")

	second := <-ticks
	assert.Equal(t, int64(2), second.Seq)
	assert.False(t, second.Immediately)
	assert.True(t, second.BarClose.After(first.BarClose) || second.BarClose.Equal(first.BarClose))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler 未随 ctx 取消退出")
	}
}

func TestSchedulerInvalidInterval(t *testing.T) {
	s := NewAlignedScheduler(context.Background(), 0, 0)
	called := false
	// interval 非法时直接返回，不触发任务。
	s.Start(func(Tick) { called = true })
	assert.False(t, called)
}

func TestParseIntervalDuration(t *testing.T) {
	cases := map[string]time.Duration{
		"1m":  time.Minute,
		"15m": 15 * time.Minute,
		"4h":  4 * time.Hour,
		"1d":  24 * time.Hour,
		"1w":  7 * 24 * time.Hour,
	}
	for raw, want := range cases {
		got, ok := ParseIntervalDuration(raw)
		require.True(t, ok, raw)
		assert.Equal(t, want, got, raw)
	}
	for _, raw := range []string{"", "m", "15", "0m", "-1h", "2x"} {
		_, ok := ParseIntervalDuration(raw)
		assert.False(t, ok, raw)
	}
}

func TestDropUnclosedBinanceKline(t *testing.T) {
	interval := 15 * time.Minute
	base := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)
	closedOpen := base.Add(-interval) // 09:45 开盘，10:00 收盘
	liveOpen := base                  // 10:00 开盘，仍在走

	klines := []market.Candle{
		{OpenTime: closedOpen.UnixMilli(), Open: 1, High: 1, Low: 1, Close: 1},
		{OpenTime: liveOpen.UnixMilli(), Open: 1, High: 1, Low: 1, Close: 1},
	}

	t.Run("收盘+grace 之前丢掉末根", func(t *testing.T) {
		now := base.Add(5 * time.Minute)
		got := dropUnclosedBinanceKlineAt(klines, interval, now, 10*time.Second)
		require.Len(t, got, 1)
		assert.Equal(t, closedOpen.UnixMilli(), got[0].OpenTime)
	})

	t.Run("收盘+grace 之后保留", func(t *testing.T) {
		now := base.Add(interval).Add(11 * time.Second)
		got := dropUnclosedBinanceKlineAt(klines, interval, now, 10*time.Second)
		assert.Len(t, got, 2)
	})

	t.Run("空序列与非法 interval 原样返回", func(t *testing.T) {
		assert.Empty(t, dropUnclosedBinanceKlineAt(nil, interval, base, 0))
		got := dropUnclosedBinanceKlineAt(klines, 0, base, 0)
		assert.Len(t, got, 2)
	})
}
