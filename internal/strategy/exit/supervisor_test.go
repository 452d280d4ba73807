package exit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"strend/internal/analysis/indicator"
	"strend/internal/gateway/exchange"
	"strend/internal/ledger"
)

func longPosition() ledger.Position {
	return ledger.Position{
		ID:         "p1",
		Symbol:     "BTCUSDT",
		Side:       exchange.SideLong,
		Quantity:   0.5,
		EntryTime:  time.Now().Add(-30 * time.Minute),
		EntryPrice: 100,
		StopLoss:   95,
		TakeProfit: 110,
		Status:     ledger.StatusOpen,
	}
}

func reportWithBandSlow(bandSlow float64) indicator.Report {
	return indicator.Report{
		Usable: true,
		Frames: []indicator.Frame{
			{Valid: true, BandSlow: bandSlow - 0.5, RSI: 55},
			{Valid: true, BandSlow: bandSlow, RSI: 55},
		},
	}
}

func TestSupervisorFixedStops(t *testing.T) {
	sup := NewSupervisor(15)
	now := time.Now()

	t.Run("跌破止损", func(t *testing.T) {
		d := sup.Evaluate(longPosition(), indicator.Report{}, 94, now, Rules{})
		require.True(t, d.Close)
		assert.Equal(t, ReasonStopLoss, d.Reason)
	})
	t.Run("触及止盈", func(t *testing.T) {
		d := sup.Evaluate(longPosition(), indicator.Report{}, 111, now, Rules{})
		require.True(t, d.Close)
		assert.Equal(t, ReasonTakeProfit, d.Reason)
	})
	t.Run("带内持有", func(t *testing.T) {
		d := sup.Evaluate(longPosition(), indicator.Report{}, 100, now, Rules{})
		assert.False(t, d.Close)
	})
	t.Run("空头对称", func(t *testing.T) {
		pos := longPosition()
		pos.Side = exchange.SideShort
		pos.StopLoss = 105
		pos.TakeProfit = 90
		d := sup.Evaluate(pos, indicator.Report{}, 106, now, Rules{})
		require.True(t, d.Close)
		assert.Equal(t, ReasonStopLoss, d.Reason)
	})
}

func TestSupervisorTolerance(t *testing.T) {
	sup := NewSupervisor(15)
	now := time.Now()

	// 默认相对容差 0.05%：95×1.0005 = 95.0475。
	t.Run("容差内视为触发", func(t *testing.T) {
		d := sup.Evaluate(longPosition(), indicator.Report{}, 95.04, now, Rules{})
		require.True(t, d.Close)
		assert.Equal(t, ReasonStopLoss, d.Reason)
	})
	t.Run("容差外不触发", func(t *testing.T) {
		d := sup.Evaluate(longPosition(), indicator.Report{}, 95.06, now, Rules{})
		assert.False(t, d.Close)
	})
}

func TestSupervisorTrailingStop(t *testing.T) {
	sup := NewSupervisor(15)
	now := time.Now()
	rules := Rules{TrailingExit: true}

	t.Run("慢轨道上移并触发", func(t *testing.T) {
		d := sup.Evaluate(longPosition(), reportWithBandSlow(98), 97, now, rules)
		require.True(t, d.Close)
		assert.Equal(t, ReasonTrailingStop, d.Reason)
		assert.InDelta(t, 98.0, d.Trailing, 1e-9)
	})

	t.Run("未触发时仍回传收紧后的水平", func(t *testing.T) {
		d := sup.Evaluate(longPosition(), reportWithBandSlow(98), 100, now, rules)
		assert.False(t, d.Close)
		assert.InDelta(t, 98.0, d.Trailing, 1e-9)
	})

	t.Run("多头止损只升不降", func(t *testing.T) {
		pos := longPosition()
		pos.TrailingStop = 99
		d := sup.Evaluate(pos, reportWithBandSlow(98), 100, now, rules)
		assert.False(t, d.Close)
		assert.InDelta(t, 99.0, d.Trailing, 1e-9, "候选值低于现有水平时被钳制")
	})

	t.Run("移动止损优先于固定止损", func(t *testing.T) {
		pos := longPosition()
		pos.TrailingStop = 98
		d := sup.Evaluate(pos, indicator.Report{}, 94, now, rules)
		require.True(t, d.Close)
		assert.Equal(t, ReasonTrailingStop, d.Reason)
	})

	t.Run("数据不足跳过指标规则", func(t *testing.T) {
		d := sup.Evaluate(longPosition(), indicator.Report{}, 100, now, rules)
		assert.False(t, d.Close)
		assert.Zero(t, d.Trailing)
	})
}

func TestSupervisorReversalExit(t *testing.T) {
	sup := NewSupervisor(15)
	now := time.Now()
	rules := Rules{ReversalExit: true}

	rep := indicator.Report{
		Usable: true,
		Frames: []indicator.Frame{
			{Valid: true, RSI: 55},
			{Valid: true, RSI: 45},
		},
	}
	t.Run("RSI 下穿中线平多", func(t *testing.T) {
		d := sup.Evaluate(longPosition(), rep, 100, now, rules)
		require.True(t, d.Close)
		assert.Equal(t, ReasonReversal, d.Reason)
	})
	t.Run("同向穿越不出场", func(t *testing.T) {
		pos := longPosition()
		pos.Side = exchange.SideShort
		pos.StopLoss = 110
		pos.TakeProfit = 90
		d := sup.Evaluate(pos, rep, 100, now, rules)
		assert.False(t, d.Close)
	})
}

func TestSupervisorTimeLimit(t *testing.T) {
	sup := NewSupervisor(15)
	now := time.Now()

	pos := longPosition()
	pos.EntryTime = now.Add(-2 * time.Hour) // 8 根 15m K线
	d := sup.Evaluate(pos, indicator.Report{}, 100, now, Rules{MaxBarsHeld: 8})
	require.True(t, d.Close)
	assert.Equal(t, ReasonTimeLimit, d.Reason)

	d = sup.Evaluate(pos, indicator.Report{}, 100, now, Rules{MaxBarsHeld: 9})
	assert.False(t, d.Close, "不足上限根数不触发")
}

func TestBarsHeld(t *testing.T) {
	now := time.Now()
	assert.Equal(t, 0, BarsHeld(time.Time{}, now, 15))
	assert.Equal(t, 0, BarsHeld(now.Add(-10*time.Minute), now, 15), "不满一根不计")
	assert.Equal(t, 4, BarsHeld(now.Add(-time.Hour), now, 15))
}

func TestSupervisorIgnoresDegenerateInput(t *testing.T) {
	sup := NewSupervisor(15)
	d := sup.Evaluate(longPosition(), indicator.Report{}, 0, time.Now(), Rules{})
	assert.False(t, d.Close, "无价格时不做任何判定")

	pos := longPosition()
	pos.Quantity = 0
	d = sup.Evaluate(pos, indicator.Report{}, 94, time.Now(), Rules{})
	assert.False(t, d.Close)
}
