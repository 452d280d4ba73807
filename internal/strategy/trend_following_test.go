package strategy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"strend/internal/analysis/indicator"
)

func makeReport(prev, cur indicator.Frame) indicator.Report {
	prev.Valid = true
	cur.Valid = true
	return indicator.Report{
		Symbol:   "BTCUSDT",
		Interval: "15m",
		Count:    2,
		Usable:   true,
		Frames:   []indicator.Frame{prev, cur},
	}
}

// crossUpReport 构造一根刚完成快慢均线上穿、趋势向上、放量的K线。
func crossUpReport() indicator.Report {
	prev := indicator.Frame{
		EMAFast: 99, EMASlow: 100, EMATrend: 97,
		RSI: 52, ATR: 2, BandSlow: 95, VolumeSpike: false,
	}
	cur := indicator.Frame{
		EMAFast: 101, EMASlow: 100, EMATrend: 98,
		RSI: 60, ATR: 2, BandSlow: 96, VolumeSpike: true, VolumeRatio: 2.4,
	}
	return makeReport(prev, cur)
}

func TestTrendFollowingLongEntry(t *testing.T) {
	s := NewTrendFollowing(TrendFollowingConfig{})
	sig := s.Evaluate(EvalContext{Symbol: "BTCUSDT", Report: crossUpReport(), Price: 102})

	require.Equal(t, KindBuy, sig.Kind)
	assert.InDelta(t, 95.0, sig.StopLoss, 1e-9, "止损锚定前一根慢轨道")
	assert.InDelta(t, 7.0, sig.RiskDistance, 1e-9)
	assert.InDelta(t, 102+7*1.5, sig.TakeProfit, 1e-9, "默认 RR=1.5")
}

func TestTrendFollowingShortEntry(t *testing.T) {
	prev := indicator.Frame{
		EMAFast: 101, EMASlow: 100, EMATrend: 103,
		RSI: 48, ATR: 2, BandSlow: 105, VolumeSpike: true,
	}
	cur := indicator.Frame{
		EMAFast: 99, EMASlow: 100, EMATrend: 102,
		RSI: 40, ATR: 2, BandSlow: 104, VolumeSpike: false,
	}
	s := NewTrendFollowing(TrendFollowingConfig{RewardRisk: 2})
	sig := s.Evaluate(EvalContext{Report: makeReport(prev, cur), Price: 98})

	require.Equal(t, KindSell, sig.Kind)
	assert.InDelta(t, 105.0, sig.StopLoss, 1e-9)
	assert.InDelta(t, 7.0, sig.RiskDistance, 1e-9)
	assert.InDelta(t, 98-7*2, sig.TakeProfit, 1e-9)
}

func TestTrendFollowingRequiresAllConfirmations(t *testing.T) {
	s := NewTrendFollowing(TrendFollowingConfig{})

	t.Run("无交叉", func(t *testing.T) {
		rep := crossUpReport()
		rep.Frames[0].EMAFast = 101 // 前一根已经在上方，不是本根穿越
		sig := s.Evaluate(EvalContext{Report: rep, Price: 102})
		assert.Equal(t, KindNone, sig.Kind)
	})

	t.Run("无放量", func(t *testing.T) {
		rep := crossUpReport()
		rep.Frames[0].VolumeSpike = false
		rep.Frames[1].VolumeSpike = false
		sig := s.Evaluate(EvalContext{Report: rep, Price: 102})
		assert.Equal(t, KindNone, sig.Kind)
	})

	t.Run("RSI 过热", func(t *testing.T) {
		rep := crossUpReport()
		rep.Frames[1].RSI = 75
		sig := s.Evaluate(EvalContext{Report: rep, Price: 102})
		assert.Equal(t, KindNone, sig.Kind)
	})

	t.Run("价格在趋势线错误一侧", func(t *testing.T) {
		rep := crossUpReport()
		rep.Frames[1].EMATrend = 110
		sig := s.Evaluate(EvalContext{Report: rep, Price: 102})
		assert.Equal(t, KindNone, sig.Kind)
	})

	t.Run("指标历史不可用", func(t *testing.T) {
		rep := crossUpReport()
		rep.Usable = false
		sig := s.Evaluate(EvalContext{Report: rep, Price: 102})
		assert.Equal(t, KindNone, sig.Kind)
	})
}

func TestTrendFollowingDegenerateRisk(t *testing.T) {
	// 止损在入场价错误一侧：信号必须降级为 None，绝不带未定义风险下单。
	rep := crossUpReport()
	rep.Frames[0].BandSlow = 110
	s := NewTrendFollowing(TrendFollowingConfig{})
	sig := s.Evaluate(EvalContext{Report: rep, Price: 102})
	assert.Equal(t, KindNone, sig.Kind)
	assert.Contains(t, sig.Reasoning, "degenerate risk")
}

func TestTrendFollowingHigherTimeframeConfirmation(t *testing.T) {
	s := NewTrendFollowing(TrendFollowingConfig{RequireHigherTF: true})

	t.Run("高周期一致放行", func(t *testing.T) {
		higher := makeReport(
			indicator.Frame{SlowUp: true, EMATrend: 90, Close: 95},
			indicator.Frame{SlowUp: true, EMATrend: 92, Close: 100},
		)
		sig := s.Evaluate(EvalContext{Report: crossUpReport(), Price: 102, Higher: &higher})
		assert.Equal(t, KindBuy, sig.Kind)
	})

	t.Run("高周期反向拦截", func(t *testing.T) {
		higher := makeReport(
			indicator.Frame{SlowUp: false, EMATrend: 110, Close: 100},
			indicator.Frame{SlowUp: false, EMATrend: 110, Close: 100},
		)
		sig := s.Evaluate(EvalContext{Report: crossUpReport(), Price: 102, Higher: &higher})
		assert.Equal(t, KindNone, sig.Kind)
	})

	t.Run("高周期数据缺失只收窄不放宽", func(t *testing.T) {
		empty := indicator.Report{}
		sig := s.Evaluate(EvalContext{Report: crossUpReport(), Price: 102, Higher: &empty})
		assert.Equal(t, KindNone, sig.Kind)
	})

	t.Run("未启用确认时忽略高周期", func(t *testing.T) {
		plain := NewTrendFollowing(TrendFollowingConfig{})
		sig := plain.Evaluate(EvalContext{Report: crossUpReport(), Price: 102, Higher: nil})
		assert.Equal(t, KindBuy, sig.Kind)
	})
}

func TestBuildVariants(t *testing.T) {
	for _, name := range []string{"trend_following", "range_bound", "market_making"} {
		s, err := Build(name, nil)
		require.NoError(t, err)
		assert.Equal(t, name, s.Name())
	}

	_, err := Build("no_such_variant", nil)
	assert.Error(t, err)

	s, err := Build("trend_following", map[string]any{"reward_risk": "2.5", "max_bars_held": 12})
	require.NoError(t, err, "弱类型参数来自 yaml，必须容忍字符串数字")
	rules := s.ExitRules()
	assert.Equal(t, 12, rules.MaxBarsHeld)
}
