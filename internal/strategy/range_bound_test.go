package strategy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"strend/internal/analysis/indicator"
)

// flatRegimeReport 构造一段纠缠的无趋势区间：RSI 刚从超卖区回头。
func flatRegimeReport() indicator.Report {
	prev := indicator.Frame{
		EMAFast: 100.2, EMASlow: 100, ATR: 2,
		RSI: 28, BandMid: 101, BandSlow: 96,
	}
	cur := indicator.Frame{
		EMAFast: 100.1, EMASlow: 100, ATR: 2,
		RSI: 34, BandMid: 101, BandSlow: 96,
	}
	return makeReport(prev, cur)
}

func TestRangeBoundFadeLong(t *testing.T) {
	s := NewRangeBound(RangeBoundConfig{})
	sig := s.Evaluate(EvalContext{Report: flatRegimeReport(), Price: 98})

	require.Equal(t, KindBuy, sig.Kind)
	// 止损取 min(慢轨道, price-ATR) = min(96, 96) = 96。
	assert.InDelta(t, 96.0, sig.StopLoss, 1e-9)
	assert.LessOrEqual(t, sig.TakeProfit, 101.0, "止盈封顶在中线")
}

func TestRangeBoundRejectsTrendingRegime(t *testing.T) {
	rep := flatRegimeReport()
	rep.Frames[1].EMAFast = 104 // 均线间距 4 > 0.5×ATR
	s := NewRangeBound(RangeBoundConfig{})
	sig := s.Evaluate(EvalContext{Report: rep, Price: 98})
	assert.Equal(t, KindNone, sig.Kind)
}

func TestRangeBoundNoExtremeNoTrade(t *testing.T) {
	rep := flatRegimeReport()
	rep.Frames[0].RSI = 45 // 前一根没进极端区
	s := NewRangeBound(RangeBoundConfig{})
	sig := s.Evaluate(EvalContext{Report: rep, Price: 98})
	assert.Equal(t, KindNone, sig.Kind)
}

func TestRangeBoundExitRules(t *testing.T) {
	s := NewRangeBound(RangeBoundConfig{MaxBarsHeld: 16})
	rules := s.ExitRules()
	assert.True(t, rules.ReversalExit, "震荡仓位必须有反转出场")
	assert.False(t, rules.TrailingExit)
	assert.Equal(t, 16, rules.MaxBarsHeld)
}

func TestMarketMakingDisplacementEntry(t *testing.T) {
	prev := indicator.Frame{ATR: 1, BandMid: 100, RSI: 50}
	cur := indicator.Frame{ATR: 1, BandMid: 100, RSI: 50}
	rep := makeReport(prev, cur)
	s := NewMarketMaking(MarketMakingConfig{})

	t.Run("下偏离做多", func(t *testing.T) {
		sig := s.Evaluate(EvalContext{Report: rep, Price: 98})
		require.Equal(t, KindBuy, sig.Kind)
		assert.LessOrEqual(t, sig.TakeProfit, 100.0)
	})
	t.Run("带内不动", func(t *testing.T) {
		sig := s.Evaluate(EvalContext{Report: rep, Price: 99.8})
		assert.Equal(t, KindNone, sig.Kind)
	})
	t.Run("高波动停止报价", func(t *testing.T) {
		volatile := makeReport(prev, indicator.Frame{ATR: 10, BandMid: 100, RSI: 50})
		sig := s.Evaluate(EvalContext{Report: volatile, Price: 98})
		assert.Equal(t, KindNone, sig.Kind)
	})
}
