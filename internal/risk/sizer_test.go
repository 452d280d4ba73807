package risk

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"strend/internal/gateway/exchange"
)

func baseInput() SizeInput {
	return SizeInput{
		Equity:       10_000,
		RiskFraction: 0.01,
		RiskDistance: 50,
		Price:        1000,
		Instrument: exchange.Instrument{
			Symbol:  "BTCUSDT",
			QtyStep: 0.001,
		},
	}
}

func TestSizeByRiskBudget(t *testing.T) {
	var s Sizer
	// 风险预算 100 USD / 止损距离 50 = 2。
	qty, err := s.Size(baseInput())
	require.NoError(t, err)
	assert.InDelta(t, 2.0, qty, 1e-12)
}

func TestSizeNotionalCap(t *testing.T) {
	var s Sizer
	in := baseInput()
	in.MaxNotional = 1000 // 名义数量 1 < 风险数量 2
	qty, err := s.Size(in)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, qty, 1e-12)
}

func TestSizeMinThenRound(t *testing.T) {
	var s Sizer
	in := baseInput()
	in.RiskDistance = 3 // 风险数量 = 100/3 = 33.333…
	in.Price = 1
	in.MaxNotional = 33.35
	in.Instrument.QtyStep = 0.1
	qty, err := s.Size(in)
	require.NoError(t, err)
	// 先取精确 min(33.333…, 33.35)=33.333…，再一次性向下对齐步长。
	assert.InDelta(t, 33.3, qty, 1e-12)
}

func TestSizeStepAlignment(t *testing.T) {
	var s Sizer
	in := baseInput()
	in.RiskDistance = 37 // 100/37 = 2.7027…
	in.Instrument.QtyStep = 0.01
	qty, err := s.Size(in)
	require.NoError(t, err)
	assert.InDelta(t, 2.70, qty, 1e-12, "只向下截断，绝不向上进位")
}

func TestSizeFailClosed(t *testing.T) {
	var s Sizer

	t.Run("止损距离为零", func(t *testing.T) {
		in := baseInput()
		in.RiskDistance = 0
		_, err := s.Size(in)
		assert.ErrorIs(t, err, ErrNoOrder)
	})
	t.Run("无价格", func(t *testing.T) {
		in := baseInput()
		in.Price = 0
		_, err := s.Size(in)
		assert.ErrorIs(t, err, ErrNoOrder)
	})
	t.Run("无权益", func(t *testing.T) {
		in := baseInput()
		in.Equity = 0
		_, err := s.Size(in)
		assert.ErrorIs(t, err, ErrNoOrder)
	})
	t.Run("步长非法", func(t *testing.T) {
		in := baseInput()
		in.Instrument.QtyStep = 0
		_, err := s.Size(in)
		assert.ErrorIs(t, err, ErrNoOrder)
	})
	t.Run("截断后为零", func(t *testing.T) {
		in := baseInput()
		in.Instrument.QtyStep = 10 // 2 / 10 向下取整 = 0
		_, err := s.Size(in)
		assert.ErrorIs(t, err, ErrNoOrder)
	})
	t.Run("低于最小数量", func(t *testing.T) {
		in := baseInput()
		in.Instrument.MinQty = 5
		_, err := s.Size(in)
		assert.ErrorIs(t, err, ErrNoOrder)
	})
	t.Run("低于最小名义", func(t *testing.T) {
		in := baseInput()
		in.Instrument.MinNotional = 5000 // 2×1000 = 2000 < 5000
		_, err := s.Size(in)
		assert.ErrorIs(t, err, ErrNoOrder)
	})
}
