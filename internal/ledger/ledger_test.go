package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"strend/internal/gateway/exchange"
)

func validProposal() Proposal {
	return Proposal{
		Side:       exchange.SideLong,
		Quantity:   0.5,
		EntryPrice: 100,
		StopLoss:   95,
		TakeProfit: 110,
		Strategy:   "trend_following",
		EntryTime:  time.Now().UTC(),
	}
}

func TestTryOpenRegistersPosition(t *testing.T) {
	l := New(3, nil)
	ctx := context.Background()

	pos, err := l.TryOpen(ctx, "btcusdt", validProposal())
	require.NoError(t, err)
	assert.NotEmpty(t, pos.ID)
	assert.Equal(t, "BTCUSDT", pos.Symbol, "symbol 规范化为大写")
	assert.Equal(t, StatusOpen, pos.Status)

	got, ok := l.Get("BTCUSDT")
	require.True(t, ok)
	assert.Equal(t, pos.ID, got.ID)
	assert.Equal(t, 1, l.OpenCount())
}

func TestTryOpenRejectsDuplicate(t *testing.T) {
	l := New(3, nil)
	ctx := context.Background()

	_, err := l.TryOpen(ctx, "BTCUSDT", validProposal())
	require.NoError(t, err)

	_, err = l.TryOpen(ctx, "BTCUSDT", validProposal())
	assert.ErrorIs(t, err, ErrDuplicatePosition)

	// Closing 态同样占坑。
	_, err = l.MarkClosing(ctx, "BTCUSDT")
	require.NoError(t, err)
	_, err = l.TryOpen(ctx, "BTCUSDT", validProposal())
	assert.ErrorIs(t, err, ErrDuplicatePosition)
}

func TestTryOpenEnforcesGlobalCap(t *testing.T) {
	l := New(2, nil)
	ctx := context.Background()

	_, err := l.TryOpen(ctx, "BTCUSDT", validProposal())
	require.NoError(t, err)
	_, err = l.TryOpen(ctx, "ETHUSDT", validProposal())
	require.NoError(t, err)

	_, err = l.TryOpen(ctx, "SOLUSDT", validProposal())
	assert.ErrorIs(t, err, ErrGlobalCap)

	// 释放一个坑后恢复可开。
	_, err = l.Remove(ctx, "ETHUSDT")
	require.NoError(t, err)
	_, err = l.TryOpen(ctx, "SOLUSDT", validProposal())
	assert.NoError(t, err)
}

func TestTryOpenValidatesProposal(t *testing.T) {
	l := New(3, nil)
	ctx := context.Background()

	cases := map[string]Proposal{
		"零数量":  {Side: exchange.SideLong, EntryPrice: 100, StopLoss: 95, TakeProfit: 110},
		"缺止损":  {Side: exchange.SideLong, Quantity: 1, EntryPrice: 100, TakeProfit: 110},
		"非法方向": {Side: "sideways", Quantity: 1, EntryPrice: 100, StopLoss: 95, TakeProfit: 110},
	}
	for name, p := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := l.TryOpen(ctx, "BTCUSDT", p)
			assert.ErrorIs(t, err, ErrBadProposal)
		})
	}

	_, err := l.TryOpen(ctx, "  ", validProposal())
	assert.ErrorIs(t, err, ErrBadProposal)
}

func TestStatusTransitions(t *testing.T) {
	l := New(3, nil)
	ctx := context.Background()

	_, err := l.TryOpen(ctx, "BTCUSDT", validProposal())
	require.NoError(t, err)

	pos, err := l.MarkClosing(ctx, "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, StatusClosing, pos.Status)

	// 重复 MarkClosing 幂等（平仓重试路径）。
	pos, err = l.MarkClosing(ctx, "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, StatusClosing, pos.Status)

	removed, err := l.Remove(ctx, "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, StatusClosed, removed.Status)
	assert.Equal(t, 0, l.OpenCount())

	_, err = l.Remove(ctx, "BTCUSDT")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = l.MarkClosing(ctx, "BTCUSDT")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpdateTrailingStopMonotonic(t *testing.T) {
	ctx := context.Background()

	t.Run("多头只升不降", func(t *testing.T) {
		l := New(3, nil)
		_, err := l.TryOpen(ctx, "BTCUSDT", validProposal())
		require.NoError(t, err)

		level, err := l.UpdateTrailingStop(ctx, "BTCUSDT", 97)
		require.NoError(t, err)
		assert.InDelta(t, 97.0, level, 1e-9)

		level, err = l.UpdateTrailingStop(ctx, "BTCUSDT", 96)
		require.NoError(t, err)
		assert.InDelta(t, 97.0, level, 1e-9, "回撤候选被钳制")

		level, err = l.UpdateTrailingStop(ctx, "BTCUSDT", 99)
		require.NoError(t, err)
		assert.InDelta(t, 99.0, level, 1e-9)
	})

	t.Run("空头只降不升", func(t *testing.T) {
		l := New(3, nil)
		p := validProposal()
		p.Side = exchange.SideShort
		p.StopLoss = 105
		p.TakeProfit = 90
		_, err := l.TryOpen(ctx, "ETHUSDT", p)
		require.NoError(t, err)

		level, err := l.UpdateTrailingStop(ctx, "ETHUSDT", 103)
		require.NoError(t, err)
		assert.InDelta(t, 103.0, level, 1e-9)

		level, err = l.UpdateTrailingStop(ctx, "ETHUSDT", 104)
		require.NoError(t, err)
		assert.InDelta(t, 103.0, level, 1e-9)
	})

	t.Run("非法水平", func(t *testing.T) {
		l := New(3, nil)
		_, err := l.UpdateTrailingStop(ctx, "BTCUSDT", 0)
		assert.ErrorIs(t, err, ErrBadProposal)
	})
}

func TestReconcileDropsStalePositions(t *testing.T) {
	l := New(3, nil)
	ctx := context.Background()

	_, err := l.TryOpen(ctx, "BTCUSDT", validProposal())
	require.NoError(t, err)
	_, err = l.TryOpen(ctx, "ETHUSDT", validProposal())
	require.NoError(t, err)

	// 交易所只报告 BTC：本地 ETH 是幽灵仓，必须移除。
	drifts := l.Reconcile(ctx, map[string]struct{}{"BTCUSDT": {}})
	require.Len(t, drifts, 1)
	assert.Equal(t, "ETHUSDT", drifts[0].Symbol)
	assert.Equal(t, 1, l.OpenCount())

	_, ok := l.Get("ETHUSDT")
	assert.False(t, ok)

	// 对齐状态下无漂移。
	drifts = l.Reconcile(ctx, map[string]struct{}{"BTCUSDT": {}})
	assert.Empty(t, drifts)
}

func TestListSorted(t *testing.T) {
	l := New(5, nil)
	ctx := context.Background()
	for _, sym := range []string{"SOLUSDT", "BTCUSDT", "ETHUSDT"} {
		_, err := l.TryOpen(ctx, sym, validProposal())
		require.NoError(t, err)
	}
	list := l.List()
	require.Len(t, list, 3)
	assert.Equal(t, "BTCUSDT", list[0].Symbol)
	assert.Equal(t, "ETHUSDT", list[1].Symbol)
	assert.Equal(t, "SOLUSDT", list[2].Symbol)
}
