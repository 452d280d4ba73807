package indicator

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"strend/internal/market"
)

// genCandles 生成一段确定性的合成行情：缓升趋势叠加正弦波动，
// 周期性放量。足够让全部指标进入有效区。
func genCandles(n int) []market.Candle {
	out := make([]market.Candle, n)
	price := 100.0
	for i := 0; i < n; i++ {
		drift := 0.08 + 1.2*math.Sin(float64(i)*0.35)
		open := price
		close := price + drift
		high := math.Max(open, close) + 0.6
		low := math.Min(open, close) - 0.6
		vol := 1000.0
		if i%7 == 0 {
			vol = 3200
		}
		out[i] = market.Candle{
			OpenTime:  int64(i) * 900_000,
			CloseTime: int64(i)*900_000 + 899_999,
			Open:      open,
			High:      high,
			Low:       low,
			Close:     close,
			Volume:    vol,
			Trades:    int64(100 + i),
		}
		price = close
	}
	return out
}

func TestMinHistory(t *testing.T) {
	t.Run("默认参数", func(t *testing.T) {
		// 默认最长回看 = EMA.Trend(50)，再 +2 保证前一根同样有效。
		assert.Equal(t, 52, MinHistory(Settings{}))
	})
	t.Run("慢轨道主导", func(t *testing.T) {
		s := Settings{Bands: BandSettings{SlowPeriod: 80}}
		assert.Equal(t, 83, MinHistory(s))
	})
}

func TestComputeAllInsufficientHistory(t *testing.T) {
	rep, err := ComputeAll(genCandles(20), Settings{Symbol: "BTCUSDT", Interval: "15m"})
	require.NoError(t, err, "历史不足不是错误")
	assert.False(t, rep.Usable)
	assert.Equal(t, 20, rep.Count)
	assert.Empty(t, rep.Frames)

	_, _, ok := rep.LastTwo()
	assert.False(t, ok)
}

func TestComputeAllUsable(t *testing.T) {
	candles := genCandles(120)
	rep, err := ComputeAll(candles, Settings{Symbol: "BTCUSDT", Interval: "15m"})
	require.NoError(t, err)
	require.True(t, rep.Usable)
	require.Len(t, rep.Frames, 120, "输出与输入按索引对齐")

	cur, prev, ok := rep.LastTwo()
	require.True(t, ok)
	assert.True(t, cur.Valid)
	assert.True(t, prev.Valid)
	assert.Greater(t, cur.ATR, 0.0)
	assert.Greater(t, cur.BandSlow, 0.0)
	assert.InDelta(t, candles[119].Close, cur.Close, 1e-9)

	// warm-up 区间的 frame 必须标记不可用。
	assert.False(t, rep.Frames[0].Valid)
}

func TestComputeAllIdempotent(t *testing.T) {
	candles := genCandles(90)
	cfg := Settings{Symbol: "ETHUSDT", Interval: "15m"}
	a, err := ComputeAll(candles, cfg)
	require.NoError(t, err)
	b, err := ComputeAll(candles, cfg)
	require.NoError(t, err)
	assert.Equal(t, a, b, "纯函数：同输入必同输出")
}

func TestComputeAllRejectsDirtySeries(t *testing.T) {
	candles := genCandles(80)
	candles[40].Close = -1
	_, err := ComputeAll(candles, Settings{})
	assert.Error(t, err)

	candles = genCandles(80)
	candles[10].OpenTime = candles[9].OpenTime
	_, err = ComputeAll(candles, Settings{})
	assert.Error(t, err, "乱序/重叠序列必须拒绝")
}

func TestLastTwoRejectsInvalidTail(t *testing.T) {
	rep := Report{
		Usable: true,
		Frames: []Frame{{Valid: true}, {Valid: false}},
	}
	_, _, ok := rep.LastTwo()
	assert.False(t, ok, "末尾无效 frame 不允许进入决策")
}
