package indicator

import (
	"fmt"
	"math"

	"github.com/markcheno/go-talib"

	"strend/internal/market"
)

// Settings 描述指标管线所需的全部参数。零值字段回落到默认参数。
type Settings struct {
	Symbol   string
	Interval string
	EMA      EMASettings
	RSI      RSISettings
	ATR      ATRSettings
	Bands    BandSettings
	Volume   VolumeSettings
}

// EMASettings 描述趋势均线参数：Fast/Slow 用于交叉，Trend 是方向过滤器。
type EMASettings struct {
	Fast  int `json:"fast,omitempty"`
	Slow  int `json:"slow,omitempty"`
	Trend int `json:"trend,omitempty"`
}

// RSISettings 描述 RSI 指标参数。
type RSISettings struct {
	Period     int     `json:"period,omitempty"`
	Oversold   float64 `json:"oversold,omitempty"`
	Overbought float64 `json:"overbought,omitempty"`
	Mid        float64 `json:"mid,omitempty"`
}

// ATRSettings 描述波动率指标参数。
type ATRSettings struct {
	Period int `json:"period,omitempty"`
}

// BandSettings 描述快/慢波动率轨道（supertrend 风格）参数。
// 慢轨道兼作止损锚点。
type BandSettings struct {
	FastPeriod int     `json:"fast_period,omitempty"`
	FastMult   float64 `json:"fast_mult,omitempty"`
	SlowPeriod int     `json:"slow_period,omitempty"`
	SlowMult   float64 `json:"slow_mult,omitempty"`
}

// VolumeSettings 描述放量判定：当前量 > SpikeMult × SMA(Period)。
type VolumeSettings struct {
	Period    int     `json:"period,omitempty"`
	SpikeMult float64 `json:"spike_mult,omitempty"`
}

func (s Settings) withDefaults() Settings {
	out := s
	if out.EMA.Fast <= 0 {
		out.EMA.Fast = 8
	}
	if out.EMA.Slow <= 0 {
		out.EMA.Slow = 21
	}
	if out.EMA.Trend <= 0 {
		out.EMA.Trend = 50
	}
	if out.RSI.Period <= 0 {
		out.RSI.Period = 14
	}
	if out.RSI.Oversold <= 0 {
		out.RSI.Oversold = 30
	}
	if out.RSI.Overbought <= 0 {
		out.RSI.Overbought = 70
	}
	if out.RSI.Mid <= 0 {
		out.RSI.Mid = 50
	}
	if out.ATR.Period <= 0 {
		out.ATR.Period = 14
	}
	if out.Bands.FastPeriod <= 0 {
		out.Bands.FastPeriod = 10
	}
	if out.Bands.FastMult <= 0 {
		out.Bands.FastMult = 1.5
	}
	if out.Bands.SlowPeriod <= 0 {
		out.Bands.SlowPeriod = 21
	}
	if out.Bands.SlowMult <= 0 {
		out.Bands.SlowMult = 3
	}
	if out.Volume.Period <= 0 {
		out.Volume.Period = 20
	}
	if out.Volume.SpikeMult <= 0 {
		out.Volume.SpikeMult = 2
	}
	return out
}

// Frame 是单根K线对应的指标切面。Valid=false 表示 warm-up 未完成，
// 该索引的数值不可参与任何交易判定。
type Frame struct {
	Index       int     `json:"index"`
	OpenTime    int64   `json:"open_time"`
	Close       float64 `json:"close"`
	EMAFast     float64 `json:"ema_fast"`
	EMASlow     float64 `json:"ema_slow"`
	EMATrend    float64 `json:"ema_trend"`
	RSI         float64 `json:"rsi"`
	ATR         float64 `json:"atr"`
	VolumeAvg   float64 `json:"volume_avg"`
	VolumeRatio float64 `json:"volume_ratio"`
	VolumeSpike bool    `json:"volume_spike"`
	BandFast    float64 `json:"band_fast"`
	BandSlow    float64 `json:"band_slow"`
	BandMid     float64 `json:"band_mid"`
	FastUp      bool    `json:"fast_up"`
	SlowUp      bool    `json:"slow_up"`
	Valid       bool    `json:"valid"`
}

// Report 汇总单个 symbol+interval 的指标输出，与输入K线按索引对齐。
type Report struct {
	Symbol   string  `json:"symbol"`
	Interval string  `json:"interval"`
	Count    int     `json:"count"`
	MinBars  int     `json:"min_bars"`
	Usable   bool    `json:"usable"`
	Frames   []Frame `json:"frames,omitempty"`
}

// LastTwo 返回末尾两个有效 frame（当前、前一根）。
// 末尾存在无效 frame 时整体视为不可用——绝不让 warm-up 残值进入决策。
func (r Report) LastTwo() (cur Frame, prev Frame, ok bool) {
	if !r.Usable || len(r.Frames) < 2 {
		return Frame{}, Frame{}, false
	}
	cur = r.Frames[len(r.Frames)-1]
	prev = r.Frames[len(r.Frames)-2]
	if !cur.Valid || !prev.Valid {
		return Frame{}, Frame{}, false
	}
	return cur, prev, true
}

// MinHistory 返回产出两个有效 frame 所需的最少K线数。
func MinHistory(s Settings) int {
	s = s.withDefaults()
	lookback := s.EMA.Trend
	for _, n := range []int{
		s.EMA.Fast, s.EMA.Slow,
		s.RSI.Period + 1,
		s.ATR.Period + 1,
		s.Bands.FastPeriod + 1, s.Bands.SlowPeriod + 1,
		s.Volume.Period,
	} {
		if n > lookback {
			lookback = n
		}
	}
	// +2：交叉判定需要“前一根”同样有效。
	return lookback + 2
}

// ComputeAll 对整段历史计算全部指标，输出与输入等长、按索引对齐。
// 历史不足时返回 Usable=false 且 err=nil，调用方按“数据不足”处理而非错误。
// 纯函数：同样的输入永远得到同样的输出。
func ComputeAll(candles []market.Candle, cfg Settings) (Report, error) {
	cfg = cfg.withDefaults()
	rep := Report{
		Symbol:   cfg.Symbol,
		Interval: cfg.Interval,
		Count:    len(candles),
		MinBars:  MinHistory(cfg),
	}
	if err := market.ValidateSeries(candles); err != nil {
		return rep, fmt.Errorf("indicator: 脏数据 %s %s: %w", cfg.Symbol, cfg.Interval, err)
	}
	if len(candles) < rep.MinBars {
		return rep, nil
	}

	n := len(candles)
	closes := make([]float64, n)
	highs := make([]float64, n)
	lows := make([]float64, n)
	volumes := make([]float64, n)
	for i, c := range candles {
		closes[i] = c.Close
		highs[i] = c.High
		lows[i] = c.Low
		volumes[i] = c.Volume
	}

	emaFast := talib.Ema(closes, cfg.EMA.Fast)
	emaSlow := talib.Ema(closes, cfg.EMA.Slow)
	emaTrend := talib.Ema(closes, cfg.EMA.Trend)
	rsi := talib.Rsi(closes, cfg.RSI.Period)
	atr := talib.Atr(highs, lows, closes, cfg.ATR.Period)
	volAvg := talib.Sma(volumes, cfg.Volume.Period)

	fastBand := computeBand(highs, lows, closes, cfg.Bands.FastPeriod, cfg.Bands.FastMult)
	slowBand := computeBand(highs, lows, closes, cfg.Bands.SlowPeriod, cfg.Bands.SlowMult)

	// 各序列的首个有效索引（talib 对 warm-up 区间填零）。
	warm := rep.MinBars - 2
	rep.Frames = make([]Frame, n)
	for i := 0; i < n; i++ {
		f := Frame{
			Index:    i,
			OpenTime: candles[i].OpenTime,
			Close:    closes[i],
		}
		if i >= warm {
			f.EMAFast = emaFast[i]
			f.EMASlow = emaSlow[i]
			f.EMATrend = emaTrend[i]
			f.RSI = rsi[i]
			f.ATR = atr[i]
			f.VolumeAvg = volAvg[i]
			if f.VolumeAvg > 0 {
				f.VolumeRatio = volumes[i] / f.VolumeAvg
			}
			f.VolumeSpike = f.VolumeRatio >= cfg.Volume.SpikeMult
			f.BandFast = fastBand.line[i]
			f.BandSlow = slowBand.line[i]
			f.BandMid = fastBand.mid[i]
			f.FastUp = fastBand.up[i]
			f.SlowUp = slowBand.up[i]
			f.Valid = frameClean(f) && i >= fastBand.firstValid && i >= slowBand.firstValid
		}
		rep.Frames[i] = f
	}
	last := rep.Frames[n-1]
	prev := rep.Frames[n-2]
	rep.Usable = last.Valid && prev.Valid
	return rep, nil
}

// frameClean 拒绝任何 NaN/Inf 渗入有效 frame。
func frameClean(f Frame) bool {
	for _, v := range [...]float64{
		f.EMAFast, f.EMASlow, f.EMATrend, f.RSI, f.ATR,
		f.VolumeAvg, f.BandFast, f.BandSlow,
	} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return f.ATR > 0 && f.BandSlow > 0
}
