package strategy

import (
	"fmt"
	"math"

	"strend/internal/strategy/exit"
)

// RangeBoundConfig 是震荡回归变体的参数。
type RangeBoundConfig struct {
	RewardRisk  float64 `toml:"reward_risk" json:"reward_risk,omitempty"`
	RSIOversold float64 `toml:"rsi_oversold" json:"rsi_oversold,omitempty"`
	RSIOverbot  float64 `toml:"rsi_overbought" json:"rsi_overbought,omitempty"`
	// FlatATRMult：快慢均线间距小于该倍数的 ATR 才视为无趋势区间。
	FlatATRMult float64 `toml:"flat_atr_mult" json:"flat_atr_mult,omitempty"`
	MaxBarsHeld int     `toml:"max_bars_held" json:"max_bars_held,omitempty"`
}

func (c RangeBoundConfig) withDefaults() RangeBoundConfig {
	out := c
	if out.RewardRisk <= 0 {
		out.RewardRisk = 1.2
	}
	if out.RSIOversold <= 0 {
		out.RSIOversold = 30
	}
	if out.RSIOverbot <= 0 {
		out.RSIOverbot = 70
	}
	if out.FlatATRMult <= 0 {
		out.FlatATRMult = 0.5
	}
	if out.MaxBarsHeld <= 0 {
		out.MaxBarsHeld = 24
	}
	return out
}

// RangeBound 在无趋势区间内做均值回归：RSI 触及极端后回头，向轨道
// 中线方向入场。止损放在不利一侧的慢轨道之外，止盈瞄准中线但不超过
// RR 封顶。震荡变体开启反转出场——停在中线的仓位不能无限等。
type RangeBound struct {
	cfg RangeBoundConfig
}

func NewRangeBound(cfg RangeBoundConfig) *RangeBound {
	return &RangeBound{cfg: cfg.withDefaults()}
}

func (s *RangeBound) Name() string { return "range_bound" }

func (s *RangeBound) ExitRules() exit.Rules {
	return exit.Rules{
		TrailingExit: false,
		ReversalExit: true,
		MaxBarsHeld:  s.cfg.MaxBarsHeld,
	}
}

func (s *RangeBound) Evaluate(ctx EvalContext) Signal {
	cur, prev, ok := ctx.Report.LastTwo()
	if !ok {
		return None("insufficient indicator history")
	}
	price := ctx.Price
	if price <= 0 {
		return None("no current price")
	}

	// 区间判定：快慢均线纠缠在 FlatATRMult×ATR 以内。
	if cur.ATR <= 0 || math.Abs(cur.EMAFast-cur.EMASlow) > s.cfg.FlatATRMult*cur.ATR {
		return None("trending regime, fade disabled")
	}
	mid := cur.BandMid
	if mid <= 0 {
		return None("band midline unavailable")
	}

	// 极端触达后回头：前一根在极端区、当前根离开。
	fadeLong := prev.RSI <= s.cfg.RSIOversold && cur.RSI > s.cfg.RSIOversold && price < mid
	fadeShort := prev.RSI >= s.cfg.RSIOverbot && cur.RSI < s.cfg.RSIOverbot && price > mid

	switch {
	case fadeLong:
		stop := math.Min(cur.BandSlow, price-cur.ATR)
		sig := finishSignal(KindBuy, price, stop,
			s.cfg.RewardRisk, fmt.Sprintf("rsi fade from %.1f toward midline", prev.RSI))
		return capTakeProfitAtMid(sig, mid)
	case fadeShort:
		stop := math.Max(cur.BandSlow, price+cur.ATR)
		sig := finishSignal(KindSell, price, stop,
			s.cfg.RewardRisk, fmt.Sprintf("rsi fade from %.1f toward midline", prev.RSI))
		return capTakeProfitAtMid(sig, mid)
	default:
		return None("no oscillator extreme to fade")
	}
}

// capTakeProfitAtMid 把止盈限制在中线以内（回归交易不追过中线）。
func capTakeProfitAtMid(sig Signal, mid float64) Signal {
	if sig.Kind == KindBuy && sig.TakeProfit > mid {
		sig.TakeProfit = mid
	}
	if sig.Kind == KindSell && sig.TakeProfit < mid {
		sig.TakeProfit = mid
	}
	return sig
}
