package strategy

import (
	"fmt"

	"strend/internal/strategy/exit"
)

// MarketMakingConfig 是价差回收变体的参数。
type MarketMakingConfig struct {
	RewardRisk float64 `toml:"reward_risk" json:"reward_risk,omitempty"`
	// EntryATRMult：价格偏离中线超过该倍数的 ATR 才反向入场。
	EntryATRMult float64 `toml:"entry_atr_mult" json:"entry_atr_mult,omitempty"`
	// StopATRFrac：止损距离 = StopATRFrac × ATR（贴身止损）。
	StopATRFrac float64 `toml:"stop_atr_frac" json:"stop_atr_frac,omitempty"`
	// MaxVolatilityPct：ATR/价格高于该值视为高波动，停止报价。
	MaxVolatilityPct float64 `toml:"max_volatility_pct" json:"max_volatility_pct,omitempty"`
	MaxBarsHeld      int     `toml:"max_bars_held" json:"max_bars_held,omitempty"`
}

func (c MarketMakingConfig) withDefaults() MarketMakingConfig {
	out := c
	if out.RewardRisk <= 0 {
		out.RewardRisk = 1
	}
	if out.EntryATRMult <= 0 {
		out.EntryATRMult = 1.5
	}
	if out.StopATRFrac <= 0 {
		out.StopATRFrac = 0.75
	}
	if out.MaxVolatilityPct <= 0 {
		out.MaxVolatilityPct = 0.02
	}
	if out.MaxBarsHeld <= 0 {
		out.MaxBarsHeld = 8
	}
	return out
}

// MarketMaking 做低波动环境下的 ATR 偏离回收：价格短时偏离轨道中线
// 超过 EntryATRMult×ATR 时反向入场，贴身 ATR 止损，目标回到中线。
// 数据模型只有 OHLCV，没有盘口深度，因此不做真正的双边挂单。
type MarketMaking struct {
	cfg MarketMakingConfig
}

func NewMarketMaking(cfg MarketMakingConfig) *MarketMaking {
	return &MarketMaking{cfg: cfg.withDefaults()}
}

func (s *MarketMaking) Name() string { return "market_making" }

func (s *MarketMaking) ExitRules() exit.Rules {
	return exit.Rules{
		TrailingExit: false,
		ReversalExit: false,
		MaxBarsHeld:  s.cfg.MaxBarsHeld,
	}
}

func (s *MarketMaking) Evaluate(ctx EvalContext) Signal {
	cur, _, ok := ctx.Report.LastTwo()
	if !ok {
		return None("insufficient indicator history")
	}
	price := ctx.Price
	if price <= 0 {
		return None("no current price")
	}
	if cur.ATR <= 0 || cur.BandMid <= 0 {
		return None("volatility data unavailable")
	}
	// 高波动环境退出报价。
	if cur.ATR/price > s.cfg.MaxVolatilityPct {
		return None("volatility above quoting limit")
	}

	displacement := price - cur.BandMid
	threshold := s.cfg.EntryATRMult * cur.ATR
	stopDist := s.cfg.StopATRFrac * cur.ATR

	switch {
	case displacement <= -threshold:
		sig := finishSignal(KindBuy, price, price-stopDist, s.cfg.RewardRisk,
			fmt.Sprintf("displacement %.2f atr below midline", -displacement/cur.ATR))
		return capTakeProfitAtMid(sig, cur.BandMid)
	case displacement >= threshold:
		sig := finishSignal(KindSell, price, price+stopDist, s.cfg.RewardRisk,
			fmt.Sprintf("displacement %.2f atr above midline", displacement/cur.ATR))
		return capTakeProfitAtMid(sig, cur.BandMid)
	default:
		return None("price within quoting band")
	}
}
