package strategy

import (
	"fmt"

	"strend/internal/strategy/exit"
)

// TrendFollowingConfig 是趋势跟随变体的参数。
type TrendFollowingConfig struct {
	RewardRisk  float64 `toml:"reward_risk" json:"reward_risk,omitempty"`
	RSIMid      float64 `toml:"rsi_mid" json:"rsi_mid,omitempty"`
	RSIOversold float64 `toml:"rsi_oversold" json:"rsi_oversold,omitempty"`
	RSIOverbot  float64 `toml:"rsi_overbought" json:"rsi_overbought,omitempty"`
	MaxBarsHeld int     `toml:"max_bars_held" json:"max_bars_held,omitempty"`
	// RequireHigherTF 启用高周期趋势一致性确认（只收窄入场集合）。
	RequireHigherTF bool `toml:"require_higher_tf" json:"require_higher_tf,omitempty"`
}

func (c TrendFollowingConfig) withDefaults() TrendFollowingConfig {
	out := c
	if out.RewardRisk <= 0 {
		out.RewardRisk = 1.5
	}
	if out.RSIMid <= 0 {
		out.RSIMid = 50
	}
	if out.RSIOversold <= 0 {
		out.RSIOversold = 30
	}
	if out.RSIOverbot <= 0 {
		out.RSIOverbot = 70
	}
	if out.MaxBarsHeld <= 0 {
		out.MaxBarsHeld = 48
	}
	return out
}

// TrendFollowing 是规范变体：五个独立确认全部成立才入场，缺一即 None。
//  (a) 价格站在趋势均线的交易方向一侧；
//  (b) 快慢均线恰好在当前K线交叉（本根穿越，不是单纯位于一侧）；
//  (c) 价格在快线的确认一侧；
//  (d) RSI 处于入场方向的非极端区间；
//  (e) 当前或前一根放量。
// 止损取前一根慢轨道值——当前根的轨道仍在对触发K线的波动做出反应，
// 不能作为锚。
type TrendFollowing struct {
	cfg TrendFollowingConfig
}

func NewTrendFollowing(cfg TrendFollowingConfig) *TrendFollowing {
	return &TrendFollowing{cfg: cfg.withDefaults()}
}

func (s *TrendFollowing) Name() string { return "trend_following" }

func (s *TrendFollowing) ExitRules() exit.Rules {
	return exit.Rules{
		TrailingExit: true,
		ReversalExit: false,
		MaxBarsHeld:  s.cfg.MaxBarsHeld,
		RSIMid:       s.cfg.RSIMid,
	}
}

func (s *TrendFollowing) Evaluate(ctx EvalContext) Signal {
	cur, prev, ok := ctx.Report.LastTwo()
	if !ok {
		return None("insufficient indicator history")
	}
	price := ctx.Price
	if price <= 0 {
		return None("no current price")
	}

	crossedUp := prev.EMAFast <= prev.EMASlow && cur.EMAFast > cur.EMASlow
	crossedDown := prev.EMAFast >= prev.EMASlow && cur.EMAFast < cur.EMASlow
	volumeOK := cur.VolumeSpike || prev.VolumeSpike

	longOK := price > cur.EMATrend &&
		crossedUp &&
		price > cur.EMAFast &&
		cur.RSI >= s.cfg.RSIMid && cur.RSI < s.cfg.RSIOverbot &&
		volumeOK
	shortOK := price < cur.EMATrend &&
		crossedDown &&
		price < cur.EMAFast &&
		cur.RSI <= s.cfg.RSIMid && cur.RSI > s.cfg.RSIOversold &&
		volumeOK

	switch {
	case longOK:
		if s.cfg.RequireHigherTF && !higherTimeframeAgrees(ctx.Higher, true) {
			return None("higher timeframe disagrees")
		}
		reason := fmt.Sprintf("ema cross up, price>trend, rsi=%.1f, vol=%.1fx",
			cur.RSI, cur.VolumeRatio)
		return finishSignal(KindBuy, price, prev.BandSlow, s.cfg.RewardRisk, reason)
	case shortOK:
		if s.cfg.RequireHigherTF && !higherTimeframeAgrees(ctx.Higher, false) {
			return None("higher timeframe disagrees")
		}
		reason := fmt.Sprintf("ema cross down, price<trend, rsi=%.1f, vol=%.1fx",
			cur.RSI, cur.VolumeRatio)
		return finishSignal(KindSell, price, prev.BandSlow, s.cfg.RewardRisk, reason)
	default:
		return None("entry confirmations not met")
	}
}
