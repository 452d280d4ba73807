package config

import (
	"fmt"
	"strings"
)

// validate 对配置进行基础校验。
func validate(c *Config) error {
	if err := c.Kline.validate(); err != nil {
		return err
	}
	if err := c.Market.validate(); err != nil {
		return err
	}
	if err := c.Trading.validate(); err != nil {
		return err
	}
	if err := c.Risk.validate(); err != nil {
		return err
	}
	if err := c.Notify.validate(); err != nil {
		return err
	}
	return nil
}

func (k *KlineConfig) validate() error {
	if k.MaxCached < 50 || k.MaxCached > 2000 {
		return fmt.Errorf("kline.max_cached must be in [50,2000]")
	}
	return nil
}

func (m *MarketConfig) validate() error {
	if len(m.Sources) == 0 {
		return fmt.Errorf("market.sources requires at least one source")
	}
	activeName := strings.ToLower(strings.TrimSpace(m.ActiveSource))
	enabled := 0
	activeFound := false
	for _, src := range m.Sources {
		if !src.Enabled {
			continue
		}
		enabled++
		if strings.TrimSpace(src.RESTBaseURL) == "" {
			return fmt.Errorf("market source %s missing rest_base_url", src.Name)
		}
		if src.Proxy.Enabled && src.Proxy.RESTURL == "" && src.Proxy.WSURL == "" {
			return fmt.Errorf("market source %s has proxy enabled but no rest_url or ws_url", src.Name)
		}
		name := strings.ToLower(strings.TrimSpace(src.Name))
		if activeName == "" || name == activeName {
			activeFound = true
		}
	}
	if enabled == 0 {
		return fmt.Errorf("market.sources requires at least one enabled source")
	}
	if !activeFound {
		return fmt.Errorf("enabled market.active_source=%s not found", m.ActiveSource)
	}
	return nil
}

func (t *TradingConfig) validate() error {
	if len(t.Symbols) == 0 {
		return fmt.Errorf("trading.symbols requires at least one symbol")
	}
	if !IsValidInterval(t.Interval) {
		return fmt.Errorf("trading.interval is not a valid interval: %s", t.Interval)
	}
	if t.HigherInterval != "" && !IsValidInterval(t.HigherInterval) {
		return fmt.Errorf("trading.higher_interval is not a valid interval: %s", t.HigherInterval)
	}
	if t.RiskPerTrade <= 0 || t.RiskPerTrade > 1 {
		return fmt.Errorf("trading.risk_per_trade must be in (0, 1]")
	}
	if t.Leverage <= 0 || t.Leverage > 125 {
		return fmt.Errorf("trading.leverage must be in [1, 125]")
	}
	if t.MaxNotionalUSD < 0 {
		return fmt.Errorf("trading.max_notional_usd must be >= 0")
	}
	if t.MaxOpenPositions <= 0 {
		return fmt.Errorf("trading.max_open_positions must be > 0")
	}
	if t.MaxOpensPerCycle <= 0 {
		return fmt.Errorf("trading.max_opens_per_cycle must be > 0")
	}
	if t.OffsetSeconds < 0 {
		return fmt.Errorf("trading.offset_seconds must be >= 0")
	}
	return nil
}

func (r *RiskConfig) validate() error {
	if r.MaxDrawdownPct <= 0 || r.MaxDrawdownPct >= 1 {
		return fmt.Errorf("risk.max_drawdown_pct must be in (0, 1)")
	}
	if r.DailyLossPct < 0 || r.DailyLossPct >= 1 {
		return fmt.Errorf("risk.daily_loss_pct must be in [0, 1)")
	}
	return nil
}

func (n *NotifyConfig) validate() error {
	if n.Telegram.Enabled {
		if n.Telegram.BotToken == "" || n.Telegram.ChatID == "" {
			return fmt.Errorf("telegram notification enabled but missing bot_token or chat_id")
		}
	}
	return nil
}

// IsValidInterval 简易校验：以数字开头，以 m/h/d 结尾。
// 与下游 K 线周期解析保持一致，周线不支持。
func IsValidInterval(s string) bool {
	if s == "" {
		return false
	}
	suf := s[len(s)-1]
	if suf != 'm' && suf != 'h' && suf != 'd' {
		return false
	}
	for i := 0; i < len(s)-1; i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
