package config

import (
	"fmt"
	"os"
	"strings"
)

// 默认值常量
const (
	defaultAppEnv          = "dev"
	defaultAppLogLevel     = "info"
	defaultAppHTTPAddr     = ":9991"
	defaultAppLogPath      = "/data/logs/strend-live.log"
	defaultKlineMaxCached  = 500
	defaultMarketName      = "binance"
	defaultMarketREST      = "https://fapi.binance.com"
	defaultInterval        = "15m"
	defaultHigherInterval  = "1h"
	defaultLeverage        = 3
	defaultRiskPerTrade    = 0.01
	defaultMaxOpen         = 3
	defaultMaxOpensCycle   = 1
	defaultCooldownSeconds = 900
	defaultOffsetSeconds   = 5
	defaultMaxDrawdownPct  = 0.10
	defaultProfilesPath    = "configs/strategies.yaml"
	defaultDBPath          = "/data/live/strend.db"
	defaultJournalPath     = "/data/live/journal.db"

	// 环境变量覆盖交易所密钥，避免把凭据写进配置文件。
	envBinanceKey    = "STREND_BINANCE_KEY"
	envBinanceSecret = "STREND_BINANCE_SECRET"
)

// applyDefaults 为所有子配置应用默认值。
func (c *Config) applyDefaults(keys keySet) {
	c.App.applyDefaults(keys)
	c.Kline.applyDefaults(keys)
	c.Market.applyDefaults(keys)
	c.Trading.applyDefaults(keys)
	c.Risk.applyDefaults(keys)
	c.Strategy.applyDefaults(keys)
	c.Store.applyDefaults(keys)
}

func (a *AppConfig) applyDefaults(keys keySet) {
	if a == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("app.env", &a.Env, defaultAppEnv),
		stringFieldDefault("app.log_level", &a.LogLevel, defaultAppLogLevel),
		stringFieldDefault("app.http_addr", &a.HTTPAddr, defaultAppHTTPAddr),
		stringFieldDefault("app.log_path", &a.LogPath, defaultAppLogPath),
	)
}

func (k *KlineConfig) applyDefaults(keys keySet) {
	if k == nil {
		return
	}
	applyFieldDefaults(keys,
		fieldDefault{
			key:   "kline.max_cached",
			need:  func() bool { return k.MaxCached <= 0 },
			apply: func() { k.MaxCached = defaultKlineMaxCached },
		},
	)
}

func (m *MarketConfig) applyDefaults(keys keySet) {
	if m == nil {
		return
	}
	if len(m.Sources) == 0 {
		m.Sources = []MarketSource{{
			Name:        defaultMarketName,
			Enabled:     true,
			RESTBaseURL: defaultMarketREST,
		}}
	}
	for i := range m.Sources {
		src := &m.Sources[i]
		src.Proxy.normalize()
		if strings.TrimSpace(src.Name) == "" {
			if i == 0 {
				src.Name = defaultMarketName
			} else {
				src.Name = fmt.Sprintf("market_%d", i)
			}
		}
		if src.RESTBaseURL == "" {
			src.RESTBaseURL = defaultMarketREST
		}
		// 环境变量优先于文件里的凭据。
		if v := strings.TrimSpace(os.Getenv(envBinanceKey)); v != "" {
			src.APIKey = v
		}
		if v := strings.TrimSpace(os.Getenv(envBinanceSecret)); v != "" {
			src.SecretKey = v
		}
	}
	if strings.TrimSpace(m.ActiveSource) == "" {
		m.ActiveSource = firstEnabledMarket(m.Sources)
	}
}

func (t *TradingConfig) applyDefaults(keys keySet) {
	if t == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("trading.interval", &t.Interval, defaultInterval),
		stringFieldDefault("trading.higher_interval", &t.HigherInterval, defaultHigherInterval),
		fieldDefault{
			key:   "trading.leverage",
			need:  func() bool { return t.Leverage <= 0 },
			apply: func() { t.Leverage = defaultLeverage },
		},
		fieldDefault{
			key:   "trading.risk_per_trade",
			need:  func() bool { return t.RiskPerTrade <= 0 || t.RiskPerTrade > 1 },
			apply: func() { t.RiskPerTrade = defaultRiskPerTrade },
		},
		fieldDefault{
			key:   "trading.max_open_positions",
			need:  func() bool { return t.MaxOpenPositions <= 0 },
			apply: func() { t.MaxOpenPositions = defaultMaxOpen },
		},
		fieldDefault{
			key:   "trading.max_opens_per_cycle",
			need:  func() bool { return t.MaxOpensPerCycle <= 0 },
			apply: func() { t.MaxOpensPerCycle = defaultMaxOpensCycle },
		},
		fieldDefault{
			key:   "trading.cooldown_seconds",
			need:  func() bool { return t.CooldownSeconds <= 0 },
			apply: func() { t.CooldownSeconds = defaultCooldownSeconds },
		},
		fieldDefault{
			key:   "trading.offset_seconds",
			need:  func() bool { return t.OffsetSeconds <= 0 },
			apply: func() { t.OffsetSeconds = defaultOffsetSeconds },
		},
	)
	t.Symbols = normalizeSymbolList(t.Symbols)
	if t.MaxNotionalUSD < 0 {
		t.MaxNotionalUSD = 0
	}
}

func (r *RiskConfig) applyDefaults(keys keySet) {
	if r == nil {
		return
	}
	applyFieldDefaults(keys,
		fieldDefault{
			key:   "risk.max_drawdown_pct",
			need:  func() bool { return r.MaxDrawdownPct <= 0 },
			apply: func() { r.MaxDrawdownPct = defaultMaxDrawdownPct },
		},
		boolFieldDefault("risk.flatten_on_halt", &r.FlattenOnHalt, true),
	)
	if r.DailyLossPct < 0 {
		r.DailyLossPct = 0
	}
}

func (s *StrategyConfig) applyDefaults(keys keySet) {
	if s == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("strategy.profiles_path", &s.ProfilesPath, defaultProfilesPath),
	)
}

func (s *StoreConfig) applyDefaults(keys keySet) {
	if s == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("store.db_path", &s.DBPath, defaultDBPath),
		stringFieldDefault("store.journal_path", &s.JournalPath, defaultJournalPath),
	)
}

// Helper functions

func applyFieldDefaults(keys keySet, defs ...fieldDefault) {
	for _, def := range defs {
		if def.apply == nil {
			continue
		}
		if def.key != "" && keys.isSet(def.key) {
			continue
		}
		if def.need != nil && !def.need() {
			continue
		}
		def.apply()
	}
}

func stringFieldDefault(key string, target *string, def string) fieldDefault {
	return fieldDefault{
		key: key,
		need: func() bool {
			return target != nil && strings.TrimSpace(*target) == ""
		},
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}

func boolFieldDefault(key string, target *bool, def bool) fieldDefault {
	return fieldDefault{
		key:  key,
		need: func() bool { return target != nil },
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}

func firstEnabledMarket(sources []MarketSource) string {
	for _, src := range sources {
		name := strings.TrimSpace(src.Name)
		if src.Enabled && name != "" {
			return name
		}
	}
	if len(sources) > 0 {
		if name := strings.TrimSpace(sources[0].Name); name != "" {
			return name
		}
	}
	return defaultMarketName
}

// normalizeSymbolList 去空白、转大写、去重，保持原有顺序。
func normalizeSymbolList(symbols []string) []string {
	if len(symbols) == 0 {
		return nil
	}
	out := make([]string, 0, len(symbols))
	seen := make(map[string]bool, len(symbols))
	for _, s := range symbols {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
