package config

import (
	"strings"

	"strend/internal/analysis/indicator"
)

// Config 是 Strend 的主配置载体。
type Config struct {
	App        AppConfig        `toml:"app"`
	Kline      KlineConfig      `toml:"kline"`
	Market     MarketConfig     `toml:"market"`
	Trading    TradingConfig    `toml:"trading"`
	Risk       RiskConfig       `toml:"risk"`
	Indicators IndicatorsConfig `toml:"indicators"`
	Strategy   StrategyConfig   `toml:"strategy"`
	Store      StoreConfig      `toml:"store"`
	Notify     NotifyConfig     `toml:"notify"`
}

type AppConfig struct {
	Env      string `toml:"env"`
	LogLevel string `toml:"log_level"`
	HTTPAddr string `toml:"http_addr"`
	LogPath  string `toml:"log_path"`
}

type KlineConfig struct {
	MaxCached int `toml:"max_cached"`
}

type MarketConfig struct {
	ActiveSource string         `toml:"active_source"`
	Sources      []MarketSource `toml:"sources"`
}

type MarketSource struct {
	Name        string      `toml:"name"`
	Enabled     bool        `toml:"enabled"`
	RESTBaseURL string      `toml:"rest_base_url"`
	APIKey      string      `toml:"api_key"`
	SecretKey   string      `toml:"secret_key"`
	Proxy       ProxyConfig `toml:"proxy"`
}

type ProxyConfig struct {
	Enabled bool   `toml:"enabled"`
	RESTURL string `toml:"rest_url"`
	WSURL   string `toml:"ws_url"`
}

func (p *ProxyConfig) normalize() {
	if p == nil {
		return
	}
	p.RESTURL = strings.TrimSpace(p.RESTURL)
	p.WSURL = strings.TrimSpace(p.WSURL)
}

func (m MarketConfig) ResolveActiveSource() MarketSource {
	if len(m.Sources) == 0 {
		return MarketSource{
			Name:        "binance",
			Enabled:     true,
			RESTBaseURL: "https://fapi.binance.com",
		}
	}
	active := strings.ToLower(strings.TrimSpace(m.ActiveSource))
	var fallback MarketSource
	for _, src := range m.Sources {
		if fallback.Name == "" {
			fallback = src
		}
		if !src.Enabled {
			continue
		}
		if active == "" || strings.ToLower(src.Name) == active {
			return src
		}
	}
	return fallback
}

// TradingConfig 控制交易标的、周期与仓位参数。
type TradingConfig struct {
	Symbols          []string `toml:"symbols"`
	Interval         string   `toml:"interval"`
	HigherInterval   string   `toml:"higher_interval"`
	Leverage         int      `toml:"leverage"`
	RiskPerTrade     float64  `toml:"risk_per_trade"`      // 单笔风险占权益比例 0~1
	MaxNotionalUSD   float64  `toml:"max_notional_usd"`    // 单笔名义上限，0 表示不限
	MaxOpenPositions int      `toml:"max_open_positions"`  // 全局持仓上限
	MaxOpensPerCycle int      `toml:"max_opens_per_cycle"` // 单周期全局开仓上限
	CooldownSeconds  int      `toml:"cooldown_seconds"`    // 同 symbol 平仓后冷却
	OffsetSeconds    int      `toml:"offset_seconds"`      // 收盘后延迟评估秒数
	RunImmediately   bool     `toml:"run_immediately"`     // 启动后立刻跑一轮
}

// RiskConfig 配置权益守卫的两条熔断线。
type RiskConfig struct {
	MaxDrawdownPct float64 `toml:"max_drawdown_pct"`
	DailyLossPct   float64 `toml:"daily_loss_pct"`
	FlattenOnHalt  bool    `toml:"flatten_on_halt"`
}

// IndicatorsConfig 镜像指标管线参数，零值沿用管线内部默认。
type IndicatorsConfig struct {
	EMAFast        int     `toml:"ema_fast"`
	EMASlow        int     `toml:"ema_slow"`
	EMATrend       int     `toml:"ema_trend"`
	RSIPeriod      int     `toml:"rsi_period"`
	RSIOversold    float64 `toml:"rsi_oversold"`
	RSIOverbought  float64 `toml:"rsi_overbought"`
	ATRPeriod      int     `toml:"atr_period"`
	BandFastPeriod int     `toml:"band_fast_period"`
	BandFastMult   float64 `toml:"band_fast_mult"`
	BandSlowPeriod int     `toml:"band_slow_period"`
	BandSlowMult   float64 `toml:"band_slow_mult"`
	VolumePeriod   int     `toml:"volume_period"`
	VolumeSpike    float64 `toml:"volume_spike_mult"`
}

// ToSettings 转换为指标管线的参数结构。
func (i IndicatorsConfig) ToSettings() indicator.Settings {
	return indicator.Settings{
		EMA: indicator.EMASettings{Fast: i.EMAFast, Slow: i.EMASlow, Trend: i.EMATrend},
		RSI: indicator.RSISettings{
			Period:     i.RSIPeriod,
			Oversold:   i.RSIOversold,
			Overbought: i.RSIOverbought,
		},
		ATR: indicator.ATRSettings{Period: i.ATRPeriod},
		Bands: indicator.BandSettings{
			FastPeriod: i.BandFastPeriod,
			FastMult:   i.BandFastMult,
			SlowPeriod: i.BandSlowPeriod,
			SlowMult:   i.BandSlowMult,
		},
		Volume: indicator.VolumeSettings{Period: i.VolumePeriod, SpikeMult: i.VolumeSpike},
	}
}

// StrategyConfig 指向策略档案文件（热加载）。
type StrategyConfig struct {
	ProfilesPath string `toml:"profiles_path"`
}

// StoreConfig 指向两份持久化文件：状态库与事件流水库。
type StoreConfig struct {
	DBPath      string `toml:"db_path"`
	JournalPath string `toml:"journal_path"`
}

type NotifyConfig struct {
	Telegram TelegramConfig `toml:"telegram"`
}

type TelegramConfig struct {
	Enabled  bool   `toml:"enabled"`
	BotToken string `toml:"bot_token"`
	ChatID   string `toml:"chat_id"`
}

// keySet 用于追踪配置文件中显式设置的字段路径。
type keySet map[string]struct{}

func (k keySet) mark(path string) {
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return
	}
	k[path] = struct{}{}
}

func (k keySet) isSet(path string) bool {
	if len(k) == 0 {
		return false
	}
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return false
	}
	_, ok := k[path]
	return ok
}

// fieldDefault 描述单个字段的默认值设置规则。
type fieldDefault struct {
	key   string
	need  func() bool
	apply func()
}
