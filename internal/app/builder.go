package app

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"strend/internal/agent"
	scfg "strend/internal/config"
	"strend/internal/analysis/indicator"
	"strend/internal/gateway/binance"
	"strend/internal/gateway/database"
	"strend/internal/gateway/notifier"
	"strend/internal/ledger"
	"strend/internal/logger"
	"strend/internal/market"
	"strend/internal/risk"
	"strend/internal/store/gormstore"
	"strend/internal/store/journal"
	"strend/internal/strategy/exit"
	"strend/internal/strategy/profile"
	"strend/internal/trader"
	"strend/internal/transport/http/ops"
)

// Build 按依赖顺序组装全部组件：行情源 → 存储 → 账本/守卫 →
// 策略档案 → actor 扇出 → 控制循环 → ops HTTP。
func Build(cfg *scfg.Config) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	logger.SetLevel(cfg.App.LogLevel)

	src, exec, err := buildExchangeStack(cfg)
	if err != nil {
		return nil, err
	}

	klines := market.NewMemoryKlineStore()

	gormStore, err := gormstore.NewGormStore(cfg.Store.DBPath)
	if err != nil {
		return nil, fmt.Errorf("初始化状态库失败: %w", err)
	}
	jrnl, err := journal.Open(cfg.Store.JournalPath)
	if err != nil {
		gormStore.Close()
		return nil, fmt.Errorf("初始化事件流水库失败: %w", err)
	}

	led := ledger.New(cfg.Trading.MaxOpenPositions, gormStore)
	guard := risk.NewEquityGuard(risk.GuardConfig{
		MaxDrawdownPct: cfg.Risk.MaxDrawdownPct,
		DailyLossPct:   cfg.Risk.DailyLossPct,
	})
	budget := trader.NewCycleBudget(cfg.Trading.MaxOpensPerCycle)

	profiles, err := profile.NewRegistry(cfg.Strategy.ProfilesPath)
	if err != nil {
		gormStore.Close()
		jrnl.Close()
		return nil, fmt.Errorf("加载策略档案失败: %w", err)
	}
	// 热重载落流水，方便复盘"这单是哪一版档案开的"。
	profiles.OnChange(func(snap profile.Snapshot) {
		payload, _ := json.Marshal(map[string]any{
			"version":   snap.Version,
			"templates": len(snap.Templates),
			"bindings":  len(snap.Bindings),
		})
		entry := database.JournalEntry{
			ID:        uuid.NewString(),
			Kind:      "profile-reload",
			Payload:   payload,
			CreatedAt: time.Now(),
		}
		if err := jrnl.Append(context.Background(), entry); err != nil {
			logger.Warnf("[app] 写档案重载流水失败: %v", err)
		}
	})

	interval, err := market.ParseInterval(cfg.Trading.Interval)
	if err != nil {
		gormStore.Close()
		jrnl.Close()
		return nil, fmt.Errorf("非法交易周期 %q: %w", cfg.Trading.Interval, err)
	}
	supervisor := exit.NewSupervisor(int(interval / time.Minute))

	var textNotifier notifier.TextNotifier
	if cfg.Notify.Telegram.Enabled {
		textNotifier = notifier.NewTelegram(cfg.Notify.Telegram.BotToken, cfg.Notify.Telegram.ChatID)
	}

	indSettings := cfg.Indicators.ToSettings()
	actorSettings := trader.Settings{
		Interval:       cfg.Trading.Interval,
		HigherInterval: cfg.Trading.HigherInterval,
		Indicators:     indSettings,
		RiskPerTrade:   cfg.Trading.RiskPerTrade,
		MaxNotionalUSD: cfg.Trading.MaxNotionalUSD,
		Leverage:       cfg.Trading.Leverage,
		CooldownSecs:   cfg.Trading.CooldownSeconds,
	}
	deps := trader.Deps{
		Exchange:   exec,
		Ledger:     led,
		Guard:      guard,
		Sizer:      risk.Sizer{},
		Supervisor: supervisor,
		Profiles:   profiles,
		Klines:     klines,
		Trades:     gormStore,
		Journal:    jrnl,
		Notifier:   textNotifier,
		Budget:     budget,
	}
	actors := make(map[string]*trader.Actor, len(cfg.Trading.Symbols))
	for _, symbol := range cfg.Trading.Symbols {
		actor, err := trader.NewActor(symbol, actorSettings, deps)
		if err != nil {
			gormStore.Close()
			jrnl.Close()
			return nil, err
		}
		actors[actor.Symbol()] = actor
	}

	liveSvc, err := agent.NewLiveService(agent.Config{
		Symbols:          cfg.Trading.Symbols,
		Interval:         cfg.Trading.Interval,
		HigherInterval:   cfg.Trading.HigherInterval,
		OffsetSeconds:    cfg.Trading.OffsetSeconds,
		RunImmediately:   cfg.Trading.RunImmediately,
		MaxOpensPerCycle: cfg.Trading.MaxOpensPerCycle,
		FlattenOnHalt:    cfg.Risk.FlattenOnHalt,
		MaxBars:          cfg.Kline.MaxCached,
		WarmupNeed:       indicator.MinHistory(indSettings) + 2,
	}, agent.Deps{
		Source:   src,
		Store:    klines,
		Exchange: exec,
		Ledger:   led,
		Guard:    guard,
		Budget:   budget,
		Actors:   actors,
		Equity:   gormStore,
		Journal:  jrnl,
		Notifier: textNotifier,
	})
	if err != nil {
		gormStore.Close()
		jrnl.Close()
		return nil, err
	}

	opsServer, err := ops.NewServer(ops.ServerConfig{
		Addr:    cfg.App.HTTPAddr,
		Backend: liveSvc,
		Journal: jrnl,
		Trades:  gormStore,
	})
	if err != nil {
		gormStore.Close()
		jrnl.Close()
		return nil, err
	}

	logger.InfoBlock(fmt.Sprintf(`strend 组装完成
symbols:   %v
interval:  %s (higher=%s)
leverage:  %dx  risk/trade=%.2f%%
max_open:  %d  opens/cycle=%d  cooldown=%ds
guard:     drawdown=%.1f%% daily_loss=%.1f%% flatten=%v
http:      %s`,
		cfg.Trading.Symbols,
		cfg.Trading.Interval, cfg.Trading.HigherInterval,
		cfg.Trading.Leverage, cfg.Trading.RiskPerTrade*100,
		cfg.Trading.MaxOpenPositions, cfg.Trading.MaxOpensPerCycle, cfg.Trading.CooldownSeconds,
		cfg.Risk.MaxDrawdownPct*100, cfg.Risk.DailyLossPct*100, cfg.Risk.FlattenOnHalt,
		cfg.App.HTTPAddr))

	return &App{
		cfg:  cfg,
		live: liveSvc,
		ops:  opsServer,
		closers: []func() error{
			jrnl.Close,
			gormStore.Close,
		},
	}, nil
}

func buildExchangeStack(cfg *scfg.Config) (*binance.Source, *binance.Executor, error) {
	active := cfg.Market.ResolveActiveSource()
	src, err := binance.NewSource(binance.Config{
		APIKey:       active.APIKey,
		SecretKey:    active.SecretKey,
		RESTBaseURL:  active.RESTBaseURL,
		ProxyEnabled: active.Proxy.Enabled,
		RESTProxyURL: active.Proxy.RESTURL,
		WSProxyURL:   active.Proxy.WSURL,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("初始化行情源失败: %w", err)
	}
	exec, err := binance.NewExecutor(src)
	if err != nil {
		return nil, nil, fmt.Errorf("初始化交易执行器失败: %w", err)
	}
	return src, exec, nil
}
