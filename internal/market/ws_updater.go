package market

import (
	"context"
	"fmt"
	"sync"

	"strend/internal/logger"
)

var wsLog = logger.Scope("WS")

// WSUpdater 消费 Source 的收盘推送：先写入 KlineStore，再把事件交给
// OnEvent。交易逻辑绝不在网络回调里执行——OnEvent 只应把任务投递到
// 对应 symbol 的串行队列。
type WSUpdater struct {
	Store  KlineStore
	Max    int
	Source Source

	OnConnected    func()
	OnDisconnected func(error)
	OnEvent        func(CandleEvent)

	startOnce sync.Once
}

type WSUpdaterOption func(*WSUpdater)

func WithWSCallbacks(onConnect func(), onDisconnect func(error)) WSUpdaterOption {
	return func(u *WSUpdater) {
		u.OnConnected = onConnect
		u.OnDisconnected = onDisconnect
	}
}

func WithWSEventHandler(handler func(CandleEvent)) WSUpdaterOption {
	return func(u *WSUpdater) {
		u.OnEvent = handler
	}
}

func NewWSUpdater(store KlineStore, max int, src Source, opts ...WSUpdaterOption) *WSUpdater {
	u := &WSUpdater{Store: store, Max: max, Source: src}
	for _, opt := range opts {
		if opt != nil {
			opt(u)
		}
	}
	return u
}

func (u *WSUpdater) Start(ctx context.Context, symbols, intervals []string) error {
	if u.Source == nil {
		return fmt.Errorf("ws updater missing source")
	}
	if len(symbols) == 0 || len(intervals) == 0 {
		return fmt.Errorf("ws updater requires symbols & intervals")
	}
	events, err := u.Source.Subscribe(ctx, symbols, intervals, SubscribeOptions{
		OnConnect:    u.OnConnected,
		OnDisconnect: u.OnDisconnected,
	})
	if err != nil {
		return err
	}
	u.startOnce.Do(func() {
		go u.consume(ctx, events)
	})
	wsLog.Infof("订阅已启动 symbols=%v intervals=%v", symbols, intervals)
	return nil
}

func (u *WSUpdater) consume(ctx context.Context, events <-chan CandleEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				wsLog.Warnf("事件通道关闭")
				return
			}
			if err := ev.Candle.Validate(); err != nil {
				wsLog.Warnf("丢弃脏K线 %s %s: %v", ev.Symbol, ev.Interval, err)
				continue
			}
			if err := u.Store.Put(ctx, ev.Symbol, ev.Interval, []Candle{ev.Candle}, u.Max); err != nil {
				wsLog.Warnf("写入 %s %s 失败: %v", ev.Symbol, ev.Interval, err)
				continue
			}
			if u.OnEvent != nil {
				u.OnEvent(ev)
			}
		}
	}
}
