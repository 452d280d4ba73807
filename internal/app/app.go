// Package app 负责应用级编排：加载配置 → 初始化依赖 → 启动实盘
// 控制循环与 ops HTTP 服务。
package app

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"strend/internal/agent"
	scfg "strend/internal/config"
	"strend/internal/logger"
	"strend/internal/transport/http/ops"
)

type App struct {
	cfg     *scfg.Config
	live    *agent.LiveService
	ops     *ops.Server
	closers []func() error
}

// NewApp 根据配置构建应用对象（不启动）。
func NewApp(cfg *scfg.Config) (*App, error) {
	return Build(cfg)
}

// Run 启动控制循环与 HTTP 服务，阻塞直到 ctx 取消或任一服务出错。
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.cfg == nil {
		return fmt.Errorf("app not initialized")
	}
	defer a.Close()

	logger.Infof("[app] strend 启动 symbols=%v interval=%s http=%s",
		a.cfg.Trading.Symbols, a.cfg.Trading.Interval, a.ops.Addr())

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		if err := a.ops.Start(ctx); err != nil {
			return fmt.Errorf("ops http server error: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		return a.live.Run(ctx)
	})
	return group.Wait()
}

// LiveService 暴露底层控制循环，供测试与回放使用。
func (a *App) LiveService() *agent.LiveService {
	if a == nil {
		return nil
	}
	return a.live
}

// Close 释放持久化资源。可重复调用。
func (a *App) Close() {
	if a == nil {
		return
	}
	for _, fn := range a.closers {
		if fn == nil {
			continue
		}
		if err := fn(); err != nil {
			logger.Warnf("[app] 关闭资源失败: %v", err)
		}
	}
	a.closers = nil
}
