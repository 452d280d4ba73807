package market

import (
	"context"
	"time"

	"strend/internal/logger"
)

// 中文说明：
// 预热器：启动时经 Source 拉足指标所需的历史，避免首轮评估因 warm-up 不足而全部跳过。

const warmupFetchCap = 1500

type Warmer struct {
	Store  KlineStore
	Source Source
	Max    int
}

func NewWarmer(store KlineStore, src Source, max int) *Warmer {
	return &Warmer{Store: store, Source: src, Max: max}
}

// Warmup 对每个 symbol×interval 拉取至少 need 根已收盘K线。
// 单个 symbol 失败不致命：当轮跳过，由调用方下个周期重试。
func (w *Warmer) Warmup(ctx context.Context, symbols []string, needs map[string]int) {
	if w == nil || w.Store == nil || w.Source == nil || len(needs) == 0 {
		return
	}
	for _, sym := range symbols {
		for interval, need := range needs {
			select {
			case <-ctx.Done():
				return
			default:
			}
			if need <= 0 {
				need = 200
			}
			cur, err := w.Store.Get(ctx, sym, interval)
			if err != nil {
				logger.Warnf("[warmup] 读取缓存 %s %s 失败: %v", sym, interval, err)
				continue
			}
			if len(cur) >= need {
				logger.Infof("[warmup] %s %s ready (%d/%d)", sym, interval, len(cur), need)
				continue
			}
			limit := need
			if limit > warmupFetchCap {
				limit = warmupFetchCap
			}
			start := time.Now()
			batch, err := w.Source.FetchHistory(ctx, sym, interval, limit)
			if err != nil {
				logger.Warnf("[warmup] 拉取 %s %s 失败: %v", sym, interval, err)
				continue
			}
			if len(batch) == 0 {
				logger.Warnf("[warmup] 拉取 %s %s 得到空数据", sym, interval)
				continue
			}
			keep := w.Max
			if keep < need+50 {
				keep = need + 50
			}
			if err := w.Store.Put(ctx, sym, interval, batch, keep); err != nil {
				logger.Warnf("[warmup] 写入 %s %s 失败: %v", sym, interval, err)
				continue
			}
			logger.Infof("[warmup] %s %s 拉取 %d 条 (%.1fs)", sym, interval, len(batch), time.Since(start).Seconds())
		}
	}
}
