package agent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"strend/internal/gateway/database"
	"strend/internal/gateway/notifier"
	"strend/internal/ledger"
	"strend/internal/trader"
	"strend/internal/transport/http/ops"
)

// LiveService 同时充当 ops API 的后端。

var _ ops.Backend = (*LiveService)(nil)

func (s *LiveService) Status() ops.StatusView {
	highMark, halted, reason, haltedAt := s.deps.Guard.Snapshot()
	stats := s.deps.Source.Stats()

	s.mu.Lock()
	lastTick := s.lastTick
	lastEquity := s.lastEquity
	startedAt := s.startedAt
	s.mu.Unlock()

	return ops.StatusView{
		Symbols:       append([]string(nil), s.cfg.Symbols...),
		Interval:      s.cfg.Interval,
		StartedAt:     startedAt,
		LastTick:      lastTick,
		Equity:        lastEquity,
		HighMark:      highMark,
		Halted:        halted,
		HaltReason:    reason,
		HaltedAt:      haltedAt,
		OpenPositions: s.deps.Ledger.OpenCount(),
		WSReconnects:  stats.Reconnects,
		WSLastError:   stats.LastError,
	}
}

func (s *LiveService) Positions() []ledger.Position {
	return s.deps.Ledger.List()
}

func (s *LiveService) EquityHistory(ctx context.Context, since time.Time, limit int) ([]database.EquitySnapshotRecord, error) {
	if s.deps.Equity == nil {
		return nil, nil
	}
	return s.deps.Equity.ListEquitySnapshots(ctx, since, limit)
}

// Halt 人工熔断：立即阻断所有新开仓。
func (s *LiveService) Halt(reason string) {
	s.deps.Guard.Halt(reason)
	s.journal("halt", "", map[string]any{"reason": reason, "manual": true})
	s.notify(notifier.StructuredMessage{
		Icon:      "🛑",
		Title:     "人工熔断",
		Sections:  []notifier.MessageSection{{Lines: []string{fmt.Sprintf("原因: %s", reason)}}},
		Timestamp: time.Now(),
	})
}

// Resume 解除熔断。高水位线不重置，继续回撤会立刻再次熔断。
func (s *LiveService) Resume() {
	s.deps.Guard.Resume()
	s.mu.Lock()
	s.haltNotified = false
	s.flattenedHalt = false
	s.mu.Unlock()
	s.journal("resume", "", nil)
	s.notify(notifier.StructuredMessage{
		Icon:      "✅",
		Title:     "熔断已解除，恢复交易",
		Timestamp: time.Now(),
	})
}

// ClosePosition 人工平掉指定 symbol，同步等待执行结果。
func (s *LiveService) ClosePosition(ctx context.Context, symbol, reason string) error {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	actor, ok := s.deps.Actors[symbol]
	if !ok {
		return fmt.Errorf("未知 symbol %q", symbol)
	}
	timeout := 30 * time.Second
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}
	return actor.SendSync(trader.EventEnvelope{
		Type:    trader.EventManualClose,
		Symbol:  symbol,
		Payload: trader.ManualClosePayload{Reason: reason},
	}, timeout)
}
