package ledger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"strend/internal/gateway/database"
	"strend/internal/gateway/exchange"
	"strend/internal/logger"
)

// 中文说明：
// PositionLedger 是进程内持仓事实的唯一权威：
//   - 每个 symbol 至多一个非 Closed 持仓；
//   - 全局开仓数受 cap 限制；
//   - TryOpen 的 check-then-insert 在一把互斥锁内完成，杜绝同周期并发评估
//     撞出重复仓位；
//   - 交易所报告的状态永远优先于本地记忆（Reconcile）。
// 由控制循环构造并显式传递，不存在包级可变单例。

// Status 是持仓状态机：Open → Closing → Closed（移除）。只允许前向迁移。
type Status int

const (
	StatusOpen Status = iota + 1
	StatusClosing
	StatusClosed
)

func (s Status) String() string {
	switch s {
	case StatusOpen:
		return "open"
	case StatusClosing:
		return "closing"
	case StatusClosed:
		return "closed"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

var (
	ErrDuplicatePosition = errors.New("ledger: symbol 已有未关闭持仓")
	ErrGlobalCap         = errors.New("ledger: 全局持仓数已达上限")
	ErrNotFound          = errors.New("ledger: 持仓不存在")
	ErrBadProposal       = errors.New("ledger: 开仓提案不合法")
)

// Position 是一笔持仓的账本记录。TrailingStop 只由 UpdateTrailingStop
// 单调收紧，其余字段开仓后不变。
type Position struct {
	ID           string
	Symbol       string
	Side         exchange.Side
	Quantity     float64
	EntryTime    time.Time
	EntryPrice   float64
	StopLoss     float64
	TakeProfit   float64
	TrailingStop float64
	Strategy     string
	Status       Status
}

// Proposal 是 SignalEngine + RiskSizer 产出的开仓提案。
type Proposal struct {
	Side       exchange.Side
	Quantity   float64
	EntryPrice float64
	StopLoss   float64
	TakeProfit float64
	Strategy   string
	EntryTime  time.Time
}

func (p Proposal) validate() error {
	if p.Side != exchange.SideLong && p.Side != exchange.SideShort {
		return fmt.Errorf("%w: side=%q", ErrBadProposal, p.Side)
	}
	if p.Quantity <= 0 || p.EntryPrice <= 0 || p.StopLoss <= 0 || p.TakeProfit <= 0 {
		return fmt.Errorf("%w: qty/entry/sl/tp 必须为正", ErrBadProposal)
	}
	return nil
}

// Drift 描述一次对帐修正。
type Drift struct {
	Symbol string
	Status Status
	Note   string
}

// Ledger 持有全部在管持仓。store 可选，用于崩溃恢复的持久化，
// 写失败只告警不阻断交易——内存状态才是运行时权威。
type Ledger struct {
	mu        sync.Mutex
	positions map[string]*Position
	maxOpen   int

	store database.PositionStore
}

func New(maxOpen int, store database.PositionStore) *Ledger {
	if maxOpen <= 0 {
		maxOpen = 3
	}
	return &Ledger{
		positions: make(map[string]*Position),
		maxOpen:   maxOpen,
		store:     store,
	}
}

// TryOpen 原子地执行“无同名持仓 + 未达全局上限”检查并登记新仓。
// 这是整个系统唯一的开仓准入点。
func (l *Ledger) TryOpen(ctx context.Context, symbol string, p Proposal) (Position, error) {
	symbol = normalizeSymbol(symbol)
	if symbol == "" {
		return Position{}, fmt.Errorf("%w: symbol 为空", ErrBadProposal)
	}
	if err := p.validate(); err != nil {
		return Position{}, err
	}
	entryTime := p.EntryTime
	if entryTime.IsZero() {
		entryTime = time.Now().UTC()
	}

	l.mu.Lock()
	if _, exists := l.positions[symbol]; exists {
		l.mu.Unlock()
		return Position{}, ErrDuplicatePosition
	}
	if len(l.positions) >= l.maxOpen {
		l.mu.Unlock()
		return Position{}, ErrGlobalCap
	}
	pos := &Position{
		ID:         uuid.NewString(),
		Symbol:     symbol,
		Side:       p.Side,
		Quantity:   p.Quantity,
		EntryTime:  entryTime,
		EntryPrice: p.EntryPrice,
		StopLoss:   p.StopLoss,
		TakeProfit: p.TakeProfit,
		Strategy:   p.Strategy,
		Status:     StatusOpen,
	}
	l.positions[symbol] = pos
	snapshot := *pos
	l.mu.Unlock()

	l.persist(ctx, snapshot)
	return snapshot, nil
}

// Get 返回 symbol 的持仓快照。
func (l *Ledger) Get(symbol string) (Position, bool) {
	symbol = normalizeSymbol(symbol)
	l.mu.Lock()
	defer l.mu.Unlock()
	pos, ok := l.positions[symbol]
	if !ok {
		return Position{}, false
	}
	return *pos, true
}

// List 返回全部非 Closed 持仓快照，按 symbol 排序。
func (l *Ledger) List() []Position {
	l.mu.Lock()
	out := make([]Position, 0, len(l.positions))
	for _, pos := range l.positions {
		out = append(out, *pos)
	}
	l.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// OpenCount 返回当前非 Closed 持仓数。
func (l *Ledger) OpenCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.positions)
}

// MarkClosing 将 Open 迁移到 Closing。重复 MarkClosing 是幂等的
// （平仓指令失败后下个周期会再次发起）。Closing 不提供回到 Open 的
// 迁移：部分失败只能重试 MarkClosing，或 Remove 确认完结。
func (l *Ledger) MarkClosing(ctx context.Context, symbol string) (Position, error) {
	symbol = normalizeSymbol(symbol)
	l.mu.Lock()
	pos, ok := l.positions[symbol]
	if !ok {
		l.mu.Unlock()
		return Position{}, ErrNotFound
	}
	pos.Status = StatusClosing
	snapshot := *pos
	l.mu.Unlock()

	l.persist(ctx, snapshot)
	return snapshot, nil
}

// Remove 将持仓迁移到 Closed 并从账本移除。只在交易所确认对向成交
// 或报告零仓位后调用。
func (l *Ledger) Remove(ctx context.Context, symbol string) (Position, error) {
	symbol = normalizeSymbol(symbol)
	l.mu.Lock()
	pos, ok := l.positions[symbol]
	if !ok {
		l.mu.Unlock()
		return Position{}, ErrNotFound
	}
	delete(l.positions, symbol)
	pos.Status = StatusClosed
	snapshot := *pos
	l.mu.Unlock()

	if l.store != nil {
		if err := l.store.DeletePosition(ctx, symbol); err != nil {
			logger.Warnf("[ledger] 删除持仓行失败 %s: %v", symbol, err)
		}
	}
	return snapshot, nil
}

// UpdateTrailingStop 单调收紧移动止损：多头只升不降，空头只降不升。
// 返回生效后的水平；被钳制时保持原值。
func (l *Ledger) UpdateTrailingStop(ctx context.Context, symbol string, level float64) (float64, error) {
	symbol = normalizeSymbol(symbol)
	if level <= 0 {
		return 0, fmt.Errorf("%w: trailing=%f", ErrBadProposal, level)
	}
	l.mu.Lock()
	pos, ok := l.positions[symbol]
	if !ok {
		l.mu.Unlock()
		return 0, ErrNotFound
	}
	cur := pos.TrailingStop
	improved := cur == 0 ||
		(pos.Side == exchange.SideLong && level > cur) ||
		(pos.Side == exchange.SideShort && level < cur)
	if improved {
		pos.TrailingStop = level
	}
	effective := pos.TrailingStop
	snapshot := *pos
	l.mu.Unlock()

	if improved {
		l.persist(ctx, snapshot)
	}
	return effective, nil
}

// Reconcile 用交易所侧的持仓集合修正账本：本地有、交易所没有的持仓
// 一律迁移 Closed 并移除。交易所报告永远是最终裁决。
func (l *Ledger) Reconcile(ctx context.Context, exchangeSymbols map[string]struct{}) []Drift {
	l.mu.Lock()
	var stale []Position
	for sym, pos := range l.positions {
		if _, ok := exchangeSymbols[sym]; !ok {
			stale = append(stale, *pos)
			delete(l.positions, sym)
		}
	}
	l.mu.Unlock()

	drifts := make([]Drift, 0, len(stale))
	for _, pos := range stale {
		if l.store != nil {
			if err := l.store.DeletePosition(ctx, pos.Symbol); err != nil {
				logger.Warnf("[ledger] 对帐删除持仓行失败 %s: %v", pos.Symbol, err)
			}
		}
		drifts = append(drifts, Drift{
			Symbol: pos.Symbol,
			Status: pos.Status,
			Note:   fmt.Sprintf("本地 %s 仓位在交易所不存在，已移除", pos.Status),
		})
	}
	return drifts
}

// Hydrate 在启动时从持久化行重建账本。调用方随后必须先 Reconcile
// 再开始交易。
func (l *Ledger) Hydrate(ctx context.Context) error {
	if l.store == nil {
		return nil
	}
	rows, err := l.store.ListPositions(ctx)
	if err != nil {
		return fmt.Errorf("ledger: 读取持仓行失败: %w", err)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, row := range rows {
		symbol := normalizeSymbol(row.Symbol)
		side, ok := exchange.ParseSide(row.Side)
		if symbol == "" || !ok || row.Quantity <= 0 {
			logger.Warnf("[ledger] 跳过不完整持仓行 %q", row.Symbol)
			continue
		}
		status := StatusOpen
		if Status(row.Status) == StatusClosing {
			status = StatusClosing
		}
		l.positions[symbol] = &Position{
			ID:           row.ID,
			Symbol:       symbol,
			Side:         side,
			Quantity:     row.Quantity,
			EntryTime:    row.EntryTime,
			EntryPrice:   row.EntryPrice,
			StopLoss:     row.StopLoss,
			TakeProfit:   row.TakeProfit,
			TrailingStop: row.TrailingStop,
			Strategy:     row.Strategy,
			Status:       status,
		}
	}
	logger.Infof("[ledger] 从存储恢复 %d 笔持仓", len(l.positions))
	return nil
}

func (l *Ledger) persist(ctx context.Context, pos Position) {
	if l.store == nil {
		return
	}
	rec := database.PositionRecord{
		ID:           pos.ID,
		Symbol:       pos.Symbol,
		Side:         string(pos.Side),
		Quantity:     pos.Quantity,
		EntryTime:    pos.EntryTime,
		EntryPrice:   pos.EntryPrice,
		StopLoss:     pos.StopLoss,
		TakeProfit:   pos.TakeProfit,
		TrailingStop: pos.TrailingStop,
		Strategy:     pos.Strategy,
		Status:       int(pos.Status),
	}
	if err := l.store.UpsertPosition(ctx, rec); err != nil {
		logger.Warnf("[ledger] 持久化持仓失败 %s: %v", pos.Symbol, err)
	}
}

func normalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}
