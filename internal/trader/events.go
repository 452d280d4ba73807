package trader

import (
	"sync"
	"time"
)

// EventType 标识 actor 邮箱里的事件种类。
type EventType string

const (
	// EventBarClose 由控制循环在每根K线收盘对齐点投递。
	EventBarClose EventType = "bar_close"
	// EventManualClose 来自 ops API 的人工平仓指令。
	EventManualClose EventType = "manual_close"
	// EventFlatten 在权益熔断且开启 flatten_on_halt 时投递。
	EventFlatten EventType = "flatten"
)

// EventEnvelope 是投递给 actor 的统一信封。ReplyCh 非空时事件处理完毕
// 后会收到结果并被关闭（同步调用）。
type EventEnvelope struct {
	ID        string
	Type      EventType
	Symbol    string
	Payload   any
	ReplyCh   chan error
	CreatedAt time.Time
}

// BarClosePayload 携带一次对齐触发的元数据。
type BarClosePayload struct {
	Seq      uint64
	BarClose time.Time
	FiredAt  time.Time
}

// ManualClosePayload 携带人工平仓原因。
type ManualClosePayload struct {
	Reason string
}

// CycleBudget 限制单个评估周期内全局新开仓笔数。控制循环每个周期
// Reset 一次，各 symbol 的 actor 开仓前 TryAcquire。
type CycleBudget struct {
	mu        sync.Mutex
	remaining int
}

func NewCycleBudget(n int) *CycleBudget {
	if n <= 0 {
		n = 1
	}
	return &CycleBudget{remaining: n}
}

func (b *CycleBudget) Reset(n int) {
	if b == nil {
		return
	}
	b.mu.Lock()
	b.remaining = n
	b.mu.Unlock()
}

func (b *CycleBudget) TryAcquire() bool {
	if b == nil {
		return true
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.remaining <= 0 {
		return false
	}
	b.remaining--
	return true
}
