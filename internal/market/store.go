package market

import (
	"context"
	"errors"
	"sync"
)

// KlineStore 缓存每个 symbol+interval 的已收盘K线，按 OpenTime 升序。
type KlineStore interface {
	Put(ctx context.Context, symbol, interval string, ks []Candle, max int) error
	Get(ctx context.Context, symbol, interval string) ([]Candle, error)
	Set(ctx context.Context, symbol, interval string, ks []Candle) error
}

const defaultShardCount = 32

// MemoryKlineStore 是分片加锁的进程内实现。
type MemoryKlineStore struct {
	shards []klineShard
}

type klineShard struct {
	mu   sync.RWMutex
	data map[string][]Candle
}

func NewMemoryKlineStore() *MemoryKlineStore {
	out := &MemoryKlineStore{shards: make([]klineShard, defaultShardCount)}
	for i := range out.shards {
		out.shards[i] = klineShard{data: make(map[string][]Candle)}
	}
	return out
}

func storeKey(symbol, interval string) string { return symbol + "@" + interval }

func (s *MemoryKlineStore) shardFor(key string) *klineShard {
	idx := fnv32(key) % uint32(len(s.shards))
	return &s.shards[idx]
}

// Put 追加新 bar：同 OpenTime 覆盖（WS 对已收盘 bar 的重发），
// 比末尾更旧的直接丢弃，超出 max 截掉头部。
func (s *MemoryKlineStore) Put(ctx context.Context, symbol, interval string, ks []Candle, max int) error {
	if symbol == "" || interval == "" {
		return errors.New("symbol/interval 不能为空")
	}
	if len(ks) == 0 {
		return nil
	}
	if max <= 0 {
		max = 100
	}
	k := storeKey(symbol, interval)
	sh := s.shardFor(k)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	cur := sh.data[k]
	for _, candle := range ks {
		n := len(cur)
		switch {
		case n == 0 || candle.OpenTime > cur[n-1].OpenTime:
			cur = append(cur, candle)
		case candle.OpenTime == cur[n-1].OpenTime:
			cur[n-1] = candle
		default:
			// 乱序旧 bar，丢弃
		}
	}
	if len(cur) > max {
		cur = cur[len(cur)-max:]
	}
	sh.data[k] = cur
	return nil
}

func (s *MemoryKlineStore) Set(ctx context.Context, symbol, interval string, ks []Candle) error {
	if symbol == "" || interval == "" {
		return errors.New("symbol/interval 不能为空")
	}
	k := storeKey(symbol, interval)
	sh := s.shardFor(k)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	dst := make([]Candle, len(ks))
	copy(dst, ks)
	sh.data[k] = dst
	return nil
}

func (s *MemoryKlineStore) Get(ctx context.Context, symbol, interval string) ([]Candle, error) {
	k := storeKey(symbol, interval)
	sh := s.shardFor(k)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	cur := sh.data[k]
	out := make([]Candle, len(cur))
	copy(out, cur)
	return out, nil
}

func fnv32(s string) uint32 {
	const (
		offset32 = 2166136261
		prime32  = 16777619
	)
	var h uint32 = offset32
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= prime32
	}
	return h
}
