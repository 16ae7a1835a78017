package market

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
)

// MemoryKlineStore 进程内 KlineStore，按 symbol@interval 分片加锁。
// 外部存储不可用时的降级实现，也是测试里的标准替身。
type MemoryKlineStore struct {
	shards []klineShard
}

type klineShard struct {
	mu   sync.RWMutex
	data map[string][]Candle
}

const defaultShardCount = 32

func NewMemoryKlineStore() *MemoryKlineStore {
	out := &MemoryKlineStore{shards: make([]klineShard, defaultShardCount)}
	for i := range out.shards {
		out.shards[i] = klineShard{data: make(map[string][]Candle)}
	}
	return out
}

func (s *MemoryKlineStore) shardFor(key string) *klineShard {
	return &s.shards[hashKey(key)%uint32(len(s.shards))]
}

func memKey(symbol, interval string) string { return symbol + "@" + interval }

func (s *MemoryKlineStore) Put(_ context.Context, symbol, interval string, candles []Candle, max int) error {
	if symbol == "" || interval == "" {
		return errors.New("symbol/interval 不能为空")
	}
	if len(candles) == 0 {
		return nil
	}
	key := memKey(symbol, interval)
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	byOpen := make(map[int64]Candle, len(sh.data[key])+len(candles))
	for _, c := range sh.data[key] {
		byOpen[c.OpenTime] = c
	}
	for _, c := range candles {
		byOpen[c.OpenTime] = c
	}
	merged := make([]Candle, 0, len(byOpen))
	for _, c := range byOpen {
		merged = append(merged, c)
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i].OpenTime < merged[j].OpenTime })
	if max > 0 && len(merged) > max {
		merged = merged[len(merged)-max:]
	}
	sh.data[key] = merged
	return nil
}

func (s *MemoryKlineStore) Get(_ context.Context, symbol, interval string) ([]Candle, error) {
	key := memKey(symbol, interval)
	sh := s.shardFor(key)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	cur := sh.data[key]
	out := make([]Candle, len(cur))
	copy(out, cur)
	return out, nil
}

func (s *MemoryKlineStore) Symbols(_ context.Context) ([]string, error) {
	seen := make(map[string]bool)
	var out []string
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.RLock()
		for key := range sh.data {
			sym, _, ok := strings.Cut(key, "@")
			if ok && !seen[sym] {
				seen[sym] = true
				out = append(out, sym)
			}
		}
		sh.mu.RUnlock()
	}
	sort.Strings(out)
	return out, nil
}

func (s *MemoryKlineStore) Drop(_ context.Context, symbol string) error {
	prefix := symbol + "@"
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.Lock()
		for key := range sh.data {
			if strings.HasPrefix(key, prefix) {
				delete(sh.data, key)
			}
		}
		sh.mu.Unlock()
	}
	return nil
}

// FNV-1a
func hashKey(s string) uint32 {
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
