package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/liliangjiep/nofv/internal/structure"
)

func structureKey(symbol, interval string) string {
	return structureKeyPrefix + symbol + ":" + interval
}

// PutStructureSnapshot 带 TTL 写入结构快照，过期自动失效，避免
// 陈旧结构被拿去喂决策。
func (s *Store) PutStructureSnapshot(ctx context.Context, symbol, interval string, snap structure.Snapshot, ttl time.Duration) error {
	raw, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, structureKey(symbol, interval), raw, ttl).Err()
}

// GetStructureSnapshot 未命中返回 (nil, nil)。
func (s *Store) GetStructureSnapshot(ctx context.Context, symbol, interval string) (*structure.Snapshot, error) {
	raw, err := s.client.Get(ctx, structureKey(symbol, interval)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read structure snapshot %s %s: %w", symbol, interval, err)
	}
	var snap structure.Snapshot
	if err := json.Unmarshal([]byte(raw), &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}
